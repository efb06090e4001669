package appcore

import "context"

// UseCase is the base interface of every use case
// TCommand - command type (input)
// TResult - result type (output)
type UseCase[TCommand any, TResult any] interface {
	// Execute runs the use case with the given command
	Execute(ctx context.Context, cmd TCommand) (TResult, error)
}

// Command is a marker interface for state-changing commands
type Command interface {
	CommandName() string
}
