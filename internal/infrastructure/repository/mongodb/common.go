// Package mongodb implements the notification repository on MongoDB.
package mongodb

import (
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/mongo"

	"github.com/lllypuk/notifysync/internal/domain/errs"
)

// Feed page bounds.
const (
	DefaultPaginationLimit = 50
	MaxPaginationLimit     = 100
)

// HandleMongoError maps driver errors onto errs.ErrNotFound and errs.ErrAlreadyExists.
// Anything else is wrapped with the operation that failed.
func HandleMongoError(err error, op string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return errs.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return errs.ErrAlreadyExists
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

func pageLimit(limit int) int {
	if limit <= 0 {
		return DefaultPaginationLimit
	}
	return min(limit, MaxPaginationLimit)
}
