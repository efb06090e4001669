package notification

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// Registry shares one engine per user between all of the user's connections.
type Registry struct {
	client SyncClient
	stream EventStream
	opts   []EngineOption
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry
	closed  bool
}

type registryEntry struct {
	engine *Engine
	refs   int
	cancel context.CancelFunc
	done   chan struct{}

	// ready is closed once sign-in finished; err holds its failure.
	ready chan struct{}
	err   error
}

// NewRegistry creates a registry. opts are applied to every engine it creates.
func NewRegistry(client SyncClient, stream EventStream, logger *slog.Logger, opts ...EngineOption) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		client:  client,
		stream:  stream,
		opts:    opts,
		logger:  logger,
		entries: make(map[string]*registryEntry),
	}
}

// Acquire returns the signed-in engine of userKey, starting one on first use.
// Every successful Acquire must be paired with a Release.
func (r *Registry) Acquire(ctx context.Context, userKey string) (*Engine, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, ErrEngineStopped
	}
	if entry, ok := r.entries[userKey]; ok {
		entry.refs++
		r.mu.Unlock()
		return r.await(ctx, userKey, entry)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	entry := &registryEntry{
		engine: NewEngine(r.client, r.stream, r.opts...),
		refs:   1,
		cancel: cancel,
		done:   make(chan struct{}),
		ready:  make(chan struct{}),
	}
	r.entries[userKey] = entry
	r.mu.Unlock()

	go func() {
		defer close(entry.done)
		_ = entry.engine.Run(runCtx)
	}()

	if err := entry.engine.SignIn(ctx, userKey); err != nil {
		entry.err = err
		r.mu.Lock()
		if r.entries[userKey] == entry {
			delete(r.entries, userKey)
		}
		r.mu.Unlock()
		close(entry.ready)
		entry.cancel()
		<-entry.done
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	close(entry.ready)

	r.logger.InfoContext(ctx, "sync session opened", slog.String("user_key", userKey))
	return entry.engine, nil
}

func (r *Registry) await(ctx context.Context, userKey string, entry *registryEntry) (*Engine, error) {
	select {
	case <-entry.ready:
	case <-ctx.Done():
		_ = r.release(context.WithoutCancel(ctx), userKey, entry)
		return nil, ctx.Err()
	}
	if entry.err != nil {
		return nil, fmt.Errorf("failed to start session: %w", entry.err)
	}
	return entry.engine, nil
}

// Release drops one reference. The last release signs the user out and stops the engine.
func (r *Registry) Release(ctx context.Context, userKey string) error {
	r.mu.Lock()
	entry := r.entries[userKey]
	r.mu.Unlock()
	return r.release(ctx, userKey, entry)
}

func (r *Registry) release(ctx context.Context, userKey string, entry *registryEntry) error {
	r.mu.Lock()
	if entry == nil || r.entries[userKey] != entry {
		r.mu.Unlock()
		return nil
	}
	entry.refs--
	if entry.refs > 0 {
		r.mu.Unlock()
		return nil
	}
	delete(r.entries, userKey)
	r.mu.Unlock()

	err := r.stop(ctx, entry)
	r.logger.InfoContext(ctx, "sync session closed", slog.String("user_key", userKey))
	return err
}

// Len returns the number of users with a running engine.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Close stops every engine regardless of references.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	var errs []error
	for _, entry := range entries {
		if err := r.stop(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (r *Registry) stop(ctx context.Context, entry *registryEntry) error {
	<-entry.ready
	var err error
	if entry.err == nil {
		if signOutErr := entry.engine.SignOut(ctx); signOutErr != nil && !errors.Is(signOutErr, ErrEngineStopped) {
			err = signOutErr
		}
	}
	entry.cancel()

	select {
	case <-entry.done:
	case <-ctx.Done():
		return errors.Join(err, ctx.Err())
	}
	return err
}
