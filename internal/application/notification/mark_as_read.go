package notification

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/lllypuk/notifysync/internal/domain/errs"
)

// markReadPlan is what the loop decided for a single mark-read request.
type markReadPlan int

const (
	planNoSession markReadPlan = iota
	planAlreadyRead
	planOptimistic
	// planPassthrough the id is not in the loaded window; the write goes straight to the server
	planPassthrough
)

// MarkAsRead marks one notification as read.
//
// The local item flips to read and the counter drops before the server call. If the call
// fails the change is rolled back, unless a refresh or another session has replaced the
// state in the meantime.
func (e *Engine) MarkAsRead(ctx context.Context, notificationID string) error {
	if notificationID == "" {
		return fmt.Errorf("notification id is required: %w", errs.ErrInvalidInput)
	}

	var (
		plan    markReadPlan
		tag     SessionTag
		userKey string
	)
	if err := e.do(ctx, func() {
		cur := &e.cur
		if cur.store == nil {
			plan = planNoSession
			return
		}
		tag, userKey = cur.tag, cur.userKey

		n, ok := cur.store.Get(notificationID)
		switch {
		case !ok:
			plan = planPassthrough
		case n.IsRead():
			plan = planAlreadyRead
		default:
			plan = planOptimistic
			cur.store.MarkRead(notificationID)
			cur.store.DecrementUnread()
			cur.pending[notificationID] = struct{}{}
			e.publish()
		}
	}); err != nil {
		return err
	}

	switch plan {
	case planNoSession:
		return ErrNotSignedIn
	case planAlreadyRead:
		return nil
	case planPassthrough, planOptimistic:
	}

	writeCtx, cancel := context.WithTimeout(ctx, e.config.WriteTimeout)
	writeErr := e.client.MarkRead(writeCtx, userKey, notificationID)
	cancel()

	if plan == planPassthrough {
		if writeErr != nil {
			return fmt.Errorf("%w: %w", ErrMarkReadRejected, writeErr)
		}
		return nil
	}

	return e.completeMarkRead(ctx, tag, notificationID, writeErr)
}

// completeMarkRead applies the server's answer to an optimistic mark-read.
func (e *Engine) completeMarkRead(ctx context.Context, tag SessionTag, notificationID string, writeErr error) error {
	stale := false
	rolledBack := false
	if err := e.do(context.WithoutCancel(ctx), func() {
		cur := &e.cur
		if cur.store == nil || cur.tag != tag {
			stale = true
			return
		}

		_, stillPending := cur.pending[notificationID]
		delete(cur.pending, notificationID)

		// a refresh that landed meanwhile already holds the server's view
		if writeErr != nil && stillPending && cur.store.MarkUnread(notificationID) {
			cur.store.IncrementUnread()
			rolledBack = true
		}
		e.publish()
	}); err != nil {
		return err
	}

	if stale {
		if writeErr != nil {
			return fmt.Errorf("%w: %w", ErrMarkReadRejected, writeErr)
		}
		return ErrStaleSession
	}
	if writeErr == nil {
		return nil
	}

	if rolledBack {
		e.metrics.RollbackPerformed("mark_as_read")
	}
	e.logger.WarnContext(ctx, "mark as read failed",
		slog.String("notification_id", notificationID),
		slog.Bool("rolled_back", rolledBack),
		slog.String("error", writeErr.Error()),
	)
	return fmt.Errorf("%w: %w", ErrMarkReadRejected, writeErr)
}
