package notification

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// MarkAllAsRead marks every notification of the session as read.
//
// The whole feed flips and the counter resets to zero before the server call. A failure is
// not undone item by item: the engine schedules a full refresh and returns ErrRefreshRequired.
func (e *Engine) MarkAllAsRead(ctx context.Context) error {
	var (
		active  bool
		tag     SessionTag
		userKey string
		changed int
		covered []string
	)
	if err := e.do(ctx, func() {
		cur := &e.cur
		if cur.store == nil {
			return
		}
		active = true
		tag, userKey = cur.tag, cur.userKey
		changed = cur.store.MarkAllRead()
		covered = slices.Collect(maps.Keys(cur.pending))
		cur.store.ResetUnread()
		e.publish()
	}); err != nil {
		return err
	}
	if !active {
		return ErrNotSignedIn
	}

	writeCtx, cancel := context.WithTimeout(ctx, e.config.WriteTimeout)
	defer cancel()

	if err := e.client.MarkAllRead(writeCtx, userKey); err != nil {
		e.requestRefresh(tag)
		e.metrics.RollbackPerformed("mark_all_as_read")
		e.logger.WarnContext(ctx, "mark all as read failed, refresh scheduled",
			slog.String("user_key", userKey),
			slog.Int("locally_changed", changed),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", ErrRefreshRequired, err)
	}

	// single writes still in flight must not roll back what the bulk write confirmed
	if len(covered) > 0 {
		if err := e.do(context.WithoutCancel(ctx), func() {
			if e.cur.store == nil || e.cur.tag != tag {
				return
			}
			for _, id := range covered {
				delete(e.cur.pending, id)
			}
			e.publish()
		}); err != nil {
			return err
		}
	}

	e.logger.DebugContext(ctx, "all notifications marked as read",
		slog.String("user_key", userKey),
		slog.Int("changed", changed),
	)
	return nil
}
