package notification

import "errors"

var (
	// ErrNotificationNotFound is returned when a notification does not exist
	ErrNotificationNotFound = errors.New("notification not found")

	// ErrNotificationAccessDenied is returned when a user touches someone else's notification
	ErrNotificationAccessDenied = errors.New("notification access denied")

	// ErrInvalidNotificationKind is returned for an unknown kind
	ErrInvalidNotificationKind = errors.New("invalid notification kind")

	// ErrNotSignedIn is returned when an operation needs an active session
	ErrNotSignedIn = errors.New("no active session")

	// ErrStaleSession is returned when a completion targets a session that has ended
	ErrStaleSession = errors.New("session ended before operation completed")

	// ErrLoadFailed is returned when a full load fails
	ErrLoadFailed = errors.New("notification load failed")

	// ErrMarkReadRejected is returned when the server declines a single mark-read; local state was rolled back
	ErrMarkReadRejected = errors.New("mark as read rejected")

	// ErrRefreshRequired is returned when a bulk mark-read failed; local state is approximate until the next refresh
	ErrRefreshRequired = errors.New("mark all as read failed, refresh required")

	// ErrEngineStopped is returned when the engine loop is not running
	ErrEngineStopped = errors.New("sync engine stopped")
)
