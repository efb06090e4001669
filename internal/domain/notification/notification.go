package notification

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/lllypuk/notifysync/internal/domain/errs"
)

// Kind discriminates the payload shape of a notification
type Kind string

const (
	// KindFavorite someone favorited one of the user's listings
	KindFavorite Kind = "favorite"
	// KindWatchlist someone added one of the user's listings to a watchlist
	KindWatchlist Kind = "watchlist"
	// KindMessage new direct message
	KindMessage Kind = "message"
	// KindRating the user received a rating
	KindRating Kind = "rating"
	// KindListingSold a listing the user follows was sold
	KindListingSold Kind = "listing_sold"
	// KindListingInquiry someone asked about one of the user's listings
	KindListingInquiry Kind = "listing_inquiry"
)

// Kinds returns every known kind.
func Kinds() []Kind {
	return []Kind{
		KindFavorite,
		KindWatchlist,
		KindMessage,
		KindRating,
		KindListingSold,
		KindListingInquiry,
	}
}

// IsValid reports whether k is a known kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindFavorite, KindWatchlist, KindMessage, KindRating, KindListingSold, KindListingInquiry:
		return true
	default:
		return false
	}
}

// Payload holds kind-specific data (listing_title, listing_price, actor_name, rating, ...).
// The sync engine passes it through untouched.
type Payload map[string]any

// SubjectRef weakly references the listing and/or actor a notification is about.
type SubjectRef struct {
	ListingID string `json:"listing_id,omitempty" bson:"listing_id,omitempty"`
	ActorID   string `json:"actor_id,omitempty" bson:"actor_id,omitempty"`
}

// IsZero reports whether the reference points at nothing.
func (r SubjectRef) IsZero() bool {
	return r.ListingID == "" && r.ActorID == ""
}

// Notification is a single feed entry. Everything except the read flag is fixed at creation.
type Notification struct {
	id        string
	recipient string
	kind      Kind
	title     string
	body      string
	payload   Payload
	subject   *SubjectRef
	read      bool
	createdAt time.Time
}

// NewNotification creates an unread notification for recipient.
// The creation time is kept at millisecond precision, the resolution storage keeps.
func NewNotification(
	recipient string,
	kind Kind,
	title, body string,
	payload Payload,
	subject *SubjectRef,
) (Notification, error) {
	if recipient == "" {
		return Notification{}, errs.ErrInvalidInput
	}
	if !kind.IsValid() {
		return Notification{}, errs.ErrInvalidInput
	}
	if title == "" {
		return Notification{}, errs.ErrInvalidInput
	}
	if body == "" {
		return Notification{}, errs.ErrInvalidInput
	}
	if subject != nil && subject.IsZero() {
		subject = nil
	}

	return Notification{
		id:        uuid.New().String(),
		recipient: recipient,
		kind:      kind,
		title:     title,
		body:      body,
		payload:   maps.Clone(payload),
		subject:   subject,
		read:      false,
		createdAt: time.Now().UTC().Truncate(time.Millisecond),
	}, nil
}

// Reconstruct rebuilds a notification from storage or the wire without validation.
func Reconstruct(
	id, recipient string,
	kind Kind,
	title, body string,
	payload Payload,
	subject *SubjectRef,
	read bool,
	createdAt time.Time,
) Notification {
	return Notification{
		id:        id,
		recipient: recipient,
		kind:      kind,
		title:     title,
		body:      body,
		payload:   payload,
		subject:   subject,
		read:      read,
		createdAt: createdAt,
	}
}

// WithRead returns a copy of n with the read flag set to read.
func (n Notification) WithRead(read bool) Notification {
	n.read = read
	return n
}

// ID returns the notification id
func (n Notification) ID() string { return n.id }

// Recipient returns the user key the notification belongs to
func (n Notification) Recipient() string { return n.recipient }

// Kind returns the notification kind
func (n Notification) Kind() Kind { return n.kind }

// Title returns the display title
func (n Notification) Title() string { return n.title }

// Body returns the display text
func (n Notification) Body() string { return n.body }

// Payload returns a copy of the kind-specific data. Nested values are shared.
func (n Notification) Payload() Payload { return maps.Clone(n.payload) }

// Subject returns the optional subject reference
func (n Notification) Subject() *SubjectRef { return n.subject }

// IsRead reports whether the notification has been read
func (n Notification) IsRead() bool { return n.read }

// CreatedAt returns the server-assigned creation time
func (n Notification) CreatedAt() time.Time { return n.createdAt }
