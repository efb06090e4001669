package notification

import (
	"slices"

	"github.com/lllypuk/notifysync/internal/domain/notification"
)

// Store is the in-memory, per-session notification feed plus the unread counter.
//
// The counter is sourced from the server and adjusted by the engine; it is not derived
// from items because items may only be the first page. Store is not safe for
// concurrent use: the engine loop is its only caller.
type Store struct {
	items       []notification.Notification
	index       map[string]int
	unreadCount int
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		items: make([]notification.Notification, 0),
		index: make(map[string]int),
	}
}

// ReplaceAll resets the feed and the counter wholesale. Duplicate ids keep the first
// occurrence; a negative count is clamped to zero.
func (s *Store) ReplaceAll(items []notification.Notification, unreadCount int) {
	s.items = make([]notification.Notification, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, n := range items {
		if _, dup := seen[n.ID()]; dup {
			continue
		}
		seen[n.ID()] = struct{}{}
		s.items = append(s.items, n)
	}
	slices.SortStableFunc(s.items, newestFirst)
	s.reindex()
	s.unreadCount = max(unreadCount, 0)
}

// UpsertFromEvent inserts n if its id is absent, otherwise replaces the stored record.
// It reports whether the id existed and, if so, the record it replaced.
// The unread counter is left alone.
func (s *Store) UpsertFromEvent(n notification.Notification) (existed bool, prev notification.Notification) {
	if i, ok := s.index[n.ID()]; ok {
		prev = s.items[i]
		s.items[i] = n
		if !prev.CreatedAt().Equal(n.CreatedAt()) {
			slices.SortStableFunc(s.items, newestFirst)
			s.reindex()
		}
		return true, prev
	}

	// first position whose record is not newer than n
	pos, _ := slices.BinarySearchFunc(s.items, n, func(stored, target notification.Notification) int {
		if stored.CreatedAt().After(target.CreatedAt()) {
			return -1
		}
		return 1
	})
	s.items = slices.Insert(s.items, pos, n)
	s.reindex()
	return false, notification.Notification{}
}

// MarkRead sets read on the item with id. It reports whether an unread→read transition happened.
func (s *Store) MarkRead(id string) bool {
	return s.setRead(id, true)
}

// MarkUnread reverts a read item. It reports whether a read→unread transition happened.
func (s *Store) MarkUnread(id string) bool {
	return s.setRead(id, false)
}

// MarkAllRead sets read on every item and returns how many actually transitioned.
func (s *Store) MarkAllRead() int {
	changed := 0
	for i, n := range s.items {
		if !n.IsRead() {
			s.items[i] = n.WithRead(true)
			changed++
		}
	}
	return changed
}

// Get returns the item with id.
func (s *Store) Get(id string) (notification.Notification, bool) {
	i, ok := s.index[id]
	if !ok {
		return notification.Notification{}, false
	}
	return s.items[i], true
}

// Len returns the number of loaded items.
func (s *Store) Len() int {
	return len(s.items)
}

// UnreadCount returns the current counter.
func (s *Store) UnreadCount() int {
	return s.unreadCount
}

// IncrementUnread adds one to the counter.
func (s *Store) IncrementUnread() {
	s.unreadCount++
}

// DecrementUnread subtracts one from the counter, never going below zero.
func (s *Store) DecrementUnread() {
	s.unreadCount = max(s.unreadCount-1, 0)
}

// ResetUnread sets the counter to zero.
func (s *Store) ResetUnread() {
	s.unreadCount = 0
}

// Snapshot returns an immutable copy of the feed and counter.
func (s *Store) Snapshot() StoreSnapshot {
	return StoreSnapshot{
		Items:       slices.Clone(s.items),
		UnreadCount: s.unreadCount,
	}
}

func (s *Store) setRead(id string, read bool) bool {
	i, ok := s.index[id]
	if !ok || s.items[i].IsRead() == read {
		return false
	}
	s.items[i] = s.items[i].WithRead(read)
	return true
}

func (s *Store) reindex() {
	clear(s.index)
	for i, n := range s.items {
		s.index[n.ID()] = i
	}
}

func newestFirst(a, b notification.Notification) int {
	return b.CreatedAt().Compare(a.CreatedAt())
}

// StoreSnapshot is a point-in-time copy of a Store.
type StoreSnapshot struct {
	Items       []notification.Notification
	UnreadCount int
}
