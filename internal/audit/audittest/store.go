// Package audittest provides an in-memory audit store for tests and seed dry runs.
package audittest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/commonwealth-builders/treasury/internal/audit"
)

// Store keeps entries in memory. Users must be registered with AddUser before
// entries attributed to them are accepted, mirroring the foreign key.
type Store struct {
	mu          sync.Mutex
	users       map[int64]bool
	entries     []audit.Entry
	nextID      int64
	transitions map[audit.Action]int64
	// Fail makes every Append fail with this error when set.
	Fail error
	// Known, when set, resolves user ids not registered with AddUser.
	Known func(userID int64) bool
}

// NewStore returns an empty store that accepts the given user ids.
func NewStore(userIDs ...int64) *Store {
	s := &Store{users: map[int64]bool{}, transitions: map[audit.Action]int64{}}
	for _, id := range userIDs {
		s.users[id] = true
	}
	return s
}

var _ audit.Store = (*Store)(nil)

// Snapshot lets the store join a db.MemoryTransactor so that entries written
// by a failed unit of work disappear with it.
func (s *Store) Snapshot() func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := append([]audit.Entry(nil), s.entries...)
	nextID := s.nextID
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.entries, s.nextID = entries, nextID
	}
}

// AddUser lets entries attributed to id be stored.
func (s *Store) AddUser(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[id] = true
}

// SetTransitions fixes the transition count reported for action.
func (s *Store) SetTransitions(action audit.Action, n int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transitions[action] = n
}

func (s *Store) Append(_ context.Context, entry audit.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Fail != nil {
		return false, s.Fail
	}
	if !s.users[entry.UserID] && (s.Known == nil || !s.Known(entry.UserID)) {
		return false, audit.ErrUnknownActor
	}
	for _, e := range s.entries {
		if e.EventID == entry.EventID {
			return false, nil
		}
	}
	s.nextID++
	entry.ID = s.nextID
	s.entries = append(s.entries, entry)
	return true, nil
}

func (s *Store) List(_ context.Context, filter audit.Filter, limit, offset int) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []audit.Entry
	for _, e := range s.entries {
		if matches(e, filter) {
			matched = append(matched, e)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset >= len(matched) {
		return []audit.Entry{}, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

func (s *Store) CountEntries(_ context.Context, action audit.Action, from, to time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.entries {
		if matches(e, audit.Filter{Action: action, From: from, To: to}) {
			n++
		}
	}
	return n, nil
}

func (s *Store) CountTransitions(_ context.Context, action audit.Action, _, _ time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitions[action], nil
}

// Entries returns a copy of every stored entry in insertion order.
func (s *Store) Entries() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// ByAction returns the stored entries of action in insertion order.
func (s *Store) ByAction(action audit.Action) []audit.Entry {
	var out []audit.Entry
	for _, e := range s.Entries() {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

func matches(e audit.Entry, f audit.Filter) bool {
	if f.UserID > 0 && e.UserID != f.UserID {
		return false
	}
	if f.Module != "" && e.Module != f.Module {
		return false
	}
	if f.Action != "" && e.Action != f.Action {
		return false
	}
	if !f.From.IsZero() && e.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.CreatedAt.Before(f.To) {
		return false
	}
	return true
}
