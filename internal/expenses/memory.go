package expenses

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// MemoryStore is an in-memory Store used for tests.
type MemoryStore struct {
	mu       sync.Mutex
	expenses map[int64]Expense
	nextID   int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{expenses: map[int64]Expense{}}
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ db.Participant = (*MemoryStore)(nil)
)

// Snapshot implements db.Participant.
func (m *MemoryStore) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[int64]Expense, len(m.expenses))
	for k, v := range m.expenses {
		saved[k] = v
	}
	nextID := m.nextID
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.expenses, m.nextID = saved, nextID
	}
}

func (m *MemoryStore) FindByID(_ context.Context, id int64) (Expense, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.expenses[id]
	if !ok || e.Deleted {
		return Expense{}, ErrExpenseNotFound.Withf("expense %d not found", id)
	}
	return e, nil
}

func (m *MemoryStore) Create(_ context.Context, e *Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	e.ID = m.nextID
	e.Version = 1
	m.expenses[e.ID] = *e
	return nil
}

func (m *MemoryStore) Save(_ context.Context, e *Expense) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.expenses[e.ID]
	if !ok || current.Version != e.Version {
		return shared.ErrConcurrentModification.Withf("expense %d was modified concurrently, retry the operation", e.ID)
	}
	e.Version++
	m.expenses[e.ID] = *e
	return nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter, page shared.PageRequest) ([]Expense, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(filter.Query))
	var matched []Expense
	for _, e := range m.expenses {
		switch {
		case e.Deleted,
			filter.Category != "" && e.Category != filter.Category,
			filter.Approved != nil && e.IsApproved != *filter.Approved,
			!filter.From.IsZero() && e.ExpenseDate.Before(filter.From),
			!filter.To.IsZero() && !e.ExpenseDate.Before(filter.To):
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(e.Title+" "+e.Description+" "+e.Vendor), q) {
			continue
		}
		matched = append(matched, e)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].ExpenseDate.Equal(matched[j].ExpenseDate) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].ExpenseDate.After(matched[j].ExpenseDate)
	})
	return shared.Paginate(matched, page).Items, len(matched), nil
}
