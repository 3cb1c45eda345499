package payments

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
	payments map[int64]Payment
	nextID   int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{payments: map[int64]Payment{}}
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ db.Participant = (*MemoryStore)(nil)
)

// Snapshot implements db.Participant.
func (m *MemoryStore) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[int64]Payment, len(m.payments))
	for k, v := range m.payments {
		saved[k] = v
	}
	nextID := m.nextID
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.payments, m.nextID = saved, nextID
	}
}

func (m *MemoryStore) FindByID(_ context.Context, id int64) (Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payments[id]
	if !ok || p.Deleted {
		return Payment{}, ErrPaymentNotFound.Withf("payment %d not found", id)
	}
	return p, nil
}

func (m *MemoryStore) referenceTaken(ref string) bool {
	for _, p := range m.payments {
		if p.Reference == ref && !p.Deleted {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ExistsByReference(_ context.Context, reference string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.referenceTaken(reference), nil
}

func (m *MemoryStore) Create(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.referenceTaken(p.Reference) {
		return ErrReferenceTaken.Withf("payment reference %s already exists", p.Reference)
	}
	m.nextID++
	p.ID = m.nextID
	p.Version = 1
	m.payments[p.ID] = *p
	return nil
}

func (m *MemoryStore) Save(_ context.Context, p *Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.payments[p.ID]
	if !ok || current.Version != p.Version {
		return shared.ErrConcurrentModification.Withf("payment %d was modified concurrently, retry the operation", p.ID)
	}
	p.Version++
	m.payments[p.ID] = *p
	return nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter, page shared.PageRequest) ([]Payment, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(filter.Query))
	var matched []Payment
	for _, p := range m.payments {
		switch {
		case p.Deleted,
			filter.UserID > 0 && p.UserID != filter.UserID,
			filter.Status != "" && p.Status != filter.Status,
			filter.Verified != nil && p.IsVerified != *filter.Verified,
			!filter.From.IsZero() && p.PaymentDate.Before(filter.From),
			!filter.To.IsZero() && !p.PaymentDate.Before(filter.To):
			continue
		}
		if q != "" && !strings.Contains(strings.ToLower(p.Reference+" "+p.Description), q) {
			continue
		}
		matched = append(matched, p)
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].PaymentDate.Equal(matched[j].PaymentDate) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].PaymentDate.After(matched[j].PaymentDate)
	})
	return shared.Paginate(matched, page).Items, len(matched), nil
}
