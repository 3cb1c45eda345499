package users

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// MemoryStore is an in-memory Store used for seed dry runs and tests.
type MemoryStore struct {
	mu     sync.Mutex
	users  map[int64]User
	nextID int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{users: map[int64]User{}}
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ db.Participant = (*MemoryStore)(nil)
)

// Snapshot implements db.Participant.
func (m *MemoryStore) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	saved := make(map[int64]User, len(m.users))
	for k, v := range m.users {
		saved[k] = v
	}
	nextID := m.nextID
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.users = saved
		m.nextID = nextID
	}
}

func (m *MemoryStore) FindByID(_ context.Context, id int64) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrUserNotFound.Withf("user %d not found", id)
	}
	return u, nil
}

func (m *MemoryStore) FindByIDs(_ context.Context, ids []int64) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []User{}
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) find(match func(User) bool, label string) (User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			return u, nil
		}
	}
	return User{}, ErrUserNotFound.Withf("user %s not found", label)
}

func (m *MemoryStore) FindByEmail(_ context.Context, email string) (User, error) {
	return m.find(func(u User) bool { return strings.EqualFold(u.Email, email) }, email)
}

func (m *MemoryStore) FindByUsername(_ context.Context, username string) (User, error) {
	return m.find(func(u User) bool { return strings.EqualFold(u.Username, username) }, username)
}

func (m *MemoryStore) Create(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrEmailTaken
		}
		if strings.EqualFold(u.Username, user.Username) {
			return ErrUsernameTaken
		}
	}
	m.nextID++
	user.ID = m.nextID
	user.Version = 1
	user.UpdatedAt = user.CreatedAt
	m.users[user.ID] = *user
	return nil
}

func (m *MemoryStore) Save(_ context.Context, user *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.users[user.ID]
	if !ok || current.Version != user.Version {
		return shared.ErrConcurrentModification.Withf("user %d was modified concurrently, retry the operation", user.ID)
	}
	user.Version++
	m.users[user.ID] = *user
	return nil
}

func (m *MemoryStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := m.FindByEmail(ctx, email)
	return err == nil, nil
}

func (m *MemoryStore) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	_, err := m.FindByUsername(ctx, username)
	return err == nil, nil
}

func (m *MemoryStore) List(_ context.Context, filter ListFilter, page shared.PageRequest) ([]User, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := strings.ToLower(strings.TrimSpace(filter.Query))
	var matched []User
	for _, u := range m.users {
		if filter.Enabled != nil && u.Enabled != *filter.Enabled {
			continue
		}
		if q != "" {
			haystack := strings.ToLower(fmt.Sprintf("%s %s %s", u.FullName(), u.Email, u.Username))
			if !strings.Contains(haystack, q) {
				continue
			}
		}
		matched = append(matched, u)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	p := shared.Paginate(matched, page)
	return p.Items, len(matched), nil
}
