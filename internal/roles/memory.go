package roles

import (
	"context"
	"sort"
	"sync"

	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

// MemoryStore is an in-memory Store used for seed dry runs and tests. It
// enforces the single-active-grant rule the way the partial unique index does.
type MemoryStore struct {
	mu          sync.Mutex
	roles       map[int64]Role
	assignments map[int64]Assignment
	nextRoleID  int64
	nextAssign  int64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{roles: map[int64]Role{}, assignments: map[int64]Assignment{}}
}

var (
	_ Store          = (*MemoryStore)(nil)
	_ db.Participant = (*MemoryStore)(nil)
)

// Snapshot implements db.Participant.
func (m *MemoryStore) Snapshot() func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	roles := make(map[int64]Role, len(m.roles))
	for k, v := range m.roles {
		roles[k] = v
	}
	assignments := make(map[int64]Assignment, len(m.assignments))
	for k, v := range m.assignments {
		assignments[k] = v
	}
	nextRole, nextAssign := m.nextRoleID, m.nextAssign
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		m.roles, m.assignments = roles, assignments
		m.nextRoleID, m.nextAssign = nextRole, nextAssign
	}
}

func (m *MemoryStore) FindByID(_ context.Context, id int64) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.roles[id]
	if !ok || r.Deleted {
		return Role{}, ErrRoleNotFound.Withf("role %d not found", id)
	}
	return r, nil
}

func (m *MemoryStore) FindByName(_ context.Context, name string) (Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == name && !r.Deleted {
			return r, nil
		}
	}
	return Role{}, ErrRoleNotFound.Withf("role %s not found", name)
}

func (m *MemoryStore) List(_ context.Context, activeOnly bool) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Role{}
	for _, r := range m.roles {
		if r.Deleted || (activeOnly && !r.IsActive) {
			continue
		}
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsSystemRole != out[j].IsSystemRole {
			return out[i].IsSystemRole
		}
		return out[i].Name < out[j].Name
	})
	return out, nil
}

func (m *MemoryStore) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.roles {
		if r.Name == role.Name && !r.Deleted {
			return ErrRoleExists.Withf("role %s already exists", role.Name)
		}
	}
	m.nextRoleID++
	role.ID = m.nextRoleID
	role.Version = 1
	m.roles[role.ID] = *role
	return nil
}

func (m *MemoryStore) Save(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.roles[role.ID]
	if !ok || current.Version != role.Version {
		return shared.ErrConcurrentModification.Withf("role %d was modified concurrently, retry the operation", role.ID)
	}
	role.Version++
	m.roles[role.ID] = *role
	return nil
}

func (m *MemoryStore) ExistsByName(ctx context.Context, name string) (bool, error) {
	_, err := m.FindByName(ctx, name)
	return err == nil, nil
}

func (m *MemoryStore) CountActiveAssignments(_ context.Context, roleID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, a := range m.assignments {
		if a.RoleID == roleID && a.Active {
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) latest(userID, roleID int64, active bool) (Assignment, bool) {
	var (
		found Assignment
		ok    bool
	)
	for _, a := range m.assignments {
		if a.UserID != userID || a.RoleID != roleID || a.Active != active {
			continue
		}
		if !ok || a.AssignedAt.After(found.AssignedAt) || (a.AssignedAt.Equal(found.AssignedAt) && a.ID > found.ID) {
			found, ok = a, true
		}
	}
	if ok {
		found.RoleName = m.roles[found.RoleID].Name
	}
	return found, ok
}

func (m *MemoryStore) ActiveAssignment(_ context.Context, userID, roleID int64) (Assignment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.latest(userID, roleID, true)
	return a, ok, nil
}

func (m *MemoryStore) LatestInactiveAssignment(_ context.Context, userID, roleID int64) (Assignment, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.latest(userID, roleID, false)
	return a, ok, nil
}

func (m *MemoryStore) InsertAssignment(_ context.Context, a *Assignment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.latest(a.UserID, a.RoleID, true); exists {
		return ErrAlreadyAssigned.Withf("role %d is already assigned to user %d", a.RoleID, a.UserID)
	}
	m.nextAssign++
	a.ID = m.nextAssign
	a.Active = true
	a.RoleName = m.roles[a.RoleID].Name
	m.assignments[a.ID] = *a
	return nil
}

func (m *MemoryStore) UpdateAssignment(_ context.Context, a *Assignment, wasActive bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.assignments[a.ID]
	if !ok || current.Active != wasActive {
		return shared.ErrConcurrentModification.Withf("assignment %d was modified concurrently, retry the operation", a.ID)
	}
	if a.Active && !wasActive {
		if _, exists := m.latest(a.UserID, a.RoleID, true); exists {
			return ErrAlreadyAssigned.Withf("role %d is already assigned to user %d", a.RoleID, a.UserID)
		}
	}
	m.assignments[a.ID] = *a
	return nil
}

func (m *MemoryStore) ListActiveRoles(_ context.Context, userID int64) ([]Role, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Role{}
	for _, a := range m.assignments {
		if a.UserID != userID || !a.Active {
			continue
		}
		if r, ok := m.roles[a.RoleID]; ok && r.IsActive && !r.Deleted {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryStore) ListActiveUserIDs(_ context.Context, roleID int64) ([]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := []int64{}
	for _, a := range m.assignments {
		if a.RoleID == roleID && a.Active {
			ids = append(ids, a.UserID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (m *MemoryStore) ListAssignments(_ context.Context, userID int64) ([]Assignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []Assignment{}
	for _, a := range m.assignments {
		if a.UserID == userID {
			a.RoleName = m.roles[a.RoleID].Name
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AssignedAt.Equal(out[j].AssignedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].AssignedAt.After(out[j].AssignedAt)
	})
	return out, nil
}
