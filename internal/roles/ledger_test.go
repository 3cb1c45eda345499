package roles_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/audit/audittest"
	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/roles"
	"github.com/commonwealth-builders/treasury/internal/shared"
	"github.com/commonwealth-builders/treasury/internal/users"
)

type fixture struct {
	users   *users.MemoryStore
	roles   *roles.MemoryStore
	audit   *audittest.Store
	tx      *db.MemoryTransactor
	ledger  *roles.Ledger
	catalog *roles.Service
	evicted *evictions
	admin   shared.Actor
}

type evictions struct {
	mu  sync.Mutex
	ids []int64
}

func (e *evictions) Invalidate(_ context.Context, userID int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, userID)
}

func (e *evictions) all() []int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int64(nil), e.ids...)
}

var now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		users:   users.NewMemoryStore(),
		roles:   roles.NewMemoryStore(),
		audit:   audittest.NewStore(),
		evicted: &evictions{},
	}
	f.tx = db.NewMemoryTransactor(f.users, f.roles, f.audit)
	recorder := audit.NewLogger(f.audit, nil, audit.WithClock(shared.FixedClock(now)))
	f.ledger = roles.NewLedger(f.roles, f.users, f.tx, recorder, nil).
		WithClock(shared.FixedClock(now)).
		WithInvalidator(f.evicted)
	f.catalog = roles.NewService(f.roles, f.tx, recorder, nil).
		WithClock(shared.FixedClock(now)).
		WithInvalidator(f.evicted)
	for _, def := range roles.SystemRoleDefinitions() {
		_, err := f.catalog.CreateRole(context.Background(), roles.CreateRoleInput{Name: def.Name, DisplayName: def.DisplayName, IsSystem: true}, shared.SystemActor)
		require.NoError(t, err)
	}
	admin := f.addUser(t, "root")
	f.admin = shared.Actor{UserID: admin.ID, Name: admin.Email, Roles: []string{shared.RoleSuperAdmin}}
	return f
}

func (f *fixture) addUser(t *testing.T, username string) users.User {
	t.Helper()
	u := users.User{FirstName: username, LastName: "Member", Email: username + "@club.test", Username: username, Enabled: true, CreatedAt: now}
	require.NoError(t, f.users.Create(context.Background(), &u))
	f.audit.AddUser(u.ID)
	return u
}

func (f *fixture) role(t *testing.T, name string) roles.Role {
	t.Helper()
	r, err := f.catalog.FindByName(context.Background(), name)
	require.NoError(t, err)
	return r
}

func activeRows(t *testing.T, f *fixture, userID, roleID int64) int {
	t.Helper()
	rows, err := f.ledger.History(context.Background(), userID)
	require.NoError(t, err)
	n := 0
	for _, row := range rows {
		if row.RoleID == roleID && row.Active {
			n++
		}
	}
	return n
}

func TestAssignRoleTwiceYieldsOneActiveRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "ana")
	fin := f.role(t, shared.RoleFinAdmin)

	row, err := f.ledger.AssignRole(ctx, u.ID, fin.ID, f.admin, "treasurer")
	require.NoError(t, err)
	assert.True(t, row.Active)
	assert.Equal(t, f.admin.String(), row.AssignedBy)
	assert.Equal(t, "treasurer", row.Remarks)

	_, err = f.ledger.AssignRole(ctx, u.ID, fin.ID, f.admin, "again")
	require.ErrorIs(t, err, roles.ErrAlreadyAssigned)
	assert.Equal(t, shared.KindInvalidStateTransition, shared.KindOf(err))

	assert.Equal(t, 1, activeRows(t, f, u.ID, fin.ID))
	assert.Len(t, f.audit.ByAction(audit.ActionRoleAssigned), 1)
}

func TestAssignRoleValidatesInputs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "ben")
	fin := f.role(t, shared.RoleFinAdmin)

	_, err := f.ledger.AssignRole(ctx, 999, fin.ID, f.admin, "")
	assert.Equal(t, shared.KindNotFound, shared.KindOf(err))

	_, err = f.ledger.AssignRole(ctx, u.ID, 999, f.admin, "")
	assert.ErrorIs(t, err, roles.ErrRoleNotFound)

	_, err = f.ledger.AssignRole(ctx, u.ID, fin.ID, f.admin, strings.Repeat("x", 501))
	assert.Equal(t, shared.KindValidationFailure, shared.KindOf(err))

	custom, err := f.catalog.CreateRole(ctx, roles.CreateRoleInput{Name: "event crew", DisplayName: "Event crew"}, f.admin)
	require.NoError(t, err)
	_, err = f.catalog.DeactivateRole(ctx, custom.ID, f.admin)
	require.NoError(t, err)
	_, err = f.ledger.AssignRole(ctx, u.ID, custom.ID, f.admin, "")
	assert.ErrorIs(t, err, roles.ErrRoleInactive)
}

func TestRevokeThenReassign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "cleo")
	fin := f.role(t, shared.RoleFinAdmin)

	_, err := f.ledger.AssignRole(ctx, u.ID, fin.ID, f.admin, "")
	require.NoError(t, err)
	require.NoError(t, f.ledger.RevokeRole(ctx, u.ID, fin.ID, f.admin))
	assert.Equal(t, 0, activeRows(t, f, u.ID, fin.ID))

	err = f.ledger.RevokeRole(ctx, u.ID, fin.ID, f.admin)
	assert.ErrorIs(t, err, roles.ErrNotAssigned)

	_, err = f.ledger.AssignRole(ctx, u.ID, fin.ID, f.admin, "")
	require.NoError(t, err)

	history, err := f.ledger.History(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, 1, activeRows(t, f, u.ID, fin.ID))
	var revoked roles.Assignment
	for _, row := range history {
		if !row.Active {
			revoked = row
		}
	}
	require.NotNil(t, revoked.RevokedAt)
	assert.Equal(t, f.admin.String(), revoked.RevokedBy)
	assert.Len(t, f.audit.ByAction(audit.ActionRoleRevoked), 1)
}

func TestReactivateRole(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "dara")
	fin := f.role(t, shared.RoleFinAdmin)

	_, err := f.ledger.ReactivateRole(ctx, u.ID, fin.ID, f.admin)
	require.ErrorIs(t, err, roles.ErrNoHistory)

	first, err := f.ledger.AssignRole(ctx, u.ID, fin.ID, f.admin, "")
	require.NoError(t, err)
	_, err = f.ledger.ReactivateRole(ctx, u.ID, fin.ID, f.admin)
	require.ErrorIs(t, err, roles.ErrAlreadyAssigned)

	require.NoError(t, f.ledger.RevokeRole(ctx, u.ID, fin.ID, f.admin))
	row, err := f.ledger.ReactivateRole(ctx, u.ID, fin.ID, f.admin)
	require.NoError(t, err)
	assert.Equal(t, first.ID, row.ID)
	assert.True(t, row.Active)
	assert.Nil(t, row.RevokedAt)
	assert.Empty(t, row.RevokedBy)

	history, err := f.ledger.History(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
	assert.Len(t, f.audit.ByAction(audit.ActionRoleReactivated), 1)
}

func TestAssignRolesIsAllOrNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "eli")
	fin := f.role(t, shared.RoleFinAdmin)
	member := f.role(t, shared.RoleUser)

	_, err := f.ledger.AssignRole(ctx, u.ID, member.ID, f.admin, "")
	require.NoError(t, err)
	before := len(f.audit.Entries())

	_, err = f.ledger.AssignRoles(ctx, u.ID, []int64{fin.ID, member.ID}, f.admin, "batch")
	require.ErrorIs(t, err, roles.ErrAlreadyAssigned)
	assert.Equal(t, 0, activeRows(t, f, u.ID, fin.ID))
	assert.Len(t, f.audit.Entries(), before)

	_, err = f.ledger.AssignRoles(ctx, u.ID, []int64{fin.ID, 404}, f.admin, "batch")
	require.ErrorIs(t, err, roles.ErrRoleNotFound)
	assert.Equal(t, 0, activeRows(t, f, u.ID, fin.ID))

	v := f.addUser(t, "fay")
	rows, err := f.ledger.AssignRoles(ctx, v.ID, []int64{fin.ID, member.ID, fin.ID}, f.admin, "batch")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
	active, err := f.ledger.ListActiveRoles(ctx, v.ID)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestConcurrentAssignRoleHasOneWinner(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "gus")
	fin := f.role(t, shared.RoleFinAdmin)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.ledger.AssignRole(context.Background(), u.ID, fin.ID, f.admin, "")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, roles.ErrAlreadyAssigned):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, successes)
	assert.Equal(t, 15, conflicts)
	assert.Equal(t, 1, activeRows(t, f, u.ID, fin.ID))
}

func TestUniquenessHoldsAcrossGrantSequences(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "hal")
	fin := f.role(t, shared.RoleFinAdmin)

	ops := []string{"assign", "assign", "revoke", "revoke", "assign", "reactivate", "revoke", "reactivate", "assign"}
	for _, op := range ops {
		switch op {
		case "assign":
			_, _ = f.ledger.AssignRole(ctx, u.ID, fin.ID, f.admin, "")
		case "revoke":
			_ = f.ledger.RevokeRole(ctx, u.ID, fin.ID, f.admin)
		case "reactivate":
			_, _ = f.ledger.ReactivateRole(ctx, u.ID, fin.ID, f.admin)
		}
		assert.LessOrEqual(t, activeRows(t, f, u.ID, fin.ID), 1, "after %s", op)
	}
}

func TestDeactivatedRoleGrantsNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "ivy")
	crew, err := f.catalog.CreateRole(ctx, roles.CreateRoleInput{Name: "CREW", DisplayName: "Crew"}, f.admin)
	require.NoError(t, err)
	_, err = f.ledger.AssignRole(ctx, u.ID, crew.ID, f.admin, "")
	require.NoError(t, err)

	names, err := f.ledger.ActiveRoleNames(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"CREW"}, names)

	_, err = f.catalog.DeactivateRole(ctx, crew.ID, f.admin)
	require.NoError(t, err)
	names, err = f.ledger.ActiveRoleNames(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, names)
	assert.Contains(t, f.evicted.all(), u.ID)

	holders, err := f.ledger.ListUsersForRole(ctx, crew.ID)
	require.NoError(t, err)
	require.Len(t, holders, 1)
	assert.Equal(t, u.ID, holders[0].ID)
}

func TestGrantChangesAuditAndEvictAfterCommit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "jo")
	fin := f.role(t, shared.RoleFinAdmin)

	_, err := f.ledger.AssignRole(ctx, u.ID, fin.ID, f.admin, "")
	require.NoError(t, err)
	require.NoError(t, f.ledger.RevokeRole(ctx, u.ID, fin.ID, f.admin))

	assigned := f.audit.ByAction(audit.ActionRoleAssigned)
	require.Len(t, assigned, 1)
	assert.Equal(t, f.admin.UserID, assigned[0].UserID)
	assert.Equal(t, audit.ModuleRoles, assigned[0].Module)
	assert.Contains(t, assigned[0].Description, "by root@club.test")
	assert.Equal(t, []int64{u.ID, u.ID}, f.evicted.all())

	_, err = f.ledger.AssignRole(ctx, u.ID, 404, f.admin, "")
	require.Error(t, err)
	assert.Len(t, f.evicted.all(), 2)
}

func TestSystemActorGrantIsAttributedToSubject(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "kai")
	fin := f.role(t, shared.RoleFinAdmin)

	row, err := f.ledger.AssignRole(context.Background(), u.ID, fin.ID, shared.SystemActor, "")
	require.NoError(t, err)
	assert.Equal(t, shared.SystemActorName, row.AssignedBy)

	active, err := f.ledger.ListActiveRoles(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, shared.RoleFinAdmin, active[0].Name)

	entries := f.audit.ByAction(audit.ActionRoleAssigned)
	require.Len(t, entries, 1)
	assert.Equal(t, u.ID, entries[0].UserID)
	assert.Contains(t, entries[0].Description, "by SYSTEM")
}
