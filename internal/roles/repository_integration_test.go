//go:build integration

package roles_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/platform/db"
	"github.com/commonwealth-builders/treasury/internal/platform/db/dbtest"
	"github.com/commonwealth-builders/treasury/internal/roles"
	"github.com/commonwealth-builders/treasury/internal/shared"
	"github.com/commonwealth-builders/treasury/internal/users"
)

func TestPostgresLedgerRaceHasOneWinner(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()

	userStore := users.NewRepository(pool)
	roleStore := roles.NewRepository(pool)
	auditStore := audit.NewRepository(pool)
	tx := db.NewTransactor(pool)
	recorder := audit.NewLogger(auditStore, nil)
	catalog := roles.NewService(roleStore, tx, recorder, nil)
	ledger := roles.NewLedger(roleStore, userStore, tx, recorder, nil)

	fin, err := catalog.CreateRole(ctx, roles.CreateRoleInput{Name: shared.RoleFinAdmin, DisplayName: "Financial Administrator", IsSystem: true}, shared.SystemActor)
	require.NoError(t, err)
	u := users.User{FirstName: "Race", LastName: "Runner", Email: "race@club.test", Username: "race", PasswordHash: "x", Enabled: true, CreatedAt: time.Now()}
	require.NoError(t, userStore.Create(ctx, &u))

	const workers = 12
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[string]int{}
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, err := ledger.AssignRole(ctx, u.ID, fin.ID, shared.SystemActor, fmt.Sprintf("worker %d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				results["ok"]++
			case errors.Is(err, roles.ErrAlreadyAssigned), errors.Is(err, shared.ErrConcurrentModification):
				results["conflict"]++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, results["ok"])
	assert.Equal(t, workers-1, results["conflict"])

	var active int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_roles WHERE user_id = $1 AND role_id = $2 AND active`, u.ID, fin.ID).Scan(&active))
	assert.Equal(t, 1, active)

	var entries int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM audit_entries WHERE action = $1`, string(audit.ActionRoleAssigned)).Scan(&entries))
	assert.Equal(t, 1, entries)
}

func TestPostgresRevokeAndReactivateKeepHistory(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()

	userStore := users.NewRepository(pool)
	roleStore := roles.NewRepository(pool)
	tx := db.NewTransactor(pool)
	recorder := audit.NewLogger(audit.NewRepository(pool), nil)
	catalog := roles.NewService(roleStore, tx, recorder, nil)
	ledger := roles.NewLedger(roleStore, userStore, tx, recorder, nil)

	member, err := catalog.CreateRole(ctx, roles.CreateRoleInput{Name: shared.RoleUser, DisplayName: "Regular User", IsSystem: true}, shared.SystemActor)
	require.NoError(t, err)
	u := users.User{FirstName: "Hist", LastName: "Ory", Email: "hist@club.test", Username: "hist", PasswordHash: "x", Enabled: true, CreatedAt: time.Now()}
	require.NoError(t, userStore.Create(ctx, &u))

	first, err := ledger.AssignRole(ctx, u.ID, member.ID, shared.SystemActor, "")
	require.NoError(t, err)
	require.NoError(t, ledger.RevokeRole(ctx, u.ID, member.ID, shared.SystemActor))
	again, err := ledger.ReactivateRole(ctx, u.ID, member.ID, shared.SystemActor)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	require.NoError(t, ledger.RevokeRole(ctx, u.ID, member.ID, shared.SystemActor))
	_, err = ledger.AssignRole(ctx, u.ID, member.ID, shared.SystemActor, "")
	require.NoError(t, err)

	history, err := ledger.History(ctx, u.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.True(t, history[0].Active)
	assert.False(t, history[1].Active)

	err = catalog.DeleteRole(ctx, member.ID, shared.SystemActor)
	assert.ErrorIs(t, err, roles.ErrProtectedRole)
}

func TestPostgresConcurrentRevokeNeverFailsInternally(t *testing.T) {
	pool := dbtest.Pool(t)
	ctx := context.Background()

	userStore := users.NewRepository(pool)
	roleStore := roles.NewRepository(pool)
	tx := db.NewTransactor(pool)
	recorder := audit.NewLogger(audit.NewRepository(pool), nil)
	catalog := roles.NewService(roleStore, tx, recorder, nil)
	ledger := roles.NewLedger(roleStore, userStore, tx, recorder, nil)

	tech, err := catalog.CreateRole(ctx, roles.CreateRoleInput{Name: shared.RoleTechAdmin, DisplayName: "Technical Administrator", IsSystem: true}, shared.SystemActor)
	require.NoError(t, err)
	u := users.User{FirstName: "Rev", LastName: "Oke", Email: "revoke@club.test", Username: "revoke", PasswordHash: "x", Enabled: true, CreatedAt: time.Now()}
	require.NoError(t, userStore.Create(ctx, &u))
	_, err = ledger.AssignRole(ctx, u.ID, tech.ID, shared.SystemActor, "")
	require.NoError(t, err)

	const workers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results = map[string]int{}
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			err := ledger.RevokeRole(ctx, u.ID, tech.ID, shared.SystemActor)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				results["ok"]++
			case errors.Is(err, roles.ErrNotAssigned), errors.Is(err, shared.ErrConcurrentModification):
				results["conflict"]++
			default:
				t.Errorf("unexpected %s error: %v", shared.KindOf(err), err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, results["ok"])
	assert.Equal(t, workers-1, results["conflict"])

	names, err := ledger.ActiveRoleNames(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, names)
}
