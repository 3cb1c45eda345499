package audit_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commonwealth-builders/treasury/internal/audit"
	"github.com/commonwealth-builders/treasury/internal/audit/audittest"
	"github.com/commonwealth-builders/treasury/internal/shared"
)

var fixedNow = time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSpool(t *testing.T) (*audit.RedisSpool, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return audit.NewRedisSpool(client, ""), mr
}

func TestLogStoresEntryWithRequestMeta(t *testing.T) {
	store := audittest.NewStore(7)
	logger := audit.NewLogger(store, quietLogger(), audit.WithClock(shared.FixedClock(fixedNow)))
	ctx := shared.ContextWithRequestMeta(context.Background(), shared.RequestMeta{IPAddress: "10.1.1.1", UserAgent: "curl/8"})

	logger.Log(ctx, audit.Entry{UserID: 7, Action: audit.ActionRoleAssigned, Module: audit.ModuleRoles, Description: "Role FIN_ADMIN assigned"})

	entries := store.Entries()
	require.Len(t, entries, 1)
	got := entries[0]
	assert.Len(t, got.EventID, 26)
	assert.Equal(t, "10.1.1.1", got.IPAddress)
	assert.Equal(t, "curl/8", got.UserAgent)
	assert.Equal(t, fixedNow, got.CreatedAt)
}

func TestLogKeepsExplicitNetworkMetadata(t *testing.T) {
	store := audittest.NewStore(7)
	logger := audit.NewLogger(store, quietLogger())
	ctx := shared.ContextWithRequestMeta(context.Background(), shared.RequestMeta{IPAddress: "10.1.1.1"})

	logger.Log(ctx, audit.Entry{UserID: 7, Action: audit.ActionUserLogin, Module: audit.ModuleAuth, IPAddress: "192.168.0.9"})

	require.Equal(t, "192.168.0.9", store.Entries()[0].IPAddress)
}

func TestLogUnknownActorIsDroppedCountedAndSpooled(t *testing.T) {
	store := audittest.NewStore()
	spool, _ := newSpool(t)
	reg := prometheus.NewRegistry()
	logger := audit.NewLogger(store, quietLogger(), audit.WithSpool(spool), audit.WithRegisterer(reg))

	require.NotPanics(t, func() {
		logger.Log(context.Background(), audit.Entry{UserID: 99, Action: audit.ActionPaymentVerified, Module: audit.ModulePayments})
	})

	assert.Empty(t, store.Entries())
	expected := `
# HELP treasury_audit_dropped_total Audit entries that could not be stored, by reason.
# TYPE treasury_audit_dropped_total counter
treasury_audit_dropped_total{reason="unknown_actor"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "treasury_audit_dropped_total"))

	n, err := spool.Len(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestLogStoreFailureNeverPanics(t *testing.T) {
	store := audittest.NewStore(1)
	store.Fail = errors.New("connection reset")
	logger := audit.NewLogger(store, quietLogger())

	require.NotPanics(t, func() {
		logger.Log(context.Background(), audit.Entry{UserID: 1, Action: audit.ActionExpenseCreated, Module: audit.ModuleExpenses})
	})
}

func TestNilLoggerIsNoop(t *testing.T) {
	var logger *audit.Logger
	require.NotPanics(t, func() {
		logger.Log(context.Background(), audit.Entry{UserID: 1})
	})
}

func TestReplayInsertsResolvedEntriesOnce(t *testing.T) {
	store := audittest.NewStore()
	spool, _ := newSpool(t)
	logger := audit.NewLogger(store, quietLogger(), audit.WithSpool(spool))
	ctx := context.Background()

	logger.Log(ctx, audit.Entry{UserID: 5, Action: audit.ActionUserRegistration, Module: audit.ModuleAuth})
	logger.Log(ctx, audit.Entry{UserID: 6, Action: audit.ActionUserRegistration, Module: audit.ModuleAuth})

	store.AddUser(5)
	stats, err := logger.Replay(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, audit.ReplayStats{Inserted: 1, Requeued: 1}, stats)
	require.Len(t, store.Entries(), 1)

	left, err := spool.Len(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, left)

	// A replayed copy of an already stored event is ignored.
	require.NoError(t, spool.Push(ctx, store.Entries()[0]))
	store.AddUser(6)
	stats, err = logger.Replay(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, audit.ReplayStats{Inserted: 1, Duplicates: 1}, stats)
	require.Len(t, store.Entries(), 2)
}

func TestRedisSpoolIsFIFO(t *testing.T) {
	spool, _ := newSpool(t)
	ctx := context.Background()

	empty, err := spool.Pop(ctx)
	require.NoError(t, err)
	require.Nil(t, empty)

	require.NoError(t, spool.Push(ctx, audit.Entry{EventID: "A"}))
	require.NoError(t, spool.Push(ctx, audit.Entry{EventID: "B"}))
	first, err := spool.Pop(ctx)
	require.NoError(t, err)
	require.Equal(t, "A", first.EventID)
}
