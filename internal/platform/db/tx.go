package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/commonwealth-builders/treasury/internal/shared"
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txContextKey struct{}

type txState struct {
	tx   pgx.Tx
	root *txState
	// hooks run once the root transaction commits.
	hooks []func(context.Context)
}

// WithTx executes a function within a transaction using the RepeatableRead isolation level.
func WithTx(ctx context.Context, pool *pgxpool.Pool, fn func(pgx.Tx) error) error {
	tx, err := pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead})
	if err != nil {
		return fmt.Errorf("platform/db: begin tx: %w", err)
	}

	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return classify(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classify(fmt.Errorf("platform/db: commit tx: %w", err))
	}

	return nil
}

// classify turns serialization failures and deadlocks that no repository
// mapped into ErrConcurrentModification so callers may retry.
func classify(err error) error {
	if IsRetryable(err) && shared.KindOf(err) == shared.KindInternal {
		return shared.ErrConcurrentModification.Wrap(err)
	}
	return err
}

// RunInTx runs fn inside the transaction carried by ctx, or opens a new one.
// Repositories reach the transaction through Conn, so services from different
// packages can share one unit of work.
func RunInTx(ctx context.Context, pool *pgxpool.Pool, fn func(context.Context) error) error {
	if stateFrom(ctx) != nil {
		return fn(ctx)
	}
	state := &txState{}
	state.root = state
	err := WithTx(ctx, pool, func(tx pgx.Tx) error {
		state.tx = tx
		return fn(context.WithValue(ctx, txContextKey{}, state))
	})
	if err != nil {
		return err
	}
	for _, hook := range state.hooks {
		hook(ctx)
	}
	return nil
}

// Conn returns the ambient transaction, or the pool when none is open.
func Conn(ctx context.Context, pool *pgxpool.Pool) Querier {
	if state := stateFrom(ctx); state != nil && state.tx != nil {
		return state.tx
	}
	return pool
}

// InTx reports whether ctx carries an open transaction.
func InTx(ctx context.Context) bool {
	return stateFrom(ctx) != nil
}

// Savepoint runs fn in a nested transaction so that its failure leaves the
// enclosing transaction usable. Without an ambient transaction fn runs as is.
func Savepoint(ctx context.Context, fn func(context.Context) error) error {
	parent := stateFrom(ctx)
	if parent == nil || parent.tx == nil {
		return fn(ctx)
	}
	sp, err := parent.tx.Begin(ctx)
	if err != nil {
		return fmt.Errorf("platform/db: savepoint: %w", err)
	}
	nested := &txState{tx: sp, root: parent.root}
	if err := fn(context.WithValue(ctx, txContextKey{}, nested)); err != nil {
		_ = sp.Rollback(ctx)
		return err
	}
	if err := sp.Commit(ctx); err != nil {
		return fmt.Errorf("platform/db: release savepoint: %w", err)
	}
	return nil
}

// AfterCommit registers hook to run after the ambient transaction commits.
// Without a transaction the hook runs immediately; on rollback it never runs.
func AfterCommit(ctx context.Context, hook func(context.Context)) {
	state := stateFrom(ctx)
	if state == nil {
		hook(ctx)
		return
	}
	state.root.hooks = append(state.root.hooks, hook)
}

func stateFrom(ctx context.Context) *txState {
	state, _ := ctx.Value(txContextKey{}).(*txState)
	return state
}

// Transactor opens units of work that repositories join through the context.
type Transactor interface {
	RunInTx(ctx context.Context, fn func(context.Context) error) error
}

// PoolTransactor runs units of work on a pgx pool.
type PoolTransactor struct {
	pool *pgxpool.Pool
}

// NewTransactor wraps pool.
func NewTransactor(pool *pgxpool.Pool) *PoolTransactor {
	return &PoolTransactor{pool: pool}
}

// RunInTx implements Transactor.
func (t *PoolTransactor) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	return RunInTx(ctx, t.pool, fn)
}
