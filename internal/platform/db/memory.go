package db

import (
	"context"
	"sync"
)

// Participant is an in-memory store that can roll back to a snapshot.
type Participant interface {
	Snapshot() (restore func())
}

// MemoryTransactor runs units of work over in-memory stores one at a time.
// On error every enlisted participant is restored. Seed dry runs and tests
// use it in place of PostgreSQL.
type MemoryTransactor struct {
	mu           sync.Mutex
	participants []Participant
}

// NewMemoryTransactor enlists participants.
func NewMemoryTransactor(participants ...Participant) *MemoryTransactor {
	return &MemoryTransactor{participants: participants}
}

// Enlist adds participants to later units of work.
func (t *MemoryTransactor) Enlist(participants ...Participant) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.participants = append(t.participants, participants...)
}

// RunInTx implements Transactor. Nested calls join the outer unit of work.
func (t *MemoryTransactor) RunInTx(ctx context.Context, fn func(context.Context) error) error {
	if stateFrom(ctx) != nil {
		return fn(ctx)
	}
	t.mu.Lock()
	restores := make([]func(), 0, len(t.participants))
	for _, p := range t.participants {
		restores = append(restores, p.Snapshot())
	}
	state := &txState{}
	state.root = state
	err := fn(context.WithValue(ctx, txContextKey{}, state))
	if err != nil {
		for i := len(restores) - 1; i >= 0; i-- {
			restores[i]()
		}
	}
	t.mu.Unlock()
	if err != nil {
		return err
	}
	for _, hook := range state.hooks {
		hook(ctx)
	}
	return nil
}
