package shared

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// IdempotencyHeader carries the client supplied request key.
const IdempotencyHeader = "Idempotency-Key"

// IdempotencyStore remembers processed request keys for a retention window.
type IdempotencyStore struct {
	client    *redis.Client
	retention time.Duration
}

// NewIdempotencyStore constructs the store. A nil client accepts every key.
func NewIdempotencyStore(client *redis.Client, retention time.Duration) *IdempotencyStore {
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &IdempotencyStore{client: client, retention: retention}
}

// ErrIdempotencyConflict indicates a duplicate key.
var ErrIdempotencyConflict = NewError(KindAlreadyExists, "DUPLICATE_REQUEST", "idempotent request already processed")

func idempotencyKey(key, scope string) string {
	return "idem:" + scope + ":" + key
}

// CheckAndInsert claims key within scope.
func (s *IdempotencyStore) CheckAndInsert(ctx context.Context, key, scope string) error {
	if s == nil || s.client == nil {
		return nil
	}
	if key == "" {
		return errors.New("idempotency key required")
	}
	if scope == "" {
		return errors.New("idempotency scope required")
	}
	ok, err := s.client.SetNX(ctx, idempotencyKey(key, scope), time.Now().UTC().Format(time.RFC3339), s.retention).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrIdempotencyConflict.Withf("request %s was already processed", key)
	}
	return nil
}

// Delete releases a key, typically used to roll back failed processing.
func (s *IdempotencyStore) Delete(ctx context.Context, key, scope string) error {
	if s == nil || s.client == nil || key == "" {
		return nil
	}
	return s.client.Del(ctx, idempotencyKey(key, scope)).Err()
}
