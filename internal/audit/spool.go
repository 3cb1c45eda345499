package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultSpoolKey is the Redis list holding entries that could not be stored.
const DefaultSpoolKey = "audit:dropped"

// Spool keeps dropped entries for later replay.
type Spool interface {
	Push(ctx context.Context, entry Entry) error
	Pop(ctx context.Context) (*Entry, error)
	Len(ctx context.Context) (int64, error)
}

// RedisSpool is a FIFO spool backed by a Redis list.
type RedisSpool struct {
	client *redis.Client
	key    string
}

// NewRedisSpool builds a spool on key, or DefaultSpoolKey when key is empty.
func NewRedisSpool(client *redis.Client, key string) *RedisSpool {
	if key == "" {
		key = DefaultSpoolKey
	}
	return &RedisSpool{client: client, key: key}
}

// Push appends entry to the tail of the list.
func (s *RedisSpool) Push(ctx context.Context, entry Entry) error {
	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: encode spooled entry: %w", err)
	}
	return s.client.RPush(ctx, s.key, payload).Err()
}

// Pop removes the oldest entry. It returns nil when the spool is empty.
func (s *RedisSpool) Pop(ctx context.Context) (*Entry, error) {
	payload, err := s.client.LPop(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(payload, &entry); err != nil {
		return nil, fmt.Errorf("audit: decode spooled entry: %w", err)
	}
	return &entry, nil
}

// Len reports the number of spooled entries.
func (s *RedisSpool) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}
