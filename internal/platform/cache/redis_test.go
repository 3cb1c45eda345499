package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type cached struct {
	Total float64 `json:"total"`
}

func TestJSONRoundTripAndExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	c := NewJSON(client, "test:", time.Minute)
	ctx := context.Background()

	var out cached
	hit, err := c.Get(ctx, "k", &out)
	require.NoError(t, err)
	require.False(t, hit)

	require.NoError(t, c.Set(ctx, "k", cached{Total: 12.5}))
	hit, err = c.Get(ctx, "k", &out)
	require.NoError(t, err)
	require.True(t, hit)
	require.Equal(t, 12.5, out.Total)

	mr.FastForward(2 * time.Minute)
	hit, err = c.Get(ctx, "k", &out)
	require.NoError(t, err)
	require.False(t, hit)
}

func TestJSONNilClientAlwaysMisses(t *testing.T) {
	c := NewJSON(nil, "x:", time.Minute)
	var out cached
	hit, err := c.Get(context.Background(), "k", &out)
	require.NoError(t, err)
	require.False(t, hit)
	require.NoError(t, c.Set(context.Background(), "k", out))
	require.NoError(t, c.Delete(context.Background(), "k"))
}
