package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"insiderwatch/internal/config"
)

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, s.Set(ctx, "b", []byte("2"), 0))

	v, ok, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)

	now = now.Add(2 * time.Minute)
	_, ok, _ = s.Get(ctx, "a")
	assert.False(t, ok)
	_, ok, _ = s.Get(ctx, "b")
	assert.True(t, ok)

	require.NoError(t, s.Delete(ctx, "b"))
	_, ok, _ = s.Get(ctx, "b")
	assert.False(t, ok)
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	in := []byte("abc")
	require.NoError(t, s.Set(ctx, "k", in, 0))
	in[0] = 'z'
	out, _, _ := s.Get(ctx, "k")
	assert.Equal(t, "abc", string(out))
}

func TestRedisStore(t *testing.T) {
	addr := os.Getenv("IW_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("IW_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	s := NewRedisStore(config.RedisConfig{Addr: addr, KeyPrefix: "iw:test:"})
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Ping(ctx))

	require.NoError(t, s.Set(ctx, "k", []byte("v"), time.Minute))
	v, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", string(v))
	require.NoError(t, s.Delete(ctx, "k"))
	_, ok, err = s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
