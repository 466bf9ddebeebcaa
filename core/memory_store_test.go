package core

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_SetGetDel(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.NoError(t, s.Set(ctx, "k1", "v1", 0))

	val, err := s.Get(ctx, "k1")
	require.NoError(t, err)
	assert.Equal(t, "v1", val)

	ok, err := s.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, s.Del(ctx, "k1"))

	_, err = s.Get(ctx, "k1")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	ok, err = s.Exists(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryStore_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", "v", time.Hour))

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)

	// Advance past the deadline; the key behaves as deleted.
	now = now.Add(time.Hour + time.Second)

	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	ttl, err = s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Negative(t, ttl)
}

func TestMemoryStore_TTLConventions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	ttl, err := s.TTL(ctx, "missing")
	require.NoError(t, err)
	assert.Negative(t, ttl)

	require.NoError(t, s.Set(ctx, "forever", "v", 0))
	ttl, err = s.TTL(ctx, "forever")
	require.NoError(t, err)
	assert.Negative(t, ttl)
}

func TestMemoryStore_Expire(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	assert.ErrorIs(t, s.Expire(ctx, "missing", time.Minute), ErrKeyNotFound)

	require.NoError(t, s.Set(ctx, "k", "v", time.Minute))
	require.NoError(t, s.Expire(ctx, "k", time.Hour))

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)
}

func TestMemoryStore_KeysGlob(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for _, k := range []string{
		"pr_aaa", "pr_aaa:u1", "pr_bbb:u1", "pr_ccc:u2",
		"ve_ddd:u1", "rt_eee:u1",
	} {
		require.NoError(t, s.Set(ctx, k, "1", 0))
	}

	keys, err := s.Keys(ctx, "pr_*:u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pr_aaa:u1", "pr_bbb:u1"}, keys)

	keys, err = s.Keys(ctx, "*_*:u1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"pr_aaa:u1", "pr_bbb:u1", "ve_ddd:u1", "rt_eee:u1"}, keys)

	keys, err = s.Keys(ctx, "*")
	require.NoError(t, err)
	assert.Len(t, keys, 6)
}

func TestMatchGlob(t *testing.T) {
	tests := []struct {
		pattern string
		s       string
		want    bool
	}{
		{"*", "anything", true},
		{"exact", "exact", true},
		{"exact", "other", false},
		{"pr_*:u1", "pr_abc:u1", true},
		{"pr_*:u1", "pr_abc:u11", false},
		{"pr_*:u1", "ve_abc:u1", false},
		{"*_*:u1", "rt_abc:u1", true},
		{"*_*:u1", "rt_abc", false},
		{"rt_*", "rt_abc", true},
		{"*:u1", "rt_abc:u1", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchGlob(tt.pattern, tt.s), "pattern %q against %q", tt.pattern, tt.s)
	}
}

func TestMemoryStore_NotifyExpired(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var fired atomic.Value
	require.NoError(t, s.NotifyExpired(ctx, func(key string) {
		fired.Store(key)
	}))

	require.NoError(t, s.Set(ctx, "short", "v", 20*time.Millisecond))

	require.Eventually(t, func() bool {
		return fired.Load() == "short"
	}, 2*time.Second, 10*time.Millisecond)

	// The expired key is gone.
	_, err := s.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrKeyNotFound)
}

func TestMemoryStore_OverwriteResetsTTL(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(ctx, "k", "v1", time.Minute))
	require.NoError(t, s.Set(ctx, "k", "v2", time.Hour))

	ttl, err := s.TTL(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, ttl)

	val, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v2", val)
}
