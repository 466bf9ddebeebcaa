package core

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewToken_Format(t *testing.T) {
	token, err := NewToken(PrefixRefresh)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^rt_[0-9a-f]{64}$`), token)

	other, err := NewToken(PrefixRefresh)
	require.NoError(t, err)
	assert.NotEqual(t, token, other)
}

func TestTokenStore_SaveToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	tokens := NewTokenStore(store)

	require.NoError(t, tokens.SaveToken(ctx, "rt_abc", "u1", time.Hour))

	// Primary mapping resolves by token value.
	owner, err := store.Get(ctx, "rt_abc")
	require.NoError(t, err)
	assert.Equal(t, "u1", owner)

	// Companion key makes per-user enumeration cheap, same TTL.
	val, err := store.Get(ctx, "rt_abc:u1")
	require.NoError(t, err)
	assert.Equal(t, "1", val)

	primaryTTL, err := store.TTL(ctx, "rt_abc")
	require.NoError(t, err)
	companionTTL, err := store.TTL(ctx, "rt_abc:u1")
	require.NoError(t, err)
	assert.Equal(t, primaryTTL, companionTTL)
}

func TestTokenStore_DeleteToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tokens := NewTokenStore(store)

	require.NoError(t, tokens.SaveToken(ctx, "rt_abc", "u1", time.Hour))
	require.NoError(t, tokens.DeleteToken(ctx, "rt_abc"))

	_, err := store.Get(ctx, "rt_abc")
	assert.ErrorIs(t, err, ErrKeyNotFound)
	_, err = store.Get(ctx, "rt_abc:u1")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Deleting a token that never existed is not an error.
	require.NoError(t, tokens.DeleteToken(ctx, "rt_missing"))
}

func TestTokenStore_DeleteTokens(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tokens := NewTokenStore(store)

	require.NoError(t, tokens.SaveToken(ctx, "pr_one", "u1", time.Hour))
	require.NoError(t, tokens.SaveToken(ctx, "pr_two", "u1", time.Hour))
	require.NoError(t, tokens.SaveToken(ctx, "pr_other", "u2", time.Hour))
	require.NoError(t, tokens.SaveToken(ctx, "ve_one", "u1", time.Hour))

	require.NoError(t, tokens.DeleteTokens(ctx, PrefixPasswordReset, "u1"))

	for _, gone := range []string{"pr_one", "pr_one:u1", "pr_two", "pr_two:u1"} {
		_, err := store.Get(ctx, gone)
		assert.ErrorIs(t, err, ErrKeyNotFound, "expected %s to be deleted", gone)
	}

	// Other users and other families are untouched.
	for _, kept := range []string{"pr_other", "pr_other:u2", "ve_one", "ve_one:u1"} {
		_, err := store.Get(ctx, kept)
		assert.NoError(t, err, "expected %s to survive", kept)
	}
}

func TestTokenStore_DeleteTokens_AllFamilies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	tokens := NewTokenStore(store)

	require.NoError(t, tokens.SaveToken(ctx, "rt_a", "u1", time.Hour))
	require.NoError(t, tokens.SaveToken(ctx, "ve_b", "u1", time.Hour))
	require.NoError(t, tokens.SaveToken(ctx, "pr_c", "u1", time.Hour))
	require.NoError(t, tokens.SaveToken(ctx, "rt_d", "u2", time.Hour))

	require.NoError(t, tokens.DeleteTokens(ctx, "*", "u1"))

	keys, err := store.Keys(ctx, "*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"rt_d", "rt_d:u2"}, keys)
}

func TestTokenStore_WaitTime(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	tokens := NewTokenStore(store)

	require.NoError(t, store.Set(ctx, "a", "1", 10*time.Minute))
	require.NoError(t, store.Set(ctx, "b", "1", 90*time.Minute))
	require.NoError(t, store.Set(ctx, "c", "1", time.Minute))

	wait, err := tokens.WaitTime(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	assert.Equal(t, int64(5400), wait.Seconds)
	assert.Equal(t, 1, wait.Hours)
	assert.Equal(t, 30, wait.Minutes)
}

func TestTokenStore_WaitTime_SubHour(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }
	tokens := NewTokenStore(store)

	require.NoError(t, store.Set(ctx, "a", "1", 59*time.Minute))

	wait, err := tokens.WaitTime(ctx, []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, 0, wait.Hours)
	assert.Equal(t, 59, wait.Minutes)
}

func TestRateLimitError_Message(t *testing.T) {
	tests := []struct {
		wait Wait
		want string
	}{
		{Wait{Seconds: 600, Minutes: 10}, "too many requests, try again in 10 minutes"},
		{Wait{Seconds: 5400, Minutes: 30, Hours: 1}, "too many requests, try again in an hour and 30 minutes"},
		{Wait{Seconds: 9000, Minutes: 30, Hours: 2}, "too many requests, try again in 2 hours and 30 minutes"},
	}
	for _, tt := range tests {
		err := &RateLimitError{Wait: tt.wait}
		assert.Equal(t, tt.want, err.Error())
	}
}
