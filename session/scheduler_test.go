package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunaaoguzhann/token-access/core"
)

type fakeRefresher struct {
	mu     sync.Mutex
	calls  []string
	access string
	newRef string
	err    error
}

func (f *fakeRefresher) Refresh(_ context.Context, refreshToken string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, refreshToken)
	if f.err != nil {
		return "", "", f.err
	}
	return f.access, f.newRef, nil
}

func (f *fakeRefresher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeRefresher) seen() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func accessToken(t *testing.T, ttl time.Duration) string {
	t.Helper()
	signer := core.NewAccessSigner("test-secret")
	token, _, err := signer.Sign(&core.User{ID: "u1", Email: "jane@example.com"}, ttl)
	require.NoError(t, err)
	return token
}

func TestScheduler_SetTokens(t *testing.T) {
	refresher := &fakeRefresher{}
	s, err := NewScheduler(Config{Refresher: refresher})
	require.NoError(t, err)

	assert.False(t, s.IsLoggedIn())

	require.NoError(t, s.SetTokens(accessToken(t, time.Hour), "rt_one"))
	assert.True(t, s.IsLoggedIn())
	assert.Equal(t, "rt_one", s.cache.RefreshToken())

	// No refresh fires an hour early.
	assert.Zero(t, refresher.callCount())
}

func TestScheduler_RejectsBadTokens(t *testing.T) {
	s, err := NewScheduler(Config{Refresher: &fakeRefresher{}})
	require.NoError(t, err)

	assert.Error(t, s.SetTokens("", "rt_one"))
	assert.Error(t, s.SetTokens("not-a-jwt", "rt_one"))
	assert.False(t, s.IsLoggedIn())
}

func TestScheduler_ProactiveRefresh(t *testing.T) {
	refresher := &fakeRefresher{
		access: accessToken(t, time.Hour),
		newRef: "rt_two",
	}
	s, err := NewScheduler(Config{
		Refresher:   refresher,
		RefreshLead: time.Nanosecond,
	})
	require.NoError(t, err)

	// Expires in 30ms, so the refresh fires almost immediately.
	require.NoError(t, s.SetTokens(accessToken(t, 30*time.Millisecond), "rt_one"))

	require.Eventually(t, func() bool {
		return s.cache.RefreshToken() == "rt_two"
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"rt_one"}, refresher.seen())
	assert.True(t, s.IsLoggedIn())
}

func TestScheduler_ExpiredTokenRefreshesImmediately(t *testing.T) {
	refresher := &fakeRefresher{
		access: accessToken(t, time.Hour),
		newRef: "rt_two",
	}
	s, err := NewScheduler(Config{Refresher: refresher})
	require.NoError(t, err)

	// Already expired: non-positive delay schedules an immediate refresh.
	require.NoError(t, s.SetTokens(accessToken(t, -time.Minute), "rt_one"))

	require.Eventually(t, func() bool {
		return refresher.callCount() > 0
	}, 2*time.Second, 5*time.Millisecond)
}

func TestScheduler_RefreshFailureSignsOut(t *testing.T) {
	refresher := &fakeRefresher{err: errors.New("server says no")}
	s, err := NewScheduler(Config{Refresher: refresher})
	require.NoError(t, err)

	var mu sync.Mutex
	var notified []*core.User
	s.OnUserChange(func(u *core.User) {
		mu.Lock()
		notified = append(notified, u)
		mu.Unlock()
	})
	s.SetCurrentUser(&core.User{ID: "u1"})

	require.NoError(t, s.SetTokens(accessToken(t, -time.Minute), "rt_one"))

	// The failed refresh is the sole path from authenticated to
	// unauthenticated without an explicit sign-out.
	require.Eventually(t, func() bool {
		return !s.IsLoggedIn()
	}, 2*time.Second, 5*time.Millisecond)

	assert.Empty(t, s.cache.AccessToken())
	assert.Empty(t, s.cache.RefreshToken())
	assert.Nil(t, s.CurrentUser())

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, notified)
	assert.Nil(t, notified[len(notified)-1])
}

func TestScheduler_Clear(t *testing.T) {
	refresher := &fakeRefresher{}
	s, err := NewScheduler(Config{Refresher: refresher})
	require.NoError(t, err)

	var notified bool
	s.OnUserChange(func(u *core.User) { notified = u == nil })

	require.NoError(t, s.SetTokens(accessToken(t, time.Hour), "rt_one"))
	s.SetCurrentUser(&core.User{ID: "u1"})

	held := s.Clear()
	assert.Equal(t, "rt_one", held)
	assert.False(t, s.IsLoggedIn())
	assert.Nil(t, s.CurrentUser())
	assert.True(t, notified)

	// The cancelled timer never fires.
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, refresher.callCount())
}

func TestScheduler_CurrentUserBroadcast(t *testing.T) {
	s, err := NewScheduler(Config{Refresher: &fakeRefresher{}})
	require.NoError(t, err)

	var first, second []*core.User
	unsubscribe := s.OnUserChange(func(u *core.User) { first = append(first, u) })
	s.OnUserChange(func(u *core.User) { second = append(second, u) })

	jane := &core.User{ID: "u1"}
	s.SetCurrentUser(jane)
	assert.Equal(t, []*core.User{jane}, first)
	assert.Equal(t, []*core.User{jane}, second)
	assert.Same(t, jane, s.CurrentUser())

	// Unsubscribed listeners stop receiving.
	unsubscribe()
	s.SetCurrentUser(nil)
	assert.Len(t, first, 1)
	assert.Len(t, second, 2)
}

func TestScheduler_SetTokensCancelsPendingRefresh(t *testing.T) {
	refresher := &fakeRefresher{
		access: accessToken(t, time.Hour),
		newRef: "rt_two",
	}
	s, err := NewScheduler(Config{
		Refresher:   refresher,
		RefreshLead: time.Nanosecond,
	})
	require.NoError(t, err)

	// First pair would refresh in ~40ms, but a second SetTokens replaces
	// the timer before it fires: one timer per scheduler, never two.
	require.NoError(t, s.SetTokens(accessToken(t, 40*time.Millisecond), "rt_one"))
	require.NoError(t, s.SetTokens(accessToken(t, time.Hour), "rt_replaced"))

	time.Sleep(100 * time.Millisecond)
	assert.Zero(t, refresher.callCount())
	assert.Equal(t, "rt_replaced", s.cache.RefreshToken())
}
