// Package session is the client half of the token lifecycle: it keeps the
// current token pair fresh by scheduling a proactive refresh shortly before
// the access token expires, and broadcasts the current user to subscribers.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tunaaoguzhann/token-access/core"
)

// Refresher exchanges a refresh token for a new token pair. It is reached
// over the network; the scheduler treats it as a black box.
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (access, refresh string, err error)
}

// TokenCache persists the current token pair between calls, the way a
// browser client keeps them in local storage.
type TokenCache interface {
	AccessToken() string
	RefreshToken() string
	SetAccessToken(token string)
	SetRefreshToken(token string)
	Clear()
}

// MemoryCache is the default TokenCache.
type MemoryCache struct {
	mu      sync.RWMutex
	access  string
	refresh string
}

func NewMemoryCache() *MemoryCache { return &MemoryCache{} }

func (c *MemoryCache) AccessToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.access
}

func (c *MemoryCache) RefreshToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.refresh
}

func (c *MemoryCache) SetAccessToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access = token
}

func (c *MemoryCache) SetRefreshToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refresh = token
}

func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.access, c.refresh = "", ""
}

// Config wires a Scheduler. Refresher is required; everything else has a
// default.
type Config struct {
	Refresher Refresher
	Cache     TokenCache
	Logger    *slog.Logger

	Now func() time.Time

	// RefreshLead is how long before access-token expiry the refresh fires.
	RefreshLead time.Duration
	// RequestTimeout bounds each refresh call.
	RequestTimeout time.Duration
}

// Scheduler owns at most one pending refresh timer and the in-memory current
// user. It is an explicit instance rather than package state, so independent
// sessions (and tests) never interfere.
type Scheduler struct {
	refresher Refresher
	cache     TokenCache
	logger    *slog.Logger
	now       func() time.Time
	lead      time.Duration
	timeout   time.Duration

	mu        sync.Mutex
	timer     *time.Timer
	gen       int
	user      *core.User
	listeners map[int]func(*core.User)
	nextID    int
}

func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.Refresher == nil {
		return nil, fmt.Errorf("refresher is required")
	}
	if cfg.Cache == nil {
		cfg.Cache = NewMemoryCache()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.RefreshLead == 0 {
		cfg.RefreshLead = time.Minute
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	return &Scheduler{
		refresher: cfg.Refresher,
		cache:     cfg.Cache,
		logger:    cfg.Logger,
		now:       cfg.Now,
		lead:      cfg.RefreshLead,
		timeout:   cfg.RequestTimeout,
		listeners: make(map[int]func(*core.User)),
	}, nil
}

// SetTokens stores the pair and schedules a one-shot refresh RefreshLead
// before the access token expires. A non-positive delay refreshes
// immediately. Any previously pending refresh is cancelled first.
func (s *Scheduler) SetTokens(access, refresh string) error {
	if access == "" {
		return errors.New("no access token provided")
	}
	expiresIn, err := untilExpiry(access, s.now())
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopTimerLocked()
	s.cache.SetAccessToken(access)
	if refresh != "" {
		s.cache.SetRefreshToken(refresh)
	}

	delay := expiresIn - s.lead
	if delay < 0 {
		delay = 0
	}
	gen := s.gen
	s.timer = time.AfterFunc(delay, func() { s.refresh(gen) })
	return nil
}

// IsLoggedIn reports whether an access token is cached and a refresh is
// scheduled. It conflates presence with validity; that approximation is the
// point, since checking for real would need a network round-trip.
func (s *Scheduler) IsLoggedIn() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.AccessToken() != "" && s.timer != nil
}

// CurrentUser returns the broadcast user, nil when signed out.
func (s *Scheduler) CurrentUser() *core.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

// SetCurrentUser stores the user and notifies every listener.
func (s *Scheduler) SetCurrentUser(user *core.User) {
	s.mu.Lock()
	s.user = user
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(user)
	}
}

// OnUserChange subscribes to current-user changes and returns an unsubscribe
// function.
func (s *Scheduler) OnUserChange(fn func(*core.User)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// Clear is the client-side sign-out: cancel the pending refresh, wipe the
// cached tokens, drop the current user, and notify listeners. It returns the
// refresh token that was held so the caller can revoke it server-side.
func (s *Scheduler) Clear() (refreshToken string) {
	s.mu.Lock()
	s.stopTimerLocked()
	refreshToken = s.cache.RefreshToken()
	s.cache.Clear()
	s.user = nil
	listeners := s.snapshotListenersLocked()
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(nil)
	}
	return refreshToken
}

// refresh runs on timer fire. Success re-enters SetTokens with the new pair;
// failure clears local state and notifies listeners. That failure path is the
// only way a client becomes unauthenticated without an explicit sign-out.
func (s *Scheduler) refresh(gen int) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	refreshToken := s.cache.RefreshToken()
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	access, refresh, err := s.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		s.logger.Warn("token refresh failed, signing out", "err", err)
		s.Clear()
		return
	}

	s.mu.Lock()
	stale := gen != s.gen
	s.mu.Unlock()
	if stale {
		return
	}
	if err := s.SetTokens(access, refresh); err != nil {
		s.logger.Warn("scheduling next refresh failed, signing out", "err", err)
		s.Clear()
	}
}

// stopTimerLocked cancels the pending refresh and invalidates any in-flight
// one by bumping the generation.
func (s *Scheduler) stopTimerLocked() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) snapshotListenersLocked() []func(*core.User) {
	listeners := make([]func(*core.User), 0, len(s.listeners))
	for _, fn := range s.listeners {
		listeners = append(listeners, fn)
	}
	return listeners
}

// untilExpiry reads the exp claim without verifying the signature; the
// client has no signing secret and only needs the deadline.
func untilExpiry(access string, now time.Time) (time.Duration, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(access, claims); err != nil {
		return 0, fmt.Errorf("parse access token: %w", err)
	}
	if claims.ExpiresAt == nil {
		return 0, errors.New("access token has no expiration")
	}
	return claims.ExpiresAt.Time.Sub(now), nil
}
