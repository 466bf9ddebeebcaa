package core

import (
	"context"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-instance setups.
// TTLs are enforced lazily on access and eagerly by per-key timers, so the
// expiry feed fires close to the nominal deadline.
type MemoryStore struct {
	mu        sync.RWMutex
	data      map[string]memEntry
	timers    map[string]*time.Timer
	listeners []func(key string)
	now       func() time.Time
}

type memEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:   make(map[string]memEntry),
		timers: make(map[string]*time.Timer),
		now:    time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || s.expiredLocked(key, e) {
		return "", ErrKeyNotFound
	}
	return e.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.data[key] = e
	s.resetTimerLocked(key, ttl)
	return nil
}

func (s *MemoryStore) Del(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dropLocked(key)
	return nil
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || s.expiredLocked(key, e) {
		return false, nil
	}
	return true, nil
}

func (s *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || s.expiredLocked(key, e) {
		return ErrKeyNotFound
	}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	} else {
		e.expiresAt = time.Time{}
	}
	s.data[key] = e
	s.resetTimerLocked(key, ttl)
	return nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.data[key]
	if !ok || s.expiredLocked(key, e) {
		return -2 * time.Second, nil
	}
	if e.expiresAt.IsZero() {
		return -1 * time.Second, nil
	}
	return e.expiresAt.Sub(s.now()), nil
}

func (s *MemoryStore) Keys(_ context.Context, pattern string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k, e := range s.data {
		if s.expiredLocked(k, e) {
			continue
		}
		if matchGlob(pattern, k) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

// NotifyExpired registers fn on the expiry feed. The listener survives until
// the process exits; ctx only gates delivery.
func (s *MemoryStore) NotifyExpired(ctx context.Context, fn func(key string)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, func(key string) {
		if ctx.Err() == nil {
			fn(key)
		}
	})
	return nil
}

func (s *MemoryStore) expiredLocked(key string, e memEntry) bool {
	if e.expiresAt.IsZero() || s.now().Before(e.expiresAt) {
		return false
	}
	s.dropLocked(key)
	return true
}

func (s *MemoryStore) dropLocked(key string) {
	delete(s.data, key)
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
}

func (s *MemoryStore) resetTimerLocked(key string, ttl time.Duration) {
	if t, ok := s.timers[key]; ok {
		t.Stop()
		delete(s.timers, key)
	}
	if ttl <= 0 {
		return
	}
	s.timers[key] = time.AfterFunc(ttl, func() { s.expireKey(key) })
}

func (s *MemoryStore) expireKey(key string) {
	s.mu.Lock()
	e, ok := s.data[key]
	if !ok || e.expiresAt.IsZero() || s.now().Before(e.expiresAt) {
		s.mu.Unlock()
		return
	}
	s.dropLocked(key)
	listeners := make([]func(string), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		fn(key)
	}
}

// matchGlob matches s against a redis-style glob pattern. Only * is
// supported; token keys never need ? or character classes.
func matchGlob(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	if !strings.Contains(pattern, "*") {
		return pattern == s
	}

	parts := strings.Split(pattern, "*")
	if parts[0] != "" && !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]

	for i := 1; i < len(parts)-1; i++ {
		if parts[i] == "" {
			continue
		}
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}

	last := parts[len(parts)-1]
	if last == "" {
		return true
	}
	return strings.HasSuffix(s, last)
}
