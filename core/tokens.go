package core

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// TokenStore is the typed token layer over a Store. Every token is written as
// two keys with the same TTL: the primary mapping token -> userID, looked up
// by token value, and the companion "<token>:<userID>" -> "1", which makes
// per-user enumeration a cheap prefix scan.
type TokenStore struct {
	store Store
}

func NewTokenStore(store Store) *TokenStore {
	return &TokenStore{store: store}
}

// Store exposes the underlying Store for raw key operations.
func (t *TokenStore) Store() Store { return t.store }

func (t *TokenStore) Get(ctx context.Context, key string) (string, error) {
	return t.store.Get(ctx, key)
}

func (t *TokenStore) Exists(ctx context.Context, key string) (bool, error) {
	return t.store.Exists(ctx, key)
}

func (t *TokenStore) Keys(ctx context.Context, pattern string) ([]string, error) {
	return t.store.Keys(ctx, pattern)
}

// SaveToken stores the token mapping and its companion counting key.
func (t *TokenStore) SaveToken(ctx context.Context, token, userID string, ttl time.Duration) error {
	if err := t.store.Set(ctx, token, userID, ttl); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := t.store.Set(ctx, token+":"+userID, "1", ttl); err != nil {
		return fmt.Errorf("save companion key: %w", err)
	}
	return nil
}

// DeleteToken removes a token and its companion key. A token that no longer
// exists is not an error; revocation is idempotent.
func (t *TokenStore) DeleteToken(ctx context.Context, token string) error {
	userID, err := t.store.Get(ctx, token)
	if errors.Is(err, ErrKeyNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := t.store.Del(ctx, token); err != nil {
		return err
	}
	return t.store.Del(ctx, token+":"+userID)
}

// DeleteTokens removes every live token of one family for one user by
// scanning the companion keys. Prefix "*" matches all families. Deletion is
// best effort: a failure on one token does not stop the rest.
func (t *TokenStore) DeleteTokens(ctx context.Context, prefix, userID string) error {
	keys, err := t.store.Keys(ctx, prefix+"_*:"+userID)
	if err != nil {
		return err
	}
	var firstErr error
	for _, key := range keys {
		idx := strings.Index(key, ":")
		if idx < 0 {
			continue
		}
		if err := t.DeleteToken(ctx, key[:idx]); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// WaitTime reports the maximum remaining TTL among the given keys, broken
// into hours and minutes for human display.
func (t *TokenStore) WaitTime(ctx context.Context, keys []string) (Wait, error) {
	var max time.Duration
	for _, key := range keys {
		ttl, err := t.store.TTL(ctx, key)
		if err != nil {
			return Wait{}, err
		}
		if ttl > max {
			max = ttl
		}
	}
	seconds := int64(math.Ceil(max.Seconds()))
	return Wait{
		Seconds: seconds,
		Minutes: int(math.Ceil(math.Mod(float64(seconds)/60, 60))),
		Hours:   int(seconds / 3600),
	}, nil
}

// NewToken generates an opaque token: 32 random bytes, hex-encoded, with the
// family prefix.
func NewToken(prefix string) (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return prefix + "_" + hex.EncodeToString(buf), nil
}
