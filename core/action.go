package core

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// ActionTokenService issues and consumes single-use tokens for out-of-band
// account actions (email verification, password reset). Each family is
// throttled per user by counting its live companion keys; the count-then-save
// check is best effort, not linearizable, since two concurrent issuers can
// both pass the count before either writes.
type ActionTokenService struct {
	store *TokenStore
}

func NewActionTokenService(store *TokenStore) *ActionTokenService {
	return &ActionTokenService{store: store}
}

// ActionPolicy sets the lifetime and per-user concurrency cap of one token
// family.
type ActionPolicy struct {
	TTL           time.Duration
	MaxConcurrent int
}

// Issue creates a new token of the given family for userID, or returns a
// *RateLimitError when the user already holds MaxConcurrent live tokens.
func (s *ActionTokenService) Issue(ctx context.Context, prefix, userID string, policy ActionPolicy) (string, error) {
	keys, err := s.store.Keys(ctx, prefix+"_*:"+userID)
	if err != nil {
		return "", fmt.Errorf("count %s tokens: %w", prefix, err)
	}
	if policy.MaxConcurrent > 0 && len(keys) >= policy.MaxConcurrent {
		wait, err := s.store.WaitTime(ctx, keys)
		if err != nil {
			return "", fmt.Errorf("compute wait time: %w", err)
		}
		return "", &RateLimitError{Wait: wait}
	}

	token, err := NewToken(prefix)
	if err != nil {
		return "", err
	}
	if err := s.store.SaveToken(ctx, token, userID, policy.TTL); err != nil {
		return "", err
	}
	return token, nil
}

// Consume validates a token of the given family and returns the owning user
// ID. On success every live token of that family for that user is deleted:
// the action is complete, so the consumed token cannot replay and any other
// outstanding request of the same kind is void.
func (s *ActionTokenService) Consume(ctx context.Context, prefix, token string) (string, error) {
	userID, err := s.Check(ctx, prefix, token)
	if err != nil {
		return "", err
	}
	if err := s.store.DeleteTokens(ctx, prefix, userID); err != nil {
		return "", fmt.Errorf("revoke %s tokens: %w", prefix, err)
	}
	return userID, nil
}

// Check validates a token without consuming it. Used to render the reset
// form before the user submits a new password.
func (s *ActionTokenService) Check(ctx context.Context, prefix, token string) (string, error) {
	if !strings.HasPrefix(token, prefix+"_") {
		return "", ErrInvalidToken
	}
	userID, err := s.store.Get(ctx, token)
	if err != nil {
		return "", ErrInvalidToken
	}
	return userID, nil
}
