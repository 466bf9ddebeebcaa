package core

import (
	"errors"
	"fmt"
)

const (
	// Token family prefixes. The prefix is part of the stored key, so a token
	// presented under the wrong family never resolves.
	PrefixRefresh           = "rt"
	PrefixEmailVerification = "ve"
	PrefixPasswordReset     = "pr"
)

var (
	ErrKeyNotFound         = errors.New("key not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidToken        = errors.New("invalid or expired token")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrTooManyLogins       = errors.New("too many logins, try again later, reset your password, or logout from other devices")
	ErrEmailTaken          = errors.New("user with this email already exists")
	ErrUserNotFound        = errors.New("user not found")
)

// Wait describes how long a throttled caller has to wait until the
// longest-lived token of the window expires.
type Wait struct {
	Seconds int64
	Minutes int
	Hours   int
}

// RateLimitError is returned when a user already holds too many live tokens
// of one family. The message carries a human wait estimate, never the keys.
type RateLimitError struct {
	Wait Wait
}

func (e *RateLimitError) Error() string {
	if e.Wait.Hours == 0 {
		return fmt.Sprintf("too many requests, try again in %d minutes", e.Wait.Minutes)
	}
	if e.Wait.Hours == 1 {
		return fmt.Sprintf("too many requests, try again in an hour and %d minutes", e.Wait.Minutes)
	}
	return fmt.Sprintf("too many requests, try again in %d hours and %d minutes", e.Wait.Hours, e.Wait.Minutes)
}

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}
