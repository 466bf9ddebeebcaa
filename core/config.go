package core

import (
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// ServiceOptions builds a fully wired AuthService. An empty RedisAddr falls
// back to the in-memory store, which is what tests and the example use.
type ServiceOptions struct {
	RedisAddr      string
	RedisKeyPrefix string

	Users  UserRepository
	Mailer Mailer
	Logger *slog.Logger

	JWTSecret string
	ServerURL string

	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	MaxRefreshTokens int

	EmailVerification ActionPolicy
	PasswordReset     ActionPolicy
}

// NewAuthServiceWithOptions applies defaults and wires the store, token
// layer, and services. The returned Store is the one the service uses, so
// callers can subscribe to its expiry feed.
func NewAuthServiceWithOptions(opts ServiceOptions) (*AuthService, Store, error) {
	var store Store
	if opts.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr: opts.RedisAddr,
		})
		keyPrefix := opts.RedisKeyPrefix
		if keyPrefix == "" {
			keyPrefix = "auth:"
		}
		store = NewRedisStore(client, keyPrefix)
	} else {
		store = NewMemoryStore()
	}

	if opts.AccessTokenTTL == 0 {
		opts.AccessTokenTTL = time.Hour
	}
	if opts.RefreshTokenTTL == 0 {
		opts.RefreshTokenTTL = 7 * 24 * time.Hour
	}
	if opts.MaxRefreshTokens == 0 {
		opts.MaxRefreshTokens = 5
	}
	if opts.EmailVerification == (ActionPolicy{}) {
		opts.EmailVerification = ActionPolicy{TTL: 24 * time.Hour, MaxConcurrent: 5}
	}
	if opts.PasswordReset == (ActionPolicy{}) {
		opts.PasswordReset = ActionPolicy{TTL: 24 * time.Hour, MaxConcurrent: 5}
	}

	tokens := NewTokenStore(store)
	service, err := NewAuthService(AuthConfig{
		Users:             opts.Users,
		Tokens:            tokens,
		Signer:            NewAccessSigner(opts.JWTSecret),
		Mailer:            opts.Mailer,
		Logger:            opts.Logger,
		ServerURL:         opts.ServerURL,
		AccessTokenTTL:    opts.AccessTokenTTL,
		RefreshTokenTTL:   opts.RefreshTokenTTL,
		MaxRefreshTokens:  opts.MaxRefreshTokens,
		EmailVerification: opts.EmailVerification,
		PasswordReset:     opts.PasswordReset,
	})
	if err != nil {
		return nil, nil, err
	}
	return service, store, nil
}
