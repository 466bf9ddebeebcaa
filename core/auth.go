package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// AuthConfig wires an AuthService. Users, Tokens, and Signer are required;
// Actions defaults to a service over the same token store.
type AuthConfig struct {
	Users   UserRepository
	Tokens  *TokenStore
	Actions *ActionTokenService
	Signer  *AccessSigner
	Mailer  Mailer
	Logger  *slog.Logger

	// ServerURL is the public base URL used to build action links.
	ServerURL string

	AccessTokenTTL   time.Duration
	RefreshTokenTTL  time.Duration
	MaxRefreshTokens int

	EmailVerification ActionPolicy
	PasswordReset     ActionPolicy
}

// AuthService owns the session credential lifecycle: issuing, rotating, and
// revoking access/refresh token pairs, plus the email-verification and
// password-reset flows built on single-use action tokens.
type AuthService struct {
	users   UserRepository
	tokens  *TokenStore
	actions *ActionTokenService
	signer  *AccessSigner
	mailer  Mailer
	logger  *slog.Logger

	serverURL        string
	accessTTL        time.Duration
	refreshTTL       time.Duration
	maxRefreshTokens int

	emailVerification ActionPolicy
	passwordReset     ActionPolicy
}

func NewAuthService(cfg AuthConfig) (*AuthService, error) {
	if cfg.Users == nil {
		return nil, fmt.Errorf("user repository is required")
	}
	if cfg.Tokens == nil {
		return nil, fmt.Errorf("token store is required")
	}
	if cfg.Signer == nil {
		return nil, fmt.Errorf("access signer is required")
	}
	actions := cfg.Actions
	if actions == nil {
		actions = NewActionTokenService(cfg.Tokens)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthService{
		users:             cfg.Users,
		tokens:            cfg.Tokens,
		actions:           actions,
		signer:            cfg.Signer,
		mailer:            cfg.Mailer,
		logger:            logger,
		serverURL:         cfg.ServerURL,
		accessTTL:         cfg.AccessTokenTTL,
		refreshTTL:        cfg.RefreshTokenTTL,
		maxRefreshTokens:  cfg.MaxRefreshTokens,
		emailVerification: cfg.EmailVerification,
		passwordReset:     cfg.PasswordReset,
	}, nil
}

// LoginResult is a fresh token pair together with the decoded access claims
// and the authenticated user.
type LoginResult struct {
	TokenPair
	Claims *AccessClaims
	User   *User
}

// Actions exposes the action-token service sharing this service's store.
func (s *AuthService) Actions() *ActionTokenService { return s.actions }

// Login verifies credentials and issues a token pair. Unknown email and
// wrong password return the same ErrInvalidCredentials so callers cannot
// probe which accounts exist. Users at the concurrent-session cap get
// ErrTooManyLogins instead of a new pair.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !s.comparePassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}

	keys, err := s.tokens.Keys(ctx, PrefixRefresh+"_*:"+user.ID)
	if err != nil {
		return nil, fmt.Errorf("count refresh tokens: %w", err)
	}
	if s.maxRefreshTokens > 0 && len(keys) > s.maxRefreshTokens {
		return nil, ErrTooManyLogins
	}

	return s.createAuthTokens(ctx, user)
}

// Register creates a new account and logs it in.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*LoginResult, error) {
	if _, err := s.users.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("find user: %w", err)
	}

	hash, err := s.hashPassword(password)
	if err != nil {
		return nil, err
	}
	user := &User{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return s.createAuthTokens(ctx, user)
}

// Refresh rotates a refresh token: the presented token is deleted before the
// new pair exists, so it can never be replayed. A crash between the two store
// writes loses the session; the user logs in again.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*LoginResult, error) {
	if !strings.HasPrefix(refreshToken, PrefixRefresh+"_") {
		return nil, ErrInvalidRefreshToken
	}
	userID, err := s.tokens.Get(ctx, refreshToken)
	if errors.Is(err, ErrKeyNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("look up refresh token: %w", err)
	}
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrInvalidRefreshToken
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}

	if err := s.tokens.DeleteToken(ctx, refreshToken); err != nil {
		return nil, fmt.Errorf("rotate refresh token: %w", err)
	}
	return s.createAuthTokens(ctx, user)
}

// Logout revokes exactly the presented refresh token. A token that is already
// gone is not an error.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) error {
	return s.tokens.DeleteToken(ctx, refreshToken)
}

// ChangePassword verifies the current password, stores the new hash, revokes
// every refresh token the user holds (log out everywhere), and issues a fresh
// pair so the caller's own session survives.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) (*LoginResult, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if !s.comparePassword(user.PasswordHash, currentPassword) {
		return nil, ErrUnauthorized
	}

	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return nil, fmt.Errorf("update user: %w", err)
	}

	if err := s.tokens.DeleteTokens(ctx, PrefixRefresh, user.ID); err != nil {
		return nil, fmt.Errorf("revoke refresh tokens: %w", err)
	}

	s.sendEmail(ctx, Email{
		To:      user.Email,
		Subject: "Notification: Your password was recently changed",
	})
	return s.createAuthTokens(ctx, user)
}

// DeleteAccount verifies the password and, on match, revokes every token of
// every family and deletes the user record. Returns whether deletion
// occurred; a wrong password is reported as false, not as an error.
func (s *AuthService) DeleteAccount(ctx context.Context, userID, password string) (bool, error) {
	user, err := s.users.FindByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("find user: %w", err)
	}
	if !s.comparePassword(user.PasswordHash, password) {
		return false, nil
	}

	if err := s.tokens.DeleteTokens(ctx, "*", user.ID); err != nil {
		return false, fmt.Errorf("revoke tokens: %w", err)
	}
	if err := s.users.Delete(ctx, user.ID); err != nil {
		return false, fmt.Errorf("delete user: %w", err)
	}
	return true, nil
}

// ValidateAccess verifies an access token and returns the live user behind
// it. Inactive or deleted users are rejected even with a valid signature.
func (s *AuthService) ValidateAccess(ctx context.Context, accessToken string) (*User, error) {
	claims, err := s.signer.Parse(accessToken)
	if err != nil {
		return nil, ErrUnauthorized
	}
	user, err := s.users.FindByID(ctx, claims.Subject)
	if errors.Is(err, ErrUserNotFound) {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, fmt.Errorf("find user: %w", err)
	}
	if user.Email != claims.Email || !user.IsActive {
		return nil, ErrUnauthorized
	}
	return user, nil
}

// RequestEmailVerification issues a verification token and hands the action
// link to the mailer. An unknown email succeeds silently so the endpoint
// never reveals whether an account exists.
func (s *AuthService) RequestEmailVerification(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}

	token, err := s.actions.Issue(ctx, PrefixEmailVerification, user.ID, s.emailVerification)
	if err != nil {
		return err
	}
	return s.mail(ctx, Email{
		To:         user.Email,
		Subject:    "E-Mail Verification",
		ActionLink: s.serverURL + "/auth/verify-email?token=" + token,
	})
}

// VerifyEmail consumes a verification token and marks the account verified.
func (s *AuthService) VerifyEmail(ctx context.Context, token string) error {
	userID, err := s.actions.Consume(ctx, PrefixEmailVerification, token)
	if err != nil {
		return err
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	user.IsEmailVerified = true
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

// RequestPasswordReset issues a reset token with the same existence masking
// as RequestEmailVerification.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	user, err := s.users.FindByEmail(ctx, email)
	if errors.Is(err, ErrUserNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}

	token, err := s.actions.Issue(ctx, PrefixPasswordReset, user.ID, s.passwordReset)
	if err != nil {
		return err
	}
	return s.mail(ctx, Email{
		To:         user.Email,
		Subject:    "Password Reset",
		ActionLink: s.serverURL + "/auth/password-reset?token=" + token,
	})
}

// CheckPasswordReset validates a reset token without consuming it, so the
// reset form can be rendered before the user submits a new password.
func (s *AuthService) CheckPasswordReset(ctx context.Context, token string) error {
	_, err := s.actions.Check(ctx, PrefixPasswordReset, token)
	return err
}

// CompletePasswordReset consumes a reset token and stores the new password
// hash. The token is spent before the hash is written, so it stays single-use
// even when the write fails.
func (s *AuthService) CompletePasswordReset(ctx context.Context, token, newPassword string) error {
	userID, err := s.actions.Consume(ctx, PrefixPasswordReset, token)
	if err != nil {
		return err
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}
	hash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	if err := s.users.Update(ctx, user); err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	return nil
}

func (s *AuthService) createAuthTokens(ctx context.Context, user *User) (*LoginResult, error) {
	access, claims, err := s.signer.Sign(user, s.accessTTL)
	if err != nil {
		return nil, err
	}
	refresh, err := NewToken(PrefixRefresh)
	if err != nil {
		return nil, err
	}
	if err := s.tokens.SaveToken(ctx, refresh, user.ID, s.refreshTTL); err != nil {
		return nil, err
	}
	return &LoginResult{
		TokenPair: TokenPair{AccessToken: access, RefreshToken: refresh},
		Claims:    claims,
		User:      user,
	}, nil
}

// mail delivers a required account email; failures surface to the caller.
func (s *AuthService) mail(ctx context.Context, email Email) error {
	if s.mailer == nil {
		return fmt.Errorf("no mailer configured")
	}
	if err := s.mailer.Send(ctx, email); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	return nil
}

// sendEmail delivers a courtesy notification. Delivery problems are logged,
// not propagated, so they cannot fail the operation that triggered them.
func (s *AuthService) sendEmail(ctx context.Context, email Email) {
	if s.mailer == nil {
		return
	}
	if err := s.mailer.Send(ctx, email); err != nil {
		s.logger.WarnContext(ctx, "notification email failed", "to", email.To, "err", err)
	}
}

func (s *AuthService) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

func (s *AuthService) comparePassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}
