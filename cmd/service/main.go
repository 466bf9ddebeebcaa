package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"

	"github.com/tunaaoguzhann/token-access/core"
)

type contextKey string

const userKey contextKey = "user"

func main() {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	users := core.NewMemoryUserRepository()
	service, store, err := core.NewAuthServiceWithOptions(core.ServiceOptions{
		RedisAddr:        cfg.RedisAddr,
		Users:            users,
		Mailer:           &logMailer{logger: logger},
		Logger:           logger,
		JWTSecret:        cfg.JWTSecret,
		ServerURL:        cfg.ServerURL,
		AccessTokenTTL:   cfg.AccessTokenTTL,
		RefreshTokenTTL:  cfg.RefreshTokenTTL,
		MaxRefreshTokens: cfg.MaxRefreshTokens,
		EmailVerification: core.ActionPolicy{
			TTL:           cfg.EmailVerificationTTL,
			MaxConcurrent: cfg.MaxVerificationRequests,
		},
		PasswordReset: core.ActionPolicy{
			TTL:           cfg.PasswordResetTTL,
			MaxConcurrent: cfg.MaxResetRequests,
		},
	})
	if err != nil {
		logger.Error("init auth service", "err", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := store.Ping(ctx); err != nil {
		logger.Error("store ping failed", "err", err)
		os.Exit(1)
	}

	// Expired-key audit feed; purely diagnostic.
	if notifier, ok := store.(core.ExpiryNotifier); ok {
		if err := notifier.NotifyExpired(ctx, func(key string) {
			logger.Debug("token expired", "key", key)
		}); err != nil {
			logger.Warn("expiry notifications unavailable", "err", err)
		}
	}

	r := chi.NewRouter()
	r.Use(requestLogger(logger))

	r.Route("/auth", func(auth chi.Router) {
		auth.Post("/register", handleRegister(service))
		auth.Post("/login", handleLogin(service))
		auth.Post("/refresh", handleRefresh(service))
		auth.Post("/logout", handleLogout(service))
		auth.Post("/request-verification", handleRequestVerification(service))
		auth.Get("/verify-email", handleVerifyEmail(service))
		auth.Post("/forgot-password", handleForgotPassword(service))
		auth.Get("/password-reset", handleCheckPasswordReset(service))
		auth.Post("/password-reset", handleCompletePasswordReset(service))

		auth.Group(func(private chi.Router) {
			private.Use(requireAuth(service))
			private.Get("/me", handleMe())
			private.Post("/change-password", handleChangePassword(service))
			private.Post("/delete-account", handleDeleteAccount(service))
		})
	})

	addr := ":" + strconv.Itoa(cfg.Port)
	logger.Info("listening", "addr", addr, "redis", cfg.RedisAddr != "")
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("server error", "err", err)
		os.Exit(1)
	}
}

type loginResponse struct {
	core.TokenPair
	User *core.User `json:"user"`
}

func handleRegister(service *core.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name     string `json:"name"`
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		result, err := service.Register(r.Context(), req.Name, req.Email, req.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, loginResponse{TokenPair: result.TokenPair, User: result.User})
	}
}

func handleLogin(service *core.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email    string `json:"email"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		result, err := service.Login(r.Context(), req.Email, req.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, loginResponse{TokenPair: result.TokenPair, User: result.User})
	}
}

func handleRefresh(service *core.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		result, err := service.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result.TokenPair)
	}
}

func handleLogout(service *core.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := service.Logout(r.Context(), req.RefreshToken); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleMe() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := r.Context().Value(userKey).(*core.User)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, http.StatusOK, user)
	}
}

func handleChangePassword(service *core.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := r.Context().Value(userKey).(*core.User)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req struct {
			CurrentPassword string `json:"current_password"`
			NewPassword     string `json:"new_password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NewPassword == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		result, err := service.ChangePassword(r.Context(), user.ID, req.CurrentPassword, req.NewPassword)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, result.TokenPair)
	}
}

func handleDeleteAccount(service *core.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user, ok := r.Context().Value(userKey).(*core.User)
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		var req struct {
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		deleted, err := service.DeleteAccount(r.Context(), user.ID, req.Password)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
	}
}

func handleRequestVerification(service *core.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := service.RequestEmailVerification(r.Context(), req.Email); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleVerifyEmail(service *core.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusBadRequest)
			return
		}
		if err := service.VerifyEmail(r.Context(), token); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleForgotPassword(service *core.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := service.RequestPasswordReset(r.Context(), req.Email); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleCheckPasswordReset(service *core.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token := r.URL.Query().Get("token")
		if token == "" {
			http.Error(w, "missing token", http.StatusBadRequest)
			return
		}
		if err := service.CheckPasswordReset(r.Context(), token); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func handleCompletePasswordReset(service *core.AuthService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Token    string `json:"token"`
			Password string `json:"password"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" || req.Password == "" {
			http.Error(w, "invalid request", http.StatusBadRequest)
			return
		}
		if err := service.CompletePasswordReset(r.Context(), req.Token, req.Password); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// --- middleware & helpers ---

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			next.ServeHTTP(w, r)
			logger.Info("request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
		})
	}
}

func requireAuth(service *core.AuthService) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(strings.ToLower(auth), "bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			raw := strings.TrimSpace(auth[7:])
			user, err := service.ValidateAccess(r.Context(), raw)
			if err != nil {
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			ctx := context.WithValue(r.Context(), userKey, user)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func writeError(w http.ResponseWriter, err error) {
	var rateErr *core.RateLimitError
	switch {
	case errors.As(err, &rateErr):
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"error":        rateErr.Error(),
			"wait_seconds": rateErr.Wait.Seconds,
		})
	case errors.Is(err, core.ErrInvalidCredentials),
		errors.Is(err, core.ErrInvalidRefreshToken),
		errors.Is(err, core.ErrTooManyLogins),
		errors.Is(err, core.ErrUnauthorized):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, core.ErrInvalidToken), errors.Is(err, core.ErrEmailTaken):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// logMailer stands in for the delivery collaborator: the core produces the
// recipient and the action link, and transport happens elsewhere.
type logMailer struct {
	logger *slog.Logger
}

func (m *logMailer) Send(_ context.Context, email core.Email) error {
	m.logger.Info("email queued", "to", email.To, "subject", email.Subject, "link", email.ActionLink)
	return nil
}

// --- config ---

type config struct {
	Port      int    `env:"PORT" envDefault:"8080"`
	RedisAddr string `env:"REDIS_ADDR"`
	JWTSecret string `env:"JWT_SECRET" envDefault:"dev-jwt-secret-change-me"`
	ServerURL string `env:"SERVER_URL" envDefault:"http://localhost:8080"`

	AccessTokenTTL   time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"1h"`
	RefreshTokenTTL  time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"168h"`
	MaxRefreshTokens int           `env:"MAX_REFRESH_TOKENS" envDefault:"5"`

	EmailVerificationTTL    time.Duration `env:"EMAIL_VERIFICATION_TOKEN_TTL" envDefault:"24h"`
	MaxVerificationRequests int           `env:"MAX_CONCURRENT_EMAIL_VERIFICATION_REQUESTS" envDefault:"5"`
	PasswordResetTTL        time.Duration `env:"PASSWORD_RESET_TOKEN_TTL" envDefault:"24h"`
	MaxResetRequests        int           `env:"MAX_CONCURRENT_PASSWORD_RESET_REQUESTS" envDefault:"5"`
}

func loadConfig() (config, error) {
	var cfg config
	if err := env.Parse(&cfg); err != nil {
		return config{}, err
	}
	return cfg, nil
}
