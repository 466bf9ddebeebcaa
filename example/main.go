package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/tunaaoguzhann/token-access/core"
)

type printMailer struct{}

func (printMailer) Send(_ context.Context, email core.Email) error {
	fmt.Printf("  [mail] to=%s subject=%q link=%s\n", email.To, email.Subject, email.ActionLink)
	return nil
}

func main() {
	service, _, err := core.NewAuthServiceWithOptions(core.ServiceOptions{
		Users:         core.NewMemoryUserRepository(),
		Mailer:        printMailer{},
		JWTSecret:     "example-secret-12345",
		ServerURL:     "http://localhost:8080",
		PasswordReset: core.ActionPolicy{TTL: time.Hour, MaxConcurrent: 1},
	})
	if err != nil {
		log.Fatalf("Failed to create auth service: %v", err)
	}

	ctx := context.Background()

	result, err := service.Register(ctx, "Jane", "jane@example.com", "hunter2!")
	if err != nil {
		log.Fatalf("Failed to register: %v", err)
	}
	fmt.Printf("Registered and logged in:\n")
	fmt.Printf("  User ID: %s\n", result.User.ID)
	fmt.Printf("  Access Token: %.40s...\n", result.AccessToken)
	fmt.Printf("  Refresh Token: %.20s...\n\n", result.RefreshToken)

	rotated, err := service.Refresh(ctx, result.RefreshToken)
	if err != nil {
		log.Fatalf("Failed to refresh: %v", err)
	}
	fmt.Printf("Rotated refresh token: %.20s...\n", rotated.RefreshToken)

	if _, err := service.Refresh(ctx, result.RefreshToken); err != nil {
		fmt.Printf("As expected, the old refresh token is dead: %v\n\n", err)
	}

	if err := service.RequestPasswordReset(ctx, "jane@example.com"); err != nil {
		log.Fatalf("Failed to request password reset: %v", err)
	}

	// Second request inside the window trips the per-user throttle.
	if err := service.RequestPasswordReset(ctx, "jane@example.com"); err != nil {
		fmt.Printf("Second reset request throttled: %v\n", err)
	}

	// Unknown addresses succeed silently; the endpoint never reveals
	// whether an account exists.
	if err := service.RequestPasswordReset(ctx, "nobody@example.com"); err != nil {
		log.Fatalf("Masking broken: %v", err)
	}
	fmt.Printf("Reset request for unknown email reported success\n")
}
