package services

import (
	"errors"
	"testing"
	"time"

	"github.com/healthchat-app/HealthChat/internal/core/clock"
	"github.com/healthchat-app/HealthChat/internal/models"
)

func TestOTPVerifyHappyPath(t *testing.T) {
	clk := clock.NewManaged(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := NewOTPService(clk, 10*time.Minute)

	code, err := svc.Begin(&models.Profile{Email: "jane@example.com", FullName: "Jane Smith"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if len(code) != 6 {
		t.Fatalf("code = %q, want six digits", code)
	}

	p, err := svc.Verify("jane@example.com", code)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if p.FullName != "Jane Smith" {
		t.Errorf("profile name = %q", p.FullName)
	}

	// Codes are single use.
	if _, err := svc.Verify("jane@example.com", code); !errors.Is(err, ErrBadCode) {
		t.Errorf("second verify err = %v, want ErrBadCode", err)
	}
}

func TestOTPExpiry(t *testing.T) {
	clk := clock.NewManaged(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := NewOTPService(clk, 10*time.Minute)

	code, err := svc.Begin(&models.Profile{Email: "jane@example.com"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	clk.WarpForward(11 * time.Minute)
	if _, err := svc.Verify("jane@example.com", code); !errors.Is(err, ErrBadCode) {
		t.Errorf("expired verify err = %v, want ErrBadCode", err)
	}
}

func TestOTPWrongCodeAndUnknownEmail(t *testing.T) {
	clk := clock.NewManaged(time.Now())
	svc := NewOTPService(clk, 10*time.Minute)

	if _, err := svc.Begin(&models.Profile{Email: "jane@example.com"}); err != nil {
		t.Fatalf("Begin: %v", err)
	}

	if _, err := svc.Verify("jane@example.com", "000000"); !errors.Is(err, ErrBadCode) {
		t.Errorf("wrong code err = %v, want ErrBadCode", err)
	}
	if _, err := svc.Verify("nobody@example.com", "123456"); !errors.Is(err, ErrBadCode) {
		t.Errorf("unknown email err = %v, want ErrBadCode", err)
	}
}

func TestOTPResendRestartsTTL(t *testing.T) {
	clk := clock.NewManaged(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	svc := NewOTPService(clk, 10*time.Minute)

	first, err := svc.Begin(&models.Profile{Email: "jane@example.com", FullName: "Jane Smith"})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}

	clk.WarpForward(9 * time.Minute)
	code, name, err := svc.Resend("jane@example.com")
	if err != nil {
		t.Fatalf("Resend: %v", err)
	}
	if name != "Jane Smith" {
		t.Errorf("name = %q", name)
	}

	// The replaced code no longer verifies, the fresh one survives past the
	// original deadline.
	if first == code {
		t.Logf("resend produced the same code; continuing with it")
	} else if _, err := svc.Verify("jane@example.com", first); !errors.Is(err, ErrBadCode) {
		t.Errorf("old code err = %v, want ErrBadCode", err)
	}

	clk.WarpForward(5 * time.Minute)
	if _, err := svc.Verify("jane@example.com", code); err != nil {
		t.Errorf("fresh code rejected: %v", err)
	}
}

func TestOTPResendUnknownEmail(t *testing.T) {
	svc := NewOTPService(clock.NewManaged(time.Now()), 10*time.Minute)
	if _, _, err := svc.Resend("nobody@example.com"); !errors.Is(err, ErrBadCode) {
		t.Errorf("err = %v, want ErrBadCode", err)
	}
}
