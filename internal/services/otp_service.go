package services

import (
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/healthchat-app/HealthChat/internal/core/clock"
	"github.com/healthchat-app/HealthChat/internal/models"
)

var ErrBadCode = errors.New("invalid or expired verification code")

// OTPService holds pending signups until their emailed code is verified.
// Pending entries are transient and single-process; they never touch the
// profile store.
type OTPService struct {
	mu      sync.Mutex
	pending map[string]*pendingSignup
	ttl     time.Duration
	clk     clock.Clock
}

type pendingSignup struct {
	profile models.Profile
	code    string
	expires time.Time
}

func NewOTPService(clk clock.Clock, ttl time.Duration) *OTPService {
	return &OTPService{
		pending: make(map[string]*pendingSignup),
		ttl:     ttl,
		clk:     clk,
	}
}

// Begin stages a signup and returns the 6-digit code to mail out.
// A repeated Begin for the same email replaces the earlier attempt.
func (s *OTPService) Begin(p *models.Profile) (string, error) {
	code, err := generateCode()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[p.Email] = &pendingSignup{
		profile: *p,
		code:    code,
		expires: s.clk.Now().Add(s.ttl),
	}
	return code, nil
}

// Resend issues a fresh code for a pending signup, restarting its TTL.
// Returns the new code and the pending account's full name.
func (s *OTPService) Resend(email string) (code, name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[email]
	if !ok {
		return "", "", ErrBadCode
	}
	code, err = generateCode()
	if err != nil {
		return "", "", err
	}
	entry.code = code
	entry.expires = s.clk.Now().Add(s.ttl)
	return code, entry.profile.FullName, nil
}

// Verify consumes a pending signup. The code is single-use: success
// removes the entry, and an expired entry is removed on sight.
func (s *OTPService) Verify(email, code string) (*models.Profile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pending[email]
	if !ok {
		return nil, ErrBadCode
	}
	if s.clk.Now().After(entry.expires) {
		delete(s.pending, email)
		return nil, ErrBadCode
	}
	if subtle.ConstantTimeCompare([]byte(entry.code), []byte(code)) != 1 {
		return nil, ErrBadCode
	}

	delete(s.pending, email)
	p := entry.profile
	return &p, nil
}

func generateCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", fmt.Errorf("generate otp: %w", err)
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
