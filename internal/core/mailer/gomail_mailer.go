package mailer

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"
	"gopkg.in/gomail.v2"

	"github.com/healthchat-app/HealthChat/internal/config"
	"github.com/healthchat-app/HealthChat/internal/core"
)

const otpSubject = "Your HealthChat Verification Code"

const otpBody = `Hello %s,

Thank you for registering with HealthChat. Please use the following 6-digit code to verify your email address:

    %s

This code is valid for a single use. Do not share this code with anyone.

HealthChat`

// broadcastConcurrency bounds parallel SMTP connections during a broadcast.
const broadcastConcurrency = 4

type SMTPMailer struct {
	host     string
	port     int
	from     string
	password string
}

func NewSMTPMailer(cfg *config.Config) (*SMTPMailer, error) {
	if cfg.SMTPHost == "" || cfg.SMTPEmail == "" || cfg.SMTPPassword == "" {
		return nil, fmt.Errorf("SMTP credentials not set")
	}
	return &SMTPMailer{
		host:     cfg.SMTPHost,
		port:     cfg.SMTPPort,
		from:     cfg.SMTPEmail,
		password: cfg.SMTPPassword,
	}, nil
}

func (m *SMTPMailer) dialer() *gomail.Dialer {
	return gomail.NewDialer(m.host, m.port, m.from, m.password)
}

// SendOTP mails a verification code to one recipient.
func (m *SMTPMailer) SendOTP(ctx context.Context, to, name, code string) error {
	if name == "" {
		name = "there"
	}
	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.from, "HealthChat")
	msg.SetHeader("To", to)
	msg.SetHeader("Subject", otpSubject)
	msg.SetBody("text/plain", fmt.Sprintf(otpBody, name, code))

	if err := m.dialer().DialAndSend(msg); err != nil {
		return fmt.Errorf("send otp mail: %w", err)
	}
	return nil
}

// Broadcast sends one message per recipient with bounded concurrency, so
// no recipient ever sees another's address. Individual failures are
// logged and collapsed into a single error.
func (m *SMTPMailer) Broadcast(ctx context.Context, recipients []string, subject, body string) error {
	if len(recipients) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(broadcastConcurrency)

	for _, to := range recipients {
		to := to
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			msg := gomail.NewMessage()
			msg.SetAddressHeader("From", m.from, "HealthChat Admin")
			msg.SetHeader("To", to)
			msg.SetHeader("Subject", subject)
			msg.SetBody("text/plain", body)

			if err := m.dialer().DialAndSend(msg); err != nil {
				log.Printf("broadcast to %s failed: %v", to, err)
				return fmt.Errorf("broadcast to %s: %w", to, err)
			}
			return nil
		})
	}
	return g.Wait()
}

var _ core.Mailer = (*SMTPMailer)(nil)
