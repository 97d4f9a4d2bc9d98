// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Commons Contributors

// Package mail delivers verification codes and password reset links.
package mail

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/samber/oops"
	"gopkg.in/gomail.v2"

	"github.com/commonsforum/commons/internal/auth"
)

// SMTPConfig configures the SMTP relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Message is a rendered plain-text email.
type Message struct {
	To      string
	Subject string
	Body    string
}

// Composer renders the auth emails.
type Composer struct {
	baseURL string
}

// NewComposer creates a Composer whose links point at baseURL.
func NewComposer(baseURL string) (*Composer, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, oops.Code("MAIL_BASE_URL_INVALID").With("base_url", baseURL).Errorf("base url must be absolute")
	}
	return &Composer{baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Verification renders the email carrying a verification code.
func (c *Composer) Verification(email, code string) Message {
	return Message{
		To:      email,
		Subject: "Verify your email address",
		Body: fmt.Sprintf("Your verification code is %s.\n\n"+
			"It expires in %s. If you did not create an account, ignore this email.\n",
			code, minutes(auth.VerificationTokenTTL)),
	}
}

// PasswordReset renders the email carrying a reset link.
func (c *Composer) PasswordReset(email, token string) Message {
	return Message{
		To:      email,
		Subject: "Reset your password",
		Body: fmt.Sprintf("Use the link below to choose a new password:\n\n%s\n\n"+
			"The link expires in %s. If you did not ask for a reset, ignore this email.\n",
			c.ResetLink(email, token), minutes(auth.ResetTokenTTL)),
	}
}

func minutes(d time.Duration) string {
	return fmt.Sprintf("%d minutes", int(d.Minutes()))
}

// ResetLink returns <base>/reset-password?token=…&email=….
func (c *Composer) ResetLink(email, token string) string {
	return c.baseURL + "/reset-password?token=" + url.QueryEscape(token) + "&email=" + url.QueryEscape(email)
}

// sender is the part of *gomail.Dialer the mailer uses.
type sender interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPMailer sends auth emails through an SMTP relay.
type SMTPMailer struct {
	from     string
	composer *Composer
	dialer   sender
}

// NewSMTPMailer creates a mailer that dials the relay once per message.
func NewSMTPMailer(cfg SMTPConfig, composer *Composer) (*SMTPMailer, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("smtp host and from address are required")
	}
	if composer == nil {
		return nil, oops.Code("MAIL_CONFIG_INVALID").Errorf("composer is required")
	}
	return &SMTPMailer{
		from:     cfg.From,
		composer: composer,
		dialer:   gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
	}, nil
}

// SendVerificationEmail implements auth.Mailer.
func (m *SMTPMailer) SendVerificationEmail(ctx context.Context, email, code string) error {
	return m.send(ctx, "verification", m.composer.Verification(email, code))
}

// SendPasswordResetEmail implements auth.Mailer.
func (m *SMTPMailer) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	return m.send(ctx, "password_reset", m.composer.PasswordReset(email, token))
}

func (m *SMTPMailer) send(ctx context.Context, kind string, msg Message) error {
	if err := ctx.Err(); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("kind", kind).Wrap(err)
	}

	gm := gomail.NewMessage()
	gm.SetHeader("From", m.from)
	gm.SetHeader("To", msg.To)
	gm.SetHeader("Subject", msg.Subject)
	gm.SetBody("text/plain", msg.Body)

	if err := m.dialer.DialAndSend(gm); err != nil {
		return oops.Code("MAIL_SEND_FAILED").With("kind", kind).Wrap(err)
	}
	return nil
}

// LogMailer writes auth emails to the log instead of sending them. It is
// selected when no SMTP relay is configured.
type LogMailer struct {
	composer *Composer
	logger   *slog.Logger
}

// NewLogMailer creates a LogMailer.
func NewLogMailer(composer *Composer, logger *slog.Logger) *LogMailer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogMailer{composer: composer, logger: logger}
}

// SendVerificationEmail implements auth.Mailer.
func (m *LogMailer) SendVerificationEmail(ctx context.Context, email, code string) error {
	m.log(ctx, m.composer.Verification(email, code))
	return nil
}

// SendPasswordResetEmail implements auth.Mailer.
func (m *LogMailer) SendPasswordResetEmail(ctx context.Context, email, token string) error {
	m.log(ctx, m.composer.PasswordReset(email, token))
	return nil
}

func (m *LogMailer) log(ctx context.Context, msg Message) {
	m.logger.InfoContext(ctx, "outbound email not sent: smtp disabled",
		"to", msg.To,
		"subject", msg.Subject,
		"body", msg.Body,
	)
}

var (
	_ auth.Mailer = (*SMTPMailer)(nil)
	_ auth.Mailer = (*LogMailer)(nil)
)
