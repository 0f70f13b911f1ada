// Copyright 2025 Oliver Andrich
// Licensed under the EUPL-1.2

// Package email sends transactional mail over SMTP.
package email

import (
	"context"
	"fmt"
	"time"

	"codeberg.org/oliverandrich/taxijobs/internal/config"
	"codeberg.org/oliverandrich/taxijobs/internal/i18n"
	"github.com/wneessen/go-mail"
)

const sendTimeout = 30 * time.Second

// Service sends mail through the configured SMTP server.
type Service struct {
	cfg *config.SMTPConfig
}

// NewService creates a new email service.
func NewService(cfg *config.SMTPConfig) (*Service, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if cfg.From == "" {
		return nil, fmt.Errorf("SMTP from address is required")
	}

	return &Service{cfg: cfg}, nil
}

// SendPasswordReset mails a password recovery link in the locale of ctx.
func (s *Service) SendPasswordReset(ctx context.Context, to, link string) error {
	msg, err := s.newMessage(to,
		i18n.T(ctx, "email_reset_subject"),
		i18n.TData(ctx, "email_reset_body", map[string]any{"Link": link}),
	)
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

// SendSignupConfirmation mails the confirmation link of a new account in the
// locale of ctx.
func (s *Service) SendSignupConfirmation(ctx context.Context, to, link string) error {
	msg, err := s.newMessage(to,
		i18n.T(ctx, "email_signup_subject"),
		i18n.TData(ctx, "email_signup_body", map[string]any{"Link": link}),
	)
	if err != nil {
		return err
	}
	return s.send(ctx, msg)
}

func (s *Service) newMessage(to, subject, body string) (*mail.Msg, error) {
	msg := mail.NewMsg()

	if s.cfg.FromName != "" {
		if err := msg.FromFormat(s.cfg.FromName, s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	} else {
		if err := msg.From(s.cfg.From); err != nil {
			return nil, fmt.Errorf("setting from address: %w", err)
		}
	}

	if err := msg.To(to); err != nil {
		return nil, fmt.Errorf("setting to address: %w", err)
	}

	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)
	return msg, nil
}

func (s *Service) clientOptions() []mail.Option {
	opts := []mail.Option{
		mail.WithPort(s.cfg.Port),
		mail.WithTimeout(sendTimeout),
	}

	// Implicit TLS on 465, STARTTLS elsewhere
	if s.cfg.TLS {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
		if s.cfg.Port == 465 {
			opts = append(opts, mail.WithSSL())
		}
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}

	if s.cfg.Username != "" && s.cfg.Password != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(s.cfg.Username),
			mail.WithPassword(s.cfg.Password),
		)
	}
	return opts
}

// send delivers msg via SMTP using go-mail.
func (s *Service) send(ctx context.Context, msg *mail.Msg) error {
	client, err := mail.NewClient(s.cfg.Host, s.clientOptions()...)
	if err != nil {
		return fmt.Errorf("creating mail client: %w", err)
	}

	if err := client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("sending email: %w", err)
	}
	return nil
}
