package digest

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/resend/resend-go/v2"
)

// Email is one outgoing message.
type Email struct {
	From    string
	To      string
	Subject string
	HTML    string
}

// Mailer delivers an email and returns the provider message id.
type Mailer interface {
	Send(ctx context.Context, email Email) (string, error)
}

// ResendConfig configures the Resend mailer. BaseURL overrides the API
// endpoint.
type ResendConfig struct {
	APIKey  string
	BaseURL string
}

// ResendMailer sends through the Resend HTTP API.
type ResendMailer struct {
	client *resend.Client
}

// NewResendMailer builds a mailer. An empty key is an error so callers can
// leave the mailer unset instead.
func NewResendMailer(cfg ResendConfig) (*ResendMailer, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMailerNotConfigured
	}
	client := resend.NewClient(cfg.APIKey)
	if cfg.BaseURL != "" {
		base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse resend base url: %w", err)
		}
		client.BaseURL = base
	}
	return &ResendMailer{client: client}, nil
}

// Send implements Mailer.
func (m *ResendMailer) Send(ctx context.Context, email Email) (string, error) {
	if email.To == "" {
		return "", ErrNoRecipient
	}
	sent, err := m.client.Emails.SendWithContext(ctx, &resend.SendEmailRequest{
		From:    email.From,
		To:      []string{email.To},
		Subject: email.Subject,
		Html:    email.HTML,
	})
	if err != nil {
		return "", fmt.Errorf("resend: %w", err)
	}
	if sent == nil || sent.Id == "" {
		return "", errors.New("resend: empty message id")
	}
	return sent.Id, nil
}
