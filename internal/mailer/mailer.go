// Package mailer delivers user-facing messages outside the application,
// either through an HTTP mail relay or, when none is configured, to the log.
package mailer

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/mrlokans/librarian/internal/config"
)

type Message struct {
	UserID  uint   `json:"user_id"`
	To      string `json:"to,omitempty"`
	Kind    string `json:"kind"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// New returns a webhook mailer when a relay URL is configured and a log
// mailer otherwise.
func New(cfg config.Mail) Mailer {
	if cfg.WebhookURL == "" {
		return LogMailer{}
	}
	return NewWebhookMailer(cfg.WebhookURL, cfg.Timeout, 2)
}

// LogMailer writes messages to the application log.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, msg Message) error {
	log.Printf("Mail: kind=%s user=%d to=%q subject=%q", msg.Kind, msg.UserID, msg.To, msg.Subject)
	return nil
}

// WebhookMailer posts each message as JSON to a mail relay.
type WebhookMailer struct {
	client *resty.Client
	url    string
}

func NewWebhookMailer(url string, timeout time.Duration, retries int) *WebhookMailer {
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	client.SetHeader("Content-Type", "application/json")
	client.SetRetryCount(retries)
	client.SetRetryWaitTime(200 * time.Millisecond)
	client.SetRetryMaxWaitTime(2 * time.Second)
	client.AddRetryCondition(func(resp *resty.Response, err error) bool {
		return resp != nil && resp.StatusCode() >= 500
	})

	return &WebhookMailer{client: client, url: url}
}

func (m *WebhookMailer) Send(ctx context.Context, msg Message) error {
	resp, err := m.client.R().
		SetContext(ctx).
		SetBody(msg).
		Post(m.url)
	if err != nil {
		return fmt.Errorf("mail relay request failed: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mail relay returned status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
