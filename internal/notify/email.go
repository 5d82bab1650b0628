package notify

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/resend/resend-go/v2"
)

// EmailSender is the part of the Resend client the notifier uses.
type EmailSender interface {
	Send(params *resend.SendEmailRequest) (*resend.SendEmailResponse, error)
}

// EmailConfig configures the Resend email channel.
type EmailConfig struct {
	APIKey     string
	From       string
	MaxRetries int
}

// EmailNotifier sends alert emails with the annotated image attached,
// retrying transient failures with capped exponential backoff.
type EmailNotifier struct {
	cfg    EmailConfig
	sender EmailSender
	sleep  func(context.Context, time.Duration) error
}

// NewEmailNotifier creates a notifier backed by the Resend API.
func NewEmailNotifier(cfg EmailConfig) *EmailNotifier {
	var sender EmailSender
	if cfg.APIKey != "" {
		sender = resend.NewClient(cfg.APIKey).Emails
	}
	return newEmailNotifier(cfg, sender)
}

func newEmailNotifier(cfg EmailConfig, sender EmailSender) *EmailNotifier {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &EmailNotifier{cfg: cfg, sender: sender, sleep: sleepCtx}
}

func (n *EmailNotifier) Channel() string { return ChannelEmail }

func (n *EmailNotifier) Configured() bool {
	return n.sender != nil && n.cfg.From != ""
}

// Notify emails a.Recipient with a.Title as subject.
func (n *EmailNotifier) Notify(ctx context.Context, a Alert) bool {
	if !n.Configured() || a.Recipient == "" {
		log.Printf("[Email] Not configured or no recipient address")
		return false
	}
	if !ValidEmail(a.Recipient) {
		log.Printf("[Email] Invalid email address %q", a.Recipient)
		return false
	}

	params := &resend.SendEmailRequest{
		From:    n.cfg.From,
		To:      []string{a.Recipient},
		Subject: a.Title,
		Text:    a.Body,
	}
	if len(a.Image) > 0 {
		params.Attachments = []*resend.Attachment{{Content: a.Image, Filename: "alert.jpg"}}
	}

	var lastErr error
	for attempt := 0; attempt <= n.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := backoff(attempt)
			log.Printf("[Email] Retry attempt %d/%d after %s", attempt, n.cfg.MaxRetries, wait)
			if err := n.sleep(ctx, wait); err != nil {
				lastErr = err
				break
			}
		}

		resp, err := n.sender.Send(params)
		if err == nil {
			id := ""
			if resp != nil {
				id = resp.Id
			}
			log.Printf("[Email] Sent to %s (%s)", a.Recipient, id)
			return true
		}
		lastErr = err
		if isAuthError(err) {
			log.Printf("[Email] Authentication failed, not retrying: %v", err)
			break
		}
		log.Printf("[Email] Send error: %v", err)
	}

	log.Printf("[Email] Failed to send to %s after %d attempt(s): %v", a.Recipient, n.cfg.MaxRetries+1, lastErr)
	return false
}

// backoff is 2^attempt seconds, capped at 10s.
func backoff(attempt int) time.Duration {
	d := time.Duration(1<<uint(attempt)) * time.Second
	if d > 10*time.Second || d <= 0 {
		return 10 * time.Second
	}
	return d
}

func isAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"api key", "api_key", "unauthorized", "forbidden", "401", "403"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
