// Package notify delivers alerts over SMS, Pushover, email and Telegram.
package notify

import (
	"context"
	"net/http"
	"strings"
	"time"
)

// Channel names.
const (
	ChannelSMS      = "sms"
	ChannelPushover = "pushover"
	ChannelEmail    = "email"
	ChannelTelegram = "telegram"
)

// Alert is a fully composed notification for one channel.
type Alert struct {
	Title     string
	Body      string
	Image     []byte // JPEG, optional
	Recipient string // phone, email or chat id depending on the channel
}

// Notifier delivers alerts over one channel. Notify reports success and
// never returns an error; failures are logged by the implementation.
type Notifier interface {
	Channel() string
	Configured() bool
	Notify(ctx context.Context, a Alert) bool
}

func defaultHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// NormalizePhone strips everything but digits and prefixes "+".
// It reports false when fewer than 10 digits remain.
func NormalizePhone(phone string) (string, bool) {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 10 {
		return "", false
	}
	return "+" + digits, true
}

// ValidEmail is the loose check applied before sending: an "@" and a dot in the domain.
func ValidEmail(email string) bool {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return false
	}
	return strings.Contains(email[at+1:], ".")
}
