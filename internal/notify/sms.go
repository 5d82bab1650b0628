package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// TwilioConfig holds Twilio credentials.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	From       string
	BaseURL    string // defaults to https://api.twilio.com
	Timeout    time.Duration
}

// SMSNotifier sends text messages through the Twilio REST API.
type SMSNotifier struct {
	cfg    TwilioConfig
	client *http.Client
}

// NewSMSNotifier creates a Twilio notifier.
func NewSMSNotifier(cfg TwilioConfig) *SMSNotifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &SMSNotifier{cfg: cfg, client: defaultHTTPClient(cfg.Timeout)}
}

func (n *SMSNotifier) Channel() string { return ChannelSMS }

func (n *SMSNotifier) Configured() bool {
	return n.cfg.AccountSID != "" && n.cfg.AuthToken != "" && n.cfg.From != ""
}

// Notify sends a.Body to a.Recipient. The image is not sent.
func (n *SMSNotifier) Notify(ctx context.Context, a Alert) bool {
	if !n.Configured() {
		log.Printf("[SMS] Not configured - missing Twilio credentials")
		return false
	}
	to, ok := NormalizePhone(a.Recipient)
	if !ok {
		log.Printf("[SMS] Invalid phone number %q", a.Recipient)
		return false
	}

	sid, err := n.send(ctx, to, a.Body)
	if err != nil {
		log.Printf("[SMS] Error sending to %s: %v", to, err)
		return false
	}
	log.Printf("[SMS] Sent to %s: %s", to, sid)
	return true
}

func (n *SMSNotifier) send(ctx context.Context, to, body string) (string, error) {
	endpoint := fmt.Sprintf("%s/2010-04-01/Accounts/%s/Messages.json", n.cfg.BaseURL, url.PathEscape(n.cfg.AccountSID))
	form := url.Values{"To": {to}, "From": {n.cfg.From}, "Body": {body}}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	var out struct {
		SID     string `json:"sid"`
		Message string `json:"message"`
		Code    int    `json:"code"`
	}
	_ = json.Unmarshal(data, &out)
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("twilio error %d (code %d): %s", resp.StatusCode, out.Code, out.Message)
	}
	return out.SID, nil
}
