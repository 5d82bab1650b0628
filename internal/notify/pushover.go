package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"
)

const (
	placeholderPushoverToken = "your_pushover_app_token"
	placeholderPushoverUser  = "your_pushover_user_key"
)

// PushoverConfig holds Pushover credentials.
type PushoverConfig struct {
	AppToken string
	UserKey  string
	BaseURL  string // defaults to https://api.pushover.net
	Timeout  time.Duration
}

// PushoverNotifier sends high-priority push notifications with an optional image.
type PushoverNotifier struct {
	cfg    PushoverConfig
	client *http.Client
}

// NewPushoverNotifier creates a Pushover notifier.
func NewPushoverNotifier(cfg PushoverConfig) *PushoverNotifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.pushover.net"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &PushoverNotifier{cfg: cfg, client: defaultHTTPClient(cfg.Timeout)}
}

func (n *PushoverNotifier) Channel() string { return ChannelPushover }

// Configured rejects empty and placeholder credentials.
func (n *PushoverNotifier) Configured() bool {
	if n.cfg.AppToken == "" || n.cfg.UserKey == "" {
		return false
	}
	return n.cfg.AppToken != placeholderPushoverToken && n.cfg.UserKey != placeholderPushoverUser
}

// Notify pushes to the configured user key; a.Recipient is ignored.
func (n *PushoverNotifier) Notify(ctx context.Context, a Alert) bool {
	if !n.Configured() {
		log.Printf("[Pushover] Not configured - missing env vars")
		return false
	}
	if err := n.send(ctx, a); err != nil {
		log.Printf("[Pushover] Error sending notification: %v", err)
		return false
	}
	log.Printf("[Pushover] Sent notification %q", a.Title)
	return true
}

func (n *PushoverNotifier) send(ctx context.Context, a Alert) error {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	fields := []struct{ k, v string }{
		{"token", n.cfg.AppToken},
		{"user", n.cfg.UserKey},
		{"title", a.Title},
		{"message", a.Body},
		{"priority", "1"},
		{"sound", "siren"},
	}
	for _, f := range fields {
		if err := writer.WriteField(f.k, f.v); err != nil {
			return fmt.Errorf("failed to write %s field: %w", f.k, err)
		}
	}

	if len(a.Image) > 0 {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="attachment"; filename="image.jpg"`)
		h.Set("Content-Type", "image/jpeg")
		part, err := writer.CreatePart(h)
		if err != nil {
			return fmt.Errorf("failed to create attachment: %w", err)
		}
		if _, err := part.Write(a.Image); err != nil {
			return fmt.Errorf("failed to write attachment: %w", err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.cfg.BaseURL+"/1/messages.json", &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	var out struct {
		Status int      `json:"status"`
		Errors []string `json:"errors"`
	}
	_ = json.Unmarshal(data, &out)
	if resp.StatusCode != http.StatusOK || out.Status != 1 {
		return fmt.Errorf("pushover error %d: %s", resp.StatusCode, strings.Join(out.Errors, "; "))
	}
	return nil
}
