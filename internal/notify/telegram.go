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
	"strings"
	"time"
)

// TelegramConfig holds Telegram bot configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	BaseURL  string // defaults to https://api.telegram.org
	Timeout  time.Duration
}

// TelegramResponse represents the response from Telegram API
type TelegramResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// TelegramNotifier posts alerts to a Telegram chat.
type TelegramNotifier struct {
	cfg        TelegramConfig
	httpClient *http.Client
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(cfg TelegramConfig) *TelegramNotifier {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &TelegramNotifier{cfg: cfg, httpClient: defaultHTTPClient(cfg.Timeout)}
}

func (tn *TelegramNotifier) Channel() string { return ChannelTelegram }

func (tn *TelegramNotifier) Configured() bool {
	return tn.cfg.BotToken != "" && tn.cfg.ChatID != ""
}

// Notify sends the alert as a photo with caption, or as text when there is no image.
// a.Recipient overrides the configured chat id.
func (tn *TelegramNotifier) Notify(ctx context.Context, a Alert) bool {
	if !tn.Configured() {
		log.Printf("[Telegram] Bot token or chat ID not configured")
		return false
	}
	chatID := tn.cfg.ChatID
	if a.Recipient != "" {
		chatID = a.Recipient
	}

	text := a.Body
	if a.Title != "" {
		text = a.Title + "\n\n" + a.Body
	}

	var err error
	if len(a.Image) > 0 {
		err = tn.sendPhoto(ctx, chatID, a.Image, text)
	} else {
		err = tn.sendMessage(ctx, chatID, text)
	}
	if err != nil {
		log.Printf("[Telegram] Error sending alert: %v", err)
		return false
	}
	return true
}

// SendText posts text to the configured chat.
func (tn *TelegramNotifier) SendText(ctx context.Context, text string) error {
	return tn.sendMessage(ctx, tn.cfg.ChatID, text)
}

// SendPhoto posts a JPEG with caption to the configured chat.
func (tn *TelegramNotifier) SendPhoto(ctx context.Context, photo []byte, caption string) error {
	return tn.sendPhoto(ctx, tn.cfg.ChatID, photo, caption)
}

// sendPhoto sends a photo using multipart form data
func (tn *TelegramNotifier) sendPhoto(ctx context.Context, chatID string, photoData []byte, caption string) error {
	url := fmt.Sprintf("%s/bot%s/sendPhoto", tn.cfg.BaseURL, tn.cfg.BotToken)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	if err := writer.WriteField("chat_id", chatID); err != nil {
		return fmt.Errorf("failed to write chat_id field: %w", err)
	}
	if caption != "" {
		if err := writer.WriteField("caption", caption); err != nil {
			return fmt.Errorf("failed to write caption field: %w", err)
		}
	}

	part, err := writer.CreateFormFile("photo", "alert.jpg")
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(photoData); err != nil {
		return fmt.Errorf("failed to write photo data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := tn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send photo: %w", err)
	}
	defer resp.Body.Close()

	return handleTelegramResponse(resp)
}

func (tn *TelegramNotifier) sendMessage(ctx context.Context, chatID, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", tn.cfg.BaseURL, tn.cfg.BotToken)

	jsonData, err := json.Marshal(map[string]string{"chat_id": chatID, "text": text})
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := tn.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	return handleTelegramResponse(resp)
}

// handleTelegramResponse processes the Telegram API response
func handleTelegramResponse(resp *http.Response) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	var telegramResp TelegramResponse
	if err := json.Unmarshal(body, &telegramResp); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if !telegramResp.OK {
		return fmt.Errorf("telegram API error %d: %s", telegramResp.ErrorCode, telegramResp.Description)
	}
	return nil
}
