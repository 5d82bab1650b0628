// Package telegram runs the operator bot that answers commands in the
// configured alert chat.
package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"facewatch/internal/database"
	"facewatch/internal/detection"
	"facewatch/internal/gallery"
	"facewatch/internal/pipeline"
)

// Update represents a Telegram update
type Update struct {
	UpdateID int64    `json:"update_id"`
	Message  *Message `json:"message,omitempty"`
}

// Message is the part of a Telegram message the bot reads.
type Message struct {
	MessageID int64  `json:"message_id"`
	Chat      *Chat  `json:"chat,omitempty"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

// GetUpdatesResponse represents the response from getUpdates
type GetUpdatesResponse struct {
	OK          bool     `json:"ok"`
	Result      []Update `json:"result,omitempty"`
	ErrorCode   int      `json:"error_code,omitempty"`
	Description string   `json:"description,omitempty"`
}

// Replier sends messages to the authorized chat.
type Replier interface {
	SendText(ctx context.Context, text string) error
	SendPhoto(ctx context.Context, photo []byte, caption string) error
}

type StateReporter interface {
	State() detection.State
}

type GalleryLister interface {
	List(ctx context.Context) ([]*gallery.Identity, error)
}

type AlertHistory interface {
	ListAlerts(ctx context.Context, limit int) ([]*database.AlertRecord, error)
}

type FrameSource interface {
	CurrentFrame() ([]byte, uint64)
}

type StatsReporter interface {
	Stats() pipeline.PipelineStats
}

// Config holds the bot credentials.
type Config struct {
	BotToken string
	ChatID   string
	BaseURL  string // defaults to https://api.telegram.org
	Interval time.Duration
}

// Deps are what the commands report on. Nil fields disable their command.
type Deps struct {
	Backends map[string]StateReporter
	Gallery  GalleryLister
	History  AlertHistory
	Frames   FrameSource
	Stats    StatsReporter
}

// CommandBot polls getUpdates and answers commands from the configured chat.
type CommandBot struct {
	cfg        Config
	deps       Deps
	reply      Replier
	httpClient *http.Client

	lastUpdateID int64
	startTime    time.Time
	mu           sync.Mutex
}

// NewCommandBot creates a bot. Replies go through reply.
func NewCommandBot(cfg Config, reply Replier, deps Deps) *CommandBot {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.telegram.org"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	return &CommandBot{
		cfg:        cfg,
		deps:       deps,
		reply:      reply,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		startTime:  time.Now(),
	}
}

// Run polls until ctx is cancelled.
func (b *CommandBot) Run(ctx context.Context) error {
	if b.cfg.BotToken == "" || b.cfg.ChatID == "" {
		return errors.New("telegram bot token or chat id not configured")
	}

	log.Printf("[TelegramBot] Polling for commands")
	ticker := time.NewTicker(b.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Printf("[TelegramBot] Stopped")
			return nil
		case <-ticker.C:
			if err := b.Poll(ctx); err != nil && ctx.Err() == nil {
				log.Printf("[TelegramBot] Failed to poll updates: %v", err)
			}
		}
	}
}

// Poll fetches pending updates once and handles them.
func (b *CommandBot) Poll(ctx context.Context) error {
	b.mu.Lock()
	offset := b.lastUpdateID + 1
	b.mu.Unlock()

	url := fmt.Sprintf("%s/bot%s/getUpdates?offset=%d&timeout=1", b.cfg.BaseURL, b.cfg.BotToken, offset)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to fetch updates: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	var updates GetUpdatesResponse
	if err := json.Unmarshal(body, &updates); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	if !updates.OK {
		return fmt.Errorf("telegram API error %d: %s", updates.ErrorCode, updates.Description)
	}

	for _, u := range updates.Result {
		b.mu.Lock()
		if u.UpdateID > b.lastUpdateID {
			b.lastUpdateID = u.UpdateID
		}
		b.mu.Unlock()
		if u.Message != nil {
			b.handleMessage(ctx, u.Message)
		}
	}
	return nil
}

func (b *CommandBot) handleMessage(ctx context.Context, msg *Message) {
	if msg.Chat == nil || !strings.HasPrefix(msg.Text, "/") {
		return
	}
	if chatID := strconv.FormatInt(msg.Chat.ID, 10); chatID != b.cfg.ChatID {
		log.Printf("[TelegramBot] Ignoring message from unauthorized chat %s", chatID)
		return
	}

	parts := strings.Fields(msg.Text)
	command := strings.ToLower(parts[0])
	args := parts[1:]
	// /status@facewatch_bot
	if at := strings.Index(command, "@"); at != -1 {
		command = command[:at]
	}

	var response string
	switch command {
	case "/start", "/help":
		response = helpText
	case "/status":
		response = b.handleStatus()
	case "/gallery":
		response = b.handleGallery(ctx)
	case "/alerts":
		response = b.handleAlerts(ctx, args)
	case "/snapshot":
		if b.handleSnapshot(ctx) {
			return
		}
		response = "No scan has produced a frame yet."
	default:
		response = fmt.Sprintf("Unknown command: %s\nUse /help to see available commands.", command)
	}

	if err := b.reply.SendText(ctx, response); err != nil {
		log.Printf("[TelegramBot] Failed to send reply: %v", err)
	}
}

const helpText = "Facewatch commands\n\n" +
	"/status - backend states, scan counters and uptime\n" +
	"/gallery - registered identities\n" +
	"/alerts [n] - recent alerts (default 5, max 20)\n" +
	"/snapshot - the last annotated scan frame\n" +
	"/help - this message"

func (b *CommandBot) handleStatus() string {
	var sb strings.Builder
	sb.WriteString("Status\n\n")
	names := make([]string, 0, len(b.deps.Backends))
	for name := range b.deps.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(&sb, "%s: %s\n", name, b.deps.Backends[name].State())
	}
	if b.deps.Stats != nil {
		st := b.deps.Stats.Stats()
		fmt.Fprintf(&sb, "\nScans: %d, faces: %d, matches: %d\n", st.ImagesProcessed, st.FacesDetected, st.MatchesFound)
		if st.DetectorFailures > 0 {
			fmt.Fprintf(&sb, "Detector failures: %d\n", st.DetectorFailures)
		}
		fmt.Fprintf(&sb, "Last scan: %s\n", st.LastLatency.Round(time.Millisecond))
	}
	fmt.Fprintf(&sb, "Uptime: %s", formatDuration(time.Since(b.startTime)))
	return sb.String()
}

func (b *CommandBot) handleGallery(ctx context.Context) string {
	if b.deps.Gallery == nil {
		return "Gallery unavailable."
	}
	ids, err := b.deps.Gallery.List(ctx)
	if err != nil {
		return fmt.Sprintf("Failed to list gallery: %v", err)
	}
	if len(ids) == 0 {
		return "No identities registered."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Gallery (%d)\n\n", len(ids))
	for i, id := range ids {
		fmt.Fprintf(&sb, "%d. %s", i+1, id.Name)
		if id.Crime != "" {
			fmt.Fprintf(&sb, " - %s", id.Crime)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (b *CommandBot) handleAlerts(ctx context.Context, args []string) string {
	if b.deps.History == nil {
		return "Alert history unavailable."
	}
	limit := 5
	if len(args) > 0 {
		if n, err := strconv.Atoi(args[0]); err == nil && n > 0 && n <= 20 {
			limit = n
		}
	}
	alerts, err := b.deps.History.ListAlerts(ctx, limit)
	if err != nil {
		return fmt.Sprintf("Failed to load alerts: %v", err)
	}
	if len(alerts) == 0 {
		return "No alerts recorded."
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "Recent alerts (last %d)\n\n", len(alerts))
	for i, a := range alerts {
		fmt.Fprintf(&sb, "%d. %s %s (%.2f) via %s\n", i+1, a.CreatedAt.Format("Jan 2, 15:04"), a.Label, a.Score, sentChannels(a.Channels))
	}
	return sb.String()
}

// handleSnapshot reports whether a frame was sent.
func (b *CommandBot) handleSnapshot(ctx context.Context) bool {
	if b.deps.Frames == nil {
		return false
	}
	frame, seq := b.deps.Frames.CurrentFrame()
	if len(frame) == 0 {
		return false
	}
	if err := b.reply.SendPhoto(ctx, frame, fmt.Sprintf("Snapshot (frame %d)", seq)); err != nil {
		log.Printf("[TelegramBot] Failed to send snapshot: %v", err)
	}
	return true
}

func sentChannels(channels map[string]bool) string {
	var sent []string
	for ch, ok := range channels {
		if ok {
			sent = append(sent, ch)
		}
	}
	if len(sent) == 0 {
		return "none"
	}
	sort.Strings(sent)
	return strings.Join(sent, ", ")
}

func formatDuration(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
