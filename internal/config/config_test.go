package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("FACEWATCH_CONFIG", "")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Detection.MatchThreshold != 0.55 || cfg.Video.FrameLimit != 600 || cfg.Video.TargetFPS != 30 {
		t.Errorf("unexpected defaults: %+v %+v", cfg.Detection, cfg.Video)
	}
	if cfg.Alerts.IdentityCooldown != 30*time.Second || cfg.Alerts.GlobalCooldown != 30*time.Second {
		t.Errorf("cooldowns = %s/%s", cfg.Alerts.IdentityCooldown, cfg.Alerts.GlobalCooldown)
	}
	if cfg.Email.MaxRetries != 3 {
		t.Errorf("MaxRetries = %d", cfg.Email.MaxRetries)
	}
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	yamlPath := filepath.Join(dir, "facewatch.yaml")
	yamlData := `
server:
  port: 9000
detection:
  backend: grpc
  grpc_endpoint: localhost:50051
  match_threshold: 0.7
alerts:
  location: Main entrance
  identity_cooldown: 10s
`
	if err := os.WriteFile(yamlPath, []byte(yamlData), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("TELEGRAM_CHAT_ID=42\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MATCH_THRESHOLD", "0.65")
	t.Setenv("ALERT_COOLDOWN", "45")
	t.Setenv("TELEGRAM_CHAT_ID", "")
	os.Unsetenv("TELEGRAM_CHAT_ID")

	cfg, err := Load(yamlPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"port from yaml", cfg.Server.Port, 9000},
		{"backend from yaml", cfg.Detection.Backend, "grpc"},
		{"threshold from env", cfg.Detection.MatchThreshold, 0.65},
		{"location from yaml", cfg.Alerts.Location, "Main entrance"},
		{"identity cooldown from env", cfg.Alerts.IdentityCooldown, 45 * time.Second},
		{"global cooldown from env", cfg.Alerts.GlobalCooldown, 45 * time.Second},
		{"chat id from .env", cfg.Telegram.ChatID, "42"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Chdir(t.TempDir())
	tests := map[string]string{
		"DETECTION_BACKEND": "magic",
		"MATCH_THRESHOLD":   "1.5",
		"PORT":              "70000",
	}
	for key, val := range tests {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			if _, err := Load(""); err == nil {
				t.Errorf("Load() with %s=%s returned nil error", key, val)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.Pushover = PushoverConfig{AppToken: "your_pushover_app_token", UserKey: "u"}
	warnings := cfg.Validate()

	var joined = strings.Join(warnings, "\n")
	for _, want := range []string{"SMS alerts disabled", "placeholder", "Email alerts disabled", "Telegram alerts disabled", "JWT_SECRET"} {
		if !strings.Contains(joined, want) {
			t.Errorf("warnings missing %q:\n%s", want, joined)
		}
	}

	cfg.Twilio = TwilioConfig{AccountSID: "AC", AuthToken: "t", From: "+1"}
	cfg.Pushover = PushoverConfig{AppToken: "a", UserKey: "u"}
	cfg.Email = EmailConfig{ResendAPIKey: "re_x", From: "alerts@example.com"}
	cfg.Telegram = TelegramConfig{BotToken: "b", ChatID: "1"}
	cfg.Auth.JWTSecret = "s"
	if w := cfg.Validate(); len(w) != 0 {
		t.Errorf("Validate() = %v, want none", w)
	}
}

func TestEnvDuration(t *testing.T) {
	tests := []struct {
		val  string
		want time.Duration
	}{
		{"90s", 90 * time.Second},
		{"12", 12 * time.Second},
		{"bogus", time.Minute},
		{"", time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.val, func(t *testing.T) {
			t.Setenv("FW_TEST_DURATION", tt.val)
			if got := envDuration("FW_TEST_DURATION", time.Minute); got != tt.want {
				t.Errorf("envDuration(%q) = %s, want %s", tt.val, got, tt.want)
			}
		})
	}
}
