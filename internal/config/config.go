// Package config loads facewatch settings from defaults, an optional YAML
// file, a .env file and the process environment, in increasing priority.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Detection DetectionConfig `yaml:"detection"`
	Video     VideoConfig     `yaml:"video"`
	Alerts    AlertConfig     `yaml:"alerts"`
	Twilio    TwilioConfig    `yaml:"twilio"`
	Pushover  PushoverConfig  `yaml:"pushover"`
	Email     EmailConfig     `yaml:"email"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Auth      AuthConfig      `yaml:"auth"`
}

type ServerConfig struct {
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`
	Debug bool   `yaml:"debug"`
}

type StorageConfig struct {
	DatabasePath string `yaml:"database_path"`
	ImagesDir    string `yaml:"images_dir"`
}

type DetectionConfig struct {
	Backend        string        `yaml:"backend"` // remote, grpc, dlib or none
	Endpoint       string        `yaml:"endpoint"`
	GRPCEndpoint   string        `yaml:"grpc_endpoint"`
	DlibModelsDir  string        `yaml:"dlib_models_dir"`
	CascadePath    string        `yaml:"cascade_path"`
	Timeout        time.Duration `yaml:"timeout"`
	MatchThreshold float64       `yaml:"match_threshold"`
}

type VideoConfig struct {
	TargetFPS  float64 `yaml:"target_fps"`
	FrameLimit int     `yaml:"frame_limit"`
}

type AlertConfig struct {
	IdentityCooldown      time.Duration `yaml:"identity_cooldown"`
	GlobalCooldown        time.Duration `yaml:"global_cooldown"`
	Location              string        `yaml:"location"`
	DefaultSMSRecipient   string        `yaml:"default_sms_recipient"`
	DefaultEmailRecipient string        `yaml:"default_email_recipient"`
}

type TwilioConfig struct {
	AccountSID string `yaml:"account_sid"`
	AuthToken  string `yaml:"auth_token"`
	From       string `yaml:"from"`
}

type PushoverConfig struct {
	AppToken string `yaml:"app_token"`
	UserKey  string `yaml:"user_key"`
}

type EmailConfig struct {
	ResendAPIKey string `yaml:"resend_api_key"`
	From         string `yaml:"from"`
	MaxRetries   int    `yaml:"max_retries"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	// Commands enables the operator bot answering /status, /gallery and friends.
	Commands bool `yaml:"commands"`
}

type AuthConfig struct {
	Enabled        bool          `yaml:"enabled"`
	JWTSecret      string        `yaml:"jwt_secret"`
	JWTExpiry      time.Duration `yaml:"jwt_expiry"`
	LoginPerSecond float64       `yaml:"login_per_second"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "localhost", Port: 8080},
		Storage: StorageConfig{DatabasePath: "facewatch.db", ImagesDir: "data/images"},
		Detection: DetectionConfig{
			Backend:        "remote",
			Endpoint:       "http://localhost:8082",
			Timeout:        30 * time.Second,
			MatchThreshold: 0.55,
		},
		Video:  VideoConfig{TargetFPS: 30, FrameLimit: 600},
		Alerts: AlertConfig{IdentityCooldown: 30 * time.Second, GlobalCooldown: 30 * time.Second},
		Email:  EmailConfig{MaxRetries: 3},
		Auth:   AuthConfig{Enabled: true, JWTExpiry: 24 * time.Hour, LoginPerSecond: 1},
	}
}

// Load builds the configuration. path names an optional YAML file; when empty
// FACEWATCH_CONFIG is consulted. A missing .env file is not an error.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path == "" {
		path = os.Getenv("FACEWATCH_CONFIG")
	}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.check(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Host = envString("HOST", c.Server.Host)
	c.Server.Port = envInt("PORT", c.Server.Port)
	c.Server.Debug = envBool("DEBUG", c.Server.Debug)

	c.Storage.DatabasePath = envString("DATABASE_PATH", c.Storage.DatabasePath)
	c.Storage.ImagesDir = envString("IMAGES_DIR", c.Storage.ImagesDir)

	c.Detection.Backend = envString("DETECTION_BACKEND", c.Detection.Backend)
	c.Detection.Endpoint = envString("DETECTION_ENDPOINT", c.Detection.Endpoint)
	c.Detection.GRPCEndpoint = envString("DETECTION_GRPC_ENDPOINT", c.Detection.GRPCEndpoint)
	c.Detection.DlibModelsDir = envString("DLIB_MODELS_DIR", c.Detection.DlibModelsDir)
	c.Detection.CascadePath = envString("CASCADE_PATH", c.Detection.CascadePath)
	c.Detection.Timeout = envDuration("DETECTION_TIMEOUT", c.Detection.Timeout)
	c.Detection.MatchThreshold = envFloat("MATCH_THRESHOLD", c.Detection.MatchThreshold)

	c.Video.TargetFPS = envFloat("VIDEO_TARGET_FPS", c.Video.TargetFPS)
	c.Video.FrameLimit = envInt("VIDEO_FRAME_LIMIT", c.Video.FrameLimit)

	// ALERT_COOLDOWN is in seconds and sets both windows.
	if s := envInt("ALERT_COOLDOWN", 0); s > 0 {
		c.Alerts.IdentityCooldown = time.Duration(s) * time.Second
		c.Alerts.GlobalCooldown = time.Duration(s) * time.Second
	}
	if s := envInt("ALERT_IDENTITY_COOLDOWN", 0); s > 0 {
		c.Alerts.IdentityCooldown = time.Duration(s) * time.Second
	}
	c.Alerts.Location = envString("ALERT_LOCATION", c.Alerts.Location)
	c.Alerts.DefaultSMSRecipient = envString("DEFAULT_SMS_RECIPIENT", c.Alerts.DefaultSMSRecipient)
	c.Alerts.DefaultEmailRecipient = envString("DEFAULT_EMAIL_RECIPIENT", c.Alerts.DefaultEmailRecipient)

	c.Twilio.AccountSID = envString("TWILIO_ACCOUNT_SID", c.Twilio.AccountSID)
	c.Twilio.AuthToken = envString("TWILIO_AUTH_TOKEN", c.Twilio.AuthToken)
	c.Twilio.From = envString("TWILIO_PHONE_NUMBER", c.Twilio.From)

	c.Pushover.AppToken = envString("PUSHOVER_APP_TOKEN", c.Pushover.AppToken)
	c.Pushover.UserKey = envString("PUSHOVER_USER_KEY", c.Pushover.UserKey)

	c.Email.ResendAPIKey = envString("RESEND_API_KEY", c.Email.ResendAPIKey)
	c.Email.From = envString("EMAIL_FROM", c.Email.From)
	c.Email.MaxRetries = envInt("EMAIL_MAX_RETRIES", c.Email.MaxRetries)

	c.Telegram.BotToken = envString("TELEGRAM_BOT_TOKEN", c.Telegram.BotToken)
	c.Telegram.ChatID = envString("TELEGRAM_CHAT_ID", c.Telegram.ChatID)
	c.Telegram.Commands = envBool("TELEGRAM_COMMANDS", c.Telegram.Commands)

	c.Auth.Enabled = envBool("AUTH_ENABLED", c.Auth.Enabled)
	c.Auth.JWTSecret = envString("JWT_SECRET", c.Auth.JWTSecret)
	c.Auth.JWTExpiry = envDuration("JWT_EXPIRY", c.Auth.JWTExpiry)
}

func (c *Config) check() error {
	switch c.Detection.Backend {
	case "remote", "grpc", "dlib", "none":
	default:
		return fmt.Errorf("invalid detection backend %q (valid: remote|grpc|dlib|none)", c.Detection.Backend)
	}
	if c.Detection.MatchThreshold <= 0 || c.Detection.MatchThreshold > 1 {
		return fmt.Errorf("match threshold must be in (0, 1], got %v", c.Detection.MatchThreshold)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	return nil
}

// Validate reports non-fatal problems such as alert channels with missing
// or placeholder credentials.
func (c *Config) Validate() []string {
	var warnings []string
	if c.Twilio.AccountSID == "" || c.Twilio.AuthToken == "" || c.Twilio.From == "" {
		warnings = append(warnings, "SMS alerts disabled: TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and TWILIO_PHONE_NUMBER are required")
	}
	switch {
	case c.Pushover.AppToken == "" || c.Pushover.UserKey == "":
		warnings = append(warnings, "Pushover alerts disabled: PUSHOVER_APP_TOKEN and PUSHOVER_USER_KEY are required")
	case strings.HasPrefix(c.Pushover.AppToken, "your_") || strings.HasPrefix(c.Pushover.UserKey, "your_"):
		warnings = append(warnings, "Pushover alerts disabled: placeholder credentials")
	}
	if c.Email.ResendAPIKey == "" || c.Email.From == "" {
		warnings = append(warnings, "Email alerts disabled: RESEND_API_KEY and EMAIL_FROM are required")
	}
	if c.Telegram.BotToken == "" || c.Telegram.ChatID == "" {
		warnings = append(warnings, "Telegram alerts disabled: TELEGRAM_BOT_TOKEN and TELEGRAM_CHAT_ID are required")
	}
	if c.Auth.Enabled && c.Auth.JWTSecret == "" {
		warnings = append(warnings, "JWT_SECRET not set: tokens will not survive a restart")
	}
	return warnings
}

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envInt reads an environment variable and parses it as an integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

// envDuration accepts Go duration strings or a bare number of seconds.
func envDuration(key string, defaultVal time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second
	}
	return defaultVal
}
