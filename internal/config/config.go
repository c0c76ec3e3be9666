package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/stellarlinkco/fieldnote/internal/domain"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"

	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultOpenAIModel    = "gpt-4o-audio-preview"
	DefaultOpenAIBaseURL  = "https://api.openai.com/v1"
	DefaultAnthropicModel = "claude-sonnet-4-5-20250929"
	DefaultMaxTokens      = 8192
	DefaultTemperature    = 0.2
	DefaultTimeoutSeconds = 60

	DefaultRetryMaxAttempts = 3
	DefaultRetryBaseDelayMs = 1000
	DefaultRetryMaxDelayMs  = 8000

	DefaultHost             = "0.0.0.0"
	DefaultPort             = 18790
	DefaultReminderSchedule = "0 0 17 * * *"
	DefaultExportFormat     = "markdown"
)

type Config struct {
	Provider ProviderConfig `json:"provider"`
	Retry    RetryConfig    `json:"retry"`
	Store    StoreConfig    `json:"store"`
	Channels ChannelsConfig `json:"channels"`
	Gateway  GatewayConfig  `json:"gateway"`
	Reminder ReminderConfig `json:"reminder"`
	Export   ExportConfig   `json:"export"`
}

type ProviderConfig struct {
	Type           string  `json:"type,omitempty"` // "gemini" (default), "openai" or "anthropic"
	APIKey         string  `json:"apiKey"`
	BaseURL        string  `json:"baseUrl,omitempty"`
	Model          string  `json:"model,omitempty"`
	MaxTokens      int     `json:"maxTokens,omitempty"`
	Temperature    float64 `json:"temperature"`
	TimeoutSeconds int     `json:"timeoutSeconds,omitempty"`
}

type RetryConfig struct {
	MaxAttempts int `json:"maxAttempts"`
	BaseDelayMs int `json:"baseDelayMs"`
	MaxDelayMs  int `json:"maxDelayMs"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath,omitempty"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WebUI    WebUIConfig    `json:"webui"`
}

type TelegramConfig struct {
	Enabled   bool     `json:"enabled"`
	Token     string   `json:"token"`
	AllowFrom []string `json:"allowFrom"`
	Proxy     string   `json:"proxy,omitempty"`
}

type WebUIConfig struct {
	Enabled   bool     `json:"enabled"`
	AllowFrom []string `json:"allowFrom"`
}

type GatewayConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

type ReminderConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"`
}

type ExportConfig struct {
	Dir    string `json:"dir,omitempty"`
	Format string `json:"format,omitempty"`
}

func DefaultConfig() *Config {
	return &Config{
		Provider: ProviderConfig{
			MaxTokens:      DefaultMaxTokens,
			Temperature:    DefaultTemperature,
			TimeoutSeconds: DefaultTimeoutSeconds,
		},
		Retry: RetryConfig{
			MaxAttempts: DefaultRetryMaxAttempts,
			BaseDelayMs: DefaultRetryBaseDelayMs,
			MaxDelayMs:  DefaultRetryMaxDelayMs,
		},
		Store: StoreConfig{
			DBPath: filepath.Join(ConfigDir(), "data", "fieldnote.db"),
		},
		Gateway: GatewayConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
		Reminder: ReminderConfig{
			Schedule: DefaultReminderSchedule,
		},
		Export: ExportConfig{
			Dir:    filepath.Join(ConfigDir(), "reports"),
			Format: DefaultExportFormat,
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".fieldnote")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

// ModelName returns the configured model or the provider's default.
func (p ProviderConfig) ModelName() string {
	if p.Model != "" {
		return p.Model
	}
	switch p.Type {
	case ProviderOpenAI:
		return DefaultOpenAIModel
	case ProviderAnthropic:
		return DefaultAnthropicModel
	default:
		return DefaultGeminiModel
	}
}

func (p ProviderConfig) Timeout() time.Duration {
	if p.TimeoutSeconds <= 0 {
		return DefaultTimeoutSeconds * time.Second
	}
	return time.Duration(p.TimeoutSeconds) * time.Second
}

func (r RetryConfig) BaseDelay() time.Duration {
	return time.Duration(r.BaseDelayMs) * time.Millisecond
}

func (r RetryConfig) MaxDelay() time.Duration {
	return time.Duration(r.MaxDelayMs) * time.Millisecond
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if p := os.Getenv("FIELDNOTE_PROVIDER"); p != "" {
		cfg.Provider.Type = strings.ToLower(strings.TrimSpace(p))
	}
	if key := os.Getenv("FIELDNOTE_API_KEY"); key != "" {
		cfg.Provider.APIKey = key
	}
	if cfg.Provider.APIKey == "" {
		switch cfg.Provider.Type {
		case ProviderGemini:
			cfg.Provider.APIKey = firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY")
		case ProviderOpenAI:
			cfg.Provider.APIKey = os.Getenv("OPENAI_API_KEY")
		case ProviderAnthropic:
			cfg.Provider.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "":
			if key := firstEnv("GEMINI_API_KEY", "GOOGLE_API_KEY"); key != "" {
				cfg.Provider.APIKey = key
				cfg.Provider.Type = ProviderGemini
			} else if key := os.Getenv("OPENAI_API_KEY"); key != "" {
				cfg.Provider.APIKey = key
				cfg.Provider.Type = ProviderOpenAI
			} else if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
				cfg.Provider.APIKey = key
				cfg.Provider.Type = ProviderAnthropic
			}
		}
	}
	if model := os.Getenv("FIELDNOTE_MODEL"); model != "" {
		cfg.Provider.Model = model
	}
	if url := os.Getenv("FIELDNOTE_BASE_URL"); url != "" {
		cfg.Provider.BaseURL = url
	}
	if dbPath := os.Getenv("FIELDNOTE_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if token := os.Getenv("FIELDNOTE_TELEGRAM_TOKEN"); token != "" {
		cfg.Channels.Telegram.Token = token
	}
	if attempts := os.Getenv("FIELDNOTE_RETRY_MAX_ATTEMPTS"); attempts != "" {
		if parsed, err := strconv.Atoi(attempts); err == nil {
			cfg.Retry.MaxAttempts = parsed
		}
	}
	if dir := os.Getenv("FIELDNOTE_EXPORT_DIR"); dir != "" {
		cfg.Export.Dir = dir
	}

	defaults := DefaultConfig()
	if cfg.Provider.Type == "" {
		cfg.Provider.Type = ProviderGemini
	}
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if cfg.Retry.BaseDelayMs <= 0 {
		cfg.Retry.BaseDelayMs = DefaultRetryBaseDelayMs
	}
	if cfg.Retry.MaxDelayMs <= 0 {
		cfg.Retry.MaxDelayMs = DefaultRetryMaxDelayMs
	}
	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = defaults.Store.DBPath
	}
	if cfg.Reminder.Schedule == "" {
		cfg.Reminder.Schedule = DefaultReminderSchedule
	}
	if cfg.Export.Dir == "" {
		cfg.Export.Dir = defaults.Export.Dir
	}
	if cfg.Export.Format == "" {
		cfg.Export.Format = DefaultExportFormat
	}

	return cfg, nil
}

// Validate reports settings that make the inference gateway unusable. The
// returned error wraps domain.ErrConfiguration.
func (c *Config) Validate() error {
	switch c.Provider.Type {
	case ProviderGemini, ProviderOpenAI, ProviderAnthropic:
	default:
		return fmt.Errorf("%w: unknown provider type %q", domain.ErrConfiguration, c.Provider.Type)
	}
	if strings.TrimSpace(c.Provider.APIKey) == "" {
		return fmt.Errorf("%w: missing API key for provider %s (set FIELDNOTE_API_KEY or run 'fieldnote onboard')", domain.ErrConfiguration, c.Provider.Type)
	}
	if c.Channels.Telegram.Enabled && c.Channels.Telegram.Token == "" {
		return fmt.Errorf("%w: telegram enabled without token", domain.ErrConfiguration)
	}
	switch c.Export.Format {
	case "", "markdown", "json", "yaml":
	default:
		return fmt.Errorf("%w: unknown export format %q", domain.ErrConfiguration, c.Export.Format)
	}
	return nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0600)
}

func firstEnv(keys ...string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return ""
}
