// Package config loads the service configuration from an optional YAML file
// with ZYVAULT_* environment overrides.
package config

import (
	"fmt"
	"os"
	"strconv"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Provider ProviderConfig `yaml:"provider"`
	OCR      OCRConfig      `yaml:"ocr"`
	Chunking ChunkingConfig `yaml:"chunking"`
	Ask      AskConfig      `yaml:"ask"`
	Watch    WatchConfig    `yaml:"watch"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
	// AdminToken guards the admin routes; empty disables them.
	AdminToken string `yaml:"admin_token"`
}

// Address returns the listen address.
func (c ServerConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// StorageConfig holds database settings.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// ProviderConfig holds model provider settings.
type ProviderConfig struct {
	BaseURL    string  `yaml:"base_url"`
	APIKey     string  `yaml:"api_key"`
	ChatModel  string  `yaml:"chat_model"`
	AgentModel string  `yaml:"agent_model"`
	EmbedModel string  `yaml:"embed_model"`
	TimeoutSec int     `yaml:"timeout_seconds"`
	RPS        float64 `yaml:"rps"`
}

// OCRConfig holds the scanned-PDF fallback settings.
type OCRConfig struct {
	MaxPages      int    `yaml:"max_pages"`
	DPI           int    `yaml:"dpi"`
	PdftoppmPath  string `yaml:"pdftoppm_path"`
	TesseractPath string `yaml:"tesseract_path"`
}

// ChunkingConfig holds token-window settings.
type ChunkingConfig struct {
	MinTokens int `yaml:"min_tokens"`
	MaxTokens int `yaml:"max_tokens"`
	Overlap   int `yaml:"overlap"`
}

// AskConfig holds query-time settings.
type AskConfig struct {
	TopK            int     `yaml:"top_k"`
	AgentTimeoutSec int     `yaml:"agent_timeout_seconds"`
	Temperature     float64 `yaml:"temperature"`
}

// WatchConfig holds the drive drop-folder settings. Empty Dir disables the
// watcher.
type WatchConfig struct {
	Dir       string `yaml:"dir"`
	AccountID string `yaml:"account_id"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Default returns the configuration used when nothing is specified.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 4600},
		Storage: StorageConfig{
			DataDir: "./data",
		},
		Provider: ProviderConfig{
			BaseURL:    "https://api.openai.com",
			ChatModel:  "gpt-4o",
			AgentModel: "gpt-4o-mini",
			EmbedModel: "text-embedding-3-small",
			TimeoutSec: 60,
		},
		OCR: OCRConfig{
			MaxPages:      12,
			DPI:           200,
			PdftoppmPath:  "pdftoppm",
			TesseractPath: "tesseract",
		},
		Chunking: ChunkingConfig{
			MinTokens: 500,
			MaxTokens: 1200,
			Overlap:   120,
		},
		Ask: AskConfig{
			TopK:            6,
			AgentTimeoutSec: 45,
			Temperature:     0.2,
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the config from defaults, an optional YAML file (environment
// variables in the file are expanded), and ZYVAULT_* overrides, then
// validates the result.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config file %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return Config{}, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	setStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}

	setInt("ZYVAULT_PORT", &cfg.Server.Port)
	setStr("ZYVAULT_ADMIN_TOKEN", &cfg.Server.AdminToken)
	setStr("ZYVAULT_DATA_DIR", &cfg.Storage.DataDir)
	setStr("ZYVAULT_PROVIDER_BASE_URL", &cfg.Provider.BaseURL)
	setStr("ZYVAULT_PROVIDER_API_KEY", &cfg.Provider.APIKey)
	setStr("ZYVAULT_CHAT_MODEL", &cfg.Provider.ChatModel)
	setStr("ZYVAULT_AGENT_MODEL", &cfg.Provider.AgentModel)
	setStr("ZYVAULT_EMBED_MODEL", &cfg.Provider.EmbedModel)
	setStr("ZYVAULT_WATCH_DIR", &cfg.Watch.Dir)
	setStr("ZYVAULT_WATCH_ACCOUNT", &cfg.Watch.AccountID)
	setStr("ZYVAULT_LOG_LEVEL", &cfg.Log.Level)
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.Storage,
		validation.Field(&c.Storage.DataDir, validation.Required),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.Provider,
		validation.Field(&c.Provider.BaseURL, validation.Required),
		validation.Field(&c.Provider.ChatModel, validation.Required),
		validation.Field(&c.Provider.EmbedModel, validation.Required),
	); err != nil {
		return err
	}
	if err := validation.ValidateStruct(&c.Chunking,
		validation.Field(&c.Chunking.MaxTokens, validation.Required, validation.Min(1)),
		validation.Field(&c.Chunking.Overlap, validation.Min(0)),
	); err != nil {
		return err
	}
	if c.Chunking.Overlap >= c.Chunking.MaxTokens {
		return fmt.Errorf("chunking: overlap %d must be smaller than max_tokens %d",
			c.Chunking.Overlap, c.Chunking.MaxTokens)
	}
	if err := validation.ValidateStruct(&c.Log,
		validation.Field(&c.Log.Level, validation.In("debug", "info", "warn", "error")),
	); err != nil {
		return err
	}
	if c.Watch.Dir != "" && c.Watch.AccountID == "" {
		return fmt.Errorf("watch: account_id is required when dir is set")
	}
	return nil
}
