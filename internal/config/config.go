package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. PERSONA_LLM_PROVIDER.
const EnvPrefix = "PERSONA"

// Config holds all persona configuration.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Database    DatabaseConfig    `mapstructure:"database"`
	LLM         LLMConfig         `mapstructure:"llm"`
	Engine      EngineConfig      `mapstructure:"engine"`
	Maintenance MaintenanceConfig `mapstructure:"maintenance"`
	Log         LogConfig         `mapstructure:"log"`
}

type ServerConfig struct {
	Bind      string  `mapstructure:"bind"`
	Port      int     `mapstructure:"port"`
	RateLimit float64 `mapstructure:"rate_limit"` // requests per second per client, 0 disables
	RateBurst int     `mapstructure:"rate_burst"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"` // empty resolves to DefaultDir()/persona.db
}

type LLMConfig struct {
	Provider      string `mapstructure:"provider"` // "anthropic", "openai", "ollama", "claude-cli", "none"
	Model         string `mapstructure:"model"`
	AnthropicKey  string `mapstructure:"anthropic_key"`
	OpenAIKey     string `mapstructure:"openai_key"`
	OpenAIBaseURL string `mapstructure:"openai_base_url"`
	OllamaURL     string `mapstructure:"ollama_url"`
	OllamaModel   string `mapstructure:"ollama_model"`
}

type EngineConfig struct {
	RecallLimit           int           `mapstructure:"recall_limit"`
	HistoryWindow         int           `mapstructure:"history_window"`
	ChatTemperature       float64       `mapstructure:"chat_temperature"`
	ExtractionTemperature float64       `mapstructure:"extraction_temperature"`
	ChatMaxTokens         int           `mapstructure:"chat_max_tokens"`
	ExtractionMaxTokens   int           `mapstructure:"extraction_max_tokens"`
	MaxConcurrent         int64         `mapstructure:"max_concurrent"`
	BackendTimeout        time.Duration `mapstructure:"backend_timeout"`
}

type MaintenanceConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"` // cron spec
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text or json
}

// Default returns a Config with sensible defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Bind:      "127.0.0.1",
			Port:      37778,
			RateLimit: 10,
			RateBurst: 20,
		},
		LLM: LLMConfig{
			Provider:    "anthropic",
			Model:       "claude-3-5-haiku-latest",
			OllamaURL:   "http://localhost:11434",
			OllamaModel: "llama3.2",
		},
		Engine: EngineConfig{
			RecallLimit:           5,
			HistoryWindow:         10,
			ChatTemperature:       0.7,
			ExtractionTemperature: 0.9,
			ChatMaxTokens:         1024,
			ExtractionMaxTokens:   800,
			MaxConcurrent:         4,
			BackendTimeout:        60 * time.Second,
		},
		Maintenance: MaintenanceConfig{
			Enabled:  true,
			Schedule: "@daily",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// DefaultDir returns ~/.persona, where the config file and database live.
func DefaultDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".persona"), nil
}

// Load reads configuration from path (or ~/.persona/config.yaml when path is
// empty), layers PERSONA_* environment variables on top, and validates.
// A missing default file is not an error; a missing explicit file is.
func Load(path string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := DefaultDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.bind", d.Server.Bind)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.rate_limit", d.Server.RateLimit)
	v.SetDefault("server.rate_burst", d.Server.RateBurst)

	v.SetDefault("database.path", d.Database.Path)

	v.SetDefault("llm.provider", d.LLM.Provider)
	v.SetDefault("llm.model", d.LLM.Model)
	v.SetDefault("llm.anthropic_key", d.LLM.AnthropicKey)
	v.SetDefault("llm.openai_key", d.LLM.OpenAIKey)
	v.SetDefault("llm.openai_base_url", d.LLM.OpenAIBaseURL)
	v.SetDefault("llm.ollama_url", d.LLM.OllamaURL)
	v.SetDefault("llm.ollama_model", d.LLM.OllamaModel)

	v.SetDefault("engine.recall_limit", d.Engine.RecallLimit)
	v.SetDefault("engine.history_window", d.Engine.HistoryWindow)
	v.SetDefault("engine.chat_temperature", d.Engine.ChatTemperature)
	v.SetDefault("engine.extraction_temperature", d.Engine.ExtractionTemperature)
	v.SetDefault("engine.chat_max_tokens", d.Engine.ChatMaxTokens)
	v.SetDefault("engine.extraction_max_tokens", d.Engine.ExtractionMaxTokens)
	v.SetDefault("engine.max_concurrent", d.Engine.MaxConcurrent)
	v.SetDefault("engine.backend_timeout", d.Engine.BackendTimeout)

	v.SetDefault("maintenance.enabled", d.Maintenance.Enabled)
	v.SetDefault("maintenance.schedule", d.Maintenance.Schedule)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic", "openai", "ollama", "claude-cli", "none":
	default:
		return fmt.Errorf("config: unknown llm.provider %q", c.LLM.Provider)
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Engine.HistoryWindow <= 0 {
		return fmt.Errorf("config: engine.history_window must be positive")
	}
	if c.Engine.MaxConcurrent <= 0 {
		return fmt.Errorf("config: engine.max_concurrent must be positive")
	}
	if c.Engine.BackendTimeout <= 0 {
		return fmt.Errorf("config: engine.backend_timeout must be positive")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log.format %q", c.Log.Format)
	}
	return nil
}

// DBPath resolves the database path, falling back to ~/.persona/persona.db.
func (c *Config) DBPath() (string, error) {
	if c.Database.Path != "" {
		return c.Database.Path, nil
	}
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "persona.db"), nil
}

// ListenAddr returns the bind:port address string.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Bind, c.Server.Port)
}
