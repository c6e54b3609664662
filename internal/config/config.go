// Package config loads the assistant configuration from YAML with
// environment-variable expansion and sane defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alynlabs/alyn/internal/llm"
)

// Config is the root configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	LLM       LLMConfig       `yaml:"llm"`
	Telegram  TelegramConfig  `yaml:"telegram"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Dedup     DedupConfig     `yaml:"dedup"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// DataConfig points at the directory holding all persistent state:
// conversation log, roster, journals, triggers, lessons and profile.
type DataConfig struct {
	Dir string `yaml:"dir"`
}

type LLMConfig struct {
	APIKey           string `yaml:"api_key"`
	BaseURL          string `yaml:"base_url"`
	InteractionModel string `yaml:"interaction_model"`
	ExecutionModel   string `yaml:"execution_model"`
}

type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
}

type SchedulerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
}

type DedupConfig struct {
	Window    time.Duration `yaml:"window"`
	CacheSize int           `yaml:"cache_size"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a YAML config file, expanding ${VAR} references from the
// environment, and applies defaults and validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8001
	}
	if c.Data.Dir == "" {
		c.Data.Dir = "./data"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = llm.OpenRouterBaseURL
	}
	if c.LLM.APIKey == "" {
		c.LLM.APIKey = os.Getenv("OPENROUTER_API_KEY")
	}
	if c.LLM.InteractionModel == "" {
		c.LLM.InteractionModel = "anthropic/claude-sonnet-4"
	}
	if c.LLM.ExecutionModel == "" {
		c.LLM.ExecutionModel = c.LLM.InteractionModel
	}
	if c.Telegram.BotToken == "" {
		c.Telegram.BotToken = os.Getenv("TELEGRAM_BOT_TOKEN")
	}
	if c.Scheduler.PollInterval == 0 {
		c.Scheduler.PollInterval = 10 * time.Second
	}
	if c.Dedup.Window == 0 {
		c.Dedup.Window = 60 * time.Second
	}
	if c.Dedup.CacheSize == 0 {
		c.Dedup.CacheSize = 1000
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Scheduler.PollInterval < time.Second {
		return fmt.Errorf("scheduler.poll_interval must be at least 1s")
	}
	if c.Telegram.Enabled && c.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}
	return nil
}

// Paths for the persistent stores, all rooted under Data.Dir.

func (c *Config) ConversationLogPath() string { return filepath.Join(c.Data.Dir, "conversation.log") }
func (c *Config) RosterPath() string          { return filepath.Join(c.Data.Dir, "roster.json") }
func (c *Config) JournalDir() string          { return filepath.Join(c.Data.Dir, "journals") }
func (c *Config) TriggerDBPath() string       { return filepath.Join(c.Data.Dir, "triggers.db") }
func (c *Config) LessonDBPath() string        { return filepath.Join(c.Data.Dir, "lessons.db") }
func (c *Config) ProfilePath() string         { return filepath.Join(c.Data.Dir, "profile.json") }

// Addr is the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
