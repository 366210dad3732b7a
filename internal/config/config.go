// Package config loads CLI configuration from an optional YAML file and the
// environment.
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/stravu/crystal-sub000/internal/model"
)

// Environment variables read by Load.
const (
	EnvConfig      = "TRANSCRIPT_CONFIG"
	EnvAgent       = "TRANSCRIPT_AGENT"
	EnvSessionsDir = "TRANSCRIPT_SESSIONS_DIR"
	EnvHistoryDB   = "TRANSCRIPT_HISTORY_DB"
	EnvLogLevel    = "TRANSCRIPT_LOG_LEVEL"
	EnvTokenUsage  = "TRANSCRIPT_SHOW_TOKEN_USAGE"
	EnvNoColor     = "NO_COLOR"
)

// Config holds settings shared by every command.
type Config struct {
	// Agent forces a protocol. Empty means detect from the records.
	Agent          string   `yaml:"agent"`
	SessionsDir    string   `yaml:"sessions_dir"`
	HistoryDB      string   `yaml:"history_db"`
	LogLevel       string   `yaml:"log_level"`
	NoColor        bool     `yaml:"no_color"`
	ShowTokenUsage bool     `yaml:"show_token_usage"`
	Markdown       bool     `yaml:"markdown"`
	MarkdownStyle  string   `yaml:"markdown_style"`
	PromptMarkers  []string `yaml:"prompt_markers"`
	DebugPatterns  []string `yaml:"debug_patterns"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{LogLevel: "warn"}
}

// DefaultPath returns ~/.config/transcript/config.yaml, or "" when the home
// directory is unknown.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".config", "transcript", "config.yaml")
}

// Load builds the configuration from defaults, then the YAML file, then the
// environment. An explicit path must exist; the default path may be absent.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		if env := os.Getenv(EnvConfig); env != "" {
			path, explicit = env, true
		} else {
			path = DefaultPath()
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist) && !explicit:
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	if err := cfg.applyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) error {
	if v := getenv(EnvAgent); v != "" {
		c.Agent = v
	}
	if v := getenv(EnvSessionsDir); v != "" {
		c.SessionsDir = v
	}
	if v := getenv(EnvHistoryDB); v != "" {
		c.HistoryDB = v
	}
	if v := getenv(EnvLogLevel); v != "" {
		c.LogLevel = v
	}
	if v := getenv(EnvTokenUsage); v != "" {
		show, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid %s value %q: %w", EnvTokenUsage, v, err)
		}
		c.ShowTokenUsage = show
	}
	if getenv(EnvNoColor) != "" {
		c.NoColor = true
	}
	return nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	if _, err := c.AgentType(); err != nil {
		return err
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// AgentType returns the forced agent, or "" for detection.
func (c *Config) AgentType() (model.AgentType, error) {
	if strings.TrimSpace(c.Agent) == "" || strings.EqualFold(c.Agent, "auto") {
		return "", nil
	}
	return model.ParseAgentType(c.Agent)
}

// SessionsRoot returns the configured sessions directory, falling back to the
// agent's own log location.
func (c *Config) SessionsRoot(agent model.AgentType) string {
	if c.SessionsDir != "" {
		return c.SessionsDir
	}
	home, _ := os.UserHomeDir()
	switch agent {
	case model.AgentCodex:
		return filepath.Join(home, ".codex", "sessions")
	default:
		return filepath.Join(home, ".claude", "projects")
	}
}

// HistoryPath returns the sqlite history database path.
func (c *Config) HistoryPath() string {
	if c.HistoryDB != "" {
		return c.HistoryDB
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "transcript-history.db"
	}
	return filepath.Join(home, ".local", "share", "transcript", "history.db")
}

// ModelOptions converts the configuration into transformer options.
func (c *Config) ModelOptions(logger *slog.Logger) model.Options {
	return model.Options{
		Logger:         logger,
		ShowTokenUsage: c.ShowTokenUsage,
		PromptMarkers:  c.PromptMarkers,
		DebugPatterns:  c.DebugPatterns,
	}
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", name)
	}
}

// NewLogger returns a text logger writing to w at the named level.
func NewLogger(level string, w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
