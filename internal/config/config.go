// ABOUTME: Configuration loading and parsing for the huddle server
// ABOUTME: YAML files with .env loading, ${VAR} expansion, duration parsing and defaults

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults applied when a field is left empty.
const (
	DefaultCookieName        = "access_token"
	DefaultRefreshCookieName = "refresh_token"
	DefaultAccessTokenTTL    = 15 * time.Minute
	DefaultRefreshTokenTTL   = 7 * 24 * time.Hour
	DefaultSendBuffer        = 64
	DefaultWriteTimeout      = 10 * time.Second
	DefaultPingInterval      = 30 * time.Second
	DefaultDedupeTTL         = 2 * time.Minute
	DefaultContextWindow     = 20
	DefaultSearchTopK        = 3
	DefaultClassifyTimeout   = 10 * time.Second
	DefaultModel             = "llama-3.3-70b-versatile"
)

// Config represents the complete huddle server configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Assistant AssistantConfig `yaml:"assistant"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listen addresses. GRPCAddr is optional.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr"`
}

// TailscaleConfig holds tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds token signing and cookie settings
type AuthConfig struct {
	JWTSecret         string        `yaml:"jwt_secret"`
	CookieName        string        `yaml:"cookie_name"`
	RefreshCookieName string        `yaml:"refresh_cookie_name"`
	AccessTokenTTL    time.Duration `yaml:"-"`
	RefreshTokenTTL   time.Duration `yaml:"-"`

	AccessTokenTTLRaw  string `yaml:"access_token_ttl"`
	RefreshTokenTTLRaw string `yaml:"refresh_token_ttl"`
}

// RealtimeConfig tunes websocket connections
type RealtimeConfig struct {
	SendBuffer     int           `yaml:"send_buffer"`
	AllowedOrigins []string      `yaml:"allowed_origins"`
	WriteTimeout   time.Duration `yaml:"-"`
	PingInterval   time.Duration `yaml:"-"`
	DedupeTTL      time.Duration `yaml:"-"`

	WriteTimeoutRaw string `yaml:"write_timeout"`
	PingIntervalRaw string `yaml:"ping_interval"`
	DedupeTTLRaw    string `yaml:"dedupe_ttl"`
}

// AssistantConfig points the assistant at its model and search providers
type AssistantConfig struct {
	BaseURL         string        `yaml:"base_url"`
	APIKey          string        `yaml:"api_key"`
	Model           string        `yaml:"model"`
	SearchURL       string        `yaml:"search_url"`
	SearchAPIKey    string        `yaml:"search_api_key"`
	SearchTopK      int           `yaml:"search_top_k"`
	ContextWindow   int           `yaml:"context_window"`
	ClassifyTimeout time.Duration `yaml:"-"`

	ClassifyTimeoutRaw string `yaml:"classify_timeout"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file beside the config, then one in the working directory, is loaded
// first without overriding variables already set. ${VAR_NAME} references are
// then expanded.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env"), ".env"); err != nil {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandEnvVars(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func loadDotEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("%s: %w", p, err)
		}
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// Unset variables expand to an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	if c.Auth.CookieName == "" {
		c.Auth.CookieName = DefaultCookieName
	}
	if c.Auth.RefreshCookieName == "" {
		c.Auth.RefreshCookieName = DefaultRefreshCookieName
	}
	if c.Auth.AccessTokenTTL == 0 {
		c.Auth.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.Auth.RefreshTokenTTL == 0 {
		c.Auth.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.Realtime.SendBuffer == 0 {
		c.Realtime.SendBuffer = DefaultSendBuffer
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}
	if c.Realtime.PingInterval == 0 {
		c.Realtime.PingInterval = DefaultPingInterval
	}
	if c.Realtime.DedupeTTL == 0 {
		c.Realtime.DedupeTTL = DefaultDedupeTTL
	}
	if c.Assistant.Model == "" {
		c.Assistant.Model = DefaultModel
	}
	if c.Assistant.SearchTopK == 0 {
		c.Assistant.SearchTopK = DefaultSearchTopK
	}
	if c.Assistant.ContextWindow == 0 {
		c.Assistant.ContextWindow = DefaultContextWindow
	}
	if c.Assistant.ClassifyTimeout == 0 {
		c.Assistant.ClassifyTimeout = DefaultClassifyTimeout
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}
	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.AccessTokenTTL < 0 {
		return fmt.Errorf("auth.access_token_ttl must be positive")
	}
	if c.Auth.RefreshTokenTTL < 0 {
		return fmt.Errorf("auth.refresh_token_ttl must be positive")
	}
	if c.Auth.CookieName != "" && c.Auth.CookieName == c.Auth.RefreshCookieName {
		return fmt.Errorf("auth.cookie_name and auth.refresh_cookie_name must differ")
	}
	if c.Realtime.SendBuffer < 0 {
		return fmt.Errorf("realtime.send_buffer must be positive")
	}
	if c.Assistant.SearchTopK < 0 || c.Assistant.ContextWindow < 0 {
		return fmt.Errorf("assistant.search_top_k and assistant.context_window must be positive")
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

// AssistantEnabled reports whether a model API key is configured.
func (c *Config) AssistantEnabled() bool {
	return c.Assistant.APIKey != ""
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"auth.access_token_ttl", cfg.Auth.AccessTokenTTLRaw, &cfg.Auth.AccessTokenTTL},
		{"auth.refresh_token_ttl", cfg.Auth.RefreshTokenTTLRaw, &cfg.Auth.RefreshTokenTTL},
		{"realtime.write_timeout", cfg.Realtime.WriteTimeoutRaw, &cfg.Realtime.WriteTimeout},
		{"realtime.ping_interval", cfg.Realtime.PingIntervalRaw, &cfg.Realtime.PingInterval},
		{"realtime.dedupe_ttl", cfg.Realtime.DedupeTTLRaw, &cfg.Realtime.DedupeTTL},
		{"assistant.classify_timeout", cfg.Assistant.ClassifyTimeoutRaw, &cfg.Assistant.ClassifyTimeout},
	}
	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}
	return nil
}
