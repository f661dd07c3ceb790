// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML loading, .env files, env var expansion, durations, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	path := filepath.Join(dir, "server.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  http_addr: "0.0.0.0:8080"
  grpc_addr: "0.0.0.0:50051"

database:
  path: "./huddle.db"

auth:
  jwt_secret: "`+testSecret+`"
  cookie_name: "huddle_token"
  access_token_ttl: "1h"

realtime:
  send_buffer: 128
  write_timeout: "5s"
  ping_interval: "20s"
  dedupe_ttl: "1m"
  allowed_origins:
    - "chat.example.com"

assistant:
  base_url: "http://localhost:11434/v1"
  api_key: "sk-test"
  model: "tiny"
  search_top_k: 5
  context_window: 10
  classify_timeout: "3s"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.HTTPAddr != "0.0.0.0:8080" {
		t.Errorf("Server.HTTPAddr = %q, want %q", cfg.Server.HTTPAddr, "0.0.0.0:8080")
	}
	if cfg.Server.GRPCAddr != "0.0.0.0:50051" {
		t.Errorf("Server.GRPCAddr = %q, want %q", cfg.Server.GRPCAddr, "0.0.0.0:50051")
	}
	if cfg.Database.Path != "./huddle.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "./huddle.db")
	}
	if cfg.Auth.CookieName != "huddle_token" {
		t.Errorf("Auth.CookieName = %q, want %q", cfg.Auth.CookieName, "huddle_token")
	}
	if cfg.Auth.AccessTokenTTL != time.Hour {
		t.Errorf("Auth.AccessTokenTTL = %v, want %v", cfg.Auth.AccessTokenTTL, time.Hour)
	}
	if cfg.Realtime.SendBuffer != 128 {
		t.Errorf("Realtime.SendBuffer = %d, want 128", cfg.Realtime.SendBuffer)
	}
	if cfg.Realtime.WriteTimeout != 5*time.Second {
		t.Errorf("Realtime.WriteTimeout = %v, want 5s", cfg.Realtime.WriteTimeout)
	}
	if cfg.Realtime.PingInterval != 20*time.Second {
		t.Errorf("Realtime.PingInterval = %v, want 20s", cfg.Realtime.PingInterval)
	}
	if cfg.Realtime.DedupeTTL != time.Minute {
		t.Errorf("Realtime.DedupeTTL = %v, want 1m", cfg.Realtime.DedupeTTL)
	}
	if len(cfg.Realtime.AllowedOrigins) != 1 || cfg.Realtime.AllowedOrigins[0] != "chat.example.com" {
		t.Errorf("Realtime.AllowedOrigins = %v", cfg.Realtime.AllowedOrigins)
	}
	if cfg.Assistant.Model != "tiny" || cfg.Assistant.SearchTopK != 5 || cfg.Assistant.ContextWindow != 10 {
		t.Errorf("Assistant = %+v", cfg.Assistant)
	}
	if cfg.Assistant.ClassifyTimeout != 3*time.Second {
		t.Errorf("Assistant.ClassifyTimeout = %v, want 3s", cfg.Assistant.ClassifyTimeout)
	}
	if !cfg.AssistantEnabled() {
		t.Error("AssistantEnabled() = false, want true")
	}
	if cfg.Logging.Level != "debug" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  http_addr: ":8080"
database:
  path: "huddle.db"
auth:
  jwt_secret: "`+testSecret+`"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Auth.CookieName != DefaultCookieName {
		t.Errorf("Auth.CookieName = %q, want %q", cfg.Auth.CookieName, DefaultCookieName)
	}
	if cfg.Auth.AccessTokenTTL != 15*time.Minute {
		t.Errorf("Auth.AccessTokenTTL = %v, want 15m", cfg.Auth.AccessTokenTTL)
	}
	if cfg.Auth.RefreshCookieName != DefaultRefreshCookieName {
		t.Errorf("Auth.RefreshCookieName = %q, want %q", cfg.Auth.RefreshCookieName, DefaultRefreshCookieName)
	}
	if cfg.Auth.RefreshTokenTTL != 7*24*time.Hour {
		t.Errorf("Auth.RefreshTokenTTL = %v, want 168h", cfg.Auth.RefreshTokenTTL)
	}
	if cfg.Realtime.SendBuffer != 64 {
		t.Errorf("Realtime.SendBuffer = %d, want 64", cfg.Realtime.SendBuffer)
	}
	if cfg.Assistant.ContextWindow != 20 {
		t.Errorf("Assistant.ContextWindow = %d, want 20", cfg.Assistant.ContextWindow)
	}
	if cfg.Assistant.SearchTopK != 3 {
		t.Errorf("Assistant.SearchTopK = %d, want 3", cfg.Assistant.SearchTopK)
	}
	if cfg.Assistant.ClassifyTimeout != 10*time.Second {
		t.Errorf("Assistant.ClassifyTimeout = %v, want 10s", cfg.Assistant.ClassifyTimeout)
	}
	if cfg.AssistantEnabled() {
		t.Error("AssistantEnabled() = true without an api key")
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v, want info/text", cfg.Logging)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_HUDDLE_SECRET", testSecret)
	t.Setenv("TEST_HUDDLE_LLM_KEY", "gsk-from-env")

	path := writeConfig(t, t.TempDir(), `
server:
  http_addr: ":8080"
database:
  path: "huddle.db"
auth:
  jwt_secret: "${TEST_HUDDLE_SECRET}"
assistant:
  api_key: "${TEST_HUDDLE_LLM_KEY}"
  search_api_key: "${TEST_HUDDLE_UNSET_VAR}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("Auth.JWTSecret = %q, want expanded secret", cfg.Auth.JWTSecret)
	}
	if cfg.Assistant.APIKey != "gsk-from-env" {
		t.Errorf("Assistant.APIKey = %q, want %q", cfg.Assistant.APIKey, "gsk-from-env")
	}
	if cfg.Assistant.SearchAPIKey != "" {
		t.Errorf("Assistant.SearchAPIKey = %q, want empty for unset var", cfg.Assistant.SearchAPIKey)
	}
}

func TestLoad_DotEnvBesideConfig(t *testing.T) {
	dir := t.TempDir()
	t.Cleanup(func() {
		os.Unsetenv("TEST_HUDDLE_DOTENV_SECRET")
		os.Unsetenv("TEST_HUDDLE_DOTENV_MODEL")
	})
	t.Setenv("TEST_HUDDLE_DOTENV_MODEL", "from-process")

	env := "TEST_HUDDLE_DOTENV_SECRET=" + testSecret + "\nTEST_HUDDLE_DOTENV_MODEL=from-dotenv\n"
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	path := writeConfig(t, dir, `
server:
  http_addr: ":8080"
database:
  path: "huddle.db"
auth:
  jwt_secret: "${TEST_HUDDLE_DOTENV_SECRET}"
assistant:
  model: "${TEST_HUDDLE_DOTENV_MODEL}"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Auth.JWTSecret != testSecret {
		t.Errorf("Auth.JWTSecret = %q, want value from .env", cfg.Auth.JWTSecret)
	}
	if cfg.Assistant.Model != "from-process" {
		t.Errorf("Assistant.Model = %q, .env must not override the process environment", cfg.Assistant.Model)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "server: [unclosed\n")
	_, err := Load(path)
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Fatalf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	tests := []struct {
		name  string
		field string
		yaml  string
	}{
		{"token ttl", "auth.access_token_ttl", "auth:\n  jwt_secret: \"" + testSecret + "\"\n  access_token_ttl: \"soon\"\n"},
		{"ping interval", "realtime.ping_interval", "auth:\n  jwt_secret: \"" + testSecret + "\"\nrealtime:\n  ping_interval: \"10 parsecs\"\n"},
		{"classify timeout", "assistant.classify_timeout", "auth:\n  jwt_secret: \"" + testSecret + "\"\nassistant:\n  classify_timeout: \"x\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, t.TempDir(), "server:\n  http_addr: \":8080\"\ndatabase:\n  path: \"h.db\"\n"+tt.yaml)
			_, err := Load(path)
			if err == nil {
				t.Fatal("Load() expected error for invalid duration")
			}
			if !strings.Contains(err.Error(), tt.field) {
				t.Errorf("error %q should name %s", err, tt.field)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		c := Config{
			Server:   ServerConfig{HTTPAddr: ":8080"},
			Database: DatabaseConfig{Path: "h.db"},
			Auth:     AuthConfig{JWTSecret: testSecret},
		}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing http addr", func(c *Config) { c.Server.HTTPAddr = "" }, "server.http_addr"},
		{"tailscale without addr", func(c *Config) {
			c.Server.HTTPAddr = ""
			c.Tailscale = TailscaleConfig{Enabled: true, Hostname: "huddle"}
		}, ""},
		{"tailscale without hostname", func(c *Config) { c.Tailscale.Enabled = true }, "tailscale.hostname"},
		{"missing database", func(c *Config) { c.Database.Path = "" }, "database.path"},
		{"missing secret", func(c *Config) { c.Auth.JWTSecret = "" }, "auth.jwt_secret is required"},
		{"short secret", func(c *Config) { c.Auth.JWTSecret = "short" }, "at least 32 bytes"},
		{"same cookie names", func(c *Config) { c.Auth.RefreshCookieName = c.Auth.CookieName }, "must differ"},
		{"negative refresh ttl", func(c *Config) { c.Auth.RefreshTokenTTL = -time.Hour }, "auth.refresh_token_ttl"},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("FOO", "bar")
	t.Setenv("BAZ", "qux")

	tests := []struct {
		in, want string
	}{
		{"${FOO}", "bar"},
		{"a-${FOO}-${BAZ}-b", "a-bar-qux-b"},
		{"${HUDDLE_NOT_SET_ANYWHERE}", ""},
		{"$FOO stays", "$FOO stays"},
		{"no vars", "no vars"},
	}
	for _, tt := range tests {
		if got := expandEnvVars(tt.in); got != tt.want {
			t.Errorf("expandEnvVars(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
