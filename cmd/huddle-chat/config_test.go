// ABOUTME: Tests for the chat client's TOML settings
// ABOUTME: Covers file loading, env overrides and websocket URL mapping

package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	t.Setenv("HUDDLE_URL", "")
	t.Setenv("HUDDLE_TOKEN", "")

	path := filepath.Join(t.TempDir(), "chat.toml")
	content := "server_url = \"https://chat.example.com\"\ntoken = \"abc\"\n"
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.ServerURL != "https://chat.example.com" {
		t.Errorf("ServerURL = %q", cfg.ServerURL)
	}
	if cfg.Token != "abc" {
		t.Errorf("Token = %q", cfg.Token)
	}
}

func TestLoadConfig_EnvOverridesAndMissingFile(t *testing.T) {
	t.Setenv("HUDDLE_URL", "http://10.0.0.2:9000")
	t.Setenv("HUDDLE_TOKEN", "from-env")

	cfg, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("loadConfig failed: %v", err)
	}
	if cfg.ServerURL != "http://10.0.0.2:9000" || cfg.Token != "from-env" {
		t.Errorf("got %+v", cfg)
	}
}

func TestLoadConfig_RequiresToken(t *testing.T) {
	t.Setenv("HUDDLE_URL", "")
	t.Setenv("HUDDLE_TOKEN", "")

	if _, err := loadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatal("expected error without a token")
	}
}

func TestLoadConfig_InvalidTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chat.toml")
	if err := os.WriteFile(path, []byte("server_url = [unclosed"), 0600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	if _, err := loadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestWebsocketURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "http://localhost:8080", want: "ws://localhost:8080/ws"},
		{in: "https://chat.example.com/", want: "wss://chat.example.com/ws"},
		{in: "https://example.com/huddle", want: "wss://example.com/huddle/ws"},
		{in: "ftp://example.com", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := (&clientConfig{ServerURL: tt.in}).websocketURL()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
