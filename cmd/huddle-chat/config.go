// ABOUTME: Client settings for the terminal chat client
// ABOUTME: Reads server_url and token from a TOML file with env overrides

package main

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type clientConfig struct {
	ServerURL string `toml:"server_url"`
	Token     string `toml:"token"`
}

// getConfigPath returns the client config path.
// Priority: HUDDLE_CHAT_CONFIG env var > XDG_CONFIG_HOME/huddle/chat.toml > ~/.config/huddle/chat.toml
func getConfigPath() string {
	if envPath := os.Getenv("HUDDLE_CHAT_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "chat.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "huddle", "chat.toml")
}

// loadConfig reads path if it exists. HUDDLE_URL and HUDDLE_TOKEN
// override the file.
func loadConfig(path string) (*clientConfig, error) {
	cfg := &clientConfig{ServerURL: "http://localhost:8080"}

	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if v := os.Getenv("HUDDLE_URL"); v != "" {
		cfg.ServerURL = v
	}
	if v := os.Getenv("HUDDLE_TOKEN"); v != "" {
		cfg.Token = v
	}

	if cfg.Token == "" {
		return nil, errors.New("no token configured (set token in chat.toml or HUDDLE_TOKEN)")
	}
	return cfg, nil
}

// websocketURL maps the server base URL onto its /ws endpoint.
func (c *clientConfig) websocketURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(c.ServerURL, "/"))
	if err != nil {
		return "", fmt.Errorf("invalid server_url: %w", err)
	}
	switch u.Scheme {
	case "http", "ws":
		u.Scheme = "ws"
	case "https", "wss":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("invalid server_url scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	return u.String(), nil
}
