// ABOUTME: Tests for subcommand flag parsing
// ABOUTME: Covers both flag spellings and the error cases

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	flags, err := parseFlags([]string{"--username", "amy", "--email=amy@example.com"}, "username", "email", "password")
	require.NoError(t, err)
	assert.Equal(t, "amy", flags["username"])
	assert.Equal(t, "amy@example.com", flags["email"])
	_, ok := flags["password"]
	assert.False(t, ok)
}

func TestParseFlags_ValueContainingEquals(t *testing.T) {
	flags, err := parseFlags([]string{"--password=a=b"}, "password")
	require.NoError(t, err)
	assert.Equal(t, "a=b", flags["password"])
}

func TestParseFlags_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown flag", []string{"--nope", "x"}, "unknown flag: --nope"},
		{"missing value", []string{"--user"}, "--user requires a value"},
		{"positional", []string{"amy"}, "unexpected argument: amy"},
		{"single dash", []string{"-user", "x"}, "unexpected argument: -user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseFlags(tt.args, "user")
			require.Error(t, err)
			assert.Equal(t, tt.want, err.Error())
		})
	}
}

func TestGenerateSecret(t *testing.T) {
	a, err := generateSecret()
	require.NoError(t, err)
	b, err := generateSecret()
	require.NoError(t, err)

	assert.Len(t, a, 64)
	assert.NotEqual(t, a, b)
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("HUDDLE_CONFIG", "/tmp/custom.yaml")
	assert.Equal(t, "/tmp/custom.yaml", getConfigPath())

	t.Setenv("HUDDLE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")
	assert.Equal(t, "/tmp/xdg/huddle/server.yaml", getConfigPath())
}
