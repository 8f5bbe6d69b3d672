package main

import (
	"strings"
	"testing"
)

func TestFlagToEnvVar(t *testing.T) {
	tests := map[string]string{
		"browser-mode":           "STREAMREV_BROWSER_MODE",
		"flood-limit-per-minute": "STREAMREV_FLOOD_LIMIT_PER_MINUTE",
		"log-level":              "STREAMREV_LOG_LEVEL",
	}

	for flag, expected := range tests {
		if got := flagToEnvVar(flag); got != expected {
			t.Errorf("flagToEnvVar(%q) = %q, expected %q", flag, got, expected)
		}
	}
}

func TestEnvValue(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "local", expected: "local"},
		{input: "30s", expected: "30s"},
		{input: `[data-testid="playcount"]`, expected: `'[data-testid="playcount"]'`},
		{input: "span:not([data-testid])", expected: "'span:not([data-testid])'"},
	}

	for _, tt := range tests {
		if got := envValue(tt.input); got != tt.expected {
			t.Errorf("envValue(%q) = %q, expected %q", tt.input, got, tt.expected)
		}
	}
}

func TestGenerateEnvExampleContent(t *testing.T) {
	content := generateEnvExampleContent(rootCmd)

	expected := []string{
		"STREAMREV_SPOTIFY_CLIENT_ID=",
		"STREAMREV_BROWSER_MODE=local",
		"STREAMREV_NAVIGATION_TIMEOUT=30s",
		"STREAMREV_SETTLE_TIMEOUT=2s",
		"STREAMREV_MAX_SESSIONS=4",
		"STREAMREV_SERVER_PORT=3001",
		"STREAMREV_PRIMARY_PICK=first",
		`STREAMREV_SELECTOR_PLAYCOUNT='[data-testid="playcount"]'`,
	}
	for _, line := range expected {
		if !strings.Contains(content, line) {
			t.Errorf("Expected .env.example to contain %q", line)
		}
	}
}

func TestBuildLogger(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		if logger := buildLogger("debug", format); logger == nil {
			t.Errorf("buildLogger(%q) returned nil", format)
		}
	}
}
