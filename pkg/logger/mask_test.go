package logger

import (
	"bytes"
	"strings"
	"testing"
)

func TestMaskURL(t *testing.T) {
	masked := MaskURL("https://api.vendor.com/v1/search?api_key=supersecret")
	if !strings.HasPrefix(masked, "api.vendor.com#") {
		t.Errorf("Expected host prefix, got %s", masked)
	}
	if strings.Contains(masked, "supersecret") {
		t.Errorf("Expected secret to be masked, got %s", masked)
	}
	if MaskURL("") != "" {
		t.Error("Expected empty string for empty URL")
	}
	if got := MaskURL("not a url"); !strings.HasPrefix(got, "endpoint#") {
		t.Errorf("Expected endpoint hash for invalid URL, got %s", got)
	}
}

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"short", "***"},
		{"abcdefghijkl", "***ijkl"},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMaskMessage(t *testing.T) {
	msg := MaskMessage(`request to https://serp.example.com/search?q=x failed: token=abc123 rejected`)
	if strings.Contains(msg, "abc123") || strings.Contains(msg, "/search?q=x") {
		t.Errorf("Expected credentials and URL path masked, got %s", msg)
	}
	if !strings.Contains(msg, "token=***") {
		t.Errorf("Expected token placeholder, got %s", msg)
	}
}

func TestMaskFields(t *testing.T) {
	masked := MaskFields(map[string]interface{}{
		"api_key":  "0123456789",
		"endpoint": "https://a.example.com/path",
		"count":    3,
	})
	if masked["api_key"] != "***6789" {
		t.Errorf("Expected masked key, got %v", masked["api_key"])
	}
	if s, _ := masked["endpoint"].(string); !strings.HasPrefix(s, "a.example.com#") {
		t.Errorf("Expected masked endpoint, got %v", masked["endpoint"])
	}
	if masked["count"] != 3 {
		t.Errorf("Expected untouched value, got %v", masked["count"])
	}
}

func TestNewWithWriter_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "warn"}, &buf)

	l.Info("hidden")
	l.WithField("provider", "serp").Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Expected info message to be filtered")
	}
	if !strings.Contains(out, `"provider":"serp"`) || !strings.Contains(out, "shown") {
		t.Errorf("Expected warn message with field, got %s", out)
	}
}
