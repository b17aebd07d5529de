package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestNew_JSONRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	log := New("debug", "auto", &buf)

	log.Info("webhook received",
		"webhook_secret", "whsec_live",
		"stripe_signature", "t=1,v1=abc",
		"owner_session_id", "anon-123",
		"artifact_id", "a-1",
	)

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("non-terminal writer should produce JSON: %v\n%s", err, buf.String())
	}
	if rec["webhook_secret"] != "[REDACTED]" {
		t.Errorf("webhook_secret = %v, want redacted", rec["webhook_secret"])
	}
	if rec["stripe_signature"] != "[REDACTED]" {
		t.Errorf("stripe_signature = %v, want redacted", rec["stripe_signature"])
	}
	if got, _ := rec["owner_session_id"].(string); got == "anon-123" || got == "" {
		t.Errorf("owner_session_id = %q, want hashed value", got)
	}
	if rec["artifact_id"] != "a-1" {
		t.Errorf("artifact_id = %v, want untouched", rec["artifact_id"])
	}
}

func TestNew_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	New("info", "text", &buf).Info("hello", "k", "v")
	if !strings.Contains(buf.String(), "k=v") {
		t.Errorf("text output = %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	log := New("warn", "json", &buf)
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %s", buf.String())
	}
}
