package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
)

func TestLevel(t *testing.T) {
	tests := []struct {
		env, level string
		want       zerolog.Level
	}{
		{"production", "", zerolog.InfoLevel},
		{"development", "", zerolog.DebugLevel},
		{"production", "warn", zerolog.WarnLevel},
		{"development", "error", zerolog.ErrorLevel},
		{"production", "chatty", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := Level(tt.env, tt.level); got != tt.want {
			t.Errorf("Level(%q, %q) = %s, want %s", tt.env, tt.level, got, tt.want)
		}
	}
}

func TestNewJSONWithExtraWriter(t *testing.T) {
	var out, extra bytes.Buffer
	logger := New(Options{Environment: "production", Level: "warn", JSON: true, Out: &out, Extra: &extra})

	logger.Info().Msg("dropped")
	logger.Warn().Str("component", "daemon").Msg("kept")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &line); err != nil {
		t.Fatalf("expected one JSON line, got %q: %v", out.String(), err)
	}
	if line["message"] != "kept" || line["component"] != "daemon" {
		t.Fatalf("unexpected line %v", line)
	}
	if out.String() != extra.String() {
		t.Fatalf("extra writer should see the same lines: %q vs %q", extra.String(), out.String())
	}
}
