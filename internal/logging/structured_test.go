package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestInitStructured_JSON(t *testing.T) {
	prev := Op()
	prevLevel := Level()
	defer func() {
		SetLogger(prev)
		SetLevel(prevLevel)
	}()

	var buf bytes.Buffer
	InitStructuredTo(&buf, "json", "debug")

	Component("cache").Debug("entry evicted", "key", "products_1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected JSON log line, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "entry evicted" {
		t.Fatalf("unexpected msg: %v", rec["msg"])
	}
	if rec["component"] != "cache" {
		t.Fatalf("expected component=cache, got %v", rec["component"])
	}
	if rec["key"] != "products_1" {
		t.Fatalf("expected key attribute, got %v", rec["key"])
	}
}

func TestSetLevelFromString(t *testing.T) {
	prevLevel := Level()
	defer SetLevel(prevLevel)

	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		" error ": slog.LevelError,
	}
	for in, want := range cases {
		SetLevelFromString(in)
		if got := Level(); got != want {
			t.Fatalf("SetLevelFromString(%q): got %v, want %v", in, got, want)
		}
	}

	SetLevel(slog.LevelWarn)
	SetLevelFromString("verbose")
	if Level() != slog.LevelWarn {
		t.Fatal("unknown level string should leave the level unchanged")
	}
}

func TestInitStructured_TextFiltersByLevel(t *testing.T) {
	prev := Op()
	prevLevel := Level()
	defer func() {
		SetLogger(prev)
		SetLevel(prevLevel)
	}()

	var buf bytes.Buffer
	InitStructuredTo(&buf, "text", "warn")

	Op().Info("hidden")
	Op().Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info record should be filtered at warn level: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn record missing: %q", out)
	}
}
