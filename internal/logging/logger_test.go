package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestTextOutputFiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(Warn, Text, &buf)
	l.Info("hidden")
	l.Warn("power clamped", F("requested", 5), F("limit", -20))

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info entry should be filtered: %q", out)
	}
	if !strings.Contains(out, "[WARN] power clamped requested=5 limit=-20") {
		t.Fatalf("unexpected text output: %q", out)
	}
}

func TestTextQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	New(Debug, Text, &buf).Info("connected", F("id", "IT CLKGEN 1"))
	if !strings.Contains(buf.String(), `id="IT CLKGEN 1"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestJSONOutputIncludesInheritedFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Debug, JSON, &buf).With(Component("atten"))
	l.Error("read failed", Err(errors.New("empty reply")), Err(nil))

	line := strings.TrimSpace(buf.String())
	idx := strings.Index(line, "{")
	if idx < 0 {
		t.Fatalf("no json payload in %q", line)
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(line[idx:]), &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload["component"] != "atten" || payload["error"] != "empty reply" || payload["level"] != "ERROR" {
		t.Fatalf("unexpected payload: %#v", payload)
	}
}

func TestFromConfig(t *testing.T) {
	if _, err := FromConfig(Config{Level: "verbose"}, nil); err == nil {
		t.Fatalf("expected error for unknown level")
	}
	if _, err := FromConfig(Config{Format: "xml"}, nil); err == nil {
		t.Fatalf("expected error for unknown format")
	}
	var buf bytes.Buffer
	l, err := FromConfig(Config{Level: "debug", Format: "text"}, &buf)
	if err != nil {
		t.Fatalf("FromConfig: %v", err)
	}
	l.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("debug entry missing")
	}
}

func TestOrDefault(t *testing.T) {
	custom := Discard()
	if OrDefault(custom) != custom {
		t.Fatalf("expected provided logger")
	}
	if OrDefault(nil) == nil {
		t.Fatalf("expected default logger")
	}
}
