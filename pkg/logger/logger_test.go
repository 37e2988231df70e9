package logger

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewRejectsUnknownSettings(t *testing.T) {
	if _, err := New(Config{Level: "verbose", Format: "json"}); err == nil {
		t.Error("expected error for unknown level")
	}
	if _, err := New(Config{Level: "info", Format: "xml"}); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestJSONOutputCarriesNameAndFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	log.Named("safety-engine").Info("event admitted", Hex("a1b2c3"), Int("count", 2))
	_ = log.Sync()

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["logger"] != "safety-engine" {
		t.Errorf("logger = %v, want safety-engine", entry["logger"])
	}
	if entry["hex"] != "a1b2c3" {
		t.Errorf("hex = %v, want a1b2c3", entry["hex"])
	}
	if _, ok := entry["caller"]; ok {
		t.Error("caller should be omitted outside debug level")
	}
}

func TestDebugMessagesFilteredAtInfo(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "info", Format: "console", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	log.Debug("hidden")
	log.Warn("shown")
	_ = log.Sync()

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Errorf("debug message leaked: %q", out)
	}
	if !strings.Contains(out, "shown") {
		t.Errorf("warn message missing: %q", out)
	}
}

func TestDomainFields(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "debug", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	log.WithAircraft("a1b2c3", "").Debug("tracked", Rule("tcas_ra"), Sink("nats"), Source("local"))
	_ = log.Sync()

	var entry map[string]interface{}
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if _, ok := entry["callsign"]; ok {
		t.Error("empty callsign should be skipped")
	}
	for key, want := range map[string]string{"hex": "a1b2c3", "rule": "tcas_ra", "sink": "nats", "source": "local"} {
		if entry[key] != want {
			t.Errorf("%s = %v, want %s", key, entry[key], want)
		}
	}
	if _, ok := entry["caller"]; !ok {
		t.Error("caller should be present at debug level")
	}
}

func TestParseLevel(t *testing.T) {
	for _, level := range []string{"debug", "info", "", "WARN", "error"} {
		if _, err := ParseLevel(level); err != nil {
			t.Errorf("ParseLevel(%q) error = %v", level, err)
		}
	}
	if _, err := ParseLevel("fatal"); err == nil {
		t.Error("fatal should be rejected")
	}
}

func TestSamplingDropsRepeats(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Config{Level: "info", Format: "json", Sampling: true, Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for i := 0; i < 150; i++ {
		log.Info("same message")
	}
	_ = log.Sync()

	lines := strings.Count(buf.String(), "\n")
	if lines >= 150 || lines < 100 {
		t.Errorf("got %d lines, want sampling to keep between 100 and 149", lines)
	}
}
