package logx

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func TestLoggerWithFields(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "debug").With(String("comp", "registry"))
	log.Info("scheduled", Int("entries", 2), Err(errors.New("boom")))

	var m map[string]any
	if err := json.Unmarshal(buf.Bytes(), &m); err != nil {
		t.Fatalf("unmarshal log line: %v (%q)", err, buf.String())
	}
	if m["comp"] != "registry" {
		t.Fatalf("comp = %v", m["comp"])
	}
	if m["entries"] != float64(2) {
		t.Fatalf("entries = %v", m["entries"])
	}
	if m["err"] != "boom" {
		t.Fatalf("err = %v", m["err"])
	}
	if m["message"] != "scheduled" {
		t.Fatalf("message = %v", m["message"])
	}
}

func TestLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriter(&buf, "warn")
	log.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info line written at warn level: %q", buf.String())
	}
	if !log.Enabled(LevelError) || log.Enabled(LevelDebug) {
		t.Fatal("unexpected Enabled result")
	}
}

func TestZeroLoggerIsSafe(t *testing.T) {
	var log Logger
	if !log.IsZero() {
		t.Fatal("zero logger should report IsZero")
	}
	log.Error("nothing happens")
	if Nop().IsZero() {
		t.Fatal("Nop logger should not report IsZero")
	}
}
