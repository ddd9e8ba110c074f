// Copyright (c) 2026 scancore authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package log

import (
	"bytes"
	"encoding/json"
	"testing"
)

func TestConfigureWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Level: "debug", Output: &buf, Service: "scancore-test", Version: "v0"})

	L().Info().Str("run_id", "r1").Msg("hello")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected JSON line, got %q: %v", buf.String(), err)
	}
	if line["service"] != "scancore-test" {
		t.Errorf("expected service field, got %v", line["service"])
	}
	if line["run_id"] != "r1" {
		t.Errorf("expected run_id field, got %v", line["run_id"])
	}
}

func TestWithComponentAddsField(t *testing.T) {
	var buf bytes.Buffer
	Configure(Config{Output: &buf})

	l := WithComponent("walker")
	l.Info().Msg("scanning")

	var line map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &line); err != nil {
		t.Fatalf("expected JSON line: %v", err)
	}
	if line["component"] != "walker" {
		t.Errorf("expected component=walker, got %v", line["component"])
	}
}

func TestSetLevelRejectsInvalid(t *testing.T) {
	Configure(Config{})
	if err := SetLevel("not-a-level"); err == nil {
		t.Fatal("expected error for invalid level")
	}
	if err := SetLevel("warn"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
