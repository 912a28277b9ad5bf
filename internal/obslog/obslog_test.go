package obslog

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewWritesJSONToNonTerminalWriter(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "info", true)
	logger.Info().Str("component", "reactor").Msg("tick")

	out := buf.String()
	if !strings.Contains(out, `"component":"reactor"`) {
		t.Errorf("output missing structured field: %s", out)
	}
	if !strings.Contains(out, `"message":"tick"`) {
		t.Errorf("output missing message: %s", out)
	}
}

func TestNewHonorsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "warn", false)
	logger.Info().Msg("should be filtered out")
	logger.Warn().Msg("should appear")

	out := buf.String()
	if strings.Contains(out, "should be filtered out") {
		t.Errorf("info message leaked through a warn-level logger: %s", out)
	}
	if !strings.Contains(out, "should appear") {
		t.Errorf("warn message missing: %s", out)
	}
}

func TestNewFallsBackToInfoOnInvalidLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, "not-a-level", false)
	logger.Debug().Msg("filtered")
	logger.Info().Msg("kept")

	out := buf.String()
	if strings.Contains(out, "filtered") {
		t.Errorf("debug message leaked through default info level: %s", out)
	}
	if !strings.Contains(out, "kept") {
		t.Errorf("info message missing: %s", out)
	}
}

func TestNopDiscardsOutput(t *testing.T) {
	logger := Nop()
	logger.Info().Msg("nobody should see this")
}
