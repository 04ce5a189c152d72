package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestLogger_JSONWithFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: Info, Format: FormatJSON, App: "clinical-coding", Output: &buf}).
		With(map[string]any{"component": "reconciler"})

	l.Debug("hidden", nil)
	l.Warn("analytics push failed", map[string]any{"episode_id": "ep-1", "": "ignored"})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (debug filtered), got %d: %q", len(lines), buf.String())
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	for k, want := range map[string]string{
		"level":      "warn",
		"msg":        "analytics push failed",
		"app":        "clinical-coding",
		"component":  "reconciler",
		"episode_id": "ep-1",
	} {
		if entry[k] != want {
			t.Fatalf("expected %s=%q, got %v", k, want, entry[k])
		}
	}
	if _, ok := entry[""]; ok {
		t.Fatalf("blank keys must be dropped")
	}
}

func TestLogger_TextSortedKeys(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Level: Debug, Output: &buf}).Info("hello", map[string]any{"b": 2, "a": 1})

	line := buf.String()
	if !strings.Contains(line, "a=1 b=2 level=info msg=hello") {
		t.Fatalf("unexpected text line: %q", line)
	}
}

func TestNop_Discards(t *testing.T) {
	Nop().Error("nothing", map[string]any{"x": 1})
}

func TestParseLevelAndFormat(t *testing.T) {
	if ParseLevel("WARNING") != Warn || ParseLevel("") != Info {
		t.Fatalf("unexpected level parsing")
	}
	if ParseFormat("JSON") != FormatJSON || ParseFormat("xml") != FormatText {
		t.Fatalf("unexpected format parsing")
	}
}

func TestLogger_RedactsClinicalAndCredentialKeys(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: Debug, Format: FormatJSON, Output: &buf, Redact: []string{"X-Api-Key"}}).
		With(map[string]any{"NHS_Number": "943 476 5919"})

	l.Info("episode loaded", map[string]any{
		"patient_name": "Jane Doe",
		"x-api-key":    "k",
		"episode_id":   "ep-1",
	})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	for _, k := range []string{"NHS_Number", "patient_name", "x-api-key"} {
		if entry[k] != "[redacted]" {
			t.Fatalf("expected %s to be redacted, got %v", k, entry[k])
		}
	}
	if entry["episode_id"] != "ep-1" {
		t.Fatalf("expected episode_id in clear, got %v", entry["episode_id"])
	}
}

func TestLogger_NormalizesErrorsAndDurations(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Level: Debug, Format: FormatJSON, Output: &buf}).
		Error("push failed", map[string]any{"error": errors.New("boom"), "took": 1500 * time.Millisecond})

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	if entry["error"] != "boom" || entry["took"] != "1.5s" {
		t.Fatalf("unexpected normalized fields: %v", entry)
	}
}

func TestLogger_TextQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	New(Options{Level: Debug, Output: &buf}).Info("x", map[string]any{"reason": "not configured"})

	if !strings.Contains(buf.String(), `reason="not configured"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestContext_RoundTripAndFallback(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Level: Debug, Output: &buf})

	FromContext(IntoContext(context.Background(), l)).Info("from ctx", nil)
	if !strings.Contains(buf.String(), "msg=\"from ctx\"") {
		t.Fatalf("expected line from context logger, got %q", buf.String())
	}

	FromContext(context.Background()).Error("discarded", nil)
}
