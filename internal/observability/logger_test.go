package observability

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("actor", &buf)
	if l == nil {
		t.Fatal("NewLogger returned nil")
	}
	if l.Component() != "actor" {
		t.Errorf("Component = %q", l.Component())
	}
}

func TestNewLogger_NilWriter(t *testing.T) {
	l := NewLogger("actor", nil)
	if l == nil {
		t.Fatal("NewLogger with nil writer returned nil")
	}
	// Should not panic on log call.
	l.Info("test message")
}

func TestLogger_Info(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("manager", &buf)
	l.Info("hello world", "key", "value")

	output := buf.String()
	if !strings.Contains(output, "hello world") {
		t.Errorf("output missing message: %s", output)
	}
	if !strings.Contains(output, `"component":"manager"`) {
		t.Errorf("output missing component: %s", output)
	}

	var m map[string]any
	if err := json.Unmarshal([]byte(output), &m); err != nil {
		t.Errorf("invalid JSON: %v", err)
	}
}

func TestLogger_With(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("actor", &buf).With("tenant", "acct_1")
	l.Info("scoped")

	if !strings.Contains(buf.String(), `"tenant":"acct_1"`) {
		t.Errorf("persistent field missing: %s", buf.String())
	}
}

func TestLogger_Invocation(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger("actor", &buf)

	l.Invocation("acct_1", "counter.increment", 3*time.Millisecond, nil)
	out := buf.String()
	if !strings.Contains(out, "counter.increment") || !strings.Contains(out, `"tenant":"acct_1"`) {
		t.Errorf("invocation log missing fields: %s", out)
	}

	buf.Reset()
	l.Invocation("acct_1", "lock.release", time.Millisecond, errors.New("holder token mismatch"))
	if !strings.Contains(buf.String(), "holder token mismatch") {
		t.Errorf("error missing from log: %s", buf.String())
	}
}
