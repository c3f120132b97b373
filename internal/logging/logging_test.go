package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestJSONLoggerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "debug", Format: "json", Output: &buf}).With(String("session", "s1"))

	log.Warn(context.Background(), "unbalanced", Int("code", 1), Int64("time", 3600), Err(errors.New("boom")))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log line %q: %v", buf.String(), err)
	}
	if rec["msg"] != "unbalanced" || rec["level"] != "WARN" {
		t.Fatalf("unexpected record %v", rec)
	}
	if rec["session"] != "s1" || rec["code"] != float64(1) || rec["time"] != float64(3600) || rec["error"] != "boom" {
		t.Fatalf("missing fields in %v", rec)
	}
}

func TestLevelFiltersDebug(t *testing.T) {
	var buf bytes.Buffer
	log := New(Config{Level: "warn", Output: &buf})
	log.Debug(context.Background(), "hidden")
	log.Info(context.Background(), "hidden")
	log.Error(context.Background(), "shown")
	if strings.Contains(buf.String(), "hidden") || !strings.Contains(buf.String(), "shown") {
		t.Fatalf("level filter output %q", buf.String())
	}
}

func TestRunAndRequestIDsAreStable(t *testing.T) {
	ctx, id := EnsureRunID(context.Background())
	if id == "" {
		t.Fatalf("empty run id")
	}
	if _, again := EnsureRunID(ctx); again != id {
		t.Fatalf("run id changed from %s to %s", id, again)
	}

	ctx, req := EnsureRequestID(ctx)
	if RequestIDFromContext(ctx) != req {
		t.Fatalf("request id not stored on context")
	}

	var buf bytes.Buffer
	_, log := WithRunLogger(ctx, New(Config{Format: "json", Output: &buf}))
	log.Info(ctx, "run started")
	if !strings.Contains(buf.String(), id) {
		t.Fatalf("log line %q lacks run id %s", buf.String(), id)
	}
}

func TestLoggerFromContext(t *testing.T) {
	if LoggerFromContext(context.Background()) != nil {
		t.Fatalf("expected no logger on a bare context")
	}
	ctx := ContextWithLogger(context.Background(), nil)
	if _, ok := LoggerFromContext(ctx).(noopLogger); !ok {
		t.Fatalf("nil logger should be stored as a no-op logger")
	}
}
