package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("decode %q: %v", line, err)
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestContextFieldsFollowTheContext(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Environment: "test", Level: zerolog.DebugLevel, Output: buf})

	base := log.WithRequestID(context.Background(), "req-123")
	withTx := log.WithTransactionID(base, "ABCDEF0123456789ABCD")
	log.Error(withTx, "charge failed", errors.New("declined"))
	log.Info(base, "request done")

	entries := decodeLines(t, buf)
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	first, second := entries[0], entries[1]
	if first["request_id"] != "req-123" || first["transaction_id"] != "ABCDEF0123456789ABCD" {
		t.Fatalf("missing context fields: %v", first)
	}
	if first["error"] != "declined" || first["stack"] == nil {
		t.Fatalf("expected error and stack: %v", first)
	}
	if first["service"] != "api" || first["env"] != "test" {
		t.Fatalf("missing static fields: %v", first)
	}
	if _, leaked := second["transaction_id"]; leaked {
		t.Fatalf("child field leaked into parent context: %v", second)
	}
}

func TestWithFieldsMergesMap(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "worker", Output: buf})

	ctx := log.WithFields(context.Background(), map[string]any{"event_id": "e-1", "attempt": 2})
	if same := log.WithFields(ctx, nil); same != ctx {
		t.Fatal("empty field map should return the same context")
	}
	log.Info(ctx, "handled")

	entry := decodeLines(t, buf)[0]
	if entry["event_id"] != "e-1" || entry["attempt"] != float64(2) {
		t.Fatalf("unexpected entry %v", entry)
	}
}

func TestWarnStackIsOptIn(t *testing.T) {
	for _, withStack := range []bool{true, false} {
		buf := &bytes.Buffer{}
		log := New(Options{ServiceName: "api", Output: buf, WarnStack: withStack})
		log.Warn(context.Background(), "slow query")
		_, has := decodeLines(t, buf)[0]["stack"]
		if has != withStack {
			t.Fatalf("WarnStack=%v but stack present=%v", withStack, has)
		}
	}
}

func TestLevelFilters(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Level: ParseLevel("warn"), Output: buf})
	log.Info(context.Background(), "quiet")
	log.Error(context.Background(), "also quiet?", nil)
	if entries := decodeLines(t, buf); len(entries) != 1 || entries[0]["level"] != "error" {
		t.Fatalf("expected only the error entry, got %v", entries)
	}
}

func TestConsoleFormat(t *testing.T) {
	buf := &bytes.Buffer{}
	log := New(Options{ServiceName: "api", Format: "Console", Output: buf})
	log.Info(context.Background(), "hello")
	if strings.HasPrefix(buf.String(), "{") || !strings.Contains(buf.String(), "hello") {
		t.Fatalf("expected console output, got %q", buf.String())
	}
}

func TestNopWritesNothing(t *testing.T) {
	log := Nop()
	ctx := log.WithField(context.Background(), "k", "v")
	log.Error(ctx, "ignored", errors.New("x"))
}

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"":        zerolog.InfoLevel,
		"invalid": zerolog.InfoLevel,
		" DEBUG ": zerolog.DebugLevel,
		"error":   zerolog.ErrorLevel,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
