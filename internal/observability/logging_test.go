package observability

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "warn", Format: "text", Output: &buf})

	logger.Info("should be dropped")
	logger.Warn("should appear")

	out := buf.String()
	if strings.Contains(out, "should be dropped") {
		t.Fatal("info record leaked through warn level")
	}
	if !strings.Contains(out, "should appear") {
		t.Fatal("warn record missing")
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "json", Output: &buf})
	logger.Info("hello", "session_id", "s1")

	if !strings.HasPrefix(strings.TrimSpace(buf.String()), "{") {
		t.Fatalf("expected JSON output, got %q", buf.String())
	}
}

func TestLoggerWithContextCorrelation(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Format: "text", Output: &buf})

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	ctx = context.WithValue(ctx, SessionIDKey, "sess-1")
	logger.WithContext(ctx).Info("processing")

	out := buf.String()
	if !strings.Contains(out, "request_id=req-1") {
		t.Fatalf("expected request id in record, got %q", out)
	}
	if !strings.Contains(out, "session_id=sess-1") {
		t.Fatalf("expected session id in record, got %q", out)
	}
}

func TestLoggerWithContextEmpty(t *testing.T) {
	logger := NewLogger(LogConfig{})
	if got := logger.WithContext(context.Background()); got != logger {
		t.Fatal("expected same logger when context carries no correlation fields")
	}
}
