package obslog

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func TestNewLoggerDefaults(t *testing.T) {
	logger := NewLogger(LogConfig{})
	if logger == nil {
		t.Fatal("NewLogger returned nil")
	}
}

func TestLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info(context.Background(), "test message", "key", "value", "number", 42)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("expected valid JSON, got %q: %v", buf.String(), err)
	}
	if entry["message"] != "test message" {
		t.Errorf("expected message field, got %+v", entry)
	}
	if entry["key"] != "value" {
		t.Errorf("expected key=value field, got %+v", entry)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "error", Format: "json", Output: &buf})

	ctx := context.Background()
	logger.Info(ctx, "should be dropped")
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered at error level, got %q", buf.String())
	}

	logger.Error(ctx, "should appear")
	if buf.Len() == 0 {
		t.Fatal("expected error-level message to be written")
	}
}

func TestLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-123")
	ctx = context.WithValue(ctx, SessionIDKey, "sess-456")

	logger.Info(ctx, "test message")

	output := buf.String()
	if !strings.Contains(output, "req-123") || !strings.Contains(output, "sess-456") {
		t.Errorf("expected context fields in output, got %q", output)
	}
}

func TestLoggerRedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.Info(context.Background(), "minted key sk-ant-"+strings.Repeat("a", 100))

	if strings.Contains(buf.String(), "sk-ant-aaa") {
		t.Fatalf("expected secret to be redacted, got %q", buf.String())
	}
	if !strings.Contains(buf.String(), "[REDACTED]") {
		t.Fatalf("expected redaction marker, got %q", buf.String())
	}
}

func TestLoggerRedactsSensitiveFieldNames(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(LogConfig{Level: "info", Format: "json", Output: &buf})

	logger.WithFields(map[string]any{"password": "hunter2", "component": "agent"}).
		Info(context.Background(), "configured")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if entry["password"] != "[REDACTED]" {
		t.Errorf("expected password field redacted, got %+v", entry)
	}
	if entry["component"] != "agent" {
		t.Errorf("expected non-sensitive field preserved, got %+v", entry)
	}
}
