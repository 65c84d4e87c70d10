package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

func readLog(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}
	return string(data)
}

func TestNewFileLogger(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "nested", "dir", "test.log")

	logger, err := NewFileLogger(FileLoggerConfig{Path: logPath, Format: FormatText, Level: InfoLevel})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}
	defer logger.Close()

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("Log file was not created")
	}
}

func TestFileLogger_LogLevels(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	logger, err := NewFileLogger(FileLoggerConfig{Path: logPath, Format: FormatText, Level: WarnLevel})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	ctx := context.Background()
	logger.Debug(ctx, "debug message", nil)
	logger.Info(ctx, "info message", nil)
	logger.Warn(ctx, "warn message", nil)
	logger.Error(ctx, "error message", nil, nil)
	logger.Close()

	content := readLog(t, logPath)
	if strings.Contains(content, "debug message") || strings.Contains(content, "info message") {
		t.Error("Messages below WarnLevel should be filtered")
	}
	if !strings.Contains(content, "warn message") || !strings.Contains(content, "error message") {
		t.Errorf("Expected warn and error messages, got: %s", content)
	}
}

func TestFileLogger_JSONFormat(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	logger, err := NewFileLogger(FileLoggerConfig{Path: logPath, Format: FormatJSON, Level: DebugLevel})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	logger.Error(context.Background(), "transfer failed", errors.New("reset"), Fields{"key": "a.png", "bytes": 42})
	logger.Close()

	var entry map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(readLog(t, logPath))), &entry); err != nil {
		t.Fatalf("Log line is not JSON: %v", err)
	}
	if entry["msg"] != "transfer failed" {
		t.Errorf("msg = %v, want transfer failed", entry["msg"])
	}
	if entry["level"] != "ERROR" {
		t.Errorf("level = %v, want ERROR", entry["level"])
	}
	if entry["error"] != "reset" {
		t.Errorf("error = %v, want reset", entry["error"])
	}
	if entry["key"] != "a.png" {
		t.Errorf("key = %v, want a.png", entry["key"])
	}
}

func TestFileLogger_WithFields(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	logger, err := NewFileLogger(FileLoggerConfig{Path: logPath, Format: FormatText, Level: InfoLevel})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	child := logger.WithFields(Fields{"job": "sync_abc"})
	child.Info(context.Background(), "started", Fields{"run": 1})
	if err := child.Close(); err != nil {
		t.Errorf("child Close() error = %v", err)
	}
	logger.Info(context.Background(), "parent still open", nil)
	logger.Close()

	content := readLog(t, logPath)
	if !strings.Contains(content, "job=sync_abc") || !strings.Contains(content, "run=1") {
		t.Errorf("Expected inherited fields, got: %s", content)
	}
	if !strings.Contains(content, "parent still open") {
		t.Error("Closing a child logger must not close the shared file")
	}
}

func TestFileLogger_Rotation(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	logger, err := NewFileLogger(FileLoggerConfig{
		Path:       logPath,
		Format:     FormatText,
		Level:      InfoLevel,
		MaxSize:    200,
		MaxBackups: 2,
	})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	for i := 0; i < 20; i++ {
		logger.Info(context.Background(), strings.Repeat("x", 50), nil)
	}
	logger.Close()

	if _, err := os.Stat(logPath + ".1"); err != nil {
		t.Error("Expected first backup to exist")
	}
	if _, err := os.Stat(logPath + ".2"); err != nil {
		t.Error("Expected second backup to exist")
	}
	if _, err := os.Stat(logPath + ".3"); !os.IsNotExist(err) {
		t.Error("Backups beyond MaxBackups should be removed")
	}
}

func TestFileLogger_ConcurrentWrites(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "test.log")
	logger, err := NewFileLogger(FileLoggerConfig{Path: logPath, Format: FormatJSON, Level: InfoLevel})
	if err != nil {
		t.Fatalf("NewFileLogger() error = %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				logger.Info(context.Background(), "concurrent", Fields{"worker": n})
			}
		}(i)
	}
	wg.Wait()
	logger.Close()

	lines := strings.Split(strings.TrimSpace(readLog(t, logPath)), "\n")
	if len(lines) != 100 {
		t.Errorf("Expected 100 lines, got %d", len(lines))
	}
	for _, line := range lines {
		if !json.Valid([]byte(line)) {
			t.Fatalf("Interleaved write produced invalid JSON: %s", line)
		}
	}
}

func TestConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := NewConsoleLogger(&buf, InfoLevel, true)

	logger.Debug(context.Background(), "hidden", nil)
	logger.Info(context.Background(), "visible", Fields{"bucket": "backup"})

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Error("Debug message should be filtered at InfoLevel")
	}
	if !strings.Contains(out, "visible") || !strings.Contains(out, "bucket=backup") {
		t.Errorf("unexpected console output: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("NoColor output should not contain ANSI escapes")
	}
}

func TestMulti(t *testing.T) {
	var a, b bytes.Buffer
	logger := Multi(NewConsoleLogger(&a, DebugLevel, true), nil, NewConsoleLogger(&b, DebugLevel, true))

	logger.WithFields(Fields{"k": "v"}).Warn(context.Background(), "both", nil)

	for name, buf := range map[string]*bytes.Buffer{"a": &a, "b": &b} {
		if !strings.Contains(buf.String(), "both") || !strings.Contains(buf.String(), "k=v") {
			t.Errorf("logger %s missing entry: %q", name, buf.String())
		}
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestNullLogger(t *testing.T) {
	var logger Logger = NewNullLogger()
	logger.Info(context.Background(), "ignored", nil)
	if logger.WithFields(Fields{"a": 1}) != logger {
		t.Error("WithFields should return the same null logger")
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected Level
	}{
		{"debug", DebugLevel},
		{"DEBUG", DebugLevel},
		{"info", InfoLevel},
		{"warning", WarnLevel},
		{"error", ErrorLevel},
		{"bogus", InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := ParseLevel(tt.input); got != tt.expected {
				t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestLevelString(t *testing.T) {
	if LevelString(WarnLevel) != "WARN" {
		t.Errorf("LevelString(WarnLevel) = %s", LevelString(WarnLevel))
	}
	if LevelString(Level(42)) != "UNKNOWN" {
		t.Errorf("LevelString(42) = %s", LevelString(Level(42)))
	}
}
