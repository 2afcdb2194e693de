package logging

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name   string
		config *Config
		want   string
	}{
		{
			name:   "default config",
			config: nil,
			want:   "text",
		},
		{
			name: "json format",
			config: &Config{
				Level:  LevelInfo,
				Format: "json",
				Output: &bytes.Buffer{},
			},
			want: "json",
		},
		{
			name: "text format",
			config: &Config{
				Level:  LevelDebug,
				Format: "text",
				Output: &bytes.Buffer{},
			},
			want: "text",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger := NewLogger(tt.config)
			if logger == nil {
				t.Fatal("NewLogger() returned nil")
			}
			if logger.format != tt.want {
				t.Errorf("format = %q, want %q", logger.format, tt.want)
			}
		})
	}
}

func TestLoggerWithFacility(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		NoColor: true,
	}

	logger := NewLogger(config)

	masterLogger := logger.WithFacility("masterconn")
	masterLogger.Info("registering with master")

	output := buf.String()
	if !strings.Contains(output, "[masterconn]") {
		t.Errorf("expected [masterconn] facility tag in output, got: %s", output)
	}

	buf.Reset()
	jobLogger := masterLogger.WithJob(42)
	jobLogger.Debug("job submitted")

	output = buf.String()
	if !strings.Contains(output, "[masterconn]") {
		t.Errorf("expected facility preserved through WithJob, got: %s", output)
	}
	if !strings.Contains(output, "job_id=42") {
		t.Errorf("expected job_id=42 in output, got: %s", output)
	}
}

func TestLoggerWithInode(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "text", Output: &buf, NoColor: true}

	logger := NewLogger(config)
	sessLogger := logger.WithInode(123)
	sessLogger.Debug("session refresh")

	output := buf.String()
	if !strings.Contains(output, "inode=123") {
		t.Errorf("expected inode=123 in output, got: %s", output)
	}
}

func TestLoggerWithError(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelDebug, Format: "text", Output: &buf, NoColor: true}

	logger := NewLogger(config)
	testErr := errors.New("connection refused")
	errorLogger := logger.WithError(testErr)
	errorLogger.Error("registration failed")

	output := buf.String()
	if !strings.Contains(output, "connection refused") {
		t.Errorf("expected wrapped error in output, got: %s", output)
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{Level: LevelWarn, Format: "text", Output: &buf, NoColor: true}
	logger := NewLogger(config)

	logger.Debug("should be suppressed")
	logger.Info("also suppressed")
	if buf.Len() != 0 {
		t.Errorf("expected no output below configured level, got: %s", buf.String())
	}

	logger.Warn("should appear")
	if !strings.Contains(buf.String(), "should appear") {
		t.Errorf("expected warn message to be logged, got: %s", buf.String())
	}
}

func TestGlobalLoggerFunctions(t *testing.T) {
	var buf bytes.Buffer
	config := &Config{
		Level:   LevelDebug,
		Format:  "text",
		Output:  &buf,
		NoColor: true,
	}

	SetDefault(NewLogger(config))

	Debug("debug message", "key", "value")
	output := buf.String()
	if !strings.Contains(output, "debug message") {
		t.Errorf("expected debug message, got: %s", output)
	}
	if !strings.Contains(output, "key=value") {
		t.Errorf("expected key=value, got: %s", output)
	}

	buf.Reset()
	Info("info message")
	if !strings.Contains(buf.String(), "info message") {
		t.Errorf("expected info message, got: %s", buf.String())
	}

	buf.Reset()
	Warn("warning message")
	if !strings.Contains(buf.String(), "warning message") {
		t.Errorf("expected warning message, got: %s", buf.String())
	}

	buf.Reset()
	Error("error message")
	if !strings.Contains(buf.String(), "error message") {
		t.Errorf("expected error message, got: %s", buf.String())
	}
}
