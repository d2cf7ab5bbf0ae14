package config_test

import (
	"log/slog"
	"strings"
	"testing"

	"github.com/MrWong99/livescribe/internal/config"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "invalid log level",
			yaml:    "server:\n  log_level: bananas\n",
			wantErr: "server.log_level",
		},
		{
			name:    "tls without key",
			yaml:    "server:\n  tls:\n    cert_file: cert.pem\n",
			wantErr: "server.tls",
		},
		{
			name:    "unnamed fallback",
			yaml:    "transcriber:\n  fallbacks:\n    - base_url: http://x\n",
			wantErr: "transcriber.fallbacks[0].name",
		},
		{
			name:    "min bytes above max bytes",
			yaml:    "segment:\n  min_bytes: 2000\n  max_bytes: 1000\n",
			wantErr: "segment.min_bytes",
		},
		{
			name:    "negative retries",
			yaml:    "dispatch:\n  max_retries: -1\n",
			wantErr: "dispatch.max_retries",
		},
		{
			name:    "warn after not before error after",
			yaml:    "quality:\n  warn_after: 3m\n  error_after: 2m\n",
			wantErr: "quality.warn_after",
		},
		{
			name:    "negative min fragments",
			yaml:    "segment:\n  min_fragments: -2\n",
			wantErr: "segment.min_fragments",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tt.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error should mention %q, got: %v", tt.wantErr, err)
			}
		})
	}
}

func TestValidate_ReportsAllErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: loud
dispatch:
  max_retries: -1
  final_max_retries: -1
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "dispatch.max_retries", "dispatch.final_max_retries"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error should mention %q, got: %v", want, err)
		}
	}
}

func TestValidate_UnknownProviderIsOnlyAWarning(t *testing.T) {
	t.Parallel()
	yaml := `
transcriber:
  primary:
    name: my-custom-backend
`
	if _, err := config.LoadFromReader(strings.NewReader(yaml)); err != nil {
		t.Fatalf("unknown provider names should not fail validation: %v", err)
	}
}

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	if config.LogLevel("trace").IsValid() {
		t.Error(`"trace" should be invalid`)
	}
}

func TestLogLevel_Level(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in   config.LogLevel
		want slog.Level
	}{
		{config.LogDebug, slog.LevelDebug},
		{config.LogInfo, slog.LevelInfo},
		{config.LogWarn, slog.LevelWarn},
		{config.LogError, slog.LevelError},
		{"", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := tt.in.Level(); got != tt.want {
			t.Errorf("LogLevel(%q).Level() = %v, want %v", tt.in, got, tt.want)
		}
	}
}
