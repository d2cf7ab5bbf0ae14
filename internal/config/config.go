// Package config provides the configuration schema, loader, hot-reload watcher
// and backend registry for the livescribe server.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity for the livescribe server.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Level converts l to a [slog.Level]. Unknown values map to info.
func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Config is the root configuration structure for livescribe.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Transcriber TranscriberConfig `yaml:"transcriber"`
	Audio       AudioConfig       `yaml:"audio"`
	Segment     SegmentConfig     `yaml:"segment"`
	Dispatch    DispatchConfig    `yaml:"dispatch"`
	Quality     QualityConfig     `yaml:"quality"`
	Session     SessionConfig     `yaml:"session"`
	MCP         MCPConfig         `yaml:"mcp"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the server listens on (e.g., ":8080").
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS configures TLS for the server. When nil, the server runs plain HTTP.
	TLS *TLSConfig `yaml:"tls"`

	// ShutdownTimeout bounds graceful shutdown, including the final flush of
	// an active session. Default: 2m.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ProviderEntry is the common configuration block shared by transcriber
// backends and audio sources. Name selects the factory in the [Registry].
type ProviderEntry struct {
	// Name selects the registered implementation (e.g., "openai", "whisper").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the backend's API if any.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the backend's default endpoint.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the backend (e.g., "whisper-1").
	Model string `yaml:"model"`

	// Language is an ISO-639-1 hint passed to the transcriber. Empty means
	// auto-detect.
	Language string `yaml:"language"`

	// Options holds implementation-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// TranscriberConfig selects the remote transcription service.
type TranscriberConfig struct {
	// Primary is tried first for every attempt.
	Primary ProviderEntry `yaml:"primary"`

	// Fallbacks are tried in order when the primary fails or its circuit is
	// open.
	Fallbacks []ProviderEntry `yaml:"fallbacks"`

	// Timeout bounds a single transcription attempt. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`

	// CircuitBreaker tunes the per-backend breakers.
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// CircuitBreakerConfig mirrors the resilience package knobs.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// AudioConfig selects and tunes the capture source.
type AudioConfig struct {
	// Source selects the registered audio source ("websocket" or "pcm").
	Source ProviderEntry `yaml:"source"`

	// OpenTimeout bounds acquiring the device. Default: 10s.
	OpenTimeout time.Duration `yaml:"open_timeout"`

	// FragmentInterval is how often the recorder emits a fragment. Default: 1s.
	FragmentInterval time.Duration `yaml:"fragment_interval"`

	// TargetSampleRate, when positive, resamples PCM input to mono at this
	// rate before recording.
	TargetSampleRate int `yaml:"target_sample_rate"`
}

// SegmentConfig tunes the segment scheduler.
type SegmentConfig struct {
	TickInterval time.Duration `yaml:"tick_interval"`
	MinInterval  time.Duration `yaml:"min_interval"`
	MinFragments int           `yaml:"min_fragments"`
	MinBytes     int           `yaml:"min_bytes"`
	MaxBytes     int           `yaml:"max_bytes"`
}

// DispatchConfig tunes retries. Nil counts select the defaults so that an
// explicit 0 can disable retries.
type DispatchConfig struct {
	MaxRetries      *int          `yaml:"max_retries"`
	FinalMaxRetries *int          `yaml:"final_max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
}

// QualityConfig tunes the quality monitor.
type QualityConfig struct {
	Interval   time.Duration `yaml:"interval"`
	WarnAfter  time.Duration `yaml:"warn_after"`
	ErrorAfter time.Duration `yaml:"error_after"`
}

// SessionConfig holds per-session limits.
type SessionConfig struct {
	// MaxDuration caps a recording session. Default: 2h.
	MaxDuration time.Duration `yaml:"max_duration"`
}

// MCPConfig controls the Model Context Protocol control endpoint.
type MCPConfig struct {
	// Enabled mounts the MCP server at /mcp.
	Enabled bool `yaml:"enabled"`
}
