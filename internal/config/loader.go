package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/MrWong99/livescribe/internal/capture"
	"github.com/MrWong99/livescribe/internal/session"
	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultShutdownTimeout   = 2 * time.Minute
	DefaultTranscribeTimeout = session.DefaultAttemptTimeout
	DefaultOpenTimeout       = capture.DefaultOpenTimeout
	DefaultFragmentInterval  = capture.DefaultFragmentInterval
	DefaultTickInterval      = session.DefaultTickInterval
	DefaultMinInterval       = session.DefaultMinInterval
	DefaultMinFragments      = session.DefaultMinFragments
	DefaultMinBytes          = session.DefaultMinBytes
	DefaultMaxBytes          = session.DefaultMaxBytes
	DefaultMaxRetries        = session.DefaultMaxRetries
	DefaultFinalMaxRetries   = session.DefaultFinalMaxRetries
	DefaultRetryBaseDelay    = session.DefaultRetryBaseDelay
	DefaultQualityInterval   = session.DefaultQualityInterval
	DefaultWarnAfter         = session.DefaultWarnAfter
	DefaultErrorAfter        = session.DefaultErrorAfter
	DefaultMaxDuration       = session.DefaultMaxDuration
	DefaultAudioSource       = "websocket"
	DefaultTranscriber       = "whisper"
)

// ValidProviderNames lists known implementation names per kind.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = map[string][]string{
	"transcriber": {"whisper", "openai"},
	"audio":       {"websocket", "pcm"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and validates
// the result. An empty document yields the default configuration.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadBytes is LoadFromReader over an in-memory document.
func loadBytes(data []byte) (*Config, error) {
	return LoadFromReader(bytes.NewReader(data))
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field of cfg.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)
	setDefault(&cfg.Server.ShutdownTimeout, DefaultShutdownTimeout)

	setDefault(&cfg.Transcriber.Primary.Name, DefaultTranscriber)
	setDefault(&cfg.Transcriber.Timeout, DefaultTranscribeTimeout)

	setDefault(&cfg.Audio.Source.Name, DefaultAudioSource)
	setDefault(&cfg.Audio.OpenTimeout, DefaultOpenTimeout)
	setDefault(&cfg.Audio.FragmentInterval, DefaultFragmentInterval)

	setDefault(&cfg.Segment.TickInterval, DefaultTickInterval)
	setDefault(&cfg.Segment.MinInterval, DefaultMinInterval)
	setDefault(&cfg.Segment.MinFragments, DefaultMinFragments)
	setDefault(&cfg.Segment.MinBytes, DefaultMinBytes)
	setDefault(&cfg.Segment.MaxBytes, DefaultMaxBytes)

	if cfg.Dispatch.MaxRetries == nil {
		cfg.Dispatch.MaxRetries = new(int)
		*cfg.Dispatch.MaxRetries = DefaultMaxRetries
	}
	if cfg.Dispatch.FinalMaxRetries == nil {
		cfg.Dispatch.FinalMaxRetries = new(int)
		*cfg.Dispatch.FinalMaxRetries = DefaultFinalMaxRetries
	}
	setDefault(&cfg.Dispatch.RetryBaseDelay, DefaultRetryBaseDelay)

	setDefault(&cfg.Quality.Interval, DefaultQualityInterval)
	setDefault(&cfg.Quality.WarnAfter, DefaultWarnAfter)
	setDefault(&cfg.Quality.ErrorAfter, DefaultErrorAfter)

	setDefault(&cfg.Session.MaxDuration, DefaultMaxDuration)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Transcriber
	validateProviderName("transcriber", cfg.Transcriber.Primary.Name)
	for i, fb := range cfg.Transcriber.Fallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("transcriber.fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("transcriber", fb.Name)
	}
	if cfg.Transcriber.Timeout < 0 {
		errs = append(errs, fmt.Errorf("transcriber.timeout must not be negative, got %s", cfg.Transcriber.Timeout))
	}
	if cb := cfg.Transcriber.CircuitBreaker; cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("transcriber.circuit_breaker values must not be negative"))
	}

	// Audio
	validateProviderName("audio", cfg.Audio.Source.Name)
	if cfg.Audio.TargetSampleRate < 0 {
		errs = append(errs, fmt.Errorf("audio.target_sample_rate must not be negative, got %d", cfg.Audio.TargetSampleRate))
	}

	// Segment
	if cfg.Segment.MinFragments < 0 {
		errs = append(errs, fmt.Errorf("segment.min_fragments must not be negative, got %d", cfg.Segment.MinFragments))
	}
	if cfg.Segment.MinBytes < 0 {
		errs = append(errs, fmt.Errorf("segment.min_bytes must not be negative, got %d", cfg.Segment.MinBytes))
	}
	if cfg.Segment.MaxBytes > 0 && cfg.Segment.MinBytes > cfg.Segment.MaxBytes {
		errs = append(errs, fmt.Errorf("segment.min_bytes (%d) must not exceed segment.max_bytes (%d)", cfg.Segment.MinBytes, cfg.Segment.MaxBytes))
	}
	if cfg.Segment.TickInterval > 0 && cfg.Segment.MinInterval > 0 && cfg.Segment.TickInterval > cfg.Segment.MinInterval {
		slog.Warn("segment.tick_interval is longer than segment.min_interval; segments will be frozen once per tick",
			"tick_interval", cfg.Segment.TickInterval,
			"min_interval", cfg.Segment.MinInterval,
		)
	}

	// Dispatch
	if r := cfg.Dispatch.MaxRetries; r != nil && *r < 0 {
		errs = append(errs, fmt.Errorf("dispatch.max_retries must not be negative, got %d", *r))
	}
	if r := cfg.Dispatch.FinalMaxRetries; r != nil && *r < 0 {
		errs = append(errs, fmt.Errorf("dispatch.final_max_retries must not be negative, got %d", *r))
	}

	// Quality
	if q := cfg.Quality; q.WarnAfter > 0 && q.ErrorAfter > 0 && q.WarnAfter >= q.ErrorAfter {
		errs = append(errs, fmt.Errorf("quality.warn_after (%s) must be shorter than quality.error_after (%s)", q.WarnAfter, q.ErrorAfter))
	}

	// Session
	if cfg.Session.MaxDuration < 0 {
		errs = append(errs, fmt.Errorf("session.max_duration must not be negative, got %s", cfg.Session.MaxDuration))
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party backend",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
