package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/livescribe/internal/capture"
)

// Default tuning values.
const (
	DefaultTickInterval    = time.Second
	DefaultMinInterval     = 15 * time.Second
	DefaultMinFragments    = 5
	DefaultMinBytes        = 10000
	DefaultMaxBytes        = 24 * 1024 * 1024
	DefaultMaxRetries      = 2
	DefaultFinalMaxRetries = 4
	DefaultRetryBaseDelay  = time.Second
	DefaultAttemptTimeout  = 30 * time.Second
	DefaultQualityInterval = 10 * time.Second
	DefaultWarnAfter       = 60 * time.Second
	DefaultErrorAfter      = 120 * time.Second
	DefaultMaxDuration     = 2 * time.Hour
)

// Config tunes one recording session.
//
// Use [DefaultConfig] as the starting point: zero counts are meaningful
// (MaxRetries 0 disables retries, MinFragments 0 disables the fragment gate),
// so only zero durations and a zero MaxBytes are replaced by defaults.
type Config struct {
	// TickInterval is how often the scheduler wakes up.
	TickInterval time.Duration

	// MinInterval is the minimum time between two segment freezes.
	MinInterval time.Duration

	// MinFragments, MinBytes and MaxBytes gate which frozen segments are sent.
	MinFragments int
	MinBytes     int
	MaxBytes     int

	// MaxRetries is the number of additional attempts for a regular segment.
	MaxRetries int

	// FinalMaxRetries is the number of additional attempts for the segment
	// flushed on stop.
	FinalMaxRetries int

	// RetryBaseDelay is multiplied by the attempt number to get the delay
	// before the next attempt.
	RetryBaseDelay time.Duration

	// AttemptTimeout bounds a single call to the transcriber.
	AttemptTimeout time.Duration

	// QualityInterval is how often the quality state is recomputed.
	QualityInterval time.Duration

	// WarnAfter and ErrorAfter are the quality thresholds measured from the
	// last successful transcription.
	WarnAfter  time.Duration
	ErrorAfter time.Duration

	// MaxDuration caps the session length.
	MaxDuration time.Duration

	// Capture configures the capture controller.
	Capture capture.Config
}

// DefaultConfig returns a Config with every field set to its default.
func DefaultConfig() Config {
	return Config{
		TickInterval:    DefaultTickInterval,
		MinInterval:     DefaultMinInterval,
		MinFragments:    DefaultMinFragments,
		MinBytes:        DefaultMinBytes,
		MaxBytes:        DefaultMaxBytes,
		MaxRetries:      DefaultMaxRetries,
		FinalMaxRetries: DefaultFinalMaxRetries,
		RetryBaseDelay:  DefaultRetryBaseDelay,
		AttemptTimeout:  DefaultAttemptTimeout,
		QualityInterval: DefaultQualityInterval,
		WarnAfter:       DefaultWarnAfter,
		ErrorAfter:      DefaultErrorAfter,
		MaxDuration:     DefaultMaxDuration,
	}
}

func (c *Config) applyDefaults() {
	if c.TickInterval <= 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.MinInterval < 0 {
		c.MinInterval = 0
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.RetryBaseDelay < 0 {
		c.RetryBaseDelay = 0
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = DefaultAttemptTimeout
	}
	if c.QualityInterval <= 0 {
		c.QualityInterval = DefaultQualityInterval
	}
	if c.WarnAfter <= 0 {
		c.WarnAfter = DefaultWarnAfter
	}
	if c.ErrorAfter <= 0 {
		c.ErrorAfter = DefaultErrorAfter
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = DefaultMaxDuration
	}
}

// Validate reports every inconsistent field at once.
func (c Config) Validate() error {
	var errs []error
	if c.MinFragments < 0 {
		errs = append(errs, fmt.Errorf("min_fragments must be >= 0, got %d", c.MinFragments))
	}
	if c.MinBytes < 0 {
		errs = append(errs, fmt.Errorf("min_bytes must be >= 0, got %d", c.MinBytes))
	}
	if c.MaxBytes > 0 && c.MinBytes > c.MaxBytes {
		errs = append(errs, fmt.Errorf("min_bytes (%d) must not exceed max_bytes (%d)", c.MinBytes, c.MaxBytes))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("max_retries must be >= 0, got %d", c.MaxRetries))
	}
	if c.FinalMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("final_max_retries must be >= 0, got %d", c.FinalMaxRetries))
	}
	if c.WarnAfter > 0 && c.ErrorAfter > 0 && c.WarnAfter >= c.ErrorAfter {
		errs = append(errs, fmt.Errorf("warn_after (%s) must be shorter than error_after (%s)", c.WarnAfter, c.ErrorAfter))
	}
	return errors.Join(errs...)
}
