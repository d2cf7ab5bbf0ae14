package session

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyResult is an attempt failure: the transcriber returned only
	// whitespace.
	ErrEmptyResult = errors.New("session: empty transcription result")

	// ErrRemoteFailure wraps any error returned by the transcriber.
	ErrRemoteFailure = errors.New("session: transcription service failure")

	// ErrTimeout is an attempt failure: the transcriber did not answer within
	// the attempt timeout.
	ErrTimeout = errors.New("session: transcription timed out")

	// ErrSessionActive is returned when starting a session while another one is
	// still capturing or stopping.
	ErrSessionActive = errors.New("session: a session is already active")

	// ErrNoSession is returned by operations that need a running session.
	ErrNoSession = errors.New("session: no active session")

	// ErrShuttingDown is returned when starting a session after the server
	// began shutting down.
	ErrShuttingDown = errors.New("session: shutting down")
)

// State is the lifecycle state of a [Session].
type State int

const (
	StateIdle State = iota
	StateCapturing
	StateStopping
	StateStopped
)

// String returns the lower-case name of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateCapturing:
		return "capturing"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Active reports whether a session in this state still holds the audio
// source.
func (s State) Active() bool {
	return s == StateCapturing || s == StateStopping
}

// Quality is the derived transcription health indicator.
type Quality int

const (
	QualityGood Quality = iota
	QualityWarning
	QualityError
)

// String returns the lower-case name of the quality state.
func (q Quality) String() string {
	switch q {
	case QualityGood:
		return "good"
	case QualityWarning:
		return "warning"
	case QualityError:
		return "error"
	default:
		return fmt.Sprintf("Quality(%d)", int(q))
	}
}

// MarshalText implements [encoding.TextMarshaler].
func (q Quality) MarshalText() ([]byte, error) { return []byte(q.String()), nil }

// EndReason says why a session stopped.
type EndReason string

const (
	EndUserStop    EndReason = "user_stop"
	EndDurationCap EndReason = "duration_cap"
	EndDeviceError EndReason = "device_error"
	EndShutdown    EndReason = "shutdown"
)

// message returns the human-readable text attached to session_ended.
func (r EndReason) message() string {
	switch r {
	case EndUserStop:
		return "Recording stopped."
	case EndDurationCap:
		return "Maximum recording duration reached."
	case EndDeviceError:
		return "The audio device stopped delivering audio."
	case EndShutdown:
		return "The server is shutting down."
	default:
		return "Recording ended."
	}
}

// IgnoreReason says why a frozen segment was dropped without dispatch.
type IgnoreReason string

const (
	IgnoreUndersized IgnoreReason = "undersized_segment"
	IgnoreOversized  IgnoreReason = "oversized_segment"
)

// Stats holds the per-session counters.
type Stats struct {
	SegmentsSent     int `json:"segments_sent"`
	SegmentsIgnored  int `json:"segments_ignored"`
	Successes        int `json:"successes"`
	Failures         int `json:"failures"`
	WordsTranscribed int `json:"words_transcribed"`
	Attempts         int `json:"attempts"`
}
