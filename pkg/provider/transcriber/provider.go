// Package transcriber defines the Provider interface for batch speech-to-text
// backends.
//
// A transcriber accepts one complete audio segment (a few seconds to a few
// minutes of speech in a single encoded payload) and returns its text. It is
// the remote service boundary of the live capture pipeline: the pipeline
// decides when to send, how often to retry and what to do with the text; the
// provider only performs one request per call.
//
// Implementations must be safe for concurrent use.
package transcriber

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyAudio is returned by providers when called with a zero-length payload.
var ErrEmptyAudio = errors.New("transcriber: empty audio payload")

// Result is the outcome of a successful transcription request. Text may be
// empty if the service accepted the audio but recognised no speech; callers
// decide whether that counts as a failure.
type Result struct {
	// Text is the recognised transcript, as returned by the service.
	Text string

	// Language is the detected or forced language tag, if the service reports one.
	Language string

	// Duration is the audio length reported by the service, if any.
	Duration time.Duration
}

// Provider is the abstraction over any batch transcription backend.
type Provider interface {
	// Transcribe sends audio, encoded as contentType (a MIME type such as
	// "audio/webm" or "audio/pcm"), and returns the recognised text.
	//
	// Returns an error for transport failures, non-success service responses,
	// or when ctx is cancelled or its deadline passes. Implementations must
	// honour ctx for the entire request.
	Transcribe(ctx context.Context, audio []byte, contentType string) (Result, error)
}

// Func adapts an ordinary function to the [Provider] interface.
type Func func(ctx context.Context, audio []byte, contentType string) (Result, error)

// Transcribe calls f.
func (f Func) Transcribe(ctx context.Context, audio []byte, contentType string) (Result, error) {
	return f(ctx, audio, contentType)
}
