package resilience

import (
	"context"

	"github.com/MrWong99/livescribe/pkg/provider/transcriber"
)

// TranscriberFallback implements [transcriber.Provider] with automatic failover
// across multiple transcription backends. Each backend has its own circuit
// breaker.
type TranscriberFallback struct {
	group *FallbackGroup[transcriber.Provider]
}

// Compile-time interface assertion.
var _ transcriber.Provider = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary transcriber.Provider, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional backend, tried after those already added.
func (f *TranscriberFallback) AddFallback(name string, p transcriber.Provider) {
	f.group.AddFallback(name, p)
}

// Transcribe sends audio to the first healthy backend. If it fails, the next
// one is tried with the same ctx, so the caller's deadline bounds the whole
// chain.
func (f *TranscriberFallback) Transcribe(ctx context.Context, audio []byte, contentType string) (transcriber.Result, error) {
	return ExecuteWithResult(f.group, func(p transcriber.Provider) (transcriber.Result, error) {
		return p.Transcribe(ctx, audio, contentType)
	})
}

// Status reports the breaker state of every backend, primary first.
func (f *TranscriberFallback) Status() []EntryStatus {
	return f.group.Status()
}

// Available reports whether any backend currently accepts calls.
func (f *TranscriberFallback) Available() bool {
	return f.group.Available()
}
