// Package mock provides a test double for the transcriber package interface.
//
// Provider returns scripted responses in call order. Each entry of Responses
// is consumed by one Transcribe call; once exhausted, the last entry repeats.
//
// Example:
//
//	p := &mock.Provider{Responses: []mock.Response{
//	    {Err: errors.New("503")},
//	    {Result: transcriber.Result{Text: "bonjour"}},
//	}}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/livescribe/pkg/provider/transcriber"
)

// Response is one scripted reply.
type Response struct {
	// Result is returned when Err is nil.
	Result transcriber.Result

	// Err, if non-nil, is returned instead of Result.
	Err error

	// Delay blocks the call for this long (or until ctx is done) before
	// replying. A cancelled ctx during the delay returns ctx.Err().
	Delay time.Duration
}

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	// Audio is a copy of the payload.
	Audio []byte
	// ContentType is the content type passed in.
	ContentType string
	// At is when the call started.
	At time.Time
}

// Provider is a mock implementation of transcriber.Provider.
type Provider struct {
	mu sync.Mutex

	// Responses are replayed in order. Empty means every call succeeds with
	// empty text.
	Responses []Response

	// Calls records every call to Transcribe.
	Calls []TranscribeCall

	// inFlight and maxInFlight track concurrent calls.
	inFlight    int
	maxInFlight int
}

var _ transcriber.Provider = (*Provider)(nil)

// Transcribe records the call and replies with the next scripted Response.
func (p *Provider) Transcribe(ctx context.Context, audio []byte, contentType string) (transcriber.Result, error) {
	p.mu.Lock()
	idx := len(p.Calls)
	p.Calls = append(p.Calls, TranscribeCall{
		Audio:       append([]byte(nil), audio...),
		ContentType: contentType,
		At:          time.Now(),
	})
	p.inFlight++
	p.maxInFlight = max(p.maxInFlight, p.inFlight)
	var resp Response
	if n := len(p.Responses); n > 0 {
		resp = p.Responses[min(idx, n-1)]
	}
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-ctx.Done():
			return transcriber.Result{}, ctx.Err()
		}
	}
	if resp.Err != nil {
		return transcriber.Result{}, resp.Err
	}
	return resp.Result, nil
}

// CallCount returns the number of Transcribe calls so far.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// CallsSnapshot returns a copy of the recorded calls.
func (p *Provider) CallsSnapshot() []TranscribeCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]TranscribeCall(nil), p.Calls...)
}

// MaxConcurrent returns the highest number of overlapping Transcribe calls
// observed.
func (p *Provider) MaxConcurrent() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.maxInFlight
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
	p.maxInFlight = 0
}
