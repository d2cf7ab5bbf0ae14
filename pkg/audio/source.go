// Package audio defines the capture-side abstractions livescribe records from.
//
// The two primary abstractions are:
//
//   - [Source]: a capture device (browser microphone, stdin) that can be
//     opened for the lifetime of one recording session.
//   - [Stream]: the opened device, delivering raw [AudioFrame] values in a
//     single declared [Format] until it is closed or the device goes away.
//
// Implementations live in sub-packages (audio/wsaudio, audio/pcmstream).
package audio

import (
	"context"
	"errors"
)

var (
	// ErrDeviceUnavailable is returned by [Source.Open] when no capture device
	// could be acquired (nothing connected, device busy, open timeout).
	ErrDeviceUnavailable = errors.New("audio: capture device unavailable")

	// ErrPermissionDenied is returned by [Source.Open] when the device exists
	// but the user or platform refused access to it.
	ErrPermissionDenied = errors.New("audio: capture permission denied")
)

// Stream is an opened capture device.
//
// Frames are delivered in capture order on the channel returned by Frames.
// The channel is closed when the device stops producing audio (client
// disconnect, EOF, hardware loss) or after Close. Frames that have not yet
// been read stay queued in the channel, so a consumer that stops reading and a
// new consumer that starts reading never lose audio between them.
//
// Implementations must be safe for concurrent use.
type Stream interface {
	// Frames returns the read-only channel of captured audio.
	Frames() <-chan AudioFrame

	// Format reports the encoding of every frame on this stream.
	Format() Format

	// Close releases the device. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Source is the entry point for a capture device.
//
// Implementations must be safe for concurrent use.
type Source interface {
	// Open acquires the device and returns a [Stream]. ctx bounds the
	// acquisition only. Open returns an error wrapping [ErrDeviceUnavailable]
	// or [ErrPermissionDenied] when the device cannot be opened.
	Open(ctx context.Context) (Stream, error)
}
