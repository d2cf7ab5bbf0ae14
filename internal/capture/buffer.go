// Package capture owns the live audio stream of a recording session.
//
// A [Controller] opens an [audio.Source], runs a [Recorder] that turns the
// stream into fixed-interval fragments, and collects those fragments into the
// single open [Buffer]. [Controller.RestartSegment] detaches the open buffer
// and starts a fresh recorder on the same stream, so capture continues while
// the detached segment is transcribed.
package capture

import (
	"bytes"

	"github.com/google/uuid"
)

// Buffer is an ordered, append-only sequence of audio fragments forming one
// segment. A Buffer is owned by exactly one party at a time: the [Controller]
// while open, then whoever received it from a detach.
type Buffer struct {
	id        string
	prefix    []byte
	fragments [][]byte
	total     int
}

// NewBuffer returns an empty buffer with a fresh segment ID.
func NewBuffer() *Buffer {
	return &Buffer{id: uuid.NewString()}
}

// ID returns the segment identifier.
func (b *Buffer) ID() string { return b.id }

// Append adds one fragment. Empty fragments are ignored.
func (b *Buffer) Append(frag []byte) {
	if len(frag) == 0 {
		return
	}
	b.fragments = append(b.fragments, frag)
	b.total += len(frag)
}

// FragmentCount returns the number of appended fragments.
func (b *Buffer) FragmentCount() int { return len(b.fragments) }

// TotalBytes returns the summed size of all fragments, excluding any
// container prefix.
func (b *Buffer) TotalBytes() int { return b.total }

// Empty reports whether no audio has been appended.
func (b *Buffer) Empty() bool { return b.total == 0 }

// Bytes concatenates the container prefix (if any) and all fragments into a
// single payload.
func (b *Buffer) Bytes() []byte {
	var out bytes.Buffer
	out.Grow(len(b.prefix) + b.total)
	out.Write(b.prefix)
	for _, f := range b.fragments {
		out.Write(f)
	}
	return out.Bytes()
}

// setPrefix installs the container header written before the fragments.
func (b *Buffer) setPrefix(p []byte) { b.prefix = p }
