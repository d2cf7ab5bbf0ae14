// Package transcript holds the rolling text of a live recording session.
//
// An [Accumulator] only grows: each successfully transcribed segment is
// appended in the order it was frozen, separated by a single space. Nothing
// ever rewrites or reorders earlier text.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Entry is one appended segment.
type Entry struct {
	// SegmentID identifies the frozen segment the text came from.
	SegmentID string

	// Text is the segment transcript exactly as appended (trimmed).
	Text string

	// Words is the whitespace-delimited word count of Text.
	Words int

	// At is when the entry was appended.
	At time.Time
}

// Accumulator is an append-only transcript. It is safe for concurrent use:
// the session loop appends while HTTP and MCP handlers read.
type Accumulator struct {
	mu      sync.RWMutex
	text    strings.Builder
	words   int
	entries []Entry
}

// WordCount returns the number of whitespace-delimited words in text.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Append adds text as a new entry and returns the entry. Surrounding
// whitespace is trimmed; a blank text appends nothing and returns ok=false.
func (a *Accumulator) Append(segmentID, text string) (e Entry, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Entry{}, false
	}

	e = Entry{SegmentID: segmentID, Text: text, Words: WordCount(text), At: time.Now()}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.text.Len() > 0 {
		a.text.WriteByte(' ')
	}
	a.text.WriteString(text)
	a.words += e.Words
	a.entries = append(a.entries, e)
	return e, true
}

// Text returns the full transcript so far.
func (a *Accumulator) Text() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.text.String()
}

// Words returns the total word count across all entries.
func (a *Accumulator) Words() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.words
}

// Entries returns a copy of every appended entry, oldest first.
func (a *Accumulator) Entries() []Entry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]Entry, len(a.entries))
	copy(out, a.entries)
	return out
}

// Len returns the number of appended entries.
func (a *Accumulator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.entries)
}
