package transcript_test

import (
	"sync"
	"testing"

	"github.com/MrWong99/livescribe/internal/transcript"
)

func TestAccumulator_AppendJoinsWithSingleSpace(t *testing.T) {
	t.Parallel()
	var a transcript.Accumulator

	for i, s := range []string{"bonjour", "  le monde ", "comment ça va"} {
		if _, ok := a.Append(string(rune('a'+i)), s); !ok {
			t.Fatalf("Append(%q) = not ok", s)
		}
	}

	if got, want := a.Text(), "bonjour le monde comment ça va"; got != want {
		t.Errorf("Text = %q, want %q", got, want)
	}
	if got := a.Words(); got != 6 {
		t.Errorf("Words = %d, want 6", got)
	}
	entries := a.Entries()
	if len(entries) != 3 || entries[1].Text != "le monde" || entries[1].Words != 2 || entries[1].SegmentID != "b" {
		t.Errorf("Entries = %+v", entries)
	}
}

func TestAccumulator_BlankIgnored(t *testing.T) {
	t.Parallel()
	var a transcript.Accumulator
	if _, ok := a.Append("x", " \n\t "); ok {
		t.Fatal("Append(blank) = ok, want ignored")
	}
	if a.Text() != "" || a.Words() != 0 || a.Len() != 0 {
		t.Errorf("accumulator changed after blank append: %q %d %d", a.Text(), a.Words(), a.Len())
	}
}

func TestAccumulator_ConcurrentReaders(t *testing.T) {
	t.Parallel()
	var a transcript.Accumulator
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = a.Text()
				_ = a.Words()
			}
		}()
	}
	for range 100 {
		a.Append("s", "word")
	}
	wg.Wait()
	if a.Words() != 100 {
		t.Errorf("Words = %d, want 100", a.Words())
	}
}

func TestWordCount(t *testing.T) {
	t.Parallel()
	tests := map[string]int{
		"":                0,
		"   ":             0,
		"bonjour":         1,
		"le  monde\n":     2,
		"one\ttwo three ": 3,
	}
	for in, want := range tests {
		if got := transcript.WordCount(in); got != want {
			t.Errorf("WordCount(%q) = %d, want %d", in, got, want)
		}
	}
}
