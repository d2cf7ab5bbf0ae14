package pcmstream_test

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/audio/pcmstream"
)

func TestOpen_ReadsAllBytesInSampleAlignedFrames(t *testing.T) {
	t.Parallel()
	// 16 kHz mono, 10 ms chunks = 320 bytes; 1000 bytes → 320, 320, 320, 40.
	data := bytes.Repeat([]byte{0x01, 0x02}, 500)
	src := pcmstream.New(func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}, audio.Format{}, pcmstream.WithChunkDuration(10*time.Millisecond), pcmstream.WithRealtime(false))

	st, err := src.Open(t.Context())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	if got := st.Format(); got.SampleRate != 16000 || got.Channels != 1 || !got.IsPCM() {
		t.Errorf("Format = %+v, want 16 kHz mono PCM", got)
	}

	var got []byte
	var sizes []int
	for f := range st.Frames() {
		got = append(got, f.Data...)
		sizes = append(sizes, len(f.Data))
	}
	if !bytes.Equal(got, data) {
		t.Errorf("read %d bytes, want %d", len(got), len(data))
	}
	want := []int{320, 320, 320, 40}
	if len(sizes) != len(want) {
		t.Fatalf("frame sizes = %v, want %v", sizes, want)
	}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("frame %d size = %d, want %d", i, sizes[i], want[i])
		}
	}
}

func TestOpen_MissingFile_DeviceUnavailable(t *testing.T) {
	t.Parallel()
	src := pcmstream.NewFile(filepath.Join(t.TempDir(), "missing.pcm"), audio.Format{})
	_, err := src.Open(t.Context())
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("Open error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestOpen_PermissionError_PermissionDenied(t *testing.T) {
	t.Parallel()
	src := pcmstream.New(func() (io.ReadCloser, error) {
		return nil, &os.PathError{Op: "open", Path: "/dev/snd", Err: os.ErrPermission}
	}, audio.Format{})
	_, err := src.Open(t.Context())
	if !errors.Is(err, audio.ErrPermissionDenied) {
		t.Errorf("Open error = %v, want ErrPermissionDenied", err)
	}
}

func TestClose_StopsRealtimeStream(t *testing.T) {
	t.Parallel()
	pr, pw := io.Pipe()
	defer pw.Close()
	src := pcmstream.New(func() (io.ReadCloser, error) { return pr, nil }, audio.Format{})

	st, err := src.Open(t.Context())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	select {
	case _, ok := <-st.Frames():
		if ok {
			t.Error("received frame after Close")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("frames channel not closed after Close")
	}
}

func TestAvailable(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "in.pcm")

	src := pcmstream.NewFile(path, audio.Format{})
	if src.Available() {
		t.Error("Available() = true for a missing file")
	}
	if err := os.WriteFile(path, []byte{0, 0}, 0o600); err != nil {
		t.Fatal(err)
	}
	if !src.Available() {
		t.Error("Available() = false for an existing file")
	}

	custom := pcmstream.New(func() (io.ReadCloser, error) { return nil, errors.New("never") }, audio.Format{})
	if !custom.Available() {
		t.Error("Available() = false for a custom reader source")
	}
}
