package wsaudio_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"

	"github.com/MrWong99/livescribe/pkg/audio"
	"github.com/MrWong99/livescribe/pkg/audio/wsaudio"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

func startServer(t *testing.T, src *wsaudio.Source) string {
	t.Helper()
	srv := httptest.NewServer(src)
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn
}

func sendHello(t *testing.T, conn *websocket.Conn, h wsaudio.Hello) {
	t.Helper()
	data, _ := json.Marshal(h)
	if err := conn.Write(t.Context(), websocket.MessageText, data); err != nil {
		t.Fatalf("write hello: %v", err)
	}
}

type openResult struct {
	stream audio.Stream
	err    error
}

func openAsync(ctx context.Context, src *wsaudio.Source) <-chan openResult {
	ch := make(chan openResult, 1)
	go func() {
		s, err := src.Open(ctx)
		ch <- openResult{s, err}
	}()
	return ch
}

func waitOpen(t *testing.T, ch <-chan openResult) openResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for Open")
		return openResult{}
	}
}

// ── Tests ─────────────────────────────────────────────────────────────────────

func TestOpen_ReceivesFramesInOrder(t *testing.T) {
	t.Parallel()
	src := wsaudio.New()
	url := startServer(t, src)
	res := openAsync(t.Context(), src)

	conn := dial(t, url)
	sendHello(t, conn, wsaudio.Hello{ContentType: "audio/webm;codecs=opus"})

	r := waitOpen(t, res)
	if r.err != nil {
		t.Fatalf("Open: %v", r.err)
	}
	defer r.stream.Close()

	if got := r.stream.Format().ContentType; got != "audio/webm;codecs=opus" {
		t.Errorf("ContentType = %q, want audio/webm;codecs=opus", got)
	}

	for _, chunk := range []string{"one", "two", "three"} {
		if err := conn.Write(t.Context(), websocket.MessageBinary, []byte(chunk)); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	for _, want := range []string{"one", "two", "three"} {
		select {
		case f := <-r.stream.Frames():
			if string(f.Data) != want {
				t.Errorf("frame = %q, want %q", f.Data, want)
			}
		case <-time.After(3 * time.Second):
			t.Fatalf("timeout waiting for frame %q", want)
		}
	}
}

func TestOpen_PCMDefaults(t *testing.T) {
	t.Parallel()
	src := wsaudio.New()
	url := startServer(t, src)
	res := openAsync(t.Context(), src)

	conn := dial(t, url)
	sendHello(t, conn, wsaudio.Hello{})

	r := waitOpen(t, res)
	if r.err != nil {
		t.Fatalf("Open: %v", r.err)
	}
	defer r.stream.Close()

	want := audio.Format{ContentType: audio.ContentTypePCM, SampleRate: 16000, Channels: 1}
	if got := r.stream.Format(); got != want {
		t.Errorf("Format = %+v, want %+v", got, want)
	}
}

func TestOpen_HelloErrors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		code string
		want error
	}{
		{wsaudio.ErrorPermissionDenied, audio.ErrPermissionDenied},
		{wsaudio.ErrorDeviceUnavailable, audio.ErrDeviceUnavailable},
		{"something_else", audio.ErrDeviceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()
			src := wsaudio.New()
			url := startServer(t, src)
			res := openAsync(t.Context(), src)

			conn := dial(t, url)
			sendHello(t, conn, wsaudio.Hello{Error: tt.code})

			r := waitOpen(t, res)
			if !errors.Is(r.err, tt.want) {
				t.Errorf("Open error = %v, want %v", r.err, tt.want)
			}
		})
	}
}

func TestOpen_NoClient_DeviceUnavailable(t *testing.T) {
	t.Parallel()
	src := wsaudio.New()
	ctx, cancel := context.WithTimeout(t.Context(), 50*time.Millisecond)
	defer cancel()

	_, err := src.Open(ctx)
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("Open error = %v, want ErrDeviceUnavailable", err)
	}
}

func TestClientDisconnect_ClosesFrames(t *testing.T) {
	t.Parallel()
	src := wsaudio.New()
	url := startServer(t, src)
	res := openAsync(t.Context(), src)

	conn := dial(t, url)
	sendHello(t, conn, wsaudio.Hello{})
	r := waitOpen(t, res)
	if r.err != nil {
		t.Fatalf("Open: %v", r.err)
	}
	defer r.stream.Close()

	conn.Close(websocket.StatusNormalClosure, "bye")

	deadline := time.After(3 * time.Second)
	for {
		select {
		case _, ok := <-r.stream.Frames():
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("frames channel not closed after client disconnect")
		}
	}
}

func TestSecondClient_Rejected(t *testing.T) {
	t.Parallel()
	src := wsaudio.New()
	url := startServer(t, src)
	res := openAsync(t.Context(), src)

	conn := dial(t, url)
	sendHello(t, conn, wsaudio.Hello{})
	r := waitOpen(t, res)
	if r.err != nil {
		t.Fatalf("Open: %v", r.err)
	}
	defer r.stream.Close()

	if !src.Attached() {
		t.Fatal("Attached() = false after Open")
	}

	ctx, cancel := context.WithTimeout(t.Context(), 3*time.Second)
	defer cancel()
	_, _, err := websocket.Dial(ctx, url, nil)
	if err == nil {
		t.Fatal("second Dial succeeded, want rejection")
	}
}
