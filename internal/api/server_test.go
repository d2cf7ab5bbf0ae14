package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/livescribe/internal/api"
	"github.com/MrWong99/livescribe/internal/health"
	"github.com/MrWong99/livescribe/internal/session"
	"github.com/MrWong99/livescribe/internal/transcript"
	"github.com/MrWong99/livescribe/pkg/audio"
)

// ── Helpers ───────────────────────────────────────────────────────────────────

// fakeController records calls and returns canned results.
type fakeController struct {
	mu       sync.Mutex
	snap     session.Snapshot
	startErr error
	stopErr  error
	// stopBlock, when set, makes Stop wait for ctx like a slow final flush.
	stopBlock bool
	text      string
	entries   []transcript.Entry
}

func (f *fakeController) Start(context.Context) (session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return session.Snapshot{}, f.startErr
	}
	f.snap = session.Snapshot{ID: "sess-1", State: session.StateCapturing}
	return f.snap, nil
}

func (f *fakeController) Stop(ctx context.Context) (session.Snapshot, error) {
	f.mu.Lock()
	block, err := f.stopBlock, f.stopErr
	f.mu.Unlock()
	if err != nil {
		return session.Snapshot{}, err
	}
	if block {
		<-ctx.Done()
		f.mu.Lock()
		defer f.mu.Unlock()
		f.snap.State = session.StateStopping
		return f.snap, fmt.Errorf("wait: %w", ctx.Err())
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snap.State = session.StateStopped
	f.snap.EndReason = session.EndUserStop
	return f.snap, nil
}

func (f *fakeController) Snapshot() (session.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap.ID == "" {
		return session.Snapshot{}, session.ErrNoSession
	}
	return f.snap, nil
}

func (f *fakeController) Transcript() (string, []transcript.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.snap.ID == "" {
		return "", nil, session.ErrNoSession
	}
	return f.text, f.entries, nil
}

func newServer(t *testing.T, cfg api.Config) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(api.New(cfg).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, method, url string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequestWithContext(t.Context(), method, url, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	return resp, body
}

// ── Session control ───────────────────────────────────────────────────────────

func TestServer_StartStop(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{}
	srv := newServer(t, api.Config{Sessions: ctl})

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/session")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("GET /v1/session before start: status = %d, want 404", resp.StatusCode)
	}
	if !strings.Contains(fmt.Sprint(body["error"]), "no active session") {
		t.Errorf("error = %v", body["error"])
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/session/start")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start: status = %d, want 201", resp.StatusCode)
	}
	if body["id"] != "sess-1" || body["state"] != "capturing" {
		t.Errorf("start body = %v", body)
	}

	resp, body = do(t, http.MethodGet, srv.URL+"/v1/session")
	if resp.StatusCode != http.StatusOK || body["state"] != "capturing" {
		t.Errorf("GET /v1/session = %d %v", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPost, srv.URL+"/v1/session/stop")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stop: status = %d, want 200", resp.StatusCode)
	}
	if body["state"] != "stopped" || body["end_reason"] != "user_stop" {
		t.Errorf("stop body = %v", body)
	}
}

func TestServer_ErrorStatus(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		ctl    *fakeController
		path   string
		status int
	}{
		{"start while active", &fakeController{startErr: session.ErrSessionActive}, "/v1/session/start", http.StatusConflict},
		{"start permission denied", &fakeController{startErr: fmt.Errorf("open: %w", audio.ErrPermissionDenied)}, "/v1/session/start", http.StatusForbidden},
		{"start device unavailable", &fakeController{startErr: fmt.Errorf("open: %w", audio.ErrDeviceUnavailable)}, "/v1/session/start", http.StatusServiceUnavailable},
		{"start shutting down", &fakeController{startErr: session.ErrShuttingDown}, "/v1/session/start", http.StatusServiceUnavailable},
		{"start unexpected", &fakeController{startErr: errors.New("boom")}, "/v1/session/start", http.StatusInternalServerError},
		{"stop without session", &fakeController{stopErr: session.ErrNoSession}, "/v1/session/stop", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			srv := newServer(t, api.Config{Sessions: tt.ctl})
			resp, body := do(t, http.MethodPost, srv.URL+tt.path)
			if resp.StatusCode != tt.status {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.status)
			}
			if body["error"] == "" || body["error"] == nil {
				t.Error("missing error message")
			}
		})
	}
}

func TestServer_StopTimeoutAnswersAccepted(t *testing.T) {
	t.Parallel()
	ctl := &fakeController{snap: session.Snapshot{ID: "sess-1", State: session.StateCapturing}, stopBlock: true}
	srv := newServer(t, api.Config{Sessions: ctl, StopTimeout: 50 * time.Millisecond})

	resp, body := do(t, http.MethodPost, srv.URL+"/v1/session/stop")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	if body["state"] != "stopping" {
		t.Errorf("state = %v, want stopping", body["state"])
	}
}

func TestServer_MethodNotAllowed(t *testing.T) {
	t.Parallel()
	srv := newServer(t, api.Config{Sessions: &fakeController{}})

	req, _ := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/v1/session/start", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestServer_Transcript(t *testing.T) {
	t.Parallel()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ctl := &fakeController{
		snap: session.Snapshot{ID: "sess-1", State: session.StateStopped},
		text: "bonjour le monde",
		entries: []transcript.Entry{
			{SegmentID: "sess-1/1", Text: "bonjour", Words: 1, At: at},
			{SegmentID: "sess-1/2", Text: "le monde", Words: 2, At: at.Add(15 * time.Second)},
		},
	}
	srv := newServer(t, api.Config{Sessions: ctl})

	resp, body := do(t, http.MethodGet, srv.URL+"/v1/session/transcript")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["text"] != "bonjour le monde" {
		t.Errorf("text = %v", body["text"])
	}
	if body["words"] != float64(3) {
		t.Errorf("words = %v, want 3", body["words"])
	}
	if body["state"] != "stopped" || body["session_id"] != "sess-1" {
		t.Errorf("body = %v", body)
	}
	entries, _ := body["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("entries = %v, want 2", body["entries"])
	}
	first, _ := entries[0].(map[string]any)
	if first["segment_id"] != "sess-1/1" || first["text"] != "bonjour" {
		t.Errorf("entries[0] = %v", first)
	}
}

func TestServer_OptionalRoutes(t *testing.T) {
	t.Parallel()
	marker := func(name string) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]string{"route": name})
		})
	}
	srv := newServer(t, api.Config{
		Sessions: &fakeController{},
		Audio:    marker("audio"),
		MCP:      marker("mcp"),
		Metrics:  marker("metrics"),
		Health:   health.New(),
	})

	for path, want := range map[string]string{
		"/v1/audio": "audio",
		"/mcp":      "mcp",
		"/metrics":  "metrics",
	} {
		resp, body := do(t, http.MethodGet, srv.URL+path)
		if resp.StatusCode != http.StatusOK || body["route"] != want {
			t.Errorf("GET %s = %d %v, want route %s", path, resp.StatusCode, body, want)
		}
	}

	resp, body := do(t, http.MethodGet, srv.URL+"/healthz")
	if resp.StatusCode != http.StatusOK || body["status"] != "ok" {
		t.Errorf("GET /healthz = %d %v", resp.StatusCode, body)
	}
}

// ── Events ────────────────────────────────────────────────────────────────────

func TestServer_EventsStream(t *testing.T) {
	t.Parallel()
	hub := api.NewHub(8)
	srv := newServer(t, api.Config{Sessions: &fakeController{}, Events: hub})

	ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
	defer cancel()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/events"
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.CloseNow()

	// The handler subscribes after the upgrade; wait until it did.
	deadline := time.Now().Add(2 * time.Second)
	for hub.Subscribers() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	stats := session.Stats{SegmentsSent: 1, Successes: 1, WordsTranscribed: 1}
	hub.Publish(session.Event{
		Type:      session.EventTranscriptUpdated,
		SessionID: "sess-1",
		Text:      "bonjour",
		Stats:     &stats,
	})

	var got map[string]any
	if err := wsjson.Read(ctx, conn, &got); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if got["type"] != "transcript_updated" || got["text"] != "bonjour" || got["session_id"] != "sess-1" {
		t.Errorf("event = %v", got)
	}
	gotStats, _ := got["stats"].(map[string]any)
	if gotStats["words_transcribed"] != float64(1) {
		t.Errorf("stats = %v", got["stats"])
	}

	_ = hub.Close()
	_, _, err = conn.Read(ctx)
	if websocket.CloseStatus(err) != websocket.StatusGoingAway {
		t.Errorf("close status = %v (err %v), want going away", websocket.CloseStatus(err), err)
	}
}
