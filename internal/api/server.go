// Package api exposes the livescribe HTTP surface: session control under
// /v1/session, the live event stream at /v1/events, and the optional audio
// ingress, MCP, metrics and health endpoints mounted next to them.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/MrWong99/livescribe/internal/health"
	"github.com/MrWong99/livescribe/internal/observe"
	"github.com/MrWong99/livescribe/internal/session"
	"github.com/MrWong99/livescribe/internal/transcript"
	"github.com/MrWong99/livescribe/pkg/audio"
)

// defaultStopTimeout bounds how long POST /v1/session/stop waits for the
// final segment before answering 202 Accepted.
const defaultStopTimeout = 90 * time.Second

// Controller is the session control surface the HTTP handlers drive.
type Controller interface {
	Start(ctx context.Context) (session.Snapshot, error)
	Stop(ctx context.Context) (session.Snapshot, error)
	Snapshot() (session.Snapshot, error)
	Transcript() (string, []transcript.Entry, error)
}

// Config holds the dependencies of a [Server]. Only Sessions is required.
type Config struct {
	Sessions Controller

	// Events feeds GET /v1/events. When nil the route is not mounted.
	Events *Hub

	// Audio is mounted at GET /v1/audio when non-nil.
	Audio http.Handler

	// MCP is mounted at /mcp when non-nil.
	MCP http.Handler

	// Metrics is mounted at GET /metrics when non-nil.
	Metrics http.Handler

	// Health registers /healthz and /readyz when non-nil.
	Health *health.Handler

	// HTTPMetrics records request latency. Nil selects
	// [observe.DefaultMetrics].
	HTTPMetrics *observe.Metrics

	// StopTimeout bounds the wait for the final segment on stop.
	// Default: 90s.
	StopTimeout time.Duration

	// OriginPatterns are passed to the websocket upgrader for /v1/events.
	OriginPatterns []string
}

// Server routes the livescribe HTTP API.
type Server struct {
	cfg     Config
	handler http.Handler
}

// New builds the route table.
func New(cfg Config) *Server {
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = defaultStopTimeout
	}
	if cfg.HTTPMetrics == nil {
		cfg.HTTPMetrics = observe.DefaultMetrics()
	}
	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/session/start", s.handleStart)
	mux.HandleFunc("POST /v1/session/stop", s.handleStop)
	mux.HandleFunc("GET /v1/session", s.handleSnapshot)
	mux.HandleFunc("GET /v1/session/transcript", s.handleTranscript)
	if cfg.Events != nil {
		mux.HandleFunc("GET /v1/events", s.handleEvents)
	}
	if cfg.Audio != nil {
		mux.Handle("GET /v1/audio", cfg.Audio)
	}
	if cfg.MCP != nil {
		mux.Handle("/mcp", cfg.MCP)
	}
	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}
	if cfg.Health != nil {
		cfg.Health.Register(mux)
	}

	s.handler = observe.Middleware(cfg.HTTPMetrics)(mux)
	return s
}

// Handler returns the root handler with observability middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// ServeHTTP implements [http.Handler].
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// errorResponse is the body of every non-2xx answer.
type errorResponse struct {
	Error string `json:"error"`
}

// transcriptResponse is the body of GET /v1/session/transcript.
type transcriptResponse struct {
	SessionID string          `json:"session_id"`
	State     session.State   `json:"state"`
	Text      string          `json:"text"`
	Words     int             `json:"words"`
	Entries   []entryResponse `json:"entries"`
}

type entryResponse struct {
	SegmentID string    `json:"segment_id"`
	Text      string    `json:"text"`
	Words     int       `json:"words"`
	At        time.Time `json:"at"`
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cfg.Sessions.Start(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

// handleStop waits for the final flush. If it takes longer than the stop
// timeout the session keeps finishing in the background and the handler
// answers 202 with the snapshot in state "stopping".
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.StopTimeout)
	defer cancel()

	snap, err := s.cfg.Sessions.Stop(ctx)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, snap)
	case errors.Is(err, context.DeadlineExceeded) && snap.ID != "":
		writeJSON(w, http.StatusAccepted, snap)
	default:
		s.writeError(w, r, err)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cfg.Sessions.Snapshot()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleTranscript(w http.ResponseWriter, r *http.Request) {
	snap, err := s.cfg.Sessions.Snapshot()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	text, entries, err := s.cfg.Sessions.Transcript()
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := transcriptResponse{
		SessionID: snap.ID,
		State:     snap.State,
		Text:      text,
		Entries:   make([]entryResponse, 0, len(entries)),
	}
	for _, e := range entries {
		resp.Words += e.Words
		resp.Entries = append(resp.Entries, entryResponse{
			SegmentID: e.SegmentID,
			Text:      e.Text,
			Words:     e.Words,
			At:        e.At,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, session.ErrSessionActive):
		return http.StatusConflict
	case errors.Is(err, session.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, audio.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, audio.ErrDeviceUnavailable),
		errors.Is(err, session.ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"err", err,
		)
	} else {
		slog.Debug("request rejected", "path", r.URL.Path, "status", status, "err", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
