// Package mcp exposes session control as Model Context Protocol tools so an
// assistant can start and stop recordings and read the live transcript.
//
// Five tools are registered by [NewServer]:
//   - "start_session"  starts a recording session.
//   - "stop_session"   stops it and waits for the final segment.
//   - "get_transcript" returns the rolling transcript.
//   - "get_stats"      returns the session counters.
//   - "get_quality"    returns the transcription health indicator.
//
// [Handler] serves the tools over the streamable HTTP transport.
package mcp

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/livescribe/internal/session"
	"github.com/MrWong99/livescribe/internal/transcript"
)

// serverName is the implementation name reported to MCP clients.
const serverName = "livescribe"

// Controller is the session control surface the tools drive.
type Controller interface {
	Start(ctx context.Context) (session.Snapshot, error)
	Stop(ctx context.Context) (session.Snapshot, error)
	Snapshot() (session.Snapshot, error)
	Transcript() (string, []transcript.Entry, error)
}

// NewServer creates an MCP server with the session tools registered.
func NewServer(ctl Controller, version string) *mcpsdk.Server {
	srv := mcpsdk.NewServer(&mcpsdk.Implementation{Name: serverName, Version: version}, nil)
	t := &tools{ctl: ctl}

	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "start_session",
		Description: "Start recording from the microphone and transcribing it live. Fails if a session is already running.",
	}, t.startSession)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "stop_session",
		Description: "Stop the running recording. Waits until the last audio segment has been transcribed and returns the final session state.",
	}, t.stopSession)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "get_transcript",
		Description: "Return the transcript of the current or most recent session.",
	}, t.getTranscript)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "get_stats",
		Description: "Return segment and transcription counters of the current or most recent session.",
	}, t.getStats)
	mcpsdk.AddTool(srv, &mcpsdk.Tool{
		Name:        "get_quality",
		Description: "Return the transcription health (good, warning or error) of the current or most recent session.",
	}, t.getQuality)

	return srv
}

// Handler serves srv over the streamable HTTP transport.
func Handler(srv *mcpsdk.Server) http.Handler {
	return mcpsdk.NewStreamableHTTPHandler(func(*http.Request) *mcpsdk.Server {
		return srv
	}, &mcpsdk.StreamableHTTPOptions{
		Logger: slog.Default().With("component", "mcp"),
	})
}

// ─── Tool payloads ────────────────────────────────────────────────────────────

// noArgs is the input of every tool; none take parameters.
type noArgs struct{}

// sessionOutput describes a session.
type sessionOutput struct {
	SessionID          string  `json:"session_id"`
	State              string  `json:"state"`
	Quality            string  `json:"quality"`
	ElapsedSeconds     float64 `json:"elapsed_seconds"`
	MaxDurationSeconds float64 `json:"max_duration_seconds"`
	EndReason          string  `json:"end_reason,omitempty"`
	Message            string  `json:"message,omitempty"`
}

// transcriptOutput is the result of get_transcript.
type transcriptOutput struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Text      string `json:"text"`
	Words     int    `json:"words"`
	Segments  int    `json:"segments"`
}

// statsOutput is the result of get_stats.
type statsOutput struct {
	SessionID        string `json:"session_id"`
	SegmentsSent     int    `json:"segments_sent"`
	SegmentsIgnored  int    `json:"segments_ignored"`
	Successes        int    `json:"successes"`
	Failures         int    `json:"failures"`
	Attempts         int    `json:"attempts"`
	WordsTranscribed int    `json:"words_transcribed"`
}

// qualityOutput is the result of get_quality.
type qualityOutput struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
	Quality   string `json:"quality"`
}

func newSessionOutput(s session.Snapshot) sessionOutput {
	return sessionOutput{
		SessionID:          s.ID,
		State:              s.State.String(),
		Quality:            s.Quality.String(),
		ElapsedSeconds:     s.Elapsed.Round(time.Millisecond).Seconds(),
		MaxDurationSeconds: s.MaxDuration.Seconds(),
		EndReason:          string(s.EndReason),
		Message:            s.EndMessage,
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

type tools struct {
	ctl Controller
}

func (t *tools) startSession(ctx context.Context, _ *mcpsdk.CallToolRequest, _ noArgs) (*mcpsdk.CallToolResult, sessionOutput, error) {
	snap, err := t.ctl.Start(ctx)
	if err != nil {
		return nil, sessionOutput{}, toolError(err)
	}
	return nil, newSessionOutput(snap), nil
}

func (t *tools) stopSession(ctx context.Context, _ *mcpsdk.CallToolRequest, _ noArgs) (*mcpsdk.CallToolResult, sessionOutput, error) {
	snap, err := t.ctl.Stop(ctx)
	if err != nil {
		return nil, sessionOutput{}, toolError(err)
	}
	return nil, newSessionOutput(snap), nil
}

func (t *tools) getTranscript(_ context.Context, _ *mcpsdk.CallToolRequest, _ noArgs) (*mcpsdk.CallToolResult, transcriptOutput, error) {
	snap, err := t.ctl.Snapshot()
	if err != nil {
		return nil, transcriptOutput{}, toolError(err)
	}
	text, entries, err := t.ctl.Transcript()
	if err != nil {
		return nil, transcriptOutput{}, toolError(err)
	}
	out := transcriptOutput{
		SessionID: snap.ID,
		State:     snap.State.String(),
		Text:      text,
		Segments:  len(entries),
	}
	for _, e := range entries {
		out.Words += e.Words
	}
	return nil, out, nil
}

func (t *tools) getStats(_ context.Context, _ *mcpsdk.CallToolRequest, _ noArgs) (*mcpsdk.CallToolResult, statsOutput, error) {
	snap, err := t.ctl.Snapshot()
	if err != nil {
		return nil, statsOutput{}, toolError(err)
	}
	st := snap.Stats
	return nil, statsOutput{
		SessionID:        snap.ID,
		SegmentsSent:     st.SegmentsSent,
		SegmentsIgnored:  st.SegmentsIgnored,
		Successes:        st.Successes,
		Failures:         st.Failures,
		Attempts:         st.Attempts,
		WordsTranscribed: st.WordsTranscribed,
	}, nil
}

func (t *tools) getQuality(_ context.Context, _ *mcpsdk.CallToolRequest, _ noArgs) (*mcpsdk.CallToolResult, qualityOutput, error) {
	snap, err := t.ctl.Snapshot()
	if err != nil {
		return nil, qualityOutput{}, toolError(err)
	}
	return nil, qualityOutput{
		SessionID: snap.ID,
		State:     snap.State.String(),
		Quality:   snap.Quality.String(),
	}, nil
}

// toolError rewrites domain errors into messages an assistant can act on.
// The result is reported to the client as a tool error, not a protocol error.
func toolError(err error) error {
	switch {
	case errors.Is(err, session.ErrSessionActive):
		return errors.New("a recording session is already running; stop it first")
	case errors.Is(err, session.ErrNoSession):
		return errors.New("no recording session is running")
	case errors.Is(err, session.ErrShuttingDown):
		return errors.New("the server is shutting down")
	}
	return err
}
