package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	eventWriteTimeout = 5 * time.Second
	eventPingInterval = 30 * time.Second
)

// handleEvents upgrades to a WebSocket and streams every session event as a
// JSON text message until the client disconnects or the hub closes.
// Client messages are ignored.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.OriginPatterns,
	})
	if err != nil {
		slog.Warn("events: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	defer conn.CloseNow()

	events, cancel := s.cfg.Events.Subscribe()
	defer cancel()

	// CloseRead drains control frames and cancels ctx when the client goes
	// away.
	ctx := conn.CloseRead(r.Context())

	slog.Debug("events: subscriber attached", "remote", r.RemoteAddr)
	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ping.C:
			pctx, pcancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := conn.Ping(pctx)
			pcancel()
			if err != nil {
				return
			}
		case e, ok := <-events:
			if !ok {
				conn.Close(websocket.StatusGoingAway, "server shutting down")
				return
			}
			wctx, wcancel := context.WithTimeout(ctx, eventWriteTimeout)
			err := wsjson.Write(wctx, conn, e)
			wcancel()
			if err != nil {
				slog.Debug("events: write failed, dropping subscriber", "remote", r.RemoteAddr, "err", err)
				return
			}
		}
	}
}
