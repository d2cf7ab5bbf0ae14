package session

import "time"

// EventType names an outbound session event.
type EventType string

const (
	EventSessionStarted    EventType = "session_started"
	EventTranscriptUpdated EventType = "transcript_updated"
	EventQualityChanged    EventType = "quality_changed"
	EventQualityAlert      EventType = "quality_alert"
	EventSessionEnded      EventType = "session_ended"
)

// Event is a notification published by a [Session]. Only the fields relevant
// to Type are set.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
	At        time.Time `json:"at"`

	// Text is the full transcript so far (transcript_updated).
	Text string `json:"text,omitempty"`

	// Stats is a snapshot of the session counters (transcript_updated,
	// session_ended).
	Stats *Stats `json:"stats,omitempty"`

	// Quality is the new state (quality_changed, quality_alert).
	Quality *Quality `json:"quality,omitempty"`

	// Message is a human-readable description (quality_alert, session_ended).
	Message string `json:"message,omitempty"`

	// Reason is why the session ended (session_ended).
	Reason EndReason `json:"reason,omitempty"`
}

// EventSink receives session events. Publish is called from the session loop
// and must not block.
type EventSink interface {
	Publish(Event)
}

// SinkFunc adapts a plain function to [EventSink].
type SinkFunc func(Event)

// Publish implements [EventSink].
func (f SinkFunc) Publish(e Event) { f(e) }

type discardSink struct{}

func (discardSink) Publish(Event) {}
