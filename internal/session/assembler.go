package session

import (
	"context"
	"fmt"
	"time"
)

// handleResult applies a dispatch result. Results arrive in dispatch order
// because only one dispatch is ever outstanding.
func (s *Session) handleResult(res Result) {
	s.inflight = false
	ctx := context.WithoutCancel(s.runCtx)

	attempts := len(res.Attempts)
	if !res.OK() {
		s.updateStats(func(st *Stats) {
			st.Failures++
			st.Attempts += attempts
		})
		s.metrics.RecordFailure(ctx, failureReason(res.Err))
		s.log.Warn("segment discarded after retries",
			"segment_id", res.Segment.ID,
			"attempts", attempts,
			"bytes", len(res.Segment.Audio),
			"err", res.Err,
		)
		return
	}

	now := time.Now()
	s.lastSuccessAt = now
	s.transcript.Append(res.Segment.ID, res.Text)
	stats := s.updateStats(func(st *Stats) {
		st.Successes++
		st.WordsTranscribed += res.Words
		st.Attempts += attempts
	})
	s.metrics.Words.Add(ctx, int64(res.Words))
	s.log.Debug("segment transcribed",
		"segment_id", res.Segment.ID,
		"attempts", attempts,
		"words", res.Words,
	)
	s.publish(Event{
		Type:  EventTranscriptUpdated,
		At:    now,
		Text:  s.transcript.Text(),
		Stats: &stats,
	})
}

// checkQuality recomputes the quality state from the time since the last
// successful transcription.
func (s *Session) checkQuality(now time.Time) {
	if s.State() != StateCapturing {
		return
	}

	since := now.Sub(s.lastSuccessAt)
	q := qualityFor(since, s.cfg.WarnAfter, s.cfg.ErrorAfter)

	s.mu.RLock()
	nearCap := s.elapsedLocked(now) > s.cfg.MaxDuration*9/10
	prev := s.quality
	s.mu.RUnlock()
	if nearCap && q < QualityWarning {
		q = QualityWarning
	}

	if q != QualityError {
		s.alerted = false
	}
	if q == prev {
		return
	}

	s.mu.Lock()
	s.quality = q
	s.mu.Unlock()

	s.metrics.RecordQuality(context.WithoutCancel(s.runCtx), q.String())
	s.log.Info("quality changed", "from", prev, "to", q, "since_last_success", since.Round(time.Second))
	s.publish(Event{Type: EventQualityChanged, At: now, Quality: &q})

	if q == QualityError && !s.alerted {
		s.alerted = true
		s.publish(Event{
			Type:    EventQualityAlert,
			At:      now,
			Quality: &q,
			Message: fmt.Sprintf("No successful transcription for %s. Check the microphone and the transcription service.", since.Round(time.Second)),
		})
	}
}

// qualityFor maps the time since the last success to a quality state.
func qualityFor(since, warnAfter, errorAfter time.Duration) Quality {
	switch {
	case since > errorAfter:
		return QualityError
	case since >= warnAfter:
		return QualityWarning
	default:
		return QualityGood
	}
}
