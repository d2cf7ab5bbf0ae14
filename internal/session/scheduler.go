package session

import (
	"context"
	"strconv"
	"time"

	"github.com/MrWong99/livescribe/internal/capture"
)

// scheduleTick decides whether to freeze the open buffer. Freezes are at least
// MinInterval apart and never happen while a dispatch is outstanding.
func (s *Session) scheduleTick(now time.Time) {
	if s.State() != StateCapturing {
		return
	}
	if s.inflight {
		return
	}
	if now.Sub(s.lastFreezeAt) < s.cfg.MinInterval {
		return
	}

	buf := s.capture.RestartSegment()
	s.lastFreezeAt = now
	if seg, ok := s.freeze(buf, now, false); ok {
		s.dispatch(seg, s.cfg.MaxRetries)
	}
}

// freeze turns a detached buffer into a [Segment], or counts it as ignored
// when it fails the size gates. The final segment skips the fragment gate.
func (s *Session) freeze(buf *capture.Buffer, now time.Time, final bool) (Segment, bool) {
	if buf == nil || buf.Empty() {
		return Segment{}, false
	}

	var reason IgnoreReason
	switch {
	case !final && buf.FragmentCount() < s.cfg.MinFragments:
		reason = IgnoreUndersized
	case buf.TotalBytes() < s.cfg.MinBytes:
		reason = IgnoreUndersized
	case buf.TotalBytes() > s.cfg.MaxBytes:
		reason = IgnoreOversized
	}
	if reason != "" {
		s.ignore(buf, reason, final)
		return Segment{}, false
	}

	s.seq++
	return Segment{
		ID:          s.id + "/" + strconv.Itoa(s.seq),
		Audio:       buf.Bytes(),
		ContentType: s.capture.ContentType(),
		Fragments:   buf.FragmentCount(),
		FrozenAt:    now,
		Final:       final,
	}, true
}

func (s *Session) ignore(buf *capture.Buffer, reason IgnoreReason, final bool) {
	s.updateStats(func(st *Stats) { st.SegmentsIgnored++ })
	s.metrics.RecordSegmentIgnored(context.WithoutCancel(s.runCtx), string(reason))
	s.log.Info("segment ignored",
		"buffer_id", buf.ID(),
		"reason", reason,
		"fragments", buf.FragmentCount(),
		"bytes", buf.TotalBytes(),
		"final", final,
	)
}

// dispatch hands seg to the dispatcher. The segment's audio is owned by the
// dispatch goroutine from here on.
func (s *Session) dispatch(seg Segment, maxRetries int) {
	ctx := context.WithoutCancel(s.runCtx)
	if err := s.dispatcher.Dispatch(ctx, seg, maxRetries, s.results); err != nil {
		// Unreachable while s.inflight guards every call site.
		s.log.Error("dispatch rejected", "segment_id", seg.ID, "err", err)
		return
	}
	s.inflight = true
	s.updateStats(func(st *Stats) { st.SegmentsSent++ })
	s.metrics.RecordSegmentSent(ctx, len(seg.Audio), seg.Final)
	s.log.Debug("segment dispatched",
		"segment_id", seg.ID,
		"fragments", seg.Fragments,
		"bytes", len(seg.Audio),
		"final", seg.Final,
	)
}
