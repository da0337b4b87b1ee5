package handler

import (
	"bytes"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kiosk-core/internal/broadcast"
	"github.com/xenking/kiosk-core/internal/domain/session"
	"github.com/xenking/kiosk-core/internal/wire"
)

// streamEvents serves a session's events as Server-Sent Events.
//
// With ?snapshot=1 the stream opens with a "snapshot" event whose id is the
// snapshot's sequence number, followed by every later event without a gap.
// A Last-Event-ID header resumes after that sequence number: missed events
// are replayed from history, or a snapshot is sent when they cannot be.
func (h *Handler) streamEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")
	lg := zctx.From(ctx).With(zap.String("session_id", id))

	withSnapshot := r.URL.Query().Get("snapshot") == "1"
	lastSeq, resume := lastEventID(r)

	var (
		snap session.Snapshot
		sub  *broadcast.Subscription[session.Event]
		err  error
	)
	if withSnapshot || resume {
		snap, sub, err = h.sessions.SubscribeWithSnapshot(ctx, id)
	} else {
		sub, err = h.sessions.Subscribe(ctx, id)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	defer sub.Close()

	rc := http.NewResponseController(w)
	hdr := w.Header()
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	hdr.Set("Connection", "keep-alive")
	hdr.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	// Streams outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	s := &sseWriter{w: w}
	if resume && lastSeq < snap.Seq {
		if !h.replay(r, s, id, lastSeq, snap.Seq) {
			withSnapshot = true
		}
	}
	if withSnapshot {
		var e jx.Encoder
		wire.EncodeSnapshot(&e, snap)
		s.event("snapshot", snap.Seq, e.Bytes())
	}
	if err := s.flush(rc); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.cfg.Heartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			s.comment("ping")
		case ev, ok := <-sub.C():
			if !ok {
				if err := sub.Err(); err != nil {
					lg.Info("Event stream ended", zap.Error(err))
					var e jx.Encoder
					wire.EncodeError(&e, http.StatusGone, err.Error())
					s.event("error", 0, e.Bytes())
					_ = s.flush(rc)
				}
				return
			}
			var e jx.Encoder
			wire.EncodeEvent(&e, ev)
			s.event(string(ev.Kind), ev.Seq, e.Bytes())
		}
		if err := s.flush(rc); err != nil {
			lg.Debug("Event stream write failed", zap.Error(err))
			return
		}
	}
}

// replay writes the events in (after, upTo] from history. It reports false
// when history cannot provide all of them.
func (h *Handler) replay(r *http.Request, s *sseWriter, id string, after, upTo uint64) bool {
	if h.history == nil {
		return false
	}
	events, err := h.history.Events(r.Context(), id, after, upTo)
	if err != nil || uint64(len(events)) != upTo-after {
		if err == nil {
			err = errors.Errorf("history has %d of %d events", len(events), upTo-after)
		}
		zctx.From(r.Context()).Warn("Event replay unavailable",
			zap.String("session_id", id),
			zap.Error(err),
		)
		return false
	}
	for _, ev := range events {
		var e jx.Encoder
		wire.EncodeEvent(&e, ev)
		s.event(string(ev.Kind), ev.Seq, e.Bytes())
	}
	return true
}

func lastEventID(r *http.Request) (uint64, bool) {
	v := r.Header.Get("Last-Event-ID")
	if v == "" {
		return 0, false
	}
	seq, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return seq, true
}

// sseWriter buffers frames until flush.
type sseWriter struct {
	w   http.ResponseWriter
	buf bytes.Buffer
}

func (s *sseWriter) event(name string, id uint64, data []byte) {
	if id > 0 {
		s.buf.WriteString("id: ")
		s.buf.WriteString(strconv.FormatUint(id, 10))
		s.buf.WriteByte('\n')
	}
	s.buf.WriteString("event: ")
	s.buf.WriteString(name)
	s.buf.WriteString("\ndata: ")
	s.buf.Write(data)
	s.buf.WriteString("\n\n")
}

func (s *sseWriter) comment(text string) {
	s.buf.WriteString(": ")
	s.buf.WriteString(text)
	s.buf.WriteString("\n\n")
}

func (s *sseWriter) flush(rc *http.ResponseController) error {
	if s.buf.Len() > 0 {
		if _, err := s.w.Write(s.buf.Bytes()); err != nil {
			return err
		}
		s.buf.Reset()
	}
	return rc.Flush()
}
