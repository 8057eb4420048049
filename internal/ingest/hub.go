package ingest

import (
	"context"
	"log/slog"
	"sync"

	"github.com/MrWong99/callsentry/internal/call"
)

// eventBuffer is how many undelivered events a slow stream may queue before
// further events are dropped.
const eventBuffer = 64

// Hub routes live controller events to the stream that owns the call. It
// implements [call.AlertSink] and [call.VerdictSink]; neither blocks.
type Hub struct {
	mu   sync.Mutex
	subs map[string]chan Event
}

var (
	_ call.AlertSink   = (*Hub)(nil)
	_ call.VerdictSink = (*Hub)(nil)
)

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]chan Event)}
}

// Subscribe returns the events of callID until cancel is called. cancel
// closes the channel and is safe to call more than once.
func (h *Hub) Subscribe(callID string) (events <-chan Event, cancel func()) {
	ch := make(chan Event, eventBuffer)
	h.mu.Lock()
	h.subs[callID] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if h.subs[callID] == ch {
				delete(h.subs, callID)
			}
			close(ch)
		})
	}
}

// OnVerdict implements [call.VerdictSink].
func (h *Hub) OnVerdict(_ context.Context, v call.Verdict) {
	h.publish(Event{Type: TypeVerdict, CallID: v.SessionID, Verdict: &v})
}

// OnAlert implements [call.AlertSink].
func (h *Hub) OnAlert(_ context.Context, a call.Alert) {
	h.publish(Event{Type: TypeAlert, CallID: a.SessionID, Alert: &a})
}

func (h *Hub) publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.subs[ev.CallID]
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		slog.Warn("stream is not keeping up, dropping event", "call_id", ev.CallID, "type", ev.Type)
	}
}
