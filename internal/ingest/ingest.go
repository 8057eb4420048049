// Package ingest accepts live call audio over WebSocket.
//
// A client opens GET /v1/stream?sample_rate=N&channels=C, which starts a
// call. Binary frames carry 16-bit little-endian PCM in that format; the
// handler downmixes and resamples them to the detector rate. The call ends
// when the client sends {"type":"end"} or disconnects.
//
// The server pushes JSON text frames: "started" once, "verdict" for every
// tick that produced a transcript, "alert" when the call crosses the high
// risk threshold and "final" with the stored record before closing normally.
//
// Only one call runs at a time. A second stream is accepted and immediately
// closed with status 1013 (try again later).
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/callsentry/internal/call"
	"github.com/MrWong99/callsentry/internal/observe"
	"github.com/MrWong99/callsentry/pkg/audio"
	"github.com/MrWong99/callsentry/pkg/store"
)

const (
	defaultReadLimit = 1 << 20
	writeTimeout     = 5 * time.Second
	maxChannels      = 8
	maxSampleRate    = 192000
)

// Controller is the part of [call.Controller] the handler drives.
type Controller interface {
	Start(ctx context.Context) (string, error)
	Ingest(samples []float32) error
	Stop(ctx context.Context) (store.Record, error)
	Config() call.Config
}

var _ Controller = (*call.Controller)(nil)

// Option configures a [Handler].
type Option func(*Handler)

// WithOriginPatterns allows cross-origin browser clients whose host matches
// one of the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(h *Handler) { h.origins = patterns }
}

// WithReadLimit caps the size of one incoming frame. Default: 1 MiB.
func WithReadLimit(n int64) Option {
	return func(h *Handler) { h.readLimit = n }
}

// Handler serves the audio stream endpoint.
type Handler struct {
	ctrl      Controller
	hub       *Hub
	origins   []string
	readLimit int64
}

// New returns a Handler driving ctrl. hub must be the sink the controller
// publishes verdicts and alerts to.
func New(ctrl Controller, hub *Hub, opts ...Option) *Handler {
	h := &Handler{ctrl: ctrl, hub: hub, readLimit: defaultReadLimit}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds GET /v1/stream to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.Handle("GET /v1/stream", h)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	detectorRate := h.ctrl.Config().SampleRate
	src, err := parseFormat(r, detectorRate)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: h.origins})
	if err != nil {
		// Accept has already written the HTTP error.
		slog.Debug("websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.readLimit)

	ctx := r.Context()
	callID, err := h.ctrl.Start(ctx)
	if errors.Is(err, call.ErrCallActive) {
		conn.Close(websocket.StatusTryAgainLater, "a call is already active")
		return
	}
	if err != nil {
		slog.Error("failed to start call", "err", err)
		conn.Close(websocket.StatusInternalError, "cannot start call")
		return
	}
	log := observe.Logger(observe.WithCallID(ctx, callID))
	log.Info("audio stream opened", "format", src.String(), "remote", r.RemoteAddr)

	events, unsubscribe := h.hub.Subscribe(callID)
	defer unsubscribe()

	if err := write(ctx, conn, Event{Type: TypeStarted, CallID: callID, SampleRate: detectorRate}); err != nil {
		log.Debug("client gone before start", "err", err)
	}

	// Forward events while audio flows.
	forwarded := make(chan struct{})
	go func() {
		defer close(forwarded)
		for ev := range events {
			if err := write(ctx, conn, ev); err != nil {
				log.Debug("failed to push event", "type", ev.Type, "err", err)
			}
		}
	}()

	connected := h.receive(ctx, conn, src, detectorRate, log)

	rec, stopErr := h.ctrl.Stop(ctx)
	unsubscribe()
	<-forwarded

	if stopErr != nil && !errors.Is(stopErr, call.ErrNoActiveCall) {
		log.Error("call finished with error", "err", stopErr)
	}
	if !connected {
		log.Info("audio stream closed by client")
		return
	}
	if rec.ID != "" {
		final := Event{Type: TypeFinal, CallID: callID, Final: summarize(rec, stopErr == nil)}
		if err := write(context.WithoutCancel(ctx), conn, final); err != nil {
			log.Debug("failed to send final result", "err", err)
			return
		}
	}
	conn.Close(websocket.StatusNormalClosure, "call ended")
}

// receive feeds audio to the controller until the client ends the call or
// the connection fails. It reports whether the client is still connected.
func (h *Handler) receive(ctx context.Context, conn *websocket.Conn, src audio.Format, detectorRate int, log *slog.Logger) bool {
	norm := audio.NewNormalizer(src, detectorRate)
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			log.Debug("stream read ended", "err", err, "close_status", websocket.CloseStatus(err))
			return false
		}
		switch typ {
		case websocket.MessageBinary:
			samples := norm.Push(data)
			if len(samples) == 0 {
				continue
			}
			if err := h.ctrl.Ingest(samples); err != nil {
				log.Warn("call no longer accepts audio", "err", err)
				return true
			}
		case websocket.MessageText:
			var msg clientMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Warn("ignoring malformed control message", "err", err)
				continue
			}
			if msg.Type == TypeEnd {
				return true
			}
			log.Debug("ignoring unknown control message", "type", msg.Type)
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, ev Event) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, ev)
}

// parseFormat reads the client's PCM format from the query string.
func parseFormat(r *http.Request, defaultRate int) (audio.Format, error) {
	f := audio.Format{SampleRate: defaultRate, Channels: 1}
	q := r.URL.Query()
	if v := q.Get("sample_rate"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1000 || n > maxSampleRate {
			return f, fmt.Errorf("invalid sample_rate %q", v)
		}
		f.SampleRate = n
	}
	if v := q.Get("channels"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxChannels {
			return f, fmt.Errorf("invalid channels %q", v)
		}
		f.Channels = n
	}
	return f, nil
}
