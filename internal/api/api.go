// Package api serves the read-only call history over JSON.
//
//	GET /v1/calls?limit=N             newest records first
//	GET /v1/calls/suspicious?days=N   suspicious calls, riskiest first
//	GET /v1/calls/{id}                one record
//	GET /v1/calls/{id}/similar?k=N    calls whose transcripts read alike
//	GET /v1/stats?days=N              aggregate figures
//	GET /v1/live                      the call being monitored right now
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/MrWong99/callsentry/internal/call"
	"github.com/MrWong99/callsentry/pkg/provider/embeddings"
	"github.com/MrWong99/callsentry/pkg/store"
)

const (
	defaultLimit = 20
	maxLimit     = 500
	defaultDays  = 7
	maxDays      = 3650
	defaultK     = 5
	maxK         = 50
)

// Live reports the state of the monitored call.
type Live interface {
	Info() call.SessionInfo
}

// Option configures a [Handler].
type Option func(*Handler)

// WithEmbedder enables the similar-calls endpoint.
func WithEmbedder(e embeddings.Embedder) Option {
	return func(h *Handler) { h.embedder = e }
}

// WithLive enables the live endpoint.
func WithLive(l Live) Option {
	return func(h *Handler) { h.live = l }
}

// WithClock replaces time.Now when computing ?days= windows.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) { h.now = now }
}

// Handler serves the history endpoints.
type Handler struct {
	repo     store.Repository
	embedder embeddings.Embedder
	live     Live
	now      func() time.Time
}

// New returns a Handler reading from repo.
func New(repo store.Repository, opts ...Option) *Handler {
	h := &Handler{repo: repo, now: time.Now}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/calls", h.recent)
	mux.HandleFunc("GET /v1/calls/suspicious", h.suspicious)
	mux.HandleFunc("GET /v1/calls/{id}", h.get)
	mux.HandleFunc("GET /v1/calls/{id}/similar", h.similar)
	mux.HandleFunc("GET /v1/stats", h.stats)
	mux.HandleFunc("GET /v1/live", h.liveInfo)
}

type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

func list[T any](items []T) listResponse[T] {
	if items == nil {
		items = []T{}
	}
	return listResponse[T]{Items: items, Count: len(items)}
}

type statsResponse struct {
	store.Stats
	Since time.Time `json:"since"`
	Days  int       `json:"days"`
}

func (h *Handler) recent(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", defaultLimit, 1, maxLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := h.repo.Recent(r.Context(), limit)
	if err != nil {
		h.fail(w, r, "recent calls", err)
		return
	}
	writeJSON(w, http.StatusOK, list(recs))
}

func (h *Handler) suspicious(w http.ResponseWriter, r *http.Request) {
	since, _, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recs, err := h.repo.Suspicious(r.Context(), since)
	if err != nil {
		h.fail(w, r, "suspicious calls", err)
		return
	}
	writeJSON(w, http.StatusOK, list(recs))
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) similar(w http.ResponseWriter, r *http.Request) {
	if h.embedder == nil {
		writeError(w, http.StatusNotImplemented, errors.New("similarity search needs an embeddings provider"))
		return
	}
	k, err := intParam(r, "k", defaultK, 1, maxK)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	rec, ok := h.load(w, r)
	if !ok {
		return
	}
	if rec.Transcript == "" {
		writeJSON(w, http.StatusOK, list[store.Match](nil))
		return
	}
	emb, err := h.embedder.Embed(r.Context(), rec.Transcript)
	if err != nil {
		h.fail(w, r, "embed transcript", err)
		return
	}
	// One extra: the call itself is its own nearest neighbour.
	matches, err := h.repo.Similar(r.Context(), emb, k+1)
	if err != nil {
		h.fail(w, r, "similar calls", err)
		return
	}
	out := make([]store.Match, 0, k)
	for _, m := range matches {
		if m.ID != rec.ID && len(out) < k {
			out = append(out, m)
		}
	}
	writeJSON(w, http.StatusOK, list(out))
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	since, days, err := h.window(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	st, err := h.repo.Stats(r.Context(), since)
	if err != nil {
		h.fail(w, r, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, statsResponse{Stats: st, Since: since, Days: days})
}

func (h *Handler) liveInfo(w http.ResponseWriter, _ *http.Request) {
	if h.live == nil {
		writeError(w, http.StatusNotImplemented, errors.New("no live controller"))
		return
	}
	writeJSON(w, http.StatusOK, h.live.Info())
}

func (h *Handler) load(w http.ResponseWriter, r *http.Request) (store.Record, bool) {
	id := r.PathValue("id")
	rec, err := h.repo.Get(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, fmt.Errorf("call %q not found", id))
		return rec, false
	}
	if err != nil {
		h.fail(w, r, "get call", err)
		return rec, false
	}
	return rec, true
}

func (h *Handler) window(r *http.Request) (time.Time, int, error) {
	days, err := intParam(r, "days", defaultDays, 1, maxDays)
	if err != nil {
		return time.Time{}, 0, err
	}
	return h.now().Add(-time.Duration(days) * 24 * time.Hour), days, nil
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, what string, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	slog.ErrorContext(r.Context(), "history query failed", "query", what, "path", r.URL.Path, "err", err)
	writeError(w, http.StatusInternalServerError, fmt.Errorf("%s failed", what))
}

// intParam parses an optional integer query parameter within [lo, hi].
func intParam(r *http.Request, name string, def, lo, hi int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < lo || n > hi {
		return 0, fmt.Errorf("%s must be an integer in [%d, %d]", name, lo, hi)
	}
	return n, nil
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
