// Package memstore is an in-process [store.Repository]. It keeps every record
// in memory and is intended for development, tests and deployments without
// PostgreSQL. Contents are lost on restart.
package memstore

import (
	"cmp"
	"context"
	"math"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/MrWong99/callsentry/pkg/store"
)

// Compile-time interface assertion.
var _ store.Repository = (*Store)(nil)

// Store is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	records  map[string]store.Record
	analyses []store.Analysis
}

// New returns an empty Store.
func New() *Store {
	return &Store{records: make(map[string]store.Record)}
}

// Save implements store.Sink. Saving an existing id replaces the record.
func (s *Store) Save(_ context.Context, r store.Record) error {
	r.FailedStages = slices.Clone(r.FailedStages)
	r.Embedding = slices.Clone(r.Embedding)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[r.ID] = r
	return nil
}

// SaveAnalysis implements store.AnalysisSink.
func (s *Store) SaveAnalysis(_ context.Context, a store.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses = append(s.analyses, a)
	return nil
}

// Analyses returns the verdicts stored for callID in insertion order.
func (s *Store) Analyses(callID string) []store.Analysis {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Analysis
	for _, a := range s.analyses {
		if a.CallID == callID {
			out = append(out, a)
		}
	}
	return out
}

// Get implements store.Repository.
func (s *Store) Get(_ context.Context, id string) (store.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[id]
	if !ok {
		return store.Record{}, store.ErrNotFound
	}
	return stripped(r), nil
}

// Recent implements store.Repository.
func (s *Store) Recent(_ context.Context, limit int) ([]store.Record, error) {
	out := s.filter(func(store.Record) bool { return true })
	slices.SortFunc(out, func(a, b store.Record) int { return b.StartedAt.Compare(a.StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Suspicious implements store.Repository.
func (s *Store) Suspicious(_ context.Context, since time.Time) ([]store.Record, error) {
	out := s.filter(func(r store.Record) bool {
		return r.IsSuspicious && !r.StartedAt.Before(since)
	})
	slices.SortFunc(out, func(a, b store.Record) int { return cmp.Compare(b.FusedRisk, a.FusedRisk) })
	return out, nil
}

// Stats implements store.Repository.
func (s *Store) Stats(_ context.Context, since time.Time) (store.Stats, error) {
	var (
		st       store.Stats
		risk     float64
		duration time.Duration
	)
	for _, r := range s.filter(func(r store.Record) bool { return !r.StartedAt.Before(since) }) {
		st.Total++
		if r.IsSuspicious {
			st.Suspicious++
		}
		if r.FusedRisk > store.HighRiskThreshold {
			st.HighRisk++
		}
		risk += r.FusedRisk
		duration += r.Duration
	}
	if st.Total > 0 {
		st.AvgRisk = risk / float64(st.Total)
		st.AvgDuration = duration / time.Duration(st.Total)
	}
	st.SuspiciousRate = store.SuspiciousRate(st.Suspicious, st.Total)
	return st, nil
}

// Cleanup implements store.Repository.
func (s *Store) Cleanup(_ context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for id, r := range s.records {
		if r.StartedAt.Before(olderThan) {
			delete(s.records, id)
			n++
		}
	}
	s.analyses = slices.DeleteFunc(s.analyses, func(a store.Analysis) bool {
		return a.At.Before(olderThan)
	})
	return n, nil
}

// Similar implements store.Repository using brute-force cosine distance.
func (s *Store) Similar(_ context.Context, embedding []float32, k int) ([]store.Match, error) {
	if len(embedding) == 0 || k <= 0 {
		return nil, nil
	}
	q := widen(embedding)

	s.mu.RLock()
	var out []store.Match
	for _, r := range s.records {
		if len(r.Embedding) != len(q) {
			continue
		}
		out = append(out, store.Match{Record: stripped(r), Distance: cosineDistance(q, widen(r.Embedding))})
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b store.Match) int { return cmp.Compare(a.Distance, b.Distance) })
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Ping implements store.Repository. It always succeeds.
func (s *Store) Ping(context.Context) error { return nil }

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func (s *Store) filter(keep func(store.Record) bool) []store.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []store.Record
	for _, r := range s.records {
		if keep(r) {
			out = append(out, stripped(r))
		}
	}
	return out
}

// stripped drops the embedding so query results match the postgres store.
func stripped(r store.Record) store.Record {
	r.Embedding = nil
	r.FailedStages = slices.Clone(r.FailedStages)
	return r
}

func widen(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// cosineDistance returns 1 - cos(a, b). Zero vectors are maximally distant.
func cosineDistance(a, b []float64) float64 {
	na, nb := floats.Norm(a, 2), floats.Norm(b, 2)
	if na == 0 || nb == 0 {
		return 1
	}
	d := 1 - floats.Dot(a, b)/(na*nb)
	return math.Max(d, 0)
}
