// Package mock provides a recording [store.Sink] for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callsentry/pkg/store"
)

var (
	_ store.Sink         = (*Sink)(nil)
	_ store.AnalysisSink = (*Sink)(nil)
)

// Sink records every saved record and analysis. Set Err or AnalysisErr to
// make the respective save fail; failed saves are still recorded.
type Sink struct {
	mu sync.Mutex

	Err         error
	AnalysisErr error

	records  []store.Record
	analyses []store.Analysis
}

// Save implements store.Sink.
func (s *Sink) Save(_ context.Context, r store.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, r)
	return s.Err
}

// SaveAnalysis implements store.AnalysisSink.
func (s *Sink) SaveAnalysis(_ context.Context, a store.Analysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.analyses = append(s.analyses, a)
	return s.AnalysisErr
}

// Records returns a copy of the saved records.
func (s *Sink) Records() []store.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Record, len(s.records))
	copy(out, s.records)
	return out
}

// Analyses returns a copy of the saved analyses.
func (s *Sink) Analyses() []store.Analysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Analysis, len(s.analyses))
	copy(out, s.analyses)
	return out
}

// Reset clears recorded calls and injected errors.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records, s.analyses = nil, nil
	s.Err, s.AnalysisErr = nil, nil
}
