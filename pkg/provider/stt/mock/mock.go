// Package mock provides a test double for the stt.Transcriber interface.
//
// Use Transcriber to return canned transcripts, inject failures, and inspect
// which windows the caller asked to transcribe.
//
// Example:
//
//	tr := &mock.Transcriber{Result: stt.Transcript{Text: "hello"}}
//	res, _ := tr.Transcribe(ctx, samples, 16000)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/callsentry/pkg/provider/stt"
)

// TranscribeCall records a single invocation of Transcriber.Transcribe.
type TranscribeCall struct {
	// Samples is a copy of the window passed to Transcribe.
	Samples []float32
	// SampleRate is the sample rate passed to Transcribe.
	SampleRate int
}

// Transcriber is a mock implementation of stt.Transcriber.
type Transcriber struct {
	mu sync.Mutex

	// Result is returned by Transcribe when Err is nil and Func is nil.
	Result stt.Transcript

	// Err, if non-nil, is returned as the error from Transcribe.
	Err error

	// Func, if non-nil, overrides Result and Err. It is called without the
	// mock's lock held and may block.
	Func func(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error)

	// Calls records every call to Transcribe in order.
	Calls []TranscribeCall
}

var _ stt.Transcriber = (*Transcriber)(nil)

// Transcribe records the call and returns the configured response.
func (m *Transcriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, TranscribeCall{
		Samples:    append([]float32(nil), samples...),
		SampleRate: sampleRate,
	})
	fn, res, err := m.Func, m.Result, m.Err
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, samples, sampleRate)
	}
	return res, err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (m *Transcriber) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent call and whether there was one.
func (m *Transcriber) LastCall() (TranscribeCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return TranscribeCall{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}

// Reset clears all recorded calls. Thread-safe.
func (m *Transcriber) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
}
