package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/callsentry/pkg/provider/stt"
)

// TranscriberFallback implements [stt.Transcriber] with failover across
// several backends.
type TranscriberFallback struct {
	group *FallbackGroup[stt.Transcriber]
}

var _ stt.Transcriber = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] preferring primary.
// [stt.ErrNoAudio] never counts against a backend.
func NewTranscriberFallback(primary stt.Transcriber, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	isFailure := cfg.CircuitBreaker.IsFailure
	if isFailure == nil {
		isFailure = DefaultIsFailure
	}
	cfg.CircuitBreaker.IsFailure = func(err error) bool {
		return !errors.Is(err, stt.ErrNoAudio) && isFailure(err)
	}
	return &TranscriberFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers another transcriber.
func (f *TranscriberFallback) AddFallback(name string, t stt.Transcriber) {
	f.group.AddFallback(name, t)
}

// Transcribe implements [stt.Transcriber].
func (f *TranscriberFallback) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	if len(samples) == 0 {
		return stt.Transcript{}, stt.ErrNoAudio
	}
	return ExecuteWithResult(f.group, func(t stt.Transcriber) (stt.Transcript, error) {
		return t.Transcribe(ctx, samples, sampleRate)
	})
}

// Primary returns the breaker guarding the preferred backend.
func (f *TranscriberFallback) Primary() *CircuitBreaker {
	return f.group.entries[0].breaker
}

// Breakers returns every backend's breaker in try order.
func (f *TranscriberFallback) Breakers() []*CircuitBreaker { return f.group.Breakers() }
