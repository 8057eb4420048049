// Package stt defines the Transcriber interface for speech-to-text backends.
//
// A Transcriber turns a window of mono float32 samples into text in a single
// request. The call controller invokes it once per evaluation tick on the
// look-back window and once more on the whole call when it ends, so
// implementations should be stateless between calls.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
)

// ErrNoAudio is returned when Transcribe is called with no samples.
var ErrNoAudio = errors.New("stt: no audio")

// Transcriber is the abstraction over any batch STT backend.
type Transcriber interface {
	// Transcribe converts samples (mono, range [-1,1]) recorded at sampleRate
	// into text. A non-nil error means no transcript is available for this
	// window; callers must treat it as "nothing heard", never as fatal.
	Transcribe(ctx context.Context, samples []float32, sampleRate int) (Transcript, error)
}

// TranscriberFunc adapts a plain function to [Transcriber].
type TranscriberFunc func(ctx context.Context, samples []float32, sampleRate int) (Transcript, error)

// Transcribe calls f.
func (f TranscriberFunc) Transcribe(ctx context.Context, samples []float32, sampleRate int) (Transcript, error) {
	return f(ctx, samples, sampleRate)
}
