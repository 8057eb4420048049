//go:build !whispercpp

package whisper

import (
	"context"

	"github.com/MrWong99/callsentry/pkg/provider/stt"
)

var _ stt.Transcriber = (*NativeTranscriber)(nil)

// NativeTranscriber is unavailable in this build; see [ErrNativeUnavailable].
type NativeTranscriber struct{}

// NewNative always fails with [ErrNativeUnavailable] in this build.
func NewNative(string, ...NativeOption) (*NativeTranscriber, error) {
	return nil, ErrNativeUnavailable
}

// Transcribe always fails with [ErrNativeUnavailable].
func (*NativeTranscriber) Transcribe(context.Context, []float32, int) (stt.Transcript, error) {
	return stt.Transcript{}, ErrNativeUnavailable
}

// Close is a no-op.
func (*NativeTranscriber) Close() error { return nil }
