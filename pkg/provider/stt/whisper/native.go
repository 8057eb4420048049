//go:build whispercpp

// The whisper.cpp static library (libwhisper.a) and whisper.h must be
// reachable through LIBRARY_PATH and C_INCLUDE_PATH when building with
// -tags whispercpp.

package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/MrWong99/callsentry/pkg/audio"
	"github.com/MrWong99/callsentry/pkg/provider/stt"
)

var (
	_ stt.Transcriber = (*NativeTranscriber)(nil)
	_ io.Closer       = (*NativeTranscriber)(nil)
)

// NativeTranscriber runs whisper.cpp in process through its cgo bindings.
// The model is loaded once; every Transcribe call gets its own inference
// context, so concurrent calls are safe.
type NativeTranscriber struct {
	model whisperlib.Model
	cfg   nativeConfig
}

// NewNative loads the ggml model at modelPath. Close releases it.
func NewNative(modelPath string, opts ...NativeOption) (*NativeTranscriber, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: model path is required")
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("whisper: load model %q: %w", modelPath, err)
	}
	return &NativeTranscriber{model: model, cfg: newNativeConfig(opts)}, nil
}

// Close frees the model.
func (t *NativeTranscriber) Close() error {
	if t.model == nil {
		return nil
	}
	return t.model.Close()
}

// Transcribe implements stt.Transcriber. Windows at other rates are
// resampled to 16 kHz first. Cancelling ctx aborts inference before the
// encoder runs.
func (t *NativeTranscriber) Transcribe(ctx context.Context, samples []float32, sampleRate int) (stt.Transcript, error) {
	if len(samples) == 0 {
		return stt.Transcript{}, stt.ErrNoAudio
	}
	if sampleRate <= 0 {
		return stt.Transcript{}, fmt.Errorf("whisper: invalid sample rate %d", sampleRate)
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}
	dur := stt.AudioDuration(len(samples), sampleRate)
	if sampleRate != nativeSampleRate {
		rs := audio.NewResampler(sampleRate, nativeSampleRate)
		samples = append(rs.Push(samples), rs.Flush()...)
	}

	wctx, err := t.model.NewContext()
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("whisper: new context: %w", err)
	}
	if err := wctx.SetLanguage(t.cfg.language); err != nil {
		slog.Warn("whisper: unsupported language, using model default", "language", t.cfg.language, "err", err)
	}
	if t.cfg.threads > 0 {
		wctx.SetThreads(uint(t.cfg.threads))
	}

	keepGoing := func() bool { return ctx.Err() == nil }
	if err := wctx.Process(samples, keepGoing, nil, nil); err != nil {
		if ctx.Err() != nil {
			return stt.Transcript{}, ctx.Err()
		}
		return stt.Transcript{}, fmt.Errorf("whisper: inference: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return stt.Transcript{}, err
	}

	var parts []string
	for {
		seg, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stt.Transcript{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		if s := strings.TrimSpace(seg.Text); s != "" {
			parts = append(parts, s)
		}
	}
	return stt.Transcript{
		Text:     strings.Join(parts, " "),
		Language: t.cfg.language,
		Duration: dur,
	}, nil
}
