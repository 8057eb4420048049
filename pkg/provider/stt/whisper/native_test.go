//go:build whispercpp

package whisper_test

import (
	"context"
	"errors"
	"math"
	"os"
	"testing"

	"github.com/MrWong99/callsentry/pkg/provider/stt"
	"github.com/MrWong99/callsentry/pkg/provider/stt/whisper"
)

// nativeModel returns WHISPER_MODEL_PATH or skips the test.
func nativeModel(t *testing.T) *whisper.NativeTranscriber {
	t.Helper()
	p := os.Getenv("WHISPER_MODEL_PATH")
	if p == "" {
		t.Skip("WHISPER_MODEL_PATH not set; skipping native whisper test")
	}
	nt, err := whisper.NewNative(p, whisper.WithNativeLanguage("en"))
	if err != nil {
		t.Fatalf("NewNative: %v", err)
	}
	t.Cleanup(func() { _ = nt.Close() })
	return nt
}

func TestNewNative_Errors(t *testing.T) {
	if _, err := whisper.NewNative(""); err == nil {
		t.Error("expected error for empty model path")
	}
	if _, err := whisper.NewNative("/nonexistent/ggml.bin"); err == nil {
		t.Error("expected error for missing model file")
	}
}

func TestNativeTranscribe_EmptyAndCancelled(t *testing.T) {
	nt := nativeModel(t)
	if _, err := nt.Transcribe(context.Background(), nil, 16000); !errors.Is(err, stt.ErrNoAudio) {
		t.Errorf("empty window err = %v, want ErrNoAudio", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := nt.Transcribe(ctx, make([]float32, 16000), 16000); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled err = %v, want context.Canceled", err)
	}
}

func TestNativeTranscribe_ResamplesTone(t *testing.T) {
	nt := nativeModel(t)
	tone := make([]float32, 8000)
	for i := range tone {
		tone[i] = float32(0.1 * math.Sin(2*math.Pi*440*float64(i)/8000))
	}
	tr, err := nt.Transcribe(context.Background(), tone, 8000)
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Duration.Seconds() != 1 {
		t.Errorf("Duration = %v, want 1s of input audio", tr.Duration)
	}
}
