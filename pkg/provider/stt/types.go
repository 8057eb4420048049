package stt

import "time"

// Transcript is the result of one transcription request.
type Transcript struct {
	// Text is the recognised speech. It may be empty for silent windows.
	Text string

	// Confidence is the provider's overall confidence (0.0–1.0). Zero when
	// the provider does not report one.
	Confidence float64

	// Language is the detected or requested language, if known.
	Language string

	// Duration is the length of the transcribed audio.
	Duration time.Duration
}

// AudioDuration returns the playback length of n samples at sampleRate.
func AudioDuration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}
