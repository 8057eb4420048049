// Package acoustic turns raw call audio into a [FeatureBundle] of volume,
// spectral, voice-quality and temporal statistics, and scores that bundle
// into a single audio risk value in [0, 1].
//
// Every function in this package is pure. Degenerate input (empty buffers,
// frames shorter than the analysis window, silent signals) yields zeroed
// sub-results instead of errors, so callers never need to handle failure.
package acoustic

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Volume holds amplitude statistics of the time-domain signal.
type Volume struct {
	RMS              float64 `json:"rms"`
	Peak             float64 `json:"peak"`
	DynamicRange     float64 `json:"dynamic_range"`
	ZeroCrossingRate float64 `json:"zero_crossing_rate"`
	MeanAmplitude    float64 `json:"mean_amplitude"`
	StdAmplitude     float64 `json:"std_amplitude"`
}

// Frequency holds statistics of the one-sided magnitude spectrum. All values
// are in Hz.
type Frequency struct {
	Centroid  float64 `json:"centroid"`
	Bandwidth float64 `json:"bandwidth"`
	Rolloff   float64 `json:"rolloff"`
	Dominant  float64 `json:"dominant"`
}

// VoiceQuality holds pitch and perturbation estimates. F0 is zero when no
// pitch inside the human voice band was found.
type VoiceQuality struct {
	F0      float64 `json:"f0"`
	Jitter  float64 `json:"jitter"`
	Shimmer float64 `json:"shimmer"`
	HNR     float64 `json:"hnr"`
}

// Temporal holds speaking-rhythm statistics.
type Temporal struct {
	// SpeechRate is the number of high-energy frames per second.
	SpeechRate float64 `json:"speech_rate"`
	// PauseRatio is the fraction of samples considered silent.
	PauseRatio float64 `json:"pause_ratio"`
}

// FeatureBundle is the full result of one extraction pass.
type FeatureBundle struct {
	// Duration is the analysed audio length in seconds. Zero means no audio.
	Duration   float64      `json:"duration"`
	SampleRate int          `json:"sample_rate"`
	Volume     Volume       `json:"volume"`
	Frequency  Frequency    `json:"frequency"`
	Voice      VoiceQuality `json:"voice"`
	Temporal   Temporal     `json:"temporal"`
}

// IsEmpty reports whether the bundle was produced from no audio at all.
func (b FeatureBundle) IsEmpty() bool { return b.Duration == 0 }

// Extract computes the feature bundle for samples recorded at sampleRate.
// Empty input or a non-positive sample rate returns the zero bundle.
func Extract(samples []float32, sampleRate int) FeatureBundle {
	if len(samples) == 0 || sampleRate <= 0 {
		return FeatureBundle{}
	}
	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = float64(s)
	}

	return FeatureBundle{
		Duration:   float64(len(x)) / float64(sampleRate),
		SampleRate: sampleRate,
		Volume:     volumeStats(x),
		Frequency:  frequencyStats(x, sampleRate),
		Voice:      voiceQuality(x, sampleRate),
		Temporal:   temporalStats(x, sampleRate),
	}
}

func volumeStats(x []float64) Volume {
	abs := make([]float64, len(x))
	minNonZero := math.Inf(1)
	var sumSq float64
	for i, v := range x {
		a := math.Abs(v)
		abs[i] = a
		sumSq += v * v
		if a > 0 && a < minNonZero {
			minNonZero = a
		}
	}

	peak := floats.Max(abs)
	dyn := 0.0
	if !math.IsInf(minNonZero, 1) {
		dyn = peak - minNonZero
	}
	mean, std := stat.PopMeanStdDev(abs, nil)

	return Volume{
		RMS:              math.Sqrt(sumSq / float64(len(x))),
		Peak:             peak,
		DynamicRange:     dyn,
		ZeroCrossingRate: zeroCrossingRate(x),
		MeanAmplitude:    mean,
		StdAmplitude:     finite(std),
	}
}

// zeroCrossingRate counts sign changes between neighbouring samples (a
// transition into or out of an exact zero counts as a change) divided by the
// number of samples.
func zeroCrossingRate(x []float64) float64 {
	if len(x) == 0 {
		return 0
	}
	var n int
	for i := 1; i < len(x); i++ {
		if sign(x[i]) != sign(x[i-1]) {
			n++
		}
	}
	return float64(n) / float64(len(x))
}

func temporalStats(x []float64, sampleRate int) Temporal {
	frame := sampleRate * 25 / 1000
	hop := sampleRate * 10 / 1000
	duration := float64(len(x)) / float64(sampleRate)

	var t Temporal
	if frame > 0 && hop > 0 {
		var energies []float64
		for i := 0; i < len(x)-frame; i += hop {
			var e float64
			for _, v := range x[i : i+frame] {
				e += v * v
			}
			energies = append(energies, e)
		}
		if len(energies) > 0 {
			mean, std := stat.PopMeanStdDev(energies, nil)
			threshold := mean + finite(std)
			var peaks int
			for _, e := range energies {
				if e > threshold {
					peaks++
				}
			}
			t.SpeechRate = float64(peaks) / duration
		}
	}

	var meanAbs float64
	for _, v := range x {
		meanAbs += math.Abs(v)
	}
	meanAbs /= float64(len(x))
	silence := 0.1 * meanAbs
	var quiet int
	for _, v := range x {
		if math.Abs(v) < silence {
			quiet++
		}
	}
	t.PauseRatio = float64(quiet) / float64(len(x))
	return t
}

func sign(v float64) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	}
	return 0
}

// finite maps NaN and infinities to zero.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
