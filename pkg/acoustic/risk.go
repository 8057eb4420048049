package acoustic

import "math"

// Factor is one audio risk trigger that fired for a bundle.
type Factor struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// trigger pairs a named condition over a bundle with the weight it adds to
// the audio risk when it holds.
type trigger struct {
	name   string
	weight float64
	holds  func(FeatureBundle) bool
}

var triggers = []trigger{
	{"abnormal_volume", 0.20, func(b FeatureBundle) bool {
		return b.Volume.RMS < 0.01 || b.Volume.RMS > 0.8
	}},
	{"abnormal_dynamic_range", 0.15, func(b FeatureBundle) bool {
		return b.Volume.DynamicRange < 0.1 || b.Volume.DynamicRange > 0.9
	}},
	{"abnormal_spectral_centroid", 0.10, func(b FeatureBundle) bool {
		return b.Frequency.Centroid < 500 || b.Frequency.Centroid > 4000
	}},
	{"high_jitter", 0.15, func(b FeatureBundle) bool {
		return b.Voice.Jitter > 0.02
	}},
	{"high_shimmer", 0.15, func(b FeatureBundle) bool {
		return b.Voice.Shimmer > 0.1
	}},
	{"low_hnr", 0.10, func(b FeatureBundle) bool {
		return b.Voice.HNR < 10
	}},
	{"abnormal_speech_rate", 0.10, func(b FeatureBundle) bool {
		return b.Temporal.SpeechRate > 8 || b.Temporal.SpeechRate < 1
	}},
	{"high_pause_ratio", 0.10, func(b FeatureBundle) bool {
		return b.Temporal.PauseRatio > 0.4
	}},
}

// Factors lists the triggers that hold for b, in table order. An empty
// bundle has no factors.
func Factors(b FeatureBundle) []Factor {
	if b.IsEmpty() {
		return nil
	}
	var out []Factor
	for _, t := range triggers {
		if t.holds(b) {
			out = append(out, Factor{Name: t.name, Weight: t.weight})
		}
	}
	return out
}

// Risk sums the weights of all triggered factors, clamped to 1. It is
// exactly 0 when nothing fires.
func Risk(b FeatureBundle) float64 {
	var sum float64
	for _, f := range Factors(b) {
		sum += f.Weight
	}
	return math.Min(sum, 1)
}

// reliableDuration is the amount of audio after which acoustic evidence is
// considered as trustworthy as it gets.
const reliableDuration = 1.0

// maxConfidence caps how confident the acoustic heuristics can be.
const maxConfidence = 0.5

// Confidence grows linearly with the analysed duration up to
// [reliableDuration] seconds and saturates at 0.5. Empty bundles score 0.
func Confidence(b FeatureBundle) float64 {
	if b.IsEmpty() {
		return 0
	}
	return maxConfidence * math.Min(b.Duration/reliableDuration, 1)
}
