package acoustic

import (
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"
)

const (
	minVoiceHz   = 50.0
	maxVoiceHz   = 500.0
	shimmerFrame = 1024
)

func voiceQuality(x []float64, sampleRate int) VoiceQuality {
	return VoiceQuality{
		F0:      estimateF0(x, sampleRate),
		Jitter:  jitter(x, sampleRate),
		Shimmer: shimmer(x),
		HNR:     harmonicsToNoise(x, sampleRate),
	}
}

// estimateF0 picks the autocorrelation maximum among lags corresponding to
// 50-500 Hz. It returns 0 when the signal is too short to cover the longest
// period or the estimate falls outside the voice band.
func estimateF0(x []float64, sampleRate int) float64 {
	minLag := int(float64(sampleRate) / maxVoiceHz)
	maxLag := int(float64(sampleRate) / minVoiceHz)
	if minLag < 1 || len(x) <= maxLag {
		return 0
	}
	r := autocorrelation(x, maxLag)
	if len(r) < maxLag {
		return 0
	}
	best := minLag
	for lag := minLag; lag < maxLag; lag++ {
		if r[lag] > r[best] {
			best = lag
		}
	}
	if r[best] <= 0 {
		return 0
	}
	f0 := float64(sampleRate) / float64(best)
	if f0 < minVoiceHz || f0 > maxVoiceHz {
		return 0
	}
	return f0
}

// jitter approximates pitch perturbation as the standard deviation of the
// per-frame zero-crossing rate over 25 ms frames with a 10 ms hop.
func jitter(x []float64, sampleRate int) float64 {
	frame := sampleRate * 25 / 1000
	hop := sampleRate * 10 / 1000
	if frame <= 0 || hop <= 0 {
		return 0
	}
	var zcr []float64
	for i := 0; i < len(x)-frame; i += hop {
		zcr = append(zcr, zeroCrossingRate(x[i:i+frame]))
	}
	if len(zcr) < 2 {
		return 0
	}
	_, std := stat.PopMeanStdDev(zcr, nil)
	return finite(std)
}

// shimmer approximates amplitude perturbation as the coefficient of
// variation of per-frame RMS over fixed 1024-sample frames.
func shimmer(x []float64) float64 {
	var amps []float64
	for i := 0; i < len(x)-shimmerFrame; i += shimmerFrame {
		var sum float64
		for _, v := range x[i : i+shimmerFrame] {
			sum += v * v
		}
		amps = append(amps, math.Sqrt(sum/shimmerFrame))
	}
	if len(amps) < 2 {
		return 0
	}
	mean, std := stat.PopMeanStdDev(amps, nil)
	if mean <= 0 {
		return 0
	}
	return finite(std / mean)
}

// harmonicsToNoise compares the loudest decile of spectral magnitudes with
// the quietest half, in dB.
func harmonicsToNoise(x []float64, sampleRate int) float64 {
	s := magnitudeSpectrum(x, sampleRate)
	n := len(s.mags)
	if n/10 == 0 || n/2 == 0 {
		return 0
	}
	sorted := slices.Clone(s.mags)
	slices.Sort(sorted)

	signal := stat.Mean(sorted[n-n/10:], nil)
	noise := stat.Mean(sorted[:n/2], nil)
	if noise <= 0 || signal <= 0 {
		return 0
	}
	return finite(10 * math.Log10(signal/noise))
}
