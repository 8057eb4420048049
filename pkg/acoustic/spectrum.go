package acoustic

import (
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// rolloffFraction is the share of cumulative spectral energy that defines
// the rolloff frequency.
const rolloffFraction = 0.85

// spectrum is a one-sided magnitude spectrum with its bin frequencies.
type spectrum struct {
	freqs []float64
	mags  []float64
}

// magnitudeSpectrum computes the real DFT of x restricted to non-negative
// frequencies. The transform length is the longest 5-smooth prefix of x so
// that long recordings with awkward prime factors stay O(n log n); at most a
// negligible tail of samples is dropped.
func magnitudeSpectrum(x []float64, sampleRate int) spectrum {
	n := prevSmooth(len(x))
	if n < 2 {
		return spectrum{}
	}
	coeffs := fourier.NewFFT(n).Coefficients(nil, x[:n])
	s := spectrum{
		freqs: make([]float64, len(coeffs)),
		mags:  make([]float64, len(coeffs)),
	}
	for k, c := range coeffs {
		s.freqs[k] = float64(k) * float64(sampleRate) / float64(n)
		s.mags[k] = cmplx.Abs(c)
	}
	return s
}

func frequencyStats(x []float64, sampleRate int) Frequency {
	s := magnitudeSpectrum(x, sampleRate)
	if len(s.mags) == 0 {
		return Frequency{}
	}

	var total, weighted float64
	dominant := 0
	for k, m := range s.mags {
		p := m * m
		total += p
		weighted += p * s.freqs[k]
		if m > s.mags[dominant] {
			dominant = k
		}
	}
	if total == 0 {
		return Frequency{}
	}

	centroid := weighted / total
	var spread float64
	for k, m := range s.mags {
		d := s.freqs[k] - centroid
		spread += d * d * m * m
	}

	var rolloff, cum float64
	for k, m := range s.mags {
		cum += m * m
		if cum >= rolloffFraction*total {
			rolloff = s.freqs[k]
			break
		}
	}

	return Frequency{
		Centroid:  finite(centroid),
		Bandwidth: finite(math.Sqrt(spread / total)),
		Rolloff:   rolloff,
		Dominant:  s.freqs[dominant],
	}
}

// autocorrelation returns r[lag] for lag in [0, maxLag] using the
// Wiener-Khinchin relation over a zero-padded transform. Values are
// unnormalised; only their relative order matters to callers.
func autocorrelation(x []float64, maxLag int) []float64 {
	if len(x) == 0 || maxLag < 0 {
		return nil
	}
	if maxLag >= len(x) {
		maxLag = len(x) - 1
	}
	n := nextSmooth(len(x) + maxLag + 1)
	padded := make([]float64, n)
	copy(padded, x)

	fft := fourier.NewFFT(n)
	coeffs := fft.Coefficients(nil, padded)
	for i, c := range coeffs {
		re, im := real(c), imag(c)
		coeffs[i] = complex(re*re+im*im, 0)
	}
	r := fft.Sequence(nil, coeffs)
	return r[:maxLag+1]
}

func isSmooth(n int) bool {
	for _, p := range []int{2, 3, 5} {
		for n%p == 0 {
			n /= p
		}
	}
	return n == 1
}

// prevSmooth returns the largest 5-smooth number <= n, or 0 for n < 1.
func prevSmooth(n int) int {
	for ; n > 0; n-- {
		if isSmooth(n) {
			return n
		}
	}
	return 0
}

// nextSmooth returns the smallest 5-smooth number >= n.
func nextSmooth(n int) int {
	if n < 1 {
		return 1
	}
	for !isSmooth(n) {
		n++
	}
	return n
}
