// Package audio holds the PCM plumbing shared by the ingress layer, the
// transcription providers and the detector: 16-bit PCM decoding into
// normalised float samples, channel downmixing, linear resampling and WAV
// encoding.
//
// The functions are pure and safe for concurrent use. [Resampler] and
// [Normalizer] carry per-stream state and belong to one stream each.
package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// String returns a human-readable form such as "16000Hz mono".
func (f Format) String() string {
	ch := "mono"
	switch {
	case f.Channels == 2:
		ch = "stereo"
	case f.Channels > 2:
		ch = fmt.Sprintf("%dch", f.Channels)
	}
	return fmt.Sprintf("%dHz %s", f.SampleRate, ch)
}

// PCM16ToFloat32 decodes 16-bit signed little-endian PCM into samples in
// [-1, 1]. A trailing odd byte is ignored.
func PCM16ToFloat32(pcm []byte) []float32 {
	n := len(pcm) / 2
	out := make([]float32, n)
	for i := range n {
		s := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		out[i] = float32(s) / 32768.0
	}
	return out
}

// Float32ToPCM16 encodes samples as 16-bit signed little-endian PCM.
// Values outside [-1, 1] are clamped.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// DownmixPCM16 averages interleaved multi-channel 16-bit PCM into mono.
// channels <= 1 returns pcm unchanged.
func DownmixPCM16(pcm []byte, channels int) []byte {
	if channels <= 1 {
		return pcm
	}
	frameBytes := 2 * channels
	frames := len(pcm) / frameBytes
	out := make([]byte, frames*2)
	for i := range frames {
		var sum int32
		for ch := range channels {
			off := i*frameBytes + ch*2
			sum += int32(int16(binary.LittleEndian.Uint16(pcm[off:])))
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// ResampleMono16 resamples a complete 16-bit mono PCM buffer from srcRate to
// dstRate using linear interpolation. Equal or invalid rates return pcm
// unchanged. Streams split into chunks must use a [Resampler] instead.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	srcN := len(pcm) / 2
	dstN := int(int64(srcN) * int64(dstRate) / int64(srcRate))
	if dstN == 0 {
		return nil
	}

	in := make([]float32, srcN)
	for i := range in {
		in[i] = float32(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	rs := NewResampler(srcRate, dstRate)
	res := append(rs.Push(in), rs.Flush()...)

	out := make([]byte, dstN*2)
	for i, v := range res[:min(dstN, len(res))] {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}

// Resampler converts a mono sample stream between rates by linear
// interpolation. Output positions are derived from a running sample count,
// so chunk boundaries neither drift the timeline nor break interpolation.
//
// A Resampler is not safe for concurrent use.
type Resampler struct {
	src, dst int64
	k        int64   // output samples emitted
	base     int64   // stream index of the next input sample
	prev     float32 // input sample at base-1
}

// NewResampler returns a Resampler from srcRate to dstRate. Equal or
// invalid rates give a pass-through.
func NewResampler(srcRate, dstRate int) *Resampler {
	if srcRate <= 0 || dstRate <= 0 {
		srcRate, dstRate = 1, 1
	}
	return &Resampler{src: int64(srcRate), dst: int64(dstRate)}
}

// Push consumes the next chunk of the stream and returns every output sample
// whose interpolation neighbours are now known. The last output of a chunk
// may wait for the first input of the next one.
func (r *Resampler) Push(in []float32) []float32 {
	if r.src == r.dst || len(in) == 0 {
		return in
	}
	last := r.base + int64(len(in)) - 1
	at := func(i int64) float32 {
		if i < r.base {
			return r.prev
		}
		return in[i-r.base]
	}

	out := make([]float32, 0, int64(len(in))*r.dst/r.src+1)
	for {
		pos := r.k * r.src
		i := pos / r.dst
		if i+1 > last {
			break
		}
		frac := float32(pos%r.dst) / float32(r.dst)
		out = append(out, at(i)*(1-frac)+at(i+1)*frac)
		r.k++
	}
	r.prev = in[len(in)-1]
	r.base = last + 1
	return out
}

// Flush emits the outputs still waiting on input past the end of the
// stream, holding the final sample.
func (r *Resampler) Flush() []float32 {
	if r.src == r.dst || r.base == 0 {
		return nil
	}
	var out []float32
	for r.k*r.src/r.dst < r.base {
		out = append(out, r.prev)
		r.k++
	}
	return out
}

// Normalizer turns a client's PCM16 stream in some [Format] into mono float
// samples at the detector rate. Partial frames and resampler phase carry
// over between chunks, so the stream may be split at any byte.
//
// A Normalizer is not safe for concurrent use.
type Normalizer struct {
	channels int
	rs       *Resampler
	rem      []byte
}

// NewNormalizer returns a Normalizer for a stream in format src.
func NewNormalizer(src Format, dstRate int) *Normalizer {
	n := &Normalizer{channels: max(src.Channels, 1)}
	if src.SampleRate > 0 && dstRate > 0 && src.SampleRate != dstRate {
		n.rs = NewResampler(src.SampleRate, dstRate)
	}
	return n
}

// Push decodes the next chunk of the stream.
func (n *Normalizer) Push(pcm []byte) []float32 {
	data := pcm
	if len(n.rem) > 0 {
		data = append(n.rem, pcm...)
	}
	frame := 2 * n.channels
	whole := len(data) / frame * frame
	n.rem = append([]byte(nil), data[whole:]...)

	samples := PCM16ToFloat32(DownmixPCM16(data[:whole], n.channels))
	if n.rs != nil {
		samples = n.rs.Push(samples)
	}
	return samples
}
