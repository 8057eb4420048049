package call

import "sync"

// minRingGrowth is the smallest allocation step, one second at 16 kHz.
const minRingGrowth = 16000

// ring is a bounded FIFO of samples. The backing slice grows on demand up
// to limit; once full, the oldest samples are overwritten.
type ring struct {
	mu    sync.Mutex
	buf   []float32
	limit int
	start int // index of the oldest sample
	n     int // number of valid samples
	total int64
}

func newRing(limit int) *ring {
	return &ring{limit: max(limit, 1)}
}

// Write appends samples, evicting the oldest ones past the limit.
func (r *ring) Write(samples []float32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total += int64(len(samples))
	if need := r.n + len(samples); need > len(r.buf) && len(r.buf) < r.limit {
		r.grow(need)
	}

	c := len(r.buf)
	if len(samples) >= c {
		copy(r.buf, samples[len(samples)-c:])
		r.start, r.n = 0, c
		return
	}

	end := (r.start + r.n) % c
	k := copy(r.buf[end:], samples)
	copy(r.buf, samples[k:])

	r.n += len(samples)
	if r.n > c {
		r.start = (r.start + r.n - c) % c
		r.n = c
	}
}

// grow reallocates to hold need samples, at least doubling, never past
// limit. Buffered samples are moved to the front.
func (r *ring) grow(need int) {
	size := min(r.limit, max(need, 2*len(r.buf), minRingGrowth))
	buf := make([]float32, size)
	copy(buf, r.tailLocked(r.n))
	r.buf, r.start = buf, 0
}

// Tail returns a copy of the newest n samples (fewer if not available).
func (r *ring) Tail(n int) []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tailLocked(n)
}

// All returns a copy of every buffered sample, oldest first.
func (r *ring) All() []float32 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tailLocked(r.n)
}

func (r *ring) tailLocked(n int) []float32 {
	if n > r.n {
		n = r.n
	}
	if n <= 0 {
		return nil
	}
	c := len(r.buf)
	from := (r.start + r.n - n) % c
	out := make([]float32, n)
	k := copy(out, r.buf[from:min(from+n, c)])
	copy(out[k:], r.buf[:n-k])
	return out
}

// Len returns the number of buffered samples.
func (r *ring) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Cap returns the most samples the ring will hold.
func (r *ring) Cap() int { return r.limit }

// allocated returns the current backing length.
func (r *ring) allocated() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.buf)
}

// Total returns how many samples were ever written, evicted ones included.
func (r *ring) Total() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
