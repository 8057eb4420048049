package call

import (
	"slices"
	"testing"
)

func seq(from, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(from + i)
	}
	return out
}

func TestRing_FIFOEviction(t *testing.T) {
	r := newRing(5)
	r.Write(seq(0, 3))
	r.Write(seq(3, 4))
	if got, want := r.All(), seq(2, 5); !slices.Equal(got, want) {
		t.Errorf("All = %v, want %v", got, want)
	}
	if r.Len() != 5 || r.Total() != 7 {
		t.Errorf("Len=%d Total=%d", r.Len(), r.Total())
	}
}

func TestRing_OversizedWrite(t *testing.T) {
	r := newRing(4)
	r.Write(seq(0, 2))
	r.Write(seq(10, 9))
	if got, want := r.All(), seq(15, 4); !slices.Equal(got, want) {
		t.Errorf("All = %v, want %v", got, want)
	}
}

func TestRing_TailAcrossWrap(t *testing.T) {
	r := newRing(6)
	for i := 0; i < 20; i += 4 {
		r.Write(seq(i, 4))
	}
	if got, want := r.Tail(3), seq(17, 3); !slices.Equal(got, want) {
		t.Errorf("Tail(3) = %v, want %v", got, want)
	}
	if got := r.Tail(100); len(got) != 6 {
		t.Errorf("Tail(100) len = %d, want 6", len(got))
	}
	if got := newRing(3).Tail(2); got != nil {
		t.Errorf("empty Tail = %v", got)
	}
}

func TestRing_NeverExceedsCap(t *testing.T) {
	r := newRing(100)
	next := 0
	for _, n := range []int{7, 93, 1, 250, 0, 33, 99, 100, 101} {
		r.Write(seq(next, n))
		next += n
		if r.Len() > r.Cap() {
			t.Fatalf("Len %d exceeds cap %d", r.Len(), r.Cap())
		}
		all := r.All()
		if len(all) > 0 && all[len(all)-1] != float32(next-1) {
			t.Fatalf("newest sample = %v, want %v", all[len(all)-1], next-1)
		}
		for i := 1; i < len(all); i++ {
			if all[i] != all[i-1]+1 {
				t.Fatalf("retained samples not contiguous at %d: %v", i, all)
			}
		}
	}
}

func TestRing_GrowsLazilyToLimit(t *testing.T) {
	const limit = 5 * minRingGrowth
	r := newRing(limit)
	if r.allocated() != 0 {
		t.Fatalf("fresh ring allocated %d samples", r.allocated())
	}

	r.Write(seq(0, 100))
	if a := r.allocated(); a != minRingGrowth {
		t.Errorf("allocated after small write = %d, want %d", a, minRingGrowth)
	}

	next := 100
	for next < 3*limit {
		r.Write(seq(next, 7001))
		next += 7001
		if a := r.allocated(); a > limit {
			t.Fatalf("allocated %d past limit %d", a, limit)
		}
	}
	if r.allocated() != limit || r.Len() != limit || r.Cap() != limit {
		t.Errorf("allocated=%d Len=%d Cap=%d, want %d", r.allocated(), r.Len(), r.Cap(), limit)
	}
	if got, want := r.Tail(3), seq(next-3, 3); !slices.Equal(got, want) {
		t.Errorf("Tail(3) = %v, want %v", got, want)
	}
	all := r.All()
	for i := 1; i < len(all); i++ {
		if all[i] != all[i-1]+1 {
			t.Fatalf("samples not contiguous at %d", i)
		}
	}
}
