package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func newGroup() *FallbackGroup[string] {
	fg := NewFallbackGroup("primary", "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fg.AddFallback("secondary", "secondary")
	return fg
}

func TestFallbackGroup_Order(t *testing.T) {
	t.Parallel()
	fg := newGroup()
	if fg.Len() != 2 {
		t.Fatalf("Len = %d", fg.Len())
	}

	got, err := ExecuteWithResult(fg, func(v string) (string, error) { return v, nil })
	if err != nil || got != "primary" {
		t.Fatalf("got %q, %v; want primary", got, err)
	}

	got, err = ExecuteWithResult(fg, func(v string) (string, error) {
		if v == "primary" {
			return "", errTest
		}
		return v, nil
	})
	if err != nil || got != "secondary" {
		t.Fatalf("got %q, %v; want secondary", got, err)
	}
}

func TestFallbackGroup_AllFail(t *testing.T) {
	t.Parallel()
	fg := newGroup()
	err := fg.Execute(func(string) error { return errTest })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errTest) {
		t.Fatalf("err = %v, want ErrAllFailed wrapping errTest", err)
	}
}

func TestFallbackGroup_SkipsOpenPrimary(t *testing.T) {
	t.Parallel()
	fg := newGroup()
	calls := map[string]int{}
	run := func(fail bool) {
		_ = fg.Execute(func(v string) error {
			calls[v]++
			if fail && v == "primary" {
				return errTest
			}
			return nil
		})
	}
	run(true)
	run(true) // primary breaker opens
	run(false)

	if calls["primary"] != 2 {
		t.Errorf("primary called %d times, want 2 (then skipped)", calls["primary"])
	}
	if calls["secondary"] != 3 {
		t.Errorf("secondary called %d times, want 3", calls["secondary"])
	}
	if st := fg.Breakers()[0].State(); st != StateOpen {
		t.Errorf("primary breaker = %v, want open", st)
	}
}

func TestFallbackGroup_CancellationStopsFailover(t *testing.T) {
	t.Parallel()
	fg := newGroup()
	var tried []string
	err := fg.Execute(func(v string) error {
		tried = append(tried, v)
		return context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if len(tried) != 1 {
		t.Errorf("tried %v, want only the primary", tried)
	}
}
