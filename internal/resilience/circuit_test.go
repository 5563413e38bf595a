package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreaker_ClosedPassesThrough(t *testing.T) {
	b := NewBreaker("whois", DefaultBreakerConfig())

	var calls int
	err := b.Do(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", b.State())
	}
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("dns", BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})

	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), func(_ context.Context) error {
			return errors.New("lookup failed")
		})
	}

	if b.State() != CircuitOpen {
		t.Fatalf("expected open state after 3 failures, got %s", b.State())
	}

	err := b.Do(context.Background(), func(_ context.Context) error {
		t.Error("call should be short-circuited while open")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("http", BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		_ = b.Do(context.Background(), func(_ context.Context) error {
			return errors.New("unreachable")
		})
	}
	if got := b.ConsecutiveFailures(); got != 2 {
		t.Errorf("expected 2 failures, got %d", got)
	}

	_ = b.Do(context.Background(), func(_ context.Context) error { return nil })

	if got := b.ConsecutiveFailures(); got != 0 {
		t.Errorf("expected failure count reset, got %d", got)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed state, got %s", b.State())
	}
}

func TestBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Now()
	b := NewBreaker("anthropic", BreakerConfig{FailureThreshold: 1, Cooldown: 30 * time.Second})
	b.WithNow(func() time.Time { return now })

	_ = b.Do(context.Background(), func(_ context.Context) error {
		return errors.New("api error")
	})
	if b.State() != CircuitOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	// Advance past the cooldown; next call is the half-open probe.
	now = now.Add(31 * time.Second)
	if b.State() != CircuitHalfOpen {
		t.Fatalf("expected half-open after cooldown, got %s", b.State())
	}

	err := b.Do(context.Background(), func(_ context.Context) error { return nil })
	if err != nil {
		t.Fatalf("probe call failed: %v", err)
	}
	if b.State() != CircuitClosed {
		t.Errorf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker("whois", BreakerConfig{FailureThreshold: 1, Cooldown: 10 * time.Second})
	b.WithNow(func() time.Time { return now })

	_ = b.Do(context.Background(), func(_ context.Context) error {
		return errors.New("down")
	})

	now = now.Add(11 * time.Second)
	err := b.Do(context.Background(), func(_ context.Context) error {
		return errors.New("still down")
	})
	if err == nil {
		t.Fatal("expected probe error")
	}
	if b.State() != CircuitOpen {
		t.Errorf("expected reopened circuit, got %s", b.State())
	}
}

func TestBreaker_ShouldTripFilter(t *testing.T) {
	permanent := errors.New("bad input")
	b := NewBreaker("phone", BreakerConfig{
		FailureThreshold: 1,
		Cooldown:         time.Minute,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, permanent) },
	})

	_ = b.Do(context.Background(), func(_ context.Context) error { return permanent })

	if b.State() != CircuitClosed {
		t.Errorf("permanent error should not trip the breaker, state=%s", b.State())
	}
}

func TestBreakerSet_PerIntegration(t *testing.T) {
	set := NewBreakerSet(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	_ = set.For("whois").Do(context.Background(), func(_ context.Context) error {
		return errors.New("down")
	})

	if set.For("whois").State() != CircuitOpen {
		t.Error("whois breaker should be open")
	}
	if set.For("dns").State() != CircuitClosed {
		t.Error("dns breaker should be unaffected")
	}

	states := set.States()
	if states["whois"] != CircuitOpen {
		t.Errorf("snapshot disagrees: %v", states)
	}
}
