// Package resilience provides the circuit breaker, transient-error
// classification, and bounded retry used around external probe integrations.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state; calls flow through.
	CircuitClosed CircuitState = iota
	// CircuitOpen means the integration is considered down and calls are
	// rejected immediately until the cooldown elapses.
	CircuitOpen
	// CircuitHalfOpen allows a single probe call to test recovery.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a call is short-circuited because the
// integration's breaker is open. Callers record it as a check failure rather
// than propagating it.
var ErrCircuitOpen = eris.New("resilience: circuit breaker is open")

// BreakerConfig controls circuit breaker behavior for one integration.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before the
	// circuit opens. Default: 5.
	FailureThreshold int

	// Cooldown is how long the circuit stays open before a recovery probe
	// is allowed through. Default: 30s.
	Cooldown time.Duration

	// ShouldTrip decides which errors count toward the threshold. Nil means
	// every error counts: for probe integrations a timeout and a refused
	// connection are equally a sign the upstream is unhealthy.
	ShouldTrip func(err error) bool
}

// DefaultBreakerConfig returns the defaults used for probe integrations.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
	}
}

// Breaker is a consecutive-failure circuit breaker for a single external
// integration (whois, dns, http, anthropic).
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu           sync.Mutex
	state        CircuitState
	failures     int
	openedAt     time.Time
	halfOpenBusy bool

	now func() time.Time
}

// NewBreaker creates a breaker for the named integration.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{
		name:  name,
		cfg:   cfg,
		state: CircuitClosed,
		now:   time.Now,
	}
}

// Name returns the integration this breaker guards.
func (b *Breaker) Name() string { return b.name }

// Do runs fn through the breaker. An open circuit returns ErrCircuitOpen
// without invoking fn. In half-open state only one in-flight probe call is
// admitted; concurrent callers are rejected until it resolves.
func (b *Breaker) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := b.admit(); err != nil {
		return err
	}
	err := fn(ctx)
	b.record(err)
	return err
}

// State returns the effective state, accounting for cooldown expiry.
func (b *Breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == CircuitOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		return CircuitHalfOpen
	}
	return b.state
}

// ConsecutiveFailures exposes the failure counter for metrics.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// WithNow injects a clock for tests.
func (b *Breaker) WithNow(now func() time.Time) *Breaker {
	b.now = now
	return b
}

func (b *Breaker) admit() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil
	case CircuitOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrCircuitOpen
		}
		b.setState(CircuitHalfOpen)
		b.halfOpenBusy = true
		return nil
	case CircuitHalfOpen:
		if b.halfOpenBusy {
			return ErrCircuitOpen
		}
		b.halfOpenBusy = true
		return nil
	default:
		return nil
	}
}

func (b *Breaker) record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	trips := err != nil
	if err != nil && b.cfg.ShouldTrip != nil {
		trips = b.cfg.ShouldTrip(err)
	}

	if b.state == CircuitHalfOpen {
		b.halfOpenBusy = false
		if trips {
			b.failures++
			b.openedAt = b.now()
			b.setState(CircuitOpen)
		} else {
			b.failures = 0
			b.setState(CircuitClosed)
		}
		return
	}

	if !trips {
		b.failures = 0
		return
	}

	b.failures++
	if b.state == CircuitClosed && b.failures >= b.cfg.FailureThreshold {
		b.openedAt = b.now()
		b.setState(CircuitOpen)
	}
}

func (b *Breaker) setState(to CircuitState) {
	from := b.state
	if from == to {
		return
	}
	b.state = to
	zap.L().Warn("resilience: circuit state change",
		zap.String("integration", b.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
		zap.Int("consecutive_failures", b.failures),
	)
}

// BreakerSet holds one breaker per external integration.
type BreakerSet struct {
	mu       sync.RWMutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
}

// NewBreakerSet creates a registry of per-integration breakers sharing cfg.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
	}
}

// For returns the breaker for the named integration, creating it on first use.
func (s *BreakerSet) For(integration string) *Breaker {
	s.mu.RLock()
	b, ok := s.breakers[integration]
	s.mu.RUnlock()
	if ok {
		return b
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok = s.breakers[integration]; ok {
		return b
	}
	b = NewBreaker(integration, s.cfg)
	s.breakers[integration] = b
	return b
}

// States returns a snapshot of every breaker's effective state.
func (s *BreakerSet) States() map[string]CircuitState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	states := make(map[string]CircuitState, len(s.breakers))
	for name, b := range s.breakers {
		states[name] = b.State()
	}
	return states
}
