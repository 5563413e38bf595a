// Package ratelimit provides per-integration token-bucket rate limiting for
// outbound probe and API calls.
package ratelimit

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// Integration names used as limiter keys. The LLM call shares the
// "anthropic" bucket; whois, dns and mx resolve against distinct upstreams.
const (
	IntegrationWHOIS     = "whois"
	IntegrationDNS       = "dns"
	IntegrationHTTP      = "http"
	IntegrationAnthropic = "anthropic"
)

// Rates maps an integration name to its allowed requests per second.
type Rates map[string]float64

// DefaultRates returns the default per-integration request rates.
func DefaultRates() Rates {
	return Rates{
		IntegrationWHOIS:     1,
		IntegrationDNS:       5,
		IntegrationHTTP:      10,
		IntegrationAnthropic: 3,
	}
}

// Limiters holds one token bucket per integration, shared across concurrent
// job executions. Burst equals the rounded-up rate so a briefly idle bucket
// admits a short burst without exceeding the sustained rate.
type Limiters struct {
	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
	fallback rate.Limit
}

// New builds the limiter set from configured rates. Integrations absent from
// rates get the fallback of 1 request per second.
func New(rates Rates) *Limiters {
	l := &Limiters{
		limiters: make(map[string]*rate.Limiter, len(rates)),
		fallback: 1,
	}
	for name, rps := range rates {
		if rps <= 0 {
			rps = float64(l.fallback)
		}
		l.limiters[name] = rate.NewLimiter(rate.Limit(rps), burstFor(rps))
	}
	return l
}

// Wait blocks until the integration's bucket grants a token or ctx expires.
// The caller passes the probe's own timeout context, so a starved limiter
// surfaces as a deadline error and degrades to a recorded check failure
// instead of hanging.
func (l *Limiters) Wait(ctx context.Context, integration string) error {
	if err := l.limiter(integration).Wait(ctx); err != nil {
		return eris.Wrapf(err, "ratelimit: wait for %s token", integration)
	}
	return nil
}

func (l *Limiters) limiter(integration string) *rate.Limiter {
	l.mu.RLock()
	lim, ok := l.limiters[integration]
	l.mu.RUnlock()
	if ok {
		return lim
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if lim, ok = l.limiters[integration]; ok {
		return lim
	}
	lim = rate.NewLimiter(l.fallback, 1)
	l.limiters[integration] = lim
	return lim
}

func burstFor(rps float64) int {
	burst := int(rps)
	if float64(burst) < rps {
		burst++
	}
	if burst < 1 {
		burst = 1
	}
	return burst
}
