// Package probe contains one adapter per external verification step: WHOIS,
// DNS, MX, website fetch, and phone normalization. Network probes implement
// the Probe interface and are dispatched through a registry keyed by
// CheckKind; a probe never panics through to the orchestrator and never
// aborts its siblings.
package probe

import (
	"context"
	"time"

	"github.com/sells-group/kyb-worker/internal/model"
)

// Probe is the capability interface implemented by each network adapter.
type Probe interface {
	// Kind identifies the check this probe performs.
	Kind() model.CheckKind

	// Integration names the rate-limiter / circuit-breaker bucket the
	// probe's outbound calls count against.
	Integration() string

	// Run performs the check. A returned error means the probe could not
	// produce a result; the orchestrator records it as a failed check.
	Run(ctx context.Context, submitted model.SubmittedData) (model.CheckResult, error)
}

// Timeouts holds the per-kind check timeout overrides. Zero means default.
type Timeouts struct {
	Default time.Duration
	PerKind map[model.CheckKind]time.Duration
}

// For returns the timeout for a check kind.
func (t Timeouts) For(kind model.CheckKind) time.Duration {
	if d, ok := t.PerKind[kind]; ok && d > 0 {
		return d
	}
	if t.Default > 0 {
		return t.Default
	}
	return 30 * time.Second
}

// Registry maps CheckKind to its probe.
type Registry struct {
	probes map[model.CheckKind]Probe
}

// NewRegistry builds a registry from the given probes.
func NewRegistry(probes ...Probe) *Registry {
	r := &Registry{probes: make(map[model.CheckKind]Probe, len(probes))}
	for _, p := range probes {
		r.probes[p.Kind()] = p
	}
	return r
}

// Get returns the probe for a kind, or nil if none is registered.
func (r *Registry) Get(kind model.CheckKind) Probe {
	return r.probes[kind]
}

// Kinds returns the registered kinds in declaration order.
func (r *Registry) Kinds() []model.CheckKind {
	var kinds []model.CheckKind
	for _, kind := range model.CheckKinds() {
		if _, ok := r.probes[kind]; ok {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

func failedResult(kind model.CheckKind, class string) model.CheckResult {
	return model.CheckResult{
		Kind:   kind,
		Status: model.CheckFailed,
		Error:  class,
	}
}
