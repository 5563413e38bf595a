// Package orchestrator runs a job's verification checks concurrently and
// collects one result per check. A failing check is recorded, never
// propagated; the orchestrator's only error is a missing probe.
package orchestrator

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/kyb-worker/internal/model"
	"github.com/sells-group/kyb-worker/internal/probe"
	"github.com/sells-group/kyb-worker/internal/ratelimit"
	"github.com/sells-group/kyb-worker/internal/resilience"
)

// maxConcurrentChecks bounds the per-job worker pool. The check set is
// fixed-size, so this equals full parallelism.
const maxConcurrentChecks = 5

// Orchestrator fans a job's checks out over the probe registry, pushing each
// outbound call through the integration's rate limiter and circuit breaker.
type Orchestrator struct {
	registry *probe.Registry
	limiters *ratelimit.Limiters
	breakers *resilience.BreakerSet
	timeouts probe.Timeouts
}

// New assembles an orchestrator.
func New(registry *probe.Registry, limiters *ratelimit.Limiters, breakers *resilience.BreakerSet, timeouts probe.Timeouts) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		limiters: limiters,
		breakers: breakers,
		timeouts: timeouts,
	}
}

// ProgressFunc is invoked as each check settles, with the check's kind and
// the running count of settled checks. It is called from probe goroutines
// but never concurrently.
type ProgressFunc func(kind model.CheckKind, completed int)

// RunChecks executes the requested checks concurrently and returns one
// CheckResult per kind. Each check gets its own timeout; a check that times
// out, is rate-starved, or is short-circuited by an open breaker is recorded
// as failed with its error class. RunChecks returns an error only when a
// requested kind has no registered probe or the enclosing job context is
// cancelled before all checks settle. onProgress may be nil.
func (o *Orchestrator) RunChecks(ctx context.Context, submitted model.SubmittedData, checksToRun []model.CheckKind, onProgress ProgressFunc) (map[model.CheckKind]model.CheckResult, error) {
	for _, kind := range checksToRun {
		if o.registry.Get(kind) == nil {
			return nil, eris.Errorf("orchestrator: no probe registered for %s", kind)
		}
	}

	var (
		mu      sync.Mutex
		results = make(map[model.CheckKind]model.CheckResult, len(checksToRun))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)

	for _, kind := range checksToRun {
		p := o.registry.Get(kind)
		g.Go(func() error {
			res := o.runOne(gctx, p, submitted)
			mu.Lock()
			results[kind] = res
			completed := len(results)
			if onProgress != nil {
				onProgress(kind, completed)
			}
			mu.Unlock()
			// Check failures are results, not errors; only job
			// cancellation aborts the group.
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return nil, eris.Wrap(err, "orchestrator: job cancelled")
	}
	return results, nil
}

// runOne executes a single probe inside its own timeout, behind the
// integration's limiter and breaker.
func (o *Orchestrator) runOne(ctx context.Context, p probe.Probe, submitted model.SubmittedData) model.CheckResult {
	kind := p.Kind()
	integration := p.Integration()
	log := zap.L().With(
		zap.String("company_id", submitted.CompanyID),
		zap.String("check", string(kind)),
	)

	checkCtx, cancel := context.WithTimeout(ctx, o.timeouts.For(kind))
	defer cancel()

	var res model.CheckResult
	err := o.breakers.For(integration).Do(checkCtx, func(ctx context.Context) error {
		if waitErr := o.limiters.Wait(ctx, integration); waitErr != nil {
			return waitErr
		}
		var runErr error
		res, runErr = p.Run(ctx, submitted)
		return runErr
	})
	if err != nil {
		class := resilience.ErrorClass(err)
		log.Warn("check failed",
			zap.String("integration", integration),
			zap.String("class", class),
			zap.Error(err),
		)
		if res.Status != model.CheckFailed {
			res = model.CheckResult{Kind: kind, Status: model.CheckFailed, Error: class}
		}
		return res
	}

	log.Debug("check complete", zap.Int("raw_fields", len(res.RawData)))
	return res
}
