package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kyb-worker/internal/config"
	"github.com/sells-group/kyb-worker/internal/metrics"
	"github.com/sells-group/kyb-worker/internal/model"
	"github.com/sells-group/kyb-worker/internal/orchestrator"
	"github.com/sells-group/kyb-worker/internal/probe"
	"github.com/sells-group/kyb-worker/internal/ratelimit"
	"github.com/sells-group/kyb-worker/internal/reasoner"
	"github.com/sells-group/kyb-worker/internal/resilience"
	"github.com/sells-group/kyb-worker/internal/store"
	"github.com/sells-group/kyb-worker/internal/worker"
	anthropicpkg "github.com/sells-group/kyb-worker/pkg/anthropic"
)

func initStore(ctx context.Context) (*store.PostgresStore, error) {
	if cfg.Store.DatabaseURL == "" {
		return nil, eris.New("database URL is required (KYB_STORE_DATABASE_URL)")
	}
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

func checkTimeouts(c config.ChecksConfig) (probe.Timeouts, error) {
	t := probe.Timeouts{
		Default: time.Duration(c.DefaultTimeoutSecs) * time.Second,
		PerKind: make(map[model.CheckKind]time.Duration, len(c.PerCheck)),
	}
	for kind, secs := range c.PerCheck {
		if !model.ValidCheckKind(kind) {
			return probe.Timeouts{}, eris.Errorf("unknown check kind in timeouts: %q", kind)
		}
		t.PerKind[model.CheckKind(kind)] = time.Duration(secs) * time.Second
	}
	return t, nil
}

// initDispatcher assembles the full check-and-score stack behind a
// dispatcher: probes, rate limiters, circuit breakers, the orchestrator,
// and the LLM reasoner.
func initDispatcher(st store.Store, m *metrics.Metrics) (*worker.Dispatcher, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (KYB_ANTHROPIC_KEY)")
	}

	timeouts, err := checkTimeouts(cfg.Checks)
	if err != nil {
		return nil, err
	}

	rates := ratelimit.DefaultRates()
	for integration, rps := range cfg.RateLimits.Rates {
		rates[integration] = rps
	}
	limiters := ratelimit.New(rates)

	breakerCfg := resilience.DefaultBreakerConfig()
	if cfg.Breaker.FailureThreshold > 0 {
		breakerCfg.FailureThreshold = cfg.Breaker.FailureThreshold
	}
	if cfg.Breaker.CooldownSecs > 0 {
		breakerCfg.Cooldown = cfg.Breaker.Cooldown()
	}
	breakers := resilience.NewBreakerSet(breakerCfg)

	registry := probe.NewRegistry(
		probe.NewWHOISProbe(),
		probe.NewDNSProbe(),
		probe.NewMXProbe(),
		probe.NewWebsiteProbe(),
	)
	checks := orchestrator.New(registry, limiters, breakers, timeouts)

	ai := anthropicpkg.NewClient(cfg.Anthropic.Key)
	r := reasoner.New(ai, limiters, cfg.Anthropic.Model)

	return worker.NewDispatcher(st, checks, r, breakers, timeouts, m, worker.DispatcherConfig{
		LockTTL:     cfg.Dispatcher.LockTTL(),
		JobDeadline: cfg.Dispatcher.JobDeadline(),
	}), nil
}

func queueConfig() worker.QueueConfig {
	return worker.QueueConfig{
		Brokers:    cfg.Queue.Brokers,
		JobsTopic:  cfg.Queue.JobsTopic,
		DLQTopic:   cfg.Queue.DLQTopic,
		Group:      cfg.Queue.Group,
		MaxRetries: cfg.Queue.MaxRetries,
		DLQRequeue: cfg.Queue.DLQRequeue,
	}
}
