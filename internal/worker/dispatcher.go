// Package worker consumes verification jobs from the queue and drives one
// analysis run end to end: checks, rules, LLM assessment, scoring, and the
// versioned analysis write.
package worker

import (
	"context"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kyb-worker/internal/metrics"
	"github.com/sells-group/kyb-worker/internal/model"
	"github.com/sells-group/kyb-worker/internal/orchestrator"
	"github.com/sells-group/kyb-worker/internal/probe"
	"github.com/sells-group/kyb-worker/internal/ratelimit"
	"github.com/sells-group/kyb-worker/internal/reasoner"
	"github.com/sells-group/kyb-worker/internal/resilience"
	"github.com/sells-group/kyb-worker/internal/rules"
	"github.com/sells-group/kyb-worker/internal/scoring"
	"github.com/sells-group/kyb-worker/internal/store"
)

// Outcome is the disposition of one job delivery, consumed by the queue
// layer to decide between commit, requeue, retry, and dead-letter.
type Outcome int

const (
	// OutcomeCompleted means the analysis was persisted; commit the message.
	OutcomeCompleted Outcome = iota
	// OutcomeRequeued means another worker holds the company; republish the
	// job unchanged with backoff.
	OutcomeRequeued
	// OutcomeRetry means a transient failure; redeliver with an incremented
	// attempt, dead-lettering after max retries.
	OutcomeRetry
	// OutcomeDropped means the job can never succeed (unknown company);
	// commit without retry.
	OutcomeDropped
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "completed"
	case OutcomeRequeued:
		return "requeued"
	case OutcomeRetry:
		return "retried"
	case OutcomeDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// CheckRunner runs a job's network checks. Implemented by the orchestrator.
type CheckRunner interface {
	RunChecks(ctx context.Context, submitted model.SubmittedData, checksToRun []model.CheckKind, onProgress orchestrator.ProgressFunc) (map[model.CheckKind]model.CheckResult, error)
}

// Reasoner produces the LLM assessment. Implemented by reasoner.Reasoner.
type Reasoner interface {
	Reason(ctx context.Context, submitted model.SubmittedData, discovered map[string]string, signals []model.Signal) (reasoner.Assessment, error)
}

// DocumentCounter reports how many supporting documents a company has
// attached. Companies above extendedOrchestrationDocs get a widened job
// deadline; document handling itself lives outside this worker.
type DocumentCounter interface {
	CountDocuments(ctx context.Context, companyID string) (int, error)
}

// extendedOrchestrationDocs is the document count above which a run gets the
// extended deadline.
const extendedOrchestrationDocs = 10

// Dispatcher drives one verification job end to end.
type Dispatcher struct {
	store     store.Store
	checks    CheckRunner
	reasoner  Reasoner
	breakers  *resilience.BreakerSet
	timeouts  probe.Timeouts
	metrics   *metrics.Metrics
	documents DocumentCounter

	// lockTTL bounds how long a claimed company stays locked if this worker
	// dies mid-job; jobDeadline bounds the job itself and must stay under
	// lockTTL so the lock never expires mid-run.
	lockTTL     time.Duration
	jobDeadline time.Duration
}

// DispatcherConfig carries the dispatcher's tunables. Documents is optional;
// without it every job gets the base deadline.
type DispatcherConfig struct {
	LockTTL     time.Duration
	JobDeadline time.Duration
	Documents   DocumentCounter
}

// NewDispatcher assembles a dispatcher.
func NewDispatcher(st store.Store, checks CheckRunner, r Reasoner, breakers *resilience.BreakerSet, timeouts probe.Timeouts, m *metrics.Metrics, cfg DispatcherConfig) *Dispatcher {
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 20 * time.Minute
	}
	if cfg.JobDeadline <= 0 {
		cfg.JobDeadline = 15 * time.Minute
	}
	return &Dispatcher{
		store:       st,
		checks:      checks,
		reasoner:    r,
		breakers:    breakers,
		timeouts:    timeouts,
		metrics:     m,
		documents:   cfg.Documents,
		lockTTL:     cfg.LockTTL,
		jobDeadline: cfg.JobDeadline,
	}
}

// Process runs one verification job. The returned error carries detail for
// logging; the Outcome alone decides the message disposition. A job that is
// cancelled mid-flight commits nothing: partial results are only persisted
// for a run that finishes with some checks failed.
func (d *Dispatcher) Process(ctx context.Context, job model.VerificationJob) (Outcome, error) {
	start := time.Now()
	log := zap.L().With(
		zap.String("company_id", job.CompanyID),
		zap.String("retry_mode", string(job.RetryMode)),
		zap.Int("attempt", job.Attempt),
	)

	ctx, cancel := context.WithTimeout(ctx, d.deadlineFor(ctx, job.CompanyID, log))
	defer cancel()

	locked, err := d.store.TryLockCompany(ctx, job.CompanyID, d.lockTTL)
	if eris.Is(err, store.ErrCompanyNotFound) {
		log.Warn("dispatcher: unknown company, dropping job")
		d.metrics.IncrementOutcome(OutcomeDropped.String())
		return OutcomeDropped, err
	}
	if err != nil {
		d.metrics.IncrementOutcome(OutcomeRetry.String())
		return OutcomeRetry, eris.Wrap(err, "dispatcher: acquire company lock")
	}
	if !locked {
		log.Info("dispatcher: company locked by another worker, requeueing")
		d.metrics.IncrementOutcome(OutcomeRequeued.String())
		return OutcomeRequeued, nil
	}

	outcome, err := d.run(ctx, job, log)
	if err != nil && outcome == OutcomeRetry {
		// The message will be redelivered; release the claim so the retry
		// does not wait out the lock TTL. The company goes back to pending,
		// not failed: failed is reserved for the dead-letter terminus.
		if unlockErr := d.store.ReleaseCompanyLock(context.WithoutCancel(ctx), job.CompanyID); unlockErr != nil {
			log.Warn("dispatcher: release claim", zap.Error(unlockErr))
		}
	}

	d.metrics.IncrementOutcome(outcome.String())
	d.metrics.ObserveJobDuration(time.Since(start))
	d.publishBreakerStates()
	return outcome, err
}

// deadlineFor doubles the base job deadline for companies with enough
// attached documents to need extended orchestration.
func (d *Dispatcher) deadlineFor(ctx context.Context, companyID string, log *zap.Logger) time.Duration {
	if d.documents == nil {
		return d.jobDeadline
	}
	n, err := d.documents.CountDocuments(ctx, companyID)
	if err != nil {
		log.Warn("dispatcher: count documents", zap.Error(err))
		return d.jobDeadline
	}
	if n > extendedOrchestrationDocs {
		log.Info("dispatcher: extended deadline for document-heavy company", zap.Int("documents", n))
		return 2 * d.jobDeadline
	}
	return d.jobDeadline
}

func (d *Dispatcher) run(ctx context.Context, job model.VerificationJob, log *zap.Logger) (Outcome, error) {
	submitted, err := d.store.GetSubmittedData(ctx, job.CompanyID)
	if eris.Is(err, store.ErrCompanyNotFound) {
		return OutcomeDropped, err
	}
	if err != nil {
		return OutcomeRetry, eris.Wrap(err, "dispatcher: load submitted data")
	}

	toRun, reused, prior, err := d.resolveChecks(ctx, job, log)
	if err != nil {
		return OutcomeRetry, err
	}

	networkKinds, runLLM := splitChecks(toRun)

	results := make(map[model.CheckKind]model.CheckResult, model.TotalChecks)
	for kind, res := range reused {
		results[kind] = res
	}
	baseCompleted := len(reused)

	fresh, err := d.checks.RunChecks(ctx, submitted, networkKinds, func(kind model.CheckKind, completed int) {
		if progressErr := d.store.SetCheckProgress(ctx, job.CompanyID, baseCompleted+completed); progressErr != nil {
			log.Warn("dispatcher: update progress", zap.String("check", string(kind)), zap.Error(progressErr))
		}
	})
	if err != nil {
		// Cancellation mid-flight: nothing is committed.
		return OutcomeRetry, eris.Wrap(err, "dispatcher: run checks")
	}
	for kind, res := range fresh {
		results[kind] = res
		d.metrics.IncrementCheck(string(kind), string(res.Status))
	}

	ruleScore, signals := rules.Score(submitted, results)
	discovered := model.MergeDiscoveredData(results)

	assessment, llmResult := d.assess(ctx, runLLM, submitted, discovered, signals, prior, log)
	results[model.CheckLLMProcessing] = llmResult
	d.metrics.IncrementCheck(string(model.CheckLLMProcessing), string(llmResult.Status))
	if progressErr := d.store.SetCheckProgress(ctx, job.CompanyID, len(results)); progressErr != nil {
		log.Warn("dispatcher: update progress", zap.Error(progressErr))
	}

	if ctx.Err() != nil {
		return OutcomeRetry, eris.Wrap(ctx.Err(), "dispatcher: job deadline exceeded")
	}

	verdict := scoring.Combine(ruleScore, assessment.Adjustment, results)

	rec := &model.AnalysisRecord{
		CompanyID:          job.CompanyID,
		AlgorithmVersion:   model.AlgorithmVersion,
		SubmittedData:      submitted,
		DiscoveredData:     discovered,
		Signals:            signals,
		RuleScore:          ruleScore,
		LLMScoreAdjustment: assessment.Adjustment,
		RiskScore:          verdict.RiskScore,
		LLMSummary:         assessment.Summary,
		LLMDetails:         assessment.Details,
		IsComplete:         verdict.IsComplete,
		FailedChecks:       verdict.FailedChecks,
		CheckResults:       results,
	}

	version, err := d.store.SaveAnalysis(ctx, rec, verdict.AnalysisStatus())
	if err != nil {
		return OutcomeRetry, eris.Wrap(err, "dispatcher: save analysis")
	}

	d.metrics.ObserveRiskScore(verdict.RiskScore)
	log.Info("dispatcher: analysis persisted",
		zap.Int("version", version),
		zap.Int("rule_score", ruleScore),
		zap.Int("llm_adjustment", assessment.Adjustment),
		zap.Int("risk_score", verdict.RiskScore),
		zap.Bool("is_complete", verdict.IsComplete),
		zap.Int("failed_checks", len(verdict.FailedChecks)),
	)
	return OutcomeCompleted, nil
}

// resolveChecks translates the job's retry mode into the set of checks to
// execute, plus any prior successful results to reuse verbatim. A failed_only
// job for a company with no prior analysis degrades to a full run.
func (d *Dispatcher) resolveChecks(ctx context.Context, job model.VerificationJob, log *zap.Logger) (toRun []model.CheckKind, reused map[model.CheckKind]model.CheckResult, prior *model.AnalysisRecord, err error) {
	if job.RetryMode == model.RetryFull {
		return model.CheckKinds(), nil, nil, nil
	}

	prior, err = d.store.GetLatestAnalysis(ctx, job.CompanyID)
	if err != nil {
		return nil, nil, nil, eris.Wrap(err, "dispatcher: load prior analysis")
	}
	if prior == nil {
		log.Warn("dispatcher: failed_only retry without prior analysis, running full")
		return model.CheckKinds(), nil, nil, nil
	}

	requested := make(map[model.CheckKind]bool, len(job.FailedChecks))
	for _, kind := range job.FailedChecks {
		requested[kind] = true
	}

	reused = make(map[model.CheckKind]model.CheckResult)
	for _, kind := range model.CheckKinds() {
		if requested[kind] {
			toRun = append(toRun, kind)
			continue
		}
		if res, ok := prior.CheckResults[kind]; ok && res.Succeeded() {
			reused[kind] = res
		}
	}
	return toRun, reused, prior, nil
}

// assess produces the LLM stage's contribution. When the LLM check is not in
// this run's set, the prior record's assessment is carried over. A reasoner
// failure yields a zero adjustment and a failed llm_processing check; the
// rule-based score alone is still actionable.
func (d *Dispatcher) assess(ctx context.Context, runLLM bool, submitted model.SubmittedData, discovered map[string]string, signals []model.Signal, prior *model.AnalysisRecord, log *zap.Logger) (reasoner.Assessment, model.CheckResult) {
	if !runLLM {
		assessment := reasoner.Assessment{}
		if prior != nil {
			assessment = reasoner.Assessment{
				Summary:    prior.LLMSummary,
				Details:    prior.LLMDetails,
				Adjustment: prior.LLMScoreAdjustment,
			}
		}
		res, ok := priorLLMResult(prior)
		if !ok {
			res = model.CheckResult{Kind: model.CheckLLMProcessing, Status: model.CheckOK}
		}
		return assessment, res
	}

	llmCtx, cancel := context.WithTimeout(ctx, d.timeouts.For(model.CheckLLMProcessing))
	defer cancel()

	var assessment reasoner.Assessment
	err := d.breakers.For(ratelimit.IntegrationAnthropic).Do(llmCtx, func(ctx context.Context) error {
		var reasonErr error
		assessment, reasonErr = d.reasoner.Reason(ctx, submitted, discovered, signals)
		return reasonErr
	})
	if err != nil {
		log.Warn("dispatcher: llm assessment failed, proceeding with rule score only", zap.Error(err))
		return reasoner.Assessment{}, model.CheckResult{
			Kind:   model.CheckLLMProcessing,
			Status: model.CheckFailed,
			Error:  resilience.ErrorClass(err),
		}
	}

	return assessment, model.CheckResult{
		Kind:    model.CheckLLMProcessing,
		Status:  model.CheckOK,
		RawData: map[string]string{"score_adjustment": strconv.Itoa(assessment.Adjustment)},
	}
}

func priorLLMResult(prior *model.AnalysisRecord) (model.CheckResult, bool) {
	if prior == nil {
		return model.CheckResult{}, false
	}
	res, ok := prior.CheckResults[model.CheckLLMProcessing]
	return res, ok
}

// splitChecks separates the LLM stage, which runs after the rule engine,
// from the network checks the orchestrator fans out.
func splitChecks(kinds []model.CheckKind) (network []model.CheckKind, runLLM bool) {
	for _, kind := range kinds {
		if kind == model.CheckLLMProcessing {
			runLLM = true
			continue
		}
		network = append(network, kind)
	}
	return network, runLLM
}

func (d *Dispatcher) publishBreakerStates() {
	if d.breakers == nil {
		return
	}
	for integration, state := range d.breakers.States() {
		d.metrics.SetBreakerState(integration, int(state))
	}
}
