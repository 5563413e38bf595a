package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/kyb-worker/internal/model"
	"github.com/sells-group/kyb-worker/internal/probe"
	"github.com/sells-group/kyb-worker/internal/reasoner"
	"github.com/sells-group/kyb-worker/internal/resilience"
)

func testSubmitted() model.SubmittedData {
	return model.SubmittedData{
		CompanyID: "c1",
		Name:      "Acme Corp",
		Domain:    "acme.example",
		Email:     "ops@acme.example",
	}
}

func okNetworkResults() map[model.CheckKind]model.CheckResult {
	return map[model.CheckKind]model.CheckResult{
		model.CheckWHOIS: {Kind: model.CheckWHOIS, Status: model.CheckOK, RawData: map[string]string{
			"domain_age_months": "6",
			"whois_privacy":     "true",
		}},
		model.CheckDNS: {Kind: model.CheckDNS, Status: model.CheckOK, RawData: map[string]string{
			"dns_resolves": "true",
		}},
		model.CheckMXValidation: {Kind: model.CheckMXValidation, Status: model.CheckOK, RawData: map[string]string{
			"mx_valid": "true",
		}},
		model.CheckWebsiteScrape: {Kind: model.CheckWebsiteScrape, Status: model.CheckOK, RawData: map[string]string{
			"website_reachable": "true",
		}},
	}
}

func newTestDispatcher(st *mockStore, runner *mockCheckRunner, r *mockReasoner) *Dispatcher {
	return NewDispatcher(
		st, runner, r,
		resilience.NewBreakerSet(resilience.DefaultBreakerConfig()),
		probe.Timeouts{Default: time.Second},
		nil,
		DispatcherConfig{LockTTL: time.Minute, JobDeadline: 30 * time.Second},
	)
}

func TestProcess_FullRunPersistsAnalysis(t *testing.T) {
	st := newMockStore()
	require.NoError(t, st.UpsertCompany(context.Background(), testSubmitted()))
	runner := &mockCheckRunner{results: okNetworkResults()}
	r := &mockReasoner{assessment: reasoner.Assessment{Summary: "low risk", Details: "d", Adjustment: 8}}
	d := newTestDispatcher(st, runner, r)

	outcome, err := d.Process(context.Background(), model.VerificationJob{CompanyID: "c1", RetryMode: model.RetryFull})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	require.Len(t, st.saved, 1)
	rec := st.saved[0]
	// whois privacy +10 and young domain +20 fire; email matches the domain.
	assert.Equal(t, 30, rec.RuleScore)
	assert.Equal(t, 8, rec.LLMScoreAdjustment)
	assert.Equal(t, 38, rec.RiskScore)
	assert.True(t, rec.IsComplete)
	assert.Empty(t, rec.FailedChecks)
	assert.Equal(t, "low risk", rec.LLMSummary)
	assert.Equal(t, model.AlgorithmVersion, rec.AlgorithmVersion)
	assert.Equal(t, model.CheckOK, rec.CheckResults[model.CheckLLMProcessing].Status)
	assert.Equal(t, []model.AnalysisStatus{model.AnalysisCompleted}, st.savedState)

	// The orchestrator received only the network checks.
	assert.Equal(t, []model.CheckKind{model.CheckWHOIS, model.CheckDNS, model.CheckMXValidation, model.CheckWebsiteScrape}, runner.ranWith)

	// Progress advanced through all five checks.
	assert.Equal(t, []int{1, 2, 3, 4, 5}, st.progress)
}

func TestProcess_LockContentionRequeues(t *testing.T) {
	st := newMockStore()
	require.NoError(t, st.UpsertCompany(context.Background(), testSubmitted()))
	st.locked["c1"] = true
	d := newTestDispatcher(st, &mockCheckRunner{}, &mockReasoner{})

	outcome, err := d.Process(context.Background(), model.VerificationJob{CompanyID: "c1", RetryMode: model.RetryFull})
	require.NoError(t, err)
	assert.Equal(t, OutcomeRequeued, outcome)
	assert.Empty(t, st.saved)
}

func TestProcess_UnknownCompanyDropped(t *testing.T) {
	st := newMockStore()
	d := newTestDispatcher(st, &mockCheckRunner{}, &mockReasoner{})

	outcome, err := d.Process(context.Background(), model.VerificationJob{CompanyID: "ghost", RetryMode: model.RetryFull})
	require.Error(t, err)
	assert.Equal(t, OutcomeDropped, outcome)
}

func TestProcess_LLMFailureStillPersists(t *testing.T) {
	st := newMockStore()
	require.NoError(t, st.UpsertCompany(context.Background(), testSubmitted()))
	runner := &mockCheckRunner{results: okNetworkResults()}
	r := &mockReasoner{err: eris.New("model overloaded")}
	d := newTestDispatcher(st, runner, r)

	outcome, err := d.Process(context.Background(), model.VerificationJob{CompanyID: "c1", RetryMode: model.RetryFull})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	require.Len(t, st.saved, 1)
	rec := st.saved[0]
	assert.Equal(t, 0, rec.LLMScoreAdjustment)
	assert.Equal(t, rec.RuleScore, rec.RiskScore)
	assert.False(t, rec.IsComplete)
	assert.Equal(t, []model.CheckKind{model.CheckLLMProcessing}, rec.FailedChecks)
	assert.Equal(t, []model.AnalysisStatus{model.AnalysisIncomplete}, st.savedState)
}

func TestProcess_CheckRunnerErrorRetries(t *testing.T) {
	st := newMockStore()
	require.NoError(t, st.UpsertCompany(context.Background(), testSubmitted()))
	runner := &mockCheckRunner{err: eris.New("job cancelled")}
	d := newTestDispatcher(st, runner, &mockReasoner{})

	outcome, err := d.Process(context.Background(), model.VerificationJob{CompanyID: "c1", RetryMode: model.RetryFull})
	require.Error(t, err)
	assert.Equal(t, OutcomeRetry, outcome)
	assert.Empty(t, st.saved, "no partial commit for an aborted run")
	assert.Equal(t, []string{"c1"}, st.releasedIDs, "claim released for redelivery")
	assert.Empty(t, st.failedIDs, "failed is reserved for the dead-letter terminus")
}

func TestProcess_SaveErrorRetries(t *testing.T) {
	st := newMockStore()
	require.NoError(t, st.UpsertCompany(context.Background(), testSubmitted()))
	st.saveErr = eris.New("connection reset")
	d := newTestDispatcher(st, &mockCheckRunner{results: okNetworkResults()}, &mockReasoner{})

	outcome, err := d.Process(context.Background(), model.VerificationJob{CompanyID: "c1", RetryMode: model.RetryFull})
	require.Error(t, err)
	assert.Equal(t, OutcomeRetry, outcome)
	assert.Equal(t, []string{"c1"}, st.releasedIDs)
}

func TestProcess_FailedOnlyReusesPriorResults(t *testing.T) {
	st := newMockStore()
	require.NoError(t, st.UpsertCompany(context.Background(), testSubmitted()))

	priorWHOIS := model.CheckResult{Kind: model.CheckWHOIS, Status: model.CheckOK, RawData: map[string]string{
		"domain_age_months": "48",
		"whois_privacy":     "false",
		"registrar":         "Example Registrar",
	}}
	st.latest = &model.AnalysisRecord{
		CompanyID:          "c1",
		Version:            1,
		LLMSummary:         "prior summary",
		LLMDetails:         "prior details",
		LLMScoreAdjustment: -3,
		CheckResults: map[model.CheckKind]model.CheckResult{
			model.CheckWHOIS:         priorWHOIS,
			model.CheckDNS:           {Kind: model.CheckDNS, Status: model.CheckOK, RawData: map[string]string{"dns_resolves": "true"}},
			model.CheckMXValidation:  {Kind: model.CheckMXValidation, Status: model.CheckFailed, Error: "timeout"},
			model.CheckWebsiteScrape: {Kind: model.CheckWebsiteScrape, Status: model.CheckOK, RawData: map[string]string{"website_reachable": "true"}},
			model.CheckLLMProcessing: {Kind: model.CheckLLMProcessing, Status: model.CheckOK},
		},
	}

	runner := &mockCheckRunner{results: map[model.CheckKind]model.CheckResult{
		model.CheckMXValidation: {Kind: model.CheckMXValidation, Status: model.CheckOK, RawData: map[string]string{"mx_valid": "true"}},
	}}
	r := &mockReasoner{}
	d := newTestDispatcher(st, runner, r)

	outcome, err := d.Process(context.Background(), model.VerificationJob{
		CompanyID:    "c1",
		RetryMode:    model.RetryFailedOnly,
		FailedChecks: []model.CheckKind{model.CheckMXValidation},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	// Only the failed check re-ran; the reasoner was not called again.
	assert.Equal(t, []model.CheckKind{model.CheckMXValidation}, runner.ranWith)
	assert.Equal(t, 0, r.calls)

	require.Len(t, st.saved, 1)
	rec := st.saved[0]
	assert.Equal(t, priorWHOIS, rec.CheckResults[model.CheckWHOIS], "reused results carried verbatim")
	assert.Equal(t, model.CheckOK, rec.CheckResults[model.CheckMXValidation].Status)
	assert.Equal(t, "prior summary", rec.LLMSummary)
	assert.Equal(t, -3, rec.LLMScoreAdjustment)
	assert.True(t, rec.IsComplete)
	assert.Equal(t, "Example Registrar", rec.DiscoveredData["registrar"])
}

func TestProcess_FailedOnlyWithoutPriorRunsFull(t *testing.T) {
	st := newMockStore()
	require.NoError(t, st.UpsertCompany(context.Background(), testSubmitted()))
	runner := &mockCheckRunner{results: okNetworkResults()}
	r := &mockReasoner{assessment: reasoner.Assessment{Summary: "s"}}
	d := newTestDispatcher(st, runner, r)

	outcome, err := d.Process(context.Background(), model.VerificationJob{
		CompanyID:    "c1",
		RetryMode:    model.RetryFailedOnly,
		FailedChecks: []model.CheckKind{model.CheckWHOIS},
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Len(t, runner.ranWith, 4)
	assert.Equal(t, 1, r.calls)
}

func TestProcess_DocumentCounterConsulted(t *testing.T) {
	st := newMockStore()
	require.NoError(t, st.UpsertCompany(context.Background(), testSubmitted()))
	docs := &mockDocumentCounter{count: 25}
	d := NewDispatcher(
		st, &mockCheckRunner{results: okNetworkResults()}, &mockReasoner{},
		resilience.NewBreakerSet(resilience.DefaultBreakerConfig()),
		probe.Timeouts{Default: time.Second},
		nil,
		DispatcherConfig{LockTTL: time.Minute, JobDeadline: 30 * time.Second, Documents: docs},
	)

	outcome, err := d.Process(context.Background(), model.VerificationJob{CompanyID: "c1", RetryMode: model.RetryFull})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)
	assert.Equal(t, 1, docs.calls)
}

func TestProcess_FailedChecksMarkIncomplete(t *testing.T) {
	st := newMockStore()
	require.NoError(t, st.UpsertCompany(context.Background(), testSubmitted()))

	results := okNetworkResults()
	results[model.CheckWHOIS] = model.CheckResult{Kind: model.CheckWHOIS, Status: model.CheckFailed, Error: "timeout"}
	results[model.CheckMXValidation] = model.CheckResult{Kind: model.CheckMXValidation, Status: model.CheckFailed, Error: "transient"}
	runner := &mockCheckRunner{results: results}
	d := newTestDispatcher(st, runner, &mockReasoner{})

	outcome, err := d.Process(context.Background(), model.VerificationJob{CompanyID: "c1", RetryMode: model.RetryFull})
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	require.Len(t, st.saved, 1)
	rec := st.saved[0]
	assert.False(t, rec.IsComplete)
	assert.Equal(t, []model.CheckKind{model.CheckWHOIS, model.CheckMXValidation}, rec.FailedChecks)
}
