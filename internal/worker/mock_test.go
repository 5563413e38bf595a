package worker

import (
	"context"
	"time"

	"github.com/sells-group/kyb-worker/internal/model"
	"github.com/sells-group/kyb-worker/internal/orchestrator"
	"github.com/sells-group/kyb-worker/internal/reasoner"
	"github.com/sells-group/kyb-worker/internal/store"
)

// mockStore implements store.Store for testing.
type mockStore struct {
	companies map[string]model.SubmittedData
	locked    map[string]bool
	latest    *model.AnalysisRecord

	lockErr     error
	saveErr     error
	saved       []*model.AnalysisRecord
	savedState  []model.AnalysisStatus
	progress    []int
	failedIDs   []string
	releasedIDs []string
	version     int
}

func newMockStore() *mockStore {
	return &mockStore{
		companies: make(map[string]model.SubmittedData),
		locked:    make(map[string]bool),
		version:   1,
	}
}

func (m *mockStore) UpsertCompany(_ context.Context, data model.SubmittedData) error {
	m.companies[data.CompanyID] = data
	return nil
}

func (m *mockStore) ImportCompanies(_ context.Context, companies []model.SubmittedData) (int64, error) {
	for _, c := range companies {
		m.companies[c.CompanyID] = c
	}
	return int64(len(companies)), nil
}

func (m *mockStore) GetCompany(_ context.Context, companyID string) (*model.Company, error) {
	if _, ok := m.companies[companyID]; !ok {
		return nil, store.ErrCompanyNotFound
	}
	return &model.Company{ID: companyID, Status: model.CompanyPending}, nil
}

func (m *mockStore) GetSubmittedData(_ context.Context, companyID string) (model.SubmittedData, error) {
	data, ok := m.companies[companyID]
	if !ok {
		return model.SubmittedData{}, store.ErrCompanyNotFound
	}
	return data, nil
}

func (m *mockStore) TryLockCompany(_ context.Context, companyID string, _ time.Duration) (bool, error) {
	if m.lockErr != nil {
		return false, m.lockErr
	}
	if _, ok := m.companies[companyID]; !ok {
		return false, store.ErrCompanyNotFound
	}
	if m.locked[companyID] {
		return false, nil
	}
	m.locked[companyID] = true
	return true, nil
}

func (m *mockStore) ReleaseCompanyLock(_ context.Context, companyID string) error {
	m.releasedIDs = append(m.releasedIDs, companyID)
	m.locked[companyID] = false
	return nil
}

func (m *mockStore) SetCheckProgress(_ context.Context, _ string, completed int) error {
	m.progress = append(m.progress, completed)
	return nil
}

func (m *mockStore) SaveAnalysis(_ context.Context, rec *model.AnalysisRecord, status model.AnalysisStatus) (int, error) {
	if m.saveErr != nil {
		return 0, m.saveErr
	}
	rec.Version = m.version
	m.saved = append(m.saved, rec)
	m.savedState = append(m.savedState, status)
	return m.version, nil
}

func (m *mockStore) MarkAnalysisFailed(_ context.Context, companyID string) error {
	m.failedIDs = append(m.failedIDs, companyID)
	m.locked[companyID] = false
	return nil
}

func (m *mockStore) GetLatestAnalysis(_ context.Context, _ string) (*model.AnalysisRecord, error) {
	return m.latest, nil
}

func (m *mockStore) VerificationStatus(_ context.Context, _ string) (*model.VerificationStatus, error) {
	return &model.VerificationStatus{}, nil
}

func (m *mockStore) Migrate(_ context.Context) error { return nil }

func (m *mockStore) Ping(_ context.Context) error { return nil }

func (m *mockStore) Close() error { return nil }

// mockCheckRunner implements CheckRunner with canned results.
type mockCheckRunner struct {
	results map[model.CheckKind]model.CheckResult
	err     error
	ranWith []model.CheckKind
}

func (m *mockCheckRunner) RunChecks(_ context.Context, _ model.SubmittedData, checksToRun []model.CheckKind, onProgress orchestrator.ProgressFunc) (map[model.CheckKind]model.CheckResult, error) {
	m.ranWith = checksToRun
	if m.err != nil {
		return nil, m.err
	}
	out := make(map[model.CheckKind]model.CheckResult, len(checksToRun))
	completed := 0
	for _, kind := range checksToRun {
		res, ok := m.results[kind]
		if !ok {
			res = model.CheckResult{Kind: kind, Status: model.CheckOK, RawData: map[string]string{}}
		}
		out[kind] = res
		completed++
		if onProgress != nil {
			onProgress(kind, completed)
		}
	}
	return out, nil
}

// mockReasoner implements Reasoner.
type mockReasoner struct {
	assessment reasoner.Assessment
	err        error
	calls      int
}

func (m *mockReasoner) Reason(_ context.Context, _ model.SubmittedData, _ map[string]string, _ []model.Signal) (reasoner.Assessment, error) {
	m.calls++
	if m.err != nil {
		return reasoner.Assessment{}, m.err
	}
	return m.assessment, nil
}

// mockDocumentCounter implements DocumentCounter with a fixed count.
type mockDocumentCounter struct {
	count int
	err   error
	calls int
}

func (m *mockDocumentCounter) CountDocuments(_ context.Context, _ string) (int, error) {
	m.calls++
	return m.count, m.err
}

// mockProducer implements Producer, recording every publish.
type mockProducer struct {
	published []publishedMessage
	err       error
}

type publishedMessage struct {
	topic string
	key   string
	value []byte
}

func (m *mockProducer) Publish(_ context.Context, topic, key string, value []byte) error {
	if m.err != nil {
		return m.err
	}
	m.published = append(m.published, publishedMessage{topic: topic, key: key, value: value})
	return nil
}

// mockProcessor implements Processor with a fixed outcome, optionally
// overridden per company.
type mockProcessor struct {
	outcome Outcome
	err     error
	perJob  map[string]Outcome
	jobs    []model.VerificationJob
}

func (m *mockProcessor) Process(_ context.Context, job model.VerificationJob) (Outcome, error) {
	m.jobs = append(m.jobs, job)
	if o, ok := m.perJob[job.CompanyID]; ok {
		return o, m.err
	}
	return m.outcome, m.err
}
