package model

import "time"

// CompanyStatus is the operator-facing company state. Only the fraudulent
// transition is automatic (risk score >= FraudulentThreshold); every other
// transition is driven by operator endpoints outside this worker.
type CompanyStatus string

const (
	CompanyPending    CompanyStatus = "pending"
	CompanyApproved   CompanyStatus = "approved"
	CompanySuspicious CompanyStatus = "suspicious"
	CompanyFraudulent CompanyStatus = "fraudulent"
)

// AnalysisStatus tracks the lifecycle of the current verification run.
type AnalysisStatus string

const (
	AnalysisPending    AnalysisStatus = "pending"
	AnalysisInProgress AnalysisStatus = "in_progress"
	AnalysisCompleted  AnalysisStatus = "completed"
	AnalysisFailed     AnalysisStatus = "failed"
	AnalysisIncomplete AnalysisStatus = "incomplete"
)

// FraudulentThreshold is the risk score at and above which a company is
// automatically marked fraudulent, regardless of prior operator decisions.
const FraudulentThreshold = 70

// Company is the cached projection mutated by the worker: progress fields as
// checks complete, score and status fields when an analysis is persisted.
type Company struct {
	ID             string         `json:"id"`
	Status         CompanyStatus  `json:"status"`
	RiskScore      *int           `json:"risk_score,omitempty"`
	AnalysisStatus AnalysisStatus `json:"analysis_status"`
	CurrentStep    int            `json:"current_step"`
	LastAnalyzedAt *time.Time     `json:"last_analyzed_at,omitempty"`
}

// SubmittedData is the company-supplied registration data the checks verify.
type SubmittedData struct {
	CompanyID   string `json:"company_id"`
	Name        string `json:"name"`
	Domain      string `json:"domain"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	Region      string `json:"region"` // ISO 3166-1 alpha-2 claimed region
	WebsiteURL  string `json:"website_url"`
	Description string `json:"description,omitempty"`
}

// VerificationStatus is the document served to the polling API.
type VerificationStatus struct {
	AnalysisStatus     AnalysisStatus `json:"analysis_status"`
	ProgressPercentage int            `json:"progress_percentage"`
	CurrentStep        int            `json:"current_step"`
	FailedChecks       []CheckKind    `json:"failed_checks"`
}
