// Package store persists companies and their append-only analysis history.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kyb-worker/internal/model"
)

// ErrCompanyNotFound is returned when a company id has no row.
var ErrCompanyNotFound = eris.New("store: company not found")

// Store defines the persistence interface for the verification pipeline.
type Store interface {
	// Companies
	UpsertCompany(ctx context.Context, data model.SubmittedData) error
	ImportCompanies(ctx context.Context, companies []model.SubmittedData) (int64, error)
	GetCompany(ctx context.Context, companyID string) (*model.Company, error)
	GetSubmittedData(ctx context.Context, companyID string) (model.SubmittedData, error)

	// Analysis lifecycle
	TryLockCompany(ctx context.Context, companyID string, ttl time.Duration) (bool, error)
	ReleaseCompanyLock(ctx context.Context, companyID string) error
	SetCheckProgress(ctx context.Context, companyID string, completed int) error
	SaveAnalysis(ctx context.Context, rec *model.AnalysisRecord, status model.AnalysisStatus) (int, error)
	MarkAnalysisFailed(ctx context.Context, companyID string) error
	GetLatestAnalysis(ctx context.Context, companyID string) (*model.AnalysisRecord, error)
	VerificationStatus(ctx context.Context, companyID string) (*model.VerificationStatus, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
