package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/kyb-worker/internal/db"
	"github.com/sells-group/kyb-worker/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
	now     func() time.Time
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot-path store operations.
var preparedStatements = map[string]string{
	"get_company":        `SELECT id, status, risk_score, analysis_status, current_step, last_analyzed_at FROM companies WHERE id = $1`,
	"get_submitted_data": `SELECT id, name, domain, email, phone, region, website_url, description FROM companies WHERE id = $1`,
	"set_check_progress": `UPDATE companies SET current_step = $1, updated_at = $2 WHERE id = $3`,
	"get_latest_analysis": `SELECT id, company_id, version, algorithm_version, submitted_data, discovered_data, signals, rule_score, llm_score_adjustment, risk_score, llm_summary, llm_details, is_complete, failed_checks, check_results, created_at
		FROM analyses WHERE company_id = $1 ORDER BY version DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close, now: time.Now}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., bulk manifest import).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS companies (
	id               TEXT PRIMARY KEY,
	name             TEXT NOT NULL,
	domain           TEXT NOT NULL DEFAULT '',
	email            TEXT NOT NULL DEFAULT '',
	phone            TEXT NOT NULL DEFAULT '',
	region           TEXT NOT NULL DEFAULT '',
	website_url      TEXT NOT NULL DEFAULT '',
	description      TEXT NOT NULL DEFAULT '',
	status           TEXT NOT NULL DEFAULT 'pending',
	risk_score       INTEGER,
	analysis_status  TEXT NOT NULL DEFAULT 'pending',
	current_step     INTEGER NOT NULL DEFAULT 0,
	locked_until     TIMESTAMPTZ NOT NULL DEFAULT to_timestamp(0),
	last_analyzed_at TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_companies_status ON companies(status);
CREATE INDEX IF NOT EXISTS idx_companies_analysis_status ON companies(analysis_status);

CREATE TABLE IF NOT EXISTS analyses (
	id                   TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id           TEXT NOT NULL REFERENCES companies(id),
	version              INTEGER NOT NULL,
	algorithm_version    TEXT NOT NULL,
	submitted_data       JSONB NOT NULL,
	discovered_data      JSONB NOT NULL DEFAULT '{}',
	signals              JSONB NOT NULL DEFAULT '[]',
	rule_score           INTEGER NOT NULL,
	llm_score_adjustment INTEGER NOT NULL DEFAULT 0,
	risk_score           INTEGER NOT NULL,
	llm_summary          TEXT NOT NULL DEFAULT '',
	llm_details          TEXT NOT NULL DEFAULT '',
	is_complete          BOOLEAN NOT NULL,
	failed_checks        JSONB NOT NULL DEFAULT '[]',
	check_results        JSONB NOT NULL DEFAULT '{}',
	created_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (company_id, version)
);

CREATE INDEX IF NOT EXISTS idx_analyses_company_version ON analyses(company_id, version DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// companyColumns is the insert column set shared by UpsertCompany and
// ImportCompanies.
var companyColumns = []string{"id", "name", "domain", "email", "phone", "region", "website_url", "description"}

func companyRow(data model.SubmittedData) []any {
	return []any{data.CompanyID, data.Name, data.Domain, data.Email, data.Phone, data.Region, data.WebsiteURL, data.Description}
}

func (s *PostgresStore) UpsertCompany(ctx context.Context, data model.SubmittedData) error {
	if data.CompanyID == "" {
		data.CompanyID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO companies (id, name, domain, email, phone, region, website_url, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, domain = EXCLUDED.domain, email = EXCLUDED.email,
			phone = EXCLUDED.phone, region = EXCLUDED.region,
			website_url = EXCLUDED.website_url, description = EXCLUDED.description,
			updated_at = now()`,
		companyRow(data)...,
	)
	return eris.Wrapf(err, "postgres: upsert company %s", data.CompanyID)
}

// ImportCompanies bulk-upserts submitted records, assigning ids where absent.
func (s *PostgresStore) ImportCompanies(ctx context.Context, companies []model.SubmittedData) (int64, error) {
	rows := make([][]any, 0, len(companies))
	for _, c := range companies {
		if c.CompanyID == "" {
			c.CompanyID = uuid.New().String()
		}
		rows = append(rows, companyRow(c))
	}
	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "companies",
		Columns:      companyColumns,
		ConflictKeys: []string{"id"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import companies")
}

func (s *PostgresStore) GetCompany(ctx context.Context, companyID string) (*model.Company, error) {
	var c model.Company
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, risk_score, analysis_status, current_step, last_analyzed_at FROM companies WHERE id = $1`,
		companyID,
	).Scan(&c.ID, &c.Status, &c.RiskScore, &c.AnalysisStatus, &c.CurrentStep, &c.LastAnalyzedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCompanyNotFound
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get company %s", companyID)
	}
	return &c, nil
}

func (s *PostgresStore) GetSubmittedData(ctx context.Context, companyID string) (model.SubmittedData, error) {
	var d model.SubmittedData
	err := s.pool.QueryRow(ctx,
		`SELECT id, name, domain, email, phone, region, website_url, description FROM companies WHERE id = $1`,
		companyID,
	).Scan(&d.CompanyID, &d.Name, &d.Domain, &d.Email, &d.Phone, &d.Region, &d.WebsiteURL, &d.Description)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.SubmittedData{}, ErrCompanyNotFound
	}
	if err != nil {
		return model.SubmittedData{}, eris.Wrapf(err, "postgres: get submitted data %s", companyID)
	}
	return d, nil
}

// TryLockCompany claims the per-company analysis slot with a conditional
// update: the claim succeeds only when no other worker holds an unexpired
// claim. Winning the claim also moves analysis_status to in_progress and
// resets progress, so the polling API sees the run start. The claim expires
// at ttl so a crashed worker cannot wedge a company forever.
func (s *PostgresStore) TryLockCompany(ctx context.Context, companyID string, ttl time.Duration) (bool, error) {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET analysis_status = $1, current_step = 0, locked_until = $2, updated_at = $3
		WHERE id = $4 AND (analysis_status <> $1 OR locked_until < $3)`,
		string(model.AnalysisInProgress), now.Add(ttl), now, companyID,
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: lock company %s", companyID)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	// Distinguish contention from a missing company.
	if _, err := s.GetCompany(ctx, companyID); err != nil {
		return false, err
	}
	return false, nil
}

// ReleaseCompanyLock returns a claimed company to pending and clears the
// claim, so a redelivered job can win the lock immediately instead of waiting
// out the TTL. Companies not in_progress are left untouched.
func (s *PostgresStore) ReleaseCompanyLock(ctx context.Context, companyID string) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE companies SET analysis_status = $1, locked_until = to_timestamp(0), updated_at = $2
		WHERE id = $3 AND analysis_status = $4`,
		string(model.AnalysisPending), s.now().UTC(), companyID, string(model.AnalysisInProgress),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: release company lock %s", companyID)
	}
	return nil
}

func (s *PostgresStore) SetCheckProgress(ctx context.Context, companyID string, completed int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET current_step = $1, updated_at = $2 WHERE id = $3`,
		completed, s.now().UTC(), companyID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set progress %s", companyID)
	}
	if tag.RowsAffected() == 0 {
		return ErrCompanyNotFound
	}
	return nil
}

// SaveAnalysis appends the next analysis version and updates the company
// projection in one transaction. The version is computed inside the insert
// so concurrent writers (already excluded by the company lock) could never
// produce a gap, and the UNIQUE constraint backs that up. A risk score at or
// above the fraudulent threshold flips the company status automatically.
func (s *PostgresStore) SaveAnalysis(ctx context.Context, rec *model.AnalysisRecord, status model.AnalysisStatus) (int, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := s.now().UTC()

	submittedJSON, err := json.Marshal(rec.SubmittedData)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal submitted data")
	}
	discoveredJSON, err := json.Marshal(rec.DiscoveredData)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal discovered data")
	}
	signalsJSON, err := json.Marshal(rec.Signals)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal signals")
	}
	failedJSON, err := json.Marshal(rec.FailedChecks)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal failed checks")
	}
	resultsJSON, err := json.Marshal(rec.CheckResults)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: marshal check results")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin save analysis")
	}
	defer tx.Rollback(ctx)

	var version int
	err = tx.QueryRow(ctx,
		`INSERT INTO analyses (id, company_id, version, algorithm_version, submitted_data, discovered_data, signals, rule_score, llm_score_adjustment, risk_score, llm_summary, llm_details, is_complete, failed_checks, check_results, created_at)
		VALUES ($1, $2, (SELECT COALESCE(MAX(version), 0) + 1 FROM analyses WHERE company_id = $2), $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING version`,
		rec.ID, rec.CompanyID, rec.AlgorithmVersion,
		submittedJSON, discoveredJSON, signalsJSON,
		rec.RuleScore, rec.LLMScoreAdjustment, rec.RiskScore,
		rec.LLMSummary, rec.LLMDetails, rec.IsComplete,
		failedJSON, resultsJSON, now,
	).Scan(&version)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: insert analysis for %s", rec.CompanyID)
	}

	tag, err := tx.Exec(ctx,
		`UPDATE companies SET
			risk_score = $1,
			analysis_status = $2,
			current_step = $3,
			last_analyzed_at = $4,
			updated_at = $4,
			status = CASE WHEN $1 >= $5 THEN 'fraudulent' ELSE status END
		WHERE id = $6`,
		rec.RiskScore, string(status), model.TotalChecks, now, model.FraudulentThreshold, rec.CompanyID,
	)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: update company projection %s", rec.CompanyID)
	}
	if tag.RowsAffected() == 0 {
		return 0, ErrCompanyNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit save analysis")
	}

	rec.Version = version
	rec.CreatedAt = now
	return version, nil
}

// MarkAnalysisFailed records a dead-lettered run. It also clears
// the lock so a later resubmission can claim the company.
func (s *PostgresStore) MarkAnalysisFailed(ctx context.Context, companyID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE companies SET analysis_status = $1, locked_until = to_timestamp(0), updated_at = $2 WHERE id = $3`,
		string(model.AnalysisFailed), s.now().UTC(), companyID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark analysis failed %s", companyID)
	}
	if tag.RowsAffected() == 0 {
		return ErrCompanyNotFound
	}
	return nil
}

func (s *PostgresStore) GetLatestAnalysis(ctx context.Context, companyID string) (*model.AnalysisRecord, error) {
	var (
		rec            model.AnalysisRecord
		submittedJSON  []byte
		discoveredJSON []byte
		signalsJSON    []byte
		failedJSON     []byte
		resultsJSON    []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT id, company_id, version, algorithm_version, submitted_data, discovered_data, signals, rule_score, llm_score_adjustment, risk_score, llm_summary, llm_details, is_complete, failed_checks, check_results, created_at
		FROM analyses WHERE company_id = $1 ORDER BY version DESC LIMIT 1`,
		companyID,
	).Scan(
		&rec.ID, &rec.CompanyID, &rec.Version, &rec.AlgorithmVersion,
		&submittedJSON, &discoveredJSON, &signalsJSON,
		&rec.RuleScore, &rec.LLMScoreAdjustment, &rec.RiskScore,
		&rec.LLMSummary, &rec.LLMDetails, &rec.IsComplete,
		&failedJSON, &resultsJSON, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get latest analysis %s", companyID)
	}

	if err := json.Unmarshal(submittedJSON, &rec.SubmittedData); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal submitted data")
	}
	if err := json.Unmarshal(discoveredJSON, &rec.DiscoveredData); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal discovered data")
	}
	if err := json.Unmarshal(signalsJSON, &rec.Signals); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal signals")
	}
	if err := json.Unmarshal(failedJSON, &rec.FailedChecks); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal failed checks")
	}
	if err := json.Unmarshal(resultsJSON, &rec.CheckResults); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal check results")
	}
	return &rec, nil
}

// VerificationStatus assembles the document served to the polling API from
// the company projection and its latest analysis.
func (s *PostgresStore) VerificationStatus(ctx context.Context, companyID string) (*model.VerificationStatus, error) {
	company, err := s.GetCompany(ctx, companyID)
	if err != nil {
		return nil, err
	}

	status := &model.VerificationStatus{
		AnalysisStatus:     company.AnalysisStatus,
		CurrentStep:        company.CurrentStep,
		ProgressPercentage: model.ProgressPercentage(company.CurrentStep),
		FailedChecks:       []model.CheckKind{},
	}

	latest, err := s.GetLatestAnalysis(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if latest != nil && len(latest.FailedChecks) > 0 {
		status.FailedChecks = latest.FailedChecks
	}
	return status, nil
}
