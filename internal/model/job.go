package model

import (
	"encoding/json"

	"github.com/rotisserie/eris"
)

// RetryMode selects which checks a verification job runs.
type RetryMode string

const (
	// RetryFull re-runs every check and discards prior partial results.
	RetryFull RetryMode = "full"
	// RetryFailedOnly re-runs only the named failed checks and reuses the
	// previous version's successful results verbatim.
	RetryFailedOnly RetryMode = "failed_only"
)

// VerificationJob is one queue message asking for a company verification run.
// Attempt counts redeliveries; it is carried on the message so the consumer
// can dead-letter after MaxRetries.
type VerificationJob struct {
	CompanyID    string      `json:"company_id"`
	RetryMode    RetryMode   `json:"retry_mode"`
	FailedChecks []CheckKind `json:"failed_checks,omitempty"`
	Attempt      int         `json:"attempt"`
}

var (
	ErrEmptyCompanyID   = eris.New("job: company_id is required")
	ErrInvalidRetryMode = eris.New("job: retry_mode must be full or failed_only")
	ErrNoFailedChecks   = eris.New("job: failed_only requires a non-empty failed_checks list")
	ErrUnknownCheckKind = eris.New("job: failed_checks contains an unknown check kind")
	ErrUnexpectedChecks = eris.New("job: failed_checks is only valid with retry_mode failed_only")
)

// ParseJob decodes and validates a queue message. Malformed retry modes and
// unknown check names are rejected here, before the job reaches the
// dispatcher, so the rest of the pipeline never branches on raw strings.
func ParseJob(payload []byte) (VerificationJob, error) {
	var job VerificationJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return VerificationJob{}, eris.Wrap(err, "job: decode payload")
	}
	if job.RetryMode == "" {
		job.RetryMode = RetryFull
	}
	if err := job.Validate(); err != nil {
		return VerificationJob{}, err
	}
	return job, nil
}

// Validate enforces the tagged-union shape: Full carries no check list,
// FailedOnly carries a non-empty list of known kinds.
func (j VerificationJob) Validate() error {
	if j.CompanyID == "" {
		return ErrEmptyCompanyID
	}
	switch j.RetryMode {
	case RetryFull:
		if len(j.FailedChecks) > 0 {
			return ErrUnexpectedChecks
		}
	case RetryFailedOnly:
		if len(j.FailedChecks) == 0 {
			return ErrNoFailedChecks
		}
		for _, kind := range j.FailedChecks {
			if !ValidCheckKind(string(kind)) {
				return eris.Wrapf(ErrUnknownCheckKind, "%q", kind)
			}
		}
	default:
		return ErrInvalidRetryMode
	}
	return nil
}

// ChecksToRun resolves the retry mode to the concrete set of checks for this
// run, always in declaration order.
func (j VerificationJob) ChecksToRun() []CheckKind {
	if j.RetryMode == RetryFull {
		return CheckKinds()
	}
	requested := make(map[CheckKind]bool, len(j.FailedChecks))
	for _, kind := range j.FailedChecks {
		requested[kind] = true
	}
	var kinds []CheckKind
	for _, kind := range CheckKinds() {
		if requested[kind] {
			kinds = append(kinds, kind)
		}
	}
	return kinds
}

// Encode serializes the job for publishing.
func (j VerificationJob) Encode() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, eris.Wrap(err, "job: encode payload")
	}
	return data, nil
}
