// Package model defines the core data types shared across the verification
// pipeline: companies, checks, signals, analysis records, and queue jobs.
package model

// CheckKind identifies one external verification step. The declaration order
// is significant: it defines current_step progression, the denominator for
// progress percentage, and the canonical ordering of persisted signals.
type CheckKind string

const (
	CheckWHOIS         CheckKind = "whois"
	CheckDNS           CheckKind = "dns"
	CheckMXValidation  CheckKind = "mx_validation"
	CheckWebsiteScrape CheckKind = "website_scrape"
	CheckLLMProcessing CheckKind = "llm_processing"
)

// CheckKinds returns the fixed, ordered set of checks.
func CheckKinds() []CheckKind {
	return []CheckKind{
		CheckWHOIS,
		CheckDNS,
		CheckMXValidation,
		CheckWebsiteScrape,
		CheckLLMProcessing,
	}
}

// TotalChecks is the denominator for progress percentage.
const TotalChecks = 5

// Step returns the 1-based position of the check in the fixed ordering,
// or 0 for an unknown kind.
func (k CheckKind) Step() int {
	for i, kind := range CheckKinds() {
		if kind == k {
			return i + 1
		}
	}
	return 0
}

// ValidCheckKind reports whether s names a known check.
func ValidCheckKind(s string) bool {
	return CheckKind(s).Step() != 0
}

// ProgressPercentage converts a completed-check count to the 0-100 value
// exposed by the status endpoint.
func ProgressPercentage(completed int) int {
	if completed < 0 {
		return 0
	}
	if completed > TotalChecks {
		completed = TotalChecks
	}
	return int(float64(completed)/float64(TotalChecks)*100 + 0.5)
}

// CheckStatus is the outcome of a single check.
type CheckStatus string

const (
	CheckOK     CheckStatus = "ok"
	CheckFailed CheckStatus = "failed"
)

// SignalStatus classifies a single piece of evidence.
type SignalStatus string

const (
	SignalOK         SignalStatus = "ok"
	SignalSuspicious SignalStatus = "suspicious"
	SignalMismatch   SignalStatus = "mismatch"
	SignalWarning    SignalStatus = "warning"
)

// Signal is one atomic piece of evidence consumed by the rule engine.
type Signal struct {
	Field  string       `json:"field"`
	Value  string       `json:"value"`
	Status SignalStatus `json:"status"`
	Weight int          `json:"weight"`
}

// CheckResult is the immutable outcome of one probe for one analysis attempt.
// RawData carries probe-specific discovered values keyed by field name.
type CheckResult struct {
	Kind    CheckKind         `json:"kind"`
	Status  CheckStatus       `json:"status"`
	Signals []Signal          `json:"signals,omitempty"`
	RawData map[string]string `json:"raw_data,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// Succeeded reports whether the check completed without failure.
func (r CheckResult) Succeeded() bool {
	return r.Status == CheckOK
}
