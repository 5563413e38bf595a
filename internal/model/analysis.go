package model

import "time"

// AlgorithmVersion is stamped on every AnalysisRecord so historical scores
// can be traced back to the scoring rules that produced them. Bump when the
// rule weight table or the hybrid combination changes.
const AlgorithmVersion = "2.1"

// AnalysisRecord is one append-only, versioned verification result for a
// company. Records are never mutated after creation; a reanalysis produces
// the next version.
type AnalysisRecord struct {
	ID                 string                    `json:"id"`
	CompanyID          string                    `json:"company_id"`
	Version            int                       `json:"version"`
	AlgorithmVersion   string                    `json:"algorithm_version"`
	SubmittedData      SubmittedData             `json:"submitted_data"`
	DiscoveredData     map[string]string         `json:"discovered_data"`
	Signals            []Signal                  `json:"signals"`
	RuleScore          int                       `json:"rule_score"`
	LLMScoreAdjustment int                       `json:"llm_score_adjustment"`
	RiskScore          int                       `json:"risk_score"`
	LLMSummary         string                    `json:"llm_summary,omitempty"`
	LLMDetails         string                    `json:"llm_details,omitempty"`
	IsComplete         bool                      `json:"is_complete"`
	FailedChecks       []CheckKind               `json:"failed_checks"`
	CheckResults       map[CheckKind]CheckResult `json:"check_results"`
	CreatedAt          time.Time                 `json:"created_at"`
}

// MergeDiscoveredData flattens per-check raw data into the discovered_data
// map persisted on the record. Keys collide only if two probes report the
// same field, in which case check-declaration order wins deterministically.
func MergeDiscoveredData(results map[CheckKind]CheckResult) map[string]string {
	merged := make(map[string]string)
	for _, kind := range CheckKinds() {
		res, ok := results[kind]
		if !ok {
			continue
		}
		for field, value := range res.RawData {
			if _, exists := merged[field]; !exists {
				merged[field] = value
			}
		}
	}
	return merged
}

// FailedCheckKinds returns the checks that failed, in declaration order.
func FailedCheckKinds(results map[CheckKind]CheckResult) []CheckKind {
	var failed []CheckKind
	for _, kind := range CheckKinds() {
		if res, ok := results[kind]; ok && !res.Succeeded() {
			failed = append(failed, kind)
		}
	}
	return failed
}
