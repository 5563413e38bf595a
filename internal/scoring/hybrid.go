// Package scoring combines the deterministic rule score with the LLM
// adjustment into the final risk score.
package scoring

import (
	"github.com/sells-group/kyb-worker/internal/model"
)

// minSuccessesForComplete is how many of the five checks must succeed for an
// analysis to count as complete.
const minSuccessesForComplete = 3

// Outcome is the hybrid scorer's verdict for one analysis run.
type Outcome struct {
	RiskScore    int
	FailedChecks []model.CheckKind
	IsComplete   bool
}

// Combine clamps ruleScore plus the LLM adjustment into [0, 100] and decides
// completeness. Clamping happens exactly once, here, so re-applying the same
// adjustment on a retry cannot drift the score. An analysis is complete only
// when no check failed and at least three of the five succeeded; partial
// results are still scored, never discarded.
func Combine(ruleScore, llmAdjustment int, results map[model.CheckKind]model.CheckResult) Outcome {
	risk := ruleScore + llmAdjustment
	if risk < 0 {
		risk = 0
	}
	if risk > 100 {
		risk = 100
	}

	failed := model.FailedCheckKinds(results)
	successes := 0
	for _, res := range results {
		if res.Succeeded() {
			successes++
		}
	}

	return Outcome{
		RiskScore:    risk,
		FailedChecks: failed,
		IsComplete:   len(failed) == 0 && successes >= minSuccessesForComplete,
	}
}

// AnalysisStatus maps an outcome to the company's analysis_status value.
func (o Outcome) AnalysisStatus() model.AnalysisStatus {
	if o.IsComplete {
		return model.AnalysisCompleted
	}
	return model.AnalysisIncomplete
}
