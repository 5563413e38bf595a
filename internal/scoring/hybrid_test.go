package scoring

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/kyb-worker/internal/model"
)

func results(status map[model.CheckKind]model.CheckStatus) map[model.CheckKind]model.CheckResult {
	out := make(map[model.CheckKind]model.CheckResult, len(status))
	for kind, s := range status {
		out[kind] = model.CheckResult{Kind: kind, Status: s}
	}
	return out
}

func allOK() map[model.CheckKind]model.CheckResult {
	m := make(map[model.CheckKind]model.CheckStatus)
	for _, kind := range model.CheckKinds() {
		m[kind] = model.CheckOK
	}
	return results(m)
}

func TestCombine_ClampsToRange(t *testing.T) {
	tests := []struct {
		name       string
		ruleScore  int
		adjustment int
		want       int
	}{
		{"plain sum", 40, 8, 48},
		{"negative floor", 5, -20, 0},
		{"over ceiling", 95, 20, 100},
		{"rule score alone over 100", 110, 0, 100},
		{"zero", 0, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Combine(tt.ruleScore, tt.adjustment, allOK())
			assert.Equal(t, tt.want, out.RiskScore)
			assert.GreaterOrEqual(t, out.RiskScore, 0)
			assert.LessOrEqual(t, out.RiskScore, 100)
		})
	}
}

func TestCombine_CompleteWhenAllSucceed(t *testing.T) {
	out := Combine(40, 8, allOK())
	assert.True(t, out.IsComplete)
	assert.Empty(t, out.FailedChecks)
	assert.Equal(t, 48, out.RiskScore)
	assert.Equal(t, model.AnalysisCompleted, out.AnalysisStatus())
}

func TestCombine_FailedChecksMakeIncomplete(t *testing.T) {
	out := Combine(25, 0, results(map[model.CheckKind]model.CheckStatus{
		model.CheckWHOIS:         model.CheckFailed,
		model.CheckDNS:           model.CheckOK,
		model.CheckMXValidation:  model.CheckFailed,
		model.CheckWebsiteScrape: model.CheckOK,
		model.CheckLLMProcessing: model.CheckOK,
	}))

	assert.False(t, out.IsComplete)
	assert.Equal(t, []model.CheckKind{model.CheckWHOIS, model.CheckMXValidation}, out.FailedChecks)
	assert.Equal(t, 25, out.RiskScore)
	assert.Equal(t, model.AnalysisIncomplete, out.AnalysisStatus())
}

func TestCombine_TwoSuccessesStillScored(t *testing.T) {
	out := Combine(60, 0, results(map[model.CheckKind]model.CheckStatus{
		model.CheckWHOIS:         model.CheckFailed,
		model.CheckDNS:           model.CheckOK,
		model.CheckMXValidation:  model.CheckFailed,
		model.CheckWebsiteScrape: model.CheckOK,
		model.CheckLLMProcessing: model.CheckFailed,
	}))

	assert.False(t, out.IsComplete)
	assert.Equal(t, 60, out.RiskScore)
	assert.Len(t, out.FailedChecks, 3)
}

func TestCombine_MissingChecksCountAsNotSucceeded(t *testing.T) {
	out := Combine(0, 0, results(map[model.CheckKind]model.CheckStatus{
		model.CheckDNS:           model.CheckOK,
		model.CheckWebsiteScrape: model.CheckOK,
	}))

	assert.False(t, out.IsComplete)
}
