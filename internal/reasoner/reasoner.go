// Package reasoner produces the narrative risk assessment for an analysis
// run. It is the only probabilistic stage in the pipeline and is isolated so
// its failure degrades the analysis instead of aborting it.
package reasoner

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kyb-worker/internal/model"
	"github.com/sells-group/kyb-worker/internal/ratelimit"
	"github.com/sells-group/kyb-worker/internal/resilience"
	"github.com/sells-group/kyb-worker/pkg/anthropic"
)

// Adjustment bounds. A model response outside this range is clamped, not
// rejected: the narrative is still useful even when the number is not.
const (
	MinAdjustment = -20
	MaxAdjustment = 20
)

const systemPrompt = `You are a fraud analyst reviewing automated verification evidence for a newly registered company. You receive the data the company submitted, the data our checks discovered, and a list of weighted rule signals that already produced a deterministic risk score.

Assess whether the evidence pattern looks like a legitimate business or a fraudulent registration. Consider consistency between submitted and discovered data, the age and setup of the domain, and whether the rule signals reinforce or contradict each other.

Respond with ONLY valid JSON, no other text:
{"summary": "one-sentence assessment", "details": "2-4 sentence explanation", "score_adjustment": 0}

score_adjustment is an integer between -20 (evidence looks clearly legitimate, reduce risk) and 20 (evidence looks clearly fraudulent, increase risk).`

// Assessment is the reasoner's contribution to an analysis record.
type Assessment struct {
	Summary    string
	Details    string
	Adjustment int
}

// Reasoner asks Claude for a narrative assessment of the gathered evidence.
type Reasoner struct {
	ai       anthropic.Client
	limiters *ratelimit.Limiters
	model    string
}

// New creates a Reasoner using the given client and model.
func New(ai anthropic.Client, limiters *ratelimit.Limiters, model string) *Reasoner {
	return &Reasoner{ai: ai, limiters: limiters, model: model}
}

// Reason requests a summary, detail text, and bounded score adjustment for
// the evidence. The caller owns the timeout on ctx and decides how a failure
// affects the analysis; Reason itself retries transient transport errors.
func (r *Reasoner) Reason(ctx context.Context, submitted model.SubmittedData, discovered map[string]string, signals []model.Signal) (Assessment, error) {
	if err := r.limiters.Wait(ctx, ratelimit.IntegrationAnthropic); err != nil {
		return Assessment{}, err
	}

	userMsg := renderEvidence(submitted, discovered, signals)

	resp, err := resilience.RetryVal(ctx, ratelimit.IntegrationAnthropic, resilience.DefaultRetryConfig(), func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return r.ai.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     r.model,
			MaxTokens: 1024,
			System:    systemPrompt,
			Messages:  []anthropic.Message{{Role: "user", Content: userMsg}},
		})
	})
	if err != nil {
		return Assessment{}, eris.Wrap(err, "reasoner: create message")
	}
	resp.Usage.LogUsage(r.model, "reason")

	assessment, err := parseAssessment(resp.Text())
	if err != nil {
		return Assessment{}, err
	}

	zap.L().Debug("reasoner: assessment",
		zap.String("company_id", submitted.CompanyID),
		zap.Int("adjustment", assessment.Adjustment),
	)
	return assessment, nil
}

// renderEvidence formats the analysis inputs as a plain-text block. Map keys
// are rendered in sorted order so the prompt is stable across runs.
func renderEvidence(submitted model.SubmittedData, discovered map[string]string, signals []model.Signal) string {
	var b strings.Builder

	b.WriteString("SUBMITTED DATA:\n")
	writeField(&b, "name", submitted.Name)
	writeField(&b, "domain", submitted.Domain)
	writeField(&b, "email", submitted.Email)
	writeField(&b, "phone", submitted.Phone)
	writeField(&b, "region", submitted.Region)
	writeField(&b, "website_url", submitted.WebsiteURL)
	writeField(&b, "description", submitted.Description)

	b.WriteString("\nDISCOVERED DATA:\n")
	if len(discovered) == 0 {
		b.WriteString("  (none)\n")
	}
	for _, key := range sortedKeys(discovered) {
		writeField(&b, key, discovered[key])
	}

	b.WriteString("\nRULE SIGNALS:\n")
	if len(signals) == 0 {
		b.WriteString("  (none fired)\n")
	}
	for _, s := range signals {
		fmt.Fprintf(&b, "  %s = %s (%s, weight %d)\n", s.Field, s.Value, s.Status, s.Weight)
	}

	return b.String()
}

func writeField(b *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(b, "  %s: %s\n", key, value)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

type assessmentResponse struct {
	Summary         string `json:"summary"`
	Details         string `json:"details"`
	ScoreAdjustment int    `json:"score_adjustment"`
}

// parseAssessment extracts the JSON object from the model's reply. The
// response may carry surrounding prose despite the prompt.
func parseAssessment(text string) (Assessment, error) {
	if text == "" {
		return Assessment{}, eris.New("reasoner: empty response")
	}

	jsonStart := strings.Index(text, "{")
	jsonEnd := strings.LastIndex(text, "}")
	if jsonStart < 0 || jsonEnd <= jsonStart {
		return Assessment{}, eris.Errorf("reasoner: no JSON in response: %s", text)
	}

	var parsed assessmentResponse
	if err := json.Unmarshal([]byte(text[jsonStart:jsonEnd+1]), &parsed); err != nil {
		return Assessment{}, eris.Wrap(err, "reasoner: parse response JSON")
	}
	if parsed.Summary == "" {
		return Assessment{}, eris.New("reasoner: response missing summary")
	}

	return Assessment{
		Summary:    parsed.Summary,
		Details:    parsed.Details,
		Adjustment: clampAdjustment(parsed.ScoreAdjustment),
	}, nil
}

func clampAdjustment(n int) int {
	if n < MinAdjustment {
		return MinAdjustment
	}
	if n > MaxAdjustment {
		return MaxAdjustment
	}
	return n
}
