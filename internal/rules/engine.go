// Package rules maps gathered check evidence to a deterministic rule score.
// Scoring is a pure function of the submitted company data and the check
// results: no I/O, no clock, no randomness. Repeated runs over identical
// inputs produce identical scores and byte-identical signal lists.
package rules

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/kyb-worker/internal/model"
	"github.com/sells-group/kyb-worker/internal/probe"
)

// Additive weights per condition. The sum is deliberately not clamped here;
// clamping happens once in the hybrid scorer after the LLM adjustment so the
// adjustment stays idempotent across retries.
const (
	WeightYoungDomain      = 20
	WeightWHOISPrivacy     = 10
	WeightEmailMismatch    = 10
	WeightPhoneMismatch    = 10
	WeightSiteUnreachable  = 25
	WeightNoMX             = 15
	youngDomainMonthCutoff = 12
)

var lowercase = cases.Lower(language.Und)

// Score evaluates the weight table against the check results. Only
// conditions a successful check produced evidence for contribute; a failed
// check contributes nothing rather than being presumed suspicious. Each
// firing condition emits one Signal; signals are ordered by check kind in
// declaration order, with the locally derived phone comparison last.
func Score(submitted model.SubmittedData, results map[model.CheckKind]model.CheckResult) (int, []model.Signal) {
	var (
		score   int
		signals []model.Signal
	)

	add := func(s model.Signal) {
		score += s.Weight
		signals = append(signals, s)
	}

	if res, ok := succeeded(results, model.CheckWHOIS); ok {
		if months, ok := rawInt(res, "domain_age_months"); ok && months < youngDomainMonthCutoff {
			add(model.Signal{
				Field:  "domain_age_months",
				Value:  strconv.Itoa(months),
				Status: model.SignalSuspicious,
				Weight: WeightYoungDomain,
			})
		}
		if res.RawData["whois_privacy"] == "true" {
			add(model.Signal{
				Field:  "whois_privacy",
				Value:  "true",
				Status: model.SignalWarning,
				Weight: WeightWHOISPrivacy,
			})
		}
	}

	if res, ok := succeeded(results, model.CheckMXValidation); ok {
		if res.RawData["mx_valid"] == "false" {
			add(model.Signal{
				Field:  "mx_valid",
				Value:  "false",
				Status: model.SignalWarning,
				Weight: WeightNoMX,
			})
		}
	}

	if res, ok := succeeded(results, model.CheckWebsiteScrape); ok {
		if res.RawData["website_reachable"] == "false" {
			add(model.Signal{
				Field:  "website_reachable",
				Value:  "false",
				Status: model.SignalSuspicious,
				Weight: WeightSiteUnreachable,
			})
		}
		if emailDom, refDom, mismatch := emailMismatch(submitted, res); mismatch {
			add(model.Signal{
				Field:  "email_domain",
				Value:  emailDom + "!=" + refDom,
				Status: model.SignalMismatch,
				Weight: WeightEmailMismatch,
			})
		}
	}

	// Phone comparison is derived locally from the submitted number, not
	// from a network check result.
	if region, mismatch := phoneMismatch(submitted); mismatch {
		add(model.Signal{
			Field:  "phone_region",
			Value:  region,
			Status: model.SignalMismatch,
			Weight: WeightPhoneMismatch,
		})
	}

	return score, signals
}

func succeeded(results map[model.CheckKind]model.CheckResult, kind model.CheckKind) (model.CheckResult, bool) {
	res, ok := results[kind]
	if !ok || !res.Succeeded() {
		return model.CheckResult{}, false
	}
	return res, true
}

func rawInt(res model.CheckResult, key string) (int, bool) {
	v, ok := res.RawData[key]
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// emailMismatch compares the submitted email's domain against the domain the
// website scrape discovered, falling back to the submitted company domain
// when the scrape found no address.
func emailMismatch(submitted model.SubmittedData, website model.CheckResult) (emailDom, refDom string, mismatch bool) {
	emailDom = normalizeDomain(domainOfEmail(submitted.Email))
	if emailDom == "" {
		return "", "", false
	}
	refDom = normalizeDomain(website.RawData["discovered_email_domain"])
	if refDom == "" {
		refDom = normalizeDomain(submitted.Domain)
	}
	if refDom == "" {
		return "", "", false
	}
	return emailDom, refDom, emailDom != refDom
}

func phoneMismatch(submitted model.SubmittedData) (region string, mismatch bool) {
	claimed := strings.ToUpper(strings.TrimSpace(submitted.Region))
	if claimed == "" || strings.TrimSpace(submitted.Phone) == "" {
		return "", false
	}
	info, err := probe.NormalizePhone(submitted.Phone, claimed)
	if err != nil || !info.Valid || info.Region == "" {
		return "", false
	}
	if info.Region != claimed {
		return info.Region, true
	}
	return "", false
}

// normalizeDomain canonicalizes a domain for comparison: NFKC-folded,
// lowercased, stripped of scheme, path, port, and a leading www label.
func normalizeDomain(s string) string {
	s = lowercase.String(norm.NFKC.String(strings.TrimSpace(s)))
	if i := strings.Index(s, "://"); i >= 0 {
		s = s[i+3:]
	}
	if i := strings.IndexAny(s, "/?#"); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimPrefix(s, "www.")
}

func domainOfEmail(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}
	return domain
}
