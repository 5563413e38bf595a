package probe

import (
	"context"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/sells-group/kyb-worker/internal/model"
	"github.com/sells-group/kyb-worker/internal/ratelimit"
	"github.com/sells-group/kyb-worker/internal/resilience"
)

const (
	maxRedirects   = 5
	maxBodyBytes   = 2 << 20
	probeUserAgent = "kyb-worker/1.0 (company verification)"
)

var emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)

// WebsiteProbe fetches the company homepage and extracts page-level evidence:
// reachability, title, meta description, and contact addresses found in the
// page body.
type WebsiteProbe struct {
	client *http.Client
}

// NewWebsiteProbe creates the website adapter. The caller's per-check context
// bounds each request; the client itself carries no timeout.
func NewWebsiteProbe() *WebsiteProbe {
	return &WebsiteProbe{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= maxRedirects {
					return eris.Errorf("website: more than %d redirects", maxRedirects)
				}
				return nil
			},
		},
	}
}

func (p *WebsiteProbe) Kind() model.CheckKind { return model.CheckWebsiteScrape }

func (p *WebsiteProbe) Integration() string { return ratelimit.IntegrationHTTP }

func (p *WebsiteProbe) Run(ctx context.Context, submitted model.SubmittedData) (model.CheckResult, error) {
	target := submitted.WebsiteURL
	if target == "" {
		if domain := registrableDomain(submitted.Domain); domain != "" {
			target = "https://" + domain
		}
	}
	if target == "" {
		return failedResult(p.Kind(), "permanent"), eris.New("website: no URL submitted")
	}
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return failedResult(p.Kind(), "permanent"), eris.Wrapf(err, "website: build request for %s", target)
	}
	req.Header.Set("User-Agent", probeUserAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		// Connection-level failure: the site not existing is evidence, but a
		// transport error on our side is a probe failure. Timeouts and DNS
		// refusals on the target host count as "unreachable" evidence.
		if resilience.IsTransient(err) {
			return model.CheckResult{
				Kind:    p.Kind(),
				Status:  model.CheckOK,
				RawData: map[string]string{"website_reachable": "false"},
			}, nil
		}
		return failedResult(p.Kind(), resilience.ErrorClass(err)), eris.Wrapf(err, "website: fetch %s", target)
	}
	defer resp.Body.Close()

	raw := map[string]string{
		"website_status_code": strconv.Itoa(resp.StatusCode),
		"website_reachable":   strconv.FormatBool(resp.StatusCode >= 200 && resp.StatusCode < 400),
		"website_final_url":   resp.Request.URL.String(),
	}

	if resilience.IsTransientHTTPStatus(resp.StatusCode) {
		return failedResult(p.Kind(), "transient"), eris.Errorf("website: %s returned %d", target, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		// Reachability is already established; an unparseable body still
		// produces a usable result.
		return model.CheckResult{Kind: p.Kind(), Status: model.CheckOK, RawData: raw}, nil
	}

	if title := strings.TrimSpace(doc.Find("title").First().Text()); title != "" {
		raw["website_title"] = title
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		if desc = strings.TrimSpace(desc); desc != "" {
			raw["meta_description"] = desc
		}
	}

	if email := firstEmail(doc); email != "" {
		raw["discovered_email"] = email
		raw["discovered_email_domain"] = emailDomain(email)
	}

	return model.CheckResult{
		Kind:    p.Kind(),
		Status:  model.CheckOK,
		RawData: raw,
	}, nil
}

// firstEmail returns the first address found in mailto links, falling back
// to a body-text scan. mailto links are preferred because footer text often
// contains obfuscated or third-party addresses.
func firstEmail(doc *goquery.Document) string {
	var email string
	doc.Find(`a[href^="mailto:"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		if emailPattern.MatchString(addr) {
			email = strings.ToLower(addr)
			return false
		}
		return true
	})
	if email != "" {
		return email
	}

	body := doc.Find("body").Text()
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
	}
	if match := emailPattern.FindString(body); match != "" {
		return strings.ToLower(match)
	}
	return ""
}
