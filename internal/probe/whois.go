package probe

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/kyb-worker/internal/model"
	"github.com/sells-group/kyb-worker/internal/ratelimit"
)

const (
	ianaWHOIS     = "whois.iana.org:43"
	whoisPort     = "43"
	maxWHOISBytes = 1 << 20
)

// creationDateKeys are the registry-dependent labels for the domain
// registration date, lowercase.
var creationDateKeys = []string{
	"creation date",
	"created",
	"created on",
	"registered on",
	"registration time",
	"domain record activated",
}

// creationDateLayouts are the timestamp formats seen across registrars.
var creationDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05Z",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02-Jan-2006",
	"2006.01.02",
	"2006/01/02",
}

// privacyMarkers indicate a privacy/redaction service on registrant fields.
var privacyMarkers = []string{
	"redacted for privacy",
	"privacy service",
	"whoisguard",
	"domains by proxy",
	"identity protect",
	"contact privacy",
	"data protected",
	"withheld for privacy",
}

// WHOISProbe queries the WHOIS system for the submitted domain: an IANA
// referral lookup followed by the authoritative registry/registrar query.
type WHOISProbe struct {
	dial func(ctx context.Context, addr string) (net.Conn, error)
	now  func() time.Time
}

// NewWHOISProbe creates the WHOIS adapter.
func NewWHOISProbe() *WHOISProbe {
	var d net.Dialer
	return &WHOISProbe{
		dial: func(ctx context.Context, addr string) (net.Conn, error) {
			return d.DialContext(ctx, "tcp", addr)
		},
		now: time.Now,
	}
}

func (p *WHOISProbe) Kind() model.CheckKind { return model.CheckWHOIS }

func (p *WHOISProbe) Integration() string { return ratelimit.IntegrationWHOIS }

// Run queries WHOIS for the registered domain and records domain age,
// registrar, and privacy status.
func (p *WHOISProbe) Run(ctx context.Context, submitted model.SubmittedData) (model.CheckResult, error) {
	domain := registrableDomain(submitted.Domain)
	if domain == "" {
		return failedResult(p.Kind(), "permanent"), eris.New("whois: no domain submitted")
	}

	server, err := p.referralServer(ctx, domain)
	if err != nil {
		return failedResult(p.Kind(), "transient"), eris.Wrap(err, "whois: referral lookup")
	}

	response, err := p.query(ctx, net.JoinHostPort(server, whoisPort), domain)
	if err != nil {
		return failedResult(p.Kind(), "transient"), eris.Wrap(err, "whois: registry query")
	}

	// Follow one registrar referral if the registry response carries one.
	if registrar := extractField(response, "registrar whois server"); registrar != "" && registrar != server {
		if detail, derr := p.query(ctx, net.JoinHostPort(registrar, whoisPort), domain); derr == nil {
			response = response + "\n" + detail
		} else {
			zap.L().Debug("probe: registrar whois unavailable, using registry response",
				zap.String("domain", domain),
				zap.String("registrar_server", registrar),
				zap.Error(derr),
			)
		}
	}

	raw := map[string]string{
		"whois_privacy": strconv.FormatBool(hasPrivacyMarker(response)),
	}
	if registrar := extractField(response, "registrar"); registrar != "" {
		raw["registrar"] = registrar
	}

	if created, ok := parseCreationDate(response); ok {
		raw["domain_created_at"] = created.UTC().Format(time.RFC3339)
		raw["domain_age_months"] = strconv.Itoa(monthsBetween(created, p.now()))
	}

	return model.CheckResult{
		Kind:    p.Kind(),
		Status:  model.CheckOK,
		RawData: raw,
	}, nil
}

// referralServer asks IANA which WHOIS server is authoritative for the TLD.
func (p *WHOISProbe) referralServer(ctx context.Context, domain string) (string, error) {
	response, err := p.query(ctx, ianaWHOIS, domain)
	if err != nil {
		return "", err
	}
	if refer := extractField(response, "refer"); refer != "" {
		return refer, nil
	}
	if whois := extractField(response, "whois"); whois != "" {
		return whois, nil
	}
	return "", eris.Errorf("whois: no referral for %s", domain)
}

func (p *WHOISProbe) query(ctx context.Context, addr, domain string) (string, error) {
	conn, err := p.dial(ctx, addr)
	if err != nil {
		return "", eris.Wrapf(err, "whois: dial %s", addr)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	if _, err := fmt.Fprintf(conn, "%s\r\n", domain); err != nil {
		return "", eris.Wrapf(err, "whois: write query to %s", addr)
	}

	data, err := io.ReadAll(io.LimitReader(conn, maxWHOISBytes))
	if err != nil {
		return "", eris.Wrapf(err, "whois: read response from %s", addr)
	}
	return string(data), nil
}

// extractField scans a WHOIS response for "key: value" (case-insensitive key)
// and returns the first non-empty value.
func extractField(response, key string) string {
	scanner := bufio.NewScanner(strings.NewReader(response))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(k), key) {
			if value := strings.TrimSpace(v); value != "" {
				return value
			}
		}
	}
	return ""
}

func parseCreationDate(response string) (time.Time, bool) {
	for _, key := range creationDateKeys {
		value := extractField(response, key)
		if value == "" {
			continue
		}
		// Some registries append a comment after the timestamp.
		if i := strings.IndexByte(value, ' '); i > 0 && strings.Contains(value, "#") {
			value = value[:i]
		}
		for _, layout := range creationDateLayouts {
			if t, err := time.Parse(layout, value); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}

func hasPrivacyMarker(response string) bool {
	lower := strings.ToLower(response)
	for _, marker := range privacyMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func monthsBetween(from, to time.Time) int {
	if to.Before(from) {
		return 0
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()) - int(from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// registrableDomain strips scheme, path and port from a submitted domain or
// URL and lowercases the rest.
func registrableDomain(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimPrefix(s, "www.")
}
