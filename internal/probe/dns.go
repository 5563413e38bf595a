package probe

import (
	"context"
	"net"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/kyb-worker/internal/model"
	"github.com/sells-group/kyb-worker/internal/ratelimit"
)

// Resolver is the subset of net.Resolver the DNS and MX probes use.
type Resolver interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupNS(ctx context.Context, name string) ([]*net.NS, error)
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// DNSProbe resolves the submitted domain and records whether it exists in
// the DNS at all.
type DNSProbe struct {
	resolver Resolver
}

// NewDNSProbe creates the DNS adapter backed by the system resolver.
func NewDNSProbe() *DNSProbe {
	return &DNSProbe{resolver: net.DefaultResolver}
}

// NewDNSProbeWithResolver creates the DNS adapter with a custom resolver.
func NewDNSProbeWithResolver(r Resolver) *DNSProbe {
	return &DNSProbe{resolver: r}
}

func (p *DNSProbe) Kind() model.CheckKind { return model.CheckDNS }

func (p *DNSProbe) Integration() string { return ratelimit.IntegrationDNS }

func (p *DNSProbe) Run(ctx context.Context, submitted model.SubmittedData) (model.CheckResult, error) {
	domain := registrableDomain(submitted.Domain)
	if domain == "" {
		return failedResult(p.Kind(), "permanent"), eris.New("dns: no domain submitted")
	}

	raw := make(map[string]string)

	addrs, hostErr := p.resolver.LookupHost(ctx, domain)
	raw["dns_resolves"] = strconv.FormatBool(hostErr == nil && len(addrs) > 0)
	if len(addrs) > 0 {
		raw["a_records"] = strings.Join(addrs, ",")
	}

	// NXDOMAIN is a finding, not a probe failure; only transport errors fail
	// the check.
	if hostErr != nil && !isNotFound(hostErr) {
		return failedResult(p.Kind(), "transient"), eris.Wrapf(hostErr, "dns: lookup %s", domain)
	}

	if nsRecords, err := p.resolver.LookupNS(ctx, domain); err == nil && len(nsRecords) > 0 {
		hosts := make([]string, 0, len(nsRecords))
		for _, ns := range nsRecords {
			hosts = append(hosts, strings.TrimSuffix(ns.Host, "."))
		}
		raw["ns_records"] = strings.Join(hosts, ",")
	}

	return model.CheckResult{
		Kind:    p.Kind(),
		Status:  model.CheckOK,
		RawData: raw,
	}, nil
}

// MXProbe checks whether the submitted domain publishes valid MX records.
type MXProbe struct {
	resolver Resolver
}

// NewMXProbe creates the MX adapter backed by the system resolver.
func NewMXProbe() *MXProbe {
	return &MXProbe{resolver: net.DefaultResolver}
}

// NewMXProbeWithResolver creates the MX adapter with a custom resolver.
func NewMXProbeWithResolver(r Resolver) *MXProbe {
	return &MXProbe{resolver: r}
}

func (p *MXProbe) Kind() model.CheckKind { return model.CheckMXValidation }

func (p *MXProbe) Integration() string { return ratelimit.IntegrationDNS }

func (p *MXProbe) Run(ctx context.Context, submitted model.SubmittedData) (model.CheckResult, error) {
	domain := emailDomain(submitted.Email)
	if domain == "" {
		domain = registrableDomain(submitted.Domain)
	}
	if domain == "" {
		return failedResult(p.Kind(), "permanent"), eris.New("mx: no domain submitted")
	}

	raw := make(map[string]string)

	records, err := p.resolver.LookupMX(ctx, domain)
	if err != nil && !isNotFound(err) {
		return failedResult(p.Kind(), "transient"), eris.Wrapf(err, "mx: lookup %s", domain)
	}

	valid := validMXHosts(records)
	raw["mx_valid"] = strconv.FormatBool(len(valid) > 0)
	if len(valid) > 0 {
		raw["mx_hosts"] = strings.Join(valid, ",")
	}

	return model.CheckResult{
		Kind:    p.Kind(),
		Status:  model.CheckOK,
		RawData: raw,
	}, nil
}

// validMXHosts filters out null-MX ("."), which some domains publish to
// signal they receive no mail.
func validMXHosts(records []*net.MX) []string {
	var hosts []string
	for _, mx := range records {
		host := strings.TrimSuffix(mx.Host, ".")
		if host == "" {
			continue
		}
		hosts = append(hosts, host)
	}
	return hosts
}

func isNotFound(err error) bool {
	var dnsErr *net.DNSError
	return eris.As(err, &dnsErr) && dnsErr.IsNotFound
}

func emailDomain(email string) string {
	_, domain, ok := strings.Cut(email, "@")
	if !ok {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(domain))
}
