package linkcheck

import (
	"context"
	"net"
	"strings"
	"time"

	"github.com/miekg/dns"
)

// DNSChecker performs resolution diagnostics: thorough-mode detail on
// working links, DNSFAILED diagnosis, and the retest stage's reachability
// annotation. Queries go straight to the configured resolvers; when none
// are configured it falls back to the system resolver.
type DNSChecker struct {
	Resolvers    []string
	QueryTimeout time.Duration
}

// NewDNSChecker seeds resolvers from config; addresses without a port get
// :53 appended. An empty list means "use the system resolver".
func NewDNSChecker(resolvers []string, timeout time.Duration) *DNSChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	normalized := make([]string, 0, len(resolvers))
	for _, r := range resolvers {
		if r == "" {
			continue
		}
		if !strings.Contains(r, ":") {
			r = net.JoinHostPort(r, "53")
		}
		normalized = append(normalized, r)
	}
	return &DNSChecker{Resolvers: normalized, QueryTimeout: timeout}
}

// Lookup resolves A and AAAA records for a hostname. It never returns an
// error; failures land in DNSInfo.Error with Resolved=false.
func (dc *DNSChecker) Lookup(ctx context.Context, host string) DNSInfo {
	if len(dc.Resolvers) == 0 {
		return dc.lookupSystem(ctx, host)
	}

	var info DNSInfo
	var lastErr error
	for _, resolver := range dc.Resolvers {
		ips, err := dc.queryResolver(ctx, host, resolver)
		if err != nil {
			lastErr = err
			continue
		}
		if len(ips) > 0 {
			info.Resolved = true
			info.IPAddresses = dedupeStrings(ips)
			return info
		}
	}
	if lastErr != nil {
		info.Error = lastErr.Error()
	} else {
		info.Error = "no A or AAAA records found"
	}
	return info
}

func (dc *DNSChecker) queryResolver(ctx context.Context, host, resolver string) ([]string, error) {
	client := &dns.Client{Timeout: dc.QueryTimeout}
	fqdn := dns.Fqdn(host)
	var ips []string
	var lastErr error

	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(fqdn, qtype)
		msg.RecursionDesired = true

		reply, _, err := client.ExchangeContext(ctx, msg, resolver)
		if err != nil {
			lastErr = err
			continue
		}
		if reply.Rcode == dns.RcodeNameError {
			lastErr = &net.DNSError{Err: "no such host", Name: host, Server: resolver, IsNotFound: true}
			continue
		}
		for _, rr := range reply.Answer {
			switch record := rr.(type) {
			case *dns.A:
				ips = append(ips, record.A.String())
			case *dns.AAAA:
				ips = append(ips, record.AAAA.String())
			}
		}
	}
	if len(ips) == 0 && lastErr != nil {
		return nil, lastErr
	}
	return ips, nil
}

func (dc *DNSChecker) lookupSystem(ctx context.Context, host string) DNSInfo {
	var info DNSInfo
	lookupCtx, cancel := context.WithTimeout(ctx, dc.QueryTimeout)
	defer cancel()

	addrs, err := net.DefaultResolver.LookupIPAddr(lookupCtx, host)
	if err != nil {
		info.Error = err.Error()
		return info
	}
	for _, a := range addrs {
		info.IPAddresses = append(info.IPAddresses, a.IP.String())
	}
	info.Resolved = len(info.IPAddresses) > 0
	if !info.Resolved {
		info.Error = "no addresses returned"
	}
	return info
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
