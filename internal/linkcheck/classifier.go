package linkcheck

import (
	"net/url"
	"regexp"
	"strings"
)

// URLKind classifies what a raw link string actually is. Only HTTP(S) links
// reach the network pipeline; everything else is resolved syntactically.
type URLKind string

const (
	KindHTTP        URLKind = "http"
	KindMailto      URLKind = "mailto"
	KindFilePath    URLKind = "file"
	KindUNCPath     URLKind = "unc"
	KindInternalRef URLKind = "internal"
	KindInvalid     URLKind = "invalid"
)

var (
	emailRe    = regexp.MustCompile(`^[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}$`)
	driveRe    = regexp.MustCompile(`^[A-Za-z]:[\\/]`)
	hostLikeRe = regexp.MustCompile(`^[A-Za-z0-9]([A-Za-z0-9\-]*[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9\-]*[A-Za-z0-9])?)+`)
)

// ClassifiedURL is the classifier's output: the kind, the normalized form
// used for network checks, and a syntax verdict for non-network kinds.
type ClassifiedURL struct {
	Raw        string
	Normalized string
	Kind       URLKind
	Host       string
	Problem    string
}

// Classify categorizes a raw string and normalizes it. Strings with no
// scheme but a host-looking prefix are promoted to https; bare bookmark
// anchors and "see section" style references are internal cross-references.
func Classify(raw string) ClassifiedURL {
	c := ClassifiedURL{Raw: raw}
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		c.Kind = KindInvalid
		c.Problem = "empty URL"
		return c
	}

	lower := strings.ToLower(trimmed)
	switch {
	case strings.HasPrefix(lower, "mailto:"):
		c.Kind = KindMailto
		addr := strings.TrimPrefix(trimmed, "mailto:")
		addr = strings.SplitN(addr, "?", 2)[0]
		c.Normalized = trimmed
		if !emailRe.MatchString(addr) {
			c.Kind = KindInvalid
			c.Problem = "malformed mailto address"
		}
		return c
	case strings.HasPrefix(trimmed, `\\`):
		c.Kind = KindUNCPath
		c.Normalized = trimmed
		if len(strings.Trim(trimmed, `\`)) == 0 {
			c.Kind = KindInvalid
			c.Problem = "malformed UNC path"
		}
		return c
	case strings.HasPrefix(lower, "file://"):
		c.Kind = KindFilePath
		c.Normalized = trimmed
		return c
	case driveRe.MatchString(trimmed):
		c.Kind = KindFilePath
		c.Normalized = trimmed
		return c
	case strings.HasPrefix(trimmed, "#"):
		c.Kind = KindInternalRef
		c.Normalized = trimmed
		return c
	}

	withScheme := trimmed
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		if !hostLikeRe.MatchString(trimmed) || strings.ContainsAny(trimmed, " \t") {
			c.Kind = KindInvalid
			c.Problem = "not a recognizable URL, path, or reference"
			return c
		}
		withScheme = "https://" + trimmed
	}

	u, err := url.Parse(withScheme)
	if err != nil || u.Host == "" {
		c.Kind = KindInvalid
		if err != nil {
			c.Problem = "URL parse error: " + err.Error()
		} else {
			c.Problem = "URL has no host"
		}
		return c
	}
	if strings.ContainsAny(u.Host, " \t") || !strings.Contains(u.Hostname(), ".") && !isLocalHostname(u.Hostname()) {
		c.Kind = KindInvalid
		c.Problem = "invalid hostname"
		return c
	}

	// Drop fragments: servers never see them and they break dedup.
	u.Fragment = ""
	c.Kind = KindHTTP
	c.Host = strings.ToLower(u.Hostname())
	u.Host = strings.ToLower(u.Host)
	c.Normalized = u.String()
	return c
}

func isLocalHostname(h string) bool {
	return h == "localhost" || strings.HasSuffix(h, ".local")
}

// hostOf extracts the lowercase hostname from a URL string, tolerating
// schemeless input. Returns "" when nothing host-like can be found.
func hostOf(rawURL string) string {
	c := Classify(rawURL)
	return c.Host
}

// internalDomainIndicators marks hosts that sit behind corporate/government
// network boundaries. A DNS failure for these usually means "off VPN", not
// "link is dead", and they are the candidates for integrated-auth probing.
var internalDomainIndicators = []string{
	".mil",
	".gov",
	".smil.mil",
	"sharepoint.com",
	"sharepoint-mil.us",
	"dps.mil",
	"intelink",
	".army.mil",
	".af.mil",
	".navy.mil",
	".disa.mil",
	".dla.mil",
	".dcma.mil",
}

// IsInternalDomain reports whether a hostname matches the internal/corporate
// indicator list (suffix or substring match, per indicator shape).
func IsInternalDomain(host string) bool {
	h := strings.ToLower(host)
	for _, ind := range internalDomainIndicators {
		if strings.HasPrefix(ind, ".") {
			if strings.HasSuffix(h, ind) || h == strings.TrimPrefix(ind, ".") {
				return true
			}
			continue
		}
		if strings.Contains(h, ind) {
			return true
		}
	}
	return false
}

// DomainCategory buckets a hostname for reporting.
func DomainCategory(host string) string {
	h := strings.ToLower(host)
	switch {
	case strings.HasSuffix(h, ".mil") || strings.Contains(h, ".mil."):
		return "military"
	case strings.HasSuffix(h, ".gov"):
		return "government"
	case IsInternalDomain(h):
		return "corporate"
	case strings.HasSuffix(h, ".edu"):
		return "education"
	default:
		return "public"
	}
}

// screenSuspicious annotates a result with heuristics that suggest a link
// warrants human review. Annotation only; never changes the status.
func screenSuspicious(res *ValidationResult, u *url.URL) {
	add := func(reason string) {
		res.IsSuspicious = true
		res.SuspiciousReasons = append(res.SuspiciousReasons, reason)
	}
	host := u.Hostname()
	if ip := parseIPHost(host); ip {
		add("host is a raw IP address")
	}
	if strings.HasPrefix(host, "xn--") || strings.Contains(host, ".xn--") {
		add("punycode-encoded hostname")
	}
	if u.User != nil {
		add("URL embeds credentials (user@host)")
	}
	if res.RedirectCount > 5 {
		add("unusually long redirect chain")
	}
	if strings.Count(host, ".") >= 5 {
		add("deeply nested subdomain")
	}
}

func parseIPHost(host string) bool {
	if host == "" {
		return false
	}
	dots := 0
	for _, r := range host {
		switch {
		case r == '.':
			dots++
		case r == ':':
			return true // IPv6 literal
		case r < '0' || r > '9':
			return false
		}
	}
	return dots == 3
}
