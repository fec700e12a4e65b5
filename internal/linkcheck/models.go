package linkcheck

import (
	"regexp"
	"time"
)

// Status is the terminal classification of a single URL check. Every failure
// mode the validator can hit maps to one of these; the validator never
// returns an error to its caller.
type Status string

const (
	StatusUnknown      Status = "UNKNOWN"
	StatusWorking      Status = "WORKING"
	StatusRedirect     Status = "REDIRECT"
	StatusBroken       Status = "BROKEN"
	StatusTimeout      Status = "TIMEOUT"
	StatusDNSFailed    Status = "DNSFAILED"
	StatusBlocked      Status = "BLOCKED"
	StatusSSLError     Status = "SSLERROR"
	StatusAuthRequired Status = "AUTH_REQUIRED"
	StatusRateLimited  Status = "RATE_LIMITED"
	StatusSkipped      Status = "SKIPPED"
	StatusInvalid      Status = "INVALID"
)

// Retestable reports whether a first-pass status is eligible for the
// escalation stages. WORKING/REDIRECT/SKIPPED/INVALID results are final.
func (s Status) Retestable() bool {
	switch s {
	case StatusBroken, StatusTimeout, StatusDNSFailed, StatusBlocked, StatusSSLError, StatusAuthRequired:
		return true
	}
	return false
}

// rank orders statuses from worst to best so escalation stages can enforce
// upgrade-only replacement. Higher is better.
func (s Status) rank() int {
	switch s {
	case StatusWorking:
		return 6
	case StatusRedirect:
		return 5
	case StatusAuthRequired:
		return 4
	case StatusRateLimited:
		return 3
	case StatusTimeout, StatusBlocked, StatusSSLError, StatusDNSFailed:
		return 2
	case StatusBroken:
		return 1
	default:
		return 0
	}
}

// BetterThan reports whether s is a strictly better classification than o.
func (s Status) BetterThan(o Status) bool { return s.rank() > o.rank() }

// ScanDepth selects how much work the validator does per URL.
type ScanDepth string

const (
	DepthQuick    ScanDepth = "quick"
	DepthStandard ScanDepth = "standard"
	DepthThorough ScanDepth = "thorough"
)

// Mode selects the overall validation strategy for a run.
type Mode string

const (
	// ModeOffline performs syntax and exclusion checks only; no network.
	ModeOffline Mode = "offline"
	// ModeStandard is the normal HTTP validation pass.
	ModeStandard Mode = "standard"
	// ModeThorough adds DNS, SSL, and soft-404 diagnostics.
	ModeThorough Mode = "thorough"
)

// ParseMode maps external mode strings (including the legacy spellings the
// desktop client sends) onto a Mode.
func ParseMode(s string) Mode {
	switch s {
	case "offline":
		return ModeOffline
	case "thorough", "ps1_validator":
		return ModeThorough
	case "standard", "validator", "":
		return ModeStandard
	default:
		return ModeStandard
	}
}

// ExclusionDisposition says what to do with a URL matched by an exclusion rule.
type ExclusionDisposition string

const (
	// TreatAsValid reports the URL as WORKING without checking it.
	TreatAsValid ExclusionDisposition = "treat_as_valid"
	// SkipSilently reports the URL as SKIPPED.
	SkipSilently ExclusionDisposition = "skip_silently"
)

// ExclusionRule is a user-supplied skip/allow rule evaluated before any
// network call. PatternType is "substring", "regex", or "domain".
type ExclusionRule struct {
	Pattern     string               `json:"pattern"`
	PatternType string               `json:"patternType"`
	Disposition ExclusionDisposition `json:"disposition"`
	Reason      string               `json:"reason,omitempty"`

	compiled *regexp.Regexp
}

// Options carries the per-run tunables. Zero values are filled in by
// (*Options).withDefaults before a run starts.
type Options struct {
	Timeout         time.Duration   `json:"-"`
	TimeoutSeconds  int             `json:"timeout,omitempty"`
	Retries         int             `json:"retries,omitempty"`
	UseWindowsAuth  bool            `json:"useWindowsAuth,omitempty"`
	FollowRedirects *bool           `json:"followRedirects,omitempty"`
	ClientCertPath  string          `json:"clientCert,omitempty"`
	ClientKeyPath   string          `json:"clientKey,omitempty"`
	CABundlePath    string          `json:"caBundle,omitempty"`
	Proxy           string          `json:"proxy,omitempty"`
	VerifySSL       *bool           `json:"verifySsl,omitempty"`
	MaxConcurrent   int             `json:"maxConcurrent,omitempty"`
	ScanDepth       ScanDepth       `json:"scanDepth,omitempty"`
	Exclusions      []ExclusionRule `json:"exclusions,omitempty"`
	CheckDNS        *bool           `json:"checkDns,omitempty"`
	CheckSSL        *bool           `json:"checkSsl,omitempty"`
	DetectSoft404   *bool           `json:"detectSoft404,omitempty"`
	CheckSuspicious *bool           `json:"checkSuspicious,omitempty"`
	UserAgent       string          `json:"userAgent,omitempty"`
}

// hardMaxConcurrent caps worker counts no matter what the caller asks for.
const hardMaxConcurrent = 50

func boolDefault(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

// withDefaults resolves omitted option fields. Depth-derived booleans follow
// the scan depth unless explicitly set.
func (o Options) withDefaults() Options {
	if o.Timeout <= 0 {
		if o.TimeoutSeconds > 0 {
			o.Timeout = time.Duration(o.TimeoutSeconds) * time.Second
		} else {
			o.Timeout = 10 * time.Second
		}
	}
	if o.Retries < 0 {
		o.Retries = 0
	}
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 20
	}
	if o.MaxConcurrent > hardMaxConcurrent {
		o.MaxConcurrent = hardMaxConcurrent
	}
	if o.ScanDepth == "" {
		o.ScanDepth = DepthStandard
	}
	thorough := o.ScanDepth == DepthThorough
	v := boolDefault(o.CheckDNS, thorough)
	o.CheckDNS = &v
	v2 := boolDefault(o.CheckSSL, thorough)
	o.CheckSSL = &v2
	v3 := boolDefault(o.DetectSoft404, thorough)
	o.DetectSoft404 = &v3
	v4 := boolDefault(o.CheckSuspicious, thorough)
	o.CheckSuspicious = &v4
	if o.VerifySSL == nil {
		t := true
		o.VerifySSL = &t
	}
	if o.FollowRedirects == nil {
		t := true
		o.FollowRedirects = &t
	}
	if o.UserAgent == "" {
		o.UserAgent = defaultUserAgent
	}
	return o
}

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// ValidationRequest is the immutable input to a run: the ordered URL list
// (duplicates allowed and meaningful), the mode, and the options.
type ValidationRequest struct {
	URLs    []string `json:"urls"`
	Mode    Mode     `json:"mode"`
	Options Options  `json:"options"`
}

// SSLInfo captures certificate diagnostics collected in thorough mode.
type SSLInfo struct {
	Valid   bool   `json:"valid"`
	Issuer  string `json:"issuer,omitempty"`
	Expires string `json:"expires,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DNSInfo captures resolution diagnostics.
type DNSInfo struct {
	Resolved    bool     `json:"resolved"`
	IPAddresses []string `json:"ipAddresses,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// ValidationResult is the per-unique-URL outcome. One object exists per
// unique input URL for the duration of a run; duplicates are materialized as
// independent copies only at final output assembly.
type ValidationResult struct {
	URL               string   `json:"url"`
	Status            Status   `json:"status"`
	StatusCode        int      `json:"statusCode,omitempty"`
	Message           string   `json:"message,omitempty"`
	ResponseTimeMs    int64    `json:"responseTimeMs"`
	RedirectURL       string   `json:"redirectUrl,omitempty"`
	RedirectCount     int      `json:"redirectCount,omitempty"`
	DomainCategory    string   `json:"domainCategory,omitempty"`
	IsSuspicious      bool     `json:"isSuspicious,omitempty"`
	SuspiciousReasons []string `json:"suspiciousReasons,omitempty"`
	DNS               *DNSInfo `json:"dns,omitempty"`
	SSL               *SSLInfo `json:"ssl,omitempty"`
	SSLWarning        bool     `json:"sslWarning,omitempty"`
	AuthUsed          string   `json:"authUsed,omitempty"`
	Excluded          bool     `json:"excluded,omitempty"`
	ExclusionReason   string   `json:"exclusionReason,omitempty"`
	Kind              URLKind  `json:"kind,omitempty"`
	RetestedBy        string   `json:"retestedBy,omitempty"`
	Timestamp         string   `json:"timestamp"`
}

// clone returns an independent copy, including diagnostic sub-structs, so
// duplicate input positions never share mutable state.
func (r *ValidationResult) clone() *ValidationResult {
	cp := *r
	if r.DNS != nil {
		d := *r.DNS
		d.IPAddresses = append([]string(nil), r.DNS.IPAddresses...)
		cp.DNS = &d
	}
	if r.SSL != nil {
		s := *r.SSL
		cp.SSL = &s
	}
	cp.SuspiciousReasons = append([]string(nil), r.SuspiciousReasons...)
	return &cp
}

// Summary aggregates a finished run.
type Summary struct {
	Total        int            `json:"total"`
	ByStatus     map[Status]int `json:"byStatus"`
	Recovered    int            `json:"recovered"`
	ElapsedMs    int64          `json:"elapsedMs"`
	UniqueURLs   int            `json:"uniqueUrls"`
	AuthProbeOK  bool           `json:"authProbeOk"`
	HeadlessUsed bool           `json:"headlessUsed,omitempty"`
}

// Summarize builds a Summary from an ordered result list. recovered counts
// results that a later stage upgraded into WORKING or REDIRECT.
func Summarize(results []*ValidationResult, elapsed time.Duration, unique int) Summary {
	s := Summary{
		Total:      len(results),
		ByStatus:   make(map[Status]int),
		ElapsedMs:  elapsed.Milliseconds(),
		UniqueURLs: unique,
	}
	for _, r := range results {
		s.ByStatus[r.Status]++
		if r.RetestedBy != "" && (r.Status == StatusWorking || r.Status == StatusRedirect) {
			s.Recovered++
		}
	}
	return s
}
