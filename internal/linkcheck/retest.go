package linkcheck

import (
	"context"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

// RetestConfig tunes the second-pass escalation stage. The retest pass
// trades throughput for patience: few workers, long timeouts, fresh
// sessions untainted by the first pass's connection pool.
type RetestConfig struct {
	ConnectTimeout       time.Duration `json:"-"`
	ReadTimeout          time.Duration `json:"-"`
	UltraTimeout         time.Duration `json:"-"`
	MaxWorkers           int           `json:"maxWorkers,omitempty"`
	PreferAuthOverBroken bool          `json:"preferAuthOverBroken"`
}

const retestMaxWorkers = 5

func (c RetestConfig) withDefaults() RetestConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 30 * time.Second
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 60 * time.Second
	}
	if c.UltraTimeout <= 0 {
		c.UltraTimeout = 120 * time.Second
	}
	if c.MaxWorkers <= 0 || c.MaxWorkers > retestMaxWorkers {
		c.MaxWorkers = retestMaxWorkers
	}
	return c
}

// Retester re-examines failed first-pass results with slower, more forgiving
// strategies. Upgrades are monotonic: a retest can only ever improve a
// status, never worsen it.
type Retester struct {
	cfg   RetestConfig
	base  SessionConfig
	opts  Options
	auth  *AuthNegotiator
	dns   *DNSChecker
	stats *LiveStats
}

// NewRetester builds the escalation stage for one batch. auth may be nil
// when integrated auth is not configured; dns may be nil.
func NewRetester(cfg RetestConfig, opts Options, auth *AuthNegotiator, dns *DNSChecker) *Retester {
	opts = opts.withDefaults()
	base := sessionFromOptions(opts)
	base.FollowRedirect = true
	if dns == nil {
		dns = NewDNSChecker(nil, 5*time.Second)
	}
	return &Retester{
		cfg:  cfg.withDefaults(),
		base: base,
		opts: opts,
		auth: auth,
		dns:  dns,
	}
}

// retestStrategy is one escalation technique. applies gates the strategy on
// the first-pass failure; run returns the candidate classification.
type retestStrategy struct {
	name    string
	applies func(res *ValidationResult) bool
	run     func(ctx context.Context, rt *Retester, res *ValidationResult) *ValidationResult
}

var retestStrategies = []retestStrategy{
	{
		// Slow servers that blew the first pass's budget respond fine given
		// 30s to connect and 60s to answer.
		name:    "extended_timeout",
		applies: func(*ValidationResult) bool { return true },
		run: func(ctx context.Context, rt *Retester, res *ValidationResult) *ValidationResult {
			cfg := rt.base
			cfg.ConnectTimeout = rt.cfg.ConnectTimeout
			cfg.Timeout = rt.cfg.ReadTimeout
			return rt.probe(ctx, cfg, res.URL)
		},
	},
	{
		name:    "ssl_bypass",
		applies: func(res *ValidationResult) bool { return res.Status == StatusSSLError },
		run: func(ctx context.Context, rt *Retester, res *ValidationResult) *ValidationResult {
			cfg := rt.base
			cfg.ConnectTimeout = rt.cfg.ConnectTimeout
			cfg.Timeout = rt.cfg.ReadTimeout
			cfg.VerifySSL = false
			cand := rt.probe(ctx, cfg, res.URL)
			if cand != nil && (cand.Status == StatusWorking || cand.Status == StatusRedirect) {
				cand.SSLWarning = true
				cand.Message += " (TLS verification bypassed)"
			}
			return cand
		},
	},
	{
		// Some gateways reject anything carrying a client certificate or
		// session fingerprint but serve a pristine anonymous client.
		name: "no_auth",
		applies: func(res *ValidationResult) bool {
			return res.Status == StatusBlocked || res.Status == StatusAuthRequired
		},
		run: func(ctx context.Context, rt *Retester, res *ValidationResult) *ValidationResult {
			cfg := rt.base
			cfg.ConnectTimeout = rt.cfg.ConnectTimeout
			cfg.Timeout = rt.cfg.ReadTimeout
			cfg.ClientCertPath = ""
			cfg.ClientKeyPath = ""
			return rt.probe(ctx, cfg, res.URL)
		},
	},
	{
		name: "fresh_sso",
		applies: func(res *ValidationResult) bool {
			return IsInternalDomain(hostOf(res.URL))
		},
		run: func(ctx context.Context, rt *Retester, res *ValidationResult) *ValidationResult {
			if rt.auth == nil {
				return nil
			}
			outcome := rt.auth.RetryWithFreshAuth(ctx, res.URL)
			cand := &ValidationResult{
				URL:        res.URL,
				Status:     outcome.Status,
				StatusCode: outcome.StatusCode,
				Message:    outcome.Message,
				AuthUsed:   outcome.AuthMethod,
				Timestamp:  time.Now().UTC().Format(time.RFC3339),
			}
			if outcome.Status == StatusRedirect {
				cand.RedirectURL = outcome.FinalURL
				cand.RedirectCount = len(outcome.Hops)
			}
			return cand
		},
	},
	{
		name:    "ultra_timeout",
		applies: func(res *ValidationResult) bool { return res.Status == StatusTimeout },
		run: func(ctx context.Context, rt *Retester, res *ValidationResult) *ValidationResult {
			cfg := rt.base
			cfg.ConnectTimeout = rt.cfg.ConnectTimeout
			cfg.Timeout = rt.cfg.UltraTimeout
			return rt.probe(ctx, cfg, res.URL)
		},
	},
}

// Run re-examines every retestable result in the batch, mutating the unique
// results in place. Returns how many results were upgraded.
func (rt *Retester) Run(ctx context.Context, outcome *BatchOutcome) int {
	rt.stats = outcome.Stats
	var targets []*ValidationResult
	for _, res := range outcome.Unique() {
		if res.Status.Retestable() {
			targets = append(targets, res)
		}
	}
	if len(targets) == 0 {
		return 0
	}
	outcome.Stats.SetPhase("retesting")
	log.Printf("INFO: Retester: re-examining %d failed URL(s) with %d worker(s)", len(targets), rt.cfg.MaxWorkers)

	var wg sync.WaitGroup
	sem := make(chan struct{}, rt.cfg.MaxWorkers)
	var mu sync.Mutex
	upgraded := 0

	for _, res := range targets {
		select {
		case <-ctx.Done():
			wg.Wait()
			return upgraded
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(res *ValidationResult) {
			defer wg.Done()
			defer func() { <-sem }()
			if rt.retestOne(ctx, res) {
				mu.Lock()
				upgraded++
				mu.Unlock()
			}
		}(res)
	}
	wg.Wait()
	outcome.Stats.SetPhase("retested")
	log.Printf("INFO: Retester: recovered %d of %d failed URL(s)", upgraded, len(targets))
	return upgraded
}

// retestOne runs every applicable strategy in order, stopping at the first
// upgrade. On exhaustion the result keeps its status but gains a DNS
// reachability annotation.
func (rt *Retester) retestOne(ctx context.Context, res *ValidationResult) bool {
	for _, strat := range retestStrategies {
		if !strat.applies(res) {
			continue
		}
		cand := strat.run(ctx, rt, res)
		if cand == nil {
			continue
		}
		if rt.applyUpgrade(res, cand, strat.name) {
			return true
		}
	}
	rt.annotateDNS(ctx, res)
	return false
}

// applyUpgrade replaces the first-pass classification when the candidate is
// strictly better. preferAuthOverBroken=false keeps BROKEN verdicts even
// when a retest saw an auth challenge.
func (rt *Retester) applyUpgrade(res *ValidationResult, cand *ValidationResult, strategy string) bool {
	if !cand.Status.BetterThan(res.Status) {
		return false
	}
	if cand.Status == StatusAuthRequired && res.Status == StatusBroken && !rt.cfg.PreferAuthOverBroken {
		return false
	}

	from := res.Status
	res.Status = cand.Status
	res.Message = cand.Message
	res.RetestedBy = strategy
	if cand.StatusCode != 0 {
		res.StatusCode = cand.StatusCode
	}
	if cand.RedirectURL != "" {
		res.RedirectURL = cand.RedirectURL
		res.RedirectCount = cand.RedirectCount
	}
	if cand.AuthUsed != "" {
		res.AuthUsed = cand.AuthUsed
	}
	res.SSLWarning = res.SSLWarning || cand.SSLWarning
	res.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if rt.stats != nil {
		rt.stats.Reclassify(from, res.Status)
	}
	log.Printf("INFO: Retester: %s upgraded %s -> %s via %s", res.URL, from, res.Status, strategy)
	return true
}

// probe issues one patient GET and maps the response onto a candidate
// classification. Kept deliberately simpler than the first-pass validator:
// only outcomes that can justify an upgrade are distinguished.
func (rt *Retester) probe(ctx context.Context, cfg SessionConfig, rawURL string) *ValidationResult {
	client, err := NewSession(cfg)
	if err != nil {
		return nil
	}
	defer client.CloseIdleConnections()

	reqCtx, trace := withRedirectTrace(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", rt.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyScanBytes))
		resp.Body.Close()
	}()

	cand := &ValidationResult{
		URL:        rawURL,
		StatusCode: resp.StatusCode,
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
	}
	finalURL := resp.Request.URL.String()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if IsLoginChain(finalURL, trace.hops) {
			cand.Status = StatusAuthRequired
			cand.Message = "retest reached a sign-in page; credentials required"
			return cand
		}
		scan := ScanPage(decodedBody(resp))
		if scan.IsLoginPage() {
			cand.Status = StatusAuthRequired
			cand.Message = "retest returned a sign-in form"
			return cand
		}
		if len(trace.hops) > 0 {
			cand.Status = StatusRedirect
			cand.RedirectURL = finalURL
			cand.RedirectCount = len(trace.hops)
			cand.Message = "reachable on retest via redirect"
			return cand
		}
		cand.Status = StatusWorking
		cand.Message = "reachable on retest with extended limits"
		return cand

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		cand.Status = StatusRedirect
		cand.RedirectURL = resp.Header.Get("Location")
		cand.RedirectCount = 1
		cand.Message = "reachable on retest; resource redirects"
		return cand

	case resp.StatusCode == http.StatusUnauthorized:
		cand.Status = StatusAuthRequired
		cand.Message = "server answers but requires authentication"
		return cand

	case resp.StatusCode == http.StatusForbidden:
		if resp.ContentLength != 0 {
			cand.Status = StatusAuthRequired
			cand.Message = "server answers with 403 and a content body; likely permission-gated, not dead"
			return cand
		}
		return nil

	default:
		return nil
	}
}

// annotateDNS appends a reachability note when every strategy failed. The
// note separates "host is gone" from "host resolves but the server will not
// talk to us", which reviewers triage very differently.
func (rt *Retester) annotateDNS(ctx context.Context, res *ValidationResult) {
	host := hostOf(res.URL)
	if host == "" {
		return
	}
	info := rt.dns.Lookup(ctx, host)
	if res.DNS == nil {
		d := info
		res.DNS = &d
	}
	if info.Resolved {
		res.Message += "; host resolves in DNS but the server did not answer usefully"
	} else {
		res.Message += "; host does not resolve in DNS"
	}
}
