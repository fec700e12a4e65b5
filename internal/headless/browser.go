// Package headless is the last-resort validation stage: URLs that failed
// both the HTTP pass and the retest escalation get one attempt in a real
// Chrome instance. Heavy JavaScript front-ends, aggressive bot walls, and
// SSO flows that never complete outside a browser all look dead to an HTTP
// client while rendering fine here.
package headless

import (
	"context"
	"log"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/browser"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"

	"github.com/aegisreview/linkflow/internal/linkcheck"
)

// Config tunes the browser stage.
type Config struct {
	Enabled              bool          `json:"enabled"`
	ChromePath           string        `json:"chromePath,omitempty"`
	PageTimeout          time.Duration `json:"-"`
	PageTimeoutSeconds   int           `json:"pageTimeout,omitempty"`
	MaxParallel          int           `json:"maxParallel,omitempty"`
	MaxURLs              int           `json:"maxUrls,omitempty"`
	PreferAuthOverBroken bool          `json:"-"`
}

const (
	defaultPageTimeout = 45 * time.Second
	maxParallelCap     = 5
	maxURLsCap         = 50
	// Gap between sequential navigations; small batches share one tab's
	// pacing instead of fanning out.
	sequentialGap = 300 * time.Millisecond
	// Batches at or below this size run sequentially.
	sequentialThreshold = 3
)

func (c Config) withDefaults() Config {
	if c.PageTimeout <= 0 {
		if c.PageTimeoutSeconds > 0 {
			c.PageTimeout = time.Duration(c.PageTimeoutSeconds) * time.Second
		} else {
			c.PageTimeout = defaultPageTimeout
		}
	}
	if c.MaxParallel <= 0 || c.MaxParallel > maxParallelCap {
		c.MaxParallel = maxParallelCap
	}
	if c.MaxURLs <= 0 || c.MaxURLs > maxURLsCap {
		c.MaxURLs = maxURLsCap
	}
	return c
}

var chromeCandidates = []string{
	"google-chrome",
	"google-chrome-stable",
	"chromium",
	"chromium-browser",
	"chrome",
	"msedge",
}

// FindBrowser locates a usable Chrome/Chromium binary. Returns "" when none
// is installed; the stage is then skipped, never failed.
func FindBrowser(configured string) string {
	if configured != "" {
		if _, err := exec.LookPath(configured); err == nil {
			return configured
		}
		log.Printf("WARN: headless: configured browser %q not found in PATH", configured)
	}
	for _, name := range chromeCandidates {
		if path, err := exec.LookPath(name); err == nil {
			return path
		}
	}
	return ""
}

// Checker drives one Chrome process shared by the whole batch; every URL
// gets its own isolated browser context (cookies, cache, storage).
type Checker struct {
	cfg        Config
	execPath   string
	allocCtx   context.Context
	allocStop  context.CancelFunc
	parentStop context.CancelFunc
}

// NewChecker starts the shared allocator. Returns nil when no browser
// binary is available or the stage is disabled.
func NewChecker(ctx context.Context, cfg Config) *Checker {
	cfg = cfg.withDefaults()
	if !cfg.Enabled {
		return nil
	}
	execPath := FindBrowser(cfg.ChromePath)
	if execPath == "" {
		log.Printf("INFO: headless: no Chrome/Chromium binary found, browser stage disabled")
		return nil
	}

	parentCtx, parentStop := context.WithCancel(ctx)
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(execPath),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("ignore-certificate-errors", true),
	)
	allocCtx, allocStop := chromedp.NewExecAllocator(parentCtx, opts...)
	log.Printf("INFO: headless: browser stage ready (%s)", execPath)
	return &Checker{
		cfg:        cfg,
		execPath:   execPath,
		allocCtx:   allocCtx,
		allocStop:  allocStop,
		parentStop: parentStop,
	}
}

// Close shuts the shared browser process down.
func (c *Checker) Close() {
	if c == nil {
		return
	}
	c.allocStop()
	c.parentStop()
}

// selectCandidates picks which still-failing results are worth a browser
// visit. Internal, government, and military hosts go first; they are the
// ones most likely to hide behind SSO flows an HTTP client cannot finish.
func (c *Checker) selectCandidates(results []*linkcheck.ValidationResult) []*linkcheck.ValidationResult {
	var candidates []*linkcheck.ValidationResult
	for _, res := range results {
		if res.Status.Retestable() {
			candidates = append(candidates, res)
		}
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		pi := linkcheck.IsInternalDomain(hostOf(candidates[i].URL))
		pj := linkcheck.IsInternalDomain(hostOf(candidates[j].URL))
		return pi && !pj
	})
	if len(candidates) > c.cfg.MaxURLs {
		log.Printf("INFO: headless: capping browser candidates at %d of %d", c.cfg.MaxURLs, len(candidates))
		candidates = candidates[:c.cfg.MaxURLs]
	}
	return candidates
}

func hostOf(rawURL string) string {
	lower := strings.ToLower(rawURL)
	lower = strings.TrimPrefix(lower, "https://")
	lower = strings.TrimPrefix(lower, "http://")
	host := strings.SplitN(lower, "/", 2)[0]
	host = strings.SplitN(host, "?", 2)[0]
	if at := strings.LastIndex(host, "@"); at >= 0 {
		host = host[at+1:]
	}
	return strings.SplitN(host, ":", 2)[0]
}

// Run re-checks failed results in the browser, upgrading statuses in place.
// Small batches run sequentially with a polite gap; larger ones fan out over
// a bounded pool. Returns the number of upgraded results.
func (c *Checker) Run(ctx context.Context, outcome *linkcheck.BatchOutcome) int {
	if c == nil {
		return 0
	}
	candidates := c.selectCandidates(outcome.Unique())
	if len(candidates) == 0 {
		return 0
	}
	outcome.Stats.SetPhase("browser")
	log.Printf("INFO: headless: visiting %d URL(s) in the browser", len(candidates))

	var mu sync.Mutex
	upgraded := 0
	apply := func(res *linkcheck.ValidationResult, verdict *pageVerdict) {
		if verdict == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		if c.upgrade(res, verdict, outcome.Stats) {
			upgraded++
		}
	}

	if len(candidates) <= sequentialThreshold {
		for i, res := range candidates {
			if ctx.Err() != nil {
				break
			}
			if i > 0 {
				time.Sleep(sequentialGap)
			}
			apply(res, c.visit(ctx, res.URL))
		}
	} else {
		var wg sync.WaitGroup
		sem := make(chan struct{}, c.cfg.MaxParallel)
		for _, res := range candidates {
			select {
			case <-ctx.Done():
			case sem <- struct{}{}:
				wg.Add(1)
				go func(res *linkcheck.ValidationResult) {
					defer wg.Done()
					defer func() { <-sem }()
					apply(res, c.visit(ctx, res.URL))
				}(res)
			}
		}
		wg.Wait()
	}

	outcome.Stats.SetPhase("browser_done")
	log.Printf("INFO: headless: browser stage recovered %d of %d URL(s)", upgraded, len(candidates))
	return upgraded
}

// upgrade applies a verdict monotonically.
func (c *Checker) upgrade(res *linkcheck.ValidationResult, verdict *pageVerdict, stats *linkcheck.LiveStats) bool {
	if !verdict.status.BetterThan(res.Status) {
		return false
	}
	if verdict.status == linkcheck.StatusAuthRequired && res.Status == linkcheck.StatusBroken && !c.cfg.PreferAuthOverBroken {
		return false
	}
	from := res.Status
	res.Status = verdict.status
	res.Message = verdict.message
	res.RetestedBy = "headless_browser"
	if verdict.statusCode != 0 {
		res.StatusCode = verdict.statusCode
	}
	if verdict.finalURL != "" && verdict.finalURL != res.URL {
		res.RedirectURL = verdict.finalURL
	}
	res.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if stats != nil {
		stats.Reclassify(from, res.Status)
	}
	log.Printf("INFO: headless: %s upgraded %s -> %s", res.URL, from, res.Status)
	return true
}

type pageVerdict struct {
	status     linkcheck.Status
	statusCode int
	message    string
	finalURL   string
}

// stealthScript hides the most common automation tells before any page
// script runs.
const stealthScript = `
Object.defineProperty(navigator, 'webdriver', {get: () => undefined});
window.chrome = window.chrome || { runtime: {} };
Object.defineProperty(navigator, 'languages', {get: () => ['en-US', 'en']});
Object.defineProperty(navigator, 'plugins', {get: () => [1, 2, 3]});
`

// Static assets are dead weight for a reachability verdict.
var blockedResourcePatterns = []string{
	"*.png", "*.jpg", "*.jpeg", "*.gif", "*.svg", "*.webp", "*.ico",
	"*.woff", "*.woff2", "*.ttf", "*.otf",
	"*.mp4", "*.webm", "*.mp3",
}

// visit loads one URL in a fresh browser context and classifies what
// happened. A nil verdict means "no evidence the link is better than the
// HTTP stages concluded".
func (c *Checker) visit(ctx context.Context, rawURL string) *pageVerdict {
	tabCtx, cancel := chromedp.NewContext(c.allocCtx)
	defer cancel()
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, c.cfg.PageTimeout)
	defer timeoutCancel()
	if ctx.Err() != nil {
		return nil
	}

	var mu sync.Mutex
	var mainStatus int64
	var mainURL string
	downloadStarted := false

	chromedp.ListenTarget(tabCtx, func(ev interface{}) {
		switch e := ev.(type) {
		case *network.EventResponseReceived:
			if e.Type == network.ResourceTypeDocument {
				mu.Lock()
				if mainStatus == 0 || e.Response.URL == mainURL {
					mainStatus = e.Response.Status
					mainURL = e.Response.URL
				}
				mu.Unlock()
			}
		case *browser.EventDownloadWillBegin:
			mu.Lock()
			downloadStarted = true
			mu.Unlock()
		}
	})

	var html, finalURL string
	err := chromedp.Run(tabCtx,
		network.Enable(),
		network.SetBlockedURLS(blockedResourcePatterns),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		chromedp.Navigate(rawURL),
		waitDOMContentLoaded(),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)

	mu.Lock()
	status := int(mainStatus)
	download := downloadStarted
	mu.Unlock()

	if download {
		// Chrome cancels the navigation when a download starts; the "error"
		// from Run is expected and the link is alive.
		return &pageVerdict{
			status:  linkcheck.StatusWorking,
			message: "browser visit triggered a file download",
		}
	}
	if err != nil {
		log.Printf("INFO: headless: %s browser visit failed: %v", rawURL, err)
		return nil
	}

	if linkcheck.IsLoginURL(finalURL) {
		return &pageVerdict{
			status:     linkcheck.StatusAuthRequired,
			statusCode: status,
			message:    "browser was redirected to a sign-in page",
			finalURL:   finalURL,
		}
	}

	scan := linkcheck.ScanPage(strings.NewReader(html))
	switch {
	case status == 401 || status == 403:
		return &pageVerdict{
			status:     linkcheck.StatusAuthRequired,
			statusCode: status,
			message:    "server answers the browser but requires authentication",
			finalURL:   finalURL,
		}
	case status >= 400:
		return nil
	case scan.IsLoginPage():
		return &pageVerdict{
			status:     linkcheck.StatusAuthRequired,
			statusCode: status,
			message:    "browser rendered a sign-in form",
			finalURL:   finalURL,
		}
	case scan.IsSoft404():
		return nil
	default:
		verdict := &pageVerdict{
			status:     linkcheck.StatusWorking,
			statusCode: status,
			message:    "page renders in a real browser",
			finalURL:   finalURL,
		}
		if finalURL != "" && finalURL != rawURL && !sameResource(finalURL, rawURL) {
			verdict.status = linkcheck.StatusRedirect
			verdict.message = "reachable in a real browser via redirect"
		}
		return verdict
	}
}

// sameResource ignores trailing-slash and scheme-upgrade differences when
// deciding whether the browser actually went somewhere else.
func sameResource(a, b string) bool {
	normalize := func(s string) string {
		s = strings.TrimSuffix(s, "/")
		s = strings.TrimPrefix(s, "https://")
		s = strings.TrimPrefix(s, "http://")
		return strings.ToLower(s)
	}
	return normalize(a) == normalize(b)
}

func waitDOMContentLoaded() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			var readyState string
			if err := chromedp.Evaluate(`document.readyState`, &readyState).Do(ctx); err != nil {
				return err
			}
			if readyState == "interactive" || readyState == "complete" {
				return nil
			}
			select {
			case <-ticker.C:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}
