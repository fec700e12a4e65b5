package linkcheck

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"strings"
	"syscall"
	"time"

	"golang.org/x/net/html/charset"
)

const maxBodyScanBytes = 512 * 1024

// Validator performs one URL's HTTP validation: HEAD-then-GET fallback,
// status-code interpretation, redirect/login-page/soft-404 classification,
// and SSL/DNS diagnostics. It never returns an error; every failure mode is
// captured as a status on the result.
type Validator struct {
	opts    Options
	mode    Mode
	client  *http.Client
	session SessionConfig
	auth    *AuthNegotiator
	excl    *ExclusionMatcher
	dns     *DNSChecker

	// sleep is swappable so tests can observe backoff without waiting.
	sleep func(time.Duration)
}

// NewValidator wires a validator to the batch's shared session. auth may be
// nil (no integrated-auth retries); excl may be nil (no exclusions).
func NewValidator(opts Options, mode Mode, client *http.Client, session SessionConfig, auth *AuthNegotiator, excl *ExclusionMatcher, dns *DNSChecker) *Validator {
	v := &Validator{
		opts:    opts.withDefaults(),
		mode:    mode,
		client:  client,
		session: session,
		auth:    auth,
		excl:    excl,
		dns:     dns,
		sleep:   time.Sleep,
	}
	if v.dns == nil {
		v.dns = NewDNSChecker(nil, 5*time.Second)
	}
	return v
}

// CheckURL produces exactly one ValidationResult for one raw URL.
func (v *Validator) CheckURL(ctx context.Context, rawURL string) *ValidationResult {
	res := &ValidationResult{
		URL:       rawURL,
		Status:    StatusUnknown,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	start := time.Now()
	defer func() {
		if res.ResponseTimeMs == 0 {
			res.ResponseTimeMs = time.Since(start).Milliseconds()
		}
	}()

	c := Classify(rawURL)
	res.Kind = c.Kind

	switch c.Kind {
	case KindInvalid:
		res.Status = StatusInvalid
		res.Message = c.Problem
		return res
	case KindMailto:
		res.Status = StatusWorking
		res.Message = "mailto address is well-formed"
		return res
	case KindFilePath:
		res.Status = StatusSkipped
		res.Message = "local file path; not verifiable over HTTP"
		return res
	case KindUNCPath:
		res.Status = StatusSkipped
		res.Message = "UNC network path; not verifiable over HTTP"
		return res
	case KindInternalRef:
		res.Status = StatusSkipped
		res.Message = "internal cross-reference; resolved against the document, not the network"
		return res
	}

	res.DomainCategory = DomainCategory(c.Host)

	if v.excl != nil && v.excl.Apply(res) {
		return res
	}

	if v.mode == ModeOffline {
		res.Status = StatusWorking
		res.Message = "URL syntax is valid (offline mode, not checked against the network)"
		return res
	}

	v.checkHTTP(ctx, c, res)
	v.finish(ctx, c, res)
	return res
}

// finish runs the thorough-mode extras on working links and the suspicious
// screening annotation.
func (v *Validator) finish(ctx context.Context, c ClassifiedURL, res *ValidationResult) {
	if res.Status == StatusWorking {
		if *v.opts.CheckDNS && res.DNS == nil {
			info := v.dns.Lookup(ctx, c.Host)
			res.DNS = &info
		}
		if *v.opts.CheckSSL && res.SSL == nil {
			res.SSL = InspectCertificate(ctx, c.Normalized, v.opts.Timeout)
		}
	}
	if *v.opts.CheckSuspicious {
		if u, err := url.Parse(c.Normalized); err == nil {
			screenSuspicious(res, u)
		}
	}
}

type netErrKind int

const (
	errOther netErrKind = iota
	errDNS
	errTimeout
	errRefused
	errSSL
)

func classifyNetErr(err error) netErrKind {
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return errDNS
	}
	var certVerifyErr *tls.CertificateVerificationError
	var unknownAuth x509.UnknownAuthorityError
	var hostnameErr x509.HostnameError
	var certInvalid x509.CertificateInvalidError
	var recordHdr tls.RecordHeaderError
	if errors.As(err, &certVerifyErr) || errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) || errors.As(err, &certInvalid) || errors.As(err, &recordHdr) {
		return errSSL
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return errRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errTimeout
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "x509:") || strings.Contains(msg, "tls:") || strings.Contains(msg, "certificate"):
		return errSSL
	case strings.Contains(msg, "connection refused") || strings.Contains(msg, "connection reset") || strings.Contains(msg, "forcibly closed"):
		return errRefused
	case strings.Contains(msg, "no such host"):
		return errDNS
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return errTimeout
	}
	return errOther
}

// backoff implements wait = 2^attempt seconds + jitter(0, 100ms), attempt
// index 0-based. Jitter never changes the final status, only the spacing.
func backoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt))*time.Second + time.Duration(rand.Int63n(int64(100*time.Millisecond)))
}

func isHeadBlockingCode(code int) bool {
	switch code {
	case http.StatusNotFound, http.StatusMethodNotAllowed, http.StatusForbidden, http.StatusNotImplemented:
		return true
	}
	return false
}

// checkHTTP drives the attempt loop: HEAD first unless HEAD is already known
// blocked for this URL, up to retries+1 attempts with exponential backoff.
func (v *Validator) checkHTTP(ctx context.Context, c ClassifiedURL, res *ValidationResult) {
	attempts := v.opts.Retries + 1
	headBlocked := false

	lastStatus := StatusBroken
	lastMessage := "no response received"

	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				res.Status = lastStatus
				res.Message = lastMessage + " (run cancelled before retry)"
				return
			default:
			}
			v.sleep(backoff(attempt - 1))
		}

		method := http.MethodHead
		if headBlocked {
			method = http.MethodGet
		}

		for {
			resp, hops, reqStart, err := v.do(ctx, c.Normalized, method)
			if err != nil {
				switch classifyNetErr(err) {
				case errSSL:
					// One retry without verification; SSLERROR is terminal
					// either way, no further attempts.
					v.retrySSLBypass(ctx, c, res, err)
					return
				case errDNS:
					lastStatus = StatusDNSFailed
					lastMessage = "DNS resolution failed: " + err.Error()
				case errTimeout:
					lastStatus = StatusTimeout
					lastMessage = fmt.Sprintf("request timed out after %s", v.opts.Timeout)
				case errRefused:
					lastStatus = StatusBlocked
					lastMessage = "connection refused or reset by host"
				default:
					if method == http.MethodHead && !headBlocked {
						// HEAD connection errors are often middleboxes that
						// only speak GET; switch method within this attempt.
						headBlocked = true
						method = http.MethodGet
						continue
					}
					lastStatus = StatusBroken
					lastMessage = "connection error: " + err.Error()
				}
				break // next attempt
			}

			res.ResponseTimeMs = time.Since(reqStart).Milliseconds()
			res.StatusCode = resp.StatusCode

			if method == http.MethodHead && isHeadBlockingCode(resp.StatusCode) && !headBlocked {
				drain(resp)
				headBlocked = true
				method = http.MethodGet
				continue
			}

			done, retryStatus, retryMessage := v.interpret(ctx, resp, hops, method, res)
			if done {
				return
			}
			lastStatus = retryStatus
			lastMessage = retryMessage
			break // next attempt
		}
	}

	// Retries exhausted. DNS failures on internal domains are downgraded:
	// the hostname simply doesn't resolve off the corporate network, which
	// says nothing about whether the link is dead.
	if lastStatus == StatusDNSFailed && IsInternalDomain(c.Host) {
		res.Status = StatusAuthRequired
		res.Message = "hostname only resolves on an internal network (VPN or intranet access required)"
		return
	}
	res.Status = lastStatus
	res.Message = lastMessage
}

// do issues one request on the shared session with a per-call redirect trace.
func (v *Validator) do(ctx context.Context, target, method string) (*http.Response, []string, time.Time, error) {
	reqCtx, trace := withRedirectTrace(ctx)
	req, err := http.NewRequestWithContext(reqCtx, method, target, nil)
	if err != nil {
		return nil, nil, time.Now(), err
	}
	req.Header.Set("User-Agent", v.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	start := time.Now()
	resp, err := v.client.Do(req)
	if err != nil {
		return nil, trace.hops, start, err
	}
	return resp, trace.hops, start, nil
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyScanBytes))
	resp.Body.Close()
}

// interpret applies the status-code table. It returns done=true when the
// result is terminal for this URL, or done=false with the status/message to
// record if this turns out to be the final attempt.
func (v *Validator) interpret(ctx context.Context, resp *http.Response, hops []string, method string, res *ValidationResult) (done bool, retryStatus Status, retryMessage string) {
	defer drain(resp)
	code := resp.StatusCode
	finalURL := resp.Request.URL.String()

	switch {
	case code >= 200 && code < 300:
		if len(hops) > 0 {
			v.classifyRedirectLanding(ctx, resp, hops, finalURL, res)
			return true, res.Status, res.Message
		}
		v.classifySuccess(ctx, resp, method, res)
		return true, res.Status, res.Message

	case code >= 300 && code < 400:
		// Redirects surface raw only when follow_redirects is off.
		location := resp.Header.Get("Location")
		res.RedirectURL = location
		res.RedirectCount = 1
		if IsLoginChain(location, hops) {
			res.Status = StatusAuthRequired
			res.Message = "redirects to a sign-in page; credentials required"
		} else {
			res.Status = StatusRedirect
			res.Message = fmt.Sprintf("HTTP %d redirect to %s", code, location)
		}
		return true, res.Status, res.Message

	case code == http.StatusUnauthorized:
		v.handleAuthChallenge(ctx, res, "401 challenge")
		return true, res.Status, res.Message

	case code == http.StatusForbidden:
		if resp.Header.Get("WWW-Authenticate") != "" {
			v.handleAuthChallenge(ctx, res, "403 with WWW-Authenticate challenge")
		} else {
			v.handleForbiddenNoChallenge(ctx, res)
		}
		return true, res.Status, res.Message

	case code == http.StatusNotFound:
		res.Status = StatusBroken
		res.Message = "HTTP 404 Not Found"
		return true, res.Status, res.Message

	case code == http.StatusMethodNotAllowed:
		// Only reachable with method GET; HEAD 405 flips to GET earlier.
		res.Status = StatusWorking
		res.Message = "resource exists but the server blocks status checks (HTTP 405)"
		return true, res.Status, res.Message

	case code == http.StatusTooManyRequests:
		res.Status = StatusRateLimited
		res.Message = "server is rate limiting automated checks (HTTP 429); link not necessarily broken"
		return true, res.Status, res.Message

	case code >= 400 && code < 500:
		res.Status = StatusBroken
		res.Message = fmt.Sprintf("HTTP %d %s", code, http.StatusText(code))
		return true, res.Status, res.Message

	default: // 5xx and anything exotic: retry until attempts exhaust
		return false, StatusBroken, fmt.Sprintf("HTTP %d %s after retries", code, http.StatusText(code))
	}
}

// classifyRedirectLanding handles a followed redirect chain that ended 2xx.
func (v *Validator) classifyRedirectLanding(ctx context.Context, resp *http.Response, hops []string, finalURL string, res *ValidationResult) {
	res.RedirectURL = finalURL
	res.RedirectCount = len(hops)
	if IsLoginChain(finalURL, hops) {
		res.Status = StatusAuthRequired
		res.Message = "redirected to a sign-in page instead of the requested resource"
		v.tryAuthUpgrade(ctx, res)
		return
	}
	scan := ScanPage(decodedBody(resp))
	if scan.IsLoginPage() {
		res.Status = StatusAuthRequired
		res.Message = "redirect landed on a page with a sign-in form"
		v.tryAuthUpgrade(ctx, res)
		return
	}
	res.Status = StatusRedirect
	res.Message = fmt.Sprintf("redirects (%d hop(s)) to %s", len(hops), finalURL)
}

// classifySuccess handles a direct 2xx: download detection, then login-page
// and soft-404 content heuristics.
func (v *Validator) classifySuccess(ctx context.Context, resp *http.Response, method string, res *ValidationResult) {
	contentType := resp.Header.Get("Content-Type")
	if looksLikeDownload(contentType, resp.Header.Get("Content-Disposition")) {
		res.Status = StatusWorking
		res.Message = "file download (" + strings.SplitN(contentType, ";", 2)[0] + ")"
		return
	}

	var scan PageScan
	haveBody := method == http.MethodGet
	if haveBody {
		scan = ScanPage(decodedBody(resp))
	} else if strings.HasPrefix(strings.ToLower(contentType), "text/html") {
		// HEAD carries no body; fetch it once for the content heuristics.
		if followUp, _, _, err := v.do(ctx, resp.Request.URL.String(), http.MethodGet); err == nil {
			scan = ScanPage(decodedBody(followUp))
			drain(followUp)
			haveBody = true
		}
	}

	if haveBody && scan.IsLoginPage() {
		res.Status = StatusAuthRequired
		res.Message = "page content is a sign-in form, not the requested resource"
		v.tryAuthUpgrade(ctx, res)
		return
	}
	if haveBody && *v.opts.DetectSoft404 && scan.IsSoft404() {
		res.Status = StatusBroken
		res.Message = fmt.Sprintf("soft 404: server said 200 but the page reports %q", firstNonEmpty(scan.Soft404Phrase, scan.Title))
		return
	}
	res.Status = StatusWorking
	res.Message = "page OK"
}

// handleAuthChallenge runs the fresh-session integrated-auth retry for 401s
// and challenge-bearing 403s.
func (v *Validator) handleAuthChallenge(ctx context.Context, res *ValidationResult, cause string) {
	if v.auth == nil {
		res.Status = StatusAuthRequired
		res.Message = "authentication required (" + cause + "); integrated auth not configured"
		return
	}
	outcome := v.auth.RetryWithFreshAuth(ctx, res.URL)
	res.Status = outcome.Status
	res.Message = outcome.Message
	res.AuthUsed = outcome.AuthMethod
	if outcome.StatusCode != 0 {
		res.StatusCode = outcome.StatusCode
	}
	if outcome.Status == StatusRedirect {
		res.RedirectURL = outcome.FinalURL
		res.RedirectCount = len(outcome.Hops)
	}
}

// handleForbiddenNoChallenge probes a challenge-less 403 once with a fresh
// anonymous session; some servers reject the shared session's fingerprint
// but serve a clean client fine.
func (v *Validator) handleForbiddenNoChallenge(ctx context.Context, res *ValidationResult) {
	probeCfg := v.session
	probeCfg.FollowRedirect = true
	client, err := NewSession(probeCfg)
	if err == nil {
		defer client.CloseIdleConnections()
		reqCtx, trace := withRedirectTrace(ctx)
		req, reqErr := http.NewRequestWithContext(reqCtx, http.MethodGet, res.URL, nil)
		if reqErr == nil {
			req.Header.Set("User-Agent", v.opts.UserAgent)
			if resp, doErr := client.Do(req); doErr == nil {
				defer drain(resp)
				if resp.StatusCode >= 200 && resp.StatusCode < 300 && !IsLoginChain(resp.Request.URL.String(), trace.hops) {
					res.Status = StatusWorking
					res.StatusCode = resp.StatusCode
					res.Message = "accessible without credentials (initial 403 was session-specific)"
					return
				}
			}
		}
	}
	res.Status = StatusAuthRequired
	res.Message = "authenticated but insufficient permissions (HTTP 403)"
}

// tryAuthUpgrade attempts the integrated-auth retry after login-page
// detection; success replaces AUTH_REQUIRED with the authenticated outcome.
func (v *Validator) tryAuthUpgrade(ctx context.Context, res *ValidationResult) {
	if v.auth == nil {
		return
	}
	outcome := v.auth.RetryWithFreshAuth(ctx, res.URL)
	if outcome.Status == StatusWorking || outcome.Status == StatusRedirect {
		res.Status = outcome.Status
		res.Message = outcome.Message
		res.AuthUsed = outcome.AuthMethod
		if outcome.StatusCode != 0 {
			res.StatusCode = outcome.StatusCode
		}
	}
}

// retrySSLBypass retries a TLS-failed URL once without verification.
// Success is WORKING with an SSL warning; failure is SSLERROR, terminal.
func (v *Validator) retrySSLBypass(ctx context.Context, c ClassifiedURL, res *ValidationResult, tlsErr error) {
	log.Printf("WARN: Validator: TLS failure for %s, retrying once without verification: %v", c.Host, tlsErr)
	bypassCfg := v.session
	bypassCfg.VerifySSL = false
	client, err := NewSession(bypassCfg)
	if err != nil {
		res.Status = StatusSSLError
		res.Message = "SSL/TLS error: " + tlsErr.Error()
		return
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.Normalized, nil)
	if err != nil {
		res.Status = StatusSSLError
		res.Message = "SSL/TLS error: " + tlsErr.Error()
		return
	}
	req.Header.Set("User-Agent", v.opts.UserAgent)

	resp, err := client.Do(req)
	if err != nil {
		res.Status = StatusSSLError
		res.Message = "SSL/TLS error: " + tlsErr.Error()
		return
	}
	defer drain(resp)

	if resp.StatusCode < 400 {
		res.Status = StatusWorking
		res.StatusCode = resp.StatusCode
		res.SSLWarning = true
		res.Message = "reachable, but the TLS certificate failed validation: " + tlsErr.Error()
		if res.SSL == nil {
			res.SSL = &SSLInfo{Valid: false, Error: tlsErr.Error()}
		}
		return
	}
	res.Status = StatusSSLError
	res.StatusCode = resp.StatusCode
	res.Message = "SSL/TLS error: " + tlsErr.Error()
}

// decodedBody wraps a response body with charset decoding, bounded to the
// scan limit.
func decodedBody(resp *http.Response) io.Reader {
	limited := io.LimitReader(resp.Body, maxBodyScanBytes)
	decoded, err := charset.NewReader(limited, resp.Header.Get("Content-Type"))
	if err != nil {
		return limited
	}
	return decoded
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
