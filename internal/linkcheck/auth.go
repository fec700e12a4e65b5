package linkcheck

import (
	"context"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/Azure/go-ntlmssp"
)

// Credentials holds the integrated-auth identity used for fresh-session
// retries. Empty credentials still allow the negotiation attempt; many
// intranet hosts accept anonymous NTLM for read access.
type Credentials struct {
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	Domain   string `json:"domain,omitempty"`
}

func (c Credentials) qualifiedUser() string {
	if c.Domain != "" && !strings.Contains(c.Username, `\`) {
		return c.Domain + `\` + c.Username
	}
	return c.Username
}

// AuthProvider builds isolated HTTP clients that speak one flavor of
// Windows-integrated authentication. NTLM and Negotiate are connection
// scoped multi-round-trip handshakes, so a provider client must never be
// shared with the batch session. The wrapped transport opens each exchange
// anonymously and answers the server's challenge (Negotiate, NTLM, or plain
// Basic) with the credentials staged by Authorize.
type AuthProvider interface {
	Name() string
	NewClient(cfg SessionConfig) (*http.Client, error)
	Authorize(req *http.Request, creds Credentials)
}

// negotiateProvider answers Negotiate challenges (falling back to NTLM
// payloads, which Negotiate-speaking IIS/SharePoint endpoints accept).
type negotiateProvider struct{}

func (negotiateProvider) Name() string { return "Negotiate" }

func (negotiateProvider) NewClient(cfg SessionConfig) (*http.Client, error) {
	client, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	client.Transport = ntlmssp.Negotiator{RoundTripper: client.Transport}
	return client, nil
}

func (negotiateProvider) Authorize(req *http.Request, creds Credentials) {
	if creds.Username != "" {
		req.SetBasicAuth(creds.qualifiedUser(), creds.Password)
	}
}

// ntlmProvider is the pure-NTLM variant for servers that advertise only the
// NTLM scheme.
type ntlmProvider struct{}

func (ntlmProvider) Name() string { return "NTLM" }

func (ntlmProvider) NewClient(cfg SessionConfig) (*http.Client, error) {
	client, err := NewSession(cfg)
	if err != nil {
		return nil, err
	}
	client.Transport = ntlmssp.Negotiator{RoundTripper: client.Transport}
	return client, nil
}

func (ntlmProvider) Authorize(req *http.Request, creds Credentials) {
	req.SetBasicAuth(creds.qualifiedUser(), creds.Password)
}

// SelectAuthProvider picks the provider variant at startup. Domain-qualified
// credentials indicate a classic NTLM deployment; everything else goes
// through Negotiate.
func SelectAuthProvider(creds Credentials) AuthProvider {
	if creds.Domain != "" {
		return ntlmProvider{}
	}
	return negotiateProvider{}
}

// AuthRetryOutcome is what a fresh-session retry concluded.
type AuthRetryOutcome struct {
	Status     Status
	StatusCode int
	Message    string
	FinalURL   string
	Hops       []string
	AuthMethod string
}

// AuthNegotiator probes integrated-auth viability for a batch and performs
// isolated fresh-session retries for 401/403 responses.
type AuthNegotiator struct {
	provider AuthProvider
	creds    Credentials
	session  SessionConfig

	probeRan bool
	probeOK  bool
}

const maxProbeCandidates = 6

// NewAuthNegotiator wires a provider to the run's session settings. The
// session config is copied; fresh sessions always follow redirects because
// login-page detection needs the final landing URL.
func NewAuthNegotiator(provider AuthProvider, creds Credentials, session SessionConfig) *AuthNegotiator {
	session.FollowRedirect = true
	return &AuthNegotiator{provider: provider, creds: creds, session: session}
}

// ProbeResult reports whether the startup probe found integrated auth
// functional. Diagnostic only: per-URL retries are attempted regardless.
func (an *AuthNegotiator) ProbeResult() (ran, ok bool) { return an.probeRan, an.probeOK }

// ProbeWindowsAuth selects up to six candidate URLs on internal/corporate
// domains and attempts a fresh authenticated GET against each. A candidate
// that lands on a login page does not count as success.
func (an *AuthNegotiator) ProbeWindowsAuth(ctx context.Context, urls []string) bool {
	an.probeRan = true
	var candidates []string
	seen := make(map[string]struct{})
	for _, raw := range urls {
		host := hostOf(raw)
		if host == "" || !IsInternalDomain(host) {
			continue
		}
		if _, dup := seen[host]; dup {
			continue
		}
		seen[host] = struct{}{}
		candidates = append(candidates, raw)
		if len(candidates) == maxProbeCandidates {
			break
		}
	}
	if len(candidates) == 0 {
		log.Printf("INFO: AuthNegotiator: no internal-domain candidates in batch, skipping Windows auth probe")
		return false
	}

	log.Printf("INFO: AuthNegotiator: probing Windows integrated auth (%s) against %d candidate(s)", an.provider.Name(), len(candidates))
	for _, candidate := range candidates {
		outcome := an.RetryWithFreshAuth(ctx, candidate)
		if outcome.Status == StatusWorking || outcome.Status == StatusRedirect {
			log.Printf("INFO: AuthNegotiator: probe succeeded via %s against %s", an.provider.Name(), hostOf(candidate))
			an.probeOK = true
			return true
		}
	}
	log.Printf("WARN: AuthNegotiator: Windows auth probe failed for all %d candidate(s); 401/403 retries will still be attempted per URL", len(candidates))
	return false
}

// RetryWithFreshAuth builds a brand-new session with integrated auth and
// issues a GET (never HEAD; the handshake needs a full request). The shared
// batch session is never reused here: the NTLM/Negotiate handshake is
// connection-scoped and concurrent reuse corrupts it.
func (an *AuthNegotiator) RetryWithFreshAuth(ctx context.Context, rawURL string) AuthRetryOutcome {
	outcome := AuthRetryOutcome{Status: StatusAuthRequired, AuthMethod: an.provider.Name()}

	client, err := an.provider.NewClient(an.session)
	if err != nil {
		outcome.Message = "failed to build fresh auth session: " + err.Error()
		return outcome
	}
	defer client.CloseIdleConnections()

	reqCtx, trace := withRedirectTrace(ctx)
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		outcome.Message = "failed to build auth retry request: " + err.Error()
		return outcome
	}
	req.Header.Set("User-Agent", defaultUserAgent)
	an.provider.Authorize(req, an.creds)

	resp, err := client.Do(req)
	if err != nil {
		outcome.Message = "fresh-session auth attempt failed: " + err.Error()
		return outcome
	}
	defer func() {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		resp.Body.Close()
	}()

	outcome.StatusCode = resp.StatusCode
	outcome.FinalURL = resp.Request.URL.String()
	outcome.Hops = trace.hops

	if IsLoginChain(outcome.FinalURL, trace.hops) {
		outcome.Message = "authentication redirected to a sign-in page; credentials required"
		return outcome
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		scan := ScanPage(io.LimitReader(resp.Body, maxBodyScanBytes))
		if scan.IsLoginPage() {
			outcome.Message = "server returned a sign-in form; credentials required"
			return outcome
		}
		outcome.Status = StatusWorking
		outcome.Message = "authenticated with Windows SSO (" + an.provider.Name() + ")"
	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		outcome.Status = StatusRedirect
		outcome.Message = "authenticated; resource redirects"
	case resp.StatusCode == http.StatusForbidden:
		outcome.Message = "authenticated but insufficient permissions"
	case resp.StatusCode == http.StatusUnauthorized:
		outcome.Message = "credentials rejected by server"
	default:
		outcome.Message = "auth retry returned HTTP " + http.StatusText(resp.StatusCode)
	}
	return outcome
}
