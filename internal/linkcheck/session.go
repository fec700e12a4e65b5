package linkcheck

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"
)

const maxRedirects = 10

// redirectTrace collects the hops a single request took. It rides in the
// request context so one shared http.Client can trace per-call chains.
type redirectTrace struct {
	hops []string
}

type redirectTraceKey struct{}

func withRedirectTrace(ctx context.Context) (context.Context, *redirectTrace) {
	t := &redirectTrace{}
	return context.WithValue(ctx, redirectTraceKey{}, t), t
}

func traceFromContext(ctx context.Context) *redirectTrace {
	t, _ := ctx.Value(redirectTraceKey{}).(*redirectTrace)
	return t
}

// SessionConfig controls client construction for the shared batch session
// and the isolated fresh-auth sessions.
type SessionConfig struct {
	Timeout         time.Duration
	ConnectTimeout  time.Duration
	VerifySSL       bool
	Proxy           string
	CABundlePath    string
	ClientCertPath  string
	ClientKeyPath   string
	FollowRedirect  bool
	MaxConnsPerHost int
}

// NewSession builds an *http.Client per the config. The returned client is
// safe for concurrent use; only per-request state is per-call.
func NewSession(cfg SessionConfig) (*http.Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.ConnectTimeout <= 0 || cfg.ConnectTimeout >= cfg.Timeout {
		// Connect timeout stays below the read timeout so unreachable hosts
		// fail fast instead of burning the whole budget on dial.
		cfg.ConnectTimeout = cfg.Timeout / 2
		if cfg.ConnectTimeout > 10*time.Second {
			cfg.ConnectTimeout = 10 * time.Second
		}
	}
	if cfg.MaxConnsPerHost <= 0 {
		cfg.MaxConnsPerHost = 10
	}

	tlsCfg := &tls.Config{InsecureSkipVerify: !cfg.VerifySSL} // #nosec G402 -- SSL bypass is an explicit retest strategy
	if cfg.CABundlePath != "" {
		pem, err := os.ReadFile(cfg.CABundlePath)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle '%s': %w", cfg.CABundlePath, err)
		}
		pool, err := x509.SystemCertPool()
		if err != nil {
			pool = x509.NewCertPool()
		}
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("CA bundle '%s' contained no usable certificates", cfg.CABundlePath)
		}
		tlsCfg.RootCAs = pool
	}
	if cfg.ClientCertPath != "" {
		keyPath := cfg.ClientKeyPath
		if keyPath == "" {
			keyPath = cfg.ClientCertPath
		}
		cert, err := tls.LoadX509KeyPair(cfg.ClientCertPath, keyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load client certificate: %w", err)
		}
		tlsCfg.Certificates = []tls.Certificate{cert}
		log.Printf("INFO: Session: client certificate loaded from %s (CAC/PIV authentication enabled)", cfg.ClientCertPath)
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   cfg.ConnectTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       tlsCfg,
		TLSHandshakeTimeout:   10 * time.Second,
		MaxIdleConns:          100,
		MaxConnsPerHost:       cfg.MaxConnsPerHost,
		MaxIdleConnsPerHost:   cfg.MaxConnsPerHost,
		IdleConnTimeout:       90 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	if cfg.Proxy != "" {
		proxyURL, err := url.Parse(cfg.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL '%s': %w", cfg.Proxy, err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	client := &http.Client{
		Timeout:   cfg.Timeout,
		Transport: transport,
	}
	if cfg.FollowRedirect {
		client.CheckRedirect = tracingRedirectPolicy
	} else {
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	}
	return client, nil
}

// tracingRedirectPolicy records each hop into the request's redirectTrace
// and bounds the chain length.
func tracingRedirectPolicy(req *http.Request, via []*http.Request) error {
	if t := traceFromContext(req.Context()); t != nil {
		t.hops = append(t.hops, req.URL.String())
	}
	if len(via) >= maxRedirects {
		return fmt.Errorf("stopped after %d redirects", maxRedirects)
	}
	if req.URL.Scheme != "http" && req.URL.Scheme != "https" {
		return fmt.Errorf("redirect to non-http(s) scheme %q blocked", req.URL.Scheme)
	}
	return nil
}
