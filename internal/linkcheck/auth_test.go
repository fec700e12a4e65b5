package linkcheck

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestSelectAuthProvider(t *testing.T) {
	if got := SelectAuthProvider(Credentials{Domain: "CORP", Username: "svc"}).Name(); got != "NTLM" {
		t.Errorf("domain credentials: provider = %s, want NTLM", got)
	}
	if got := SelectAuthProvider(Credentials{Username: "svc@corp.example.com"}).Name(); got != "Negotiate" {
		t.Errorf("UPN credentials: provider = %s, want Negotiate", got)
	}
}

func TestQualifiedUser(t *testing.T) {
	cases := []struct {
		creds Credentials
		want  string
	}{
		{Credentials{Domain: "CORP", Username: "svc"}, `CORP\svc`},
		{Credentials{Domain: "CORP", Username: `OTHER\svc`}, `OTHER\svc`},
		{Credentials{Username: "svc"}, "svc"},
	}
	for _, tc := range cases {
		if got := tc.creds.qualifiedUser(); got != tc.want {
			t.Errorf("qualifiedUser(%+v) = %q, want %q", tc.creds, got, tc.want)
		}
	}
}

func TestRetryWithFreshAuthSuccess(t *testing.T) {
	// The negotiating transport opens every exchange anonymously and only
	// answers a 401 challenge on the next round trip, so the mock must issue
	// a proper WWW-Authenticate header instead of rejecting outright.
	creds := Credentials{Domain: "CORP", Username: "svc-review", Password: "secret"}
	var mu sync.Mutex
	requests := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		requests++
		mu.Unlock()
		user, pass, ok := r.BasicAuth()
		if !ok || user != `CORP\svc-review` || pass != "secret" {
			w.Header().Set("WWW-Authenticate", `Basic realm="intranet"`)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"doc":"ok"}`)
	}))
	defer srv.Close()

	an := NewAuthNegotiator(SelectAuthProvider(creds), creds, SessionConfig{Timeout: 5 * time.Second})
	outcome := an.RetryWithFreshAuth(context.Background(), srv.URL)
	if outcome.Status != StatusWorking {
		t.Fatalf("Status = %s (%s), want WORKING", outcome.Status, outcome.Message)
	}
	if outcome.AuthMethod != "NTLM" {
		t.Errorf("AuthMethod = %q", outcome.AuthMethod)
	}
	if outcome.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d", outcome.StatusCode)
	}
	mu.Lock()
	defer mu.Unlock()
	if requests < 2 {
		t.Errorf("server saw %d request(s), want the anonymous open plus the authorized reply", requests)
	}
}

func TestRetryWithFreshAuthCredentialsRejected(t *testing.T) {
	creds := Credentials{Domain: "CORP", Username: "svc-review", Password: "expired"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Basic realm="intranet"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	an := NewAuthNegotiator(SelectAuthProvider(creds), creds, SessionConfig{Timeout: 5 * time.Second})
	outcome := an.RetryWithFreshAuth(context.Background(), srv.URL)
	if outcome.Status != StatusAuthRequired {
		t.Fatalf("Status = %s, want AUTH_REQUIRED", outcome.Status)
	}
	if outcome.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d", outcome.StatusCode)
	}
}

func TestRetryWithFreshAuthInsufficientPermissions(t *testing.T) {
	creds := Credentials{Domain: "CORP", Username: "svc-review", Password: "wrong"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	an := NewAuthNegotiator(SelectAuthProvider(creds), creds, SessionConfig{Timeout: 5 * time.Second})
	outcome := an.RetryWithFreshAuth(context.Background(), srv.URL)
	if outcome.Status != StatusAuthRequired {
		t.Fatalf("Status = %s, want AUTH_REQUIRED", outcome.Status)
	}
}

func TestRetryWithFreshAuthLoginFormDoesNotCount(t *testing.T) {
	creds := Credentials{Username: "svc"}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, `<html><head><title>Sign In</title></head><body>
			<p>Sign in to continue</p>
			<form><input type="password" name="pw"></form></body></html>`)
	}))
	defer srv.Close()

	an := NewAuthNegotiator(SelectAuthProvider(creds), creds, SessionConfig{Timeout: 5 * time.Second})
	outcome := an.RetryWithFreshAuth(context.Background(), srv.URL)
	if outcome.Status != StatusAuthRequired {
		t.Fatalf("Status = %s, a sign-in form must not count as authenticated", outcome.Status)
	}
}

func TestProbeSkipsWithoutInternalCandidates(t *testing.T) {
	creds := Credentials{Username: "svc"}
	an := NewAuthNegotiator(SelectAuthProvider(creds), creds, SessionConfig{Timeout: time.Second})
	if an.ProbeWindowsAuth(context.Background(), []string{"https://example.com/a", "https://example.org/b"}) {
		t.Fatal("probe should not succeed with no internal-domain candidates")
	}
	ran, ok := an.ProbeResult()
	if !ran || ok {
		t.Errorf("ProbeResult = (%v, %v), want (true, false)", ran, ok)
	}
}
