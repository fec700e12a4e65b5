package linkcheck

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSessionHonorsFollowRedirectOff(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/new", http.StatusMovedPermanently)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewSession(SessionConfig{Timeout: 5 * time.Second, FollowRedirect: false})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer client.CloseIdleConnections()

	resp, err := client.Get(srv.URL + "/old")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMovedPermanently {
		t.Errorf("status = %d, redirect should not be followed", resp.StatusCode)
	}
	if loc := resp.Header.Get("Location"); loc != "/new" {
		t.Errorf("Location = %q", loc)
	}
}

func TestSessionRedirectTraceRecordsHops(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusFound)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/c", http.StatusFound)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := NewSession(SessionConfig{Timeout: 5 * time.Second, FollowRedirect: true})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer client.CloseIdleConnections()

	ctx, trace := withRedirectTrace(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/a", nil)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if len(trace.hops) != 2 {
		t.Fatalf("recorded %d hop(s), want 2: %v", len(trace.hops), trace.hops)
	}
	if resp.Request.URL.Path != "/c" {
		t.Errorf("final path = %q", resp.Request.URL.Path)
	}
}

func TestSessionInsecureTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	strict, err := NewSession(SessionConfig{Timeout: 5 * time.Second, VerifySSL: true})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer strict.CloseIdleConnections()
	if _, err := strict.Get(srv.URL); err == nil {
		t.Error("verifying client should reject a self-signed certificate")
	}

	insecure, err := NewSession(SessionConfig{Timeout: 5 * time.Second, VerifySSL: false})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	defer insecure.CloseIdleConnections()
	resp, err := insecure.Get(srv.URL)
	if err != nil {
		t.Fatalf("insecure Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
