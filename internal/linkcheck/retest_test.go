package linkcheck

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func retestOutcome(results ...*ValidationResult) *BatchOutcome {
	indexOf := make([]int, len(results))
	for i := range indexOf {
		indexOf[i] = i
	}
	out := &BatchOutcome{
		Stats:   NewLiveStats(len(results)),
		unique:  results,
		indexOf: indexOf,
	}
	for _, res := range results {
		out.Stats.Record(res)
	}
	return out
}

func TestRetestRecoversTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	res := &ValidationResult{URL: srv.URL, Status: StatusTimeout, Message: "request timed out after 1s"}
	outcome := retestOutcome(res)
	rt := NewRetester(RetestConfig{PreferAuthOverBroken: true}, Options{Timeout: 5 * time.Second}, nil, nil)

	if upgraded := rt.Run(context.Background(), outcome); upgraded != 1 {
		t.Fatalf("upgraded = %d, want 1", upgraded)
	}
	if res.Status != StatusWorking {
		t.Fatalf("Status = %s (%s), want WORKING", res.Status, res.Message)
	}
	if res.RetestedBy != "extended_timeout" {
		t.Errorf("RetestedBy = %q", res.RetestedBy)
	}
	snap := outcome.Stats.Snapshot()
	if snap.ByStatus[StatusTimeout] != 0 || snap.ByStatus[StatusWorking] != 1 {
		t.Errorf("stats not reclassified: %+v", snap.ByStatus)
	}
}

func TestRetestNeverDowngrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	res := &ValidationResult{URL: srv.URL, Status: StatusTimeout, Message: "request timed out after 1s"}
	outcome := retestOutcome(res)
	rt := NewRetester(RetestConfig{PreferAuthOverBroken: true}, Options{Timeout: 5 * time.Second}, nil, nil)

	if upgraded := rt.Run(context.Background(), outcome); upgraded != 0 {
		t.Fatalf("upgraded = %d, want 0", upgraded)
	}
	if res.Status != StatusTimeout {
		t.Errorf("Status = %s, a retest must never worsen a result", res.Status)
	}
}

func TestRetestSkipsNonRetestable(t *testing.T) {
	working := &ValidationResult{URL: "https://a.example.com/ok", Status: StatusWorking, Message: "page OK"}
	skipped := &ValidationResult{URL: `\\server\share`, Status: StatusSkipped}
	outcome := retestOutcome(working, skipped)
	rt := NewRetester(RetestConfig{}, Options{Timeout: time.Second}, nil, nil)

	if upgraded := rt.Run(context.Background(), outcome); upgraded != 0 {
		t.Fatalf("upgraded = %d, want 0", upgraded)
	}
	if working.Message != "page OK" {
		t.Errorf("non-retestable result was touched: %q", working.Message)
	}
}

func TestRetestAuthOverBrokenGate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("WWW-Authenticate", `Basic realm="docs"`)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	strict := &ValidationResult{URL: srv.URL, Status: StatusBroken, Message: "HTTP 404 Not Found"}
	rt := NewRetester(RetestConfig{PreferAuthOverBroken: false}, Options{Timeout: 5 * time.Second}, nil, nil)
	rt.Run(context.Background(), retestOutcome(strict))
	if strict.Status != StatusBroken {
		t.Errorf("preferAuthOverBroken=false: Status = %s, want BROKEN kept", strict.Status)
	}

	lenient := &ValidationResult{URL: srv.URL, Status: StatusBroken, Message: "HTTP 404 Not Found"}
	rt = NewRetester(RetestConfig{PreferAuthOverBroken: true}, Options{Timeout: 5 * time.Second}, nil, nil)
	rt.Run(context.Background(), retestOutcome(lenient))
	if lenient.Status != StatusAuthRequired {
		t.Errorf("preferAuthOverBroken=true: Status = %s, want AUTH_REQUIRED", lenient.Status)
	}
}

func TestRetestSSLBypassStrategy(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{}`)
	}))
	defer srv.Close()

	res := &ValidationResult{URL: srv.URL, Status: StatusSSLError, Message: "SSL/TLS error"}
	outcome := retestOutcome(res)
	rt := NewRetester(RetestConfig{PreferAuthOverBroken: true}, Options{Timeout: 5 * time.Second}, nil, nil)

	if upgraded := rt.Run(context.Background(), outcome); upgraded != 1 {
		t.Fatalf("upgraded = %d, want 1 (%s: %s)", upgraded, res.Status, res.Message)
	}
	if res.Status != StatusWorking {
		t.Fatalf("Status = %s, want WORKING", res.Status)
	}
	if res.RetestedBy != "ssl_bypass" {
		t.Errorf("RetestedBy = %q", res.RetestedBy)
	}
	if !res.SSLWarning {
		t.Error("SSLWarning not set by the bypass strategy")
	}
}
