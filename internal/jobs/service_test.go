package jobs

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aegisreview/linkflow/internal/linkcheck"
)

func waitTerminal(t *testing.T, s *Service, id string) *ValidationRun {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		run, _, err := s.Status(id)
		if err != nil {
			t.Fatalf("Status: %v", err)
		}
		if run.State.Terminal() {
			return run
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach a terminal state", id)
	return nil
}

func TestServiceOfflineJobLifecycle(t *testing.T) {
	s := NewService(NewInMemoryJobStore(), Settings{})
	req := linkcheck.ValidationRequest{
		URLs: []string{
			"https://a.example.com/1",
			"https://b.example.com/2",
			"https://a.example.com/1",
		},
		Mode: linkcheck.ModeOffline,
	}

	run, err := s.Start(req)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if run.ID == "" {
		t.Fatal("Start returned an empty job ID")
	}

	final := waitTerminal(t, s, run.ID)
	if final.State != StateComplete {
		t.Fatalf("State = %s (%s), want complete", final.State, final.Error)
	}
	if final.StartedAt == nil || final.EndedAt == nil {
		t.Error("timestamps not stamped on completion")
	}

	done, err := s.Results(run.ID)
	if err != nil {
		t.Fatalf("Results: %v", err)
	}
	if len(done.Results) != 3 {
		t.Fatalf("got %d results", len(done.Results))
	}
	if done.Summary == nil || done.Summary.Total != 3 || done.Summary.UniqueURLs != 2 {
		t.Errorf("summary = %+v", done.Summary)
	}
	for i, res := range done.Results {
		if res.Status != linkcheck.StatusWorking {
			t.Errorf("result %d: Status = %s", i, res.Status)
		}
	}
}

func TestServiceRejectsEmptyRequest(t *testing.T) {
	s := NewService(NewInMemoryJobStore(), Settings{})
	if _, err := s.Start(linkcheck.ValidationRequest{}); err == nil {
		t.Fatal("expected an error for a request with no URLs")
	}
}

func TestServiceResultsGuardedUntilTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(400 * time.Millisecond)
		w.Header().Set("Content-Type", "application/json")
	}))
	defer srv.Close()

	s := NewService(NewInMemoryJobStore(), Settings{})
	req := linkcheck.ValidationRequest{
		URLs:    []string{srv.URL + "/slow"},
		Mode:    linkcheck.ModeStandard,
		Options: linkcheck.Options{Timeout: 5 * time.Second},
	}
	run, err := s.Start(req)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := s.Results(run.ID); err == nil {
		t.Error("Results before completion should fail")
	}
	if err := s.Delete(run.ID); err == nil {
		t.Error("Delete of an active job should fail")
	}

	waitTerminal(t, s, run.ID)
	if _, err := s.Results(run.ID); err != nil {
		t.Errorf("Results after completion: %v", err)
	}
	if err := s.Delete(run.ID); err != nil {
		t.Errorf("Delete after completion: %v", err)
	}
}

func TestServiceCancelMarksRunCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	s := NewService(NewInMemoryJobStore(), Settings{})
	req := linkcheck.ValidationRequest{
		URLs: []string{
			srv.URL + "/a",
			srv.URL + "/b",
			srv.URL + "/c",
		},
		Mode:    linkcheck.ModeStandard,
		Options: linkcheck.Options{Timeout: 10 * time.Second},
	}
	run, err := s.Start(req)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if err := s.Cancel(run.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	final := waitTerminal(t, s, run.ID)
	if final.State != StateCancelled {
		t.Fatalf("State = %s, want cancelled", final.State)
	}
	if err := s.Cancel(run.ID); err == nil {
		t.Error("Cancel of a finished job should fail")
	}
}

func TestServiceRunSync(t *testing.T) {
	s := NewService(NewInMemoryJobStore(), Settings{})
	req := linkcheck.ValidationRequest{
		URLs: []string{"https://a.example.com/1", "mailto:docs@example.org"},
		Mode: linkcheck.ModeOffline,
	}
	results, summary, err := s.RunSync(context.Background(), req)
	if err != nil {
		t.Fatalf("RunSync: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	if summary.Total != 2 {
		t.Errorf("summary.Total = %d", summary.Total)
	}
	if len(s.History()) != 0 {
		t.Error("RunSync must not create a job record")
	}
}
