package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aegisreview/linkflow/internal/headless"
	"github.com/aegisreview/linkflow/internal/linkcheck"
)

// Settings carries everything a run needs beyond its own request. Wired
// from config at startup.
type Settings struct {
	Credentials       linkcheck.Credentials
	DNSResolvers      []string
	RequestsPerSecond float64
	Retest            linkcheck.RetestConfig
	Headless          headless.Config
}

// Service owns the job lifecycle: it accepts batches, drives each through
// the validate / retest / browser pipeline on a background goroutine, and
// answers status polls. Storage is injected; the service itself keeps only
// the transient per-run state (cancel funcs and live stats).
type Service struct {
	store    JobStore
	settings Settings

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	stats   map[string]*linkcheck.LiveStats
}

func NewService(store JobStore, settings Settings) *Service {
	return &Service{
		store:    store,
		settings: settings,
		cancels:  make(map[string]context.CancelFunc),
		stats:    make(map[string]*linkcheck.LiveStats),
	}
}

// Start accepts a batch and begins processing it in the background.
func (s *Service) Start(req linkcheck.ValidationRequest) (*ValidationRun, error) {
	if len(req.URLs) == 0 {
		return nil, fmt.Errorf("validation request contains no URLs")
	}

	run := &ValidationRun{
		ID:        uuid.NewString(),
		State:     StatePending,
		Request:   req,
		CreatedAt: time.Now().UTC(),
		Total:     len(req.URLs),
	}
	if err := s.store.Create(run); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[run.ID] = cancel
	s.mu.Unlock()

	go s.execute(ctx, run.ID, req)
	log.Printf("INFO: jobs: accepted job %s with %d URL(s)", run.ID, len(req.URLs))
	return run.snapshot(), nil
}

// Cancel requests cooperative cancellation. Workers finish their in-flight
// URL; everything not yet dispatched is abandoned.
func (s *Service) Cancel(id string) error {
	run, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if run.State.Terminal() {
		return fmt.Errorf("job %s already finished (%s)", id, run.State)
	}
	s.mu.Lock()
	cancel, ok := s.cancels[id]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s has no active run to cancel", id)
	}
	cancel()
	log.Printf("INFO: jobs: cancellation requested for job %s", id)
	return nil
}

// Status returns the stored run plus, while it is still running, a live
// stats snapshot.
func (s *Service) Status(id string) (*ValidationRun, *linkcheck.LiveStatsSnapshot, error) {
	run, err := s.store.Get(id)
	if err != nil {
		return nil, nil, err
	}
	s.mu.Lock()
	ls := s.stats[id]
	s.mu.Unlock()
	if ls == nil {
		return run, nil, nil
	}
	snap := ls.Snapshot()
	return run, &snap, nil
}

// Results returns the final per-URL results of a terminal run.
func (s *Service) Results(id string) (*ValidationRun, error) {
	run, err := s.store.Get(id)
	if err != nil {
		return nil, err
	}
	if !run.State.Terminal() {
		return nil, fmt.Errorf("job %s is still %s", id, run.State)
	}
	return run, nil
}

// History lists runs most-recent-first.
func (s *Service) History() []*ValidationRun {
	return s.store.List()
}

// Delete removes a terminal run from history.
func (s *Service) Delete(id string) error {
	run, err := s.store.Get(id)
	if err != nil {
		return err
	}
	if !run.State.Terminal() {
		return fmt.Errorf("job %s is still %s; cancel it first", id, run.State)
	}
	return s.store.Delete(id)
}

// RunSync executes a batch inline for the synchronous endpoint. No job
// record is created; the caller's context governs cancellation.
func (s *Service) RunSync(ctx context.Context, req linkcheck.ValidationRequest) ([]*linkcheck.ValidationResult, *linkcheck.Summary, error) {
	return s.runPipeline(ctx, req, nil, nil)
}

// execute drives one background job to a terminal state. A panic anywhere in
// the pipeline fails the job instead of killing the process.
func (s *Service) execute(ctx context.Context, id string, req linkcheck.ValidationRequest) {
	defer func() {
		s.mu.Lock()
		delete(s.cancels, id)
		delete(s.stats, id)
		s.mu.Unlock()

		if r := recover(); r != nil {
			log.Printf("ERROR: jobs: job %s panicked: %v\n%s", id, r, debug.Stack())
			s.finish(id, StateFailed, nil, nil, fmt.Sprintf("internal error: %v", r))
		}
	}()

	now := time.Now().UTC()
	s.store.Update(id, func(run *ValidationRun) {
		run.State = StateRunning
		run.StartedAt = &now
	})

	progress := func(completed, total int) {
		s.store.Update(id, func(run *ValidationRun) {
			run.Completed = completed
			run.Total = total
		})
	}
	register := func(ls *linkcheck.LiveStats) {
		s.mu.Lock()
		s.stats[id] = ls
		s.mu.Unlock()
	}

	results, summary, err := s.runPipeline(ctx, req, progress, register)
	switch {
	case errors.Is(err, context.Canceled):
		s.finish(id, StateCancelled, results, summary, "cancelled by request")
	case err != nil:
		s.finish(id, StateFailed, nil, nil, err.Error())
	default:
		s.finish(id, StateComplete, results, summary, "")
	}
}

func (s *Service) finish(id string, state State, results []*linkcheck.ValidationResult, summary *linkcheck.Summary, errMsg string) {
	now := time.Now().UTC()
	s.store.Update(id, func(run *ValidationRun) {
		if run.State.Terminal() {
			return
		}
		run.State = state
		run.EndedAt = &now
		run.Results = results
		run.Summary = summary
		run.Error = errMsg
		if results != nil {
			run.Completed = len(results)
		}
	})
	log.Printf("INFO: jobs: job %s finished as %s (%d result(s))", id, state, len(results))
}

// runPipeline is the shared three-stage pipeline: first HTTP pass, retest
// escalation, then the headless browser for whatever is still failing.
func (s *Service) runPipeline(ctx context.Context, req linkcheck.ValidationRequest, progress linkcheck.ProgressFunc, register func(*linkcheck.LiveStats)) ([]*linkcheck.ValidationResult, *linkcheck.Summary, error) {
	start := time.Now()

	orch := &linkcheck.Orchestrator{
		Credentials:       s.settings.Credentials,
		DNSResolvers:      s.settings.DNSResolvers,
		Progress:          progress,
		RequestsPerSecond: s.settings.RequestsPerSecond,
	}
	if register != nil {
		orch.OnStart = func(b *linkcheck.BatchOutcome) { register(b.Stats) }
	}

	outcome, err := orch.Run(ctx, req)
	if err != nil && outcome == nil {
		return nil, nil, err
	}
	cancelled := err != nil // only ctx errors come back with a partial outcome

	headlessUsed := false
	if !cancelled && req.Mode != linkcheck.ModeOffline {
		retester := linkcheck.NewRetester(s.settings.Retest, req.Options, outcome.Auth, outcome.DNS)
		retester.Run(ctx, outcome)

		if checker := headless.NewChecker(ctx, s.settings.Headless); checker != nil {
			checker.Run(ctx, outcome)
			checker.Close()
			headlessUsed = true
		}
	}

	results := outcome.Materialize()
	summary := linkcheck.Summarize(results, time.Since(start), len(outcome.Unique()))
	summary.HeadlessUsed = headlessUsed
	if outcome.Auth != nil {
		_, summary.AuthProbeOK = outcome.Auth.ProbeResult()
	}
	outcome.Stats.SetPhase("complete")

	if cancelled {
		return results, &summary, err
	}
	return results, &summary, nil
}
