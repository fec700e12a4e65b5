package linkcheck

import (
	"context"
	"fmt"
	"log"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ProgressFunc receives completion ticks rescaled to the original request
// size, duplicates included.
type ProgressFunc func(completed, total int)

// BatchOutcome holds a first-pass run: one result per unique URL in check
// order, plus the mapping back to original input positions. Escalation
// stages operate on the unique slice; Materialize produces the final
// order-preserving output with independent copies at duplicate positions.
type BatchOutcome struct {
	Request ValidationRequest
	Stats   *LiveStats

	// Auth and DNS carry the batch's negotiator and resolver forward so the
	// escalation stages reuse them instead of rebuilding.
	Auth *AuthNegotiator
	DNS  *DNSChecker

	unique  []*ValidationResult
	indexOf []int // original position -> index into unique
}

// Unique returns the per-unique-URL results in first-appearance order.
// Escalation stages mutate these in place.
func (b *BatchOutcome) Unique() []*ValidationResult { return b.unique }

// Materialize expands unique results back to the original input order.
// Every duplicate position gets a deep copy so downstream consumers never
// share mutable state across positions.
func (b *BatchOutcome) Materialize() []*ValidationResult {
	out := make([]*ValidationResult, len(b.indexOf))
	first := make(map[int]bool, len(b.unique))
	for pos, idx := range b.indexOf {
		res := b.unique[idx]
		if !first[idx] {
			first[idx] = true
			out[pos] = res
			continue
		}
		out[pos] = res.clone()
	}
	return out
}

// sessionFromOptions maps run options onto the shared session settings.
func sessionFromOptions(opts Options) SessionConfig {
	return SessionConfig{
		Timeout:        opts.Timeout,
		VerifySSL:      *opts.VerifySSL,
		Proxy:          opts.Proxy,
		CABundlePath:   opts.CABundlePath,
		ClientCertPath: opts.ClientCertPath,
		ClientKeyPath:  opts.ClientKeyPath,
		FollowRedirect: *opts.FollowRedirects,
		MaxConnsPerHost: func() int {
			if opts.MaxConcurrent < 10 {
				return 10
			}
			return opts.MaxConcurrent
		}(),
	}
}

// Orchestrator fans a URL batch out over a bounded worker pool sharing one
// HTTP session. All cross-worker mutation funnels through LiveStats; result
// objects are owned by exactly one worker until the pool drains.
type Orchestrator struct {
	Credentials  Credentials
	DNSResolvers []string
	Progress     ProgressFunc

	// RequestsPerSecond throttles dispatch across all workers. Zero means
	// unlimited.
	RequestsPerSecond float64

	// OnStart, when set, fires once the batch is prepared but before any
	// worker dispatches. Status pollers hook live stats here.
	OnStart func(*BatchOutcome)
}

// Run executes the first validation pass. It returns an error only for an
// unusable request; per-URL failures are statuses, never errors.
func (o *Orchestrator) Run(ctx context.Context, req ValidationRequest) (*BatchOutcome, error) {
	if len(req.URLs) == 0 {
		return nil, fmt.Errorf("validation request contains no URLs")
	}
	opts := req.Options.withDefaults()
	mode := req.Mode
	if mode == "" {
		mode = ModeStandard
	}
	if mode == ModeThorough && opts.ScanDepth != DepthThorough {
		opts.ScanDepth = DepthThorough
		opts = opts.withDefaults()
	}

	// Dedup on the raw string: each unique URL is checked once, every
	// original position keeps its slot.
	firstIndex := make(map[string]int, len(req.URLs))
	var uniqueURLs []string
	indexOf := make([]int, len(req.URLs))
	for pos, raw := range req.URLs {
		if idx, seen := firstIndex[raw]; seen {
			indexOf[pos] = idx
			continue
		}
		idx := len(uniqueURLs)
		firstIndex[raw] = idx
		uniqueURLs = append(uniqueURLs, raw)
		indexOf[pos] = idx
	}

	outcome := &BatchOutcome{
		Request: req,
		Stats:   NewLiveStats(len(uniqueURLs)),
		unique:  make([]*ValidationResult, len(uniqueURLs)),
		indexOf: indexOf,
	}
	outcome.Stats.SetPhase("validating")

	sessionCfg := sessionFromOptions(opts)
	client, err := NewSession(sessionCfg)
	if err != nil {
		return nil, fmt.Errorf("building batch HTTP session: %w", err)
	}
	defer client.CloseIdleConnections()

	var auth *AuthNegotiator
	if opts.UseWindowsAuth && mode != ModeOffline {
		auth = NewAuthNegotiator(SelectAuthProvider(o.Credentials), o.Credentials, sessionCfg)
		auth.ProbeWindowsAuth(ctx, uniqueURLs)
	}

	excl := NewExclusionMatcher(opts.Exclusions)
	dnsChecker := NewDNSChecker(o.DNSResolvers, 5*time.Second)
	validator := NewValidator(opts, mode, client, sessionCfg, auth, excl, dnsChecker)

	outcome.Auth = auth
	outcome.DNS = dnsChecker
	if o.OnStart != nil {
		o.OnStart(outcome)
	}

	var limiter *rate.Limiter
	if o.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(o.RequestsPerSecond), 1)
	}

	log.Printf("INFO: Orchestrator: starting batch of %d URL(s) (%d unique), mode=%s, workers=%d",
		len(req.URLs), len(uniqueURLs), mode, opts.MaxConcurrent)

	var wg sync.WaitGroup
	sem := make(chan struct{}, opts.MaxConcurrent)
	var completed int64
	var progressMu sync.Mutex

	for i, raw := range uniqueURLs {
		select {
		case <-ctx.Done():
			fillCancelled(outcome, uniqueURLs, i)
			wg.Wait()
			outcome.Stats.SetPhase("cancelled")
			return outcome, ctx.Err()
		case sem <- struct{}{}:
		}

		wg.Add(1)
		go func(idx int, target string) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					log.Printf("ERROR: Orchestrator: worker panic for %s: %v\n%s", target, r, debug.Stack())
					outcome.unique[idx] = &ValidationResult{
						URL:       target,
						Status:    StatusBroken,
						Message:   fmt.Sprintf("internal error during check: %v", r),
						Timestamp: time.Now().UTC().Format(time.RFC3339),
					}
					outcome.Stats.Record(outcome.unique[idx])
				}
			}()

			if limiter != nil {
				if err := limiter.Wait(ctx); err != nil {
					outcome.unique[idx] = cancelledResult(target)
					outcome.Stats.Record(outcome.unique[idx])
					return
				}
			}

			res := validator.CheckURL(ctx, target)
			outcome.unique[idx] = res
			outcome.Stats.Record(res)

			progressMu.Lock()
			completed++
			done := completed
			progressMu.Unlock()
			if o.Progress != nil {
				// Rescale unique completions onto the original request size.
				o.Progress(int(done)*len(req.URLs)/len(uniqueURLs), len(req.URLs))
			}
		}(i, raw)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		fillCancelled(outcome, uniqueURLs, 0)
		outcome.Stats.SetPhase("cancelled")
		return outcome, err
	}

	if auth != nil {
		_, outcomeOK := auth.ProbeResult()
		if !outcomeOK {
			log.Printf("INFO: Orchestrator: batch finished without a successful auth probe")
		}
	}
	outcome.Stats.SetPhase("validated")
	return outcome, nil
}

func cancelledResult(target string) *ValidationResult {
	return &ValidationResult{
		URL:       target,
		Status:    StatusUnknown,
		Message:   "check cancelled before completion",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
}

// fillCancelled stamps every not-yet-dispatched slot after a cancellation so
// Materialize never sees nil entries. Earlier slots may still be racing; the
// wg.Wait in the caller settles them.
func fillCancelled(outcome *BatchOutcome, uniqueURLs []string, from int) {
	for i := from; i < len(outcome.unique); i++ {
		if outcome.unique[i] == nil {
			outcome.unique[i] = cancelledResult(uniqueURLs[i])
		}
	}
}
