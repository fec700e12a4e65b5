package linkcheck

import (
	"sync"
	"time"
)

// DomainHealth tallies outcomes per hostname for the live UI.
type DomainHealth struct {
	Checked int `json:"checked"`
	Working int `json:"working"`
	Failing int `json:"failing"`
}

// LiveStatsSnapshot is the read-only view handed to status pollers. The
// DomainsChecked map is a deep copy; callers may hold it indefinitely.
type LiveStatsSnapshot struct {
	Completed       int                     `json:"completed"`
	Total           int                     `json:"total"`
	ByStatus        map[Status]int          `json:"byStatus"`
	DomainsChecked  map[string]DomainHealth `json:"domainsChecked"`
	MinMs           int64                   `json:"minMs"`
	AvgMs           int64                   `json:"avgMs"`
	MaxMs           int64                   `json:"maxMs"`
	CurrentActivity string                  `json:"currentActivity"`
	Phase           string                  `json:"phase"`
	StartedAt       time.Time               `json:"startedAt"`
}

// LiveStats is the single shared aggregate mutated by every worker as
// results land. All access goes through its own mutex; this lock is distinct
// from any lock guarding result storage.
type LiveStats struct {
	mu              sync.Mutex
	completed       int
	total           int
	byStatus        map[Status]int
	domains         map[string]DomainHealth
	minMs, maxMs    int64
	sumMs           int64
	timed           int
	currentActivity string
	phase           string
	startedAt       time.Time
}

// NewLiveStats creates the aggregate for a batch. total is the number of
// checks the batch will perform, one per unique URL; Record fires once per
// check, so Completed reaches Total when the pass drains. Input-sized
// progress is the orchestrator's ProgressFunc concern, not this one.
func NewLiveStats(total int) *LiveStats {
	return &LiveStats{
		total:     total,
		byStatus:  make(map[Status]int),
		domains:   make(map[string]DomainHealth),
		minMs:     -1,
		startedAt: time.Now().UTC(),
	}
}

// Record folds one finished result into the aggregate.
func (ls *LiveStats) Record(res *ValidationResult) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	ls.completed++
	ls.byStatus[res.Status]++
	ls.currentActivity = res.URL

	if host := hostOf(res.URL); host != "" {
		dh := ls.domains[host]
		dh.Checked++
		switch res.Status {
		case StatusWorking, StatusRedirect:
			dh.Working++
		case StatusSkipped:
		default:
			dh.Failing++
		}
		ls.domains[host] = dh
	}

	if res.ResponseTimeMs > 0 {
		ls.timed++
		ls.sumMs += res.ResponseTimeMs
		if ls.minMs < 0 || res.ResponseTimeMs < ls.minMs {
			ls.minMs = res.ResponseTimeMs
		}
		if res.ResponseTimeMs > ls.maxMs {
			ls.maxMs = res.ResponseTimeMs
		}
	}
}

// Reclassify moves one unit of the per-status tally when an escalation stage
// replaces an earlier result.
func (ls *LiveStats) Reclassify(from, to Status) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	if ls.byStatus[from] > 0 {
		ls.byStatus[from]--
	}
	ls.byStatus[to]++
}

// SetPhase labels the pipeline stage currently running.
func (ls *LiveStats) SetPhase(phase string) {
	ls.mu.Lock()
	ls.phase = phase
	ls.mu.Unlock()
}

// Snapshot returns a deep copy safe to hand to a concurrently polling
// caller. The domains map is copied entry by entry; mutating the snapshot
// never races with workers.
func (ls *LiveStats) Snapshot() LiveStatsSnapshot {
	ls.mu.Lock()
	defer ls.mu.Unlock()

	snap := LiveStatsSnapshot{
		Completed:       ls.completed,
		Total:           ls.total,
		ByStatus:        make(map[Status]int, len(ls.byStatus)),
		DomainsChecked:  make(map[string]DomainHealth, len(ls.domains)),
		MaxMs:           ls.maxMs,
		CurrentActivity: ls.currentActivity,
		Phase:           ls.phase,
		StartedAt:       ls.startedAt,
	}
	for k, v := range ls.byStatus {
		snap.ByStatus[k] = v
	}
	for k, v := range ls.domains {
		snap.DomainsChecked[k] = v
	}
	if ls.minMs > 0 {
		snap.MinMs = ls.minMs
	}
	if ls.timed > 0 {
		snap.AvgMs = ls.sumMs / int64(ls.timed)
	}
	return snap
}
