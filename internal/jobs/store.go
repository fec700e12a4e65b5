package jobs

import (
	"fmt"
	"sort"
	"sync"
)

// JobStore is the persistence boundary for validation runs. The service
// takes it as a dependency; nothing in this package reaches for a global.
type JobStore interface {
	Create(run *ValidationRun) error
	Get(id string) (*ValidationRun, error)
	// Update applies fn to the stored run under the store's lock.
	Update(id string, fn func(*ValidationRun)) error
	// List returns runs most-recent-first.
	List() []*ValidationRun
	Delete(id string) error
}

// historyLimit bounds how many finished runs the in-memory store retains.
const historyLimit = 100

// InMemoryJobStore is the default JobStore: a mutex-guarded map with bounded
// history eviction. Good for a single-process deployment; swap the interface
// implementation for anything longer-lived.
type InMemoryJobStore struct {
	mu   sync.RWMutex
	runs map[string]*ValidationRun
}

func NewInMemoryJobStore() *InMemoryJobStore {
	return &InMemoryJobStore{runs: make(map[string]*ValidationRun)}
}

func (s *InMemoryJobStore) Create(run *ValidationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("job %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	s.evictLocked()
	return nil
}

func (s *InMemoryJobStore) Get(id string) (*ValidationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("job %s not found", id)
	}
	return run.snapshot(), nil
}

func (s *InMemoryJobStore) Update(id string, fn func(*ValidationRun)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, exists := s.runs[id]
	if !exists {
		return fmt.Errorf("job %s not found for update", id)
	}
	fn(run)
	return nil
}

func (s *InMemoryJobStore) List() []*ValidationRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*ValidationRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.snapshot())
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *InMemoryJobStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[id]; !exists {
		return fmt.Errorf("job %s not found for delete", id)
	}
	delete(s.runs, id)
	return nil
}

// evictLocked drops the oldest terminal runs past the history limit. Active
// runs are never evicted.
func (s *InMemoryJobStore) evictLocked() {
	if len(s.runs) <= historyLimit {
		return
	}
	var terminal []*ValidationRun
	for _, run := range s.runs {
		if run.State.Terminal() {
			terminal = append(terminal, run)
		}
	}
	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].CreatedAt.Before(terminal[j].CreatedAt)
	})
	for _, run := range terminal {
		if len(s.runs) <= historyLimit {
			break
		}
		delete(s.runs, run.ID)
	}
}

var _ JobStore = (*InMemoryJobStore)(nil)
