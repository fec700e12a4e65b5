package jobs

import (
	"fmt"
	"testing"
	"time"
)

func storedRun(id string, state State, createdAt time.Time) *ValidationRun {
	return &ValidationRun{ID: id, State: state, CreatedAt: createdAt}
}

func TestStoreCreateGetDelete(t *testing.T) {
	s := NewInMemoryJobStore()
	run := storedRun("job-1", StatePending, time.Now().UTC())
	if err := s.Create(run); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Create(run); err == nil {
		t.Error("duplicate Create should fail")
	}

	got, err := s.Get("job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != "job-1" || got.State != StatePending {
		t.Errorf("Get returned %+v", got)
	}

	// Get hands out snapshots; mutating one must not reach the store.
	got.State = StateFailed
	fresh, _ := s.Get("job-1")
	if fresh.State != StatePending {
		t.Errorf("snapshot mutation leaked into the store: %s", fresh.State)
	}

	if err := s.Delete("job-1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := s.Get("job-1"); err == nil {
		t.Error("Get after Delete should fail")
	}
	if err := s.Delete("job-1"); err == nil {
		t.Error("Delete of a missing job should fail")
	}
}

func TestStoreUpdateInPlace(t *testing.T) {
	s := NewInMemoryJobStore()
	if err := s.Create(storedRun("job-1", StatePending, time.Now().UTC())); err != nil {
		t.Fatalf("Create: %v", err)
	}
	err := s.Update("job-1", func(run *ValidationRun) {
		run.State = StateRunning
		run.Completed = 7
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _ := s.Get("job-1")
	if got.State != StateRunning || got.Completed != 7 {
		t.Errorf("update not applied: %+v", got)
	}
	if err := s.Update("missing", func(*ValidationRun) {}); err == nil {
		t.Error("Update of a missing job should fail")
	}
}

func TestStoreListMostRecentFirst(t *testing.T) {
	s := NewInMemoryJobStore()
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("job-%d", i)
		if err := s.Create(storedRun(id, StateComplete, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}
	list := s.List()
	if len(list) != 3 {
		t.Fatalf("List returned %d runs", len(list))
	}
	if list[0].ID != "job-2" || list[2].ID != "job-0" {
		t.Errorf("order = [%s %s %s], want newest first", list[0].ID, list[1].ID, list[2].ID)
	}
}

func TestStoreEvictsOldestTerminalRuns(t *testing.T) {
	s := NewInMemoryJobStore()
	base := time.Now().UTC().Add(-24 * time.Hour)

	// Oldest entry is still running and must survive eviction.
	if err := s.Create(storedRun("active", StateRunning, base)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	for i := 0; i < historyLimit+10; i++ {
		id := fmt.Sprintf("done-%d", i)
		if err := s.Create(storedRun(id, StateComplete, base.Add(time.Duration(i+1)*time.Second))); err != nil {
			t.Fatalf("Create %s: %v", id, err)
		}
	}

	list := s.List()
	if len(list) > historyLimit {
		t.Errorf("store holds %d runs, limit is %d", len(list), historyLimit)
	}
	if _, err := s.Get("active"); err != nil {
		t.Error("running job was evicted")
	}
	if _, err := s.Get("done-0"); err == nil {
		t.Error("oldest terminal run should have been evicted")
	}
	if _, err := s.Get(fmt.Sprintf("done-%d", historyLimit+9)); err != nil {
		t.Error("newest terminal run should have been kept")
	}
}
