package jobs

import (
	"errors"
	"testing"

	"echoscript/internal/domain"
)

func addJob(t *testing.T, r *Registry, id string) {
	t.Helper()
	if err := r.Add(domain.Job{ID: id, State: domain.JobStateQueued}); err != nil {
		t.Fatalf("Add(%s): %v", id, err)
	}
}

// TestRegistryLifecycle verifies the normal progression to completed.
func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()
	addJob(t, r, "job-1")

	for _, state := range []domain.JobState{
		domain.JobStateDecoding,
		domain.JobStateChunking,
		domain.JobStateTranscribing,
		domain.JobStateAssembling,
		domain.JobStateCompleted,
	} {
		if _, err := r.Transition("job-1", state); err != nil {
			t.Fatalf("transition to %s: %v", state, err)
		}
	}

	job, err := r.Get("job-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if job.State != domain.JobStateCompleted {
		t.Fatalf("state = %s, want completed", job.State)
	}
}

// TestRegistryRejectsInvalidTransition checks state machine constraints.
func TestRegistryRejectsInvalidTransition(t *testing.T) {
	r := NewRegistry()
	addJob(t, r, "job-1")

	if _, err := r.Transition("job-1", domain.JobStateCompleted); err == nil {
		t.Fatal("expected invalid transition error")
	}
	if _, err := r.Transition("job-1", domain.JobStateTranscribing); err == nil {
		t.Fatal("expected invalid transition error")
	}
}

// TestRegistryChunkingSkipsToAssembling verifies the zero-chunk shortcut.
func TestRegistryChunkingSkipsToAssembling(t *testing.T) {
	r := NewRegistry()
	addJob(t, r, "job-1")

	for _, state := range []domain.JobState{
		domain.JobStateDecoding,
		domain.JobStateChunking,
		domain.JobStateAssembling,
	} {
		if _, err := r.Transition("job-1", state); err != nil {
			t.Fatalf("transition to %s: %v", state, err)
		}
	}
}

// TestRegistryTerminalStatesAreFinal verifies terminal jobs reject
// further transitions.
func TestRegistryTerminalStatesAreFinal(t *testing.T) {
	r := NewRegistry()
	addJob(t, r, "job-1")

	if _, err := r.Transition("job-1", domain.JobStateCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := r.Transition("job-1", domain.JobStateDecoding); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("error = %v, want ErrJobFinished", err)
	}
	if _, err := r.Transition("job-1", domain.JobStateFailed); !errors.Is(err, ErrJobFinished) {
		t.Fatalf("error = %v, want ErrJobFinished", err)
	}
}

// TestRegistryCancelFromAnyActiveState verifies cancellation edges.
func TestRegistryCancelFromAnyActiveState(t *testing.T) {
	states := [][]domain.JobState{
		{},
		{domain.JobStateDecoding},
		{domain.JobStateDecoding, domain.JobStateChunking},
		{domain.JobStateDecoding, domain.JobStateChunking, domain.JobStateTranscribing},
	}
	for _, path := range states {
		r := NewRegistry()
		addJob(t, r, "job-1")
		for _, state := range path {
			if _, err := r.Transition("job-1", state); err != nil {
				t.Fatalf("transition to %s: %v", state, err)
			}
		}
		if _, err := r.Transition("job-1", domain.JobStateCancelled); err != nil {
			t.Fatalf("cancel after %v: %v", path, err)
		}
	}
}

// TestRegistryProgressNeverDecreases verifies the monotonic clamp.
func TestRegistryProgressNeverDecreases(t *testing.T) {
	r := NewRegistry()
	addJob(t, r, "job-1")

	if _, err := r.SetProgress("job-1", 0.6); err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	job, err := r.SetProgress("job-1", 0.4)
	if err != nil {
		t.Fatalf("SetProgress: %v", err)
	}
	if job.Progress != 0.6 {
		t.Fatalf("progress = %v, want 0.6", job.Progress)
	}

	job, _ = r.SetProgress("job-1", 1.7)
	if job.Progress != 1 {
		t.Fatalf("progress = %v, want clamp to 1", job.Progress)
	}
}

// TestRegistryListOrder verifies submission-order listing.
func TestRegistryListOrder(t *testing.T) {
	r := NewRegistry()
	for _, id := range []string{"a", "b", "c"} {
		addJob(t, r, id)
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("list length = %d, want 3", len(list))
	}
	for i, want := range []string{"a", "b", "c"} {
		if list[i].ID != want {
			t.Fatalf("list[%d].ID = %s, want %s", i, list[i].ID, want)
		}
	}
}

// TestRegistryDiscard verifies only terminal jobs can be removed.
func TestRegistryDiscard(t *testing.T) {
	r := NewRegistry()
	addJob(t, r, "job-1")

	if err := r.Discard("job-1"); !errors.Is(err, ErrJobActive) {
		t.Fatalf("discard active error = %v, want ErrJobActive", err)
	}

	if _, err := r.Transition("job-1", domain.JobStateCancelled); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := r.Discard("job-1"); err != nil {
		t.Fatalf("discard terminal: %v", err)
	}
	if _, err := r.Get("job-1"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("Get after discard error = %v, want ErrJobNotFound", err)
	}
	if err := r.Discard("job-1"); !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("second discard error = %v, want ErrJobNotFound", err)
	}
}

// TestRegistrySnapshotsAreCopies verifies callers cannot mutate registry
// state through returned values.
func TestRegistrySnapshotsAreCopies(t *testing.T) {
	r := NewRegistry()
	addJob(t, r, "job-1")
	r.AddWarning("job-1", "first warning")

	job, _ := r.Get("job-1")
	job.Warnings[0] = "mutated"
	job.State = domain.JobStateFailed

	fresh, _ := r.Get("job-1")
	if fresh.Warnings[0] != "first warning" {
		t.Fatalf("warning = %q, registry state leaked", fresh.Warnings[0])
	}
	if fresh.State != domain.JobStateQueued {
		t.Fatalf("state = %s, registry state leaked", fresh.State)
	}
}
