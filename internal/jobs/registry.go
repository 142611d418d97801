package jobs

import (
	"errors"
	"fmt"
	"sync"

	"echoscript/internal/domain"
)

// ErrJobNotFound is returned for operations on unknown job IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrJobFinished is returned when mutating a job in a terminal state.
var ErrJobFinished = errors.New("job already finished")

// ErrJobActive is returned when discarding a job that has not finished.
var ErrJobActive = errors.New("job is still active")

// Registry tracks every submitted job and validates its state transitions.
type Registry struct {
	mu    sync.RWMutex
	jobs  map[string]*domain.Job
	order []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*domain.Job)}
}

// Add registers a newly submitted job.
func (r *Registry) Add(job domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job.ID == "" {
		return fmt.Errorf("job id is required")
	}
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("duplicate job id: %s", job.ID)
	}

	stored := job
	r.jobs[job.ID] = &stored
	r.order = append(r.order, job.ID)
	return nil
}

// Get returns a snapshot of one job.
func (r *Registry) Get(id string) (domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	return snapshot(job), nil
}

// List returns snapshots of all known jobs in submission order.
func (r *Registry) List() []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.Job, 0, len(r.order))
	for _, id := range r.order {
		if job, ok := r.jobs[id]; ok {
			out = append(out, snapshot(job))
		}
	}
	return out
}

// Transition validates and applies a state change, returning the
// updated snapshot.
func (r *Registry) Transition(id string, state domain.JobState) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}
	if job.State == state {
		return snapshot(job), nil
	}
	if job.State.Terminal() {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrJobFinished, job.State)
	}
	if !isValidTransition(job.State, state) {
		return domain.Job{}, fmt.Errorf("invalid transition: %s -> %s", job.State, state)
	}

	job.State = state
	return snapshot(job), nil
}

// SetProgress records job progress, clamped so it never decreases.
func (r *Registry) SetProgress(id string, fraction float64) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, ErrJobNotFound
	}

	if fraction > 1 {
		fraction = 1
	}
	if fraction > job.Progress {
		job.Progress = fraction
	}
	return snapshot(job), nil
}

// SetOutput records the final transcript location.
func (r *Registry) SetOutput(id, path string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job, ok := r.jobs[id]; ok {
		job.OutputPath = path
	}
}

// RecordError stores a human-readable failure summary.
func (r *Registry) RecordError(id, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job, ok := r.jobs[id]; ok {
		job.Error = message
	}
}

// AddWarning appends a non-fatal problem to the job record.
func (r *Registry) AddWarning(id, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if job, ok := r.jobs[id]; ok {
		job.Warnings = append(job.Warnings, message)
	}
}

// Discard removes a terminal job after the interface layer has
// acknowledged its outcome.
func (r *Registry) Discard(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[id]
	if !ok {
		return ErrJobNotFound
	}
	if !job.State.Terminal() {
		return ErrJobActive
	}

	delete(r.jobs, id)
	for i, known := range r.order {
		if known == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// snapshot copies a job so callers never share registry memory.
func snapshot(job *domain.Job) domain.Job {
	out := *job
	if len(job.Warnings) > 0 {
		out.Warnings = append([]string(nil), job.Warnings...)
	}
	return out
}

// isValidTransition enforces the allowed job state machine edges.
// Cancelled and Failed are reachable from every non-terminal state;
// Chunking may skip straight to Assembling when the input yields no chunks.
func isValidTransition(from, to domain.JobState) bool {
	if to == domain.JobStateCancelled || to == domain.JobStateFailed {
		return !from.Terminal()
	}

	switch from {
	case domain.JobStateQueued:
		return to == domain.JobStateDecoding
	case domain.JobStateDecoding:
		return to == domain.JobStateChunking
	case domain.JobStateChunking:
		return to == domain.JobStateTranscribing || to == domain.JobStateAssembling
	case domain.JobStateTranscribing:
		return to == domain.JobStateAssembling
	case domain.JobStateAssembling:
		return to == domain.JobStateCompleted
	default:
		return false
	}
}
