// Package engine fronts the speech-recognition model behind a session
// with an explicit load state machine and one-call-at-a-time discipline.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"echoscript/internal/domain"
)

// State is the engine session load state.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateReady    State = "ready"
	StateFailed   State = "failed"
)

// ErrSessionFailed marks a session-fatal load failure. Every pending and
// future call observes it; the session never retries the load.
var ErrSessionFailed = errors.New("engine session failed to load")

// ChunkError is a chunk-local inference fault. The job that observes it
// records a gap and keeps processing remaining chunks.
type ChunkError struct {
	ChunkIndex int
	Err        error
}

// Error formats the chunk failure.
func (e *ChunkError) Error() string {
	return fmt.Sprintf("chunk %d inference failed: %v", e.ChunkIndex, e.Err)
}

// Unwrap exposes the underlying error.
func (e *ChunkError) Unwrap() error {
	return e.Err
}

// Backend is one concrete inference implementation.
type Backend interface {
	// Load prepares the model at modelPath. Called once per session.
	Load(ctx context.Context, modelPath string) error
	// Transcribe recognizes one chunk and returns chunk-relative segments.
	Transcribe(ctx context.Context, chunk domain.AudioChunk, language string) ([]domain.TranscriptSegment, error)
}

// ModelPathFunc resolves the configured model path at load time.
type ModelPathFunc func() string

// Session owns one loaded model instance for the process lifetime.
// The underlying engine is not assumed reentrant, so all calls are
// serialized through the session mutex; the lock is held only for the
// duration of a single chunk.
type Session struct {
	mu        sync.Mutex
	state     State
	loadErr   error
	backend   Backend
	modelPath ModelPathFunc
	log       zerolog.Logger
}

// NewSession creates an unloaded session. The model loads lazily on the
// first Transcribe call.
func NewSession(backend Backend, modelPath ModelPathFunc, log zerolog.Logger) *Session {
	return &Session{
		state:     StateUnloaded,
		backend:   backend,
		modelPath: modelPath,
		log:       log,
	}
}

// State returns the current load state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcribe runs one chunk through the engine. Load failures are
// session-fatal and wrap ErrSessionFailed; per-chunk faults are returned
// as *ChunkError so callers can continue with remaining chunks.
func (s *Session) Transcribe(ctx context.Context, chunk domain.AudioChunk, language string) ([]domain.TranscriptSegment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureLoadedLocked(ctx); err != nil {
		return nil, err
	}

	segments, err := s.backend.Transcribe(ctx, chunk, language)
	if err != nil {
		return nil, &ChunkError{ChunkIndex: chunk.Index, Err: err}
	}
	return segments, nil
}

// ensureLoadedLocked drives the Unloaded -> Loading -> Ready | Failed
// machine. Callers must hold s.mu.
func (s *Session) ensureLoadedLocked(ctx context.Context) error {
	switch s.state {
	case StateReady:
		return nil
	case StateFailed:
		return fmt.Errorf("%w: %v", ErrSessionFailed, s.loadErr)
	}

	s.state = StateLoading
	modelPath := s.modelPath()
	s.log.Debug().Str("model", modelPath).Msg("loading inference model")

	if err := s.backend.Load(ctx, modelPath); err != nil {
		s.state = StateFailed
		s.loadErr = err
		s.log.Error().Err(err).Str("model", modelPath).Msg("model load failed")
		return fmt.Errorf("%w: %v", ErrSessionFailed, err)
	}

	s.state = StateReady
	s.log.Info().Str("model", modelPath).Msg("inference model ready")
	return nil
}
