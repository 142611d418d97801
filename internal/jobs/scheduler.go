// Package jobs owns the transcription work queue: FIFO submission,
// bounded decode concurrency, globally serialized inference, and
// one-directional progress events.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"echoscript/internal/assemble"
	"echoscript/internal/chunk"
	"echoscript/internal/decode"
	"echoscript/internal/domain"
	"echoscript/internal/engine"
)

// ErrSchedulerClosed is returned for submissions after Close.
var ErrSchedulerClosed = errors.New("scheduler is closed")

// ErrQueueFull is returned when the submission queue is at capacity.
var ErrQueueFull = errors.New("job queue is full")

// AudioSource is the decoded PCM stream one job consumes.
type AudioSource interface {
	chunk.SampleSource
	Duration() time.Duration
	Close() error
}

// Decoder produces a normalized PCM stream for a media file.
type Decoder interface {
	Decode(ctx context.Context, path string) (AudioSource, error)
}

// Transcriber recognizes one chunk at a time. Implementations serialize
// calls internally; the scheduler never assumes reentrancy.
type Transcriber interface {
	Transcribe(ctx context.Context, chunk domain.AudioChunk, language string) ([]domain.TranscriptSegment, error)
}

// Config bounds the pipeline resources.
type Config struct {
	DecodeWorkers    int
	ChunkDuration    time.Duration
	Overlap          time.Duration
	MinChunkDuration time.Duration
	QueueCapacity    int
}

// ApplyDefaults fills unset fields with production defaults.
func (c *Config) ApplyDefaults() {
	if c.DecodeWorkers <= 0 {
		c.DecodeWorkers = 2
	}
	if c.ChunkDuration <= 0 {
		c.ChunkDuration = 30 * time.Second
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkDuration {
		c.Overlap = time.Second
	}
	if c.MinChunkDuration <= 0 {
		c.MinChunkDuration = chunk.DefaultMinChunkDuration
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 64
	}
}

// SubmitRequest describes one transcription request.
type SubmitRequest struct {
	SourcePath string
	Format     domain.OutputFormat
	OutputDir  string
	Language   string
}

// Scheduler accepts jobs in submission order and drives each one through
// decode, chunking, inference, and assembly. Decode work runs on a
// bounded worker pool; inference is serialized by the shared engine
// session. At most one pipeline instance runs per job.
type Scheduler struct {
	cfg      Config
	decoder  Decoder
	engine   Transcriber
	registry *Registry
	bus      *EventBus
	log      zerolog.Logger

	mu      sync.Mutex
	params  map[string]SubmitRequest
	cancels map[string]context.CancelFunc
	queue   chan string
	baseCtx context.Context
	stop    context.CancelFunc
	wg      sync.WaitGroup
	started bool
	closed  bool
}

// NewScheduler wires the pipeline stages together. Call Start before
// submitting work and Close on shutdown.
func NewScheduler(cfg Config, decoder Decoder, transcriber Transcriber, bus *EventBus, log zerolog.Logger) *Scheduler {
	cfg.ApplyDefaults()
	if bus == nil {
		bus = NewEventBus(0)
	}

	baseCtx, stop := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:      cfg,
		decoder:  decoder,
		engine:   transcriber,
		registry: NewRegistry(),
		bus:      bus,
		log:      log,
		params:   make(map[string]SubmitRequest),
		cancels:  make(map[string]context.CancelFunc),
		queue:    make(chan string, cfg.QueueCapacity),
		baseCtx:  baseCtx,
		stop:     stop,
	}
}

// Registry exposes job snapshots to the interface layer.
func (s *Scheduler) Registry() *Registry {
	return s.registry
}

// Events exposes the bus carrying pipeline notifications.
func (s *Scheduler) Events() *EventBus {
	return s.bus
}

// Start launches the decode worker pool. Safe to call once.
func (s *Scheduler) Start() {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	for i := 0; i < s.cfg.DecodeWorkers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
}

// Close stops accepting jobs, cancels running ones, and waits for the
// worker pool to drain.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	s.stop()
	s.wg.Wait()
}

// Submit accepts one transcription request and queues it FIFO.
func (s *Scheduler) Submit(req SubmitRequest) (domain.Job, error) {
	if strings.TrimSpace(req.SourcePath) == "" {
		return domain.Job{}, fmt.Errorf("source path is required")
	}
	if req.Format == "" {
		req.Format = domain.FormatText
	}
	if !assemble.Supported(req.Format) {
		return domain.Job{}, fmt.Errorf("unsupported output format: %q", req.Format)
	}
	if strings.TrimSpace(req.OutputDir) == "" {
		return domain.Job{}, fmt.Errorf("output directory is required")
	}

	job := domain.Job{
		ID:         uuid.NewString(),
		SourcePath: req.SourcePath,
		Format:     req.Format,
		State:      domain.JobStateQueued,
		CreatedAt:  time.Now().UTC(),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Job{}, ErrSchedulerClosed
	}
	if err := s.registry.Add(job); err != nil {
		s.mu.Unlock()
		return domain.Job{}, err
	}
	s.params[job.ID] = req

	// The queue send stays under s.mu: Close closes the channel under
	// the same lock, and the default arm keeps the send non-blocking.
	select {
	case s.queue <- job.ID:
	default:
		delete(s.params, job.ID)
		_, _ = s.registry.Transition(job.ID, domain.JobStateCancelled)
		_ = s.registry.Discard(job.ID)
		s.mu.Unlock()
		return domain.Job{}, ErrQueueFull
	}

	// Published before unlock: a worker that already pulled the ID is
	// parked on s.mu in runJob, so Queued always precedes its events.
	s.publishState(job.ID, domain.JobStateQueued, "Job queued")
	s.mu.Unlock()

	s.log.Info().Str("job", job.ID).Str("source", req.SourcePath).Msg("job submitted")
	return job, nil
}

// Cancel requests cooperative cancellation. A running job observes the
// request at the next chunk boundary; a queued job becomes terminal
// immediately.
func (s *Scheduler) Cancel(jobID string) error {
	job, err := s.registry.Get(jobID)
	if err != nil {
		return err
	}
	if job.State.Terminal() {
		return ErrJobFinished
	}

	s.mu.Lock()
	if cancel, running := s.cancels[jobID]; running {
		s.mu.Unlock()
		cancel()
		s.log.Info().Str("job", jobID).Msg("cancellation requested")
		return nil
	}

	// Still queued: make it terminal before a worker can pick it up.
	if _, err := s.registry.Transition(jobID, domain.JobStateCancelled); err != nil {
		s.mu.Unlock()
		return err
	}
	delete(s.params, jobID)
	s.mu.Unlock()

	s.publishState(jobID, domain.JobStateCancelled, "Job cancelled before start")
	return nil
}

// worker pulls queued job IDs in FIFO order.
func (s *Scheduler) worker() {
	defer s.wg.Done()
	for id := range s.queue {
		s.runJob(id)
	}
}

// runJob drives one job through the full pipeline.
func (s *Scheduler) runJob(id string) {
	s.mu.Lock()
	job, err := s.registry.Get(id)
	if err != nil || job.State.Terminal() {
		s.mu.Unlock()
		return
	}
	req := s.params[id]
	ctx, cancel := context.WithCancel(s.baseCtx)
	s.cancels[id] = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		delete(s.cancels, id)
		delete(s.params, id)
		s.mu.Unlock()
	}()

	s.transition(id, domain.JobStateDecoding, "Decoding source media")

	src, err := s.decoder.Decode(ctx, req.SourcePath)
	if err != nil {
		if ctx.Err() != nil {
			s.finishCancelled(id)
			return
		}
		s.fail(id, "decode", err)
		return
	}
	defer func() {
		_ = src.Close()
	}()

	total := src.Duration()
	s.transition(id, domain.JobStateChunking, "Splitting decoded audio")

	splitter, err := chunk.NewSplitter(src, s.cfg.ChunkDuration, s.cfg.Overlap, s.cfg.MinChunkDuration)
	if err != nil {
		s.fail(id, "decode", err)
		return
	}

	collector := assemble.NewCollector()
	transcribing := false

	for {
		// Cooperative cancellation: checked before each unit of work.
		if ctx.Err() != nil {
			s.finishCancelled(id)
			return
		}

		c, err := splitter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			s.fail(id, "decode", err)
			return
		}

		if !transcribing {
			s.transition(id, domain.JobStateTranscribing, "Transcribing audio")
			transcribing = true
		}

		// The engine call gets the scheduler context, not the job
		// context: a cancelled job lets the in-flight chunk finish so
		// the engine session is never left in an undefined state.
		segments, err := s.engine.Transcribe(s.baseCtx, c, req.Language)
		if err != nil {
			var chunkErr *engine.ChunkError
			if !errors.As(err, &chunkErr) {
				s.fail(id, "engine", err)
				return
			}

			warning := fmt.Sprintf("chunk %d (%s - %s): %v",
				c.Index, c.Start, c.End, chunkErr.Err)
			s.registry.AddWarning(id, warning)
			s.publish(Event{JobID: id, Type: EventTypeWarning, Message: warning})
			s.log.Warn().Str("job", id).Int("chunk", c.Index).Err(chunkErr.Err).Msg("chunk inference failed")

			collector.Add(c.Start, c.End, []domain.TranscriptSegment{{
				Start: c.Start,
				End:   c.End,
				Text:  assemble.GapMarker,
			}})
		} else {
			absolute := make([]domain.TranscriptSegment, len(segments))
			for i, seg := range segments {
				seg.Start += c.Start
				seg.End += c.Start
				absolute[i] = seg
			}
			collector.Add(c.Start, c.End, absolute)
		}

		if total > 0 {
			fraction := float64(c.End) / float64(total)
			if updated, err := s.registry.SetProgress(id, fraction); err == nil {
				s.publish(Event{JobID: id, Type: EventTypeProgress, Fraction: updated.Progress})
			}
		}
	}

	if ctx.Err() != nil {
		s.finishCancelled(id)
		return
	}

	s.transition(id, domain.JobStateAssembling, "Rendering transcript")

	data, err := assemble.Render(collector.Segments(), req.Format)
	if err != nil {
		s.fail(id, "assemble", err)
		return
	}

	outPath := filepath.Join(req.OutputDir, assemble.OutputFileName(req.SourcePath, req.Format))
	if err := assemble.WriteAtomic(outPath, data); err != nil {
		s.fail(id, "assemble", err)
		return
	}

	s.registry.SetOutput(id, outPath)
	s.transition(id, domain.JobStateCompleted, "Transcript exported")
	s.publish(Event{JobID: id, Type: EventTypeCompleted, OutputPath: outPath})
	s.log.Info().Str("job", id).Str("output", outPath).Msg("job completed")
}

// fail records a terminal failure and emits the mandatory events.
func (s *Scheduler) fail(id, kind string, err error) {
	s.log.Error().Err(err).Str("job", id).Str("kind", kind).Msg("job failed")
	s.registry.RecordError(id, err.Error())
	s.transition(id, domain.JobStateFailed, "Job failed")
	s.publish(Event{JobID: id, Type: EventTypeFailed, ErrorKind: errorKind(kind, err), Message: err.Error()})
}

// finishCancelled moves the job to its cancelled terminal state.
func (s *Scheduler) finishCancelled(id string) {
	s.log.Info().Str("job", id).Msg("job cancelled")
	s.transition(id, domain.JobStateCancelled, "Job cancelled")
}

// transition applies a registry state change and publishes it.
func (s *Scheduler) transition(id string, state domain.JobState, message string) {
	if _, err := s.registry.Transition(id, state); err != nil {
		s.log.Debug().Err(err).Str("job", id).Msg("skipped state transition")
		return
	}
	s.publishState(id, state, message)
}

// publishState emits a normalized state event.
func (s *Scheduler) publishState(id string, state domain.JobState, message string) {
	s.publish(Event{JobID: id, Type: EventTypeState, State: state, Message: message})
}

// publish forwards one event to the bus.
func (s *Scheduler) publish(event Event) {
	s.bus.Publish(event)
}

// errorKind refines the failure classification using the error taxonomy.
func errorKind(kind string, err error) string {
	var decodeErr *decode.DecodeError
	if errors.As(err, &decodeErr) {
		return "decode_" + string(decodeErr.Kind)
	}
	if errors.Is(err, engine.ErrSessionFailed) {
		return "engine_session"
	}
	return kind
}

// NewMediaDecoder wraps the ffmpeg adapter as a scheduler Decoder.
func NewMediaDecoder(adapter *decode.Adapter) Decoder {
	return mediaDecoder{adapter: adapter}
}

type mediaDecoder struct {
	adapter *decode.Adapter
}

// Decode delegates to the ffmpeg adapter.
func (d mediaDecoder) Decode(ctx context.Context, path string) (AudioSource, error) {
	stream, err := d.adapter.Decode(ctx, path)
	if err != nil {
		return nil, err
	}
	return stream, nil
}
