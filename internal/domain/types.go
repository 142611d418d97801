package domain

import "time"

// JobState tracks each pipeline stage for a transcription job.
type JobState string

const (
	JobStateQueued       JobState = "queued"
	JobStateDecoding     JobState = "decoding"
	JobStateChunking     JobState = "chunking"
	JobStateTranscribing JobState = "transcribing"
	JobStateAssembling   JobState = "assembling"
	JobStateCompleted    JobState = "completed"
	JobStateFailed       JobState = "failed"
	JobStateCancelled    JobState = "cancelled"
)

// Terminal reports whether the state ends the job lifecycle.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateCompleted, JobStateFailed, JobStateCancelled:
		return true
	default:
		return false
	}
}

// OutputFormat selects the rendering of an assembled transcript.
type OutputFormat string

const (
	FormatText     OutputFormat = "txt"
	FormatSubtitle OutputFormat = "srt"
	FormatMarkdown OutputFormat = "md"
	FormatWord     OutputFormat = "docx"
)

// Settings contains user-selectable runtime configuration.
type Settings struct {
	ModelPath      string       `json:"modelPath"`
	OutputDir      string       `json:"outputDir"`
	Language       string       `json:"language"`
	OutputFormat   OutputFormat `json:"outputFormat"`
	ChunkSeconds   int          `json:"chunkSeconds"`
	OverlapSeconds int          `json:"overlapSeconds"`
	DecodeWorkers  int          `json:"decodeWorkers"`
}

// Job stores identity, lifecycle state, and outcome of one transcription request.
type Job struct {
	ID         string       `json:"id"`
	SourcePath string       `json:"sourcePath"`
	Format     OutputFormat `json:"format"`
	State      JobState     `json:"state"`
	CreatedAt  time.Time    `json:"createdAt"`
	Progress   float64      `json:"progress"`
	OutputPath string       `json:"outputPath,omitempty"`
	Error      string       `json:"error,omitempty"`
	Warnings   []string     `json:"warnings,omitempty"`
}

// AudioChunk is a bounded slice of decoded mono PCM with its position
// in the source timeline.
type AudioChunk struct {
	Index      int
	Start      time.Duration
	End        time.Duration
	SampleRate int
	Samples    []int16
}

// Duration returns the length of the chunk.
func (c AudioChunk) Duration() time.Duration {
	return c.End - c.Start
}

// TranscriptSegment is a timestamped span of recognized text.
type TranscriptSegment struct {
	Start      time.Duration `json:"start"`
	End        time.Duration `json:"end"`
	Text       string        `json:"text"`
	Confidence float64       `json:"confidence,omitempty"`
}
