// Package chunk splits a decoded PCM stream into bounded, overlapping
// segments suitable for single inference calls. It is a pure
// transformation over in-memory samples: no engine or network access.
package chunk

import (
	"fmt"
	"io"
	"time"

	"echoscript/internal/domain"
)

// DefaultMinChunkDuration drops trailing slivers too short to carry speech.
const DefaultMinChunkDuration = 200 * time.Millisecond

// SampleSource provides sequential access to decoded mono PCM samples.
type SampleSource interface {
	SampleRate() int
	ReadSamples(buf []int16) (int, error)
}

// Splitter yields an ordered, lazy sequence of audio chunks.
//
// Chunk boundaries fall on multiples of the chunk duration; every chunk
// after the first starts one overlap earlier, so chunk i covers
// [i*chunk - overlap, (i+1)*chunk] and adjacent chunks share exactly the
// overlap duration. The final chunk may be shorter.
type Splitter struct {
	src            SampleSource
	rate           int
	chunkSamples   int
	overlapSamples int
	minSamples     int
	index          int
	carry          []int16
	done           bool
}

// NewSplitter validates the chunking policy and prepares a splitter over src.
func NewSplitter(src SampleSource, chunkDur, overlap, minDur time.Duration) (*Splitter, error) {
	if src == nil {
		return nil, fmt.Errorf("chunk: sample source is required")
	}
	rate := src.SampleRate()
	if rate <= 0 {
		return nil, fmt.Errorf("chunk: invalid sample rate %d", rate)
	}
	if chunkDur <= 0 {
		return nil, fmt.Errorf("chunk: chunk duration must be positive, got %s", chunkDur)
	}
	if overlap < 0 || overlap >= chunkDur {
		return nil, fmt.Errorf("chunk: overlap %s must be in [0, %s)", overlap, chunkDur)
	}
	if minDur < 0 {
		return nil, fmt.Errorf("chunk: minimum duration must not be negative, got %s", minDur)
	}

	return &Splitter{
		src:            src,
		rate:           rate,
		chunkSamples:   samplesFor(chunkDur, rate),
		overlapSamples: samplesFor(overlap, rate),
		minSamples:     samplesFor(minDur, rate),
	}, nil
}

// Next returns the next chunk in timeline order, or io.EOF when the
// stream is exhausted. A final chunk below the minimum viable duration
// is dropped, never emitted.
func (s *Splitter) Next() (domain.AudioChunk, error) {
	if s.done {
		return domain.AudioChunk{}, io.EOF
	}

	carried := len(s.carry)
	buf := make([]int16, carried+s.chunkSamples)
	copy(buf, s.carry)

	fresh, err := s.fill(buf[carried:])
	if err != nil && err != io.EOF {
		s.done = true
		return domain.AudioChunk{}, err
	}
	if err == io.EOF {
		s.done = true
	}

	// A chunk made only of carried overlap covers nothing new.
	if fresh == 0 {
		s.done = true
		return domain.AudioChunk{}, io.EOF
	}

	total := carried + fresh
	startSample := s.index * s.chunkSamples
	if s.index > 0 {
		startSample -= carried
	}

	if total < s.minSamples {
		s.done = true
		return domain.AudioChunk{}, io.EOF
	}

	c := domain.AudioChunk{
		Index:      s.index,
		Start:      s.durationAt(startSample),
		End:        s.durationAt(startSample + total),
		SampleRate: s.rate,
		Samples:    buf[:total],
	}

	s.index++
	if !s.done && s.overlapSamples > 0 {
		tail := s.overlapSamples
		if tail > total {
			tail = total
		}
		s.carry = append(s.carry[:0], buf[total-tail:total]...)
	} else {
		s.carry = nil
	}

	return c, nil
}

// fill reads samples until buf is full or the source is exhausted.
func (s *Splitter) fill(buf []int16) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := s.src.ReadSamples(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
		if n == 0 {
			return total, io.EOF
		}
	}
	return total, nil
}

// durationAt converts a sample offset to a timeline position.
func (s *Splitter) durationAt(sample int) time.Duration {
	return time.Duration(sample) * time.Second / time.Duration(s.rate)
}

// samplesFor converts a duration to a sample count at the given rate.
func samplesFor(d time.Duration, rate int) int {
	return int(d * time.Duration(rate) / time.Second)
}
