package jobs

import (
	"sync"
	"time"

	"echoscript/internal/domain"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventTypeState     EventType = "state"
	EventTypeProgress  EventType = "progress"
	EventTypeWarning   EventType = "warning"
	EventTypeCompleted EventType = "completed"
	EventTypeFailed    EventType = "failed"
)

// Event is a sequenced, one-directional payload for interface-layer
// subscribers. The pipeline never reads events back.
type Event struct {
	Seq        int64           `json:"seq"`
	Timestamp  time.Time       `json:"timestamp"`
	JobID      string          `json:"jobId"`
	Type       EventType       `json:"type"`
	State      domain.JobState `json:"state,omitempty"`
	Fraction   float64         `json:"fraction,omitempty"`
	OutputPath string          `json:"outputPath,omitempty"`
	ErrorKind  string          `json:"errorKind,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// EventBus stores recent events for incremental reads and optionally
// pushes each published event to a sink callback.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	sink      func(Event)
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// SetSink registers a callback invoked once per published event, outside
// the bus lock. A nil sink disables push delivery.
func (b *EventBus) SetSink(sink func(Event)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sink = sink
}

// Publish appends one event and assigns sequence and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	sink := b.sink
	b.mu.Unlock()

	if sink != nil {
		sink(event)
	}
	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
