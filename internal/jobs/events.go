package jobs

import (
	"sync"
	"time"

	"audio-transcriber/internal/domain"
	"audio-transcriber/internal/progress"
)

// EventType classifies messages emitted during job execution.
type EventType string

const (
	EventTypeStatus   EventType = "status"
	EventTypeProgress EventType = "progress"
	EventTypeFile     EventType = "file"
	EventTypeLog      EventType = "log"
	EventTypeResult   EventType = "result"
	EventTypeError    EventType = "error"
	EventTypeView     EventType = "view"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq        int64                       `json:"seq"`
	Timestamp  time.Time                   `json:"timestamp"`
	JobID      string                      `json:"jobId"`
	Type       EventType                   `json:"type"`
	State      domain.JobState             `json:"state,omitempty"`
	Stage      domain.Stage                `json:"stage,omitempty"`
	Job        *domain.ProcessingJob       `json:"job,omitempty"`
	Sample     *domain.ProcessingProgress  `json:"sample,omitempty"`
	Estimate   *progress.Estimate          `json:"estimate,omitempty"`
	FileID     string                      `json:"fileId,omitempty"`
	FileStatus domain.FileStatus           `json:"fileStatus,omitempty"`
	View       domain.View                 `json:"view,omitempty"`
	Result     *domain.TranscriptionResult `json:"result,omitempty"`
	Error      *domain.ErrorState          `json:"error,omitempty"`
	Message    string                      `json:"message,omitempty"`
	Command    string                      `json:"command,omitempty"`
	Args       []string                    `json:"args,omitempty"`
	ExitCode   int                         `json:"exitCode,omitempty"`
	Stderr     string                      `json:"stderr,omitempty"`
}

// EventBus stores recent events, provides incremental reads, and fans events
// out to channel subscribers.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
	nextSub   int
	subs      map[int]chan Event
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
		subs:      make(map[int]chan Event),
	}
}

// Publish appends one event and assigns sequence and timestamp. Subscribers
// whose buffer is full miss the event; they can catch up with Since.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

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

	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
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

// Subscribe registers a buffered channel receiving every later event. The
// returned func unsubscribes and closes the channel.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	id := b.nextSub
	b.nextSub++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}
