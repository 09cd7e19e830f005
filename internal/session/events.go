package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type EventKind string

const (
	EventStateChanged        EventKind = "state_changed"
	EventTranscript          EventKind = "transcript"
	EventRequestSent         EventKind = "request_sent"
	EventReply               EventKind = "reply"
	EventTranscriptionFailed EventKind = "transcription_failed"
	EventHistoryCleared      EventKind = "history_cleared"
)

// Event is what presentation layers observe.
type Event struct {
	Kind     EventKind `json:"kind"`
	TurnID   uint64    `json:"turn_id,omitempty"`
	// RecordID is set on request_sent and reply events.
	RecordID *uuid.UUID `json:"record_id,omitempty"`
	Text     string    `json:"text,omitempty"`
	State    State     `json:"state,omitempty"`
	Late     bool      `json:"late,omitempty"`
	At       time.Time `json:"at"`
}

// Bus fans events out to subscribers. Publish never blocks: a subscriber
// whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool
}

func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe returns an event channel and a function that cancels the subscription.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

func (b *Bus) Publish(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Close ends every subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
