package segment

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/aisly/pkg/io/audio"
	"github.com/xpanvictor/aisly/pkg/io/stt/vad"
)

// Segment is the batch of voiced frames detached by one flush.
// Frames are in capture order; dropped silent frames leave gaps.
type Segment struct {
	ID        uuid.UUID
	Frames    []audio.Frame
	FlushedAt time.Time
}

func (s Segment) Empty() bool {
	return len(s.Frames) == 0
}

func (s Segment) Len() int {
	return len(s.Frames)
}

// Duration sums the audio held by the segment, not the wall clock it spans.
func (s Segment) Duration() time.Duration {
	var d time.Duration
	for _, f := range s.Frames {
		d += f.Duration()
	}
	return d
}

// PushResult tells the caller what happened to a pushed frame.
type PushResult int

const (
	Retained PushResult = iota
	DroppedSilent
	DroppedInactive
	DroppedOversize
)

// Stats are cumulative since the buffer was created.
type Stats struct {
	Retained uint64
	Evicted  uint64
	Flushes  uint64
}

// Buffer holds the single open segment. Push is called from the audio
// driver thread, Flush from the control loop.
type Buffer struct {
	gate vad.Gate
	ring audio.FrameRing

	mu          sync.Mutex
	active      bool
	lastVoiceAt time.Time
	stats       Stats
}

func NewBuffer(gate vad.Gate, ring audio.FrameRing) *Buffer {
	return &Buffer{
		gate: gate,
		ring: ring,
	}
}

// Activate opens a fresh segment and starts accepting frames.
func (b *Buffer) Activate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.ring.Reset()
	b.active = true
}

// Deactivate stops accepting frames. Buffered frames stay until the next flush.
func (b *Buffer) Deactivate() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.active = false
}

func (b *Buffer) Active() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.active
}

// Push appends the frame when capture is active and the gate reports voice.
func (b *Buffer) Push(frame audio.Frame) PushResult {
	// the gate is pure, keep it outside the lock
	voiced := b.gate.IsVoiced(frame)

	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.active {
		return DroppedInactive
	}
	if !voiced {
		return DroppedSilent
	}

	evicted, err := b.ring.Enqueue(frame)
	b.stats.Evicted += uint64(evicted)
	if err != nil {
		return DroppedOversize
	}
	b.stats.Retained++
	b.lastVoiceAt = frame.Timestamp
	return Retained
}

// Flush detaches every buffered frame and leaves the buffer empty.
// An empty buffer yields an empty Segment.
func (b *Buffer) Flush() Segment {
	b.mu.Lock()
	frames := b.ring.Drain()
	b.stats.Flushes++
	b.mu.Unlock()

	now := time.Now()
	if len(frames) == 0 {
		return Segment{FlushedAt: now}
	}
	return Segment{
		ID:        uuid.New(),
		Frames:    frames,
		FlushedAt: now,
	}
}

// Len is the number of frames in the open segment.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ring.Frames()
}

// LastVoiceAt is the capture time of the newest retained frame.
func (b *Buffer) LastVoiceAt() time.Time {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastVoiceAt
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
