package audio

import (
	"testing"
	"time"
)

func testFrame(v float32, n int) Frame {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = v
	}
	return Frame{
		Samples:    samples,
		Timestamp:  time.Now(),
		SampleRate: DefaultSampleRate,
		Channels:   DefaultChannels,
	}
}

func TestFrameRing(t *testing.T) {
	ring := NewRing(1024)

	if ring.Capacity() != 1024 {
		t.Errorf("Expected capacity 1024, got %d", ring.Capacity())
	}
	if ring.Len() != 0 || ring.Frames() != 0 {
		t.Errorf("Expected empty ring, got %d bytes / %d frames", ring.Len(), ring.Frames())
	}

	frame := testFrame(0.25, 8)
	if _, err := ring.Enqueue(frame); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	if ring.Frames() != 1 {
		t.Errorf("Expected 1 frame, got %d", ring.Frames())
	}

	got, ok := ring.Dequeue()
	if !ok {
		t.Fatal("Failed to dequeue")
	}
	if len(got.Samples) != len(frame.Samples) {
		t.Fatalf("Expected %d samples, got %d", len(frame.Samples), len(got.Samples))
	}
	for i, s := range got.Samples {
		if s != frame.Samples[i] {
			t.Errorf("Sample mismatch at %d: expected %v, got %v", i, frame.Samples[i], s)
		}
	}
	if got.SampleRate != frame.SampleRate || got.Channels != frame.Channels {
		t.Errorf("Format mismatch: got %d Hz / %d ch", got.SampleRate, got.Channels)
	}
	if _, ok := ring.Dequeue(); ok {
		t.Error("Dequeue on empty ring should fail")
	}
}

func TestFrameRingDrainKeepsOrder(t *testing.T) {
	ring := NewRing(4096)

	for i := 0; i < 3; i++ {
		if _, err := ring.Enqueue(testFrame(float32(i), 4)); err != nil {
			t.Fatalf("Failed to enqueue frame %d: %v", i, err)
		}
	}

	frames := ring.Drain()
	if len(frames) != 3 {
		t.Fatalf("Expected 3 drained frames, got %d", len(frames))
	}
	for i, f := range frames {
		if f.Samples[0] != float32(i) {
			t.Errorf("Frame %d out of order: first sample %v", i, f.Samples[0])
		}
	}
	if ring.Len() != 0 || ring.Frames() != 0 {
		t.Errorf("Ring should be empty after drain, got %d bytes", ring.Len())
	}
	if again := ring.Drain(); len(again) != 0 {
		t.Errorf("Second drain should be empty, got %d", len(again))
	}
}

func TestFrameRingEvictsOldest(t *testing.T) {
	// each record: 4 byte prefix + 18 byte header + 4 samples * 4 = 38 bytes
	ring := NewRing(100)

	evictedTotal := 0
	for i := 0; i < 4; i++ {
		evicted, err := ring.Enqueue(testFrame(float32(i), 4))
		if err != nil {
			t.Fatalf("Failed to enqueue frame %d: %v", i, err)
		}
		evictedTotal += evicted
	}

	if evictedTotal != 2 {
		t.Errorf("Expected 2 evictions, got %d", evictedTotal)
	}
	frames := ring.Drain()
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames to survive, got %d", len(frames))
	}
	if frames[0].Samples[0] != 2 || frames[1].Samples[0] != 3 {
		t.Errorf("Expected newest frames 2 and 3, got %v and %v", frames[0].Samples[0], frames[1].Samples[0])
	}
}

func TestFrameRingRejectsOversizedFrame(t *testing.T) {
	ring := NewRing(32)
	if _, err := ring.Enqueue(testFrame(1, 64)); err != ErrFrameTooLarge {
		t.Errorf("Expected ErrFrameTooLarge, got %v", err)
	}
}

func TestFrameSerialization(t *testing.T) {
	original := testFrame(-0.5, 6)

	data, err := original.MarshalBinary()
	if err != nil {
		t.Fatalf("Failed to marshal: %v", err)
	}

	var restored Frame
	if err := restored.UnmarshalBinary(data); err != nil {
		t.Fatalf("Failed to unmarshal: %v", err)
	}
	if len(restored.Samples) != 6 || restored.Samples[5] != -0.5 {
		t.Errorf("Unexpected samples %v", restored.Samples)
	}

	timeDiff := restored.Timestamp.Sub(original.Timestamp)
	if timeDiff < 0 {
		timeDiff = -timeDiff
	}
	if timeDiff > time.Microsecond {
		t.Errorf("Timestamp difference too large: %v", timeDiff)
	}

	if err := restored.UnmarshalBinary(data[:10]); err != ErrShortFrame {
		t.Errorf("Expected ErrShortFrame, got %v", err)
	}
}

func TestFrameZeroTimestampThroughRing(t *testing.T) {
	ring := NewRing(1024)
	frame := testFrame(0.1, 4)
	frame.Timestamp = time.Time{}

	if _, err := ring.Enqueue(frame); err != nil {
		t.Fatalf("Failed to enqueue: %v", err)
	}
	got, ok := ring.Dequeue()
	if !ok {
		t.Fatal("Failed to dequeue")
	}
	if !got.Timestamp.IsZero() {
		t.Errorf("Expected zero timestamp, got %v", got.Timestamp)
	}
}

func TestFromF32LE(t *testing.T) {
	f := testFrame(0.125, 4)
	raw, _ := f.MarshalBinary()

	frame := FromF32LE(raw[frameHeaderSize:], 2, 16000, time.Now())
	if len(frame.Samples) != 4 || frame.Samples[3] != 0.125 {
		t.Errorf("Unexpected samples %v", frame.Samples)
	}
	if frame.FrameCount() != 2 {
		t.Errorf("Expected 2 sample frames, got %d", frame.FrameCount())
	}
}
