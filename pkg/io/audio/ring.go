package audio

import (
	"encoding/binary"
	"errors"

	"github.com/smallnest/ringbuffer"
)

var ErrFrameTooLarge = errors.New("audio: frame too large for ring")

// FrameRing is a bounded FIFO of frames stored as length-prefixed records.
// When full the oldest frames are evicted to make room.
// Callers serialise access; the ring does not make multi-record operations atomic.
type FrameRing interface {
	// Enqueue stores a copy of the frame and reports how many old frames were evicted.
	Enqueue(frame Frame) (evicted int, err error)
	Dequeue() (Frame, bool)
	// Drain dequeues every stored frame in FIFO order.
	Drain() []Frame
	Frames() int
	Len() int
	Capacity() int
	Reset()
}

type rbRing struct {
	size   int
	frames int
	rb     *ringbuffer.RingBuffer
}

// Capacity implements FrameRing.
func (r *rbRing) Capacity() int {
	return r.size
}

// Len implements FrameRing. Bytes currently held.
func (r *rbRing) Len() int {
	return r.rb.Length()
}

// Frames implements FrameRing.
func (r *rbRing) Frames() int {
	return r.frames
}

// Reset implements FrameRing.
func (r *rbRing) Reset() {
	r.rb.Reset()
	r.frames = 0
}

// Enqueue implements FrameRing.
func (r *rbRing) Enqueue(frame Frame) (int, error) {
	data, err := frame.MarshalBinary()
	if err != nil {
		return 0, err
	}

	requiredSpace := len(data) + 4
	if requiredSpace > r.rb.Capacity() {
		return 0, ErrFrameTooLarge
	}

	evicted := 0
	for r.rb.Free() < requiredSpace {
		if !r.skipOldest() {
			// corrupted framing, start over
			r.Reset()
			break
		}
		evicted++
	}

	var sizePrefix [4]byte
	binary.LittleEndian.PutUint32(sizePrefix[:], uint32(len(data)))
	if _, err := r.rb.Write(sizePrefix[:]); err != nil {
		return evicted, err
	}
	if _, err := r.rb.Write(data); err != nil {
		return evicted, err
	}
	r.frames++
	return evicted, nil
}

// Dequeue implements FrameRing.
func (r *rbRing) Dequeue() (Frame, bool) {
	data, ok := r.readRecord()
	if !ok {
		return Frame{}, false
	}

	var frame Frame
	if err := frame.UnmarshalBinary(data); err != nil {
		return Frame{}, false
	}
	return frame, true
}

// Drain implements FrameRing.
func (r *rbRing) Drain() []Frame {
	if r.rb.IsEmpty() {
		r.frames = 0
		return nil
	}

	out := make([]Frame, 0, r.frames)
	for !r.rb.IsEmpty() {
		frame, ok := r.Dequeue()
		if !ok {
			r.Reset()
			break
		}
		out = append(out, frame)
	}
	r.frames = 0
	return out
}

// skipOldest drops the oldest complete record.
func (r *rbRing) skipOldest() bool {
	_, ok := r.readRecord()
	return ok
}

func (r *rbRing) readRecord() ([]byte, bool) {
	if r.rb.IsEmpty() {
		return nil, false
	}

	var sizePrefix [4]byte
	n, err := r.rb.Read(sizePrefix[:])
	if err != nil || n != 4 {
		return nil, false
	}

	size := int(binary.LittleEndian.Uint32(sizePrefix[:]))
	data := make([]byte, size)
	if size > 0 {
		n, err = r.rb.Read(data)
		if err != nil || n != size {
			return nil, false
		}
	}
	if r.frames > 0 {
		r.frames--
	}
	return data, true
}

// NewRing allocates a ring holding at most size bytes of encoded frames.
func NewRing(size int) FrameRing {
	return &rbRing{
		size: size,
		rb:   ringbuffer.New(size).SetBlocking(false),
	}
}

// RingSizeFor returns a ring size able to hold the given seconds of audio.
func RingSizeFor(seconds float64, sampleRate, channels, framesPerBuffer int) int {
	if framesPerBuffer <= 0 {
		framesPerBuffer = sampleRate / 100
	}
	samplesPerSecond := float64(sampleRate * channels)
	framesPerSecond := float64(sampleRate) / float64(framesPerBuffer)
	perFrameOverhead := float64(frameHeaderSize + 4)
	return int(seconds*(samplesPerSecond*4+framesPerSecond*perFrameOverhead)) + 1
}
