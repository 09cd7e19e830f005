package audio

import (
	"encoding/binary"
	"errors"
	"math"
	"time"
)

const (
	DefaultSampleRate = 16000
	DefaultChannels   = 2

	// timestamp(8) + sampleRate(4) + channels(2) + sampleCount(4)
	frameHeaderSize = 18
)

var ErrShortFrame = errors.New("audio: frame data too short")

// Frame is one block of interleaved float32 samples as delivered by the driver.
// Frames are never mutated after capture.
type Frame struct {
	Samples    []float32
	Timestamp  time.Time
	SampleRate int32
	Channels   int16
}

// FromF32LE copies little endian float32 PCM into a new frame.
func FromF32LE(raw []byte, channels int16, sampleRate int32, at time.Time) Frame {
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return Frame{
		Samples:    samples,
		Timestamp:  at,
		SampleRate: sampleRate,
		Channels:   channels,
	}
}

// FrameCount is the number of sample frames (samples per channel).
func (f Frame) FrameCount() int {
	if f.Channels <= 0 {
		return len(f.Samples)
	}
	return len(f.Samples) / int(f.Channels)
}

func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.FrameCount()) * time.Second / time.Duration(f.SampleRate)
}

func (f *Frame) MarshalBinary() ([]byte, error) {
	buf := make([]byte, frameHeaderSize+4*len(f.Samples))

	offset := 0
	var ts int64
	if !f.Timestamp.IsZero() {
		ts = f.Timestamp.UnixNano()
	}
	binary.LittleEndian.PutUint64(buf[offset:], uint64(ts))
	offset += 8
	binary.LittleEndian.PutUint32(buf[offset:], uint32(f.SampleRate))
	offset += 4
	binary.LittleEndian.PutUint16(buf[offset:], uint16(f.Channels))
	offset += 2
	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(f.Samples)))
	offset += 4

	for _, s := range f.Samples {
		binary.LittleEndian.PutUint32(buf[offset:], math.Float32bits(s))
		offset += 4
	}

	return buf, nil
}

func (f *Frame) UnmarshalBinary(data []byte) error {
	if len(data) < frameHeaderSize {
		return ErrShortFrame
	}

	offset := 0
	// 0 encodes the zero time
	f.Timestamp = time.Time{}
	if ts := int64(binary.LittleEndian.Uint64(data[offset:])); ts != 0 {
		f.Timestamp = time.Unix(0, ts)
	}
	offset += 8
	f.SampleRate = int32(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4
	f.Channels = int16(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	count := int(binary.LittleEndian.Uint32(data[offset:]))
	offset += 4

	if len(data[offset:]) < count*4 {
		return ErrShortFrame
	}
	f.Samples = make([]float32, count)
	for i := range f.Samples {
		f.Samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[offset:]))
		offset += 4
	}

	return nil
}
