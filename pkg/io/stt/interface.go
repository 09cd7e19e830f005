package stt

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/aisly/pkg/io/stt/segment"
)

var ErrEmptySegment = errors.New("stt: empty segment")

// DefaultLanguage is the language hint sent with every segment.
const DefaultLanguage = "ru"

type Transcript struct {
	Text string
	// some other meta
	Language      string
	SegmentID     uuid.UUID // uuid from input
	GeneratedAt   time.Time
	AudioDuration time.Duration
}

func (t Transcript) Empty() bool {
	return t.Text == ""
}

// Transcriber turns one flushed segment into text. Implementations are
// created once and shared across calls.
type Transcriber interface {
	Transcribe(ctx context.Context, seg segment.Segment) (Transcript, error)
}
