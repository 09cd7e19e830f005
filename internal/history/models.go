package history

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrNotFound = errors.New("history: record not found")

// Record is one displayed question and its answer, if it has arrived.
// Records are never replayed into the model.
type Record struct {
	ID         uuid.UUID  `json:"id"`
	Seq        int        `json:"seq"`
	Question   string     `json:"question"`
	Answer     *string    `json:"answer,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty"`
}

func (r Record) Answered() bool {
	return r.Answer != nil
}

// Store keeps HistoryRecords in append order. Seq restarts at 1 after Clear.
type Store interface {
	Append(ctx context.Context, question string) (Record, error)
	SetAnswer(ctx context.Context, id uuid.UUID, answer string) error
	List(ctx context.Context) ([]Record, error)
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	Clear(ctx context.Context) error
	Close() error
}
