package history

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryStore struct {
	mu      sync.RWMutex
	records []Record
	index   map[uuid.UUID]int
}

func NewMemoryStore() Store {
	return &memoryStore{index: make(map[uuid.UUID]int)}
}

// Append implements Store.
func (m *memoryStore) Append(_ context.Context, question string) (Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec := Record{
		ID:        uuid.New(),
		Seq:       len(m.records) + 1,
		Question:  question,
		CreatedAt: time.Now(),
	}
	m.index[rec.ID] = len(m.records)
	m.records = append(m.records, rec)
	return rec, nil
}

// SetAnswer implements Store.
func (m *memoryStore) SetAnswer(_ context.Context, id uuid.UUID, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	i, ok := m.index[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	m.records[i].Answer = &answer
	m.records[i].AnsweredAt = &now
	return nil
}

// List implements Store.
func (m *memoryStore) List(_ context.Context) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Record, len(m.records))
	copy(out, m.records)
	return out, nil
}

// Get implements Store.
func (m *memoryStore) Get(_ context.Context, id uuid.UUID) (Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	i, ok := m.index[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return m.records[i], nil
}

// Clear implements Store.
func (m *memoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.records = nil
	m.index = make(map[uuid.UUID]int)
	return nil
}

func (m *memoryStore) Close() error {
	return nil
}
