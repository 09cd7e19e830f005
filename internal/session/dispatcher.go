package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/aisly/internal/metrics"
	"github.com/xpanvictor/aisly/pkg/Logger"
	"github.com/xpanvictor/aisly/pkg/assistant"
	"golang.org/x/sync/semaphore"
)

var ErrDispatcherClosed = errors.New("session: dispatcher closed")

// Turn is one request handed to the chat backend.
type Turn struct {
	ID       uint64
	RecordID uuid.UUID
	Question string
	History  []assistant.Message
	// stops observed when the turn was submitted; a later stop makes the completion late
	Stops       uint64
	SubmittedAt time.Time
}

type Completion struct {
	Turn        Turn
	Reply       string
	Failed      bool
	Duration    time.Duration
	CompletedAt time.Time
}

// Ticket is the handle returned by Submit. Done yields exactly one completion.
type Ticket struct {
	TurnID   uint64
	RecordID uuid.UUID
	Done     <-chan Completion
}

type DispatcherConfig struct {
	// MaxInFlight bounds concurrent chat calls; 0 means unbounded.
	MaxInFlight int64
	// Buffer is the capacity of the shared completion channel.
	Buffer int
}

// Dispatcher runs each turn on its own goroutine so the control loop never
// waits on the network. Completions are delivered in completion order, not
// submission order; each carries its turn id.
type Dispatcher struct {
	chat    assistant.ChatSession
	sem     *semaphore.Weighted
	metrics *metrics.Metrics
	logger  *Logger.Logger

	completions chan Completion
	nextID      atomic.Uint64
	inFlight    atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewDispatcher(chat assistant.ChatSession, cfg DispatcherConfig, m *metrics.Metrics, logger *Logger.Logger) *Dispatcher {
	if cfg.Buffer <= 0 {
		cfg.Buffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		chat:        chat,
		metrics:     m,
		logger:      logger,
		completions: make(chan Completion, cfg.Buffer),
		ctx:         ctx,
		cancel:      cancel,
	}
	if cfg.MaxInFlight > 0 {
		d.sem = semaphore.NewWeighted(cfg.MaxInFlight)
	}
	return d
}

// Submit assigns the next turn id and starts the call.
func (d *Dispatcher) Submit(turn Turn) (Ticket, error) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return Ticket{}, ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	turn.ID = d.nextID.Add(1)
	if turn.SubmittedAt.IsZero() {
		turn.SubmittedAt = time.Now()
	}

	done := make(chan Completion, 1)
	go d.run(turn, done)

	return Ticket{TurnID: turn.ID, RecordID: turn.RecordID, Done: done}, nil
}

func (d *Dispatcher) run(turn Turn, done chan<- Completion) {
	defer d.wg.Done()

	// wait for a slot here, never in the caller
	if d.sem != nil {
		if err := d.sem.Acquire(d.ctx, 1); err != nil {
			d.deliver(done, Completion{
				Turn:        turn,
				Reply:       assistant.ExceptionFailure(err),
				Failed:      true,
				CompletedAt: time.Now(),
			})
			return
		}
		defer d.sem.Release(1)
	}

	d.inFlight.Add(1)
	d.metrics.RecordChatStarted()
	start := time.Now()

	reply := d.chat.Send(d.ctx, turn.History)

	duration := time.Since(start)
	failed := assistant.IsFailure(reply)
	d.inFlight.Add(-1)
	d.metrics.RecordChatFinished(failed, duration.Seconds())
	d.logger.Debugf("turn %d completed in %s (failed=%v)", turn.ID, duration, failed)

	d.deliver(done, Completion{
		Turn:        turn,
		Reply:       reply,
		Failed:      failed,
		Duration:    duration,
		CompletedAt: time.Now(),
	})
}

func (d *Dispatcher) deliver(done chan<- Completion, c Completion) {
	done <- c
	close(done)

	select {
	case d.completions <- c:
	case <-d.ctx.Done():
	}
}

// Completions is the shared stream of finished turns. It is closed by Close.
func (d *Dispatcher) Completions() <-chan Completion {
	return d.completions
}

func (d *Dispatcher) InFlight() int {
	return int(d.inFlight.Load())
}

// Wait blocks until every submitted turn has been delivered.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close cancels outstanding calls and closes the completion stream.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.mu.Unlock()

	d.cancel()
	d.wg.Wait()
	close(d.completions)
}
