package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/xpanvictor/aisly/internal/history"
	"github.com/xpanvictor/aisly/internal/metrics"
	"github.com/xpanvictor/aisly/internal/prompts"
	"github.com/xpanvictor/aisly/pkg/Logger"
	"github.com/xpanvictor/aisly/pkg/assistant"
	"github.com/xpanvictor/aisly/pkg/io/audio"
	"github.com/xpanvictor/aisly/pkg/io/capture"
	"github.com/xpanvictor/aisly/pkg/io/stt"
	"github.com/xpanvictor/aisly/pkg/io/stt/segment"
)

var (
	ErrAlreadyListening = errors.New("session: already listening")
	ErrEmptyRequest     = errors.New("session: empty request")
)

type State string

const (
	Idle      State = "idle"
	Listening State = "listening"
)

const (
	eventStart = "start"
	eventStop  = "stop"
)

const (
	FlushInterval = "interval"
	FlushSilence  = "silence"
)

// FlushConfig picks when the open segment is handed to transcription.
type FlushConfig struct {
	Policy         string        `mapstructure:"policy"`
	Interval       time.Duration `mapstructure:"interval"`
	SilenceTimeout time.Duration `mapstructure:"silence_timeout"`
	MaxSegment     time.Duration `mapstructure:"max_segment"`
}

func DefaultFlushConfig() FlushConfig {
	return FlushConfig{
		Policy:         FlushInterval,
		Interval:       time.Second,
		SilenceTimeout: 800 * time.Millisecond,
		MaxSegment:     15 * time.Second,
	}
}

type Config struct {
	Flush             FlushConfig
	TranscribeTimeout time.Duration
	UseLegend         bool
}

// Deps are the collaborators an Orchestrator drives.
type Deps struct {
	Capture     capture.Capturer
	Buffer      *segment.Buffer
	Transcriber stt.Transcriber
	Dispatcher  *Dispatcher
	History     history.Store
	Prompts     prompts.Resources
	Bus         *Bus
	Metrics     *metrics.Metrics
	Logger      *Logger.Logger
}

// Status is a point in time view for presentation layers.
type Status struct {
	State     State `json:"state"`
	UseLegend bool  `json:"use_legend"`
	InFlight  int   `json:"in_flight"`
	Buffered  int   `json:"buffered_frames"`
}

// Orchestrator runs the Idle/Listening state machine: while listening it
// flushes the segment buffer on every tick, transcribes non-empty segments
// and dispatches the normalised text as a chat turn.
type Orchestrator struct {
	cfg        Config
	capture    capture.Capturer
	buffer     *segment.Buffer
	stt        stt.Transcriber
	dispatcher *Dispatcher
	history    history.Store
	prompts    prompts.Resources
	corrector  *prompts.Corrector
	bus        *Bus
	metrics    *metrics.Metrics
	logger     *Logger.Logger

	machine   *fsm.FSM
	useLegend atomic.Bool
	stops     atomic.Uint64
	lastTurn  atomic.Uint64

	// mu serialises Start and Stop; the loop goroutine never takes it
	mu         sync.Mutex
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	exchangeMu sync.Mutex
	exchange   []assistant.Message
}

func New(cfg Config, deps Deps) *Orchestrator {
	def := DefaultFlushConfig()
	if cfg.Flush.Policy == "" {
		cfg.Flush.Policy = def.Policy
	}
	if cfg.Flush.Interval <= 0 {
		cfg.Flush.Interval = def.Interval
	}
	if cfg.Flush.SilenceTimeout <= 0 {
		cfg.Flush.SilenceTimeout = def.SilenceTimeout
	}
	if cfg.Flush.MaxSegment <= 0 {
		cfg.Flush.MaxSegment = def.MaxSegment
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = 30 * time.Second
	}
	if deps.Bus == nil {
		deps.Bus = NewBus()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewNop()
	}

	o := &Orchestrator{
		cfg:        cfg,
		capture:    deps.Capture,
		buffer:     deps.Buffer,
		stt:        deps.Transcriber,
		dispatcher: deps.Dispatcher,
		history:    deps.History,
		prompts:    deps.Prompts,
		corrector:  prompts.NewCorrector(deps.Prompts.Terms),
		bus:        deps.Bus,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
	}
	o.useLegend.Store(cfg.UseLegend)

	o.machine = fsm.NewFSM(
		string(Idle),
		fsm.Events{
			{Name: eventStart, Src: []string{string(Idle)}, Dst: string(Listening)},
			{Name: eventStop, Src: []string{string(Listening)}, Dst: string(Idle)},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				o.logger.Infof("session %s -> %s", e.Src, e.Dst)
				o.bus.Publish(Event{Kind: EventStateChanged, State: State(e.Dst)})
			},
		},
	)
	return o
}

func (o *Orchestrator) State() State {
	return State(o.machine.Current())
}

// Start opens the capture device and starts the flush loop.
func (o *Orchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.machine.Can(eventStart) {
		return ErrAlreadyListening
	}

	o.buffer.Activate()
	if err := o.capture.Start(o.onFrame); err != nil {
		o.buffer.Deactivate()
		return fmt.Errorf("failed to start listening: %w", err)
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	o.loopCancel = cancel
	o.loopDone = make(chan struct{})
	go o.loop(loopCtx, o.loopDone)

	return o.machine.Event(ctx, eventStart)
}

// Stop halts capture and the flush loop. Frames still buffered are not
// transcribed and a transcription in progress is cancelled; chat calls in
// flight are left to complete. Stopping an idle
// session is a no-op.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.machine.Can(eventStop) {
		return nil
	}

	o.stops.Add(1)
	o.buffer.Deactivate()
	stopErr := o.capture.Stop()

	o.loopCancel()
	<-o.loopDone
	o.loopCancel = nil

	if err := o.machine.Event(ctx, eventStop); err != nil {
		return err
	}
	if stopErr != nil {
		o.logger.Warnf("capture stop: %v", stopErr)
		return stopErr
	}
	return nil
}

// Toggle starts an idle session and stops a listening one.
func (o *Orchestrator) Toggle(ctx context.Context) (State, error) {
	if o.State() == Listening {
		return Idle, o.Stop(ctx)
	}
	if err := o.Start(ctx); err != nil {
		return Idle, err
	}
	return Listening, nil
}

// onFrame runs on the audio driver thread.
func (o *Orchestrator) onFrame(frame audio.Frame) {
	switch o.buffer.Push(frame) {
	case segment.Retained:
		o.metrics.RecordFrameVoiced()
	case segment.DroppedSilent:
		o.metrics.RecordFrameDropped("silent")
	case segment.DroppedInactive:
		o.metrics.RecordFrameDropped("inactive")
	case segment.DroppedOversize:
		o.metrics.RecordFrameDropped("oversize")
	}
}

func (o *Orchestrator) loop(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	tick := o.cfg.Flush.Interval
	if o.cfg.Flush.Policy == FlushSilence {
		tick = o.cfg.Flush.SilenceTimeout / 4
		if tick < 20*time.Millisecond {
			tick = 20 * time.Millisecond
		}
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	var openedAt time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if o.cfg.Flush.Policy == FlushSilence {
				if !o.silenceElapsed(now, &openedAt) {
					continue
				}
				openedAt = time.Time{}
			}
			o.processSegment(ctx, o.buffer.Flush())
		}
	}
}

// silenceElapsed reports whether a non-empty segment has seen no voice for
// SilenceTimeout or has been open for MaxSegment.
func (o *Orchestrator) silenceElapsed(now time.Time, openedAt *time.Time) bool {
	if o.buffer.Len() == 0 {
		*openedAt = time.Time{}
		return false
	}
	if openedAt.IsZero() {
		*openedAt = now
	}
	if now.Sub(*openedAt) >= o.cfg.Flush.MaxSegment {
		return true
	}
	return now.Sub(o.buffer.LastVoiceAt()) >= o.cfg.Flush.SilenceTimeout
}

// processSegment transcribes one flushed segment and dispatches the result.
// Stop cancels loopCtx, which aborts a transcription still running; a
// transcript that already arrived is dispatched regardless.
func (o *Orchestrator) processSegment(loopCtx context.Context, seg segment.Segment) {
	o.metrics.RecordFlush(seg.Len())
	if seg.Empty() {
		return
	}

	ctx, cancel := context.WithTimeout(loopCtx, o.cfg.TranscribeTimeout)
	defer cancel()

	start := time.Now()
	tr, err := o.stt.Transcribe(ctx, seg)
	o.metrics.RecordTranscription(err == nil, time.Since(start).Seconds())
	if err != nil && loopCtx.Err() != nil {
		o.logger.Debugf("transcription of segment %s abandoned on stop", seg.ID)
		return
	}
	if err != nil {
		o.logger.Errorf("transcription of segment %s (%d frames) failed: %v", seg.ID, seg.Len(), err)
		o.bus.Publish(Event{Kind: EventTranscriptionFailed, Text: err.Error()})
		return
	}

	text := strings.TrimSpace(tr.Text)
	if text == "" {
		o.logger.Debugf("segment %s produced no text", seg.ID)
		return
	}
	o.logger.Infof("transcript: %s", text)
	o.bus.Publish(Event{Kind: EventTranscript, Text: text})

	if _, err := o.submit(context.WithoutCancel(ctx), text); err != nil {
		o.logger.Errorf("failed to dispatch transcript: %v", err)
	}
}

// submit normalises text, records it and dispatches a fresh chat history.
func (o *Orchestrator) submit(ctx context.Context, text string) (Ticket, error) {
	question := prompts.Normalize(o.corrector, text)

	chatHistory := assistant.NewHistory(o.prompts.System, o.prompts.Legend, o.useLegend.Load())
	chatHistory = append(chatHistory, assistant.UserMessage(question))

	rec, err := o.history.Append(ctx, question)
	if err != nil {
		return Ticket{}, fmt.Errorf("failed to record request: %w", err)
	}

	// held across Submit so a fast completion cannot miss the exchange
	o.exchangeMu.Lock()
	ticket, err := o.dispatcher.Submit(Turn{
		RecordID: rec.ID,
		Question: question,
		History:  chatHistory,
		Stops:    o.stops.Load(),
	})
	if err != nil {
		o.exchangeMu.Unlock()
		return Ticket{}, err
	}
	o.lastTurn.Store(ticket.TurnID)
	o.exchange = append([]assistant.Message(nil), chatHistory...)
	o.exchangeMu.Unlock()

	o.bus.Publish(Event{Kind: EventRequestSent, TurnID: ticket.TurnID, RecordID: &rec.ID, Text: question})
	return ticket, nil
}

// Ask sends typed text through the same normalisation as speech.
func (o *Orchestrator) Ask(ctx context.Context, text string) (Ticket, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Ticket{}, ErrEmptyRequest
	}
	return o.submit(ctx, text)
}

// Resubmit sends an edited copy of a recorded question as a new request.
// An empty edit resends the recorded question.
func (o *Orchestrator) Resubmit(ctx context.Context, recordID uuid.UUID, edited string) (Ticket, error) {
	rec, err := o.history.Get(ctx, recordID)
	if err != nil {
		return Ticket{}, err
	}
	edited = strings.TrimSpace(edited)
	if edited == "" {
		edited = rec.Question
	}
	return o.submit(ctx, edited)
}

// Run applies completions to their own history record until ctx is done or
// the dispatcher is closed.
func (o *Orchestrator) Run(ctx context.Context) {
	completions := o.dispatcher.Completions()
	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-completions:
			if !ok {
				return
			}
			o.handleCompletion(ctx, c)
		}
	}
}

func (o *Orchestrator) handleCompletion(ctx context.Context, c Completion) {
	late := o.stops.Load() != c.Turn.Stops
	if late {
		o.metrics.RecordLateResponse()
	}

	if err := o.history.SetAnswer(ctx, c.Turn.RecordID, c.Reply); err != nil {
		if errors.Is(err, history.ErrNotFound) {
			o.logger.Debugf("turn %d answered after its record was cleared", c.Turn.ID)
		} else {
			o.logger.Errorf("failed to store answer for turn %d: %v", c.Turn.ID, err)
		}
	}

	o.exchangeMu.Lock()
	if o.lastTurn.Load() == c.Turn.ID {
		o.exchange = append(o.exchange, assistant.AssistantMessage(c.Reply))
	}
	o.exchangeMu.Unlock()

	recordID := c.Turn.RecordID
	o.bus.Publish(Event{
		Kind:     EventReply,
		TurnID:   c.Turn.ID,
		RecordID: &recordID,
		Text:     c.Reply,
		Late:     late,
	})
}

func (o *Orchestrator) SetUseLegend(enabled bool) {
	o.useLegend.Store(enabled)
}

func (o *Orchestrator) UseLegend() bool {
	return o.useLegend.Load()
}

// ChatHistory is the exchange sent with the most recent turn, plus its reply once it arrived.
func (o *Orchestrator) ChatHistory() []assistant.Message {
	o.exchangeMu.Lock()
	defer o.exchangeMu.Unlock()
	out := make([]assistant.Message, len(o.exchange))
	copy(out, o.exchange)
	return out
}

func (o *Orchestrator) History(ctx context.Context) ([]history.Record, error) {
	return o.history.List(ctx)
}

func (o *Orchestrator) Record(ctx context.Context, id uuid.UUID) (history.Record, error) {
	return o.history.Get(ctx, id)
}

// ClearHistory empties the displayed history. The chat history is untouched.
func (o *Orchestrator) ClearHistory(ctx context.Context) error {
	if err := o.history.Clear(ctx); err != nil {
		return err
	}
	o.bus.Publish(Event{Kind: EventHistoryCleared})
	return nil
}

func (o *Orchestrator) Status() Status {
	return Status{
		State:     o.State(),
		UseLegend: o.useLegend.Load(),
		InFlight:  o.dispatcher.InFlight(),
		Buffered:  o.buffer.Len(),
	}
}

func (o *Orchestrator) Subscribe(buffer int) (<-chan Event, func()) {
	return o.bus.Subscribe(buffer)
}

// Close stops listening and cancels outstanding chat calls.
func (o *Orchestrator) Close(ctx context.Context) error {
	err := o.Stop(ctx)
	o.dispatcher.Close()
	o.bus.Close()
	return err
}
