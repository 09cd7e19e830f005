package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xpanvictor/aisly/internal/history"
	"github.com/xpanvictor/aisly/internal/metrics"
	"github.com/xpanvictor/aisly/internal/prompts"
	"github.com/xpanvictor/aisly/pkg/Logger"
	"github.com/xpanvictor/aisly/pkg/assistant"
	"github.com/xpanvictor/aisly/pkg/io/audio"
	"github.com/xpanvictor/aisly/pkg/io/capture"
	"github.com/xpanvictor/aisly/pkg/io/stt"
	"github.com/xpanvictor/aisly/pkg/io/stt/segment"
	"github.com/xpanvictor/aisly/pkg/io/stt/vad"
)

type fakeCapture struct {
	mu       sync.Mutex
	onFrame  capture.FrameFunc
	startErr error
	starts   int
	stops    int
}

func (f *fakeCapture) Start(onFrame capture.FrameFunc) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.onFrame = onFrame
	f.starts++
	return nil
}

func (f *fakeCapture) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFrame = nil
	f.stops++
	return nil
}

func (f *fakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onFrame != nil
}

// emit delivers a frame the way the driver thread would.
func (f *fakeCapture) emit(v float32) {
	f.mu.Lock()
	fn := f.onFrame
	f.mu.Unlock()
	if fn != nil {
		fn(audio.Frame{
			Samples:    []float32{v, v, v, v},
			Timestamp:  time.Now(),
			SampleRate: audio.DefaultSampleRate,
			Channels:   audio.DefaultChannels,
		})
	}
}

type fakeTranscriber struct {
	text   string
	err    error
	calls  atomic.Int32
	frames atomic.Int32
	// hang makes Transcribe wait for its context instead of answering
	hang bool
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, seg segment.Segment) (stt.Transcript, error) {
	f.calls.Add(1)
	f.frames.Add(int32(seg.Len()))
	if f.hang {
		<-ctx.Done()
		return stt.Transcript{}, ctx.Err()
	}
	if f.err != nil {
		return stt.Transcript{}, f.err
	}
	return stt.Transcript{Text: f.text, SegmentID: seg.ID, Language: "ru"}, nil
}

// gatedChat answers each question only after release(question) is called.
type gatedChat struct {
	mu    sync.Mutex
	gates map[string]chan struct{}
}

func newGatedChat() *gatedChat {
	return &gatedChat{gates: make(map[string]chan struct{})}
}

func (g *gatedChat) gate(question string) chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	ch, ok := g.gates[question]
	if !ok {
		ch = make(chan struct{})
		g.gates[question] = ch
	}
	return ch
}

func (g *gatedChat) release(question string) {
	close(g.gate(question))
}

func (g *gatedChat) Send(ctx context.Context, h []assistant.Message) string {
	q := h[len(h)-1].Content
	select {
	case <-g.gate(q):
		return "answer to " + q
	case <-ctx.Done():
		return assistant.ExceptionFailure(ctx.Err())
	}
}

type harness struct {
	orch    *Orchestrator
	capture *fakeCapture
	stt     *fakeTranscriber
	store   history.Store
	events  <-chan Event
	cancel  context.CancelFunc
}

func newHarness(t *testing.T, chat assistant.ChatSession, flush FlushConfig) *harness {
	t.Helper()

	logger := Logger.NewNop()
	m := metrics.NewNop()
	fc := &fakeCapture{}
	ft := &fakeTranscriber{text: "kubernets is great"}
	store := history.NewMemoryStore()

	orch := New(Config{Flush: flush, UseLegend: true}, Deps{
		Capture:     fc,
		Buffer:      segment.NewBuffer(vad.NewNormGate(vad.DefaultVADConfig()), audio.NewRing(1<<16)),
		Transcriber: ft,
		Dispatcher:  NewDispatcher(chat, DispatcherConfig{}, m, logger),
		History:     store,
		Prompts:     prompts.Resources{System: "system", Legend: "legend", Terms: []string{"kubernetes"}},
		Metrics:     m,
		Logger:      logger,
	})
	events, unsubscribe := orch.Subscribe(128)

	ctx, cancel := context.WithCancel(context.Background())
	go orch.Run(ctx)

	t.Cleanup(func() {
		unsubscribe()
		cancel()
		orch.Close(context.Background())
	})
	return &harness{orch: orch, capture: fc, stt: ft, store: store, events: events, cancel: cancel}
}

func fastFlush() FlushConfig {
	return FlushConfig{Policy: FlushInterval, Interval: 10 * time.Millisecond}
}

func waitFor(t *testing.T, events <-chan Event, kind EventKind) Event {
	t.Helper()
	timeout := time.After(3 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				t.Fatalf("event stream closed while waiting for %s", kind)
			}
			if e.Kind == kind {
				return e
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", kind)
		}
	}
}

func eventually(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartStopStates(t *testing.T) {
	h := newHarness(t, assistant.ChatSessionFunc(func(context.Context, []assistant.Message) string { return "ok" }), fastFlush())
	ctx := context.Background()

	if h.orch.State() != Idle {
		t.Fatalf("Expected idle, got %s", h.orch.State())
	}
	if err := h.orch.Stop(ctx); err != nil {
		t.Errorf("Stop while idle should be a no-op, got %v", err)
	}

	if err := h.orch.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if e := waitFor(t, h.events, EventStateChanged); e.State != Listening {
		t.Errorf("Expected listening event, got %s", e.State)
	}
	if err := h.orch.Start(ctx); !errors.Is(err, ErrAlreadyListening) {
		t.Errorf("Expected ErrAlreadyListening, got %v", err)
	}

	if err := h.orch.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if e := waitFor(t, h.events, EventStateChanged); e.State != Idle {
		t.Errorf("Expected idle event, got %s", e.State)
	}
	if h.capture.Running() {
		t.Error("Capture should be stopped")
	}

	// restart reinitialises cleanly
	if err := h.orch.Start(ctx); err != nil {
		t.Fatalf("Restart failed: %v", err)
	}
	if h.capture.starts != 2 {
		t.Errorf("Expected 2 capture starts, got %d", h.capture.starts)
	}
}

func TestStopAbortsRunningTranscription(t *testing.T) {
	h := newHarness(t, assistant.ChatSessionFunc(func(context.Context, []assistant.Message) string { return "ok" }), fastFlush())
	h.orch.cfg.TranscribeTimeout = 5 * time.Second
	h.stt.hang = true

	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.capture.emit(0.5)
	eventually(t, func() bool { return h.stt.calls.Load() > 0 }, "transcription to start")

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := h.orch.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Stop waited %s for a hung transcription", elapsed)
	}
	if h.orch.State() != Idle {
		t.Errorf("Expected idle after stop, got %s", h.orch.State())
	}

	records, _ := h.store.List(context.Background())
	if len(records) != 0 {
		t.Errorf("Abandoned segment must not be recorded, got %d records", len(records))
	}
}

func TestStartDeviceUnavailable(t *testing.T) {
	h := newHarness(t, assistant.ChatSessionFunc(func(context.Context, []assistant.Message) string { return "ok" }), fastFlush())
	h.capture.startErr = capture.ErrDeviceUnavailable

	err := h.orch.Start(context.Background())
	if !errors.Is(err, capture.ErrDeviceUnavailable) {
		t.Fatalf("Expected ErrDeviceUnavailable, got %v", err)
	}
	if h.orch.State() != Idle {
		t.Errorf("Expected idle after failed start, got %s", h.orch.State())
	}
}

func TestVoicedSegmentIsTranscribedAndDispatched(t *testing.T) {
	var mu sync.Mutex
	var sent []assistant.Message
	chat := assistant.ChatSessionFunc(func(_ context.Context, h []assistant.Message) string {
		mu.Lock()
		sent = h
		mu.Unlock()
		return "Ответ"
	})
	h := newHarness(t, chat, fastFlush())

	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.capture.emit(0.5)
	h.capture.emit(0.5)
	h.capture.emit(0.5)
	h.capture.emit(0.0001)

	transcript := waitFor(t, h.events, EventTranscript)
	if transcript.Text != "kubernets is great" {
		t.Errorf("Unexpected transcript %q", transcript.Text)
	}
	sentEvent := waitFor(t, h.events, EventRequestSent)
	want := "kubernetes is great Ответь строго на русском языке."
	if sentEvent.Text != want {
		t.Errorf("Expected normalised request %q, got %q", want, sentEvent.Text)
	}
	reply := waitFor(t, h.events, EventReply)
	if reply.Text != "Ответ" || reply.Late {
		t.Errorf("Unexpected reply event %+v", reply)
	}

	eventually(t, func() bool { return h.stt.frames.Load() == 3 }, "3 voiced frames transcribed")

	mu.Lock()
	if len(sent) != 3 || sent[0].Content != "system" || sent[1].Content != "legend" || sent[2].Role != assistant.USER {
		t.Errorf("Unexpected chat history %+v", sent)
	}
	mu.Unlock()

	if reply.RecordID == nil {
		t.Fatal("Expected reply event to carry its record id")
	}
	rec, err := h.store.Get(context.Background(), *reply.RecordID)
	if err != nil {
		t.Fatalf("Get record: %v", err)
	}
	if rec.Question != want || rec.Answer == nil || *rec.Answer != "Ответ" {
		t.Errorf("Unexpected record %+v", rec)
	}

	exchange := h.orch.ChatHistory()
	if len(exchange) != 4 || exchange[3] != assistant.AssistantMessage("Ответ") {
		t.Errorf("Expected reply appended to chat history, got %+v", exchange)
	}
}

func TestEmptyFlushSkipsTranscription(t *testing.T) {
	h := newHarness(t, assistant.ChatSessionFunc(func(context.Context, []assistant.Message) string { return "ok" }), fastFlush())

	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.capture.emit(0.0001)
	time.Sleep(60 * time.Millisecond)

	if calls := h.stt.calls.Load(); calls != 0 {
		t.Errorf("Expected no transcription calls, got %d", calls)
	}
}

func TestTranscriptionFailureIsNotDispatched(t *testing.T) {
	var chatCalls atomic.Int32
	chat := assistant.ChatSessionFunc(func(context.Context, []assistant.Message) string {
		chatCalls.Add(1)
		return "ok"
	})
	h := newHarness(t, chat, fastFlush())
	h.stt.err = errors.New("model unavailable")

	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	h.capture.emit(0.5)

	e := waitFor(t, h.events, EventTranscriptionFailed)
	if !strings.Contains(e.Text, "model unavailable") {
		t.Errorf("Unexpected failure text %q", e.Text)
	}
	if chatCalls.Load() != 0 {
		t.Error("Failed transcription must not reach the chat session")
	}
}

func TestOutOfOrderCompletionsUpdateOwnRecord(t *testing.T) {
	chat := newGatedChat()
	h := newHarness(t, chat, fastFlush())
	ctx := context.Background()

	first, err := h.orch.Ask(ctx, "первый")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	second, err := h.orch.Ask(ctx, "второй")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if second.TurnID <= first.TurnID {
		t.Errorf("Turn ids must increase: %d then %d", first.TurnID, second.TurnID)
	}

	q1 := prompts.EnsureRussianRequest("первый")
	q2 := prompts.EnsureRussianRequest("второй")

	// second finishes first
	chat.release(q2)
	if r := waitFor(t, h.events, EventReply); r.TurnID != second.TurnID {
		t.Errorf("Expected reply for turn %d, got %d", second.TurnID, r.TurnID)
	}
	chat.release(q1)
	if r := waitFor(t, h.events, EventReply); r.TurnID != first.TurnID {
		t.Errorf("Expected reply for turn %d, got %d", first.TurnID, r.TurnID)
	}

	rec1, _ := h.store.Get(ctx, first.RecordID)
	rec2, _ := h.store.Get(ctx, second.RecordID)
	if rec1.Answer == nil || *rec1.Answer != "answer to "+q1 {
		t.Errorf("Record 1 got wrong answer: %+v", rec1)
	}
	if rec2.Answer == nil || *rec2.Answer != "answer to "+q2 {
		t.Errorf("Record 2 got wrong answer: %+v", rec2)
	}
}

func TestLateCompletionAfterStop(t *testing.T) {
	chat := newGatedChat()
	h := newHarness(t, chat, fastFlush())
	ctx := context.Background()

	if err := h.orch.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	ticket, err := h.orch.Ask(ctx, "вопрос")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	if err := h.orch.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	chat.release(prompts.EnsureRussianRequest("вопрос"))
	reply := waitFor(t, h.events, EventReply)
	if !reply.Late {
		t.Error("Expected completion after stop to be marked late")
	}

	rec, _ := h.store.Get(ctx, ticket.RecordID)
	if rec.Answer == nil {
		t.Error("Late completion should still update its record")
	}
}

func TestAskAndResubmit(t *testing.T) {
	h := newHarness(t, assistant.ChatSessionFunc(func(_ context.Context, m []assistant.Message) string {
		return "re: " + m[len(m)-1].Content
	}), fastFlush())
	ctx := context.Background()

	if _, err := h.orch.Ask(ctx, "   "); !errors.Is(err, ErrEmptyRequest) {
		t.Errorf("Expected ErrEmptyRequest, got %v", err)
	}

	first, err := h.orch.Ask(ctx, "что такое kafka")
	if err != nil {
		t.Fatalf("Ask failed: %v", err)
	}
	<-first.Done

	second, err := h.orch.Resubmit(ctx, first.RecordID, "что такое kubernets")
	if err != nil {
		t.Fatalf("Resubmit failed: %v", err)
	}
	c := <-second.Done
	if c.Turn.Question != "что такое kubernetes Ответь строго на русском языке." {
		t.Errorf("Unexpected resubmitted question %q", c.Turn.Question)
	}
	if second.RecordID == first.RecordID {
		t.Error("Resubmit must create a new record")
	}

	records, _ := h.orch.History(ctx)
	if len(records) != 2 {
		t.Errorf("Expected 2 records, got %d", len(records))
	}
}

func TestClearHistoryKeepsChatHistory(t *testing.T) {
	h := newHarness(t, assistant.ChatSessionFunc(func(context.Context, []assistant.Message) string { return "ok" }), fastFlush())
	ctx := context.Background()

	ticket, _ := h.orch.Ask(ctx, "вопрос")
	<-ticket.Done
	waitFor(t, h.events, EventReply)

	if err := h.orch.ClearHistory(ctx); err != nil {
		t.Fatalf("ClearHistory failed: %v", err)
	}
	records, _ := h.orch.History(ctx)
	if len(records) != 0 {
		t.Errorf("Expected empty history, got %d", len(records))
	}
	if len(h.orch.ChatHistory()) == 0 {
		t.Error("Chat history must survive a history clear")
	}
}

func TestUseLegendToggle(t *testing.T) {
	var mu sync.Mutex
	var sizes []int
	h := newHarness(t, assistant.ChatSessionFunc(func(_ context.Context, m []assistant.Message) string {
		mu.Lock()
		sizes = append(sizes, len(m))
		mu.Unlock()
		return "ok"
	}), fastFlush())
	ctx := context.Background()

	t1, _ := h.orch.Ask(ctx, "a")
	<-t1.Done
	h.orch.SetUseLegend(false)
	t2, _ := h.orch.Ask(ctx, "b")
	<-t2.Done

	mu.Lock()
	defer mu.Unlock()
	if len(sizes) != 2 || sizes[0] != 3 || sizes[1] != 2 {
		t.Errorf("Expected histories of 3 then 2 turns, got %v", sizes)
	}
	if h.orch.Status().UseLegend {
		t.Error("Status should report legend disabled")
	}
}

func TestSilenceFlushPolicy(t *testing.T) {
	h := newHarness(t, assistant.ChatSessionFunc(func(context.Context, []assistant.Message) string { return "ok" }), FlushConfig{
		Policy:         FlushSilence,
		SilenceTimeout: 80 * time.Millisecond,
		MaxSegment:     time.Minute,
	})

	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		h.capture.emit(0.5)
		time.Sleep(10 * time.Millisecond)
	}

	waitFor(t, h.events, EventTranscript)
	if calls := h.stt.calls.Load(); calls != 1 {
		t.Errorf("Expected one segment for one utterance, got %d", calls)
	}
	if got := h.stt.frames.Load(); got != 5 {
		t.Errorf("Expected 5 frames in the segment, got %d", got)
	}
}
