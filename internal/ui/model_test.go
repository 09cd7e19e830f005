package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/xpanvictor/aisly/internal/history"
	"github.com/xpanvictor/aisly/internal/session"

	tea "github.com/charmbracelet/bubbletea"
)

type fakeController struct {
	state     session.State
	useLegend bool
	records   []history.Record
	toggleErr error
	resent    []uuid.UUID
	edits     []string
	cleared   bool
	bus       *session.Bus
}

func newFakeController() *fakeController {
	return &fakeController{state: session.Idle, useLegend: true, bus: session.NewBus()}
}

func (f *fakeController) Status() session.Status {
	return session.Status{State: f.state, UseLegend: f.useLegend}
}

func (f *fakeController) Toggle(context.Context) (session.State, error) {
	if f.toggleErr != nil {
		return session.Idle, f.toggleErr
	}
	if f.state == session.Listening {
		f.state = session.Idle
	} else {
		f.state = session.Listening
	}
	return f.state, nil
}

func (f *fakeController) Resubmit(_ context.Context, id uuid.UUID, edited string) (session.Ticket, error) {
	f.resent = append(f.resent, id)
	f.edits = append(f.edits, edited)
	return session.Ticket{TurnID: 1}, nil
}

func (f *fakeController) History(context.Context) ([]history.Record, error) {
	return f.records, nil
}

func (f *fakeController) ClearHistory(context.Context) error {
	f.cleared = true
	f.records = nil
	return nil
}

func (f *fakeController) SetUseLegend(enabled bool) {
	f.useLegend = enabled
}

func (f *fakeController) Subscribe(buffer int) (<-chan session.Event, func()) {
	return f.bus.Subscribe(buffer)
}

func key(s string) tea.KeyMsg {
	switch s {
	case KeyToggle:
		return tea.KeyMsg{Type: tea.KeyEnter}
	case KeyUp:
		return tea.KeyMsg{Type: tea.KeyUp}
	case KeyDown:
		return tea.KeyMsg{Type: tea.KeyDown}
	case KeyClearHistory:
		return tea.KeyMsg{Type: tea.KeyCtrlL}
	case KeyEditCancel:
		return tea.KeyMsg{Type: tea.KeyEsc}
	case KeyEditDelete:
		return tea.KeyMsg{Type: tea.KeyBackspace}
	case KeyEditClear:
		return tea.KeyMsg{Type: tea.KeyCtrlU}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and feeds the resulting command's message back in.
func press(t *testing.T, m Model, k string) Model {
	t.Helper()
	updated, cmd := m.Update(key(k))
	m = updated.(Model)
	if cmd != nil {
		if msg := cmd(); msg != nil {
			updated, _ = m.Update(msg)
			m = updated.(Model)
		}
	}
	return m
}

func answered(q, a string, seq int) history.Record {
	now := time.Now()
	return history.Record{ID: uuid.New(), Seq: seq, Question: q, Answer: &a, CreatedAt: now, AnsweredAt: &now}
}

func TestNewModel(t *testing.T) {
	m := New(newFakeController())
	if m.state != session.Idle {
		t.Errorf("state = %s, want idle", m.state)
	}
	if !m.useLegend {
		t.Error("new model should mirror legend setting")
	}
	if m.Thinking() {
		t.Error("new model should not be thinking")
	}
}

func TestToggleKey(t *testing.T) {
	ctrl := newFakeController()
	m := New(ctrl)

	m = press(t, m, KeyToggle)
	if m.state != session.Listening {
		t.Errorf("state = %s, want listening", m.state)
	}
	m = press(t, m, KeyToggle)
	if m.state != session.Idle {
		t.Errorf("state = %s, want idle", m.state)
	}
}

func TestToggleErrorShown(t *testing.T) {
	ctrl := newFakeController()
	ctrl.toggleErr = errors.New("capture: device unavailable")
	m := press(t, New(ctrl), KeyToggle)

	if !strings.Contains(m.errorMessage, "device unavailable") {
		t.Errorf("errorMessage = %q", m.errorMessage)
	}
	if m.state != session.Idle {
		t.Error("state should stay idle after a failed start")
	}
}

func TestRequestAndReplyEvents(t *testing.T) {
	m := New(newFakeController())
	m.width, m.height = 80, 24

	m.handleEvent(session.Event{Kind: session.EventTranscript, Text: "что такое kubernetes"})
	m.handleEvent(session.Event{Kind: session.EventRequestSent, TurnID: 1})
	m.handleEvent(session.Event{Kind: session.EventRequestSent, TurnID: 2})
	if !m.Thinking() {
		t.Fatal("should be thinking with requests in flight")
	}
	if !strings.Contains(m.View(), "thinking (2)") {
		t.Error("header should show in-flight count")
	}

	m.handleEvent(session.Event{Kind: session.EventReply, TurnID: 2, Text: "second"})
	m.handleEvent(session.Event{Kind: session.EventReply, TurnID: 1, Text: "first", Late: true})
	if m.Thinking() {
		t.Error("should not be thinking once every reply arrived")
	}
	if m.reply != "first" || !m.replyLate {
		t.Errorf("reply = %q late=%v", m.reply, m.replyLate)
	}
	view := m.View()
	if !strings.Contains(view, "(late)") || !strings.Contains(view, "kubernetes") {
		t.Errorf("view missing reply details:\n%s", view)
	}
}

func TestStateChangedEvent(t *testing.T) {
	m := New(newFakeController())
	m.handleEvent(session.Event{Kind: session.EventStateChanged, State: session.Listening})
	if m.state != session.Listening {
		t.Errorf("state = %s, want listening", m.state)
	}
}

func TestHistoryNavigationAndResend(t *testing.T) {
	ctrl := newFakeController()
	ctrl.records = []history.Record{answered("a", "1", 1), answered("b", "2", 2), answered("c", "3", 3)}
	m := New(ctrl)

	updated, _ := m.Update(loadHistoryCmd(ctrl)())
	m = updated.(Model)
	if len(m.records) != 3 {
		t.Fatalf("records = %d, want 3", len(m.records))
	}

	m = press(t, m, KeyDown)
	m = press(t, m, KeyDown)
	m = press(t, m, KeyDown)
	if m.selected != 2 {
		t.Errorf("selected = %d, want 2 (clamped)", m.selected)
	}
	m = press(t, m, KeyUp)
	if m.selected != 1 {
		t.Errorf("selected = %d, want 1", m.selected)
	}

	m = press(t, m, KeyResend)
	if !m.editing || string(m.editText) != "b" {
		t.Fatalf("editor should open with the selected question, got %q", string(m.editText))
	}
	if len(ctrl.resent) != 0 {
		t.Fatal("resend must wait for the edit to be submitted")
	}

	m = press(t, m, KeyEditSubmit)
	if m.editing {
		t.Error("editor should close after submit")
	}
	if len(ctrl.resent) != 1 || ctrl.resent[0] != ctrl.records[1].ID {
		t.Errorf("resent = %v, want record b", ctrl.resent)
	}
}

func loadedModel(t *testing.T, ctrl *fakeController) Model {
	t.Helper()
	updated, _ := New(ctrl).Update(loadHistoryCmd(ctrl)())
	return updated.(Model)
}

func TestEditBeforeResend(t *testing.T) {
	ctrl := newFakeController()
	ctrl.records = []history.Record{answered("что такое kafka", "брокер", 1)}
	m := loadedModel(t, ctrl)
	m.width, m.height = 80, 24

	m = press(t, m, KeyResend)
	for i := 0; i < len([]rune("kafka")); i++ {
		m = press(t, m, KeyEditDelete)
	}
	m = press(t, m, "rabbitmq")
	// keys that act outside the editor are plain text here
	m = press(t, m, KeyQuit)
	m = press(t, m, KeyEditDelete)
	if !strings.Contains(m.View(), "что такое rabbitmq") {
		t.Errorf("editor line missing from view:\n%s", m.View())
	}

	m = press(t, m, KeyEditSubmit)
	if len(ctrl.edits) != 1 || ctrl.edits[0] != "что такое rabbitmq" {
		t.Errorf("edits = %q", ctrl.edits)
	}
}

func TestEditCancelSkipsResend(t *testing.T) {
	ctrl := newFakeController()
	ctrl.records = []history.Record{answered("a", "1", 1)}
	m := loadedModel(t, ctrl)

	m = press(t, m, KeyResend)
	m = press(t, m, KeyEditClear)
	if len(m.editText) != 0 {
		t.Errorf("editText = %q, want empty", string(m.editText))
	}
	m = press(t, m, KeyEditCancel)
	if m.editing || len(ctrl.resent) != 0 {
		t.Error("cancel should close the editor without resending")
	}

	m = press(t, m, KeyResend)
	m = press(t, m, KeyEditClear)
	press(t, m, KeyEditSubmit)
	if len(ctrl.edits) != 1 || ctrl.edits[0] != "" {
		t.Errorf("empty edit should resend the recorded question, edits = %q", ctrl.edits)
	}
}

func TestLegendKey(t *testing.T) {
	ctrl := newFakeController()
	m := press(t, New(ctrl), KeyLegend)
	if m.useLegend || ctrl.useLegend {
		t.Error("legend should be disabled after toggle")
	}
}

func TestClearHistoryKey(t *testing.T) {
	ctrl := newFakeController()
	ctrl.records = []history.Record{answered("a", "1", 1)}
	m := New(ctrl)
	updated, _ := m.Update(loadHistoryCmd(ctrl)())
	m = updated.(Model)

	m = press(t, m, KeyClearHistory)
	if !ctrl.cleared || len(m.records) != 0 {
		t.Error("history should be cleared")
	}
}

func TestEventsClosedQuits(t *testing.T) {
	m := New(newFakeController())
	_, cmd := m.Update(EventsClosedMsg{})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("один два три четыре", 9)
	if len(lines) != 3 || lines[0] != "один два" {
		t.Errorf("wrapText = %q", lines)
	}
}
