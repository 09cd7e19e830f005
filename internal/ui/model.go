package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/xpanvictor/aisly/internal/history"
	"github.com/xpanvictor/aisly/internal/session"

	tea "github.com/charmbracelet/bubbletea"
)

const commandTimeout = 10 * time.Second

// Controller is the part of the orchestrator the terminal drives.
type Controller interface {
	Status() session.Status
	Toggle(ctx context.Context) (session.State, error)
	Resubmit(ctx context.Context, recordID uuid.UUID, edited string) (session.Ticket, error)
	History(ctx context.Context) ([]history.Record, error)
	ClearHistory(ctx context.Context) error
	SetUseLegend(enabled bool)
	Subscribe(buffer int) (<-chan session.Event, func())
}

// Model is the root bubbletea model. It only presents orchestrator state.
type Model struct {
	ctrl        Controller
	events      <-chan session.Event
	unsubscribe func()

	state     session.State
	useLegend bool

	transcript string
	reply      string
	replyLate  bool
	pending    map[uint64]struct{}

	records  []history.Record
	selected int

	// editing is set while the selected question is edited before resend
	editing  bool
	editID   uuid.UUID
	editText []rune

	errorMessage   string
	errorTransient bool

	width  int
	height int
}

func New(ctrl Controller) Model {
	events, unsubscribe := ctrl.Subscribe(64)
	status := ctrl.Status()
	return Model{
		ctrl:        ctrl,
		events:      events,
		unsubscribe: unsubscribe,
		state:       status.State,
		useLegend:   status.UseLegend,
		pending:     make(map[uint64]struct{}),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(readEventCmd(m.events), loadHistoryCmd(m.ctrl))
}

func readEventCmd(events <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return EventsClosedMsg{}
		}
		return SessionEventMsg{Event: ev}
	}
}

func toggleCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		state, err := ctrl.Toggle(ctx)
		return ToggleResultMsg{State: state, Err: err}
	}
}

func loadHistoryCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		records, err := ctrl.History(ctx)
		return HistoryLoadedMsg{Records: records, Err: err}
	}
}

func clearHistoryCmd(ctrl Controller) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		return HistoryClearedMsg{Err: ctrl.ClearHistory(ctx)}
	}
}

func resendCmd(ctrl Controller, id uuid.UUID, edited string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
		defer cancel()
		ticket, err := ctrl.Resubmit(ctx, id, edited)
		return ResendResultMsg{Ticket: ticket, Err: err}
	}
}

func clearTransientErrorCmd() tea.Cmd {
	return tea.Tick(5*time.Second, func(time.Time) tea.Msg {
		return ClearTransientErrorMsg{}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case SessionEventMsg:
		cmd := m.handleEvent(msg.Event)
		return m, tea.Batch(cmd, readEventCmd(m.events))

	case EventsClosedMsg:
		return m, tea.Quit

	case ToggleResultMsg:
		if msg.Err != nil {
			return m, m.transientError(msg.Err)
		}
		m.state = msg.State
		return m, nil

	case HistoryLoadedMsg:
		if msg.Err != nil {
			return m, m.transientError(msg.Err)
		}
		m.records = msg.Records
		if m.selected >= len(m.records) {
			m.selected = max(0, len(m.records)-1)
		}
		return m, nil

	case HistoryClearedMsg:
		if msg.Err != nil {
			return m, m.transientError(msg.Err)
		}
		m.records = nil
		m.selected = 0
		return m, nil

	case ResendResultMsg:
		if msg.Err != nil {
			return m, m.transientError(msg.Err)
		}
		return m, nil

	case ClearTransientErrorMsg:
		if m.errorTransient {
			m.errorMessage = ""
			m.errorTransient = false
		}
		return m, nil
	}

	return m, nil
}

func (m *Model) transientError(err error) tea.Cmd {
	m.errorMessage = err.Error()
	m.errorTransient = true
	return clearTransientErrorCmd()
}

func (m *Model) handleEvent(ev session.Event) tea.Cmd {
	switch ev.Kind {
	case session.EventStateChanged:
		m.state = ev.State

	case session.EventTranscript:
		m.transcript = ev.Text

	case session.EventRequestSent:
		m.pending[ev.TurnID] = struct{}{}
		m.selected = len(m.records)
		return loadHistoryCmd(m.ctrl)

	case session.EventReply:
		delete(m.pending, ev.TurnID)
		m.reply = ev.Text
		m.replyLate = ev.Late
		return loadHistoryCmd(m.ctrl)

	case session.EventTranscriptionFailed:
		m.errorMessage = "transcription failed: " + ev.Text
		m.errorTransient = true
		return clearTransientErrorCmd()

	case session.EventHistoryCleared:
		m.records = nil
		m.selected = 0
	}
	return nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.editing && msg.String() != KeyCtrlC {
		return m.handleEditKey(msg)
	}

	switch msg.String() {
	case KeyQuit, KeyQuitUpper, KeyCtrlC:
		if m.unsubscribe != nil {
			m.unsubscribe()
		}
		return m, tea.Quit

	case KeyToggle:
		return m, toggleCmd(m.ctrl)

	case KeyClearHistory:
		return m, clearHistoryCmd(m.ctrl)

	case KeyUp:
		if m.selected > 0 {
			m.selected--
		}
		return m, nil

	case KeyDown:
		if m.selected < len(m.records)-1 {
			m.selected++
		}
		return m, nil

	case KeyLegend:
		m.useLegend = !m.useLegend
		m.ctrl.SetUseLegend(m.useLegend)
		return m, nil

	case KeyResend:
		if m.selected < len(m.records) {
			rec := m.records[m.selected]
			m.editing = true
			m.editID = rec.ID
			m.editText = []rune(rec.Question)
		}
		return m, nil
	}

	return m, nil
}

// handleEditKey edits the question line. Submitting an empty line resends
// the recorded question unchanged.
func (m Model) handleEditKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case KeyEditSubmit:
		id, text := m.editID, strings.TrimSpace(string(m.editText))
		m.stopEditing()
		return m, resendCmd(m.ctrl, id, text)

	case KeyEditCancel:
		m.stopEditing()
		return m, nil

	case KeyEditDelete:
		if n := len(m.editText); n > 0 {
			m.editText = m.editText[:n-1]
		}
		return m, nil

	case KeyEditClear:
		m.editText = nil
		return m, nil
	}

	switch msg.Type {
	case tea.KeyRunes:
		m.editText = append(m.editText, msg.Runes...)
	case tea.KeySpace:
		m.editText = append(m.editText, ' ')
	}
	return m, nil
}

func (m *Model) stopEditing() {
	m.editing = false
	m.editID = uuid.Nil
	m.editText = nil
}

// Thinking reports whether any chat call is still outstanding.
func (m Model) Thinking() bool {
	return len(m.pending) > 0
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	var sections []string
	sections = append(sections, m.renderHeader())
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderReply())
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", m.width)))
	sections = append(sections, m.renderHistory())
	sections = append(sections, DividerStyle.Render(strings.Repeat("─", m.width)))
	if m.errorMessage != "" {
		sections = append(sections, ErrorStyle.Render("Error: ")+ErrorTextStyle.Render(m.errorMessage))
	}
	if m.editing {
		sections = append(sections, m.renderEditor())
	}
	sections = append(sections, m.renderFooter())

	return strings.Join(sections, "\n")
}

func (m Model) renderHeader() string {
	title := TitleStyle.Render("AISLY")

	var dot string
	if m.state == session.Listening {
		dot = ListeningDotStyle.Render("● Listening")
	} else {
		dot = IdleDotStyle.Render("○ Idle")
	}

	legend := DimStyle.Render("legend off")
	if m.useLegend {
		legend = LegendOnStyle.Render("legend on")
	}

	var thinking string
	if m.Thinking() {
		thinking = "  " + SpinnerStyle.Render(fmt.Sprintf("⟳ thinking (%d)", len(m.pending)))
	}

	return title + "  " + dot + "  " + legend + thinking
}

func (m Model) renderReply() string {
	width := max(20, m.width-2)
	var lines []string

	if m.transcript != "" {
		for _, l := range wrapText("» "+m.transcript, width) {
			lines = append(lines, TranscriptStyle.Render(l))
		}
	}

	switch {
	case m.reply != "":
		if m.replyLate {
			lines = append(lines, LateBadgeStyle.Render("(late)"))
		}
		for _, l := range wrapText(m.reply, width) {
			lines = append(lines, ReplyStyle.Render(l))
		}
	case m.Thinking():
		lines = append(lines, SpinnerStyle.Render("Thinking..."))
	default:
		lines = append(lines, DimStyle.Render("Press Enter to start listening"))
	}

	return strings.Join(lines, "\n")
}

func (m Model) historyVisibleLines() int {
	if m.height == 0 {
		return 10
	}
	return max(3, m.height/3)
}

func (m Model) renderHistory() string {
	lines := []string{PanelTitleStyle.Render(fmt.Sprintf("HISTORY (%d)", len(m.records)))}
	if len(m.records) == 0 {
		lines = append(lines, DimStyle.Render("  No requests yet"))
		return strings.Join(lines, "\n")
	}

	visible := m.historyVisibleLines()
	start := 0
	if m.selected >= visible {
		start = m.selected - visible + 1
	}
	end := min(len(m.records), start+visible)

	for i := start; i < end; i++ {
		r := m.records[i]
		ts := TimestampStyle.Render(r.CreatedAt.Format("[15:04:05]"))
		marker := "  "
		if !r.Answered() {
			marker = SpinnerStyle.Render("… ")
		}
		line := fmt.Sprintf("%d. %s", r.Seq, r.Question)
		if i == m.selected {
			line = SelectedStyle.Render("> " + line)
		} else {
			line = "  " + line
		}
		lines = append(lines, truncateToWidth(ts+" "+marker+line, m.width))
	}

	if m.selected < len(m.records) {
		if sel := m.records[m.selected]; sel.Answered() {
			for _, l := range wrapText(*sel.Answer, max(20, m.width-4)) {
				lines = append(lines, DimStyle.Render("    "+l))
			}
		}
	}

	return strings.Join(lines, "\n")
}

func (m Model) renderEditor() string {
	line := EditPromptStyle.Render("Resend: ") + string(m.editText) + EditCursorStyle.Render("█")
	return truncateToWidth(line, m.width)
}

func (m Model) renderFooter() string {
	var parts []string
	if m.editing {
		parts = append(parts, FooterKeyStyle.Render("Enter")+FooterDescStyle.Render(" Send"))
		parts = append(parts, FooterKeyStyle.Render("Esc")+FooterDescStyle.Render(" Cancel"))
		parts = append(parts, FooterKeyStyle.Render("Ctrl+U")+FooterDescStyle.Render(" Clear line"))
		return strings.Join(parts, "  ")
	}
	if m.state == session.Listening {
		parts = append(parts, FooterKeyStyle.Render("Enter")+FooterDescStyle.Render(" Stop"))
	} else {
		parts = append(parts, FooterKeyStyle.Render("Enter")+FooterDescStyle.Render(" Listen"))
	}
	parts = append(parts, FooterKeyStyle.Render("↑↓")+FooterDescStyle.Render(" Select"))
	parts = append(parts, FooterKeyStyle.Render("r")+FooterDescStyle.Render(" Resend"))
	parts = append(parts, FooterKeyStyle.Render("l")+FooterDescStyle.Render(" Legend"))
	parts = append(parts, FooterKeyStyle.Render("Ctrl+L")+FooterDescStyle.Render(" Clear"))
	parts = append(parts, FooterKeyStyle.Render("q")+FooterDescStyle.Render(" Quit"))
	return strings.Join(parts, "  ")
}

func truncateToWidth(s string, width int) string {
	if width <= 0 || lipgloss.Width(s) <= width {
		return s
	}
	runes := []rune(s)
	if len(runes) > width-1 {
		return string(runes[:width-1]) + "…"
	}
	return s
}

func wrapText(text string, width int) []string {
	if width <= 0 {
		return []string{text}
	}

	var lines []string
	for _, paragraph := range strings.Split(text, "\n") {
		var current string
		for _, word := range strings.Fields(paragraph) {
			switch {
			case current == "":
				current = word
			case len([]rune(current))+1+len([]rune(word)) <= width:
				current += " " + word
			default:
				lines = append(lines, current)
				current = word
			}
		}
		lines = append(lines, current)
	}
	if len(lines) == 0 {
		return []string{""}
	}
	return lines
}
