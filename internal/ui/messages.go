package ui

import (
	"github.com/xpanvictor/aisly/internal/history"
	"github.com/xpanvictor/aisly/internal/session"
)

// SessionEventMsg wraps an event published by the orchestrator.
type SessionEventMsg struct {
	Event session.Event
}

// EventsClosedMsg is sent when the event stream ends.
type EventsClosedMsg struct{}

// ToggleResultMsg carries the outcome of a start/stop toggle.
type ToggleResultMsg struct {
	State session.State
	Err   error
}

// HistoryLoadedMsg carries the current display history.
type HistoryLoadedMsg struct {
	Records []history.Record
	Err     error
}

// HistoryClearedMsg carries the outcome of a clear request.
type HistoryClearedMsg struct {
	Err error
}

// ResendResultMsg carries the outcome of resending a recorded question.
type ResendResultMsg struct {
	Ticket session.Ticket
	Err    error
}

// ClearTransientErrorMsg clears a transient error after a timeout.
type ClearTransientErrorMsg struct{}
