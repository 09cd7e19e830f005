package ui

// Key binding constants used in handleKey.
const (
	KeyQuit         = "q"
	KeyQuitUpper    = "Q"
	KeyCtrlC        = "ctrl+c"
	KeyToggle       = "enter"
	KeyClearHistory = "ctrl+l"
	KeyUp           = "up"
	KeyDown         = "down"
	KeyLegend       = "l"
	KeyResend       = "r"
)

// Keys understood while a question is being edited for resend.
const (
	KeyEditSubmit = "enter"
	KeyEditCancel = "esc"
	KeyEditDelete = "backspace"
	KeyEditClear  = "ctrl+u"
)
