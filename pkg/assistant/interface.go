package assistant

import (
	"context"
	"strings"
)

type Role string

const (
	USER      Role = "user"
	ASSISTANT Role = "assistant"
	SYSTEM    Role = "system"
)

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

func SystemMessage(content string) Message {
	return Message{Role: SYSTEM, Content: content}
}

func UserMessage(content string) Message {
	return Message{Role: USER, Content: content}
}

func AssistantMessage(content string) Message {
	return Message{Role: ASSISTANT, Content: content}
}

// ChatSession forwards a history to a hosted model.
// Send never fails: every failure is returned as a marker string in place
// of the reply (see FailureMarker).
type ChatSession interface {
	Send(ctx context.Context, history []Message) string
}

// ChatSessionFunc adapts a plain function to ChatSession.
type ChatSessionFunc func(ctx context.Context, history []Message) string

func (f ChatSessionFunc) Send(ctx context.Context, history []Message) string {
	return f(ctx, history)
}

// NewHistory builds the per-turn chat history: the system prompt, then the
// legend as a second system turn when enabled and non-blank.
func NewHistory(system, legend string, useLegend bool) []Message {
	history := make([]Message, 0, 3)
	history = append(history, SystemMessage(system))
	if useLegend && strings.TrimSpace(legend) != "" {
		history = append(history, SystemMessage(legend))
	}
	return history
}
