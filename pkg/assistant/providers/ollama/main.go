package ollama

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/presbrey/ollamafarm"
	"github.com/xpanvictor/aisly/pkg/Logger"
	"github.com/xpanvictor/aisly/pkg/assistant"
)

var errNoServer = errors.New("no ollama server online")

type Config struct {
	URLs        []string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OllamaProvider sends chats to the first online server of a farm.
type OllamaProvider struct {
	ollamafarm  *ollamafarm.Farm
	model       string
	temperature float64
	timeout     time.Duration
	logger      *Logger.Logger
}

func New(cfg Config, logger *Logger.Logger) *OllamaProvider {
	farm := ollamafarm.New()

	// register servers
	for _, u := range cfg.URLs {
		if err := farm.RegisterURL(u, nil); err != nil {
			logger.Warnf("failed to register ollama server %s: %v", u, err)
		}
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = assistant.DefaultTimeout
	}

	return &OllamaProvider{
		ollamafarm:  farm,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		timeout:     cfg.Timeout,
		logger:      logger,
	}
}

// Send implements assistant.ChatSession.
func (o *OllamaProvider) Send(ctx context.Context, history []assistant.Message) string {
	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	stream := false
	req := api.ChatRequest{
		Model:    o.model,
		Messages: ConvertMsgs(history),
		Stream:   &stream,
		Options:  map[string]interface{}{"temperature": o.temperature},
	}

	var reply strings.Builder
	err := o.Chat(ctx, req, func(cr api.ChatResponse) error {
		reply.WriteString(cr.Message.Content)
		return nil
	})
	if err != nil {
		o.logger.Warnf("ollama chat failed: %v", err)
		return ReplyFromError(err)
	}
	return reply.String()
}

func (o *OllamaProvider) Chat(
	ctx context.Context,
	req api.ChatRequest,
	fn api.ChatResponseFunc,
) error {
	// pick first available client
	ollama := o.ollamafarm.First(&ollamafarm.Where{Offline: false})
	if ollama != nil {
		return ollama.Client().Chat(ctx, &req, fn)
	}
	return fmt.Errorf("%w for model %v", errNoServer, req.Model)
}

func ConvertMsgs(msgs []assistant.Message) []api.Message {
	convertedMsgs := make([]api.Message, 0, len(msgs))
	for _, msg := range msgs {
		convertedMsgs = append(convertedMsgs, api.Message{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	return convertedMsgs
}

// ReplyFromError maps a chat error to the marker reply.
func ReplyFromError(err error) string {
	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		body := statusErr.ErrorMessage
		if body == "" {
			body = statusErr.Status
		}
		return assistant.HTTPFailure(statusErr.StatusCode, body)
	}
	return assistant.ExceptionFailure(err)
}
