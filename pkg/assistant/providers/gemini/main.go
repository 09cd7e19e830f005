package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/xpanvictor/aisly/pkg/Logger"
	"github.com/xpanvictor/aisly/pkg/assistant"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const DefaultModel = "gemini-1.5-flash"

type Config struct {
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// GeminiProvider sends chat histories to the Gemini API.
type GeminiProvider struct {
	client      *genai.Client
	model       string
	temperature float32
	timeout     time.Duration
	logger      *Logger.Logger
}

// New creates a new GeminiProvider instance.
func New(ctx context.Context, cfg Config, logger *Logger.Logger) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is not configured")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini API client: %w", err)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = assistant.DefaultTimeout
	}

	return &GeminiProvider{
		client:      client,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		timeout:     cfg.Timeout,
		logger:      logger,
	}, nil
}

// Send implements assistant.ChatSession.
func (gp *GeminiProvider) Send(ctx context.Context, history []assistant.Message) string {
	ctx, cancel := context.WithTimeout(ctx, gp.timeout)
	defer cancel()

	system, turns, last := SplitHistory(history)
	if last == "" {
		return assistant.ExceptionFailure(errors.New("history has no user turn"))
	}

	// models carry per-call settings, build one per request
	model := gp.client.GenerativeModel(gp.model)
	model.SetTemperature(gp.temperature)
	if system != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}

	cs := model.StartChat()
	cs.History = turns

	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		gp.logger.Warnf("gemini chat failed: %v", err)
		return ReplyFromError(err)
	}
	return ResponseText(resp)
}

func (gp *GeminiProvider) Close() error {
	return gp.client.Close()
}

// SplitHistory joins system turns into one instruction, maps the remaining
// turns to Gemini roles and pops the final user message.
func SplitHistory(history []assistant.Message) (system string, turns []*genai.Content, last string) {
	var systemParts []string
	for _, msg := range history {
		switch msg.Role {
		case assistant.SYSTEM:
			if msg.Content != "" {
				systemParts = append(systemParts, msg.Content)
			}
		case assistant.ASSISTANT:
			turns = append(turns, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(msg.Content)}})
		default:
			turns = append(turns, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(msg.Content)}})
		}
	}

	if n := len(turns); n > 0 && turns[n-1].Role == "user" {
		if text, ok := turns[n-1].Parts[0].(genai.Text); ok {
			last = string(text)
		}
		turns = turns[:n-1]
	}
	return strings.Join(systemParts, "\n\n"), turns, last
}

func ResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return assistant.ExceptionFailure(errors.New("response has no candidates"))
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			sb.WriteString(string(text))
		}
	}
	return sb.String()
}

func ReplyFromError(err error) string {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return assistant.HTTPFailure(apiErr.Code, apiErr.Message)
	}
	return assistant.ExceptionFailure(err)
}
