package assistant

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/tidwall/gjson"
	"github.com/xpanvictor/aisly/pkg/Logger"
)

const (
	DefaultBaseURL     = "https://api.groq.com/openai/v1"
	DefaultModel       = "llama3-70b-8192"
	DefaultTemperature = 0.7
	DefaultTimeout     = 30 * time.Second
)

// OpenAIConfig targets any OpenAI compatible chat completions endpoint.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

type openAIChat struct {
	client      openai.Client
	model       string
	temperature float64
	logger      *Logger.Logger
}

// Send implements ChatSession.
func (o openAIChat) Send(ctx context.Context, history []Message) string {
	convertedMsgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(history))
	for _, msg := range history {
		convertedMsgs = append(convertedMsgs, convertToOpenaiMsg(msg))
	}

	chatCompletion, err := o.client.Chat.Completions.New(
		ctx,
		openai.ChatCompletionNewParams{
			Messages:    convertedMsgs,
			Model:       openai.ChatModel(o.model),
			Temperature: openai.Float(o.temperature),
		},
	)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			o.logger.Warnf("chat completion returned status %d", apiErr.StatusCode)
			return HTTPFailure(apiErr.StatusCode, apiErrorBody(apiErr))
		}
		o.logger.Warnf("chat completion failed: %v", err)
		return ExceptionFailure(err)
	}

	// some gateways answer 200 with an error object
	raw := chatCompletion.RawJSON()
	if apiError := gjson.Get(raw, "error"); apiError.Exists() {
		return APIFailure(gjson.Get(raw, "error.message").String())
	}
	if len(chatCompletion.Choices) == 0 {
		return ExceptionFailure(errors.New("response has no choices"))
	}
	return chatCompletion.Choices[0].Message.Content
}

func apiErrorBody(apiErr *openai.Error) string {
	if body := apiErr.RawJSON(); body != "" {
		return body
	}
	if apiErr.Message != "" {
		return apiErr.Message
	}
	return http.StatusText(apiErr.StatusCode)
}

func convertToOpenaiMsg(msg Message) openai.ChatCompletionMessageParamUnion {
	switch msg.Role {
	case ASSISTANT:
		return openai.AssistantMessage(msg.Content)
	case USER:
		return openai.UserMessage(msg.Content)
	case SYSTEM:
		return openai.SystemMessage(msg.Content)
	}
	return openai.UserMessage(msg.Content)
}

// NewOpenAIChat builds a ChatSession for an OpenAI compatible API. Retries
// are disabled; a failed call is reported once as a marker reply.
func NewOpenAIChat(cfg OpenAIConfig, logger *Logger.Logger) ChatSession {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return openAIChat{
		client: openai.NewClient(
			option.WithAPIKey(cfg.APIKey),
			option.WithBaseURL(cfg.BaseURL),
			option.WithRequestTimeout(cfg.Timeout),
			option.WithMaxRetries(0),
		),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}
}
