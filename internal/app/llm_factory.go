package app

import (
	"context"
	"fmt"

	"github.com/xpanvictor/aisly/internal/config"
	"github.com/xpanvictor/aisly/pkg/Logger"
	"github.com/xpanvictor/aisly/pkg/assistant"
	"github.com/xpanvictor/aisly/pkg/assistant/providers/gemini"
	"github.com/xpanvictor/aisly/pkg/assistant/providers/ollama"
	"github.com/xpanvictor/aisly/pkg/io/stt"
	"github.com/xpanvictor/aisly/pkg/io/stt/openaistt"
	"github.com/xpanvictor/aisly/pkg/io/stt/whisper"
)

// closer releases a backend client; nil when there is nothing to release.
type closer func() error

// NewChatSession builds the chat backend selected by chat.provider.
func NewChatSession(ctx context.Context, cfg config.ChatConfig, logger *Logger.Logger) (assistant.ChatSession, closer, error) {
	logger = logger.Named("chat")

	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		if cfg.APIKey == "" {
			logger.Warn("chat.api_key is empty, requests will likely be rejected")
		}
		chat := assistant.NewOpenAIChat(assistant.OpenAIConfig{
			APIKey:      cfg.APIKey,
			BaseURL:     cfg.BaseURL,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger)
		logger.Infof("chat provider openai-compatible at %s, model %s", cfg.BaseURL, cfg.Model)
		return chat, nil, nil

	case config.ProviderOllama:
		provider := ollama.New(ollama.Config{
			URLs:        cfg.OllamaURLs,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger)
		logger.Infof("chat provider ollama, servers %v, model %s", cfg.OllamaURLs, cfg.Model)
		return provider, nil, nil

	case config.ProviderGemini:
		provider, err := gemini.New(ctx, gemini.Config{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			Timeout:     cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create gemini provider: %w", err)
		}
		logger.Infof("chat provider gemini, model %s", cfg.Model)
		return provider, provider.Close, nil
	}

	return nil, nil, fmt.Errorf("unknown chat provider %q", cfg.Provider)
}

// NewTranscriber builds the speech-to-text backend selected by transcription.backend.
func NewTranscriber(cfg config.TranscriptionConfig, logger *Logger.Logger) (stt.Transcriber, error) {
	logger = logger.Named("stt")

	switch cfg.Backend {
	case config.BackendWhisper, "":
		logger.Infof("transcription via whisper service at %s", cfg.BaseURL)
		return whisper.NewWhisperClient(whisper.Config{
			BaseURL:       cfg.BaseURL,
			Language:      cfg.Language,
			InitialPrompt: cfg.InitialPrompt,
			Timeout:       cfg.Timeout,
		}, logger), nil

	case config.BackendOpenAI:
		logger.Infof("transcription via openai-compatible api at %s", cfg.BaseURL)
		return openaistt.New(openaistt.Config{
			APIKey:   cfg.APIKey,
			BaseURL:  cfg.BaseURL,
			Model:    cfg.Model,
			Language: cfg.Language,
			Prompt:   cfg.InitialPrompt,
			Timeout:  cfg.Timeout,
		}, logger), nil
	}

	return nil, fmt.Errorf("unknown transcription backend %q", cfg.Backend)
}
