package openaistt

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"github.com/xpanvictor/aisly/pkg/Logger"
	"github.com/xpanvictor/aisly/pkg/io/audio"
	"github.com/xpanvictor/aisly/pkg/io/stt"
	"github.com/xpanvictor/aisly/pkg/io/stt/segment"
)

const DefaultModel = openai.Whisper1

type Config struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	Prompt   string
	Timeout  time.Duration
}

// Client transcribes segments through an OpenAI compatible
// /audio/transcriptions endpoint (OpenAI, Groq, local gateways).
type Client struct {
	cli      *openai.Client
	model    string
	language string
	prompt   string
	logger   *Logger.Logger
}

func New(cfg Config, logger *Logger.Logger) *Client {
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	clientConfig.HTTPClient = &http.Client{Timeout: cfg.Timeout}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Language == "" {
		cfg.Language = stt.DefaultLanguage
	}
	return &Client{
		cli:      openai.NewClientWithConfig(clientConfig),
		model:    cfg.Model,
		language: cfg.Language,
		prompt:   cfg.Prompt,
		logger:   logger,
	}
}

// Transcribe implements stt.Transcriber.
func (c *Client) Transcribe(ctx context.Context, seg segment.Segment) (stt.Transcript, error) {
	if seg.Empty() {
		return stt.Transcript{}, stt.ErrEmptySegment
	}

	wavData, err := audio.EncodeWAV(seg.Frames)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("failed to convert audio to WAV: %w", err)
	}

	resp, err := c.cli.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: "segment.wav",
		Reader:   bytes.NewReader(wavData),
		Language: c.language,
		Prompt:   c.prompt,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("transcription request failed: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	c.logger.Debugf("hosted transcription (%s): %s", c.model, text)
	return stt.Transcript{
		Text:          text,
		Language:      c.language,
		SegmentID:     seg.ID,
		GeneratedAt:   time.Now(),
		AudioDuration: seg.Duration(),
	}, nil
}
