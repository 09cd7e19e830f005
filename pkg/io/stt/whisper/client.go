package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/xpanvictor/aisly/pkg/Logger"
	"github.com/xpanvictor/aisly/pkg/io/audio"
	"github.com/xpanvictor/aisly/pkg/io/stt"
	"github.com/xpanvictor/aisly/pkg/io/stt/segment"
)

// TranscriptionResponse represents the response from Whisper STT service
type TranscriptionResponse struct {
	Text     string                 `json:"text"`
	Language string                 `json:"language"`
	Segments []TranscriptionSegment `json:"segments,omitempty"`
}

// TranscriptionSegment represents a timed segment of transcription
type TranscriptionSegment struct {
	Text  string  `json:"text"`
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	ID    int     `json:"id"`
}

// JoinedText concatenates segment texts with single spaces, falling back to Text.
func (r TranscriptionResponse) JoinedText() string {
	if len(r.Segments) == 0 {
		return strings.TrimSpace(r.Text)
	}
	parts := make([]string, 0, len(r.Segments))
	for _, s := range r.Segments {
		parts = append(parts, s.Text)
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}

type Config struct {
	BaseURL       string
	Language      string
	InitialPrompt string
	Timeout       time.Duration
}

// WhisperClient talks to a whisper-asr-webservice compatible /asr endpoint.
type WhisperClient struct {
	baseURL       string
	language      string
	initialPrompt string
	httpClient    *http.Client
	logger        *Logger.Logger
}

func NewWhisperClient(cfg Config, logger *Logger.Logger) *WhisperClient {
	if cfg.Language == "" {
		cfg.Language = stt.DefaultLanguage
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &WhisperClient{
		baseURL:       strings.TrimRight(cfg.BaseURL, "/"),
		language:      cfg.Language,
		initialPrompt: cfg.InitialPrompt,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		logger: logger,
	}
}

// Transcribe implements stt.Transcriber.
func (w *WhisperClient) Transcribe(ctx context.Context, seg segment.Segment) (stt.Transcript, error) {
	if seg.Empty() {
		return stt.Transcript{}, stt.ErrEmptySegment
	}

	wavData, err := audio.EncodeWAV(seg.Frames)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("failed to convert audio to WAV: %w", err)
	}

	resp, err := w.send(ctx, wavData)
	if err != nil {
		return stt.Transcript{}, err
	}

	lang := resp.Language
	if lang == "" {
		lang = w.language
	}
	return stt.Transcript{
		Text:          resp.JoinedText(),
		Language:      lang,
		SegmentID:     seg.ID,
		GeneratedAt:   time.Now(),
		AudioDuration: seg.Duration(),
	}, nil
}

func (w *WhisperClient) send(ctx context.Context, wavData []byte) (*TranscriptionResponse, error) {
	// Create multipart form data
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("audio_file", "segment.wav")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(wavData); err != nil {
		return nil, fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	query := url.Values{}
	query.Set("encode", "true")
	query.Set("task", "transcribe")
	query.Set("language", w.language)
	query.Set("output", "json")
	if w.initialPrompt != "" {
		query.Set("initial_prompt", w.initialPrompt)
	}
	requestURL := fmt.Sprintf("%s/asr?%s", w.baseURL, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, requestURL, &body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		w.logger.Errorf("Whisper service error (status %d): %s", resp.StatusCode, string(responseBody))
		return nil, fmt.Errorf("whisper service returned status %d: %s", resp.StatusCode, string(responseBody))
	}

	// Empty body means nothing was recognised
	if len(bytes.TrimSpace(responseBody)) == 0 {
		return &TranscriptionResponse{Language: w.language}, nil
	}

	var transcription TranscriptionResponse
	if err := json.Unmarshal(responseBody, &transcription); err != nil {
		// some deployments answer with plain text regardless of output=json
		w.logger.Debugf("Treating whisper response as plain text (length=%d)", len(responseBody))
		return &TranscriptionResponse{
			Text:     string(responseBody),
			Language: w.language,
		}, nil
	}

	w.logger.Debugf("Whisper transcription: %s (language: %s)", transcription.Text, transcription.Language)
	return &transcription, nil
}
