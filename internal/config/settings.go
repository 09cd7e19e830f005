package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xpanvictor/aisly/internal/prompts"
	"github.com/xpanvictor/aisly/internal/session"
	"github.com/xpanvictor/aisly/pkg/io/capture"
	"github.com/xpanvictor/aisly/pkg/io/stt/vad"
)

const EnvPrefix = "AISLY"

const (
	BackendWhisper = "whisper"
	BackendOpenAI  = "openai"

	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

type AudioConfig struct {
	capture.StreamConfig `mapstructure:",squash"`
	// BufferSeconds sizes the frame ring; the oldest frames are evicted past it.
	BufferSeconds float64 `mapstructure:"buffer_seconds"`
}

type TranscriptionConfig struct {
	Backend       string        `mapstructure:"backend"`
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	Language      string        `mapstructure:"language"`
	InitialPrompt string        `mapstructure:"initial_prompt"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type ChatConfig struct {
	Provider    string        `mapstructure:"provider"`
	BaseURL     string        `mapstructure:"base_url"`
	APIKey      string        `mapstructure:"api_key"`
	Model       string        `mapstructure:"model"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxInFlight int64         `mapstructure:"max_in_flight"`
	OllamaURLs  []string      `mapstructure:"ollama_urls"`
}

type HistoryConfig struct {
	// DBPath enables the sqlite store; empty keeps history in memory.
	DBPath string `mapstructure:"db_path"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

type UIConfig struct {
	UseLegend bool `mapstructure:"use_legend"`
}

type Settings struct {
	Audio         AudioConfig         `mapstructure:"audio"`
	VAD           vad.VADConfig       `mapstructure:"vad"`
	Flush         session.FlushConfig `mapstructure:"flush"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Chat          ChatConfig          `mapstructure:"chat"`
	Prompts       prompts.Paths       `mapstructure:"prompts"`
	History       HistoryConfig       `mapstructure:"history"`
	Server        ServerConfig        `mapstructure:"server"`
	Metrics       MetricsConfig       `mapstructure:"metrics"`
	UI            UIConfig            `mapstructure:"ui"`
	Env           string              `mapstructure:"env"`
	Debug         bool                `mapstructure:"debug"`
	LogFile       string              `mapstructure:"log_file"`
}

func setDefaults(v *viper.Viper) {
	stream := capture.DefaultStreamConfig()
	v.SetDefault("audio.device", stream.Device)
	v.SetDefault("audio.sample_rate", stream.SampleRate)
	v.SetDefault("audio.channels", stream.Channels)
	v.SetDefault("audio.frames_per_buffer", stream.FramesPerBuffer)
	v.SetDefault("audio.buffer_seconds", 30.0)

	v.SetDefault("vad.threshold", vad.DefaultThreshold)

	flush := session.DefaultFlushConfig()
	v.SetDefault("flush.policy", flush.Policy)
	v.SetDefault("flush.interval", flush.Interval)
	v.SetDefault("flush.silence_timeout", flush.SilenceTimeout)
	v.SetDefault("flush.max_segment", flush.MaxSegment)

	v.SetDefault("transcription.backend", BackendWhisper)
	v.SetDefault("transcription.base_url", "http://localhost:9000")
	v.SetDefault("transcription.api_key", "")
	v.SetDefault("transcription.model", "")
	v.SetDefault("transcription.language", "ru")
	v.SetDefault("transcription.initial_prompt", "")
	v.SetDefault("transcription.timeout", 30*time.Second)

	v.SetDefault("chat.provider", ProviderOpenAI)
	v.SetDefault("chat.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("chat.api_key", "")
	v.SetDefault("chat.model", "llama3-70b-8192")
	v.SetDefault("chat.temperature", 0.7)
	v.SetDefault("chat.timeout", 30*time.Second)
	v.SetDefault("chat.max_in_flight", 0)
	v.SetDefault("chat.ollama_urls", []string{"http://localhost:11434"})

	v.SetDefault("prompts.system", "prompt/system.md")
	v.SetDefault("prompts.legend", "prompt/legend.md")
	v.SetDefault("prompts.terms", "prompt/technical_terms.txt")

	v.SetDefault("history.db_path", "")
	v.SetDefault("server.addr", "127.0.0.1:8765")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("ui.use_legend", true)
	v.SetDefault("env", "dev")
	v.SetDefault("debug", false)
	v.SetDefault("log_file", "")
}

// Load reads config_<env>.yaml from the working directory, or path when set.
// A missing default file is not an error; defaults and AISLY_* environment
// variables still apply.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config_" + genEnv(v))
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &settings, nil
}

func genEnv(v *viper.Viper) string {
	env := v.GetString("env")
	if env == "" {
		return "dev"
	}
	return env
}

// Validate rejects settings the pipeline cannot run with.
func (s *Settings) Validate() error {
	var errs []error

	if s.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate must be positive, got %d", s.Audio.SampleRate))
	}
	if s.Audio.Channels <= 0 {
		errs = append(errs, fmt.Errorf("audio.channels must be positive, got %d", s.Audio.Channels))
	}
	if s.Audio.BufferSeconds <= 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_seconds must be positive"))
	}
	if s.VAD.Threshold < 0 {
		errs = append(errs, fmt.Errorf("vad.threshold must not be negative"))
	}

	switch s.Flush.Policy {
	case session.FlushInterval:
		if s.Flush.Interval <= 0 {
			errs = append(errs, fmt.Errorf("flush.interval must be positive"))
		}
	case session.FlushSilence:
		if s.Flush.SilenceTimeout <= 0 {
			errs = append(errs, fmt.Errorf("flush.silence_timeout must be positive"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown flush.policy %q", s.Flush.Policy))
	}

	switch s.Transcription.Backend {
	case BackendWhisper:
		if s.Transcription.BaseURL == "" {
			errs = append(errs, fmt.Errorf("transcription.base_url is required for the whisper backend"))
		}
	case BackendOpenAI:
	default:
		errs = append(errs, fmt.Errorf("unknown transcription.backend %q", s.Transcription.Backend))
	}

	switch s.Chat.Provider {
	case ProviderOpenAI, ProviderGemini:
	case ProviderOllama:
		if len(s.Chat.OllamaURLs) == 0 {
			errs = append(errs, fmt.Errorf("chat.ollama_urls must list at least one server"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown chat.provider %q", s.Chat.Provider))
	}
	if s.Chat.MaxInFlight < 0 {
		errs = append(errs, fmt.Errorf("chat.max_in_flight must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
