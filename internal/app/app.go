package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/xpanvictor/aisly/internal/config"
	"github.com/xpanvictor/aisly/internal/history"
	"github.com/xpanvictor/aisly/internal/metrics"
	"github.com/xpanvictor/aisly/internal/prompts"
	"github.com/xpanvictor/aisly/internal/server"
	"github.com/xpanvictor/aisly/internal/session"
	"github.com/xpanvictor/aisly/pkg/Logger"
	"github.com/xpanvictor/aisly/pkg/assistant"
	"github.com/xpanvictor/aisly/pkg/io/audio"
	"github.com/xpanvictor/aisly/pkg/io/capture"
	"github.com/xpanvictor/aisly/pkg/io/stt"
	"github.com/xpanvictor/aisly/pkg/io/stt/segment"
	"github.com/xpanvictor/aisly/pkg/io/stt/vad"
)

// App represents the application with all its dependencies
type App struct {
	Config       *config.Settings
	Logger       *Logger.Logger
	Registry     *prometheus.Registry
	Metrics      *metrics.Metrics
	Driver       capture.Driver
	History      history.Store
	Chat         assistant.ChatSession
	Transcriber  stt.Transcriber
	Orchestrator *session.Orchestrator
	// Server is nil when server.addr is empty.
	Server *http.Server

	closers []closer
	cancel  context.CancelFunc
}

// Backends lets callers replace the network collaborators; nil fields are
// built from config.
type Backends struct {
	Chat        assistant.ChatSession
	Transcriber stt.Transcriber
}

// NewApp creates a new application instance with all dependencies properly wired
func NewApp(ctx context.Context, cfg *config.Settings, logger *Logger.Logger, driver capture.Driver, backends Backends) (*App, error) {
	a := &App{
		Config: cfg,
		Logger: logger,
		Driver: driver,
	}

	if err := a.setupDependencies(ctx, backends); err != nil {
		a.closeAll()
		return nil, err
	}
	return a, nil
}

// setupDependencies initializes all application dependencies
func (a *App) setupDependencies(ctx context.Context, backends Backends) error {
	// 1. metrics
	a.Registry = prometheus.NewRegistry()
	if a.Config.Metrics.Enabled {
		a.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		a.Metrics = metrics.NewMetrics(a.Registry)
	} else {
		a.Metrics = metrics.NewNop()
	}

	// 2. prompt resources
	res, err := prompts.Load(a.Config.Prompts, a.Logger.Named("prompts"))
	if err != nil {
		return fmt.Errorf("failed to load prompts: %w", err)
	}
	a.Logger.Infof("loaded %d technical terms", len(res.Terms))

	// 3. history store
	if err := a.setupHistory(); err != nil {
		return err
	}

	// 4. backends
	a.Chat = backends.Chat
	if a.Chat == nil {
		chat, release, err := NewChatSession(ctx, a.Config.Chat, a.Logger)
		if err != nil {
			return err
		}
		a.Chat = chat
		if release != nil {
			a.closers = append(a.closers, release)
		}
	}
	a.Transcriber = backends.Transcriber
	if a.Transcriber == nil {
		tr, err := NewTranscriber(a.Config.Transcription, a.Logger)
		if err != nil {
			return err
		}
		a.Transcriber = tr
	}

	// 5. audio path
	streamCfg := a.Config.Audio.StreamConfig
	capturer := capture.New(a.Driver, streamCfg, a.Logger.Named("capture"))
	streamCfg = capturer.Config()
	ring := audio.NewRing(audio.RingSizeFor(a.Config.Audio.BufferSeconds, streamCfg.SampleRate, streamCfg.Channels, streamCfg.FramesPerBuffer))
	buffer := segment.NewBuffer(vad.NewNormGate(a.Config.VAD), ring)

	// 6. orchestrator
	dispatcher := session.NewDispatcher(a.Chat, session.DispatcherConfig{
		MaxInFlight: a.Config.Chat.MaxInFlight,
	}, a.Metrics, a.Logger.Named("dispatcher"))

	a.Orchestrator = session.New(session.Config{
		Flush:             a.Config.Flush,
		TranscribeTimeout: a.Config.Transcription.Timeout,
		UseLegend:         a.Config.UI.UseLegend,
	}, session.Deps{
		Capture:     capturer,
		Buffer:      buffer,
		Transcriber: a.Transcriber,
		Dispatcher:  dispatcher,
		History:     a.History,
		Prompts:     res,
		Metrics:     a.Metrics,
		Logger:      a.Logger.Named("session"),
	})

	// 7. control api
	if a.Config.Server.Addr != "" {
		deps := server.Dependencies{
			Controller: a.Orchestrator,
			Logger:     a.Logger.Named("server"),
		}
		if a.Config.Metrics.Enabled {
			deps.Gatherer = a.Registry
		}
		a.Server = &http.Server{
			Addr:    a.Config.Server.Addr,
			Handler: server.NewRouter(deps, a.Config.Debug).Handler(),
		}
	}

	return nil
}

func (a *App) setupHistory() error {
	if a.Config.History.DBPath == "" {
		a.History = history.NewMemoryStore()
		return nil
	}
	store, err := history.OpenSQLite(a.Config.History.DBPath)
	if err != nil {
		return fmt.Errorf("failed to open history database: %w", err)
	}
	a.Logger.Infof("history persisted to %s", a.Config.History.DBPath)
	a.History = store
	return nil
}

// Run starts the completion consumer and the control api. It returns once
// both are running; Shutdown stops them.
func (a *App) Run(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)
	go a.Orchestrator.Run(ctx)

	if a.Server != nil {
		go func() {
			if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Errorf("control api stopped: %v", err)
			}
		}()
		a.Logger.Infof("control api listening on %s", a.Server.Addr)
	}
	return nil
}

// Shutdown stops listening, drains the api and releases every backend.
func (a *App) Shutdown(ctx context.Context) error {
	var errs []error
	if a.Server != nil {
		if err := a.Server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("server shutdown: %w", err))
		}
	}
	if a.Orchestrator != nil {
		if err := a.Orchestrator.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session close: %w", err))
		}
	}
	if a.cancel != nil {
		a.cancel()
	}
	errs = append(errs, a.closeAll()...)
	return errors.Join(errs...)
}

func (a *App) closeAll() []error {
	var errs []error
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if a.History != nil {
		if err := a.History.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history close: %w", err))
		}
		a.History = nil
	}
	if a.Driver != nil {
		if err := a.Driver.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audio driver close: %w", err))
		}
		a.Driver = nil
	}
	return errs
}
