package capture

import (
	"errors"
	"fmt"
	"sync"

	"github.com/xpanvictor/aisly/pkg/Logger"
	"github.com/xpanvictor/aisly/pkg/io/audio"
)

var ErrDeviceUnavailable = errors.New("capture: device unavailable")

// FrameFunc receives frames on the driver thread. It must return quickly.
type FrameFunc func(frame audio.Frame)

// StreamConfig describes the input stream to open.
type StreamConfig struct {
	Device          string `mapstructure:"device"`
	SampleRate      int    `mapstructure:"sample_rate"`
	Channels        int    `mapstructure:"channels"`
	FramesPerBuffer int    `mapstructure:"frames_per_buffer"`
}

func DefaultStreamConfig() StreamConfig {
	return StreamConfig{
		SampleRate:      audio.DefaultSampleRate,
		Channels:        audio.DefaultChannels,
		FramesPerBuffer: audio.DefaultSampleRate / 100,
	}
}

// DeviceInfo is what a driver reports about an input device.
type DeviceInfo struct {
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// Stream is an open input stream.
type Stream interface {
	Stop() error
}

// Driver abstracts the audio backend so the capture lifecycle can be tested
// without hardware.
type Driver interface {
	Open(cfg StreamConfig, onFrame FrameFunc) (Stream, error)
	Devices() ([]DeviceInfo, error)
	Close() error
}

// Capturer is the lifecycle the orchestrator depends on.
type Capturer interface {
	Start(onFrame FrameFunc) error
	Stop() error
	Running() bool
}

// Capture owns at most one live stream at a time.
type Capture struct {
	driver Driver
	cfg    StreamConfig
	logger *Logger.Logger

	mu     sync.Mutex
	stream Stream
}

func New(driver Driver, cfg StreamConfig, logger *Logger.Logger) *Capture {
	def := DefaultStreamConfig()
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = def.SampleRate
	}
	if cfg.Channels <= 0 {
		cfg.Channels = def.Channels
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = cfg.SampleRate / 100
	}
	return &Capture{
		driver: driver,
		cfg:    cfg,
		logger: logger,
	}
}

// Start opens the configured device. Starting a running capture is a no-op.
func (c *Capture) Start(onFrame FrameFunc) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream != nil {
		return nil
	}

	stream, err := c.driver.Open(c.cfg, onFrame)
	if err != nil {
		if errors.Is(err, ErrDeviceUnavailable) {
			return err
		}
		return fmt.Errorf("%w: %q: %v", ErrDeviceUnavailable, c.cfg.Device, err)
	}
	c.stream = stream
	c.logger.Infof("capture started on %q (%d Hz, %d ch)", c.deviceLabel(), c.cfg.SampleRate, c.cfg.Channels)
	return nil
}

// Stop halts delivery and releases the device. Stopping a stopped capture is a no-op.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stream == nil {
		return nil
	}
	stream := c.stream
	c.stream = nil

	if err := stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture stream: %w", err)
	}
	c.logger.Infof("capture stopped on %q", c.deviceLabel())
	return nil
}

func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stream != nil
}

func (c *Capture) Config() StreamConfig {
	return c.cfg
}

func (c *Capture) deviceLabel() string {
	if c.cfg.Device == "" {
		return "default"
	}
	return c.cfg.Device
}
