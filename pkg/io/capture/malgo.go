package capture

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/xpanvictor/aisly/pkg/Logger"
	"github.com/xpanvictor/aisly/pkg/io/audio"
)

// MalgoDriver opens capture devices through miniaudio.
type MalgoDriver struct {
	ctx    *malgo.AllocatedContext
	logger *Logger.Logger
	once   sync.Once
}

func NewMalgoDriver(logger *Logger.Logger) (*MalgoDriver, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debugf("miniaudio: %s", strings.TrimSpace(message))
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to init audio context: %v", ErrDeviceUnavailable, err)
	}
	return &MalgoDriver{ctx: ctx, logger: logger}, nil
}

// Devices implements Driver.
func (d *MalgoDriver) Devices() ([]DeviceInfo, error) {
	infos, err := d.ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate capture devices: %w", err)
	}
	out := make([]DeviceInfo, 0, len(infos))
	for _, info := range infos {
		out = append(out, DeviceInfo{Name: info.Name(), IsDefault: info.IsDefault != 0})
	}
	return out, nil
}

// Open implements Driver. An empty device name selects the system default.
func (d *MalgoDriver) Open(cfg StreamConfig, onFrame FrameFunc) (Stream, error) {
	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatF32
	devCfg.Capture.Channels = uint32(cfg.Channels)
	devCfg.SampleRate = uint32(cfg.SampleRate)
	devCfg.PeriodSizeInFrames = uint32(cfg.FramesPerBuffer)
	devCfg.Alsa.NoMMap = 1

	if cfg.Device != "" {
		infos, err := d.ctx.Devices(malgo.Capture)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
		}
		idx := matchDevice(deviceNames(infos), cfg.Device)
		if idx < 0 {
			return nil, fmt.Errorf("%w: no capture device matches %q", ErrDeviceUnavailable, cfg.Device)
		}
		devCfg.Capture.DeviceID = infos[idx].ID.Pointer()
	}

	channels := int16(cfg.Channels)
	sampleRate := int32(cfg.SampleRate)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onFrame(audio.FromF32LE(input, channels, sampleRate, time.Now()))
		},
	}

	device, err := malgo.InitDevice(d.ctx.Context, devCfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, fmt.Errorf("%w: failed to start device: %v", ErrDeviceUnavailable, err)
	}
	return &malgoStream{device: device}, nil
}

// Close implements Driver.
func (d *MalgoDriver) Close() error {
	var err error
	d.once.Do(func() {
		err = d.ctx.Uninit()
		d.ctx.Free()
	})
	return err
}

type malgoStream struct {
	device *malgo.Device
}

func (s *malgoStream) Stop() error {
	err := s.device.Stop()
	s.device.Uninit()
	return err
}

func deviceNames(infos []malgo.DeviceInfo) []string {
	names := make([]string, len(infos))
	for i, info := range infos {
		names[i] = info.Name()
	}
	return names
}

// matchDevice prefers an exact name, then a case-insensitive substring.
func matchDevice(names []string, want string) int {
	for i, name := range names {
		if name == want {
			return i
		}
	}
	lower := strings.ToLower(want)
	for i, name := range names {
		if strings.Contains(strings.ToLower(name), lower) {
			return i
		}
	}
	return -1
}
