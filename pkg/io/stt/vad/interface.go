package vad

import "github.com/xpanvictor/aisly/pkg/io/audio"

// DefaultThreshold is the norm a frame must exceed to count as voiced.
const DefaultThreshold = 0.01

// Gate decides per frame whether it carries signal worth keeping.
// Implementations run on the audio driver thread and must not block.
type Gate interface {
	IsVoiced(frame audio.Frame) bool
}

// VADConfig contains configuration for the gate
type VADConfig struct {
	Threshold float64 `mapstructure:"threshold"`
}

func DefaultVADConfig() VADConfig {
	return VADConfig{Threshold: DefaultThreshold}
}
