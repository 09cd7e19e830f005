package vad

import (
	"math"

	"github.com/xpanvictor/aisly/pkg/io/audio"
)

// NormGate flags a frame as voiced when the Euclidean norm of all its
// samples, across channels, is above Threshold. There is no noise floor
// adaptation.
type NormGate struct {
	Threshold float64
}

func NewNormGate(cfg VADConfig) NormGate {
	if cfg.Threshold <= 0 {
		cfg.Threshold = DefaultThreshold
	}
	return NormGate{Threshold: cfg.Threshold}
}

// IsVoiced implements Gate.
func (g NormGate) IsVoiced(frame audio.Frame) bool {
	return Norm(frame.Samples) > g.Threshold
}

// Norm returns the L2 norm of the samples.
func Norm(samples []float32) float64 {
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum)
}
