package vad

import (
	"fmt"
	"math"
)

// Gate classifies audio chunks as speech or silence by comparing their
// RMS energy against a fixed threshold. A Gate is immutable after creation
// and safe for concurrent use.
type Gate struct {
	threshold float64
}

// Classification is the result of classifying a single chunk.
type Classification struct {
	RMS      float64 `json:"rms"`
	IsSpeech bool    `json:"is_speech"`
}

// NewGate creates a new voice activity gate.
func NewGate(threshold float64) (*Gate, error) {
	if threshold < 0 || threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", threshold)
	}

	return &Gate{threshold: threshold}, nil
}

// Classify computes the RMS energy of the chunk and compares it against the
// gate threshold. An empty chunk has RMS 0 and is classified as silence.
func (g *Gate) Classify(samples []float64) Classification {
	rms := RMS(samples)

	return Classification{
		RMS:      rms,
		IsSpeech: rms > g.threshold,
	}
}

// Threshold returns the silence threshold the gate was created with.
func (g *Gate) Threshold() float64 {
	return g.threshold
}

// RMS computes the root-mean-square energy of a chunk of normalized samples.
// The RMS of an empty chunk is defined as 0 so callers never divide by zero.
func RMS(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}

	var energy float64
	for _, sample := range samples {
		energy += sample * sample
	}

	return math.Sqrt(energy / float64(len(samples)))
}
