package audio

import (
	"fmt"
	"math"
)

// QuantizeSamples converts normalized float samples to signed 16-bit PCM.
// Each sample is clamped to [-1.0, 1.0] before scaling; NaN samples are
// treated as 0 so malformed capture data degrades instead of corrupting
// the clip.
func QuantizeSamples(samples []float64) []int16 {
	pcm := make([]int16, len(samples))
	for i, sample := range samples {
		if math.IsNaN(sample) {
			sample = 0
		}
		if sample > 1.0 {
			sample = 1.0
		}
		if sample < -1.0 {
			sample = -1.0
		}
		pcm[i] = int16(sample * 32767)
	}

	return pcm
}

// DecodePCM16 converts little-endian 16-bit PCM bytes to normalized float
// samples in [-1.0, 1.0).
func DecodePCM16(data []byte) ([]float64, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even, got %d bytes", len(data))
	}

	samples := make([]float64, len(data)/2)
	for i := range samples {
		raw := int16(data[i*2]) | int16(data[i*2+1])<<8
		samples[i] = float64(raw) / 32768.0
	}

	return samples, nil
}
