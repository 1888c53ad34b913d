package audio

import (
	"time"
)

// Accumulator is the append-only sample buffer for the utterance currently
// being collected. It tracks when accumulation started so the segmenter can
// evaluate duration-based flush conditions.
//
// An Accumulator is not safe for concurrent use; it is owned exclusively by
// the segmenter, which serializes all access.
type Accumulator struct {
	samples    []float64
	startTime  time.Time
	sampleRate int
}

// NewAccumulator creates an empty accumulator for the given sample rate.
func NewAccumulator(sampleRate int) *Accumulator {
	return &Accumulator{
		samples:    make([]float64, 0, sampleRate*4), // Pre-allocate for 4 seconds
		sampleRate: sampleRate,
	}
}

// Append adds a chunk of samples to the buffer. The first append after a
// reset records now as the buffer start time.
func (a *Accumulator) Append(samples []float64, now time.Time) {
	if len(samples) == 0 {
		return
	}
	if len(a.samples) == 0 {
		a.startTime = now
	}
	a.samples = append(a.samples, samples...)
}

// Take returns the accumulated samples together with the buffer start time
// and resets the accumulator to empty. The returned slice is not aliased by
// the accumulator afterwards.
func (a *Accumulator) Take() ([]float64, time.Time) {
	samples := a.samples
	startTime := a.startTime

	a.samples = make([]float64, 0, a.sampleRate*4)
	a.startTime = time.Time{}

	return samples, startTime
}

// Reset discards the accumulated samples and zeroes the start time.
func (a *Accumulator) Reset() {
	a.samples = a.samples[:0]
	a.startTime = time.Time{}
}

// Len returns the number of buffered samples.
func (a *Accumulator) Len() int {
	return len(a.samples)
}

// IsEmpty returns whether the buffer holds no samples.
func (a *Accumulator) IsEmpty() bool {
	return len(a.samples) == 0
}

// StartTime returns when the current span started accumulating. The zero
// time means the buffer is empty.
func (a *Accumulator) StartTime() time.Time {
	return a.startTime
}

// Duration returns the buffered audio duration derived from the sample count.
func (a *Accumulator) Duration() time.Duration {
	if a.sampleRate <= 0 {
		return 0
	}
	return time.Duration(len(a.samples)) * time.Second / time.Duration(a.sampleRate)
}
