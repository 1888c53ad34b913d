package audio

import (
	"math"
	"testing"
	"time"
)

func TestQuantizeSamples(t *testing.T) {
	tests := []struct {
		name     string
		input    float64
		expected int16
	}{
		{name: "zero", input: 0, expected: 0},
		{name: "full positive", input: 1.0, expected: 32767},
		{name: "full negative", input: -1.0, expected: -32767},
		{name: "half scale", input: 0.5, expected: 16383},
		{name: "clamped above", input: 2.5, expected: 32767},
		{name: "clamped below", input: -3.0, expected: -32767},
		{name: "nan becomes silence", input: math.NaN(), expected: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := QuantizeSamples([]float64{tt.input})
			if pcm[0] != tt.expected {
				t.Errorf("Expected %d for input %f, got %d", tt.expected, tt.input, pcm[0])
			}
		})
	}
}

func TestDecodePCM16(t *testing.T) {
	// 0x7FFF little-endian followed by 0x8000.
	data := []byte{0xFF, 0x7F, 0x00, 0x80}

	samples, err := DecodePCM16(data)
	if err != nil {
		t.Fatalf("DecodePCM16 failed: %v", err)
	}

	if len(samples) != 2 {
		t.Fatalf("Expected 2 samples, got %d", len(samples))
	}

	if math.Abs(samples[0]-32767.0/32768.0) > 1e-9 {
		t.Errorf("Expected near 1.0, got %f", samples[0])
	}

	if samples[1] != -1.0 {
		t.Errorf("Expected -1.0, got %f", samples[1])
	}

	if _, err := DecodePCM16([]byte{0x01}); err == nil {
		t.Error("Expected error for odd-length PCM data")
	}
}

func TestEncodeWAVSizes(t *testing.T) {
	samples := make([]int16, 1600)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	wavData, err := EncodeWAV(samples, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	// Container is a 44-byte header plus 2 bytes per sample.
	expectedSize := 44 + len(samples)*2
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	decoded, sampleRate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}

	if sampleRate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", sampleRate)
	}

	if len(decoded) != len(samples) {
		t.Errorf("Expected %d samples, got %d", len(samples), len(decoded))
	}

	for i := range samples {
		if decoded[i] != samples[i] {
			t.Fatalf("Sample %d mismatch: expected %d, got %d", i, samples[i], decoded[i])
		}
	}
}

func TestEncodeWAVValidation(t *testing.T) {
	if _, err := EncodeWAV(nil, 16000); err == nil {
		t.Error("Expected error for empty samples")
	}

	if _, err := EncodeWAV([]int16{1, 2, 3}, 0); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

func TestEncodeClip(t *testing.T) {
	samples := make([]float64, 8000) // 500ms at 16kHz
	for i := range samples {
		samples[i] = 0.25
	}

	now := time.Now()
	clip, err := EncodeClip(samples, 16000, ReasonSilenceAfterSpeech, now)
	if err != nil {
		t.Fatalf("EncodeClip failed: %v", err)
	}

	if clip.SampleCount != len(samples) {
		t.Errorf("Expected sample count %d, got %d", len(samples), clip.SampleCount)
	}

	if clip.Duration != 500*time.Millisecond {
		t.Errorf("Expected duration 500ms, got %v", clip.Duration)
	}

	if clip.Reason != ReasonSilenceAfterSpeech {
		t.Errorf("Expected reason %q, got %q", ReasonSilenceAfterSpeech, clip.Reason)
	}

	if clip.DispatchedAt != now {
		t.Errorf("Expected dispatch timestamp %v, got %v", now, clip.DispatchedAt)
	}

	if len(clip.Data) != 44+2*len(samples) {
		t.Errorf("Expected payload size %d, got %d", 44+2*len(samples), len(clip.Data))
	}

	if err := ValidateWAV(clip.Data); err != nil {
		t.Errorf("Clip payload is not a valid WAV container: %v", err)
	}
}

func TestEncodeClipEmpty(t *testing.T) {
	if _, err := EncodeClip(nil, 16000, ReasonManualFlush, time.Now()); err == nil {
		t.Error("Expected error for empty sample span")
	}
}

func TestValidateWAVErrors(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{name: "too short", data: []byte{1, 2, 3}},
		{name: "bad riff", data: make([]byte, 44)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := ValidateWAV(tt.data); err == nil {
				t.Error("Expected validation error but got none")
			}
		})
	}
}
