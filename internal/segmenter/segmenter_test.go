package segmenter

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/voxpipe/utterance-service/internal/audio"
)

func testConfig() Config {
	return Config{
		SampleRate:         16000,
		BufferDuration:     3000 * time.Millisecond,
		MinSpeechDuration:  500 * time.Millisecond,
		MaxSilenceDuration: 1500 * time.Millisecond,
		SilenceThreshold:   0.01,
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// clipRecorder captures flushed clips in ingestion order.
type clipRecorder struct {
	clips []*audio.Clip
}

func (r *clipRecorder) record(clip *audio.Clip) {
	r.clips = append(r.clips, clip)
}

func newTestSegmenter(t *testing.T, config Config, flushFn FlushFunc) *Segmenter {
	t.Helper()

	seg, err := New(config, discardLogger(), flushFn)
	if err != nil {
		t.Fatalf("Failed to create segmenter: %v", err)
	}

	return seg
}

// chunk builds a capture chunk of n samples at constant amplitude.
func chunk(n int, amplitude float64, ts time.Time) Chunk {
	samples := make([]float64, n)
	for i := range samples {
		samples[i] = amplitude
	}

	return Chunk{Samples: samples, Timestamp: ts}
}

func TestNewValidation(t *testing.T) {
	noop := func(*audio.Clip) {}

	tests := []struct {
		name      string
		mutate    func(*Config)
		flushFn   FlushFunc
		expectErr bool
	}{
		{
			name:      "valid",
			mutate:    func(c *Config) {},
			flushFn:   noop,
			expectErr: false,
		},
		{
			name:      "zero sample rate",
			mutate:    func(c *Config) { c.SampleRate = 0 },
			flushFn:   noop,
			expectErr: true,
		},
		{
			name:      "zero buffer duration",
			mutate:    func(c *Config) { c.BufferDuration = 0 },
			flushFn:   noop,
			expectErr: true,
		},
		{
			name:      "zero speech duration",
			mutate:    func(c *Config) { c.MinSpeechDuration = 0 },
			flushFn:   noop,
			expectErr: true,
		},
		{
			name:      "invalid threshold",
			mutate:    func(c *Config) { c.SilenceThreshold = 2 },
			flushFn:   noop,
			expectErr: true,
		},
		{
			name:      "nil flush handler",
			mutate:    func(c *Config) {},
			flushFn:   nil,
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig()
			tt.mutate(&config)

			_, err := New(config, discardLogger(), tt.flushFn)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestSpeechActivation(t *testing.T) {
	recorder := &clipRecorder{}
	seg := newTestSegmenter(t, testConfig(), recorder.record)

	base := time.Now()
	seg.Ingest(chunk(1600, 0.02, base)) // RMS 0.02 is above the 0.01 threshold

	stats := seg.GetStats()
	if !stats.SpeechActive {
		t.Error("Expected speech to be active after loud chunk")
	}

	if stats.SpeechChunks != 1 {
		t.Errorf("Expected 1 speech chunk, got %d", stats.SpeechChunks)
	}

	// The first speech chunk announces the utterance.
	select {
	case event := <-seg.Events():
		if event.Type != EventSpeechStarted {
			t.Errorf("Expected speech-started event first, got %s", event.Type)
		}
	default:
		t.Error("Expected a speech-started event")
	}
}

func TestAudioLevelEvents(t *testing.T) {
	recorder := &clipRecorder{}
	seg := newTestSegmenter(t, testConfig(), recorder.record)

	base := time.Now()
	seg.Ingest(chunk(1600, 0.001, base))

	select {
	case event := <-seg.Events():
		if event.Type != EventAudioLevel {
			t.Errorf("Expected audio-level event, got %s", event.Type)
		}
		if event.IsSpeech {
			t.Error("Expected silence classification for quiet chunk")
		}
		if event.Timestamp != base {
			t.Errorf("Expected event timestamp %v, got %v", base, event.Timestamp)
		}
	default:
		t.Error("Expected an audio-level event")
	}
}

func TestSilenceAfterSpeechFlush(t *testing.T) {
	recorder := &clipRecorder{}
	seg := newTestSegmenter(t, testConfig(), recorder.record)

	base := time.Now()
	totalSamples := 0
	feed := func(offsetMs int, amplitude float64) {
		if len(recorder.clips) == 0 {
			totalSamples += 1600
		}
		seg.Ingest(chunk(1600, amplitude, base.Add(time.Duration(offsetMs)*time.Millisecond)))
	}

	// 400ms leading silence, 600ms of speech ending at t=900, then silence.
	// The silence hangover is satisfied at t=900+1500=2400, well before the
	// 3s max-duration deadline.
	for ms := 0; ms <= 300; ms += 100 {
		feed(ms, 0.001)
	}
	for ms := 400; ms <= 900; ms += 100 {
		feed(ms, 0.5)
	}
	for ms := 1000; ms <= 2300; ms += 100 {
		feed(ms, 0.001)
		if len(recorder.clips) != 0 {
			t.Fatalf("Unexpected flush at t=%dms", ms)
		}
	}
	feed(2400, 0.001)

	if len(recorder.clips) != 1 {
		t.Fatalf("Expected exactly one flush, got %d", len(recorder.clips))
	}

	clip := recorder.clips[0]
	if clip.Reason != audio.ReasonSilenceAfterSpeech {
		t.Errorf("Expected reason %q, got %q", audio.ReasonSilenceAfterSpeech, clip.Reason)
	}

	if clip.SampleCount != totalSamples {
		t.Errorf("Expected clip with %d samples, got %d", totalSamples, clip.SampleCount)
	}

	stats := seg.GetStats()
	if !stats.Pending {
		t.Error("Expected dispatch gate to be held after flush")
	}

	if stats.BufferedSamples != 0 {
		t.Errorf("Expected empty buffer after flush, got %d samples", stats.BufferedSamples)
	}
}

func TestMaxDurationPrecedence(t *testing.T) {
	recorder := &clipRecorder{}
	seg := newTestSegmenter(t, testConfig(), recorder.record)

	base := time.Now()
	feed := func(offsetMs int, amplitude float64) {
		seg.Ingest(chunk(1600, amplitude, base.Add(time.Duration(offsetMs)*time.Millisecond)))
	}

	// Long leading silence pushes the span to the 3s deadline before the
	// silence hangover after the speech burst can complete.
	for ms := 0; ms <= 1500; ms += 100 {
		feed(ms, 0.001)
	}
	for ms := 1600; ms <= 2000; ms += 100 {
		feed(ms, 0.5)
	}
	for ms := 2100; ms <= 2900; ms += 100 {
		feed(ms, 0.001)
	}

	if len(recorder.clips) != 0 {
		t.Fatalf("Expected no flush before the 3s deadline, got %d", len(recorder.clips))
	}

	feed(3000, 0.001)

	if len(recorder.clips) != 1 {
		t.Fatalf("Expected exactly one flush, got %d", len(recorder.clips))
	}

	if recorder.clips[0].Reason != audio.ReasonMaxDuration {
		t.Errorf("Expected reason %q, got %q", audio.ReasonMaxDuration, recorder.clips[0].Reason)
	}
}

func TestMaxDurationWithoutSpeech(t *testing.T) {
	recorder := &clipRecorder{}
	seg := newTestSegmenter(t, testConfig(), recorder.record)

	base := time.Now()
	for ms := 0; ms <= 3000; ms += 100 {
		seg.Ingest(chunk(1600, 0.001, base.Add(time.Duration(ms)*time.Millisecond)))
	}

	if len(recorder.clips) != 1 {
		t.Fatalf("Expected exactly one flush, got %d", len(recorder.clips))
	}

	if recorder.clips[0].Reason != audio.ReasonMaxDuration {
		t.Errorf("Expected reason %q, got %q", audio.ReasonMaxDuration, recorder.clips[0].Reason)
	}
}

func TestNoFlushWhileGateHeld(t *testing.T) {
	recorder := &clipRecorder{}
	seg := newTestSegmenter(t, testConfig(), recorder.record)

	base := time.Now()
	feed := func(offsetMs int, amplitude float64) {
		seg.Ingest(chunk(1600, amplitude, base.Add(time.Duration(offsetMs)*time.Millisecond)))
	}

	// First flush via max-duration raises the gate.
	for ms := 0; ms <= 3000; ms += 100 {
		feed(ms, 0.3)
	}

	if len(recorder.clips) != 1 {
		t.Fatalf("Expected one flush to raise the gate, got %d", len(recorder.clips))
	}

	// Many more seconds worth of flush-worthy audio must not flush again
	// while the gate is held.
	for ms := 3100; ms <= 15000; ms += 100 {
		feed(ms, 0.3)
	}

	if len(recorder.clips) != 1 {
		t.Fatalf("Expected no flush while gate held, got %d", len(recorder.clips))
	}

	stats := seg.GetStats()
	if stats.BufferedSamples == 0 {
		t.Error("Expected span to keep accumulating while gate held")
	}
}

func TestFlushAfterCompletion(t *testing.T) {
	recorder := &clipRecorder{}
	seg := newTestSegmenter(t, testConfig(), recorder.record)

	base := time.Now()
	feed := func(offsetMs int, amplitude float64) {
		seg.Ingest(chunk(1600, amplitude, base.Add(time.Duration(offsetMs)*time.Millisecond)))
	}

	for ms := 0; ms <= 3000; ms += 100 {
		feed(ms, 0.3)
	}
	for ms := 3100; ms <= 7000; ms += 100 {
		feed(ms, 0.3)
	}

	if len(recorder.clips) != 1 {
		t.Fatalf("Expected one flush before completion, got %d", len(recorder.clips))
	}

	seg.OnTranscriptionComplete()

	// The accumulated span is already past the max-duration deadline, so the
	// next chunk triggers exactly one more flush.
	feed(7100, 0.3)

	if len(recorder.clips) != 2 {
		t.Fatalf("Expected exactly two flushes after completion, got %d", len(recorder.clips))
	}
}

func TestForceFlush(t *testing.T) {
	recorder := &clipRecorder{}
	seg := newTestSegmenter(t, testConfig(), recorder.record)

	base := time.Now()

	if seg.ForceFlush(base) {
		t.Error("Expected force flush on empty buffer to be a no-op")
	}

	seg.Ingest(chunk(1600, 0.2, base))

	if !seg.ForceFlush(base.Add(100 * time.Millisecond)) {
		t.Fatal("Expected force flush to succeed")
	}

	if len(recorder.clips) != 1 {
		t.Fatalf("Expected one flushed clip, got %d", len(recorder.clips))
	}

	if recorder.clips[0].Reason != audio.ReasonManualFlush {
		t.Errorf("Expected reason %q, got %q", audio.ReasonManualFlush, recorder.clips[0].Reason)
	}

	// Gate is now held; another force flush must be refused.
	seg.Ingest(chunk(1600, 0.2, base.Add(200*time.Millisecond)))
	if seg.ForceFlush(base.Add(300 * time.Millisecond)) {
		t.Error("Expected force flush to be refused while gate held")
	}
}

func TestCeilingDropWhileGateHeld(t *testing.T) {
	config := testConfig()
	config.MaxBufferedSamples = 8000

	recorder := &clipRecorder{}
	seg := newTestSegmenter(t, config, recorder.record)

	base := time.Now()
	feed := func(offsetMs int, amplitude float64) {
		seg.Ingest(chunk(1600, amplitude, base.Add(time.Duration(offsetMs)*time.Millisecond)))
	}

	// Raise the gate with a manual flush, then keep ingesting.
	feed(0, 0.3)
	if !seg.ForceFlush(base.Add(50 * time.Millisecond)) {
		t.Fatal("Expected force flush to succeed")
	}

	for ms := 100; ms <= 600; ms += 100 {
		feed(ms, 0.3)
	}

	stats := seg.GetStats()
	if stats.SamplesDropped == 0 {
		t.Error("Expected buffered span to be dropped at the sample ceiling")
	}

	if stats.BufferedSamples >= config.MaxBufferedSamples {
		t.Errorf("Expected buffer below ceiling after drop, got %d samples", stats.BufferedSamples)
	}

	if len(recorder.clips) != 1 {
		t.Errorf("Expected the drop to produce no extra clip, got %d flushes", len(recorder.clips))
	}
}

func TestEmptyChunkIsSilence(t *testing.T) {
	recorder := &clipRecorder{}
	seg := newTestSegmenter(t, testConfig(), recorder.record)

	seg.Ingest(Chunk{Samples: nil, Timestamp: time.Now()})

	stats := seg.GetStats()
	if stats.ChunksIngested != 1 {
		t.Errorf("Expected 1 ingested chunk, got %d", stats.ChunksIngested)
	}

	if stats.BufferedSamples != 0 {
		t.Errorf("Expected empty buffer, got %d samples", stats.BufferedSamples)
	}

	if stats.SpeechActive {
		t.Error("Expected empty chunk to classify as silence")
	}
}

func TestCompletionWithoutDispatch(t *testing.T) {
	recorder := &clipRecorder{}
	seg := newTestSegmenter(t, testConfig(), recorder.record)

	// Must not panic or corrupt state.
	seg.OnTranscriptionComplete()

	if seg.GetStats().Pending {
		t.Error("Expected gate to stay down")
	}
}
