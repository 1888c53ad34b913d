package segmenter

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxpipe/utterance-service/internal/audio"
	"github.com/voxpipe/utterance-service/internal/vad"
)

// Chunk is one capture interval of normalized mono samples together with its
// arrival time. All timing decisions use the chunk timestamp, so replayed
// streams segment identically to live ones.
type Chunk struct {
	Samples   []float64
	Timestamp time.Time
}

// EventType identifies an advisory segmentation event.
type EventType string

const (
	EventSpeechStarted EventType = "speech-started"
	EventAudioLevel    EventType = "audio-level"
)

// Event is advisory telemetry emitted during ingestion. Events carry no
// control flow; consumers that fall behind lose events rather than slowing
// ingestion.
type Event struct {
	Type      EventType `json:"type"`
	RMS       float64   `json:"rms"`
	IsSpeech  bool      `json:"is_speech"`
	Timestamp time.Time `json:"timestamp"`
}

// FlushFunc receives each encoded clip for dispatch. It is invoked with the
// segmenter lock held and must hand the clip off without blocking.
type FlushFunc func(clip *audio.Clip)

// Config contains segmentation parameters.
type Config struct {
	SampleRate         int
	BufferDuration     time.Duration // Max span age before a forced flush
	MinSpeechDuration  time.Duration // Speech needed before silence can flush
	MaxSilenceDuration time.Duration // Silence hangover that ends an utterance
	SilenceThreshold   float64       // RMS threshold for the voice gate
	MaxBufferedSamples int           // Drop ceiling while the gate is held; 0 disables
}

// Segmenter owns the utterance buffer and the speech/silence timers. All
// access is serialized through a single mutex, so ingestion and gate release
// may run on different goroutines.
type Segmenter struct {
	config  Config
	gate    *vad.Gate
	logger  *slog.Logger
	flushFn FlushFunc

	buffer          *audio.Accumulator
	lastSpeechTime  time.Time
	lastSilenceTime time.Time
	speechActive    bool
	pending         bool

	events chan Event

	// Statistics
	chunksIngested  uint64
	speechChunks    uint64
	flushes         uint64
	flushesByReason map[string]uint64
	samplesDropped  uint64
	eventsDropped   uint64

	mu sync.Mutex
}

// Stats represents segmenter statistics for monitoring.
type Stats struct {
	ChunksIngested  uint64            `json:"chunks_ingested"`
	SpeechChunks    uint64            `json:"speech_chunks"`
	Flushes         uint64            `json:"flushes"`
	FlushesByReason map[string]uint64 `json:"flushes_by_reason"`
	SamplesDropped  uint64            `json:"samples_dropped"`
	EventsDropped   uint64            `json:"events_dropped"`
	BufferedSamples int               `json:"buffered_samples"`
	SpeechActive    bool              `json:"speech_active"`
	Pending         bool              `json:"pending_transcription"`
}

// New creates a segmenter with the given configuration and flush handler.
func New(config Config, logger *slog.Logger, flushFn FlushFunc) (*Segmenter, error) {
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}

	if config.BufferDuration <= 0 {
		return nil, fmt.Errorf("buffer duration must be positive, got %v", config.BufferDuration)
	}

	if config.MinSpeechDuration <= 0 || config.MaxSilenceDuration <= 0 {
		return nil, fmt.Errorf("speech and silence durations must be positive, got %v and %v",
			config.MinSpeechDuration, config.MaxSilenceDuration)
	}

	if flushFn == nil {
		return nil, fmt.Errorf("flush handler cannot be nil")
	}

	gate, err := vad.NewGate(config.SilenceThreshold)
	if err != nil {
		return nil, fmt.Errorf("failed to create voice gate: %w", err)
	}

	return &Segmenter{
		config:          config,
		gate:            gate,
		logger:          logger,
		flushFn:         flushFn,
		buffer:          audio.NewAccumulator(config.SampleRate),
		events:          make(chan Event, 64),
		flushesByReason: make(map[string]uint64),
	}, nil
}

// Ingest appends a capture chunk to the current span, classifies it, and
// flushes the span when a flush condition fires and no transcription is in
// flight. An empty chunk degrades to a silence classification; it is never
// an error.
func (s *Segmenter) Ingest(chunk Chunk) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := chunk.Timestamp
	s.chunksIngested++

	s.buffer.Append(chunk.Samples, now)

	result := s.gate.Classify(chunk.Samples)
	if result.IsSpeech {
		s.speechChunks++
		s.lastSpeechTime = now
		if !s.speechActive {
			s.speechActive = true
			s.emit(Event{Type: EventSpeechStarted, RMS: result.RMS, IsSpeech: true, Timestamp: now})
		}
	} else {
		s.lastSilenceTime = now
	}

	s.emit(Event{Type: EventAudioLevel, RMS: result.RMS, IsSpeech: result.IsSpeech, Timestamp: now})

	if s.pending {
		// The gate is held, so nothing can be flushed. The span keeps
		// accumulating until the ceiling forces a drop.
		s.enforceCeiling(now)
		return
	}

	if reason := s.evaluateFlush(now); reason != "" {
		s.flush(reason, now)
	}
}

// OnTranscriptionComplete releases the dispatch gate, unblocking the next
// flush evaluation. Called exactly once per dispatched clip, on success and
// failure alike.
func (s *Segmenter) OnTranscriptionComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.pending {
		s.logger.Warn("Transcription completion with no dispatch in flight")
		return
	}

	s.pending = false
}

// ForceFlush flushes the current span regardless of the duration conditions.
// It still respects the dispatch gate and reports whether a flush happened.
func (s *Segmenter) ForceFlush(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.pending || s.buffer.IsEmpty() {
		return false
	}

	return s.flush(audio.ReasonManualFlush, now)
}

// Events returns the advisory event stream.
func (s *Segmenter) Events() <-chan Event {
	return s.events
}

// GetStats returns current segmenter statistics.
func (s *Segmenter) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	byReason := make(map[string]uint64, len(s.flushesByReason))
	for reason, count := range s.flushesByReason {
		byReason[reason] = count
	}

	return Stats{
		ChunksIngested:  s.chunksIngested,
		SpeechChunks:    s.speechChunks,
		Flushes:         s.flushes,
		FlushesByReason: byReason,
		SamplesDropped:  s.samplesDropped,
		EventsDropped:   s.eventsDropped,
		BufferedSamples: s.buffer.Len(),
		SpeechActive:    s.speechActive,
		Pending:         s.pending,
	}
}

// evaluateFlush checks the flush conditions in precedence order and returns
// the matching reason, or "" when the span should keep accumulating.
func (s *Segmenter) evaluateFlush(now time.Time) string {
	if s.buffer.IsEmpty() {
		return ""
	}

	if now.Sub(s.buffer.StartTime()) >= s.config.BufferDuration {
		return audio.ReasonMaxDuration
	}

	// Silence only ends an utterance that contained enough speech; brief
	// threshold blips never produce a clip on their own.
	if s.speechActive &&
		now.Sub(s.lastSpeechTime) >= s.config.MaxSilenceDuration &&
		s.lastSpeechTime.Sub(s.buffer.StartTime()) >= s.config.MinSpeechDuration {
		return audio.ReasonSilenceAfterSpeech
	}

	return ""
}

// flush encodes the span, raises the dispatch gate, hands the clip to the
// flush handler, and resets accumulation. The reset happens immediately so
// ingestion continues uninterrupted while the transcription is outstanding.
func (s *Segmenter) flush(reason string, now time.Time) bool {
	samples, startTime := s.buffer.Take()
	s.speechActive = false
	s.lastSpeechTime = time.Time{}
	s.lastSilenceTime = time.Time{}

	clip, err := audio.EncodeClip(samples, s.config.SampleRate, reason, now)
	if err != nil {
		// The span is already discarded; leaving the gate down keeps the
		// pipeline alive after an encoding fault.
		s.logger.Error("Failed to encode utterance clip",
			slog.String("reason", reason),
			slog.Int("samples", len(samples)),
			slog.String("error", err.Error()),
		)
		return false
	}

	s.pending = true
	s.flushes++
	s.flushesByReason[reason]++

	s.logger.Info("Utterance flushed",
		slog.String("reason", reason),
		slog.Int("samples", clip.SampleCount),
		slog.Duration("duration", clip.Duration),
		slog.Duration("span_age", now.Sub(startTime)),
	)

	s.flushFn(clip)

	return true
}

// enforceCeiling drops the buffered span once it exceeds the configured
// sample ceiling while the gate is held. Dropping loses audio, but bounds
// memory when the transcription endpoint is slow or backed up.
func (s *Segmenter) enforceCeiling(now time.Time) {
	if s.config.MaxBufferedSamples <= 0 {
		return
	}

	if s.buffer.Len() < s.config.MaxBufferedSamples {
		return
	}

	dropped := s.buffer.Len()
	spanAge := now.Sub(s.buffer.StartTime())

	s.buffer.Reset()
	s.speechActive = false
	s.lastSpeechTime = time.Time{}
	s.lastSilenceTime = time.Time{}
	s.samplesDropped += uint64(dropped)

	s.logger.Warn("Dropped buffered span: dispatch gate held past sample ceiling",
		slog.Int("samples_dropped", dropped),
		slog.Duration("span_age", spanAge),
		slog.Int("ceiling", s.config.MaxBufferedSamples),
	)
}

// emit delivers an advisory event without ever blocking ingestion.
func (s *Segmenter) emit(event Event) {
	select {
	case s.events <- event:
	default:
		s.eventsDropped++
	}
}
