package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxpipe/utterance-service/internal/audio"
	"github.com/voxpipe/utterance-service/internal/metrics"
	"github.com/voxpipe/utterance-service/internal/segmenter"
	"github.com/voxpipe/utterance-service/internal/transcription"
)

// maxRecentResults bounds the transcript history kept for the monitoring API.
const maxRecentResults = 32

// ResultFunc receives every transcription result, successful or not. It is
// called from the dispatch goroutine, once per flushed clip.
type ResultFunc func(result *transcription.Result)

// Config contains pipeline configuration.
type Config struct {
	Segmenter     segmenter.Config
	Transcription transcription.Config
}

// Stats represents combined pipeline statistics.
type Stats struct {
	Segmenter     segmenter.Stats     `json:"segmenter"`
	Transcription transcription.Stats `json:"transcription"`
	ResultsStored int                 `json:"results_stored"`
}

// Pipeline coordinates the segmenter and the transcription dispatcher. Each
// flushed clip is dispatched on its own goroutine; the segmenter gate
// guarantees at most one is outstanding at a time.
type Pipeline struct {
	segmenter  *segmenter.Segmenter
	dispatcher *transcription.Dispatcher
	logger     *slog.Logger
	metrics    *metrics.Metrics // Optional, nil disables metric recording
	resultFn   ResultFunc
	formats    []string

	recent             []*transcription.Result
	lastSamplesDropped uint64

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu sync.RWMutex
}

// New creates a pipeline. The metrics and result callback are both optional.
func New(config Config, logger *slog.Logger, m *metrics.Metrics, resultFn ResultFunc) (*Pipeline, error) {
	dispatcher, err := transcription.NewDispatcher(config.Transcription, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create transcription dispatcher: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &Pipeline{
		dispatcher: dispatcher,
		logger:     logger,
		metrics:    m,
		resultFn:   resultFn,
		formats:    config.Transcription.Formats,
		ctx:        ctx,
		cancel:     cancel,
	}

	seg, err := segmenter.New(config.Segmenter, logger, p.handleFlush)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create segmenter: %w", err)
	}
	p.segmenter = seg

	p.wg.Add(1)
	go p.consumeEvents()

	return p, nil
}

// Ingest feeds one capture chunk into the segmenter.
func (p *Pipeline) Ingest(chunk segmenter.Chunk) {
	p.segmenter.Ingest(chunk)

	if p.metrics == nil {
		return
	}

	stats := p.segmenter.GetStats()
	p.metrics.SetBufferedSamples(stats.BufferedSamples)

	p.mu.Lock()
	if delta := stats.SamplesDropped - p.lastSamplesDropped; delta > 0 {
		p.metrics.RecordSamplesDropped(int(delta))
		p.lastSamplesDropped = stats.SamplesDropped
	}
	p.mu.Unlock()
}

// ForceFlush flushes the buffered span immediately, if the dispatch gate
// allows it. It reports whether a clip was produced.
func (p *Pipeline) ForceFlush() bool {
	return p.segmenter.ForceFlush(time.Now())
}

// RecentResults returns the most recent transcription results, newest last.
func (p *Pipeline) RecentResults() []*transcription.Result {
	p.mu.RLock()
	defer p.mu.RUnlock()

	results := make([]*transcription.Result, len(p.recent))
	copy(results, p.recent)

	return results
}

// GetStats returns combined pipeline statistics.
func (p *Pipeline) GetStats() Stats {
	p.mu.RLock()
	stored := len(p.recent)
	p.mu.RUnlock()

	return Stats{
		Segmenter:     p.segmenter.GetStats(),
		Transcription: p.dispatcher.GetStats(),
		ResultsStored: stored,
	}
}

// Stop cancels outstanding dispatches and waits for all pipeline goroutines
// to finish.
func (p *Pipeline) Stop() {
	p.logger.Info("Stopping pipeline...")

	p.cancel()
	p.wg.Wait()

	stats := p.dispatcher.GetStats()
	p.logger.Info("Pipeline stopped",
		slog.Uint64("total_dispatches", stats.TotalDispatches),
		slog.Uint64("successful_transcriptions", stats.SuccessCount),
		slog.Float64("success_rate", stats.SuccessRate),
	)
}

// handleFlush receives each flushed clip from the segmenter. It runs with the
// segmenter lock held, so the dispatch itself happens on a fresh goroutine.
func (p *Pipeline) handleFlush(clip *audio.Clip) {
	if p.metrics != nil {
		p.metrics.RecordFlush(clip.Reason, clip.Duration.Seconds(), len(clip.Data))
	}

	p.wg.Add(1)
	go p.dispatch(clip)
}

// dispatch sends one clip to the transcription endpoint. The gate release is
// deferred so ingestion can resume flushing even if the result callback
// panics or the dispatch is cancelled mid-flight.
func (p *Pipeline) dispatch(clip *audio.Clip) {
	defer p.wg.Done()
	defer p.segmenter.OnTranscriptionComplete()

	startTime := time.Now()
	result := p.dispatcher.Dispatch(p.ctx, clip)

	if p.metrics != nil {
		p.metrics.RecordDispatch(!result.Failed(), time.Since(startTime).Seconds())
		for i := 0; i < result.Attempts && i < len(p.formats); i++ {
			p.metrics.RecordDispatchAttempt(p.formats[i])
		}
	}

	p.mu.Lock()
	p.recent = append(p.recent, result)
	if len(p.recent) > maxRecentResults {
		p.recent = p.recent[len(p.recent)-maxRecentResults:]
	}
	p.mu.Unlock()

	if p.resultFn != nil {
		p.resultFn(result)
	}
}

// consumeEvents drains the segmenter's advisory event stream, feeding the
// per-chunk metrics and debug logging.
func (p *Pipeline) consumeEvents() {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return
		case event := <-p.segmenter.Events():
			switch event.Type {
			case segmenter.EventSpeechStarted:
				p.logger.Debug("Speech started",
					slog.Float64("rms", event.RMS),
					slog.Time("timestamp", event.Timestamp),
				)
			case segmenter.EventAudioLevel:
				if p.metrics != nil {
					p.metrics.RecordChunkIngested(event.IsSpeech)
				}
			}
		}
	}
}
