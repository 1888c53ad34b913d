package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the utterance service
type Metrics struct {
	// UDP frame metrics
	FramesReceived prometheus.Counter
	FramesDropped  prometheus.Counter
	ParseErrors    prometheus.Counter
	SequenceGaps   prometheus.Counter
	QueueSize      prometheus.Gauge

	// Segmentation metrics
	ChunksIngested  prometheus.Counter
	SpeechChunks    prometheus.Counter
	Flushes         *prometheus.CounterVec
	SamplesDropped  prometheus.Counter
	ClipDuration    prometheus.Histogram
	ClipSize        prometheus.Histogram
	BufferedSamples prometheus.Gauge

	// Transcription metrics
	DispatchesTotal      prometheus.Counter
	DispatchSuccesses    prometheus.Counter
	DispatchFailures     prometheus.Counter
	DispatchAttempts     *prometheus.CounterVec
	TranscriptionLatency prometheus.Histogram

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		// UDP frame metrics
		FramesReceived: promauto.NewCounter(prometheus.CounterOpts{
			Name: "utterance_frames_received_total",
			Help: "Total number of UDP frames received",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "utterance_frames_dropped_total",
			Help: "Total number of frames dropped due to a full processing queue",
		}),
		ParseErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "utterance_parse_errors_total",
			Help: "Total number of frame parsing errors",
		}),
		SequenceGaps: promauto.NewCounter(prometheus.CounterOpts{
			Name: "utterance_sequence_gaps_total",
			Help: "Total number of detected frame sequence gaps",
		}),
		QueueSize: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "utterance_frame_queue_size",
			Help: "Current number of frames in the processing queue",
		}),

		// Segmentation metrics
		ChunksIngested: promauto.NewCounter(prometheus.CounterOpts{
			Name: "utterance_chunks_ingested_total",
			Help: "Total number of capture chunks ingested by the segmenter",
		}),
		SpeechChunks: promauto.NewCounter(prometheus.CounterOpts{
			Name: "utterance_speech_chunks_total",
			Help: "Total number of chunks classified as speech",
		}),
		Flushes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "utterance_flushes_total",
			Help: "Total number of utterance flushes by reason",
		}, []string{"reason"}),
		SamplesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "utterance_samples_dropped_total",
			Help: "Total number of buffered samples dropped at the sample ceiling",
		}),
		ClipDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "utterance_clip_duration_seconds",
			Help:    "Duration of flushed utterance clips",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 8), // 250ms to ~32s
		}),
		ClipSize: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "utterance_clip_size_bytes",
			Help:    "Size of encoded WAV clips in bytes",
			Buckets: prometheus.ExponentialBuckets(1024, 2, 12), // 1KB to ~4MB
		}),
		BufferedSamples: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "utterance_buffered_samples",
			Help: "Current number of samples buffered for the next utterance",
		}),

		// Transcription metrics
		DispatchesTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name: "utterance_dispatches_total",
			Help: "Total number of clips dispatched for transcription",
		}),
		DispatchSuccesses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "utterance_dispatch_successes_total",
			Help: "Total number of dispatches that yielded text",
		}),
		DispatchFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "utterance_dispatch_failures_total",
			Help: "Total number of dispatches that exhausted every format",
		}),
		DispatchAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "utterance_dispatch_attempts_total",
			Help: "Total number of per-format transcription attempts",
		}, []string{"format"}),
		TranscriptionLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "utterance_transcription_duration_seconds",
			Help:    "End-to-end duration of transcription dispatches",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~2 minutes
		}),

		// HTTP API metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "utterance_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "utterance_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
	}
}

// RecordFrameReceived increments the frames received counter
func (m *Metrics) RecordFrameReceived() {
	m.FramesReceived.Inc()
}

// RecordFrameDropped increments the dropped frames counter
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordParseError increments the parse errors counter
func (m *Metrics) RecordParseError() {
	m.ParseErrors.Inc()
}

// RecordSequenceGap increments the sequence gap counter
func (m *Metrics) RecordSequenceGap() {
	m.SequenceGaps.Inc()
}

// SetQueueSize sets the current processing queue size
func (m *Metrics) SetQueueSize(size int) {
	m.QueueSize.Set(float64(size))
}

// RecordChunkIngested records an ingested capture chunk
func (m *Metrics) RecordChunkIngested(isSpeech bool) {
	m.ChunksIngested.Inc()
	if isSpeech {
		m.SpeechChunks.Inc()
	}
}

// RecordFlush records a flushed utterance clip
func (m *Metrics) RecordFlush(reason string, durationSeconds float64, sizeBytes int) {
	m.Flushes.WithLabelValues(reason).Inc()
	m.ClipDuration.Observe(durationSeconds)
	m.ClipSize.Observe(float64(sizeBytes))
}

// RecordSamplesDropped adds to the dropped samples counter
func (m *Metrics) RecordSamplesDropped(count int) {
	m.SamplesDropped.Add(float64(count))
}

// SetBufferedSamples sets the current buffered sample gauge
func (m *Metrics) SetBufferedSamples(count int) {
	m.BufferedSamples.Set(float64(count))
}

// RecordDispatch records a completed transcription dispatch
func (m *Metrics) RecordDispatch(success bool, durationSeconds float64) {
	m.DispatchesTotal.Inc()
	if success {
		m.DispatchSuccesses.Inc()
	} else {
		m.DispatchFailures.Inc()
	}
	m.TranscriptionLatency.Observe(durationSeconds)
}

// RecordDispatchAttempt records a single per-format attempt
func (m *Metrics) RecordDispatchAttempt(format string) {
	m.DispatchAttempts.WithLabelValues(format).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}
