package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/voxpipe/utterance-service/internal/config"
	"github.com/voxpipe/utterance-service/internal/metrics"
	"github.com/voxpipe/utterance-service/internal/pipeline"
)

// HTTPServer provides HTTP API endpoints for monitoring and management
type HTTPServer struct {
	server    *http.Server
	logger    *slog.Logger
	config    *config.Config
	pipeline  *pipeline.Pipeline
	udpServer *UDPServer
	metrics   *metrics.Metrics // Optional

	// Server state
	startTime time.Time
	mu        sync.RWMutex
}

// NewHTTPServer creates a new HTTP API server
func NewHTTPServer(cfg config.HTTPConfig, logger *slog.Logger,
	appConfig *config.Config, p *pipeline.Pipeline, udpServer *UDPServer, m *metrics.Metrics) *HTTPServer {

	h := &HTTPServer{
		logger:    logger,
		config:    appConfig,
		pipeline:  p,
		udpServer: udpServer,
		metrics:   m,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	h.setupRoutes(mux)

	h.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return h
}

// setupRoutes configures HTTP API routes
func (h *HTTPServer) setupRoutes(mux *http.ServeMux) {
	// Health check endpoint
	mux.HandleFunc("/health", h.withMetrics("/health", h.handleHealth))

	// Statistics endpoint
	mux.HandleFunc("/stats", h.withMetrics("/stats", h.handleStats))

	// Configuration endpoint
	mux.HandleFunc("/config", h.withMetrics("/config", h.handleConfig))

	// Recent transcription results
	mux.HandleFunc("/transcripts", h.withMetrics("/transcripts", h.handleTranscripts))

	// Manual flush trigger
	mux.HandleFunc("/flush", h.withMetrics("/flush", h.handleFlush))

	// Prometheus metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())

	// Root endpoint with API documentation
	mux.HandleFunc("/", h.withMetrics("/", h.handleRoot))
}

// withMetrics wraps an HTTP handler with metrics collection
func (h *HTTPServer) withMetrics(endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		startTime := time.Now()

		ww := &responseWriter{ResponseWriter: w, statusCode: 200}
		handler(ww, r)

		if h.metrics != nil {
			duration := time.Since(startTime).Seconds()
			statusCode := fmt.Sprintf("%d", ww.statusCode)
			h.metrics.RecordHTTPRequest(r.Method, endpoint, statusCode, duration)
		}
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start starts the HTTP server
func (h *HTTPServer) Start() error {
	h.logger.Info("Starting HTTP API server",
		slog.String("address", h.server.Addr),
	)

	go func() {
		if err := h.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			h.logger.Error("HTTP server error", slog.String("error", err.Error()))
		}
	}()

	return nil
}

// Stop gracefully stops the HTTP server
func (h *HTTPServer) Stop(ctx context.Context) error {
	h.logger.Info("Stopping HTTP API server...")

	return h.server.Shutdown(ctx)
}

// handleHealth implements the /health endpoint
func (h *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	uptime := time.Since(h.startTime)
	udpStats := h.udpServer.GetStatistics()
	pipelineStats := h.pipeline.GetStats()

	health := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"uptime":    uptime.String(),
		"service": map[string]interface{}{
			"name":    "utterance-service",
			"version": "1.0.0",
		},
		"components": map[string]interface{}{
			"udp_server": map[string]interface{}{
				"status":           "running",
				"frames_received":  udpStats.FramesReceived,
				"frames_processed": udpStats.FramesProcessed,
				"parse_errors":     udpStats.ParseErrors,
				"queue_size":       udpStats.QueueSize,
			},
			"segmenter": map[string]interface{}{
				"status":           "running",
				"chunks_ingested":  pipelineStats.Segmenter.ChunksIngested,
				"flushes":          pipelineStats.Segmenter.Flushes,
				"buffered_samples": pipelineStats.Segmenter.BufferedSamples,
				"pending":          pipelineStats.Segmenter.Pending,
			},
			"transcription": map[string]interface{}{
				"status":           "running",
				"total_dispatches": pipelineStats.Transcription.TotalDispatches,
				"success_rate":     pipelineStats.Transcription.SuccessRate,
			},
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}

// handleStats implements the /stats endpoint
func (h *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	udpStats := h.udpServer.GetStatistics()
	pipelineStats := h.pipeline.GetStats()
	uptime := time.Since(h.startTime)

	stats := map[string]interface{}{
		"uptime":        uptime.String(),
		"timestamp":     time.Now().UTC(),
		"udp":           udpStats,
		"segmenter":     pipelineStats.Segmenter,
		"transcription": pipelineStats.Transcription,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// handleConfig implements the /config endpoint
func (h *HTTPServer) handleConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// Return sanitized configuration (remove sensitive data)
	sanitizedConfig := map[string]interface{}{
		"server": map[string]interface{}{
			"udp_port":     h.config.Server.UDPPort,
			"bind_address": h.config.Server.BindAddress,
			"buffer_size":  h.config.Server.BufferSize,
		},
		"audio": map[string]interface{}{
			"sample_rate": h.config.Audio.SampleRate,
			"channels":    h.config.Audio.Channels,
			"bit_depth":   h.config.Audio.BitDepth,
		},
		"segmentation": map[string]interface{}{
			"buffer_duration_ms":      h.config.Segmentation.BufferDurationMs,
			"silence_threshold":       h.config.Segmentation.SilenceThreshold,
			"min_speech_duration_ms":  h.config.Segmentation.MinSpeechDurationMs,
			"max_silence_duration_ms": h.config.Segmentation.MaxSilenceDurationMs,
			"max_buffered_samples":    h.config.Segmentation.MaxBufferedSamples,
		},
		"transcription": map[string]interface{}{
			"endpoint": h.config.Transcription.Endpoint,
			"model":    h.config.Transcription.Model,
			"timeout":  h.config.Transcription.Timeout,
			"formats":  h.config.Transcription.Formats,
			// Note: bearer token is intentionally omitted for security
		},
		"logging": map[string]interface{}{
			"level":  h.config.Logging.Level,
			"format": h.config.Logging.Format,
			"output": h.config.Logging.Output,
		},
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(sanitizedConfig)
}

// handleTranscripts implements the /transcripts endpoint
func (h *HTTPServer) handleTranscripts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	results := h.pipeline.RecentResults()

	response := map[string]interface{}{
		"total_results": len(results),
		"timestamp":     time.Now().UTC(),
		"transcripts":   results,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleFlush implements the /flush endpoint for manual flush triggering
func (h *HTTPServer) handleFlush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	flushed := h.pipeline.ForceFlush()

	response := map[string]interface{}{
		"flushed":   flushed,
		"timestamp": time.Now().UTC(),
	}

	if !flushed {
		response["reason"] = "buffer empty or transcription in flight"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(response)
}

// handleRoot implements the / endpoint with API documentation
func (h *HTTPServer) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	apiDoc := map[string]interface{}{
		"service": "Utterance Segmentation Service",
		"version": "1.0.0",
		"endpoints": map[string]interface{}{
			"GET /":            "API documentation",
			"GET /health":      "Service health check",
			"GET /stats":       "Get service statistics",
			"GET /config":      "Get service configuration",
			"GET /transcripts": "Get recent transcription results",
			"POST /flush":      "Force flush the buffered utterance",
			"GET /metrics":     "Prometheus metrics",
		},
		"timestamp": time.Now().UTC(),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(apiDoc)
}
