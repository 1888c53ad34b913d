package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voxpipe/utterance-service/internal/config"
	"github.com/voxpipe/utterance-service/internal/metrics"
	"github.com/voxpipe/utterance-service/internal/pipeline"
	"github.com/voxpipe/utterance-service/internal/segmenter"
	"github.com/voxpipe/utterance-service/internal/server"
	"github.com/voxpipe/utterance-service/internal/transcription"
)

const (
	defaultConfigPath = "configs/config.yaml"
	serviceName       = "utterance-service"
	serviceVersion    = "1.0.0"
)

func main() {
	// Parse command line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load .env file if present (endpoint and token overrides)
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Failed to load .env file: %v\n", err)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger based on configuration
	logger := initLogger(cfg.Logging)

	logger.Info("Service starting",
		slog.String("service", serviceName),
		slog.String("version", serviceVersion),
		slog.String("config_path", *configPath),
	)

	// Log configuration summary (without sensitive data)
	logger.Info("Configuration loaded",
		slog.Int("udp_port", cfg.Server.UDPPort),
		slog.String("bind_address", cfg.Server.BindAddress),
		slog.Int("sample_rate", cfg.Audio.SampleRate),
		slog.Int("buffer_duration_ms", cfg.Segmentation.BufferDurationMs),
		slog.Float64("silence_threshold", cfg.Segmentation.SilenceThreshold),
		slog.String("transcription_endpoint", cfg.Transcription.Endpoint),
		slog.String("transcription_model", cfg.Transcription.Model),
		slog.String("log_level", cfg.Logging.Level),
	)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize Prometheus metrics
	appMetrics := metrics.NewMetrics()
	logger.Info("Prometheus metrics initialized")

	// Create pipeline configuration
	pipelineConfig := pipeline.Config{
		Segmenter: segmenter.Config{
			SampleRate:         cfg.Audio.SampleRate,
			BufferDuration:     cfg.Segmentation.GetBufferDuration(),
			MinSpeechDuration:  cfg.Segmentation.GetMinSpeechDuration(),
			MaxSilenceDuration: cfg.Segmentation.GetMaxSilenceDuration(),
			SilenceThreshold:   cfg.Segmentation.SilenceThreshold,
			MaxBufferedSamples: cfg.Segmentation.MaxBufferedSamples,
		},
		Transcription: transcription.Config{
			Endpoint: cfg.Transcription.Endpoint,
			Model:    cfg.Transcription.Model,
			Prompt:   cfg.Transcription.Prompt,
			Token:    cfg.Transcription.Token,
			Timeout:  cfg.Transcription.GetTimeoutDuration(),
			Formats:  cfg.Transcription.Formats,
		},
	}

	// Initialize processing pipeline. Each result is logged as it arrives.
	p, err := pipeline.New(pipelineConfig, logger, appMetrics, func(result *transcription.Result) {
		if result.Failed() {
			logger.Warn("Transcription unavailable",
				slog.String("request_id", result.RequestID),
				slog.String("flush_reason", result.Reason),
				slog.Int("attempts", result.Attempts),
			)
			return
		}

		logger.Info("Transcript",
			slog.String("request_id", result.RequestID),
			slog.String("text", result.Text),
			slog.Float64("confidence", result.Confidence),
			slog.String("format", result.Format),
		)
	})
	if err != nil {
		logger.Error("Failed to create pipeline", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Pipeline initialized",
		slog.Duration("buffer_duration", pipelineConfig.Segmenter.BufferDuration),
		slog.String("transcription_endpoint", pipelineConfig.Transcription.Endpoint),
	)

	// Initialize UDP server
	udpServer := server.NewUDPServer(&cfg.Server, logger, p, appMetrics)
	logger.Info("UDP server initialized")

	// Initialize HTTP API server (if enabled)
	var httpServer *server.HTTPServer
	if cfg.HTTP.Enabled {
		httpServer = server.NewHTTPServer(cfg.HTTP, logger, cfg, p, udpServer, appMetrics)
		logger.Info("HTTP API server initialized",
			slog.String("address", fmt.Sprintf("%s:%d", cfg.HTTP.Address, cfg.HTTP.Port)),
		)
	}

	// Start UDP server
	if err := udpServer.Start(); err != nil {
		logger.Error("Failed to start UDP server", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// Start HTTP server (if enabled)
	if httpServer != nil {
		if err := httpServer.Start(); err != nil {
			logger.Error("Failed to start HTTP server", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	// Setup signal handling for graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	logger.Info("Service started successfully, waiting for signals...",
		slog.String("udp_address", fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.UDPPort)),
	)

	// Wait for shutdown signal
	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
	case <-ctx.Done():
		logger.Info("Context cancelled, shutting down")
	}

	logger.Info("Starting graceful shutdown...")

	// Stop HTTP server first (stop accepting new requests)
	if httpServer != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := httpServer.Stop(shutdownCtx); err != nil {
			logger.Error("Error stopping HTTP server", slog.String("error", err.Error()))
		}
	}

	// Stop UDP server (stop accepting new frames)
	if err := udpServer.Stop(); err != nil {
		logger.Error("Error stopping UDP server", slog.String("error", err.Error()))
	}

	// Stop pipeline (wait for the in-flight dispatch and event drain)
	p.Stop()

	// Get final statistics
	stats := udpServer.GetStatistics()
	logger.Info("Final server statistics",
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("frames_processed", stats.FramesProcessed),
		slog.Uint64("frames_dropped", stats.FramesDropped),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("sequence_gaps", stats.SequenceGaps),
	)

	logger.Info("Service stopped")
}

// initLogger creates and configures the structured logger based on configuration
func initLogger(cfg config.LoggingConfig) *slog.Logger {
	// Parse log level
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo // default fallback
	}

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug, // Add source info for debug level
	}

	// Determine output destination
	var output *os.File
	switch cfg.Output {
	case "stderr":
		output = os.Stderr
	case "stdout", "":
		output = os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", cfg.Output, err)
			output = os.Stdout
		} else {
			output = file
		}
	}

	// Create handler based on format
	var handler slog.Handler
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	case "text", "":
		handler = slog.NewTextHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}

	return slog.New(handler)
}
