package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/voxpipe/utterance-service/internal/audio"
	"github.com/voxpipe/utterance-service/internal/config"
	"github.com/voxpipe/utterance-service/internal/metrics"
	"github.com/voxpipe/utterance-service/internal/pipeline"
	"github.com/voxpipe/utterance-service/internal/protocol"
	"github.com/voxpipe/utterance-service/internal/segmenter"
)

// UDPServer handles incoming capture frames from audio senders
type UDPServer struct {
	conn     *net.UDPConn
	config   *config.ServerConfig
	logger   *slog.Logger
	pipeline *pipeline.Pipeline
	metrics  *metrics.Metrics // Optional

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Frame processing. A single worker preserves chunk ordering, which the
	// segmentation timers depend on.
	frameChan chan *incomingFrame

	// Sequence tracking
	lastSequence uint32
	seenFrame    bool

	// Statistics
	framesReceived  uint64
	framesProcessed uint64
	framesDropped   uint64
	parseErrors     uint64
	sequenceGaps    uint64
	mu              sync.RWMutex
}

// incomingFrame represents a received UDP frame with metadata
type incomingFrame struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// Statistics represents UDP server performance counters
type Statistics struct {
	FramesReceived  uint64 `json:"frames_received"`
	FramesProcessed uint64 `json:"frames_processed"`
	FramesDropped   uint64 `json:"frames_dropped"`
	ParseErrors     uint64 `json:"parse_errors"`
	SequenceGaps    uint64 `json:"sequence_gaps"`
	QueueSize       uint64 `json:"queue_size"`
	QueueCapacity   uint64 `json:"queue_capacity"`
}

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, p *pipeline.Pipeline, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		config:    cfg,
		logger:    logger,
		pipeline:  p,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		frameChan: make(chan *incomingFrame, 1000), // Buffer for 1000 frames
	}
}

// Start begins listening for UDP frames
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", addr.String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)

	// Single processing worker keeps frames ordered end to end.
	s.wg.Add(1)
	go s.frameProcessor()

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Stop gracefully stops the UDP server
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	close(s.frameChan)
	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("frames_received", stats.FramesReceived),
		slog.Uint64("frames_processed", stats.FramesProcessed),
		slog.Uint64("frames_dropped", stats.FramesDropped),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("sequence_gaps", stats.SequenceGaps),
	)

	return nil
}

// receiveLoop is the main frame receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Read deadline lets the loop notice cancellation during idle periods.
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP frame", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.framesReceived++
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.RecordFrameReceived()
			s.metrics.SetQueueSize(len(s.frameChan))
		}

		// Copy out of the reused read buffer.
		frameData := make([]byte, n)
		copy(frameData, buffer[:n])

		frame := &incomingFrame{
			data:       frameData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.frameChan <- frame:
		default:
			s.mu.Lock()
			s.framesDropped++
			s.mu.Unlock()

			if s.metrics != nil {
				s.metrics.RecordFrameDropped()
			}

			s.logger.Warn("Frame processing queue full, dropping frame",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("frame_size", n),
			)
		}
	}
}

// frameProcessor processes frames from the frame channel in arrival order
func (s *UDPServer) frameProcessor() {
	defer s.wg.Done()

	s.logger.Debug("Frame processor started")

	for frame := range s.frameChan {
		s.handleFrame(frame)
	}

	s.logger.Debug("Frame processor stopped")
}

// handleFrame processes a single incoming frame
func (s *UDPServer) handleFrame(frame *incomingFrame) {
	parsed, err := protocol.ParseFrame(frame.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()

		if s.metrics != nil {
			s.metrics.RecordParseError()
		}

		s.logger.Error("Failed to parse frame",
			slog.String("remote_addr", frame.remoteAddr.String()),
			slog.Int("frame_size", len(frame.data)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.trackSequence(parsed.Header.Sequence, frame.remoteAddr)

	s.mu.Lock()
	s.framesProcessed++
	s.mu.Unlock()

	switch parsed.Header.FrameType {
	case protocol.FrameTypeAudio:
		s.processAudioFrame(parsed, frame.timestamp)
	case protocol.FrameTypeControl:
		s.processControlFrame(parsed, frame.remoteAddr)
	}
}

// trackSequence detects gaps in the sender's frame sequence. Gaps are
// recorded for diagnostics only; frames are processed regardless.
func (s *UDPServer) trackSequence(sequence uint32, remoteAddr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seenFrame && sequence != s.lastSequence+1 {
		s.sequenceGaps++

		if s.metrics != nil {
			s.metrics.RecordSequenceGap()
		}

		s.logger.Warn("Frame sequence gap detected",
			slog.Uint64("expected", uint64(s.lastSequence+1)),
			slog.Uint64("received", uint64(sequence)),
			slog.String("remote_addr", remoteAddr.String()),
		)
	}

	s.lastSequence = sequence
	s.seenFrame = true
}

// processAudioFrame decodes PCM samples and feeds them into the pipeline
func (s *UDPServer) processAudioFrame(frame *protocol.Frame, timestamp time.Time) {
	samples, err := audio.DecodePCM16(frame.Audio.PCM)
	if err != nil {
		s.logger.Error("Failed to decode PCM payload",
			slog.Uint64("sequence", uint64(frame.Header.Sequence)),
			slog.Int("payload_size", len(frame.Audio.PCM)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.pipeline.Ingest(segmenter.Chunk{Samples: samples, Timestamp: timestamp})

	s.logger.Debug("Audio frame processed",
		slog.Uint64("sequence", uint64(frame.Header.Sequence)),
		slog.Int("samples", len(samples)),
	)
}

// processControlFrame handles pipeline control operations
func (s *UDPServer) processControlFrame(frame *protocol.Frame, remoteAddr *net.UDPAddr) {
	switch frame.Control.Op {
	case protocol.ControlOpFlush:
		flushed := s.pipeline.ForceFlush()
		s.logger.Info("Flush control frame received",
			slog.Uint64("sequence", uint64(frame.Header.Sequence)),
			slog.String("remote_addr", remoteAddr.String()),
			slog.Bool("flushed", flushed),
		)
	default:
		s.logger.Warn("Unknown control operation",
			slog.Uint64("sequence", uint64(frame.Header.Sequence)),
			slog.Int("op", int(frame.Control.Op)),
		)
	}
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Statistics{
		FramesReceived:  s.framesReceived,
		FramesProcessed: s.framesProcessed,
		FramesDropped:   s.framesDropped,
		ParseErrors:     s.parseErrors,
		SequenceGaps:    s.sequenceGaps,
		QueueSize:       uint64(len(s.frameChan)),
		QueueCapacity:   uint64(cap(s.frameChan)),
	}
}
