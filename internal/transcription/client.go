package transcription

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/voxpipe/utterance-service/internal/audio"
)

// defaultConfidence is reported for successful transcriptions. The endpoint
// returns plain text without per-token scores, so confidence is a fixed
// service-level estimate.
const defaultConfidence = 0.9

// Config contains dispatcher configuration.
type Config struct {
	Endpoint string
	Model    string
	Prompt   string
	Token    string // Optional bearer token
	Timeout  time.Duration
	Formats  []string // Fallback order; the clip payload is always WAV bytes
}

// Result is the outcome of dispatching one clip. Dispatch always produces a
// Result, even on total failure, so downstream consumers see every utterance.
type Result struct {
	RequestID  string    `json:"request_id"`
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	Format     string    `json:"format,omitempty"`
	Attempts   int       `json:"attempts"`
	Duration   float64   `json:"clip_duration_sec"`
	Reason     string    `json:"flush_reason"`
	Timestamp  time.Time `json:"timestamp"`
	Error      string    `json:"error,omitempty"`

	Err error `json:"-"`
}

// Failed reports whether every format attempt was exhausted without text.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// Stats represents dispatcher statistics.
type Stats struct {
	TotalDispatches  uint64            `json:"total_dispatches"`
	SuccessCount     uint64            `json:"success_count"`
	FailureCount     uint64            `json:"failure_count"`
	SuccessRate      float64           `json:"success_rate"`
	TotalAttempts    uint64            `json:"total_attempts"`
	SuccessByFormat  map[string]uint64 `json:"success_by_format"`
	AvgResponseTime  time.Duration     `json:"avg_response_time"`
	LastDispatchTime time.Time         `json:"last_dispatch_time"`
}

// Dispatcher sends clips to the transcription endpoint. It is safe for
// concurrent use, though the pipeline serializes dispatches through the
// segmenter gate.
type Dispatcher struct {
	config     Config
	httpClient *http.Client
	logger     *slog.Logger

	// Statistics
	totalDispatches  uint64
	successCount     uint64
	failureCount     uint64
	totalAttempts    uint64
	successByFormat  map[string]uint64
	avgResponseTime  time.Duration
	lastDispatchTime time.Time

	mu sync.RWMutex
}

// chat-completions request/response shapes for audio transcription.
type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string        `json:"role"`
	Content []contentPart `json:"content"`
}

type contentPart struct {
	Type       string      `json:"type"`
	Text       string      `json:"text,omitempty"`
	InputAudio *inputAudio `json:"input_audio,omitempty"`
}

type inputAudio struct {
	Data   string `json:"data"`
	Format string `json:"format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// NewDispatcher creates a transcription dispatcher.
func NewDispatcher(config Config, logger *slog.Logger) (*Dispatcher, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}

	if config.Model == "" {
		return nil, fmt.Errorf("model cannot be empty")
	}

	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}

	if len(config.Formats) == 0 {
		config.Formats = []string{"wav", "mp3", "webm"}
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &Dispatcher{
		config:          config,
		httpClient:      httpClient,
		logger:          logger,
		successByFormat: make(map[string]uint64),
	}, nil
}

// Dispatch sends a clip for transcription, trying each configured format
// label in order until one yields non-empty text. The audio bytes themselves
// are identical across attempts; only the declared format changes, which is
// enough for endpoints that reject certain labels. Dispatch never returns an
// error: on total failure the Result carries a diagnostic placeholder and a
// non-nil Err.
func (d *Dispatcher) Dispatch(ctx context.Context, clip *audio.Clip) *Result {
	requestID := uuid.New().String()
	startTime := time.Now()

	d.mu.Lock()
	d.totalDispatches++
	d.lastDispatchTime = startTime
	d.mu.Unlock()

	// Encode once, reuse across format attempts.
	payload := base64.StdEncoding.EncodeToString(clip.Data)

	result := &Result{
		RequestID: requestID,
		Duration:  clip.Duration.Seconds(),
		Reason:    clip.Reason,
	}

	var lastErr error

	for _, format := range d.config.Formats {
		result.Attempts++

		d.mu.Lock()
		d.totalAttempts++
		d.mu.Unlock()

		text, err := d.doRequest(ctx, payload, format)
		if err != nil {
			lastErr = err
			d.logger.Warn("Transcription attempt failed",
				slog.String("request_id", requestID),
				slog.String("format", format),
				slog.Int("attempt", result.Attempts),
				slog.String("error", err.Error()),
			)

			if ctx.Err() != nil {
				break
			}
			continue
		}

		result.Text = text
		result.Confidence = defaultConfidence
		result.Format = format
		result.Timestamp = time.Now()

		d.recordSuccess(format, time.Since(startTime))

		d.logger.Info("Transcription completed",
			slog.String("request_id", requestID),
			slog.String("format", format),
			slog.Int("attempts", result.Attempts),
			slog.Int("text_length", len(text)),
		)

		return result
	}

	if lastErr == nil {
		lastErr = fmt.Errorf("no transcription formats configured")
	}

	result.Text = fmt.Sprintf("[Audio clip %.1fs - transcription unavailable]", clip.Duration.Seconds())
	result.Confidence = 0
	result.Timestamp = time.Now()
	result.Err = fmt.Errorf("all %d format attempts failed: %w", result.Attempts, lastErr)
	result.Error = result.Err.Error()

	d.recordFailure(time.Since(startTime))

	d.logger.Error("Transcription exhausted all formats",
		slog.String("request_id", requestID),
		slog.Int("attempts", result.Attempts),
		slog.String("error", lastErr.Error()),
	)

	return result
}

// doRequest performs a single transcription attempt with the given format
// label. Empty or whitespace-only text counts as a failed attempt.
func (d *Dispatcher) doRequest(ctx context.Context, payload, format string) (string, error) {
	prompt := d.config.Prompt
	if prompt == "" {
		prompt = "Transcribe this audio exactly as spoken."
	}

	reqBody := chatRequest{
		Model: d.config.Model,
		Messages: []chatMessage{
			{
				Role: "user",
				Content: []contentPart{
					{Type: "text", Text: prompt},
					{Type: "input_audio", InputAudio: &inputAudio{Data: payload, Format: format}},
				},
			},
		},
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", d.config.Endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to create HTTP request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if d.config.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+d.config.Token)
	}

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("HTTP error %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response JSON: %w", err)
	}

	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("response contained no choices")
	}

	text := strings.TrimSpace(chatResp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("response contained empty transcription")
	}

	return text, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

func (d *Dispatcher) recordSuccess(format string, elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.successCount++
	d.successByFormat[format]++
	d.updateAvgResponseTime(elapsed)
}

func (d *Dispatcher) recordFailure(elapsed time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failureCount++
	d.updateAvgResponseTime(elapsed)
}

// updateAvgResponseTime maintains a simple moving average. Caller holds the lock.
func (d *Dispatcher) updateAvgResponseTime(elapsed time.Duration) {
	if d.avgResponseTime == 0 {
		d.avgResponseTime = elapsed
	} else {
		d.avgResponseTime = (d.avgResponseTime + elapsed) / 2
	}
}

// GetStats returns current dispatcher statistics.
func (d *Dispatcher) GetStats() Stats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	successRate := float64(0)
	if d.totalDispatches > 0 {
		successRate = float64(d.successCount) / float64(d.totalDispatches) * 100
	}

	byFormat := make(map[string]uint64, len(d.successByFormat))
	for format, count := range d.successByFormat {
		byFormat[format] = count
	}

	return Stats{
		TotalDispatches:  d.totalDispatches,
		SuccessCount:     d.successCount,
		FailureCount:     d.failureCount,
		SuccessRate:      successRate,
		TotalAttempts:    d.totalAttempts,
		SuccessByFormat:  byFormat,
		AvgResponseTime:  d.avgResponseTime,
		LastDispatchTime: d.lastDispatchTime,
	}
}
