package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Segmentation  SegmentationConfig  `yaml:"segmentation"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// ServerConfig contains UDP ingest server configuration.
type ServerConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
}

// HTTPConfig contains HTTP API server configuration.
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains audio stream parameters.
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
}

// SegmentationConfig contains utterance segmentation parameters.
// Durations are in milliseconds to match the capture collaborator's
// configuration surface.
type SegmentationConfig struct {
	BufferDurationMs     int     `yaml:"buffer_duration_ms"`
	SilenceThreshold     float64 `yaml:"silence_threshold"`
	MinSpeechDurationMs  int     `yaml:"min_speech_duration_ms"`
	MaxSilenceDurationMs int     `yaml:"max_silence_duration_ms"`
	MaxBufferedSamples   int     `yaml:"max_buffered_samples"`
}

// TranscriptionConfig contains transcription endpoint configuration.
type TranscriptionConfig struct {
	Endpoint string   `yaml:"endpoint"`
	Model    string   `yaml:"model"`
	Token    string   `yaml:"token"`
	Timeout  int      `yaml:"timeout"` // seconds
	Formats  []string `yaml:"formats"`
	Prompt   string   `yaml:"prompt"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.applyEnvOverrides()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// applyEnvOverrides lets deployment environments supply the endpoint and
// token without writing them into the config file.
func (c *Config) applyEnvOverrides() {
	if endpoint := os.Getenv("TRANSCRIPTION_ENDPOINT"); endpoint != "" {
		c.Transcription.Endpoint = endpoint
	}

	if token := os.Getenv("TRANSCRIPTION_TOKEN"); token != "" {
		c.Transcription.Token = token
	}
}

// Validate performs comprehensive validation of the configuration.
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Segmentation.Validate(); err != nil {
		return fmt.Errorf("segmentation config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates UDP server configuration.
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	return nil
}

// Validate validates HTTP configuration.
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration.
func (a *AudioConfig) Validate() error {
	if a.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", a.SampleRate)
	}

	if a.Channels != 1 {
		return fmt.Errorf("channels must be 1 (mono), got %d", a.Channels)
	}

	if a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 16, got %d", a.BitDepth)
	}

	return nil
}

// Validate validates segmentation configuration.
func (s *SegmentationConfig) Validate() error {
	if s.BufferDurationMs <= 0 {
		return fmt.Errorf("buffer_duration_ms must be positive, got %d", s.BufferDurationMs)
	}

	if s.SilenceThreshold < 0 || s.SilenceThreshold > 1 {
		return fmt.Errorf("silence_threshold must be between 0 and 1, got %f", s.SilenceThreshold)
	}

	if s.MinSpeechDurationMs <= 0 {
		return fmt.Errorf("min_speech_duration_ms must be positive, got %d", s.MinSpeechDurationMs)
	}

	if s.MaxSilenceDurationMs <= 0 {
		return fmt.Errorf("max_silence_duration_ms must be positive, got %d", s.MaxSilenceDurationMs)
	}

	if s.MaxSilenceDurationMs+s.MinSpeechDurationMs > s.BufferDurationMs {
		return fmt.Errorf("buffer_duration_ms (%d) must cover min_speech_duration_ms + max_silence_duration_ms (%d)",
			s.BufferDurationMs, s.MinSpeechDurationMs+s.MaxSilenceDurationMs)
	}

	if s.MaxBufferedSamples < 0 {
		return fmt.Errorf("max_buffered_samples cannot be negative, got %d", s.MaxBufferedSamples)
	}

	return nil
}

// Validate validates transcription configuration.
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if len(t.Formats) == 0 {
		return fmt.Errorf("formats cannot be empty")
	}

	validFormats := map[string]bool{"wav": true, "mp3": true, "webm": true}
	for _, format := range t.Formats {
		if !validFormats[format] {
			return fmt.Errorf("format must be one of [wav, mp3, webm], got '%s'", format)
		}
	}

	return nil
}

// Validate validates logging configuration.
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetBufferDuration returns the maximum buffer duration as a time.Duration.
func (s *SegmentationConfig) GetBufferDuration() time.Duration {
	return time.Duration(s.BufferDurationMs) * time.Millisecond
}

// GetMinSpeechDuration returns the minimum speech duration as a time.Duration.
func (s *SegmentationConfig) GetMinSpeechDuration() time.Duration {
	return time.Duration(s.MinSpeechDurationMs) * time.Millisecond
}

// GetMaxSilenceDuration returns the silence hangover duration as a time.Duration.
func (s *SegmentationConfig) GetMaxSilenceDuration() time.Duration {
	return time.Duration(s.MaxSilenceDurationMs) * time.Millisecond
}

// GetTimeoutDuration returns the per-request transcription timeout as a time.Duration.
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}
