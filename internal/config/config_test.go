package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		Server: ServerConfig{
			UDPPort:     5060,
			BindAddress: "0.0.0.0",
			BufferSize:  65536,
		},
		HTTP: HTTPConfig{
			Port:    8080,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Audio: AudioConfig{
			SampleRate: 16000,
			Channels:   1,
			BitDepth:   16,
		},
		Segmentation: SegmentationConfig{
			BufferDurationMs:     3000,
			SilenceThreshold:     0.01,
			MinSpeechDurationMs:  500,
			MaxSilenceDurationMs: 1500,
			MaxBufferedSamples:   480000,
		},
		Transcription: TranscriptionConfig{
			Endpoint: "https://text.pollinations.ai/openai",
			Model:    "openai-audio",
			Timeout:  15,
			Formats:  []string{"wav", "mp3", "webm"},
			Prompt:   "Transcribe this audio exactly as spoken.",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

func TestLoad(t *testing.T) {
	content := `
server:
  udp_port: 5060
  bind_address: "0.0.0.0"
  buffer_size: 65536

http:
  port: 8080
  address: "127.0.0.1"
  enabled: true

audio:
  sample_rate: 16000
  channels: 1
  bit_depth: 16

segmentation:
  buffer_duration_ms: 3000
  silence_threshold: 0.01
  min_speech_duration_ms: 500
  max_silence_duration_ms: 1500
  max_buffered_samples: 480000

transcription:
  endpoint: "https://text.pollinations.ai/openai"
  model: "openai-audio"
  timeout: 15
  formats: ["wav", "mp3", "webm"]
  prompt: "Transcribe this audio exactly as spoken."

logging:
  level: "info"
  format: "json"
  output: "stdout"
`

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Server.UDPPort != 5060 {
		t.Errorf("Expected udp_port 5060, got %d", cfg.Server.UDPPort)
	}

	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("Expected sample_rate 16000, got %d", cfg.Audio.SampleRate)
	}

	if cfg.Segmentation.SilenceThreshold != 0.01 {
		t.Errorf("Expected silence_threshold 0.01, got %f", cfg.Segmentation.SilenceThreshold)
	}

	if len(cfg.Transcription.Formats) != 3 || cfg.Transcription.Formats[0] != "wav" {
		t.Errorf("Expected format order [wav mp3 webm], got %v", cfg.Transcription.Formats)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [not a map"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TRANSCRIPTION_ENDPOINT", "https://stt.example.com/v1")
	t.Setenv("TRANSCRIPTION_TOKEN", "secret-token")

	cfg := validConfig()
	cfg.applyEnvOverrides()

	if cfg.Transcription.Endpoint != "https://stt.example.com/v1" {
		t.Errorf("Expected endpoint override, got %s", cfg.Transcription.Endpoint)
	}

	if cfg.Transcription.Token != "secret-token" {
		t.Errorf("Expected token override, got %s", cfg.Transcription.Token)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{
			name:      "valid config",
			mutate:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "invalid udp port",
			mutate:    func(c *Config) { c.Server.UDPPort = 0 },
			expectErr: true,
		},
		{
			name:      "empty bind address",
			mutate:    func(c *Config) { c.Server.BindAddress = "" },
			expectErr: true,
		},
		{
			name:      "buffer too small",
			mutate:    func(c *Config) { c.Server.BufferSize = 100 },
			expectErr: true,
		},
		{
			name:      "http disabled skips http validation",
			mutate:    func(c *Config) { c.HTTP = HTTPConfig{Enabled: false} },
			expectErr: false,
		},
		{
			name:      "http enabled with bad port",
			mutate:    func(c *Config) { c.HTTP.Port = -1 },
			expectErr: true,
		},
		{
			name:      "stereo rejected",
			mutate:    func(c *Config) { c.Audio.Channels = 2 },
			expectErr: true,
		},
		{
			name:      "bad bit depth",
			mutate:    func(c *Config) { c.Audio.BitDepth = 8 },
			expectErr: true,
		},
		{
			name:      "zero buffer duration",
			mutate:    func(c *Config) { c.Segmentation.BufferDurationMs = 0 },
			expectErr: true,
		},
		{
			name:      "threshold above one",
			mutate:    func(c *Config) { c.Segmentation.SilenceThreshold = 1.5 },
			expectErr: true,
		},
		{
			name: "buffer shorter than speech plus silence window",
			mutate: func(c *Config) {
				c.Segmentation.BufferDurationMs = 1000
			},
			expectErr: true,
		},
		{
			name:      "negative sample ceiling",
			mutate:    func(c *Config) { c.Segmentation.MaxBufferedSamples = -1 },
			expectErr: true,
		},
		{
			name:      "empty endpoint",
			mutate:    func(c *Config) { c.Transcription.Endpoint = "" },
			expectErr: true,
		},
		{
			name:      "empty model",
			mutate:    func(c *Config) { c.Transcription.Model = "" },
			expectErr: true,
		},
		{
			name:      "no formats",
			mutate:    func(c *Config) { c.Transcription.Formats = nil },
			expectErr: true,
		},
		{
			name:      "unknown format",
			mutate:    func(c *Config) { c.Transcription.Formats = []string{"flac"} },
			expectErr: true,
		},
		{
			name:      "bad log level",
			mutate:    func(c *Config) { c.Logging.Level = "verbose" },
			expectErr: true,
		},
		{
			name:      "bad log format",
			mutate:    func(c *Config) { c.Logging.Format = "xml" },
			expectErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
		})
	}
}

func TestDurationHelpers(t *testing.T) {
	cfg := validConfig()

	if cfg.Segmentation.GetBufferDuration() != 3*time.Second {
		t.Errorf("Expected buffer duration 3s, got %v", cfg.Segmentation.GetBufferDuration())
	}

	if cfg.Segmentation.GetMinSpeechDuration() != 500*time.Millisecond {
		t.Errorf("Expected min speech duration 500ms, got %v", cfg.Segmentation.GetMinSpeechDuration())
	}

	if cfg.Segmentation.GetMaxSilenceDuration() != 1500*time.Millisecond {
		t.Errorf("Expected max silence duration 1500ms, got %v", cfg.Segmentation.GetMaxSilenceDuration())
	}

	if cfg.Transcription.GetTimeoutDuration() != 15*time.Second {
		t.Errorf("Expected transcription timeout 15s, got %v", cfg.Transcription.GetTimeoutDuration())
	}
}
