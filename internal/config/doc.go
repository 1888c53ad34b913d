// Package config provides configuration loading and validation for the
// utterance transcription service. It handles YAML-based configuration with
// struct validation and environment overrides for endpoint credentials.
package config
