// Package audio handles sample accumulation and audio encoding.
// It implements the growable utterance buffer, PCM-16 conversion with
// clamping, and WAV clip encoding for transcription dispatch.
package audio
