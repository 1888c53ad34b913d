// Package segmenter implements the voice-activity-triggered utterance
// segmentation state machine. It accumulates capture chunks, decides when a
// span becomes a dispatchable clip, and enforces the single-in-flight
// transcription gate.
package segmenter
