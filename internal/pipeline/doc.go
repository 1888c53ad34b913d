// Package pipeline wires capture ingestion, utterance segmentation, and
// transcription dispatch into one coordinated flow. It owns the dispatch
// goroutine lifecycle and keeps a bounded history of recent transcription
// results for the monitoring API.
package pipeline
