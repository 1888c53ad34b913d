// Package vad provides voice activity detection using an RMS energy threshold.
// It classifies chunks of normalized audio samples as speech or silence and
// acts as the cheap, predictable gate that drives utterance segmentation.
package vad
