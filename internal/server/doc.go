// Package server implements the UDP server for receiving capture frames and
// the HTTP API for monitoring and management. Frames are processed by a
// single worker so chunks reach the segmenter in arrival order.
package server
