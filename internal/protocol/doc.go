// Package protocol implements parsing and encoding of the audio frame format
// spoken by capture collaborators. It handles the binary header, PCM audio
// payloads, and control frames used to request manual flushes.
package protocol
