// Package transcription dispatches encoded utterance clips to a
// chat-completions style speech-to-text endpoint, falling back across
// declared audio formats until one yields usable text.
package transcription
