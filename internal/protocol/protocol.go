package protocol

import (
	"encoding/binary"
	"fmt"
)

// Frame format constants.
const (
	// Protocol version
	Version = 0x01

	// Frame types
	FrameTypeControl = 0x01
	FrameTypeAudio   = 0x02

	// Control operations
	ControlOpFlush = 0x01

	// Structure sizes
	HeaderSize         = 8 // 1 + 1 + 2 + 4 bytes
	ControlPayloadSize = 1 // Operation code (1 byte)

	// MaxPayloadSize bounds a single frame payload; PayloadLen is 16 bits.
	MaxPayloadSize = 65535
)

// Header is the 8-byte frame header.
// Layout: [Version:1][FrameType:1][PayloadLen:2][Sequence:4]
type Header struct {
	Version    uint8  // Protocol version, currently 0x01
	FrameType  uint8  // 0x01=Control, 0x02=Audio
	PayloadLen uint16 // Payload size in bytes (excludes header)
	Sequence   uint32 // Monotonic frame sequence number
}

// AudioPayload carries little-endian mono PCM-16 samples.
type AudioPayload struct {
	PCM []byte
}

// ControlPayload carries a single pipeline control operation.
type ControlPayload struct {
	Op uint8
}

// Frame is a fully parsed capture frame.
type Frame struct {
	Header  *Header
	Audio   *AudioPayload   // Only set for audio frames
	Control *ControlPayload // Only set for control frames
}

// ParseHeader parses the 8-byte frame header.
func ParseHeader(data []byte) (*Header, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("header too short: expected %d bytes, got %d", HeaderSize, len(data))
	}

	header := &Header{
		Version:    data[0],
		FrameType:  data[1],
		PayloadLen: binary.BigEndian.Uint16(data[2:4]),
		Sequence:   binary.BigEndian.Uint32(data[4:8]),
	}

	if header.Version != Version {
		return nil, fmt.Errorf("unsupported protocol version: 0x%02x", header.Version)
	}

	return header, nil
}

// ParseFrame parses a complete frame (header + payload).
func ParseFrame(data []byte) (*Frame, error) {
	header, err := ParseHeader(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse header: %w", err)
	}

	if int(header.PayloadLen) != len(data)-HeaderSize {
		return nil, fmt.Errorf("payload length mismatch: header says %d bytes, got %d bytes",
			header.PayloadLen, len(data)-HeaderSize)
	}

	payload := data[HeaderSize:]
	frame := &Frame{Header: header}

	switch header.FrameType {
	case FrameTypeAudio:
		if len(payload) == 0 {
			return nil, fmt.Errorf("audio frame has empty payload")
		}
		if len(payload)%2 != 0 {
			return nil, fmt.Errorf("audio payload length must be even, got %d bytes", len(payload))
		}
		pcm := make([]byte, len(payload))
		copy(pcm, payload)
		frame.Audio = &AudioPayload{PCM: pcm}

	case FrameTypeControl:
		if len(payload) < ControlPayloadSize {
			return nil, fmt.Errorf("control payload too short: expected %d bytes, got %d",
				ControlPayloadSize, len(payload))
		}
		frame.Control = &ControlPayload{Op: payload[0]}

	default:
		return nil, fmt.Errorf("unknown frame type: 0x%02x", header.FrameType)
	}

	return frame, nil
}

// EncodeAudioFrame builds an audio frame from raw PCM-16 bytes. Used by
// capture senders and tests.
func EncodeAudioFrame(sequence uint32, pcm []byte) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio payload")
	}

	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio payload length must be even, got %d bytes", len(pcm))
	}

	if len(pcm) > MaxPayloadSize {
		return nil, fmt.Errorf("audio payload too large: %d bytes exceeds %d", len(pcm), MaxPayloadSize)
	}

	frame := make([]byte, HeaderSize+len(pcm))
	frame[0] = Version
	frame[1] = FrameTypeAudio
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(pcm)))
	binary.BigEndian.PutUint32(frame[4:8], sequence)
	copy(frame[HeaderSize:], pcm)

	return frame, nil
}

// EncodeControlFrame builds a control frame carrying the given operation.
func EncodeControlFrame(sequence uint32, op uint8) []byte {
	frame := make([]byte, HeaderSize+ControlPayloadSize)
	frame[0] = Version
	frame[1] = FrameTypeControl
	binary.BigEndian.PutUint16(frame[2:4], ControlPayloadSize)
	binary.BigEndian.PutUint32(frame[4:8], sequence)
	frame[HeaderSize] = op

	return frame
}
