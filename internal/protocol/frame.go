package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"unicode/utf8"
)

// WebSocket frame opcodes
const (
	OpcodeContinuation = 0x0
	OpcodeText         = 0x1
	OpcodeBinary       = 0x2
	OpcodeClose        = 0x8
	OpcodePing         = 0x9
	OpcodePong         = 0xA
)

// Close status codes (RFC 6455 §7.4.1)
const (
	CloseNormal          uint16 = 1000
	CloseGoingAway       uint16 = 1001
	CloseProtocolError   uint16 = 1002
	CloseUnsupportedData uint16 = 1003
	CloseNoStatus        uint16 = 1005
	CloseInvalidPayload  uint16 = 1007
	CloseMessageTooBig   uint16 = 1009
	CloseInternalError   uint16 = 1011
)

// DefaultMaxPayload bounds a single frame read by ReadFrame.
const DefaultMaxPayload = 16 << 20

// maxControlPayload is the largest payload a control frame may carry.
const maxControlPayload = 125

var (
	// ErrFrameTooLarge is returned when a frame announces a payload above the
	// read limit.
	ErrFrameTooLarge = errors.New("frame payload too large")

	// ErrProtocol marks frames that violate RFC 6455 framing rules.
	ErrProtocol = errors.New("websocket protocol error")
)

// Frame represents a WebSocket frame
type Frame struct {
	FIN     bool
	RSV1    bool
	RSV2    bool
	RSV3    bool
	Opcode  byte
	Masked  bool
	Length  uint64
	MaskKey [4]byte
	Payload []byte // always unmasked
}

// NewFrame returns a final, unmasked frame carrying payload.
func NewFrame(opcode byte, payload []byte) *Frame {
	return &Frame{
		FIN:     true,
		Opcode:  opcode,
		Length:  uint64(len(payload)),
		Payload: payload,
	}
}

// NewCloseFrame returns a close frame carrying code and reason.
func NewCloseFrame(code uint16, reason string) *Frame {
	return NewFrame(OpcodeClose, ClosePayload(code, reason))
}

// ReadFrame reads a WebSocket frame from the reader
func ReadFrame(r io.Reader) (*Frame, error) {
	return ReadFrameLimit(r, DefaultMaxPayload)
}

// ReadFrameLimit reads one frame, rejecting payloads above limit before
// allocating them.
func ReadFrameLimit(r io.Reader, limit uint64) (*Frame, error) {
	frame := &Frame{}

	header := make([]byte, 2)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("failed to read frame header: %w", err)
	}

	// First byte: FIN, RSV1-3, Opcode
	frame.FIN = (header[0] & 0x80) != 0
	frame.RSV1 = (header[0] & 0x40) != 0
	frame.RSV2 = (header[0] & 0x20) != 0
	frame.RSV3 = (header[0] & 0x10) != 0
	frame.Opcode = header[0] & 0x0F

	// Second byte: Mask, Payload length
	frame.Masked = (header[1] & 0x80) != 0
	payloadLen := uint64(header[1] & 0x7F)

	switch payloadLen {
	case 126:
		extLen := make([]byte, 2)
		if _, err := io.ReadFull(r, extLen); err != nil {
			return nil, fmt.Errorf("failed to read extended length: %w", err)
		}
		frame.Length = uint64(binary.BigEndian.Uint16(extLen))
	case 127:
		extLen := make([]byte, 8)
		if _, err := io.ReadFull(r, extLen); err != nil {
			return nil, fmt.Errorf("failed to read extended length: %w", err)
		}
		frame.Length = binary.BigEndian.Uint64(extLen)
	default:
		frame.Length = payloadLen
	}

	if frame.IsControl() {
		if !frame.FIN {
			return nil, fmt.Errorf("%w: fragmented %s frame", ErrProtocol, frame.OpcodeString())
		}
		if frame.Length > maxControlPayload {
			return nil, fmt.Errorf("%w: %s frame payload of %d bytes", ErrProtocol, frame.OpcodeString(), frame.Length)
		}
	}
	if frame.Length > limit {
		return nil, fmt.Errorf("%w: %d bytes (limit %d)", ErrFrameTooLarge, frame.Length, limit)
	}

	if frame.Masked {
		if _, err := io.ReadFull(r, frame.MaskKey[:]); err != nil {
			return nil, fmt.Errorf("failed to read mask key: %w", err)
		}
	}

	if frame.Length > 0 {
		payload := make([]byte, frame.Length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		if frame.Masked {
			maskBytes(payload, frame.MaskKey)
		}
		frame.Payload = payload
	}

	return frame, nil
}

// WriteFrame encodes f onto w in a single Write. When f.Masked is set the
// payload is masked with f.MaskKey on the wire; f.Payload is left untouched.
func WriteFrame(w io.Writer, f *Frame) error {
	if f.IsControl() && (!f.FIN || len(f.Payload) > maxControlPayload) {
		return fmt.Errorf("%w: invalid %s frame", ErrProtocol, f.OpcodeString())
	}

	payloadLen := len(f.Payload)
	buf := make([]byte, 0, 14+payloadLen)

	b0 := f.Opcode & 0x0F
	if f.FIN {
		b0 |= 0x80
	}
	if f.RSV1 {
		b0 |= 0x40
	}
	if f.RSV2 {
		b0 |= 0x20
	}
	if f.RSV3 {
		b0 |= 0x10
	}
	buf = append(buf, b0)

	var b1 byte
	if f.Masked {
		b1 = 0x80
	}
	switch {
	case payloadLen < 126:
		buf = append(buf, b1|byte(payloadLen))
	case payloadLen < 65536:
		buf = append(buf, b1|126)
		buf = binary.BigEndian.AppendUint16(buf, uint16(payloadLen))
	default:
		buf = append(buf, b1|127)
		buf = binary.BigEndian.AppendUint64(buf, uint64(payloadLen))
	}

	if f.Masked {
		buf = append(buf, f.MaskKey[:]...)
		start := len(buf)
		buf = append(buf, f.Payload...)
		maskBytes(buf[start:], f.MaskKey)
	} else {
		buf = append(buf, f.Payload...)
	}

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("failed to write %s frame: %w", f.OpcodeString(), err)
	}
	return nil
}

// maskBytes applies the XOR mask in place. Masking and unmasking are the same
// operation.
func maskBytes(b []byte, key [4]byte) {
	for i := range b {
		b[i] ^= key[i%4]
	}
}

// IsControl reports whether the frame is a close, ping or pong frame.
func (f *Frame) IsControl() bool {
	return f.Opcode&0x08 != 0
}

// OpcodeString returns a human-readable opcode name
func (f *Frame) OpcodeString() string {
	switch f.Opcode {
	case OpcodeContinuation:
		return "continuation"
	case OpcodeText:
		return "text"
	case OpcodeBinary:
		return "binary"
	case OpcodeClose:
		return "close"
	case OpcodePing:
		return "ping"
	case OpcodePong:
		return "pong"
	default:
		return fmt.Sprintf("unknown(0x%X)", f.Opcode)
	}
}

// String returns a debug representation of the frame
func (f *Frame) String() string {
	return fmt.Sprintf("Frame{FIN=%v, Opcode=%s, Masked=%v, Length=%d}",
		f.FIN, f.OpcodeString(), f.Masked, f.Length)
}

// ClosePayload encodes a close frame body. CloseNoStatus yields an empty
// payload, since that code must never appear on the wire.
func ClosePayload(code uint16, reason string) []byte {
	if code == CloseNoStatus {
		return nil
	}
	p := binary.BigEndian.AppendUint16(nil, code)
	if n := maxControlPayload - 2; len(reason) > n {
		for n > 0 && !utf8.RuneStart(reason[n]) {
			n--
		}
		reason = reason[:n]
	}
	return append(p, reason...)
}

// ParseClosePayload decodes a close frame body. An empty body reports
// CloseNoStatus.
func ParseClosePayload(p []byte) (code uint16, reason string, err error) {
	switch {
	case len(p) == 0:
		return CloseNoStatus, "", nil
	case len(p) == 1:
		return 0, "", fmt.Errorf("%w: close payload of 1 byte", ErrProtocol)
	}
	code = binary.BigEndian.Uint16(p)
	if !validCloseCode(code) {
		return 0, "", fmt.Errorf("%w: invalid close code %d", ErrProtocol, code)
	}
	if !utf8.Valid(p[2:]) {
		return 0, "", fmt.Errorf("%w: close reason is not valid UTF-8", ErrProtocol)
	}
	return code, string(p[2:]), nil
}

func validCloseCode(code uint16) bool {
	switch {
	case code >= 3000 && code <= 4999:
		return true
	case code >= 1000 && code <= 1011:
		// 1004-1006 are reserved and never sent.
		return code != 1004 && code != 1005 && code != 1006
	default:
		return false
	}
}
