package wsframe

import (
	"encoding/binary"
	"fmt"
)

// Opcode identifies the interpretation of a frame's payload.
//
// https://datatracker.ietf.org/doc/html/rfc6455#section-5.2
type Opcode byte

const (
	OpcodeContinuation Opcode = 0x0
	OpcodeText         Opcode = 0x1
	OpcodeBinary       Opcode = 0x2
	_                  Opcode = 0x3 // Reserved for further non-control frames.
	_                  Opcode = 0x4
	_                  Opcode = 0x5
	_                  Opcode = 0x6
	_                  Opcode = 0x7
	OpcodeClose        Opcode = 0x8
	OpcodePing         Opcode = 0x9
	OpcodePong         Opcode = 0xA
	_                  Opcode = 0xB // Reserved for further control frames.
	_                  Opcode = 0xC
	_                  Opcode = 0xD
	_                  Opcode = 0xE
	_                  Opcode = 0xF
)

func (o Opcode) String() string {
	switch o {
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
		return fmt.Sprintf("opcode(0x%x)", byte(o))
	}
}

// IsControl reports whether o is a control opcode (RFC 6455 §5.5): these
// frames may interleave with a fragmented message and must never be
// fragmented themselves.
func (o Opcode) IsControl() bool {
	return o >= OpcodeClose
}

func (o Opcode) valid() bool {
	switch o {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
		return true
	default:
		return false
	}
}

// StatusCode is a WebSocket close status code, sent in the payload of a
// close frame.
//
// https://datatracker.ietf.org/doc/html/rfc6455#section-7.4.1
type StatusCode uint16

const (
	// StatusNormalClosure indicates a normal closure, meaning the purpose for
	// which the connection was established has been fulfilled.
	StatusNormalClosure StatusCode = 1000
	// StatusGoingAway indicates that an endpoint is "going away", such as a
	// server going down or a browser navigating away from a page.
	StatusGoingAway StatusCode = 1001
	// StatusProtocolError indicates that an endpoint is terminating the
	// connection due to a protocol error.
	StatusProtocolError StatusCode = 1002
	// StatusUnsupportedData indicates that an endpoint received a type of
	// data it cannot accept.
	StatusUnsupportedData StatusCode = 1003
	_                     StatusCode = 1004 // Reserved.
	// StatusNoStatusReceived is a reserved value that must never be set as
	// a status code in a close frame; it is used locally to mean that no
	// status code was present in a peer's close frame.
	StatusNoStatusReceived StatusCode = 1005
	// StatusAbnormalClosure is a reserved value used locally to mean that the
	// connection was closed without a close frame being received at all.
	StatusAbnormalClosure StatusCode = 1006
	// StatusInvalidFramePayloadData indicates that an endpoint received data
	// within a message that was not consistent with the type of the message
	// (e.g. non-UTF-8 data within a text message).
	StatusInvalidFramePayloadData StatusCode = 1007
	// StatusPolicyViolation indicates that an endpoint received a message
	// that violates its policy.
	StatusPolicyViolation StatusCode = 1008
	// StatusMessageTooBig indicates that an endpoint received a message
	// too big for it to process.
	StatusMessageTooBig StatusCode = 1009
	// StatusTLSHandshake is a reserved value used locally to mean that a TLS
	// handshake could not be completed; never in scope for this package.
	StatusTLSHandshake StatusCode = 1015
)

func (s StatusCode) String() string {
	switch s {
	case StatusNormalClosure:
		return "normal closure"
	case StatusGoingAway:
		return "going away"
	case StatusProtocolError:
		return "protocol error"
	case StatusUnsupportedData:
		return "unsupported data"
	case StatusNoStatusReceived:
		return "no status received"
	case StatusAbnormalClosure:
		return "abnormal closure"
	case StatusInvalidFramePayloadData:
		return "invalid frame payload data"
	case StatusPolicyViolation:
		return "policy violation"
	case StatusMessageTooBig:
		return "message too big"
	case StatusTLSHandshake:
		return "TLS handshake"
	default:
		return fmt.Sprintf("status(%d)", uint16(s))
	}
}

// Frame is a single, fully decoded WebSocket frame. Reserved bits are never
// set on a frame this package will serialize or accept; the incremental
// reader rejects anything with rsv1/rsv2/rsv3 set, since no extension is
// negotiated (see spec Non-goals: permessage-deflate is out of scope).
type Frame struct {
	Fin     bool
	Opcode  Opcode
	Payload []byte
}

const (
	len7Bits  = 125
	len16Bits = 126
	len64Bits = 127

	// MaxControlPayload is the largest payload a control frame may carry.
	MaxControlPayload = 125
)

// AppendFrame serializes f in server-to-client form (always unmasked, per
// RFC 6455 §5.1) and appends the result to dst, returning the extended
// slice.
func AppendFrame(dst []byte, f Frame) []byte {
	b0 := byte(f.Opcode) & 0x0F
	if f.Fin {
		b0 |= 0x80
	}
	dst = append(dst, b0)
	dst = appendPayloadLength(dst, len(f.Payload))
	return append(dst, f.Payload...)
}

func appendPayloadLength(dst []byte, n int) []byte {
	switch {
	case n <= len7Bits:
		return append(dst, byte(n))
	case n <= 0xFFFF:
		dst = append(dst, len16Bits)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(n))
		return append(dst, b[:]...)
	default:
		dst = append(dst, len64Bits)
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(n))
		return append(dst, b[:]...)
	}
}

// MaskPayload XORs payload in place with key, cycling the 4-byte key. It is
// its own inverse: applying it twice with the same key restores the
// original bytes. Used both to unmask inbound client frames and (in tests)
// to construct masked input fixtures.
func MaskPayload(payload []byte, key [4]byte) {
	for i := range payload {
		payload[i] ^= key[i%4]
	}
}
