package wsframe

import (
	"bytes"
	"errors"
	"reflect"
	"testing"
)

func TestReaderFeed(t *testing.T) {
	tests := []struct {
		name    string
		input   []byte
		want    Frame
		wantErr bool
	}{
		{
			// A minimal masked text frame from a client.
			name:  "masked_text_hello",
			input: []byte{0x81, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58},
			want:  Frame{Fin: true, Opcode: OpcodeText, Payload: []byte("Hello")},
		},
		{
			name:  "masked_ping",
			input: []byte{0x89, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58},
			want:  Frame{Fin: true, Opcode: OpcodePing, Payload: []byte("Hello")},
		},
		{
			name:  "masked_pong",
			input: []byte{0x8a, 0x85, 0x37, 0xfa, 0x21, 0x3d, 0x7f, 0x9f, 0x4d, 0x51, 0x58},
			want:  Frame{Fin: true, Opcode: OpcodePong, Payload: []byte("Hello")},
		},
		{
			name:  "zero_length_masked_text",
			input: []byte{0x81, 0x80, 0x01, 0x02, 0x03, 0x04},
			want:  Frame{Fin: true, Opcode: OpcodeText, Payload: nil},
		},
		{
			// A peer close frame carrying status 1000.
			name:  "masked_close_with_status",
			input: maskedFrame(t, true, OpcodeClose, []byte{0x03, 0xe8}),
			want:  Frame{Fin: true, Opcode: OpcodeClose, Payload: []byte{0x03, 0xe8}},
		},
		{
			name:    "unmasked_frame_rejected",
			input:   []byte{0x81, 0x05, 'H', 'e', 'l', 'l', 'o'},
			wantErr: true,
		},
		{
			name:    "reserved_bits_set",
			input:   append([]byte{0x81 | 0x40, 0x80, 0, 0, 0, 0}, []byte("hi")...),
			wantErr: true,
		},
		{
			name:    "invalid_opcode",
			input:   maskedHeaderOnly(0x83), // fin=1, opcode=3 (reserved)
			wantErr: true,
		},
		{
			name:    "fragmented_ping_rejected",
			input:   maskedHeaderOnly(0x09), // fin=0, opcode=ping
			wantErr: true,
		},
		{
			name:    "oversized_control_frame_rejected",
			input:   append([]byte{0x89, 0x80 | 126}, make([]byte, 0)...),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewReader(0)
			n, frame, ok, err := r.Feed(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Reader.Feed() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Reader.Feed() unexpected error: %v", err)
			}
			if !ok {
				t.Fatalf("Reader.Feed() ok = false, want true (consumed %d of %d)", n, len(tt.input))
			}
			if !reflect.DeepEqual(frame, tt.want) {
				t.Errorf("Reader.Feed() = %+v, want %+v", frame, tt.want)
			}
		})
	}
}

// TestReaderFeedChunked verifies frame parsing tolerates arbitrary byte
// chunking, one byte at a time.
func TestReaderFeedChunked(t *testing.T) {
	input := maskedFrame(t, true, OpcodeText, []byte("Hello, world!"))
	r := NewReader(0)

	var got Frame
	gotFrame := false
	for i := 0; i < len(input); {
		n, frame, ok, err := r.Feed(input[i : i+1])
		if err != nil {
			t.Fatalf("Reader.Feed() unexpected error at byte %d: %v", i, err)
		}
		if n != 1 {
			t.Fatalf("Reader.Feed() consumed %d bytes, want 1", n)
		}
		if ok {
			got = frame
			gotFrame = true
		}
		i++
	}

	if !gotFrame {
		t.Fatal("Reader.Feed() never completed the frame")
	}
	want := Frame{Fin: true, Opcode: OpcodeText, Payload: []byte("Hello, world!")}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Reader.Feed() (chunked) = %+v, want %+v", got, want)
	}
}

// TestReaderFeedTwoFramesOneBuffer verifies the reader can extract multiple
// frames given in a single Feed-loop over one buffer, as happens whenever
// a client pipelines frames within one TCP segment.
func TestReaderFeedTwoFramesOneBuffer(t *testing.T) {
	buf := append(maskedFrame(t, true, OpcodeText, []byte("Hel")), maskedFrame(t, true, OpcodeText, []byte("lo"))...)

	r := NewReader(0)
	var frames []Frame
	offset := 0
	for offset < len(buf) {
		n, frame, ok, err := r.Feed(buf[offset:])
		if err != nil {
			t.Fatalf("Reader.Feed() unexpected error: %v", err)
		}
		offset += n
		if ok {
			frames = append(frames, frame)
		}
	}

	if len(frames) != 2 {
		t.Fatalf("got %d frames, want 2", len(frames))
	}
	if string(frames[0].Payload) != "Hel" || string(frames[1].Payload) != "lo" {
		t.Errorf("got payloads %q, %q, want \"Hel\", \"lo\"", frames[0].Payload, frames[1].Payload)
	}
}

func TestReaderBoundaryLengths(t *testing.T) {
	for _, n := range []int{0, 1, 125, 126, 65535, 65536} {
		t.Run("", func(t *testing.T) {
			payload := bytes.Repeat([]byte{'x'}, n)
			input := maskedFrame(t, true, OpcodeBinary, payload)

			r := NewReader(0)
			_, frame, ok, err := r.Feed(input)
			if err != nil {
				t.Fatalf("Reader.Feed() unexpected error: %v", err)
			}
			if !ok {
				t.Fatalf("Reader.Feed() did not complete for payload length %d", n)
			}
			if len(frame.Payload) != n {
				t.Errorf("got payload length %d, want %d", len(frame.Payload), n)
			}
			if !bytes.Equal(frame.Payload, payload) {
				t.Errorf("payload mismatch for length %d", n)
			}
		})
	}
}

// TestReaderMaxFrameSizeRejectsSmallFrame verifies the max-size check
// applies even when the payload length fits the 7-bit form, not just the
// 16/64-bit extended-length branches.
func TestReaderMaxFrameSizeRejectsSmallFrame(t *testing.T) {
	input := maskedFrame(t, true, OpcodeBinary, []byte("hello"))

	r := NewReader(3)
	_, _, _, err := r.Feed(input)
	if err == nil {
		t.Fatal("Reader.Feed() error = nil, want StatusMessageTooBig")
	}
	var perr *ParseError
	if !errors.As(err, &perr) || perr.Status != StatusMessageTooBig {
		t.Errorf("Reader.Feed() error = %v, want a StatusMessageTooBig ParseError", err)
	}
}

func TestAppendFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  []byte
	}{
		{
			// The echo reply to "Hello".
			name:  "echo_hello",
			frame: Frame{Fin: true, Opcode: OpcodeText, Payload: []byte("Hello")},
			want:  []byte{0x81, 0x05, 0x48, 0x65, 0x6c, 0x6c, 0x6f},
		},
		{
			name:  "empty_binary",
			frame: Frame{Fin: true, Opcode: OpcodeBinary, Payload: nil},
			want:  []byte{0x82, 0x00},
		},
		{
			// The mirrored close reply.
			name:  "close_1000",
			frame: Frame{Fin: true, Opcode: OpcodeClose, Payload: []byte{0x03, 0xe8}},
			want:  []byte{0x88, 0x02, 0x03, 0xe8},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AppendFrame(nil, tt.frame)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("AppendFrame() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestAppendFramePayloadLengthBranches(t *testing.T) {
	tests := []struct {
		n    int
		want []byte
	}{
		{0, []byte{0x00}},
		{125, []byte{0x7d}},
		{126, []byte{0x7e, 0x00, 0x7e}},
		{65535, []byte{0x7e, 0xff, 0xff}},
		{65536, []byte{0x7f, 0, 0, 0, 0, 0, 1, 0, 0}},
	}

	for _, tt := range tests {
		got := appendPayloadLength(nil, tt.n)
		if !bytes.Equal(got, tt.want) {
			t.Errorf("appendPayloadLength(%d) = %#v, want %#v", tt.n, got, tt.want)
		}
	}
}

func TestMaskPayloadIsSelfInverse(t *testing.T) {
	key := [4]byte{0x37, 0xfa, 0x21, 0x3d}
	orig := []byte("round trips under any chunking")
	buf := append([]byte(nil), orig...)

	MaskPayload(buf, key)
	if bytes.Equal(buf, orig) {
		t.Fatal("MaskPayload() did not change the payload")
	}
	MaskPayload(buf, key)
	if !bytes.Equal(buf, orig) {
		t.Errorf("MaskPayload() applied twice = %q, want %q", buf, orig)
	}
}

func TestParseClosePayload(t *testing.T) {
	tests := []struct {
		name       string
		payload    []byte
		wantStatus StatusCode
		wantReason string
		wantErr    bool
	}{
		{name: "empty", payload: nil, wantStatus: StatusNoStatusReceived},
		{name: "one_byte", payload: []byte{0x03}, wantErr: true},
		{name: "status_only", payload: []byte{0x03, 0xe8}, wantStatus: StatusNormalClosure},
		{
			name:       "status_and_reason",
			payload:    append([]byte{0x03, 0xe9}, []byte("bye")...),
			wantStatus: StatusGoingAway,
			wantReason: "bye",
		},
		{
			name:    "invalid_utf8_reason",
			payload: append([]byte{0x03, 0xe8}, 0xff, 0xfe),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, reason, err := ParseClosePayload(tt.payload)
			if tt.wantErr {
				if err == nil {
					t.Fatal("ParseClosePayload() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseClosePayload() unexpected error: %v", err)
			}
			if status != tt.wantStatus || reason != tt.wantReason {
				t.Errorf("ParseClosePayload() = (%v, %q), want (%v, %q)", status, reason, tt.wantStatus, tt.wantReason)
			}
		})
	}
}

// maskedFrame builds a masked client-to-server frame for test fixtures: the
// payload is masked in place with a fixed key before being appended, the
// inverse of what the reader under test performs.
func maskedFrame(t *testing.T, fin bool, op Opcode, payload []byte) []byte {
	t.Helper()

	key := [4]byte{0x01, 0x02, 0x03, 0x04}
	masked := append([]byte(nil), payload...)
	MaskPayload(masked, key)

	b0 := byte(op) & 0x0F
	if fin {
		b0 |= 0x80
	}

	out := []byte{b0}
	out = appendMaskedLength(out, len(payload))
	out = append(out, key[:]...)
	out = append(out, masked...)
	return out
}

func appendMaskedLength(dst []byte, n int) []byte {
	tmp := appendPayloadLength(nil, n)
	tmp[0] |= 0x80
	return append(dst, tmp...)
}

// maskedHeaderOnly builds a minimal (and in these tests, invalid) 6-byte
// frame: byte0, a masked zero-length marker, and a 4-byte mask key.
func maskedHeaderOnly(b0 byte) []byte {
	return []byte{b0, 0x80, 0, 0, 0, 0}
}
