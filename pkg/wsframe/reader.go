package wsframe

import "encoding/binary"

// ParseError is returned by Reader.Feed when a frame violates the
// protocol. Status is the close status the caller should report to the
// peer (and, in turn, to the connection's host) before tearing the
// connection down.
type ParseError struct {
	Status StatusCode
	Msg    string
}

func (e *ParseError) Error() string {
	return e.Msg
}

type subState int

const (
	subHeadTwo subState = iota
	subExtLen
	subMaskKey
	subPayload
)

// Reader incrementally parses a stream of server-bound WebSocket frames. It
// holds at most one frame-in-progress at a time and tolerates arbitrary
// chunking of the underlying byte stream: Feed may be called repeatedly
// with however many bytes happen to be available, and will ask for more
// (ok == false, err == nil) whenever the buffer runs out mid-frame.
type Reader struct {
	maxFrameSize uint64

	state      subState
	scratch    [8]byte
	scratchLen int
	needExt    int

	fin        bool
	opcode     Opcode
	len7       byte
	payloadLen uint64
	maskKey    [4]byte
	payload    []byte
	payloadPos uint64
}

// NewReader creates a Reader. maxFrameSize, if non-zero, bounds the payload
// length this reader will accept before allocating a buffer for it; a
// larger advertised length is rejected with StatusMessageTooBig.
func NewReader(maxFrameSize uint64) *Reader {
	return &Reader{maxFrameSize: maxFrameSize, state: subHeadTwo}
}

// checkMaxFrameSize rejects a frame whose payload length exceeds the
// reader's configured maximum (0 means unlimited), regardless of which of
// the three length-encoding branches produced payloadLen.
func (r *Reader) checkMaxFrameSize() error {
	if r.maxFrameSize > 0 && r.payloadLen > r.maxFrameSize {
		return &ParseError{Status: StatusMessageTooBig, Msg: "frame payload exceeds configured maximum"}
	}
	return nil
}

func (r *Reader) reset() {
	r.state = subHeadTwo
	r.scratchLen = 0
	r.needExt = 0
	r.payload = nil
	r.payloadPos = 0
}

// fill copies as many bytes as needed (and available) from buf into the
// reader's scratch area, returning how many bytes it consumed and whether
// the scratch area now holds the full `want` bytes.
func (r *Reader) fill(buf []byte, want int) (consumed int, done bool) {
	need := want - r.scratchLen
	if need <= 0 {
		return 0, true
	}
	n := len(buf)
	if n > need {
		n = need
	}
	copy(r.scratch[r.scratchLen:], buf[:n])
	r.scratchLen += n
	return n, r.scratchLen == want
}

// Feed consumes a prefix of buf, attempting to complete one frame. It
// returns the number of bytes consumed (always <= len(buf)), which is
// non-zero even when ok is false as long as progress was made. Exactly one
// of three outcomes happens per call:
//
//   - ok == true: a complete frame was parsed and is returned.
//   - ok == false, err == nil: buf was exhausted before the frame
//     completed; the reader retains its partial state for the next call.
//   - err != nil: the stream violates the protocol. The reader must not be
//     reused; the caller should report err.(*ParseError).Status to the peer.
func (r *Reader) Feed(buf []byte) (n int, frame Frame, ok bool, err error) {
	offset := 0

	for {
		switch r.state {
		case subHeadTwo:
			c, done := r.fill(buf[offset:], 2)
			offset += c
			if !done {
				return offset, Frame{}, false, nil
			}

			b0, b1 := r.scratch[0], r.scratch[1]
			r.scratchLen = 0

			r.fin = b0&0x80 != 0
			rsv := b0 & 0x70
			r.opcode = Opcode(b0 & 0x0F)
			masked := b1&0x80 != 0
			r.len7 = b1 & 0x7F

			if rsv != 0 {
				return offset, Frame{}, false, &ParseError{Status: StatusProtocolError, Msg: "reserved bits must be zero"}
			}
			if !r.opcode.valid() {
				return offset, Frame{}, false, &ParseError{Status: StatusProtocolError, Msg: "unknown opcode"}
			}
			if !masked {
				return offset, Frame{}, false, &ParseError{Status: StatusProtocolError, Msg: "client frame must be masked"}
			}
			if r.opcode.IsControl() {
				if !r.fin {
					return offset, Frame{}, false, &ParseError{Status: StatusProtocolError, Msg: "control frame must not be fragmented"}
				}
				if r.len7 > MaxControlPayload {
					return offset, Frame{}, false, &ParseError{Status: StatusProtocolError, Msg: "control frame payload exceeds 125 bytes"}
				}
			}

			switch r.len7 {
			case len16Bits:
				r.needExt = 2
				r.state = subExtLen
			case len64Bits:
				r.needExt = 8
				r.state = subExtLen
			default:
				r.payloadLen = uint64(r.len7)
				if err := r.checkMaxFrameSize(); err != nil {
					return offset, Frame{}, false, err
				}
				r.state = subMaskKey
			}

		case subExtLen:
			c, done := r.fill(buf[offset:], r.needExt)
			offset += c
			if !done {
				return offset, Frame{}, false, nil
			}

			if r.needExt == 2 {
				r.payloadLen = uint64(binary.BigEndian.Uint16(r.scratch[:2]))
			} else {
				v := binary.BigEndian.Uint64(r.scratch[:8])
				if v&(1<<63) != 0 {
					r.scratchLen = 0
					return offset, Frame{}, false, &ParseError{Status: StatusProtocolError, Msg: "64-bit length must not set the top bit"}
				}
				r.payloadLen = v
			}
			r.scratchLen = 0

			if err := r.checkMaxFrameSize(); err != nil {
				return offset, Frame{}, false, err
			}
			r.state = subMaskKey

		case subMaskKey:
			c, done := r.fill(buf[offset:], 4)
			offset += c
			if !done {
				return offset, Frame{}, false, nil
			}

			copy(r.maskKey[:], r.scratch[:4])
			r.scratchLen = 0
			if r.payloadLen > 0 {
				r.payload = make([]byte, r.payloadLen)
			}
			r.payloadPos = 0
			r.state = subPayload

		case subPayload:
			need := r.payloadLen - r.payloadPos
			if need > 0 {
				avail := uint64(len(buf) - offset)
				if avail == 0 {
					return offset, Frame{}, false, nil
				}
				n := avail
				if n > need {
					n = need
				}
				copy(r.payload[r.payloadPos:r.payloadPos+n], buf[offset:offset+int(n)])
				offset += int(n)
				r.payloadPos += n
				if r.payloadPos < r.payloadLen {
					return offset, Frame{}, false, nil
				}
			}

			MaskPayload(r.payload, r.maskKey)
			out := Frame{Fin: r.fin, Opcode: r.opcode, Payload: r.payload}
			r.reset()
			return offset, out, true, nil
		}
	}
}
