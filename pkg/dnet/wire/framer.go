package wire

import (
	"errors"
	"fmt"
	"io"
)

// ErrTooShort is returned when a header declares a payload size smaller
// than the minimum attribute block its opcode requires.
var ErrTooShort = errors.New("wire: declared payload size shorter than required attribute block")

// MinAttrSizer looks up the minimum attribute-block size an opcode
// requires. Backend dispatchers register opcodes here; opcodes with no
// registered minimum are assumed to need none.
type MinAttrSizer func(Opcode) int

// NoMinAttr is a MinAttrSizer that never requires an attribute block,
// useful for tests and for backends with no framed attributes at all.
func NoMinAttr(Opcode) int { return 0 }

// Message is a fully framed inbound unit: the decoded header plus the raw
// bytes that followed it (attribute block, if any, followed by the body).
type Message struct {
	Header *CommandHeader
	Body   []byte
}

// ReadMessage reads one complete message from r: the fixed header, then
// (if PayloadSize != 0) that many additional bytes. It returns io.EOF only
// when zero bytes were read at a message boundary (a clean peer close);
// any other short read surfaces as an unexpected-EOF wrapped error, which
// callers should treat as a transport failure requiring peer reset.
func ReadMessage(r io.Reader, minAttr MinAttrSizer) (*Message, error) {
	hdrBuf := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, hdrBuf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("wire: read header: %w", err)
	}

	hdr, err := DecodeHeader(hdrBuf)
	if err != nil {
		return nil, fmt.Errorf("wire: decode header: %w", err)
	}

	if minAttr == nil {
		minAttr = NoMinAttr
	}
	if required := minAttr(hdr.Opcode); hdr.PayloadSize < uint64(required) {
		return nil, fmt.Errorf("%w: opcode %s needs %d, header declares %d",
			ErrTooShort, hdr.Opcode, required, hdr.PayloadSize)
	}

	var body []byte
	if hdr.PayloadSize > 0 {
		body = make([]byte, hdr.PayloadSize)
		if _, err := io.ReadFull(r, body); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("wire: read payload: %w", err)
		}
	}

	return &Message{Header: hdr, Body: body}, nil
}
