// Package wire implements the byte-level framing protocol shared by every
// peer connection: the fixed command header, the well-known flags and
// opcodes, and the address text format used to name a peer.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// KeyIDSize is the width of the fixed key-id byte array carried by every
// header.
const KeyIDSize = 64

// HeaderSize is the on-wire size of a CommandHeader: KeyID(64) +
// TransactionID(8) + Flags(8) + Opcode(4) + Status(4) + BackendID(4) +
// TraceID(16) + PayloadSize(8). All multi-byte integer fields are
// little-endian.
const HeaderSize = KeyIDSize + 8 + 8 + 4 + 4 + 4 + 16 + 8

// Flags is a bitset of the well-known per-message flags. Bit positions are
// stable and must never be renumbered once shipped.
type Flags uint64

const (
	// FlagDirect instructs the receiving peer to serve the request
	// locally even if it does not own the key, skipping forwarding.
	FlagDirect Flags = 1 << iota

	// FlagNeedAck asks the issuer to expect at least one reply, even an
	// empty one on success.
	FlagNeedAck

	// FlagReply marks the message as a reply; TransactionID correlates
	// it to an outstanding request on the receiving peer.
	FlagReply

	// FlagMore indicates further replies will follow for the same
	// transaction.
	FlagMore

	// FlagNoLock tells the dispatcher the handler may run on the
	// nonblocking I/O pool.
	FlagNoLock

	// FlagTraceBit marks TraceID as meaningful for log correlation.
	FlagTraceBit
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

func (f Flags) String() string {
	names := []struct {
		bit  Flags
		name string
	}{
		{FlagDirect, "DIRECT"},
		{FlagNeedAck, "NEED_ACK"},
		{FlagReply, "REPLY"},
		{FlagMore, "MORE"},
		{FlagNoLock, "NOLOCK"},
		{FlagTraceBit, "TRACE_BIT"},
	}
	out := ""
	for _, n := range names {
		if f.Has(n.bit) {
			if out != "" {
				out += "|"
			}
			out += n.name
		}
	}
	if out == "" {
		return "NONE"
	}
	return out
}

// Opcode identifies the operation a command carries. Values below
// opcodeReservedCeiling are well-known to the core; everything else is
// backend-defined and passed through untouched.
type Opcode uint32

const (
	OpAuth Opcode = iota + 1
	OpUpdateIDs
	OpRead
	OpWrite
	OpLookup

	opcodeReservedCeiling
)

func (o Opcode) String() string {
	switch o {
	case OpAuth:
		return "AUTH"
	case OpUpdateIDs:
		return "UPDATE_IDS"
	case OpRead:
		return "READ"
	case OpWrite:
		return "WRITE"
	case OpLookup:
		return "LOOKUP"
	default:
		return fmt.Sprintf("OPCODE(%d)", uint32(o))
	}
}

// IsWellKnown reports whether the core itself interprets this opcode,
// as opposed to treating it as an opaque backend command.
func (o Opcode) IsWellKnown() bool { return o > 0 && o < opcodeReservedCeiling }

// Status mirrors a POSIX-style errno: zero is success.
type Status int32

// CommandHeader is the fixed-size preamble of every wire message.
type CommandHeader struct {
	KeyID         [KeyIDSize]byte
	TransactionID uint64
	Flags         Flags
	Opcode        Opcode
	Status        Status
	BackendID     uint32
	TraceID       uuid.UUID
	PayloadSize   uint64
}

var ErrShortHeader = errors.New("wire: buffer shorter than a command header")

// Encode serializes the header into dst, which must be at least
// HeaderSize bytes. It returns the number of bytes written (always
// HeaderSize on success).
func (h *CommandHeader) Encode(dst []byte) (int, error) {
	if len(dst) < HeaderSize {
		return 0, ErrShortHeader
	}
	off := 0
	off += copy(dst[off:], h.KeyID[:])
	binary.LittleEndian.PutUint64(dst[off:], h.TransactionID)
	off += 8
	binary.LittleEndian.PutUint64(dst[off:], uint64(h.Flags))
	off += 8
	binary.LittleEndian.PutUint32(dst[off:], uint32(h.Opcode))
	off += 4
	binary.LittleEndian.PutUint32(dst[off:], uint32(h.Status))
	off += 4
	binary.LittleEndian.PutUint32(dst[off:], h.BackendID)
	off += 4
	traceBytes, _ := h.TraceID.MarshalBinary()
	off += copy(dst[off:], traceBytes)
	binary.LittleEndian.PutUint64(dst[off:], h.PayloadSize)
	off += 8
	return off, nil
}

// Bytes allocates and returns the encoded header.
func (h *CommandHeader) Bytes() []byte {
	buf := make([]byte, HeaderSize)
	_, _ = h.Encode(buf)
	return buf
}

// DecodeHeader parses a CommandHeader from the front of src, converting
// every multi-byte field from little-endian as it goes.
func DecodeHeader(src []byte) (*CommandHeader, error) {
	if len(src) < HeaderSize {
		return nil, ErrShortHeader
	}
	h := &CommandHeader{}
	off := 0
	copy(h.KeyID[:], src[off:off+KeyIDSize])
	off += KeyIDSize
	h.TransactionID = binary.LittleEndian.Uint64(src[off:])
	off += 8
	h.Flags = Flags(binary.LittleEndian.Uint64(src[off:]))
	off += 8
	h.Opcode = Opcode(binary.LittleEndian.Uint32(src[off:]))
	off += 4
	h.Status = Status(int32(binary.LittleEndian.Uint32(src[off:])))
	off += 4
	h.BackendID = binary.LittleEndian.Uint32(src[off:])
	off += 4
	if err := h.TraceID.UnmarshalBinary(src[off : off+16]); err != nil {
		return nil, fmt.Errorf("wire: decode trace id: %w", err)
	}
	off += 16
	h.PayloadSize = binary.LittleEndian.Uint64(src[off:])
	return h, nil
}
