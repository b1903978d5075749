package wire

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func TestCommandHeaderRoundTrip(t *testing.T) {
	h := &CommandHeader{
		TransactionID: 7,
		Flags:         FlagReply | FlagMore,
		Opcode:        OpRead,
		Status:        0,
		BackendID:     3,
		TraceID:       uuid.New(),
		PayloadSize:   128,
	}
	copy(h.KeyID[:], []byte("some-key-id"))

	encoded := h.Bytes()
	if len(encoded) != HeaderSize {
		t.Fatalf("encoded size = %d, want %d", len(encoded), HeaderSize)
	}

	decoded, err := DecodeHeader(encoded)
	if err != nil {
		t.Fatalf("DecodeHeader: %v", err)
	}

	if !bytes.Equal(decoded.KeyID[:], h.KeyID[:]) {
		t.Errorf("KeyID mismatch: %x vs %x", decoded.KeyID, h.KeyID)
	}
	if decoded.TransactionID != h.TransactionID {
		t.Errorf("TransactionID = %d, want %d", decoded.TransactionID, h.TransactionID)
	}
	if decoded.Flags != h.Flags {
		t.Errorf("Flags = %s, want %s", decoded.Flags, h.Flags)
	}
	if decoded.Opcode != h.Opcode {
		t.Errorf("Opcode = %s, want %s", decoded.Opcode, h.Opcode)
	}
	if decoded.BackendID != h.BackendID {
		t.Errorf("BackendID = %d, want %d", decoded.BackendID, h.BackendID)
	}
	if decoded.TraceID != h.TraceID {
		t.Errorf("TraceID = %s, want %s", decoded.TraceID, h.TraceID)
	}
	if decoded.PayloadSize != h.PayloadSize {
		t.Errorf("PayloadSize = %d, want %d", decoded.PayloadSize, h.PayloadSize)
	}
}

func TestCommandHeaderEncodeShortBuffer(t *testing.T) {
	h := &CommandHeader{}
	_, err := h.Encode(make([]byte, HeaderSize-1))
	if err != ErrShortHeader {
		t.Fatalf("err = %v, want ErrShortHeader", err)
	}
}

func TestFlagsString(t *testing.T) {
	cases := []struct {
		f    Flags
		want string
	}{
		{0, "NONE"},
		{FlagDirect, "DIRECT"},
		{FlagReply | FlagMore, "REPLY|MORE"},
	}
	for _, c := range cases {
		if got := c.f.String(); got != c.want {
			t.Errorf("Flags(%d).String() = %q, want %q", c.f, got, c.want)
		}
	}
}

func TestOpcodeIsWellKnown(t *testing.T) {
	if !OpRead.IsWellKnown() {
		t.Error("OpRead should be well known")
	}
	if Opcode(9999).IsWellKnown() {
		t.Error("opaque opcode should not be well known")
	}
}
