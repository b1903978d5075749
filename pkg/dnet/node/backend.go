package node

import (
	"errors"
	"fmt"
	"sync"

	"github.com/jabolina/dnet/pkg/dnet/wire"
)

// ErrNoSuchKey is returned by MemoryBackend on a READ/LOOKUP miss.
var ErrNoSuchKey = errors.New("dnet: no such key")

// BackendDispatcher is the key→blob store collaborator the spec declares a
// Non-goal: the core calls into it with a raw command payload and treats
// it as opaque.
type BackendDispatcher interface {
	Handle(ctx *RequestContext, hdr *wire.CommandHeader, body []byte) ([]byte, error)
}

// MemoryBackend is an in-memory key→blob store provided for tests and the
// cmd/dnetnode example; it is not a production storage engine.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[[wire.KeyIDSize]byte][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[[wire.KeyIDSize]byte][]byte)}
}

func (b *MemoryBackend) Handle(ctx *RequestContext, hdr *wire.CommandHeader, body []byte) ([]byte, error) {
	switch hdr.Opcode {
	case wire.OpWrite:
		b.mu.Lock()
		b.data[hdr.KeyID] = append([]byte(nil), body...)
		b.mu.Unlock()
		return nil, nil
	case wire.OpRead, wire.OpLookup:
		b.mu.RLock()
		v, ok := b.data[hdr.KeyID]
		b.mu.RUnlock()
		if !ok {
			return nil, ErrNoSuchKey
		}
		return append([]byte(nil), v...), nil
	default:
		return nil, fmt.Errorf("dnet: memory backend has no handler for opcode %s", hdr.Opcode)
	}
}
