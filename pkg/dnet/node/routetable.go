package node

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/jabolina/dnet/pkg/dnet/core"
	"github.com/jabolina/dnet/pkg/dnet/wire"
)

// BackendRange is one contiguous key-id range owned by a backend, as
// published by an UPDATE_IDS command (spec §6).
type BackendRange struct {
	BackendID uint32
	Low       [wire.KeyIDSize]byte
	High      [wire.KeyIDSize]byte
}

func (r BackendRange) contains(key [wire.KeyIDSize]byte) bool {
	return bytes.Compare(key[:], r.Low[:]) >= 0 && bytes.Compare(key[:], r.High[:]) <= 0
}

const rangeRecordSize = 4 + 2*wire.KeyIDSize

// EncodeRanges serializes a BackendRange list into the UPDATE_IDS payload
// format (spec.md:175's "container of per-backend id ranges"): a uint32
// count followed by fixed-width BackendID/Low/High records, matching the
// wire package's own little-endian, fixed-field encoding style.
func EncodeRanges(ranges []BackendRange) []byte {
	buf := make([]byte, 4+len(ranges)*rangeRecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(ranges)))
	off := 4
	for _, r := range ranges {
		binary.LittleEndian.PutUint32(buf[off:off+4], r.BackendID)
		off += 4
		copy(buf[off:off+wire.KeyIDSize], r.Low[:])
		off += wire.KeyIDSize
		copy(buf[off:off+wire.KeyIDSize], r.High[:])
		off += wire.KeyIDSize
	}
	return buf
}

// DecodeRanges parses a payload produced by EncodeRanges.
func DecodeRanges(body []byte) ([]BackendRange, error) {
	if len(body) < 4 {
		return nil, fmt.Errorf("dnet: update_ids payload too short")
	}
	count := binary.LittleEndian.Uint32(body[0:4])
	off := 4
	out := make([]BackendRange, 0, count)
	for i := uint32(0); i < count; i++ {
		if off+rangeRecordSize > len(body) {
			return nil, fmt.Errorf("dnet: update_ids payload truncated")
		}
		var r BackendRange
		r.BackendID = binary.LittleEndian.Uint32(body[off : off+4])
		off += 4
		copy(r.Low[:], body[off:off+wire.KeyIDSize])
		off += wire.KeyIDSize
		copy(r.High[:], body[off:off+wire.KeyIDSize])
		off += wire.KeyIDSize
		out = append(out, r)
	}
	return out, nil
}

// RouteTable is the key→owning-peer collaborator the spec declares a
// Non-goal: the core only consumes its interface. Lookup/Publish/Evict
// are exactly the operations core.PeerState and the dispatcher need.
type RouteTable interface {
	Lookup(key [wire.KeyIDSize]byte) (*core.PeerState, bool)
	Publish(peer *core.PeerState, ranges []BackendRange)
	Evict(peer *core.PeerState)
}

type ownedRange struct {
	rng  BackendRange
	peer *core.PeerState
}

// MemoryRouteTable is a linear range scan good enough to drive tests and a
// single-process demo; it is explicitly not a production DHT (Non-goal
// preserved from spec §1).
type MemoryRouteTable struct {
	mu     sync.RWMutex
	ranges []ownedRange
	self   *core.PeerState
}

// NewMemoryRouteTable builds an empty table. self, if non-nil, is returned
// by Lookup for keys with no published range — the loopback default.
func NewMemoryRouteTable(self *core.PeerState) *MemoryRouteTable {
	return &MemoryRouteTable{self: self}
}

func (t *MemoryRouteTable) Lookup(key [wire.KeyIDSize]byte) (*core.PeerState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, o := range t.ranges {
		if o.rng.contains(key) {
			return o.peer, true
		}
	}
	if t.self != nil {
		return t.self, true
	}
	return nil, false
}

func (t *MemoryRouteTable) Publish(peer *core.PeerState, ranges []BackendRange) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, r := range ranges {
		t.ranges = append(t.ranges, ownedRange{rng: r, peer: peer})
	}
}

// SetSelf installs (or replaces) the sentinel peer Lookup returns for keys
// with no published range. NewNode calls this once at startup so the
// dispatcher's self-peer comparison and the route table's loopback
// fallback agree on the same sentinel.
func (t *MemoryRouteTable) SetSelf(self *core.PeerState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.self = self
}

func (t *MemoryRouteTable) Evict(peer *core.PeerState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	kept := t.ranges[:0]
	for _, o := range t.ranges {
		if o.peer != peer {
			kept = append(kept, o)
		}
	}
	t.ranges = kept
}
