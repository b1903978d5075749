package node

import (
	"testing"

	"github.com/jabolina/dnet/pkg/dnet/core"
	"github.com/jabolina/dnet/pkg/dnet/wire"
)

// TestDispatcher_LocalRequestServedWithoutForwarding is the regression for
// the route table's self sentinel: a request for a key with no published
// range must be served by the local backend, never handed to
// forwardRequest (which would nil-deref d.mux here, since it is
// deliberately left nil).
func TestDispatcher_LocalRequestServedWithoutForwarding(t *testing.T) {
	self := &core.PeerState{}
	routes := NewMemoryRouteTable(nil)
	routes.SetSelf(self)
	backend := NewMemoryBackend()
	d := NewDispatcher(1, NewBackpressure(1<<20), backend, routes, nil, nil, silentLogger{}, 0)
	d.SetSelfPeer(self)

	origin, originServer := newTestPeer()
	defer originServer.Close()
	go func() {
		buf := make([]byte, wire.HeaderSize)
		_, _ = originServer.Read(buf)
	}()

	var key [wire.KeyIDSize]byte
	copy(key[:], "local-key")
	hdr := &wire.CommandHeader{KeyID: key, TransactionID: 1, Opcode: wire.OpWrite}
	d.handle(origin, &wire.Message{Header: hdr, Body: []byte("payload")})

	stored, err := backend.Handle(NewRequestContext(hdr), &wire.CommandHeader{KeyID: key, Opcode: wire.OpRead}, nil)
	if err != nil {
		t.Fatalf("backend read after local write: %v", err)
	}
	if string(stored) != "payload" {
		t.Fatalf("stored = %q, want %q", stored, "payload")
	}
}

// TestDispatcher_UpdateIDsPublishesRoute covers spec.md:175's UPDATE_IDS
// opcode: its payload must be decoded and published into the route table
// instead of being routed like an ordinary request.
func TestDispatcher_UpdateIDsPublishesRoute(t *testing.T) {
	routes := NewMemoryRouteTable(nil)
	backend := NewMemoryBackend()
	d := NewDispatcher(1, NewBackpressure(1<<20), backend, routes, nil, nil, silentLogger{}, 0)

	origin, originServer := newTestPeer()
	defer originServer.Close()
	go func() {
		buf := make([]byte, wire.HeaderSize)
		_, _ = originServer.Read(buf)
	}()

	var low, high [wire.KeyIDSize]byte
	high[0] = 0xff
	payload := EncodeRanges([]BackendRange{{BackendID: 7, Low: low, High: high}})
	hdr := &wire.CommandHeader{TransactionID: 1, Opcode: wire.OpUpdateIDs}
	d.handle(origin, &wire.Message{Header: hdr, Body: payload})

	var probe [wire.KeyIDSize]byte
	probe[0] = 0x10
	owner, ok := routes.Lookup(probe)
	if !ok || owner != origin {
		t.Fatalf("Lookup after UPDATE_IDS = (%v, %v), want origin peer", owner, ok)
	}
}
