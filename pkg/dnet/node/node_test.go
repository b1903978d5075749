package node_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/jabolina/dnet/internal/testutil"
	"github.com/jabolina/dnet/pkg/dnet/core"
	"github.com/jabolina/dnet/pkg/dnet/wire"
)

// Scenario 1 end-to-end: a client dials a node, writes a key, and sees a
// single terminal reply with status 0.
func TestNode_WriteRoundTrip(t *testing.T) {
	cookie := []byte("shared-secret")
	srv, addr := testutil.NewNodeOnFreePort(t, cookie)
	cancel := testutil.RunUntilListening(t, srv, addr, 2*time.Second)
	defer cancel()

	client, clientAddr := testutil.NewNodeOnFreePort(t, cookie)
	clientCancel := testutil.RunUntilListening(t, client, clientAddr, 2*time.Second)
	defer clientCancel()

	peer, err := client.Dial(context.Background(), addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if peer.State() != core.Established {
		t.Fatalf("peer state after dial = %v, want Established", peer.State())
	}

	var key [wire.KeyIDSize]byte
	copy(key[:], "object-key")

	writeDone := make(chan wire.Status, 1)
	writeHdr := &wire.CommandHeader{KeyID: key, TransactionID: 1, Opcode: wire.OpWrite, PayloadSize: 5}
	writeTrans := &core.Transaction{
		ID: 1, Opcode: wire.OpWrite, Wait: time.Second,
		Callback: func(r core.Reply) {
			if r.Err != nil {
				t.Errorf("write callback error: %v", r.Err)
				return
			}
			writeDone <- r.Header.Status
		},
	}
	if err := peer.SendRequest(writeTrans, &core.IoReq{Header: writeHdr.Bytes(), Data: []byte("hello")}); err != nil {
		t.Fatalf("send write: %v", err)
	}

	select {
	case status := <-writeDone:
		if status != 0 {
			t.Fatalf("write status = %d, want 0", status)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("write never replied")
	}
}

// TestNode_CloseLeavesNoGoroutines mirrors the teacher's
// fuzzy/commit_test.go shutdown-then-goleak.VerifyNone pattern: every
// reactor, dispatcher worker, sweep loop, and reconnect goroutine must
// exit once Close returns.
func TestNode_CloseLeavesNoGoroutines(t *testing.T) {
	defer goleak.VerifyNone(t,
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)

	srv, addr := testutil.NewNodeOnFreePort(t, nil)
	cancel := testutil.RunUntilListening(t, srv, addr, 2*time.Second)
	cancel()
	if err := srv.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}
