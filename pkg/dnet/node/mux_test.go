package node

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/jabolina/dnet/pkg/dnet/core"
	"github.com/jabolina/dnet/pkg/dnet/wire"
)

type silentLogger struct{}

func (silentLogger) Info(v ...interface{})                  {}
func (silentLogger) Infof(string, ...interface{})            {}
func (silentLogger) Warn(v ...interface{})                   {}
func (silentLogger) Warnf(string, ...interface{})            {}
func (silentLogger) Error(v ...interface{})                  {}
func (silentLogger) Errorf(string, ...interface{})           {}
func (silentLogger) Debug(v ...interface{})                  {}
func (silentLogger) Debugf(string, ...interface{})           {}
func (silentLogger) Fatal(v ...interface{})                  {}
func (silentLogger) Fatalf(string, ...interface{})           {}
func (silentLogger) Panic(v ...interface{})                  {}
func (silentLogger) Panicf(string, ...interface{})           {}
func (silentLogger) ToggleDebug(value bool) bool             { return value }

func newTestPeer() (*core.PeerState, net.Conn) {
	client, server := net.Pipe()
	p := core.NewPeerState(wire.Address{Host: "127.0.0.1", Port: 9000, Family: wire.FamilyInet}, client, false, core.SocketOptions{}, silentLogger{})
	return p, server
}

func TestMultiplexer_NextIDMonotonic(t *testing.T) {
	m := NewMultiplexer(1, nil, silentLogger{})
	a := m.NextID()
	b := m.NextID()
	if b <= a {
		t.Fatalf("ids not monotonic: %d then %d", a, b)
	}
}

// Scenario 5: forwarding rewrites ids and invokes onComplete with the
// original transaction id restored.
func TestMultiplexer_ForwardRewritesReplyID(t *testing.T) {
	m := NewMultiplexer(100, nil, silentLogger{})
	origin, originServer := newTestPeer()
	defer originServer.Close()
	target, targetServer := newTestPeer()
	defer targetServer.Close()

	go func() {
		buf := make([]byte, wire.HeaderSize)
		_, _ = targetServer.Read(buf)
	}()

	hdr := &wire.CommandHeader{TransactionID: 7, Opcode: wire.OpWrite}
	req := &core.IoReq{Data: []byte("payload")}

	done := make(chan *wire.CommandHeader, 1)
	if err := m.Forward(origin, 7, target, hdr, req, time.Second, func(h *wire.CommandHeader, body []byte, err error) {
		if err != nil {
			t.Errorf("onComplete err: %v", err)
			return
		}
		done <- h
	}); err != nil {
		t.Fatalf("Forward: %v", err)
	}

	if req.Header == nil {
		t.Fatal("Forward should have rewritten req.Header")
	}
	rewritten, err := wire.DecodeHeader(req.Header)
	if err != nil {
		t.Fatalf("decode rewritten header: %v", err)
	}
	if rewritten.TransactionID == 7 {
		t.Fatal("forwarded transaction id should differ from the original")
	}

	target.MatchReply(&wire.Message{Header: &wire.CommandHeader{TransactionID: rewritten.TransactionID, Flags: wire.FlagReply, Status: 0}})

	select {
	case h := <-done:
		if h.TransactionID != 7 {
			t.Fatalf("onComplete header id = %d, want 7 (original)", h.TransactionID)
		}
	case <-time.After(time.Second):
		t.Fatal("onComplete never invoked")
	}
}

func TestMultiplexer_RunSweepLoopStopsOnCancel(t *testing.T) {
	m := NewMultiplexer(1, nil, silentLogger{})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		m.RunSweepLoop(ctx, func() []*core.PeerState { return nil })
		close(stopped)
	}()
	cancel()
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("sweep loop did not stop after cancel")
	}
}
