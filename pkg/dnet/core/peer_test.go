package core

import (
	"net"
	"sync"
	"testing"
	"time"

	"github.com/jabolina/dnet/pkg/dnet/wire"
)

type nopLogger struct{}

func (nopLogger) Debugf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}

func newPipePeer() (*PeerState, net.Conn) {
	client, server := net.Pipe()
	p := NewPeerState(wire.Address{Host: "127.0.0.1", Port: 7000, Family: wire.FamilyInet}, client, false, SocketOptions{}, nopLogger{})
	return p, server
}

// Scenario 1: single request/reply.
func TestPeerState_SingleRequestReply(t *testing.T) {
	p, server := newPipePeer()
	defer server.Close()

	replies := make(chan Reply, 1)
	trans := &Transaction{ID: 7, Opcode: wire.OpRead, Wait: time.Second, Callback: func(r Reply) { replies <- r }}

	go func() {
		buf := make([]byte, wire.HeaderSize)
		_, _ = server.Read(buf)
	}()

	if err := p.SendRequest(trans, &IoReq{Header: (&wire.CommandHeader{TransactionID: 7, Opcode: wire.OpRead}).Bytes()}); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	replyHdr := &wire.CommandHeader{TransactionID: 7, Flags: wire.FlagReply, Opcode: wire.OpRead}
	msg := &wire.Message{Header: replyHdr}
	if !p.MatchReply(msg) {
		t.Fatal("MatchReply should have matched transaction 7")
	}

	select {
	case r := <-replies:
		if r.Err != nil {
			t.Fatalf("unexpected error: %v", r.Err)
		}
	case <-time.After(time.Second):
		t.Fatal("callback never invoked")
	}

	p.transMu.Lock()
	remaining := len(p.transByID)
	p.transMu.Unlock()
	if remaining != 0 {
		t.Fatalf("trans_by_id should be empty, has %d", remaining)
	}
}

// Scenario 2: streaming replies — MORE, MORE, terminal.
func TestPeerState_StreamingReplies(t *testing.T) {
	p, server := newPipePeer()
	defer server.Close()

	go func() {
		buf := make([]byte, wire.HeaderSize)
		_, _ = server.Read(buf)
	}()

	var mu sync.Mutex
	var order []int
	done := make(chan struct{})
	trans := &Transaction{ID: 11, Opcode: wire.OpRead, Wait: time.Second, Callback: func(r Reply) {
		mu.Lock()
		order = append(order, len(order))
		n := len(order)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	}}

	if err := p.SendRequest(trans, &IoReq{Header: (&wire.CommandHeader{TransactionID: 11}).Bytes()}); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	for i := 0; i < 2; i++ {
		p.MatchReply(&wire.Message{Header: &wire.CommandHeader{TransactionID: 11, Flags: wire.FlagReply | wire.FlagMore}})
		p.transMu.Lock()
		_, stillPresent := p.transByID[11]
		p.transMu.Unlock()
		if !stillPresent {
			t.Fatal("transaction removed before terminal reply")
		}
	}
	p.MatchReply(&wire.Message{Header: &wire.CommandHeader{TransactionID: 11, Flags: wire.FlagReply}})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("did not receive 3 callbacks")
	}

	p.transMu.Lock()
	_, stillPresent := p.transByID[11]
	p.transMu.Unlock()
	if stillPresent {
		t.Fatal("transaction should be removed after terminal reply")
	}
}

// Scenario 3: timeout.
func TestPeerState_Timeout(t *testing.T) {
	p, server := newPipePeer()
	defer server.Close()

	go func() {
		buf := make([]byte, wire.HeaderSize)
		_, _ = server.Read(buf)
	}()

	replies := make(chan Reply, 1)
	trans := &Transaction{ID: 42, Opcode: wire.OpRead, Wait: 20 * time.Millisecond, Callback: func(r Reply) { replies <- r }}
	if err := p.SendRequest(trans, &IoReq{Header: (&wire.CommandHeader{TransactionID: 42}).Bytes()}); err != nil {
		t.Fatalf("SendRequest: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		p.sweepExpired(time.Now())
		select {
		case r := <-replies:
			if r.Err != ErrTimeout {
				t.Fatalf("err = %v, want ErrTimeout", r.Err)
			}
			p.transMu.Lock()
			_, present := p.transByID[42]
			p.transMu.Unlock()
			if present {
				t.Fatal("transaction 42 should be removed after timeout")
			}
			return
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	t.Fatal("timeout callback never fired")
}

// Scenario 4: peer reset mid-stream completes every outstanding
// transaction exactly once with ErrConnReset.
func TestPeerState_ResetCompletesOutstanding(t *testing.T) {
	p, server := newPipePeer()
	defer server.Close()

	go func() {
		buf := make([]byte, 5*wire.HeaderSize)
		_, _ = server.Read(buf)
	}()

	var mu sync.Mutex
	results := map[uint64]error{}
	var wg sync.WaitGroup
	wg.Add(5)
	for i := uint64(0); i < 5; i++ {
		id := i + 100
		trans := &Transaction{ID: id, Wait: time.Minute, Callback: func(r Reply) {
			mu.Lock()
			results[id] = r.Err
			mu.Unlock()
			wg.Done()
		}}
		if err := p.SendRequest(trans, &IoReq{Header: (&wire.CommandHeader{TransactionID: id}).Bytes()}); err != nil {
			t.Fatalf("SendRequest(%d): %v", id, err)
		}
	}

	p.Reset(nil)
	wg.Wait()

	for id, err := range results {
		if err != ErrConnReset {
			t.Errorf("trans %d got err %v, want ErrConnReset", id, err)
		}
	}
	p.transMu.Lock()
	left := len(p.transByID)
	p.transMu.Unlock()
	if left != 0 {
		t.Fatalf("trans_by_id should be empty at terminal, has %d", left)
	}
	if p.State() != Terminal {
		t.Fatalf("state = %v, want Terminal", p.State())
	}
}

func TestPeerState_EnqueueAfterResetFails(t *testing.T) {
	p, server := newPipePeer()
	defer server.Close()
	p.Reset(nil)
	if err := p.Enqueue(&IoReq{Header: []byte("x")}); err != ErrClosed {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
}
