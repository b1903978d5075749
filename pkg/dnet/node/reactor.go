package node

import (
	"bytes"
	"context"
	"fmt"
	"net"

	"github.com/jabolina/dnet/pkg/dnet/core"
	"github.com/jabolina/dnet/pkg/dnet/definition"
	"github.com/jabolina/dnet/pkg/dnet/wire"
)

// ErrAuthReject is returned when a peer's cookie does not byte-compare
// equal to ours, per spec §6's "two peers authenticate iff their cookies
// are bytewise equal" and §7's AuthReject error kind.
var ErrAuthReject = core.ErrConnReset

// Reactor is the Go-native rendering of spec §4.4's network thread pool:
// Go's netpoller already multiplexes the blocking reads this performs
// across OS threads, so one reader goroutine per peer plus one writer
// goroutine (core.PeerState.sendLoop) stands in for "network thread owns
// an event-poll set".
type Reactor struct {
	dispatcher *Dispatcher
	minAttr    wire.MinAttrSizer
	log        definition.Logger

	// onEstablished is called once a peer completes its handshake.
	onEstablished func(*core.PeerState)
	// onReset is wired as every peer's SetOnReset callback.
	onReset func(*core.PeerState, error)
}

// NewReactor builds a reactor that submits framed messages to d.
func NewReactor(d *Dispatcher, minAttr wire.MinAttrSizer, log definition.Logger) *Reactor {
	if minAttr == nil {
		minAttr = wire.NoMinAttr
	}
	return &Reactor{dispatcher: d, minAttr: minAttr, log: log}
}

// Accept runs the listener's accept loop until ctx is cancelled or the
// listener is closed. Each accepted connection starts HandshakeWait with
// roles reversed, per spec §4.2's connection lifecycle table.
func (r *Reactor) Accept(ctx context.Context, ln net.Listener, opts core.SocketOptions, cookie []byte) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				r.log.Warnf("accept failed: %v", err)
				continue
			}
		}
		go r.handleAccepted(ctx, conn, opts, cookie)
	}
}

func (r *Reactor) handleAccepted(ctx context.Context, conn net.Conn, opts core.SocketOptions, cookie []byte) {
	addr, err := wire.ParseAddress(conn.RemoteAddr().String() + ":2")
	if err != nil {
		addr = wire.Address{Host: conn.RemoteAddr().String()}
	}
	peer := core.NewPeerState(addr, conn, true, opts, r.log)
	if err := serverHandshake(conn, cookie); err != nil {
		r.log.Warnf("handshake rejected from %s: %v", addr, err)
		peer.Reset(fmt.Errorf("%w: %v", ErrAuthReject, err))
		return
	}
	peer.SetJoinState(core.Client)
	peer.MarkEstablished()
	r.install(ctx, peer)
}

// Establish runs the dialing side of the handshake against an
// already-connected conn and installs the resulting peer for reading.
func (r *Reactor) Establish(ctx context.Context, addr wire.Address, conn net.Conn, opts core.SocketOptions, cookie []byte) (*core.PeerState, error) {
	peer := core.NewPeerState(addr, conn, false, opts, r.log)
	if err := clientHandshake(conn, cookie); err != nil {
		peer.Reset(fmt.Errorf("%w: %v", ErrAuthReject, err))
		return nil, err
	}
	peer.SetJoinState(core.JoinedServer)
	peer.MarkEstablished()
	r.install(ctx, peer)
	return peer, nil
}

func (r *Reactor) install(ctx context.Context, peer *core.PeerState) {
	if r.onReset != nil {
		peer.SetOnReset(r.onReset)
	}
	peer.Start()
	if r.onEstablished != nil {
		r.onEstablished(peer)
	}
	go r.readLoop(ctx, peer)
}

// readLoop is the per-peer reader goroutine: it is the sole caller of
// ReceiveOne for this peer, matching spec §4.4's "single network thread is
// the sole reader of read_fd for any peer assigned to it" — here the
// assignment is simply "this goroutine", since there is no fixed thread
// pool to rotate across.
func (r *Reactor) readLoop(ctx context.Context, peer *core.PeerState) {
	for {
		select {
		case <-ctx.Done():
			peer.Reset(context.Canceled)
			return
		default:
		}
		msg, err := peer.ReceiveOne(r.minAttr)
		if err != nil {
			peer.Reset(err)
			return
		}
		r.dispatcher.Submit(peer, msg)
	}
}

func clientHandshake(conn net.Conn, cookie []byte) error {
	hdr := &wire.CommandHeader{Opcode: wire.OpAuth, PayloadSize: uint64(len(cookie))}
	if _, err := conn.Write(hdr.Bytes()); err != nil {
		return err
	}
	if len(cookie) > 0 {
		if _, err := conn.Write(cookie); err != nil {
			return err
		}
	}
	reply, err := wire.ReadMessage(conn, wire.NoMinAttr)
	if err != nil {
		return err
	}
	if reply.Header.Status != 0 {
		return fmt.Errorf("dnet: auth rejected, status %d", reply.Header.Status)
	}
	return nil
}

func serverHandshake(conn net.Conn, cookie []byte) error {
	msg, err := wire.ReadMessage(conn, wire.NoMinAttr)
	if err != nil {
		return err
	}
	if msg.Header.Opcode != wire.OpAuth {
		return fmt.Errorf("dnet: expected AUTH, got %s", msg.Header.Opcode)
	}
	status := wire.Status(0)
	if !bytes.Equal(msg.Body, cookie) {
		status = 1
	}
	replyHdr := &wire.CommandHeader{Opcode: wire.OpAuth, Flags: wire.FlagReply, Status: status}
	if _, err := conn.Write(replyHdr.Bytes()); err != nil {
		return err
	}
	if status != 0 {
		return fmt.Errorf("dnet: cookie mismatch")
	}
	return nil
}
