// Package node assembles the per-peer core package into a runnable
// cluster member: listener(s), reactor, I/O dispatcher, transaction
// multiplexer, route table, backend, and reconnect loop (spec §4.4, §6).
package node

import (
	"context"
	"fmt"
	"net"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/jabolina/dnet/pkg/dnet/core"
	"github.com/jabolina/dnet/pkg/dnet/definition"
	"github.com/jabolina/dnet/pkg/dnet/wire"
)

// Node is the process-wide singleton of spec §3: listen addresses, route
// table, reactor, I/O worker pool, reconnect list, auth cookie, and socket
// options.
type Node struct {
	Config  *Config
	Routes  RouteTable
	Backend BackendDispatcher
	Metrics *Metrics
	Mux     *Multiplexer

	reactor    *Reactor
	dispatcher *Dispatcher
	reconnect  *Reconnect
	log        definition.Logger

	peersMu sync.Mutex
	peers   map[string]*core.PeerState

	listeners []net.Listener

	cancel context.CancelFunc
	group  *errgroup.Group
	gctx   context.Context
}

// NewNode wires every collaborator together but does not yet listen or
// dial; call Serve to start.
func NewNode(cfg *Config, routes RouteTable, backend BackendDispatcher, metrics *Metrics, log definition.Logger) *Node {
	mux := NewMultiplexer(1, metrics, log)
	bp := NewBackpressure(cfg.IOQueueSoftLimit)
	dispatcher := NewDispatcher(cfg.IOThreadNum, bp, backend, routes, mux, metrics, log, cfg.WaitTimeout)
	reactor := NewReactor(dispatcher, wire.NoMinAttr, log)

	// self is the sentinel RouteTable.Lookup returns for locally-owned
	// keys; wiring it into both the dispatcher and a MemoryRouteTable here
	// guarantees they agree on the same handle regardless of how routes
	// was constructed by the caller.
	self := core.NewLocalPeerState(wire.Address{})
	dispatcher.SetSelfPeer(self)
	if mrt, ok := routes.(*MemoryRouteTable); ok {
		mrt.SetSelf(self)
	}

	n := &Node{
		Config:     cfg,
		Routes:     routes,
		Backend:    backend,
		Metrics:    metrics,
		Mux:        mux,
		reactor:    reactor,
		dispatcher: dispatcher,
		log:        log,
		peers:      make(map[string]*core.PeerState),
	}
	n.reconnect = NewReconnect(cfg.ReconnectInterval, func(addr string) error {
		parsed, err := wire.ParseAddress(addr)
		if err != nil {
			return err
		}
		_, err = n.Dial(n.gctx, parsed)
		return err
	}, log)
	reactor.onReset = n.onPeerReset
	reactor.onEstablished = func(peer *core.PeerState) {
		n.peersMu.Lock()
		n.peers[peer.Primary.String()] = peer
		n.peersMu.Unlock()
	}
	return n
}

// Serve opens every configured listen address, starts the dispatcher
// pool, the sweep loop, and the reconnect loop, and blocks until ctx is
// cancelled or a component fails. Components run under an errgroup, the
// idiomatic stand-in for the teacher's Invoker-spawned goroutine group
// (pkg/mcast/core/peer.go's context+cancel pattern, generalized to
// first-error propagation).
func (n *Node) Serve(ctx context.Context) error {
	gctx, cancel := context.WithCancel(ctx)
	n.cancel = cancel
	n.gctx = gctx
	group, gctx2 := errgroup.WithContext(gctx)
	n.group = group
	n.gctx = gctx2

	n.dispatcher.Start(gctx2)

	for _, addrStr := range n.Config.Addrs {
		addr, err := wire.ParseAddress(addrStr)
		if err != nil {
			cancel()
			return fmt.Errorf("dnet: bad listen address %q: %w", addrStr, err)
		}
		tcpAddr, err := addr.Resolve()
		if err != nil {
			cancel()
			return err
		}
		ln, err := net.ListenTCP("tcp", tcpAddr)
		if err != nil {
			cancel()
			return fmt.Errorf("dnet: listen %s: %w", addrStr, err)
		}
		n.listeners = append(n.listeners, ln)
		opts := n.Config.SocketOptions()
		cookie := n.Config.Cookie
		group.Go(func() error {
			n.reactor.Accept(gctx2, ln, opts, cookie)
			return nil
		})
	}

	group.Go(func() error {
		n.Mux.RunSweepLoop(gctx2, n.peersSnapshot)
		return nil
	})
	group.Go(func() error {
		n.reconnect.Run(gctx2)
		return nil
	})

	<-gctx2.Done()
	for _, ln := range n.listeners {
		_ = ln.Close()
	}
	return group.Wait()
}

// Close cancels every running component and waits for the dispatcher pool
// to drain.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	n.dispatcher.Wait()
	return nil
}

// Dial connects to addr, runs the client-side handshake, registers the
// resulting peer, and starts its reader/writer goroutines.
func (n *Node) Dial(ctx context.Context, addr wire.Address) (*core.PeerState, error) {
	tcpAddr, err := addr.Resolve()
	if err != nil {
		return nil, err
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", tcpAddr.String())
	if err != nil {
		return nil, err
	}
	peer, err := n.reactor.Establish(ctx, addr, conn, n.Config.SocketOptions(), n.Config.Cookie)
	if err != nil {
		return nil, err
	}
	n.peersMu.Lock()
	n.peers[addr.String()] = peer
	n.peersMu.Unlock()
	return peer, nil
}

func (n *Node) onPeerReset(peer *core.PeerState, err error) {
	n.Routes.Evict(peer)
	n.peersMu.Lock()
	delete(n.peers, peer.Primary.String())
	n.peersMu.Unlock()

	if peer.GetJoinState() == core.JoinedServer {
		n.reconnect.Add(peer.Primary.String())
	}
}

func (n *Node) peersSnapshot() []*core.PeerState {
	n.peersMu.Lock()
	defer n.peersMu.Unlock()
	out := make([]*core.PeerState, 0, len(n.peers))
	for _, p := range n.peers {
		out = append(out, p)
	}
	return out
}
