// Package testutil provides the small cluster harness used by package
// tests across pkg/dnet, generalized from the teacher's test/testing.go
// UnityCluster/TestInvoker helpers into a two-node dnet cluster.
package testutil

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/jabolina/dnet/pkg/dnet/definition"
	"github.com/jabolina/dnet/pkg/dnet/node"
	"github.com/jabolina/dnet/pkg/dnet/wire"
)

// NewNodeOnFreePort builds a node.Node listening on an OS-assigned loopback
// port, wired with a MemoryBackend and MemoryRouteTable, and returns it
// alongside its resolved address.
func NewNodeOnFreePort(t *testing.T, cookie []byte) (*node.Node, wire.Address) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("reserve port: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	cfg := node.DefaultConfig()
	cfg.Addrs = []string{fmt.Sprintf("127.0.0.1:%d:%d", port, wire.FamilyInet)}
	cfg.Cookie = cookie
	cfg.WaitTimeout = 2 * time.Second
	cfg.ReconnectInterval = 50 * time.Millisecond

	routes := node.NewMemoryRouteTable(nil)
	backend := node.NewMemoryBackend()
	log := definition.NewDefaultLogger()
	log.ToggleDebug(false)

	n := node.NewNode(cfg, routes, backend, nil, log)
	addr, _ := wire.ParseAddress(cfg.Addrs[0])
	return n, addr
}

// RunUntilListening starts n.Serve in the background and blocks until its
// listener accepts connections or the timeout elapses.
func RunUntilListening(t *testing.T, n *node.Node, addr wire.Address, timeout time.Duration) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := n.Serve(ctx); err != nil && err != context.Canceled {
			t.Logf("node serve exited: %v", err)
		}
	}()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", fmt.Sprintf("%s:%d", addr.Host, addr.Port), 20*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return cancel
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("node at %s never started listening", addr)
	return cancel
}
