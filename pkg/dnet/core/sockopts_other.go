//go:build !linux

package core

import "net"

// applySocketOptions is a best-effort fallback on platforms without
// TCP_CORK/TCP_KEEPCNT-style fine-grained options (e.g. Darwin): keepalive
// is set through the portable net API and the rest is a documented no-op,
// matching spec §9's "buffered fallback is acceptable only on platforms
// without sendfile" guidance applied to socket tuning as well.
func applySocketOptions(conn *net.TCPConn, opts SocketOptions, accepted bool) error {
	return conn.SetKeepAlive(true)
}

// setTCPCork is a no-op on platforms without TCP_CORK.
func setTCPCork(conn net.Conn, on bool) {}
