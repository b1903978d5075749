//go:build linux

package core

import (
	"net"
	"time"

	"golang.org/x/sys/unix"
)

// applySocketOptions applies keepalive, linger, and IP_TOS as spec §4.2
// requires, on connection creation. accepted selects the server-role TOS
// value; dialing connections get the client-role value.
func applySocketOptions(conn *net.TCPConn, opts SocketOptions, accepted bool) error {
	_ = conn.SetKeepAlive(true)
	raw, err := conn.SyscallConn()
	if err != nil {
		return err
	}

	var sockErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		if opts.KeepCount > 0 {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPCNT, opts.KeepCount)
		}
		if opts.KeepIdle > 0 {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPIDLE, int(opts.KeepIdle/time.Second))
		}
		if opts.KeepInterval > 0 {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_KEEPINTVL, int(opts.KeepInterval/time.Second))
		}
		sockErr = unix.SetsockoptLinger(int(fd), unix.SOL_SOCKET, unix.SO_LINGER, &unix.Linger{Onoff: 1, Linger: 1})
		priority := opts.ClientPriority
		if accepted {
			priority = opts.ServerPriority
		}
		if priority != 0 {
			sockErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TOS, priority)
		}
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return sockErr
}

// setTCPCork toggles TCP_CORK around a multi-region write, per spec §4.2
// and §9's "zero-copy file send" note.
func setTCPCork(conn net.Conn, on bool) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	raw, err := tcpConn.SyscallConn()
	if err != nil {
		return
	}
	val := 0
	if on {
		val = 1
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.IPPROTO_TCP, unix.TCP_CORK, val)
	})
}
