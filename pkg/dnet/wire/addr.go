package wire

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrInvalidAddress is returned when a textual address does not have the
// host:port:family shape.
var ErrInvalidAddress = errors.New("wire: invalid address, want host:port:family")

// Address is the parsed form of the textual "host:port:family" address
// every peer is named by. Family is the numeric AF_* constant (syscall.AF_INET
// or syscall.AF_INET6 in practice, kept as a plain int here so wire stays
// free of platform-specific syscall constants).
type Address struct {
	Host   string
	Port   int
	Family int
}

// ParseAddress splits a textual address on its last two colons. A missing
// delimiter fails with ErrInvalidAddress, mirroring dnet_parse_addr's
// rejection of malformed addresses in original_source/library/net.c.
func ParseAddress(s string) (Address, error) {
	lastColon := strings.LastIndexByte(s, ':')
	if lastColon < 0 {
		return Address{}, ErrInvalidAddress
	}
	familyStr := s[lastColon+1:]
	rest := s[:lastColon]

	secondColon := strings.LastIndexByte(rest, ':')
	if secondColon < 0 {
		return Address{}, ErrInvalidAddress
	}
	host := rest[:secondColon]
	portStr := rest[secondColon+1:]

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return Address{}, fmt.Errorf("%w: bad port %q", ErrInvalidAddress, portStr)
	}
	family, err := strconv.Atoi(familyStr)
	if err != nil {
		return Address{}, fmt.Errorf("%w: bad family %q", ErrInvalidAddress, familyStr)
	}
	if host == "" {
		return Address{}, fmt.Errorf("%w: empty host", ErrInvalidAddress)
	}
	return Address{Host: host, Port: port, Family: family}, nil
}

// String formats the address back into host:port:family form. ParseAddress
// and String round-trip for every well-formed address.
func (a Address) String() string {
	return fmt.Sprintf("%s:%d:%d", a.Host, a.Port, a.Family)
}

// ListenAddress builds an Address suitable for binding on the given family
// and port with no specific host, the equivalent of the original's
// addr-less dnet_create_addr path used when a node binds to INADDR_ANY.
func ListenAddress(family, port int) Address {
	host := "0.0.0.0"
	if family == FamilyInet6 {
		host = "::"
	}
	return Address{Host: host, Port: port, Family: family}
}

// Numeric AF_* constants mirrored here so callers don't need to import
// syscall just to build an Address.
const (
	FamilyInet  = 2  // AF_INET
	FamilyInet6 = 10 // AF_INET6 (Linux numbering)
)

// Resolve restricts DNS/host resolution to the address's family and
// SOCK_STREAM/IPPROTO_TCP, mirroring dnet_fill_addr, and returns a
// net.TCPAddr usable for dialing or listening.
func (a Address) Resolve() (*net.TCPAddr, error) {
	network := "tcp4"
	if a.Family == FamilyInet6 {
		network = "tcp6"
	}
	resolved, err := net.ResolveTCPAddr(network, net.JoinHostPort(a.Host, strconv.Itoa(a.Port)))
	if err != nil {
		return nil, fmt.Errorf("wire: resolve %s: %w", a, err)
	}
	return resolved, nil
}
