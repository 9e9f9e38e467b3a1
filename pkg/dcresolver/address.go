package dcresolver

import "net/netip"

// Address is a roster entry's dial target: either a literal ip:port pair or
// an opaque custom string (a hostname, a ws:// URL) whose resolution is
// deferred to the transport that dials it.
type Address struct {
	sock   netip.AddrPort
	custom string
	isSock bool
}

// ParseAddress classifies s: well-formed IPv4/IPv6 literals with a port
// become socket addresses, anything else is carried as-is.
func ParseAddress(s string) Address {
	if ap, err := netip.ParseAddrPort(s); err == nil {
		return Address{sock: ap, isSock: true}
	}
	return Address{custom: s}
}

// IsSocketAddr reports whether the address is a literal ip:port pair.
func (a Address) IsSocketAddr() bool { return a.isSock }

// AddrPort returns the parsed ip:port pair; only meaningful when
// IsSocketAddr is true.
func (a Address) AddrPort() netip.AddrPort { return a.sock }

// String returns the dialable form of the address.
func (a Address) String() string {
	if a.isSock {
		return a.sock.String()
	}
	return a.custom
}
