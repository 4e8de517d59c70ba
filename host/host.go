// Package host implements the connection's remote host descriptor: an
// address family plus address bytes, and the TCP dial variant selection
// spec.md §6 assigns to it. net.IP's own family classification is the
// right tool here; there is no corpus library dedicated to address-family
// bookkeeping, so this package is a thin, deliberately stdlib-only layer.
package host

import (
	"fmt"
	"net"
)

// Family is the address family of a Descriptor.
type Family int

const (
	FamilyUnknown Family = iota
	FamilyV4
	FamilyV6
)

func (f Family) String() string {
	switch f {
	case FamilyV4:
		return "ipv4"
	case FamilyV6:
		return "ipv6"
	default:
		return "unknown"
	}
}

// Descriptor names one host the driver can connect to.
type Descriptor struct {
	Family Family
	Addr   net.IP
	Port   int
}

// Parse builds a Descriptor from a dotted/colon address string and port,
// classifying the family from the parsed net.IP the same way the standard
// library itself distinguishes v4-in-v6 representations.
func Parse(addr string, port int) (Descriptor, error) {
	ip := net.ParseIP(addr)
	if ip == nil {
		return Descriptor{}, fmt.Errorf("host: invalid address %q", addr)
	}
	fam := FamilyV6
	if ip4 := ip.To4(); ip4 != nil {
		fam = FamilyV4
		ip = ip4
	}
	return Descriptor{Family: fam, Addr: ip, Port: port}, nil
}

// String renders the descriptor as a dial-ready host:port string.
func (d Descriptor) String() string {
	return net.JoinHostPort(d.Addr.String(), fmt.Sprintf("%d", d.Port))
}

// Network returns the "tcp4"/"tcp6" dial variant appropriate to the
// descriptor's family, picked explicitly rather than the family-agnostic
// "tcp" so a misclassified literal fails fast instead of silently
// resolving through the wrong stack. conn.Connection.Start calls this
// directly when it dials Host on its reactor.Loop.
func (d Descriptor) Network() string {
	if d.Family == FamilyV6 {
		return "tcp6"
	}
	return "tcp4"
}
