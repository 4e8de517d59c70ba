// Package tlsversion maps between the driver's configuration strings and
// crypto/tls's protocol version constants, the same string<->constant split
// nabbar-golib/certificates/tlsversion uses for its own TLS config builder.
package tlsversion

import (
	"crypto/tls"
	"strings"
)

// Version is a supported TLS protocol version.
type Version int

const (
	Unknown Version = iota
	TLS10           = Version(tls.VersionTLS10)
	TLS11           = Version(tls.VersionTLS11)
	TLS12           = Version(tls.VersionTLS12)
	TLS13           = Version(tls.VersionTLS13)
)

// Parse accepts loosely formatted version strings ("1.2", "TLS1.2",
// "tls-1.2") as produced by a config file or flag.
func Parse(s string) Version {
	s = strings.ToLower(s)
	for _, cut := range []string{"\"", "'", "tls", "ssl", ".", "-", "_", " "} {
		s = strings.ReplaceAll(s, cut, "")
	}
	switch s {
	case "1", "10":
		return TLS10
	case "11":
		return TLS11
	case "12":
		return TLS12
	case "13":
		return TLS13
	default:
		return Unknown
	}
}

func (v Version) String() string {
	switch v {
	case TLS10:
		return "TLS 1.0"
	case TLS11:
		return "TLS 1.1"
	case TLS12:
		return "TLS 1.2"
	case TLS13:
		return "TLS 1.3"
	default:
		return "unknown"
	}
}

// Uint16 returns the crypto/tls constant for v, or 0 for Unknown.
func (v Version) Uint16() uint16 {
	if v == Unknown {
		return 0
	}
	return uint16(v)
}

func (v Version) MarshalText() ([]byte, error) { return []byte(v.String()), nil }

func (v *Version) UnmarshalText(b []byte) error {
	*v = Parse(string(b))
	return nil
}
