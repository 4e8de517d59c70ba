// Package curves selects TLS elliptic curve preferences by name, mirroring
// nabbar-golib/certificates/curves's string<->constant split.
package curves

import "crypto/tls"

// Curve names a key-exchange curve offered during the TLS handshake.
type Curve tls.CurveID

const (
	X25519 Curve = Curve(tls.X25519)
	P256   Curve = Curve(tls.CurveP256)
	P384   Curve = Curve(tls.CurveP384)
	P521   Curve = Curve(tls.CurveP521)
)

var byName = map[string]Curve{
	"x25519": X25519,
	"p256":   P256,
	"p384":   P384,
	"p521":   P521,
}

// Default is the curve preference list used when the driver config does
// not override it: X25519 first since it is the fastest constant-time
// implementation, then the NIST curves in ascending strength.
func Default() []Curve {
	return []Curve{X25519, P256, P384, P521}
}

func Parse(name string) (Curve, bool) {
	c, ok := byName[name]
	return c, ok
}

func ToTLS(curves []Curve) []tls.CurveID {
	out := make([]tls.CurveID, len(curves))
	for i, c := range curves {
		out[i] = tls.CurveID(c)
	}
	return out
}
