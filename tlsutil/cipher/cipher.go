// Package cipher selects TLS cipher suites by name, the same string<->suite
// split nabbar-golib/certificates/cipher uses, trimmed to the modern,
// forward-secret suites crypto/tls ships.
package cipher

import "crypto/tls"

// Suite names a single cipher suite the driver will offer to the server.
type Suite uint16

const (
	ECDHE_RSA_AES128_GCM_SHA256       Suite = Suite(tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256)
	ECDHE_RSA_AES256_GCM_SHA384       Suite = Suite(tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384)
	ECDHE_ECDSA_AES128_GCM_SHA256     Suite = Suite(tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256)
	ECDHE_ECDSA_AES256_GCM_SHA384     Suite = Suite(tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384)
	ECDHE_RSA_CHACHA20_POLY1305       Suite = Suite(tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305)
	ECDHE_ECDSA_CHACHA20_POLY1305     Suite = Suite(tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305)
)

var byName = map[string]Suite{
	"ecdhe-rsa-aes128-gcm-sha256":   ECDHE_RSA_AES128_GCM_SHA256,
	"ecdhe-rsa-aes256-gcm-sha384":   ECDHE_RSA_AES256_GCM_SHA384,
	"ecdhe-ecdsa-aes128-gcm-sha256": ECDHE_ECDSA_AES128_GCM_SHA256,
	"ecdhe-ecdsa-aes256-gcm-sha384": ECDHE_ECDSA_AES256_GCM_SHA384,
	"ecdhe-rsa-chacha20-poly1305":   ECDHE_RSA_CHACHA20_POLY1305,
	"ecdhe-ecdsa-chacha20-poly1305": ECDHE_ECDSA_CHACHA20_POLY1305,
}

// Default is the suite list crypto/tls is handed when the driver config
// does not name any explicitly.
func Default() []Suite {
	return []Suite{
		ECDHE_ECDSA_AES128_GCM_SHA256,
		ECDHE_RSA_AES128_GCM_SHA256,
		ECDHE_ECDSA_AES256_GCM_SHA384,
		ECDHE_RSA_AES256_GCM_SHA384,
		ECDHE_ECDSA_CHACHA20_POLY1305,
		ECDHE_RSA_CHACHA20_POLY1305,
	}
}

// Parse resolves a config-file suite name, returning ok=false for an
// unrecognized name so the caller can reject the config instead of
// silently dropping a suite the operator asked for.
func Parse(name string) (Suite, bool) {
	s, ok := byName[name]
	return s, ok
}

func ToUint16(suites []Suite) []uint16 {
	out := make([]uint16, len(suites))
	for i, s := range suites {
		out[i] = uint16(s)
	}
	return out
}
