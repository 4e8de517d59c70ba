package tlsutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/kostja/native-driver-core/tlsutil/tlsversion"
	"github.com/stretchr/testify/require"
)

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig(Options{})
	require.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	require.Equal(t, uint16(tls.VersionTLS13), cfg.MaxVersion)
	require.NotEmpty(t, cfg.CipherSuites)
	require.NotEmpty(t, cfg.CurvePreferences)
}

func TestNewConfigHonorsOverrides(t *testing.T) {
	cfg := NewConfig(Options{MinVersion: tlsversion.TLS13, MaxVersion: tlsversion.TLS13, ServerName: "cassandra.local"})
	require.Equal(t, uint16(tls.VersionTLS13), cfg.MinVersion)
	require.Equal(t, "cassandra.local", cfg.ServerName)
}

func selfSignedCert(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// TestDuplexHandshakeAndDataFlow drives a client Duplex and a server Duplex
// against each other, ferrying ciphertext by hand exactly as the
// connection state machine would (socket read -> FeedCiphertext,
// TakeCiphertext -> socket write), proving the owned-byte-range contract
// carries a real handshake and a real application message end to end.
func TestDuplexHandshakeAndDataFlow(t *testing.T) {
	cert := selfSignedCert(t)
	pool := x509.NewCertPool()
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	require.NoError(t, err)
	pool.AddCert(leaf)

	serverCfg := &tls.Config{Certificates: []tls.Certificate{cert}}
	clientCfg := NewConfig(Options{ServerName: "localhost", RootCAs: &tls.Config{RootCAs: pool}})

	client := NewDuplex(clientCfg)
	server := NewServerDuplex(serverCfg)
	defer client.Close()
	defer server.Close()

	deadline := time.After(5 * time.Second)
	for !client.HandshakeDone() || !server.HandshakeDone() {
		pumped := false
		if c, ok := client.TakeCiphertext(); ok {
			require.NoError(t, server.FeedCiphertext(c))
			pumped = true
		}
		if c, ok := server.TakeCiphertext(); ok {
			require.NoError(t, client.FeedCiphertext(c))
			pumped = true
		}
		if !pumped {
			select {
			case <-deadline:
				t.Fatal("handshake did not complete in time")
			case <-time.After(time.Millisecond):
			}
		}
		require.NoError(t, client.Err())
		require.NoError(t, server.Err())
	}

	n, err := client.WritePlaintext([]byte("OPTIONS"))
	require.NoError(t, err)
	require.Equal(t, 7, n)

	var delivered []byte
	deadline = time.After(5 * time.Second)
	for len(delivered) == 0 {
		if c, ok := client.TakeCiphertext(); ok {
			require.NoError(t, server.FeedCiphertext(c))
		}
		if p, ok := server.TakePlaintext(); ok {
			delivered = p
			break
		}
		select {
		case <-deadline:
			t.Fatal("plaintext did not arrive in time")
		case <-time.After(time.Millisecond):
		}
	}
	require.Equal(t, "OPTIONS", string(delivered))
}
