// Package tlsutil builds the *tls.Config the connection state machine uses
// and adapts crypto/tls to the owned-byte-range duplex transform contract
// spec.md §4.3 and §9 require: the engine returns byte slices the caller
// owns and releases after consumption, rather than raw pointers with
// ambiguous lifetime (spec.md §9's open question about the original
// source's buffer-ownership ambiguity).
//
// crypto/tls itself is the "TLS engine" the core treats as an external
// collaborator (spec.md §1 excludes cipher engine internals from the
// core); this package only builds configuration and bridges the
// byte-oriented contract the state machine expects.
package tlsutil

import (
	"net"

	"crypto/tls"

	"github.com/kostja/native-driver-core/tlsutil/cipher"
	"github.com/kostja/native-driver-core/tlsutil/curves"
	"github.com/kostja/native-driver-core/tlsutil/tlsversion"
)

// Options configures the *tls.Config built by NewConfig.
type Options struct {
	MinVersion         tlsversion.Version
	MaxVersion         tlsversion.Version
	CipherSuites       []cipher.Suite // empty uses cipher.Default()
	CurvePreferences   []curves.Curve // empty uses curves.Default()
	ServerName         string
	InsecureSkipVerify bool
	RootCAs            *tls.Config // if set, its RootCAs pool is reused verbatim
}

// NewConfig builds a *tls.Config from Options, filling every unset
// preference list with the driver's defaults rather than crypto/tls's
// broader (and partly legacy) defaults.
func NewConfig(opt Options) *tls.Config {
	cfg := &tls.Config{
		ServerName:         opt.ServerName,
		InsecureSkipVerify: opt.InsecureSkipVerify,
	}
	if opt.RootCAs != nil {
		cfg.RootCAs = opt.RootCAs.RootCAs
	}

	minV := opt.MinVersion
	if minV == tlsversion.Unknown {
		minV = tlsversion.TLS12
	}
	maxV := opt.MaxVersion
	if maxV == tlsversion.Unknown {
		maxV = tlsversion.TLS13
	}
	cfg.MinVersion = minV.Uint16()
	cfg.MaxVersion = maxV.Uint16()

	suites := opt.CipherSuites
	if len(suites) == 0 {
		suites = cipher.Default()
	}
	cfg.CipherSuites = cipher.ToUint16(suites)

	curvesList := opt.CurvePreferences
	if len(curvesList) == 0 {
		curvesList = curves.Default()
	}
	cfg.CurvePreferences = curves.ToTLS(curvesList)

	return cfg
}

// Duplex adapts crypto/tls to the plaintext<->ciphertext streaming
// transform spec.md §4.3 requires of the TLS engine. crypto/tls only
// speaks to a net.Conn, so Duplex wraps the *tls.Conn around one end of an
// in-process net.Pipe: the connection state machine feeds inbound
// ciphertext into the pipe's wire side (FeedCiphertext) and drains
// outbound ciphertext from it (TakeCiphertext), while plaintext flows
// through WritePlaintext/TakePlaintext on the application side. Every
// Take* call returns a freshly allocated slice the caller owns outright,
// resolving the buffer-lifetime ambiguity spec.md §9 flags in the
// original source.
type Duplex struct {
	wire net.Conn // ciphertext side: Write = inbound from socket, Read = outbound to socket
	tls  *tls.Conn

	plaintextIn chan []byte
	cipherOut   chan []byte
	handshakeOk chan struct{}
	errOnce     chan error
}

// NewDuplex starts a client-side TLS handshake over an in-process pipe.
// The server certificate is verified against cfg.ServerName unless
// cfg.InsecureSkipVerify is set.
func NewDuplex(cfg *tls.Config) *Duplex {
	app, wire := net.Pipe()
	return newDuplex(wire, tls.Client(app, cfg))
}

// NewServerDuplex is the server-side counterpart, used by test harnesses
// that terminate TLS on both ends of a loopback connection.
func NewServerDuplex(cfg *tls.Config) *Duplex {
	app, wire := net.Pipe()
	return newDuplex(wire, tls.Server(app, cfg))
}

func newDuplex(wire net.Conn, t *tls.Conn) *Duplex {
	d := &Duplex{
		wire:        wire,
		tls:         t,
		plaintextIn: make(chan []byte, 64),
		cipherOut:   make(chan []byte, 64),
		handshakeOk: make(chan struct{}),
		errOnce:     make(chan error, 1),
	}
	go d.pumpCiphertextOut()
	go d.pumpHandshakeAndReads()
	return d
}

func (d *Duplex) pumpCiphertextOut() {
	defer close(d.cipherOut)
	buf := make([]byte, 16*1024)
	for {
		n, err := d.wire.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			d.cipherOut <- chunk
		}
		if err != nil {
			d.reportErr(err)
			return
		}
	}
}

func (d *Duplex) pumpHandshakeAndReads() {
	if err := d.tls.Handshake(); err != nil {
		d.reportErr(err)
		return
	}
	close(d.handshakeOk)

	defer close(d.plaintextIn)
	buf := make([]byte, 16*1024)
	for {
		n, err := d.tls.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			d.plaintextIn <- chunk
		}
		if err != nil {
			d.reportErr(err)
			return
		}
	}
}

func (d *Duplex) reportErr(err error) {
	select {
	case d.errOnce <- err:
	default:
	}
}

// HandshakeDone reports whether the TLS handshake has completed, per
// spec.md §4.3's Connected->Handshake transition trigger.
func (d *Duplex) HandshakeDone() bool {
	select {
	case <-d.handshakeOk:
		return true
	default:
		return false
	}
}

// Err returns the first fatal error the duplex encountered, if any.
func (d *Duplex) Err() error {
	select {
	case err := <-d.errOnce:
		d.errOnce <- err // put it back so repeated calls see the same error
		return err
	default:
		return nil
	}
}

// FeedCiphertext delivers inbound bytes read from the socket to the TLS
// record layer. It may advance the handshake or unblock buffered
// plaintext reads; it does not itself return plaintext — call
// TakePlaintext afterward.
func (d *Duplex) FeedCiphertext(b []byte) error {
	_, err := d.wire.Write(b)
	return err
}

// TakePlaintext returns the next chunk of decrypted application data, if
// any is ready, without blocking.
func (d *Duplex) TakePlaintext() ([]byte, bool) {
	select {
	case p, ok := <-d.plaintextIn:
		return p, ok
	default:
		return nil, false
	}
}

// WritePlaintext encrypts b for transmission. The resulting ciphertext is
// retrieved via TakeCiphertext. A background reader always drains the
// pipe's wire side, so this does not block on network conditions — only
// on the local encrypt step.
func (d *Duplex) WritePlaintext(b []byte) (int, error) {
	return d.tls.Write(b)
}

// TakeCiphertext returns the next chunk of bytes to write to the socket,
// if any is ready, without blocking.
func (d *Duplex) TakeCiphertext() ([]byte, bool) {
	select {
	case c, ok := <-d.cipherOut:
		return c, ok
	default:
		return nil, false
	}
}

// NextCiphertext blocks until a ciphertext chunk is ready, returning nil
// once the duplex's outbound pump has terminated (wire closed or a fatal
// error). It exists so a caller can bridge ciphertext production into a
// callback-driven event loop with one dedicated pump goroutine, the same
// shape reactor.GoLoop's goConn uses to bridge blocking net.Conn I/O.
func (d *Duplex) NextCiphertext() []byte {
	c, ok := <-d.cipherOut
	if !ok {
		return nil
	}
	return c
}

// Close tears down the handshake pipe. It does not close the underlying
// socket — that remains the connection state machine's responsibility.
func (d *Duplex) Close() error {
	return d.wire.Close()
}
