// Package conn implements the per-connection protocol engine (spec.md
// C3): a state machine driving TCP/TLS setup, the OPTIONS/STARTUP/READY
// handshake, multiplexed stream accounting, framing, and response
// dispatch to caller-supplied futures.
//
// A *Connection is exclusively owned by the reactor.Loop goroutine that
// calls Start/attach and every socket/TLS callback it registers — no
// method here is safe to call from another goroutine except through the
// owning queue.Queue, which already confines Execute calls to that same
// loop thread via its Callback contract.
package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/kostja/native-driver-core/compress"
	"github.com/kostja/native-driver-core/coreerr"
	"github.com/kostja/native-driver-core/frame"
	"github.com/kostja/native-driver-core/host"
	"github.com/kostja/native-driver-core/internal/corelog"
	"github.com/kostja/native-driver-core/metrics"
	"github.com/kostja/native-driver-core/reactor"
	"github.com/kostja/native-driver-core/streamtable"
	"github.com/kostja/native-driver-core/tlsutil"
)

// reqVersion is the CQL native protocol v3 request-frame version byte.
const reqVersion byte = 0x03

// controlStreamID is the fixed stream id used for the OPTIONS/STARTUP
// frames sent during the handshake. Safe because no user Execute can run
// before the connection reaches Ready, so nothing else contends for
// stream ids during Handshake/Supported.
const controlStreamID int8 = 0

// Options configures a Connection at construction.
type Options struct {
	Host host.Descriptor
	// TLS, if non-nil, enables TLS: the connection drives a
	// tlsutil.Duplex built from this config before sending OPTIONS.
	TLS *tls.Config
	// CQLVersion is sent as STARTUP's CQL_VERSION option.
	CQLVersion string
	// Compression is proposed in STARTUP's COMPRESSION option; once the
	// handshake completes, Execute compresses/decompresses frame bodies
	// with the matching compress.Codec.
	Compression compress.Name
	// MaxInFlight bounds concurrent streams; 0 uses streamtable.MaxStreams.
	MaxInFlight int
	Observer    Observer
	Log         *corelog.Logger
	Metrics     *metrics.Set
}

// Connection drives one TCP (optionally TLS) connection through the
// handshake to Ready and dispatches inbound frames, per spec.md §4.3.
type Connection struct {
	opts Options

	loop   reactor.Loop
	socket reactor.Conn

	state           State
	streams         *streamtable.Table
	decoder         *frame.Decoder
	duplex          *tlsutil.Duplex
	handshakeNoted  bool
	codec           compress.Codec
	supported       map[string][]string

	observer Observer
	log      *corelog.Logger
	met      *metrics.Set

	remote string

	pendingOut []byte // encoded bytes buffered for the next FlushWrites

	// tlsAsync bridges duplex ciphertext produced on the duplex's own
	// background goroutine (the TLS record layer can emit handshake
	// flights independent of any onRead/Execute call on the loop thread)
	// back onto the loop thread, the same goroutine-bridges-into-channel
	// shape reactor.GoLoop's goConn uses for blocking net.Conn I/O.
	tlsAsync  reactor.Async
	tlsMu     sync.Mutex
	tlsOutbox [][]byte
}

// New builds a Connection bound to loop. Call Start to begin dialing, or
// attach (via a test harness) to drive it from an already-established
// socket.
func New(loop reactor.Loop, opts Options) *Connection {
	if opts.MaxInFlight <= 0 {
		opts.MaxInFlight = streamtable.MaxStreams
	}
	obs := opts.Observer
	if obs == nil {
		obs = NopObserver{}
	}
	log := opts.Log
	if log == nil {
		log = corelog.Nop()
	}
	c := &Connection{
		opts:     opts,
		loop:     loop,
		state:    StateNew,
		streams:  streamtable.New(opts.MaxInFlight),
		decoder:  frame.NewDecoder(0),
		observer: obs,
		log:      log,
		met:      opts.Metrics,
	}
	if opts.TLS != nil {
		c.duplex = tlsutil.NewDuplex(opts.TLS)
		c.tlsAsync = loop.NewAsync(c.onTLSCiphertextReady)
		go c.pumpTLSGoroutine()
	}
	if opts.Compression != compress.None {
		codec, err := compress.ByName(opts.Compression)
		if err != nil {
			panic(fmt.Sprintf("conn: %v", err))
		}
		c.codec = codec
	}
	return c
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() State { return c.state }

// RemoteAddr returns the dialed peer's address, empty until attach.
func (c *Connection) RemoteAddr() string { return c.remote }

// Start begins the New->Connected transition: dials Options.Host on loop
// and, on success, attaches the resulting socket and drives the
// handshake forward.
func (c *Connection) Start(ctx context.Context) {
	c.loop.Connect(ctx, c.opts.Host.Network(), c.opts.Host.String(), c.onDialComplete)
}

func (c *Connection) onDialComplete(socket reactor.Conn, err error) {
	if err != nil {
		c.observer.OnConnected(c, coreerr.New(coreerr.KindIO, err))
		c.setState(StateDisconnected)
		return
	}
	c.attach(socket)
}

// attach binds an already-established socket and fires the
// tcp_connected event, starting the read pump and kicking off the
// handshake (spec.md §4.3's New/tcp_connected/Connected row).
func (c *Connection) attach(socket reactor.Conn) {
	c.socket = socket
	c.remote = socket.RemoteAddr()
	c.setState(StateConnected)
	socket.Read(c.onRead)
	c.advance()
}

// Close initiates a local graceful shutdown through the same path an I/O
// failure takes: in both cases every pending request fails with
// ConnectionClosed.
func (c *Connection) Close() {
	c.disconnect(coreerr.ErrConnectionClosed)
}

func (c *Connection) disconnect(cause error) {
	if c.state == StateDisconnecting || c.state == StateDisconnected {
		return
	}
	c.log.Warnf("connection %s entering Disconnecting: %v", c.remote, cause)
	c.setState(StateDisconnecting)
	c.failPending()
	if c.duplex != nil {
		c.duplex.Close()
		c.tlsAsync.Close()
	}
	if c.socket != nil {
		c.socket.Close(func(error) {
			c.setState(StateDisconnected)
		})
		return
	}
	c.setState(StateDisconnected)
}

// failPending resolves every still-live stream with ConnectionClosed
// (spec.md §4.3's pending-request-failure-on-close rule, property 6).
// Caller-supplied Future.Fail implementations are untrusted code running
// inside our teardown path; a panicking Fail must not prevent the rest
// of the table from draining, so each call is isolated and any panics
// are aggregated into one reported error rather than only surfacing the
// first.
func (c *Connection) failPending() {
	var errs *multierror.Error
	c.streams.EachLive(func(id int8, p streamtable.Pending) {
		fut, ok := p.(Future)
		if !ok || fut == nil {
			return
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					errs = multierror.Append(errs, fmt.Errorf("stream %d: future.Fail panicked: %v", id, r))
				}
			}()
			fut.Fail(coreerr.ErrConnectionClosed)
		}()
	})
	if errs != nil {
		c.log.Errorf("failPending: %v", errs)
	}
}

func (c *Connection) setState(s State) {
	if stateOrder[s] < stateOrder[c.state] {
		panic(fmt.Sprintf("conn: illegal state regression %s -> %s", c.state, s))
	}
	c.log.Debugf("connection %s: %s -> %s", c.remote, c.state, s)
	c.state = s
	if c.met != nil {
		c.met.SetConnectionState(c.remote, s.String(), allStateNames)
	}
}

// advance drives every state transition that requires the connection to
// take action rather than wait for input (spec.md §4.3's `advance`
// rows).
func (c *Connection) advance() {
	switch c.state {
	case StateConnected:
		if c.duplex == nil {
			c.setState(StateHandshake)
			c.advance()
			return
		}
		if c.duplex.HandshakeDone() {
			c.setState(StateHandshake)
			c.advance()
			return
		}
		// The Duplex already began producing its ClientHello at
		// construction; make sure it reaches the wire.
		c.pumpTLSOutbound()
		if err := c.FlushWrites(); err != nil {
			c.disconnect(coreerr.New(coreerr.KindIO, err))
		}
	case StateHandshake:
		c.sendControl(frame.OpOptions, nil)
		if err := c.FlushWrites(); err != nil {
			c.disconnect(coreerr.New(coreerr.KindIO, err))
		}
	case StateSupported:
		body := frame.EncodeStringMap(c.startupKeys(), c.startupOptions())
		c.sendControl(frame.OpStartup, body)
		if err := c.FlushWrites(); err != nil {
			c.disconnect(coreerr.New(coreerr.KindIO, err))
		}
	}
}

func (c *Connection) startupOptions() map[string]string {
	m := map[string]string{"CQL_VERSION": c.opts.CQLVersion}
	if c.opts.Compression != compress.None {
		m["COMPRESSION"] = string(c.opts.Compression)
	}
	return m
}

func (c *Connection) startupKeys() []string {
	keys := []string{"CQL_VERSION"}
	if c.opts.Compression != compress.None {
		keys = append(keys, "COMPRESSION")
	}
	return keys
}

func (c *Connection) sendControl(opcode frame.Opcode, body []byte) {
	c.writeFrame(frame.Frame{
		Header: frame.Header{Version: reqVersion, StreamID: controlStreamID, Opcode: opcode},
		Body:   body,
	})
}

// Execute is the write path (spec.md §4.3): reserve a stream, encode the
// body under opcode, and buffer the resulting bytes for the next flush.
// Must only be called while Ready; the caller (queue.Callback) is itself
// only ever invoked on the owning loop thread.
func (c *Connection) Execute(opcode frame.Opcode, body []byte, fut Future) error {
	if c.state != StateReady {
		return coreerr.New(coreerr.KindIO, fmt.Errorf("execute called in state %s, want Ready", c.state))
	}
	id, err := c.streams.Reserve(fut)
	if err != nil {
		return err
	}

	outBody := body
	flags := byte(0)
	if c.codec != nil {
		compressed, cerr := c.codec.Compress(body)
		if cerr != nil {
			c.streams.Release(id)
			return coreerr.New(coreerr.KindEncode, cerr)
		}
		outBody = compressed
		flags |= frame.FlagCompression
	}

	c.writeFrame(frame.Frame{
		Header: frame.Header{Version: reqVersion, Flags: flags, StreamID: id, Opcode: opcode},
		Body:   outBody,
	})
	if c.met != nil {
		c.met.SetLiveStreams(c.remote, c.streams.Capacity()-c.streams.Available())
	}
	return nil
}

func (c *Connection) writeFrame(f frame.Frame) {
	c.writeRaw(frame.Encode(f))
}

// writeRaw pushes plaintext bytes toward the socket, through the TLS
// duplex first if one is configured. Bytes accumulate in pendingOut and
// only reach the socket on FlushWrites, coalescing every frame written
// within one flush cycle (or one handshake step) into a single write
// syscall, per spec.md §4.4 step 2.
func (c *Connection) writeRaw(b []byte) {
	if c.duplex == nil {
		c.pendingOut = append(c.pendingOut, b...)
		return
	}
	if _, err := c.duplex.WritePlaintext(b); err != nil {
		c.disconnect(coreerr.New(coreerr.KindTLS, err))
		return
	}
	c.pumpTLSOutbound()
}

// pumpTLSOutbound opportunistically drains whatever ciphertext is
// already buffered in the duplex, without blocking the loop thread. It
// is a fast path only: TLS record production can lag behind
// WritePlaintext/FeedCiphertext by one scheduling quantum, since the
// duplex's encrypt/handshake step runs on its own goroutine.
// pumpTLSGoroutine is what guarantees ciphertext produced after this
// call returns still reaches the socket.
func (c *Connection) pumpTLSOutbound() {
	for {
		chunk, ok := c.duplex.TakeCiphertext()
		if !ok {
			return
		}
		c.pendingOut = append(c.pendingOut, chunk...)
	}
}

// pumpTLSGoroutine is the single background goroutine per TLS connection
// that blocks on the duplex's ciphertext channel and bridges each chunk
// onto the loop thread via tlsAsync. It exits once the duplex's outbound
// pump terminates (Close or a fatal TLS error), which closes the
// channel NextCiphertext blocks on.
func (c *Connection) pumpTLSGoroutine() {
	for {
		chunk := c.duplex.NextCiphertext()
		if chunk == nil {
			return
		}
		c.tlsMu.Lock()
		c.tlsOutbox = append(c.tlsOutbox, chunk)
		c.tlsMu.Unlock()
		c.tlsAsync.Signal()
	}
}

// onTLSCiphertextReady runs on the loop thread, draining whatever
// pumpTLSGoroutine queued since the last delivery, noting handshake
// completion if it just happened, and flushing the result to the
// socket.
func (c *Connection) onTLSCiphertextReady() {
	c.tlsMu.Lock()
	chunks := c.tlsOutbox
	c.tlsOutbox = nil
	c.tlsMu.Unlock()
	for _, chunk := range chunks {
		c.pendingOut = append(c.pendingOut, chunk...)
	}

	if !c.handshakeNoted && c.duplex.HandshakeDone() {
		c.handshakeNoted = true
		if c.state == StateConnected {
			c.setState(StateHandshake)
			c.advance()
			return
		}
	}
	if err := c.FlushWrites(); err != nil {
		c.disconnect(coreerr.New(coreerr.KindIO, err))
	}
}

// FlushWrites implements queue.Connection: it is the single per-flush
// socket write spec.md §4.4 step 2 requires. Handshake steps call it
// directly since they run outside the queue's flush cycle.
func (c *Connection) FlushWrites() error {
	if len(c.pendingOut) == 0 {
		return nil
	}
	buf := c.pendingOut
	c.pendingOut = nil
	c.socket.Write(buf, func(err error) {
		if err != nil {
			c.disconnect(coreerr.New(coreerr.KindIO, err))
		}
	})
	return nil
}

// onRead is the read-path entry point (spec.md §4.3's read path): it
// feeds inbound bytes to the TLS duplex or straight to the frame
// decoder, dispatches every completed frame, then re-arms itself.
func (c *Connection) onRead(b []byte, err error) {
	if err != nil {
		c.disconnect(coreerr.New(coreerr.KindIO, err))
		return
	}

	if c.duplex == nil {
		c.feedDecoder(b)
	} else {
		if ferr := c.duplex.FeedCiphertext(b); ferr != nil {
			c.disconnect(coreerr.New(coreerr.KindTLS, ferr))
			return
		}
		if !c.handshakeNoted && c.duplex.HandshakeDone() {
			c.handshakeNoted = true
			c.setState(StateHandshake)
			c.advance()
		}
		for {
			plain, ok := c.duplex.TakePlaintext()
			if !ok {
				break
			}
			c.feedDecoder(plain)
		}
		c.pumpTLSOutbound()
		if err := c.FlushWrites(); err != nil {
			c.disconnect(coreerr.New(coreerr.KindIO, err))
			return
		}
	}

	if c.state != StateDisconnecting && c.state != StateDisconnected {
		c.socket.Read(c.onRead)
	}
}

func (c *Connection) feedDecoder(b []byte) {
	for len(b) > 0 {
		n, err := c.decoder.Feed(b)
		if err != nil {
			c.disconnect(coreerr.New(coreerr.KindFrameParse, err))
			return
		}
		b = b[n:]
		if c.decoder.Ready() {
			f, _ := c.decoder.Take()
			c.onFrame(f)
			if c.state == StateDisconnecting || c.state == StateDisconnected {
				return
			}
		}
	}
}

func (c *Connection) onFrame(f frame.Frame) {
	if f.Header.IsEvent() {
		c.observer.OnEvent(c, f)
		return
	}
	switch c.state {
	case StateHandshake:
		c.handleHandshakeFrame(f)
	case StateSupported:
		c.handleSupportedFrame(f)
	case StateReady:
		c.handleReadyFrame(f)
	default:
		c.log.Warnf("frame %s received in unexpected state %s", f.Header.Opcode, c.state)
	}
}

func (c *Connection) handleHandshakeFrame(f frame.Frame) {
	if f.Header.Opcode != frame.OpSupported {
		c.disconnect(coreerr.New(coreerr.KindFrameParse, fmt.Errorf("unexpected opcode %s in Handshake", f.Header.Opcode)))
		return
	}
	supported, err := frame.DecodeStringMultimap(f.Body)
	if err != nil {
		c.disconnect(coreerr.New(coreerr.KindFrameParse, err))
		return
	}
	c.supported = supported
	c.setState(StateSupported)
	c.advance()
}

func (c *Connection) handleSupportedFrame(f frame.Frame) {
	switch f.Header.Opcode {
	case frame.OpReady:
		c.setState(StateReady)
		c.observer.OnConnected(c, nil)
	case frame.OpError:
		se, err := frame.DecodeServerError(f.Body)
		if err != nil {
			c.disconnect(coreerr.New(coreerr.KindFrameParse, err))
			return
		}
		c.observer.OnConnected(c, coreerr.Server(se.Code, se.Message))
		c.disconnect(coreerr.Server(se.Code, se.Message))
	default:
		c.disconnect(coreerr.New(coreerr.KindFrameParse, fmt.Errorf("unexpected opcode %s in Supported", f.Header.Opcode)))
	}
}

func (c *Connection) handleReadyFrame(f frame.Frame) {
	if f.Header.Opcode != frame.OpResult && f.Header.Opcode != frame.OpError {
		c.log.Warnf("unexpected opcode %s on stream %d in Ready", f.Header.Opcode, f.Header.StreamID)
		return
	}

	pending, err := c.streams.Release(f.Header.StreamID)
	if err != nil {
		c.log.Warnf("frame for unknown/released stream %d: %v", f.Header.StreamID, err)
		return
	}
	fut, _ := pending.(Future)
	defer func() {
		c.observer.OnRequestFinished(c)
		if c.met != nil {
			c.met.SetLiveStreams(c.remote, c.streams.Capacity()-c.streams.Available())
		}
	}()

	body := f.Body
	if c.codec != nil && f.Header.Flags&frame.FlagCompression != 0 {
		decompressed, derr := c.codec.Decompress(body)
		if derr != nil {
			if fut != nil {
				fut.Fail(coreerr.New(coreerr.KindFrameParse, derr))
			}
			return
		}
		body = decompressed
	}

	switch f.Header.Opcode {
	case frame.OpResult:
		res, rerr := frame.DecodeResult(body)
		if rerr != nil {
			if fut != nil {
				fut.Fail(coreerr.New(coreerr.KindFrameParse, rerr))
			}
			return
		}
		if fut != nil {
			fut.Resolve(res)
		}
		switch res.Kind {
		case frame.ResultSetKeyspace:
			c.observer.OnKeyspace(c, res.Keyspace)
		case frame.ResultPrepared:
			c.observer.OnPrepared(c, nil, "", res.QueryID)
		}
	case frame.OpError:
		se, serr := frame.DecodeServerError(body)
		if serr != nil {
			if fut != nil {
				fut.Fail(coreerr.New(coreerr.KindFrameParse, serr))
			}
			return
		}
		if fut != nil {
			fut.Fail(coreerr.Server(se.Code, se.Message))
		}
	}
}
