package conn

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/kostja/native-driver-core/frame"
	"github.com/kostja/native-driver-core/host"
	"github.com/kostja/native-driver-core/internal/corelog"
	"github.com/kostja/native-driver-core/queue"
	"github.com/kostja/native-driver-core/reactor"
	"github.com/stretchr/testify/require"
)

// fakeServer speaks just enough of the handshake plus one QUERY/RESULT
// round trip to drive a real Connection over a real loopback TCP socket,
// exercising conn, queue, and reactor.GoLoop together end to end.
func fakeServer(t *testing.T, ln net.Listener) {
	t.Helper()
	c, err := ln.Accept()
	if err != nil {
		return
	}
	defer c.Close()

	dec := frame.NewDecoder(0)
	readFrame := func() frame.Frame {
		buf := make([]byte, 4096)
		for {
			if dec.Ready() {
				f, _ := dec.Take()
				return f
			}
			n, err := c.Read(buf)
			if err != nil {
				return frame.Frame{}
			}
			if _, err := dec.Feed(buf[:n]); err != nil {
				return frame.Frame{}
			}
		}
	}

	opts := readFrame() // OPTIONS
	if opts.Header.Opcode != frame.OpOptions {
		return
	}
	supported := encodeStringMultimap(map[string][]string{"CQL_VERSION": {"3.0.0"}})
	c.Write(encodeFrame(frame.OpSupported, opts.Header.StreamID, supported))

	startup := readFrame() // STARTUP
	if startup.Header.Opcode != frame.OpStartup {
		return
	}
	c.Write(encodeFrame(frame.OpReady, startup.Header.StreamID, nil))

	query := readFrame() // QUERY
	if query.Header.Opcode != frame.OpQuery {
		return
	}
	c.Write(encodeFrame(frame.OpResult, query.Header.StreamID, voidResultBody()))
}

type chanFuture struct {
	done   chan struct{}
	result frame.Result
	err    error
}

func newChanFuture() *chanFuture { return &chanFuture{done: make(chan struct{})} }

func (f *chanFuture) Resolve(r frame.Result) { f.result = r; close(f.done) }
func (f *chanFuture) Fail(err error)         { f.err = err; close(f.done) }

type syncObserver struct {
	NopObserver
	connected chan error
}

func (o *syncObserver) OnConnected(c *Connection, err error) { o.connected <- err }

// TestConnQueueReactorEndToEnd wires conn.Connection behind a real
// reactor.GoLoop and submits its one request through queue.Queue rather
// than calling Execute directly, proving the C3/C4/C6 composition spec.md
// §2's data-flow diagram describes actually round-trips over a socket.
func TestConnQueueReactorEndToEnd(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go fakeServer(t, ln)

	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	desc, err := host.Parse("127.0.0.1", port)
	require.NoError(t, err)

	loop := reactor.NewGoLoop("loop-0", 64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)
	defer loop.Stop()

	obs := &syncObserver{connected: make(chan error, 1)}
	c := New(loop, Options{Host: desc, CQLVersion: "3.0.0", Observer: obs, Log: corelog.Nop()})
	c.Start(ctx)

	select {
	case err := <-obs.connected:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake never completed")
	}
	require.Equal(t, StateReady, c.State())

	q := queue.New(loop, 64, corelog.Nop(), nil)
	fut := newChanFuture()
	ok := q.Write(c, func() {
		require.NoError(t, c.Execute(frame.OpQuery, []byte("SELECT 1"), fut))
	})
	require.True(t, ok)

	select {
	case <-fut.done:
		require.NoError(t, fut.err)
		require.Equal(t, frame.ResultVoid, fut.result.Kind)
	case <-time.After(2 * time.Second):
		t.Fatal("query never resolved")
	}
}
