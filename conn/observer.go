package conn

import "github.com/kostja/native-driver-core/frame"

// Observer receives a connection's lifecycle and per-request
// notifications (spec.md §6's collaborator-facing callbacks). Embed
// NopObserver to implement only the methods a collaborator cares about.
type Observer interface {
	// OnConnected fires at most once: with a nil err on a READY response,
	// with a non-nil err on a handshake ERROR response or a failed dial.
	// A connection that fails in any other way before Ready (a socket
	// error, a malformed or unexpected handshake frame, a TLS failure, or
	// Close) goes to Disconnecting without calling it.
	OnConnected(c *Connection, err error)
	// OnRequestFinished fires once per RESULT or ERROR frame dispatched
	// in Ready, after the corresponding Future has been resolved/failed.
	OnRequestFinished(c *Connection)
	// OnKeyspace fires when a RESULT frame's kind is SetKeyspace.
	OnKeyspace(c *Connection, name string)
	// OnPrepared fires when a RESULT frame's kind is Prepared.
	OnPrepared(c *Connection, err error, queryText string, preparedID []byte)
	// OnEvent routes a frame whose stream id is negative — a
	// server-initiated event. spec.md §9's first open question leaves
	// interpretation to the collaborator; the core only provides the
	// hook and never asserts on a negative stream id.
	OnEvent(c *Connection, f frame.Frame)
}

// NopObserver implements Observer with no-ops.
type NopObserver struct{}

func (NopObserver) OnConnected(*Connection, error)                {}
func (NopObserver) OnRequestFinished(*Connection)                 {}
func (NopObserver) OnKeyspace(*Connection, string)                {}
func (NopObserver) OnPrepared(*Connection, error, string, []byte) {}
func (NopObserver) OnEvent(*Connection, frame.Frame)              {}
