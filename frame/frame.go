// Package frame implements the CQL native protocol v3 wire framing: header
// layout, opcode set, and an incremental decoder that tolerates arbitrary
// chunk boundaries, plus a string-map and result-body codec for the bodies
// the connection state machine needs to inspect.
//
// The incremental decoder's header/body state machine follows the same
// shape as SagerNet/smux's rawHeader parsing in recvLoop (read a fixed
// header, then read exactly Length() body bytes), generalized from a
// single io.ReadFull call into a Feed-driven state machine so the core
// never blocks a goroutine waiting on a partial frame.
package frame

import (
	"encoding/binary"

	"github.com/kostja/native-driver-core/coreerr"
)

// HeaderSize is the fixed 8-byte CQL v3 frame header: version, flags,
// stream id, opcode, 4-byte big-endian body length.
const HeaderSize = 8

// Opcode identifies the frame body's shape and meaning.
type Opcode byte

const (
	OpError     Opcode = 0x00
	OpStartup   Opcode = 0x01
	OpReady     Opcode = 0x02
	OpOptions   Opcode = 0x05
	OpSupported Opcode = 0x06
	OpQuery     Opcode = 0x07
	OpResult    Opcode = 0x08
)

func (o Opcode) String() string {
	switch o {
	case OpError:
		return "ERROR"
	case OpStartup:
		return "STARTUP"
	case OpReady:
		return "READY"
	case OpOptions:
		return "OPTIONS"
	case OpSupported:
		return "SUPPORTED"
	case OpQuery:
		return "QUERY"
	case OpResult:
		return "RESULT"
	default:
		return "UNKNOWN"
	}
}

// ResultKind is the 4-byte discriminant at the start of a RESULT body.
type ResultKind uint32

const (
	ResultVoid         ResultKind = 1
	ResultRows         ResultKind = 2
	ResultSetKeyspace  ResultKind = 3
	ResultPrepared     ResultKind = 4
	ResultSchemaChange ResultKind = 5
)

// Flags bits on a frame header. FlagCompression marks a body compressed
// with the connection's compress.Codec. This package never interprets it;
// conn sets it on request bodies it compresses and decompresses response
// bodies that carry it.
const (
	FlagCompression byte = 0x01
)

// Header is the fixed portion of a frame.
type Header struct {
	Version  byte
	Flags    byte
	StreamID int8
	Opcode   Opcode
	Length   uint32
}

// IsEvent reports whether the stream id is reserved for a server-initiated,
// request-less event rather than a response to an allocated stream.
func (h Header) IsEvent() bool { return h.StreamID < 0 }

// Frame is a complete protocol message.
type Frame struct {
	Header Header
	Body   []byte
}

// DefaultMaxBodyLength is the body_length bound a Decoder uses when
// NewDecoder is given 0; the bound rejects runaway allocations from a
// corrupt or malicious length field before any body bytes are read.
const DefaultMaxBodyLength = 256 * 1024 * 1024

// Encode serializes f into a freshly allocated byte slice. It does not
// allocate a stream id — callers (conn.Connection.Execute) reserve one via
// streamtable before calling Encode, except for the handshake's OPTIONS and
// STARTUP frames, which conn sends on the fixed stream id 0 without
// reserving it.
func Encode(f Frame) []byte {
	buf := make([]byte, HeaderSize+len(f.Body))
	buf[0] = f.Header.Version
	buf[1] = f.Header.Flags
	buf[2] = byte(f.Header.StreamID)
	buf[3] = byte(f.Header.Opcode)
	binary.BigEndian.PutUint32(buf[4:8], uint32(len(f.Body)))
	copy(buf[HeaderSize:], f.Body)
	return buf
}

func parseHeader(b []byte) Header {
	return Header{
		Version:  b[0],
		Flags:    b[1],
		StreamID: int8(b[2]),
		Opcode:   Opcode(b[3]),
		Length:   binary.BigEndian.Uint32(b[4:8]),
	}
}

// parseErr builds the FrameParse error kind used for every malformed-input
// condition the decoder can detect.
func parseErr(msg string) error {
	return &coreerr.Error{Kind: coreerr.KindFrameParse, Cause: errString(msg)}
}

type errString string

func (e errString) Error() string { return string(e) }
