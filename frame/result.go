package frame

import "encoding/binary"

// ServerError is the decoded body of an ERROR frame: a 4-byte error code
// followed by a [string] human-readable message.
type ServerError struct {
	Code    int32
	Message string
}

// DecodeServerError parses an ERROR frame body.
func DecodeServerError(body []byte) (ServerError, error) {
	if len(body) < 4 {
		return ServerError{}, parseErr("error body: truncated code")
	}
	code := int32(binary.BigEndian.Uint32(body))
	msg, _, err := decodeShortString(body[4:])
	if err != nil {
		return ServerError{}, err
	}
	return ServerError{Code: code, Message: msg}, nil
}

// Result is the minimally decoded body of a RESULT frame: enough for the
// connection state machine to route SetKeyspace and Prepared results to
// their observers without a full row-decoding layer (out of scope per
// spec.md's Non-goals).
type Result struct {
	Kind     ResultKind
	Keyspace string // populated when Kind == ResultSetKeyspace
	QueryID  []byte // populated when Kind == ResultPrepared
}

// DecodeResult parses the kind discriminant and, for the two kinds the
// state machine must route to observers, the payload that follows it.
func DecodeResult(body []byte) (Result, error) {
	if len(body) < 4 {
		return Result{}, parseErr("result body: truncated kind")
	}
	kind := ResultKind(binary.BigEndian.Uint32(body))
	rest := body[4:]
	switch kind {
	case ResultSetKeyspace:
		ks, _, err := decodeShortString(rest)
		if err != nil {
			return Result{}, err
		}
		return Result{Kind: kind, Keyspace: ks}, nil
	case ResultPrepared:
		if len(rest) < 2 {
			return Result{}, parseErr("result body: truncated prepared id length")
		}
		n := int(binary.BigEndian.Uint16(rest))
		if len(rest) < 2+n {
			return Result{}, parseErr("result body: truncated prepared id")
		}
		return Result{Kind: kind, QueryID: append([]byte(nil), rest[2:2+n]...)}, nil
	default:
		return Result{Kind: kind}, nil
	}
}
