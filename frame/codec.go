package frame

// parseState tracks which part of a frame the decoder is currently
// accumulating bytes for.
type parseState int

const (
	stateHeader parseState = iota
	stateBody
)

// Decoder incrementally parses a byte stream into complete Frames. It is
// safe to feed bytes of any size, including one byte at a time, and a
// header or body may span arbitrarily many Feed calls; the only
// requirement is that bytes arrive in stream order.
//
// Decoder is not safe for concurrent use; it is owned by a single
// connection's read path.
type Decoder struct {
	maxBodyLength uint32

	state  parseState
	hdrBuf [HeaderSize]byte
	hdrLen int

	hdr     Header
	body    []byte
	bodyLen int

	ready Frame
	have  bool
}

// NewDecoder returns a Decoder that rejects any frame whose declared body
// length exceeds maxBodyLength. A maxBodyLength of 0 uses
// DefaultMaxBodyLength.
func NewDecoder(maxBodyLength uint32) *Decoder {
	if maxBodyLength == 0 {
		maxBodyLength = DefaultMaxBodyLength
	}
	return &Decoder{maxBodyLength: maxBodyLength}
}

// Feed consumes as much of b as completes the frame currently in progress,
// buffering a partial header or body across calls. It returns the number
// of bytes consumed from b (which may be less than len(b) if a frame
// becomes ready mid-buffer — callers must call Take, then Feed the
// remainder) and an error if the stream is malformed.
//
// Feed never consumes bytes belonging to a frame after one has become
// ready: callers must drain with Take before feeding more, mirroring the
// "caller retrieves the frame, resets the parser, and continues" contract.
func (d *Decoder) Feed(b []byte) (int, error) {
	if d.have {
		return 0, nil
	}
	consumed := 0
	for consumed < len(b) && !d.have {
		switch d.state {
		case stateHeader:
			n := copy(d.hdrBuf[d.hdrLen:], b[consumed:])
			d.hdrLen += n
			consumed += n
			if d.hdrLen == HeaderSize {
				d.hdr = parseHeader(d.hdrBuf[:])
				if d.hdr.Length > d.maxBodyLength {
					return consumed, parseErr("frame body length exceeds configured maximum")
				}
				d.bodyLen = 0
				if d.hdr.Length == 0 {
					d.body = nil
					d.finish()
				} else {
					d.body = make([]byte, d.hdr.Length)
					d.state = stateBody
				}
			}
		case stateBody:
			n := copy(d.body[d.bodyLen:], b[consumed:])
			d.bodyLen += n
			consumed += n
			if d.bodyLen == len(d.body) {
				d.finish()
			}
		}
	}
	return consumed, nil
}

func (d *Decoder) finish() {
	d.ready = Frame{Header: d.hdr, Body: d.body}
	d.have = true
}

// Ready reports whether a complete frame is available via Take.
func (d *Decoder) Ready() bool { return d.have }

// Take returns the completed frame and resets the decoder to parse the
// next header. It returns ok=false if no frame is ready.
func (d *Decoder) Take() (Frame, bool) {
	if !d.have {
		return Frame{}, false
	}
	f := d.ready
	d.have = false
	d.hdrLen = 0
	d.bodyLen = 0
	d.body = nil
	d.state = stateHeader
	return f, true
}
