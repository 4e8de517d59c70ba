package frame

import "encoding/binary"

// EncodeStringMap serializes a CQL [string map]: a 2-byte big-endian count
// followed by repeated {2-byte length, bytes, 2-byte length, bytes} key/value
// pairs. Iteration order is the order of keys as supplied by the caller
// (STARTUP always sends CQL_VERSION first by convention; callers are
// responsible for ordering keys if that matters to the server).
func EncodeStringMap(keys []string, m map[string]string) []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(len(keys)))
	for _, k := range keys {
		v := m[k]
		kb := make([]byte, 2+len(k))
		binary.BigEndian.PutUint16(kb, uint16(len(k)))
		copy(kb[2:], k)
		buf = append(buf, kb...)

		vb := make([]byte, 2+len(v))
		binary.BigEndian.PutUint16(vb, uint16(len(v)))
		copy(vb[2:], v)
		buf = append(buf, vb...)
	}
	return buf
}

// DecodeStringMap parses a [string map] body, returning the map and the
// number of bytes consumed.
func DecodeStringMap(b []byte) (map[string]string, int, error) {
	if len(b) < 2 {
		return nil, 0, parseErr("string map: truncated count")
	}
	count := binary.BigEndian.Uint16(b)
	off := 2
	m := make(map[string]string, count)
	for i := uint16(0); i < count; i++ {
		k, n, err := decodeShortString(b[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		v, n, err := decodeShortString(b[off:])
		if err != nil {
			return nil, 0, err
		}
		off += n
		m[k] = v
	}
	return m, off, nil
}

// DecodeStringMultimap parses a CQL [string multimap], used for SUPPORTED
// bodies: a [string map] where each value is a [string list].
func DecodeStringMultimap(b []byte) (map[string][]string, error) {
	if len(b) < 2 {
		return nil, parseErr("string multimap: truncated count")
	}
	count := binary.BigEndian.Uint16(b)
	off := 2
	m := make(map[string][]string, count)
	for i := uint16(0); i < count; i++ {
		k, n, err := decodeShortString(b[off:])
		if err != nil {
			return nil, err
		}
		off += n

		if len(b[off:]) < 2 {
			return nil, parseErr("string multimap: truncated list count")
		}
		listCount := binary.BigEndian.Uint16(b[off:])
		off += 2
		list := make([]string, 0, listCount)
		for j := uint16(0); j < listCount; j++ {
			v, n, err := decodeShortString(b[off:])
			if err != nil {
				return nil, err
			}
			off += n
			list = append(list, v)
		}
		m[k] = list
	}
	return m, nil
}

func decodeShortString(b []byte) (string, int, error) {
	if len(b) < 2 {
		return "", 0, parseErr("short string: truncated length")
	}
	n := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+n {
		return "", 0, parseErr("short string: truncated body")
	}
	return string(b[2 : 2+n]), 2 + n, nil
}
