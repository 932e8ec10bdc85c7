package plutus

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// CBOR alternative tags for constructor nodes, per the chain serialization
// convention: indexes 0..6 map onto tags 121..127, 7..127 onto 1280..1400,
// and anything larger uses the general tag 102 with an [index, fields] pair.
const (
	tagConstrBase    = 121
	tagConstrExtBase = 1280
	tagConstrGeneral = 102

	maxCompactIndex  = 6
	maxExtendedIndex = 127

	// byteChunkLen is the maximum definite byte-string length; longer
	// strings are chunked inside an indefinite-length string.
	byteChunkLen = 64
)

const (
	majorUnsigned = 0
	majorNegative = 1
	majorBytes    = 2
	majorText     = 3
	majorArray    = 4
	majorMap      = 5
	majorTag      = 6
	majorSimple   = 7
)

// ParseError reports malformed wire bytes: CBOR the tree decoder cannot
// interpret at all, as opposed to a well-formed tree of the wrong shape.
type ParseError struct {
	Offset int
	Msg    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("plutus: malformed data at byte %d: %s", e.Offset, e.Msg)
}

// Encode serializes a tree to its canonical wire form. Encoding is
// deterministic: structurally equal trees produce byte-identical output.
func Encode(d Data) []byte {
	var buf bytes.Buffer
	encodeNode(&buf, d)
	return buf.Bytes()
}

func encodeNode(buf *bytes.Buffer, d Data) {
	switch v := d.(type) {
	case Integer:
		writeHead(buf, majorUnsigned, uint64(v))
	case Bytes:
		encodeBytes(buf, v)
	case Constr:
		encodeConstr(buf, v)
	default:
		// The Data union is closed; this is unreachable for values built
		// through this package.
		panic(fmt.Sprintf("plutus: unknown node type %T", d))
	}
}

func encodeConstr(buf *bytes.Buffer, c Constr) {
	switch {
	case c.Index <= maxCompactIndex:
		writeHead(buf, majorTag, tagConstrBase+c.Index)
		encodeFieldList(buf, c.Fields)
	case c.Index <= maxExtendedIndex:
		writeHead(buf, majorTag, tagConstrExtBase+(c.Index-maxCompactIndex-1))
		encodeFieldList(buf, c.Fields)
	default:
		writeHead(buf, majorTag, tagConstrGeneral)
		buf.WriteByte(0x82) // 2-element array: [index, fields]
		writeHead(buf, majorUnsigned, c.Index)
		encodeFieldList(buf, c.Fields)
	}
}

// encodeFieldList writes the definite empty array for zero fields and an
// indefinite-length array otherwise, matching the chain convention.
func encodeFieldList(buf *bytes.Buffer, fields []Data) {
	if len(fields) == 0 {
		buf.WriteByte(0x80)
		return
	}
	buf.WriteByte(0x9f)
	for _, f := range fields {
		encodeNode(buf, f)
	}
	buf.WriteByte(0xff)
}

func encodeBytes(buf *bytes.Buffer, b []byte) {
	if len(b) <= byteChunkLen {
		writeHead(buf, majorBytes, uint64(len(b)))
		buf.Write(b)
		return
	}
	buf.WriteByte(0x5f)
	for len(b) > 0 {
		n := byteChunkLen
		if len(b) < n {
			n = len(b)
		}
		writeHead(buf, majorBytes, uint64(n))
		buf.Write(b[:n])
		b = b[n:]
	}
	buf.WriteByte(0xff)
}

// writeHead emits a CBOR item head with the minimal-length argument
// encoding.
func writeHead(buf *bytes.Buffer, major byte, arg uint64) {
	mb := major << 5
	switch {
	case arg < 24:
		buf.WriteByte(mb | byte(arg))
	case arg <= 0xff:
		buf.WriteByte(mb | 24)
		buf.WriteByte(byte(arg))
	case arg <= 0xffff:
		buf.WriteByte(mb | 25)
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], uint16(arg))
		buf.Write(tmp[:])
	case arg <= 0xffffffff:
		buf.WriteByte(mb | 26)
		var tmp [4]byte
		binary.BigEndian.PutUint32(tmp[:], uint32(arg))
		buf.Write(tmp[:])
	default:
		buf.WriteByte(mb | 27)
		var tmp [8]byte
		binary.BigEndian.PutUint64(tmp[:], arg)
		buf.Write(tmp[:])
	}
}

// Decode parses exactly one tree from wire bytes, rejecting trailing input.
// It accepts both definite and indefinite array and byte-string framing, so
// any encoder following the chain convention round-trips.
func Decode(b []byte) (Data, error) {
	r := &reader{buf: b}
	d, err := r.readNode()
	if err != nil {
		return nil, err
	}
	if r.pos != len(b) {
		return nil, &ParseError{Offset: r.pos, Msg: "trailing bytes after data item"}
	}
	return d, nil
}

type reader struct {
	buf []byte
	pos int
}

func (r *reader) errf(format string, args ...any) error {
	return &ParseError{Offset: r.pos, Msg: fmt.Sprintf(format, args...)}
}

func (r *reader) readByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, r.errf("unexpected end of input")
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *reader) peek() (byte, bool) {
	if r.pos >= len(r.buf) {
		return 0, false
	}
	return r.buf[r.pos], true
}

// readHead consumes an item head, returning its major type, argument, and
// whether the item uses indefinite-length framing.
func (r *reader) readHead() (major byte, arg uint64, indefinite bool, err error) {
	ib, err := r.readByte()
	if err != nil {
		return 0, 0, false, err
	}
	major = ib >> 5
	info := ib & 0x1f
	switch {
	case info < 24:
		return major, uint64(info), false, nil
	case info == 24, info == 25, info == 26, info == 27:
		n := 1 << (info - 24)
		if r.pos+n > len(r.buf) {
			return 0, 0, false, r.errf("truncated %d-byte argument", n)
		}
		var v uint64
		for i := 0; i < n; i++ {
			v = v<<8 | uint64(r.buf[r.pos+i])
		}
		r.pos += n
		return major, v, false, nil
	case info == 31:
		return major, 0, true, nil
	default:
		return 0, 0, false, r.errf("reserved additional info %d", info)
	}
}

func (r *reader) readNode() (Data, error) {
	major, arg, indefinite, err := r.readHead()
	if err != nil {
		return nil, err
	}
	switch major {
	case majorUnsigned:
		return Integer(arg), nil
	case majorBytes:
		return r.readBytes(arg, indefinite)
	case majorTag:
		return r.readConstr(arg)
	case majorNegative:
		return nil, r.errf("negative integers are not representable")
	case majorText, majorMap, majorSimple:
		return nil, r.errf("unsupported major type %d", major)
	case majorArray:
		return nil, r.errf("bare array outside a constructor")
	default:
		return nil, r.errf("unsupported major type %d", major)
	}
}

func (r *reader) readBytes(arg uint64, indefinite bool) (Data, error) {
	if !indefinite {
		return r.readBytesChunk(arg)
	}
	var out []byte
	for {
		b, ok := r.peek()
		if !ok {
			return nil, r.errf("unterminated indefinite byte string")
		}
		if b == 0xff {
			r.pos++
			return Bytes(out), nil
		}
		major, n, ind, err := r.readHead()
		if err != nil {
			return nil, err
		}
		if major != majorBytes || ind {
			return nil, r.errf("indefinite byte string chunk must be a definite byte string")
		}
		chunk, err := r.readBytesChunk(n)
		if err != nil {
			return nil, err
		}
		out = append(out, chunk.(Bytes)...)
	}
}

func (r *reader) readBytesChunk(n uint64) (Data, error) {
	if n > uint64(len(r.buf)-r.pos) {
		return nil, r.errf("byte string length %d exceeds remaining input", n)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return Bytes(out), nil
}

func (r *reader) readConstr(tag uint64) (Data, error) {
	switch {
	case tag >= tagConstrBase && tag <= tagConstrBase+maxCompactIndex:
		fields, err := r.readFieldList()
		if err != nil {
			return nil, err
		}
		return Constr{Index: tag - tagConstrBase, Fields: fields}, nil
	case tag >= tagConstrExtBase && tag <= tagConstrExtBase+(maxExtendedIndex-maxCompactIndex-1):
		fields, err := r.readFieldList()
		if err != nil {
			return nil, err
		}
		return Constr{Index: tag - tagConstrExtBase + maxCompactIndex + 1, Fields: fields}, nil
	case tag == tagConstrGeneral:
		return r.readGeneralConstr()
	default:
		return nil, r.errf("tag %d is not a constructor tag", tag)
	}
}

func (r *reader) readGeneralConstr() (Data, error) {
	major, n, indefinite, err := r.readHead()
	if err != nil {
		return nil, err
	}
	if major != majorArray || indefinite || n != 2 {
		return nil, r.errf("general constructor requires a definite [index, fields] pair")
	}
	major, idx, indefinite, err := r.readHead()
	if err != nil {
		return nil, err
	}
	if major != majorUnsigned || indefinite {
		return nil, r.errf("general constructor index must be an unsigned integer")
	}
	fields, err := r.readFieldList()
	if err != nil {
		return nil, err
	}
	return Constr{Index: idx, Fields: fields}, nil
}

func (r *reader) readFieldList() ([]Data, error) {
	major, n, indefinite, err := r.readHead()
	if err != nil {
		return nil, err
	}
	if major != majorArray {
		return nil, r.errf("constructor fields must be an array")
	}
	if indefinite {
		var fields []Data
		for {
			b, ok := r.peek()
			if !ok {
				return nil, r.errf("unterminated indefinite array")
			}
			if b == 0xff {
				r.pos++
				return fields, nil
			}
			f, err := r.readNode()
			if err != nil {
				return nil, err
			}
			fields = append(fields, f)
		}
	}
	// Every item occupies at least one byte, which bounds the allocation
	// for adversarial length prefixes.
	if n > uint64(len(r.buf)-r.pos) {
		return nil, r.errf("array length %d exceeds remaining input", n)
	}
	fields := make([]Data, 0, n)
	for i := uint64(0); i < n; i++ {
		f, err := r.readNode()
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}
