// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package wacore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
)

// Wire opcodes for the binary XMPP-like format.
const (
	opListEmpty = 0x00
	opStreamEnd = 0x02

	opDictionary0 = 236
	opDictionary1 = 237
	opDictionary2 = 238
	opDictionary3 = 239

	opCompanionJid = 247
	opList8        = 248
	opList16       = 249
	opJidPair      = 250
	opHex8         = 251
	opBinary8      = 252
	opBinary20     = 253
	opBinary32     = 254
	opNibble8      = 255
)

const nibbleCharset = "0123456789-.\x00"
const hexCharset = "0123456789abcdef"

// NodeCodecError classifies a malformed-wire condition. An unrecognized
// leading opcode is always a NodeCodecError.
type NodeCodecError struct{ Message string }

func (e *NodeCodecError) Error() string { return e.Message }

var (
	ErrUnknownOpcode  = &NodeCodecError{Message: "wacore: unknown leading opcode"}
	ErrTruncated      = &NodeCodecError{Message: "wacore: truncated node stream"}
	ErrMalformedJid   = &NodeCodecError{Message: "wacore: malformed jid pair"}
	ErrMalformedAttrs = &NodeCodecError{Message: "wacore: attribute count doesn't fit item count"}
)

// EncodeNode serializes n into the binary wire format.
func EncodeNode(n *Node) []byte {
	buf := new(bytes.Buffer)
	writeNode(buf, n)
	return buf.Bytes()
}

// DecodeNode parses a single node from the front of data. It does not
// consume a leading compression flag byte — see DecodeFrame for that.
func DecodeNode(data []byte) (*Node, error) {
	r := bytes.NewReader(data)
	n, err := readNode(r)
	if err != nil {
		return nil, err
	}
	return n, nil
}

func writeNode(buf *bytes.Buffer, n *Node) {
	if n == nil {
		buf.WriteByte(opListEmpty)
		return
	}

	hasContent := n.Content != nil
	itemCount := 1 + 2*len(n.Attrs)
	if hasContent {
		itemCount++
	}
	writeListStart(buf, itemCount)
	writeScalar(buf, n.Tag)

	keys := make([]string, 0, len(n.Attrs))
	for k := range n.Attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic wire output regardless of map iteration order

	for _, k := range keys {
		writeScalar(buf, k)
		writeAttrValue(buf, n.Attrs[k])
	}

	if hasContent {
		switch c := n.Content.(type) {
		case []byte:
			writeScalar(buf, string(c))
		case []*Node:
			writeListStart(buf, len(c))
			for _, child := range c {
				writeNode(buf, child)
			}
		default:
			panic(fmt.Sprintf("wacore: unsupported node content type %T", c))
		}
	}
}

func readNode(r *bytes.Reader) (*Node, error) {
	count, isList, err := readListSize(r)
	if err != nil {
		return nil, err
	}
	if !isList {
		return nil, ErrUnknownOpcode
	}
	if count == 0 {
		return nil, nil
	}

	tag, err := readScalar(r)
	if err != nil {
		return nil, err
	}

	rest := count - 1
	hasContent := rest%2 == 1
	numAttrs := rest / 2
	if hasContent {
		numAttrs = (rest - 1) / 2
	}
	if numAttrs < 0 {
		return nil, ErrMalformedAttrs
	}

	attrs := make(map[string]Attr, numAttrs)
	for i := 0; i < numAttrs; i++ {
		key, err := readScalar(r)
		if err != nil {
			return nil, err
		}
		val, err := readAttrValue(r)
		if err != nil {
			return nil, err
		}
		attrs[key] = val
	}

	node := &Node{Tag: tag, Attrs: attrs}

	if hasContent {
		peeked, err := peekByte(r)
		if err != nil {
			return nil, err
		}
		if isListOpcode(peeked) {
			children, err := readNodeList(r)
			if err != nil {
				return nil, err
			}
			node.Content = children
		} else {
			s, err := readScalar(r)
			if err != nil {
				return nil, err
			}
			node.Content = []byte(s)
		}
	}

	return node, nil
}

func readNodeList(r *bytes.Reader) ([]*Node, error) {
	count, isList, err := readListSize(r)
	if err != nil {
		return nil, err
	}
	if !isList {
		return nil, ErrUnknownOpcode
	}
	children := make([]*Node, 0, count)
	for i := 0; i < count; i++ {
		child, err := readNodeInline(r)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return children, nil
}

// readNodeInline reads one child node's body directly (the list-start byte
// for the child itself has already been accounted for by the parent list
// count, so here we read a fresh node the same way readNode does).
func readNodeInline(r *bytes.Reader) (*Node, error) {
	return readNode(r)
}

func isListOpcode(b byte) bool {
	switch b {
	case opListEmpty, opList8, opList16:
		return true
	default:
		return false
	}
}

func writeListStart(buf *bytes.Buffer, count int) {
	switch {
	case count == 0:
		buf.WriteByte(opListEmpty)
	case count < 256:
		buf.WriteByte(opList8)
		buf.WriteByte(byte(count))
	default:
		buf.WriteByte(opList16)
		var b [2]byte
		binary.BigEndian.PutUint16(b[:], uint16(count))
		buf.Write(b[:])
	}
}

func readListSize(r *bytes.Reader) (count int, isList bool, err error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, false, ErrTruncated
	}
	switch b {
	case opListEmpty:
		return 0, true, nil
	case opList8:
		n, err := r.ReadByte()
		if err != nil {
			return 0, false, ErrTruncated
		}
		return int(n), true, nil
	case opList16:
		var b2 [2]byte
		if _, err := r.Read(b2[:]); err != nil {
			return 0, false, ErrTruncated
		}
		return int(binary.BigEndian.Uint16(b2[:])), true, nil
	default:
		if err := r.UnreadByte(); err != nil {
			return 0, false, err
		}
		return 0, false, nil
	}
}

func peekByte(r *bytes.Reader) (byte, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, ErrTruncated
	}
	_ = r.UnreadByte()
	return b, nil
}

// writeAttrValue writes a scalar attribute, special-casing Jid values so
// they round-trip through JID_PAIR/COMPANION_JID instead of through string-
// ification.
func writeAttrValue(buf *bytes.Buffer, a Attr) {
	if a.Kind == AttrJid {
		writeJid(buf, a.Jid)
		return
	}
	writeScalar(buf, a.AsString())
}

func readAttrValue(r *bytes.Reader) (Attr, error) {
	b, err := peekByte(r)
	if err != nil {
		return Attr{}, err
	}
	if b == opJidPair || b == opCompanionJid {
		j, err := readJid(r)
		if err != nil {
			return Attr{}, err
		}
		return JidAttr(j), nil
	}
	s, err := readScalar(r)
	if err != nil {
		return Attr{}, err
	}
	return String(s), nil
}

func writeJid(buf *bytes.Buffer, j Jid) {
	if j.Server == ServerCompanion && j.User == "" && j.Device == 0 {
		buf.WriteByte(opCompanionJid)
		return
	}
	buf.WriteByte(opJidPair)
	user := j.User
	if j.Device != 0 {
		user = fmt.Sprintf("%s:%d", j.User, j.Device)
	}
	writeScalar(buf, user)
	writeScalar(buf, string(j.Server))
}

func readJid(r *bytes.Reader) (Jid, error) {
	b, err := r.ReadByte()
	if err != nil {
		return Jid{}, ErrTruncated
	}
	if b == opCompanionJid {
		return Jid{Server: ServerCompanion}, nil
	}
	if b != opJidPair {
		return Jid{}, ErrMalformedJid
	}
	user, err := readScalar(r)
	if err != nil {
		return Jid{}, err
	}
	server, err := readScalar(r)
	if err != nil {
		return Jid{}, err
	}
	if colon := strings.IndexByte(user, ':'); colon >= 0 {
		var device uint16
		if _, err := fmt.Sscanf(user[colon+1:], "%d", &device); err != nil {
			return Jid{}, ErrMalformedJid
		}
		return Jid{User: user[:colon], Device: device, Server: Server(server)}, nil
	}
	return Jid{User: user, Device: 0, Server: Server(server)}, nil
}

// writeScalar is the single entry point for encoding a string as a token,
// a packed nibble/hex run, or a length-prefixed binary blob, tried in that
// order of preference.
func writeScalar(buf *bytes.Buffer, s string) {
	if idx, ok := findSingleByteToken(s); ok {
		buf.WriteByte(byte(idx))
		return
	}
	if dict, idx, ok := findDictionaryToken(s); ok {
		buf.WriteByte(byte(opDictionary0 + dict))
		buf.WriteByte(byte(idx))
		return
	}
	if s != "" && isNibblePackable(s) {
		writePacked(buf, opNibble8, nibbleCharset, s)
		return
	}
	if s != "" && isHexPackable(s) {
		writePacked(buf, opHex8, hexCharset, s)
		return
	}
	writeBinaryBlob(buf, []byte(s))
}

func readScalar(r *bytes.Reader) (string, error) {
	b, err := r.ReadByte()
	if err != nil {
		return "", ErrTruncated
	}
	switch {
	case b >= 3 && int(b)-3 < len(singleByteTokens) && singleByteTokens[b-3] != "":
		return singleByteTokens[b-3], nil
	case b == opDictionary0 || b == opDictionary1 || b == opDictionary2 || b == opDictionary3:
		dict := int(b - opDictionary0)
		idx, err := r.ReadByte()
		if err != nil {
			return "", ErrTruncated
		}
		table := dictionaryTables[dict]
		if int(idx) >= len(table) {
			return "", ErrUnknownOpcode
		}
		return table[idx], nil
	case b == opNibble8:
		return readPacked(r, nibbleCharset)
	case b == opHex8:
		return readPacked(r, hexCharset)
	case b == opBinary8, b == opBinary20, b == opBinary32:
		data, err := readBinaryBlobBody(r, b)
		if err != nil {
			return "", err
		}
		return string(data), nil
	default:
		return "", ErrUnknownOpcode
	}
}

func isNibblePackable(s string) bool {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(nibbleCharset, s[i]) < 0 {
			return false
		}
	}
	return true
}

func isHexPackable(s string) bool {
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(hexCharset, s[i]) < 0 {
			return false
		}
	}
	return true
}

func writePacked(buf *bytes.Buffer, opcode byte, charset, s string) {
	buf.WriteByte(opcode)
	odd := len(s)%2 == 1
	header := byte(len(s))
	if odd {
		header |= 0x80
	}
	buf.WriteByte(header)
	for i := 0; i < len(s); i += 2 {
		hi := byte(strings.IndexByte(charset, s[i]))
		lo := byte(0x0F)
		if i+1 < len(s) {
			lo = byte(strings.IndexByte(charset, s[i+1]))
		}
		buf.WriteByte(hi<<4 | lo)
	}
}

func readPacked(r *bytes.Reader, charset string) (string, error) {
	header, err := r.ReadByte()
	if err != nil {
		return "", ErrTruncated
	}
	odd := header&0x80 != 0
	length := int(header &^ 0x80)
	numBytes := (length + 1) / 2

	data := make([]byte, numBytes)
	if _, err := r.Read(data); err != nil && numBytes > 0 {
		return "", ErrTruncated
	}

	var sb strings.Builder
	sb.Grow(length)
	for i, b := range data {
		hi := b >> 4
		lo := b & 0x0F
		sb.WriteByte(charset[hi])
		if !(odd && i == len(data)-1) {
			sb.WriteByte(charset[lo])
		}
	}
	return sb.String(), nil
}

func writeBinaryBlob(buf *bytes.Buffer, data []byte) {
	l := len(data)
	switch {
	case l < 256:
		buf.WriteByte(opBinary8)
		buf.WriteByte(byte(l))
	case l < 1<<20:
		buf.WriteByte(opBinary20)
		var b [3]byte
		b[0] = byte(l >> 16)
		binary.BigEndian.PutUint16(b[1:], uint16(l))
		buf.Write(b[:])
	default:
		buf.WriteByte(opBinary32)
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(l))
		buf.Write(b[:])
	}
	buf.Write(data)
}

func readBinaryBlobBody(r *bytes.Reader, opcode byte) ([]byte, error) {
	var length int
	switch opcode {
	case opBinary8:
		n, err := r.ReadByte()
		if err != nil {
			return nil, ErrTruncated
		}
		length = int(n)
	case opBinary20:
		var b [3]byte
		if _, err := r.Read(b[:]); err != nil {
			return nil, ErrTruncated
		}
		length = int(b[0])<<16 | int(binary.BigEndian.Uint16(b[1:]))
	case opBinary32:
		var b [4]byte
		if _, err := r.Read(b[:]); err != nil {
			return nil, ErrTruncated
		}
		length = int(binary.BigEndian.Uint32(b[:]))
	}
	data := make([]byte, length)
	if length > 0 {
		if _, err := r.Read(data); err != nil {
			return nil, ErrTruncated
		}
	}
	return data, nil
}
