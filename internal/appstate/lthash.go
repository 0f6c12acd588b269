// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

// Package appstate implements the LTHash-based CRDT that synchronizes
// chat/contact/setting mutations ("app-state patches") between a primary
// device and its companions, generalizing the teacher's Noise HKDF/AES
// idioms (internal/core/noise.go) to the app-state sync protocol.
package appstate

import (
	"crypto/sha256"
	"encoding/binary"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HashSize is the LTHash digest width: 64 little-endian u16 lanes.
const HashSize = 128

const lanes = HashSize / 2

// Hash is a 128-byte associative hash supporting order-independent add/sub
// so a set of mutations can be folded into one digest regardless of
// application order (Testable Properties 3 and 7).
type Hash [HashSize]byte

// expandMutation HKDF-expands a raw (index_mac || value_mac) input into a
// 128-byte lane vector, the unit Add/Sub operate on.
func expandMutation(material []byte) Hash {
	r := hkdf.New(sha256.New, material, nil, []byte("WAConnect_LTHash"))
	var out Hash
	_, _ = io.ReadFull(r, out[:])
	return out
}

// Add folds m into h componentwise as 64 little-endian uint16 lanes with
// wrapping addition.
func Add(h Hash, m Hash) Hash {
	return laneOp(h, m, func(a, b uint16) uint16 { return a + b })
}

// Sub is Add's inverse: wrapping subtraction, lane by lane.
func Sub(h Hash, m Hash) Hash {
	return laneOp(h, m, func(a, b uint16) uint16 { return a - b })
}

func laneOp(h, m Hash, op func(a, b uint16) uint16) Hash {
	var out Hash
	for i := 0; i < lanes; i++ {
		a := binary.LittleEndian.Uint16(h[i*2 : i*2+2])
		b := binary.LittleEndian.Uint16(m[i*2 : i*2+2])
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], op(a, b))
	}
	return out
}

// AddMutation expands the raw mutation material and folds it into h —
// the operation applied for a SET mutation.
func AddMutation(h Hash, material []byte) Hash {
	return Add(h, expandMutation(material))
}

// SubMutation is AddMutation's inverse — applied for a REMOVE mutation
// (subtracting the previously-recorded value's expansion).
func SubMutation(h Hash, material []byte) Hash {
	return Sub(h, expandMutation(material))
}
