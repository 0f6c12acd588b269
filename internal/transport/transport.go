// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

// Package transport implements the two client profiles (WebSocket for web,
// raw TCP for mobile) behind one Transport contract,
// plus the length-prefixed FrameCodec both profiles share.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned by Send/Recv once the transport has transitioned
// to CLOSED.
var ErrClosed = errors.New("transport: closed")

// Transport is the single contract both client profiles satisfy. Instances
// are single-use: once Close has been called (or an I/O error has closed
// it internally) a new Transport must be constructed to reconnect.
type Transport interface {
	Connect(ctx context.Context) error
	Send(ctx context.Context, frame []byte) error
	Recv(ctx context.Context) ([]byte, error)
	Close() error
}

// FrameDecoder consumes bytes from a growable buffer and yields exactly one
// frame per complete [3-byte length][payload] unit. It never truncates: a
// header claiming more bytes than are buffered waits for more.
type FrameDecoder struct {
	buf []byte
}

// Feed appends newly-read bytes and returns every complete frame now
// available, in order, leaving any trailing partial frame buffered.
func (d *FrameDecoder) Feed(chunk []byte) ([][]byte, error) {
	d.buf = append(d.buf, chunk...)

	var frames [][]byte
	for {
		if len(d.buf) < 3 {
			break
		}
		length := int(d.buf[0])<<16 | int(d.buf[1])<<8 | int(d.buf[2])
		if length < 0 {
			return frames, errors.New("transport: corrupt frame length")
		}
		if len(d.buf) < 3+length {
			break // need more data; never truncate
		}
		frame := make([]byte, length)
		copy(frame, d.buf[3:3+length])
		frames = append(frames, frame)
		d.buf = d.buf[3+length:]
	}
	return frames, nil
}

// EncodeOutboundFrame concatenates the 3-byte big-endian length prefix and
// payload into a single buffer so a writer can emit it in one syscall,
// avoiding interleaving with a concurrent sender.
func EncodeOutboundFrame(payload []byte) []byte {
	out := make([]byte, 3+len(payload))
	out[0] = byte(len(payload) >> 16)
	out[1] = byte(len(payload) >> 8)
	out[2] = byte(len(payload))
	copy(out[3:], payload)
	return out
}
