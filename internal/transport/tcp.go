// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package transport

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// TCPConfig configures the mobile client profile transport.
type TCPConfig struct {
	Addr      string // "<mobile-host>:<mobile-port>"
	KeepAlive time.Duration
	Logger    *zap.SugaredLogger
}

// TCPTransport is the mobile client profile: a raw TCP socket with
// SO_KEEPALIVE, each frame prefixed by the shared 3-byte big-endian length
// header. There is no ecosystem library in the pack that wraps a bare TCP
// dial more idiomatically than net.Dial + SetKeepAlive, so this component
// is stdlib — the framing around it is ours, only the
// socket primitive itself is borrowed from the standard library.
type TCPTransport struct {
	cfg TCPConfig
	dec FrameDecoder

	mu      sync.Mutex
	conn    net.Conn
	closed  bool
	pending [][]byte // frames decoded ahead of the caller's next Recv call
}

func NewTCPTransport(cfg TCPConfig) *TCPTransport {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 30 * time.Second
	}
	return &TCPTransport{cfg: cfg}
}

func (t *TCPTransport) Connect(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", t.cfg.Addr)
	if err != nil {
		return fmt.Errorf("transport: tcp dial %s: %w", t.cfg.Addr, err)
	}
	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAlive(true)
		_ = tc.SetKeepAlivePeriod(t.cfg.KeepAlive)
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()
	return nil
}

// Send writes the length prefix and payload as a single Write call so
// concurrent senders never interleave on the wire.
func (t *TCPTransport) Send(ctx context.Context, payload []byte) error {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	t.mu.Unlock()
	if closed || conn == nil {
		return ErrClosed
	}

	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetWriteDeadline(dl)
	}
	frame := EncodeOutboundFrame(payload)
	if _, err := conn.Write(frame); err != nil {
		t.markClosed()
		return fmt.Errorf("transport: tcp write: %w", err)
	}
	return nil
}

// Recv reads from the socket and returns exactly one decoded frame,
// buffering any partial trailing bytes for the next call via FrameDecoder.
func (t *TCPTransport) Recv(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	conn, closed := t.conn, t.closed
	if len(t.pending) > 0 {
		frame := t.pending[0]
		t.pending = t.pending[1:]
		t.mu.Unlock()
		return frame, nil
	}
	t.mu.Unlock()
	if closed || conn == nil {
		return nil, ErrClosed
	}

	chunk := make([]byte, 65536)
	for {
		if dl, ok := ctx.Deadline(); ok {
			_ = conn.SetReadDeadline(dl)
		}
		n, err := conn.Read(chunk)
		if err != nil {
			t.markClosed()
			return nil, fmt.Errorf("transport: tcp read: %w", err)
		}
		frames, err := t.dec.Feed(chunk[:n])
		if err != nil {
			t.markClosed()
			return nil, fmt.Errorf("transport: tcp frame decode: %w", err)
		}
		if len(frames) > 0 {
			if len(frames) > 1 {
				t.queue(frames[1:])
			}
			return frames[0], nil
		}
	}
}

func (t *TCPTransport) queue(frames [][]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, frames...)
}

func (t *TCPTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.conn != nil {
		return t.conn.Close()
	}
	return nil
}

func (t *TCPTransport) markClosed() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
