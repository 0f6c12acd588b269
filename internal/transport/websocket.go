// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package transport

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// Web client profile endpoint constants.
const (
	WebSocketURL = "wss://web.whatsapp.com/ws/chat"
	WebOrigin    = "https://web.whatsapp.com"
	WebHost      = "web.whatsapp.com"
)

// WebSocketConfig configures the web client profile transport.
type WebSocketConfig struct {
	URL      string
	Origin   string
	Host     string
	ProxyURL string // not read by Connect: the dial never goes through a proxy
	Logger   *zap.SugaredLogger
}

// WebSocketTransport is the web client profile: RFC-6455 binary frames,
// fixed Origin/Host headers, no idle timeout (keepalive lives in-protocol).
// Lifted out of the teacher's monolithic Connection.Connect/sendRaw/
// receiveLoop into a standalone Transport implementation.
type WebSocketTransport struct {
	cfg WebSocketConfig
	ws  *websocket.Conn

	mu     sync.Mutex
	closed bool
}

// NewWebSocketTransport constructs the transport; Connect must be called
// before Send/Recv.
func NewWebSocketTransport(cfg WebSocketConfig) *WebSocketTransport {
	if cfg.URL == "" {
		cfg.URL = WebSocketURL
	}
	if cfg.Origin == "" {
		cfg.Origin = WebOrigin
	}
	if cfg.Host == "" {
		cfg.Host = WebHost
	}
	return &WebSocketTransport{cfg: cfg}
}

func (t *WebSocketTransport) Connect(ctx context.Context) error {
	opts := &websocket.DialOptions{
		HTTPHeader: map[string][]string{
			"Origin": {t.cfg.Origin},
			"Host":   {t.cfg.Host},
		},
	}

	ws, _, err := websocket.Dial(ctx, t.cfg.URL, opts)
	if err != nil {
		return fmt.Errorf("transport: websocket dial: %w", err)
	}
	// No per-message read size limit. There is no idle timeout either:
	// keepalive is handled by the in-protocol iq ping, not by the
	// WebSocket layer.
	ws.SetReadLimit(-1)

	t.mu.Lock()
	t.ws = ws
	t.mu.Unlock()
	return nil
}

func (t *WebSocketTransport) Send(ctx context.Context, frame []byte) error {
	t.mu.Lock()
	ws, closed := t.ws, t.closed
	t.mu.Unlock()
	if closed || ws == nil {
		return ErrClosed
	}
	if err := ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
		t.markClosed()
		return fmt.Errorf("transport: websocket write: %w", err)
	}
	return nil
}

func (t *WebSocketTransport) Recv(ctx context.Context) ([]byte, error) {
	t.mu.Lock()
	ws, closed := t.ws, t.closed
	t.mu.Unlock()
	if closed || ws == nil {
		return nil, ErrClosed
	}
	_, data, err := ws.Read(ctx)
	if err != nil {
		t.markClosed()
		return nil, fmt.Errorf("transport: websocket read: %w", err)
	}
	return data, nil
}

func (t *WebSocketTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	if t.ws != nil {
		return t.ws.Close(websocket.StatusNormalClosure, "closing")
	}
	return nil
}

func (t *WebSocketTransport) markClosed() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
}
