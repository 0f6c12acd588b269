// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

// Package router implements RequestRouter (pending iq correlation) and the
// Dispatcher that routes decoded nodes to message/receipt/notification/
// call handling, generalizing the teacher's channel-based request/response
// plumbing in internal/core/connection.go to a node-tag routing table.
package router

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/waconnect/waconnect-go/internal/wacore"
)

// DefaultRequestTimeout is how long a pending iq waits for its response
// before RequestRouter gives up on it.
const DefaultRequestTimeout = 60 * time.Second

// RouterError reports a request-routing failure (timeout, duplicate id,
// unexpected response shape).
type RouterError struct{ Message string }

func (e *RouterError) Error() string { return e.Message }

type pendingRequest struct {
	reply chan *wacore.Node
}

// RequestRouter correlates outbound <iq> requests with their inbound
// responses by a 16-hex-character request id, timing out unanswered
// requests after DefaultRequestTimeout.
type RequestRouter struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	log     *zap.SugaredLogger
}

// NewRequestRouter constructs an empty RequestRouter.
func NewRequestRouter(log *zap.SugaredLogger) *RequestRouter {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &RequestRouter{pending: make(map[string]*pendingRequest), log: log}
}

// NewRequestID mints a 16-hex-character correlation id from a fresh UUID4,
// matching the teacher's google/uuid usage elsewhere in the stack.
func NewRequestID() string {
	id := uuid.New()
	return fmt.Sprintf("%x", id[:8])
}

// PendingWait is a registered, not-yet-awaited request: Register reserves
// the id synchronously so a reply that arrives before Wait is called is
// still resolved correctly instead of being dropped as unsolicited.
type PendingWait struct {
	router *RequestRouter
	id     string
	reply  chan *wacore.Node
}

// Register reserves id as pending and returns a waiter, without blocking.
// Callers that must not race a fast reply against their own send (see
// Request in the session package) call Register before writing to the
// transport, then Wait afterward.
func (r *RequestRouter) Register(id string) *PendingWait {
	p := &pendingRequest{reply: make(chan *wacore.Node, 1)}
	r.mu.Lock()
	r.pending[id] = p
	r.mu.Unlock()
	return &PendingWait{router: r, id: id, reply: p.reply}
}

// Wait blocks until a matching response arrives, ctx is cancelled, or
// DefaultRequestTimeout elapses.
func (w *PendingWait) Wait(ctx context.Context) (*wacore.Node, error) {
	defer func() {
		w.router.mu.Lock()
		delete(w.router.pending, w.id)
		w.router.mu.Unlock()
	}()

	timeout := time.NewTimer(DefaultRequestTimeout)
	defer timeout.Stop()

	select {
	case resp := <-w.reply:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timeout.C:
		return nil, &RouterError{Message: fmt.Sprintf("request %s timed out", w.id)}
	}
}

// Await registers id as pending and blocks until a matching response
// arrives, ctx is cancelled, or DefaultRequestTimeout elapses. Equivalent
// to Register followed immediately by Wait, for callers with no send to
// interleave between the two.
func (r *RequestRouter) Await(ctx context.Context, id string) (*wacore.Node, error) {
	return r.Register(id).Wait(ctx)
}

// Resolve delivers an inbound response node to its waiting Await call, if
// any. It returns false if no request with this id is pending (the
// response is then treated as an unsolicited node by the Dispatcher).
func (r *RequestRouter) Resolve(id string, response *wacore.Node) bool {
	r.mu.Lock()
	p, ok := r.pending[id]
	r.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case p.reply <- response:
	default:
	}
	return true
}

// PendingCount reports how many requests are currently awaiting a
// response, surfaced by the diagnostics server.
func (r *RequestRouter) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
