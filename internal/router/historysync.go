// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package router

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/klauspost/compress/zlib"

	"github.com/waconnect/waconnect-go/internal/wacore"
)

// HistorySyncIdleTimeout is the default silence window after the last
// received chunk before a history sync is considered finalized.
const HistorySyncIdleTimeout = 10 * time.Second

// NewChatFunc is invoked once per conversation enumerated in a decompressed
// history-sync chunk.
type NewChatFunc func(chat *wacore.Node)

// HistorySyncDoneFunc is invoked once the assembler finalizes a sync.
type HistorySyncDoneFunc func()

// HistorySyncAssembler buffers HISTORY_SYNC_NOTIFICATION chunks and decides
// when the sync is complete. Each chunk's payload is zlib-decompressed and
// decoded as a Node whose "chat" children are the enumerated conversations
// -- the same Node tree shape the rest of this package already decodes off
// the wire, rather than a separately invented history-sync schema. A
// companion notification (PUSH_NAME in the real service) finalizes the sync
// once the configured idle window has passed since the last chunk, per the
// silence-based completion rule; it is a no-op if chunks are still arriving
// inside the window.
type HistorySyncAssembler struct {
	mu         sync.Mutex
	idle       time.Duration
	now        func() time.Time
	lastChunk  time.Time
	finalized  bool
	onChat     NewChatFunc
	onFinalize HistorySyncDoneFunc
}

// NewHistorySyncAssembler constructs an assembler. idle <= 0 uses
// HistorySyncIdleTimeout.
func NewHistorySyncAssembler(idle time.Duration, onChat NewChatFunc, onFinalize HistorySyncDoneFunc) *HistorySyncAssembler {
	if idle <= 0 {
		idle = HistorySyncIdleTimeout
	}
	return &HistorySyncAssembler{idle: idle, now: time.Now, onChat: onChat, onFinalize: onFinalize}
}

// Feed decompresses one notification payload and fires onChat for every
// "chat" child it enumerates. A chunk received after finalization is
// dropped: the sync has already been delivered to the caller.
func (h *HistorySyncAssembler) Feed(compressed []byte) error {
	r, err := zlib.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return fmt.Errorf("router: history sync decompress: %w", err)
	}
	defer r.Close()

	raw, err := io.ReadAll(r)
	if err != nil {
		return fmt.Errorf("router: history sync decompress: %w", err)
	}

	root, err := wacore.DecodeNode(raw)
	if err != nil {
		return fmt.Errorf("router: history sync decode: %w", err)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finalized {
		return nil
	}
	for _, chat := range root.GetChildren("chat") {
		if h.onChat != nil {
			h.onChat(chat)
		}
	}
	h.lastChunk = h.now()
	return nil
}

// NotifyCompanion finalizes the sync if at least the idle window has
// elapsed since the last chunk was fed. It is a no-op before any chunk has
// arrived, or if the sync is already finalized.
func (h *HistorySyncAssembler) NotifyCompanion() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.finalized || h.lastChunk.IsZero() {
		return
	}
	if h.now().Sub(h.lastChunk) < h.idle {
		return
	}
	h.finalized = true
	if h.onFinalize != nil {
		h.onFinalize()
	}
}

// Finalized reports whether the sync has completed.
func (h *HistorySyncAssembler) Finalized() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finalized
}
