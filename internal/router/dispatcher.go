// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/waconnect/waconnect-go/internal/appstate"
	"github.com/waconnect/waconnect-go/internal/signal"
	"github.com/waconnect/waconnect-go/internal/store"
	"github.com/waconnect/waconnect-go/internal/wacore"
)

// DispatcherError reports a malformed inbound node the Dispatcher could
// not route.
type DispatcherError struct{ Message string }

func (e *DispatcherError) Error() string { return e.Message }

// Dispatcher routes decoded nodes to the request router, message
// decryption pipeline, or receipt/notification handling, mirroring the
// teacher's single receive-loop design (internal/core/connection.go's
// receiveLoop) but fanning out by tag instead of pushing everything onto
// one channel.
type Dispatcher struct {
	log      *zap.SugaredLogger
	router   *RequestRouter
	sink     store.MessageSink
	sessions *signal.Store

	sendAck      func(ctx context.Context, n *wacore.Node) error
	historySync  *HistorySyncAssembler
	appStateSync *AppStateSyncer
}

// NewDispatcher constructs a Dispatcher. sendAck is called to emit the
// delivery/read receipt acknowledgements the protocol requires after
// successfully processing an inbound <message> or <receipt>.
func NewDispatcher(router *RequestRouter, sessions *signal.Store, sink store.MessageSink, sendAck func(context.Context, *wacore.Node) error, log *zap.SugaredLogger) *Dispatcher {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Dispatcher{log: log, router: router, sink: sink, sessions: sessions, sendAck: sendAck}
}

// SetHistorySync installs the assembler used to buffer history-sync
// notification chunks. A nil assembler (the default) makes
// history_sync/companion notifications a no-op log line.
func (d *Dispatcher) SetHistorySync(asm *HistorySyncAssembler) {
	d.historySync = asm
}

// SetAppStateSync installs the syncer used to pull a collection when the
// server signals it changed. A nil syncer (the default) makes
// server_sync notifications a no-op log line.
func (d *Dispatcher) SetAppStateSync(s *AppStateSyncer) {
	d.appStateSync = s
}

// Dispatch routes one decoded inbound node.
func (d *Dispatcher) Dispatch(ctx context.Context, n *wacore.Node) error {
	if id := n.AttrString("id"); id != "" && (n.Tag == "iq" && n.AttrString("type") != "get" && n.AttrString("type") != "set") {
		if d.router.Resolve(id, n) {
			return nil
		}
	}

	switch n.Tag {
	case "message":
		return d.handleMessage(ctx, n)
	case "receipt":
		return d.handleReceipt(ctx, n)
	case "notification":
		return d.handleNotification(ctx, n)
	case "call":
		return d.handleCall(ctx, n)
	case "iq":
		// Unsolicited iq (not matched to a pending request): log and
		// ignore, matching the teacher's permissive receive loop.
		d.log.Debugw("unsolicited iq", "from", n.AttrString("from"))
		return nil
	default:
		d.log.Debugw("unhandled node", "tag", n.Tag)
		return nil
	}
}

// handleMessage extracts the encrypted payload (pkmsg/msg/skmsg child),
// decrypts it through the appropriate Signal session, unpads, and hands
// the plaintext to the MessageSink.
func (d *Dispatcher) handleMessage(ctx context.Context, n *wacore.Node) error {
	from := n.AttrString("from")
	participant := n.AttrString("participant")
	messageID := n.AttrString("id")

	var enc *wacore.Node
	var kind string
	for _, candidate := range []string{"pkmsg", "msg", "skmsg"} {
		if c := n.GetChild(candidate); c != nil {
			enc = c
			kind = candidate
			break
		}
	}
	if enc == nil {
		return &DispatcherError{Message: "message node has no encrypted content child"}
	}

	envelope := enc.Bytes()
	if envelope == nil {
		return &DispatcherError{Message: "encrypted content child has no binary payload"}
	}

	var plaintext []byte
	var err error
	if kind == "skmsg" {
		plaintext, err = d.decryptGroup(from, participant, envelope)
	} else {
		plaintext, err = d.decrypt(from, kind, envelope)
	}
	if err != nil {
		// Retry receipts on decryption failure are out of scope.
		d.log.Warnw("message decryption failed", "from", from, "id", messageID, "error", err)
		return nil
	}

	unpadded, err := unpad(plaintext)
	if err != nil {
		return fmt.Errorf("router: unpad message: %w", err)
	}

	// Decoding `unpadded` as the WhatsApp Message protobuf (dozens of
	// content-type variants) is out of scope: without the real .proto
	// schema this would be unverifiable guesswork, so the Dispatcher hands
	// the decrypted, unpadded bytes to MessageSink as-is and leaves
	// variant decoding to the caller's MessageSink implementation.
	if err := d.sink.HandleMessage(ctx, from, messageID, unpadded); err != nil {
		return fmt.Errorf("router: message sink: %w", err)
	}

	if d.sendAck != nil {
		ack := wacore.NewNode("ack", map[string]wacore.Attr{
			"id":    wacore.String(messageID),
			"to":    wacore.String(from),
			"class": wacore.String("message"),
		})
		if err := d.sendAck(ctx, ack); err != nil {
			d.log.Warnw("ack send failed", "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) decrypt(from, kind string, envelope []byte) ([]byte, error) {
	header, ciphertext, err := signal.DecodeEnvelope(envelope)
	if err != nil {
		return nil, fmt.Errorf("router: decode envelope: %w", err)
	}

	var plaintext []byte
	err = d.sessions.WithRatchet(from, func(current *signal.RatchetState) (*signal.RatchetState, error) {
		if current == nil {
			return nil, &DispatcherError{Message: "no established session for peer"}
		}
		pt, err := current.Decrypt(nil, header, ciphertext, []byte(kind))
		if err != nil {
			return current, err
		}
		plaintext = pt
		return current, nil
	})
	return plaintext, err
}

// decryptGroup decrypts an skmsg against the (group, participant) sender-key
// chain established by a prior SenderKeyDistribution message. A missing
// chain means the distribution message hasn't arrived yet; that is a
// drop-and-log case, not a fatal dispatcher error, matching the 1:1
// "no established session" path.
func (d *Dispatcher) decryptGroup(groupJID, participant string, envelope []byte) ([]byte, error) {
	if participant == "" {
		return nil, &DispatcherError{Message: "skmsg missing participant attribute"}
	}
	msg, err := signal.DecodeSenderKeyEnvelope(envelope)
	if err != nil {
		return nil, fmt.Errorf("router: decode sender key envelope: %w", err)
	}

	chain := d.sessions.ReceivingChain(groupJID, participant)
	if chain == nil {
		return nil, &DispatcherError{Message: "no sender key distribution for peer"}
	}
	return chain.Decrypt(msg, []byte(groupJID))
}

func (d *Dispatcher) handleReceipt(ctx context.Context, n *wacore.Node) error {
	from := n.AttrString("from")
	receiptType := n.AttrString("type")
	if receiptType == "" {
		receiptType = "delivery"
	}

	var ids []string
	if id := n.AttrString("id"); id != "" {
		ids = append(ids, id)
	}
	for _, child := range n.GetChildren("item") {
		if id := child.AttrString("id"); id != "" {
			ids = append(ids, id)
		}
	}

	if err := d.sink.HandleReceipt(ctx, from, ids, receiptType); err != nil {
		return err
	}

	if d.sendAck != nil {
		ack := wacore.NewNode("ack", map[string]wacore.Attr{
			"id":    wacore.String(n.AttrString("id")),
			"to":    wacore.String(from),
			"class": wacore.String("receipt"),
		})
		if err := d.sendAck(ctx, ack); err != nil {
			d.log.Warnw("ack send failed", "error", err)
		}
	}
	return nil
}

func (d *Dispatcher) handleNotification(ctx context.Context, n *wacore.Node) error {
	notifType := n.AttrString("type")
	d.log.Debugw("notification", "type", notifType, "from", n.AttrString("from"))

	switch notifType {
	case "history_sync":
		if d.historySync == nil {
			return nil
		}
		if payload := n.Bytes(); len(payload) > 0 {
			if err := d.historySync.Feed(payload); err != nil {
				d.log.Warnw("history sync chunk dropped", "error", err)
			}
		}
	case "pushname":
		if d.historySync == nil {
			return nil
		}
		d.historySync.NotifyCompanion()
	case "server_sync":
		if d.appStateSync == nil {
			return nil
		}
		for _, coll := range n.GetChildren("collection") {
			name := appstate.Collection(coll.AttrString("name"))
			if name == "" {
				continue
			}
			if err := d.appStateSync.Pull(ctx, name); err != nil {
				d.log.Warnw("app-state pull failed", "collection", name, "error", err)
			}
		}
	}
	return nil
}

func (d *Dispatcher) handleCall(ctx context.Context, n *wacore.Node) error {
	d.log.Debugw("call signaling node", "from", n.AttrString("from"))
	return nil
}

// unpad strips the PKCS7-style trailer the protocol uses: the last byte
// names the pad length (1..15).
func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, &DispatcherError{Message: "empty plaintext"}
	}
	padLen := int(data[len(data)-1])
	if padLen < 1 || padLen > 15 || padLen > len(data) {
		return nil, &DispatcherError{Message: "invalid padding length"}
	}
	return data[:len(data)-padLen], nil
}
