package session

import (
	"context"
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/waconnect/waconnect-go/internal/signal"
	"github.com/waconnect/waconnect-go/internal/store"
	"github.com/waconnect/waconnect-go/internal/wacore"
)

// fakeTransport is an in-process transport.Transport double. Connect/Send
// are no-ops; Recv is unused by these tests since they drive routing
// directly rather than through a live Noise handshake (noise.Session only
// implements the initiator role — see DESIGN.md's noise section — so a mock
// server-side peer isn't available to drive Connect end-to-end here).
type fakeTransport struct {
	sent [][]byte
}

func (f *fakeTransport) Connect(ctx context.Context) error { return nil }
func (f *fakeTransport) Send(ctx context.Context, frame []byte) error {
	f.sent = append(f.sent, frame)
	return nil
}
func (f *fakeTransport) Recv(ctx context.Context) ([]byte, error) { select {} }
func (f *fakeTransport) Close() error                             { return nil }

func newTestSession(sink store.MessageSink) *Session {
	return New(Config{Transport: &fakeTransport{}, MessageSink: sink})
}

func TestIsAppStateNodeClassification(t *testing.T) {
	sync := wacore.NewNode("iq", nil)
	sync.Content = []*wacore.Node{{Tag: "sync", Attrs: map[string]wacore.Attr{"xmlns": wacore.String("w:sync:app:state")}}}
	require.True(t, isAppStateNode(sync))

	notif := wacore.NewNode("notification", map[string]wacore.Attr{"type": wacore.String("server_sync")})
	require.True(t, isAppStateNode(notif))

	plain := wacore.NewNode("iq", nil)
	plain.Content = []*wacore.Node{{Tag: "ping"}}
	require.False(t, isAppStateNode(plain))

	require.False(t, isAppStateNode(wacore.NewNode("message", nil)))
}

// newRatchetPair mirrors router_test.go's helper: a connected sender/
// receiver RatchetState pair sharing a root key.
func newRatchetPair(t *testing.T) (sender, receiver *signal.RatchetState) {
	t.Helper()
	rootKey := make([]byte, 32)
	_, err := rand.Read(rootKey)
	require.NoError(t, err)

	var receiverPriv, receiverPub [32]byte
	_, err = rand.Read(receiverPriv[:])
	require.NoError(t, err)
	curve25519.ScalarBaseMult(&receiverPub, &receiverPriv)

	receiver = signal.NewRatchetReceiver(rootKey, receiverPriv, receiverPub)
	sender, err = signal.NewRatchetSender(rand.Reader, rootKey, receiverPub)
	require.NoError(t, err)
	return sender, receiver
}

func applyPadding(data []byte, n byte) []byte {
	out := append([]byte(nil), data...)
	for i := byte(0); i < n; i++ {
		out = append(out, n)
	}
	return out
}

// TestSessionRoutesMessageNodeToMessageQueue is Scenario B's routing half:
// a decoded <message><msg>envelope</msg></message> node is queued onto
// messageQueue and, once drained, has reached the MessageSink with the
// decrypted plaintext (the decrypt pipeline itself is Testable Property-
// adjacent and covered in depth by router/router_test.go).
func TestSessionRoutesMessageNodeToMessageQueue(t *testing.T) {
	sink := store.NewMemoryMessageSink()
	s := newTestSession(sink)
	s.mu.Lock()
	s.connID = "conn-1"
	s.mu.Unlock()

	sender, receiver := newRatchetPair(t)
	require.NoError(t, s.signal.WithRatchet("peer@s.whatsapp.net", func(*signal.RatchetState) (*signal.RatchetState, error) {
		return receiver, nil
	}))

	plaintext := []byte("hi")
	padded := applyPadding(plaintext, 4)
	header, ciphertext, err := sender.Encrypt(padded, []byte("msg"))
	require.NoError(t, err)
	envelope := signal.EncodeEnvelope(header, ciphertext)

	node := wacore.NewNode("message", map[string]wacore.Attr{
		"from": wacore.String("peer@s.whatsapp.net"),
		"id":   wacore.String("M1"),
	})
	node.Content = []*wacore.Node{{Tag: "msg", Content: envelope}}

	s.route(context.Background(), "conn-1", node)
	s.messageQueue.Close() // drains buffered jobs before returning

	require.Len(t, sink.Messages, 1)
	require.Equal(t, plaintext, sink.Messages[0].Payload)
}

// TestSupersededByDetectsConnIDChange confirms work queued under a
// superseded connID (or a closed session) is recognized as stale by the
// per-connection-UUID cancellation design.
func TestSupersededByDetectsConnIDChange(t *testing.T) {
	s := newTestSession(store.NewMemoryMessageSink())
	s.mu.Lock()
	s.connID = "conn-a"
	s.mu.Unlock()

	require.False(t, s.supersededBy("conn-a"))
	require.True(t, s.supersededBy("conn-b"))

	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	require.True(t, s.supersededBy("conn-a"))
}

// TestSessionSkipsWorkFromSupersededConnection confirms route()'s queued
// closure re-checks supersededBy at execution time (not just enqueue time),
// so a connID change that lands between Submit and drain still drops the
// job — using a decryptable envelope so a dropped message is unambiguous.
func TestSessionSkipsWorkFromSupersededConnection(t *testing.T) {
	sink := store.NewMemoryMessageSink()
	s := newTestSession(sink)
	s.mu.Lock()
	s.connID = "conn-old"
	s.mu.Unlock()

	sender, receiver := newRatchetPair(t)
	require.NoError(t, s.signal.WithRatchet("peer@s.whatsapp.net", func(*signal.RatchetState) (*signal.RatchetState, error) {
		return receiver, nil
	}))
	header, ciphertext, err := sender.Encrypt(applyPadding([]byte("hi"), 4), []byte("msg"))
	require.NoError(t, err)
	envelope := signal.EncodeEnvelope(header, ciphertext)

	node := wacore.NewNode("message", map[string]wacore.Attr{"from": wacore.String("peer@s.whatsapp.net"), "id": wacore.String("M2")})
	node.Content = []*wacore.Node{{Tag: "msg", Content: envelope}}

	s.route(context.Background(), "conn-old", node)

	s.mu.Lock()
	s.connID = "conn-new"
	s.mu.Unlock()
	s.messageQueue.Close()

	require.Empty(t, sink.Messages)
}

func TestSessionDefaultsToNoopMessageSink(t *testing.T) {
	s := New(Config{Transport: &fakeTransport{}})
	_, ok := s.cfg.MessageSink.(store.NoopMessageSink)
	require.True(t, ok)
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	s := newTestSession(store.NewMemoryMessageSink())
	var errKind ErrorKind
	var sawClose bool
	s.OnError(func(kind ErrorKind, cause error) {
		if kind == ErrorSessionClosed {
			sawClose = true
			errKind = kind
		}
	})

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	require.True(t, sawClose)
	require.Equal(t, ErrorSessionClosed, errKind)
}
