package router

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/curve25519"

	"github.com/waconnect/waconnect-go/internal/signal"
	"github.com/waconnect/waconnect-go/internal/store"
	"github.com/waconnect/waconnect-go/internal/wacore"
)

func TestRequestRouterResolve(t *testing.T) {
	r := NewRequestRouter(nil)
	id := NewRequestID()
	require.Len(t, id, 16)

	response := wacore.NewNode("iq", map[string]wacore.Attr{"id": wacore.String(id)})

	go func() {
		time.Sleep(10 * time.Millisecond)
		require.True(t, r.Resolve(id, response))
	}()

	got, err := r.Await(context.Background(), id)
	require.NoError(t, err)
	require.True(t, got.Equal(response))
}

func TestRequestRouterResolveUnknownIDReturnsFalse(t *testing.T) {
	r := NewRequestRouter(nil)
	require.False(t, r.Resolve("deadbeefdeadbeef", wacore.NewNode("iq", nil)))
}

// TestRequestRouterRegisterBeforeSendAvoidsRace demonstrates the ordering
// session.Session.Request relies on: Register must reserve the id before
// the caller's send goes out, so a reply that resolves in the window
// between the send and the eventual Wait call is still delivered instead
// of being dropped as unsolicited.
func TestRequestRouterRegisterBeforeSendAvoidsRace(t *testing.T) {
	r := NewRequestRouter(nil)
	id := NewRequestID()

	wait := r.Register(id)
	require.Equal(t, 1, r.PendingCount())

	// Simulate a reply arriving immediately after the send, before the
	// caller has reached Wait.
	response := wacore.NewNode("iq", map[string]wacore.Attr{"id": wacore.String(id)})
	require.True(t, r.Resolve(id, response))

	got, err := wait.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, got.Equal(response))
}

func TestRequestRouterAwaitCancelled(t *testing.T) {
	r := NewRequestRouter(nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Await(ctx, NewRequestID())
	require.Error(t, err)
	require.Equal(t, 0, r.PendingCount())
}

// newRatchetPair builds a connected sender/receiver RatchetState pair
// sharing a root key, mirroring how X3DH would hand off into the Double
// Ratchet (see signal/ratchet_test.go's helper).
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

// TestDispatcherMessageDecryptionRoundTrip exercises the full inbound
// <message><msg>envelope</msg></message> pipeline: ratchet-encrypt a
// padded plaintext, wrap it in an envelope and a node, dispatch it, and
// confirm the MessageSink receives the unpadded plaintext.
func TestDispatcherMessageDecryptionRoundTrip(t *testing.T) {
	sender, receiver := newRatchetPair(t)

	plaintext := []byte("hello from the other ratchet")
	padded := applyPadding(plaintext, 5)

	header, ciphertext, err := sender.Encrypt(padded, []byte("msg"))
	require.NoError(t, err)
	envelope := signal.EncodeEnvelope(header, ciphertext)

	sessions := signal.NewStore()
	require.NoError(t, sessions.WithRatchet("peer@s.whatsapp.net", func(*signal.RatchetState) (*signal.RatchetState, error) {
		return receiver, nil
	}))

	sink := store.NewMemoryMessageSink()
	reqRouter := NewRequestRouter(nil)
	var acked *wacore.Node
	sendAck := func(_ context.Context, n *wacore.Node) error {
		acked = n
		return nil
	}

	d := NewDispatcher(reqRouter, sessions, sink, sendAck, nil)

	msgNode := wacore.NewNode("message", map[string]wacore.Attr{
		"from": wacore.String("peer@s.whatsapp.net"),
		"id":   wacore.String("ABC123"),
	})
	msgNode.Content = []*wacore.Node{
		{Tag: "msg", Content: envelope},
	}

	require.NoError(t, d.Dispatch(context.Background(), msgNode))
	require.Len(t, sink.Messages, 1)
	require.Equal(t, plaintext, sink.Messages[0].Payload)
	require.Equal(t, "peer@s.whatsapp.net", sink.Messages[0].From)
	require.NotNil(t, acked)
	require.Equal(t, "ABC123", acked.AttrString("id"))
}

// TestDispatcherGroupMessageDecryptionRoundTrip exercises the skmsg path:
// a sender-key chain distributes a message, the receiver's chain (already
// installed as if a SenderKeyDistribution had been processed) decrypts it
// via the (group, participant) lookup.
func TestDispatcherGroupMessageDecryptionRoundTrip(t *testing.T) {
	sendingState, err := signal.NewSenderKeyState(rand.Reader, 7)
	require.NoError(t, err)

	plaintext := []byte("group announcement")
	padded := applyPadding(plaintext, 6)
	skMsg, err := sendingState.Encrypt(rand.Reader, padded, []byte("group123@g.us"))
	require.NoError(t, err)
	envelope := signal.EncodeSenderKeyEnvelope(skMsg)

	sessions := signal.NewStore()
	receiverState := signal.NewSenderKeyReceiverState(sendingState.Distribution())
	sessions.SetReceivingChain("group123@g.us", "alice@s.whatsapp.net", receiverState)

	sink := store.NewMemoryMessageSink()
	d := NewDispatcher(NewRequestRouter(nil), sessions, sink, nil, nil)

	msgNode := wacore.NewNode("message", map[string]wacore.Attr{
		"from":        wacore.String("group123@g.us"),
		"participant": wacore.String("alice@s.whatsapp.net"),
		"id":          wacore.String("G1"),
	})
	msgNode.Content = []*wacore.Node{{Tag: "skmsg", Content: envelope}}

	require.NoError(t, d.Dispatch(context.Background(), msgNode))
	require.Len(t, sink.Messages, 1)
	require.Equal(t, plaintext, sink.Messages[0].Payload)
}

func TestDispatcherGroupMessageWithoutDistributionIsDroppedNotFatal(t *testing.T) {
	sendingState, err := signal.NewSenderKeyState(rand.Reader, 1)
	require.NoError(t, err)
	skMsg, err := sendingState.Encrypt(rand.Reader, applyPadding([]byte("hi"), 4), []byte("group123@g.us"))
	require.NoError(t, err)
	envelope := signal.EncodeSenderKeyEnvelope(skMsg)

	sink := store.NewMemoryMessageSink()
	d := NewDispatcher(NewRequestRouter(nil), signal.NewStore(), sink, nil, nil)

	msgNode := wacore.NewNode("message", map[string]wacore.Attr{
		"from":        wacore.String("group123@g.us"),
		"participant": wacore.String("stranger@s.whatsapp.net"),
	})
	msgNode.Content = []*wacore.Node{{Tag: "skmsg", Content: envelope}}

	require.NoError(t, d.Dispatch(context.Background(), msgNode))
	require.Empty(t, sink.Messages)
}

func TestDispatcherMessageWithoutSessionIsDroppedNotFatal(t *testing.T) {
	sink := store.NewMemoryMessageSink()
	d := NewDispatcher(NewRequestRouter(nil), signal.NewStore(), sink, nil, nil)

	msgNode := wacore.NewNode("message", map[string]wacore.Attr{"from": wacore.String("stranger@s.whatsapp.net")})
	msgNode.Content = []*wacore.Node{{Tag: "msg", Content: []byte{0x03, 0, 0}}}

	require.NoError(t, d.Dispatch(context.Background(), msgNode))
	require.Empty(t, sink.Messages)
}

func TestDispatcherReceiptCollectsItemIDs(t *testing.T) {
	sink := store.NewMemoryMessageSink()
	d := NewDispatcher(NewRequestRouter(nil), signal.NewStore(), sink, nil, nil)

	receipt := wacore.NewNode("receipt", map[string]wacore.Attr{
		"from": wacore.String("peer@s.whatsapp.net"),
		"type": wacore.String("read"),
	})
	receipt.Content = []*wacore.Node{
		{Tag: "item", Attrs: map[string]wacore.Attr{"id": wacore.String("A1")}},
		{Tag: "item", Attrs: map[string]wacore.Attr{"id": wacore.String("A2")}},
	}

	require.NoError(t, d.Dispatch(context.Background(), receipt))
	require.Len(t, sink.Receipts, 1)
	require.Equal(t, []string{"A1", "A2"}, sink.Receipts[0].MessageIDs)
	require.Equal(t, "read", sink.Receipts[0].ReceiptType)
}

func TestDispatcherResolvesPendingIQInsteadOfRouting(t *testing.T) {
	reqRouter := NewRequestRouter(nil)
	id := NewRequestID()
	d := NewDispatcher(reqRouter, signal.NewStore(), store.NewMemoryMessageSink(), nil, nil)

	resultCh := make(chan *wacore.Node, 1)
	go func() {
		n, err := reqRouter.Await(context.Background(), id)
		require.NoError(t, err)
		resultCh <- n
	}()

	time.Sleep(5 * time.Millisecond)
	response := wacore.NewNode("iq", map[string]wacore.Attr{"id": wacore.String(id), "type": wacore.String("result")})
	require.NoError(t, d.Dispatch(context.Background(), response))

	select {
	case got := <-resultCh:
		require.True(t, got.Equal(response))
	case <-time.After(time.Second):
		t.Fatal("pending iq was never resolved")
	}
}

func TestUnpadRejectsInvalidLength(t *testing.T) {
	_, err := unpad([]byte{})
	require.Error(t, err)

	_, err = unpad([]byte{0x00})
	require.Error(t, err)

	_, err = unpad([]byte{0x10}) // 16 > 15
	require.Error(t, err)

	out, err := unpad(applyPadding([]byte("ok"), 3))
	require.NoError(t, err)
	require.Equal(t, []byte("ok"), out)
}

// applyPadding appends n copies of byte n, matching the "last byte names
// the pad length, 1..15" scheme the Dispatcher's unpad expects.
func applyPadding(data []byte, n byte) []byte {
	out := append([]byte(nil), data...)
	for i := byte(0); i < n; i++ {
		out = append(out, n)
	}
	return out
}
