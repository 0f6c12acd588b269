package signal

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestX3DHPair(t *testing.T) (rootKey []byte, senderRemotePub [32]byte, receiverPriv, receiverPub [32]byte) {
	t.Helper()
	var priv [32]byte
	_, err := rand.Read(priv[:])
	require.NoError(t, err)

	pk, err := GeneratePreKey(rand.Reader, 1)
	require.NoError(t, err)

	rk := make([]byte, 32)
	_, err = rand.Read(rk)
	require.NoError(t, err)

	return rk, pk.Public, pk.Private, pk.Public
}

// TestRatchetBasicRoundTrip sends a handful of ordered messages sender ->
// receiver and checks every one decrypts.
func TestRatchetBasicRoundTrip(t *testing.T) {
	rootKey, remotePub, receiverPriv, receiverPub := newTestX3DHPair(t)

	sender, err := NewRatchetSender(rand.Reader, rootKey, remotePub)
	require.NoError(t, err)
	receiver := NewRatchetReceiver(rootKey, receiverPriv, receiverPub)

	for i := 0; i < 5; i++ {
		header, ct, err := sender.Encrypt([]byte("message"), []byte("ad"))
		require.NoError(t, err)

		pt, err := receiver.Decrypt(rand.Reader, header, ct, []byte("ad"))
		require.NoError(t, err)
		require.Equal(t, "message", string(pt))
	}
}

// TestRatchetSkippedKeyBound is Testable Property 5: given a run of
// messages sent in one direction, processing only the first and the last
// (the rest arrive out of order and are skipped over) succeeds, the
// receiver never retains more than 2000 skipped keys, and the oldest
// skipped entries are evicted FIFO once the gap exceeds that bound.
func TestRatchetSkippedKeyBound(t *testing.T) {
	rootKey, remotePub, receiverPriv, receiverPub := newTestX3DHPair(t)

	sender, err := NewRatchetSender(rand.Reader, rootKey, remotePub)
	require.NoError(t, err)
	receiver := NewRatchetReceiver(rootKey, receiverPriv, receiverPub)

	const total = 2003
	type sealed struct {
		header MessageHeader
		ct     []byte
	}
	messages := make([]sealed, total)
	for i := 0; i < total; i++ {
		h, ct, err := sender.Encrypt([]byte("m"), nil)
		require.NoError(t, err)
		messages[i] = sealed{header: h, ct: ct}
	}

	pt0, err := receiver.Decrypt(rand.Reader, messages[0].header, messages[0].ct, nil)
	require.NoError(t, err)
	require.Equal(t, "m", string(pt0))

	ptLast, err := receiver.Decrypt(rand.Reader, messages[total-1].header, messages[total-1].ct, nil)
	require.NoError(t, err)
	require.Equal(t, "m", string(ptLast))

	require.LessOrEqual(t, receiver.SkippedKeyCount(), maxSkippedKeys)

	// The oldest skipped keys (around message #0) have been evicted FIFO,
	// so message #1 (long since pushed out of the 2000-entry window) can
	// no longer be decrypted.
	_, err = receiver.Decrypt(rand.Reader, messages[1].header, messages[1].ct, nil)
	require.Error(t, err)
}

// TestRatchetOutOfOrderDelivery confirms a message skipped over by a later
// arrival can still be decrypted afterward, within the bound.
func TestRatchetOutOfOrderDelivery(t *testing.T) {
	rootKey, remotePub, receiverPriv, receiverPub := newTestX3DHPair(t)

	sender, err := NewRatchetSender(rand.Reader, rootKey, remotePub)
	require.NoError(t, err)
	receiver := NewRatchetReceiver(rootKey, receiverPriv, receiverPub)

	h0, ct0, err := sender.Encrypt([]byte("zero"), nil)
	require.NoError(t, err)
	h1, ct1, err := sender.Encrypt([]byte("one"), nil)
	require.NoError(t, err)

	// Deliver message 1 first.
	pt1, err := receiver.Decrypt(rand.Reader, h1, ct1, nil)
	require.NoError(t, err)
	require.Equal(t, "one", string(pt1))

	// Message 0 arrives late; it was skipped and buffered.
	pt0, err := receiver.Decrypt(rand.Reader, h0, ct0, nil)
	require.NoError(t, err)
	require.Equal(t, "zero", string(pt0))
}
