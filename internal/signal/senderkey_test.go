package signal

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSenderKeyRoundTrip(t *testing.T) {
	sender, err := NewSenderKeyState(rand.Reader, 1)
	require.NoError(t, err)

	receiver := NewSenderKeyReceiverState(sender.Distribution())

	msg1, err := sender.Encrypt(rand.Reader, []byte("hello group"), []byte("group-ad"))
	require.NoError(t, err)
	pt1, err := receiver.Decrypt(msg1, []byte("group-ad"))
	require.NoError(t, err)
	require.Equal(t, "hello group", string(pt1))

	msg2, err := sender.Encrypt(rand.Reader, []byte("second"), []byte("group-ad"))
	require.NoError(t, err)
	pt2, err := receiver.Decrypt(msg2, []byte("group-ad"))
	require.NoError(t, err)
	require.Equal(t, "second", string(pt2))
}

func TestSenderKeyRejectsReplay(t *testing.T) {
	sender, err := NewSenderKeyState(rand.Reader, 1)
	require.NoError(t, err)
	receiver := NewSenderKeyReceiverState(sender.Distribution())

	msg, err := sender.Encrypt(rand.Reader, []byte("once"), nil)
	require.NoError(t, err)

	_, err = receiver.Decrypt(msg, nil)
	require.NoError(t, err)

	_, err = receiver.Decrypt(msg, nil)
	require.Error(t, err)
}

// TestSenderKeyOutOfOrderFastForward confirms a message whose iteration is
// jumped over during fast-forward is retained in the skipped-key buffer and
// can still be decrypted after the fact, not just dropped.
func TestSenderKeyOutOfOrderFastForward(t *testing.T) {
	sender, err := NewSenderKeyState(rand.Reader, 1)
	require.NoError(t, err)
	receiver := NewSenderKeyReceiverState(sender.Distribution())

	msg0, err := sender.Encrypt(rand.Reader, []byte("skip0"), nil)
	require.NoError(t, err)
	msg1, err := sender.Encrypt(rand.Reader, []byte("skip1"), nil)
	require.NoError(t, err)
	msg2, err := sender.Encrypt(rand.Reader, []byte("deliver"), nil)
	require.NoError(t, err)

	pt, err := receiver.Decrypt(msg2, nil)
	require.NoError(t, err)
	require.Equal(t, "deliver", string(pt))
	require.Equal(t, 2, receiver.SkippedKeyCount())

	pt1, err := receiver.Decrypt(msg1, nil)
	require.NoError(t, err)
	require.Equal(t, "skip1", string(pt1))
	require.Equal(t, 1, receiver.SkippedKeyCount())

	pt0, err := receiver.Decrypt(msg0, nil)
	require.NoError(t, err)
	require.Equal(t, "skip0", string(pt0))
	require.Equal(t, 0, receiver.SkippedKeyCount())

	_, err = receiver.Decrypt(msg0, nil)
	require.Error(t, err, "a skipped key consumed once must not be replayable")
}

// TestSenderKeyReceiverSkippedKeysAreBounded confirms the skipped-key
// buffer evicts FIFO once it reaches the 2000-entry cap, mirroring
// ratchet.go's RatchetState bound.
func TestSenderKeyReceiverSkippedKeysAreBounded(t *testing.T) {
	sender, err := NewSenderKeyState(rand.Reader, 1)
	require.NoError(t, err)
	receiver := NewSenderKeyReceiverState(sender.Distribution())

	var last SenderKeyMessage
	for i := 0; i < maxSkippedKeys+10; i++ {
		last, err = sender.Encrypt(rand.Reader, []byte("msg"), nil)
		require.NoError(t, err)
	}
	_, err = receiver.Decrypt(last, nil)
	require.NoError(t, err)
	require.Equal(t, maxSkippedKeys, receiver.SkippedKeyCount())
}
