package signal

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// maxSkippedKeys bounds the per-session skipped-message-key store at 2000
// entries, evicted FIFO once full.
const maxSkippedKeys = 2000

// RatchetError reports a ratchet or AEAD failure. Any decrypt failure
// terminates the affected message only, not the whole ratchet session.
type RatchetError struct{ Message string }

func (e *RatchetError) Error() string { return e.Message }

var ErrSkippedKeyNotFound = errors.New("signal: skipped message key not found")

// skippedKey identifies one buffered out-of-order message key by the chain
// it was skipped on (the sender ratchet public key) and its index.
type skippedKey struct {
	dhPub [32]byte
	n     uint32
}

// RatchetState is one party's view of a Double Ratchet session, mirroring
// the dr.State shape from the reference implementation but with 64-bit-
// safe uint32 counters and a bounded, FIFO skipped-key buffer instead of an
// unbounded map.
type RatchetState struct {
	dhSelfPriv [32]byte
	dhSelfPub  [32]byte
	dhRemote   [32]byte
	hasRemote  bool

	rootKey      [32]byte
	chainKeySend [32]byte
	chainKeyRecv [32]byte
	hasSendChain bool
	hasRecvChain bool

	sendN        uint32
	recvN        uint32
	prevChainLen uint32

	skippedOrder []skippedKey
	skipped      map[skippedKey][]byte
}

// NewRatchetSender starts a ratchet session as the X3DH initiator: rootKey
// is the X3DH shared secret, remotePub is the responder's signed prekey
// (the first DH ratchet public key we send against).
func NewRatchetSender(rng io.Reader, rootKey []byte, remotePub [32]byte) (*RatchetState, error) {
	if rng == nil {
		rng = rand.Reader
	}
	s := &RatchetState{
		dhRemote:  remotePub,
		hasRemote: true,
		skipped:   make(map[skippedKey][]byte),
	}
	copy(s.rootKey[:], rootKey)

	var priv [32]byte
	if _, err := io.ReadFull(rng, priv[:]); err != nil {
		return nil, fmt.Errorf("signal: ratchet: generate DH key: %w", err)
	}
	s.dhSelfPriv = priv
	curve25519.ScalarBaseMult(&s.dhSelfPub, &priv)

	if err := s.dhRatchetSend(); err != nil {
		return nil, err
	}
	return s, nil
}

// NewRatchetReceiver starts a ratchet session as the X3DH responder:
// selfPriv/selfPub is the signed prekey keypair the initiator DH'd
// against, so no send-side ratchet step runs until the first received
// message supplies the peer's DH public key.
func NewRatchetReceiver(rootKey []byte, selfPriv, selfPub [32]byte) *RatchetState {
	s := &RatchetState{
		dhSelfPriv: selfPriv,
		dhSelfPub:  selfPub,
		skipped:    make(map[skippedKey][]byte),
	}
	copy(s.rootKey[:], rootKey)
	return s
}

// MessageHeader accompanies every ciphertext, per Double Ratchet protocol.
type MessageHeader struct {
	DHPub [32]byte
	PN    uint32
	N     uint32
}

func kdfRootChain(rootKey, dhOut [32]byte) (newRoot, chainKey [32]byte, err error) {
	r := hkdf.New(sha256.New, dhOut[:], rootKey[:], []byte("WAConnect_Ratchet_Root"))
	out := make([]byte, 64)
	if _, err := io.ReadFull(r, out); err != nil {
		return newRoot, chainKey, fmt.Errorf("signal: ratchet: kdf root: %w", err)
	}
	copy(newRoot[:], out[:32])
	copy(chainKey[:], out[32:])
	return newRoot, chainKey, nil
}

// kdfChain advances a symmetric chain key, returning the next chain key and
// a message key, per the reference implementation's KDFck.
func kdfChain(chainKey [32]byte) (nextChain [32]byte, msgKey [32]byte) {
	mac1 := hmac.New(sha256.New, chainKey[:])
	mac1.Write([]byte{0x01})
	copy(msgKey[:], mac1.Sum(nil))

	mac2 := hmac.New(sha256.New, chainKey[:])
	mac2.Write([]byte{0x02})
	copy(nextChain[:], mac2.Sum(nil))
	return nextChain, msgKey
}

func (s *RatchetState) dhRatchetSend() error {
	shared, err := curve25519.X25519(s.dhSelfPriv[:], s.dhRemote[:])
	if err != nil {
		return fmt.Errorf("signal: ratchet: dh: %w", err)
	}
	var dhOut [32]byte
	copy(dhOut[:], shared)

	newRoot, chainKey, err := kdfRootChain(s.rootKey, dhOut)
	if err != nil {
		return err
	}
	s.rootKey = newRoot
	s.chainKeySend = chainKey
	s.hasSendChain = true
	return nil
}

func (s *RatchetState) dhRatchetRecv(rng io.Reader, remotePub [32]byte) error {
	if rng == nil {
		rng = rand.Reader
	}
	s.prevChainLen = s.sendN
	s.sendN = 0
	s.recvN = 0
	s.dhRemote = remotePub
	s.hasRemote = true

	sharedRecv, err := curve25519.X25519(s.dhSelfPriv[:], s.dhRemote[:])
	if err != nil {
		return fmt.Errorf("signal: ratchet: dh: %w", err)
	}
	var dhOutRecv [32]byte
	copy(dhOutRecv[:], sharedRecv)
	newRoot, chainKey, err := kdfRootChain(s.rootKey, dhOutRecv)
	if err != nil {
		return err
	}
	s.rootKey = newRoot
	s.chainKeyRecv = chainKey
	s.hasRecvChain = true

	var priv [32]byte
	if _, err := io.ReadFull(rng, priv[:]); err != nil {
		return fmt.Errorf("signal: ratchet: generate DH key: %w", err)
	}
	s.dhSelfPriv = priv
	curve25519.ScalarBaseMult(&s.dhSelfPub, &priv)

	return s.dhRatchetSend()
}

// Encrypt advances the sending chain and seals plaintext with the
// resulting message key, returning the header the peer needs to derive the
// same key.
func (s *RatchetState) Encrypt(plaintext, associatedData []byte) (MessageHeader, []byte, error) {
	if !s.hasSendChain {
		return MessageHeader{}, nil, &RatchetError{Message: "ratchet: no sending chain established"}
	}
	next, msgKey := kdfChain(s.chainKeySend)
	header := MessageHeader{DHPub: s.dhSelfPub, PN: s.prevChainLen, N: s.sendN}

	ct, err := seal(msgKey, plaintext, headerAD(associatedData, header))
	if err != nil {
		return MessageHeader{}, nil, err
	}

	s.chainKeySend = next
	s.sendN++
	return header, ct, nil
}

// Decrypt resolves header.DHPub/N against the skipped-key buffer first,
// then the current receiving chain, DH-ratcheting forward (and skipping any
// intervening message keys into the bounded buffer) when the peer's DH
// public key changes.
func (s *RatchetState) Decrypt(rng io.Reader, header MessageHeader, ciphertext, associatedData []byte) ([]byte, error) {
	if mk, ok := s.takeSkipped(header.DHPub, header.N); ok {
		return open(mk, ciphertext, headerAD(associatedData, header))
	}

	if !s.hasRemote || header.DHPub != s.dhRemote {
		if s.hasRecvChain {
			if err := s.skipRecv(header.PN); err != nil {
				return nil, err
			}
		}
		if err := s.dhRatchetRecv(rng, header.DHPub); err != nil {
			return nil, err
		}
	}

	if err := s.skipRecv(header.N); err != nil {
		return nil, err
	}

	next, msgKey := kdfChain(s.chainKeyRecv)
	plaintext, err := open(msgKey, ciphertext, headerAD(associatedData, header))
	if err != nil {
		return nil, err
	}
	s.chainKeyRecv = next
	s.recvN++
	return plaintext, nil
}

// skipRecv advances the receiving chain up to (not including) target,
// storing each skipped message key so an out-of-order arrival can still be
// decrypted later.
func (s *RatchetState) skipRecv(target uint32) error {
	if !s.hasRecvChain {
		return nil
	}
	for s.recvN < target {
		next, msgKey := kdfChain(s.chainKeyRecv)
		s.storeSkipped(s.dhRemote, s.recvN, msgKey[:])
		s.chainKeyRecv = next
		s.recvN++
	}
	return nil
}

func (s *RatchetState) storeSkipped(dhPub [32]byte, n uint32, key []byte) {
	k := skippedKey{dhPub: dhPub, n: n}
	if _, exists := s.skipped[k]; exists {
		return
	}
	if len(s.skippedOrder) >= maxSkippedKeys {
		oldest := s.skippedOrder[0]
		s.skippedOrder = s.skippedOrder[1:]
		delete(s.skipped, oldest)
	}
	stored := append([]byte(nil), key...)
	s.skipped[k] = stored
	s.skippedOrder = append(s.skippedOrder, k)
}

func (s *RatchetState) takeSkipped(dhPub [32]byte, n uint32) ([]byte, bool) {
	k := skippedKey{dhPub: dhPub, n: n}
	key, ok := s.skipped[k]
	if !ok {
		return nil, false
	}
	delete(s.skipped, k)
	for i, o := range s.skippedOrder {
		if o == k {
			s.skippedOrder = append(s.skippedOrder[:i], s.skippedOrder[i+1:]...)
			break
		}
	}
	return key, true
}

func headerAD(associatedData []byte, h MessageHeader) []byte {
	out := make([]byte, 0, len(associatedData)+40)
	out = append(out, associatedData...)
	out = append(out, h.DHPub[:]...)
	out = append(out, byte(h.PN>>24), byte(h.PN>>16), byte(h.PN>>8), byte(h.PN))
	out = append(out, byte(h.N>>24), byte(h.N>>16), byte(h.N>>8), byte(h.N))
	return out
}

func seal(key [32]byte, plaintext, associatedData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("signal: seal: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("signal: seal: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	return gcm.Seal(nonce[:0:gcm.NonceSize()], nonce, plaintext, associatedData), nil
}

func open(key [32]byte, ciphertext, associatedData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("signal: open: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("signal: open: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, &RatchetError{Message: "ciphertext shorter than nonce"}
	}
	nonce := ciphertext[:gcm.NonceSize()]
	pt, err := gcm.Open(nil, nonce, ciphertext[gcm.NonceSize():], associatedData)
	if err != nil {
		return nil, &RatchetError{Message: fmt.Sprintf("decrypt: %v", err)}
	}
	return pt, nil
}

// SkippedKeyCount reports how many skipped keys are currently retained,
// used by tests asserting the 2000-entry bound.
func (s *RatchetState) SkippedKeyCount() int {
	return len(s.skippedOrder)
}

// Established reports whether this session has completed at least one
// round trip: the initiator hasn't yet received a reply and so must keep
// attaching its prekey bundle (a pkmsg) to every send until it has.
func (s *RatchetState) Established() bool {
	return s.hasRecvChain
}
