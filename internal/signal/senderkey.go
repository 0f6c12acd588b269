package signal

import (
	"crypto/rand"
	"fmt"
	"io"
)

// SenderKeyState is a group's one-way symmetric ratchet: a single chain key
// shared by every member, advanced per message and signed with a signing
// key dedicated to this chain so recipients can verify provenance
// without a pairwise session per member.
type SenderKeyState struct {
	ChainID     uint32
	Iteration   uint32
	ChainKey    [32]byte
	SigningPriv [32]byte
	SigningPub  [32]byte
}

// SenderKeyDistribution is sent once to each group member (wrapped in a
// pairwise Double Ratchet message) so they can initialize their copy of the
// sender key chain.
type SenderKeyDistribution struct {
	ChainID    uint32
	Iteration  uint32
	ChainKey   [32]byte
	SigningPub [32]byte
}

// NewSenderKeyState creates a fresh group sending chain: a random chain key
// and a dedicated signing keypair used only for this chain.
func NewSenderKeyState(rng io.Reader, chainID uint32) (*SenderKeyState, error) {
	if rng == nil {
		rng = rand.Reader
	}
	s := &SenderKeyState{ChainID: chainID}
	if _, err := io.ReadFull(rng, s.ChainKey[:]); err != nil {
		return nil, fmt.Errorf("signal: senderkey: generate chain key: %w", err)
	}
	signing, err := GenerateIdentityKeyPair(rng)
	if err != nil {
		return nil, err
	}
	s.SigningPriv = signing.Private
	s.SigningPub = signing.SigningPublic
	return s, nil
}

// Distribution packages the current chain state for a new group member.
func (s *SenderKeyState) Distribution() SenderKeyDistribution {
	return SenderKeyDistribution{
		ChainID:    s.ChainID,
		Iteration:  s.Iteration,
		ChainKey:   s.ChainKey,
		SigningPub: s.SigningPub,
	}
}

// SenderKeyMessage is one encrypted group message.
type SenderKeyMessage struct {
	ChainID    uint32
	Iteration  uint32
	Ciphertext []byte
	Signature  [64]byte
}

// Encrypt advances the chain and seals plaintext, signing the envelope with
// the chain's dedicated signing key.
func (s *SenderKeyState) Encrypt(rng io.Reader, plaintext, associatedData []byte) (SenderKeyMessage, error) {
	next, msgKey := kdfChain(s.ChainKey)
	iteration := s.Iteration

	ct, err := seal(msgKey, plaintext, senderKeyAD(associatedData, s.ChainID, iteration))
	if err != nil {
		return SenderKeyMessage{}, err
	}

	sig, err := Sign(rng, s.SigningPriv, ct)
	if err != nil {
		return SenderKeyMessage{}, err
	}

	s.ChainKey = next
	s.Iteration++

	return SenderKeyMessage{ChainID: s.ChainID, Iteration: iteration, Ciphertext: ct, Signature: sig}, nil
}

// SenderKeyReceiverState tracks one remote member's sender-key chain from
// the recipient's side, ratcheting forward on receipt (group chains are
// one-directional: a recipient never sends on another member's chain).
// Iterations skipped over during a fast-forward are retained in a bounded,
// FIFO-evicted buffer (mirroring ratchet.go's storeSkipped/takeSkipped) so
// a message that arrives out of order can still be decrypted afterward.
type SenderKeyReceiverState struct {
	ChainID    uint32
	iteration  uint32
	chainKey   [32]byte
	signingPub [32]byte

	skippedOrder []uint32
	skipped      map[uint32][]byte
}

// NewSenderKeyReceiverState initializes receive-side state from a
// distribution message.
func NewSenderKeyReceiverState(dist SenderKeyDistribution) *SenderKeyReceiverState {
	return &SenderKeyReceiverState{
		ChainID:    dist.ChainID,
		iteration:  dist.Iteration,
		chainKey:   dist.ChainKey,
		signingPub: dist.SigningPub,
		skipped:    make(map[uint32][]byte),
	}
}

// Decrypt verifies the envelope signature, then resolves msg.Iteration
// against the skipped-key buffer first and the live chain second,
// fast-forwarding (and retaining any newly skipped keys) when the message
// arrived ahead of the current position.
func (r *SenderKeyReceiverState) Decrypt(msg SenderKeyMessage, associatedData []byte) ([]byte, error) {
	if msg.ChainID != r.ChainID {
		return nil, &RatchetError{Message: "sender key: chain id mismatch"}
	}
	if !Verify(r.signingPub, msg.Ciphertext, msg.Signature) {
		return nil, &RatchetError{Message: "sender key: signature verification failed"}
	}

	if msg.Iteration < r.iteration {
		msgKey, ok := r.takeSkipped(msg.Iteration)
		if !ok {
			return nil, &RatchetError{Message: "sender key: message iteration already consumed"}
		}
		return open(msgKey, msg.Ciphertext, senderKeyAD(associatedData, msg.ChainID, msg.Iteration))
	}

	chainKey := r.chainKey
	var msgKey [32]byte
	for i := r.iteration; i <= msg.Iteration; i++ {
		chainKey, msgKey = kdfChain(chainKey)
		if i < msg.Iteration {
			r.storeSkipped(i, msgKey[:])
		}
	}

	pt, err := open(msgKey, msg.Ciphertext, senderKeyAD(associatedData, msg.ChainID, msg.Iteration))
	if err != nil {
		return nil, err
	}

	r.chainKey = chainKey
	r.iteration = msg.Iteration + 1
	return pt, nil
}

func (r *SenderKeyReceiverState) storeSkipped(iteration uint32, key []byte) {
	if _, exists := r.skipped[iteration]; exists {
		return
	}
	if len(r.skippedOrder) >= maxSkippedKeys {
		oldest := r.skippedOrder[0]
		r.skippedOrder = r.skippedOrder[1:]
		delete(r.skipped, oldest)
	}
	stored := append([]byte(nil), key...)
	r.skipped[iteration] = stored
	r.skippedOrder = append(r.skippedOrder, iteration)
}

func (r *SenderKeyReceiverState) takeSkipped(iteration uint32) ([]byte, bool) {
	key, ok := r.skipped[iteration]
	if !ok {
		return nil, false
	}
	delete(r.skipped, iteration)
	for i, it := range r.skippedOrder {
		if it == iteration {
			r.skippedOrder = append(r.skippedOrder[:i], r.skippedOrder[i+1:]...)
			break
		}
	}
	return key, true
}

// SkippedKeyCount reports how many skipped keys are currently retained,
// used by tests asserting the 2000-entry bound.
func (r *SenderKeyReceiverState) SkippedKeyCount() int {
	return len(r.skippedOrder)
}

func senderKeyAD(associatedData []byte, chainID, iteration uint32) []byte {
	out := make([]byte, 0, len(associatedData)+8)
	out = append(out, associatedData...)
	out = append(out, byte(chainID>>24), byte(chainID>>16), byte(chainID>>8), byte(chainID))
	out = append(out, byte(iteration>>24), byte(iteration>>16), byte(iteration>>8), byte(iteration))
	return out
}
