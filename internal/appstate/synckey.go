package appstate

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SyncKeyError reports malformed app-state key material.
type SyncKeyError struct{ Message string }

func (e *SyncKeyError) Error() string { return e.Message }

// SyncKey is the symmetric material behind one app-state key generation,
// distributed via a peer ProtocolMessage.APP_STATE_SYNC_KEY_SHARE and
// HKDF-expanded into five derived keys.
type SyncKey struct {
	KeyID       [6]byte
	KeyData     [32]byte
	Fingerprint []byte
	Timestamp   int64

	IndexKey           [32]byte
	ValueEncryptionKey [32]byte
	ValueMacKey        [32]byte
	SnapshotMacKey     [32]byte
	PatchMacKey        [32]byte
}

// DeriveSyncKey expands keyData into the five named keys in one HKDF call,
// each carved from a contiguous 32-byte slice of a 160-byte output in the
// fixed order the protocol expects.
func DeriveSyncKey(keyID [6]byte, keyData [32]byte, fingerprint []byte, timestamp int64) (*SyncKey, error) {
	r := hkdf.New(sha256.New, keyData[:], nil, []byte("WhatsApp Mutation Keys"))
	out := make([]byte, 32*5)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("appstate: derive sync key: %w", err)
	}

	k := &SyncKey{KeyID: keyID, KeyData: keyData, Fingerprint: fingerprint, Timestamp: timestamp}
	copy(k.IndexKey[:], out[0:32])
	copy(k.ValueEncryptionKey[:], out[32:64])
	copy(k.ValueMacKey[:], out[64:96])
	copy(k.SnapshotMacKey[:], out[96:128])
	copy(k.PatchMacKey[:], out[128:160])
	return k, nil
}

// KeyRing tracks every SyncKey this device knows about, keyed by keyId, so
// patches referencing an older generation can still be verified.
type KeyRing struct {
	keys      map[[6]byte]*SyncKey
	latest    [6]byte
	hasLatest bool
}

// NewKeyRing constructs an empty key ring.
func NewKeyRing() *KeyRing {
	return &KeyRing{keys: make(map[[6]byte]*SyncKey)}
}

// Add installs a newly-received sync key and marks it latest.
func (k *KeyRing) Add(key *SyncKey) {
	k.keys[key.KeyID] = key
	k.latest = key.KeyID
	k.hasLatest = true
}

// Get looks up a key by ID.
func (k *KeyRing) Get(id [6]byte) (*SyncKey, bool) {
	key, ok := k.keys[id]
	return key, ok
}

// Latest returns the most recently added key, used when building a new
// outbound mutation.
func (k *KeyRing) Latest() (*SyncKey, bool) {
	if !k.hasLatest {
		return nil, false
	}
	return k.keys[k.latest], true
}
