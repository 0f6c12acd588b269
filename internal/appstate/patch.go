package appstate

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
)

// Collection names the five synchronized app-state collections.
type Collection string

const (
	CollectionCriticalBlock      Collection = "critical_block"
	CollectionCriticalUnblockLow Collection = "critical_unblock_low"
	CollectionRegularHigh        Collection = "regular_high"
	CollectionRegularLow         Collection = "regular_low"
	CollectionRegular            Collection = "regular"
)

// Patch is one versioned batch of mutations for a collection.
type Patch struct {
	Version     uint64
	KeyID       [6]byte
	Mutations   []*Mutation
	SnapshotMAC []byte
	PatchMAC    []byte
}

// ComputePatchMAC computes `HMAC-SHA256(patchMacKey, snapshotMac ||
// concat(value_macs) || u64_be(version) || collection_name_bytes)`.
func ComputePatchMAC(key *SyncKey, snapshotMAC []byte, mutations []*Mutation, version uint64, collection Collection) []byte {
	h := hmac.New(sha256.New, key.PatchMacKey[:])
	h.Write(snapshotMAC)
	for _, m := range mutations {
		h.Write(m.ValueMAC)
	}
	var versionBuf [8]byte
	binary.BigEndian.PutUint64(versionBuf[:], version)
	h.Write(versionBuf[:])
	h.Write([]byte(collection))
	return h.Sum(nil)
}

// ComputeSnapshotMAC authenticates the resulting collection state after a
// snapshot or sequence of patches has been applied.
func ComputeSnapshotMAC(key *SyncKey, lthash Hash, version uint64, collection Collection) []byte {
	h := hmac.New(sha256.New, key.SnapshotMacKey[:])
	h.Write(lthash[:])
	var versionBuf [8]byte
	binary.BigEndian.PutUint64(versionBuf[:], version)
	h.Write(versionBuf[:])
	h.Write([]byte(collection))
	return h.Sum(nil)
}

// Snapshot is the full authoritative state for a collection, downloaded as
// an ExternalBlobReference via BlobStore.
type Snapshot struct {
	Version   uint64
	KeyID     [6]byte
	Mutations []*Mutation
	MAC       []byte
}
