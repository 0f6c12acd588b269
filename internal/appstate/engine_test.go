package appstate

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T) (*Engine, *SyncKey) {
	t.Helper()
	var keyID [6]byte
	copy(keyID[:], []byte("key001"))
	var keyData [32]byte
	copy(keyData[:], []byte("0123456789abcdef0123456789abcdef"))

	key, err := DeriveSyncKey(keyID, keyData, nil, 0)
	require.NoError(t, err)

	ring := NewKeyRing()
	ring.Add(key)

	return NewEngine(ring, nil), key
}

// TestEngineBuildAndApplyPatch exercises the push+pull-loopback path: build
// a patch locally, then apply it as if it had come back from the server
// .
func TestEngineBuildAndApplyPatch(t *testing.T) {
	engine, _ := newTestEngine(t)

	mutation := &Mutation{Operation: OpSet, Index: []byte("chat:123"), Value: []byte(`{"mute":true}`)}
	patch, err := engine.BuildPatch(CollectionRegular, []*Mutation{mutation})
	require.NoError(t, err)
	require.Equal(t, uint64(1), patch.Version)

	require.NoError(t, engine.ApplyPatch(CollectionRegular, patch))

	state := engine.State(CollectionRegular)
	require.Equal(t, uint64(1), state.Version)
	require.Contains(t, state.Index, string(mutation.IndexMAC))
}

// TestEngineIdempotence is Testable Property 6: applying the same patch
// twice is rejected on the second apply via version comparison, and the
// local state is unchanged.
func TestEngineIdempotence(t *testing.T) {
	engine, _ := newTestEngine(t)

	mutation := &Mutation{Operation: OpSet, Index: []byte("chat:123"), Value: []byte("v1")}
	patch, err := engine.BuildPatch(CollectionRegular, []*Mutation{mutation})
	require.NoError(t, err)
	require.NoError(t, engine.ApplyPatch(CollectionRegular, patch))

	before := engine.State(CollectionRegular)

	err = engine.ApplyPatch(CollectionRegular, patch)
	require.Error(t, err)

	after := engine.State(CollectionRegular)
	require.Equal(t, before.Version, after.Version)
	require.Equal(t, before.Hash, after.Hash)
}

// TestEngineSetThenRemove confirms a REMOVE mutation both deletes the index
// entry and folds the hash back to its pre-SET value.
func TestEngineSetThenRemove(t *testing.T) {
	engine, _ := newTestEngine(t)

	setMutation := &Mutation{Operation: OpSet, Index: []byte("chat:123"), Value: []byte("v1")}
	patch1, err := engine.BuildPatch(CollectionRegular, []*Mutation{setMutation})
	require.NoError(t, err)
	require.NoError(t, engine.ApplyPatch(CollectionRegular, patch1))

	baseline := engine.State(CollectionRegular)
	require.NotZero(t, len(baseline.Index))

	removeMutation := &Mutation{Operation: OpRemove, Index: []byte("chat:123")}
	patch2, err := engine.BuildPatch(CollectionRegular, []*Mutation{removeMutation})
	require.NoError(t, err)
	require.NoError(t, engine.ApplyPatch(CollectionRegular, patch2))

	final := engine.State(CollectionRegular)
	require.Empty(t, final.Index)
	require.Equal(t, Hash{}, final.Hash)
}

// TestEngineApplyPatchesWithRetryResyncsOnMacMismatch is Scenario E: a
// MAC-mismatched patch triggers a collection reset and a resync fetch,
// succeeding once the refetched patch sequence verifies.
func TestEngineApplyPatchesWithRetryResyncsOnMacMismatch(t *testing.T) {
	engine, _ := newTestEngine(t)

	mutation := &Mutation{Operation: OpSet, Index: []byte("chat:123"), Value: []byte("v1")}
	goodPatch, err := engine.BuildPatch(CollectionRegular, []*Mutation{mutation})
	require.NoError(t, err)

	corrupt := *goodPatch
	corrupt.PatchMAC = append([]byte(nil), goodPatch.PatchMAC...)
	corrupt.PatchMAC[0] ^= 0xFF

	fetchCalls := 0
	fetch := func() ([]*Patch, error) {
		fetchCalls++
		return []*Patch{goodPatch}, nil
	}

	err = engine.ApplyPatchesWithRetry(CollectionRegular, []*Patch{&corrupt}, fetch)
	require.NoError(t, err)
	require.Equal(t, 1, fetchCalls)

	state := engine.State(CollectionRegular)
	require.Equal(t, uint64(1), state.Version)
	require.Contains(t, state.Index, string(mutation.IndexMAC))
}

// TestEngineApplyPatchesWithRetryFailsFatallyAfterMaxAttempts confirms a
// persistently MAC-mismatched patch exhausts MaxCollectionResyncAttempts
// and is surfaced as a fatal error, with the collection left reset rather
// than half-applied.
func TestEngineApplyPatchesWithRetryFailsFatallyAfterMaxAttempts(t *testing.T) {
	engine, _ := newTestEngine(t)

	mutation := &Mutation{Operation: OpSet, Index: []byte("chat:123"), Value: []byte("v1")}
	goodPatch, err := engine.BuildPatch(CollectionRegular, []*Mutation{mutation})
	require.NoError(t, err)

	corrupt := *goodPatch
	corrupt.PatchMAC = append([]byte(nil), goodPatch.PatchMAC...)
	corrupt.PatchMAC[0] ^= 0xFF

	fetchCalls := 0
	fetch := func() ([]*Patch, error) {
		fetchCalls++
		return []*Patch{&corrupt}, nil
	}

	err = engine.ApplyPatchesWithRetry(CollectionRegular, []*Patch{&corrupt}, fetch)
	require.Error(t, err)
	require.Equal(t, MaxCollectionResyncAttempts, fetchCalls)

	state := engine.State(CollectionRegular)
	require.Equal(t, uint64(0), state.Version, "collection must end reset, not half-applied")
}

// TestEngineCollectionsAreIndependent confirms two collections' versions
// and hashes evolve independently.
func TestEngineCollectionsAreIndependent(t *testing.T) {
	engine, _ := newTestEngine(t)

	m := &Mutation{Operation: OpSet, Index: []byte("a"), Value: []byte("b")}
	patch, err := engine.BuildPatch(CollectionRegularHigh, []*Mutation{m})
	require.NoError(t, err)
	require.NoError(t, engine.ApplyPatch(CollectionRegularHigh, patch))

	require.Equal(t, uint64(1), engine.State(CollectionRegularHigh).Version)
	require.Equal(t, uint64(0), engine.State(CollectionRegular).Version)
}
