package appstate

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// IndexEntry is one entry of a collection's authoritative index->value-mac
// map, the CRDT's ground truth alongside the rolling LTHash.
type IndexEntry struct {
	ValueMAC []byte
}

// State is a collection's CRDT snapshot, mutated in place under the
// collection's serialization guarantee and persisted after each
// successfully applied patch.
type State struct {
	Name    Collection
	Version uint64
	Hash    Hash
	Index   map[string]IndexEntry
}

func newState(name Collection) *State {
	return &State{Name: name, Index: make(map[string]IndexEntry)}
}

// clone returns a deep copy so a failed apply never corrupts the committed
// state (applies are all-or-nothing per patch).
func (s *State) clone() *State {
	c := &State{Name: s.Name, Version: s.Version, Hash: s.Hash, Index: make(map[string]IndexEntry, len(s.Index))}
	for k, v := range s.Index {
		c.Index[k] = v
	}
	return c
}

// EngineError reports a MAC failure, version conflict, or other app-state
// protocol violation.
type EngineError struct{ Message string }

func (e *EngineError) Error() string { return e.Message }

// job is one unit of work handed to a collection's serial worker.
type job struct {
	run  func(*State) (*State, error)
	done chan error
}

// collectionWorker owns one collection's goroutine and State, guaranteeing
// pushes and pulls for that collection never interleave.
type collectionWorker struct {
	queue chan job
	state *State
}

// Engine coordinates the five app-state collections, each behind its own
// serial worker so pulls across collections can run in parallel while
// writes within one collection stay strictly ordered — modeled on the
// teacher's mutex-guarded, single-purpose handler style (NoiseHandler) but
// generalized from a lock to a worker-per-collection queue.
type Engine struct {
	log *zap.SugaredLogger

	mu      sync.Mutex
	workers map[Collection]*collectionWorker

	keys *KeyRing
}

// NewEngine constructs an Engine with no collections loaded yet; each is
// created lazily on first use.
func NewEngine(keys *KeyRing, log *zap.SugaredLogger) *Engine {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Engine{log: log, workers: make(map[Collection]*collectionWorker), keys: keys}
}

func (e *Engine) worker(name Collection) *collectionWorker {
	e.mu.Lock()
	defer e.mu.Unlock()
	w, ok := e.workers[name]
	if !ok {
		w = &collectionWorker{queue: make(chan job, 64), state: newState(name)}
		go e.run(w)
		e.workers[name] = w
	}
	return w
}

func (e *Engine) run(w *collectionWorker) {
	for j := range w.queue {
		next, err := j.run(w.state)
		if err == nil {
			w.state = next
		}
		j.done <- err
	}
}

// submit enqueues fn on name's worker and blocks for its result, giving
// callers a synchronous call despite the underlying serialization.
func (e *Engine) submit(name Collection, fn func(*State) (*State, error)) error {
	w := e.worker(name)
	j := job{run: fn, done: make(chan error, 1)}
	w.queue <- j
	return <-j.done
}

// State returns a snapshot of a collection's current CRDT state (read-only
// copy; callers must not mutate it).
func (e *Engine) State(name Collection) *State {
	var out *State
	_ = e.submit(name, func(s *State) (*State, error) {
		out = s.clone()
		return s, nil
	})
	return out
}

// ResetCollection discards a collection's local state back to empty
// (version 0, no index entries). A caller that hits a MAC mismatch it
// cannot otherwise reconcile resets and re-pulls the collection from
// scratch, matching the fall-back-and-resync step of the sync protocol.
func (e *Engine) ResetCollection(name Collection) {
	_ = e.submit(name, func(*State) (*State, error) {
		return newState(name), nil
	})
}

// MaxCollectionResyncAttempts bounds how many times ApplyPatchesWithRetry
// resets a collection and retries before surfacing the failure as fatal.
const MaxCollectionResyncAttempts = 3

// ApplyPatchesWithRetry applies patches to name in order. If any patch
// fails MAC verification, the collection is reset to empty and fetch (if
// non-nil) is called to obtain a replacement patch sequence — typically a
// fresh pull of the whole collection starting from version 0 — and the
// attempt is retried, up to MaxCollectionResyncAttempts times after the
// first attempt. If the last retry also fails, the last error is returned
// wrapped as fatal. A non-MAC error (malformed
// patch, unknown key) is returned immediately without retrying, since
// resetting the collection can't fix it.
func (e *Engine) ApplyPatchesWithRetry(name Collection, patches []*Patch, fetch func() ([]*Patch, error)) error {
	var lastErr error
	for attempt := 0; attempt <= MaxCollectionResyncAttempts; attempt++ {
		lastErr = nil
		for _, p := range patches {
			if err := e.ApplyPatch(name, p); err != nil {
				lastErr = err
				break
			}
		}
		if lastErr == nil {
			return nil
		}

		var engErr *EngineError
		if !errors.As(lastErr, &engErr) {
			return lastErr
		}

		e.ResetCollection(name)
		if fetch == nil || attempt == MaxCollectionResyncAttempts {
			break
		}
		next, err := fetch()
		if err != nil {
			return fmt.Errorf("appstate: collection %s resync fetch: %w", name, err)
		}
		patches = next
	}
	return fmt.Errorf("appstate: collection %s failed after %d resync attempts: %w", name, MaxCollectionResyncAttempts, lastErr)
}

// ApplySnapshot replaces a collection's local state wholesale, verifying
// snapshot.MAC first.
func (e *Engine) ApplySnapshot(name Collection, snap *Snapshot) error {
	key, ok := e.keys.Get(snap.KeyID)
	if !ok {
		return &EngineError{Message: "appstate: unknown sync key for snapshot"}
	}

	return e.submit(name, func(_ *State) (*State, error) {
		next := newState(name)
		next.Version = snap.Version
		for _, m := range snap.Mutations {
			if _, err := Open(key, m); err != nil {
				return nil, fmt.Errorf("appstate: snapshot mutation: %w", err)
			}
			next.Hash = AddMutation(next.Hash, m.ExpansionMaterial())
			next.Index[string(m.IndexMAC)] = IndexEntry{ValueMAC: m.ValueMAC}
		}
		expected := ComputeSnapshotMAC(key, next.Hash, next.Version, name)
		if !macEqual(expected, snap.MAC) {
			return nil, &EngineError{Message: "appstate: snapshot MAC mismatch"}
		}
		return next, nil
	})
}

// ApplyPatch verifies and applies one patch, advancing the collection's
// version. Applying an already-seen version is rejected and the state is
// left unchanged (Testable Property 6: app-state idempotence).
func (e *Engine) ApplyPatch(name Collection, patch *Patch) error {
	key, ok := e.keys.Get(patch.KeyID)
	if !ok {
		return &EngineError{Message: "appstate: unknown sync key for patch"}
	}

	return e.submit(name, func(current *State) (*State, error) {
		if patch.Version <= current.Version {
			return nil, &EngineError{Message: "appstate: patch version already applied"}
		}

		expectedPatchMAC := ComputePatchMAC(key, patch.SnapshotMAC, patch.Mutations, patch.Version, name)
		if !macEqual(expectedPatchMAC, patch.PatchMAC) {
			return nil, &EngineError{Message: "appstate: patch MAC mismatch"}
		}

		next := current.clone()
		for _, m := range patch.Mutations {
			if _, err := Open(key, m); err != nil {
				return nil, fmt.Errorf("appstate: patch mutation: %w", err)
			}
			switch m.Operation {
			case OpSet:
				next.Hash = AddMutation(next.Hash, m.ExpansionMaterial())
				next.Index[string(m.IndexMAC)] = IndexEntry{ValueMAC: m.ValueMAC}
			case OpRemove:
				if prev, ok := next.Index[string(m.IndexMAC)]; ok {
					prevMaterial := append(append([]byte{}, m.IndexMAC...), prev.ValueMAC...)
					next.Hash = SubMutation(next.Hash, prevMaterial)
					delete(next.Index, string(m.IndexMAC))
				}
			}
		}
		next.Version = patch.Version

		expectedSnapshotMAC := ComputeSnapshotMAC(key, next.Hash, next.Version, name)
		if !macEqual(expectedSnapshotMAC, patch.SnapshotMAC) {
			return nil, &EngineError{Message: "appstate: resulting snapshot MAC mismatch"}
		}

		return next, nil
	})
}

// BuildPatch seals mutations with the latest known sync key and computes
// the patch/snapshot MACs needed to push them.
func (e *Engine) BuildPatch(name Collection, mutations []*Mutation) (*Patch, error) {
	key, ok := e.keys.Latest()
	if !ok {
		return nil, &EngineError{Message: "appstate: no sync key available"}
	}

	var patch *Patch
	err := e.submit(name, func(current *State) (*State, error) {
		next := current.clone()
		for _, m := range mutations {
			if err := Seal(key, m, nil); err != nil {
				return nil, err
			}
			switch m.Operation {
			case OpSet:
				next.Hash = AddMutation(next.Hash, m.ExpansionMaterial())
				next.Index[string(m.IndexMAC)] = IndexEntry{ValueMAC: m.ValueMAC}
			case OpRemove:
				if prev, ok := next.Index[string(m.IndexMAC)]; ok {
					prevMaterial := append(append([]byte{}, m.IndexMAC...), prev.ValueMAC...)
					next.Hash = SubMutation(next.Hash, prevMaterial)
					delete(next.Index, string(m.IndexMAC))
				}
			}
		}
		next.Version = current.Version + 1

		snapshotMAC := ComputeSnapshotMAC(key, next.Hash, next.Version, name)
		patch = &Patch{
			Version:     next.Version,
			KeyID:       key.KeyID,
			Mutations:   mutations,
			SnapshotMAC: snapshotMAC,
		}
		patch.PatchMAC = ComputePatchMAC(key, snapshotMAC, mutations, next.Version, name)

		// The caller is responsible for sending the patch and only
		// committing local state on a server ack; BuildPatch does not
		// advance the worker's committed state itself.
		return current, nil
	})
	if err != nil {
		return nil, err
	}
	return patch, nil
}

func macEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
