// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package router

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/waconnect/waconnect-go/internal/appstate"
	"github.com/waconnect/waconnect-go/internal/store"
	"github.com/waconnect/waconnect-go/internal/wacore"
)

// RequestFunc sends n and waits for its correlated response. It has the
// same shape as session.Session.Request, duplicated here rather than
// imported so this package (which session already imports) has no
// dependency back on session.
type RequestFunc func(ctx context.Context, n *wacore.Node) (*wacore.Node, error)

// AppStateSyncer drives the app-state pull (query + has_more_patches loop
// + snapshot download) and push (build + send patch) protocol over a
// RequestFunc, applying results through an appstate.Engine.
type AppStateSyncer struct {
	engine    *appstate.Engine
	blobStore store.BlobStore
	request   RequestFunc
	log       *zap.SugaredLogger
}

// NewAppStateSyncer constructs a syncer. blobStore may be nil if no
// collection this process pulls is expected to carry a snapshot reference
// (pulling one then fails with a descriptive error rather than a nil
// dereference).
func NewAppStateSyncer(engine *appstate.Engine, blobStore store.BlobStore, request RequestFunc, log *zap.SugaredLogger) *AppStateSyncer {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &AppStateSyncer{engine: engine, blobStore: blobStore, request: request, log: log}
}

// Pull fetches and applies every outstanding patch (and, on a first sync,
// snapshot) for name, retrying a full resync up to
// appstate.MaxCollectionResyncAttempts times if a MAC mismatch is found.
func (s *AppStateSyncer) Pull(ctx context.Context, name appstate.Collection) error {
	fromScratch := func() ([]*appstate.Patch, error) {
		if err := s.pullSnapshotIfNeeded(ctx, name, true); err != nil {
			return nil, err
		}
		return s.pullPatches(ctx, name)
	}

	patches, err := s.pullPatches(ctx, name)
	if err != nil {
		return err
	}
	return s.engine.ApplyPatchesWithRetry(name, patches, fromScratch)
}

// pullSnapshotIfNeeded requests a fresh snapshot and applies it, used only
// by the resync path after a reset (force=true skips the "already have a
// version" check since ResetCollection just zeroed it).
func (s *AppStateSyncer) pullSnapshotIfNeeded(ctx context.Context, name appstate.Collection, force bool) error {
	version := s.engine.State(name).Version
	if version != 0 && !force {
		return nil
	}
	resp, err := s.queryCollection(ctx, name, 0, true)
	if err != nil {
		return err
	}
	coll := resp.GetChild("collection")
	if coll == nil {
		return &DispatcherError{Message: "app-state sync response missing collection node"}
	}
	snapNode := coll.GetChild("snapshot")
	if snapNode == nil {
		return nil
	}
	snapshot, err := s.resolveSnapshot(ctx, snapNode)
	if err != nil {
		return err
	}
	return s.engine.ApplySnapshot(name, snapshot)
}

// pullPatches loops the collection query until has_more_patches is absent,
// returning every patch encountered without applying them (applying is
// the caller's job, via ApplyPatchesWithRetry, so a failed verification
// mid-batch can still trigger a full reset).
func (s *AppStateSyncer) pullPatches(ctx context.Context, name appstate.Collection) ([]*appstate.Patch, error) {
	version := s.engine.State(name).Version
	var out []*appstate.Patch
	for {
		resp, err := s.queryCollection(ctx, name, version, version == 0)
		if err != nil {
			return nil, err
		}
		coll := resp.GetChild("collection")
		if coll == nil {
			return nil, &DispatcherError{Message: "app-state sync response missing collection node"}
		}

		if snapNode := coll.GetChild("snapshot"); snapNode != nil && version == 0 {
			snapshot, err := s.resolveSnapshot(ctx, snapNode)
			if err != nil {
				return nil, err
			}
			if err := s.engine.ApplySnapshot(name, snapshot); err != nil {
				return nil, err
			}
			version = snapshot.Version
		}

		if patchesNode := coll.GetChild("patches"); patchesNode != nil {
			for _, pn := range patchesNode.GetChildren("patch") {
				p, err := decodePatchNode(pn)
				if err != nil {
					return nil, err
				}
				out = append(out, p)
				version = p.Version
			}
		}

		if coll.AttrString("has_more_patches") != "true" {
			return out, nil
		}
	}
}

// resolveSnapshot downloads and decodes the blob a <snapshot> node
// references. The downloaded bytes are expected to be a wacore.Node tree
// (the same convention router/historysync.go uses for its chunk payloads)
// rather than a separately invented snapshot wire format.
func (s *AppStateSyncer) resolveSnapshot(ctx context.Context, snapNode *wacore.Node) (*appstate.Snapshot, error) {
	blobNode := snapNode.GetChild("blob")
	if blobNode == nil {
		// Small snapshots may be inlined directly instead of referencing an
		// external blob.
		return decodeSnapshotNode(snapNode)
	}
	if s.blobStore == nil {
		return nil, &DispatcherError{Message: "app-state snapshot references a blob but no BlobStore is configured"}
	}
	ref := store.ExternalBlobReference{
		DirectPath: blobNode.AttrString("direct_path"),
		MediaKey:   blobNode.Bytes(),
	}
	raw, err := s.blobStore.Download(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("router: download app-state snapshot blob: %w", err)
	}
	node, err := wacore.DecodeNode(raw)
	if err != nil {
		return nil, fmt.Errorf("router: decode app-state snapshot blob: %w", err)
	}
	return decodeSnapshotNode(node)
}

// queryCollection sends the <iq><sync><collection name=X version=V
// return_snapshot=.../></sync></iq> pull query and returns the response.
func (s *AppStateSyncer) queryCollection(ctx context.Context, name appstate.Collection, version uint64, returnSnapshot bool) (*wacore.Node, error) {
	query := &wacore.Node{
		Tag: "iq",
		Attrs: map[string]wacore.Attr{
			"type":  wacore.String("set"),
			"to":    wacore.String("s.whatsapp.net"),
			"xmlns": wacore.String("w:sync:app:state"),
		},
		Content: []*wacore.Node{{
			Tag: "sync",
			Content: []*wacore.Node{{
				Tag: "collection",
				Attrs: map[string]wacore.Attr{
					"name":            wacore.String(string(name)),
					"version":         wacore.Int(int64(version)),
					"return_snapshot": wacore.Bool(returnSnapshot),
				},
			}},
		}},
	}
	resp, err := s.request(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("router: app-state pull query: %w", err)
	}
	return resp, nil
}

// Push builds a patch from mutations, sends it, and on success commits it
// locally (ApplyPatch both verifies the MACs BuildPatch just computed and
// advances the collection's version, so the local and server-accepted
// states can never diverge on a send the server actually acknowledged).
func (s *AppStateSyncer) Push(ctx context.Context, name appstate.Collection, mutations []*appstate.Mutation) (*appstate.Patch, error) {
	patch, err := s.engine.BuildPatch(name, mutations)
	if err != nil {
		return nil, err
	}

	push := &wacore.Node{
		Tag: "iq",
		Attrs: map[string]wacore.Attr{
			"type":  wacore.String("set"),
			"to":    wacore.String("s.whatsapp.net"),
			"xmlns": wacore.String("w:sync:app:state"),
		},
		Content: []*wacore.Node{{
			Tag: "sync",
			Content: []*wacore.Node{{
				Tag:     "collection",
				Attrs:   map[string]wacore.Attr{"name": wacore.String(string(name))},
				Content: []*wacore.Node{encodePatchNode(patch)},
			}},
		}},
	}
	if _, err := s.request(ctx, push); err != nil {
		return nil, fmt.Errorf("router: app-state push: %w", err)
	}

	if err := s.engine.ApplyPatch(name, patch); err != nil {
		return nil, fmt.Errorf("router: commit pushed patch locally: %w", err)
	}
	return patch, nil
}
