// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package router

import (
	"encoding/hex"
	"fmt"

	"github.com/waconnect/waconnect-go/internal/appstate"
	"github.com/waconnect/waconnect-go/internal/wacore"
)

// encodeMutationNode renders a sealed Mutation as wire attributes (op,
// index_mac, value_mac as hex) plus the encrypted value as raw content,
// reusing wacore.Node rather than a dedicated mutation schema.
func encodeMutationNode(m *appstate.Mutation) *wacore.Node {
	op := "set"
	if m.Operation == appstate.OpRemove {
		op = "remove"
	}
	n := &wacore.Node{
		Tag: "mutation",
		Attrs: map[string]wacore.Attr{
			"op":        wacore.String(op),
			"index_mac": wacore.String(hex.EncodeToString(m.IndexMAC)),
			"value_mac": wacore.String(hex.EncodeToString(m.ValueMAC)),
		},
	}
	if len(m.EncryptedValue) > 0 {
		n.Content = m.EncryptedValue
	}
	return n
}

func decodeMutationNode(n *wacore.Node) (*appstate.Mutation, error) {
	indexMAC, err := hex.DecodeString(n.AttrString("index_mac"))
	if err != nil {
		return nil, fmt.Errorf("router: decode mutation index_mac: %w", err)
	}
	valueMAC, err := hex.DecodeString(n.AttrString("value_mac"))
	if err != nil {
		return nil, fmt.Errorf("router: decode mutation value_mac: %w", err)
	}
	op := appstate.OpSet
	if n.AttrString("op") == "remove" {
		op = appstate.OpRemove
	}
	return &appstate.Mutation{
		Operation:      op,
		IndexMAC:       indexMAC,
		ValueMAC:       valueMAC,
		EncryptedValue: n.Bytes(),
	}, nil
}

func encodeMutationsNode(mutations []*appstate.Mutation) *wacore.Node {
	children := make([]*wacore.Node, 0, len(mutations))
	for _, m := range mutations {
		children = append(children, encodeMutationNode(m))
	}
	return &wacore.Node{Tag: "mutations", Content: children}
}

func decodeMutationsNode(n *wacore.Node) ([]*appstate.Mutation, error) {
	children := n.GetChildren("mutation")
	out := make([]*appstate.Mutation, 0, len(children))
	for _, c := range children {
		m, err := decodeMutationNode(c)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// encodePatchNode renders a sealed Patch as a <patch> node: version/key_id
// as attributes, snapshot_mac/patch_mac as hex attributes, and its
// mutations nested the same way a snapshot's are.
func encodePatchNode(p *appstate.Patch) *wacore.Node {
	return &wacore.Node{
		Tag: "patch",
		Attrs: map[string]wacore.Attr{
			"version":      wacore.Int(int64(p.Version)),
			"key_id":       wacore.String(hex.EncodeToString(p.KeyID[:])),
			"snapshot_mac": wacore.String(hex.EncodeToString(p.SnapshotMAC)),
			"patch_mac":    wacore.String(hex.EncodeToString(p.PatchMAC)),
		},
		Content: []*wacore.Node{encodeMutationsNode(p.Mutations)},
	}
}

func decodePatchNode(n *wacore.Node) (*appstate.Patch, error) {
	keyID, err := hex.DecodeString(n.AttrString("key_id"))
	if err != nil || len(keyID) != 6 {
		return nil, &DispatcherError{Message: "patch node has malformed key_id"}
	}
	snapshotMAC, err := hex.DecodeString(n.AttrString("snapshot_mac"))
	if err != nil {
		return nil, fmt.Errorf("router: decode patch snapshot_mac: %w", err)
	}
	patchMAC, err := hex.DecodeString(n.AttrString("patch_mac"))
	if err != nil {
		return nil, fmt.Errorf("router: decode patch patch_mac: %w", err)
	}
	mutationsNode := n.GetChild("mutations")
	if mutationsNode == nil {
		return nil, &DispatcherError{Message: "patch node missing mutations"}
	}
	mutations, err := decodeMutationsNode(mutationsNode)
	if err != nil {
		return nil, err
	}

	p := &appstate.Patch{
		Version:     uint64(parseAttrInt(n, "version")),
		Mutations:   mutations,
		SnapshotMAC: snapshotMAC,
		PatchMAC:    patchMAC,
	}
	copy(p.KeyID[:], keyID)
	return p, nil
}

func parseAttrInt(n *wacore.Node, key string) int64 {
	a, ok := n.Attrs[key]
	if !ok {
		return 0
	}
	if a.Kind == wacore.AttrInt {
		return a.Int
	}
	var v int64
	_, _ = fmt.Sscanf(a.AsString(), "%d", &v)
	return v
}

// encodeSnapshotNode renders a decompressed snapshot blob as a <snapshot>
// node, the same representation resolveSnapshot reads back through
// decodeSnapshotNode.
func encodeSnapshotNode(s *appstate.Snapshot) *wacore.Node {
	return &wacore.Node{
		Tag: "snapshot",
		Attrs: map[string]wacore.Attr{
			"version": wacore.Int(int64(s.Version)),
			"key_id":  wacore.String(hex.EncodeToString(s.KeyID[:])),
			"mac":     wacore.String(hex.EncodeToString(s.MAC)),
		},
		Content: []*wacore.Node{encodeMutationsNode(s.Mutations)},
	}
}

func decodeSnapshotNode(n *wacore.Node) (*appstate.Snapshot, error) {
	keyID, err := hex.DecodeString(n.AttrString("key_id"))
	if err != nil || len(keyID) != 6 {
		return nil, &DispatcherError{Message: "snapshot node has malformed key_id"}
	}
	mac, err := hex.DecodeString(n.AttrString("mac"))
	if err != nil {
		return nil, fmt.Errorf("router: decode snapshot mac: %w", err)
	}
	mutationsNode := n.GetChild("mutations")
	if mutationsNode == nil {
		return nil, &DispatcherError{Message: "snapshot node missing mutations"}
	}
	mutations, err := decodeMutationsNode(mutationsNode)
	if err != nil {
		return nil, err
	}

	snap := &appstate.Snapshot{Version: uint64(parseAttrInt(n, "version")), Mutations: mutations, MAC: mac}
	copy(snap.KeyID[:], keyID)
	return snap, nil
}
