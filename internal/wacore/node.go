// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package wacore

import (
	"bytes"
	"strconv"
)

// AttrKind discriminates the scalar types a Node attribute can hold.
type AttrKind int

const (
	AttrString AttrKind = iota
	AttrInt
	AttrJid
	AttrBool
)

// Attr is a tagged-union scalar attribute value. Node attributes are
// immutable once constructed.
type Attr struct {
	Kind AttrKind
	Str  string
	Int  int64
	Jid  Jid
	Bool bool
}

func String(s string) Attr { return Attr{Kind: AttrString, Str: s} }
func Int(n int64) Attr     { return Attr{Kind: AttrInt, Int: n} }
func JidAttr(j Jid) Attr   { return Attr{Kind: AttrJid, Jid: j} }
func Bool(b bool) Attr     { return Attr{Kind: AttrBool, Bool: b} }

// AsString renders the attribute the way it appears on the wire.
func (a Attr) AsString() string {
	switch a.Kind {
	case AttrInt:
		return strconv.FormatInt(a.Int, 10)
	case AttrJid:
		return a.Jid.String()
	case AttrBool:
		if a.Bool {
			return "true"
		}
		return "false"
	default:
		return a.Str
	}
}

// Node is the wire unit: a tagged tree with attributes and optional
// content. Content is one of nil, []byte, or []*Node. Nodes are treated as
// immutable once handed to the codec or a dispatcher.
type Node struct {
	Tag     string
	Attrs   map[string]Attr
	Content any // nil | []byte | []*Node
}

// NewNode builds a leafless node with the given tag and attributes.
func NewNode(tag string, attrs map[string]Attr) *Node {
	if attrs == nil {
		attrs = map[string]Attr{}
	}
	return &Node{Tag: tag, Attrs: attrs}
}

// Children returns the content as a node list, or nil if content isn't one.
func (n *Node) Children() []*Node {
	if n == nil {
		return nil
	}
	if children, ok := n.Content.([]*Node); ok {
		return children
	}
	return nil
}

// Bytes returns the content as raw bytes, or nil if content isn't one.
func (n *Node) Bytes() []byte {
	if n == nil {
		return nil
	}
	if b, ok := n.Content.([]byte); ok {
		return b
	}
	return nil
}

// GetChildren returns every direct child whose tag matches.
func (n *Node) GetChildren(tag string) []*Node {
	var out []*Node
	for _, c := range n.Children() {
		if c.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

// GetChild returns the first direct child whose tag matches, or nil.
func (n *Node) GetChild(tag string) *Node {
	for _, c := range n.Children() {
		if c.Tag == tag {
			return c
		}
	}
	return nil
}

// AttrString returns attrs[key] rendered as a string, "" if absent.
func (n *Node) AttrString(key string) string {
	if n == nil {
		return ""
	}
	if a, ok := n.Attrs[key]; ok {
		return a.AsString()
	}
	return ""
}

// Equal performs the structural, byte-wise comparison Node immutability
// requires. Attribute scalars compare by wire representation
// (AsString), not by Go-side Kind: the wire format itself only distinguishes
// Jid attributes from everything else, so a String("2") and an Int(2) are
// the same attribute once they've round-tripped through the codec.
func (n *Node) Equal(other *Node) bool {
	if n == nil || other == nil {
		return n == other
	}
	if n.Tag != other.Tag || len(n.Attrs) != len(other.Attrs) {
		return false
	}
	for k, v := range n.Attrs {
		ov, ok := other.Attrs[k]
		if !ok || v.AsString() != ov.AsString() {
			return false
		}
	}
	switch c := n.Content.(type) {
	case nil:
		return other.Content == nil
	case []byte:
		oc, ok := other.Content.([]byte)
		return ok && bytes.Equal(c, oc)
	case []*Node:
		oc, ok := other.Content.([]*Node)
		if !ok || len(c) != len(oc) {
			return false
		}
		for i := range c {
			if !c[i].Equal(oc[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
