// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

// Package store defines the persistence collaborators a Session depends
// on. Concrete durable implementations (SQLite, Postgres, file-backed...)
// are out of scope ("persistence is the caller's problem") — this package
// only names the contracts and ships in-memory test doubles.
package store

import (
	"context"

	"github.com/waconnect/waconnect-go/internal/appstate"
	"github.com/waconnect/waconnect-go/internal/signal"
)

// KeyStore persists the identity keypair, registration id, signed prekey,
// the one-time prekey pool, known AppStateSyncKeys, and the companion
// device identity list. Per-peer Signal sessions and per-collection
// app-state CRDT state are not part of this interface; they live only in
// memory (signal.Store and appstate.Engine).
type KeyStore interface {
	IdentityKeyPair(ctx context.Context) (*signal.IdentityKeyPair, error)
	SaveIdentityKeyPair(ctx context.Context, pair *signal.IdentityKeyPair) error

	RegistrationID(ctx context.Context) (uint32, error)

	SignedPreKey(ctx context.Context) (*signal.SignedPreKey, error)
	SaveSignedPreKey(ctx context.Context, key *signal.SignedPreKey) error

	PreKey(ctx context.Context, id uint32) (*signal.PreKey, error)
	SavePreKey(ctx context.Context, key *signal.PreKey) error
	DeletePreKey(ctx context.Context, id uint32) error

	AppStateSyncKey(ctx context.Context, id [6]byte) (*appstate.SyncKey, error)
	SaveAppStateSyncKey(ctx context.Context, key *appstate.SyncKey) error

	CompanionDevices(ctx context.Context) ([]string, error)
	SaveCompanionDevices(ctx context.Context, jids []string) error
}

// BlobStore downloads the external snapshot blobs app-state pulls
// reference.
type BlobStore interface {
	Download(ctx context.Context, ref ExternalBlobReference) ([]byte, error)
}

// ExternalBlobReference locates a snapshot payload on WhatsApp's media CDN.
type ExternalBlobReference struct {
	DirectPath string
	MediaKey   []byte
	FileSHA256 []byte
}

// PreKeyProvider answers "do we need to top up the one-time prekey pool",
// decoupling the router/session layer from how the pool is actually
// persisted.
type PreKeyProvider interface {
	RemainingPreKeys(ctx context.Context) (int, error)
	GeneratePreKeys(ctx context.Context, count int) ([]*signal.PreKey, error)
}

// MessageSink receives fully decrypted, decoded inbound messages. A real
// application wires this to its own chat storage / UI layer.
type MessageSink interface {
	HandleMessage(ctx context.Context, from string, messageID string, payload []byte) error
	HandleReceipt(ctx context.Context, from string, messageIDs []string, receiptType string) error
}

// NoopMessageSink discards everything; it's the default a Session falls
// back to when constructed without a MessageSink, so the Dispatcher never
// has to nil-check its sink.
type NoopMessageSink struct{}

func (NoopMessageSink) HandleMessage(context.Context, string, string, []byte) error   { return nil }
func (NoopMessageSink) HandleReceipt(context.Context, string, []string, string) error { return nil }
