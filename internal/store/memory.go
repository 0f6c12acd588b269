package store

import (
	"context"
	"sync"

	"github.com/waconnect/waconnect-go/internal/appstate"
	"github.com/waconnect/waconnect-go/internal/signal"
)

// MemoryKeyStore is an in-memory KeyStore for tests. It is not durable:
// state is lost on process exit.
type MemoryKeyStore struct {
	mu sync.Mutex

	identity       *signal.IdentityKeyPair
	registrationID uint32
	signedPreKey   *signal.SignedPreKey
	preKeys        map[uint32]*signal.PreKey
	syncKeys       map[[6]byte]*appstate.SyncKey
	companions     []string
}

// NewMemoryKeyStore constructs an empty in-memory store.
func NewMemoryKeyStore() *MemoryKeyStore {
	return &MemoryKeyStore{
		preKeys:  make(map[uint32]*signal.PreKey),
		syncKeys: make(map[[6]byte]*appstate.SyncKey),
	}
}

func (m *MemoryKeyStore) IdentityKeyPair(ctx context.Context) (*signal.IdentityKeyPair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.identity, nil
}

func (m *MemoryKeyStore) SaveIdentityKeyPair(ctx context.Context, pair *signal.IdentityKeyPair) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identity = pair
	return nil
}

func (m *MemoryKeyStore) RegistrationID(ctx context.Context) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registrationID, nil
}

func (m *MemoryKeyStore) SignedPreKey(ctx context.Context) (*signal.SignedPreKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.signedPreKey, nil
}

func (m *MemoryKeyStore) SaveSignedPreKey(ctx context.Context, key *signal.SignedPreKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.signedPreKey = key
	return nil
}

func (m *MemoryKeyStore) PreKey(ctx context.Context, id uint32) (*signal.PreKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.preKeys[id], nil
}

func (m *MemoryKeyStore) SavePreKey(ctx context.Context, key *signal.PreKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.preKeys[key.ID] = key
	return nil
}

func (m *MemoryKeyStore) DeletePreKey(ctx context.Context, id uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.preKeys, id)
	return nil
}

func (m *MemoryKeyStore) AppStateSyncKey(ctx context.Context, id [6]byte) (*appstate.SyncKey, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.syncKeys[id], nil
}

func (m *MemoryKeyStore) SaveAppStateSyncKey(ctx context.Context, key *appstate.SyncKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.syncKeys[key.KeyID] = key
	return nil
}

func (m *MemoryKeyStore) CompanionDevices(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.companions...), nil
}

func (m *MemoryKeyStore) SaveCompanionDevices(ctx context.Context, jids []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.companions = jids
	return nil
}

// MemoryBlobStore serves pre-registered blobs by DirectPath, standing in
// for the real media CDN in tests.
type MemoryBlobStore struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func NewMemoryBlobStore() *MemoryBlobStore {
	return &MemoryBlobStore{blobs: make(map[string][]byte)}
}

func (m *MemoryBlobStore) Put(ref ExternalBlobReference, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[ref.DirectPath] = data
}

func (m *MemoryBlobStore) Download(ctx context.Context, ref ExternalBlobReference) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blobs[ref.DirectPath], nil
}

// MemoryMessageSink records every dispatched message/receipt for tests to
// assert against.
type MemoryMessageSink struct {
	mu       sync.Mutex
	Messages []ReceivedMessage
	Receipts []ReceivedReceipt
}

type ReceivedMessage struct {
	From      string
	MessageID string
	Payload   []byte
}

type ReceivedReceipt struct {
	From        string
	MessageIDs  []string
	ReceiptType string
}

func NewMemoryMessageSink() *MemoryMessageSink { return &MemoryMessageSink{} }

func (m *MemoryMessageSink) HandleMessage(ctx context.Context, from, messageID string, payload []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = append(m.Messages, ReceivedMessage{From: from, MessageID: messageID, Payload: payload})
	return nil
}

func (m *MemoryMessageSink) HandleReceipt(ctx context.Context, from string, messageIDs []string, receiptType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Receipts = append(m.Receipts, ReceivedReceipt{From: from, MessageIDs: messageIDs, ReceiptType: receiptType})
	return nil
}
