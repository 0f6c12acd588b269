package signal

import "sync"

// PeerSessions holds one peer's 1:1 ratchet session plus every group
// sender-key chain this process has sent on or received from, each guarded
// independently so a slow group fan-out never blocks a pairwise message
// .
type PeerSessions struct {
	mu      sync.Mutex
	ratchet *RatchetState

	sendingChains   map[uint32]*SenderKeyState
	receivingChains map[string]*SenderKeyReceiverState // keyed by "<groupID>:<memberJID>"
}

// Store is the in-memory, per-peer-locked Signal session store. A
// persistent implementation is out of scope; this type exists so session and
// router can be exercised end-to-end in tests.
type Store struct {
	mu    sync.RWMutex
	peers map[string]*PeerSessions
}

// NewStore constructs an empty session store.
func NewStore() *Store {
	return &Store{peers: make(map[string]*PeerSessions)}
}

func (s *Store) peer(key string) *PeerSessions {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.peers[key]
	if !ok {
		p = &PeerSessions{
			sendingChains:   make(map[uint32]*SenderKeyState),
			receivingChains: make(map[string]*SenderKeyReceiverState),
		}
		s.peers[key] = p
	}
	return p
}

// WithRatchet runs fn under the named peer's lock, giving it access to (and
// allowing it to replace) the peer's ratchet session.
func (s *Store) WithRatchet(peerKey string, fn func(current *RatchetState) (*RatchetState, error)) error {
	p := s.peer(peerKey)
	p.mu.Lock()
	defer p.mu.Unlock()
	next, err := fn(p.ratchet)
	if err != nil {
		return err
	}
	p.ratchet = next
	return nil
}

// HasRatchet reports whether a session already exists for peerKey.
func (s *Store) HasRatchet(peerKey string) bool {
	p := s.peer(peerKey)
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ratchet != nil
}

// SendingChain returns (creating if necessary) this process's sender-key
// chain for groupID, used when this device is the one distributing and
// encrypting group messages.
func (s *Store) SendingChain(groupID string, chainID uint32, create func() (*SenderKeyState, error)) (*SenderKeyState, error) {
	p := s.peer(groupKey(groupID))
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.sendingChains[chainID]; ok {
		return existing, nil
	}
	state, err := create()
	if err != nil {
		return nil, err
	}
	p.sendingChains[chainID] = state
	return state, nil
}

// ReceivingChain returns the receive-side chain state for a specific (group,
// member) pair, or nil if no distribution has been processed yet.
func (s *Store) ReceivingChain(groupID, memberJID string) *SenderKeyReceiverState {
	p := s.peer(groupKey(groupID))
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receivingChains[memberJID]
}

// SetReceivingChain installs receive-side state after processing a sender
// key distribution message from memberJID in groupID.
func (s *Store) SetReceivingChain(groupID, memberJID string, state *SenderKeyReceiverState) {
	p := s.peer(groupKey(groupID))
	p.mu.Lock()
	defer p.mu.Unlock()
	p.receivingChains[memberJID] = state
}

func groupKey(groupID string) string { return "group:" + groupID }
