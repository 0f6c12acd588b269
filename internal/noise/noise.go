// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

// Package noise implements the XX-pattern Noise handshake and the
// transport-phase AEAD cipher it produces, generalizing the teacher's
// NoiseHandler (internal/core/noise.go) to the exact state machine the
// service requires, with 64-bit per-direction counters.
package noise

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"sync"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// Fixed wire constants, required verbatim for interoperability.
const (
	ProtocolName = "Noise_XX_25519_AESGCM_SHA256\x00\x00\x00\x00"
	FrameHeader  = "WA\x06\x03" // WA + version 6 + dict version 3
)

// State is the handshake/transport state machine.
type State int

const (
	StateUninit State = iota
	StateAwaitServerHello
	StateAwaitClientFinishAck
	StateTransport
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninit:
		return "UNINIT"
	case StateAwaitServerHello:
		return "AWAIT_SERVER_HELLO"
	case StateAwaitClientFinishAck:
		return "AWAIT_CLIENT_FINISH_ACK"
	case StateTransport:
		return "TRANSPORT"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// HandshakeError is fatal: any decrypt failure, protobuf parse failure, or
// DH failure during the handshake terminates the session.
type HandshakeError struct{ Message string }

func (e *HandshakeError) Error() string { return e.Message }

// Session drives one XX handshake and, once finished, the symmetric AEAD
// cipher for every subsequent frame. A Session is single-use: once Close
// (or a handshake failure) moves it to CLOSED, construct a new one.
type Session struct {
	mu    sync.Mutex
	state State

	ephemeralPriv, ephemeralPub [32]byte
	staticPriv, staticPub       [32]byte // the local Noise static keypair, distinct from the long-term Signal identity key
	serverEphemeral             []byte
	serverStatic                []byte

	hash []byte
	salt []byte

	encKey []byte
	decKey []byte

	writeCounter uint64
	readCounter  uint64
}

// NewSession generates fresh ephemeral/static keypairs from rng (crypto/rand
// if nil — tests pass a seeded, deterministic reader to exercise Testable
// Property 4) and mixes in the fixed protocol header.
func NewSession(rng io.Reader) (*Session, error) {
	if rng == nil {
		rng = rand.Reader
	}

	s := &Session{state: StateUninit}
	if _, err := io.ReadFull(rng, s.ephemeralPriv[:]); err != nil {
		return nil, fmt.Errorf("noise: generate ephemeral key: %w", err)
	}
	curve25519.ScalarBaseMult(&s.ephemeralPub, &s.ephemeralPriv)

	if _, err := io.ReadFull(rng, s.staticPriv[:]); err != nil {
		return nil, fmt.Errorf("noise: generate static key: %w", err)
	}
	curve25519.ScalarBaseMult(&s.staticPub, &s.staticPriv)

	s.initializeState()
	return s, nil
}

func (s *Session) initializeState() {
	mode := []byte(ProtocolName)
	if len(mode) == 32 {
		s.hash = append([]byte(nil), mode...)
	} else {
		h := sha256.Sum256(mode)
		s.hash = h[:]
	}
	s.salt = s.hash
	s.encKey = s.hash
	s.decKey = s.hash

	s.mixHash([]byte(FrameHeader))
	s.mixHash(s.ephemeralPub[:])
}

func (s *Session) mixHash(data []byte) {
	h := sha256.New()
	h.Write(s.hash)
	h.Write(data)
	s.hash = h.Sum(nil)
}

func nonce(counter uint64) []byte {
	iv := make([]byte, 12)
	binary.BigEndian.PutUint32(iv[4:8], uint32(counter>>32))
	binary.BigEndian.PutUint32(iv[8:], uint32(counter))
	return iv
}

func (s *Session) aeadEncrypt(key, plaintext []byte, counter uint64) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Seal(nil, nonce(counter), plaintext, s.hash), nil
}

func (s *Session) aeadDecrypt(key, ciphertext []byte, counter uint64) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return gcm.Open(nil, nonce(counter), ciphertext, s.hash)
}

// encryptHandshake encrypts a handshake-phase message using the current
// write side and advances the write counter (both sides share the same
// "write" role pre-split, matching Noise's symmetric-state AEAD usage).
func (s *Session) encryptHandshake(plaintext []byte) ([]byte, error) {
	ct, err := s.aeadEncrypt(s.encKey, plaintext, s.writeCounter)
	if err != nil {
		return nil, &HandshakeError{Message: fmt.Sprintf("encrypt: %v", err)}
	}
	s.writeCounter++
	s.mixHash(ct)
	return ct, nil
}

func (s *Session) decryptHandshake(ciphertext []byte) ([]byte, error) {
	pt, err := s.aeadDecrypt(s.decKey, ciphertext, s.writeCounter)
	if err != nil {
		return nil, &HandshakeError{Message: fmt.Sprintf("decrypt: %v", err)}
	}
	s.writeCounter++
	s.mixHash(ciphertext)
	return pt, nil
}

// mixIntoKey is Noise's MixKey: HKDF(salt, dhOutput) -> new salt + cipher
// key, resetting both direction counters (protocol step "MixKey(DHn)").
func (s *Session) mixIntoKey(dhOutput []byte) error {
	r := hkdf.New(sha256.New, dhOutput, s.salt, nil)
	key := make([]byte, 64)
	if _, err := io.ReadFull(r, key); err != nil {
		return &HandshakeError{Message: fmt.Sprintf("hkdf: %v", err)}
	}
	s.salt = key[:32]
	s.encKey = key[32:]
	s.decKey = key[32:]
	s.writeCounter = 0
	s.readCounter = 0
	return nil
}

// finish is Noise's Split: derive the two final transport keys, (read_key,
// write_key), and zero the transcript hash.
func (s *Session) finish() error {
	r := hkdf.New(sha256.New, nil, s.salt, nil)
	key := make([]byte, 64)
	if _, err := io.ReadFull(r, key); err != nil {
		return &HandshakeError{Message: fmt.Sprintf("hkdf split: %v", err)}
	}
	s.encKey = key[:32]
	s.decKey = key[32:]
	s.hash = nil
	s.writeCounter = 0
	s.readCounter = 0
	return nil
}

func dh(priv, pub []byte) ([]byte, error) {
	if len(priv) != 32 || len(pub) != 32 {
		return nil, &HandshakeError{Message: "invalid key length"}
	}
	shared, err := curve25519.X25519(priv, pub)
	if err != nil {
		return nil, &HandshakeError{Message: fmt.Sprintf("dh: %v", err)}
	}
	return shared, nil
}

// GenerateClientHello is handshake step 2: send ClientHello{ephemeral}.
func (s *Session) GenerateClientHello() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateAwaitServerHello

	proto := EncodeClientHello(s.ephemeralPub[:])
	header := []byte(FrameHeader)
	frame := make([]byte, len(header)+3+len(proto))
	copy(frame, header)
	frame[len(header)] = byte(len(proto) >> 16)
	binary.BigEndian.PutUint16(frame[len(header)+1:], uint16(len(proto)))
	copy(frame[len(header)+3:], proto)
	return frame
}

// ProcessServerHello performs handshake steps 3-4: mix in the server
// ephemeral, DH1, decrypt+DH2 the server static key, then discard the
// (unused for session setup) payload ciphertext.
func (s *Session) ProcessServerHello(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	hello, err := DecodeServerHello(data)
	if err != nil {
		return &HandshakeError{Message: fmt.Sprintf("parse ServerHello: %v", err)}
	}
	if len(hello.Ephemeral) != 32 {
		return &HandshakeError{Message: "ServerHello ephemeral must be 32 bytes"}
	}

	s.serverEphemeral = hello.Ephemeral
	s.mixHash(hello.Ephemeral)

	dh1, err := dh(s.ephemeralPriv[:], hello.Ephemeral)
	if err != nil {
		return err
	}
	if err := s.mixIntoKey(dh1); err != nil {
		return err
	}

	if len(hello.Static) == 0 {
		return &HandshakeError{Message: "ServerHello missing encrypted static key"}
	}
	serverStatic, err := s.decryptHandshake(hello.Static)
	if err != nil {
		return err
	}
	if len(serverStatic) != 32 {
		return &HandshakeError{Message: "decrypted server static key has wrong length"}
	}
	s.serverStatic = serverStatic

	dh2, err := dh(s.ephemeralPriv[:], serverStatic)
	if err != nil {
		return err
	}
	if err := s.mixIntoKey(dh2); err != nil {
		return err
	}

	if len(hello.Payload) > 0 {
		if _, err := s.decryptHandshake(hello.Payload); err != nil {
			return err
		}
		// Payload content (registration/session metadata) is discarded for
		// session setup purposes.
	}

	s.state = StateAwaitClientFinishAck
	return nil
}

// GenerateClientFinish performs handshake steps 5-7: encrypt the local
// static key, DH3, encrypt the caller-supplied identity payload (empty for
// unregistered clients wanting a fresh QR pairing, the registration bundle
// or resume JID otherwise — constructing that payload is the caller's
// responsibility), then split into transport keys.
func (s *Session) GenerateClientFinish(payload []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	encStatic, err := s.encryptHandshake(s.staticPub[:])
	if err != nil {
		return nil, err
	}

	if len(s.serverEphemeral) != 32 {
		return nil, &HandshakeError{Message: "missing server ephemeral for DH3"}
	}
	dh3, err := dh(s.staticPriv[:], s.serverEphemeral)
	if err != nil {
		return nil, err
	}
	if err := s.mixIntoKey(dh3); err != nil {
		return nil, err
	}

	var encPayload []byte
	if len(payload) > 0 {
		encPayload, err = s.encryptHandshake(payload)
		if err != nil {
			return nil, err
		}
	}

	proto := EncodeClientFinish(encStatic, encPayload)

	if err := s.finish(); err != nil {
		return nil, err
	}
	s.state = StateTransport

	return proto, nil
}

// IsTransport reports whether the handshake has completed.
func (s *Session) IsTransport() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateTransport
}

// State returns the current handshake/transport state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// EncryptFrame encrypts an outbound node payload with the write key and a
// monotonic 64-bit counter nonce. Counter overflow terminates the session
// rather than reuse a nonce.
func (s *Session) EncryptFrame(plaintext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTransport {
		return nil, &HandshakeError{Message: "session not in TRANSPORT state"}
	}
	if s.writeCounter == ^uint64(0) {
		s.state = StateClosed
		return nil, &HandshakeError{Message: "write counter overflow"}
	}
	ct, err := s.aeadEncrypt(s.encKey, plaintext, s.writeCounter)
	if err != nil {
		return nil, err
	}
	s.writeCounter++
	return ct, nil
}

// DecryptFrame decrypts an inbound frame with the read key and counter.
func (s *Session) DecryptFrame(ciphertext []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTransport {
		return nil, &HandshakeError{Message: "session not in TRANSPORT state"}
	}
	if s.readCounter == ^uint64(0) {
		s.state = StateClosed
		return nil, &HandshakeError{Message: "read counter overflow"}
	}
	pt, err := s.aeadDecrypt(s.decKey, ciphertext, s.readCounter)
	if err != nil {
		return nil, &HandshakeError{Message: fmt.Sprintf("decrypt frame: %v", err)}
	}
	s.readCounter++
	return pt, nil
}

// Close transitions the session to CLOSED; further Encrypt/Decrypt calls
// fail.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateClosed
}

// EphemeralPublicKey exposes the client ephemeral public key, used to build
// the QR pairing payload (construction itself is the caller's concern).
func (s *Session) EphemeralPublicKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.ephemeralPub[:]...)
}

// StaticPublicKey exposes the Noise static public key.
func (s *Session) StaticPublicKey() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.staticPub[:]...)
}
