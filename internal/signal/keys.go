// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

// Package signal implements the Signal protocol layer used for 1:1 and
// group message encryption: X3DH session setup, the Double Ratchet, and
// Sender Keys for groups. It is hand-rolled in the teacher's style (manual
// protobuf, manual Noise) rather than wired to go.mau.fi/libsignal, whose
// API surface is too large to reproduce correctly without compiling
// against it.
package signal

import (
	"crypto/rand"
	"crypto/sha512"
	"fmt"
	"io"

	"filippo.io/edwards25519"
	"golang.org/x/crypto/curve25519"
)

// KeyError reports a malformed key or signature.
type KeyError struct{ Message string }

func (e *KeyError) Error() string { return e.Message }

// IdentityKeyPair is the long-term X25519 identity keypair, reused as the
// XEdDSA signing scalar for signed prekeys. SigningPublic is the Edwards
// encoding of the same private scalar, published alongside Public so peers
// can verify signatures made with Sign.
type IdentityKeyPair struct {
	Private       [32]byte
	Public        [32]byte
	SigningPublic [32]byte
}

// GenerateIdentityKeyPair creates a fresh long-term identity keypair.
func GenerateIdentityKeyPair(rng io.Reader) (*IdentityKeyPair, error) {
	if rng == nil {
		rng = rand.Reader
	}
	var priv [32]byte
	if _, err := io.ReadFull(rng, priv[:]); err != nil {
		return nil, fmt.Errorf("signal: generate identity key: %w", err)
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)
	signingPub, err := DeriveSigningPublicKey(priv)
	if err != nil {
		return nil, err
	}
	return &IdentityKeyPair{Private: priv, Public: pub, SigningPublic: signingPub}, nil
}

// PreKey is a one-time X25519 keypair uploaded to the server's prekey pool
// and consumed exactly once by X3DH.
type PreKey struct {
	ID      uint32
	Private [32]byte
	Public  [32]byte
}

// SignedPreKey is a medium-term X25519 keypair, periodically rotated and
// signed by the identity key.
type SignedPreKey struct {
	ID        uint32
	Private   [32]byte
	Public    [32]byte
	Signature [64]byte
}

// GeneratePreKey creates a fresh one-time prekey with the given ID.
func GeneratePreKey(rng io.Reader, id uint32) (*PreKey, error) {
	if rng == nil {
		rng = rand.Reader
	}
	var priv [32]byte
	if _, err := io.ReadFull(rng, priv[:]); err != nil {
		return nil, fmt.Errorf("signal: generate prekey: %w", err)
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)
	return &PreKey{ID: id, Private: priv, Public: pub}, nil
}

// GenerateSignedPreKey creates a fresh signed prekey and signs its public
// key with identity.
func GenerateSignedPreKey(rng io.Reader, identity *IdentityKeyPair, id uint32) (*SignedPreKey, error) {
	if rng == nil {
		rng = rand.Reader
	}
	var priv [32]byte
	if _, err := io.ReadFull(rng, priv[:]); err != nil {
		return nil, fmt.Errorf("signal: generate signed prekey: %w", err)
	}
	var pub [32]byte
	curve25519.ScalarBaseMult(&pub, &priv)

	sig, err := Sign(rng, identity.Private, pub[:])
	if err != nil {
		return nil, err
	}
	return &SignedPreKey{ID: id, Private: priv, Public: pub, Signature: sig}, nil
}

// PreKeyBundle is the published material a peer fetches to start an X3DH
// session with us: identity key, signed prekey + signature, and one one-time
// prekey (pools exhaust and must be replenished server-side, out of scope
// for this package).
type PreKeyBundle struct {
	IdentityKey        [32]byte
	IdentitySigningKey [32]byte
	SignedPreKey       [32]byte
	SignedPreKeyID     uint32
	Signature          [64]byte
	OneTimeKey         *[32]byte
	OneTimeKeyID       uint32
}

// VerifyBundle checks the signed prekey's signature against the bundle's
// published identity signing key, rejecting a forged or tampered bundle
// before any DH computation runs against it: the initiator must verify
// Sig(IK, SPK) before proceeding.
func VerifyBundle(bundle *PreKeyBundle) bool {
	return Verify(bundle.IdentitySigningKey, bundle.SignedPreKey[:], bundle.Signature)
}

// Sign produces an XEdDSA-style signature over message using the X25519
// private scalar as the Ed25519 signing scalar, in the spirit of the
// Signal XEdDSA construction: reuse the Montgomery private key directly as
// an Edwards scalar rather than requiring a second Ed25519 keypair.
func Sign(rng io.Reader, priv [32]byte, message []byte) ([64]byte, error) {
	if rng == nil {
		rng = rand.Reader
	}
	var sig [64]byte

	a, err := clampedScalar(priv)
	if err != nil {
		return sig, fmt.Errorf("signal: sign: %w", err)
	}
	A := new(edwards25519.Point).ScalarBaseMult(a)

	var nonceSeed [64]byte
	if _, err := io.ReadFull(rng, nonceSeed[:]); err != nil {
		return sig, fmt.Errorf("signal: sign: nonce: %w", err)
	}
	rh := sha512.New()
	rh.Write(nonceSeed[:])
	rh.Write(a.Bytes())
	rh.Write(message)
	r, err := edwards25519.NewScalar().SetUniformBytes(wideHash(rh.Sum(nil)))
	if err != nil {
		return sig, fmt.Errorf("signal: sign: scalar: %w", err)
	}
	R := new(edwards25519.Point).ScalarBaseMult(r)

	kh := sha512.New()
	kh.Write(R.Bytes())
	kh.Write(A.Bytes())
	kh.Write(message)
	k, err := edwards25519.NewScalar().SetUniformBytes(wideHash(kh.Sum(nil)))
	if err != nil {
		return sig, fmt.Errorf("signal: sign: scalar: %w", err)
	}

	s := edwards25519.NewScalar().MultiplyAdd(k, a, r)

	copy(sig[:32], R.Bytes())
	copy(sig[32:], s.Bytes())
	return sig, nil
}

// Verify checks an XEdDSA-style signature produced by Sign against a
// signing public key (a compressed Edwards point, as returned by
// DeriveSigningPublicKey and distributed alongside the X25519 identity
// key). Unlike real XEdDSA, the verifier never needs the Montgomery
// public key or a birational conversion: signer and verifier both work
// directly with the Edwards encoding.
func Verify(signingPub [32]byte, message []byte, sig [64]byte) bool {
	A, err := new(edwards25519.Point).SetBytes(signingPub[:])
	if err != nil {
		return false
	}
	R, err := new(edwards25519.Point).SetBytes(sig[:32])
	if err != nil {
		return false
	}
	s, err := edwards25519.NewScalar().SetCanonicalBytes(sig[32:])
	if err != nil {
		return false
	}

	kh := sha512.New()
	kh.Write(R.Bytes())
	kh.Write(A.Bytes())
	kh.Write(message)
	k, err := edwards25519.NewScalar().SetUniformBytes(wideHash(kh.Sum(nil)))
	if err != nil {
		return false
	}

	sB := new(edwards25519.Point).ScalarBaseMult(s)
	kA := new(edwards25519.Point).ScalarMult(k, A)
	rhs := new(edwards25519.Point).Add(R, kA)

	return sB.Equal(rhs) == 1
}

// DeriveSigningPublicKey computes the compressed Edwards point a signer's
// private key (clamped the same way Sign clamps it) corresponds to. Every
// key that will ever call Sign must publish this alongside its X25519
// public key, since the two encodings are not interchangeable without it.
func DeriveSigningPublicKey(priv [32]byte) ([32]byte, error) {
	var out [32]byte
	a, err := clampedScalar(priv)
	if err != nil {
		return out, err
	}
	copy(out[:], new(edwards25519.Point).ScalarBaseMult(a).Bytes())
	return out, nil
}

func clampedScalar(priv [32]byte) (*edwards25519.Scalar, error) {
	buf := make([]byte, 32)
	copy(buf, priv[:])
	return edwards25519.NewScalar().SetBytesWithClamping(buf)
}

// wideHash expands a 64-byte SHA-512 digest as-is; SetUniformBytes requires
// exactly 64 bytes of uniform input.
func wideHash(h []byte) []byte {
	if len(h) != 64 {
		out := make([]byte, 64)
		copy(out, h)
		return out
	}
	return h
}
