package signal

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/curve25519"
	"golang.org/x/crypto/hkdf"
)

// x3dhInfo is the HKDF context string mixed into every X3DH derivation,
// domain-separating it from the Noise and Double Ratchet HKDF uses.
const x3dhInfo = "WAConnect_X3DH"

// x3dhPrefix is prepended to the concatenated DH outputs per the X3DH
// protocol (a sentinel of 0xFF bytes the length of a curve point, reserved
// so future protocol versions can distinguish this key-agreement path from
// others).
var x3dhPrefix = [32]byte{
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
	0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff,
}

func dh(priv, pub [32]byte) ([]byte, error) {
	shared, err := curve25519.X25519(priv[:], pub[:])
	if err != nil {
		return nil, fmt.Errorf("signal: dh: %w", err)
	}
	return shared, nil
}

func deriveSharedSecret(material []byte) ([]byte, error) {
	r := hkdf.New(sha256.New, material, nil, []byte(x3dhInfo))
	out := make([]byte, 32)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, fmt.Errorf("signal: x3dh hkdf: %w", err)
	}
	return out, nil
}

// X3DHInitiate runs the initiator side of X3DH: DH1 = IKa·SPKb, DH2 =
// EKa·IKb, DH3 = EKa·SPKb, DH4 (if a one-time key was published) = EKa·OPKb.
// Returns the derived root key and the ephemeral public key the initiator must
// send alongside its first message so the responder can recompute the same
// secret.
func X3DHInitiate(rng io.Reader, identity *IdentityKeyPair, bundle *PreKeyBundle) (rootKey []byte, ephemeralPub [32]byte, err error) {
	if !VerifyBundle(bundle) {
		return nil, ephemeralPub, fmt.Errorf("signal: x3dh: prekey bundle signature invalid")
	}

	ephemeral, genErr := GenerateIdentityKeyPair(rng)
	if genErr != nil {
		return nil, ephemeralPub, genErr
	}

	dh1, err := dh(identity.Private, bundle.SignedPreKey)
	if err != nil {
		return nil, ephemeralPub, err
	}
	dh2, err := dh(ephemeral.Private, bundle.IdentityKey)
	if err != nil {
		return nil, ephemeralPub, err
	}
	dh3, err := dh(ephemeral.Private, bundle.SignedPreKey)
	if err != nil {
		return nil, ephemeralPub, err
	}

	material := append(append([]byte{}, x3dhPrefix[:]...), dh1...)
	material = append(material, dh2...)
	material = append(material, dh3...)

	if bundle.OneTimeKey != nil {
		dh4, err := dh(ephemeral.Private, *bundle.OneTimeKey)
		if err != nil {
			return nil, ephemeralPub, err
		}
		material = append(material, dh4...)
	}

	rk, err := deriveSharedSecret(material)
	if err != nil {
		return nil, ephemeralPub, err
	}
	return rk, ephemeral.Public, nil
}

// X3DHRespond runs the responder side of X3DH: mirrors the initiator's four
// DH computations using the responder's identity/signed-prekey/one-time-key
// private material and the initiator's identity key + ephemeral public key
// sent in the first message.
func X3DHRespond(identity *IdentityKeyPair, signedPreKey *SignedPreKey, oneTimeKey *PreKey, initiatorIdentity, initiatorEphemeral [32]byte) ([]byte, error) {
	dh1, err := dh(signedPreKey.Private, initiatorIdentity)
	if err != nil {
		return nil, err
	}
	dh2, err := dh(identity.Private, initiatorEphemeral)
	if err != nil {
		return nil, err
	}
	dh3, err := dh(signedPreKey.Private, initiatorEphemeral)
	if err != nil {
		return nil, err
	}

	material := append(append([]byte{}, x3dhPrefix[:]...), dh1...)
	material = append(material, dh2...)
	material = append(material, dh3...)

	if oneTimeKey != nil {
		dh4, err := dh(oneTimeKey.Private, initiatorEphemeral)
		if err != nil {
			return nil, err
		}
		material = append(material, dh4...)
	}

	return deriveSharedSecret(material)
}
