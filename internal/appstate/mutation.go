package appstate

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/sha512"
	"fmt"
	"io"
)

// Operation distinguishes a SET from a REMOVE mutation.
type Operation int

const (
	OpSet Operation = iota
	OpRemove
)

// Mutation is one atomic app-state change: set or remove a value at an
// index. Index and Value are plaintext; EncryptedValue/IndexMAC/ValueMAC
// hold the wire-ready, key-derived forms once Seal has run.
type Mutation struct {
	Operation Operation
	Index     []byte
	Value     []byte

	IndexMAC       []byte
	EncryptedValue []byte
	ValueMAC       []byte
}

// MutationError reports a MAC mismatch or malformed mutation.
type MutationError struct{ Message string }

func (e *MutationError) Error() string { return e.Message }

// Seal computes IndexMAC/EncryptedValue/ValueMAC for an outbound mutation
// using the sync key's index/value-encryption/value-mac keys.
func Seal(key *SyncKey, m *Mutation, rng io.Reader) error {
	if rng == nil {
		rng = rand.Reader
	}
	m.IndexMAC = hmacSHA256(key.IndexKey[:], m.Index)

	if m.Operation == OpRemove {
		m.EncryptedValue = nil
		m.ValueMAC = valueMAC(key, m.EncryptedValue, m.Operation)
		return nil
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rng, iv); err != nil {
		return fmt.Errorf("appstate: seal: iv: %w", err)
	}
	ct, err := cbcEncrypt(key.ValueEncryptionKey[:], iv, pkcs7Pad(m.Value, aes.BlockSize))
	if err != nil {
		return err
	}
	m.EncryptedValue = append(iv, ct...)
	m.ValueMAC = valueMAC(key, m.EncryptedValue, m.Operation)
	return nil
}

// Open decrypts a SET mutation's value and verifies its MAC, or verifies a
// REMOVE mutation's MAC against an empty value.
func Open(key *SyncKey, m *Mutation) ([]byte, error) {
	expected := valueMAC(key, m.EncryptedValue, m.Operation)
	if !hmac.Equal(expected, m.ValueMAC) {
		return nil, &MutationError{Message: "appstate: mutation value MAC mismatch"}
	}
	if m.Operation == OpRemove {
		return nil, nil
	}
	if len(m.EncryptedValue) < aes.BlockSize {
		return nil, &MutationError{Message: "appstate: encrypted value shorter than IV"}
	}
	iv := m.EncryptedValue[:aes.BlockSize]
	ct := m.EncryptedValue[aes.BlockSize:]
	pt, err := cbcDecrypt(key.ValueEncryptionKey[:], iv, ct)
	if err != nil {
		return nil, err
	}
	return pkcs7Unpad(pt)
}

// ExpansionMaterial is the (index_mac || value_mac) input folded into the
// collection's LTHash for this mutation.
func (m *Mutation) ExpansionMaterial() []byte {
	return append(append([]byte{}, m.IndexMAC...), m.ValueMAC...)
}

// valueMAC computes HMAC-SHA512(valueMacKey, op||key_id||encrypted_blob||
// length_byte)[0:32], truncating the 64-byte SHA-512 MAC to the first 32
// bytes as the wire format requires.
func valueMAC(key *SyncKey, encryptedValue []byte, op Operation) []byte {
	h := hmac.New(sha512.New, key.ValueMacKey[:])
	h.Write([]byte{byte(op)})
	h.Write(key.KeyID[:])
	h.Write(encryptedValue)
	h.Write([]byte{byte(len(encryptedValue))})
	return h.Sum(nil)[:32]
}

func hmacSHA256(key, data []byte) []byte {
	h := hmac.New(sha256.New, key)
	h.Write(data)
	return h.Sum(nil)
}

func cbcEncrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("appstate: cbc encrypt: %w", err)
	}
	ct := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, plaintext)
	return ct, nil
}

func cbcDecrypt(key, iv, ciphertext []byte) ([]byte, error) {
	if len(ciphertext)%aes.BlockSize != 0 {
		return nil, &MutationError{Message: "appstate: ciphertext not block-aligned"}
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("appstate: cbc decrypt: %w", err)
	}
	pt := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ciphertext)
	return pt, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+padLen)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(padLen)
	}
	return out
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, &MutationError{Message: "appstate: empty padded value"}
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, &MutationError{Message: "appstate: invalid padding"}
	}
	return data[:len(data)-padLen], nil
}
