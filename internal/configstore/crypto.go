package configstore

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// keyDerivationLabel is the fixed label mixed into the device-bound key
// derivation, per §4.6.
const keyDerivationLabel = "rs1_config_key_v1"

// deriveKey turns a device MAC into the 256-bit key backing the
// network/security records' encryption-at-rest. §4.6 specifies HMAC-SHA-256
// of (label || mac) truncated to a 128-bit key for a generic block cipher;
// here the full 32-byte HMAC output is kept instead of truncated, since the
// AEAD construction actually wired (XChaCha20-Poly1305, from the pack's
// golang.org/x/crypto) takes a 256-bit key and authenticates the ciphertext,
// which is the stronger of the two options §4.6 itself says to prefer when
// available ("implementations should prefer an authenticated mode when
// available").
func deriveKey(mac []byte) [32]byte {
	h := hmac.New(sha256.New, mac)
	h.Write([]byte(keyDerivationLabel))
	sum := h.Sum(nil)
	var key [32]byte
	copy(key[:], sum)
	return key
}

// sealRecord encrypts plaintext under key, returning nonce || ciphertext.
func sealRecord(key [32]byte, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("configstore: init aead: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("configstore: nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// openRecord decrypts a blob produced by sealRecord.
func openRecord(key [32]byte, blob []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key[:])
	if err != nil {
		return nil, fmt.Errorf("configstore: init aead: %w", err)
	}
	if len(blob) < aead.NonceSize() {
		return nil, fmt.Errorf("configstore: encrypted record too short")
	}
	nonce, ct := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("configstore: decrypt: %w", err)
	}
	return pt, nil
}
