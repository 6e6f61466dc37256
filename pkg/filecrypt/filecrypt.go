// Package filecrypt implements the authenticated cipher for file contents.
//
// Encrypted blobs use a fixed wire layout:
//
//	[12-byte nonce][ciphertext][16-byte tag]
//
// with AES-256-GCM semantics. Clients encrypt before upload; the server
// only ever decrypts, using a data key unwrapped on demand.
package filecrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
)

const (
	// NonceSize is the AES-GCM nonce length in bytes.
	NonceSize = 12
	// TagSize is the AES-GCM authentication tag length in bytes.
	TagSize = 16
	// KeySize is the data key length in bytes (AES-256).
	KeySize = 32
)

// ErrDecryption reports that a blob could not be authenticated and
// decrypted. It is deliberately distinct from authorization failures:
// a corrupted blob or wrong key must never be reported as access denied,
// and never yields partial plaintext.
var ErrDecryption = errors.New("file decryption failed")

// Decrypt splits blob into nonce, ciphertext and tag, and performs
// authenticated decryption with the given data key.
func Decrypt(dataKey, blob []byte) ([]byte, error) {
	if len(dataKey) != KeySize {
		return nil, fmt.Errorf("%w: data key must be %d bytes, got %d", ErrDecryption, KeySize, len(dataKey))
	}
	if len(blob) < NonceSize+TagSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", ErrDecryption, len(blob))
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryption, err)
	}

	nonce := blob[:NonceSize]
	// GCM's Open expects ciphertext||tag, which is exactly the blob remainder.
	plaintext, err := gcm.Open(nil, nonce, blob[NonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return plaintext, nil
}

// Encrypt produces a blob in the wire layout. Production uploads are
// encrypted client-side; this is the reference implementation used by
// tests and tooling.
func Encrypt(dataKey, nonce, plaintext []byte) ([]byte, error) {
	if len(dataKey) != KeySize {
		return nil, fmt.Errorf("data key must be %d bytes, got %d", KeySize, len(dataKey))
	}
	if len(nonce) != NonceSize {
		return nil, fmt.Errorf("nonce must be %d bytes, got %d", NonceSize, len(nonce))
	}

	block, err := aes.NewCipher(dataKey)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	out := make([]byte, 0, NonceSize+len(plaintext)+TagSize)
	out = append(out, nonce...)
	return gcm.Seal(out, nonce, plaintext, nil), nil
}
