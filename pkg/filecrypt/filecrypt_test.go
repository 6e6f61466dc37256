package filecrypt

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

func newKeyAndNonce(t *testing.T) ([]byte, []byte) {
	t.Helper()
	key := make([]byte, KeySize)
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(key); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if _, err := rand.Read(nonce); err != nil {
		t.Fatalf("generate nonce: %v", err)
	}
	return key, nonce
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key, nonce := newKeyAndNonce(t)
	plaintexts := [][]byte{
		[]byte(""),
		[]byte("x"),
		[]byte("the quick brown fox jumps over the lazy dog"),
		bytes.Repeat([]byte{0xAB}, 1<<16),
	}

	for _, pt := range plaintexts {
		blob, err := Encrypt(key, nonce, pt)
		if err != nil {
			t.Fatalf("Encrypt: %v", err)
		}
		if len(blob) != NonceSize+len(pt)+TagSize {
			t.Errorf("blob length = %d, want %d", len(blob), NonceSize+len(pt)+TagSize)
		}

		got, err := Decrypt(key, blob)
		if err != nil {
			t.Fatalf("Decrypt: %v", err)
		}
		if !bytes.Equal(got, pt) {
			t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(pt))
		}
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	key, nonce := newKeyAndNonce(t)
	blob, err := Encrypt(key, nonce, []byte("confidential payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	// Flip one bit in every region of the blob: nonce, ciphertext, tag.
	for _, idx := range []int{0, NonceSize + 3, len(blob) - 1} {
		tampered := append([]byte(nil), blob...)
		tampered[idx] ^= 0x01
		if _, err := Decrypt(key, tampered); !errors.Is(err, ErrDecryption) {
			t.Errorf("bit flip at %d: err = %v, want ErrDecryption", idx, err)
		}
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	key, nonce := newKeyAndNonce(t)
	blob, err := Encrypt(key, nonce, []byte("confidential payload"))
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}

	other := make([]byte, KeySize)
	if _, err := rand.Read(other); err != nil {
		t.Fatalf("generate key: %v", err)
	}
	if _, err := Decrypt(other, blob); !errors.Is(err, ErrDecryption) {
		t.Errorf("wrong key: err = %v, want ErrDecryption", err)
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	key, _ := newKeyAndNonce(t)

	cases := []struct {
		name string
		key  []byte
		blob []byte
	}{
		{"short key", key[:16], make([]byte, NonceSize+TagSize+4)},
		{"empty blob", key, nil},
		{"truncated blob", key, make([]byte, NonceSize+TagSize-1)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Decrypt(tc.key, tc.blob); !errors.Is(err, ErrDecryption) {
				t.Errorf("err = %v, want ErrDecryption", err)
			}
		})
	}
}
