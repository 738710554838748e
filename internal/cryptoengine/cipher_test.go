package cryptoengine

import (
	"bytes"
	"testing"
)

func TestRoundTripAllSuites(t *testing.T) {
	for _, name := range Names() {
		name := name
		t.Run(string(name), func(t *testing.T) {
			suite, err := Lookup(name)
			if err != nil {
				t.Fatalf("Lookup(%s): %v", name, err)
			}
			key := make([]byte, suite.KeySize())
			for i := range key {
				key[i] = byte(i)
			}
			aead, err := suite.New(key)
			if err != nil {
				t.Fatalf("New: %v", err)
			}
			nonce := make([]byte, aead.NonceSize())
			aad := []byte("block-id-aad")
			plaintext := []byte("hello, encrypted block store")

			ct := aead.Seal(nil, nonce, plaintext, aad)
			pt, err := aead.Open(nil, nonce, ct, aad)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if !bytes.Equal(pt, plaintext) {
				t.Fatalf("round trip mismatch: got %q want %q", pt, plaintext)
			}

			// Wrong AAD must fail (binds ciphertext to block id).
			if _, err := aead.Open(nil, nonce, ct, []byte("wrong-aad")); err == nil {
				t.Fatalf("expected failure decrypting with wrong AAD")
			}
		})
	}
}

func TestLookupUnknown(t *testing.T) {
	if _, err := Lookup("not-a-cipher"); err == nil {
		t.Fatalf("expected error for unknown cipher")
	}
}

func TestWrongKeySize(t *testing.T) {
	suite, err := Lookup(AES256GCM)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if _, err := suite.New(make([]byte, 4)); err == nil {
		t.Fatalf("expected error for undersized key")
	}
}
