// Package cryptoengine provides the AEAD cipher suites the encrypted block
// store (C2) and the config blob codec (C10) encrypt with. It mirrors the
// per-block framing gocryptfs' internal/contentenc.ContentEnc uses (a fixed
// nonce prefix followed by ciphertext plus an authentication tag) but keeps
// the cipher pluggable, since §3 names three supported ciphers.
package cryptoengine

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
)

// Name identifies a supported AEAD cipher suite by its on-disk/config name.
type Name string

// Supported cipher suites (§3).
const (
	AES256GCM          Name = "aes-256-gcm"
	AES128GCM          Name = "aes-128-gcm"
	XChaCha20Poly1305  Name = "xchacha20-poly1305"
	DefaultCipherSuite      = AES256GCM
)

// ErrUnknownCipher is returned when a cipher name does not match a registered suite.
var ErrUnknownCipher = errors.New("cryptoengine: unknown cipher suite")

// Suite bundles an AEAD construction with the key/nonce sizes §3 specifies.
// AAD is always supplied by the caller (the block id), never embedded here.
type Suite struct {
	name     Name
	keySize  int
	newAEAD  func(key []byte) (cipher.AEAD, error)
}

// KeySize returns the suite's required key length in bytes.
func (s Suite) KeySize() int { return s.keySize }

// Name returns the suite's canonical name.
func (s Suite) Name() Name { return s.name }

// New returns an AEAD instance bound to key, which must be exactly KeySize() bytes.
func (s Suite) New(key []byte) (cipher.AEAD, error) {
	if len(key) != s.keySize {
		return nil, fmt.Errorf("cryptoengine: cipher %s wants a %d-byte key, got %d", s.name, s.keySize, len(key))
	}
	return s.newAEAD(key)
}

var suites = map[Name]Suite{
	AES256GCM: {
		name:    AES256GCM,
		keySize: 32,
		newAEAD: newAESGCM,
	},
	AES128GCM: {
		name:    AES128GCM,
		keySize: 16,
		newAEAD: newAESGCM,
	},
	XChaCha20Poly1305: {
		name:    XChaCha20Poly1305,
		keySize: chacha20poly1305.KeySize,
		newAEAD: chacha20poly1305.NewX,
	},
}

func newAESGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Lookup returns the Suite registered under name.
func Lookup(name Name) (Suite, error) {
	s, ok := suites[name]
	if !ok {
		return Suite{}, fmt.Errorf("%w: %q", ErrUnknownCipher, name)
	}
	return s, nil
}

// Names returns every supported cipher suite name, in a stable order.
func Names() []Name {
	return []Name{AES256GCM, AES128GCM, XChaCha20Poly1305}
}
