// Package cryconfig implements C10's encrypted config blob (§6.2): a
// two-layer AEAD envelope (scrypt-stretched outer key, a configurable inner
// cipher) wrapping the cryConfig key=value lines that record a filesystem's
// block size, root blob id, encryption key, cipher choice, and version
// history. The nonce-prefix AEAD framing mirrors internal/blocks/encrypted's
// per-block framing; the KDF is golang.org/x/crypto/scrypt.
package cryconfig
