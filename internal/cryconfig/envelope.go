package cryconfig

import (
	"bytes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"

	"github.com/cryfsgo/cryfs/internal/cryptoengine"
	"github.com/cryfsgo/cryfs/internal/domain"
)

// outerMagic and innerMagic are the NUL-terminated ASCII tags §6.2 puts at
// the start of the outer envelope and the outer plaintext respectively.
// outerCipher is always AES-256-GCM regardless of which cipher protects the
// filesystem's own blocks (§6.2 names it explicitly, unlike the inner layer).
const (
	outerMagic  = "cryfs.config;1;scrypt"
	innerMagic  = "cryfs.config.inner;0"
	outerCipher = cryptoengine.AES256GCM

	// innerPlaintextSize is the fixed padded size of the outer plaintext
	// (§6.2: "padded to 1024 bytes"), chosen so a config blob's size never
	// leaks how long its key=value lines are.
	innerPlaintextSize = 1024
)

// sealFramed encrypts plaintext with a random nonce prefixed to the
// ciphertext, the same framing internal/blocks/encrypted uses for blocks.
func sealFramed(aead cipher.AEAD, plaintext []byte) ([]byte, error) {
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("cryconfig: generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}

// openFramed reverses sealFramed. Any failure to authenticate is reported as
// ErrWrongPassword: at this layer there is no way to distinguish "wrong
// password" from "tampered blob".
func openFramed(aead cipher.AEAD, framed []byte) ([]byte, error) {
	ns := aead.NonceSize()
	if len(framed) < ns {
		return nil, fmt.Errorf("%w: envelope shorter than nonce", ErrWrongPassword)
	}
	nonce, ciphertext := framed[:ns], framed[ns:]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plaintext, nil
}

// padOuterPlaintext prefixes payload with its own length and pads the result
// to innerPlaintextSize bytes of random filler (§6.2).
func padOuterPlaintext(payload []byte) ([]byte, error) {
	if len(payload)+4 > innerPlaintextSize {
		return nil, fmt.Errorf("cryconfig: config payload %d bytes exceeds the %d-byte envelope", len(payload), innerPlaintextSize)
	}
	buf := make([]byte, innerPlaintextSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	copy(buf[4:], payload)
	if _, err := rand.Read(buf[4+len(payload):]); err != nil {
		return nil, fmt.Errorf("cryconfig: padding envelope: %w", err)
	}
	return buf, nil
}

func unpadOuterPlaintext(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("%w: truncated outer plaintext", domain.ErrCorruptedFilesystem)
	}
	payloadLen := binary.LittleEndian.Uint32(buf[0:4])
	if uint64(4)+uint64(payloadLen) > uint64(len(buf)) {
		return nil, fmt.Errorf("%w: outer payload length out of range", domain.ErrCorruptedFilesystem)
	}
	return buf[4 : 4+payloadLen], nil
}

// nulTerminated splits buf at its first NUL byte, returning the string
// before it and the remainder after it.
func nulTerminated(buf []byte) (string, []byte, error) {
	i := bytes.IndexByte(buf, 0)
	if i < 0 {
		return "", nil, fmt.Errorf("%w: missing NUL terminator", domain.ErrCorruptedFilesystem)
	}
	return string(buf[:i]), buf[i+1:], nil
}

// Encode assembles cfg into the full on-disk config blob (§6.2), encrypting
// the inner layer with cfg.Cipher — the same cipher named in the blob's own
// "cryfs.cipher" line protects both the filesystem's blocks and the config
// blob's inner layer, so there is only one cipher choice for a filesystem
// to remember, not two independently configurable ones.
func Encode(cfg Config, password []byte) ([]byte, error) {
	outerSuite, err := cryptoengine.Lookup(outerCipher)
	if err != nil {
		return nil, err
	}
	innerSuite, err := cryptoengine.Lookup(cfg.Cipher)
	if err != nil {
		return nil, fmt.Errorf("cryconfig: encode: %w", err)
	}

	params, err := newKDFParams()
	if err != nil {
		return nil, err
	}
	outerKey, innerMaterial, err := params.deriveKeys(password, outerSuite.KeySize(), maxInnerKeySize())
	if err != nil {
		return nil, err
	}
	innerKey := innerMaterial[:innerSuite.KeySize()]

	outerAEAD, err := outerSuite.New(outerKey)
	if err != nil {
		return nil, err
	}
	innerAEAD, err := innerSuite.New(innerKey)
	if err != nil {
		return nil, err
	}

	innerCiphertext, err := sealFramed(innerAEAD, cfg.encode())
	if err != nil {
		return nil, err
	}

	var payload bytes.Buffer
	payload.WriteString(innerMagic)
	payload.WriteByte(0)
	payload.WriteString(string(cfg.Cipher))
	payload.WriteByte(0)
	payload.Write(innerCiphertext)

	outerPlaintext, err := padOuterPlaintext(payload.Bytes())
	if err != nil {
		return nil, err
	}
	outerCiphertext, err := sealFramed(outerAEAD, outerPlaintext)
	if err != nil {
		return nil, err
	}

	var envelope bytes.Buffer
	envelope.WriteString(outerMagic)
	envelope.WriteByte(0)
	kdfBytes := params.encode()
	var lenBuf [8]byte
	binary.LittleEndian.PutUint64(lenBuf[:], uint64(len(kdfBytes)))
	envelope.Write(lenBuf[:])
	envelope.Write(kdfBytes)
	envelope.Write(outerCiphertext)
	return envelope.Bytes(), nil
}

// Decode authenticates and parses a config blob produced by Encode, deriving
// keys from password against the blob's own stored scrypt parameters.
func Decode(blob []byte, password []byte) (Config, error) {
	magic, rest, err := nulTerminated(blob)
	if err != nil {
		return Config{}, err
	}
	if magic != outerMagic {
		return Config{}, fmt.Errorf("%w: unrecognized config magic %q", domain.ErrCorruptedFilesystem, magic)
	}

	if len(rest) < 8 {
		return Config{}, fmt.Errorf("%w: truncated kdf params length", domain.ErrCorruptedFilesystem)
	}
	kdfLen := binary.LittleEndian.Uint64(rest[:8])
	rest = rest[8:]
	if uint64(len(rest)) < kdfLen {
		return Config{}, fmt.Errorf("%w: truncated kdf params", domain.ErrCorruptedFilesystem)
	}
	params, err := decodeKDFParams(rest[:kdfLen])
	if err != nil {
		return Config{}, err
	}
	outerCiphertext := rest[kdfLen:]

	outerSuite, err := cryptoengine.Lookup(outerCipher)
	if err != nil {
		return Config{}, err
	}
	outerKey, innerMaterial, err := params.deriveKeys(password, outerSuite.KeySize(), maxInnerKeySize())
	if err != nil {
		return Config{}, err
	}
	outerAEAD, err := outerSuite.New(outerKey)
	if err != nil {
		return Config{}, err
	}
	outerPlaintext, err := openFramed(outerAEAD, outerCiphertext)
	if err != nil {
		return Config{}, err
	}

	payload, err := unpadOuterPlaintext(outerPlaintext)
	if err != nil {
		return Config{}, err
	}
	gotInnerMagic, payload, err := nulTerminated(payload)
	if err != nil {
		return Config{}, err
	}
	if gotInnerMagic != innerMagic {
		return Config{}, fmt.Errorf("%w: unrecognized inner magic %q", domain.ErrCorruptedFilesystem, gotInnerMagic)
	}
	innerCipherName, innerCiphertext, err := nulTerminated(payload)
	if err != nil {
		return Config{}, err
	}

	innerSuite, err := cryptoengine.Lookup(cryptoengine.Name(innerCipherName))
	if err != nil {
		return Config{}, fmt.Errorf("cryconfig: decode: %w", err)
	}
	innerKey := innerMaterial[:innerSuite.KeySize()]
	innerAEAD, err := innerSuite.New(innerKey)
	if err != nil {
		return Config{}, err
	}
	innerPlaintext, err := openFramed(innerAEAD, innerCiphertext)
	if err != nil {
		return Config{}, err
	}

	cfg, err := parseConfig(innerPlaintext)
	if err != nil {
		return Config{}, err
	}
	if string(cfg.Cipher) != innerCipherName {
		return Config{}, fmt.Errorf("%w: inner envelope cipher %q disagrees with cryfs.cipher %q", domain.ErrCorruptedFilesystem, innerCipherName, cfg.Cipher)
	}
	return cfg, nil
}
