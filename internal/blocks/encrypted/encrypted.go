// Package encrypted implements the C2 encrypted block store: an AEAD wrap
// over a lower blocks.Store that authenticates each block's ciphertext
// against its block id (binding id to ciphertext so one block cannot be
// silently substituted for another, §3/§4.2) and prepends a format-version
// header. The per-block nonce-prefix-then-ciphertext layout mirrors
// gocryptfs' contentenc.ContentEnc framing, generalized here to whole
// fixed-size blocks instead of a stream of 4 KiB content blocks.
package encrypted

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"iter"

	"github.com/cryfsgo/cryfs/internal/blocks"
	"github.com/cryfsgo/cryfs/internal/cryptoengine"
	"github.com/cryfsgo/cryfs/internal/domain"
)

// FormatVersion is written as the first 2 bytes of every encrypted block.
const FormatVersion uint16 = 1

const headerLen = 2 // format_version:2

// Store wraps a lower blocks.Store, encrypting/decrypting block payloads
// with the configured AEAD suite and key.
type Store struct {
	lower blocks.Store
	suite cryptoengine.Suite
	aead  cipher.AEAD
	key   []byte
}

var _ blocks.Store = (*Store)(nil)

// New wraps lower with AEAD encryption under suite, keyed by key (which must
// be exactly suite.KeySize() bytes).
func New(lower blocks.Store, suite cryptoengine.Suite, key []byte) (*Store, error) {
	aead, err := suite.New(key)
	if err != nil {
		return nil, fmt.Errorf("encrypted: %w", err)
	}
	return &Store{lower: lower, suite: suite, aead: aead, key: key}, nil
}

// overhead returns the number of bytes this layer adds per block: the
// format-version header, the AEAD nonce, and the authentication tag
// (§4.2: "prefix = 2 + nonce_size, suffix = auth_tag_size").
func (s *Store) overhead() int {
	return headerLen + s.aead.NonceSize() + s.aead.Overhead()
}

// BlockSizeBytes returns the usable payload size once this layer's overhead
// is subtracted from the lower layer's block size.
func (s *Store) BlockSizeBytes() int {
	return s.lower.BlockSizeBytes() - s.overhead()
}

// Exists delegates to the lower store; existence does not require decryption.
func (s *Store) Exists(ctx context.Context, id domain.BlockID) (bool, error) {
	return s.lower.Exists(ctx, id)
}

// Load reads, authenticates, and decrypts the block at id.
func (s *Store) Load(ctx context.Context, id domain.BlockID) ([]byte, bool, error) {
	raw, found, err := s.lower.Load(ctx, id)
	if err != nil || !found {
		return nil, found, err
	}
	pt, err := s.decrypt(id, raw)
	if err != nil {
		return nil, false, err
	}
	return pt, true, nil
}

func (s *Store) decrypt(id domain.BlockID, raw []byte) ([]byte, error) {
	if len(raw) < s.overhead() {
		return nil, fmt.Errorf("%w: block %s too short (%d bytes)", domain.ErrCorruptedBlock, id, len(raw))
	}
	version := binary.BigEndian.Uint16(raw[:headerLen])
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: block %s has unsupported format version %d", domain.ErrCorruptedBlock, id, version)
	}
	nonceSize := s.aead.NonceSize()
	nonce := raw[headerLen : headerLen+nonceSize]
	ciphertext := raw[headerLen+nonceSize:]
	pt, err := s.aead.Open(ciphertext[:0:0], nonce, ciphertext, id[:])
	if err != nil {
		return nil, fmt.Errorf("%w: block %s failed AEAD authentication", domain.ErrIntegritySubstitution, id)
	}
	return pt, nil
}

func (s *Store) encrypt(id domain.BlockID, plaintext []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	buf := make([]byte, headerLen+nonceSize, headerLen+nonceSize+len(plaintext)+s.aead.Overhead())
	binary.BigEndian.PutUint16(buf[:headerLen], FormatVersion)
	nonce := buf[headerLen : headerLen+nonceSize]
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("encrypted: generating nonce: %w", err)
	}
	return s.aead.Seal(buf, nonce, plaintext, id[:]), nil
}

// TryCreate encrypts data and stores it only if id is not already present.
func (s *Store) TryCreate(ctx context.Context, id domain.BlockID, data []byte) (bool, error) {
	ct, err := s.encrypt(id, data)
	if err != nil {
		return false, err
	}
	return s.lower.TryCreate(ctx, id, ct)
}

// Store encrypts data and writes it under id, overwriting any existing block.
func (s *Store) Store(ctx context.Context, id domain.BlockID, data []byte) error {
	ct, err := s.encrypt(id, data)
	if err != nil {
		return err
	}
	return s.lower.Store(ctx, id, ct)
}

// Remove deletes the block at id.
func (s *Store) Remove(ctx context.Context, id domain.BlockID) (bool, error) {
	return s.lower.Remove(ctx, id)
}

// NumBlocks delegates to the lower store.
func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	return s.lower.NumBlocks(ctx)
}

// EstimateNumFreeBytes delegates to the lower store.
func (s *Store) EstimateNumFreeBytes(ctx context.Context) (uint64, error) {
	return s.lower.EstimateNumFreeBytes(ctx)
}

// AllBlocks delegates to the lower store; block ids are never encrypted.
func (s *Store) AllBlocks(ctx context.Context) iter.Seq2[domain.BlockID, error] {
	return s.lower.AllBlocks(ctx)
}
