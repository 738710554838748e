// Package localstate implements C10's per-basedir local bookkeeping: the
// basedir_metadata.json substitution-detection index and each filesystem's
// own metadata file (client id, local encryption key hash) under
// local_state_dir/filesystem_id_<hex>/ (§6.1). None of this is shipped to
// the backing store; it exists purely so one client can detect a basedir
// being swapped out from under it or reopened with the wrong password
// before it ever touches a block.
//
// Writes use the same temp-file-plus-rename atomic pattern as
// internal/blocks/ondisk, generalized from a block file to a small JSON
// document.
package localstate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cryfsgo/cryfs/internal/domain"
)

// writeFileAtomic writes data to path via a temp file in the same directory
// followed by an fsync'd rename, so a crash mid-write never leaves a
// truncated local-state file behind.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("localstate: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("localstate: create temp for %s: %w", path, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("localstate: write temp for %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("localstate: sync temp for %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("localstate: close temp for %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("localstate: rename into place %s: %w", path, err)
	}
	return nil
}

// FilesystemDir returns local_state_dir/filesystem_id_<hex>, the directory
// C3's ledger and this package's Metadata file both live under.
func FilesystemDir(localStateDir string, fsID domain.BlockID) string {
	return filepath.Join(localStateDir, "filesystem_id_"+fsID.String())
}

// KeyHash returns the local-metadata fingerprint of an encryption key: a
// plain SHA-256 digest. It is compared, never reversed, so there is no
// weakening in storing it unsalted (the key itself never leaves memory).
func KeyHash(key []byte) [sha256.Size]byte {
	return sha256.Sum256(key)
}

// Metadata is the per-filesystem local-state document (§6.1:
// "local_state_dir/filesystem_id_<hex>/metadata" — "client id, local
// encryption key hash").
type Metadata struct {
	ClientID domain.ClientID  `json:"client_id"`
	KeyHash  [sha256.Size]byte `json:"key_hash"`
}

func metadataPath(localStateDir string, fsID domain.BlockID) string {
	return filepath.Join(FilesystemDir(localStateDir, fsID), "metadata")
}

// LoadOrCreateMetadata reads the filesystem's metadata file, creating one
// with a freshly generated ClientID and the given key's hash if none exists
// yet (first open of this basedir by this client). created reports which
// branch was taken.
func LoadOrCreateMetadata(localStateDir string, fsID domain.BlockID, key []byte) (meta Metadata, created bool, err error) {
	path := metadataPath(localStateDir, fsID)
	raw, err := os.ReadFile(path)
	if err == nil {
		if err := json.Unmarshal(raw, &meta); err != nil {
			return Metadata{}, false, fmt.Errorf("localstate: parsing %s: %w", path, err)
		}
		return meta, false, nil
	}
	if !os.IsNotExist(err) {
		return Metadata{}, false, fmt.Errorf("localstate: reading %s: %w", path, err)
	}

	clientID, err := domain.NewClientID()
	if err != nil {
		return Metadata{}, false, fmt.Errorf("localstate: generating client id: %w", err)
	}
	meta = Metadata{ClientID: clientID, KeyHash: KeyHash(key)}
	encoded, err := json.Marshal(meta)
	if err != nil {
		return Metadata{}, false, fmt.Errorf("localstate: encoding metadata: %w", err)
	}
	if err := writeFileAtomic(path, encoded); err != nil {
		return Metadata{}, false, err
	}
	return meta, true, nil
}

// VerifyKey reports domain.ErrWrongKey if key's hash disagrees with the
// metadata's recorded one (§1: integrity-violation/substitution detection
// extends to "did we open this with the key we expect").
func (m Metadata) VerifyKey(key []byte) error {
	if KeyHash(key) != m.KeyHash {
		return domain.ErrWrongKey
	}
	return nil
}
