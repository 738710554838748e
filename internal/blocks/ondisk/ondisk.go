// Package ondisk implements the C1 on-disk block store: it reads and writes
// opaque fixed-size files named by block id under a base directory. It is
// modeled on the teacher's internal/store/filesystem.BlobStore (atomic
// create-exclusive writes, a validated-id-derived path, best-effort
// listing) generalized from a flat single-suffix layout to the
// specification's 256-way fanout (§4.1).
package ondisk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/cryfsgo/cryfs/internal/blocks"
	"github.com/cryfsgo/cryfs/internal/domain"
)

// Store implements blocks.Store by storing each block as a single file
// under basedir/XX/YYYYYY... where XX is the first hex byte of the block id
// (§4.1: "bounds directory entries per folder").
type Store struct {
	basedir   string
	blockSize int
	log       *slog.Logger
}

var _ blocks.Store = (*Store)(nil)

// New returns an on-disk store rooted at basedir, which must already exist.
// blockSize is the physical size P every stored block must have.
func New(basedir string, blockSize int, log *slog.Logger) (*Store, error) {
	fi, err := os.Stat(basedir)
	if err != nil {
		return nil, fmt.Errorf("ondisk: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("ondisk: %s is not a directory", basedir)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Store{basedir: basedir, blockSize: blockSize, log: log.With("component", "ondisk")}, nil
}

// BlockSizeBytes returns the physical block size P.
func (s *Store) BlockSizeBytes() int { return s.blockSize }

func (s *Store) dir(id domain.BlockID) string {
	return filepath.Join(s.basedir, id.FanoutPrefix())
}

func (s *Store) path(id domain.BlockID) string {
	return filepath.Join(s.dir(id), id.FanoutRemainder())
}

// Exists reports whether a block file exists for id.
func (s *Store) Exists(_ context.Context, id domain.BlockID) (bool, error) {
	_, err := os.Stat(s.path(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("ondisk: exists %s: %w", id, err)
}

// Load reads the full contents of the block file for id.
func (s *Store) Load(_ context.Context, id domain.BlockID) ([]byte, bool, error) {
	data, err := withRetry(func() ([]byte, error) { return os.ReadFile(s.path(id)) })
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("ondisk: load %s: %w", id, err)
	}
	return data, true, nil
}

// TryCreate atomically creates the block file for id via O_CREATE|O_EXCL,
// reporting created=false without modifying anything if it already exists.
func (s *Store) TryCreate(_ context.Context, id domain.BlockID, data []byte) (bool, error) {
	dir := s.dir(id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return false, fmt.Errorf("ondisk: mkdir %s: %w", dir, err)
	}
	f, err := os.OpenFile(s.path(id), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return false, nil
		}
		return false, fmt.Errorf("ondisk: create %s: %w", id, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		_ = os.Remove(s.path(id))
		return false, fmt.Errorf("ondisk: write %s: %w", id, err)
	}
	if err := f.Sync(); err != nil {
		return false, fmt.Errorf("ondisk: sync %s: %w", id, err)
	}
	return true, nil
}

// Store writes data for id atomically via temp-file + rename within the
// same directory (§4.1), overwriting any existing block.
func (s *Store) Store(_ context.Context, id domain.BlockID, data []byte) error {
	dir := s.dir(id)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("ondisk: mkdir %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("ondisk: create temp for %s: %w", id, err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ondisk: write temp for %s: %w", id, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("ondisk: sync temp for %s: %w", id, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ondisk: close temp for %s: %w", id, err)
	}
	_, err = withRetry(func() (struct{}, error) {
		return struct{}{}, os.Rename(tmpPath, s.path(id))
	})
	if err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ondisk: rename into place %s: %w", id, err)
	}
	return nil
}

// Remove deletes the block file for id.
func (s *Store) Remove(_ context.Context, id domain.BlockID) (bool, error) {
	err := os.Remove(s.path(id))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("ondisk: remove %s: %w", id, err)
}

// NumBlocks counts block files across the fanout directories.
func (s *Store) NumBlocks(ctx context.Context) (uint64, error) {
	var n uint64
	for _, err := range s.AllBlocks(ctx) {
		if err != nil {
			return 0, err
		}
		n++
	}
	return n, nil
}

// AllBlocks walks the two-level fanout directory structure, skipping
// ill-formed entries with a logged warning rather than failing outright
// (§4.1: "ill-formed names are skipped with a warning").
func (s *Store) AllBlocks(_ context.Context) iter.Seq2[domain.BlockID, error] {
	return func(yield func(domain.BlockID, error) bool) {
		topEntries, err := os.ReadDir(s.basedir)
		if err != nil {
			yield(domain.BlockID{}, fmt.Errorf("ondisk: read basedir: %w", err))
			return
		}
		for _, top := range topEntries {
			if !top.IsDir() || len(top.Name()) != 2 {
				continue
			}
			subdir := filepath.Join(s.basedir, top.Name())
			subEntries, err := os.ReadDir(subdir)
			if err != nil {
				yield(domain.BlockID{}, fmt.Errorf("ondisk: read %s: %w", subdir, err))
				return
			}
			for _, sub := range subEntries {
				if sub.IsDir() {
					continue
				}
				hex := top.Name() + sub.Name()
				id, err := domain.ParseBlockID(hex)
				if err != nil {
					s.log.Warn("skipping ill-formed block filename", "path", filepath.Join(subdir, sub.Name()))
					continue
				}
				if !yield(id, nil) {
					return
				}
			}
		}
	}
}

// withRetry retries a transient-I/O-prone operation up to 3 times with a
// small linear backoff (§7: "Retries are done only for transient OS I/O
// errors at the C1 layer (bounded, e.g. 3 attempts with backoff for rename
// races)"). It never retries a "does not exist"/"already exists" result.
func withRetry[T any](op func() (T, error)) (T, error) {
	const attempts = 3
	var (
		result T
		err    error
	)
	for i := 0; i < attempts; i++ {
		result, err = op()
		if err == nil || errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrExist) {
			return result, err
		}
		time.Sleep(time.Duration(i+1) * 5 * time.Millisecond)
	}
	return result, err
}
