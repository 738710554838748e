package localstate

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cryfsgo/cryfs/internal/domain"
)

// BasedirIndex is local_state_dir/basedir_metadata.json: a map from a
// canonical basedir path to the filesystem id last seen there, used to
// detect a basedir being substituted wholesale (a different, valid
// filesystem dropped in at the same path) between mounts (§6.1).
type BasedirIndex struct {
	path string

	mu      sync.Mutex
	entries map[string]string // canonical basedir -> filesystem id hex
}

func basedirIndexPath(localStateDir string) string {
	return filepath.Join(localStateDir, "basedir_metadata.json")
}

// OpenBasedirIndex loads (or initializes, if absent) the basedir index
// rooted at localStateDir.
func OpenBasedirIndex(localStateDir string) (*BasedirIndex, error) {
	path := basedirIndexPath(localStateDir)
	entries := map[string]string{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &entries); err != nil {
			return nil, fmt.Errorf("localstate: parsing %s: %w", path, err)
		}
	case os.IsNotExist(err):
		// First use on this machine; entries stays empty.
	default:
		return nil, fmt.Errorf("localstate: reading %s: %w", path, err)
	}
	return &BasedirIndex{path: path, entries: entries}, nil
}

func canonical(basedir string) (string, error) {
	abs, err := filepath.Abs(basedir)
	if err != nil {
		return "", fmt.Errorf("localstate: resolving basedir %s: %w", basedir, err)
	}
	return filepath.Clean(abs), nil
}

// Check verifies that basedir's previously recorded filesystem id (if any)
// matches fsID, returning domain.ErrBasedirSubstituted if it does not. If
// basedir has never been seen before, Check records fsID for it and
// returns nil (first open establishes the binding).
func (b *BasedirIndex) Check(basedir string, fsID domain.BlockID) error {
	key, err := canonical(basedir)
	if err != nil {
		return err
	}
	want := fsID.String()

	b.mu.Lock()
	got, known := b.entries[key]
	if !known {
		b.entries[key] = want
	}
	snapshot := make(map[string]string, len(b.entries))
	for k, v := range b.entries {
		snapshot[k] = v
	}
	b.mu.Unlock()

	if known && got != want {
		return fmt.Errorf("%w: basedir %s was %s, now %s", domain.ErrBasedirSubstituted, basedir, got, want)
	}
	if !known {
		return b.persist(snapshot)
	}
	return nil
}

// Forget removes basedir's recorded binding, e.g. after the filesystem is
// deleted, so a future different filesystem at the same path is not
// flagged as a substitution.
func (b *BasedirIndex) Forget(basedir string) error {
	key, err := canonical(basedir)
	if err != nil {
		return err
	}
	b.mu.Lock()
	delete(b.entries, key)
	snapshot := make(map[string]string, len(b.entries))
	for k, v := range b.entries {
		snapshot[k] = v
	}
	b.mu.Unlock()
	return b.persist(snapshot)
}

func (b *BasedirIndex) persist(snapshot map[string]string) error {
	encoded, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("localstate: encoding basedir index: %w", err)
	}
	return writeFileAtomic(b.path, encoded)
}
