package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/cryfsgo/cryfs/internal/blocks"
	"github.com/cryfsgo/cryfs/internal/blocks/caching"
	"github.com/cryfsgo/cryfs/internal/blocks/encrypted"
	"github.com/cryfsgo/cryfs/internal/blocks/integrity"
	"github.com/cryfsgo/cryfs/internal/blocks/ondisk"
	"github.com/cryfsgo/cryfs/internal/concurrent"
	"github.com/cryfsgo/cryfs/internal/cryconfig"
	"github.com/cryfsgo/cryfs/internal/cryptoengine"
	"github.com/cryfsgo/cryfs/internal/datanode"
	"github.com/cryfsgo/cryfs/internal/datatree"
	"github.com/cryfsgo/cryfs/internal/domain"
	"github.com/cryfsgo/cryfs/internal/fsadapter"
	"github.com/cryfsgo/cryfs/internal/fsblobstore"
	"github.com/cryfsgo/cryfs/internal/localstate"
	"github.com/cryfsgo/cryfs/internal/runtimeconfig"
)

// moduleVersion is stamped into cryfs.version/createdWithVersion/
// lastOpenedWithVersion the way the teacher's build stamps its own release
// version; this module has no release process yet, so it is fixed.
const moduleVersion = "0.1.0"

// configFormatVersion is the "cryfs.formatVersion" cryConfig line (§6.2
// example: "0.10").
const configFormatVersion = "0.10"

const configFileName = "cryfs.config"

// CreateOptions customizes `cryfs create` knobs layered over
// runtimeconfig.Config's defaults (§6.3's --cipher/--blocksize flags).
type CreateOptions struct {
	Cipher              cryptoengine.Name
	BlockSizeBytes      uint64
	ExclusiveClientMode bool
}

// OpenOptions customizes per-open integrity policy overrides (§6.3's
// --missing-block-is-integrity-violation flag). A nil pointer means "use
// the runtimeconfig default."
type OpenOptions struct {
	MissingBlockIsIntegrityViolation *bool
	AllowIntegrityViolations         *bool
	OnViolation                      func(error)
}

// Service orchestrates creating and opening cryfs filesystems: deriving
// keys, wiring C1-C9, and handing the caller a ready Adapter. It holds no
// open filesystem state itself, mirroring the teacher's stateless
// Service-plus-injected-Store shape.
type Service struct {
	Runtime runtimeconfig.Config
	Clock   domain.Clock
	Log     *slog.Logger
}

// NewService constructs a Service. A nil clock defaults to domain.SystemClock{}
// and a nil log to slog.Default().
func NewService(runtime runtimeconfig.Config, clock domain.Clock, log *slog.Logger) *Service {
	if clock == nil {
		clock = domain.SystemClock{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{Runtime: runtime, Clock: clock, Log: log}
}

// Filesystem bundles an opened filesystem's adapter with the resources
// that must be torn down when it's unmounted: the cache's background
// flush timer and the integrity ledger's database handle. Close must be
// called exactly once; per §9's "async destructor" note, a leaked
// Filesystem is a programming error this module can't detect without a
// finalizer, which is deliberately not added (finalizers are not a
// substitute for explicit teardown).
type Filesystem struct {
	Adapter      *fsadapter.Adapter
	Blobs        *fsblobstore.Store
	Config       cryconfig.Config
	BasedirIndex *localstate.BasedirIndex
	Basedir      string

	ledger *integrity.Ledger
	cache  *caching.Store
}

// Close flushes dirty cache entries to the backing store and releases the
// integrity ledger's database handle, continuing past the first error the
// way §4.4's "on store teardown" rule requires (flush everything it can,
// surface the first failure).
func (fs *Filesystem) Close(ctx context.Context) error {
	var firstErr error
	if err := fs.cache.Close(ctx); err != nil {
		firstErr = fmt.Errorf("app: flushing cache: %w", err)
	}
	if err := fs.ledger.Close(); err != nil && firstErr == nil {
		firstErr = fmt.Errorf("app: closing integrity ledger: %w", err)
	}
	return firstErr
}

// stack is everything built between the on-disk store and the blob layer,
// shared by Create/Open/Check so they don't duplicate the wiring order.
type stack struct {
	ledger    *integrity.Ledger
	cache     *caching.Store
	blobs     *fsblobstore.Store
	rawBlocks blocks.Store // the caching layer, exposed to fsadapter.New for Statfs
}

func (s *Service) buildStack(cfg cryconfig.Config, basedir string, clientID domain.ClientID, policy integrity.Policy) (*stack, error) {
	ondiskStore, err := ondisk.New(basedir, int(cfg.BlockSizeBytes), s.Log)
	if err != nil {
		return nil, fmt.Errorf("app: opening block storage: %w", err)
	}

	suite, err := cryptoengine.Lookup(cfg.Cipher)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	encStore, err := encrypted.New(ondiskStore, suite, cfg.EncKey)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}

	fsDir := localstate.FilesystemDir(s.Runtime.LocalStateDir, cfg.FilesystemID)
	ledger, err := integrity.OpenLedger(filepath.Join(fsDir, "integritydata"))
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	integrityStore := integrity.New(encStore, ledger, clientID, policy, s.Log)

	cacheStore, err := caching.New(integrityStore, caching.Config{
		Capacity:      s.Runtime.CacheCapacity,
		FlushInterval: s.Runtime.FlushInterval,
		Log:           s.Log,
	})
	if err != nil {
		ledger.Close()
		return nil, fmt.Errorf("app: %w", err)
	}

	nodes := datanode.New(cacheStore)
	trees := datatree.New(nodes)
	blobs := fsblobstore.New(trees)

	return &stack{ledger: ledger, cache: cacheStore, blobs: blobs, rawBlocks: cacheStore}, nil
}

// randomKey returns n cryptographically random bytes, used for a new
// filesystem's block-encryption key.
func randomKey(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("app: generating key material: %w", err)
	}
	return b, nil
}

// Create initializes a brand-new filesystem at basedir: a fresh
// filesystem id and block-encryption key, an empty root directory blob,
// and the encrypted config blob written to basedir/cryfs.config (§6.1,
// §6.2). basedir is created if it does not exist yet; it must not already
// hold a config blob.
func (s *Service) Create(ctx context.Context, basedir string, password []byte, opts CreateOptions) (*Filesystem, error) {
	if err := os.MkdirAll(basedir, 0o700); err != nil {
		return nil, fmt.Errorf("app: creating basedir: %w", err)
	}
	configPath := filepath.Join(basedir, configFileName)
	if _, err := os.Stat(configPath); err == nil {
		return nil, fmt.Errorf("%w: %s already contains a filesystem", domain.ErrAlreadyExists, basedir)
	}

	cipher := opts.Cipher
	if cipher == "" {
		cipher = cryptoengine.Name(s.Runtime.DefaultCipher)
	}
	suite, err := cryptoengine.Lookup(cipher)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	blockSize := opts.BlockSizeBytes
	if blockSize == 0 {
		blockSize = s.Runtime.DefaultBlockSizeBytes
	}

	filesystemID, err := domain.NewBlockID()
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	encKey, err := randomKey(suite.KeySize())
	if err != nil {
		return nil, err
	}

	meta, _, err := localstate.LoadOrCreateMetadata(s.Runtime.LocalStateDir, filesystemID, encKey)
	if err != nil {
		return nil, err
	}

	policy := integrity.Policy{
		AllowIntegrityViolations:         s.Runtime.AllowIntegrityViolations,
		MissingBlockIsIntegrityViolation: s.Runtime.MissingBlockIsIntegrityViolation,
	}
	if opts.ExclusiveClientMode {
		cid := meta.ClientID
		policy.ExclusiveClientID = &cid
	}

	cfg := cryconfig.Config{
		BlockSizeBytes:        blockSize,
		Cipher:                cipher,
		Version:               moduleVersion,
		CreatedWithVersion:    moduleVersion,
		LastOpenedWithVersion: moduleVersion,
		FormatVersion:         configFormatVersion,
		FilesystemID:          filesystemID,
		EncKey:                encKey,
	}
	if opts.ExclusiveClientMode {
		cid := meta.ClientID
		cfg.ExclusiveClientID = &cid
	}

	st, err := s.buildStack(cfg, basedir, meta.ClientID, policy)
	if err != nil {
		return nil, err
	}

	rootDir, err := st.blobs.CreateDirBlob(ctx, domain.BlobID{})
	if err != nil {
		st.cache.Close(ctx)
		st.ledger.Close()
		return nil, fmt.Errorf("app: creating root directory: %w", err)
	}
	cfg.RootBlob = rootDir.ID().ToBlockID()

	encoded, err := cryconfig.Encode(cfg, password)
	if err != nil {
		st.cache.Close(ctx)
		st.ledger.Close()
		return nil, err
	}
	if err := writeConfigExclusive(configPath, encoded); err != nil {
		st.cache.Close(ctx)
		st.ledger.Close()
		return nil, err
	}

	basedirIndex, err := localstate.OpenBasedirIndex(s.Runtime.LocalStateDir)
	if err != nil {
		st.cache.Close(ctx)
		st.ledger.Close()
		return nil, err
	}
	if err := basedirIndex.Check(basedir, filesystemID); err != nil {
		st.cache.Close(ctx)
		st.ledger.Close()
		return nil, err
	}

	adapter := s.newAdapter(st, cfg)
	return &Filesystem{
		Adapter:      adapter,
		Blobs:        st.blobs,
		Config:       cfg,
		BasedirIndex: basedirIndex,
		Basedir:      basedir,
		ledger:       st.ledger,
		cache:        st.cache,
	}, nil
}

// Open decrypts basedir's config blob with password and wires up the
// storage engine against it, verifying the basedir hasn't been
// substituted and the locally remembered key hash still matches (§6.1).
func (s *Service) Open(ctx context.Context, basedir string, password []byte, opts OpenOptions) (*Filesystem, error) {
	configPath := filepath.Join(basedir, configFileName)
	raw, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("app: reading %s: %w", configPath, err)
	}
	cfg, err := cryconfig.Decode(raw, password)
	if err != nil {
		return nil, err
	}

	meta, _, err := localstate.LoadOrCreateMetadata(s.Runtime.LocalStateDir, cfg.FilesystemID, cfg.EncKey)
	if err != nil {
		return nil, err
	}
	if err := meta.VerifyKey(cfg.EncKey); err != nil {
		return nil, err
	}

	basedirIndex, err := localstate.OpenBasedirIndex(s.Runtime.LocalStateDir)
	if err != nil {
		return nil, err
	}
	if err := basedirIndex.Check(basedir, cfg.FilesystemID); err != nil {
		return nil, err
	}

	policy := integrity.Policy{
		AllowIntegrityViolations:         s.Runtime.AllowIntegrityViolations,
		MissingBlockIsIntegrityViolation: s.Runtime.MissingBlockIsIntegrityViolation,
		OnViolation:                      opts.OnViolation,
	}
	if opts.AllowIntegrityViolations != nil {
		policy.AllowIntegrityViolations = *opts.AllowIntegrityViolations
	}
	if opts.MissingBlockIsIntegrityViolation != nil {
		policy.MissingBlockIsIntegrityViolation = *opts.MissingBlockIsIntegrityViolation
	}
	if cfg.ExclusiveClientID != nil {
		policy.ExclusiveClientID = cfg.ExclusiveClientID
		if *cfg.ExclusiveClientID != meta.ClientID && !policy.AllowIntegrityViolations {
			return nil, fmt.Errorf("%w: filesystem is exclusive to client %d, this client is %d",
				domain.ErrExclusiveClientMismatch, *cfg.ExclusiveClientID, meta.ClientID)
		}
	}

	st, err := s.buildStack(cfg, basedir, meta.ClientID, policy)
	if err != nil {
		return nil, err
	}

	cfg.LastOpenedWithVersion = moduleVersion
	if encoded, err := cryconfig.Encode(cfg, password); err != nil {
		s.Log.Warn("re-encoding config with updated lastOpenedWithVersion failed", "basedir", basedir, "err", err)
	} else if err := writeConfigOverwrite(configPath, encoded); err != nil {
		s.Log.Warn("best-effort lastOpenedWithVersion rewrite failed", "basedir", basedir, "err", err)
	}

	adapter := s.newAdapter(st, cfg)
	return &Filesystem{
		Adapter:      adapter,
		Blobs:        st.blobs,
		Config:       cfg,
		BasedirIndex: basedirIndex,
		Basedir:      basedir,
		ledger:       st.ledger,
		cache:        st.cache,
	}, nil
}

// Check opens basedir read-write (the on-disk structures are identical; it
// writes nothing of its own) and walks every reachable blob from the root,
// collecting the diagnostics fsblobstore.Walk reports rather than stopping
// at the first one. The standalone checker CLI tool itself is out of
// scope (spec.md §1); this is the traversal it would be built on.
func (s *Service) Check(ctx context.Context, basedir string, password []byte) ([]fsblobstore.Diagnostic, error) {
	fs, err := s.Open(ctx, basedir, password, OpenOptions{})
	if err != nil {
		return nil, err
	}
	defer fs.Close(ctx)

	rootID := domain.BlobID(fs.Config.RootBlob)
	diags, err := fs.Blobs.Walk(ctx, rootID, nil)
	if err != nil {
		return diags, fmt.Errorf("app: checking filesystem: %w", err)
	}
	return diags, nil
}

func (s *Service) newAdapter(st *stack, cfg cryconfig.Config) *fsadapter.Adapter {
	blobStore := concurrent.New(st.blobs)
	rootID := domain.BlobID(cfg.RootBlob)
	return fsadapter.New(blobStore, st.rawBlocks, rootID, s.Clock, fsadapter.AtimeRelative, 0o755, 0, 0)
}

// writeConfigExclusive writes a brand-new config blob, refusing to
// overwrite one that already exists (mirrors ondisk.Store.TryCreate's
// O_CREATE|O_EXCL atomicity, generalized to a single top-level file).
func writeConfigExclusive(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyExists, path)
		}
		return fmt.Errorf("app: creating %s: %w", path, err)
	}
	defer f.Close()
	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("app: writing %s: %w", path, err)
	}
	return f.Sync()
}

// writeConfigOverwrite rewrites an existing config blob via temp-file plus
// rename, the same atomic-overwrite pattern as ondisk.Store.Store.
func writeConfigOverwrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-cryfs-config-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

