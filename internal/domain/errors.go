package domain

import "errors"

// Sentinel errors shared across layers, one per error kind in the
// specification's error-kind table. Layers wrap these with fmt.Errorf's
// "%w" so callers can still errors.Is/errors.As against the sentinel while
// getting a layer-specific message.
var (
	// ErrNotFound indicates a block, blob, or path is absent when required.
	ErrNotFound = errors.New("domain: not found")

	// ErrAlreadyExists indicates a create target already exists.
	ErrAlreadyExists = errors.New("domain: already exists")

	// ErrIntegritySubstitution indicates a loaded block's embedded id did not
	// match the id it was requested under.
	ErrIntegritySubstitution = errors.New("domain: integrity violation: block substituted")

	// ErrIntegrityRollback indicates a loaded block's version regressed
	// relative to a version previously observed for the same (block, client).
	ErrIntegrityRollback = errors.New("domain: integrity violation: block rolled back")

	// ErrIntegrityMissing indicates a block known to have existed is now
	// absent from the backing store.
	ErrIntegrityMissing = errors.New("domain: integrity violation: block missing")

	// ErrStorePoisoned indicates the integrity store has detected a prior
	// violation and refuses further writes until restart.
	ErrStorePoisoned = errors.New("domain: block store poisoned by integrity violation")

	// ErrCorruptedBlock indicates a block's header failed to parse, or its
	// depth/size field is out of bounds.
	ErrCorruptedBlock = errors.New("domain: corrupted block")

	// ErrCorruptedFilesystem indicates a blob header, tree shape, or
	// directory-entry encoding is invalid.
	ErrCorruptedFilesystem = errors.New("domain: corrupted filesystem")

	// ErrInvalidPath indicates a path is relative, contains NUL, or exceeds
	// the maximum component/path length.
	ErrInvalidPath = errors.New("domain: invalid path")

	// ErrNotADirectory indicates a path component that is not a directory
	// was used as one.
	ErrNotADirectory = errors.New("domain: not a directory")

	// ErrIsADirectory indicates an operation that requires a non-directory
	// was given a directory.
	ErrIsADirectory = errors.New("domain: is a directory")

	// ErrNotASymlink indicates readlink was attempted on a non-symlink.
	ErrNotASymlink = errors.New("domain: not a symlink")

	// ErrDirectoryNotEmpty indicates rmdir/rename-over-target rejected a
	// non-empty directory.
	ErrDirectoryNotEmpty = errors.New("domain: directory not empty")

	// ErrMoveIntoOwnSubtree indicates a rename would move a directory into
	// one of its own descendants.
	ErrMoveIntoOwnSubtree = errors.New("domain: cannot move directory into its own subtree")

	// ErrExclusiveClientMismatch indicates a block was written by a client
	// id other than the filesystem's exclusive writer.
	ErrExclusiveClientMismatch = errors.New("domain: block written by non-exclusive client")

	// ErrBasedirSubstituted indicates a basedir's recorded filesystem id in
	// local state disagrees with the filesystem id of the config blob found
	// there now, i.e. the basedir's contents were swapped (§6.1).
	ErrBasedirSubstituted = errors.New("domain: basedir filesystem id does not match local state")

	// ErrWrongKey indicates a filesystem's local key-hash metadata disagrees
	// with the key just derived from a password, i.e. either the password or
	// the basedir's config blob does not match what this client last opened.
	ErrWrongKey = errors.New("domain: local key hash mismatch")
)
