// Package integrity implements the C3 integrity block store: a wrap over
// the encrypted block store that binds every block to the id it was
// requested under and to a monotonically increasing per-client version,
// detecting substitution, rollback, and deletion attacks by an untrusted
// backing store. The local ledger (known_versions/known_block_existence)
// is kept in SQLite, the same driver the teacher uses for its metadata
// index (internal/store/sqlite), rather than inventing a bespoke file
// format for this bookkeeping.
package integrity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Registers the sqlite3 driver used by database/sql.
	_ "github.com/mattn/go-sqlite3"

	"github.com/cryfsgo/cryfs/internal/domain"
)

// Ledger is the local, never-shipped-to-the-backing-store integrity state:
// known_versions and known_block_existence from §3.
type Ledger struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS known_versions (
	block_id TEXT NOT NULL,
	client_id INTEGER NOT NULL,
	version INTEGER NOT NULL,
	PRIMARY KEY (block_id, client_id)
);
CREATE TABLE IF NOT EXISTS known_block_existence (
	block_id TEXT PRIMARY KEY
);
`

// OpenLedger opens (creating if necessary) the integrity ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("integrity: opening ledger: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("integrity: creating schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the underlying database handle.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// KnownVersion returns the last version recorded for (id, clientID), and
// whether any version has been recorded at all.
func (l *Ledger) KnownVersion(ctx context.Context, id domain.BlockID, clientID domain.ClientID) (uint64, bool, error) {
	const q = `SELECT version FROM known_versions WHERE block_id = ? AND client_id = ?`
	var v uint64
	err := l.db.QueryRowContext(ctx, q, id.String(), uint32(clientID)).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("integrity: reading known version: %w", err)
	}
	return v, true, nil
}

// RecordVersion stores version as the known version for (id, clientID) if it
// is greater than (or there is no) currently recorded version.
func (l *Ledger) RecordVersion(ctx context.Context, id domain.BlockID, clientID domain.ClientID, version uint64) error {
	const q = `
INSERT INTO known_versions (block_id, client_id, version) VALUES (?, ?, ?)
ON CONFLICT(block_id, client_id) DO UPDATE SET version = MAX(version, excluded.version)
`
	if _, err := l.db.ExecContext(ctx, q, id.String(), uint32(clientID), version); err != nil {
		return fmt.Errorf("integrity: recording version: %w", err)
	}
	return nil
}

// MarkExists records that id was observed present on the backing store.
// Per §4.3 this entry is never removed by Remove, since deletion detection
// relies on it persisting across the block's actual removal.
func (l *Ledger) MarkExists(ctx context.Context, id domain.BlockID) error {
	const q = `INSERT OR IGNORE INTO known_block_existence (block_id) VALUES (?)`
	if _, err := l.db.ExecContext(ctx, q, id.String()); err != nil {
		return fmt.Errorf("integrity: marking existence: %w", err)
	}
	return nil
}

// KnownToExist reports whether id was ever marked present via MarkExists.
func (l *Ledger) KnownToExist(ctx context.Context, id domain.BlockID) (bool, error) {
	const q = `SELECT 1 FROM known_block_existence WHERE block_id = ?`
	var one int
	err := l.db.QueryRowContext(ctx, q, id.String()).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("integrity: reading existence: %w", err)
	}
	return true, nil
}

// MaxLocalVersion returns the highest version this client has itself
// recorded for id, used to pick the next version to write (§4.3 Store:
// "choose new version = max(current local version for (id, my_client_id)) + 1").
func (l *Ledger) MaxLocalVersion(ctx context.Context, id domain.BlockID, clientID domain.ClientID) (uint64, error) {
	v, _, err := l.KnownVersion(ctx, id, clientID)
	return v, err
}
