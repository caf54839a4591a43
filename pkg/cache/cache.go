// Package cache stores finished bytecode artifacts in SQLite, keyed by a
// digest of the source text. Recompiling an unchanged unit becomes a
// lookup instead of a full instruction-selection pass.
package cache

import (
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/chazu/quill/pkg/bytecode"
)

// ErrNotFound indicates no artifact is cached for the digest.
var ErrNotFound = errors.New("artifact not found")

// Store is a SQLite-backed artifact cache. Safe for use from one process;
// SQLite's busy timeout arbitrates concurrent opens.
type Store struct {
	db      *sql.DB
	buildID string
}

// Open opens (creating if needed) the cache database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("cache: opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: setting busy timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS artifacts (
		digest TEXT PRIMARY KEY,
		build_id TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		data BLOB NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("cache: creating table: %w", err)
	}

	return &Store{
		db:      db,
		buildID: uuid.New().String(),
	}, nil
}

// BuildID returns the identifier stamped on artifacts stored through this
// Store instance.
func (s *Store) BuildID() string {
	return s.buildID
}

// Digest returns the cache key for a source text.
func Digest(source []byte) string {
	sum := sha256.Sum256(source)
	return hex.EncodeToString(sum[:])
}

// Put stores an artifact under the given digest, replacing any previous
// entry.
func (s *Store) Put(digest string, array *bytecode.BytecodeArray) error {
	data, err := bytecode.MarshalArray(array)
	if err != nil {
		return fmt.Errorf("cache: marshaling artifact: %w", err)
	}
	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO artifacts (digest, build_id, created_at, data) VALUES (?, ?, ?, ?)`,
		digest, s.buildID, time.Now().Unix(), data,
	)
	if err != nil {
		return fmt.Errorf("cache: storing artifact: %w", err)
	}
	return nil
}

// Get loads the artifact cached under digest. Returns ErrNotFound when the
// digest has no entry.
func (s *Store) Get(digest string) (*bytecode.BytecodeArray, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM artifacts WHERE digest = ?`, digest).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("cache: loading artifact: %w", err)
	}
	array, err := bytecode.UnmarshalArray(data)
	if err != nil {
		return nil, fmt.Errorf("cache: decoding artifact: %w", err)
	}
	return array, nil
}

// Len returns the number of cached artifacts.
func (s *Store) Len() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM artifacts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("cache: counting artifacts: %w", err)
	}
	return n, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
