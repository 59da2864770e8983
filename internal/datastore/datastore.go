// Package datastore persists the index: folder records, conversations,
// message records and their fulltext rows, all in a single SQLite file.
package datastore

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mattmanj17/msgindex/internal/models"
	_ "modernc.org/sqlite"
)

// SchemaVersion is the current on-disk schema version, recorded in the
// meta table so migrations can detect old databases.
const SchemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS folder_locations (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	folder_uri        TEXT NOT NULL UNIQUE,
	dirty_status      INTEGER NOT NULL DEFAULT 0,
	indexing_priority INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS conversations (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	subject TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS messages (
	id                INTEGER PRIMARY KEY,
	folder_id         INTEGER,
	message_key       INTEGER,
	conversation_id   INTEGER NOT NULL,
	date              INTEGER,
	header_message_id TEXT NOT NULL,
	deleted           INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_messages_header_id ON messages (header_message_id);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages (conversation_id);
CREATE INDEX IF NOT EXISTS idx_messages_location ON messages (folder_id, message_key);
CREATE INDEX IF NOT EXISTS idx_messages_deleted ON messages (deleted) WHERE deleted = 1;

CREATE VIRTUAL TABLE IF NOT EXISTS messages_text USING fts5 (
	subject, body, attachment_names
);

CREATE TABLE IF NOT EXISTS message_attributes (
	message_id      INTEGER NOT NULL,
	conversation_id INTEGER NOT NULL,
	name            TEXT NOT NULL,
	value           TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_attributes_message ON message_attributes (message_id);

CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL DEFAULT ''
);
`

// Store wraps the SQLite connection and the in-memory folder cache.  It is
// not safe for concurrent use; everything runs on the indexer goroutine.
type Store struct {
	db   *sql.DB
	path string

	// nextMessageID is allocated in memory; ids below the first-valid
	// floor are reserved as sentinels.
	nextMessageID int64

	folderByURI map[string]*models.Folder
	folderByID  map[int64]*models.Folder

	postCommit []func()
}

// Open opens (or creates) the index database at path.  firstValidID is the
// floor for message record ids; existing databases resume above their
// current maximum.
func Open(path string, firstValidID int64) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}

	s := &Store{
		db:          db,
		path:        path,
		folderByURI: make(map[string]*models.Folder),
		folderByID:  make(map[int64]*models.Folder),
	}

	var maxID sql.NullInt64
	if err := db.QueryRow("SELECT MAX(id) FROM messages").Scan(&maxID); err != nil {
		db.Close()
		return nil, fmt.Errorf("read max message id: %w", err)
	}
	s.nextMessageID = firstValidID
	if maxID.Valid && maxID.Int64 >= firstValidID {
		s.nextMessageID = maxID.Int64 + 1
	}

	if err := s.loadFolders(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// RunPostCommit queues fn to run after the next Flush.  Callers use this
// to sequence work after the current batch of writes is durable.
func (s *Store) RunPostCommit(fn func()) {
	s.postCommit = append(s.postCommit, fn)
}

// Flush makes queued writes durable and fires the post-commit callbacks.
// Writes autocommit as they happen, so the WAL checkpoint is the only
// durability work left; the callbacks are the point.
func (s *Store) Flush() error {
	_, err := s.db.Exec("PRAGMA wal_checkpoint(PASSIVE)")
	callbacks := s.postCommit
	s.postCommit = nil
	for _, fn := range callbacks {
		fn()
	}
	if err != nil {
		return fmt.Errorf("checkpoint: %w", err)
	}
	return nil
}

// MetaValue reads a value from the meta table; missing keys return "".
func (s *Store) MetaValue(key string) (string, error) {
	var v string
	err := s.db.QueryRow("SELECT value FROM meta WHERE key = ?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read meta %s: %w", key, err)
	}
	return v, nil
}

// SetMetaValue writes a value to the meta table.
func (s *Store) SetMetaValue(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("write meta %s: %w", key, err)
	}
	return nil
}
