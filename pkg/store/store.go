package store

import (
	"database/sql"
	"errors"
	"os"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"strmdav/pkg/logger"
)

// Store is the durable identification table: one SQLite file, one
// matches(key -> value) table. Values are opaque serialised bytes owned by
// the caller.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema. A
// leftover directory at path from the previous tree-store layout is removed;
// identifications are simply re-fetched.
func Open(path string) (*Store, error) {
	if info, err := os.Stat(path); err == nil && info.IsDir() {
		logger.Warn("[Store] Removing legacy store directory at %s", path)
		if err := os.RemoveAll(path); err != nil {
			return nil, err
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	_, _ = db.Exec(`PRAGMA synchronous=NORMAL`)
	_, _ = db.Exec(`PRAGMA temp_store=MEMORY`)

	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS matches (
    key        TEXT PRIMARY KEY,
    value      BLOB NOT NULL,
    updated_at INTEGER NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Put inserts or replaces one identification record.
func (s *Store) Put(key string, value []byte) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	_, err := execWithRetry(s.db,
		`INSERT INTO matches(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET
		   value=excluded.value,
		   updated_at=excluded.updated_at`,
		key, value, time.Now().Unix(),
	)
	return err
}

// Get returns the value for key, reporting whether it exists.
func (s *Store) Get(key string) ([]byte, bool, error) {
	if s == nil || s.db == nil {
		return nil, false, errors.New("store not initialized")
	}
	var value []byte
	err := s.db.QueryRow(`SELECT value FROM matches WHERE key=?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// All returns every record in the table in one read pass.
func (s *Store) All() (map[string][]byte, error) {
	if s == nil || s.db == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.db.Query(`SELECT key, value FROM matches`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]byte)
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value
	}
	return out, rows.Err()
}

// Delete removes one record. Deleting a missing key is not an error.
func (s *Store) Delete(key string) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	_, err := execWithRetry(s.db, `DELETE FROM matches WHERE key=?`, key)
	return err
}

// Count returns the number of stored records.
func (s *Store) Count() (int, error) {
	if s == nil || s.db == nil {
		return 0, errors.New("store not initialized")
	}
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM matches`).Scan(&n)
	return n, err
}

// Close checkpoints and closes the database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	_, _ = s.db.Exec(`PRAGMA wal_checkpoint(TRUNCATE)`)
	_, _ = s.db.Exec(`PRAGMA optimize`)
	return s.db.Close()
}

// execWithRetry retries transient SQLITE_BUSY/LOCKED errors with small backoff.
func execWithRetry(db *sql.DB, query string, args ...any) (sql.Result, error) {
	var lastErr error
	sleep := 5 * time.Millisecond
	for i := 0; i < 8; i++ {
		res, err := db.Exec(query, args...)
		if err == nil {
			return res, nil
		}
		if !isBusyErr(err) {
			return nil, err
		}
		lastErr = err
		time.Sleep(sleep)
		sleep *= 2
		if sleep > 250*time.Millisecond {
			sleep = 250 * time.Millisecond
		}
	}
	return nil, lastErr
}

func isBusyErr(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "SQLITE_BUSY") || strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_LOCKED")
}
