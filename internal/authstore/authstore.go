// Package authstore persists the API keys referenced by the task
// query authorization rule of §4.1.1 ("enforces per-caller
// index-authorization"): each key names the set of index uids its
// bearer may see. Validating an inbound request's token against HTTP
// transport is explicitly out of scope (§ Non-goals: "authentication
// token validation"); this package only owns the durable key/
// authorized-index mapping and is packaged into snapshots as
// auth/data.mdb alongside the task store and index stores (§4.5.1).
package authstore

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/aman-cerp/scribe/internal/errkind"
)

// Key is one issued API key: a bearer identified by UID, scoped to the
// index uids in AuthorizedIndexes (an empty slice means every index).
type Key struct {
	UID               string    `json:"uid"`
	Description       string    `json:"description"`
	AuthorizedIndexes []string  `json:"authorized_indexes"`
	CreatedAt         time.Time `json:"created_at"`
}

// Store is a single-writer sqlite-backed table of Keys, opened in WAL
// mode for concurrent readers the way the teacher's SQLiteBM25Index
// opens its FTS5 database.
type Store struct {
	mu sync.RWMutex
	db *sql.DB
}

// Open opens (creating if absent) the auth store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errkind.New(errkind.Transient, "authstore_dir_create_failed", "failed to create auth store directory", err)
	}

	dsn := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, errkind.New(errkind.Transient, "authstore_open_failed", "failed to open auth store", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS keys (
		uid TEXT PRIMARY KEY,
		description TEXT NOT NULL DEFAULT '',
		authorized_indexes TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, errkind.New(errkind.Inconsistency, "authstore_init_failed", "failed to initialize auth store schema", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Put inserts or overwrites a Key by UID.
func (s *Store) Put(ctx context.Context, k Key) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `INSERT INTO keys (uid, description, authorized_indexes, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(uid) DO UPDATE SET description = excluded.description,
			authorized_indexes = excluded.authorized_indexes`,
		k.UID, k.Description, strings.Join(k.AuthorizedIndexes, ","), k.CreatedAt)
	if err != nil {
		return errkind.New(errkind.Transient, "authstore_put_failed", "failed to write key", err)
	}
	return nil
}

// Get fetches one Key by UID.
func (s *Store) Get(ctx context.Context, uid string) (*Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `SELECT uid, description, authorized_indexes, created_at FROM keys WHERE uid = ?`, uid)
	k, err := scanKey(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, errkind.New(errkind.NotFound, "key_not_found", fmt.Sprintf("key %q not found", uid), nil)
		}
		return nil, errkind.New(errkind.Transient, "authstore_get_failed", "failed to read key", err)
	}
	return k, nil
}

// List returns every issued key.
func (s *Store) List(ctx context.Context) ([]Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT uid, description, authorized_indexes, created_at FROM keys ORDER BY created_at`)
	if err != nil {
		return nil, errkind.New(errkind.Transient, "authstore_list_failed", "failed to list keys", err)
	}
	defer rows.Close()

	var keys []Key
	for rows.Next() {
		k, err := scanKey(rows)
		if err != nil {
			return nil, errkind.New(errkind.Transient, "authstore_scan_failed", "failed to scan key row", err)
		}
		keys = append(keys, *k)
	}
	return keys, rows.Err()
}

// Delete removes a key by UID. Deleting a key that does not exist is
// not an error (idempotent, matching content.Store.Delete's contract).
func (s *Store) Delete(ctx context.Context, uid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM keys WHERE uid = ?`, uid); err != nil {
		return errkind.New(errkind.Transient, "authstore_delete_failed", "failed to delete key", err)
	}
	return nil
}

// AuthorizedIndexSet builds the map task.Filter.AuthorizedIndexes
// expects for uid's key: nil (unrestricted) if the key has no
// AuthorizedIndexes recorded, else a set of the indexes it names.
func (s *Store) AuthorizedIndexSet(ctx context.Context, uid string) (map[string]bool, error) {
	k, err := s.Get(ctx, uid)
	if err != nil {
		return nil, err
	}
	if len(k.AuthorizedIndexes) == 0 {
		return nil, nil
	}
	set := make(map[string]bool, len(k.AuthorizedIndexes))
	for _, idx := range k.AuthorizedIndexes {
		set[idx] = true
	}
	return set, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanKey(row rowScanner) (*Key, error) {
	var k Key
	var indexes string
	if err := row.Scan(&k.UID, &k.Description, &indexes, &k.CreatedAt); err != nil {
		return nil, err
	}
	if indexes != "" {
		k.AuthorizedIndexes = strings.Split(indexes, ",")
	}
	return &k, nil
}
