// Package sqlite keeps the inventory working set in memory and writes the
// buckets changed by each committed unit of work to an embedded SQLite file.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"inventorycore/internal/infra/persistence/memory"
	"inventorycore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

// DefaultPath is used when no database path is configured.
const DefaultPath = "inventorycore.db"

const (
	createTableSQL = `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload BLOB NOT NULL
	)`
	upsertSQL = `INSERT INTO state(bucket,payload) VALUES(?,?) ON CONFLICT(bucket) DO UPDATE SET payload=excluded.payload`
)

// Store runs transactions against the embedded memory store and mirrors
// committed state to SQLite.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string

	mu    sync.Mutex
	cache memory.BucketCache
}

// NewStore opens (creating if needed) the database at path and hydrates the
// working set from it.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = DefaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// sqlite allows a single writer
	db.SetMaxOpenConns(1)
	s := &Store{Store: memory.NewStore(engine), db: db, path: path}
	if err := s.hydrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) hydrate() error {
	if _, err := s.db.Exec(createTableSQL); err != nil {
		return fmt.Errorf("create state table: %w", err)
	}
	rows, err := s.db.Query(`SELECT bucket, payload FROM state`)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var (
		snapshot memory.Snapshot
		loaded   = map[string][]byte{}
	)
	for rows.Next() {
		var bucket string
		var payload []byte
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan: %w", err)
		}
		if err := memory.DecodeBucket(&snapshot, bucket, payload); err != nil {
			return err
		}
		loaded[bucket] = payload
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if len(loaded) > 0 {
		s.ImportState(snapshot)
		s.cache.Mark(loaded)
	}
	return nil
}

// RunInTransaction commits fn in memory, then writes the changed buckets.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	return res, s.flush(ctx)
}

// ReplaceState swaps the working set for snapshot and writes it through.
func (s *Store) ReplaceState(ctx context.Context, snapshot memory.Snapshot) error {
	s.ImportState(snapshot)
	return s.flush(ctx)
}

func (s *Store) flush(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, err := s.cache.Pending(s.ExportState())
	if err != nil || len(pending) == 0 {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, bucket := range memory.Buckets {
		data, ok := pending[bucket]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertSQL, bucket, data); err != nil {
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.cache.Mark(pending)
	return nil
}

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database file.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
