// Package postgres keeps the inventory working set in memory and writes the
// buckets changed by each committed unit of work to a JSONB table.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // pgx database/sql driver

	"inventorycore/internal/infra/persistence/memory"
	"inventorycore/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/inventorycore?sslmode=disable"

	createTableSQL = `CREATE TABLE IF NOT EXISTS state (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL
	)`
	selectStateSQL = `SELECT bucket, payload FROM state`
	upsertSQL      = `INSERT INTO state(bucket,payload) VALUES($1,$2) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload`
)

var (
	openMu sync.Mutex
	opener = sql.Open
)

// Store runs transactions against the embedded memory store and mirrors
// committed state to Postgres.
type Store struct {
	*memory.Store
	db *sql.DB

	mu    sync.Mutex
	cache memory.BucketCache
}

// NewStore connects to dsn (a local default when empty), creates the state
// table if needed and hydrates the working set.
func NewStore(dsn string, engine *domain.RulesEngine) (*Store, error) {
	return Open(context.Background(), dsn, engine)
}

// Open is NewStore with a caller supplied context for the startup queries.
func Open(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := opener(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db}
	if err := s.hydrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) hydrate(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("ensure state table: %w", err)
	}
	rows, err := s.db.QueryContext(ctx, selectStateSQL)
	if err != nil {
		return fmt.Errorf("select state: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var snapshot memory.Snapshot
	found := false
	for rows.Next() {
		var (
			bucket  string
			payload []byte
		)
		if err := rows.Scan(&bucket, &payload); err != nil {
			return fmt.Errorf("scan state: %w", err)
		}
		if err := memory.DecodeBucket(&snapshot, bucket, payload); err != nil {
			return err
		}
		found = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate state: %w", err)
	}
	if !found {
		return nil
	}
	s.ImportState(snapshot)
	written, err := s.cache.Pending(s.ExportState())
	if err != nil {
		return err
	}
	s.cache.Mark(written)
	return nil
}

// RunInTransaction commits fn in memory, then writes the changed buckets.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
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

func (s *Store) flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pending, err := s.cache.Pending(s.ExportState())
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	for _, bucket := range memory.Buckets {
		data, ok := pending[bucket]
		if !ok {
			continue
		}
		if _, err := tx.ExecContext(ctx, upsertSQL, bucket, data); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert %s: %w", bucket, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	s.cache.Mark(pending)
	return nil
}

// DB exposes the connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

// OverrideSQLOpen replaces the connection opener until the returned func runs.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := opener
	opener = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		opener = prev
	}
}
