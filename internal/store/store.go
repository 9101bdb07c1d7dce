// Package store is the embedded index shared by the derivative cache and
// the upload token authority. It is a thin layer over SQLite: callers get
// the small set of atomic operations the service needs (insert-if-absent,
// conditional single-use update, bulk conditional delete) and nothing
// else. Correctness under concurrent requests rests on SQLite's
// uniqueness enforcement, not on application-level locking.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// ErrConflict is returned when an insert collides with an existing row
// on a uniqueness constraint. The existing row remains authoritative.
var ErrConflict = errors.New("record already exists")

const schema = `
CREATE TABLE IF NOT EXISTS images (
	id        TEXT NOT NULL,
	x         INTEGER,
	y         INTEGER,
	fit       TEXT,
	file_type TEXT,
	url       TEXT
);
CREATE UNIQUE INDEX IF NOT EXISTS unique_image ON images(id, x, y, fit, file_type);

CREATE TABLE IF NOT EXISTS tokens (
	id          TEXT NOT NULL,
	image_id    TEXT NOT NULL,
	valid_until INTEGER NOT NULL,
	used        INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS unique_token ON tokens(id);
CREATE UNIQUE INDEX IF NOT EXISTS unique_image_request ON tokens(image_id);
CREATE INDEX IF NOT EXISTS token_expiry ON tokens(valid_until, used);
`

// Config holds the parameters for opening the index store.
type Config struct {
	// Path is the SQLite database file. Created if it does not exist.
	Path string

	// PoolSize is the number of pooled connections. Defaults to 4 if
	// zero or negative. Writes are serialized by SQLite regardless;
	// extra connections serve concurrent cache lookups.
	PoolSize int
}

// Store is a fixed-size pool of SQLite connections with the service
// schema applied. Safe for concurrent use; individual connections are
// not, so each operation takes and returns its own connection.
type Store struct {
	pool *sqlitex.Pool
	path string
}

// Open creates the connection pool and ensures the schema exists. The
// caller must Close the store when done.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: Path is required")
	}

	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    poolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}

	log.Info().Str("path", cfg.Path).Int("pool_size", poolSize).Msg("index store opened")

	return &Store{pool: pool, path: cfg.Path}, nil
}

// Close closes all pooled connections. Blocks until borrowed
// connections are returned.
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: closing %s: %w", s.path, err)
	}
	return nil
}

// prepareConnection applies pragmas and the schema. Runs once per
// pooled connection, on first use.
func prepareConnection(conn *sqlite.Conn) error {
	// WAL keeps cache lookups readable while token writes are in
	// flight; busy_timeout absorbs write contention between requests.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}

	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("store: %s: %w", pragma, err)
		}
	}

	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return fmt.Errorf("store: applying schema: %w", err)
	}

	return nil
}

// withConn borrows a pooled connection for the duration of fn.
func (s *Store) withConn(ctx context.Context, fn func(conn *sqlite.Conn) error) error {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	return fn(conn)
}
