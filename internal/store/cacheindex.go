package store

import (
	"context"
	"fmt"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/camber-images/camber/internal/imagereq"
)

// CacheKey identifies a unique derivative. One row per key, written
// once after a successful upload and never mutated or deleted.
type CacheKey struct {
	ID     string
	Width  int
	Height int
	Fit    imagereq.FitMode
	MIME   string
}

func (k CacheKey) args() []any {
	return []any{k.ID, k.Width, k.Height, string(k.Fit), k.MIME}
}

// String renders the key for logging.
func (k CacheKey) String() string {
	return fmt.Sprintf("%s %dx%d fit=%s %s", k.ID, k.Width, k.Height, k.Fit, k.MIME)
}

// LookupCache returns the served URL recorded for a derivative, if any.
func (s *Store) LookupCache(ctx context.Context, key CacheKey) (string, bool, error) {
	var url string
	var found bool

	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			"SELECT url FROM images WHERE id=? AND x=? AND y=? AND fit=? AND file_type=?",
			&sqlitex.ExecOptions{
				Args: key.args(),
				ResultFunc: func(stmt *sqlite.Stmt) error {
					url = stmt.ColumnText(0)
					found = true
					return nil
				},
			})
	})
	if err != nil {
		return "", false, fmt.Errorf("store: cache lookup: %w", err)
	}

	return url, found, nil
}

// InsertCache records the served URL for a derivative. The insert is
// atomic with respect to the key's uniqueness: when another writer got
// there first, ErrConflict is returned and the existing row is left
// untouched. Callers populating the cache treat that as success.
func (s *Store) InsertCache(ctx context.Context, key CacheKey, url string) error {
	var changes int

	err := s.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"INSERT OR IGNORE INTO images (id, x, y, fit, file_type, url) VALUES (?,?,?,?,?,?)",
			&sqlitex.ExecOptions{Args: append(key.args(), url)})
		if err != nil {
			return err
		}
		changes = conn.Changes()
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: cache insert: %w", err)
	}

	if changes == 0 {
		return fmt.Errorf("store: cache insert %s: %w", key, ErrConflict)
	}

	return nil
}
