package store

import (
	"context"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/rs/zerolog/log"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

// TokenAuthority issues and consumes single-use upload tokens, and
// garbage-collects the ones that expired without being consumed.
//
// Per resource id a token moves through a tiny state machine: created
// (unused, unexpired) → consumed (terminal), or → deleted by the
// cleanup sweep once it is both unused and expired. While a row exists
// for a resource id, no further token can be issued for it.
type TokenAuthority struct {
	store *Store
	ttl   time.Duration

	// now and cleanupDraw are swapped out in tests to pin time and the
	// probabilistic sweep.
	now         func() time.Time
	cleanupDraw func() bool
}

// NewTokenAuthority creates a token authority on the shared index
// store. ttl is the validity window of an issued token.
func NewTokenAuthority(s *Store, ttl time.Duration) *TokenAuthority {
	return &TokenAuthority{
		store: s,
		ttl:   ttl,
		now:   time.Now,
		// 1-in-10 per successful issue: bounds sweep frequency without
		// a scheduler. Expired-but-unswept rows are dead weight only;
		// they can never be consumed.
		cleanupDraw: func() bool { return rand.IntN(10) == 0 },
	}
}

// Issue creates a single-use token for a resource id, valid for the
// configured TTL. Returns ErrConflict while any token row (used or
// not) still references the resource id; the caller must wait for the
// cleanup sweep to remove it.
func (a *TokenAuthority) Issue(ctx context.Context, resourceID string) (string, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return "", fmt.Errorf("token: generating id: %w", err)
	}
	token := id.String()
	validUntil := a.now().Add(a.ttl).Unix()

	var changes int
	err = a.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"INSERT OR IGNORE INTO tokens (id, image_id, valid_until, used) VALUES (?,?,?,0)",
			&sqlitex.ExecOptions{Args: []any{token, resourceID, validUntil}})
		if err != nil {
			return err
		}
		changes = conn.Changes()
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("token: issue: %w", err)
	}

	if changes == 0 {
		return "", fmt.Errorf("token: issue for %q: %w", resourceID, ErrConflict)
	}

	if a.cleanupDraw() {
		if _, err := a.Cleanup(ctx); err != nil {
			log.Error().Err(err).Msg("token cleanup sweep failed")
		}
	}

	return token, nil
}

// Consume marks a token used. The update is conditional on the token
// id and resource id matching, the token being unused, and its
// validity window not having passed; all conditions are checked in one
// atomic statement. The returned count is 1 on success and 0 when any
// condition failed — wrong token, wrong resource, expired, or already
// consumed. Callers must treat anything other than 1 as an
// authorization failure.
func (a *TokenAuthority) Consume(ctx context.Context, tokenID, resourceID string) (int, error) {
	var affected int

	err := a.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"UPDATE tokens SET used=1 WHERE id=? AND image_id=? AND valid_until>=? AND used=0",
			&sqlitex.ExecOptions{Args: []any{tokenID, resourceID, a.now().Unix()}})
		if err != nil {
			return err
		}
		affected = conn.Changes()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("token: consume: %w", err)
	}

	return affected, nil
}

// Cleanup deletes tokens that expired without ever being consumed,
// freeing their resource ids for reissue. Consumed rows and still
// valid rows are never touched. Returns the number of rows removed.
func (a *TokenAuthority) Cleanup(ctx context.Context) (int, error) {
	var removed int

	err := a.store.withConn(ctx, func(conn *sqlite.Conn) error {
		err := sqlitex.Execute(conn,
			"DELETE FROM tokens WHERE valid_until<? AND used=0",
			&sqlitex.ExecOptions{Args: []any{a.now().Unix()}})
		if err != nil {
			return err
		}
		removed = conn.Changes()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("token: cleanup: %w", err)
	}

	log.Info().Int("removed", removed).Msg("token cleanup sweep")
	return removed, nil
}
