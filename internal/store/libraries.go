package store

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/theodorecharles/compressor/internal/apperr"
)

// CreateLibrary inserts a new library. path must be unique; a duplicate
// surfaces as apperr.Conflict.
func (s *Store) CreateLibrary(ctx context.Context, name, path string, enabled, watchEnabled bool) (*Library, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO libraries (name, path, enabled, watch_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		name, path, boolToInt(enabled), boolToInt(watchEnabled), rfc3339(now), rfc3339(now))
	if err != nil {
		if isUniqueConstraint(err) {
			return nil, apperr.Wrap(apperr.Conflict, "library path already exists", err)
		}
		return nil, apperr.Wrap(apperr.Storage, "insert library", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "read inserted library id", err)
	}
	return s.GetLibrary(ctx, id)
}

// GetLibrary returns the library by id, or apperr.NotFound.
func (s *Store) GetLibrary(ctx context.Context, id int64) (*Library, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, name, path, enabled, watch_enabled, created_at, updated_at
		FROM libraries WHERE id = ?`, id)
	return scanLibrary(row)
}

// ListLibraries returns every configured library, ordered by name.
func (s *Store) ListLibraries(ctx context.Context) ([]Library, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, name, path, enabled, watch_enabled, created_at, updated_at
		FROM libraries ORDER BY name`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "list libraries", err)
	}
	defer rows.Close()

	var out []Library
	for rows.Next() {
		lib, err := scanLibraryRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *lib)
	}
	return out, rows.Err()
}

// UpdateLibrary updates mutable library fields. Disabling a library (enabled
// transitioning true->false) drops all of its queued files per the
// Lifecycle paragraph: this is performed in the same transaction.
func (s *Store) UpdateLibrary(ctx context.Context, id int64, name string, enabled, watchEnabled bool) (*Library, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "begin update library tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var wasEnabled bool
	var wasEnabledInt int
	if err := tx.QueryRowContext(ctx, `SELECT enabled FROM libraries WHERE id = ?`, id).Scan(&wasEnabledInt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "library not found")
		}
		return nil, apperr.Wrap(apperr.Storage, "read library", err)
	}
	wasEnabled = wasEnabledInt != 0

	now := rfc3339(time.Now().UTC())
	if _, err := tx.ExecContext(ctx, `
		UPDATE libraries SET name = ?, enabled = ?, watch_enabled = ?, updated_at = ?
		WHERE id = ?`, name, boolToInt(enabled), boolToInt(watchEnabled), now, id); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "update library", err)
	}

	if wasEnabled && !enabled {
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM files WHERE library_id = ? AND status = ?`, id, StatusQueued); err != nil {
			return nil, apperr.Wrap(apperr.Storage, "drop queued files for disabled library", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "commit update library tx", err)
	}
	return s.GetLibrary(ctx, id)
}

// DeleteLibrary removes a library; its files and exclusions cascade.
func (s *Store) DeleteLibrary(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM libraries WHERE id = ?`, id)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "delete library", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return apperr.New(apperr.NotFound, "library not found")
	}
	return nil
}

func scanLibrary(row *sql.Row) (*Library, error) {
	var l Library
	var enabled, watch int
	var created, updated string
	if err := row.Scan(&l.ID, &l.Name, &l.Path, &enabled, &watch, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "library not found")
		}
		return nil, apperr.Wrap(apperr.Storage, "scan library", err)
	}
	l.Enabled = enabled != 0
	l.WatchEnabled = watch != 0
	l.CreatedAt = parseRFC3339(created)
	l.UpdatedAt = parseRFC3339(updated)
	return &l, nil
}

func scanLibraryRows(rows *sql.Rows) (*Library, error) {
	var l Library
	var enabled, watch int
	var created, updated string
	if err := rows.Scan(&l.ID, &l.Name, &l.Path, &enabled, &watch, &created, &updated); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "scan library row", err)
	}
	l.Enabled = enabled != 0
	l.WatchEnabled = watch != 0
	l.CreatedAt = parseRFC3339(created)
	l.UpdatedAt = parseRFC3339(updated)
	return &l, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func rfc3339(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseRFC3339(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func isUniqueConstraint(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint")
}
