package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"

	"github.com/theodorecharles/compressor/internal/apperr"
)

// getSettingRaw returns the raw string value for key, or "" if absent. The
// settings table is a plain key/value store; the internal/settings package
// layers validation and typed accessors on top of these primitives.
func (s *Store) getSettingRaw(ctx context.Context, key string) (string, error) {
	var value string
	err := s.readDB.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", nil
	case err != nil:
		return "", apperr.Wrap(apperr.Storage, "read setting", err)
	}
	return value, nil
}

// setSettingRaw upserts a raw string value for key.
func (s *Store) setSettingRaw(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "write setting", err)
	}
	return nil
}

// GetSetting is the exported raw accessor used by internal/settings.
func (s *Store) GetSetting(ctx context.Context, key string) (string, bool, error) {
	v, err := s.getSettingRaw(ctx, key)
	if err != nil {
		return "", false, err
	}
	return v, v != "", nil
}

// SetSetting is the exported raw mutator used by internal/settings.
func (s *Store) SetSetting(ctx context.Context, key, value string) error {
	return s.setSettingRaw(ctx, key, value)
}

// ListSettings returns every raw key/value pair.
func (s *Store) ListSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.readDB.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "list settings", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, apperr.Wrap(apperr.Storage, "scan setting row", err)
		}
		out[k] = v
	}
	return out, rows.Err()
}

func parseInt64(s string, out *int64) (int64, error) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	*out = v
	return v, nil
}

func formatInt64(v int64) string {
	return strconv.FormatInt(v, 10)
}
