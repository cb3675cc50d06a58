// Package store is the durable relational state backing the supervisor:
// libraries, exclusions, files, settings, and stats aggregates. It owns the
// schema migrations and is the only component that talks SQL.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/theodorecharles/compressor/internal/apperr"
	"github.com/theodorecharles/compressor/internal/log"

	_ "modernc.org/sqlite" // pure-Go SQLite driver, no CGO
)

// Config controls the SQLite connection pool.
type Config struct {
	BusyTimeout time.Duration
}

// DefaultConfig returns sane defaults for a single-writer, many-reader
// workload.
func DefaultConfig() Config {
	return Config{BusyTimeout: 5 * time.Second}
}

// readerPoolSize bounds the read-only handle pool opened alongside the
// single writer connection.
const readerPoolSize = 4

// Store is the durable state backing every core component.
type Store struct {
	db     *sql.DB // single-connection writer handle, serializes every write (§5)
	readDB *sql.DB // mode=ro handle pool for concurrent, non-blocking reads (§5)
}

// Open opens (creating if absent) the database at path, applies mandatory
// pragmas, runs schema migrations, and recovers any file stuck in
// "encoding" back to "queued" (the crash-recovery contract of §4.1).
func Open(ctx context.Context, path string, cfg Config) (*Store, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)",
		path, cfg.BusyTimeout.Milliseconds(),
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "open sqlite database", err)
	}

	// Writes are serialized at the SQL level (§5); one connection enforces
	// that without relying on WAL's multi-writer illusion.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(apperr.Storage, "ping sqlite database", err)
	}

	readDSN := fmt.Sprintf(
		"file:%s?mode=ro&_pragma=busy_timeout(%d)&_pragma=foreign_keys(ON)",
		path, cfg.BusyTimeout.Milliseconds(),
	)
	readDB, err := sql.Open("sqlite", readDSN)
	if err != nil {
		_ = db.Close()
		return nil, apperr.Wrap(apperr.Storage, "open sqlite read-only handle pool", err)
	}
	readDB.SetMaxOpenConns(readerPoolSize)
	readDB.SetConnMaxLifetime(0)

	if err := readDB.PingContext(ctx); err != nil {
		_ = db.Close()
		_ = readDB.Close()
		return nil, apperr.Wrap(apperr.Storage, "ping sqlite read-only handle pool", err)
	}

	s := &Store{db: db, readDB: readDB}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	if err := s.resetEncoding(ctx); err != nil {
		_ = db.Close()
		_ = readDB.Close()
		return nil, fmt.Errorf("reset stuck encoding rows: %w", err)
	}

	return s, nil
}

// Close closes both the writer connection and the read-only handle pool.
func (s *Store) Close() error {
	writeErr := s.db.Close()
	readErr := s.readDB.Close()
	if writeErr != nil {
		return writeErr
	}
	return readErr
}

type migration struct {
	version int
	name    string
	up      func(tx *sql.Tx) error
}

var migrations = []migration{
	{1, "initial schema", migrateV1},
	{2, "stats aggregate tables", migrateV2},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY
		)`); err != nil {
		return apperr.Wrap(apperr.Storage, "create schema_version table", err)
	}

	var current int
	row := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`)
	if err := row.Scan(&current); err != nil {
		return apperr.Wrap(apperr.Storage, "read schema watermark", err)
	}

	logger := log.WithComponent("store")
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return apperr.Wrap(apperr.Storage, "begin migration tx", err)
		}
		if err := m.up(tx); err != nil {
			_ = tx.Rollback()
			return apperr.Wrap(apperr.Storage, fmt.Sprintf("apply migration %d (%s)", m.version, m.name), err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version(version) VALUES (?)`, m.version); err != nil {
			_ = tx.Rollback()
			return apperr.Wrap(apperr.Storage, "record schema watermark", err)
		}
		if err := tx.Commit(); err != nil {
			return apperr.Wrap(apperr.Storage, "commit migration tx", err)
		}
		logger.Info().Int("version", m.version).Str("name", m.name).Msg("applied schema migration")
	}
	return nil
}

func migrateV1(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE libraries (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			path TEXT NOT NULL UNIQUE,
			enabled INTEGER NOT NULL DEFAULT 1,
			watch_enabled INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE exclusions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			library_id INTEGER REFERENCES libraries(id) ON DELETE CASCADE,
			pattern TEXT NOT NULL,
			type TEXT NOT NULL CHECK(type IN ('folder','pattern')),
			reason TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX idx_exclusions_library ON exclusions(library_id)`,
		`CREATE TABLE files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			library_id INTEGER NOT NULL REFERENCES libraries(id) ON DELETE CASCADE,
			file_path TEXT NOT NULL UNIQUE,
			file_name TEXT NOT NULL,
			original_codec TEXT,
			original_bitrate INTEGER,
			original_size INTEGER,
			original_width INTEGER,
			original_height INTEGER,
			is_hdr INTEGER NOT NULL DEFAULT 0,
			new_size INTEGER,
			status TEXT NOT NULL,
			skip_reason TEXT,
			error_message TEXT,
			started_at TEXT,
			completed_at TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE INDEX idx_files_status ON files(status)`,
		`CREATE INDEX idx_files_library ON files(library_id)`,
		`CREATE TABLE encoding_log (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			file_id INTEGER NOT NULL REFERENCES files(id) ON DELETE CASCADE,
			event TEXT NOT NULL,
			details TEXT,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX idx_encoding_log_file ON encoding_log(file_id)`,
		`CREATE TABLE settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func migrateV2(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE stats_daily (
			date TEXT PRIMARY KEY,
			total_files_processed INTEGER NOT NULL DEFAULT 0,
			total_space_saved INTEGER NOT NULL DEFAULT 0,
			files_finished INTEGER NOT NULL DEFAULT 0,
			files_skipped INTEGER NOT NULL DEFAULT 0,
			files_rejected INTEGER NOT NULL DEFAULT 0,
			files_errored INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE stats_hourly (
			hour_utc TEXT PRIMARY KEY,
			total_files_processed INTEGER NOT NULL DEFAULT 0,
			total_space_saved INTEGER NOT NULL DEFAULT 0,
			files_finished INTEGER NOT NULL DEFAULT 0,
			files_skipped INTEGER NOT NULL DEFAULT 0,
			files_rejected INTEGER NOT NULL DEFAULT 0,
			files_errored INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE INDEX idx_stats_hourly_hour ON stats_hourly(hour_utc)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// resetEncoding transitions any row stuck in "encoding" back to "queued",
// clearing started_at. This is the recovery contract run once at Open.
func (s *Store) resetEncoding(ctx context.Context) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET status = ?, started_at = NULL, updated_at = ?
		WHERE status = ?`, StatusQueued, now, StatusEncoding)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "reset stuck encoding rows", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		log.WithComponent("store").Warn().Int64("count", n).Msg("recovered files stuck in encoding after restart")
	}
	return nil
}
