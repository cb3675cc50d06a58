package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/theodorecharles/compressor/internal/apperr"
)

// UpsertFileParams carries the fields the classifier wants to write. A nil
// Status means "leave the existing row's status untouched" (used by the
// reactive exclusion path and by re-discovery of an already-known file).
type UpsertFileParams struct {
	LibraryID       int64
	FilePath        string
	FileName        string
	OriginalCodec   *string
	OriginalBitrate *int64
	OriginalSize    *int64
	OriginalWidth   *int
	OriginalHeight  *int
	IsHDR           bool
	Status          *Status
	SkipReason      *string
	ErrorMessage    *string
}

// UpsertFile creates or updates a file row by file_path: a single operation
// preserving id, created_at, and status unless the caller explicitly
// supplies a new status.
func (s *Store) UpsertFile(ctx context.Context, p UpsertFileParams) (*File, error) {
	now := rfc3339(time.Now().UTC())

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "begin upsert file tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var existingID int64
	var existingStatus string
	err = tx.QueryRowContext(ctx, `SELECT id, status FROM files WHERE file_path = ?`, p.FilePath).Scan(&existingID, &existingStatus)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		status := StatusQueued
		if p.Status != nil {
			status = *p.Status
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO files (
				library_id, file_path, file_name, original_codec, original_bitrate,
				original_size, original_width, original_height, is_hdr, status,
				skip_reason, error_message, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.LibraryID, p.FilePath, p.FileName, p.OriginalCodec, p.OriginalBitrate,
			p.OriginalSize, p.OriginalWidth, p.OriginalHeight, boolToInt(p.IsHDR), status,
			p.SkipReason, p.ErrorMessage, now, now)
		if err != nil {
			if isUniqueConstraint(err) {
				return nil, apperr.Wrap(apperr.Conflict, "duplicate file_path", err)
			}
			return nil, apperr.Wrap(apperr.Storage, "insert file", err)
		}
		id, err := res.LastInsertId()
		if err != nil {
			return nil, apperr.Wrap(apperr.Storage, "read inserted file id", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, apperr.Wrap(apperr.Storage, "commit insert file tx", err)
		}
		return s.GetFile(ctx, id)
	case err != nil:
		return nil, apperr.Wrap(apperr.Storage, "look up file by path", err)
	}

	status := Status(existingStatus)
	if p.Status != nil {
		status = *p.Status
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE files SET
			library_id = ?, file_name = ?, original_codec = ?, original_bitrate = ?,
			original_size = ?, original_width = ?, original_height = ?, is_hdr = ?,
			status = ?, skip_reason = ?, error_message = ?, updated_at = ?
		WHERE id = ?`,
		p.LibraryID, p.FileName, p.OriginalCodec, p.OriginalBitrate,
		p.OriginalSize, p.OriginalWidth, p.OriginalHeight, boolToInt(p.IsHDR),
		status, p.SkipReason, p.ErrorMessage, now, existingID); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "update file", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "commit update file tx", err)
	}
	return s.GetFile(ctx, existingID)
}

// GetFile returns a file by id.
func (s *Store) GetFile(ctx context.Context, id int64) (*File, error) {
	row := s.readDB.QueryRowContext(ctx, fileSelectColumns+`WHERE id = ?`, id)
	return scanFile(row)
}

// GetFileByPath returns a file by its unique file_path, or nil (no error)
// if absent — the classifier's "already known" check (§4.4 step 2).
func (s *Store) GetFileByPath(ctx context.Context, path string) (*File, error) {
	row := s.readDB.QueryRowContext(ctx, fileSelectColumns+`WHERE file_path = ?`, path)
	f, err := scanFile(row)
	if apperr.Is(err, apperr.NotFound) {
		return nil, nil
	}
	return f, err
}

// ListFiles returns files, optionally filtered by library and/or status.
func (s *Store) ListFiles(ctx context.Context, libraryID *int64, status *Status) ([]File, error) {
	query := fileSelectColumns + `WHERE 1=1`
	var args []any
	if libraryID != nil {
		query += ` AND library_id = ?`
		args = append(args, *libraryID)
	}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, *status)
	}
	query += ` ORDER BY file_path`

	rows, err := s.readDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "list files", err)
	}
	defer rows.Close()

	var out []File
	for rows.Next() {
		f, err := scanFileRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *f)
	}
	return out, rows.Err()
}

// TransitionStatus applies a file status transition, validating it against
// the closed state machine (§4.7). Invalid transitions return
// apperr.Validation without mutating the row.
func (s *Store) TransitionStatus(ctx context.Context, id int64, to Status, fields FileTransitionFields) (*File, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "begin transition tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	var currentStatus string
	if err := tx.QueryRowContext(ctx, `SELECT status FROM files WHERE id = ?`, id).Scan(&currentStatus); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "file not found")
		}
		return nil, apperr.Wrap(apperr.Storage, "read file status", err)
	}

	from := Status(currentStatus)
	if !ValidTransition(from, to) {
		return nil, apperr.New(apperr.Validation, "invalid file status transition: "+string(from)+" -> "+string(to))
	}

	now := rfc3339(time.Now().UTC())
	if _, err := tx.ExecContext(ctx, `
		UPDATE files SET
			status = ?, skip_reason = ?, error_message = ?, new_size = ?,
			started_at = ?, completed_at = ?, updated_at = ?
		WHERE id = ?`,
		to, fields.SkipReason, fields.ErrorMessage, fields.NewSize,
		fields.StartedAt, fields.CompletedAt, now, id); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "apply file transition", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "commit transition tx", err)
	}
	return s.GetFile(ctx, id)
}

// FileTransitionFields carries the fields a transition writes. TransitionStatus
// writes every one of them: a nil field is stored as NULL, clearing any
// previous value, so callers set each field the new status keeps.
type FileTransitionFields struct {
	SkipReason   *string
	ErrorMessage *string
	NewSize      *int64
	StartedAt    *string // RFC3339Nano, nil clears
	CompletedAt  *string // RFC3339Nano, nil clears
}

// PickQueued returns at most one file with status=queued using the
// ordering policy, or nil if the queue is empty.
func (s *Store) PickQueued(ctx context.Context, sort FileSort, priority LibraryPriority) (*File, error) {
	if priority == PriorityRoundRobin {
		return s.pickQueuedRoundRobin(ctx, sort)
	}
	return s.pickQueuedOrdered(ctx, sort, priority)
}

func (s *Store) pickQueuedOrdered(ctx context.Context, sort FileSort, priority LibraryPriority) (*File, error) {
	libOrder := "l.name ASC"
	if priority == PriorityAlphaDesc {
		libOrder = "l.name DESC"
	}
	fileOrder := fileSortClause(sort)

	query := fileSelectColumnsJoined + `
		WHERE f.status = ? ORDER BY ` + libOrder + `, ` + fileOrder + ` LIMIT 1`
	row := s.readDB.QueryRowContext(ctx, query, StatusQueued)
	f, err := scanFile(row)
	if apperr.Is(err, apperr.NotFound) {
		return nil, nil
	}
	return f, err
}

func (s *Store) pickQueuedRoundRobin(ctx context.Context, sort FileSort) (*File, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT DISTINCT l.id, l.name FROM files f
		JOIN libraries l ON l.id = f.library_id
		WHERE f.status = ?
		ORDER BY l.name`, StatusQueued)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "list libraries with queued files", err)
	}
	type libRow struct {
		id   int64
		name string
	}
	var libs []libRow
	for rows.Next() {
		var lr libRow
		if err := rows.Scan(&lr.id, &lr.name); err != nil {
			rows.Close()
			return nil, apperr.Wrap(apperr.Storage, "scan library row", err)
		}
		libs = append(libs, lr)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	if len(libs) == 0 {
		return nil, nil
	}

	lastLibraryID, err := s.getLastLibraryID(ctx)
	if err != nil {
		return nil, err
	}

	startIdx := 0
	if lastLibraryID != nil {
		for i, lr := range libs {
			if lr.id == *lastLibraryID {
				startIdx = (i + 1) % len(libs)
				break
			}
		}
	}

	target := libs[startIdx]
	fileOrder := fileSortClause(sort)
	query := fileSelectColumnsJoined + `
		WHERE f.status = ? AND f.library_id = ? ORDER BY ` + fileOrder + ` LIMIT 1`
	row := s.readDB.QueryRowContext(ctx, query, StatusQueued, target.id)
	f, err := scanFile(row)
	if apperr.Is(err, apperr.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := s.setLastLibraryID(ctx, target.id); err != nil {
		return nil, err
	}
	return f, nil
}

func fileSortClause(sort FileSort) string {
	switch sort {
	case SortBitrateDesc:
		return "f.original_bitrate IS NULL, f.original_bitrate DESC"
	case SortBitrateAsc:
		return "f.original_bitrate IS NULL, f.original_bitrate ASC"
	case SortRandom:
		return "RANDOM()"
	default: // SortAlphabetical
		return "f.file_path ASC"
	}
}

const fileSelectColumns = `
	SELECT id, library_id, file_path, file_name, original_codec, original_bitrate,
	       original_size, original_width, original_height, is_hdr, new_size, status,
	       skip_reason, error_message, started_at, completed_at, created_at, updated_at
	FROM files `

const fileSelectColumnsJoined = `
	SELECT f.id, f.library_id, f.file_path, f.file_name, f.original_codec, f.original_bitrate,
	       f.original_size, f.original_width, f.original_height, f.is_hdr, f.new_size, f.status,
	       f.skip_reason, f.error_message, f.started_at, f.completed_at, f.created_at, f.updated_at
	FROM files f JOIN libraries l ON l.id = f.library_id `

func scanFile(row *sql.Row) (*File, error) {
	var f File
	var isHDR int
	var codec, skipReason, errMsg, startedAt, completedAt sql.NullString
	var bitrate, size sql.NullInt64
	var width, height sql.NullInt64
	var newSize sql.NullInt64
	var status, created, updated string

	if err := row.Scan(&f.ID, &f.LibraryID, &f.FilePath, &f.FileName, &codec, &bitrate,
		&size, &width, &height, &isHDR, &newSize, &status,
		&skipReason, &errMsg, &startedAt, &completedAt, &created, &updated); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "file not found")
		}
		return nil, apperr.Wrap(apperr.Storage, "scan file", err)
	}
	return assembleFile(f, isHDR, codec, bitrate, size, width, height, newSize, status, skipReason, errMsg, startedAt, completedAt, created, updated), nil
}

func scanFileRows(rows *sql.Rows) (*File, error) {
	var f File
	var isHDR int
	var codec, skipReason, errMsg, startedAt, completedAt sql.NullString
	var bitrate, size sql.NullInt64
	var width, height sql.NullInt64
	var newSize sql.NullInt64
	var status, created, updated string

	if err := rows.Scan(&f.ID, &f.LibraryID, &f.FilePath, &f.FileName, &codec, &bitrate,
		&size, &width, &height, &isHDR, &newSize, &status,
		&skipReason, &errMsg, &startedAt, &completedAt, &created, &updated); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "scan file row", err)
	}
	return assembleFile(f, isHDR, codec, bitrate, size, width, height, newSize, status, skipReason, errMsg, startedAt, completedAt, created, updated), nil
}

func assembleFile(f File, isHDR int, codec sql.NullString, bitrate, size, width, height, newSize sql.NullInt64,
	status string, skipReason, errMsg, startedAt, completedAt sql.NullString, created, updated string) *File {
	f.IsHDR = isHDR != 0
	f.Status = Status(status)
	f.CreatedAt = parseRFC3339(created)
	f.UpdatedAt = parseRFC3339(updated)
	if codec.Valid {
		v := codec.String
		f.OriginalCodec = &v
	}
	if bitrate.Valid {
		v := bitrate.Int64
		f.OriginalBitrate = &v
	}
	if size.Valid {
		v := size.Int64
		f.OriginalSize = &v
	}
	if width.Valid {
		v := int(width.Int64)
		f.OriginalWidth = &v
	}
	if height.Valid {
		v := int(height.Int64)
		f.OriginalHeight = &v
	}
	if newSize.Valid {
		v := newSize.Int64
		f.NewSize = &v
	}
	if skipReason.Valid {
		v := skipReason.String
		f.SkipReason = &v
	}
	if errMsg.Valid {
		v := errMsg.String
		f.ErrorMessage = &v
	}
	if startedAt.Valid {
		t := parseRFC3339(startedAt.String)
		f.StartedAt = &t
	}
	if completedAt.Valid {
		t := parseRFC3339(completedAt.String)
		f.CompletedAt = &t
	}
	return &f
}

const lastLibraryIDSettingKey = "queue.last_library_id"

func (s *Store) getLastLibraryID(ctx context.Context) (*int64, error) {
	v, err := s.getSettingRaw(ctx, lastLibraryIDSettingKey)
	if err != nil {
		return nil, err
	}
	if v == "" {
		return nil, nil
	}
	var id int64
	if _, err := parseInt64(v, &id); err != nil {
		return nil, nil
	}
	return &id, nil
}

func (s *Store) setLastLibraryID(ctx context.Context, id int64) error {
	return s.setSettingRaw(ctx, lastLibraryIDSettingKey, formatInt64(id))
}
