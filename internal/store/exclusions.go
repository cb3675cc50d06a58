package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/theodorecharles/compressor/internal/apperr"
)

// CreateExclusion inserts a rule and transitions every currently-queued file
// it matches to excluded, per the retroactivity invariant (§8). matchFn
// decides, for a given file path and library id, whether the newly-created
// rule applies; the classifier/exclusion package supplies it so that store
// stays free of glob semantics.
func (s *Store) CreateExclusion(ctx context.Context, libraryID *int64, typ ExclusionType, pattern string, reason *string, matchFn func(path string, libraryID int64) bool) (*Exclusion, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "begin create exclusion tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := rfc3339(time.Now().UTC())
	res, err := tx.ExecContext(ctx, `
		INSERT INTO exclusions (library_id, pattern, type, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`, libraryID, pattern, typ, reason, now)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "insert exclusion", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "read inserted exclusion id", err)
	}

	skipReason := "Excluded by rule"
	if reason != nil && *reason != "" {
		skipReason = *reason
	}

	rows, err := tx.QueryContext(ctx, `SELECT id, library_id, file_path FROM files WHERE status = ?`, StatusQueued)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "scan queued files for retroactive exclusion", err)
	}
	type match struct {
		id   int64
		path string
	}
	var toExclude []match
	for rows.Next() {
		var fid, fLib int64
		var fpath string
		if err := rows.Scan(&fid, &fLib, &fpath); err != nil {
			rows.Close()
			return nil, apperr.Wrap(apperr.Storage, "scan queued file row", err)
		}
		if matchFn(fpath, fLib) {
			toExclude = append(toExclude, match{fid, fpath})
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, apperr.Wrap(apperr.Storage, "iterate queued files", err)
	}
	rows.Close()

	for _, m := range toExclude {
		if _, err := tx.ExecContext(ctx, `
			UPDATE files SET status = ?, skip_reason = ?, updated_at = ?
			WHERE id = ?`, StatusExcluded, skipReason, rfc3339(time.Now().UTC()), m.id); err != nil {
			return nil, apperr.Wrap(apperr.Storage, "retroactively exclude file", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "commit create exclusion tx", err)
	}
	return s.GetExclusion(ctx, id)
}

// DeleteExclusion removes a rule and returns every currently-excluded file
// that no longer matches any remaining rule (remainingMatchFn decides, per
// file, whether some other surviving rule still applies). It does NOT
// transition those files itself: reinstating a file means re-running the
// full discovery decision order (§4.4), not just flipping status back to
// queued, so HEVC/size-floor checks still apply (§4.3/§8). Every returned
// File is left in its prior excluded state. Classifier.ReclassifyAfterExclusionRemoval
// (internal/classifier, which owns both the store and the exclusion
// evaluator) calls DeleteExclusion and re-runs Classify on each returned
// file to finalize its status.
func (s *Store) DeleteExclusion(ctx context.Context, id int64, remainingMatchFn func(path string, libraryID int64) bool) ([]File, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "begin delete exclusion tx", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM exclusions WHERE id = ?`, id)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "delete exclusion", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return nil, apperr.New(apperr.NotFound, "exclusion not found")
	}

	rows, err := tx.QueryContext(ctx, `
		SELECT id, library_id, file_path, file_name, original_codec, original_bitrate,
		       original_size, original_width, original_height, is_hdr, new_size, status,
		       skip_reason, error_message, started_at, completed_at, created_at, updated_at
		FROM files WHERE status = ?`, StatusExcluded)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "scan excluded files", err)
	}
	var reinstated []File
	for rows.Next() {
		f, err := scanFileRows(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		if !remainingMatchFn(f.FilePath, f.LibraryID) {
			reinstated = append(reinstated, *f)
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, apperr.Wrap(apperr.Storage, "iterate excluded files", err)
	}
	rows.Close()

	if err := tx.Commit(); err != nil {
		return nil, apperr.Wrap(apperr.Storage, "commit delete exclusion tx", err)
	}
	return reinstated, nil
}

// GetExclusion returns the rule by id.
func (s *Store) GetExclusion(ctx context.Context, id int64) (*Exclusion, error) {
	row := s.readDB.QueryRowContext(ctx, `
		SELECT id, library_id, pattern, type, reason, created_at FROM exclusions WHERE id = ?`, id)
	return scanExclusion(row)
}

// ListExclusions returns every rule, ordered (library_id NULLS FIRST, pattern)
// matching the deterministic evaluation order of §4.3.
func (s *Store) ListExclusions(ctx context.Context) ([]Exclusion, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, library_id, pattern, type, reason, created_at
		FROM exclusions
		ORDER BY (library_id IS NOT NULL), library_id, pattern`)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "list exclusions", err)
	}
	defer rows.Close()

	var out []Exclusion
	for rows.Next() {
		var e Exclusion
		var libID sql.NullInt64
		var reason sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &libID, &e.Pattern, &e.Type, &reason, &created); err != nil {
			return nil, apperr.Wrap(apperr.Storage, "scan exclusion row", err)
		}
		if libID.Valid {
			v := libID.Int64
			e.LibraryID = &v
		}
		if reason.Valid {
			v := reason.String
			e.Reason = &v
		}
		e.CreatedAt = parseRFC3339(created)
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanExclusion(row *sql.Row) (*Exclusion, error) {
	var e Exclusion
	var libID sql.NullInt64
	var reason sql.NullString
	var created string
	if err := row.Scan(&e.ID, &libID, &e.Pattern, &e.Type, &reason, &created); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.New(apperr.NotFound, "exclusion not found")
		}
		return nil, apperr.Wrap(apperr.Storage, "scan exclusion", err)
	}
	if libID.Valid {
		v := libID.Int64
		e.LibraryID = &v
	}
	if reason.Valid {
		v := reason.String
		e.Reason = &v
	}
	e.CreatedAt = parseRFC3339(created)
	return &e, nil
}
