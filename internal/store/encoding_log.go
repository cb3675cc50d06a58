package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/theodorecharles/compressor/internal/apperr"
)

// AppendEncodingLog records one append-only audit event for a file (the
// encoder writes probe_scratch, ffmpeg_command, fallback_cpu_decode,
// safe_replace, rejected, errored and cancelled).
func (s *Store) AppendEncodingLog(ctx context.Context, fileID int64, event, details string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO encoding_log (file_id, event, details, created_at)
		VALUES (?, ?, ?, ?)`, fileID, event, details, rfc3339(time.Now().UTC()))
	if err != nil {
		return apperr.Wrap(apperr.Storage, "append encoding log entry", err)
	}
	return nil
}

// EncodingLogForFile returns every logged event for a file, oldest first.
func (s *Store) EncodingLogForFile(ctx context.Context, fileID int64) ([]EncodingLogEntry, error) {
	rows, err := s.readDB.QueryContext(ctx, `
		SELECT id, file_id, event, details, created_at
		FROM encoding_log WHERE file_id = ? ORDER BY id ASC`, fileID)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "list encoding log", err)
	}
	defer rows.Close()

	var out []EncodingLogEntry
	for rows.Next() {
		var e EncodingLogEntry
		var details sql.NullString
		var created string
		if err := rows.Scan(&e.ID, &e.FileID, &e.Event, &details, &created); err != nil {
			return nil, apperr.Wrap(apperr.Storage, "scan encoding log row", err)
		}
		e.Details = details.String
		e.CreatedAt = parseRFC3339(created)
		out = append(out, e)
	}
	return out, rows.Err()
}
