package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/theodorecharles/compressor/internal/apperr"
)

// AddDailyCounters adds delta to the stats_daily row for date (UTC,
// truncated to day), creating the row if absent. Callers never compute
// absolute totals themselves.
func (s *Store) AddDailyCounters(ctx context.Context, date time.Time, delta StatsCounters) error {
	key := date.UTC().Format("2006-01-02")
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stats_daily (
			date, total_files_processed, total_space_saved,
			files_finished, files_skipped, files_rejected, files_errored
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			total_files_processed = total_files_processed + excluded.total_files_processed,
			total_space_saved     = total_space_saved + excluded.total_space_saved,
			files_finished        = files_finished + excluded.files_finished,
			files_skipped         = files_skipped + excluded.files_skipped,
			files_rejected        = files_rejected + excluded.files_rejected,
			files_errored         = files_errored + excluded.files_errored`,
		key, delta.TotalFilesProcessed, delta.TotalSpaceSaved,
		delta.FilesFinished, delta.FilesSkipped, delta.FilesRejected, delta.FilesErrored)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "add daily counters", err)
	}
	return nil
}

// AddHourlyCounters adds delta to the stats_hourly row for hour (UTC,
// truncated to the hour), creating the row if absent.
func (s *Store) AddHourlyCounters(ctx context.Context, hour time.Time, delta StatsCounters) error {
	key := hour.UTC().Truncate(time.Hour).Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO stats_hourly (
			hour_utc, total_files_processed, total_space_saved,
			files_finished, files_skipped, files_rejected, files_errored
		) VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(hour_utc) DO UPDATE SET
			total_files_processed = total_files_processed + excluded.total_files_processed,
			total_space_saved     = total_space_saved + excluded.total_space_saved,
			files_finished        = files_finished + excluded.files_finished,
			files_skipped         = files_skipped + excluded.files_skipped,
			files_rejected        = files_rejected + excluded.files_rejected,
			files_errored         = files_errored + excluded.files_errored`,
		key, delta.TotalFilesProcessed, delta.TotalSpaceSaved,
		delta.FilesFinished, delta.FilesSkipped, delta.FilesRejected, delta.FilesErrored)
	if err != nil {
		return apperr.Wrap(apperr.Storage, "add hourly counters", err)
	}
	return nil
}

// DailyStats returns the aggregate row for date, zero-valued if no events
// have been recorded for that day yet.
func (s *Store) DailyStats(ctx context.Context, date time.Time) (*StatsDaily, error) {
	key := date.UTC().Format("2006-01-02")
	row := s.readDB.QueryRowContext(ctx, `
		SELECT date, total_files_processed, total_space_saved,
		       files_finished, files_skipped, files_rejected, files_errored
		FROM stats_daily WHERE date = ?`, key)
	return scanDaily(row, date)
}

// HourlyStats returns the aggregate row for hour, zero-valued if absent.
func (s *Store) HourlyStats(ctx context.Context, hour time.Time) (*StatsHourly, error) {
	key := hour.UTC().Truncate(time.Hour).Format(time.RFC3339)
	row := s.readDB.QueryRowContext(ctx, `
		SELECT hour_utc, total_files_processed, total_space_saved,
		       files_finished, files_skipped, files_rejected, files_errored
		FROM stats_hourly WHERE hour_utc = ?`, key)
	return scanHourly(row, hour)
}

func scanDaily(row *sql.Row, fallback time.Time) (*StatsDaily, error) {
	var d StatsDaily
	var dateStr string
	err := row.Scan(&dateStr, &d.TotalFilesProcessed, &d.TotalSpaceSaved,
		&d.FilesFinished, &d.FilesSkipped, &d.FilesRejected, &d.FilesErrored)
	if err == sql.ErrNoRows {
		d.Date = fallback.UTC().Truncate(24 * time.Hour)
		return &d, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "scan daily stats", err)
	}
	d.Date, _ = time.Parse("2006-01-02", dateStr)
	return &d, nil
}

func scanHourly(row *sql.Row, fallback time.Time) (*StatsHourly, error) {
	var h StatsHourly
	var hourStr string
	err := row.Scan(&hourStr, &h.TotalFilesProcessed, &h.TotalSpaceSaved,
		&h.FilesFinished, &h.FilesSkipped, &h.FilesRejected, &h.FilesErrored)
	if err == sql.ErrNoRows {
		h.HourUTC = fallback.UTC().Truncate(time.Hour)
		return &h, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "scan hourly stats", err)
	}
	h.HourUTC = parseRFC3339(hourStr)
	return &h, nil
}
