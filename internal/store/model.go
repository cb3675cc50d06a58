package store

import (
	"time"

	"github.com/theodorecharles/compressor/internal/fsm"
)

// Status is the closed file-status enum of the file status state machine.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusEncoding  Status = "encoding"
	StatusFinished  Status = "finished"
	StatusSkipped   Status = "skipped"
	StatusExcluded  Status = "excluded"
	StatusRejected  Status = "rejected"
	StatusErrored   Status = "errored"
	StatusCancelled Status = "cancelled"
)

// fileFSM is the registered transition table for the file status state
// machine (§4.7): every legal (from, to) edge, nothing else. The "event" for
// each edge is just its destination state, since a file has no richer event
// vocabulary than "move to this status". One shared table governs every
// file row; TransitionStatus queries it per-row via Allows rather than
// holding a live Machine per file.
var fileFSM = mustFileFSM()

func mustFileFSM() *fsm.Machine[Status, Status] {
	m, err := fsm.New(StatusQueued, []fsm.Transition[Status, Status]{
		{From: StatusQueued, Event: StatusEncoding, To: StatusEncoding}, // worker pick
		{From: StatusQueued, Event: StatusExcluded, To: StatusExcluded}, // exclusion created covering this file
		{From: StatusQueued, Event: StatusSkipped, To: StatusSkipped},   // manual skip
		{From: StatusExcluded, Event: StatusQueued, To: StatusQueued},   // exclusion removed
		{From: StatusEncoding, Event: StatusFinished, To: StatusFinished},
		{From: StatusEncoding, Event: StatusRejected, To: StatusRejected},
		{From: StatusEncoding, Event: StatusErrored, To: StatusErrored},
		{From: StatusEncoding, Event: StatusCancelled, To: StatusCancelled},
		{From: StatusEncoding, Event: StatusQueued, To: StatusQueued}, // reset_encoding crash recovery
		{From: StatusErrored, Event: StatusQueued, To: StatusQueued},  // manual retry
		{From: StatusRejected, Event: StatusQueued, To: StatusQueued}, // manual retry
	})
	if err != nil {
		panic(err)
	}
	return m
}

// ValidTransition reports whether from->to is one of the transitions in the
// file status state machine. Equal from==to is never valid: every transition
// in the table is a genuine state change.
func ValidTransition(from, to Status) bool {
	return fileFSM.Allows(from, to)
}

// Library is a configured root directory containing media files.
type Library struct {
	ID           int64
	Name         string
	Path         string
	Enabled      bool
	WatchEnabled bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ExclusionType distinguishes folder-prefix rules from glob-pattern rules.
type ExclusionType string

const (
	ExclusionFolder  ExclusionType = "folder"
	ExclusionPattern ExclusionType = "pattern"
)

// Exclusion is a scoped folder-prefix or glob rule that gates newly
// discovered files and retroactively re-classifies queued files.
type Exclusion struct {
	ID        int64
	LibraryID *int64 // nil == global
	Pattern   string
	Type      ExclusionType
	Reason    *string
	CreatedAt time.Time
}

// File is a single discovered media file and its classification/encode state.
type File struct {
	ID              int64
	LibraryID       int64
	FilePath        string
	FileName        string
	OriginalCodec   *string
	OriginalBitrate *int64
	OriginalSize    *int64
	OriginalWidth   *int
	OriginalHeight  *int
	IsHDR           bool
	NewSize         *int64
	Status          Status
	SkipReason      *string
	ErrorMessage    *string
	StartedAt       *time.Time
	CompletedAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StatsCounters is the additive delta applied to a stats_daily/stats_hourly
// row. Callers never compute absolute totals; the store adds these in place.
type StatsCounters struct {
	TotalFilesProcessed int64
	TotalSpaceSaved     int64
	FilesFinished       int64
	FilesSkipped        int64
	FilesRejected       int64
	FilesErrored        int64
}

// StatsDaily is the daily aggregate row, keyed by UTC date.
type StatsDaily struct {
	Date time.Time
	StatsCounters
}

// StatsHourly is the hourly aggregate row, keyed by UTC hour truncation.
type StatsHourly struct {
	HourUTC time.Time
	StatsCounters
}

// EncodingLogEntry is one append-only audit event for a file.
type EncodingLogEntry struct {
	ID        int64
	FileID    int64
	Event     string
	Details   string
	CreatedAt time.Time
}

// FileSort is the file-ordering control of the queue ordering policy.
type FileSort string

const (
	SortBitrateDesc  FileSort = "bitrate_desc"
	SortBitrateAsc   FileSort = "bitrate_asc"
	SortAlphabetical FileSort = "alphabetical"
	SortRandom       FileSort = "random"
)

// LibraryPriority is the library-ordering control of the queue ordering policy.
type LibraryPriority string

const (
	PriorityAlphaAsc   LibraryPriority = "alphabetical_asc"
	PriorityAlphaDesc  LibraryPriority = "alphabetical_desc"
	PriorityRoundRobin LibraryPriority = "round_robin"
)
