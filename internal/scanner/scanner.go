// Package scanner performs the recursive directory walk that funnels
// discovered files into the classifier, one library (or all enabled
// libraries) at a time.
package scanner

import (
	"context"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/theodorecharles/compressor/internal/apperr"
	"github.com/theodorecharles/compressor/internal/bus"
	"github.com/theodorecharles/compressor/internal/classifier"
	"github.com/theodorecharles/compressor/internal/exclusion"
	"github.com/theodorecharles/compressor/internal/log"
	"github.com/theodorecharles/compressor/internal/metrics"
	"github.com/theodorecharles/compressor/internal/settings"
	"github.com/theodorecharles/compressor/internal/store"
)

// RecognizedExtensions is the fixed configuration of video extensions the
// scanner and watcher recognize. Lowercase, dot-prefixed.
var RecognizedExtensions = map[string]bool{
	".mkv": true, ".mp4": true, ".avi": true, ".mov": true,
	".ts": true, ".m4v": true, ".wmv": true, ".webm": true,
}

// Progress is the per-file progress record published on the bus, per §4.8.
type Progress struct {
	Library       string
	State         string // finding_files | scanning | complete | stopped
	Total         int
	Processed     int
	Added         int
	Skipped       int
	Errored       int
	CurrentFile   string
	LastError     string
	CorrelationID string
}

// Scanner walks library roots and hands discovered files to the classifier.
// Only one scan runs systemwide at a time (§8 "one Scanner task at a time").
type Scanner struct {
	store      *store.Store
	classifier *classifier.Classifier
	settings   *settings.Settings
	bus        bus.Bus

	running atomic.Bool
	stopReq atomic.Bool

	mu     sync.Mutex
	status Progress
}

// New constructs a Scanner.
func New(s *store.Store, c *classifier.Classifier, st *settings.Settings, b bus.Bus) *Scanner {
	return &Scanner{store: s, classifier: c, settings: st, bus: b}
}

// ScanAll walks every enabled library in sequence. Refuses to start if a
// scan is already in progress; returns apperr.Conflict in that case.
func (s *Scanner) ScanAll(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return apperr.New(apperr.Conflict, "a scan is already in progress")
	}
	defer s.running.Store(false)
	defer s.stopReq.Store(false)

	libs, err := s.store.ListLibraries(ctx)
	if err != nil {
		return err
	}
	for _, lib := range libs {
		if !lib.Enabled {
			continue
		}
		if s.stopReq.Load() {
			return nil
		}
		if err := s.scanOne(ctx, lib); err != nil {
			log.WithComponent("scanner").Error().Err(err).Str("library", lib.Name).Msg("scan of library failed")
		}
	}
	return nil
}

// ScanLibrary walks a single library. Refuses to start if a scan is already
// in progress.
func (s *Scanner) ScanLibrary(ctx context.Context, lib store.Library) error {
	if !s.running.CompareAndSwap(false, true) {
		return apperr.New(apperr.Conflict, "a scan is already in progress")
	}
	defer s.running.Store(false)
	defer s.stopReq.Store(false)
	return s.scanOne(ctx, lib)
}

// StopScan requests the current scan stop after finishing its current file.
// No-op if nothing is running.
func (s *Scanner) StopScan() {
	if s.running.Load() {
		s.stopReq.Store(true)
	}
}

// Status returns a snapshot of the current (or most recent) scan progress.
func (s *Scanner) Status() Progress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *Scanner) scanOne(ctx context.Context, lib store.Library) error {
	scanID := uuid.New().String()
	ctx = log.ContextWithJobID(ctx, scanID)
	logger := log.WithContext(ctx, log.WithComponent("scanner"))

	minMB, err := s.settings.MinFileSizeMB(ctx)
	if err != nil {
		return err
	}

	rows, err := s.store.ListExclusions(ctx)
	if err != nil {
		return err
	}
	rules := make([]exclusion.Rule, 0, len(rows))
	for _, e := range rows {
		rules = append(rules, exclusion.Rule{ID: e.ID, LibraryID: e.LibraryID, Pattern: e.Pattern, Type: e.Type, Reason: e.Reason})
	}

	progress := Progress{Library: lib.Name, State: "finding_files", CorrelationID: scanID}
	s.setStatus(progress)
	s.publish(ctx, bus.TopicScanProgress, progress)

	var paths []string
	walkErr := filepath.WalkDir(lib.Path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			logger.Warn().Str("path", path).Err(err).Msg("walk error, skipping entry")
			return nil
		}
		name := d.Name()
		if strings.HasPrefix(name, ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if !RecognizedExtensions[strings.ToLower(filepath.Ext(name))] {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if walkErr != nil {
		return apperr.Wrap(apperr.IO, "walk library root", walkErr)
	}

	progress.State = "scanning"
	progress.Total = len(paths)
	s.setStatus(progress)

	// Files within this one library are classified one at a time: the
	// Scanner is single-threaded per invocation (§4.8), distinct from the
	// systemwide single-scan guard (running.CompareAndSwap above) which
	// only prevents two scans from overlapping, not per-file parallelism
	// within one.
	var counters scanCounters
	var lastErr string

	publishTick := func(currentFile string) {
		p := Progress{
			Library:       lib.Name,
			State:         "scanning",
			Total:         len(paths),
			Processed:     counters.processed,
			Added:         counters.added,
			Skipped:       counters.skipped,
			Errored:       counters.errored,
			CurrentFile:   currentFile,
			LastError:     lastErr,
			CorrelationID: scanID,
		}
		s.setStatus(p)
		s.publish(ctx, bus.TopicScanProgress, p)
	}

	var stopped bool
	for _, path := range paths {
		if s.stopReq.Load() {
			stopped = true
			break
		}
		f, err := s.classifier.Classify(ctx, path, lib.ID, minMB, rules, false)
		counters.processed++
		switch {
		case err != nil:
			counters.errored++
			lastErr = err.Error()
		case f == nil:
			// non-readable/non-regular entry, not recorded
		case f.Status == store.StatusSkipped || f.Status == store.StatusExcluded:
			counters.skipped++
		case f.Status == store.StatusErrored:
			counters.errored++
		default:
			counters.added++
		}
		publishTick(path)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	if stopped {
		progress.State = "stopped"
		progress.Processed = counters.processed
		progress.Added = counters.added
		progress.Skipped = counters.skipped
		progress.Errored = counters.errored
		s.setStatus(progress)
		s.publish(ctx, bus.TopicScanProgress, progress)
		return nil
	}

	metrics.ScanFilesDiscovered.WithLabelValues(lib.Name).Add(float64(len(paths)))

	progress.State = "complete"
	progress.Processed = counters.processed
	progress.Added = counters.added
	progress.Skipped = counters.skipped
	progress.Errored = counters.errored
	s.setStatus(progress)
	s.publish(ctx, bus.TopicScanComplete, progress)
	return nil
}

// scanCounters accumulates per-file classification outcomes across one
// sequential pass over a library's discovered paths.
type scanCounters struct {
	processed int
	added     int
	skipped   int
	errored   int
}

func (s *Scanner) setStatus(p Progress) {
	s.mu.Lock()
	s.status = p
	s.mu.Unlock()
}

func (s *Scanner) publish(ctx context.Context, topic string, p Progress) {
	_ = s.bus.Publish(ctx, topic, p)
}

// RunScheduled runs ScanAll on a fixed interval until ctx is cancelled.
// interval <= 0 disables scheduled rescans.
func (s *Scanner) RunScheduled(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ScanAll(ctx); err != nil && !apperr.Is(err, apperr.Conflict) {
				log.WithComponent("scanner").Error().Err(err).Msg("scheduled scan failed")
			}
		}
	}
}
