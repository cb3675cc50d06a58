// Package classifier applies the discovery decision order (§4.4) that
// turns a discovered path into a terminal-for-discovery file row.
package classifier

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sync/singleflight"

	"github.com/theodorecharles/compressor/internal/apperr"
	"github.com/theodorecharles/compressor/internal/exclusion"
	"github.com/theodorecharles/compressor/internal/log"
	"github.com/theodorecharles/compressor/internal/probe"
	"github.com/theodorecharles/compressor/internal/store"
)

const bytesPerMiB = 1024 * 1024

// Classifier evaluates discovered paths against the size floor, exclusion
// rules, and probe result, persisting the outcome to the store.
type Classifier struct {
	Store  *store.Store
	Prober probe.Prober

	// probeFlight collapses concurrent probes of the same path into one
	// ffprobe invocation: the scanner's walk and the watcher's debounce can
	// both reach Classify for the same file at nearly the same time.
	probeFlight singleflight.Group
}

// New constructs a Classifier.
func New(s *store.Store, p probe.Prober) *Classifier {
	return &Classifier{Store: s, Prober: p}
}

// Classify applies the decision order of §4.4 to path within libraryID,
// using minFileSizeMB as the size floor and rules as the already-ordered
// exclusion rule set. It is a no-op if the path is already known, unless
// reactive is true (the §4.3 rule-deletion reclassification path).
func (c *Classifier) Classify(ctx context.Context, path string, libraryID int64, minFileSizeMB int, rules []exclusion.Rule, reactive bool) (*store.File, error) {
	logger := log.WithContext(ctx, log.WithComponent("classifier"))

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		logger.Debug().Str("path", path).Msg("skipping non-readable or non-regular path")
		return nil, nil
	}

	existing, err := c.Store.GetFileByPath(ctx, path)
	if err != nil {
		return nil, err
	}
	if existing != nil && !reactive {
		return existing, nil
	}

	fileName := filepath.Base(path)
	size := info.Size()

	if size < int64(minFileSizeMB)*bytesPerMiB {
		reason := fmt.Sprintf("File under %dMB minimum", minFileSizeMB)
		return c.persist(ctx, store.UpsertFileParams{
			LibraryID:    libraryID,
			FilePath:     path,
			FileName:     fileName,
			Status:       statusPtr(store.StatusSkipped),
			SkipReason:   &reason,
			OriginalSize: &size,
		})
	}

	if res := exclusion.Evaluate(path, libraryID, rules); res.Excluded {
		reason := res.Reason
		return c.persist(ctx, store.UpsertFileParams{
			LibraryID:    libraryID,
			FilePath:     path,
			FileName:     fileName,
			Status:       statusPtr(store.StatusExcluded),
			SkipReason:   &reason,
			OriginalSize: &size,
		})
	}

	probed, err := c.probeOnce(ctx, path)
	if err != nil {
		msg := err.Error()
		logger.Warn().Str("path", path).Err(err).Msg("probe failed during classification")
		return c.persist(ctx, store.UpsertFileParams{
			LibraryID:    libraryID,
			FilePath:     path,
			FileName:     fileName,
			Status:       statusPtr(store.StatusErrored),
			ErrorMessage: &msg,
			OriginalSize: &size,
		})
	}

	params := store.UpsertFileParams{
		LibraryID:       libraryID,
		FilePath:        path,
		FileName:        fileName,
		OriginalCodec:   &probed.Codec,
		OriginalBitrate: probed.Bitrate,
		OriginalSize:    &size,
		OriginalWidth:   &probed.Width,
		OriginalHeight:  &probed.Height,
		IsHDR:           probed.IsHDR,
	}

	if probed.IsHEVC {
		reason := "Already HEVC"
		params.Status = statusPtr(store.StatusSkipped)
		params.SkipReason = &reason
		return c.persist(ctx, params)
	}

	params.Status = statusPtr(store.StatusQueued)
	return c.persist(ctx, params)
}

// ReclassifyAfterExclusionRemoval deletes exclusion rule id and reclassifies
// every file it used to exclude that no longer matches any remaining rule.
// It runs the full decision order (§4.4) for each reinstated file via
// Classify(..., reactive=true) rather than blindly requeueing, so a file
// that is already HEVC or under the size floor lands back on the correct
// terminal status instead of a naive queued (§4.3/§8).
func (c *Classifier) ReclassifyAfterExclusionRemoval(ctx context.Context, id int64, minFileSizeMB int) ([]*store.File, error) {
	rows, err := c.Store.ListExclusions(ctx)
	if err != nil {
		return nil, err
	}
	remaining := make([]exclusion.Rule, 0, len(rows))
	for _, e := range rows {
		if e.ID == id {
			continue
		}
		remaining = append(remaining, exclusion.Rule{ID: e.ID, LibraryID: e.LibraryID, Pattern: e.Pattern, Type: e.Type, Reason: e.Reason})
	}

	candidates, err := c.Store.DeleteExclusion(ctx, id, exclusion.MatchFn(remaining))
	if err != nil {
		return nil, err
	}

	out := make([]*store.File, 0, len(candidates))
	for _, f := range candidates {
		reclassified, err := c.Classify(ctx, f.FilePath, f.LibraryID, minFileSizeMB, remaining, true)
		if err != nil {
			return nil, err
		}
		out = append(out, reclassified)
	}
	return out, nil
}

// probeOnce dedupes concurrent probes of the same path, returning the shared
// result to every caller that arrives while one ffprobe invocation is in
// flight.
func (c *Classifier) probeOnce(ctx context.Context, path string) (*probe.Info, error) {
	v, err, _ := c.probeFlight.Do(path, func() (interface{}, error) {
		return c.Prober.Probe(ctx, path)
	})
	if err != nil {
		return nil, err
	}
	return v.(*probe.Info), nil
}

func (c *Classifier) persist(ctx context.Context, params store.UpsertFileParams) (*store.File, error) {
	f, err := c.Store.UpsertFile(ctx, params)
	if err != nil {
		return nil, apperr.Wrap(apperr.Storage, "persist classification result", err)
	}
	return f, nil
}

func statusPtr(s store.Status) *store.Status { return &s }
