package encoder

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/theodorecharles/compressor/internal/probe"
	"github.com/theodorecharles/compressor/internal/settings"
	"github.com/theodorecharles/compressor/internal/store"
)

// newTestStore opens a fresh on-disk sqlite database under t.TempDir and
// registers a single library, returning both the store and that library's ID.
func newTestStore(t *testing.T) (*store.Store, int64) {
	t.Helper()
	ctx := context.Background()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(ctx, dbPath, store.DefaultConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	lib, err := s.CreateLibrary(ctx, "lib", t.TempDir(), true, false)
	require.NoError(t, err)

	return s, lib.ID
}

func newQueuedFile(t *testing.T, s *store.Store, libraryID int64, path string, originalSize int64) *store.File {
	t.Helper()
	f, err := s.UpsertFile(context.Background(), store.UpsertFileParams{
		LibraryID:    libraryID,
		FilePath:     path,
		FileName:     filepath.Base(path),
		OriginalSize: &originalSize,
	})
	require.NoError(t, err)
	return f
}

// fakeProber returns a fixed probe.Info (or error) regardless of path.
type fakeProber struct {
	info *probe.Info
	err  error
}

func (f *fakeProber) Probe(ctx context.Context, path string) (*probe.Info, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.info, nil
}

func defaultProbedInfo() *probe.Info {
	return &probe.Info{
		Codec:    "hevc",
		Width:    1920,
		Height:   1080,
		Duration: 10,
	}
}

func newTestSettings(s *store.Store) *settings.Settings {
	return settings.New(s)
}
