package watcher

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/theodorecharles/compressor/internal/classifier"
	"github.com/theodorecharles/compressor/internal/probe"
	"github.com/theodorecharles/compressor/internal/settings"
	"github.com/theodorecharles/compressor/internal/store"
)

type fakeProber struct{}

func (fakeProber) Probe(ctx context.Context, path string) (*probe.Info, error) {
	return &probe.Info{Codec: "h264", Width: 1920, Height: 1080}, nil
}

func useShortStabilityWindow(t *testing.T) {
	t.Helper()
	orig := StabilityWindow
	StabilityWindow = 50 * time.Millisecond
	t.Cleanup(func() { StabilityWindow = orig })
}

func setup(t *testing.T) (*Watcher, store.Library, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), store.DefaultConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	lib, err := s.CreateLibrary(context.Background(), "lib", dir, true, true)
	if err != nil {
		t.Fatalf("create library: %v", err)
	}

	c := classifier.New(s, fakeProber{})
	st := settings.New(s)
	w := New(s, c, st)
	return w, *lib, dir
}

func waitForFile(t *testing.T, s *store.Store, path string, timeout time.Duration) *store.File {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		f, err := s.GetFileByPath(context.Background(), path)
		if err != nil {
			t.Fatalf("get file by path: %v", err)
		}
		if f != nil {
			return f
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to be classified", path)
	return nil
}

func TestWatcher_ClassifiesStableNewFileAfterDebounce(t *testing.T) {
	useShortStabilityWindow(t)
	w, lib, dir := setup(t)

	w.Start(lib)
	defer w.Stop(lib.ID)

	path := filepath.Join(dir, "movie.mkv")
	if err := os.WriteFile(path, make([]byte, 600*1024*1024), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	f := waitForFile(t, w.store, path, 5*time.Second)
	if f.Status != store.StatusQueued {
		t.Fatalf("expected the settled file to be queued, got %v", f.Status)
	}
}

func TestWatcher_IgnoresDotfiles(t *testing.T) {
	useShortStabilityWindow(t)
	w, lib, dir := setup(t)

	w.Start(lib)
	defer w.Stop(lib.ID)

	path := filepath.Join(dir, ".hidden.mkv")
	if err := os.WriteFile(path, make([]byte, 600*1024*1024), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	// No positive wait condition for "never classified"; give the debounce
	// window plus margin to elapse, then assert it was never recorded.
	time.Sleep(200 * time.Millisecond)
	f, err := w.store.GetFileByPath(context.Background(), path)
	if err != nil {
		t.Fatalf("get file by path: %v", err)
	}
	if f != nil {
		t.Fatalf("expected a dotfile to never be classified, got %+v", f)
	}
}

func TestWatcher_IgnoresUnrecognizedExtensions(t *testing.T) {
	useShortStabilityWindow(t)
	w, lib, dir := setup(t)

	w.Start(lib)
	defer w.Stop(lib.ID)

	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, make([]byte, 600*1024*1024), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	f, err := w.store.GetFileByPath(context.Background(), path)
	if err != nil {
		t.Fatalf("get file by path: %v", err)
	}
	if f != nil {
		t.Fatalf("expected an unrecognized extension to never be classified, got %+v", f)
	}
}

func TestWatcher_StartIsIdempotent(t *testing.T) {
	w, lib, _ := setup(t)

	w.Start(lib)
	defer w.Stop(lib.ID)
	w.Start(lib)

	w.mu.Lock()
	n := len(w.instances)
	w.mu.Unlock()
	if n != 1 {
		t.Fatalf("expected exactly one tracked instance after duplicate Start, got %d", n)
	}
}

func TestWatcher_StopWaitsForSubscriptionToClose(t *testing.T) {
	w, lib, _ := setup(t)

	w.Start(lib)
	w.Stop(lib.ID)

	w.mu.Lock()
	_, ok := w.instances[lib.ID]
	w.mu.Unlock()
	if ok {
		t.Fatal("expected the instance to be removed after Stop")
	}
}

func TestWatcher_RestartIsNoOpWhenWatchDisabled(t *testing.T) {
	w, lib, _ := setup(t)
	w.Start(lib)

	lib.WatchEnabled = false
	w.Restart(lib)

	w.mu.Lock()
	_, ok := w.instances[lib.ID]
	w.mu.Unlock()
	if ok {
		t.Fatal("expected Restart to leave the library unwatched when watch is now disabled")
	}
}
