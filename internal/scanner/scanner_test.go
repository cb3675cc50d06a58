package scanner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/theodorecharles/compressor/internal/bus"
	"github.com/theodorecharles/compressor/internal/classifier"
	"github.com/theodorecharles/compressor/internal/probe"
	"github.com/theodorecharles/compressor/internal/settings"
	"github.com/theodorecharles/compressor/internal/store"
)

type fakeProber struct{}

func (fakeProber) Probe(ctx context.Context, path string) (*probe.Info, error) {
	return &probe.Info{Codec: "h264", Width: 1920, Height: 1080}, nil
}

func setup(t *testing.T) (*Scanner, store.Library, string) {
	t.Helper()
	dir := t.TempDir()
	s, err := store.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), store.DefaultConfig())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	lib, err := s.CreateLibrary(context.Background(), "lib", dir, true, false)
	if err != nil {
		t.Fatalf("create library: %v", err)
	}

	c := classifier.New(s, fakeProber{})
	st := settings.New(s)
	scan := New(s, c, st, bus.NewMemoryBus())
	return scan, *lib, dir
}

func writeVideoFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
}

func TestScanLibrary_DiscoversAndQueues(t *testing.T) {
	scan, lib, dir := setup(t)
	writeVideoFile(t, dir, "movie.mkv", 600*1024*1024)
	writeVideoFile(t, dir, "notes.txt", 600*1024*1024)
	writeVideoFile(t, dir, ".hidden.mkv", 600*1024*1024)

	if err := scan.ScanLibrary(context.Background(), lib); err != nil {
		t.Fatalf("scan library: %v", err)
	}

	files, err := scan.store.ListFiles(context.Background(), &lib.ID, nil)
	if err != nil {
		t.Fatalf("list files: %v", err)
	}
	if len(files) != 1 {
		t.Fatalf("expected exactly one recognized, non-dotfile video discovered, got %d: %+v", len(files), files)
	}
	if files[0].Status != store.StatusQueued {
		t.Fatalf("expected queued status, got %v", files[0].Status)
	}

	status := scan.Status()
	if status.State != "complete" || status.Added != 1 {
		t.Fatalf("unexpected final status: %+v", status)
	}
}

func TestScanAll_RefusesConcurrentRun(t *testing.T) {
	scan, lib, _ := setup(t)
	scan.running.Store(true)
	defer scan.running.Store(false)

	err := scan.ScanLibrary(context.Background(), lib)
	if err == nil {
		t.Fatal("expected concurrent scan to be refused")
	}
}

func TestScanLibrary_PublishesConsistentCorrelationID(t *testing.T) {
	scan, lib, dir := setup(t)
	writeVideoFile(t, dir, "a.mkv", 600*1024*1024)
	writeVideoFile(t, dir, "b.mkv", 600*1024*1024)
	writeVideoFile(t, dir, "c.mkv", 600*1024*1024)

	sub, err := scan.bus.Subscribe(context.Background(), bus.TopicScanProgress)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer sub.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := scan.ScanLibrary(context.Background(), lib); err != nil {
			t.Errorf("scan library: %v", err)
		}
	}()
	<-done

	var correlationID string
	var sawAny bool
	draining := true
	for draining {
		select {
		case msg := <-sub.C():
			p, ok := msg.(Progress)
			if !ok {
				t.Fatalf("unexpected message type %T", msg)
			}
			if p.CorrelationID == "" {
				t.Fatal("expected every scan progress event to carry a correlation id")
			}
			if !sawAny {
				correlationID = p.CorrelationID
				sawAny = true
			} else if p.CorrelationID != correlationID {
				t.Fatalf("expected a single correlation id across the whole scan, got %q and %q", correlationID, p.CorrelationID)
			}
		default:
			draining = false
		}
	}
	if !sawAny {
		t.Fatal("expected at least one scan progress event")
	}
}

func TestStopScan_HaltsPartway(t *testing.T) {
	scan, lib, dir := setup(t)
	for i := 0; i < 5; i++ {
		writeVideoFile(t, dir, string(rune('a'+i))+".mkv", 600*1024*1024)
	}
	scan.stopReq.Store(true)

	if err := scan.ScanLibrary(context.Background(), lib); err != nil {
		t.Fatalf("scan library: %v", err)
	}
	status := scan.Status()
	if status.State != "stopped" {
		t.Fatalf("expected stopped state, got %+v", status)
	}
}
