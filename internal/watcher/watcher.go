// Package watcher subscribes to filesystem additions beneath each
// watch-enabled library root, recursively, debouncing writes-in-progress
// before handing a stable file to the classifier.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/theodorecharles/compressor/internal/classifier"
	"github.com/theodorecharles/compressor/internal/exclusion"
	"github.com/theodorecharles/compressor/internal/log"
	"github.com/theodorecharles/compressor/internal/scanner"
	"github.com/theodorecharles/compressor/internal/settings"
	"github.com/theodorecharles/compressor/internal/store"
)

// StabilityWindow is the debounce interval a file's size must remain
// unchanged for before the watcher treats a write as finished (§4.9: ≈5s).
var StabilityWindow = 5 * time.Second

// Watcher manages one fsnotify subscription per watch-enabled library.
type Watcher struct {
	store      *store.Store
	classifier *classifier.Classifier
	settings   *settings.Settings

	mu        sync.Mutex
	instances map[int64]*libraryWatch
}

type libraryWatch struct {
	lib    store.Library
	cancel context.CancelFunc
	done   chan struct{}
}

// New constructs a Watcher.
func New(s *store.Store, c *classifier.Classifier, st *settings.Settings) *Watcher {
	return &Watcher{store: s, classifier: c, settings: st, instances: make(map[int64]*libraryWatch)}
}

// Start begins watching lib. Idempotent: a no-op if already watching.
func (w *Watcher) Start(lib store.Library) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.instances[lib.ID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	inst := &libraryWatch{lib: lib, cancel: cancel, done: make(chan struct{})}
	w.instances[lib.ID] = inst

	go w.run(ctx, inst)
}

// Stop ends watching libraryID and waits for the subscription to close.
func (w *Watcher) Stop(libraryID int64) {
	w.mu.Lock()
	inst, ok := w.instances[libraryID]
	if ok {
		delete(w.instances, libraryID)
	}
	w.mu.Unlock()
	if !ok {
		return
	}
	inst.cancel()
	<-inst.done
}

// Restart stops then starts lib, if it is still enabled for watching.
func (w *Watcher) Restart(lib store.Library) {
	w.Stop(lib.ID)
	if lib.WatchEnabled {
		w.Start(lib)
	}
}

func (w *Watcher) run(ctx context.Context, inst *libraryWatch) {
	defer close(inst.done)
	logger := log.WithComponent("watcher")

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Error().Err(err).Str("library", inst.lib.Name).Msg("failed to create fsnotify watcher")
		return
	}
	defer func() { _ = fsw.Close() }()

	if err := addRecursive(fsw, inst.lib.Path); err != nil {
		logger.Error().Err(err).Str("library", inst.lib.Name).Msg("failed to watch library root recursively")
		return
	}

	var pending sync.WaitGroup
	defer pending.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handleEvent(ctx, inst, fsw, ev, &pending)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			logger.Warn().Err(err).Str("library", inst.lib.Name).Msg("fsnotify error")
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, inst *libraryWatch, fsw *fsnotify.Watcher, ev fsnotify.Event, pending *sync.WaitGroup) {
	logger := log.WithComponent("watcher")

	if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	name := filepath.Base(ev.Name)
	if strings.HasPrefix(name, ".") {
		return
	}

	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if err := fsw.Add(ev.Name); err != nil {
			logger.Warn().Err(err).Str("path", ev.Name).Msg("failed to add new subdirectory to watch")
		}
		return
	}

	if !scanner.RecognizedExtensions[strings.ToLower(filepath.Ext(name))] {
		return
	}

	pending.Add(1)
	go func() {
		defer pending.Done()
		w.debounceAndClassify(ctx, inst.lib, ev.Name)
	}()
}

// debounceAndClassify waits for the file to stop changing size for
// StabilityWindow before invoking the classifier, per the write-finish
// debounce requirement of §4.9.
func (w *Watcher) debounceAndClassify(ctx context.Context, lib store.Library, path string) {
	logger := log.WithComponent("watcher")

	for {
		info1, err := os.Stat(path)
		if err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(StabilityWindow):
		}
		info2, err := os.Stat(path)
		if err != nil {
			return
		}
		if info1.Size() == info2.Size() && info1.ModTime().Equal(info2.ModTime()) {
			break
		}
	}

	minMB, err := w.settings.MinFileSizeMB(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve min_file_size_mb")
		return
	}
	rows, err := w.store.ListExclusions(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to list exclusions")
		return
	}
	rules := make([]exclusion.Rule, 0, len(rows))
	for _, e := range rows {
		rules = append(rules, exclusion.Rule{ID: e.ID, LibraryID: e.LibraryID, Pattern: e.Pattern, Type: e.Type, Reason: e.Reason})
	}

	if _, err := w.classifier.Classify(ctx, path, lib.ID, minMB, rules, false); err != nil {
		logger.Error().Err(err).Str("path", path).Msg("classification failed for watched file")
	}
}

// addRecursive subscribes to dir and every subdirectory beneath it,
// ignoring dotfile directories.
func addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") && path != root {
			return filepath.SkipDir
		}
		return fsw.Add(path)
	})
}
