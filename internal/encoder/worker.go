// Package encoder drives the single-slot transcode worker: pulling the next
// queued file per the ordering policy, running the external transcoder
// process, and accounting for the outcome (§4.5/§4.6/§4.7).
package encoder

import (
	"context"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/theodorecharles/compressor/internal/bus"
	"github.com/theodorecharles/compressor/internal/log"
	"github.com/theodorecharles/compressor/internal/probe"
	"github.com/theodorecharles/compressor/internal/settings"
	"github.com/theodorecharles/compressor/internal/store"
)

// Scheduling intervals per §4.5 step 2/3/6 ("≈1s", "≈10s", "≈1s").
var (
	PausedPollInterval     = time.Second
	EmptyQueuePollInterval = 10 * time.Second
	PostCycleInterval      = time.Second

	// TerminateGrace bounds how long a cancelled ffmpeg process is given to
	// exit after SIGTERM before procexec escalates to SIGKILL.
	TerminateGrace = 5 * time.Second
)

// Worker is the single-slot transcode scheduler.
type Worker struct {
	store      *store.Store
	settings   *settings.Settings
	prober     probe.Prober
	bus        bus.Bus
	ffmpegBin  string
	scratchDir string

	running atomic.Bool
	paused  atomic.Bool

	mu          sync.Mutex
	jobCancel   context.CancelFunc
	activeCmd   *exec.Cmd
	procRunning bool

	done chan struct{}
}

// New constructs a Worker.
func New(s *store.Store, st *settings.Settings, p probe.Prober, b bus.Bus, ffmpegBin, scratchDir string) *Worker {
	return &Worker{
		store:      s,
		settings:   st,
		prober:     p,
		bus:        b,
		ffmpegBin:  ffmpegBin,
		scratchDir: scratchDir,
	}
}

// Start begins the scheduling loop in a background goroutine. Idempotent:
// a no-op if already running.
func (w *Worker) Start(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	w.done = make(chan struct{})
	go w.loop(ctx)
}

// Stop halts the scheduling loop after its current step, cancelling any
// in-flight job, and waits for the loop goroutine to exit.
func (w *Worker) Stop() {
	if !w.running.CompareAndSwap(true, false) {
		return
	}
	w.CancelCurrent()
	<-w.done
}

// Pause suspends picking new files; a job already in flight runs to
// completion.
func (w *Worker) Pause() { w.paused.Store(true) }

// Resume lifts a pause.
func (w *Worker) Resume() { w.paused.Store(false) }

// CancelCurrent signals the in-flight transcoder process (if any) to
// terminate gracefully. Returns true iff a transcoder process was running
// at the moment of the call, per §4.5 "cancel_current()".
func (w *Worker) CancelCurrent() bool {
	w.mu.Lock()
	cancel := w.jobCancel
	running := w.procRunning
	w.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return running
}

func (w *Worker) loop(parentCtx context.Context) {
	logger := log.WithComponent("encoder")
	defer close(w.done)

	for {
		if !w.running.Load() || parentCtx.Err() != nil {
			return
		}
		if w.paused.Load() {
			time.Sleep(PausedPollInterval)
			continue
		}

		sort, priority, err := w.settings.QueueOrdering(parentCtx)
		if err != nil {
			logger.Error().Err(err).Msg("failed to resolve queue ordering")
			time.Sleep(EmptyQueuePollInterval)
			continue
		}

		f, err := w.store.PickQueued(parentCtx, sort, priority)
		if err != nil {
			logger.Error().Err(err).Msg("failed to pick next queued file")
			time.Sleep(EmptyQueuePollInterval)
			continue
		}
		if f == nil {
			time.Sleep(EmptyQueuePollInterval)
			continue
		}

		w.runJob(parentCtx, f)

		time.Sleep(PostCycleInterval)
	}
}

func (w *Worker) runJob(parentCtx context.Context, f *store.File) {
	logger := log.WithComponent("encoder")

	jobCtx, cancel := context.WithCancel(parentCtx)
	// A fresh correlation id per job lets every log line and bus message for
	// this file's encode - across worker, pipeline, and procexec - be tied
	// back together regardless of which goroutine emitted it.
	jobCtx = log.ContextWithJobID(jobCtx, uuid.New().String())
	w.mu.Lock()
	w.jobCancel = cancel
	w.mu.Unlock()
	defer func() {
		w.mu.Lock()
		w.jobCancel = nil
		w.mu.Unlock()
		cancel()
	}()

	startedAt := rfc3339Now()
	if _, err := w.store.TransitionStatus(jobCtx, f.ID, store.StatusEncoding, store.FileTransitionFields{StartedAt: &startedAt}); err != nil {
		logger.Error().Int64("file_id", f.ID).Err(err).Msg("failed to mark file as encoding")
		return
	}
	correlationID := log.JobIDFromContext(jobCtx)
	w.publish(jobCtx, bus.TopicEncodingProgress, EncodingProgress{FileID: f.ID, Path: f.FilePath, Percent: 0, State: "started", CorrelationID: correlationID})

	outcome := w.runPipeline(jobCtx, f)

	w.publish(jobCtx, bus.TopicEncodingComplete, EncodingComplete{FileID: f.ID, Path: f.FilePath, Outcome: outcome, CorrelationID: correlationID})
}

func (w *Worker) setActiveCmd(cmd *exec.Cmd) {
	w.mu.Lock()
	w.activeCmd = cmd
	w.procRunning = true
	w.mu.Unlock()
}

func (w *Worker) clearActiveCmd() {
	w.mu.Lock()
	w.activeCmd = nil
	w.procRunning = false
	w.mu.Unlock()
}

func (w *Worker) publish(ctx context.Context, topic string, msg bus.Message) {
	if w.bus == nil {
		return
	}
	_ = w.bus.Publish(ctx, topic, msg)
}

// EncodingProgress is published on bus.TopicEncodingProgress.
type EncodingProgress struct {
	FileID        int64
	Path          string
	Percent       float64
	State         string // started | running
	CorrelationID string
}

// EncodingComplete is published on bus.TopicEncodingComplete.
type EncodingComplete struct {
	FileID        int64
	Path          string
	Outcome       string // finished | rejected | errored | cancelled
	CorrelationID string
}

func rfc3339Now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
