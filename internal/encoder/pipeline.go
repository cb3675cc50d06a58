package encoder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/renameio/v2"
	"github.com/rs/zerolog"

	"github.com/theodorecharles/compressor/internal/apperr"
	"github.com/theodorecharles/compressor/internal/bus"
	"github.com/theodorecharles/compressor/internal/config"
	"github.com/theodorecharles/compressor/internal/log"
	"github.com/theodorecharles/compressor/internal/metrics"
	"github.com/theodorecharles/compressor/internal/procexec"
	"github.com/theodorecharles/compressor/internal/store"
)

// zeroLogger is the concrete logger type threaded through pipeline helpers.
type zeroLogger = zerolog.Logger

const tailLinesKept = 20

// runPipeline executes the §4.5 transcode pipeline steps a-g for one file,
// returning the terminal outcome name.
func (w *Worker) runPipeline(ctx context.Context, f *store.File) string {
	logger := log.WithContext(ctx, log.WithComponent("encoder")).With().Int64("file_id", f.ID).Logger()

	ext := filepath.Ext(f.FilePath)
	scratchInput := filepath.Join(w.scratchDir, fmt.Sprintf("file-%d-input%s", f.ID, ext))
	scratchOutput := filepath.Join(w.scratchDir, fmt.Sprintf("file-%d-output.mkv", f.ID))

	// a. copy source to scratch
	if err := copyFile(f.FilePath, scratchInput); err != nil {
		logger.Error().Err(err).Msg("failed to copy source to scratch")
		w.failErrored(ctx, f, "failed to copy source to scratch", err.Error())
		cleanupScratch(logger, scratchInput, scratchOutput)
		return "errored"
	}

	// b. re-probe the scratch copy
	probed, err := w.prober.Probe(ctx, scratchInput)
	if err != nil {
		logger.Error().Err(err).Msg("failed to probe scratch copy")
		w.failErrored(ctx, f, "failed to probe scratch copy", err.Error())
		cleanupScratch(logger, scratchInput, scratchOutput)
		return "errored"
	}
	_ = w.store.AppendEncodingLog(ctx, f.ID, "probe_scratch", fmt.Sprintf(
		"codec=%s width=%d height=%d is_hdr=%v is_4k=%v duration=%.2f", probed.Codec, probed.Width, probed.Height, probed.IsHDR, probed.Is4K, probed.Duration))

	es, err := w.settings.EncodingSettings(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to resolve encoding settings")
		w.failErrored(ctx, f, "failed to resolve encoding settings", err.Error())
		cleanupScratch(logger, scratchInput, scratchOutput)
		return "errored"
	}
	meta := Metadata{Width: probed.Width, Height: probed.Height, IsHDR: probed.IsHDR, Is4K: probed.Is4K, Bitrate: probed.Bitrate}

	// c./d. build and run, hw decode first, CPU-decode retry on failure
	hwArgs := BuildPlan(meta, es, true, scratchInput, scratchOutput)
	_ = w.store.AppendEncodingLog(ctx, f.ID, "ffmpeg_command", strings.Join(hwArgs, " "))
	res := w.runFFmpeg(ctx, hwArgs, f.ID, probed.Duration)

	if res.cancelled {
		w.finishCancelled(ctx, f, scratchInput, scratchOutput, logger)
		return "cancelled"
	}

	if res.err != nil {
		_ = w.store.AppendEncodingLog(ctx, f.ID, "fallback_cpu_decode",
			"hardware decode attempt failed, retrying with CPU decode: "+res.err.Error())

		cpuArgs := BuildPlan(meta, es, false, scratchInput, scratchOutput)
		_ = w.store.AppendEncodingLog(ctx, f.ID, "ffmpeg_command", strings.Join(cpuArgs, " "))
		res = w.runFFmpeg(ctx, cpuArgs, f.ID, probed.Duration)

		if res.cancelled {
			w.finishCancelled(ctx, f, scratchInput, scratchOutput, logger)
			return "cancelled"
		}
		if res.err != nil {
			// f. both attempts failed
			tail := strings.Join(res.tail, "\n")
			logger.Error().Err(res.err).Str("diagnostic_tail", tail).Msg("ffmpeg encoding failed on both attempts")
			w.failErrored(ctx, f, "FFmpeg encoding failed", tail)
			cleanupScratch(logger, scratchInput, scratchOutput)
			return "errored"
		}
	}

	// g. success: compare output size to original
	return w.finishSuccess(ctx, f, scratchInput, scratchOutput, logger)
}

func (w *Worker) finishCancelled(ctx context.Context, f *store.File, scratchInput, scratchOutput string, logger zeroLogger) {
	cleanupScratch(logger, scratchInput, scratchOutput)
	completedAt := rfc3339Now()
	if _, err := w.store.TransitionStatus(context.WithoutCancel(ctx), f.ID, store.StatusCancelled, store.FileTransitionFields{CompletedAt: &completedAt}); err != nil {
		logger.Error().Err(err).Msg("failed to transition file to cancelled")
	}
	_ = w.store.AppendEncodingLog(context.WithoutCancel(ctx), f.ID, "cancelled", "transcode cancelled")
}

func (w *Worker) finishSuccess(ctx context.Context, f *store.File, scratchInput, scratchOutput string, logger zeroLogger) string {
	info, err := os.Stat(scratchOutput)
	if err != nil {
		logger.Error().Err(err).Msg("transcoder reported success but scratch output is missing")
		w.failErrored(ctx, f, "transcoder output missing after success", err.Error())
		cleanupScratch(logger, scratchInput, scratchOutput)
		return "errored"
	}
	outputSize := info.Size()

	var originalSize int64
	if f.OriginalSize != nil {
		originalSize = *f.OriginalSize
	}

	if outputSize >= originalSize {
		completedAt := rfc3339Now()
		if _, err := w.store.TransitionStatus(ctx, f.ID, store.StatusRejected, store.FileTransitionFields{NewSize: &outputSize, CompletedAt: &completedAt}); err != nil {
			logger.Error().Err(err).Msg("failed to transition file to rejected")
		}
		_ = w.store.AppendEncodingLog(ctx, f.ID, "rejected", fmt.Sprintf("output_size=%d >= original_size=%d", outputSize, originalSize))
		w.addStats(ctx, store.StatsCounters{TotalFilesProcessed: 1, FilesRejected: 1})
		cleanupScratch(logger, scratchInput, scratchOutput)
		return "rejected"
	}

	finalSize, err := safeReplace(f.FilePath, scratchOutput)
	if err != nil {
		logger.Error().Err(err).Msg("safe replace failed")
		w.failErrored(ctx, f, "safe replace failed", err.Error())
		cleanupScratch(logger, scratchInput, scratchOutput)
		return "errored"
	}
	_ = w.store.AppendEncodingLog(ctx, f.ID, "safe_replace", fmt.Sprintf("replaced original with transcoded output, new_size=%d", finalSize))

	completedAt := rfc3339Now()
	if _, err := w.store.TransitionStatus(ctx, f.ID, store.StatusFinished, store.FileTransitionFields{NewSize: &finalSize, CompletedAt: &completedAt}); err != nil {
		logger.Error().Err(err).Msg("failed to transition file to finished")
	}
	w.addStats(ctx, store.StatsCounters{
		TotalFilesProcessed: 1,
		FilesFinished:       1,
		TotalSpaceSaved:     originalSize - finalSize,
	})
	metrics.BytesSaved.Add(float64(originalSize - finalSize))
	cleanupScratch(logger, scratchInput, scratchOutput)
	return "finished"
}

func (w *Worker) failErrored(ctx context.Context, f *store.File, summary, detail string) {
	msg := "FFmpeg encoding failed"
	if summary != "" {
		msg = summary
	}
	completedAt := rfc3339Now()
	if _, err := w.store.TransitionStatus(context.WithoutCancel(ctx), f.ID, store.StatusErrored, store.FileTransitionFields{ErrorMessage: &msg, CompletedAt: &completedAt}); err != nil {
		log.WithComponent("encoder").Error().Err(err).Int64("file_id", f.ID).Msg("failed to transition file to errored")
	}
	_ = w.store.AppendEncodingLog(context.WithoutCancel(ctx), f.ID, "errored", summary+": "+detail)
	w.addStats(context.WithoutCancel(ctx), store.StatsCounters{TotalFilesProcessed: 1, FilesErrored: 1})
}

func (w *Worker) addStats(ctx context.Context, delta store.StatsCounters) {
	now := time.Now().UTC()
	if err := w.store.AddDailyCounters(ctx, now, delta); err != nil {
		log.WithComponent("encoder").Error().Err(err).Msg("failed to add daily stats counters")
	}
	if err := w.store.AddHourlyCounters(ctx, now, delta); err != nil {
		log.WithComponent("encoder").Error().Err(err).Msg("failed to add hourly stats counters")
	}
}

// runResult carries one ffmpeg attempt's outcome.
type runResult struct {
	err       error
	cancelled bool
	tail      []string
}

// runFFmpeg starts the transcoder process, parses its stderr for progress,
// and waits for completion or cancellation of ctx. On cancellation it
// terminates the process group gracefully via procexec.
func (w *Worker) runFFmpeg(ctx context.Context, args []string, fileID int64, totalSeconds float64) runResult {
	cmd := exec.Command(w.ffmpegBin, args...)
	procexec.Set(cmd)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return runResult{err: apperr.Wrap(apperr.EncodeFailed, "create stderr pipe", err)}
	}

	if err := cmd.Start(); err != nil {
		return runResult{err: apperr.Wrap(apperr.EncodeFailed, "start ffmpeg process", err)}
	}
	w.setActiveCmd(cmd)
	defer w.clearActiveCmd()

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	tail := newTailBuffer(tailLinesKept)
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		scanner := bufio.NewScanner(stderr)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Text()
			tail.add(line)
			if st := parseStats(line); st != nil {
				pct := progressPercent(st.Time, totalSeconds)
				w.publish(ctx, bus.TopicEncodingProgress, EncodingProgress{FileID: fileID, Percent: pct, State: "running", CorrelationID: log.JobIDFromContext(ctx)})
			}
		}
	}()

	select {
	case <-ctx.Done():
		_ = procexec.Terminate(cmd, waitCh, TerminateGrace)
		<-progressDone
		return runResult{cancelled: true, tail: tail.lines()}
	case err := <-waitCh:
		<-progressDone
		if err != nil {
			return runResult{err: apperr.Wrap(apperr.EncodeFailed, "ffmpeg exited with error", err), tail: tail.lines()}
		}
		return runResult{tail: tail.lines()}
	}
}

// safeReplace performs the §4.5 safe-replace sequence: durably write the
// scratch output to a temp file beside the original, delete the original,
// then atomically rename the temp file into place. Returns the final
// file's size.
func safeReplace(originalPath, scratchOutput string) (int64, error) {
	dir := filepath.Dir(originalPath)
	stem := strings.TrimSuffix(filepath.Base(originalPath), filepath.Ext(originalPath))
	tempPath := filepath.Join(dir, stem+".temp.mkv")
	finalPath := filepath.Join(dir, stem+".mkv")

	size, err := writeTempDurably(tempPath, scratchOutput)
	if err != nil {
		return 0, apperr.Wrap(apperr.IO, "write scratch output to temp file", err)
	}

	if err := applyTargetOwnership(tempPath); err != nil {
		_ = os.Remove(tempPath)
		return 0, apperr.Wrap(apperr.IO, "set target ownership on temp file", err)
	}

	if err := os.Remove(originalPath); err != nil && !os.IsNotExist(err) {
		_ = os.Remove(tempPath)
		return 0, apperr.Wrap(apperr.IO, "delete original file", err)
	}

	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return 0, apperr.Wrap(apperr.IO, "rename temp file to final path", err)
	}

	return size, nil
}

func writeTempDurably(tempPath, srcPath string) (int64, error) {
	pending, err := renameio.NewPendingFile(tempPath)
	if err != nil {
		return 0, err
	}
	defer func() { _ = pending.Cleanup() }()

	src, err := os.Open(srcPath)
	if err != nil {
		return 0, err
	}
	defer func() { _ = src.Close() }()

	n, err := io.Copy(pending, src)
	if err != nil {
		return 0, err
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return 0, err
	}
	return n, nil
}

// applyTargetOwnership sets the replaced file's owner to the documented
// target identity, configured via environment rather than hardcoded.
// Values of -1 (the default) leave ownership unchanged.
func applyTargetOwnership(path string) error {
	uid := config.ParseInt("TRANSCODE_OUTPUT_UID", -1)
	gid := config.ParseInt("TRANSCODE_OUTPUT_GID", -1)
	if uid < 0 && gid < 0 {
		return nil
	}
	return os.Chown(path, uid, gid)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	_, err = io.Copy(out, in)
	return err
}

func cleanupScratch(logger zeroLogger, paths ...string) {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			logger.Warn().Str("path", p).Err(err).Msg("failed to clean up scratch file")
		}
	}
}

// tailBuffer keeps the last n lines of diagnostic output for error reporting.
type tailBuffer struct {
	n   int
	lns []string
}

func newTailBuffer(n int) *tailBuffer { return &tailBuffer{n: n} }

func (t *tailBuffer) add(line string) {
	t.lns = append(t.lns, line)
	if len(t.lns) > t.n {
		t.lns = t.lns[len(t.lns)-t.n:]
	}
}

func (t *tailBuffer) lines() []string { return t.lns }
