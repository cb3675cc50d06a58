// Package procexec manages the lifecycle of the external transcoder
// subprocess: starting it in its own process group and terminating it
// gracefully (SIGTERM, then SIGKILL after a grace period). The probe runs
// its subprocess with exec.CommandContext directly, not through this package.
package procexec

import (
	"errors"
	"os/exec"
	"time"

	"github.com/theodorecharles/compressor/internal/metrics"
)

var (
	ErrProcessNotFound = errors.New("process not found")
	ErrKillFailed      = errors.New("kill operation failed")
)

// Set configures cmd to start in its own process group, so KillGroup can
// reap the whole tree (ffmpeg spawns helper processes on some platforms).
func Set(cmd *exec.Cmd) {
	set(cmd)
}

// KillGroup terminates the process group rooted at pid: SIGTERM, wait up to
// grace, then SIGKILL, waiting up to timeout for final exit.
func KillGroup(pid int, grace, timeout time.Duration) error {
	return killGroup(pid, grace, timeout)
}

// Terminate gracefully stops cmd's process group: SIGTERM, then wait for
// exit on waitCh (fed by a concurrent cmd.Wait()), then SIGKILL after grace
// if it hasn't exited. It consumes and returns waitCh's error, and is safe
// to call on a nil or not-yet-started cmd.
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid

	if err := signalTerm(pid); err == nil {
		metrics.ProcTerminateTotal.WithLabelValues("sigterm_sent").Inc()
	} else {
		metrics.ProcTerminateTotal.WithLabelValues("sigterm_error").Inc()
	}

	select {
	case err := <-waitCh:
		return err
	case <-time.After(grace):
		if err := signalKill(pid); err == nil {
			metrics.ProcTerminateTotal.WithLabelValues("sigkill_sent").Inc()
		} else {
			metrics.ProcTerminateTotal.WithLabelValues("sigkill_error").Inc()
		}
		return <-waitCh
	}
}
