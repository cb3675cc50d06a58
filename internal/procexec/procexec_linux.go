//go:build linux

package procexec

import (
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/theodorecharles/compressor/internal/log"
)

func set(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func signalTerm(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

func signalKill(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

func killGroup(pid int, grace, timeout time.Duration) error {
	if pid <= 0 {
		return nil
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return nil
	}

	logger := log.WithComponent("procexec")
	logger.Debug().Int("pid", pid).Msg("sending SIGTERM to process group")
	if err := signalTerm(pid); err != nil && err != syscall.ESRCH {
		_ = proc.Signal(syscall.SIGTERM)
	}

	done := make(chan struct{})
	go func() {
		_, _ = proc.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(grace):
	}

	logger.Warn().Int("pid", pid).Msg("SIGTERM grace period exceeded, sending SIGKILL to process group")
	if err := signalKill(pid); err != nil && err != syscall.ESRCH {
		_ = proc.Kill()
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return ErrKillFailed
	}
}
