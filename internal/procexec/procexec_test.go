package procexec

import (
	"context"
	"os/exec"
	"testing"
	"time"
)

func TestSet_DoesNotPanicOnFreshCommand(t *testing.T) {
	cmd := exec.Command("sleep", "0")
	Set(cmd)
}

func TestKillGroup_NilOrInvalidPidIsNoop(t *testing.T) {
	if err := KillGroup(0, time.Millisecond, time.Millisecond); err != nil {
		t.Fatalf("expected no-op for pid 0, got %v", err)
	}
	if err := KillGroup(-1, time.Millisecond, time.Millisecond); err != nil {
		t.Fatalf("expected no-op for negative pid, got %v", err)
	}
}

func TestKillGroup_TerminatesRunningProcess(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sleep", "30")
	Set(cmd)
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start test subprocess: %v", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	if err := KillGroup(cmd.Process.Pid, 200*time.Millisecond, 2*time.Second); err != nil {
		t.Fatalf("kill group: %v", err)
	}

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("process did not exit after KillGroup")
	}
}

func TestTerminate_NilCommandIsNoop(t *testing.T) {
	if err := Terminate(nil, nil, time.Millisecond); err != nil {
		t.Fatalf("expected nil error for nil command, got %v", err)
	}
}

func TestTerminate_GracefulExitShortCircuitsGrace(t *testing.T) {
	cmd := exec.Command("sleep", "30")
	Set(cmd)
	if err := cmd.Start(); err != nil {
		t.Skipf("cannot start test subprocess: %v", err)
	}

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	go func() {
		time.Sleep(50 * time.Millisecond)
		_ = cmd.Process.Kill()
	}()

	start := time.Now()
	_ = Terminate(cmd, waitCh, 10*time.Second)
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("Terminate should have returned promptly once waitCh fired, took %v", elapsed)
	}
}
