// Package subproc runs engine helper processes in their own process group
// so a timeout or cancellation kills the whole tree (python workers, CUDA
// children) rather than just the direct child.
package subproc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"
)

// ErrTimedOut is returned when the process outlived its timeout.
var ErrTimedOut = errors.New("subprocess timed out")

// stderrTail bounds how much stderr is quoted in errors.
const stderrTail = 512

// Run starts cmd, waits for it and returns its stdout. The process group is
// killed when timeout elapses (if positive) or ctx is cancelled.
func Run(ctx context.Context, cmd *exec.Cmd, timeout time.Duration) ([]byte, error) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start subprocess: %w", err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}

	select {
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("subprocess failed: %w%s", err, quoteStderr(stderr.Bytes()))
		}
		return stdout.Bytes(), nil
	case <-timer:
		kill(cmd)
		<-done
		return nil, fmt.Errorf("%w after %s", ErrTimedOut, timeout)
	case <-ctx.Done():
		kill(cmd)
		<-done
		return nil, ctx.Err()
	}
}

func kill(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
}

func quoteStderr(b []byte) string {
	s := strings.TrimSpace(string(b))
	if s == "" {
		return ""
	}
	if len(s) > stderrTail {
		s = "..." + s[len(s)-stderrTail:]
	}
	return ": " + s
}
