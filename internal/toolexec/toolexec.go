// Package toolexec runs a tool's own agent binary on the agent's behalf:
// the one-shot install/uninstall command (§4.5, §4.9), the one-shot
// identity probe (§4.8), and the long-running supervised process (§4.6).
package toolexec

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"time"
)

// RunCapture execs name with args, waiting up to timeout, and returns the
// untrimmed stdout/stderr and exit code. Used for the install/uninstall
// command (no timeout — pass 0) and the identity probe (15 s, §4.8).
func RunCapture(ctx context.Context, timeout time.Duration, name string, args ...string) (stdout string, stderr string, exitCode int, err error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var outBuf, errBuf bytes.Buffer
	cmd.Stdout = &outBuf
	cmd.Stderr = &errBuf

	runErr := cmd.Run()
	stdout = outBuf.String()
	stderr = errBuf.String()

	if ctx.Err() == context.DeadlineExceeded {
		return stdout, stderr, -1, ctx.Err()
	}
	if runErr == nil {
		return stdout, stderr, 0, nil
	}
	if exitErr, ok := runErr.(*exec.ExitError); ok {
		return stdout, stderr, exitErr.ExitCode(), fmt.Errorf("toolexec: %s exited %d", name, exitErr.ExitCode())
	}
	return stdout, stderr, -1, fmt.Errorf("toolexec: run %s: %w", name, runErr)
}

// Supervised is a long-running child process with piped stdout/stderr
// forwarded line-by-line into logger, tagged with toolAgentID (§4.6 step
// 4, the non-Windows-console-session spawn path).
type Supervised struct {
	cmd *exec.Cmd
}

// StartSupervised launches name with args and begins forwarding its
// output. Callers wait on it with Wait.
func StartSupervised(ctx context.Context, logger *slog.Logger, toolAgentID, name string, args ...string) (*Supervised, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("toolexec: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("toolexec: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("toolexec: start %s: %w", name, err)
	}

	go forwardLines(stdout, func(line string) {
		logger.Info("tool output", "tool_agent_id", toolAgentID, "line", line)
	})
	go forwardLines(stderr, func(line string) {
		logger.Warn("tool output", "tool_agent_id", toolAgentID, "line", line)
	})

	return &Supervised{cmd: cmd}, nil
}

// Wait blocks until the process exits and returns its error, if any.
func (s *Supervised) Wait() error {
	return s.cmd.Wait()
}

func forwardLines(r interface {
	Read([]byte) (int, error)
}, emit func(string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(scanner.Text())
	}
}
