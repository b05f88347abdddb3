//go:build !windows

// Package proc spawns shell commands in their own process group and exposes
// their stdio as pollable streams.
package proc

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
)

// Shell runs spawned commands.
var Shell = "/bin/sh"

// SpawnOptions configures Spawn.
type SpawnOptions struct {
	// Command is passed to Shell -c.
	Command string

	// Dir is the working directory. Empty means the current directory.
	Dir string

	// Env replaces the environment when non-nil.
	Env []string

	// MergeStderr sends the child's stderr down the stdout pipe. Err() then
	// returns a stream that is already at end-of-stream.
	MergeStderr bool
}

// Handle owns a spawned child process and the parent ends of its pipes.
type Handle struct {
	cmd *exec.Cmd
	out *Stream
	err *Stream

	mu  sync.Mutex
	pid int

	waitOnce sync.Once
	waitErr  error
}

// Spawn starts opts.Command under the shell. Stdin is closed immediately:
// nothing is ever written to the child.
func Spawn(opts SpawnOptions) (*Handle, error) {
	if opts.Command == "" {
		return nil, errors.New("spawn: empty command")
	}

	cmd := exec.Command(Shell, "-c", opts.Command) //nolint:gosec // G204: command comes from local config
	cmd.Dir = opts.Dir
	cmd.Env = opts.Env
	cmd.SysProcAttr = sysProcAttr()

	var toClose []*os.File
	cleanup := func() {
		for _, f := range toClose {
			_ = f.Close()
		}
	}

	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("spawn: stdin pipe: %w", err)
	}
	toClose = append(toClose, inR, inW)
	cmd.Stdin = inR

	out, outW, err := pipe("stdout")
	if err != nil {
		cleanup()
		return nil, fmt.Errorf("spawn: stdout pipe: %w", err)
	}
	toClose = append(toClose, outW)
	cmd.Stdout = outW

	var errStream *Stream
	if opts.MergeStderr {
		cmd.Stderr = outW
		errStream = closedStream("stderr")
	} else {
		var errW *os.File
		errStream, errW, err = pipe("stderr")
		if err != nil {
			cleanup()
			_ = out.Close()
			return nil, fmt.Errorf("spawn: stderr pipe: %w", err)
		}
		toClose = append(toClose, errW)
		cmd.Stderr = errW
	}

	if err := cmd.Start(); err != nil {
		cleanup()
		_ = out.Close()
		_ = errStream.Close()
		return nil, fmt.Errorf("spawn %q: %w", opts.Command, err)
	}

	// The child holds its own copies now. Closing ours lets the read ends
	// see EOF when the child exits, and closes the child's stdin.
	cleanup()

	return &Handle{
		cmd: cmd,
		out: out,
		err: errStream,
		pid: cmd.Process.Pid,
	}, nil
}

// PID returns the child's process id, or 0 once terminated.
func (h *Handle) PID() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pid
}

// Out returns the child's stdout stream.
func (h *Handle) Out() *Stream { return h.out }

// Err returns the child's stderr stream.
func (h *Handle) Err() *Stream { return h.err }

// Kill sends SIGKILL to the child's process group without reaping it.
// Killing a process that already exited is not an error.
func (h *Handle) Kill() error {
	h.mu.Lock()
	pid := h.pid
	h.mu.Unlock()
	if pid == 0 {
		return nil
	}
	if err := killGroup(pid); err != nil {
		return fmt.Errorf("kill %d: %w", pid, err)
	}
	return nil
}

// Wait blocks until the child exits and returns its exit code. A child
// killed by a signal reports -1.
func (h *Handle) Wait() (int, error) {
	h.waitOnce.Do(func() {
		h.waitErr = h.cmd.Wait()
	})
	if h.waitErr == nil {
		return 0, nil
	}
	var ee *exec.ExitError
	if errors.As(h.waitErr, &ee) {
		return ee.ExitCode(), nil
	}
	return -1, h.waitErr
}

// Terminate kills the process group, reaps the child, and closes any stream
// still open. Calling it again is a no-op.
func (h *Handle) Terminate() error {
	h.mu.Lock()
	pid := h.pid
	h.mu.Unlock()
	if pid == 0 {
		return nil
	}

	killErr := h.Kill()
	_, waitErr := h.Wait()

	h.mu.Lock()
	h.pid = 0
	h.mu.Unlock()

	_ = h.out.Close()
	_ = h.err.Close()

	if killErr != nil {
		return killErr
	}
	return waitErr
}
