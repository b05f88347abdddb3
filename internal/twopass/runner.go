//go:build !windows

package twopass

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/steveyegge/flaky/internal/exitcode"
	"github.com/steveyegge/flaky/internal/proc"
	"github.com/steveyegge/flaky/internal/stream"
)

// Runner runs one test command, writing its combined output to logPath.
// passed is true when the command exits zero.
type Runner interface {
	Run(ctx context.Context, command, logPath string) (passed bool, err error)
}

// DefaultDrainTimeout bounds how long output is read after the test shell
// exits, for background children that keep the pipe open.
const DefaultDrainTimeout = 5 * time.Second

// ShellRunner runs test commands through proc.Spawn with stderr merged into
// stdout.
type ShellRunner struct {
	Dir string
	Env []string

	// DrainTimeout defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration

	// Output, when set, also receives the test output as it arrives.
	Output io.Writer

	Logf func(format string, args ...interface{})
}

func (r *ShellRunner) Run(ctx context.Context, command, logPath string) (bool, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return false, fmt.Errorf("creating test log directory: %w", err)
	}
	f, err := os.Create(logPath)
	if err != nil {
		return false, fmt.Errorf("creating test log: %w", err)
	}
	defer f.Close()

	h, err := proc.Spawn(proc.SpawnOptions{
		Command:     command,
		Dir:         r.Dir,
		Env:         r.Env,
		MergeStderr: true,
	})
	if err != nil {
		return false, exitcode.Wrap(exitcode.ErrSpawn, "spawning test", err)
	}
	defer func() { _ = h.Terminate() }()

	var sink io.Writer = f
	if r.Output != nil {
		sink = io.MultiWriter(f, r.Output)
	}
	rd := &stream.Reader{Sink: sink, Logf: r.Logf}
	done := make(chan error, 1)
	go func() { done <- rd.Run(h.Out(), h.Err()) }()

	type exit struct {
		code int
		err  error
	}
	exited := make(chan exit, 1)
	go func() {
		code, err := h.Wait()
		exited <- exit{code, err}
	}()

	var res exit
	select {
	case <-ctx.Done():
		_ = h.Kill()
		rd.Wake()
		<-done
		return false, ctx.Err()
	case res = <-exited:
	}

	// The shell is gone; whatever is left in the group only holds the pipe.
	drain := r.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}
	timer := time.NewTimer(drain)
	defer timer.Stop()
	var readErr error
	select {
	case readErr = <-done:
	case <-timer.C:
		r.logf("test output still open %v after exit, killing group", drain)
		_ = h.Kill()
		rd.Wake()
		readErr = <-done
	case <-ctx.Done():
		_ = h.Kill()
		rd.Wake()
		<-done
		return false, ctx.Err()
	}
	if readErr != nil && !errors.Is(readErr, stream.ErrNeverSpawned) {
		return false, fmt.Errorf("reading test output: %w", readErr)
	}

	if res.err != nil {
		return false, fmt.Errorf("waiting for test: %w", res.err)
	}
	return res.code == 0, nil
}

func (r *ShellRunner) logf(format string, args ...interface{}) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}
