//go:build !windows

// Package cleanup force-kills stray processes by name before and after a
// server session.
package cleanup

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/steveyegge/flaky/internal/proc"
	"github.com/steveyegge/flaky/internal/telemetry"
	"github.com/steveyegge/flaky/internal/util"
)

const (
	// DefaultCommand is the OS process-kill utility.
	DefaultCommand = "killall"

	// DefaultRetryDelay is the wait before the single retry of a spawn that
	// failed with resource exhaustion.
	DefaultRetryDelay = time.Second
)

// DefaultArgs are passed to DefaultCommand ahead of the process name.
var DefaultArgs = []string{"-9"}

// Killer runs the kill utility. The zero value uses `killall -9`.
type Killer struct {
	Command    string
	Args       []string
	RetryDelay time.Duration

	// Logf receives diagnostics. Nil is silent.
	Logf func(format string, args ...interface{})

	// spawn is replaced in tests to simulate fork failures.
	spawn func(proc.SpawnOptions) (*proc.Handle, error)
}

func (k *Killer) logf(format string, args ...interface{}) {
	if k != nil && k.Logf != nil {
		k.Logf(format, args...)
	}
}

func (k *Killer) commandLine(name string) string {
	command := DefaultCommand
	args := DefaultArgs
	if k != nil && k.Command != "" {
		command = k.Command
	}
	if k != nil && k.Args != nil {
		args = k.Args
	}
	argv := append([]string{command}, args...)
	return proc.QuoteArgs(append(argv, name)...)
}

// KillAll force-kills every process named name. It is best-effort: finding
// nothing to kill is not an error. A spawn failing with EAGAIN is retried
// once after RetryDelay. The kill command itself is always reaped.
// A nil Killer behaves like the zero value.
func (k *Killer) KillAll(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}
	spawn := proc.Spawn
	delay := DefaultRetryDelay
	if k != nil {
		if k.spawn != nil {
			spawn = k.spawn
		}
		if k.RetryDelay != 0 {
			delay = k.RetryDelay
		}
	}
	line := k.commandLine(name)

	h, err := util.Retry(ctx, util.RetryConfig{
		MaxAttempts: 2,
		Delay:       delay,
		IsRetryable: util.IsResourceExhausted,
	}, func(attempt int) (*proc.Handle, error) {
		h, err := spawn(proc.SpawnOptions{Command: line, MergeStderr: true})
		if err != nil && attempt == 1 && util.IsResourceExhausted(err) {
			k.logf("kill %s: %v, retrying in %v", name, err, delay)
		}
		return h, err
	})
	if err != nil {
		telemetry.RecordKill(ctx, name, err)
		return fmt.Errorf("kill %s: %w", name, err)
	}
	defer func() { _ = h.Terminate() }()

	_, _ = io.Copy(io.Discard, h.Out())
	_, _ = io.Copy(io.Discard, h.Err())
	code, werr := h.Wait()
	if werr != nil {
		k.logf("kill %s: wait: %v", name, werr)
	} else if code != 0 {
		// killall exits 1 when nothing matched.
		k.logf("kill %s: no matching processes (exit %d)", name, code)
	}
	telemetry.RecordKill(ctx, name, nil)
	return nil
}

// KillAllNames sweeps each name in order, logging failures and continuing.
func (k *Killer) KillAllNames(ctx context.Context, names ...string) {
	for _, name := range names {
		if err := k.KillAll(ctx, name); err != nil {
			k.logf("cleanup: %v", err)
		}
	}
}
