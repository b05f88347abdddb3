// Package twopass drives a flaky-test hunt: every test runs once, then each
// failure is rerun up to a count, stopping at its first pass. A test that
// fails and later passes is flaky; one that never passes is broken.
package twopass

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/steveyegge/flaky/internal/exitcode"
	"github.com/steveyegge/flaky/internal/results"
	"github.com/steveyegge/flaky/internal/telemetry"
)

// CurrentFile records which test is running, one line per run.
const CurrentFile = "current.txt"

// TestLogName is the per-run test output file written beside the results.
const TestLogName = "test.log"

// Supervisor is the server lifecycle the driver needs. *appium.Supervisor
// implements it.
type Supervisor interface {
	Start(ctx context.Context) error
	Stop() error
}

// Options configures a run.
type Options struct {
	OS    string
	Count int

	// Tests are test paths, e.g. "ios/specs/login.rb". The extension is
	// dropped for naming; {name} in Command is the base name.
	Tests []string

	Dir string

	// Command returns the shell command for one test.
	Command func(dir, os, name string) string

	// Root holds current.txt and the per-pass result directories.
	Root string

	// Supervisor is nil when no local server is managed (Sauce Labs).
	Supervisor Supervisor

	// ServerLog is copied alongside test output for failures.
	ServerLog string

	Runner Runner

	// Out receives progress lines and pass reports. Nil discards.
	Out io.Writer

	Logf func(format string, args ...interface{})
}

// Result is the outcome of both passes.
type Result struct {
	First  []results.TestStats
	Second []results.TestStats

	Passed []string // passed on the first run
	Flaky  []string // failed, then passed on a rerun
	Broken []string // never passed
}

// Failed reports whether any test never passed.
func (r *Result) Failed() bool { return len(r.Broken) > 0 }

func (o *Options) validate() error {
	if strings.TrimSpace(o.OS) == "" {
		return exitcode.Usagef("--os is required")
	}
	if o.Count < 1 {
		return exitcode.Usagef("--count must be at least 1, got %d", o.Count)
	}
	if len(o.Tests) == 0 {
		return exitcode.Usagef("no tests given")
	}
	if o.Command == nil || o.Runner == nil || o.Root == "" {
		return exitcode.New(exitcode.ErrInternal, "twopass: Command, Runner and Root are required")
	}
	return nil
}

// TestName drops the extension from a test path.
func TestName(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path))
}

type driver struct {
	opts Options
	out  io.Writer
}

// Run executes both passes.
func Run(ctx context.Context, opts Options) (*Result, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	d := &driver{opts: opts, out: opts.Out}
	if d.out == nil {
		d.out = io.Discard
	}

	if err := os.MkdirAll(opts.Root, 0755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", opts.Root, err)
	}
	if err := os.Remove(filepath.Join(opts.Root, CurrentFile)); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("clearing %s: %w", CurrentFile, err)
	}

	names := make([]string, len(opts.Tests))
	for i, t := range opts.Tests {
		names[i] = TestName(t)
	}

	first, err := d.pass(ctx, 1, names, 1)
	if err != nil {
		return nil, err
	}
	failed := first.Failures()

	second, err := d.pass(ctx, 2, failed, opts.Count)
	if err != nil {
		return nil, err
	}

	res := &Result{First: first.Summary(), Second: second.Summary()}
	retried := make(map[string]bool, len(failed))
	for _, st := range res.Second {
		retried[st.Name] = true
		if st.Passes > 0 {
			res.Flaky = append(res.Flaky, st.Name)
		} else {
			res.Broken = append(res.Broken, st.Name)
		}
	}
	for _, st := range res.First {
		if st.Passes > 0 && !retried[st.Name] {
			res.Passed = append(res.Passed, st.Name)
		}
	}
	return res, nil
}

// pass runs each test up to count times, moving on at its first pass. The
// server is stopped and the report printed when the pass ends.
func (d *driver) pass(ctx context.Context, n int, tests []string, count int) (*results.Recorder, error) {
	rec, err := results.New(d.opts.Root, n)
	if err != nil {
		return nil, err
	}

	runErr := d.runAll(ctx, rec, tests, count)

	if d.opts.Supervisor != nil {
		if err := d.opts.Supervisor.Stop(); err != nil {
			d.logf("pass %d: stopping server: %v", n, err)
		}
	}
	if runErr != nil {
		return nil, runErr
	}
	if err := rec.Report(d.out); err != nil {
		return nil, err
	}
	return rec, nil
}

func (d *driver) runAll(ctx context.Context, rec *results.Recorder, tests []string, count int) error {
	for _, test := range tests {
		for run := 1; run <= count; run++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			passed, err := d.runOne(ctx, rec, test, run)
			if err != nil {
				return err
			}
			if passed {
				break
			}
		}
	}
	return nil
}

func (d *driver) runOne(ctx context.Context, rec *results.Recorder, test string, run int) (bool, error) {
	line := fmt.Sprintf("Running: %s on %s", test, d.opts.OS)
	if err := appendCurrent(d.opts.Root, line); err != nil {
		return false, err
	}
	fmt.Fprintln(d.out, line)

	logDir := filepath.Join(rec.Dir(), "current")
	testLog := filepath.Join(logDir, TestLogName)

	passed := false
	var startErr error
	if d.opts.Supervisor != nil {
		startErr = d.opts.Supervisor.Start(ctx)
	}
	if startErr != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		if abortsRun(startErr) {
			return false, startErr
		}
		d.logf("%s: server did not start: %v", test, startErr)
		if err := os.MkdirAll(logDir, 0755); err == nil {
			_ = os.WriteFile(testLog, []byte(fmt.Sprintf("server did not start: %v\n", startErr)), 0644)
		}
	} else {
		cmd := d.opts.Command(d.opts.Dir, d.opts.OS, filepath.Base(test))
		var err error
		passed, err = d.opts.Runner.Run(ctx, cmd, testLog)
		if err != nil {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			d.logf("%s: %v", test, err)
			passed = false
		}
	}

	telemetry.RecordTestRun(ctx, test, rec.Pass(), passed)
	if err := rec.Record(test, passed, d.opts.ServerLog, testLog); err != nil {
		d.logf("%s: recording result: %v", test, err)
	}
	return passed, nil
}

// abortsRun reports whether a server start error would fail every test the
// same way: another process holds the session, or the setup is wrong.
func abortsRun(err error) bool {
	switch exitcode.Code(err) {
	case exitcode.ErrBusy, exitcode.ErrConfig:
		return true
	}
	return false
}

func (d *driver) logf(format string, args ...interface{}) {
	if d.opts.Logf != nil {
		d.opts.Logf(format, args...)
	}
}

func appendCurrent(root, line string) error {
	f, err := os.OpenFile(filepath.Join(root, CurrentFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", CurrentFile, err)
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", CurrentFile, err)
	}
	return f.Close()
}
