package twopass

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steveyegge/flaky/internal/exitcode"
	"github.com/steveyegge/flaky/internal/results"
)

type fakeSupervisor struct {
	mu      sync.Mutex
	starts  int
	stops   int
	failing bool
	err     error // returned by Start when set
}

func (f *fakeSupervisor) Start(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	if f.err != nil {
		return f.err
	}
	if f.failing {
		return errors.New("server launch attempts exhausted")
	}
	return nil
}

func (f *fakeSupervisor) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

// scriptedRunner passes or fails each test according to a per-name script
// of outcomes; once the script runs out the last outcome repeats.
type scriptedRunner struct {
	mu       sync.Mutex
	script   map[string][]bool
	commands []string
}

func (r *scriptedRunner) Run(_ context.Context, command, logPath string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commands = append(r.commands, command)
	name := command[strings.LastIndex(command, " ")+1:]
	outcomes := r.script[name]
	passed := true
	if len(outcomes) > 0 {
		passed = outcomes[0]
		if len(outcomes) > 1 {
			r.script[name] = outcomes[1:]
		}
	}
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return false, err
	}
	return passed, os.WriteFile(logPath, []byte("ran "+name+"\n"), 0644)
}

func baseOptions(t *testing.T, runner Runner) Options {
	return Options{
		OS:      "ios",
		Count:   3,
		Tests:   []string{"ios/specs/login.rb", "ios/specs/search.rb", "ios/specs/cart.rb"},
		Dir:     "/src/app",
		Command: func(dir, os, name string) string { return "run " + os + " " + name },
		Root:    t.TempDir(),
		Runner:  runner,
		Logf:    t.Logf,
	}
}

func TestRun_ClassifiesTests(t *testing.T) {
	runner := &scriptedRunner{script: map[string][]bool{
		"search": {false, false, true},
		"cart":   {false},
	}}
	sup := &fakeSupervisor{}
	opts := baseOptions(t, runner)
	opts.Supervisor = sup

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)

	assert.Equal(t, []string{"ios/specs/login"}, res.Passed)
	assert.Equal(t, []string{"ios/specs/search"}, res.Flaky)
	assert.Equal(t, []string{"ios/specs/cart"}, res.Broken)
	assert.True(t, res.Failed())

	// Pass 1: 3 runs. Pass 2: search passes on its second rerun, cart uses all 3.
	assert.Len(t, runner.commands, 3+2+3)
	assert.Equal(t, 8, sup.starts, "server restarted before every run")
	assert.Equal(t, 2, sup.stops, "server stopped after each pass")

	require.Len(t, res.Second, 2)
	assert.Equal(t, results.TestStats{Name: "ios/specs/search", Runs: 2, Passes: 1, Fails: 1}, res.Second[0])
	assert.Equal(t, results.TestStats{Name: "ios/specs/cart", Runs: 3, Passes: 0, Fails: 3}, res.Second[1])
}

func TestRun_CurrentFileAndResultDirs(t *testing.T) {
	runner := &scriptedRunner{script: map[string][]bool{"search": {false, true}}}
	opts := baseOptions(t, runner)
	opts.Tests = []string{"ios/specs/login.rb", "ios/specs/search.rb"}
	require.NoError(t, os.WriteFile(filepath.Join(opts.Root, CurrentFile), []byte("stale\n"), 0644))

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(opts.Root, CurrentFile))
	require.NoError(t, err)
	assert.Equal(t, "Running: ios/specs/login on ios\nRunning: ios/specs/search on ios\nRunning: ios/specs/search on ios\n", string(data))

	fails, err := os.ReadFile(filepath.Join(opts.Root, "1", results.FailFile))
	require.NoError(t, err)
	assert.Equal(t, "ios/specs/search\n", string(fails))

	passes, err := os.ReadFile(filepath.Join(opts.Root, "2", results.PassFile))
	require.NoError(t, err)
	assert.Equal(t, "ios/specs/search\n", string(passes))

	copied, err := os.ReadFile(filepath.Join(opts.Root, "1", results.LogsDir, "ios/specs/search", "1", TestLogName))
	require.NoError(t, err)
	assert.Equal(t, "ran search\n", string(copied))
}

func TestRun_CommandUsesBaseName(t *testing.T) {
	runner := &scriptedRunner{}
	opts := baseOptions(t, runner)
	opts.Tests = []string{"android/specs/nested/login.rb"}
	opts.OS = "android"

	_, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, []string{"run android login"}, runner.commands)
}

func TestRun_WithoutSupervisor(t *testing.T) {
	runner := &scriptedRunner{}
	opts := baseOptions(t, runner)
	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Len(t, res.Passed, 3)
	assert.False(t, res.Failed())
}

func TestRun_ServerStartFailureIsTestFailure(t *testing.T) {
	runner := &scriptedRunner{}
	opts := baseOptions(t, runner)
	opts.Tests = []string{"ios/specs/login.rb"}
	opts.Count = 2
	opts.Supervisor = &fakeSupervisor{failing: true}

	res, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Empty(t, runner.commands, "no test runs without a server")
	assert.Equal(t, []string{"ios/specs/login"}, res.Broken)

	log, err := os.ReadFile(filepath.Join(opts.Root, "1", results.LogsDir, "ios/specs/login", "1", TestLogName))
	require.NoError(t, err)
	assert.Contains(t, string(log), "server did not start")
}

func TestRun_ServerBusyAbortsRun(t *testing.T) {
	for _, startErr := range []error{
		exitcode.Busy("appium session lock /tmp/flaky/appium.lock"),
		exitcode.Config("appium: no server command configured"),
	} {
		runner := &scriptedRunner{}
		sup := &fakeSupervisor{err: startErr}
		opts := baseOptions(t, runner)
		opts.Supervisor = sup

		res, err := Run(context.Background(), opts)
		require.Error(t, err)
		assert.Nil(t, res)
		assert.Equal(t, exitcode.Code(startErr), exitcode.Code(err))
		assert.Equal(t, 1, sup.starts, "no further tests after the first start fails")
		assert.Empty(t, runner.commands)

		data, rerr := os.ReadFile(filepath.Join(opts.Root, "1", results.FailFile))
		if rerr == nil {
			assert.Empty(t, strings.TrimSpace(string(data)), "aborted runs are not recorded as failures")
		}
	}
}

func TestRun_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"missing os", func(o *Options) { o.OS = " " }},
		{"zero count", func(o *Options) { o.Count = 0 }},
		{"no tests", func(o *Options) { o.Tests = nil }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := baseOptions(t, &scriptedRunner{})
			tt.mutate(&opts)
			_, err := Run(context.Background(), opts)
			require.Error(t, err)
			assert.Equal(t, exitcode.ErrUsage, exitcode.Code(err))
		})
	}
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sup := &fakeSupervisor{}
	opts := baseOptions(t, &scriptedRunner{})
	opts.Supervisor = sup

	_, err := Run(ctx, opts)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, sup.stops, "server is stopped even when the pass is cut short")
}

func TestTestName(t *testing.T) {
	assert.Equal(t, "ios/specs/login", TestName("ios/specs/login.rb"))
	assert.Equal(t, "login", TestName("login"))
}
