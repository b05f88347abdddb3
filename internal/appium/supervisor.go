//go:build !windows

// Package appium supervises the Appium server process: launch, readiness
// detection from its output, bounded relaunch on timeout, and teardown of
// the whole process tree.
package appium

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/steveyegge/flaky/internal/cleanup"
	"github.com/steveyegge/flaky/internal/exitcode"
	"github.com/steveyegge/flaky/internal/logbuf"
	"github.com/steveyegge/flaky/internal/proc"
	"github.com/steveyegge/flaky/internal/telemetry"
	"github.com/steveyegge/flaky/internal/util"
)

// ReadySentinel appears in the server's output once it accepts commands.
const ReadySentinel = "Appium REST http interface listener started"

const (
	DefaultReadyTimeout   = 60 * time.Second
	DefaultPollInterval   = 500 * time.Millisecond
	DefaultMaxAttempts    = 5
	DefaultDrainTimeout   = 5 * time.Second
	DefaultRuntimeProcess = "node"
)

// DefaultAuxProcesses are iOS tooling processes swept on stop.
var DefaultAuxProcesses = []string{"instruments"}

var (
	// ErrReadyTimeout means one launch attempt never printed ReadySentinel.
	ErrReadyTimeout = errors.New("server did not become ready")

	// ErrLaunchExhausted means every launch attempt failed.
	ErrLaunchExhausted = errors.New("server launch attempts exhausted")
)

// DefaultLogPath is the fixed location of the server output log.
func DefaultLogPath() string {
	return filepath.Join(os.TempDir(), "flaky", "appium_tmp_log.txt")
}

// Cleaner kills processes by name. *cleanup.Killer implements it.
type Cleaner interface {
	KillAll(ctx context.Context, name string) error
}

// Options configures a Supervisor. Zero values take the defaults above.
type Options struct {
	// Command is the shell command that runs the server.
	Command string
	Dir     string
	Env     []string

	Mode Mode

	// LogPath receives all server output; truncated on every launch.
	LogPath string

	// LockPath, when set, is flocked for the lifetime of the supervisor so
	// two sessions never share a log file.
	LockPath string

	ReadyTimeout time.Duration
	PollInterval time.Duration
	MaxAttempts  int
	DrainTimeout time.Duration

	// RuntimeProcess is the server's worker process name, swept before each
	// launch and on stop.
	RuntimeProcess string

	// AuxProcesses are swept on stop unless Mode is ModeAndroid. Nil means
	// DefaultAuxProcesses; an empty non-nil slice disables the sweep.
	AuxProcesses []string

	Cleaner Cleaner

	// Logf receives lifecycle messages. Nil is silent.
	Logf func(format string, args ...interface{})
}

// Supervisor owns at most one server session at a time. Start and Stop may
// be called repeatedly; they must not be called concurrently with each
// other.
type Supervisor struct {
	opts Options

	mu    sync.Mutex
	state State
	sess  *session
	lock  *flock.Flock
}

// New returns a stopped supervisor.
func New(opts Options) *Supervisor {
	if opts.LogPath == "" {
		opts.LogPath = DefaultLogPath()
	}
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = DefaultReadyTimeout
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	if opts.RuntimeProcess == "" {
		opts.RuntimeProcess = DefaultRuntimeProcess
	}
	if opts.AuxProcesses == nil {
		opts.AuxProcesses = DefaultAuxProcesses
	}
	if opts.Cleaner == nil {
		opts.Cleaner = &cleanup.Killer{Logf: opts.Logf}
	}
	return &Supervisor{opts: opts}
}

func (s *Supervisor) logf(format string, args ...interface{}) {
	if s.opts.Logf != nil {
		s.opts.Logf(format, args...)
	}
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Ready reports whether the current session has printed ReadySentinel.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	return sess != nil && sess.ready.Load()
}

// PID returns the server's process id, or 0 when stopped.
func (s *Supervisor) PID() int {
	s.mu.Lock()
	sess := s.sess
	s.mu.Unlock()
	if sess == nil {
		return 0
	}
	return sess.handle.PID()
}

// SessionID identifies the current launch, or "" when stopped.
func (s *Supervisor) SessionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sess == nil {
		return ""
	}
	return s.sess.id
}

// LogPath returns the server log file path.
func (s *Supervisor) LogPath() string { return s.opts.LogPath }

// Mode returns the configured platform mode.
func (s *Supervisor) Mode() Mode { return s.opts.Mode }

func (s *Supervisor) acquireLock() error {
	if s.opts.LockPath == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lock != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.opts.LockPath), 0755); err != nil {
		return fmt.Errorf("creating lock directory: %w", err)
	}
	lock := flock.New(s.opts.LockPath)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquiring session lock: %w", err)
	}
	if !locked {
		return exitcode.Busy("appium session lock " + s.opts.LockPath)
	}
	s.lock = lock
	return nil
}

// Start stops any previous session and launches the server until it reports
// ready. Each attempt waits up to ReadyTimeout; a timed-out attempt is torn
// down and relaunched, up to MaxAttempts. Exhaustion returns an error
// wrapping both ErrLaunchExhausted and the last attempt's error.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.opts.Command == "" {
		return exitcode.Config("appium: no server command configured")
	}
	if err := s.acquireLock(); err != nil {
		return err
	}
	if err := s.Stop(); err != nil {
		s.logf("stopping previous session: %v", err)
	}

	_, err := util.Retry(ctx, util.RetryConfig{
		MaxAttempts: s.opts.MaxAttempts,
		Delay:       -1,
		IsRetryable: func(err error) bool {
			return errors.Is(err, ErrReadyTimeout) || exitcode.Is(err, exitcode.ErrSpawn)
		},
	}, func(attempt int) (struct{}, error) {
		err := s.launch(ctx, attempt)
		if err != nil {
			if stopErr := s.Stop(); stopErr != nil {
				s.logf("teardown after failed launch: %v", stopErr)
			}
		}
		return struct{}{}, err
	})
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(err, ErrReadyTimeout) || exitcode.Is(err, exitcode.ErrSpawn) {
		return exitcode.Wrap(exitcode.ErrTimeout, "appium",
			fmt.Errorf("%w after %d attempts: %w", ErrLaunchExhausted, s.opts.MaxAttempts, err))
	}
	return err
}

// launch runs one attempt: reset the log, sweep competing servers, spawn,
// start the reader, and poll the readiness flag.
func (s *Supervisor) launch(ctx context.Context, attempt int) error {
	buf := logbuf.New(s.opts.LogPath)
	if err := buf.Reset(); err != nil {
		return util.MarkPermanent(err)
	}

	if err := s.opts.Cleaner.KillAll(ctx, s.opts.RuntimeProcess); err != nil {
		s.logf("pre-launch cleanup: %v", err)
	}

	s.setState(StateLaunching)
	h, err := proc.Spawn(proc.SpawnOptions{
		Command: s.opts.Command,
		Dir:     s.opts.Dir,
		Env:     s.opts.Env,
	})
	if err != nil {
		return exitcode.Wrap(exitcode.ErrSpawn, "spawning appium", err)
	}

	sess := newSession(h, buf, s.logf)
	s.mu.Lock()
	s.sess = sess
	s.mu.Unlock()
	go sess.run(s.logf)

	telemetry.RecordLaunch(ctx, s.opts.Mode.String(), attempt)
	s.logf("launch %d/%d: session %s pid %d (%s)", attempt, s.opts.MaxAttempts, sess.short(), h.PID(), s.opts.Mode)

	deadline := time.NewTimer(s.opts.ReadyTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()

	for {
		if sess.ready.Load() {
			elapsed := time.Since(sess.started)
			s.setState(StateReady)
			telemetry.RecordReady(ctx, s.opts.Mode.String(), elapsed)
			s.logf("session %s ready after %v, %d bytes logged", sess.short(), elapsed.Round(time.Millisecond), buf.Len())
			return nil
		}
		select {
		case <-ctx.Done():
			return util.MarkPermanent(ctx.Err())
		case <-deadline.C:
			telemetry.RecordReadyTimeout(ctx, s.opts.Mode.String())
			s.logf("session %s not ready after %v", sess.short(), s.opts.ReadyTimeout)
			return fmt.Errorf("attempt %d: %w after %v", attempt, ErrReadyTimeout, s.opts.ReadyTimeout)
		case <-ticker.C:
		}
	}
}

// Stop kills the server process tree, joins the reader, and sweeps the
// runtime and (on iOS) tooling processes. Stopping a stopped supervisor
// repeats the sweeps harmlessly. A supervisor configured with a LockPath
// that it does not hold never sweeps: the processes belong to the holder.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	sess := s.sess
	s.sess = nil
	s.state = StateTerminating
	held := s.opts.LockPath == "" || s.lock != nil
	s.mu.Unlock()

	var err error
	if sess != nil {
		err = sess.shutdown(s.opts.DrainTimeout, s.logf)
	}
	if !held {
		s.setState(StateStopped)
		return err
	}

	ctx := context.Background()
	if kerr := s.opts.Cleaner.KillAll(ctx, s.opts.RuntimeProcess); kerr != nil {
		s.logf("stop cleanup: %v", kerr)
	}
	if s.opts.Mode != ModeAndroid {
		for _, name := range s.opts.AuxProcesses {
			if kerr := s.opts.Cleaner.KillAll(ctx, name); kerr != nil {
				s.logf("stop cleanup: %v", kerr)
			}
		}
	}

	s.setState(StateStopped)
	return err
}

// Close stops the session and releases the session lock.
func (s *Supervisor) Close() error {
	err := s.Stop()
	s.mu.Lock()
	lock := s.lock
	s.lock = nil
	s.mu.Unlock()
	if lock != nil {
		if uerr := lock.Unlock(); uerr != nil && err == nil {
			err = fmt.Errorf("releasing session lock: %w", uerr)
		}
	}
	return err
}
