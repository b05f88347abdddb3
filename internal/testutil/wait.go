//go:build !windows

// Package testutil holds helpers shared by the process-level tests.
package testutil

import (
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/steveyegge/flaky/internal/proc"
)

// WaitFor polls cond every 20ms until it returns true or timeout passes.
func WaitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

// WaitForExit waits until no process with pid exists.
func WaitForExit(t *testing.T, pid int, timeout time.Duration) bool {
	t.Helper()
	return WaitFor(t, timeout, func() bool { return !proc.Alive(pid) })
}

// FakeServer returns a shell command that prints sentinel after delay and
// then stays up. A zero delay prints immediately.
func FakeServer(sentinel string, delay time.Duration) string {
	cmd := fmt.Sprintf("echo %s; exec sleep 60", proc.Quote(sentinel))
	if delay > 0 {
		cmd = fmt.Sprintf("sleep %.3f; %s", delay.Seconds(), cmd)
	}
	return cmd
}

// LogDiagnostic logs the tail of a log file, for failing process tests.
func LogDiagnostic(t *testing.T, path string, lines int) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Logf("log %s: %v", path, err)
		return
	}
	all := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(all) > lines {
		all = all[len(all)-lines:]
	}
	t.Logf("log %s (last %d lines):\n%s", path, len(all), strings.Join(all, "\n"))
}

// Truncate shortens s to n bytes with newlines escaped, for log lines.
func Truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", "\\n")
	if len(s) > n {
		return s[:n]
	}
	return s
}
