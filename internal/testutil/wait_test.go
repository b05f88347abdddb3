//go:build !windows

package testutil

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWaitFor(t *testing.T) {
	start := time.Now()
	n := 0
	if !WaitFor(t, time.Second, func() bool { n++; return n >= 3 }) {
		t.Fatal("WaitFor should succeed once cond holds")
	}
	if WaitFor(t, 50*time.Millisecond, func() bool { return false }) {
		t.Error("WaitFor should fail when cond never holds")
	}
	if time.Since(start) > 2*time.Second {
		t.Error("WaitFor took too long")
	}
}

func TestWaitForExit(t *testing.T) {
	cmd := exec.Command("sleep", "0.1")
	if err := cmd.Start(); err != nil {
		t.Fatal(err)
	}
	go func() { _ = cmd.Wait() }()
	if !WaitForExit(t, cmd.Process.Pid, 5*time.Second) {
		t.Error("process should have exited")
	}
}

func TestFakeServer(t *testing.T) {
	got := FakeServer("it's ready", 1500*time.Millisecond)
	want := `sleep 1.500; echo 'it'\''s ready'; exec sleep 60`
	if got != want {
		t.Errorf("FakeServer = %q, want %q", got, want)
	}
	if got := FakeServer("ready", 0); !strings.HasPrefix(got, "echo ") {
		t.Errorf("zero delay should print immediately: %q", got)
	}
}

func TestLogDiagnosticAndTruncate(t *testing.T) {
	p := filepath.Join(t.TempDir(), "log.txt")
	if err := os.WriteFile(p, []byte("a\nb\nc\n"), 0644); err != nil {
		t.Fatal(err)
	}
	LogDiagnostic(t, p, 2)
	LogDiagnostic(t, filepath.Join(t.TempDir(), "missing"), 2)

	if got := Truncate("one\ntwo", 6); got != `one\nt` {
		t.Errorf("Truncate = %q", got)
	}
}
