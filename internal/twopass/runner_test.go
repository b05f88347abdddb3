//go:build !windows

package twopass

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellRunner_Pass(t *testing.T) {
	var tee bytes.Buffer
	r := &ShellRunner{Output: &tee}
	logPath := filepath.Join(t.TempDir(), "run", TestLogName)

	passed, err := r.Run(context.Background(), `echo started; echo warning >&2; exit 0`, logPath)
	require.NoError(t, err)
	assert.True(t, passed)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "started\nwarning\n", string(data))
	assert.Equal(t, "started\nwarning\n", tee.String())
}

func TestShellRunner_Fail(t *testing.T) {
	r := &ShellRunner{}
	passed, err := r.Run(context.Background(), `echo "1 example, 1 failure"; exit 1`, filepath.Join(t.TempDir(), TestLogName))
	require.NoError(t, err)
	assert.False(t, passed)
}

func TestShellRunner_Dir(t *testing.T) {
	dir := t.TempDir()
	r := &ShellRunner{Dir: dir}
	logPath := filepath.Join(t.TempDir(), TestLogName)
	passed, err := r.Run(context.Background(), `pwd`, logPath)
	require.NoError(t, err)
	assert.True(t, passed)

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	want, _ := filepath.EvalSymlinks(dir)
	got, _ := filepath.EvalSymlinks(string(bytes.TrimSpace(data)))
	assert.Equal(t, want, got)
}

func TestShellRunner_Cancel(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	passed, err := (&ShellRunner{}).Run(ctx, `sleep 30`, filepath.Join(t.TempDir(), TestLogName))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, passed)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestShellRunner_BackgroundChildHoldsOutput(t *testing.T) {
	r := &ShellRunner{DrainTimeout: 300 * time.Millisecond, Logf: t.Logf}
	logPath := filepath.Join(t.TempDir(), TestLogName)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	start := time.Now()
	passed, err := r.Run(ctx, `sleep 20 & echo done; exit 0`, logPath)
	require.NoError(t, err)
	assert.True(t, passed, "the shell exited zero")
	assert.Less(t, time.Since(start), 5*time.Second, "Run must not wait for the background child")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, "done\n", string(data))
}

func TestShellRunner_BackgroundChildFailingShell(t *testing.T) {
	r := &ShellRunner{DrainTimeout: 300 * time.Millisecond}
	passed, err := r.Run(context.Background(), `sleep 20 & exit 3`, filepath.Join(t.TempDir(), TestLogName))
	require.NoError(t, err)
	assert.False(t, passed)
}
