package results

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readLines(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestNew_ClearsPassDirectory(t *testing.T) {
	root := t.TempDir()
	stale := filepath.Join(root, "1", FailFile)
	require.NoError(t, os.MkdirAll(filepath.Dir(stale), 0755))
	require.NoError(t, os.WriteFile(stale, []byte("old\n"), 0644))
	keep := filepath.Join(root, "appium.lock")
	require.NoError(t, os.WriteFile(keep, nil, 0644))

	r, err := New(root, 1)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "1"), r.Dir())
	assert.NoFileExists(t, stale)
	assert.FileExists(t, keep, "only the pass directory is cleared")
}

func TestRecord_NameLists(t *testing.T) {
	r, err := New(t.TempDir(), 1)
	require.NoError(t, err)

	require.NoError(t, r.Record("ios/specs/login", true))
	require.NoError(t, r.Record("ios/specs/search", false))
	require.NoError(t, r.Record("ios/specs/cart", false))

	assert.Equal(t, "ios/specs/login\n", readLines(t, filepath.Join(r.Dir(), PassFile)))
	assert.Equal(t, "ios/specs/search\nios/specs/cart\n", readLines(t, filepath.Join(r.Dir(), FailFile)))
	assert.Equal(t, []string{"ios/specs/search", "ios/specs/cart"}, r.Failures())
}

func TestRecord_CopiesLogsOnFailure(t *testing.T) {
	src := t.TempDir()
	serverLog := filepath.Join(src, "appium_tmp_log.txt")
	testLog := filepath.Join(src, "test.log")
	require.NoError(t, os.WriteFile(serverLog, []byte("server output"), 0644))
	require.NoError(t, os.WriteFile(testLog, []byte("1 failure"), 0644))

	r, err := New(t.TempDir(), 2)
	require.NoError(t, err)

	require.NoError(t, r.Record("login", false, serverLog, testLog, filepath.Join(src, "missing.log")))
	require.NoError(t, r.Record("login", true, serverLog, testLog))

	dir := r.LogDir("login", 1)
	assert.Equal(t, "server output", readLines(t, filepath.Join(dir, "appium_tmp_log.txt")))
	assert.Equal(t, "1 failure", readLines(t, filepath.Join(dir, "test.log")))
	assert.NoDirExists(t, r.LogDir("login", 2), "passing runs keep no logs")
}

func TestSummaryAndOutcome(t *testing.T) {
	r, err := New(t.TempDir(), 2)
	require.NoError(t, err)
	require.NoError(t, r.Record("a", false))
	require.NoError(t, r.Record("a", true))
	require.NoError(t, r.Record("b", false))
	require.NoError(t, r.Record("b", false))
	require.NoError(t, r.Record("c", true))

	got := r.Summary()
	require.Len(t, got, 3)
	assert.Equal(t, TestStats{Name: "a", Runs: 2, Passes: 1, Fails: 1}, got[0])
	assert.Equal(t, "flaky", got[0].Outcome())
	assert.Equal(t, "fail", got[1].Outcome())
	assert.Equal(t, "pass", got[2].Outcome())
	assert.Equal(t, "skipped", TestStats{}.Outcome())
	assert.Equal(t, []string{"b"}, r.Failures())
}

func TestReport(t *testing.T) {
	r, err := New(t.TempDir(), 1)
	require.NoError(t, err)
	require.NoError(t, r.Record("login", true))
	require.NoError(t, r.Record("search", false))

	var buf bytes.Buffer
	require.NoError(t, r.Report(&buf))
	out := buf.String()
	assert.Contains(t, out, "Pass 1")
	assert.Contains(t, out, "login")
	assert.Contains(t, out, "search")
	assert.Contains(t, out, "1 passed, 1 failed")
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "ios/specs/login", safeName("ios/specs/login"))
	assert.Equal(t, "etc/passwd", safeName("../../etc/passwd"))
	assert.Equal(t, "abs", safeName("/abs"))
	assert.Equal(t, "_", safeName(""))
}
