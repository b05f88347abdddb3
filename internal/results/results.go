// Package results records the outcome of each test run in one pass: the
// pass.txt and fail.txt name lists, copied logs for failures, and per-test
// counts for the end-of-pass report.
package results

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/steveyegge/flaky/internal/style"
)

const (
	PassFile = "pass.txt"
	FailFile = "fail.txt"
	LogsDir  = "logs"
)

// TestStats counts the runs of one test within a pass.
type TestStats struct {
	Name   string
	Runs   int
	Passes int
	Fails  int
}

// Outcome classifies a test from its counts.
func (s TestStats) Outcome() string {
	switch {
	case s.Runs == 0:
		return "skipped"
	case s.Fails == 0:
		return "pass"
	case s.Passes == 0:
		return "fail"
	default:
		return "flaky"
	}
}

// Recorder owns <root>/<pass>/. It is safe for concurrent use.
type Recorder struct {
	dir  string
	pass int

	mu    sync.Mutex
	order []string
	stats map[string]*TestStats
}

// New clears and recreates <root>/<pass>/.
func New(root string, pass int) (*Recorder, error) {
	dir := filepath.Join(root, strconv.Itoa(pass))
	if err := os.RemoveAll(dir); err != nil {
		return nil, fmt.Errorf("clearing results %s: %w", dir, err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating results %s: %w", dir, err)
	}
	return &Recorder{dir: dir, pass: pass, stats: make(map[string]*TestStats)}, nil
}

// Dir returns the pass directory.
func (r *Recorder) Dir() string { return r.dir }

// Pass returns the pass number.
func (r *Recorder) Pass() int { return r.pass }

// LogDir is where logs for one run of test are kept.
func (r *Recorder) LogDir(test string, run int) string {
	return filepath.Join(r.dir, LogsDir, safeName(test), strconv.Itoa(run))
}

// Record notes one run of test. On failure the given log files are copied
// into LogDir(test, run); files that don't exist are skipped.
func (r *Recorder) Record(test string, passed bool, logs ...string) error {
	r.mu.Lock()
	st, ok := r.stats[test]
	if !ok {
		st = &TestStats{Name: test}
		r.stats[test] = st
		r.order = append(r.order, test)
	}
	st.Runs++
	run := st.Runs
	if passed {
		st.Passes++
	} else {
		st.Fails++
	}
	r.mu.Unlock()

	list := FailFile
	if passed {
		list = PassFile
	}
	if err := appendLine(filepath.Join(r.dir, list), test); err != nil {
		return err
	}
	if passed {
		return nil
	}

	dst := r.LogDir(test, run)
	var errs []error
	for _, src := range logs {
		if src == "" {
			continue
		}
		if err := copyFile(src, filepath.Join(dst, filepath.Base(src))); err != nil && !errors.Is(err, os.ErrNotExist) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Failures lists tests that never passed in this pass, in first-run order.
func (r *Recorder) Failures() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, name := range r.order {
		if st := r.stats[name]; st.Passes == 0 {
			out = append(out, name)
		}
	}
	return out
}

// Summary returns a snapshot of every test's counts in first-run order.
func (r *Recorder) Summary() []TestStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]TestStats, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, *r.stats[name])
	}
	return out
}

// Report writes the pass summary table to w.
func (r *Recorder) Report(w io.Writer) error {
	summary := r.Summary()
	tbl := style.NewTable(
		style.Column{Name: "Test", Width: 40},
		style.Column{Name: "Runs", Width: 4, Align: style.AlignRight},
		style.Column{Name: "Pass", Width: 4, Align: style.AlignRight},
		style.Column{Name: "Fail", Width: 4, Align: style.AlignRight},
		style.Column{Name: "Result", Width: 7, Style: renderOutcome},
	)
	var passes, fails int
	for _, st := range summary {
		tbl.AddRow(st.Name, strconv.Itoa(st.Runs), strconv.Itoa(st.Passes), strconv.Itoa(st.Fails), st.Outcome())
		if st.Passes > 0 {
			passes++
		} else {
			fails++
		}
	}

	_, err := fmt.Fprintf(w, "%s\n%s  %d passed, %d failed  %s\n",
		style.Bold.Render(fmt.Sprintf("Pass %d", r.pass)),
		tbl.Render(), passes, fails, style.Dim.Render(r.dir))
	return err
}

func renderOutcome(s string) string {
	switch s {
	case "pass":
		return style.Success.Render(s)
	case "flaky":
		return style.Warning.Render(s)
	case "fail":
		return style.Error.Render(s)
	}
	return s
}

// safeName keeps a test name inside the logs directory.
func safeName(test string) string {
	clean := filepath.Clean("/" + test)
	clean = strings.TrimPrefix(clean, "/")
	if clean == "" {
		return "_"
	}
	return clean
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	if _, err := fmt.Fprintln(f, line); err != nil {
		f.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return f.Close()
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copying %s: %w", src, err)
	}
	return out.Close()
}
