package cmd

import (
	"io"
	"log"
	"os"
	"path/filepath"
)

// openLogger returns the lifecycle logger for long-running commands. With
// --verbose it writes to stderr; otherwise it appends to flaky.log in the
// log directory. The returned closer is never nil.
func openLogger() (*log.Logger, io.Closer) {
	if verbose {
		return log.New(os.Stderr, "flaky: ", log.LstdFlags), nopCloser{}
	}
	path := cfg.ProcessLogPath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return log.New(io.Discard, "", 0), nopCloser{}
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return log.New(io.Discard, "", 0), nopCloser{}
	}
	return log.New(f, "", log.LstdFlags|log.Lmicroseconds), f
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
