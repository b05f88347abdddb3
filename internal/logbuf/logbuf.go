// Package logbuf accumulates server output in memory and flushes it to a
// fixed-path log file.
package logbuf

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Buffer is an append-only log. Every Write is flushed to the file and the
// in-memory copy cleared, so the file always holds everything written since
// the last Reset.
type Buffer struct {
	path string

	mu  sync.Mutex
	buf bytes.Buffer
	n   int64
}

// New returns a buffer backed by path. The file is not touched until Reset
// or the first Write.
func New(path string) *Buffer {
	return &Buffer{path: path}
}

// Path returns the backing file path.
func (b *Buffer) Path() string { return b.path }

// Len returns the number of bytes written since the last Reset.
func (b *Buffer) Len() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.n
}

// Reset truncates the log file, creating its directory if needed, and drops
// any unflushed bytes.
func (b *Buffer) Reset() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	if err := os.WriteFile(b.path, nil, 0644); err != nil { //nolint:gosec // G306: log file
		return fmt.Errorf("truncating log: %w", err)
	}
	b.buf.Reset()
	b.n = 0
	return nil
}

// Write appends p and flushes it to the log file.
func (b *Buffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.buf.Write(p)
	b.n += int64(len(p))
	if err := b.flushLocked(); err != nil {
		return len(p), err
	}
	return len(p), nil
}

// Flush writes any buffered bytes to the log file.
func (b *Buffer) Flush() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flushLocked()
}

func (b *Buffer) flushLocked() error {
	if b.buf.Len() == 0 {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(b.path), 0755); err != nil {
		return fmt.Errorf("creating log directory: %w", err)
	}
	f, err := os.OpenFile(b.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644) //nolint:gosec // G302,G304: log file
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	_, werr := f.Write(b.buf.Bytes())
	cerr := f.Close()
	if werr != nil {
		// Keep the bytes so the next flush retries them.
		return fmt.Errorf("writing log: %w", werr)
	}
	b.buf.Reset()
	if cerr != nil {
		return fmt.Errorf("closing log: %w", cerr)
	}
	return nil
}
