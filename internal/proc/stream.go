//go:build !windows

package proc

import (
	"errors"
	"io"
	"os"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// Stream is the parent's end of a child stdio pipe, held as a raw
// descriptor so it can be multiplexed with poll(2).
type Stream struct {
	name string

	mu     sync.Mutex
	fd     int
	closed bool
}

func newStream(name string, fd int) *Stream {
	return &Stream{name: name, fd: fd}
}

// closedStream returns a stream that is already at end-of-stream. It stands in
// for stderr when the child's stderr is merged into stdout.
func closedStream(name string) *Stream {
	return &Stream{name: name, fd: -1, closed: true}
}

// Name returns the stream label ("stdout", "stderr").
func (s *Stream) Name() string { return s.name }

// Fd returns the raw descriptor, or -1 once the stream is closed.
func (s *Stream) Fd() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return -1
	}
	return s.fd
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Read reads up to len(p) bytes. It blocks until data is available and
// returns io.EOF once every writer has closed its end.
func (s *Stream) Read(p []byte) (int, error) {
	fd := s.Fd()
	if fd < 0 {
		return 0, io.EOF
	}
	for {
		n, err := unix.Read(fd, p)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if errors.Is(err, unix.EBADF) {
				return 0, io.EOF
			}
			return 0, &os.PathError{Op: "read", Path: s.name, Err: err}
		}
		if n == 0 && len(p) > 0 {
			return 0, io.EOF
		}
		return n, nil
	}
}

// Close closes the descriptor. Safe to call more than once.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	fd := s.fd
	s.fd = -1
	if err := unix.Close(fd); err != nil && !errors.Is(err, unix.EBADF) {
		return &os.PathError{Op: "close", Path: s.name, Err: err}
	}
	return nil
}

// pipe creates a close-on-exec pipe. The read end is returned as a Stream,
// the write end as an *os.File suitable for exec.Cmd.Stdout/Stderr.
func pipe(name string) (*Stream, *os.File, error) {
	var p [2]int
	// Hold ForkLock so a concurrent fork can't inherit the fds before
	// close-on-exec is set.
	syscall.ForkLock.RLock()
	err := unix.Pipe(p[:])
	if err == nil {
		unix.CloseOnExec(p[0])
		unix.CloseOnExec(p[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, nil, os.NewSyscallError("pipe", err)
	}
	return newStream(name, p[0]), os.NewFile(uintptr(p[1]), name+"|1"), nil
}
