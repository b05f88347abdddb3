//go:build !windows

// Package stream multiplexes a child's output streams with poll(2), feeds
// every byte to a sink, and watches the accumulated text for a sentinel.
package stream

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// DefaultChunkSize is the largest single read from a ready stream.
const DefaultChunkSize = 999_999

// ErrNeverSpawned is returned when the first wait sees no activity at all,
// meaning the streams never belonged to a running process.
var ErrNeverSpawned = errors.New("process never produced output")

// Source is a pollable, readable stream. proc.Stream implements it.
// A negative Fd means the stream is already closed.
type Source interface {
	Name() string
	Fd() int
	Read(p []byte) (int, error)
	Close() error
}

// Reader accumulates output from a set of streams until all of them reach
// end-of-stream.
type Reader struct {
	// Sink receives every byte read, in delivery order.
	Sink io.Writer

	// Sentinel marks readiness when it appears in the accumulated output.
	// Empty disables detection.
	Sentinel string

	// OnReady is called once, from the Run goroutine, the first time the
	// sentinel is observed.
	OnReady func()

	// ChunkSize bounds a single read. Defaults to DefaultChunkSize.
	ChunkSize int

	// Logf receives diagnostics. Nil is silent.
	Logf func(format string, args ...interface{})

	wakeOnce   sync.Once
	wakeMu     sync.Mutex
	wakeR      int
	wakeW      int
	wakeErr    error
	wakeClosed bool

	seen  bool
	carry []byte
}

func (r *Reader) logf(format string, args ...interface{}) {
	if r.Logf != nil {
		r.Logf(format, args...)
	}
}

func (r *Reader) initWake() error {
	r.wakeOnce.Do(func() {
		var p [2]int
		syscall.ForkLock.RLock()
		err := unix.Pipe(p[:])
		if err == nil {
			unix.CloseOnExec(p[0])
			unix.CloseOnExec(p[1])
		}
		syscall.ForkLock.RUnlock()
		if err == nil {
			err = unix.SetNonblock(p[1], true)
		}
		if err != nil {
			r.wakeErr = fmt.Errorf("wake pipe: %w", err)
			r.wakeR, r.wakeW = -1, -1
			return
		}
		r.wakeR, r.wakeW = p[0], p[1]
	})
	return r.wakeErr
}

// Wake makes a blocked Run return without waiting for the streams to close.
// It is meant for the case where a killed process left a descendant holding
// the pipe open. Safe to call before, during, or after Run.
func (r *Reader) Wake() {
	if err := r.initWake(); err != nil {
		return
	}
	r.wakeMu.Lock()
	defer r.wakeMu.Unlock()
	if r.wakeClosed {
		return
	}
	_, _ = unix.Write(r.wakeW, []byte{1})
}

func (r *Reader) closeWake() {
	r.wakeMu.Lock()
	defer r.wakeMu.Unlock()
	if r.wakeClosed {
		return
	}
	r.wakeClosed = true
	_ = unix.Close(r.wakeR)
	_ = unix.Close(r.wakeW)
}

// Seen reports whether the sentinel has been observed. Only meaningful once
// Run has returned, or from OnReady.
func (r *Reader) Seen() bool { return r.seen }

// Run reads until every stream is at end-of-stream or Wake is called. Each
// stream is closed when it reaches end-of-stream. Run returns ErrNeverSpawned
// if the first wait reports nothing ready. A Reader runs once.
func (r *Reader) Run(streams ...Source) error {
	if err := r.initWake(); err != nil {
		return err
	}
	defer r.closeWake()

	chunk := r.ChunkSize
	if chunk <= 0 {
		chunk = DefaultChunkSize
	}
	buf := make([]byte, chunk)

	live := make([]Source, 0, len(streams))
	for _, s := range streams {
		if s != nil && s.Fd() >= 0 {
			live = append(live, s)
		}
	}

	first := true
	for len(live) > 0 {
		fds := make([]unix.PollFd, 0, len(live)+1)
		for _, s := range live {
			fds = append(fds, unix.PollFd{Fd: int32(s.Fd()), Events: unix.POLLIN})
		}
		fds = append(fds, unix.PollFd{Fd: int32(r.wakeR), Events: unix.POLLIN})

		n, err := unix.Poll(fds, -1)
		if errors.Is(err, unix.EINTR) {
			continue
		}
		if err != nil {
			if first {
				return fmt.Errorf("%w: poll: %v", ErrNeverSpawned, err)
			}
			return fmt.Errorf("poll: %w", err)
		}
		if first && (n == 0 || allInvalid(fds[:len(live)])) {
			return ErrNeverSpawned
		}
		first = false

		if fds[len(fds)-1].Revents != 0 {
			r.logf("stream reader woken with %d stream(s) still open", len(live))
			for _, s := range live {
				_ = s.Close()
			}
			return nil
		}

		next := live[:0]
		for i, s := range live {
			rev := fds[i].Revents
			if rev == 0 {
				next = append(next, s)
				continue
			}
			if rev&unix.POLLNVAL != 0 {
				r.logf("stream %s: invalid descriptor, dropping", s.Name())
				_ = s.Close()
				continue
			}
			nr, rerr := s.Read(buf)
			if nr > 0 {
				if err := r.deliver(buf[:nr]); err != nil {
					r.logf("stream %s: sink write failed: %v", s.Name(), err)
				}
			}
			if rerr != nil {
				if !errors.Is(rerr, io.EOF) {
					r.logf("stream %s: %v", s.Name(), rerr)
				}
				_ = s.Close()
				continue
			}
			next = append(next, s)
		}
		live = next
	}
	return nil
}

func allInvalid(fds []unix.PollFd) bool {
	for _, fd := range fds {
		if fd.Revents&unix.POLLNVAL == 0 {
			return false
		}
	}
	return len(fds) > 0
}

// deliver hands data to the sink and checks for the sentinel. The carry
// window keeps the tail of the previous chunk so a sentinel split across
// two reads is still found.
func (r *Reader) deliver(data []byte) error {
	var err error
	if r.Sink != nil {
		_, err = r.Sink.Write(data)
	}
	if r.seen || r.Sentinel == "" {
		return err
	}

	window := append(r.carry, data...)
	if bytes.Contains(window, []byte(r.Sentinel)) {
		r.seen = true
		r.carry = nil
		if r.OnReady != nil {
			r.OnReady()
		}
		return err
	}
	keep := len(r.Sentinel) - 1
	if len(window) > keep {
		window = window[len(window)-keep:]
	}
	r.carry = append(r.carry[:0:0], window...)
	return err
}
