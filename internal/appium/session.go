//go:build !windows

package appium

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/steveyegge/flaky/internal/logbuf"
	"github.com/steveyegge/flaky/internal/proc"
	"github.com/steveyegge/flaky/internal/stream"
)

// session is one launch: a process, the reader goroutine draining it, and
// the readiness flag that goroutine sets. The reader is the only writer of
// ready and of the log buffer.
type session struct {
	id      string
	handle  *proc.Handle
	reader  *stream.Reader
	buf     *logbuf.Buffer
	started time.Time

	ready atomic.Bool
	done  chan struct{}
	err   error // reader result, valid once done is closed
}

func newSession(h *proc.Handle, buf *logbuf.Buffer, logf func(string, ...interface{})) *session {
	s := &session{
		id:      uuid.NewString(),
		handle:  h,
		buf:     buf,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	s.reader = &stream.Reader{
		Sink:     buf,
		Sentinel: ReadySentinel,
		OnReady:  func() { s.ready.Store(true) },
		Logf:     logf,
	}
	return s
}

func (s *session) run(logf func(string, ...interface{})) {
	defer close(s.done)
	s.err = s.reader.Run(s.handle.Out(), s.handle.Err())
	if s.err != nil {
		logf("session %s: reader stopped: %v", s.short(), s.err)
		return
	}
	if !s.ready.Load() {
		logf("session %s: server output closed before ready", s.short())
	}
}

func (s *session) short() string {
	if len(s.id) > 8 {
		return s.id[:8]
	}
	return s.id
}

// shutdown kills the process group, waits for the reader to drain, and reaps
// the process. Killing first is what unblocks the reader: its streams hit
// end-of-stream once every holder of the pipe is dead. If a descendant
// escaped the group and still holds the pipe, the reader is woken after
// drain.
func (s *session) shutdown(drain time.Duration, logf func(string, ...interface{})) error {
	killErr := s.handle.Kill()

	timer := time.NewTimer(drain)
	select {
	case <-s.done:
		timer.Stop()
	case <-timer.C:
		logf("session %s: output still open %v after kill, waking reader", s.short(), drain)
		s.reader.Wake()
		<-s.done
	}

	termErr := s.handle.Terminate()
	if err := s.buf.Flush(); err != nil {
		logf("session %s: flushing log: %v", s.short(), err)
	}
	return errors.Join(killErr, termErr)
}
