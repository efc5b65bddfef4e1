package subscription

import (
	"errors"
	"io"
	"sync/atomic"
	"syscall"

	"github.com/adred-codev/kvsd/internal/kvserr"
	"github.com/adred-codev/kvsd/internal/protocol"
)

// Sink is a write-only handle to one subscriber's notification FIFO
// (spec.md §4.4). It encodes each notification into a fixed-size frame
// and writes it with one best-effort, retry-until-complete write.
type Sink struct {
	w      io.Writer
	sizes  protocol.Sizes
	failed atomic.Bool
}

// NewSink wraps an already-open notification pipe writer.
func NewSink(w io.Writer, sizes protocol.Sizes) *Sink {
	return &Sink{w: w, sizes: sizes}
}

// Notify encodes and writes a single notification frame. A broken pipe or
// any non-interruptible error marks the sink permanently failed, and every
// later Notify returns kvserr.ErrIOBrokenPipe without writing. The Registry
// does not check Failed: a failed sink stays registered until
// DrainForHandle or ResetAll removes it.
func (s *Sink) Notify(n protocol.Notification) error {
	if s.Failed() {
		return kvserr.ErrIOBrokenPipe
	}
	buf, err := protocol.EncodeNotification(s.sizes, n)
	if err != nil {
		return err
	}
	if err := s.writeAll(buf); err != nil {
		s.failed.Store(true)
		return err
	}
	return nil
}

// writeAll retries partial writes until complete or a fatal error occurs.
func (s *Sink) writeAll(buf []byte) error {
	for len(buf) > 0 {
		n, err := s.w.Write(buf)
		if err != nil {
			if isBrokenPipe(err) {
				return kvserr.ErrIOBrokenPipe
			}
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return kvserr.ErrIOFatal
		}
		buf = buf[n:]
	}
	return nil
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe)
}

// Failed reports whether this sink has seen a fatal write error and
// should be treated as evictable.
func (s *Sink) Failed() bool {
	return s.failed.Load()
}
