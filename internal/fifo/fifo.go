// Package fifo provides the named-pipe creation and blocking read/write
// helpers kvsd's session layer is built on, grounded directly on
// original_source/src/common/io.c's safe_mkfifo/safe_open/read_all/
// safe_write.
package fifo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/adred-codev/kvsd/internal/kvserr"
)

// Create makes a FIFO at path with the given permissions, removing any
// existing file at that path first (safe_mkfifo unlinks before calling
// mkfifo so a stale pipe from a previous run never blocks startup).
func Create(path string, perm os.FileMode) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale fifo %s: %w", path, err)
	}
	if err := unix.Mkfifo(path, uint32(perm)); err != nil {
		return fmt.Errorf("mkfifo %s: %w", path, err)
	}
	return nil
}

// OpenReadWrite opens path O_RDWR, the registration pipe's open mode
// (spec.md §4.7 step 1) so the host loop never observes EOF merely
// because no writer is currently connected.
func OpenReadWrite(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s read-write: %w", path, err)
	}
	return f, nil
}

// OpenReadOnly opens path O_RDONLY, blocking until a writer connects.
func OpenReadOnly(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s read-only: %w", path, err)
	}
	return f, nil
}

// OpenWriteOnly opens path O_WRONLY, blocking until a reader connects.
func OpenWriteOnly(path string) (*os.File, error) {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s write-only: %w", path, err)
	}
	return f, nil
}

// ReadFull reads exactly len(buf) bytes from r, retrying on EINTR, the Go
// analogue of read_all. A clean EOF with zero bytes read yet is returned
// as io.EOF unchanged (the caller treats that as a normal disconnect); any
// other short read or I/O error becomes kvserr.ErrIOFatal.
func ReadFull(r io.Reader, buf []byte) error {
	read := 0
	for {
		n, err := io.ReadFull(r, buf[read:])
		read += n
		if err == nil {
			return nil
		}
		if errors.Is(err, syscall.EINTR) {
			continue
		}
		if read == 0 && errors.Is(err, io.EOF) {
			return io.EOF
		}
		return fmt.Errorf("%w: %v", kvserr.ErrIOFatal, err)
	}
}

// WriteFull writes every byte of buf to w, retrying on EINTR, the Go
// analogue of safe_write. A broken pipe is reported as
// kvserr.ErrIOBrokenPipe so the caller can distinguish a dead subscriber
// or client from any other fatal write error (spec.md §7).
func WriteFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			if isBrokenPipe(err) {
				return kvserr.ErrIOBrokenPipe
			}
			if errors.Is(err, syscall.EINTR) {
				continue
			}
			return fmt.Errorf("%w: %v", kvserr.ErrIOFatal, err)
		}
		buf = buf[n:]
	}
	return nil
}

func isBrokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, io.ErrClosedPipe)
}
