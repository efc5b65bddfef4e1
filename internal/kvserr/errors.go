// Package kvserr enumerates the error kinds spec.md §7 requires kvsd to
// distinguish, as sentinel values any layer can test with errors.Is.
package kvserr

import "errors"

var (
	// ErrInvalidKeyPrefix: a key's first byte is not [a-zA-Z0-9].
	ErrInvalidKeyPrefix = errors.New("invalid key prefix")
	// ErrIOBrokenPipe: a write to a subscriber or session descriptor failed
	// because the peer is gone.
	ErrIOBrokenPipe = errors.New("broken pipe")
	// ErrIOInterrupted: a blocking I/O call was interrupted by a signal and
	// should be retried unless a reset is in progress.
	ErrIOInterrupted = errors.New("interrupted I/O")
	// ErrIOFatal: a non-recoverable I/O failure on a session or notification
	// descriptor.
	ErrIOFatal = errors.New("fatal I/O error")
	// ErrProtocolFrameMalformed: a short or otherwise invalid wire frame.
	ErrProtocolFrameMalformed = errors.New("malformed protocol frame")
	// ErrSubscriberQuotaExceeded: a key's subscriber set is at capacity.
	ErrSubscriberQuotaExceeded = errors.New("subscriber quota exceeded")
	// ErrKeyAbsent: an operation required an existing key that isn't present.
	ErrKeyAbsent = errors.New("key absent")
	// ErrKeyPresent: a delete-missing listing sentinel for keys that did
	// exist when a batch expected them absent (reserved for symmetry with
	// spec.md's error-kind enumeration; delete batches report missing keys
	// inline rather than via this sentinel, see internal/executor).
	ErrKeyPresent = errors.New("key present")
	// ErrChildForkFailed: a snapshot child process/goroutine could not be
	// started.
	ErrChildForkFailed = errors.New("snapshot child fork failed")
	// ErrChildSnapshotFailed: a started snapshot failed to complete.
	ErrChildSnapshotFailed = errors.New("snapshot failed")
	// ErrResourceExhausted: an admission limit (sessions, ring buffer,
	// snapshot concurrency) was hit.
	ErrResourceExhausted = errors.New("resource exhausted")
)
