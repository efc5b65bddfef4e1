package fifo

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/kvsd/internal/kvserr"
)

func TestCreateMakesFifoAndReplacesStaleOne(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "regpipe")

	require.NoError(t, os.WriteFile(path, []byte("stale"), 0o644))
	require.NoError(t, Create(path, 0o600))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.True(t, info.Mode()&os.ModeNamedPipe != 0)
}

func TestReadFullReturnsEOFOnEmptyReader(t *testing.T) {
	buf := make([]byte, 4)
	err := ReadFull(bytes.NewReader(nil), buf)
	assert.ErrorIs(t, err, io.EOF)
}

func TestReadFullSucceedsOnExactBytes(t *testing.T) {
	buf := make([]byte, 4)
	err := ReadFull(bytes.NewReader([]byte("abcd")), buf)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(buf))
}

type brokenPipeWriter struct{}

func (brokenPipeWriter) Write([]byte) (int, error) {
	return 0, &os.PathError{Op: "write", Path: "notif", Err: syscall.EPIPE}
}

func TestWriteFullReportsBrokenPipe(t *testing.T) {
	err := WriteFull(brokenPipeWriter{}, []byte("x"))
	assert.ErrorIs(t, err, kvserr.ErrIOBrokenPipe)
}

func TestWriteFullSucceedsOnFullWrite(t *testing.T) {
	var buf bytes.Buffer
	err := WriteFull(&buf, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", buf.String())
}
