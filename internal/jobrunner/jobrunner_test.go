package jobrunner

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adred-codev/kvsd/internal/executor"
	"github.com/adred-codev/kvsd/internal/kvs"
	"github.com/adred-codev/kvsd/internal/protocol"
	"github.com/adred-codev/kvsd/internal/subscription"
)

var testSizes = protocol.Sizes{MaxStringSize: 40, MaxPipePathLength: 40}

type fakeSnapshotter struct {
	requests []string
}

func (f *fakeSnapshotter) Request(stem string, seq int) error {
	f.requests = append(f.requests, stem)
	return nil
}

type fakeMonitor struct {
	paused atomic.Bool
}

func (f *fakeMonitor) ShouldPause() bool { return f.paused.Load() }

func TestPoolProcessesJobFileIntoOutputFile(t *testing.T) {
	dir := t.TempDir()
	jobPath := filepath.Join(dir, "a.job")
	require.NoError(t, os.WriteFile(jobPath, []byte(
		"WRITE [(apple,red)]\nREAD [apple,missing]\nSHOW\nBACKUP\n"), 0o644))

	store := kvs.New(26)
	reg := subscription.New(store, 10)
	exec := executor.New(store, reg, testSizes, nil)
	snap := &fakeSnapshotter{}

	pool, err := New(dir, 2, store, exec, snap, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	pool.Run()
	require.NoError(t, pool.Close())

	out, err := os.ReadFile(filepath.Join(dir, "a.out"))
	require.NoError(t, err)
	content := string(out)
	assert.Contains(t, content, "[(apple,red)(missing,KVSERROR)]")
	assert.Contains(t, content, "(apple, red)")
	assert.Len(t, snap.requests, 1)
}

func TestPoolSkipsNonJobFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o644))

	store := kvs.New(26)
	reg := subscription.New(store, 10)
	exec := executor.New(store, reg, testSizes, nil)
	snap := &fakeSnapshotter{}

	pool, err := New(dir, 1, store, exec, snap, nil, nil, zerolog.Nop())
	require.NoError(t, err)
	pool.Run()
	require.NoError(t, pool.Close())

	_, err = os.Stat(filepath.Join(dir, "notes.out"))
	assert.True(t, os.IsNotExist(err))
}

func TestPoolPausesWhileMonitorReportsShouldPause(t *testing.T) {
	dir := t.TempDir()
	jobPath := filepath.Join(dir, "a.job")
	require.NoError(t, os.WriteFile(jobPath, []byte("SHOW\n"), 0o644))

	store := kvs.New(26)
	reg := subscription.New(store, 10)
	exec := executor.New(store, reg, testSizes, nil)
	snap := &fakeSnapshotter{}
	mon := &fakeMonitor{}
	mon.paused.Store(true)

	pool, err := New(dir, 1, store, exec, snap, mon, nil, zerolog.Nop())
	require.NoError(t, err)

	runDone := make(chan struct{})
	go func() {
		pool.Run()
		close(runDone)
	}()

	select {
	case <-runDone:
		t.Fatal("pool drained the job directory while the monitor reported ShouldPause")
	case <-time.After(150 * time.Millisecond):
	}

	mon.paused.Store(false)

	select {
	case <-runDone:
	case <-time.After(time.Second):
		t.Fatal("pool never resumed after ShouldPause cleared")
	}
	require.NoError(t, pool.Close())

	_, err = os.Stat(filepath.Join(dir, "a.out"))
	assert.NoError(t, err)
}
