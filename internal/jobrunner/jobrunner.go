// Package jobrunner implements the JobRunner pool (spec.md §4.5): W
// workers sharing one directory iterator, each draining whole .job files
// into .out files by dispatching through the OrderedBatchExecutor, the
// Store, and the SnapshotSupervisor.
package jobrunner

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/adred-codev/kvsd/internal/executor"
	"github.com/adred-codev/kvsd/internal/jobparse"
	"github.com/adred-codev/kvsd/internal/kvs"
	"github.com/adred-codev/kvsd/internal/logging"
	"github.com/adred-codev/kvsd/internal/metrics"
)

// pauseBackoff is how long a worker sleeps before re-checking
// ResourceMonitor.ShouldPause() instead of pulling the next directory
// entry.
const pauseBackoff = 50 * time.Millisecond

// Snapshotter requests a bounded-concurrency backup of the current table
// state to "<stem>-<seq>.bck" (spec.md §4.6). Implemented by
// internal/snapshot.Supervisor.
type Snapshotter interface {
	Request(stem string, seq int) error
}

// ResourceMonitor reports whether job workers should back off pulling the
// next directory entry because the host is CPU-saturated (spec.md §4.5
// Design Notes). Implemented by internal/resource.Monitor.
type ResourceMonitor interface {
	ShouldPause() bool
}

// Pool is the JobRunner pool of W workers sharing one directory iterator
// (spec.md §4.5).
type Pool struct {
	dirPath string
	dirMu   sync.Mutex
	dirFile *os.File

	store   *kvs.Store
	exec    *executor.Executor
	snap    Snapshotter
	monitor ResourceMonitor
	metrics *metrics.Metrics
	logger  zerolog.Logger

	workers int
	wg      sync.WaitGroup
}

// New opens dirPath for shared sequential iteration and builds a Pool of
// the given worker count. monitor may be nil, in which case workers never
// pause for CPU load.
func New(dirPath string, workers int, store *kvs.Store, exec *executor.Executor, snap Snapshotter, monitor ResourceMonitor, m *metrics.Metrics, logger zerolog.Logger) (*Pool, error) {
	f, err := os.Open(dirPath)
	if err != nil {
		return nil, fmt.Errorf("open jobs dir: %w", err)
	}
	return &Pool{
		dirPath: dirPath,
		dirFile: f,
		store:   store,
		exec:    exec,
		snap:    snap,
		monitor: monitor,
		metrics: m,
		logger:  logger,
		workers: workers,
	}, nil
}

// Run starts p.workers goroutines and blocks until every worker has
// exhausted the shared directory iterator (spec.md §4.5 step 4).
func (p *Pool) Run() {
	p.wg.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go p.workerLoop(i)
	}
	p.wg.Wait()
}

// Close releases the directory handle shared by the workers. If Run is
// still active, each worker finishes its current file and then stops at
// its next directory read.
func (p *Pool) Close() error {
	return p.dirFile.Close()
}

// nextJobFile returns the next ".job" entry's full path under the shared
// iterator mutex (spec.md §4.5 step 1), or "" once the directory is
// exhausted.
func (p *Pool) nextJobFile() string {
	p.dirMu.Lock()
	defer p.dirMu.Unlock()
	for {
		entries, err := p.dirFile.ReadDir(1)
		if err != nil || len(entries) == 0 {
			return ""
		}
		e := entries[0]
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".job") {
			return filepath.Join(p.dirPath, e.Name())
		}
	}
}

func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()
	defer logging.RecoverPanic(p.logger, "jobrunner.worker", map[string]any{"worker_id": id})

	// Job workers never unblock SIGUSR1 (spec.md §4.5, §4.8) — only
	// signalctl.New calls signal.Notify for it.
	for {
		for p.monitor != nil && p.monitor.ShouldPause() {
			time.Sleep(pauseBackoff)
		}
		path := p.nextJobFile()
		if path == "" {
			return
		}
		p.processFile(path)
	}
}

// processFile drains one .job file into its paired .out file, dispatching
// each parsed command (spec.md §4.5 step 3).
func (p *Pool) processFile(jobPath string) {
	stem := strings.TrimSuffix(jobPath, ".job")
	outPath := stem + ".out"

	in, err := os.Open(jobPath)
	if err != nil {
		p.logger.Error().Err(err).Str("file", jobPath).Msg("failed to open job file")
		return
	}
	defer in.Close()

	out, err := os.OpenFile(outPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		p.logger.Error().Err(err).Str("file", outPath).Msg("failed to create output file")
		return
	}
	defer out.Close()

	scanner := jobparse.New(in)
	backupSeq := 1

	for {
		job := scanner.Next()
		switch job.Kind {
		case jobparse.KindEOF:
			if p.metrics != nil {
				p.metrics.JobFilesProcessed.Inc()
			}
			return

		case jobparse.KindEmpty:
			continue

		case jobparse.KindInvalid:
			fmt.Fprintln(out, "Invalid command. See HELP for usage")

		case jobparse.KindWrite:
			if err := p.exec.WriteBatch(job.Pairs); err != nil {
				p.logger.Error().Err(err).Str("file", jobPath).Msg("write batch failed")
			}

		case jobparse.KindRead:
			if err := p.exec.ReadBatch(job.Keys, out); err != nil {
				p.logger.Error().Err(err).Str("file", jobPath).Msg("read batch failed")
			}

		case jobparse.KindDelete:
			if err := p.exec.DeleteBatch(job.Keys, out); err != nil {
				p.logger.Error().Err(err).Str("file", jobPath).Msg("delete batch failed")
			}

		case jobparse.KindShow:
			p.store.ForEach(func(k, v string) {
				fmt.Fprintf(out, "(%s, %s)\n", k, v)
			})

		case jobparse.KindWait:
			if job.Wait > 0 {
				fmt.Fprintln(out, "Waiting...")
				time.Sleep(time.Duration(job.Wait) * time.Millisecond)
			}

		case jobparse.KindBackup:
			if err := p.snap.Request(stem, backupSeq); err != nil {
				p.logger.Error().Err(err).Str("file", jobPath).Msg("backup failed")
			}
			backupSeq++

		case jobparse.KindHelp:
			fmt.Fprint(out, jobparse.HelpText)
		}
	}
}
