// Command kvsd is the server binary: `kvsd <jobs_dir> <MAX_PROC>
// <MAX_THREADS> <register_pipe_name>` (spec.md §6.1). It wires the Store,
// SubscriptionRegistry, OrderedBatchExecutor, JobRunner pool,
// SnapshotSupervisor, and SessionServer together and runs until an
// interrupt or terminate signal arrives or the job runner has drained the
// jobs directory, then shuts down.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/rs/zerolog"
	_ "go.uber.org/automaxprocs"

	"github.com/adred-codev/kvsd/internal/config"
	"github.com/adred-codev/kvsd/internal/executor"
	"github.com/adred-codev/kvsd/internal/fifo"
	"github.com/adred-codev/kvsd/internal/jobrunner"
	"github.com/adred-codev/kvsd/internal/kvs"
	"github.com/adred-codev/kvsd/internal/logging"
	"github.com/adred-codev/kvsd/internal/metrics"
	"github.com/adred-codev/kvsd/internal/protocol"
	"github.com/adred-codev/kvsd/internal/resource"
	"github.com/adred-codev/kvsd/internal/session"
	"github.com/adred-codev/kvsd/internal/signalctl"
	"github.com/adred-codev/kvsd/internal/snapshot"
	"github.com/adred-codev/kvsd/internal/subscription"

	"net/http"
)

type cliArgs struct {
	jobsDir          string
	maxProc          int
	maxThreads       int
	registerPipeName string
}

func parseCLI(argv []string) (cliArgs, error) {
	if len(argv) != 5 {
		return cliArgs{}, fmt.Errorf("usage: kvsd <jobs_dir> <MAX_PROC> <MAX_THREADS> <register_pipe_name>")
	}
	maxProc, err := strconv.Atoi(argv[2])
	if err != nil || maxProc <= 0 {
		return cliArgs{}, fmt.Errorf("MAX_PROC must be a positive integer, got %q", argv[2])
	}
	maxThreads, err := strconv.Atoi(argv[3])
	if err != nil || maxThreads <= 0 {
		return cliArgs{}, fmt.Errorf("MAX_THREADS must be a positive integer, got %q", argv[3])
	}
	return cliArgs{
		jobsDir:          argv[1],
		maxProc:          maxProc,
		maxThreads:       maxThreads,
		registerPipeName: argv[4],
	}, nil
}

func main() {
	args, err := parseCLI(os.Args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if err := run(args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args cliArgs) error {
	bootLogger := logging.New(logging.Config{Level: "info", Format: "json"})

	cfg, err := config.Load(&bootLogger)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	// CLI positional arguments take priority over the env-sourced worker
	// counts (spec.md §6.1).
	cfg.MaxSnapshotProcs = args.maxProc
	cfg.JobWorkers = args.maxThreads

	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	cfg.LogConfig(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := metrics.New()
	go serveMetrics(cfg.MetricsAddr, logger)

	mon := resource.New(logger, cfg.CPUPauseThreshold, cfg.ResourceSampleInterval)
	mon.Start(ctx)

	store := kvs.New(cfg.TableBuckets)
	sizes := protocol.Sizes{MaxStringSize: cfg.MaxStringSize, MaxPipePathLength: cfg.MaxPipePathLength}
	subs := subscription.New(store, cfg.MaxSubscribersPerKey())
	exec := executor.New(store, subs, sizes, m)
	snap := snapshot.New(store, cfg.MaxSnapshotProcs, m, logger)

	registerPipePath := filepath.Join("/tmp", args.registerPipeName)
	if err := fifo.Create(registerPipePath, 0o666); err != nil {
		return fmt.Errorf("create registration fifo: %w", err)
	}

	srv := session.New(session.Config{
		RegisterPipePath: registerPipePath,
		Sizes:            sizes,
		SessionCap:       cfg.MaxSessionCount,
		AcceptBurst:      cfg.RegistrationAcceptBurst,
		AcceptRate:       cfg.RegistrationAcceptRate,
	}, subs, m, logger)

	// The SIGUSR1 reset runs directly from signalctl's own listener
	// goroutine: srv's HostThread spends nearly all its time blocked in an
	// uninterruptible fifo.ReadFull, so a flag it polled between reads
	// would defer the reset until the next registration frame (or never
	// see it, if none arrives).
	signals := signalctl.New(srv.Reset)
	defer signals.Stop()

	if err := srv.Start(ctx, cfg.MaxSessionCount); err != nil {
		return fmt.Errorf("start session server: %w", err)
	}

	pool, err := jobrunner.New(args.jobsDir, cfg.JobWorkers, store, exec, snap, mon, m, logger)
	if err != nil {
		return fmt.Errorf("start job runner: %w", err)
	}

	jobsDone := make(chan struct{})
	go func() {
		pool.Run()
		close(jobsDone)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case <-jobsDone:
		logger.Info().Msg("job directory drained")
	}

	cancel()
	srv.Stop()
	pool.Close()
	snap.Wait()

	return nil
}

func serveMetrics(addr string, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server stopped")
	}
}
