package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/me/classq/internal/config"
	"github.com/me/classq/internal/coord"
	"github.com/me/classq/internal/discovery"
	"github.com/me/classq/internal/logging"
	"github.com/me/classq/internal/report"
	"github.com/me/classq/internal/server"
	"github.com/me/classq/internal/store"
	"github.com/me/classq/pkg/model"
)

func main() {
	// Config file values sit between defaults and flags, so the file is
	// located and loaded before the remaining flags are registered.
	cfg := config.DefaultServerConfig()
	if path := configFlag(os.Args[1:]); path != "" {
		loaded, err := config.LoadServerConfig(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "load config: %v\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	flag.String("config", "", "Path to YAML server config file")
	flag.StringVar(&cfg.Addr, "addr", cfg.Addr, "Listen address")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (debug, info, warn, error)")
	flag.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format (text, json)")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Results database path (empty to disable persistence)")
	flag.IntVar(&cfg.MaxFailures, "max-failures", cfg.MaxFailures, "Failure budget per class")
	flag.IntVar(&cfg.MaxTimeouts, "max-timeouts", cfg.MaxTimeouts, "Timeout budget per class")
	flag.Float64Var(&cfg.RunnerTimeoutSeconds, "runner-timeout", cfg.RunnerTimeoutSeconds, "Per-checkout deadline in seconds")
	flag.Float64Var(&cfg.ServerTimeoutSeconds, "server-timeout", cfg.ServerTimeoutSeconds, "Wall-clock budget for the whole run in seconds (0 = unlimited)")
	flag.Float64Var(&cfg.RequestWaitSeconds, "request-wait", cfg.RequestWaitSeconds, "Long-poll hold time for work requests in seconds")
	debug := flag.Bool("debug", false, "Shorthand for --log-level=debug")

	// Discovery options.
	manifest := flag.String("manifest", "", "Path to YAML test manifest")
	discoverCmd := flag.String("discover-cmd", "", "Command whose JSON stdout lists test classes")
	filterExpr := flag.String("filter", "", "JavaScript expression selecting classes (vars: classPath, methods)")

	flag.Parse()

	if *debug {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}
	if *manifest == "" && *discoverCmd == "" {
		fmt.Fprintln(os.Stderr, "one of --manifest or --discover-cmd is required")
		os.Exit(1)
	}

	logger := logging.NewLogger(logging.ParseLevel(cfg.LogLevel), cfg.LogFormat)

	var filter *discovery.Filter
	if *filterExpr != "" {
		f, err := discovery.NewFilter(*filterExpr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid filter: %v\n", err)
			os.Exit(1)
		}
		filter = f
	}

	// Open the results store if configured.
	var st store.Store
	if cfg.DBPath != "" {
		sqlStore, err := store.NewSQLiteStore(cfg.DBPath, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open database: %v\n", err)
			os.Exit(1)
		}
		defer sqlStore.Close()

		if err := sqlStore.Migrate(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "migrate database: %v\n", err)
			os.Exit(1)
		}
		st = sqlStore
		logger.Info("database ready", "path", cfg.DBPath)
	}

	// Results always go to the log; with a store open they are persisted
	// as well.
	policy := coord.Config{
		MaxFailures:   cfg.MaxFailures,
		MaxTimeouts:   cfg.MaxTimeouts,
		RunnerTimeout: cfg.RunnerTimeout(),
	}
	var sched *coord.Scheduler
	if st != nil {
		sched = coord.NewSchedulerWithSinkFactory(policy, func(runID string) report.Sink {
			return report.MultiSink{
				report.NewLogSink(logger),
				report.NewStoreSink(st, runID, logger),
			}
		}, logger)
	} else {
		sched = coord.NewScheduler(policy, report.NewLogSink(logger), logger)
	}
	defer sched.Stop()

	var serverOpts []server.Option
	if st != nil {
		serverOpts = append(serverOpts, server.WithStore(st))
		if err := st.CreateRun(context.Background(), sched.RunID(), time.Now().UTC()); err != nil {
			logger.Error("create run record failed", "error", err)
		}
	}

	srv := server.New(cfg, sched, logger, serverOpts...)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// The whole run gets a wall-clock budget when configured.
	if d := cfg.ServerTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	go func() {
		logger.Info("server starting", "addr", cfg.Addr, "run_id", sched.RunID())
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Discovery runs after the server is accepting so early runners can
	// register and block on the queue.
	go discover(ctx, sched, *manifest, *discoverCmd, filter, logger)

	<-ctx.Done()
	logger.Info("shutting down")

	sched.Shutdown()

	// Give in-flight report requests a moment to land before closing the
	// listener.
	time.Sleep(cfg.ShutdownGrace())

	if st != nil {
		finCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := st.FinishRun(finCtx, sched.RunID(), time.Now().UTC()); err != nil {
			logger.Error("finish run record failed", "error", err)
		}
		cancel()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "shutdown error: %v\n", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// configFlag pre-scans args for the --config flag.
func configFlag(args []string) string {
	for i, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--config="); ok {
			return v
		}
		if v, ok := strings.CutPrefix(arg, "-config="); ok {
			return v
		}
		if (arg == "-config" || arg == "--config") && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// discover collects the test suite and feeds it to the scheduler.
func discover(ctx context.Context, sched *coord.Scheduler, manifest, discoverCmd string, filter *discovery.Filter, logger *slog.Logger) {
	var (
		items []*model.Item
		err   error
	)
	if manifest != "" {
		items, err = discovery.LoadManifest(manifest)
	} else {
		parts := strings.Fields(discoverCmd)
		items, err = discovery.RunCommand(ctx, parts[0], parts[1:]...)
	}
	if err != nil {
		logger.Error("discovery failed", "error", err)
		sched.DiscoveryFailure(err)
		return
	}

	if filter != nil {
		items, err = filter.Apply(items)
		if err != nil {
			logger.Error("discovery filter failed", "error", err)
			sched.DiscoveryFailure(err)
			return
		}
	}

	logger.Info("discovery complete", "classes", len(items))
	sched.EnqueueDiscovered(items)
}
