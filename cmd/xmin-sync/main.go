// Command xmin-sync runs the xmin-based incremental replication daemon
// between a source and target PostgreSQL database.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/serenorg/seren-replicator/internal/obs"
	"github.com/serenorg/seren-replicator/internal/procctl"
	"github.com/serenorg/seren-replicator/internal/tmpdir"
	"github.com/serenorg/seren-replicator/internal/xmin"
)

const serviceName = "xmin-sync"

func main() {
	stop := flag.Bool("stop", false, "send a shutdown signal to the running daemon and exit")
	status := flag.Bool("status", false, "report whether the daemon is running and exit")
	pidFile := flag.String("pid-file", "", "path to the PID file used by -stop/-status and written on start")
	flag.Parse()

	logger := obs.NewLogger(serviceName)

	if *pidFile != "" && (*stop || *status) {
		runControlCommand(logger, *pidFile, *stop)
		return
	}

	logger.Info().Msg("starting xmin sync daemon")

	if cleaned, err := tmpdir.ReapStale(24 * time.Hour); err != nil {
		logger.Warn().Err(err).Msg("failed to reap stale scratch directories")
	} else if cleaned > 0 {
		logger.Info().Int("count", cleaned).Msg("reaped stale scratch directories")
	}

	cfg := obs.LoadConfig(logger, "config.toml")
	obs.UpdateLogLevel(cfg, logger)

	if *pidFile == "" {
		*pidFile = cfg.String("xmin.pid_file")
	}
	if *pidFile != "" {
		if err := procctl.Start(*pidFile); err != nil {
			logger.Fatal().Err(err).Msg("failed to claim pid file")
		}
		defer func() {
			if err := procctl.RemovePID(*pidFile); err != nil {
				logger.Warn().Err(err).Msg("failed to remove pid file on shutdown")
			}
		}()
	}

	sourceURL := cfg.String("xmin.source_url")
	targetURL := cfg.String("xmin.target_url")
	if sourceURL == "" || targetURL == "" {
		logger.Fatal().Msg("xmin.source_url and xmin.target_url are required")
	}

	ctx := context.Background()

	sourcePool, err := pgxpool.New(ctx, sourceURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to source database")
	}
	defer sourcePool.Close()

	targetPool, err := pgxpool.New(ctx, targetURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to target database")
	}
	defer targetPool.Close()

	daemonCfg := xmin.DefaultDaemonConfig()
	if v := cfg.Duration("xmin.sync_interval"); v > 0 {
		daemonCfg.SyncInterval = v
	}
	if v := cfg.Duration("xmin.reconcile_interval"); v > 0 {
		daemonCfg.ReconcileInterval = v
	}
	if v := cfg.String("xmin.state_path"); v != "" {
		daemonCfg.StatePath = v
	}
	if v := cfg.Int("xmin.batch_size"); v > 0 {
		daemonCfg.BatchSize = v
	}
	if v := cfg.String("xmin.schema"); v != "" {
		daemonCfg.Schema = v
	}
	if tables := cfg.Strings("xmin.tables"); len(tables) > 0 {
		daemonCfg.Tables = tables
	}

	daemon := xmin.NewSyncDaemon(*logger, sourcePool, targetPool, daemonCfg)

	metricsAddr := cfg.String("metrics.address")
	metricsServer := obs.NewMetricsServer(metricsAddr, logger)
	metricsServer.Start()

	healthAddr := cfg.String("health.address")
	healthServer := &http.Server{Addr: healthAddr, Handler: http.HandlerFunc(healthCheckHandler(daemon))}
	go func() {
		logger.Info().Str("address", healthAddr).Msg("starting health check server")
		if err := healthServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("health check server error")
		}
	}()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- daemon.Run(runCtx)
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("sync daemon error")
		}
	}

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}
	if err := healthServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("health server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

// runControlCommand implements the external daemon control surface
// described in spec.md §6: -status reports liveness from the PID file,
// -stop sends SIGTERM (escalating to SIGKILL after a bounded wait) and
// cleans up the PID file.
func runControlCommand(logger *zerolog.Logger, pidFile string, doStop bool) {
	if doStop {
		if err := procctl.Stop(pidFile); err != nil {
			if errors.Is(err, procctl.ErrNotRunning) {
				logger.Info().Msg("daemon is not running")
				return
			}
			logger.Fatal().Err(err).Msg("failed to stop daemon")
		}
		logger.Info().Msg("daemon stopped")
		return
	}

	st, err := procctl.CheckStatus(pidFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to read daemon status")
	}
	if st.Running {
		logger.Info().Int("pid", st.PID).Msg("daemon status: running")
	} else {
		logger.Info().Bool("pid_file_exists", st.PIDFileExists).Msg("daemon status: not running")
	}
}

func healthCheckHandler(daemon *xmin.SyncDaemon) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !daemon.Healthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprintf(w, "unhealthy\n")
			return
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "healthy\n")
	}
}
