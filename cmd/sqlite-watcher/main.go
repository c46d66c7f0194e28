// Command sqlite-watcher watches a SQLite database's WAL file for growth,
// durably enqueues the resulting row changes, and serves them to remote
// appliers over an authenticated RPC connection.
package main

import (
	"context"
	"errors"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/serenorg/seren-replicator/internal/notify"
	"github.com/serenorg/seren-replicator/internal/obs"
	"github.com/serenorg/seren-replicator/internal/procctl"
	"github.com/serenorg/seren-replicator/internal/sqlitequeue"
	"github.com/serenorg/seren-replicator/internal/tmpdir"
	"github.com/serenorg/seren-replicator/internal/walwatch"
	"github.com/serenorg/seren-replicator/internal/watcherrpc"
)

const serviceName = "sqlite-watcher"

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

	logger.Info().Msg("starting sqlite watcher")

	if cleaned, err := tmpdir.ReapStale(24 * time.Hour); err != nil {
		logger.Warn().Err(err).Msg("failed to reap stale scratch directories")
	} else if cleaned > 0 {
		logger.Info().Int("count", cleaned).Msg("reaped stale scratch directories")
	}

	cfg := obs.LoadConfig(logger, "config.toml")
	obs.UpdateLogLevel(cfg, logger)

	if *pidFile == "" {
		*pidFile = cfg.String("watcher.pid_file")
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

	dbPath := cfg.String("watcher.db_path")
	queuePath := cfg.String("watcher.queue_path")
	rpcToken := cfg.String("watcher.rpc_token")
	if dbPath == "" || queuePath == "" || rpcToken == "" {
		logger.Fatal().Msg("watcher.db_path, watcher.queue_path and watcher.rpc_token are required")
	}

	queue, err := sqlitequeue.Open(queuePath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open change queue")
	}
	defer queue.Close()

	walCfg := walwatch.DefaultConfig()
	if v := cfg.Duration("watcher.poll_interval"); v > 0 {
		walCfg.PollInterval = v
	}

	walHandle, events, err := walwatch.Start(dbPath, walCfg, *logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to start WAL watcher")
	}
	defer walHandle.Stop()

	var publisher *notify.Publisher
	if natsURL := cfg.String("notify.nats_url"); natsURL != "" {
		persistDuration := cfg.Duration("notify.persist_duration")
		if persistDuration == 0 {
			persistDuration = 24 * time.Hour
		}
		subjectPrefix := cfg.String("notify.subject_prefix")
		if subjectPrefix == "" {
			subjectPrefix = "SEREN.CHANGES"
		}
		publisher, err = notify.NewPublisher(natsURL, persistDuration, subjectPrefix, logger)
		if err != nil {
			logger.Error().Err(err).Msg("failed to start change notification publisher, continuing without it")
		} else {
			defer publisher.Close()
		}
	}

	decoder := walwatch.WalGrowthDecoder{}

	consumeCtx, consumeCancel := context.WithCancel(context.Background())
	defer consumeCancel()

	go consumeEvents(consumeCtx, logger, events, decoder, queue, publisher)

	server := watcherrpc.NewServer(queue, rpcToken, *logger)

	listenDescriptor := cfg.String("watcher.listen")
	if listenDescriptor == "" {
		listenDescriptor = "tcp:127.0.0.1:7777"
	}
	endpoint, err := watcherrpc.ParseEndpoint(listenDescriptor)
	if err != nil {
		logger.Fatal().Err(err).Str("listen", listenDescriptor).Msg("invalid listener endpoint")
	}

	rpcHandle, err := watcherrpc.Spawn(server, endpoint)
	if err != nil {
		logger.Fatal().Err(err).Str("endpoint", endpoint.String()).Msg("failed to start RPC server")
	}
	defer rpcHandle.Stop()

	metricsAddr := cfg.String("metrics.address")
	metricsServer := obs.NewMetricsServer(metricsAddr, logger)
	metricsServer.Start()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("shutting down")
	consumeCancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

// runControlCommand implements the external daemon control surface
// described in spec.md §6 for the watcher binary.
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

func consumeEvents(
	ctx context.Context,
	logger *zerolog.Logger,
	events <-chan walwatch.Event,
	decoder walwatch.WalGrowthDecoder,
	queue *sqlitequeue.ChangeQueue,
	publisher *notify.Publisher,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			for _, rowChange := range decoder.Decode(event) {
				change, err := rowChange.IntoNewChange()
				if err != nil {
					logger.Error().Err(err).Msg("failed to convert row change")
					continue
				}

				changeID, err := queue.Enqueue(change)
				if err != nil {
					logger.Error().Err(err).Msg("failed to enqueue change")
					continue
				}

				if publisher != nil {
					if err := publisher.Publish(ctx, changeID, change); err != nil {
						logger.Warn().Err(err).Int64("change_id", changeID).Msg("failed to publish change notification")
					}
				}
			}
		}
	}
}
