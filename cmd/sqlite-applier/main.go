// Command sqlite-applier connects to a sqlite-watcher's RPC endpoint,
// pulls durably queued row changes, and lands them as JSONB rows in a
// target PostgreSQL database.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/serenorg/seren-replicator/internal/cursorstore"
	"github.com/serenorg/seren-replicator/internal/jsonbapplier"
	"github.com/serenorg/seren-replicator/internal/obs"
	"github.com/serenorg/seren-replicator/internal/watcherrpc"
)

const serviceName = "sqlite-applier"

func main() {
	logger := obs.NewLogger(serviceName)
	logger.Info().Msg("starting sqlite applier")

	cfg := obs.LoadConfig(logger, "config.toml")
	obs.UpdateLogLevel(cfg, logger)

	targetURL := cfg.String("applier.target_url")
	rpcToken := cfg.String("applier.rpc_token")
	cursorPath := cfg.String("applier.cursor_path")
	if targetURL == "" || rpcToken == "" || cursorPath == "" {
		logger.Fatal().Msg("applier.target_url, applier.rpc_token and applier.cursor_path are required")
	}

	ctx := context.Background()

	targetPool, err := pgxpool.New(ctx, targetURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to target database")
	}
	defer targetPool.Close()

	cursors, err := cursorstore.Open(cursorPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open cursor store")
	}
	defer cursors.Close()

	dialTimeout := cfg.Duration("applier.dial_timeout")
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}

	connectDescriptor := cfg.String("applier.connect")
	if connectDescriptor == "" {
		logger.Fatal().Msg("applier.connect is required (e.g. \"tcp:127.0.0.1:7777\" or \"unix:/path/to.sock\")")
	}
	endpoint, err := watcherrpc.ParseEndpoint(connectDescriptor)
	if err != nil {
		logger.Fatal().Err(err).Str("connect", connectDescriptor).Msg("invalid watcher endpoint")
	}

	client, err := watcherrpc.DialEndpoint(endpoint, rpcToken, dialTimeout)
	if err != nil {
		logger.Fatal().Err(err).Str("endpoint", endpoint.String()).Msg("failed to dial watcher RPC")
	}
	defer client.Close()

	newTable := func(name string) (*jsonbapplier.Table, error) {
		return jsonbapplier.NewTable(targetPool, name)
	}

	modeStr := cfg.String("applier.mode")
	if modeStr == "" {
		modeStr = string(jsonbapplier.ModeAppend)
	}
	mode, err := jsonbapplier.ParseMode(modeStr)
	if err != nil {
		logger.Fatal().Err(err).Str("mode", modeStr).Msg("invalid applier mode")
	}

	applier := jsonbapplier.NewApplier(client, *logger, mode, newTable)

	pollInterval := cfg.Duration("applier.poll_interval")
	if pollInterval == 0 {
		pollInterval = 2 * time.Second
	}
	batchLimit := cfg.Int64("applier.batch_limit")
	if batchLimit == 0 {
		batchLimit = 1000
	}

	metricsAddr := cfg.String("metrics.address")
	metricsServer := obs.NewMetricsServer(metricsAddr, logger)
	metricsServer.Start()

	runCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		errChan <- runPollLoop(runCtx, applier, cursors, pollInterval, batchLimit)
	}()

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case err := <-errChan:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("applier poll loop error")
		}
	}

	logger.Info().Msg("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("metrics server shutdown error")
	}

	logger.Info().Msg("shutdown complete")
}

func runPollLoop(
	ctx context.Context,
	applier *jsonbapplier.Applier,
	cursors *cursorstore.Store,
	pollInterval time.Duration,
	batchLimit int64,
) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		// Drain fully before sleeping: keep calling RunOnce while it returns a
		// full batch, and only wait out the poll interval once a short batch
		// (or an empty one) signals the queue is caught up.
		for {
			applied, maxChangeID, err := applier.RunOnce(ctx, batchLimit)
			if err != nil {
				return err
			}
			if applied > 0 {
				if err := cursors.AdvanceCursor("applier", maxChangeID); err != nil {
					return err
				}
			}
			if int64(applied) < batchLimit {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
