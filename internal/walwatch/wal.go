// Package walwatch polls a SQLite database's -wal file for growth and turns
// growth events into change notifications for downstream queuing.
package walwatch

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Config controls the watcher's poll cadence and sensitivity.
type Config struct {
	PollInterval  time.Duration
	MinEventBytes uint64
}

// DefaultConfig mirrors the original watcher's defaults: poll every 500ms,
// emit on any growth at all.
func DefaultConfig() Config {
	return Config{
		PollInterval:  500 * time.Millisecond,
		MinEventBytes: 0,
	}
}

// Event reports that a database's WAL file grew between two polls.
type Event struct {
	BytesAdded  uint64
	CurrentSize uint64
}

// Handle owns a running watcher goroutine. Stop must be called to release
// it; a Handle left unstopped leaks its goroutine for the life of the
// process, since nothing else holds a reference that would let it be found.
type Handle struct {
	stopC   chan struct{}
	stopped chan struct{}
}

// Stop signals the watcher goroutine to exit and blocks until it has.
func (h *Handle) Stop() {
	close(h.stopC)
	<-h.stopped
}

// Start begins watching dbPath's WAL file on a dedicated goroutine — not a
// worker-pool goroutine, since this one blocks for the watcher's entire
// lifetime and would otherwise starve a bounded pool. Events are delivered
// on the returned channel, which is closed when the watcher stops.
func Start(dbPath string, cfg Config, logger zerolog.Logger) (*Handle, <-chan Event, error) {
	info, err := os.Stat(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("walwatch: stat database path %s: %w", dbPath, err)
	}
	if info.IsDir() {
		return nil, nil, fmt.Errorf("walwatch: database path %s is a directory", dbPath)
	}

	logger = logger.With().Str("component", "walwatch").Logger()
	walPath := dbPath + "-wal"
	events := make(chan Event)
	h := &Handle{
		stopC:   make(chan struct{}),
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(h.stopped)
		defer close(events)

		lastLen, _ := walFileSize(walPath)

		for {
			select {
			case <-h.stopC:
				return
			default:
			}

			size, err := walFileSize(walPath)
			switch {
			case err == nil:
				if size < lastLen {
					// WAL truncated (checkpoint), reset baseline silently.
					lastLen = size
				} else if size > lastLen {
					delta := size - lastLen
					lastLen = size
					if delta >= cfg.MinEventBytes {
						select {
						case events <- Event{BytesAdded: delta, CurrentSize: size}:
						case <-h.stopC:
							return
						}
					}
				}
			case os.IsNotExist(err):
				lastLen = 0
			default:
				logger.Warn().Err(err).Str("wal_path", walPath).Msg("failed to stat wal file, continuing")
			}

			select {
			case <-h.stopC:
				return
			case <-time.After(cfg.PollInterval):
			}
		}
	}()

	return h, events, nil
}

func walFileSize(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil
}
