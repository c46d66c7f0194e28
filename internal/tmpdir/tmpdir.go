// Package tmpdir reaps scratch directories under the OS temp dir that carry
// the package's shared name prefix, so directories left by a process killed
// with SIGKILL are still identifiable for cleanup on the next startup.
// Nothing in this repository creates such directories; only reaping is
// implemented.
package tmpdir

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const namePrefix = "seren-replicator-"

// ReapStale removes scratch directories matching the package's naming
// pattern that are older than maxAge. It is meant to run once at process
// startup to
// clean up after a prior process that never reached its own cleanup (e.g.
// it was SIGKILLed mid-operation). Per-directory removal errors are
// swallowed; a failure here should never block startup.
func ReapStale(maxAge time.Duration) (int, error) {
	root := os.TempDir()
	entries, err := os.ReadDir(root)
	if err != nil {
		return 0, fmt.Errorf("tmpdir: read %s: %w", root, err)
	}

	now := time.Now()
	cleaned := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), namePrefix) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) <= maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(root, entry.Name())); err == nil {
			cleaned++
		}
	}
	return cleaned, nil
}
