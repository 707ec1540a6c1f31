package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CleanupReport summarizes one Cleanup pass.
type CleanupReport struct {
	ContainersRemoved int
	FilesRemoved      int
}

// Cleanup prunes stopped managed containers and deletes result files left
// over from before this orchestrator started. Files written by builds of
// this process are never touched, so repeated calls are safe.
func (o *Orchestrator) Cleanup(ctx context.Context) (CleanupReport, error) {
	var report CleanupReport

	n, err := o.rt.PruneContainers(ctx)
	if err != nil {
		o.logger.Warn("container prune failed", "error", err)
	}
	report.ContainersRemoved = n

	entries, err := os.ReadDir(o.cfg.ResultsDir)
	if errors.Is(err, os.ErrNotExist) {
		return report, nil
	}
	if err != nil {
		return report, fmt.Errorf("failed to read results dir %s: %w", o.cfg.ResultsDir, err)
	}

	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil || !info.ModTime().Before(o.startedAt) {
			continue
		}
		path := filepath.Join(o.cfg.ResultsDir, entry.Name())
		if err := os.Remove(path); err != nil {
			o.logger.Warn("failed to remove orphaned result file", "path", path, "error", err)
			continue
		}
		report.FilesRemoved++
	}

	o.logger.Info("cleanup finished", "containers_removed", report.ContainersRemoved, "files_removed", report.FilesRemoved)
	return report, nil
}
