// Package housekeeping implements the daily retention sweep: it deletes
// backup archives and operational log files older than their configured
// retention windows. Error-tree artifacts (error/files, error/log) are
// never touched by this sweep — quarantined files are retained until an
// operator disposes of them deliberately.
package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/javi11/ingestord/internal/database"
	"github.com/javi11/ingestord/internal/layout"
)

// backupTimestampPattern extracts the yyyyMMdd'T'HHmmss moment embedded
// in an output archive's name, <data_source>_<timestamp>.zip.
var backupTimestampPattern = regexp.MustCompile(`_(\d{8}T\d{6})(?:\(\d+\))?\.zip$`)

// logDatePattern extracts the yyyy-MM-dd date embedded in a runlog file's
// name, <data_source>_<date>.txt.
var logDatePattern = regexp.MustCompile(`_(\d{4}-\d{2}-\d{2})\.txt$`)

const backupTimestampLayout = "20060102T150405"
const logDateLayout = "2006-01-02"

// Housekeeper prunes one data source's backup and log trees against the
// configured retention windows.
type Housekeeper struct {
	processingRoot    string
	retainBackupYears int
	retainLogMonths   int
	log               *slog.Logger
}

// New builds a Housekeeper. retainBackupYears and retainLogMonths must be
// positive, per config.Config.Validate.
func New(processingRoot string, retainBackupYears, retainLogMonths int) *Housekeeper {
	return &Housekeeper{
		processingRoot:    processingRoot,
		retainBackupYears: retainBackupYears,
		retainLogMonths:   retainLogMonths,
		log:               slog.Default().With("component", "housekeeping"),
	}
}

// Run prunes ds's backup/ and log/ trees against now. It satisfies
// scheduler.Housekeeper.
func (h *Housekeeper) Run(ctx context.Context, ds *database.DataSource) error {
	return h.RunAt(ctx, ds.Name, time.Now())
}

// RunAt is Run with an explicit reference moment, exposed for testing.
func (h *Housekeeper) RunAt(ctx context.Context, dataSourceName string, now time.Time) error {
	tree := layout.New(h.processingRoot, dataSourceName)

	backupCutoff := now.AddDate(-h.retainBackupYears, 0, 0)
	if err := h.pruneTree(ctx, tree.BackupDir, backupTimestampPattern, backupTimestampLayout, backupCutoff); err != nil {
		return fmt.Errorf("housekeeping: failed to prune backups for %s: %w", dataSourceName, err)
	}

	logCutoff := now.AddDate(0, -h.retainLogMonths, 0)
	if err := h.pruneTree(ctx, tree.LogDir, logDatePattern, logDateLayout, logCutoff); err != nil {
		return fmt.Errorf("housekeeping: failed to prune logs for %s: %w", dataSourceName, err)
	}

	return nil
}

// pruneTree walks dir (which may contain per-environment subdirectories)
// deleting any file whose name matches pattern and whose embedded moment
// parses before cutoff. Files that don't match the pattern are left
// alone rather than guessed at.
func (h *Housekeeper) pruneTree(ctx context.Context, dir string, pattern *regexp.Regexp, layout string, cutoff time.Time) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if info.IsDir() {
			return nil
		}

		match := pattern.FindStringSubmatch(info.Name())
		if match == nil {
			return nil
		}

		moment, parseErr := time.Parse(layout, match[1])
		if parseErr != nil {
			h.log.WarnContext(ctx, "housekeeping: failed to parse embedded timestamp, leaving file in place",
				"path", path, "error", parseErr)
			return nil
		}

		if moment.Before(cutoff) {
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove %s: %w", path, err)
			}
			h.log.InfoContext(ctx, "housekeeping: removed aged artifact", "path", path, "moment", moment)
		}
		return nil
	})
}
