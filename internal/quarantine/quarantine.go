// Package quarantine moves files the pipeline cannot bundle — duplicates,
// files of the wrong type, and archives that failed to extract — into the
// per-environment error tree, and builds the error_log row describing why.
package quarantine

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/javi11/ingestord/internal/archive"
	"github.com/javi11/ingestord/internal/database"
	"github.com/javi11/ingestord/internal/lineage"
)

// Quarantine moves offending files for one (DataSource, environment) pass
// and drops their lineage. It does not assign ErrorLog.ID or CreatedAt;
// the persistence layer fills those in at insert time.
type Quarantine struct {
	tracker      *lineage.Tracker
	dataSourceID int64
	environment  string
}

// New returns a Quarantine bound to one pass's tracker, data source and
// environment.
func New(tracker *lineage.Tracker, dataSourceID int64, environment string) *Quarantine {
	return &Quarantine{tracker: tracker, dataSourceID: dataSourceID, environment: environment}
}

// Duplicate quarantines a file whose destination name was already taken,
// per the DUPLICATE_FILE kind. candidatePath is where the file currently
// sits (its collision-suffixed working path).
func (q *Quarantine) Duplicate(errorFilesEnvDir, candidatePath string) (*database.ErrorLog, error) {
	return q.move(errorFilesEnvDir, candidatePath, database.ErrorKindDuplicateFile,
		"destination name already occupied")
}

// WrongFileType quarantines a non-.xml survivor of extraction, per the
// WRONG_FILE_TYPE kind.
func (q *Quarantine) WrongFileType(errorFilesEnvDir, path string) (*database.ErrorLog, error) {
	return q.move(errorFilesEnvDir, path, database.ErrorKindWrongFileType,
		"file extension is not accepted by this data source")
}

// ExtractionError quarantines an archive that failed to extract, per the
// EXTRACTION_ERROR kind. If the archive file is no longer present (a prior
// partial run already moved or removed it), the move step is skipped but
// an error row is still produced.
func (q *Quarantine) ExtractionError(errorFilesEnvDir, path string, cause error) (*database.ErrorLog, error) {
	detail := "extraction failed"
	if cause != nil {
		detail = fmt.Sprintf("extraction failed: %v", cause)
	}
	return q.move(errorFilesEnvDir, path, database.ErrorKindExtractionErr, detail)
}

func (q *Quarantine) move(errorFilesEnvDir, path string, kind database.ErrorKind, detail string) (*database.ErrorLog, error) {
	fileName := filepath.Base(path)

	folder, _ := q.tracker.FolderOf(fileName)
	var rootArchive *string
	if root, ok := q.tracker.RootArchiveOf(fileName); ok && root != "" {
		rootArchive = &root
	}
	q.tracker.Remove(fileName)

	entry := &database.ErrorLog{
		DataSourceID:            q.dataSourceID,
		Environment:             q.environment,
		FileName:                fileName,
		FolderPath:              folder,
		OriginalArchiveFileName: rootArchive,
		OriginalPath:            path,
		Kind:                    kind,
		Detail:                  detail,
	}

	if _, err := os.Lstat(path); os.IsNotExist(err) {
		return entry, nil
	} else if err != nil {
		return nil, fmt.Errorf("quarantine: failed to stat %s: %w", path, err)
	}

	if err := os.MkdirAll(errorFilesEnvDir, 0o755); err != nil {
		return nil, fmt.Errorf("quarantine: failed to create %s: %w", errorFilesEnvDir, err)
	}

	candidate := filepath.Join(errorFilesEnvDir, fileName)
	resolved, _, err := archive.UniquePath(candidate)
	if err != nil {
		return nil, fmt.Errorf("quarantine: failed to resolve destination for %s: %w", path, err)
	}

	if err := os.Rename(path, resolved); err != nil {
		return nil, fmt.Errorf("quarantine: failed to move %s to %s: %w", path, resolved, err)
	}

	entry.QuarantinePath = resolved
	return entry, nil
}
