// Package persistence wraps the database repository with the lineage
// write path described for the engine: building BundleTracking and
// ErrorLog rows from a pass's in-memory state, retrying id generation on
// collision, and swallowing failures so a tracking error never aborts
// ingestion.
package persistence

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
	"github.com/javi11/ingestord/internal/bundler"
	"github.com/javi11/ingestord/internal/database"
	"github.com/javi11/ingestord/internal/lineage"
)

// Store is the lineage persistence layer for one running engine.
type Store struct {
	repo *database.Repository
	log  *slog.Logger
}

// New wraps repo.
func New(repo *database.Repository) *Store {
	return &Store{repo: repo, log: slog.Default().With("component", "persistence")}
}

// RecordBundle builds and inserts a BundleTracking row for one closed
// output archive, pulling file lineage from tracker. Insert failures are
// logged and swallowed: a tracking miss never aborts the pipeline.
func (s *Store) RecordBundle(ctx context.Context, dataSourceID int64, environment string, bundle bundler.Bundle, tracker *lineage.Tracker, at time.Time) {
	filesInfo := make(database.BundledFileInfoList, 0, len(bundle.Files))
	for _, f := range bundle.Files {
		info, ok := tracker.Info(f.Name)
		if !ok {
			s.log.WarnContext(ctx, "bundled file has no tracked lineage", "file", f.Name, "archive", bundle.ArchivePath)
			filesInfo = append(filesInfo, database.BundledFileInfo{Name: f.Name, Size: f.Size})
			continue
		}

		entry := database.BundledFileInfo{
			Name:               f.Name,
			Size:               f.Size,
			Source:             string(info.Source),
			OriginalFolderPath: info.OriginFolder,
		}
		if info.Source == lineage.SourceExtracted {
			entry.OriginalZip = info.RootArchive
		}
		filesInfo = append(filesInfo, entry)
	}

	row := &database.BundleTracking{
		DataSourceID:      dataSourceID,
		Environment:       environment,
		ArchivePath:       bundle.ArchivePath,
		ByteSize:          bundle.ByteSize,
		FilesInfo:         filesInfo,
		SourceFolderPaths: database.StringList(tracker.SourceFolders()),
		Uploaded:          false,
		CreatedAt:         at,
	}

	if err := s.insertWithRetryID(ctx, func(id string) error {
		row.ID = id
		return s.repo.InsertBundleTracking(ctx, row)
	}); err != nil {
		s.log.ErrorContext(ctx, "failed to record bundle tracking row", "archive", bundle.ArchivePath, "error", err)
		return
	}
}

// RecordError builds and inserts an ErrorLog row for one quarantined
// file. Insert failures are logged and swallowed.
func (s *Store) RecordError(ctx context.Context, entry *database.ErrorLog, at time.Time) {
	entry.CreatedAt = at

	if err := s.insertWithRetryID(ctx, func(id string) error {
		entry.ID = id
		return s.repo.InsertErrorLog(ctx, entry)
	}); err != nil {
		s.log.ErrorContext(ctx, "failed to record error log row", "file", entry.FileName, "error", err)
	}
}

// MarkUploaded flips a bundle's uploaded flag once the data lake upload
// stub confirms receipt. Failures are logged and swallowed.
func (s *Store) MarkUploaded(ctx context.Context, id string) {
	if err := s.repo.MarkBundleUploaded(ctx, id); err != nil {
		s.log.ErrorContext(ctx, "failed to mark bundle uploaded", "id", id, "error", err)
	}
}

// UpdateBackupPath records where a bundle's archive landed after being
// moved into backup/<env>/. Failures are logged and swallowed.
func (s *Store) UpdateBackupPath(ctx context.Context, id, backupPath string) {
	if err := s.repo.UpdateBundleBackupPath(ctx, id, backupPath); err != nil {
		s.log.ErrorContext(ctx, "failed to update bundle backup path", "id", id, "error", err)
	}
}

// insertWithRetryID calls insert with a freshly generated id up to a few
// times, retrying only on a primary-key collision (vanishingly unlikely
// with uuid.New, but the generator must tolerate it per the write-path
// contract).
func (s *Store) insertWithRetryID(ctx context.Context, insert func(id string) error) error {
	return retry.Do(
		func() error {
			return insert(uuid.New().String())
		},
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(10*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.RetryIf(isIDCollision),
	)
}

func isIDCollision(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint")
}
