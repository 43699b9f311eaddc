package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// DBQuerier defines the interface for database query operations.
// Both *sql.DB and *sql.Tx implement this interface.
type DBQuerier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Repository provides the narrow read/write contract the ingestion engine
// needs over data sources, watched folders, settings, error quarantine
// entries and bundle lineage.
type Repository struct {
	db DBQuerier
}

// NewRepository creates a new repository instance.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// WithTransaction executes fn within a database transaction, committing on
// success and rolling back on error.
func (r *Repository) WithTransaction(ctx context.Context, fn func(*Repository) error) error {
	sqlDB, ok := r.db.(*sql.DB)
	if !ok {
		return fmt.Errorf("repository not connected to sql.DB")
	}

	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	txRepo := &Repository{db: tx}

	if err := fn(txRepo); err != nil {
		if rollbackErr := tx.Rollback(); rollbackErr != nil {
			return fmt.Errorf("failed to rollback transaction (original error: %w): %w", err, rollbackErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// Data sources

// ListActiveDataSources returns every data source with active = true.
func (r *Repository) ListActiveDataSources(ctx context.Context) ([]*DataSource, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT id, name, active FROM data_source WHERE active = 1 ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list active data sources: %w", err)
	}
	defer rows.Close()

	var sources []*DataSource
	for rows.Next() {
		var ds DataSource
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.Active); err != nil {
			return nil, fmt.Errorf("failed to scan data source: %w", err)
		}
		sources = append(sources, &ds)
	}
	return sources, rows.Err()
}

// GetDataSourceByName looks up a data source by its unique name.
func (r *Repository) GetDataSourceByName(ctx context.Context, name string) (*DataSource, error) {
	var ds DataSource
	err := r.db.QueryRowContext(ctx, `SELECT id, name, active FROM data_source WHERE name = ?`, name).
		Scan(&ds.ID, &ds.Name, &ds.Active)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get data source %s: %w", name, err)
	}
	return &ds, nil
}

// Folder paths

// ListActiveFolderPaths returns the active watched folders for a data
// source in the given environment.
func (r *Repository) ListActiveFolderPaths(ctx context.Context, dataSourceID int64, environment string) ([]*FolderPath, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, data_source_id, environment, folder_path, active
		FROM folder_path
		WHERE data_source_id = ? AND environment = ? AND active = 1
		ORDER BY folder_path
	`, dataSourceID, environment)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder paths: %w", err)
	}
	defer rows.Close()

	var paths []*FolderPath
	for rows.Next() {
		var fp FolderPath
		if err := rows.Scan(&fp.ID, &fp.DataSourceID, &fp.Environment, &fp.FolderPath, &fp.Active); err != nil {
			return nil, fmt.Errorf("failed to scan folder path: %w", err)
		}
		paths = append(paths, &fp)
	}
	return paths, rows.Err()
}

// ListActiveFolderPathsForDataSource returns every active watched folder
// for a data source across all environments, so the pipeline can
// partition them by environment itself.
func (r *Repository) ListActiveFolderPathsForDataSource(ctx context.Context, dataSourceID int64) ([]*FolderPath, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, data_source_id, environment, folder_path, active
		FROM folder_path
		WHERE data_source_id = ? AND active = 1
		ORDER BY environment, folder_path
	`, dataSourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folder paths for data source %d: %w", dataSourceID, err)
	}
	defer rows.Close()

	var paths []*FolderPath
	for rows.Next() {
		var fp FolderPath
		if err := rows.Scan(&fp.ID, &fp.DataSourceID, &fp.Environment, &fp.FolderPath, &fp.Active); err != nil {
			return nil, fmt.Errorf("failed to scan folder path: %w", err)
		}
		paths = append(paths, &fp)
	}
	return paths, rows.Err()
}

// Settings

// GetSetting retrieves a setting by name. Returns ("", false, nil) if the
// row does not exist.
func (r *Repository) GetSetting(ctx context.Context, name string) (string, bool, error) {
	var value string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM setting WHERE name = ?`, name).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to get setting %s: %w", name, err)
	}
	return value, true, nil
}

// UpsertSetting inserts or replaces a setting row.
func (r *Repository) UpsertSetting(ctx context.Context, name, value string) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO setting (name, value) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET value = excluded.value
	`, name, value)
	if err != nil {
		return fmt.Errorf("failed to upsert setting %s: %w", name, err)
	}
	return nil
}

// Error log / quarantine

// InsertErrorLog records one quarantined file.
func (r *Repository) InsertErrorLog(ctx context.Context, entry *ErrorLog) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO error_log (id, data_source_id, environment, file_name, folder_path, original_archive_file_name, original_path, quarantine_path, kind, detail, solved, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.DataSourceID, entry.Environment, entry.FileName, entry.FolderPath,
		entry.OriginalArchiveFileName, entry.OriginalPath, entry.QuarantinePath, entry.Kind,
		entry.Detail, entry.Solved, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert error log %s: %w", entry.ID, err)
	}
	return nil
}

// ListErrorLogsOlderThan returns error log rows created before cutoff.
func (r *Repository) ListErrorLogsOlderThan(ctx context.Context, cutoff time.Time) ([]*ErrorLog, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, data_source_id, environment, file_name, folder_path, original_archive_file_name, original_path, quarantine_path, kind, detail, solved, created_at
		FROM error_log WHERE created_at < ?
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale error logs: %w", err)
	}
	defer rows.Close()

	var entries []*ErrorLog
	for rows.Next() {
		e, err := scanErrorLog(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// errorLogScanner is satisfied by both *sql.Row and *sql.Rows.
type errorLogScanner interface {
	Scan(dest ...interface{}) error
}

// scanErrorLog reads one error_log row, translating the nullable
// original_archive_file_name column through sql.NullString.
func scanErrorLog(row errorLogScanner) (*ErrorLog, error) {
	var e ErrorLog
	var originalArchive sql.NullString
	if err := row.Scan(&e.ID, &e.DataSourceID, &e.Environment, &e.FileName, &e.FolderPath,
		&originalArchive, &e.OriginalPath, &e.QuarantinePath, &e.Kind, &e.Detail, &e.Solved, &e.CreatedAt); err != nil {
		return nil, fmt.Errorf("failed to scan error log: %w", err)
	}
	if originalArchive.Valid {
		e.OriginalArchiveFileName = &originalArchive.String
	}
	return &e, nil
}

// DeleteErrorLog removes a single error log row by id. It does not touch
// the quarantined file on disk.
func (r *Repository) DeleteErrorLog(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM error_log WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete error log %s: %w", id, err)
	}
	return nil
}

// Bundle tracking

// InsertBundleTracking records a freshly-written output archive.
func (r *Repository) InsertBundleTracking(ctx context.Context, bundle *BundleTracking) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bundle_tracking (id, data_source_id, environment, archive_path, backup_path, byte_size, files_info, source_folder_paths, uploaded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, bundle.ID, bundle.DataSourceID, bundle.Environment, bundle.ArchivePath, bundle.BackupPath,
		bundle.ByteSize, bundle.FilesInfo, bundle.SourceFolderPaths, bundle.Uploaded, bundle.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert bundle tracking %s: %w", bundle.ID, err)
	}
	return nil
}

// MarkBundleUploaded flips the uploaded flag once the data lake upload
// (real or stub) confirms receipt.
func (r *Repository) MarkBundleUploaded(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bundle_tracking SET uploaded = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark bundle %s uploaded: %w", id, err)
	}
	return nil
}

// UpdateBundleBackupPath records where a bundle's output archive landed
// once it has been moved from temp/<env>/ into backup/<env>/.
func (r *Repository) UpdateBundleBackupPath(ctx context.Context, id, backupPath string) error {
	_, err := r.db.ExecContext(ctx, `UPDATE bundle_tracking SET backup_path = ? WHERE id = ?`, backupPath, id)
	if err != nil {
		return fmt.Errorf("failed to update backup path for bundle %s: %w", id, err)
	}
	return nil
}

// ListPendingUploads returns bundles that have not yet been uploaded.
func (r *Repository) ListPendingUploads(ctx context.Context) ([]*BundleTracking, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, data_source_id, environment, archive_path, backup_path, byte_size, files_info, source_folder_paths, uploaded, created_at
		FROM bundle_tracking WHERE uploaded = 0 ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending uploads: %w", err)
	}
	defer rows.Close()

	var bundles []*BundleTracking
	for rows.Next() {
		var b BundleTracking
		if err := rows.Scan(&b.ID, &b.DataSourceID, &b.Environment, &b.ArchivePath, &b.BackupPath,
			&b.ByteSize, &b.FilesInfo, &b.SourceFolderPaths, &b.Uploaded, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bundle tracking: %w", err)
		}
		bundles = append(bundles, &b)
	}
	return bundles, rows.Err()
}

// ListBundlesOlderThan returns bundle rows created before cutoff. The
// housekeeping sweep does not use it; it prunes backups by the timestamp
// in their file names.
func (r *Repository) ListBundlesOlderThan(ctx context.Context, cutoff time.Time) ([]*BundleTracking, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, data_source_id, environment, archive_path, backup_path, byte_size, files_info, source_folder_paths, uploaded, created_at
		FROM bundle_tracking WHERE created_at < ?
	`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale bundles: %w", err)
	}
	defer rows.Close()

	var bundles []*BundleTracking
	for rows.Next() {
		var b BundleTracking
		if err := rows.Scan(&b.ID, &b.DataSourceID, &b.Environment, &b.ArchivePath, &b.BackupPath,
			&b.ByteSize, &b.FilesInfo, &b.SourceFolderPaths, &b.Uploaded, &b.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan bundle tracking: %w", err)
		}
		bundles = append(bundles, &b)
	}
	return bundles, rows.Err()
}
