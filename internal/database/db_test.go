package database

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "ingestord.db")
	db, err := New(Config{DatabasePath: dbPath})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNew_RunsMigrations(t *testing.T) {
	db := newTestDB(t)

	ctx := context.Background()
	sources, err := db.Repository.ListActiveDataSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestNew_MigrationsAreIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "ingestord.db")

	db1, err := New(Config{DatabasePath: dbPath})
	require.NoError(t, err)
	db1.Close()

	db2, err := New(Config{DatabasePath: dbPath})
	require.NoError(t, err)
	defer db2.Close()

	_, err = db2.Repository.ListActiveDataSources(context.Background())
	require.NoError(t, err)
}

func TestRepository_DataSourceRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Connection().ExecContext(ctx, `INSERT INTO data_source (name, active) VALUES (?, 1)`, "orders-feed")
	require.NoError(t, err)

	ds, err := db.Repository.GetDataSourceByName(ctx, "orders-feed")
	require.NoError(t, err)
	require.NotNil(t, ds)
	assert.Equal(t, "orders-feed", ds.Name)
	assert.True(t, ds.Active)

	sources, err := db.Repository.ListActiveDataSources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 1)
}

func TestRepository_SettingUpsert(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, ok, err := db.Repository.GetSetting(ctx, "MAX_ZIP_SIZE")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, db.Repository.UpsertSetting(ctx, "MAX_ZIP_SIZE", "1073741824"))
	value, ok, err := db.Repository.GetSetting(ctx, "MAX_ZIP_SIZE")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "1073741824", value)

	require.NoError(t, db.Repository.UpsertSetting(ctx, "MAX_ZIP_SIZE", "2147483648"))
	value, ok, err = db.Repository.GetSetting(ctx, "MAX_ZIP_SIZE")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "2147483648", value)
}

func TestRepository_ErrorLogInsertAndPrune(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Connection().ExecContext(ctx, `INSERT INTO data_source (id, name, active) VALUES (1, 'orders-feed', 1)`)
	require.NoError(t, err)

	old := &ErrorLog{
		ID: "err-1", DataSourceID: 1, Environment: "prod",
		FileName: "a.csv", OriginalPath: "/in/a.csv", QuarantinePath: "/err/a.csv",
		Kind: ErrorKindDuplicateFile, CreatedAt: time.Now().Add(-48 * time.Hour),
	}
	fresh := &ErrorLog{
		ID: "err-2", DataSourceID: 1, Environment: "prod",
		FileName: "b.csv", OriginalPath: "/in/b.csv", QuarantinePath: "/err/b.csv",
		Kind: ErrorKindWrongFileType, CreatedAt: time.Now(),
	}
	require.NoError(t, db.Repository.InsertErrorLog(ctx, old))
	require.NoError(t, db.Repository.InsertErrorLog(ctx, fresh))

	stale, err := db.Repository.ListErrorLogsOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, "err-1", stale[0].ID)

	require.NoError(t, db.Repository.DeleteErrorLog(ctx, "err-1"))
	stale, err = db.Repository.ListErrorLogsOlderThan(ctx, time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, stale)
}

func TestRepository_BundleTrackingRoundTrip(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	_, err := db.Connection().ExecContext(ctx, `INSERT INTO data_source (id, name, active) VALUES (1, 'orders-feed', 1)`)
	require.NoError(t, err)

	bundle := &BundleTracking{
		ID: "bundle-1", DataSourceID: 1, Environment: "prod",
		ArchivePath: "/out/bundle-1.zip", ByteSize: 4096,
		FilesInfo:         BundledFileInfoList{{Name: "a.csv", Size: 2048}, {Name: "b.csv", Size: 2048}},
		SourceFolderPaths: StringList{"/watch/a", "/watch/b"},
		CreatedAt:         time.Now(),
	}
	require.NoError(t, db.Repository.InsertBundleTracking(ctx, bundle))

	pending, err := db.Repository.ListPendingUploads(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, bundle.ID, pending[0].ID)
	assert.Equal(t, bundle.FilesInfo, pending[0].FilesInfo)
	assert.Equal(t, bundle.SourceFolderPaths, pending[0].SourceFolderPaths)

	require.NoError(t, db.Repository.MarkBundleUploaded(ctx, bundle.ID))
	pending, err = db.Repository.ListPendingUploads(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestRepository_WithTransaction_RollsBackOnError(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	err := db.Repository.WithTransaction(ctx, func(tx *Repository) error {
		if err := tx.UpsertSetting(ctx, "MAX_ZIP_SIZE", "99"); err != nil {
			return err
		}
		return assert.AnError
	})
	assert.Error(t, err)

	_, ok, err := db.Repository.GetSetting(ctx, "MAX_ZIP_SIZE")
	require.NoError(t, err)
	assert.False(t, ok)
}
