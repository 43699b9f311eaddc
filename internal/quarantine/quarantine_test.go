package quarantine

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/javi11/ingestord/internal/database"
	"github.com/javi11/ingestord/internal/lineage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuarantine_Duplicate_MovesFileAndDropsLineage(t *testing.T) {
	tempDir := t.TempDir()
	errorFilesDir := filepath.Join(t.TempDir(), "error", "files", "prod")

	path := filepath.Join(tempDir, "a(1).xml")
	require.NoError(t, os.WriteFile(path, []byte("dup"), 0o644))

	tracker := lineage.New()
	tracker.TrackDirect("a(1).xml", "/src1", 3)

	q := New(tracker, 7, "prod")
	entry, err := q.Duplicate(errorFilesDir, path)
	require.NoError(t, err)

	assert.Equal(t, database.ErrorKindDuplicateFile, entry.Kind)
	assert.Equal(t, int64(7), entry.DataSourceID)
	assert.Equal(t, "prod", entry.Environment)
	assert.Equal(t, "a(1).xml", entry.FileName)
	assert.Equal(t, "/src1", entry.FolderPath)
	assert.Nil(t, entry.OriginalArchiveFileName, "a direct-from-folder offender has no root archive")
	assert.Equal(t, filepath.Join(errorFilesDir, "a(1).xml"), entry.QuarantinePath)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
	data, err := os.ReadFile(entry.QuarantinePath)
	require.NoError(t, err)
	assert.Equal(t, "dup", string(data))

	_, ok := tracker.Info("a(1).xml")
	assert.False(t, ok)
}

func TestQuarantine_WrongFileType_CarriesFolderAndRootArchive(t *testing.T) {
	tempDir := t.TempDir()
	errorFilesDir := filepath.Join(t.TempDir(), "error", "files", "prod")

	path := filepath.Join(tempDir, "readme.txt")
	require.NoError(t, os.WriteFile(path, []byte("notes"), 0o644))

	tracker := lineage.New()
	tracker.TrackDirect("arc.zip", "/src1", 500)
	tracker.TrackExtracted("readme.txt", "arc.zip", 5)

	q := New(tracker, 9, "prod")
	entry, err := q.WrongFileType(errorFilesDir, path)
	require.NoError(t, err)

	assert.Equal(t, "/src1", entry.FolderPath)
	require.NotNil(t, entry.OriginalArchiveFileName)
	assert.Equal(t, "arc.zip", *entry.OriginalArchiveFileName)
}

func TestQuarantine_WrongFileType_ResolvesNameCollision(t *testing.T) {
	errorFilesDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(errorFilesDir, "b.csv"), []byte("old"), 0o644))

	tempDir := t.TempDir()
	path := filepath.Join(tempDir, "b.csv")
	require.NoError(t, os.WriteFile(path, []byte("new"), 0o644))

	q := New(lineage.New(), 1, "staging")
	entry, err := q.WrongFileType(errorFilesDir, path)
	require.NoError(t, err)

	assert.Equal(t, database.ErrorKindWrongFileType, entry.Kind)
	assert.Equal(t, filepath.Join(errorFilesDir, "b(1).csv"), entry.QuarantinePath)
}

func TestQuarantine_ExtractionError_SkipsMoveWhenArchiveAlreadyGone(t *testing.T) {
	errorFilesDir := t.TempDir()
	missingPath := filepath.Join(t.TempDir(), "gone.zip")

	q := New(lineage.New(), 2, "prod")
	entry, err := q.ExtractionError(errorFilesDir, missingPath, assert.AnError)
	require.NoError(t, err)

	assert.Equal(t, database.ErrorKindExtractionErr, entry.Kind)
	assert.Empty(t, entry.QuarantinePath)
	assert.Contains(t, entry.Detail, assert.AnError.Error())
}
