package datalake

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNopUploader_AlwaysSucceeds(t *testing.T) {
	var u NopUploader
	err := u.Upload(context.Background(), "prod", "ds1", "/tmp/a.zip")
	assert.NoError(t, err)
}

func TestLoggingUploader_WritesSuccessLine(t *testing.T) {
	logDir := t.TempDir()
	u := NewLoggingUploader(NopUploader{}, logDir)

	err := u.Upload(context.Background(), "prod", "ds1", "/tmp/bundle.zip")
	require.NoError(t, err)

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(logDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "uploaded /tmp/bundle.zip to data lake")
}

type failingUploader struct{}

func (failingUploader) Upload(ctx context.Context, environment, dataSource, filePath string) error {
	return errors.New("network unreachable")
}

func TestLoggingUploader_WritesFailureLineAndPropagatesError(t *testing.T) {
	logDir := t.TempDir()
	u := NewLoggingUploader(failingUploader{}, logDir)

	err := u.Upload(context.Background(), "prod", "ds1", "/tmp/bundle.zip")
	require.Error(t, err)

	entries, err := os.ReadDir(logDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	data, err := os.ReadFile(filepath.Join(logDir, entries[0].Name()))
	require.NoError(t, err)
	assert.Contains(t, string(data), "upload failed")
	assert.Contains(t, string(data), "network unreachable")
}
