package bundler

import (
	"archive/zip"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeInput(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
}

func readZipNames(t *testing.T, path string) []string {
	t.Helper()
	r, err := zip.OpenReader(path)
	require.NoError(t, err)
	defer r.Close()

	var names []string
	for _, f := range r.File {
		names = append(names, f.Name)
	}
	return names
}

var fixedTime = time.Date(2026, 3, 5, 14, 9, 7, 0, time.UTC)

func TestRun_DirectFilesOnly(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "a.xml", 100)
	writeInput(t, dir, "b.xml", 100)

	bundles, err := Run(dir, "ds1", 10*1_048_576, fixedTime, 0)
	require.NoError(t, err)
	require.Len(t, bundles, 1)

	assert.Equal(t, "ds1_20260305T140907.zip", bundles[0].ArchiveName)
	assert.ElementsMatch(t, readZipNames(t, bundles[0].ArchivePath), []string{"a.xml", "b.xml"})

	for _, name := range []string{"a.xml", "b.xml"} {
		_, statErr := os.Stat(filepath.Join(dir, name))
		assert.True(t, os.IsNotExist(statErr), "input %s should be removed after bundling", name)
	}
}

func TestRun_EmptyDirProducesNoBundle(t *testing.T) {
	dir := t.TempDir()
	bundles, err := Run(dir, "ds1", 1_048_576, fixedTime, 0)
	require.NoError(t, err)
	assert.Empty(t, bundles)
}

func TestRun_StrictGreaterThanSplitsIntoThreeBundles(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "1.xml", 600*1024)
	writeInput(t, dir, "2.xml", 600*1024)
	writeInput(t, dir, "3.xml", 600*1024)

	bundles, err := Run(dir, "ds1", 1_048_576, fixedTime, 0)
	require.NoError(t, err)

	require.Len(t, bundles, 3, "600KB+600KB=1200KB > 1MB cap forces a split for every pair")
	assert.ElementsMatch(t, readZipNames(t, bundles[0].ArchivePath), []string{"1.xml"})
	assert.ElementsMatch(t, readZipNames(t, bundles[1].ArchivePath), []string{"2.xml"})
	assert.ElementsMatch(t, readZipNames(t, bundles[2].ArchivePath), []string{"3.xml"})
}

func TestRun_FileExactlyAtCapFitsInCurrentArchive(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "exact.xml", 1_048_576)

	bundles, err := Run(dir, "ds1", 1_048_576, fixedTime, 0)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.ElementsMatch(t, readZipNames(t, bundles[0].ArchivePath), []string{"exact.xml"})
}

func TestRun_SingleOversizedFileBundledAlone(t *testing.T) {
	dir := t.TempDir()
	writeInput(t, dir, "huge.xml", 2*1_048_576)

	bundles, err := Run(dir, "ds1", 1_048_576, fixedTime, 0)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	assert.ElementsMatch(t, readZipNames(t, bundles[0].ArchivePath), []string{"huge.xml"})
}

func TestMaxBundleBytes(t *testing.T) {
	assert.Equal(t, int64(1)<<20, MaxBundleBytes("", false))
	assert.Equal(t, int64(1)<<20, MaxBundleBytes("not-a-number", true))
	assert.Equal(t, int64(1)<<20, MaxBundleBytes("0", true))
	assert.Equal(t, int64(1)<<20, MaxBundleBytes("-5", true))
	assert.Equal(t, int64(10)*1_048_576, MaxBundleBytes("10", true))
}
