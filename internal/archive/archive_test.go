package archive

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeZip(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
}

func writeTar(t *testing.T, path string, files map[string]string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tw := tar.NewWriter(f)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err = tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
}

func writeTarGz(t *testing.T, path string, files map[string]string) {
	t.Helper()
	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		require.NoError(t, tw.WriteHeader(hdr))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	gw := gzip.NewWriter(f)
	_, err = gw.Write(tarBuf.Bytes())
	require.NoError(t, err)
	require.NoError(t, gw.Close())
}

func TestIsArchive(t *testing.T) {
	assert.True(t, IsArchive("a.zip"))
	assert.True(t, IsArchive("a.TAR"))
	assert.True(t, IsArchive("a.tar.gz"))
	assert.True(t, IsArchive("a.tz"))
	assert.True(t, IsArchive("a.7z"))
	assert.False(t, IsArchive("a.xml"))
	assert.False(t, IsArchive("a.txt"))
}

func TestUniquePath_NoCollision(t *testing.T) {
	dir := t.TempDir()
	candidate := filepath.Join(dir, "file.xml")

	resolved, ok, err := UniquePath(candidate)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, candidate, resolved)
}

func TestUniquePath_CollisionResolvesWithSuffix(t *testing.T) {
	dir := t.TempDir()
	candidate := filepath.Join(dir, "file.xml")
	require.NoError(t, os.WriteFile(candidate, []byte("incumbent"), 0o644))

	resolved, ok, err := UniquePath(candidate)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, filepath.Join(dir, "file(1).xml"), resolved)

	require.NoError(t, os.WriteFile(resolved, []byte("newcomer"), 0o644))
	resolved2, ok, err := UniquePath(candidate)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, filepath.Join(dir, "file(2).xml"), resolved2)
}

func TestExtract_Zip_HappyPath(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "bundle.zip")
	writeZip(t, archivePath, map[string]string{"a.xml": "hello", "b.xml": "world"})

	var collisions []Collision
	err := Extract(archivePath, func(c Collision) { collisions = append(collisions, c) })
	require.NoError(t, err)

	assert.Empty(t, collisions)
	_, err = os.Stat(archivePath)
	assert.True(t, os.IsNotExist(err), "archive should be deleted after successful extraction")

	data, err := os.ReadFile(filepath.Join(dir, "a.xml"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestExtract_Tar_HappyPath(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "bundle.tar")
	writeTar(t, archivePath, map[string]string{"a.xml": "hello"})

	err := Extract(archivePath, nil)
	require.NoError(t, err)

	_, err = os.Stat(archivePath)
	assert.True(t, os.IsNotExist(err))

	data, err := os.ReadFile(filepath.Join(dir, "a.xml"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestExtract_TarGz_HappyPath(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "bundle.tar.gz")
	writeTarGz(t, archivePath, map[string]string{"a.xml": "hello"})

	err := Extract(archivePath, nil)
	require.NoError(t, err)

	_, err = os.Stat(archivePath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "bundle.tar"))
	assert.True(t, os.IsNotExist(err), "intermediate .tar must be removed")

	data, err := os.ReadFile(filepath.Join(dir, "a.xml"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestExtract_Tz_UsesGzipTarPath(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "bundle.tz")
	writeTarGz(t, archivePath, map[string]string{"a.xml": "hello"})

	err := Extract(archivePath, nil)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "a.xml"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

func TestExtract_NameCollisionRoutesToQuarantine(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.xml"), []byte("incumbent"), 0o644))

	archivePath := filepath.Join(dir, "bundle.zip")
	writeZip(t, archivePath, map[string]string{"a.xml": "newcomer"})

	var collisions []Collision
	err := Extract(archivePath, func(c Collision) { collisions = append(collisions, c) })
	require.NoError(t, err)

	require.Len(t, collisions, 1)
	assert.Equal(t, filepath.Join(dir, "a.xml"), collisions[0].Candidate)
	assert.Equal(t, filepath.Join(dir, "a(1).xml"), collisions[0].Resolved)

	incumbent, err := os.ReadFile(filepath.Join(dir, "a.xml"))
	require.NoError(t, err)
	assert.Equal(t, "incumbent", string(incumbent))

	newcomer, err := os.ReadFile(filepath.Join(dir, "a(1).xml"))
	require.NoError(t, err)
	assert.Equal(t, "newcomer", string(newcomer))
}

func TestExtract_RecursesIntoNestedArchive(t *testing.T) {
	dir := t.TempDir()

	innerPath := filepath.Join(t.TempDir(), "inner.zip")
	writeZip(t, innerPath, map[string]string{"deep.xml": "nested"})
	innerBytes, err := os.ReadFile(innerPath)
	require.NoError(t, err)

	outerPath := filepath.Join(dir, "outer.zip")
	f, err := os.Create(outerPath)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	w, err := zw.Create("inner.zip")
	require.NoError(t, err)
	_, err = w.Write(innerBytes)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	err = Extract(outerPath, nil)
	require.NoError(t, err)

	_, err = os.Stat(outerPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "inner.zip"))
	assert.True(t, os.IsNotExist(err), "nested archive should itself be extracted and removed")

	data, err := os.ReadFile(filepath.Join(dir, "deep.xml"))
	require.NoError(t, err)
	assert.Equal(t, "nested", string(data))
}

func TestExtract_FailureLeavesArchiveOnDisk(t *testing.T) {
	dir := t.TempDir()
	archivePath := filepath.Join(dir, "broken.zip")
	require.NoError(t, os.WriteFile(archivePath, []byte("not a real zip"), 0o644))

	err := Extract(archivePath, nil)
	assert.Error(t, err)

	_, statErr := os.Stat(archivePath)
	assert.NoError(t, statErr, "archive must remain on disk when extraction fails")
}
