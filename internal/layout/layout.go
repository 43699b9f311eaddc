// Package layout materializes the per-data-source directory tree the
// pipeline reads and writes: temp, backup, log, and error trees rooted at
// <processing_root>/<data_source_name>/.
package layout

import (
	"fmt"
	"os"
	"path/filepath"
)

// Tree is the set of paths for one data source under processing_root.
type Tree struct {
	BasePath      string
	TempDir       string
	BackupDir     string
	LogDir        string
	ErrorDir      string
	ErrorFilesDir string
	ErrorLogDir   string
}

// New computes (without creating) the Tree for a data source.
func New(processingRoot, dataSourceName string) Tree {
	base := filepath.Join(processingRoot, dataSourceName)
	return Tree{
		BasePath:      base,
		TempDir:       filepath.Join(base, "temp"),
		BackupDir:     filepath.Join(base, "backup"),
		LogDir:        filepath.Join(base, "log"),
		ErrorDir:      filepath.Join(base, "error"),
		ErrorFilesDir: filepath.Join(base, "error", "files"),
		ErrorLogDir:   filepath.Join(base, "error", "log"),
	}
}

// Ensure creates base_path and every subpath, with parents as needed.
// Idempotent and safe to call concurrently for different data sources;
// callers must call it at most once per pipeline invocation before any
// work touches the tree.
func (t Tree) Ensure() error {
	dirs := []string{t.BasePath, t.TempDir, t.BackupDir, t.LogDir, t.ErrorDir, t.ErrorFilesDir, t.ErrorLogDir}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("layout: failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// EnvDirs returns temp/<env>/ and backup/<env>/, creating both.
func (t Tree) EnvDirs(env string) (tempDir, backupDir string, err error) {
	tempDir = filepath.Join(t.TempDir, env)
	backupDir = filepath.Join(t.BackupDir, env)
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return "", "", fmt.Errorf("layout: failed to create %s: %w", tempDir, err)
	}
	if err := os.MkdirAll(backupDir, 0o755); err != nil {
		return "", "", fmt.Errorf("layout: failed to create %s: %w", backupDir, err)
	}
	return tempDir, backupDir, nil
}

// ErrorFilesEnvDir returns error/files/<env>/, creating it.
func (t Tree) ErrorFilesEnvDir(env string) (string, error) {
	dir := filepath.Join(t.ErrorFilesDir, env)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("layout: failed to create %s: %w", dir, err)
	}
	return dir, nil
}
