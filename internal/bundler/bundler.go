// Package bundler packs the drained, extracted and classified contents of
// temp/<env>/ into one or more size-capped output archives.
package bundler

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"strconv"

	"github.com/javi11/ingestord/internal/archive"
	"github.com/javi11/ingestord/internal/config"
)

// MaxBundleBytes interprets the MAX_ZIP_SIZE setting value (megabytes) as a
// byte cap. present is false, value is unparsable, or value is zero or
// negative all fall back to config.DefaultMaxZipSizeBytes.
func MaxBundleBytes(value string, present bool) int64 {
	if !present {
		return config.DefaultMaxZipSizeBytes
	}
	megabytes, err := strconv.ParseInt(value, 10, 64)
	if err != nil || megabytes <= 0 {
		return config.DefaultMaxZipSizeBytes
	}
	return megabytes * 1_048_576
}

// DefaultFlushDelay is how long Run pauses after closing an output
// archive before treating it as final, giving the OS time to flush the
// file handle to disk.
const DefaultFlushDelay = time.Second

// timestampLayout renders the output archive name's embedded moment as
// yyyyMMdd'T'HHmmss.
const timestampLayout = "20060102T150405"

// FileRecord describes one input file folded into an output archive.
type FileRecord struct {
	Name string
	Size int64
}

// Bundle is one closed output archive and the inputs it contains.
type Bundle struct {
	ArchiveName string
	ArchivePath string
	ByteSize    int64
	Files       []FileRecord
}

// Run bundles every file directly under tempEnvDir into output archives no
// larger than maxBundleBytes (a single oversized file is still bundled
// alone). Input files are deleted once appended. Returns one Bundle per
// output archive written, in the order they were closed; returns an empty
// slice if tempEnvDir contains no files.
func Run(tempEnvDir, dataSourceName string, maxBundleBytes int64, at time.Time, flushDelay time.Duration) ([]Bundle, error) {
	entries, err := os.ReadDir(tempEnvDir)
	if err != nil {
		return nil, fmt.Errorf("bundler: failed to list %s: %w", tempEnvDir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	var bundles []Bundle
	var current *openBundle

	for _, name := range names {
		path := filepath.Join(tempEnvDir, name)
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("bundler: failed to stat %s: %w", path, err)
		}
		size := info.Size()

		if current == nil || current.counter+size > maxBundleBytes {
			if current != nil {
				closed, err := current.close(flushDelay)
				if err != nil {
					return nil, err
				}
				bundles = append(bundles, closed)
			}
			current, err = openNew(tempEnvDir, dataSourceName, at)
			if err != nil {
				return nil, err
			}
		}

		if err := current.append(path, name, size); err != nil {
			return nil, err
		}
	}

	if current != nil {
		closed, err := current.close(flushDelay)
		if err != nil {
			return nil, err
		}
		bundles = append(bundles, closed)
	}

	return bundles, nil
}

type openBundle struct {
	path    string
	name    string
	f       *os.File
	zw      *zip.Writer
	counter int64
	files   []FileRecord
}

func openNew(tempEnvDir, dataSourceName string, at time.Time) (*openBundle, error) {
	candidate := filepath.Join(tempEnvDir, fmt.Sprintf("%s_%s.zip", dataSourceName, at.Format(timestampLayout)))
	path, _, err := archive.UniquePath(candidate)
	if err != nil {
		return nil, fmt.Errorf("bundler: failed to resolve output archive name: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("bundler: failed to create %s: %w", path, err)
	}

	return &openBundle{path: path, name: filepath.Base(path), f: f, zw: zip.NewWriter(f)}, nil
}

func (b *openBundle) append(inputPath, name string, size int64) error {
	w, err := b.zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
	if err != nil {
		return fmt.Errorf("bundler: failed to add %s to %s: %w", name, b.path, err)
	}

	src, err := os.Open(inputPath)
	if err != nil {
		return fmt.Errorf("bundler: failed to open %s: %w", inputPath, err)
	}
	_, copyErr := io.Copy(w, src)
	src.Close()
	if copyErr != nil {
		return fmt.Errorf("bundler: failed to copy %s into %s: %w", inputPath, b.path, copyErr)
	}

	if err := os.Remove(inputPath); err != nil {
		return fmt.Errorf("bundler: failed to remove bundled input %s: %w", inputPath, err)
	}

	b.counter += size
	b.files = append(b.files, FileRecord{Name: name, Size: size})
	return nil
}

func (b *openBundle) close(flushDelay time.Duration) (Bundle, error) {
	if err := b.zw.Close(); err != nil {
		b.f.Close()
		return Bundle{}, fmt.Errorf("bundler: failed to close zip writer for %s: %w", b.path, err)
	}
	if err := b.f.Close(); err != nil {
		return Bundle{}, fmt.Errorf("bundler: failed to close %s: %w", b.path, err)
	}

	if flushDelay > 0 {
		time.Sleep(flushDelay)
	}

	info, err := os.Stat(b.path)
	if err != nil {
		return Bundle{}, fmt.Errorf("bundler: failed to stat closed archive %s: %w", b.path, err)
	}

	return Bundle{
		ArchiveName: b.name,
		ArchivePath: b.path,
		ByteSize:    info.Size(),
		Files:       b.files,
	}, nil
}
