// Package archive recursively extracts zip, tar, tar.gz (.tz) and 7z
// archives into their parent directory, applying the engine's
// name-uniqueness rule to every extracted entry.
package archive

import (
	"archive/tar"
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/javi11/sevenzip"
	"github.com/klauspost/compress/gzip"
)

// Collision records that a candidate path already existed and the
// newcomer was instead written to Resolved. Callers use this to route
// the newcomer to quarantine as a duplicate.
type Collision struct {
	Candidate string
	Resolved  string
}

// IsArchive reports whether name's extension marks it as a compressed
// file the extractor recognizes.
func IsArchive(name string) bool {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".zip"),
		strings.HasSuffix(lower, ".tar"),
		strings.HasSuffix(lower, ".tar.gz"),
		strings.HasSuffix(lower, ".tz"),
		strings.HasSuffix(lower, ".7z"):
		return true
	default:
		return false
	}
}

// UniquePath applies the name-uniqueness rule to candidate: if it does
// not exist, it is returned unchanged. Otherwise dir/base(k).ext is
// tried for k = 1, 2, ... until one does not exist. ok is false when a
// collision occurred (the incumbent stayed; the returned path is where
// the newcomer should land, pending quarantine).
func UniquePath(candidate string) (resolved string, ok bool, err error) {
	if _, err := os.Lstat(candidate); os.IsNotExist(err) {
		return candidate, true, nil
	} else if err != nil {
		return "", false, err
	}

	dir := filepath.Dir(candidate)
	ext := filepath.Ext(candidate)
	base := strings.TrimSuffix(filepath.Base(candidate), ext)

	for k := 1; ; k++ {
		try := filepath.Join(dir, fmt.Sprintf("%s(%d)%s", base, k, ext))
		if _, err := os.Lstat(try); os.IsNotExist(err) {
			return try, false, nil
		} else if err != nil {
			return "", false, err
		}
	}
}

// Extract recursively expands the archive at path into its parent
// directory. On success the archive file itself is deleted. On
// failure the archive is left on disk (per the design's
// archive-deletion-only-on-success rule) and the error is returned for
// the caller to quarantine.
//
// collisions receives one Collision per extracted entry whose candidate
// path already existed, once the newcomer has been written at Resolved;
// the caller is responsible for routing the newcomer to quarantine. A
// colliding newcomer is not extracted further, even if it is an archive.
func Extract(path string, collisions func(Collision)) error {
	lower := strings.ToLower(path)
	dir := filepath.Dir(path)

	var err error
	switch {
	case strings.HasSuffix(lower, ".zip"):
		err = extractZip(path, dir, collisions)
	case strings.HasSuffix(lower, ".tar"):
		err = extractTarFile(path, dir, collisions)
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tz"):
		err = extractGzipTar(path, dir, collisions)
	case strings.HasSuffix(lower, ".7z"):
		err = extractSevenZip(path, dir, collisions)
	default:
		return fmt.Errorf("archive: %s is not a recognized archive format", path)
	}
	if err != nil {
		return fmt.Errorf("archive: failed to extract %s: %w", path, err)
	}

	return os.Remove(path)
}

func extractZip(path, dir string, collisions func(Collision)) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if err := writeEntry(dir, f.Name, f.Mode(), func(w io.Writer) error {
			rc, err := f.Open()
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(w, rc)
			return err
		}, collisions); err != nil {
			return err
		}
	}
	return nil
}

func extractTarFile(path, dir string, collisions func(Collision)) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return extractTarStream(f, dir, collisions)
}

func extractGzipTar(path, dir string, collisions func(Collision)) error {
	intermediate := strings.TrimSuffix(path, filepath.Ext(path))
	if !strings.HasSuffix(strings.ToLower(intermediate), ".tar") {
		intermediate += ".tar"
	}

	if err := func() error {
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		gz, err := gzip.NewReader(src)
		if err != nil {
			return err
		}
		defer gz.Close()

		dst, err := os.Create(intermediate)
		if err != nil {
			return err
		}
		defer dst.Close()

		_, err = io.Copy(dst, gz)
		return err
	}(); err != nil {
		return err
	}

	if err := extractTarFile(intermediate, dir, collisions); err != nil {
		return err
	}
	return os.Remove(intermediate)
}

func extractTarStream(r io.Reader, dir string, collisions func(Collision)) error {
	tr := tar.NewReader(r)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if hdr.Typeflag == tar.TypeDir {
			if err := os.MkdirAll(filepath.Join(dir, hdr.Name), 0o755); err != nil {
				return err
			}
			continue
		}
		if err := writeEntry(dir, hdr.Name, os.FileMode(hdr.Mode), func(w io.Writer) error {
			_, err := io.Copy(w, tr)
			return err
		}, collisions); err != nil {
			return err
		}
	}
}

func extractSevenZip(path, dir string, collisions func(Collision)) error {
	r, err := sevenzip.OpenReader(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(filepath.Join(dir, f.Name), 0o755); err != nil {
				return err
			}
			continue
		}
		if err := writeEntry(dir, f.Name, f.Mode(), func(w io.Writer) error {
			rc, err := f.Open()
			if err != nil {
				return err
			}
			defer rc.Close()
			_, err = io.Copy(w, rc)
			return err
		}, collisions); err != nil {
			return err
		}
	}
	return nil
}

// writeEntry streams one archive entry to <dir>/<base name of the entry>,
// applying the name-uniqueness rule. A colliding newcomer is reported to
// collisions after it is written; otherwise writeEntry recurses into
// Extract if the written file is itself a recognized archive.
func writeEntry(dir, name string, mode os.FileMode, copy func(io.Writer) error, collisions func(Collision)) error {
	candidate := filepath.Join(dir, filepath.Base(name))
	if err := os.MkdirAll(filepath.Dir(candidate), 0o755); err != nil {
		return err
	}

	resolved, ok, err := UniquePath(candidate)
	if err != nil {
		return err
	}
	if mode == 0 {
		mode = 0o644
	}
	w, err := os.OpenFile(resolved, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
	if err != nil {
		return err
	}
	if err := copy(w); err != nil {
		w.Close()
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	if !ok && collisions != nil {
		collisions(Collision{Candidate: candidate, Resolved: resolved})
		return nil
	}
	if IsArchive(resolved) {
		return Extract(resolved, collisions)
	}
	return nil
}
