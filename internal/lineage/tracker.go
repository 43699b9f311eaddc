// Package lineage tracks, for one (DataSource, environment) processing
// pass, where every working-file currently in temp/<env>/ came from: a
// source folder directly, or an archive extracted from one.
package lineage

import "sync"

// Source classifies how a file entered the working directory.
type Source string

const (
	SourceDirect    Source = "direct"
	SourceExtracted Source = "extracted"
)

// FileInfo is everything the tracker knows about one working-file name.
type FileInfo struct {
	Source       Source
	SizeBytes    int64
	OriginFolder string
	RootArchive  string // only set when Source == SourceExtracted
}

// Tracker holds the four lineage maps and the source-folder set for one
// (DataSource, environment) pass. Safe for concurrent use.
type Tracker struct {
	mu                     sync.Mutex
	fileInfo               map[string]FileInfo
	fileToFolder           map[string]string
	fileToImmediateArchive map[string]string
	fileToRootArchive      map[string]string
	sourceFolders          map[string]struct{}
}

// New creates an empty Tracker for one pass.
func New() *Tracker {
	return &Tracker{
		fileInfo:               make(map[string]FileInfo),
		fileToFolder:           make(map[string]string),
		fileToImmediateArchive: make(map[string]string),
		fileToRootArchive:      make(map[string]string),
		sourceFolders:          make(map[string]struct{}),
	}
}

// TrackDirect records a file moved from a configured folder into temp.
func (t *Tracker) TrackDirect(name, originFolder string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.fileInfo[name] = FileInfo{Source: SourceDirect, SizeBytes: size, OriginFolder: originFolder}
	t.fileToFolder[name] = originFolder
	t.sourceFolders[originFolder] = struct{}{}
}

// TrackExtracted records a file produced by decompressing
// parentArchiveName. The root archive is inherited from the parent if the
// parent is itself a tracked extracted file (or archive that produced
// other files); otherwise parentArchiveName is taken as the root, since
// it was drained directly from a source folder.
func (t *Tracker) TrackExtracted(name, parentArchiveName string, size int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root, ok := t.fileToRootArchive[parentArchiveName]
	if !ok {
		root = parentArchiveName
	}

	var originFolder string
	if parentInfo, ok := t.fileInfo[parentArchiveName]; ok {
		originFolder = parentInfo.OriginFolder
	} else if folder, ok := t.fileToFolder[parentArchiveName]; ok {
		originFolder = folder
	}

	t.fileInfo[name] = FileInfo{
		Source:       SourceExtracted,
		SizeBytes:    size,
		OriginFolder: originFolder,
		RootArchive:  root,
	}
	t.fileToImmediateArchive[name] = parentArchiveName
	t.fileToRootArchive[name] = root
	if originFolder != "" {
		t.fileToFolder[name] = originFolder
	}
}

// Info returns the FileInfo recorded for name, if any.
func (t *Tracker) Info(name string) (FileInfo, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	info, ok := t.fileInfo[name]
	return info, ok
}

// FolderOf returns the origin folder recorded for name, if any.
func (t *Tracker) FolderOf(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	folder, ok := t.fileToFolder[name]
	return folder, ok
}

// RootArchiveOf returns the first-level (root) archive for an extracted
// file, if any.
func (t *Tracker) RootArchiveOf(name string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	root, ok := t.fileToRootArchive[name]
	return root, ok
}

// SourceFolders returns every distinct origin folder that has
// contributed a direct file to this pass so far.
func (t *Tracker) SourceFolders() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	folders := make([]string, 0, len(t.sourceFolders))
	for f := range t.sourceFolders {
		folders = append(folders, f)
	}
	return folders
}

// Remove atomically drops name from all four maps. Called before a file
// is moved to the error tree so it never appears in a bundle record.
func (t *Tracker) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.fileInfo, name)
	delete(t.fileToFolder, name)
	delete(t.fileToImmediateArchive, name)
	delete(t.fileToRootArchive, name)
}
