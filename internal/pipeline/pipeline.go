// Package pipeline orchestrates one data source's ingestion pass:
// draining its watched folders, recursively extracting archives,
// quarantining duplicates and rejects, bundling what survives, and
// uploading and archiving the result, once per environment.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/javi11/ingestord/internal/archive"
	"github.com/javi11/ingestord/internal/bundler"
	"github.com/javi11/ingestord/internal/database"
	"github.com/javi11/ingestord/internal/datalake"
	"github.com/javi11/ingestord/internal/layout"
	"github.com/javi11/ingestord/internal/lineage"
	"github.com/javi11/ingestord/internal/persistence"
	"github.com/javi11/ingestord/internal/quarantine"
	"github.com/javi11/ingestord/internal/runlog"
	"github.com/sourcegraph/conc"
)

// maxExtractIterations bounds the recursive extract sweep (§4.6.c): a
// pathological nesting or accidental archive self-reference must not
// spin the pipeline forever.
const maxExtractIterations = 100

// Pipeline runs the per-source ingestion pass described by the engine.
type Pipeline struct {
	repo           *database.Repository
	store          *persistence.Store
	uploader       datalake.Uploader
	processingRoot string
	flushDelay     time.Duration
	log            *slog.Logger
}

// New builds a Pipeline. uploader defaults to datalake.NopUploader{} when
// nil.
func New(repo *database.Repository, store *persistence.Store, uploader datalake.Uploader, processingRoot string) *Pipeline {
	if uploader == nil {
		uploader = datalake.NopUploader{}
	}
	return &Pipeline{
		repo:           repo,
		store:          store,
		uploader:       uploader,
		processingRoot: processingRoot,
		flushDelay:     bundler.DefaultFlushDelay,
		log:            slog.Default().With("component", "pipeline"),
	}
}

// RunSummary reports the outcome of one (DataSource, environment) pass.
type RunSummary struct {
	DataSource         string
	Environment        string
	FilesDrained       int
	BundlesWritten     int
	ErrorsQuarantined  int
	Duration           time.Duration
}

// RunDataSource runs one ingestion pass for ds: it loads the data
// source's active folder paths, partitions them by environment, and runs
// each environment's pass. Per-environment passes use disjoint working
// directories and run concurrently.
func (p *Pipeline) RunDataSource(ctx context.Context, ds *database.DataSource) ([]RunSummary, error) {
	tree := layout.New(p.processingRoot, ds.Name)
	if err := tree.Ensure(); err != nil {
		return nil, fmt.Errorf("pipeline: failed to prepare layout for %s: %w", ds.Name, err)
	}

	folderPaths, err := p.repo.ListActiveFolderPathsForDataSource(ctx, ds.ID)
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to list folder paths for %s: %w", ds.Name, err)
	}

	byEnv := make(map[string][]*database.FolderPath)
	for _, fp := range folderPaths {
		byEnv[fp.Environment] = append(byEnv[fp.Environment], fp)
	}

	environments := make([]string, 0, len(byEnv))
	for env := range byEnv {
		environments = append(environments, env)
	}
	sort.Strings(environments)

	summaries := make([]RunSummary, len(environments))
	wg := conc.NewWaitGroup()
	for i, env := range environments {
		i, env := i, env
		wg.Go(func() {
			summary, runErr := p.runEnvironment(ctx, ds, env, byEnv[env], tree)
			if runErr != nil {
				p.log.ErrorContext(ctx, "environment pass failed", "data_source", ds.Name, "environment", env, "error", runErr)
				summary = RunSummary{DataSource: ds.Name, Environment: env}
			}
			summaries[i] = summary
		})
	}
	wg.Wait()

	return summaries, nil
}

func (p *Pipeline) runEnvironment(ctx context.Context, ds *database.DataSource, env string, folders []*database.FolderPath, tree layout.Tree) (RunSummary, error) {
	start := time.Now()
	summary := RunSummary{DataSource: ds.Name, Environment: env}

	tempDir, backupDir, err := tree.EnvDirs(env)
	if err != nil {
		return summary, err
	}
	errorFilesDir, err := tree.ErrorFilesEnvDir(env)
	if err != nil {
		return summary, err
	}

	tracker := lineage.New()
	q := quarantine.New(tracker, ds.ID, env)
	log := runlog.New(tree.LogDir, ds.Name, start)
	errLog := runlog.New(tree.ErrorLogDir, ds.Name, start)

	drained, err := p.drain(ctx, tempDir, folders, tracker, q, errorFilesDir, &summary)
	if err != nil {
		return summary, err
	}
	summary.FilesDrained = drained
	_ = log.Write(start, fmt.Sprintf("drained %d files for environment %s", drained, env))

	if err := p.extractSweep(ctx, tempDir, tracker, q, errorFilesDir, &summary); err != nil {
		return summary, err
	}

	if err := p.classify(ctx, tempDir, q, errorFilesDir, &summary); err != nil {
		return summary, err
	}
	if summary.ErrorsQuarantined > 0 {
		_ = errLog.Write(time.Now(), fmt.Sprintf("quarantined %d file(s) for environment %s", summary.ErrorsQuarantined, env))
	}

	value, present, err := p.repo.GetSetting(ctx, "MAX_ZIP_SIZE")
	if err != nil {
		return summary, fmt.Errorf("pipeline: failed to read MAX_ZIP_SIZE: %w", err)
	}
	maxBytes := bundler.MaxBundleBytes(value, present)

	bundles, err := bundler.Run(tempDir, ds.Name, maxBytes, time.Now(), p.flushDelay)
	if err != nil {
		return summary, fmt.Errorf("pipeline: bundling failed for %s/%s: %w", ds.Name, env, err)
	}
	summary.BundlesWritten = len(bundles)

	for _, bundle := range bundles {
		now := time.Now()
		p.store.RecordBundle(ctx, ds.ID, env, bundle, tracker, now)
		_ = log.Write(now, fmt.Sprintf("wrote bundle %s (%d bytes, %d files)", bundle.ArchiveName, bundle.ByteSize, len(bundle.Files)))

		id, lookupErr := p.latestBundleID(ctx, bundle.ArchivePath)
		if lookupErr != nil {
			p.log.ErrorContext(ctx, "failed to look up bundle row for upload tracking", "archive", bundle.ArchivePath, "error", lookupErr)
			continue
		}

		if uploadErr := p.uploader.Upload(ctx, env, ds.Name, bundle.ArchivePath); uploadErr != nil {
			p.log.ErrorContext(ctx, "data lake upload failed", "archive", bundle.ArchivePath, "error", uploadErr)
		} else if id != "" {
			p.store.MarkUploaded(ctx, id)
		}

		backupPath := filepath.Join(backupDir, bundle.ArchiveName)
		if err := os.Rename(bundle.ArchivePath, backupPath); err != nil {
			p.log.ErrorContext(ctx, "failed to move bundle to backup tree", "archive", bundle.ArchivePath, "error", err)
			continue
		}
		if id != "" {
			p.store.UpdateBackupPath(ctx, id, backupPath)
		}
	}

	summary.Duration = time.Since(start)
	return summary, nil
}

// latestBundleID finds the id persistence assigned to the bundle just
// recorded, by archive path. Returns "" if it cannot be found (the
// record insert itself already failed and was logged).
func (p *Pipeline) latestBundleID(ctx context.Context, archivePath string) (string, error) {
	pending, err := p.repo.ListPendingUploads(ctx)
	if err != nil {
		return "", err
	}
	for _, b := range pending {
		if b.ArchivePath == archivePath {
			return b.ID, nil
		}
	}
	return "", nil
}

// drain moves every top-level entry of each configured folder into
// tempDir, recording direct files with the tracker. Directories are
// moved whole; name collisions on move are quarantined as duplicates.
func (p *Pipeline) drain(ctx context.Context, tempDir string, folders []*database.FolderPath, tracker *lineage.Tracker, q *quarantine.Quarantine, errorFilesDir string, summary *RunSummary) (int, error) {
	drained := 0
	for _, folder := range folders {
		entries, err := os.ReadDir(folder.FolderPath)
		if err != nil {
			return drained, fmt.Errorf("pipeline: failed to list source folder %s: %w", folder.FolderPath, err)
		}

		for _, entry := range entries {
			srcPath := filepath.Join(folder.FolderPath, entry.Name())
			dstPath := filepath.Join(tempDir, entry.Name())

			resolved, ok, err := archive.UniquePath(dstPath)
			if err != nil {
				return drained, fmt.Errorf("pipeline: failed to resolve destination for %s: %w", srcPath, err)
			}

			if err := os.Rename(srcPath, resolved); err != nil {
				return drained, fmt.Errorf("pipeline: failed to move %s into %s: %w", srcPath, tempDir, err)
			}

			if !ok {
				info, statErr := os.Stat(resolved)
				if statErr != nil {
					return drained, statErr
				}
				// Track the newcomer under its suffixed name first, so the
				// quarantine step can read its origin folder back out of the
				// tracker before dropping it.
				tracker.TrackDirect(filepath.Base(resolved), folder.FolderPath, info.Size())

				qEntry, qErr := q.Duplicate(errorFilesDir, resolved)
				if qErr != nil {
					return drained, qErr
				}
				p.recordQuarantine(ctx, qEntry, summary)
				continue
			}

			if entry.IsDir() {
				if err := trackDirTree(tracker, resolved, folder.FolderPath); err != nil {
					return drained, err
				}
			} else {
				info, err := os.Stat(resolved)
				if err != nil {
					return drained, err
				}
				tracker.TrackDirect(filepath.Base(resolved), folder.FolderPath, info.Size())
				drained++
			}
		}
	}
	return drained, nil
}

// trackDirTree records every file under a moved directory as a direct
// file from originFolder, keyed by its basename in tempDir (directories
// are flattened into tempDir by the extract sweep that follows).
func trackDirTree(tracker *lineage.Tracker, dir, originFolder string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		tracker.TrackDirect(filepath.Base(path), originFolder, info.Size())
		return nil
	})
}

// extractSweep iterates the recursive extract step (§4.6.c) until no
// directories or archive files remain at the top level of tempDir, or
// until maxExtractIterations is exceeded, at which point the sweep
// terminates and the remaining archive is left for classification to
// quarantine as a wrong-type survivor.
func (p *Pipeline) extractSweep(ctx context.Context, tempDir string, tracker *lineage.Tracker, q *quarantine.Quarantine, errorFilesDir string, summary *RunSummary) error {
	for iteration := 0; iteration < maxExtractIterations; iteration++ {
		entries, err := os.ReadDir(tempDir)
		if err != nil {
			return fmt.Errorf("pipeline: failed to list %s: %w", tempDir, err)
		}

		seen := make(map[string]bool, len(entries))
		for _, entry := range entries {
			seen[entry.Name()] = true
		}

		pending := false
		for _, entry := range entries {
			path := filepath.Join(tempDir, entry.Name())

			if entry.IsDir() {
				pending = true
				if err := flattenDir(tracker, path, tempDir); err != nil {
					return err
				}
				continue
			}

			if !archive.IsArchive(entry.Name()) {
				continue
			}
			pending = true
			archiveName := entry.Name()

			if err := archive.Extract(path, func(c archive.Collision) {
				// The incumbent at c.Candidate keeps its existing lineage;
				// only the newcomer at c.Resolved is new content, tracked as
				// extracted from this top-level archive before quarantine
				// reads its folder/root archive back out of the tracker.
				info, statErr := os.Stat(c.Resolved)
				if statErr != nil {
					p.log.ErrorContext(ctx, "failed to stat colliding extracted entry", "path", c.Resolved, "error", statErr)
					return
				}
				tracker.TrackExtracted(filepath.Base(c.Resolved), archiveName, info.Size())

				qEntry, qErr := q.Duplicate(errorFilesDir, c.Resolved)
				if qErr == nil {
					p.recordQuarantine(ctx, qEntry, summary)
				} else {
					p.log.ErrorContext(ctx, "failed to quarantine colliding extracted entry", "path", c.Resolved, "error", qErr)
				}
			}); err != nil {
				qEntry, qErr := q.ExtractionError(errorFilesDir, path, err)
				if qErr != nil {
					return qErr
				}
				p.recordQuarantine(ctx, qEntry, summary)
				continue
			}

			// Files that newly appeared at the top level came out of this
			// archive (nested archives are expanded within Extract).
			after, err := os.ReadDir(tempDir)
			if err != nil {
				return fmt.Errorf("pipeline: failed to list %s: %w", tempDir, err)
			}
			for _, e := range after {
				if info, infoErr := e.Info(); !seen[e.Name()] && !e.IsDir() && infoErr == nil {
					seen[e.Name()] = true
					tracker.TrackExtracted(e.Name(), archiveName, info.Size())
				}
			}
		}

		if !pending {
			return nil
		}
	}

	p.log.WarnContext(ctx, "extract sweep exceeded iteration cap, terminating", "dir", tempDir, "cap", maxExtractIterations)
	return nil
}

// flattenDir moves every file under dir up into tempDir (tracking it as
// extracted from the directory's own name, treated as its immediate
// parent "archive" for lineage purposes) and removes dir once empty.
func flattenDir(tracker *lineage.Tracker, dir, tempDir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("pipeline: failed to list %s: %w", dir, err)
	}

	for _, entry := range entries {
		src := filepath.Join(dir, entry.Name())
		if entry.IsDir() {
			if err := flattenDir(tracker, src, tempDir); err != nil {
				return err
			}
			continue
		}

		dst := filepath.Join(tempDir, entry.Name())
		resolved, _, err := archive.UniquePath(dst)
		if err != nil {
			return err
		}
		if err := os.Rename(src, resolved); err != nil {
			return fmt.Errorf("pipeline: failed to flatten %s: %w", src, err)
		}

		if _, ok := tracker.Info(entry.Name()); !ok {
			info, statErr := os.Stat(resolved)
			if statErr != nil {
				return statErr
			}
			tracker.TrackExtracted(filepath.Base(resolved), filepath.Base(dir), info.Size())
		}
	}

	return os.Remove(dir)
}

// classify moves any top-level file in tempDir that does not end in
// .xml to the error tree as a WRONG_FILE_TYPE survivor.
func (p *Pipeline) classify(ctx context.Context, tempDir string, q *quarantine.Quarantine, errorFilesDir string, summary *RunSummary) error {
	entries, err := os.ReadDir(tempDir)
	if err != nil {
		return fmt.Errorf("pipeline: failed to list %s: %w", tempDir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || strings.EqualFold(filepath.Ext(entry.Name()), ".xml") {
			continue
		}

		path := filepath.Join(tempDir, entry.Name())
		qEntry, err := q.WrongFileType(errorFilesDir, path)
		if err != nil {
			return err
		}
		p.recordQuarantine(ctx, qEntry, summary)
	}

	return nil
}

func (p *Pipeline) recordQuarantine(ctx context.Context, entry *database.ErrorLog, summary *RunSummary) {
	if entry == nil {
		return
	}
	summary.ErrorsQuarantined++
	p.store.RecordError(ctx, entry, time.Now())
}
