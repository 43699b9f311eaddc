// Package scheduler runs the engine's two periodic ticks: an ingestion
// tick that fans the per-source pipeline out across every active data
// source, and a daily housekeeping tick that prunes aged backups and
// logs. A single-flight flag guarantees overlapping ingestion ticks are
// skipped rather than queued.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/javi11/ingestord/internal/database"
	"github.com/javi11/ingestord/internal/pipeline"
	"github.com/robfig/cron/v3"
	"github.com/sourcegraph/conc"
)

// Housekeeper prunes aged backup and log artifacts for one data source.
// Implemented by internal/housekeeping.
type Housekeeper interface {
	Run(ctx context.Context, ds *database.DataSource) error
}

// DataSourceRunner runs one ingestion pass for a data source. Implemented
// by internal/pipeline.Pipeline.
type DataSourceRunner interface {
	RunDataSource(ctx context.Context, ds *database.DataSource) ([]pipeline.RunSummary, error)
}

// Scheduler owns the two cron ticks and the worker pool that dispatches
// per-data-source ingestion work.
type Scheduler struct {
	repo           *database.Repository
	pipeline       DataSourceRunner
	housekeeper    Housekeeper
	workerPoolSize int
	log            *slog.Logger

	mu      sync.Mutex
	running bool

	cron *cron.Cron
}

// New builds a Scheduler. workerPoolSize bounds concurrent per-data-source
// ingestion work within one tick (the spec's example value is 50).
func New(repo *database.Repository, p DataSourceRunner, housekeeper Housekeeper, workerPoolSize int) *Scheduler {
	if workerPoolSize <= 0 {
		workerPoolSize = 50
	}
	return &Scheduler{
		repo:           repo,
		pipeline:       p,
		housekeeper:    housekeeper,
		workerPoolSize: workerPoolSize,
		log:            slog.Default().With("component", "scheduler"),
	}
}

// Start registers the ingestion and housekeeping ticks and begins
// running them. ingestCron and housekeepingCron are standard 6-field
// (seconds-enabled) cron expressions.
func (s *Scheduler) Start(ctx context.Context, ingestCron, housekeepingCron string) error {
	s.cron = cron.New(cron.WithSeconds())

	if _, err := s.cron.AddFunc(ingestCron, func() { s.runIngestionTick(ctx) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(housekeepingCron, func() { s.runHousekeepingTick(ctx) }); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler and waits for any in-flight ticks
// registered through it to return.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}
}

// IsRunning reports whether an ingestion tick is currently in flight.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Scheduler) runIngestionTick(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.DebugContext(ctx, "ingestion tick skipped, previous tick still running")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "ingestion tick panicked", "panic", r)
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	sources, err := s.repo.ListActiveDataSources(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "failed to list active data sources", "error", err)
		return
	}
	if len(sources) == 0 {
		return
	}

	sem := make(chan struct{}, s.workerPoolSize)
	wg := conc.NewWaitGroup()
	for _, ds := range sources {
		ds := ds
		sem <- struct{}{}
		wg.Go(func() {
			defer func() { <-sem }()
			s.runDataSourceSafely(ctx, ds)
		})
	}
	wg.Wait()
}

// runDataSourceSafely isolates a single data source's failure (including
// a panic) so it never aborts the tick for the rest of the fleet.
func (s *Scheduler) runDataSourceSafely(ctx context.Context, ds *database.DataSource) {
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "data source ingestion panicked", "data_source", ds.Name, "panic", r)
		}
	}()

	start := time.Now()
	summaries, err := s.pipeline.RunDataSource(ctx, ds)
	if err != nil {
		s.log.ErrorContext(ctx, "data source ingestion failed", "data_source", ds.Name, "error", err)
		return
	}

	for _, summary := range summaries {
		s.log.InfoContext(ctx, "ingestion pass complete",
			"data_source", summary.DataSource,
			"environment", summary.Environment,
			"files_drained", summary.FilesDrained,
			"bundles_written", summary.BundlesWritten,
			"errors_quarantined", summary.ErrorsQuarantined,
			"duration", summary.Duration)
	}
	s.log.DebugContext(ctx, "data source ingestion done", "data_source", ds.Name, "elapsed", time.Since(start))
}

// runHousekeepingTick shares the ingestion tick's single-flight flag: a
// backup deleted mid-upload by a concurrent ingestion pass would corrupt
// that pass's pending bundle row, so the two ticks never run at once.
func (s *Scheduler) runHousekeepingTick(ctx context.Context) {
	if s.housekeeper == nil {
		return
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.DebugContext(ctx, "housekeeping tick skipped, ingestion tick still running")
		return
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorContext(ctx, "housekeeping tick panicked", "panic", r)
		}
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	sources, err := s.repo.ListActiveDataSources(ctx)
	if err != nil {
		s.log.ErrorContext(ctx, "housekeeping: failed to list active data sources", "error", err)
		return
	}

	for _, ds := range sources {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.log.ErrorContext(ctx, "housekeeping panicked", "data_source", ds.Name, "panic", r)
				}
			}()
			if err := s.housekeeper.Run(ctx, ds); err != nil {
				s.log.ErrorContext(ctx, "housekeeping failed", "data_source", ds.Name, "error", err)
			}
		}()
	}
}
