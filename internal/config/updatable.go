package config

import "log/slog"

// WorkerPoolUpdater defines the interface for components that can resize
// their worker pool without a restart.
type WorkerPoolUpdater interface {
	UpdateWorkerPoolSize(count int) error
}

// LoggingUpdater defines the interface for components that can update
// logging levels dynamically.
type LoggingUpdater interface {
	UpdateDebugMode(debug bool) error
}

// ComponentRegistry holds references to updatable components for a config
// change callback to update.
type ComponentRegistry struct {
	WorkerPool WorkerPoolUpdater
	Logging    LoggingUpdater
	logger     *slog.Logger
}

// NewComponentRegistry creates a new component registry.
func NewComponentRegistry(logger *slog.Logger) *ComponentRegistry {
	if logger == nil {
		logger = slog.Default()
	}

	return &ComponentRegistry{logger: logger}
}

// RegisterWorkerPool registers a worker pool updater.
func (r *ComponentRegistry) RegisterWorkerPool(updater WorkerPoolUpdater) {
	r.WorkerPool = updater
}

// RegisterLogging registers a logging updater.
func (r *ComponentRegistry) RegisterLogging(updater LoggingUpdater) {
	r.Logging = updater
}

// ApplyUpdates passes a changed worker pool size to the registered
// WorkerPoolUpdater. The registered LoggingUpdater is not called.
func (r *ComponentRegistry) ApplyUpdates(oldConfig, newConfig *Config) {
	if oldConfig.WorkerPoolSize != newConfig.WorkerPoolSize {
		if r.WorkerPool != nil {
			if err := r.WorkerPool.UpdateWorkerPoolSize(newConfig.GetWorkerPoolSize()); err != nil {
				r.logger.Error("failed to update worker pool size", "err", err)
			} else {
				r.logger.Info("worker pool size updated",
					"old", oldConfig.WorkerPoolSize,
					"new", newConfig.WorkerPoolSize)
			}
		}
	}
}
