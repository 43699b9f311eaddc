// Package datalake defines the narrow upload contract the pipeline calls
// after closing each output archive. The spec treats the real backend as
// out of scope; NopUploader and LoggingUploader exist so the stub has
// somewhere to register activity instead of silently doing nothing.
package datalake

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/javi11/ingestord/internal/runlog"
)

// Uploader ships one finished output archive to the data lake.
type Uploader interface {
	Upload(ctx context.Context, environment, dataSource, filePath string) error
}

// NopUploader reports every upload as immediately successful. It is the
// default when upload_to_datalake is false.
type NopUploader struct{}

// Upload implements Uploader.
func (NopUploader) Upload(ctx context.Context, environment, dataSource, filePath string) error {
	return nil
}

// LoggingUploader decorates an Uploader, writing one runlog line per call
// to LogDir/<data_source>_<yyyy-MM-dd>.txt, one file per data source and
// day.
type LoggingUploader struct {
	Next   Uploader
	LogDir string
}

// NewLoggingUploader wraps next with runlog activity logging written
// directly into logDir.
func NewLoggingUploader(next Uploader, logDir string) *LoggingUploader {
	if next == nil {
		next = NopUploader{}
	}
	return &LoggingUploader{Next: next, LogDir: logDir}
}

// Upload implements Uploader.
func (u *LoggingUploader) Upload(ctx context.Context, environment, dataSource, filePath string) error {
	now := time.Now()
	err := u.Next.Upload(ctx, environment, dataSource, filePath)

	appender := runlog.New(u.LogDir, dataSource, now)
	message := fmt.Sprintf("uploaded %s to data lake (env=%s)", filePath, environment)
	if err != nil {
		message = fmt.Sprintf("upload failed for %s (env=%s): %v", filePath, environment, err)
	}
	if logErr := appender.Write(now, message); logErr != nil {
		slog.Warn("datalake: failed to write runlog entry", "error", logErr, "path", filePath)
	}

	return err
}
