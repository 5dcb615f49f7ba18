// archive_export.go implements the periodic archive export job. Each run
// exports the change sets recorded since the previous run into one signed,
// checksummed bundle on the archive backend.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/fieldtrace/fieldtrace/internal/archive"
	"github.com/fieldtrace/fieldtrace/internal/config"
	"github.com/fieldtrace/fieldtrace/internal/safego"
)

const (
	defaultExportInterval = 1 * time.Hour
	defaultExportWindow   = 24 * time.Hour
)

// ArchiveExportJob periodically writes export bundles. The first run covers
// the configured look-back window; subsequent runs pick up where the previous
// run left off, so restarts within the window never lose change sets, at the
// cost of overlapping bundles.
type ArchiveExportJob struct {
	exporter *archive.Exporter
	cfg      *config.ExportConfig
	interval time.Duration
	window   time.Duration
	lastRun  time.Time
	stopChan chan struct{}
}

// NewArchiveExportJob creates an export job over the given exporter.
func NewArchiveExportJob(exporter *archive.Exporter, cfg *config.ExportConfig) *ArchiveExportJob {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultExportInterval
	}
	window := cfg.Window
	if window <= 0 {
		window = defaultExportWindow
	}
	return &ArchiveExportJob{
		exporter: exporter,
		cfg:      cfg,
		interval: interval,
		window:   window,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background export loop. The loop exits when ctx is
// cancelled or Stop is called.
func (j *ArchiveExportJob) Start(ctx context.Context) {
	if !j.cfg.Enabled {
		slog.Info("archive export job disabled")
		return
	}

	slog.Info("archive export job started", "interval", j.interval, "window", j.window)

	safego.Go(func() { j.run(ctx) })
}

// Stop signals the export loop to exit.
func (j *ArchiveExportJob) Stop() {
	close(j.stopChan)
}

func (j *ArchiveExportJob) run(ctx context.Context) {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			j.export(ctx)
		case <-j.stopChan:
			slog.Info("archive export job stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// export runs one export covering [lastRun, now), falling back to the
// look-back window on the first run. lastRun only advances on success so a
// failed window is retried by the next run.
func (j *ArchiveExportJob) export(ctx context.Context) {
	until := time.Now().UTC()
	since := j.lastRun
	if since.IsZero() {
		since = until.Add(-j.window)
	}

	result, err := j.exporter.Export(ctx, since, until)
	if err != nil {
		slog.Error("archive export failed", "since", since, "until", until, "error", err)
		return
	}

	j.lastRun = until
	if result.Sets == 0 {
		return
	}
	slog.Info("archive export completed",
		"bundle", result.BundlePath,
		"sets", result.Sets,
		"size", result.Size)
}
