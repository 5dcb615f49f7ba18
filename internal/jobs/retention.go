// retention.go implements the RetentionSweeper background job, which
// periodically deletes change sets older than the configured maximum age.
// Deletes run in bounded batches so a long-overdue sweep cannot hold a
// long-running transaction against the ingest path.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/fieldtrace/fieldtrace/internal/config"
	"github.com/fieldtrace/fieldtrace/internal/db/repositories"
	"github.com/fieldtrace/fieldtrace/internal/safego"
	"github.com/fieldtrace/fieldtrace/internal/telemetry"
)

const (
	defaultRetentionInterval  = 1 * time.Hour
	defaultRetentionBatchSize = 1000
)

// RetentionSweeper deletes change sets past their retention age on a fixed
// interval. It is a no-op when retention is disabled or max_age is unset, so
// it is always safe to start.
type RetentionSweeper struct {
	repo      *repositories.ChangeSetRepository
	cfg       *config.RetentionConfig
	interval  time.Duration
	batchSize int
	stopChan  chan struct{}
}

// NewRetentionSweeper creates a sweeper over the given repository.
func NewRetentionSweeper(repo *repositories.ChangeSetRepository, cfg *config.RetentionConfig) *RetentionSweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultRetentionInterval
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultRetentionBatchSize
	}
	return &RetentionSweeper{
		repo:      repo,
		cfg:       cfg,
		interval:  interval,
		batchSize: batchSize,
		stopChan:  make(chan struct{}),
	}
}

// Start begins the background sweep loop. It runs an initial sweep
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop is called.
func (s *RetentionSweeper) Start(ctx context.Context) {
	if !s.cfg.Enabled {
		slog.Info("retention sweeper disabled")
		return
	}
	if s.cfg.MaxAge <= 0 {
		slog.Warn("retention sweeper disabled: retention.max_age not set")
		return
	}

	slog.Info("retention sweeper started",
		"interval", s.interval,
		"max_age", s.cfg.MaxAge,
		"batch_size", s.batchSize)

	safego.Go(func() { s.run(ctx) })
}

// Stop signals the sweep loop to exit.
func (s *RetentionSweeper) Stop() {
	close(s.stopChan)
}

func (s *RetentionSweeper) run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
		case <-s.stopChan:
			slog.Info("retention sweeper stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

// sweep deletes expired change sets in batches until a batch comes back
// short, meaning nothing older than the cutoff remains.
func (s *RetentionSweeper) sweep(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-s.cfg.MaxAge)

	var total int64
	for {
		deleted, err := s.repo.DeleteOlderThan(ctx, cutoff, s.batchSize)
		if err != nil {
			slog.Error("retention sweep failed", "cutoff", cutoff, "error", err)
			return
		}
		total += deleted
		telemetry.RetentionDeletedTotal.Add(float64(deleted))
		if deleted < int64(s.batchSize) {
			break
		}
	}

	if total > 0 {
		slog.Info("retention sweep completed", "deleted", total, "cutoff", cutoff)
	}
}
