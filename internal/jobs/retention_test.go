package jobs

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	"github.com/fieldtrace/fieldtrace/internal/config"
	"github.com/fieldtrace/fieldtrace/internal/db/repositories"
)

func newChangeSetRepo(t *testing.T) (*repositories.ChangeSetRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repositories.NewChangeSetRepository(sqlx.NewDb(db, "postgres")), mock
}

func TestNewRetentionSweeper_Defaults(t *testing.T) {
	repo, _ := newChangeSetRepo(t)
	s := NewRetentionSweeper(repo, &config.RetentionConfig{Enabled: true, MaxAge: time.Hour})

	if s.interval != defaultRetentionInterval {
		t.Errorf("interval = %v, want %v", s.interval, defaultRetentionInterval)
	}
	if s.batchSize != defaultRetentionBatchSize {
		t.Errorf("batchSize = %d, want %d", s.batchSize, defaultRetentionBatchSize)
	}
	if s.stopChan == nil {
		t.Error("stopChan not initialised")
	}
}

func TestRetentionSweeper_StartDisabled(t *testing.T) {
	repo, mock := newChangeSetRepo(t)
	s := NewRetentionSweeper(repo, &config.RetentionConfig{Enabled: false})

	// Start must return without touching the database.
	s.Start(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected database activity: %v", err)
	}
}

func TestRetentionSweeper_StartWithoutMaxAge(t *testing.T) {
	repo, mock := newChangeSetRepo(t)
	s := NewRetentionSweeper(repo, &config.RetentionConfig{Enabled: true})

	s.Start(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected database activity: %v", err)
	}
}

func TestRetentionSweeper_SweepBatches(t *testing.T) {
	repo, mock := newChangeSetRepo(t)
	s := NewRetentionSweeper(repo, &config.RetentionConfig{
		Enabled:   true,
		MaxAge:    24 * time.Hour,
		BatchSize: 2,
	})

	// Full first batch forces a second round; the short second batch ends
	// the sweep.
	mock.ExpectExec("DELETE FROM change_sets").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM change_sets").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s.sweep(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRetentionSweeper_SweepStopsOnError(t *testing.T) {
	repo, mock := newChangeSetRepo(t)
	s := NewRetentionSweeper(repo, &config.RetentionConfig{
		Enabled:   true,
		MaxAge:    24 * time.Hour,
		BatchSize: 2,
	})

	mock.ExpectExec("DELETE FROM change_sets").
		WillReturnError(sqlmock.ErrCancelled)

	s.sweep(context.Background())

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}

func TestRetentionSweeper_StartAndStop(t *testing.T) {
	repo, mock := newChangeSetRepo(t)
	s := NewRetentionSweeper(repo, &config.RetentionConfig{
		Enabled:  true,
		MaxAge:   24 * time.Hour,
		Interval: time.Hour,
	})

	// Only the initial sweep runs before Stop.
	mock.ExpectExec("DELETE FROM change_sets").
		WillReturnResult(sqlmock.NewResult(0, 0))

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unmet expectations: %v", err)
	}
}
