// Package recorder is the single write path for change sets: persist first,
// then deliver. Handlers never talk to shippers directly — they hand a change
// set to the Recorder, which makes the database row durable before any
// downstream delivery is attempted. Delivery runs asynchronously so a slow or
// unreachable sink never adds latency to the request path.
package recorder

import (
	"context"
	"fmt"
	"time"

	"github.com/fieldtrace/fieldtrace/internal/db/models"
	"github.com/fieldtrace/fieldtrace/internal/db/repositories"
	"github.com/fieldtrace/fieldtrace/internal/safego"
	"github.com/fieldtrace/fieldtrace/internal/shipper"
	"github.com/fieldtrace/fieldtrace/internal/telemetry"
)

// shipTimeout bounds the asynchronous delivery of one envelope across all
// sinks. Individual sinks apply their own shorter timeouts.
const shipTimeout = 30 * time.Second

// Recorder persists change sets and feeds them to the configured sinks.
type Recorder struct {
	repo    *repositories.ChangeSetRepository
	shipper shipper.Shipper
}

// New creates a Recorder. The shipper may be nil when no sinks are configured.
func New(repo *repositories.ChangeSetRepository, s shipper.Shipper) *Recorder {
	return &Recorder{repo: repo, shipper: s}
}

// Record persists the change set, bumps the recording metrics, and queues
// asynchronous delivery. The returned error reflects persistence only:
// delivery failures are observed through logs and ShipperDeliveriesTotal, not
// by the caller.
func (r *Recorder) Record(ctx context.Context, set *models.ChangeSet) error {
	if err := r.repo.Create(ctx, set); err != nil {
		return fmt.Errorf("failed to record change set: %w", err)
	}

	telemetry.ChangeSetsRecordedTotal.WithLabelValues(set.Kind, set.Source).Inc()
	telemetry.ChangeRecordsTotal.WithLabelValues(set.Kind).Add(float64(len(set.Records)))

	if r.shipper != nil {
		// Snapshot before handing off; the caller may reuse the model.
		env := shipper.NewEnvelope(set)
		safego.Go(func() {
			shipCtx, cancel := context.WithTimeout(context.Background(), shipTimeout)
			defer cancel()
			// Errors are logged and counted inside the shipper.
			_ = r.shipper.Ship(shipCtx, env)
		})
	}

	return nil
}
