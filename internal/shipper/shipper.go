// Package shipper handles downstream delivery of recorded change sets.
// Delivery is intentionally separate from persistence — the database row is
// the system of record, while shippers are best-effort feeds into external
// consumers (SIEMs, data lakes, notification pipelines) with their own
// availability characteristics. The package supports multiple simultaneous
// destinations (webhook, file, Kafka, Redis stream) via the Shipper interface
// so a delivery outage in one sink never blocks the others.
package shipper

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fieldtrace/fieldtrace/internal/config"
	"github.com/fieldtrace/fieldtrace/internal/db/models"
	"github.com/fieldtrace/fieldtrace/internal/telemetry"
)

// Envelope is the serialized form of a recorded change set as delivered to
// sinks. It is a flattened, JSON-stable projection of models.ChangeSet so the
// wire format does not drift when the persistence model changes.
type Envelope struct {
	ID         string                 `json:"id"`
	Kind       string                 `json:"kind"`
	EntityID   string                 `json:"entity_id"`
	Actor      string                 `json:"actor,omitempty"`
	Source     string                 `json:"source"`
	RequestID  string                 `json:"request_id,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	RecordedAt time.Time              `json:"recorded_at"`
	Changes    []Change               `json:"changes"`
}

// Change is one collapsed field change inside an envelope.
type Change struct {
	Field string      `json:"field"`
	Old   interface{} `json:"old"`
	New   interface{} `json:"new"`
}

// NewEnvelope builds the delivery envelope for a persisted change set.
func NewEnvelope(set *models.ChangeSet) *Envelope {
	env := &Envelope{
		ID:         set.ID,
		Kind:       set.Kind,
		EntityID:   set.EntityID,
		Actor:      set.Actor,
		Source:     set.Source,
		Metadata:   set.Metadata,
		RecordedAt: set.RecordedAt,
		Changes:    make([]Change, 0, len(set.Records)),
	}
	if set.RequestID != nil {
		env.RequestID = *set.RequestID
	}
	for _, rec := range set.Records {
		env.Changes = append(env.Changes, Change{
			Field: rec.Field,
			Old:   rec.OldValue,
			New:   rec.NewValue,
		})
	}
	return env
}

// Shipper defines the interface for change-set delivery sinks
type Shipper interface {
	// Ship sends an envelope to the destination
	Ship(ctx context.Context, env *Envelope) error
	// Close cleans up any resources
	Close() error
}

// namedShipper pairs a sink with the label used in logs and metrics.
type namedShipper struct {
	name string
	Shipper
}

// MultiShipper fans out to multiple destinations
type MultiShipper struct {
	shippers []namedShipper
	mu       sync.RWMutex
}

// NewMultiShipper creates the fan-out from the configured sink list. Disabled
// entries are skipped; a misconfigured enabled entry fails construction so a
// typo cannot silently drop a delivery feed.
func NewMultiShipper(cfg *config.Config) (*MultiShipper, error) {
	ms := &MultiShipper{
		shippers: make([]namedShipper, 0),
	}

	for _, sc := range cfg.Shippers {
		if !sc.Enabled {
			continue
		}

		var shipper Shipper
		var err error

		switch sc.Type {
		case "webhook":
			if sc.Webhook == nil {
				return nil, fmt.Errorf("webhook config is required for webhook shipper")
			}
			shipper, err = NewWebhookShipper(sc.Webhook)
		case "file":
			if sc.File == nil {
				return nil, fmt.Errorf("file config is required for file shipper")
			}
			shipper, err = NewFileShipper(sc.File)
		case "kafka":
			if sc.Kafka == nil {
				return nil, fmt.Errorf("kafka config is required for kafka shipper")
			}
			shipper, err = NewKafkaShipper(sc.Kafka)
		case "redis_stream":
			if sc.RedisStream == nil {
				return nil, fmt.Errorf("redis_stream config is required for redis_stream shipper")
			}
			shipper, err = NewRedisStreamShipper(&cfg.Redis, sc.RedisStream)
		default:
			return nil, fmt.Errorf("unknown shipper type: %s", sc.Type)
		}

		if err != nil {
			return nil, fmt.Errorf("failed to create %s shipper: %w", sc.Type, err)
		}

		ms.shippers = append(ms.shippers, namedShipper{name: sc.Type, Shipper: shipper})
	}

	return ms, nil
}

// Len reports how many sinks are active.
func (ms *MultiShipper) Len() int {
	ms.mu.RLock()
	defer ms.mu.RUnlock()
	return len(ms.shippers)
}

// Ship sends an envelope to all configured sinks. A failing sink is logged and
// counted but never prevents delivery to the remaining sinks; the last error
// is returned so callers can observe that at least one delivery failed.
func (ms *MultiShipper) Ship(ctx context.Context, env *Envelope) error {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var lastErr error
	for _, s := range ms.shippers {
		if err := s.Ship(ctx, env); err != nil {
			lastErr = err
			telemetry.ShipperDeliveriesTotal.WithLabelValues(s.name, "error").Inc()
			slog.Error("shipper delivery failed",
				"shipper", s.name,
				"change_set_id", env.ID,
				"error", err)
			continue
		}
		telemetry.ShipperDeliveriesTotal.WithLabelValues(s.name, "success").Inc()
	}
	return lastErr
}

// Close closes all sinks
func (ms *MultiShipper) Close() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var lastErr error
	for _, s := range ms.shippers {
		if err := s.Close(); err != nil {
			lastErr = err
		}
	}
	return lastErr
}
