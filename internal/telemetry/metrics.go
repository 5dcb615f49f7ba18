// Package telemetry provides application-level observability for the fieldtrace service.
//
// # Prometheus Metrics Endpoint
//
// All metrics are registered against the default Prometheus registry and are
// served on the side-channel HTTP server started by main.go:
//
//	GET http://<host>:<FT_TELEMETRY_METRICS_PROMETHEUS_PORT>/metrics
//
// Default port: 9090. The endpoint returns data in the Prometheus text
// exposition format and is intended to be scraped every 15–60 seconds. It is
// NOT served by the Gin router, keeping the scrape path off the public ingress
// and out of the rate-limiting middleware.
//
// # Metric Groups
//
//   - HTTP request counters and latency histograms (labelled by route template, not raw URL)
//   - Change-set recording counters, by kind and source
//   - Shipper delivery counters, by sink and outcome
//   - Archive export and retention sweep counters
//   - Policy reload counters
//   - Database connection pool gauge (polled every 30 s)
//
// # Label Cardinality
//
// HTTP metrics use c.FullPath() (route template such as /api/v1/changesets/:id)
// rather than the raw request URL to prevent unbounded label cardinality from
// user-supplied path segments such as change-set IDs. Change-set metrics use
// the policy-declared kind, which is a small closed set.
package telemetry

import (
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTP metrics — labelled by method, route template, and status code.
//
// HTTPRequestsTotal is a CounterVec with labels {method, path, status}. The
// path label holds the Gin route template, NOT the raw URL.
//
// Example PromQL queries:
//   - Request rate (req/s, 5 m window):  rate(http_requests_total[5m])
//   - Error rate (%):                    sum(rate(http_requests_total{status=~"5.."}[5m])) / sum(rate(http_requests_total[5m])) * 100
//
// HTTPRequestDuration is a HistogramVec with labels {method, path} and
// exponential-ish buckets from 5 ms to 30 s.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests processed, by method, route template, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request latencies, by method and route template.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path"},
	)
)

// Change recording metrics — incremented by the recorder on every persisted
// change set.
//
// ChangeSetsRecordedTotal is a CounterVec with labels {kind, source}. "source"
// distinguishes how the change set reached the service: "api" for pre-built
// sets posted to the ingest endpoint, "tracked" for sets produced by the
// engine behind the profile endpoints.
//
// Example PromQL queries:
//   - Recording rate by kind:  sum by (kind) (rate(change_sets_recorded_total[1h]))
//   - Tracked vs API split:    sum by (source) (rate(change_sets_recorded_total[1h]))
//
// ChangeRecordsTotal counts individual field-level records, by kind, so the
// average change-set width is change_records_total / change_sets_recorded_total.
var (
	ChangeSetsRecordedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_sets_recorded_total",
			Help: "Total number of change sets recorded, by entity kind and source.",
		},
		[]string{"kind", "source"},
	)

	ChangeRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "change_records_total",
			Help: "Total number of field-level change records recorded, by entity kind.",
		},
		[]string{"kind"},
	)
)

// ShipperDeliveriesTotal is a CounterVec with labels {shipper, status}
// incremented once per delivery attempt per sink. status is "success" or
// "error". An alert on rate(shipper_deliveries_total{status="error"}[15m]) > 0
// is recommended to catch dead sinks early.
var ShipperDeliveriesTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "shipper_deliveries_total",
		Help: "Total number of change-set delivery attempts, by shipper type and outcome.",
	},
	[]string{"shipper", "status"},
)

// Background job metrics.
//
// ArchiveExportsTotal counts completed export runs by outcome; a run that
// writes no bundle because the window was empty still counts as "success".
// RetentionDeletedTotal counts change sets removed by the retention sweeper.
// PolicyReloadsTotal counts tracking-policy apply attempts; "error" means the
// new file was rejected and the previous policy stayed active.
var (
	ArchiveExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archive_exports_total",
			Help: "Total number of archive export runs, by outcome.",
		},
		[]string{"status"},
	)

	RetentionDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retention_deleted_total",
			Help: "Total number of change sets deleted by the retention sweeper.",
		},
	)

	PolicyReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "policy_reloads_total",
			Help: "Total number of tracking policy reload attempts, by outcome.",
		},
		[]string{"status"},
	)
)

// DBOpenConnections is a Gauge that tracks the number of open connections
// currently held by the sql.DB connection pool. It is sampled every 30 seconds
// by StartDBStatsCollector rather than per-request to avoid the overhead of
// sql.DB.Stats().
var DBOpenConnections = promauto.NewGauge(
	prometheus.GaugeOpts{
		Name: "db_open_connections",
		Help: "Current number of open database connections in the pool.",
	},
)

// StartDBStatsCollector launches a background goroutine that samples connection
// pool statistics every 30 seconds and updates the DBOpenConnections gauge.
// The goroutine exits cleanly when the database becomes unreachable (db.Ping
// fails), which happens automatically when the application shuts down and
// defers db.Close().
//
// Call this once, immediately after db.Connect() succeeds in main.go:
//
//	telemetry.StartDBStatsCollector(database)
func StartDBStatsCollector(db *sqlx.DB) {
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			if err := db.Ping(); err != nil {
				slog.Warn("db stats collector: database unreachable, stopping collector", "error", err)
				return
			}
			DBOpenConnections.Set(float64(db.Stats().OpenConnections))
		}
	}()
}
