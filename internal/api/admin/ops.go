// ops.go implements the operational triggers: on-demand policy reload and
// on-demand archive export. Both mirror what the background machinery does on
// its own schedule, for operators who cannot wait for the next tick.
package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fieldtrace/fieldtrace/internal/archive"
	"github.com/fieldtrace/fieldtrace/internal/policy"
	"github.com/fieldtrace/fieldtrace/internal/telemetry"
)

// defaultExportWindow bounds an export request that names no window.
const defaultExportWindow = 24 * time.Hour

// OpsHandlers serves the /api/v1/admin/policy and /api/v1/admin/archive
// routes. policyPath may be empty and exporter nil when the corresponding
// subsystem is not configured; the handlers answer 503 then.
type OpsHandlers struct {
	policyPath string
	applier    *policy.Applier
	exporter   *archive.Exporter
}

// NewOpsHandlers creates the operational trigger handlers.
func NewOpsHandlers(policyPath string, applier *policy.Applier, exporter *archive.Exporter) *OpsHandlers {
	return &OpsHandlers{policyPath: policyPath, applier: applier, exporter: exporter}
}

// ReloadPolicy handles POST /api/v1/admin/policy/reload: re-read, validate,
// and apply the policy file. An invalid file is rejected with the validation
// error and the running policy stays active.
func (h *OpsHandlers) ReloadPolicy(c *gin.Context) {
	if h.policyPath == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No policy file configured"})
		return
	}

	p, err := policy.Load(h.policyPath)
	if err != nil {
		telemetry.PolicyReloadsTotal.WithLabelValues("error").Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	h.applier.Apply(p)
	telemetry.PolicyReloadsTotal.WithLabelValues("success").Inc()
	c.JSON(http.StatusOK, gin.H{
		"version": p.Version,
		"kinds":   len(p.Kinds),
	})
}

type exportRequest struct {
	Since *time.Time `json:"since"`
	Until *time.Time `json:"until"`
}

// ExportArchive handles POST /api/v1/admin/archive/export: write one bundle
// covering the requested window, defaulting to the last 24 hours.
func (h *OpsHandlers) ExportArchive(c *gin.Context) {
	if h.exporter == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "No archive backend configured"})
		return
	}

	var req exportRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body"})
			return
		}
	}

	until := time.Now().UTC()
	if req.Until != nil {
		until = req.Until.UTC()
	}
	since := until.Add(-defaultExportWindow)
	if req.Since != nil {
		since = req.Since.UTC()
	}
	if !since.Before(until) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "since must be before until"})
		return
	}

	result, err := h.exporter.Export(c.Request.Context(), since, until)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Export failed"})
		return
	}
	c.JSON(http.StatusOK, result)
}
