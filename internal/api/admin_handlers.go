package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"docreplicator/internal/replication"
)

// AdminHandler exposes read-only and corrective operations over the
// replication engine's own bookkeeping, for operational tooling outside
// the core engine. It is cmd/replicli's server-side counterpart.
type AdminHandler struct {
	registry *replication.Registry
	failures *replication.FailureTracker
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(registry *replication.Registry, failures *replication.FailureTracker) *AdminHandler {
	return &AdminHandler{registry: registry, failures: failures}
}

// Register mounts the admin routes on r.
func (h *AdminHandler) Register(r *gin.Engine) {
	admin := r.Group("/admin")
	admin.GET("/destinations", h.ListDestinations)
	admin.GET("/failures", h.ListFailures)
	admin.POST("/failures/reset", h.ResetFailure)
}

// ListDestinations handles GET /admin/destinations.
func (h *AdminHandler) ListDestinations(c *gin.Context) {
	dests := h.registry.LoadDestinations(c.Request.Context())
	out := make([]gin.H, 0, len(dests))
	for _, d := range dests {
		out = append(out, gin.H{"url": d.EffectiveURL, "database": d.Database})
	}
	c.JSON(http.StatusOK, out)
}

// ListFailures handles GET /admin/failures.
func (h *AdminHandler) ListFailures(c *gin.Context) {
	snapshot := h.failures.Snapshot()
	out := make([]gin.H, 0, len(snapshot))
	for dest, stat := range snapshot {
		out = append(out, gin.H{
			"destination": dest,
			"count":       stat.Count,
			"timestamp":   stat.Timestamp,
			"lastError":   stat.LastError,
		})
	}
	c.JSON(http.StatusOK, out)
}

// ResetFailure handles POST /admin/failures/reset?destination=. The
// destination is normalized the same way Destination.Key() does, since that
// is how the tracker actually keys its entries.
func (h *AdminHandler) ResetFailure(c *gin.Context) {
	dest := c.Query("destination")
	if dest == "" {
		c.JSON(http.StatusBadRequest, gin.H{"Error": "missing destination parameter"})
		return
	}
	h.failures.Reset(c.Request.Context(), strings.ToLower(dest))
	c.Status(http.StatusNoContent)
}
