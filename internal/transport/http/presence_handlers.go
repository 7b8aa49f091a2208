package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vovakirdan/campusmesh/internal/core"
	"github.com/vovakirdan/campusmesh/internal/proto"
)

// PresenceHandlers exposes the registry over REST for diagnostics.
type PresenceHandlers struct {
	registry *core.Registry
}

// NewPresenceHandlers creates presence handlers backed by registry.
func NewPresenceHandlers(registry *core.Registry) *PresenceHandlers {
	return &PresenceHandlers{registry: registry}
}

// PresenceResponse is the body of GET /api/presence.
type PresenceResponse struct {
	Count int              `json:"count"`
	Peers []proto.Presence `json:"peers"`
}

// List handles GET /api/presence.
func (h *PresenceHandlers) List(c *gin.Context) {
	records := h.registry.Snapshot("")
	c.JSON(http.StatusOK, PresenceResponse{
		Count: len(records),
		Peers: presenceList(records),
	})
}
