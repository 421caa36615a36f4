package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Stream/internal/app/orch"
	"github.com/dkeye/Stream/internal/domain"
)

type handlers struct {
	orch *orch.Orchestrator
}

func (h *handlers) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "workers": h.orch.Pool.Size()})
}

func (h *handlers) listRooms(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.orch.Rooms.List()})
}

func (h *handlers) roomStats(c *gin.Context) {
	st, ok := h.orch.Rooms.Stats(domain.RoomID(c.Param("id")))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "room not found", "code": domain.Code(domain.ErrNotFound)})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *handlers) stopRoom(c *gin.Context) {
	id := domain.RoomID(c.Param("id"))
	if err := h.orch.StopRoom(id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error(), "code": domain.Code(err)})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "code": domain.Code(err)})
		return
	}
	log.Info().Str("module", "adapters.http").Str("room", string(id)).Msg("room stopped over http")
	c.Status(http.StatusNoContent)
}

func (h *handlers) rtpCapabilities(c *gin.Context) {
	caps, err := h.orch.Pool.Capabilities()
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "code": domain.Code(err)})
		return
	}
	c.JSON(http.StatusOK, caps)
}
