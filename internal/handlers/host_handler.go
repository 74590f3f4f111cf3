package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/walnut-ops/walnut/internal/services"
)

// HostHandler serves the host and inventory lookups the target editor uses.
type HostHandler struct {
	service *services.InventoryService
}

func NewHostHandler(service *services.InventoryService) *HostHandler {
	return &HostHandler{service: service}
}

// List returns all managed hosts.
func (h *HostHandler) List(c *gin.Context) {
	hosts, err := h.service.ListHosts(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to list hosts", err.Error())
		return
	}
	respondOK(c, http.StatusOK, hosts)
}

// Capabilities returns the merged capability list for one host.
func (h *HostHandler) Capabilities(c *gin.Context) {
	caps, err := h.service.HostCapabilities(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "Host not found", "")
			return
		}
		respondError(c, http.StatusInternalServerError, "Failed to load capabilities", err.Error())
		return
	}
	respondOK(c, http.StatusOK, caps)
}

// Inventory returns the targetable items for a host. ?refresh=true forces a
// re-poll instead of serving the cache.
func (h *HostHandler) Inventory(c *gin.Context) {
	refresh := c.Query("refresh") == "true"
	items, err := h.service.Inventory(c.Request.Context(), c.Param("id"), refresh)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "Host not found", "")
			return
		}
		respondError(c, http.StatusInternalServerError, "Failed to load inventory", err.Error())
		return
	}
	respondOK(c, http.StatusOK, items)
}

// RegisterHostRoutes wires the host endpoints.
func RegisterHostRoutes(r *gin.RouterGroup, handler *HostHandler) {
	hosts := r.Group("/hosts")
	{
		hosts.GET("", handler.List)
		hosts.GET("/:id/capabilities", handler.Capabilities)
		hosts.GET("/:id/inventory", handler.Inventory)
	}
}
