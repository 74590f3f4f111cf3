package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/walnut-ops/walnut/internal/services"
)

// IntegrationHandler exposes the integration catalog: which drivers exist
// and which instances are configured.
type IntegrationHandler struct {
	service *services.InventoryService
}

func NewIntegrationHandler(service *services.InventoryService) *IntegrationHandler {
	return &IntegrationHandler{service: service}
}

// Types returns the catalog with decoded capability lists.
func (h *IntegrationHandler) Types(c *gin.Context) {
	types, err := h.service.ListIntegrationTypes(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to list integration types", err.Error())
		return
	}
	respondOK(c, http.StatusOK, types)
}

// Instances returns configured instances, optionally filtered with ?type=.
func (h *IntegrationHandler) Instances(c *gin.Context) {
	instances, err := h.service.ListInstances(c.Request.Context(), c.Query("type"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to list instances", err.Error())
		return
	}
	respondOK(c, http.StatusOK, instances)
}

// RegisterIntegrationRoutes wires the catalog endpoints.
func RegisterIntegrationRoutes(r *gin.RouterGroup, handler *IntegrationHandler) {
	integrations := r.Group("/integrations")
	{
		integrations.GET("/types", handler.Types)
		integrations.GET("/instances", handler.Instances)
	}
}
