package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/walnut-ops/walnut/internal/services"
)

// EventsHandler attaches websocket subscribers to the policy event hub.
type EventsHandler struct {
	hub *services.EventHub
}

func NewEventsHandler(hub *services.EventHub) *EventsHandler {
	return &EventsHandler{hub: hub}
}

func (h *EventsHandler) Subscribe(c *gin.Context) {
	h.hub.HandleWebSocket(c)
}

func (h *EventsHandler) Stats(c *gin.Context) {
	respondOK(c, http.StatusOK, gin.H{
		"connected_clients": h.hub.ClientCount(),
		"status":            "running",
	})
}

// RegisterEventRoutes wires the event stream endpoints.
func RegisterEventRoutes(r *gin.RouterGroup, handler *EventsHandler) {
	events := r.Group("/events")
	{
		events.GET("/ws", handler.Subscribe)
		events.GET("/stats", handler.Stats)
	}
}
