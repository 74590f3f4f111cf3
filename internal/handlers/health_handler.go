package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// HealthHandler answers liveness and readiness probes.
type HealthHandler struct {
	db *gorm.DB
}

func NewHealthHandler(db *gorm.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

func (h *HealthHandler) Health(c *gin.Context) {
	respondOK(c, http.StatusOK, gin.H{
		"status":  "healthy",
		"version": "1.0.0",
	})
}

// Ready additionally pings the database so load balancers stop routing to an
// instance that lost its store.
func (h *HealthHandler) Ready(c *gin.Context) {
	if h.db != nil {
		sqlDB, err := h.db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			respondError(c, http.StatusServiceUnavailable, "database unreachable", err.Error())
			return
		}
	}
	respondOK(c, http.StatusOK, gin.H{"status": "ready"})
}

// RegisterHealthRoutes wires the probe endpoints.
func RegisterHealthRoutes(r *gin.RouterGroup, handler *HealthHandler) {
	r.GET("/health", handler.Health)
	r.GET("/ready", handler.Ready)
}
