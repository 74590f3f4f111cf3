package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/walnut-ops/walnut/internal/metrics"
	"github.com/walnut-ops/walnut/internal/services"
	"github.com/walnut-ops/walnut/pkg/policy"
)

// PolicyHandler exposes policy CRUD, validation, dry run and the inverse
// generator.
type PolicyHandler struct {
	service *services.PolicyService
	logger  *logrus.Logger
}

func NewPolicyHandler(service *services.PolicyService, logger *logrus.Logger) *PolicyHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &PolicyHandler{service: service, logger: logger}
}

// savePayload is the save response body: the stored record plus the
// validation verdict it was saved under.
type savePayload struct {
	Record     interface{}              `json:"record"`
	Validation *policy.ValidationResult `json:"validation"`
}

// List returns all policies ordered by priority.
func (h *PolicyHandler) List(c *gin.Context) {
	records, err := h.service.List(c.Request.Context())
	if err != nil {
		h.logger.Errorf("list policies: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to list policies", err.Error())
		return
	}
	respondOK(c, http.StatusOK, records)
}

// Get returns one record with its decoded spec.
func (h *PolicyHandler) Get(c *gin.Context) {
	record, spec, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "Policy not found", "")
			return
		}
		respondError(c, http.StatusInternalServerError, "Failed to load policy", err.Error())
		return
	}
	respondOK(c, http.StatusOK, gin.H{"record": record, "spec": spec})
}

// Create saves a new policy. Schema issues answer 422; compile issues do too
// unless the spec is disabled.
func (h *PolicyHandler) Create(c *gin.Context) {
	var spec policy.PolicySpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	record, result, err := h.service.Create(c.Request.Context(), spec)
	if err != nil {
		h.respondSaveError(c, err, result)
		return
	}
	respondOK(c, http.StatusCreated, savePayload{Record: record, Validation: result})
}

// Update replaces a stored policy. Last write wins.
func (h *PolicyHandler) Update(c *gin.Context) {
	var spec policy.PolicySpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	record, result, err := h.service.Update(c.Request.Context(), c.Param("id"), spec)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "Policy not found", "")
			return
		}
		h.respondSaveError(c, err, result)
		return
	}
	respondOK(c, http.StatusOK, savePayload{Record: record, Validation: result})
}

func (h *PolicyHandler) respondSaveError(c *gin.Context, err error, result *policy.ValidationResult) {
	switch {
	case errors.Is(err, services.ErrSchemaInvalid), errors.Is(err, services.ErrCompileInvalid):
		detail := ""
		if result != nil {
			for _, issue := range append(result.Schema, result.Compile...) {
				if detail != "" {
					detail += "; "
				}
				detail += issue.Path + ": " + issue.Message
			}
		}
		respondError(c, http.StatusUnprocessableEntity, err.Error(), detail)
	default:
		h.logger.Errorf("save policy: %v", err)
		respondError(c, http.StatusInternalServerError, "Failed to save policy", err.Error())
	}
}

// Delete removes a policy.
func (h *PolicyHandler) Delete(c *gin.Context) {
	if err := h.service.Delete(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "Policy not found", "")
			return
		}
		respondError(c, http.StatusInternalServerError, "Failed to delete policy", err.Error())
		return
	}
	c.JSON(http.StatusOK, SuccessResponse{Success: true, Message: "deleted"})
}

// Validate checks a spec without persisting it. The response is always 200;
// schema and compile issues ride in the result body.
func (h *PolicyHandler) Validate(c *gin.Context) {
	var spec policy.PolicySpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	result := h.service.Validate(c.Request.Context(), spec)
	metrics.IncValidation(validationOutcome(result))
	respondOK(c, http.StatusOK, result)
}

func validationOutcome(result *policy.ValidationResult) string {
	switch {
	case len(result.Schema) > 0:
		return "schema_errors"
	case len(result.Compile) > 0:
		return "compile_errors"
	default:
		return "ok"
	}
}

// Test compiles a spec and returns the plan preview.
func (h *PolicyHandler) Test(c *gin.Context) {
	var spec policy.PolicySpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	result, err := h.service.Test(c.Request.Context(), spec)
	if err != nil {
		respondError(c, http.StatusUnprocessableEntity, "Policy does not compile", err.Error())
		return
	}
	respondOK(c, http.StatusOK, result)
}

// DryRunSpec previews an unsaved spec, used while editing.
func (h *PolicyHandler) DryRunSpec(c *gin.Context) {
	var spec policy.PolicySpec
	if err := c.ShouldBindJSON(&spec); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	result, err := h.service.DryRunSpec(c.Request.Context(), spec)
	if err != nil {
		if errors.Is(err, services.ErrCompileInvalid) {
			respondError(c, http.StatusUnprocessableEntity, "Policy does not compile", "")
			return
		}
		respondError(c, http.StatusInternalServerError, "Dry run failed", err.Error())
		return
	}
	metrics.IncDryRun(result.Severity)
	respondOK(c, http.StatusOK, result)
}

// DryRun previews a saved policy by id and records the run.
func (h *PolicyHandler) DryRun(c *gin.Context) {
	result, err := h.service.DryRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			respondError(c, http.StatusNotFound, "Policy not found", "")
		case errors.Is(err, services.ErrCompileInvalid):
			respondError(c, http.StatusUnprocessableEntity, "Policy does not compile", "")
		default:
			respondError(c, http.StatusInternalServerError, "Dry run failed", err.Error())
		}
		return
	}
	metrics.IncDryRun(result.Severity)
	respondOK(c, http.StatusOK, result)
}

// Inverse derives the reverse policy for a saved one, returned unsaved.
func (h *PolicyHandler) Inverse(c *gin.Context) {
	spec, err := h.service.Inverse(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "Policy not found", "")
			return
		}
		respondError(c, http.StatusUnprocessableEntity, "Cannot invert policy", err.Error())
		return
	}
	respondOK(c, http.StatusOK, spec)
}

type enableRequest struct {
	Enabled bool `json:"enabled"`
}

// SetEnabled flips only the enabled flag. Enabling revalidates first.
func (h *PolicyHandler) SetEnabled(c *gin.Context) {
	var req enableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "Invalid request body", err.Error())
		return
	}

	record, err := h.service.SetEnabled(c.Request.Context(), c.Param("id"), req.Enabled)
	if err != nil {
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			respondError(c, http.StatusNotFound, "Policy not found", "")
		case errors.Is(err, services.ErrCompileInvalid):
			respondError(c, http.StatusUnprocessableEntity, "Policy has unresolved issues", "fix validation issues before enabling")
		default:
			respondError(c, http.StatusInternalServerError, "Failed to toggle policy", err.Error())
		}
		return
	}
	respondOK(c, http.StatusOK, record)
}

// Runs lists the audit trail for one policy.
func (h *PolicyHandler) Runs(c *gin.Context) {
	runs, err := h.service.Runs(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "Failed to list runs", err.Error())
		return
	}
	respondOK(c, http.StatusOK, runs)
}

// RegisterPolicyRoutes wires the policy endpoints.
func RegisterPolicyRoutes(r *gin.RouterGroup, handler *PolicyHandler) {
	policies := r.Group("/policies")
	{
		policies.GET("", handler.List)
		policies.POST("", handler.Create)
		policies.POST("/validate", handler.Validate)
		policies.POST("/test", handler.Test)
		policies.POST("/dry-run", handler.DryRunSpec)
		policies.GET("/:id", handler.Get)
		policies.PUT("/:id", handler.Update)
		policies.DELETE("/:id", handler.Delete)
		policies.POST("/:id/enable", handler.SetEnabled)
		policies.POST("/:id/dry-run", handler.DryRun)
		policies.POST("/:id/inverse", handler.Inverse)
		policies.GET("/:id/runs", handler.Runs)
	}
}
