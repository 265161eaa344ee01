package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/openpress/cptables/internal/common"
	"github.com/openpress/cptables/internal/migrator"
	"github.com/openpress/cptables/internal/schema"
)

// AdminHandler handles custom-table administration: toggling per-type
// storage, polling migration status, inspecting detected tables and
// sweeping orphaned meta rows.
type AdminHandler struct {
	orchestrator *migrator.Orchestrator
	schema       *schema.Store
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(orchestrator *migrator.Orchestrator, schemaStore *schema.Store) *AdminHandler {
	return &AdminHandler{orchestrator: orchestrator, schema: schemaStore}
}

type toggleRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

// ToggleType handles POST /admin/cpt/:type/toggle. The migration runs
// synchronously; progress is pollable on the status endpoint while it runs.
func (h *AdminHandler) ToggleType(c *gin.Context) {
	postType := c.Param("type")

	var req toggleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Request body must carry an enabled flag", err)
		return
	}

	ctx := c.Request.Context()
	st, err := func() (interface{}, error) {
		if *req.Enabled {
			return h.orchestrator.Enable(ctx, postType)
		}
		return h.orchestrator.Disable(ctx, postType)
	}()
	if err != nil {
		switch {
		case errors.Is(err, common.ErrInvalidTypeName):
			common.ErrorResponse(c, http.StatusBadRequest, "Invalid post type name", err)
		case errors.Is(err, common.ErrUnknownPostType):
			common.ErrorResponse(c, http.StatusNotFound, "Unregistered post type", err)
		case errors.Is(err, common.ErrMigrationInProgress):
			common.ErrorResponse(c, http.StatusConflict, "A migration for this post type is already running", err)
		default:
			common.ErrorResponse(c, http.StatusInternalServerError, "Migration failed", err)
		}
		return
	}

	common.SuccessResponse(c, st, &common.Meta{PostType: postType})
}

// GetStatus handles GET /admin/cpt/:type/status.
func (h *AdminHandler) GetStatus(c *gin.Context) {
	postType := c.Param("type")

	st, err := h.orchestrator.Status(c.Request.Context(), postType)
	if err != nil {
		switch {
		case errors.Is(err, common.ErrInvalidTypeName):
			common.ErrorResponse(c, http.StatusBadRequest, "Invalid post type name", err)
		default:
			common.ErrorResponse(c, http.StatusInternalServerError, "Failed to read migration status", err)
		}
		return
	}

	common.SuccessResponse(c, st, &common.Meta{PostType: postType})
}

// ListTables handles GET /admin/cpt/tables. It reports every custom table
// pair found in the database, including pairs left by other installs.
func (h *AdminHandler) ListTables(c *gin.Context) {
	tables, err := h.schema.DetectExisting()
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Failed to inspect tables", err)
		return
	}
	common.SuccessResponse(c, tables, nil)
}

// Sweep handles POST /admin/cpt/sweep.
func (h *AdminHandler) Sweep(c *gin.Context) {
	deleted, err := h.orchestrator.Sweep(c.Request.Context())
	if err != nil {
		common.ErrorResponse(c, http.StatusInternalServerError, "Orphan sweep failed", err)
		return
	}
	common.SuccessResponse(c, gin.H{"deleted": deleted}, nil)
}
