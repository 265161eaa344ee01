package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/openpress/cptables/internal/common"
	"github.com/openpress/cptables/internal/domain"
	"github.com/openpress/cptables/internal/service"
)

// PostHandler handles content CRUD for any post type. The storage backend
// (shared or custom tables) is invisible at this layer.
type PostHandler struct {
	service service.PostService
}

// NewPostHandler creates a new PostHandler.
func NewPostHandler(service service.PostService) *PostHandler {
	return &PostHandler{service: service}
}

type postRequest struct {
	Title     string `json:"title"`
	Content   string `json:"content"`
	Excerpt   string `json:"excerpt"`
	Status    string `json:"status"`
	Slug      string `json:"slug"`
	ParentID  int64  `json:"parent_id"`
	MenuOrder int    `json:"menu_order"`
}

// List handles GET /types/:type/posts.
func (h *PostHandler) List(c *gin.Context) {
	postType := c.Param("type")

	page := 1
	if p, err := strconv.Atoi(c.Query("page")); err == nil && p > 0 {
		page = p
	}
	limit := 20
	if l, err := strconv.Atoi(c.Query("limit")); err == nil && l > 0 {
		limit = l
	}

	posts, total, err := h.service.List(c.Request.Context(), postType, page, limit)
	if err != nil {
		h.respondError(c, err, "Failed to list posts")
		return
	}

	common.SuccessResponse(c, posts, &common.Meta{
		PostType: postType,
		Page:     page,
		Limit:    limit,
		Total:    total,
	})
}

// Get handles GET /types/:type/posts/:id.
func (h *PostHandler) Get(c *gin.Context) {
	postType := c.Param("type")
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid post ID", err)
		return
	}

	post, err := h.service.Get(c.Request.Context(), postType, id)
	if err != nil {
		h.respondError(c, err, "Failed to get post")
		return
	}
	common.SuccessResponse(c, post, &common.Meta{PostType: postType})
}

// Create handles POST /types/:type/posts.
func (h *PostHandler) Create(c *gin.Context) {
	postType := c.Param("type")

	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	post := domain.Post{
		Title:     req.Title,
		Content:   req.Content,
		Excerpt:   req.Excerpt,
		Status:    req.Status,
		Slug:      req.Slug,
		ParentID:  req.ParentID,
		MenuOrder: req.MenuOrder,
		Type:      postType,
	}
	if err := h.service.Create(c.Request.Context(), &post); err != nil {
		h.respondError(c, err, "Failed to create post")
		return
	}
	c.JSON(http.StatusCreated, common.APIResponse{Data: post, Meta: &common.Meta{PostType: postType}})
}

// Update handles PUT /types/:type/posts/:id.
func (h *PostHandler) Update(c *gin.Context) {
	postType := c.Param("type")
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid post ID", err)
		return
	}

	var req postRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	post := domain.Post{
		ID:        id,
		Title:     req.Title,
		Content:   req.Content,
		Excerpt:   req.Excerpt,
		Status:    req.Status,
		Slug:      req.Slug,
		ParentID:  req.ParentID,
		MenuOrder: req.MenuOrder,
		Type:      postType,
	}
	if err := h.service.Update(c.Request.Context(), &post); err != nil {
		h.respondError(c, err, "Failed to update post")
		return
	}
	common.SuccessResponse(c, post, &common.Meta{PostType: postType})
}

// Delete handles DELETE /types/:type/posts/:id.
func (h *PostHandler) Delete(c *gin.Context) {
	postType := c.Param("type")
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid post ID", err)
		return
	}

	if err := h.service.Delete(c.Request.Context(), postType, id); err != nil {
		h.respondError(c, err, "Failed to delete post")
		return
	}
	common.SuccessResponse(c, gin.H{"deleted": id}, &common.Meta{PostType: postType})
}

// ListMeta handles GET /types/:type/posts/:id/meta.
func (h *PostHandler) ListMeta(c *gin.Context) {
	postType := c.Param("type")
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid post ID", err)
		return
	}

	meta, err := h.service.ListMeta(c.Request.Context(), postType, id)
	if err != nil {
		h.respondError(c, err, "Failed to list meta")
		return
	}
	common.SuccessResponse(c, meta, &common.Meta{PostType: postType})
}

type metaRequest struct {
	Value string `json:"value"`
}

// SetMeta handles PUT /types/:type/posts/:id/meta/:key.
func (h *PostHandler) SetMeta(c *gin.Context) {
	postType := c.Param("type")
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid post ID", err)
		return
	}
	key := c.Param("key")

	var req metaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := h.service.SetMeta(c.Request.Context(), postType, id, key, req.Value); err != nil {
		h.respondError(c, err, "Failed to set meta")
		return
	}
	common.SuccessResponse(c, gin.H{"key": key, "value": req.Value}, &common.Meta{PostType: postType})
}

// DeleteMeta handles DELETE /types/:type/posts/:id/meta/:key.
func (h *PostHandler) DeleteMeta(c *gin.Context) {
	postType := c.Param("type")
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid post ID", err)
		return
	}
	key := c.Param("key")

	if err := h.service.DeleteMeta(c.Request.Context(), postType, id, key); err != nil {
		h.respondError(c, err, "Failed to delete meta")
		return
	}
	common.SuccessResponse(c, gin.H{"deleted": key}, &common.Meta{PostType: postType})
}

func (h *PostHandler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, common.ErrInvalidTypeName):
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid post type name", err)
	case errors.Is(err, common.ErrInvalidInput):
		common.ErrorResponse(c, http.StatusBadRequest, "Invalid input", err)
	case errors.Is(err, common.ErrPostNotFound):
		common.ErrorResponse(c, http.StatusNotFound, "Post not found", err)
	case errors.Is(err, common.ErrMetaNotFound):
		common.ErrorResponse(c, http.StatusNotFound, "Meta not found", err)
	default:
		common.ErrorResponse(c, http.StatusInternalServerError, fallback, err)
	}
}
