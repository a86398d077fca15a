package voters

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/areopag-vote/backend/internal/middleware"
	"github.com/areopag-vote/backend/internal/models"
	"github.com/areopag-vote/backend/pkg/response"
)

// CreateRequest is the body for POST /voters.
type CreateRequest struct {
	FullName string `json:"full_name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
}

// UpdateRequest is the body for PATCH /voters/:id.
type UpdateRequest struct {
	FullName string `json:"full_name" binding:"required"`
	Email    string `json:"email" binding:"required,email"`
}

// Handler handles voter HTTP endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a voters handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// scope returns the secretary filter for the acting user: nil for superusers.
func scope(c *gin.Context) *uuid.UUID {
	if c.MustGet(middleware.ContextUserRole).(string) == string(models.RoleSuperuser) {
		return nil
	}
	id := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	return &id
}

// Create handles POST /voters.
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	v := &models.Voter{
		SecretaryID: c.MustGet(middleware.ContextUserID).(uuid.UUID),
		FullName:    req.FullName,
		Email:       req.Email,
	}
	if err := h.repo.Create(c.Request.Context(), v); err != nil {
		h.logger.Error("create voter failed", zap.Error(err))
		response.Internal(c, "failed to create voter")
		return
	}
	response.Created(c, v)
}

// Get handles GET /voters/:id.
func (h *Handler) Get(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid voter id")
		return
	}
	v, err := h.repo.GetByID(c.Request.Context(), id, scope(c))
	if err != nil {
		response.NotFound(c, "voter not found")
		return
	}
	response.OK(c, v)
}

// List handles GET /voters.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context(), scope(c))
	if err != nil {
		response.Internal(c, "failed to list voters")
		return
	}
	response.OK(c, list)
}

// Update handles PATCH /voters/:id.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid voter id")
		return
	}
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ok, err := h.repo.Update(c.Request.Context(), id, scope(c), req.FullName, req.Email)
	if err != nil {
		response.Internal(c, "failed to update voter")
		return
	}
	if !ok {
		response.NotFound(c, "voter not found")
		return
	}
	response.OK(c, gin.H{"id": id, "updated": true})
}

// Delete handles DELETE /voters/:id.
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid voter id")
		return
	}
	ok, err := h.repo.Delete(c.Request.Context(), id, scope(c))
	if err != nil {
		response.Internal(c, "failed to delete voter")
		return
	}
	if !ok {
		response.Conflict(c, "voter not found or already referenced by a poll")
		return
	}
	response.NoContent(c)
}
