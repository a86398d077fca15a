package delivery

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/areopag-vote/backend/internal/middleware"
	"github.com/areopag-vote/backend/internal/models"
	"github.com/areopag-vote/backend/pkg/response"
)

// Handler exposes the ledger to the admin surface.
type Handler struct {
	repo    *Repository
	baseURL string
}

// NewHandler creates a delivery handler.
func NewHandler(repo *Repository, baseURL string) *Handler {
	return &Handler{repo: repo, baseURL: baseURL}
}

type ledgerItem struct {
	LedgerEntry
	BulletinURL string `json:"bulletin_url"`
}

// ListByPoll handles GET /polls/:id/entitlements: per-voter delivery status,
// visited flag, metadata and the one-time bulletin link.
func (h *Handler) ListByPoll(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	var scope *uuid.UUID
	if c.MustGet(middleware.ContextUserRole).(string) != string(models.RoleSuperuser) {
		uid := c.MustGet(middleware.ContextUserID).(uuid.UUID)
		scope = &uid
	}
	entries, err := h.repo.ListByPoll(c.Request.Context(), id, scope)
	if err != nil {
		response.Internal(c, "failed to load ledger")
		return
	}
	items := make([]ledgerItem, len(entries))
	for i, e := range entries {
		items[i] = ledgerItem{LedgerEntry: e, BulletinURL: BulletinURL(h.baseURL, e.PublicToken)}
	}
	response.OK(c, items)
}
