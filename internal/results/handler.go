package results

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/areopag-vote/backend/internal/middleware"
	"github.com/areopag-vote/backend/internal/models"
	"github.com/areopag-vote/backend/pkg/response"
)

// PollGetter resolves polls with secretary scoping.
type PollGetter interface {
	GetByID(ctx context.Context, id uuid.UUID, scope *uuid.UUID) (*models.Poll, error)
}

// Handler handles the results endpoint.
type Handler struct {
	repo  *Repository
	polls PollGetter
}

// NewHandler creates a results handler.
func NewHandler(repo *Repository, polls PollGetter) *Handler {
	return &Handler{repo: repo, polls: polls}
}

// GetByPoll handles GET /polls/:id/results. Results exist only once the
// poll is finished.
func (h *Handler) GetByPoll(c *gin.Context) {
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
	poll, err := h.polls.GetByID(c.Request.Context(), id, scope)
	if err != nil {
		response.NotFound(c, "poll not found")
		return
	}
	if poll.State != models.PollFinished {
		response.Conflict(c, "the poll is "+poll.State.Label())
		return
	}

	tally, err := h.repo.Tally(c.Request.Context(), poll)
	if err != nil {
		response.Internal(c, "failed to compute results")
		return
	}
	response.OK(c, gin.H{"poll": poll, "tally": tally})
}
