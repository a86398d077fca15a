package polls

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/areopag-vote/backend/internal/middleware"
	"github.com/areopag-vote/backend/internal/models"
	"github.com/areopag-vote/backend/pkg/response"
)

// Dispatcher sends bulletin links for a poll's pending entitlements.
type Dispatcher interface {
	Dispatch(ctx context.Context, poll *models.Poll) error
}

// SaveRequest is the body for POST /polls and PATCH /polls/:id.
type SaveRequest struct {
	Title         string      `json:"title" binding:"required"`
	Description   string      `json:"description"`
	AllowSpoiling bool        `json:"allow_spoiling"`
	ScheduledAt   time.Time   `json:"scheduled_at"`
	VoterLocal    []uuid.UUID `json:"voter_local"`
	VoterRemote   []uuid.UUID `json:"voter_remote"`
}

const activityCacheKey = "polls:activity"
const activityCacheTTL = 10 * time.Second

// Handler handles poll HTTP endpoints.
type Handler struct {
	repo       *Repository
	dispatcher Dispatcher
	rdb        *redis.Client
	logger     *zap.Logger
}

// NewHandler creates a polls handler. rdb may be nil; the public activity
// summary is then served uncached.
func NewHandler(repo *Repository, dispatcher Dispatcher, rdb *redis.Client, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, dispatcher: dispatcher, rdb: rdb, logger: logger}
}

func scope(c *gin.Context) *uuid.UUID {
	if c.MustGet(middleware.ContextUserRole).(string) == string(models.RoleSuperuser) {
		return nil
	}
	id := c.MustGet(middleware.ContextUserID).(uuid.UUID)
	return &id
}

func buildMembers(req *SaveRequest) []models.PollMember {
	members := make([]models.PollMember, 0, len(req.VoterLocal)+len(req.VoterRemote))
	for _, id := range req.VoterLocal {
		members = append(members, models.PollMember{VoterID: id, Kind: models.VoterLocal})
	}
	for _, id := range req.VoterRemote {
		members = append(members, models.PollMember{VoterID: id, Kind: models.VoterRemote})
	}
	return members
}

// checkMembership rejects voters listed as both local and remote, naming them.
func (h *Handler) checkMembership(c *gin.Context, req *SaveRequest) bool {
	dups := DuplicateMembers(req.VoterLocal, req.VoterRemote)
	if len(dups) == 0 {
		return true
	}
	names, err := h.repo.VoterNames(c.Request.Context(), dups)
	if err != nil {
		response.Internal(c, "failed to validate membership")
		return false
	}
	merr := &MembershipError{Names: names}
	c.JSON(http.StatusBadRequest, response.Body{Success: false, Error: merr.Error(), Data: gin.H{"voters": names}})
	return false
}

// Create handles POST /polls.
func (h *Handler) Create(c *gin.Context) {
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !h.checkMembership(c, &req) {
		return
	}
	if req.ScheduledAt.IsZero() {
		req.ScheduledAt = time.Now()
	}
	p := &models.Poll{
		SecretaryID:   c.MustGet(middleware.ContextUserID).(uuid.UUID),
		Title:         req.Title,
		Description:   req.Description,
		AllowSpoiling: req.AllowSpoiling,
		ScheduledAt:   req.ScheduledAt,
	}
	if err := h.repo.Create(c.Request.Context(), p, buildMembers(&req)); err != nil {
		h.logger.Error("create poll failed", zap.Error(err))
		response.Internal(c, "failed to create poll")
		return
	}
	response.Created(c, p)
}

// List handles GET /polls.
func (h *Handler) List(c *gin.Context) {
	list, err := h.repo.List(c.Request.Context(), scope(c))
	if err != nil {
		response.Internal(c, "failed to list polls")
		return
	}
	response.OK(c, list)
}

// GetByID handles GET /polls/:id, returning the poll with its membership.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	p, err := h.repo.GetByID(c.Request.Context(), id, scope(c))
	if err != nil {
		response.NotFound(c, "poll not found")
		return
	}
	members, err := h.repo.Members(c.Request.Context(), p.ID)
	if err != nil {
		response.Internal(c, "failed to load membership")
		return
	}
	response.OK(c, gin.H{"poll": p, "members": members})
}

// Update handles PATCH /polls/:id. Finished polls are immutable;
// allow_spoiling freezes once the poll has started.
func (h *Handler) Update(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	p, err := h.repo.GetByID(c.Request.Context(), id, scope(c))
	if err != nil {
		response.NotFound(c, "poll not found")
		return
	}
	if p.State == models.PollFinished {
		response.Conflict(c, "finished polls cannot be edited")
		return
	}
	var req SaveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	if !h.checkMembership(c, &req) {
		return
	}
	p.Title = req.Title
	p.Description = req.Description
	p.AllowSpoiling = req.AllowSpoiling
	if !req.ScheduledAt.IsZero() {
		p.ScheduledAt = req.ScheduledAt
	}
	if err := h.repo.Update(c.Request.Context(), p, buildMembers(&req)); err != nil {
		h.logger.Error("update poll failed", zap.Error(err), zap.String("poll_id", id.String()))
		response.Internal(c, "failed to update poll")
		return
	}
	response.OK(c, p)
}

// Delete handles DELETE /polls/:id (superuser only, enforced by middleware).
func (h *Handler) Delete(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	ok, err := h.repo.Delete(c.Request.Context(), id)
	if err != nil {
		response.Internal(c, "failed to delete poll")
		return
	}
	if !ok {
		response.NotFound(c, "poll not found")
		return
	}
	response.NoContent(c)
}

// Start handles POST /polls/:id/start. Finished polls are skipped; starting
// an already started poll re-seeds missing entitlements and re-dispatches.
// Seeding and the state flip happen in one transaction; mail goes out after
// commit, synchronously within this request.
func (h *Handler) Start(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	p, err := h.repo.GetByID(c.Request.Context(), id, scope(c))
	if err != nil {
		response.NotFound(c, "poll not found")
		return
	}
	if p.State == models.PollFinished {
		response.OK(c, gin.H{"id": id, "started": false, "state": p.State})
		return
	}
	if err := h.repo.Start(c.Request.Context(), p.ID); err != nil {
		h.logger.Error("start poll failed", zap.Error(err), zap.String("poll_id", id.String()))
		response.Internal(c, "failed to start poll")
		return
	}
	p.State = models.PollStarted
	if err := h.dispatcher.Dispatch(c.Request.Context(), p); err != nil {
		// Send failures are recorded per entitlement; this only reports a
		// dispatcher that could not run at all (e.g. already dispatching).
		h.logger.Warn("dispatch after start", zap.Error(err), zap.String("poll_id", id.String()))
	}
	response.OK(c, gin.H{"id": id, "started": true, "state": p.State})
}

// Finish handles POST /polls/:id/finish. Polls not in started state are
// silently skipped, never an error.
func (h *Handler) Finish(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	p, err := h.repo.GetByID(c.Request.Context(), id, scope(c))
	if err != nil {
		response.NotFound(c, "poll not found")
		return
	}
	finished, err := h.repo.Finish(c.Request.Context(), p.ID)
	if err != nil {
		response.Internal(c, "failed to finish poll")
		return
	}
	response.OK(c, gin.H{"id": id, "finished": finished})
}

// Duplicate handles POST /polls/:id/duplicate.
func (h *Handler) Duplicate(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	p, err := h.repo.GetByID(c.Request.Context(), id, scope(c))
	if err != nil {
		response.NotFound(c, "poll not found")
		return
	}
	clone, err := h.repo.Duplicate(c.Request.Context(), p.ID)
	if err != nil {
		h.logger.Error("duplicate poll failed", zap.Error(err), zap.String("poll_id", id.String()))
		response.Internal(c, "failed to duplicate poll")
		return
	}
	response.Created(c, clone)
}

type activitySummary struct {
	States      map[models.PollState]int `json:"states"`
	ActivePolls []string                 `json:"active_polls"`
}

// Dispatch handles POST /polls/:id/dispatch, an explicit re-send of pending
// bulletin emails (ready/error/queueing/sending records).
func (h *Handler) Dispatch(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid poll id")
		return
	}
	p, err := h.repo.GetByID(c.Request.Context(), id, scope(c))
	if err != nil {
		response.NotFound(c, "poll not found")
		return
	}
	if err := h.dispatcher.Dispatch(c.Request.Context(), p); err != nil {
		response.Conflict(c, err.Error())
		return
	}
	response.OK(c, gin.H{"id": id, "dispatched": true})
}

// Activity handles GET /, the public poll-activity summary: counts per state
// and titles of currently started polls. Cached briefly in Redis.
func (h *Handler) Activity(c *gin.Context) {
	ctx := c.Request.Context()
	if h.rdb != nil {
		if cached, err := h.rdb.Get(ctx, activityCacheKey).Bytes(); err == nil {
			var summary activitySummary
			if json.Unmarshal(cached, &summary) == nil {
				response.OK(c, summary)
				return
			}
		}
	}

	counts, err := h.repo.CountByState(ctx)
	if err != nil {
		response.Internal(c, "failed to load poll activity")
		return
	}
	titles, err := h.repo.ActiveTitles(ctx)
	if err != nil {
		response.Internal(c, "failed to load poll activity")
		return
	}
	summary := activitySummary{States: counts, ActivePolls: titles}

	if h.rdb != nil {
		if raw, err := json.Marshal(summary); err == nil {
			if err := h.rdb.Set(ctx, activityCacheKey, raw, activityCacheTTL).Err(); err != nil {
				h.logger.Debug("activity cache set failed", zap.Error(err))
			}
		}
	}
	response.OK(c, summary)
}
