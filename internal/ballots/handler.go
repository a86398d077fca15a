package ballots

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/areopag-vote/backend/internal/middleware"
	"github.com/areopag-vote/backend/internal/models"
	"github.com/areopag-vote/backend/pkg/response"
)

// PollGetter resolves polls for the redemption surfaces.
type PollGetter interface {
	GetByID(ctx context.Context, id uuid.UUID, scope *uuid.UUID) (*models.Poll, error)
}

// Handler handles the voter-facing issuance/redemption endpoints and the
// admin print action.
type Handler struct {
	service *Service
	polls   PollGetter
	baseURL string
	logger  *zap.Logger
}

// NewHandler creates a ballots handler.
func NewHandler(service *Service, polls PollGetter, baseURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, polls: polls, baseURL: baseURL, logger: logger}
}

// VoteURL builds the ballot URL a freshly minted key is redeemed at.
func (h *Handler) VoteURL(pollID uuid.UUID, value string) string {
	return fmt.Sprintf("%s/vote/poll_%s/%s/", h.baseURL, pollID, value)
}

// GetBulletin handles GET /get_bulletin/:token. Unknown tokens are a hard
// 404; everything else is a soft message. On success the private key value
// is disclosed exactly once.
func (h *Handler) GetBulletin(c *gin.Context) {
	token, err := uuid.Parse(c.Param("token"))
	if err != nil {
		response.NotFound(c, "bulletin link not found")
		return
	}

	value, poll, err := h.service.IssueKey(c.Request.Context(), token)
	switch {
	case err == nil:
		response.OK(c, gin.H{
			"private_key": value,
			"vote_url":    h.VoteURL(poll.ID, value),
			"poll_title":  poll.Title,
		})
	case errors.Is(err, ErrEntitlementNotFound):
		response.NotFound(c, "bulletin link not found")
	case errors.Is(err, ErrPollFinished):
		response.Message(c, "the poll is finished")
	case errors.Is(err, ErrAlreadyIssued):
		response.Message(c, "the ballot has already been issued")
	case errors.Is(err, ErrUnknownKeyMethod),
		errors.Is(err, ErrKeySpaceExhausted),
		errors.Is(err, ErrInvalidGeneratorOutput):
		response.Message(c, err.Error())
	default:
		h.logger.Error("issue key failed", zap.Error(err), zap.String("token", token.String()))
		response.Internal(c, "failed to issue ballot")
	}
}

// parsePollParam extracts the poll UUID from a "poll_<id>" path segment.
func parsePollParam(param string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimPrefix(param, "poll_"))
}

// Vote handles GET and POST /vote/poll_<id>/:key. GET renders the ballot
// form or a terminal message; POST with one or two "response" values
// attempts redemption. Every expected condition is a soft message so the
// endpoint leaks nothing about stored keys.
func (h *Handler) Vote(c *gin.Context) {
	pollID, err := parsePollParam(c.Param("poll"))
	if err != nil {
		response.Message(c, "this poll does not exist")
		return
	}
	poll, err := h.polls.GetByID(c.Request.Context(), pollID, nil)
	if err != nil {
		response.Message(c, "this poll does not exist")
		return
	}
	if poll.State != models.PollStarted {
		response.Message(c, "this poll is "+poll.State.Label())
		return
	}

	submitted := c.Request.Method == "POST"
	var responses []string
	if submitted {
		responses = c.PostFormArray("response")
	}

	outcome, err := h.service.Redeem(c.Request.Context(), poll, c.Param("key"), responses, submitted)
	if err != nil {
		h.logger.Error("redeem failed", zap.Error(err), zap.String("poll_id", pollID.String()))
		response.Internal(c, "failed to process ballot")
		return
	}

	switch outcome {
	case OutcomeForm:
		response.OK(c, gin.H{
			"poll": gin.H{
				"id":             poll.ID,
				"title":          poll.Title,
				"description":    poll.Description,
				"allow_spoiling": poll.AllowSpoiling,
			},
			"private_key": c.Param("key"),
		})
	case OutcomeRecorded:
		response.Message(c, "your vote has been recorded")
	case OutcomeAlreadyVoted:
		response.Message(c, "you have already voted")
	case OutcomeNotRegistered:
		response.Message(c, "this ballot number is not registered in this poll")
	case OutcomeUnrecognized:
		response.Message(c, "response not recognized")
	case OutcomeSpoilingNotAllowed:
		response.Message(c, "spoiling the ballot is not allowed in this poll")
	}
}

// Print handles GET /polls/:id/print (admin): mints keys for every unvisited
// local entitlement and returns the values shuffled, ready for slips. The
// poll must be in progress. Any minting failure aborts the whole batch and
// is surfaced verbatim.
func (h *Handler) Print(c *gin.Context) {
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
	if poll.State != models.PollStarted {
		response.Conflict(c, "the poll is "+poll.State.Label())
		return
	}

	values, err := h.service.PrintBatch(c.Request.Context(), poll.ID)
	if err != nil {
		h.logger.Error("print batch failed", zap.Error(err), zap.String("poll_id", id.String()))
		response.Internal(c, "minting failed: "+err.Error())
		return
	}
	response.OK(c, gin.H{
		"poll_id":      poll.ID,
		"poll_title":   poll.Title,
		"private_keys": values,
		"count":        len(values),
	})
}
