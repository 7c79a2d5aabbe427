package history

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/codewitgabi/skill-barter-sync/internal/repository"
	"github.com/codewitgabi/skill-barter-sync/pkg/middleware"
	"github.com/codewitgabi/skill-barter-sync/pkg/response"
)

// Handler exposes the read-only history API.
type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

func (h *Handler) RegisterRoutes(r *gin.Engine, auth *middleware.AuthMiddleware) {
	api := r.Group("/api/v1", auth.RequireAuth())
	{
		api.GET("/conversations", h.ListConversations)
		api.GET("/conversations/:conversation_id/messages", h.GetMessages)
	}

	r.GET("/health", h.HealthCheck)
}

// ListConversations returns the caller's contact list with presence.
func (h *Handler) ListConversations(c *gin.Context) {
	userID := middleware.GetUserID(c)

	contacts, err := h.service.ListContacts(c.Request.Context(), userID)
	if err != nil {
		response.InternalError(c, "failed to list conversations")
		return
	}
	response.Success(c, contacts)
}

// GetMessages pages through one conversation's history.
func (h *Handler) GetMessages(c *gin.Context) {
	userID := middleware.GetUserID(c)
	conversationID := c.Param("conversation_id")
	if conversationID == "" {
		response.BadRequest(c, "conversation_id is required")
		return
	}

	cursor := c.Query("cursor")
	direction := c.DefaultQuery("direction", "backward")
	if direction != "backward" && direction != "forward" {
		response.BadRequest(c, "direction must be 'backward' or 'forward'")
		return
	}

	limit := defaultLimit
	if limitStr := c.Query("limit"); limitStr != "" {
		parsedLimit, err := strconv.Atoi(limitStr)
		if err != nil || parsedLimit < 1 {
			response.BadRequest(c, "limit must be a positive integer")
			return
		}
		limit = parsedLimit
	}

	page, err := h.service.GetMessages(c.Request.Context(), conversationID, userID, cursor, limit, direction)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrConversationNotFound):
			response.NotFound(c, "conversation not found")
		case errors.Is(err, repository.ErrNotParticipant):
			response.Forbidden(c, "not a participant of this conversation")
		default:
			response.InternalError(c, "failed to get messages")
		}
		return
	}
	response.Success(c, page)
}

func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
