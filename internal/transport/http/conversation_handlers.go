package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/vovakirdan/marketwire/internal/core"
	"github.com/vovakirdan/marketwire/internal/proto"
	"github.com/vovakirdan/marketwire/internal/store"
)

// ConversationHandlers provides HTTP handlers for conversation endpoints.
type ConversationHandlers struct {
	store store.Store
	hub   *core.Hub
	log   *zerolog.Logger
}

// NewConversationHandlers creates a new conversation handlers instance.
func NewConversationHandlers(st store.Store, hub *core.Hub, logger *zerolog.Logger) *ConversationHandlers {
	return &ConversationHandlers{
		store: st,
		hub:   hub,
		log:   logger,
	}
}

// InitiateConversationRequest represents the initiate conversation request body.
type InitiateConversationRequest struct {
	ParticipantID string `json:"participantId" binding:"required,max=128"`
}

// ConversationResponse represents a conversation in API responses.
type ConversationResponse struct {
	ID            string               `json:"id"`
	Participants  []string             `json:"participants"`
	LastMessageAt string               `json:"lastMessageAt,omitempty"`
	CreatedAt     string               `json:"createdAt"`
	LatestMessage *proto.EventMessage  `json:"latestMessage,omitempty"`
	UnreadCount   int                  `json:"unreadCount"`
	Messages      []proto.EventMessage `json:"messages,omitempty"`
}

// MarkReadResponse reports how many messages a read call flipped.
type MarkReadResponse struct {
	Updated int64 `json:"updated"`
}

func conversationResponse(conv *store.Conversation) ConversationResponse {
	resp := ConversationResponse{
		ID:           conv.ID,
		Participants: conv.Participants,
		CreatedAt:    conv.CreatedAt.Format(time.RFC3339),
	}
	if !conv.LastMessageAt.IsZero() {
		resp.LastMessageAt = conv.LastMessageAt.Format(time.RFC3339)
	}
	return resp
}

// ListConversations handles listing the caller's conversations.
// GET /api/conversations
func (h *ConversationHandlers) ListConversations(c *gin.Context) {
	uid := callerID(c)

	overviews, err := h.store.ListConversations(c.Request.Context(), uid)
	if err != nil {
		h.log.Error().Err(err).Str("user_id", uid).Msg("failed to list conversations")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := lo.Map(overviews, func(o *store.ConversationOverview, _ int) ConversationResponse {
		resp := conversationResponse(&o.Conversation)
		resp.UnreadCount = o.UnreadCount
		if o.Latest != nil {
			latest := messageToProto(o.Latest, nil)
			resp.LatestMessage = &latest
		}
		return resp
	})

	h.log.Debug().Str("user_id", uid).Int("conversation_count", len(response)).Msg("conversations listed")
	c.JSON(http.StatusOK, response)
}

// InitiateConversation finds or creates the conversation between the caller
// and another user.
// POST /api/conversations/initiate
func (h *ConversationHandlers) InitiateConversation(c *gin.Context) {
	uid := callerID(c)

	var req InitiateConversationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid initiate conversation request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: core.ErrCodeBadRequest, Error: "invalid request body"})
		return
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetUserByID(ctx, req.ParticipantID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "user not found"})
			return
		}
		h.log.Error().Err(err).Str("participant_id", req.ParticipantID).Msg("failed to look up participant")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	conv, created, err := h.store.FindOrCreateConversation(ctx, []string{uid, req.ParticipantID})
	if err != nil {
		if errors.Is(err, store.ErrInvalidParticipants) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Code: core.ErrCodeValidation, Error: "cannot start a conversation with yourself"})
			return
		}
		h.log.Error().Err(err).Str("user_id", uid).Msg("failed to initiate conversation")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
		if err := h.hub.JoinIdentities(ctx, conv.Participants, core.ConversationChannel(conv.ID)); err != nil {
			h.log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("failed to join participants")
		}
		h.log.Info().Str("conversation_id", conv.ID).Str("user_id", uid).Msg("conversation initiated")
	}
	c.JSON(status, conversationResponse(conv))
}

// GetConversation returns a conversation with its full message log.
// GET /api/conversations/:id
func (h *ConversationHandlers) GetConversation(c *gin.Context) {
	uid := callerID(c)
	ctx := c.Request.Context()

	conv, ok := h.participantConversation(c, uid)
	if !ok {
		return
	}

	messages, err := h.store.ListMessages(ctx, conv.ID)
	if err != nil {
		h.log.Error().Err(err).Str("conversation_id", conv.ID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := conversationResponse(conv)
	resp.Messages = lo.Map(messages, func(m *store.Message, _ int) proto.EventMessage {
		return messageToProto(m, nil)
	})
	resp.UnreadCount = lo.CountBy(messages, func(m *store.Message) bool {
		return !m.Read && m.SenderID != uid
	})
	c.JSON(http.StatusOK, resp)
}

// MarkRead marks the conversation read for the caller and broadcasts a read
// receipt when anything changed.
// PUT /api/conversations/:id/read
func (h *ConversationHandlers) MarkRead(c *gin.Context) {
	uid := callerID(c)

	updated, err := h.hub.Relay().MarkRead(c.Request.Context(), uid, c.Param("id"))
	if err != nil {
		h.writeCoreError(c, err)
		return
	}
	c.JSON(http.StatusOK, MarkReadResponse{Updated: updated})
}

func (h *ConversationHandlers) participantConversation(c *gin.Context, uid string) (*store.Conversation, bool) {
	conv, err := h.store.GetConversation(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Code: core.ErrCodeNotFound, Error: "conversation not found"})
			return nil, false
		}
		h.log.Error().Err(err).Str("conversation_id", c.Param("id")).Msg("failed to load conversation")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return nil, false
	}
	if !conv.HasParticipant(uid) {
		c.JSON(http.StatusForbidden, ErrorResponse{Code: core.ErrCodeNotParticipant, Error: "not a participant of this conversation"})
		return nil, false
	}
	return conv, true
}

func (h *ConversationHandlers) writeCoreError(c *gin.Context, err error) {
	ce := core.AsError(err)
	status := http.StatusInternalServerError
	switch ce.Code {
	case core.ErrCodeNotFound:
		status = http.StatusNotFound
	case core.ErrCodeNotParticipant:
		status = http.StatusForbidden
	case core.ErrCodeValidation, core.ErrCodeBadRequest:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		h.log.Error().Err(err).Msg("conversation request failed")
		c.JSON(status, ErrorResponse{Code: ce.Code, Error: "internal server error"})
		return
	}
	c.JSON(status, ErrorResponse{Code: ce.Code, Error: ce.Message})
}
