package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

type MessagesResponse struct {
	ConversationID string              `json:"conversation_id"`
	Messages       []contractx.Message `json:"messages"`
}

// Chat runs one chat turn for the authenticated caller.
// POST /api/chat
func (h *Handler) Chat(c echo.Context) error {
	return h.handleChat(c, callerFrom(c))
}

// ChatForUser is the user-scoped variant of Chat. The path id must match
// the token subject.
// POST /api/:user_id/chat
func (h *Handler) ChatForUser(c echo.Context) error {
	caller := callerFrom(c)
	if strings.TrimSpace(c.Param("user_id")) != caller.UserID {
		return writeError(c, fmt.Errorf("%w: path user does not match token", contractx.ErrAccessDenied))
	}
	return h.handleChat(c, caller)
}

func (h *Handler) handleChat(c echo.Context, caller contractx.Caller) error {
	var req contractx.ChatRequest
	if err := c.Bind(&req); err != nil {
		return writeError(c, fmt.Errorf("%w: request body must be a JSON object", contractx.ErrInvalidInput))
	}

	resp, err := h.chat.HandleMessage(c.Request().Context(), caller, req)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetMessages returns the stored messages of a conversation the caller owns.
// GET /api/conversations/:conversation_id/messages
func (h *Handler) GetMessages(c echo.Context) error {
	conversationID := c.Param("conversation_id")

	limit := 0
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return writeError(c, fmt.Errorf("%w: limit must be a non-negative integer", contractx.ErrInvalidInput))
		}
		limit = n
	}

	msgs, err := h.chat.Messages(c.Request().Context(), callerFrom(c), conversationID, limit)
	if err != nil {
		return writeError(c, err)
	}
	if msgs == nil {
		msgs = []contractx.Message{}
	}
	return c.JSON(http.StatusOK, MessagesResponse{
		ConversationID: conversationID,
		Messages:       msgs,
	})
}
