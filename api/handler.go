// Package api exposes the chat orchestrator over HTTP.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
	authx "github.com/tanpawarit/Chative-Task-Chat/pkg/auth"
)

type ChatService interface {
	HandleMessage(ctx context.Context, caller contractx.Caller, req contractx.ChatRequest) (contractx.ChatResponse, error)
	Messages(ctx context.Context, caller contractx.Caller, conversationID string, limit int) ([]contractx.Message, error)
}

type Authenticator interface {
	Verify(ctx context.Context, credential string) (authx.Identity, error)
}

// Handler handles HTTP requests.
type Handler struct {
	chat ChatService
	auth Authenticator
}

func NewHandler(chat ChatService, auth Authenticator) *Handler {
	return &Handler{
		chat: chat,
		auth: auth,
	}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api", h.Authenticate)
	g.POST("/chat", h.Chat)
	g.POST("/:user_id/chat", h.ChatForUser)
	g.GET("/conversations/:conversation_id/messages", h.GetMessages)
}

func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
