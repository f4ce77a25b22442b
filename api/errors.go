package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

const (
	CodeUnauthenticated     = "Unauthenticated"
	CodeAccessDenied        = "AccessDenied"
	CodeInvalidInput        = "InvalidInput"
	CodeConflict            = "Conflict"
	CodeUpstreamUnavailable = "UpstreamUnavailable"
	CodeUpstreamRejected    = "UpstreamRejected"
	CodeInternalError       = "InternalError"
)

type ErrorDetail struct {
	Code           string `json:"code"`
	Message        string `json:"message"`
	Retryable      bool   `json:"retryable"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type errorClass struct {
	status    int
	code      string
	message   string
	retryable bool
}

func classify(err error) errorClass {
	switch {
	case errors.Is(err, contractx.ErrUnauthenticated):
		return errorClass{http.StatusUnauthorized, CodeUnauthenticated, "authentication required", false}
	case errors.Is(err, contractx.ErrAccessDenied):
		return errorClass{http.StatusForbidden, CodeAccessDenied, "conversation not found or access denied", false}
	case errors.Is(err, contractx.ErrInvalidInput):
		return errorClass{http.StatusBadRequest, CodeInvalidInput, inputMessage(err), false}
	case errors.Is(err, contractx.ErrConflict):
		return errorClass{http.StatusConflict, CodeConflict, "the conversation changed while replying, please resend", true}
	case errors.Is(err, contractx.ErrUpstreamUnavailable):
		return errorClass{http.StatusServiceUnavailable, CodeUpstreamUnavailable, "the assistant is temporarily unavailable, please retry", true}
	case errors.Is(err, contractx.ErrUpstreamRejected):
		// The provider refused this exact request; resending it will not help.
		return errorClass{http.StatusBadGateway, CodeUpstreamRejected, "the assistant could not process this request", false}
	default:
		return errorClass{http.StatusInternalServerError, CodeInternalError, "internal error", resumable(err)}
	}
}

// resumable reports whether the user message was already stored, so
// resending the same text picks the turn up again.
func resumable(err error) bool {
	var te *contractx.TurnError
	if !errors.As(err, &te) {
		return false
	}
	switch te.Phase {
	case contractx.PhaseAwaitingModel,
		contractx.PhaseExecutingTools,
		contractx.PhaseAwaitingFinalNarration,
		contractx.PhasePersisting:
		return true
	default:
		return false
	}
}

// inputMessage strips the turn wrapper so clients see what was wrong.
func inputMessage(err error) string {
	var te *contractx.TurnError
	if errors.As(err, &te) && te.Err != nil {
		return te.Err.Error()
	}
	return err.Error()
}

func writeError(c echo.Context, err error) error {
	class := classify(err)

	detail := ErrorDetail{
		Code:      class.code,
		Message:   class.message,
		Retryable: class.retryable,
	}
	var te *contractx.TurnError
	if errors.As(err, &te) {
		detail.ConversationID = te.ConversationID
	}

	if class.status >= http.StatusInternalServerError {
		log.Ctx(c.Request().Context()).Error().Err(err).Int("status", class.status).Msg("request failed")
	}
	return c.JSON(class.status, ErrorResponse{Error: detail})
}
