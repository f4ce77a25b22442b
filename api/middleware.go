package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Chative-Task-Chat/agent/contract"
)

const callerKey = "caller"

// RequestLogger attaches a request-scoped zerolog logger to the request
// context and logs one line per request.
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(echo.HeaderXRequestID, requestID)

			logger := log.With().
				Str("request_id", requestID).
				Str("method", req.Method).
				Str("route", c.Path()).
				Logger()
			c.SetRequest(req.WithContext(logger.WithContext(req.Context())))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info().
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Msg("request handled")
			return nil
		}
	}
}

// Authenticate resolves the bearer token into a contract.Caller.
func (h *Handler) Authenticate(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := strings.TrimSpace(c.Request().Header.Get(echo.HeaderAuthorization))
		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
			return writeError(c, fmt.Errorf("%w: bearer token is required", contractx.ErrUnauthenticated))
		}

		identity, err := h.auth.Verify(c.Request().Context(), token)
		if err != nil {
			log.Ctx(c.Request().Context()).Debug().Err(err).Msg("token rejected")
			return writeError(c, errors.Join(contractx.ErrUnauthenticated, err))
		}

		c.Set(callerKey, contractx.Caller{UserID: identity.UserID, Email: identity.Email})
		return next(c)
	}
}

func callerFrom(c echo.Context) contractx.Caller {
	caller, _ := c.Get(callerKey).(contractx.Caller)
	return caller
}
