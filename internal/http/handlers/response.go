package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-backend/internal/http/middleware"
	"github.com/tbourn/go-support-backend/internal/services"
)

// ErrorResponse is the envelope every failed request returns. Clients branch
// on Code; Message is safe to display.
type ErrorResponse struct {
	RequestID string `json:"request_id,omitempty" example:"123e4567-e89b-12d3-a456-426614174000"`
	Code      string `json:"code" example:"not_found"`
	Message   string `json:"message" example:"resource not found"`
	// Upstream diagnostics; development only.
	Details string `json:"details,omitempty" example:"upstream returned 429"`
}

const upstreamMessage = "the assistant is temporarily unavailable, please retry"

// Fail writes an error envelope and aborts the chain. The router uses it for
// NoRoute, NoMethod and readiness failures.
func Fail(c *gin.Context, status int, code, msg string) { fail(c, status, code, msg) }

func fail(c *gin.Context, status int, code, msg string) {
	failDetails(c, status, code, msg, "")
}

func failDetails(c *gin.Context, status int, code, msg, details string) {
	if status >= http.StatusInternalServerError {
		middleware.LoggerFrom(c).Error().
			Int("status", status).
			Str("code", code).
			Str("message", msg).
			Msg("api error")
	}
	c.AbortWithStatusJSON(status, ErrorResponse{
		RequestID: c.Writer.Header().Get("X-Request-ID"),
		Code:      code,
		Message:   msg,
		Details:   details,
	})
}

// failErr translates a service error. Unmapped errors are logged with their
// cause and reported as 500 with fallbackCode; the cause never reaches the
// client.
func (h *Handlers) failErr(c *gin.Context, err error, fallbackCode string) {
	var (
		verr *services.ValidationError
		cerr *services.CollaboratorError
	)
	switch {
	case errors.As(err, &verr):
		fail(c, http.StatusBadRequest, ErrCodeValidation, verr.Error())
	case errors.Is(err, services.ErrConversationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "conversation not found")
	case errors.Is(err, services.ErrFAQNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "faq not found")
	case errors.As(err, &cerr):
		failDetails(c, http.StatusBadGateway, ErrCodeUpstreamFailed, upstreamMessage, h.upstreamDetails(cerr))
	default:
		middleware.LoggerFrom(c).Error().Err(err).Str("code", fallbackCode).Msg("request failed")
		fail(c, http.StatusInternalServerError, fallbackCode, "internal error")
	}
}

func (h *Handlers) upstreamDetails(cerr *services.CollaboratorError) string {
	switch {
	case !h.opts.Development:
		return ""
	case cerr.Body != "":
		return cerr.Body
	case cerr.Err != nil:
		return cerr.Err.Error()
	}
	return ""
}

func ok(c *gin.Context, status int, body any) { c.JSON(status, body) }

func noContent(c *gin.Context) { c.Status(http.StatusNoContent) }
