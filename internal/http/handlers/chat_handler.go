package handlers

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-backend/internal/http/middleware"
	"github.com/tbourn/go-support-backend/internal/services"
)

// ChatRequest is the JSON payload of one chat message.
type ChatRequest struct {
	// Message is the user's text. Required.
	Message string `json:"message" example:"How do I reset my password?"`
	// UserID identifies the caller; falls back to the X-User-ID header.
	UserID string `json:"user_id" example:"user123"`
	// SessionID selects the conversation. Required.
	SessionID string `json:"session_id" example:"web-5f2c"`
}

// ChatResponse is the assistant reply to one chat message.
type ChatResponse struct {
	Reply          string `json:"reply" example:"You can reset it from Settings > Security."`
	MessageID      string `json:"message_id" example:"0f8fad5b-d9cb-469f-a165-70867728950e"`
	ConversationID string `json:"conversation_id" example:"7c9e6679-7425-40de-944b-e07fc1f90ae7"`
	SessionID      string `json:"session_id" example:"web-5f2c"`
	Title          string `json:"title" example:"How do I reset my password?"`
	// FAQID is the knowledge-base entry used as context, null when none
	// matched or the response is a replay.
	FAQID *string `json:"faq_id" example:"3f2504e0-4f89-11d3-9a0c-0305e82c3301"`
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes line endings, collapses blank-line runs and
// trims surrounding whitespace.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// PostChat godoc
// @ID          postChat
// @Summary     Send a chat message and get the assistant reply
// @Description Appends the message to the (user, session) conversation, matches it against the FAQ knowledge base and returns the assistant reply.
// @Description The conversation is created on first use; its title is derived from the first message.
// @Description Supports safe retries via the Idempotency-Key header (same key, same reply).
// @Tags        Chat
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "User ID when not given in the body"  example(user123)
// @Param       Idempotency-Key  header  string  false "Idempotency key for safe retries"    example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.ChatRequest  true  "Chat message"
//
// @Success     200  {object}  handlers.ChatResponse
// @Header      200  {string}  Idempotency-Replayed  "true when served from a stored reply"
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Failure     502  {object}  handlers.ErrorResponse  "Completion service failed"
// @Router      /chat [post]
func (h *Handlers) PostChat(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	key, _ := middleware.GetIdempotencyKey(c)

	res, err := h.chat.Exchange(c.Request.Context(), services.ExchangeRequest{
		UserID:         requestUser(c, req.UserID),
		SessionID:      req.SessionID,
		Message:        sanitizeContent(req.Message),
		IdempotencyKey: key,
	})
	if err != nil {
		h.failErr(c, err, ErrCodeAnswerFailed)
		return
	}
	if res.Replayed {
		c.Header(middleware.HeaderIdempotencyReplayed, "true")
	}
	ok(c, http.StatusOK, ChatResponse{
		Reply:          res.Reply,
		MessageID:      res.MessageID,
		ConversationID: res.ConversationID,
		SessionID:      res.SessionID,
		Title:          res.Title,
		FAQID:          res.FAQID,
	})
}
