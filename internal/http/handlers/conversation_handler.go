package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/repo"
)

// ListConversationsResponse wraps a page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// ListMessagesResponse wraps a page of one conversation's messages.
type ListMessagesResponse struct {
	Conversation *domain.Conversation `json:"conversation"`
	Messages     []domain.Message     `json:"messages"`
	Pagination   Pagination           `json:"pagination"`
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List the caller's conversations (paginated)
// @Description Most recently active first. Supports weak ETag via If-None-Match and may return 304.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID"                     example(user123)
// @Param       user_id        query   string  false "User ID when no header is sent"
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListConversationsResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := requestUser(c, c.Query("user_id"))
	page, pageSize := clampPagination(c)

	if h.opts.DB != nil && uid != "" {
		if count, latest, err := repo.ConversationsStats(ctx, h.opts.DB, uid); err == nil {
			if notModified(c, "conversations", count, latest, uid) {
				return
			}
		}
	}

	items, total, err := h.convs.ListPage(ctx, uid, page, pageSize)
	if err != nil {
		h.failErr(c, err, ErrCodeListFailed)
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    newPagination(page, pageSize, total),
	})
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List a conversation's messages (paginated)
// @Description Chronological history of the caller's conversation for one session.
// @Description Messages are append-only, so the ETag only changes when a message is added.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID      header  string  false "User ID"  example(user123)
// @Param       user_id        query   string  false "User ID when no header is sent"
// @Param       session_id     path    string  true  "Session ID"  example(web-5f2c)
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       page           query   int     false "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListMessagesResponse
// @Header      200  {string} ETag  "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Validation failed"
// @Failure     404  {object} handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /conversations/{session_id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	uid := requestUser(c, c.Query("user_id"))
	page, pageSize := clampPagination(c)

	conv, items, total, err := h.convs.MessagesPage(c.Request.Context(), uid, c.Param("session_id"), page, pageSize)
	if err != nil {
		h.failErr(c, err, ErrCodeListFailed)
		return
	}
	if notModified(c, "messages", int64(conv.MessageCount), nil, conv.ID, strconv.Itoa(page), strconv.Itoa(pageSize)) {
		return
	}
	ok(c, http.StatusOK, ListMessagesResponse{
		Conversation: conv,
		Messages:     items,
		Pagination:   newPagination(page, pageSize, total),
	})
}
