// Package handlers exposes the REST endpoints of the support backend.
//
// Handlers are transport-thin: they bind and normalize input, call the
// application services, and translate results and typed service errors into
// HTTP responses (including conditional ETag responses).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/http/middleware"
	"github.com/tbourn/go-support-backend/internal/repo"
	"github.com/tbourn/go-support-backend/internal/services"
	"github.com/tbourn/go-support-backend/internal/utils"
)

//
// Service contracts (context-aware)
//

// ChatService runs chat exchanges.
type ChatService interface {
	Exchange(ctx context.Context, req services.ExchangeRequest) (*services.ExchangeResult, error)
}

// ConversationService serves conversation history.
type ConversationService interface {
	ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error)
	MessagesPage(ctx context.Context, userID, sessionID string, page, pageSize int) (*domain.Conversation, []domain.Message, int64, error)
}

// FAQService manages the FAQ knowledge base.
type FAQService interface {
	Create(ctx context.Context, in services.FAQInput) (*domain.FAQ, error)
	Get(ctx context.Context, id string) (*domain.FAQ, error)
	Update(ctx context.Context, id string, p services.FAQPatch) (*domain.FAQ, error)
	Delete(ctx context.Context, id string) error
	ListPage(ctx context.Context, filter repo.FAQFilter, page, pageSize int) ([]domain.FAQ, int64, error)
	Ingest(ctx context.Context, req services.IngestRequest) (*services.IngestReport, error)
}

// Options tunes handler behavior.
type Options struct {
	// DB enables weak ETags on list endpoints; nil disables them.
	DB *gorm.DB
	// Development exposes upstream error bodies in the details field.
	Development bool
	// UploadMaxBytes caps an uploaded FAQ document.
	UploadMaxBytes int64
}

// Handlers groups the HTTP endpoints.
type Handlers struct {
	chat  ChatService
	convs ConversationService
	faqs  FAQService
	opts  Options
}

// New constructs Handlers bound to the given services.
func New(chat ChatService, convs ConversationService, faqs FAQService, opts Options) *Handlers {
	if opts.UploadMaxBytes <= 0 {
		opts.UploadMaxBytes = 5 << 20
	}
	return &Handlers{chat: chat, convs: convs, faqs: faqs, opts: opts}
}

//
// DTOs
//

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

//
// Helpers
//

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(
		utils.AtoiDefault(c.Query("page"), 1),
		utils.AtoiDefault(c.Query("page_size"), services.DefaultPageSize),
		services.DefaultPageSize,
		services.MaxPageSize,
	)
}

// requestUser returns the caller id: the explicit value when given, else the
// X-User-ID header captured by middleware.Identity.
func requestUser(c *gin.Context, explicit string) string {
	if s := strings.TrimSpace(explicit); s != "" {
		return s
	}
	return middleware.UserID(c)
}

// notModified sets a weak ETag built from parts and reports whether the
// request's If-None-Match already carries it.
func notModified(c *gin.Context, kind string, count int64, latest *time.Time, parts ...string) bool {
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%s:%d:%d"`, kind, strings.Join(parts, ":"), count, ts)
	c.Header("ETag", etag)
	if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
		c.Status(http.StatusNotModified)
		return true
	}
	return false
}
