package services

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/repo"
)

// Ledger is the persistence contract for conversations and their
// append-only message history. Implementations return repo.ErrNotFound for
// missing rows.
type Ledger interface {
	Find(ctx context.Context, db *gorm.DB, userID, sessionID string) (*domain.Conversation, error)
	Create(ctx context.Context, db *gorm.DB, userID, sessionID string) (*domain.Conversation, error)
	// AppendMessage stores the next message of c and advances c.MessageCount.
	AppendMessage(ctx context.Context, db *gorm.DB, c *domain.Conversation, role, content string) (*domain.Message, error)
	Save(ctx context.Context, db *gorm.DB, c *domain.Conversation) error
	RecentMessages(ctx context.Context, db *gorm.DB, conversationID string, limit int) ([]domain.Message, error)
	GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error)

	Count(ctx context.Context, db *gorm.DB, userID string) (int64, error)
	ListPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error)
	CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error)
	Messages(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error)

	// Replay returns the assistant message stored for an idempotency key.
	Replay(ctx context.Context, db *gorm.DB, userID, sessionID, key string) (*domain.Message, error)
	// Remember binds an idempotency key to an assistant message for ttl.
	Remember(ctx context.Context, db *gorm.DB, userID, sessionID, key, messageID string, ttl time.Duration) error
}

// FAQStore is the persistence contract for the FAQ knowledge base.
// Implementations return repo.ErrNotFound for missing rows.
type FAQStore interface {
	// FindActive returns up to limit active entries, highest priority first.
	FindActive(ctx context.Context, db *gorm.DB, limit int) ([]domain.FAQ, error)
	Get(ctx context.Context, db *gorm.DB, id string) (*domain.FAQ, error)
	Create(ctx context.Context, db *gorm.DB, f *domain.FAQ) error
	CreateMany(ctx context.Context, db *gorm.DB, faqs []domain.FAQ) error
	Update(ctx context.Context, db *gorm.DB, id string, fields map[string]any) (*domain.FAQ, error)
	Delete(ctx context.Context, db *gorm.DB, id string) (bool, error)
	Count(ctx context.Context, db *gorm.DB, filter repo.FAQFilter) (int64, error)
	ListPage(ctx context.Context, db *gorm.DB, filter repo.FAQFilter, offset, limit int) ([]domain.FAQ, error)
}
