package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
)

// Ledger exposes the conversation and message functions of this package as
// a method set, for services that take their persistence as an interface.
type Ledger struct{}

func (Ledger) Find(ctx context.Context, db *gorm.DB, userID, sessionID string) (*domain.Conversation, error) {
	return FindConversation(ctx, db, userID, sessionID)
}

func (Ledger) Create(ctx context.Context, db *gorm.DB, userID, sessionID string) (*domain.Conversation, error) {
	return CreateConversation(ctx, db, userID, sessionID)
}

func (Ledger) AppendMessage(ctx context.Context, db *gorm.DB, c *domain.Conversation, role, content string) (*domain.Message, error) {
	return AppendMessage(ctx, db, c, role, content)
}

func (Ledger) Save(ctx context.Context, db *gorm.DB, c *domain.Conversation) error {
	return SaveConversation(ctx, db, c)
}

func (Ledger) RecentMessages(ctx context.Context, db *gorm.DB, conversationID string, limit int) ([]domain.Message, error) {
	return RecentMessages(ctx, db, conversationID, limit)
}

func (Ledger) GetMessage(ctx context.Context, db *gorm.DB, id string) (*domain.Message, error) {
	return GetMessage(ctx, db, id)
}

func (Ledger) Count(ctx context.Context, db *gorm.DB, userID string) (int64, error) {
	return CountConversations(ctx, db, userID)
}

func (Ledger) ListPage(ctx context.Context, db *gorm.DB, userID string, offset, limit int) ([]domain.Conversation, error) {
	return ListConversationsPage(ctx, db, userID, offset, limit)
}

func (Ledger) CountMessages(ctx context.Context, db *gorm.DB, conversationID string) (int64, error) {
	return CountMessages(ctx, db, conversationID)
}

func (Ledger) Messages(ctx context.Context, db *gorm.DB, conversationID string, offset, limit int) ([]domain.Message, error) {
	return ListMessagesPage(ctx, db, conversationID, offset, limit)
}

// Replay resolves a live idempotency record to its assistant message.
func (Ledger) Replay(ctx context.Context, db *gorm.DB, userID, sessionID, key string) (*domain.Message, error) {
	rec, err := GetIdempotency(ctx, db, userID, sessionID, key, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return GetMessage(ctx, db, rec.MessageID)
}

// Remember records key for messageID. A concurrent duplicate is not an error
// since the first writer already bound the key.
func (Ledger) Remember(ctx context.Context, db *gorm.DB, userID, sessionID, key, messageID string, ttl time.Duration) error {
	_, err := CreateIdempotency(ctx, db, userID, sessionID, key, messageID, ttl)
	if errors.Is(err, ErrDuplicate) {
		return nil
	}
	return err
}

// FAQs exposes the FAQ functions of this package as a method set.
type FAQs struct{}

func (FAQs) FindActive(ctx context.Context, db *gorm.DB, limit int) ([]domain.FAQ, error) {
	return FindActiveFAQs(ctx, db, limit)
}

func (FAQs) Get(ctx context.Context, db *gorm.DB, id string) (*domain.FAQ, error) {
	return GetFAQ(ctx, db, id)
}

func (FAQs) Create(ctx context.Context, db *gorm.DB, f *domain.FAQ) error {
	return CreateFAQ(ctx, db, f)
}

func (FAQs) CreateMany(ctx context.Context, db *gorm.DB, faqs []domain.FAQ) error {
	return CreateFAQs(ctx, db, faqs)
}

func (FAQs) Update(ctx context.Context, db *gorm.DB, id string, fields map[string]any) (*domain.FAQ, error) {
	return UpdateFAQ(ctx, db, id, fields)
}

func (FAQs) Delete(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	return DeleteFAQ(ctx, db, id)
}

func (FAQs) Count(ctx context.Context, db *gorm.DB, filter FAQFilter) (int64, error) {
	return CountFAQs(ctx, db, filter)
}

func (FAQs) ListPage(ctx context.Context, db *gorm.DB, filter FAQFilter, offset, limit int) ([]domain.FAQ, error) {
	return ListFAQsPage(ctx, db, filter, offset, limit)
}
