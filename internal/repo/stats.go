// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides small aggregate/statistics queries used
// for conditional responses (ETag generation) in the HTTP layer.
package repo

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
)

// ConversationsStats returns the number of userID's conversations and the
// greatest UpdatedAt among them (nil when there are none).
func ConversationsStats(ctx context.Context, db *gorm.DB, userID string) (count int64, maxUpdatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Conversation{}).Where("user_id = ?", userID)
	return countAndLatest(q, "updated_at")
}

// MessagesStats returns the number of messages in conversationID and the
// latest CreatedAt. Messages are immutable, so creation time is the
// freshness marker.
func MessagesStats(ctx context.Context, db *gorm.DB, conversationID string) (count int64, maxCreatedAt *time.Time, err error) {
	q := db.WithContext(ctx).Model(&domain.Message{}).Where("conversation_id = ?", conversationID)
	return countAndLatest(q, "created_at")
}

// FAQsStats returns the number of entries matching filter and their latest
// UpdatedAt.
func FAQsStats(ctx context.Context, db *gorm.DB, filter FAQFilter) (count int64, maxUpdatedAt *time.Time, err error) {
	q := filter.apply(db.WithContext(ctx).Model(&domain.FAQ{}))
	return countAndLatest(q, "updated_at")
}

func countAndLatest(q *gorm.DB, column string) (int64, *time.Time, error) {
	var count int64
	if err := q.Session(&gorm.Session{}).Count(&count).Error; err != nil {
		return 0, nil, err
	}
	if count == 0 {
		return 0, nil, nil
	}

	// Order+limit instead of MAX(), which comes back as TEXT in SQLite.
	var row struct {
		At time.Time
	}
	if err := q.Session(&gorm.Session{}).Select(column + " AS at").Order(column + " DESC").Limit(1).Scan(&row).Error; err != nil {
		return 0, nil, err
	}
	return count, &row.At, nil
}
