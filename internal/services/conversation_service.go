// Package services – ConversationService
//
// This file implements read access to the conversation ledger: listing a
// user's conversations and paging through one session's message history.
// Both are read-only; exchanges are the only writers.
package services

import (
	"context"
	"errors"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/repo"
	"github.com/tbourn/go-support-backend/internal/utils"
)

// ConversationService serves conversation history.
type ConversationService struct {
	DB     *gorm.DB
	Ledger Ledger
}

// NewConversationService constructs a ConversationService.
func NewConversationService(db *gorm.DB, ledger Ledger) *ConversationService {
	return &ConversationService{DB: db, Ledger: ledger}
}

// ListPage returns a page of the user's conversations, most recently active
// first, and the total count.
func (s *ConversationService) ListPage(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if strings.TrimSpace(userID) == "" {
		return nil, 0, invalid("user_id", "is required")
	}
	page, pageSize = clampPage(page, pageSize)

	total, err := s.Ledger.Count(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}
	items, err := s.Ledger.ListPage(ctx, s.DB, userID, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Get returns the conversation of (userID, sessionID).
func (s *ConversationService) Get(ctx context.Context, userID, sessionID string) (*domain.Conversation, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, invalid("user_id", "is required")
	}
	if strings.TrimSpace(sessionID) == "" {
		return nil, invalid("session_id", "is required")
	}
	c, err := s.Ledger.Find(ctx, s.DB, userID, sessionID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	return c, err
}

// MessagesPage returns a page of the session's messages in chronological
// order and the total count.
func (s *ConversationService) MessagesPage(ctx context.Context, userID, sessionID string, page, pageSize int) (*domain.Conversation, []domain.Message, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "MessagesPage",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("session.id", sessionID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	c, err := s.Get(ctx, userID, sessionID)
	if err != nil {
		return nil, nil, 0, err
	}
	page, pageSize = clampPage(page, pageSize)

	total, err := s.Ledger.CountMessages(ctx, s.DB, c.ID)
	if err != nil {
		return nil, nil, 0, err
	}
	if total == 0 {
		return c, []domain.Message{}, 0, nil
	}
	items, err := s.Ledger.Messages(ctx, s.DB, c.ID, utils.Offset(page, pageSize), pageSize)
	return c, items, total, err
}
