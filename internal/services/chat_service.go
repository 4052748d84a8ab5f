// Package services – ChatService
//
// This file implements the chat exchange: one user message in, one assistant
// reply out. An exchange appends the user message to the conversation
// ledger, looks for a matching FAQ entry, assembles the trailing context
// window, calls the completion collaborator, appends the reply and, on the
// first round trip, derives the conversation title.
//
// Exchanges on the same (user, session) pair are serialized in-process; the
// ledger additionally rejects stale appends at the database.
package services

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/cache"
	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/llm"
	"github.com/tbourn/go-support-backend/internal/observability"
	"github.com/tbourn/go-support-backend/internal/repo"
	"github.com/tbourn/go-support-backend/internal/search"
)

const (
	// DefaultTitleMaxRunes caps derived conversation titles.
	DefaultTitleMaxRunes = 50
	// DefaultMaxMessageRunes caps a single user message.
	DefaultMaxMessageRunes = 4000
	// DefaultIdempotencyTTL is how long a replayable reply is kept.
	DefaultIdempotencyTTL = 24 * time.Hour

	titleEllipsis = "..."
)

// ExchangeRequest is one inbound chat message.
type ExchangeRequest struct {
	UserID    string
	SessionID string
	Message   string
	// IdempotencyKey, when set, makes retries return the stored reply.
	IdempotencyKey string
}

// ExchangeResult is the outcome of a successful exchange.
type ExchangeResult struct {
	Reply          string
	MessageID      string
	ConversationID string
	SessionID      string
	Title          string
	// FAQID is the matched entry, nil when nothing matched or on replay.
	FAQID    *string
	Replayed bool
}

// ChatService runs chat exchanges.
type ChatService struct {
	DB        *gorm.DB
	Ledger    Ledger
	FAQs      FAQStore
	Matcher   *search.Matcher
	Assembler *llm.Assembler
	LLM       llm.Completer
	// Candidates caches the active FAQ list; nil disables caching.
	Candidates *cache.FAQCandidates

	// Options are passed to every completion call.
	Options llm.Options
	// Timeout bounds one completion call including retries; 0 disables it.
	Timeout time.Duration

	TitleMaxRunes   int
	MaxMessageRunes int
	IdempotencyTTL  time.Duration

	locks sessionLocks
}

// NewChatService wires a ChatService with default matcher, assembler and limits.
func NewChatService(db *gorm.DB, ledger Ledger, faqs FAQStore, completer llm.Completer) *ChatService {
	return &ChatService{
		DB:              db,
		Ledger:          ledger,
		FAQs:            faqs,
		Matcher:         search.NewMatcher(search.DefaultMaxCandidates),
		Assembler:       llm.NewAssembler(llm.DefaultSystemPrompt, llm.DefaultWindow),
		LLM:             completer,
		TitleMaxRunes:   DefaultTitleMaxRunes,
		MaxMessageRunes: DefaultMaxMessageRunes,
		IdempotencyTTL:  DefaultIdempotencyTTL,
	}
}

// Exchange processes one user message.
//
// The user message is persisted before the completion call. When the call
// fails the exchange stops there: no assistant message is stored and a
// *CollaboratorError is returned.
func (s *ChatService) Exchange(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error) {
	tr := otel.Tracer("services/ChatService")
	ctx, span := tr.Start(ctx, "Exchange",
		trace.WithAttributes(
			attribute.String("user.id", req.UserID),
			attribute.String("session.id", req.SessionID),
		),
	)
	defer span.End()

	req.UserID = strings.TrimSpace(req.UserID)
	req.SessionID = strings.TrimSpace(req.SessionID)
	req.Message = strings.TrimSpace(req.Message)
	req.IdempotencyKey = strings.TrimSpace(req.IdempotencyKey)
	if err := s.validate(req); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(sessionKey(req.UserID, req.SessionID))
	defer unlock()

	if req.IdempotencyKey != "" {
		res, err := s.replay(ctx, req)
		if err == nil {
			span.SetAttributes(attribute.Bool("replayed", true))
			return res, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
	}

	conv, err := s.conversation(ctx, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID))

	if _, err := s.Ledger.AppendMessage(ctx, s.DB, conv, domain.RoleUser, req.Message); err != nil {
		return nil, err
	}

	matched := s.match(ctx, req.Message)

	history, err := s.Ledger.RecentMessages(ctx, s.DB, conv.ID, s.Assembler.Window())
	if err != nil {
		return nil, err
	}
	prompt := s.Assembler.Build(matched, history)

	reply, err := s.complete(ctx, prompt)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "completion failed")
		return nil, err
	}

	assistant, err := s.Ledger.AppendMessage(ctx, s.DB, conv, domain.RoleAssistant, reply.Content)
	if err != nil {
		return nil, err
	}

	if conv.MessageCount == 2 && conv.Title == "" {
		conv.Title = deriveTitle(req.Message, s.TitleMaxRunes)
		if err := s.Ledger.Save(ctx, s.DB, conv); err != nil {
			return nil, err
		}
	}

	if req.IdempotencyKey != "" {
		if err := s.Ledger.Remember(ctx, s.DB, req.UserID, req.SessionID, req.IdempotencyKey, assistant.ID, s.idempotencyTTL()); err != nil {
			// The reply is already stored; a lost key only costs a retry.
			zerolog.Ctx(ctx).Warn().Err(err).Str("conversation_id", conv.ID).Msg("idempotency key not recorded")
		}
	}

	res := &ExchangeResult{
		Reply:          assistant.Content,
		MessageID:      assistant.ID,
		ConversationID: conv.ID,
		SessionID:      conv.SessionID,
		Title:          conv.Title,
	}
	if matched != nil {
		id := matched.ID
		res.FAQID = &id
	}
	return res, nil
}

func (s *ChatService) validate(req ExchangeRequest) error {
	switch {
	case req.UserID == "":
		return invalid("user_id", "is required")
	case req.SessionID == "":
		return invalid("session_id", "is required")
	case req.Message == "":
		return invalid("message", "is required")
	case s.MaxMessageRunes > 0 && utf8.RuneCountInString(req.Message) > s.MaxMessageRunes:
		return invalid("message", "is too long")
	}
	return nil
}

// conversation finds the session's conversation or starts one.
func (s *ChatService) conversation(ctx context.Context, userID, sessionID string) (*domain.Conversation, error) {
	c, err := s.Ledger.Find(ctx, s.DB, userID, sessionID)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, repo.ErrNotFound) {
		return nil, err
	}
	return s.Ledger.Create(ctx, s.DB, userID, sessionID)
}

func (s *ChatService) replay(ctx context.Context, req ExchangeRequest) (*ExchangeResult, error) {
	m, err := s.Ledger.Replay(ctx, s.DB, req.UserID, req.SessionID, req.IdempotencyKey)
	if err != nil {
		return nil, err
	}
	c, err := s.Ledger.Find(ctx, s.DB, req.UserID, req.SessionID)
	if err != nil {
		return nil, err
	}
	return &ExchangeResult{
		Reply:          m.Content,
		MessageID:      m.ID,
		ConversationID: c.ID,
		SessionID:      c.SessionID,
		Title:          c.Title,
		Replayed:       true,
	}, nil
}

// match returns the first matching active FAQ. Lookup failures degrade to
// no match so the exchange can proceed without FAQ context.
func (s *ChatService) match(ctx context.Context, message string) *domain.FAQ {
	faqs, err := s.candidates(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("faq lookup failed; continuing without match")
		observability.RecordFAQMatch(observability.MatchError)
		return nil
	}
	f := s.Matcher.Match(message, faqs)
	if f == nil {
		observability.RecordFAQMatch(observability.MatchMiss)
		return nil
	}
	observability.RecordFAQMatch(observability.MatchHit)
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("faq.id", f.ID))
	return f
}

func (s *ChatService) candidates(ctx context.Context) ([]domain.FAQ, error) {
	limit := s.Matcher.MaxCandidates()
	if s.Candidates == nil {
		return s.FAQs.FindActive(ctx, s.DB, limit)
	}

	gen, err := s.Candidates.Generation(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("faq cache generation read failed")
		return s.FAQs.FindActive(ctx, s.DB, limit)
	}
	faqs, err := s.Candidates.Get(ctx, gen, limit)
	if err == nil {
		return faqs, nil
	}
	if !errors.Is(err, cache.ErrMiss) {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("faq cache read failed")
	}

	faqs, err = s.FAQs.FindActive(ctx, s.DB, limit)
	if err != nil {
		return nil, err
	}
	// Written under the generation seen before the read; a concurrent
	// Invalidate leaves this entry unreachable.
	if err := s.Candidates.Set(ctx, gen, limit, faqs); err != nil {
		zerolog.Ctx(ctx).Debug().Err(err).Msg("faq cache write failed")
	}
	return faqs, nil
}

func (s *ChatService) complete(ctx context.Context, prompt []llm.Message) (llm.Message, error) {
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}

	start := time.Now()
	reply, err := s.LLM.Complete(ctx, prompt, s.Options)
	took := time.Since(start)
	if err == nil {
		observability.RecordCompletion(observability.CompletionOK, 200, took)
		return reply, nil
	}

	cerr := &CollaboratorError{Err: err}
	var le *llm.Error
	if errors.As(err, &le) {
		cerr.StatusCode = le.StatusCode
		cerr.Body = le.Body
	}
	observability.RecordCompletion(observability.CompletionError, cerr.StatusCode, took)
	zerolog.Ctx(ctx).Error().
		Err(err).
		Int("upstream_status", cerr.StatusCode).
		Dur("took", took).
		Msg("completion failed")
	return llm.Message{}, cerr
}

func (s *ChatService) idempotencyTTL() time.Duration {
	if s.IdempotencyTTL > 0 {
		return s.IdempotencyTTL
	}
	return DefaultIdempotencyTTL
}

// deriveTitle keeps the first max runes of the first user message and marks
// truncation with an ellipsis.
func deriveTitle(first string, max int) string {
	if max <= 0 {
		max = DefaultTitleMaxRunes
	}
	if utf8.RuneCountInString(first) <= max {
		return first
	}
	return string([]rune(first)[:max]) + titleEllipsis
}
