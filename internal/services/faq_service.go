// Package services – FAQService
//
// This file implements management of the FAQ knowledge base: create, update,
// delete, paged listing and bulk ingestion of uploaded documents. Keywords
// are derived from the entry text unless the caller supplies them, and every
// mutation invalidates the cached candidate list used by ChatService.
package services

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/go-support-backend/internal/cache"
	"github.com/tbourn/go-support-backend/internal/domain"
	"github.com/tbourn/go-support-backend/internal/ingest"
	"github.com/tbourn/go-support-backend/internal/observability"
	"github.com/tbourn/go-support-backend/internal/repo"
	"github.com/tbourn/go-support-backend/internal/search"
	"github.com/tbourn/go-support-backend/internal/utils"
)

const (
	MinPriority     = 1
	MaxPriority     = 10
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// FAQInput describes a new entry. Nil pointers take the defaults.
type FAQInput struct {
	Question string
	Answer   string
	Category string
	// Keywords replace derivation when non-nil.
	Keywords []string
	Priority *int
	IsActive *bool
}

// FAQPatch describes a partial update. Nil fields are left unchanged.
type FAQPatch struct {
	Question *string
	Answer   *string
	Category *string
	Keywords *[]string
	Priority *int
	IsActive *bool
}

// IngestRequest is one uploaded document.
type IngestRequest struct {
	Data []byte
	// Kind is a media type, file extension or "text"/"pdf". Empty means sniff.
	Kind     string
	Category string
}

// IngestReport summarizes an upload. Dropped and Orphans count fragments the
// lenient parser discarded, so callers can surface silent loss.
type IngestReport struct {
	Kind    ingest.Kind
	Created int
	Dropped int
	Orphans int
	FAQs    []domain.FAQ
}

// FAQService manages FAQ entries.
type FAQService struct {
	DB        *gorm.DB
	Store     FAQStore
	Extractor *search.Extractor
	// Candidates is invalidated after each mutation; nil disables it.
	Candidates *cache.FAQCandidates
}

// NewFAQService wires an FAQService with the default keyword extractor.
func NewFAQService(db *gorm.DB, store FAQStore, candidates *cache.FAQCandidates) *FAQService {
	return &FAQService{
		DB:         db,
		Store:      store,
		Extractor:  search.NewExtractor(),
		Candidates: candidates,
	}
}

// Create validates in and stores a new entry.
func (s *FAQService) Create(ctx context.Context, in FAQInput) (*domain.FAQ, error) {
	tr := otel.Tracer("services/FAQService")
	ctx, span := tr.Start(ctx, "Create")
	defer span.End()

	q, a := strings.TrimSpace(in.Question), strings.TrimSpace(in.Answer)
	if q == "" {
		return nil, invalid("question", "is required")
	}
	if a == "" {
		return nil, invalid("answer", "is required")
	}
	f := &domain.FAQ{
		Question: q,
		Answer:   a,
		Category: s.category(in.Category),
		Priority: MinPriority,
		IsActive: true,
	}
	if in.Priority != nil {
		if err := checkPriority(*in.Priority); err != nil {
			return nil, err
		}
		f.Priority = *in.Priority
	}
	if in.IsActive != nil {
		f.IsActive = *in.IsActive
	}
	if in.Keywords != nil {
		f.Keywords = s.Extractor.Normalize(in.Keywords)
	} else {
		f.Keywords = s.derive(q, a)
	}

	if err := s.Store.Create(ctx, s.DB, f); err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	span.SetAttributes(attribute.String("faq.id", f.ID))
	return f, nil
}

// Get returns one entry.
func (s *FAQService) Get(ctx context.Context, id string) (*domain.FAQ, error) {
	f, err := s.Store.Get(ctx, s.DB, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFAQNotFound
	}
	return f, err
}

// Update applies p to entry id. Keywords are re-derived from the resulting
// question and answer when the text changes and p carries no keywords.
func (s *FAQService) Update(ctx context.Context, id string, p FAQPatch) (*domain.FAQ, error) {
	tr := otel.Tracer("services/FAQService")
	ctx, span := tr.Start(ctx, "Update", trace.WithAttributes(attribute.String("faq.id", id)))
	defer span.End()

	cur, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	fields := map[string]any{}
	q, a := cur.Question, cur.Answer
	if p.Question != nil {
		if q = strings.TrimSpace(*p.Question); q == "" {
			return nil, invalid("question", "must not be empty")
		}
		fields["question"] = q
	}
	if p.Answer != nil {
		if a = strings.TrimSpace(*p.Answer); a == "" {
			return nil, invalid("answer", "must not be empty")
		}
		fields["answer"] = a
	}
	if p.Category != nil {
		fields["category"] = s.category(*p.Category)
	}
	if p.Priority != nil {
		if err := checkPriority(*p.Priority); err != nil {
			return nil, err
		}
		fields["priority"] = *p.Priority
	}
	if p.IsActive != nil {
		fields["is_active"] = *p.IsActive
	}
	switch {
	case p.Keywords != nil:
		fields["keywords"] = datatypes.JSONSlice[string](s.Extractor.Normalize(*p.Keywords))
	case p.Question != nil || p.Answer != nil:
		fields["keywords"] = datatypes.JSONSlice[string](s.derive(q, a))
	}
	if len(fields) == 0 {
		return cur, nil
	}

	f, err := s.Store.Update(ctx, s.DB, id, fields)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrFAQNotFound
	}
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx)
	return f, nil
}

// Delete soft-deletes entry id.
func (s *FAQService) Delete(ctx context.Context, id string) error {
	ok, err := s.Store.Delete(ctx, s.DB, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrFAQNotFound
	}
	s.invalidate(ctx)
	return nil
}

// ListPage returns a page of entries matching filter plus the total count.
func (s *FAQService) ListPage(ctx context.Context, filter repo.FAQFilter, page, pageSize int) ([]domain.FAQ, int64, error) {
	tr := otel.Tracer("services/FAQService")
	ctx, span := tr.Start(ctx, "ListPage",
		trace.WithAttributes(
			attribute.String("category", filter.Category),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	page, pageSize = clampPage(page, pageSize)
	if strings.TrimSpace(filter.Category) != "" {
		filter.Category = s.category(filter.Category)
	}

	total, err := s.Store.Count(ctx, s.DB, filter)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.FAQ{}, 0, nil
	}
	items, err := s.Store.ListPage(ctx, s.DB, filter, utils.Offset(page, pageSize), pageSize)
	return items, total, err
}

// Ingest parses an uploaded document into question/answer pairs and stores
// them as active entries in one batch.
func (s *FAQService) Ingest(ctx context.Context, req IngestRequest) (*IngestReport, error) {
	tr := otel.Tracer("services/FAQService")
	ctx, span := tr.Start(ctx, "Ingest", trace.WithAttributes(attribute.Int("bytes", len(req.Data))))
	defer span.End()

	if len(req.Data) == 0 {
		return nil, invalid("file", "is empty")
	}
	kind, err := ingest.DetectKind(req.Data, req.Kind)
	if err != nil {
		return nil, invalid("file", "unsupported document type")
	}
	parsed, err := ingest.Document(req.Data, kind)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("kind", string(kind)).Msg("document text extraction failed")
		return nil, invalid("file", "unreadable document")
	}

	category := s.category(req.Category)
	faqs := make([]domain.FAQ, 0, len(parsed.Pairs))
	for _, p := range parsed.Pairs {
		faqs = append(faqs, domain.FAQ{
			Question: p.Question,
			Answer:   p.Answer,
			Category: category,
			Keywords: s.derive(p.Question, p.Answer),
			Priority: MinPriority,
			IsActive: true,
		})
	}
	if err := s.Store.CreateMany(ctx, s.DB, faqs); err != nil {
		return nil, err
	}
	if len(faqs) > 0 {
		s.invalidate(ctx)
	}

	rep := &IngestReport{
		Kind:    kind,
		Created: len(faqs),
		Dropped: parsed.Dropped,
		Orphans: parsed.Orphans,
		FAQs:    faqs,
	}
	observability.RecordIngest(string(kind), rep.Created, rep.Dropped, rep.Orphans)
	span.SetAttributes(
		attribute.Int("faq.created", rep.Created),
		attribute.Int("faq.dropped", rep.Dropped),
	)
	if rep.Dropped > 0 || rep.Orphans > 0 {
		zerolog.Ctx(ctx).Warn().
			Int("dropped", rep.Dropped).
			Int("orphans", rep.Orphans).
			Msg("faq upload discarded fragments")
	}
	return rep, nil
}

func (s *FAQService) derive(question, answer string) datatypes.JSONSlice[string] {
	return s.Extractor.Extract(question + " " + answer)
}

// category trims and title-cases c so category filters are case-blind.
// Empty falls back to the default category.
func (s *FAQService) category(c string) string {
	c = whitespaceRE.ReplaceAllString(strings.TrimSpace(c), " ")
	if c == "" {
		return domain.DefaultCategory
	}
	// Casers are stateful, so one per call.
	return cases.Title(language.Und).String(c)
}

func (s *FAQService) invalidate(ctx context.Context) {
	if s.Candidates == nil {
		return
	}
	if err := s.Candidates.Invalidate(ctx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("faq cache invalidation failed")
	}
}

func checkPriority(p int) error {
	if p < MinPriority || p > MaxPriority {
		return invalid("priority", "must be between 1 and 10")
	}
	return nil
}
