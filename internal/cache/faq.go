package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tbourn/go-support-backend/internal/domain"
)

const (
	faqActivePrefix = "faq:active:"
	faqGenKey       = "faq:gen"
)

// FAQCandidates caches the priority-ordered active FAQ list, keyed by the
// candidate limit and a generation number. Any FAQ mutation must call
// Invalidate, which bumps the generation. Readers capture the generation
// before loading from the store and write under it, so a list loaded before
// a mutation lands under a key no reader asks for again.
type FAQCandidates struct {
	c   Cache
	ttl time.Duration
}

// NewFAQCandidates wraps c. A nil c behaves like Noop.
func NewFAQCandidates(c Cache, ttl time.Duration) *FAQCandidates {
	if c == nil {
		c = Noop{}
	}
	return &FAQCandidates{c: c, ttl: ttl}
}

func faqKey(gen int64, limit int) string {
	return faqActivePrefix + strconv.FormatInt(gen, 10) + ":" + strconv.Itoa(limit)
}

// Generation returns the current list generation. A missing counter is
// generation zero.
func (f *FAQCandidates) Generation(ctx context.Context) (int64, error) {
	b, err := f.c.Get(ctx, faqGenKey)
	if errors.Is(err, ErrMiss) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	gen, err := strconv.ParseInt(string(b), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("decode faq generation: %w", err)
	}
	return gen, nil
}

// Get returns the cached list for gen and limit, or ErrMiss.
func (f *FAQCandidates) Get(ctx context.Context, gen int64, limit int) ([]domain.FAQ, error) {
	b, err := f.c.Get(ctx, faqKey(gen, limit))
	if err != nil {
		return nil, err
	}
	var out []domain.FAQ
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("decode cached faqs: %w", err)
	}
	return out, nil
}

// Set stores faqs for gen and limit. gen must be the value returned by
// Generation before faqs were read from the store.
func (f *FAQCandidates) Set(ctx context.Context, gen int64, limit int, faqs []domain.FAQ) error {
	b, err := json.Marshal(faqs)
	if err != nil {
		return fmt.Errorf("encode faqs: %w", err)
	}
	return f.c.Set(ctx, faqKey(gen, limit), b, f.ttl)
}

// Invalidate starts a new generation and drops every cached list.
func (f *FAQCandidates) Invalidate(ctx context.Context) error {
	_, incrErr := f.c.Incr(ctx, faqGenKey)
	if incrErr != nil {
		incrErr = fmt.Errorf("bump faq generation: %w", incrErr)
	}
	return errors.Join(incrErr, f.c.DelPrefix(ctx, faqActivePrefix))
}
