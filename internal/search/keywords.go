// Package search implements the lexical FAQ lookup used on the chat path:
// a keyword extractor that derives a bounded keyword set from free text, and
// a first-match-wins matcher over a priority-ordered candidate list.
//
// Both types are immutable after construction and safe for concurrent use.
// Neither logs; callers decide what to report.
package search

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Defaults for NewExtractor.
const (
	DefaultMaxKeywords   = 10
	DefaultMinTokenBytes = 3
)

// DefaultStopwords is the stop-word list applied when no override is given.
var DefaultStopwords = []string{
	"the", "and", "or", "but", "in", "on", "at", "to", "for", "of", "with", "by",
}

// nonAlnumRE matches everything that is neither a lower-case ASCII letter,
// a digit nor whitespace. It runs after lower-casing.
var nonAlnumRE = regexp.MustCompile(`[^a-z0-9\s]+`)

// Extractor derives keywords from text. Construct with NewExtractor.
type Extractor struct {
	stop     map[string]struct{}
	minBytes int
	max      int
}

// ExtractorOption customizes an Extractor.
type ExtractorOption func(*Extractor)

// WithStopwords replaces the stop-word list. Words are lower-cased and
// trimmed; an empty list disables stop-word removal.
func WithStopwords(words []string) ExtractorOption {
	return func(e *Extractor) {
		e.stop = toSet(words)
	}
}

// WithMaxKeywords caps the number of keywords returned. Non-positive values
// are ignored.
func WithMaxKeywords(n int) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.max = n
		}
	}
}

// WithMinTokenBytes sets the minimum token length kept. Tokens shorter than
// n are dropped. Non-positive values are ignored.
func WithMinTokenBytes(n int) ExtractorOption {
	return func(e *Extractor) {
		if n > 0 {
			e.minBytes = n
		}
	}
}

// NewExtractor returns an Extractor using the defaults above, modified by opts.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		stop:     toSet(DefaultStopwords),
		minBytes: DefaultMinTokenBytes,
		max:      DefaultMaxKeywords,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract lower-cases text, strips punctuation, splits on whitespace, drops
// short tokens and stop words, dedupes in first-seen order, and truncates to
// the configured cap. The result is never nil.
func (e *Extractor) Extract(text string) []string {
	out := make([]string, 0, e.max)
	if strings.TrimSpace(text) == "" {
		return out
	}

	s := strings.ToLower(norm.NFKC.String(text))
	s = nonAlnumRE.ReplaceAllString(s, "")

	seen := make(map[string]struct{}, e.max)
	for _, tok := range strings.Fields(s) {
		if len(tok) < e.minBytes {
			continue
		}
		if _, stop := e.stop[tok]; stop {
			continue
		}
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
		if len(out) == e.max {
			break
		}
	}
	return out
}

// Normalize cleans a caller-supplied keyword list with the same rules as
// Extract applied per entry: lower-case, trimmed, deduped, capped. Entries
// are kept whole (multi-word keywords survive) but empty ones are dropped.
func (e *Extractor) Normalize(keywords []string) []string {
	out := make([]string, 0, len(keywords))
	seen := make(map[string]struct{}, len(keywords))
	for _, k := range keywords {
		k = strings.ToLower(strings.TrimSpace(norm.NFKC.String(k)))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
		if len(out) == e.max {
			break
		}
	}
	return out
}

func toSet(words []string) map[string]struct{} {
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.ToLower(strings.TrimSpace(w))
		if w != "" {
			m[w] = struct{}{}
		}
	}
	return m
}
