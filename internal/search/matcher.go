package search

import (
	"strings"

	"github.com/tbourn/go-support-backend/internal/domain"
)

// DefaultMaxCandidates bounds how many FAQ entries a single Match scans.
const DefaultMaxCandidates = 10

// Matcher picks the first FAQ entry that lexically overlaps a message.
//
// Candidates are expected to be active and pre-sorted by descending
// priority; the matcher does not re-rank, so order decides ties.
type Matcher struct {
	maxCandidates int
}

// NewMatcher returns a Matcher that scans at most maxCandidates entries.
// Non-positive values fall back to DefaultMaxCandidates.
func NewMatcher(maxCandidates int) *Matcher {
	if maxCandidates <= 0 {
		maxCandidates = DefaultMaxCandidates
	}
	return &Matcher{maxCandidates: maxCandidates}
}

// MaxCandidates reports the scan cap, so callers can size the store query.
func (m *Matcher) MaxCandidates() int { return m.maxCandidates }

// Match returns a copy of the first candidate for which any of these hold:
//   - one of its keywords is a substring of the lower-cased message
//   - the lower-cased message contains its lower-cased question
//   - its lower-cased question contains the lower-cased message
//
// It returns nil when nothing matches or the message is blank.
func (m *Matcher) Match(message string, faqs []domain.FAQ) *domain.FAQ {
	msg := strings.ToLower(strings.TrimSpace(message))
	if msg == "" {
		return nil
	}

	n := len(faqs)
	if n > m.maxCandidates {
		n = m.maxCandidates
	}
	for i := 0; i < n; i++ {
		if matches(msg, faqs[i]) {
			hit := faqs[i]
			return &hit
		}
	}
	return nil
}

func matches(msg string, f domain.FAQ) bool {
	for _, kw := range f.Keywords {
		if kw != "" && strings.Contains(msg, strings.ToLower(kw)) {
			return true
		}
	}
	q := strings.ToLower(strings.TrimSpace(f.Question))
	if q == "" {
		return false
	}
	return strings.Contains(msg, q) || strings.Contains(q, msg)
}
