package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Match outcomes recorded by faq_match_total.
const (
	MatchHit   = "hit"
	MatchMiss  = "miss"
	MatchError = "error"
)

// Completion outcomes recorded by completion_requests_total.
const (
	CompletionOK    = "ok"
	CompletionError = "error"
)

var (
	// faqMatch counts matcher runs by outcome. "error" means the FAQ lookup
	// failed and the exchange continued without a match.
	faqMatch = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faq_match_total",
			Help: "FAQ relevance matcher runs by outcome.",
		},
		[]string{"result"},
	)

	completionReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "completion_requests_total",
			Help: "Completion API calls by outcome and upstream status.",
		},
		[]string{"outcome", "status"},
	)

	// completionLat includes retries.
	completionLat = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "completion_duration_seconds",
			Help:    "Duration of completion API calls in seconds.",
			Buckets: []float64{.1, .25, .5, 1, 2, 5, 10, 20, 30, 60},
		},
	)

	// faqIngested counts parsed upload fragments by document kind and
	// outcome (created, dropped, orphan).
	faqIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "faq_ingested_total",
			Help: "FAQ upload fragments by document kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
)

func init() {
	prometheus.MustRegister(faqMatch, completionReqs, completionLat, faqIngested)
}

// RecordFAQMatch increments faq_match_total for result.
func RecordFAQMatch(result string) {
	faqMatch.WithLabelValues(result).Inc()
}

// RecordCompletion records one completion call. status is the upstream HTTP
// status, or 0 when no response was received.
func RecordCompletion(outcome string, status int, took time.Duration) {
	completionReqs.WithLabelValues(outcome, statusLabel(status)).Inc()
	completionLat.Observe(took.Seconds())
}

// RecordIngest adds the per-outcome counts of one upload.
func RecordIngest(kind string, created, dropped, orphans int) {
	faqIngested.WithLabelValues(kind, "created").Add(float64(created))
	faqIngested.WithLabelValues(kind, "dropped").Add(float64(dropped))
	faqIngested.WithLabelValues(kind, "orphan").Add(float64(orphans))
}

func statusLabel(status int) string {
	switch {
	case status <= 0:
		return "none"
	case status < 300:
		return "2xx"
	case status < 500:
		// 4xx stay exact so 401 and 429 can be told apart.
		return strconv.Itoa(status)
	default:
		return "5xx"
	}
}
