package metrics

import (
	"time"

	"triage_worker/core/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Item outcomes.
const (
	OutcomeSuccess         = "success"
	OutcomeSuccessFallback = "success_fallback"
	OutcomeFailed          = "failed"
)

// Embedding results.
const (
	EmbeddingCreated = "created"
	EmbeddingReused  = "reused"
	EmbeddingSkipped = "skipped"
	EmbeddingFailed  = "failed"
)

var (
	ItemsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_items_total",
		Help: "Emails processed, by outcome",
	}, []string{"outcome"})

	ItemFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_item_failures_total",
		Help: "Failed emails, by error kind",
	}, []string{"kind"})

	Verdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_verdicts_total",
		Help: "Classification verdicts, by mode, source and quadrant",
	}, []string{"mode", "source", "quadrant"})

	Retries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_external_retries_total",
		Help: "Retried external calls, by service and error kind",
	}, []string{"service", "kind"})

	CallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "triage_external_call_duration_seconds",
		Help:    "Duration of external service attempts",
		Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"service", "result"})

	Embeddings = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "triage_embeddings_total",
		Help: "Embedding step results",
	}, []string{"result"})

	LargeEmails = promauto.NewCounter(prometheus.CounterOpts{
		Name: "triage_large_emails_total",
		Help: "Emails above the large-email token watermark",
	})

	CircuitState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "triage_circuit_state",
		Help: "Circuit breaker state per service (0 closed, 1 half-open, 2 open)",
	}, []string{"service"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "triage_batch_duration_seconds",
		Help:    "Wall time of batch runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

func ObserveItem(outcome, failureKind string) {
	ItemsProcessed.WithLabelValues(outcome).Inc()
	if failureKind != "" {
		ItemFailures.WithLabelValues(failureKind).Inc()
	}
}

func ObserveVerdict(v domain.ClassificationVerdict) {
	Verdicts.WithLabelValues(string(v.Mode), string(v.Source), string(v.Quadrant)).Inc()
}

func ObserveRetry(service, kind string) {
	Retries.WithLabelValues(service, kind).Inc()
}

func ObserveCall(service string, err error, d time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CallDuration.WithLabelValues(service, result).Observe(d.Seconds())
}

func ObserveEmbedding(result string) {
	Embeddings.WithLabelValues(result).Inc()
}
