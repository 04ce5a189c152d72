// Package metrics registra los collectors Prometheus del proceso.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinical_coding"

// Outcomes del reconciliador.
const (
	ReconcileApplied         = "applied"
	ReconcileSkippedDebounce = "skipped_debounce"
	ReconcileNoEpisode       = "no_episode"
	ReconcileFailed          = "failed"
)

// Outcomes de una entrega de dead-letter.
const (
	DeliveryAcked       = "acked"
	DeliveryReleased    = "released"
	DeliveryQuarantined = "quarantined"
)

var (
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "reconcile_total",
		Help:      "Reconciliaciones por resultado.",
	}, []string{"outcome"})

	ReconcileDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "reconcile_duration_seconds",
		Help:      "Duración de una reconciliación completa.",
		Buckets:   prometheus.DefBuckets,
	})

	AnalyticsPushFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "analytics_push_failures_total",
		Help:      "Pushes al sink de analytics que fallaron.",
	})

	DeadLetterDeliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deadletter_deliveries_total",
		Help:      "Mensajes de dead-letter procesados por resultado.",
	}, []string{"backend", "outcome"})

	DeadLetterCaptured = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deadletter_captured_total",
		Help:      "Respuestas que fallaron y se encolaron como dead-letter.",
	})
)

// Handler expone el registry default.
func Handler() http.Handler {
	return promhttp.Handler()
}
