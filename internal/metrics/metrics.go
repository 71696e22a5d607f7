// Package metrics exposes Prometheus collectors for the analysis service.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	analysesTotal           *prometheus.CounterVec
	cacheLookupsTotal       *prometheus.CounterVec
	fetchAttemptsTotal      *prometheus.CounterVec
	syntheticFallbacksTotal prometheus.Counter
	notificationsTotal      *prometheus.CounterVec
	historyItems            prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		analysesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_analyses_total",
				Help: "Total analysis requests, labeled by outcome (cached, fetched, synthetic, rejected, busy, throttled).",
			},
			[]string{"outcome"},
		)

		cacheLookupsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_cache_lookups_total",
				Help: "Total result cache lookups, labeled by result (hit, miss).",
			},
			[]string{"result"},
		)

		fetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_fetch_attempts_total",
				Help: "Total backend fetch attempts, labeled by result (ok, error).",
			},
			[]string{"result"},
		)

		syntheticFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "insight_synthetic_fallbacks_total",
				Help: "Total analyses that fell back to the synthetic generator.",
			},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "insight_notifications_total",
				Help: "Total notification jobs, labeled by disposition (sent, suppressed, dropped).",
			},
			[]string{"disposition"},
		)

		historyItems = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "insight_history_items",
				Help: "Current number of items retained in the analysis history.",
			},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordAnalysis increments the analyses counter for an outcome.
func RecordAnalysis(outcome string) {
	if analysesTotal != nil {
		analysesTotal.WithLabelValues(outcome).Inc()
	}
}

// RecordCacheLookup increments the cache lookup counter.
func RecordCacheLookup(hit bool) {
	if cacheLookupsTotal == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookupsTotal.WithLabelValues(result).Inc()
}

// RecordFetchAttempt increments the fetch attempt counter.
func RecordFetchAttempt(ok bool) {
	if fetchAttemptsTotal == nil {
		return
	}
	result := "error"
	if ok {
		result = "ok"
	}
	fetchAttemptsTotal.WithLabelValues(result).Inc()
}

// RecordSyntheticFallback increments the fallback counter.
func RecordSyntheticFallback() {
	if syntheticFallbacksTotal != nil {
		syntheticFallbacksTotal.Inc()
	}
}

// RecordNotification increments the notification counter for a disposition.
func RecordNotification(disposition string) {
	if notificationsTotal != nil {
		notificationsTotal.WithLabelValues(disposition).Inc()
	}
}

// SetHistorySize updates the history size gauge.
func SetHistorySize(n int) {
	if historyItems != nil {
		historyItems.Set(float64(n))
	}
}
