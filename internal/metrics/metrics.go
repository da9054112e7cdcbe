package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

type posMetrics struct {
	transactions   *prometheus.CounterVec
	freeWashes     prometheus.Counter
	freeProducts   *prometheus.CounterVec
	claimFailures  prometheus.Counter
	cacheLookups   *prometheus.CounterVec
	catalogLatency *prometheus.HistogramVec
}

var (
	posMetricsOnce sync.Once
	posRegistry    *posMetrics
)

// POS returns the lazily registered metrics for the point-of-sale service.
func POS() *posMetrics {
	posMetricsOnce.Do(func() {
		posRegistry = &posMetrics{
			transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "washpoint",
				Subsystem: "pos",
				Name:      "transactions_saved_total",
				Help:      "Transactions saved, segmented by mode (create, update) and status.",
			}, []string{"mode", "status"}),
			freeWashes: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "washpoint",
				Subsystem: "loyalty",
				Name:      "free_washes_redeemed_total",
				Help:      "Free washes redeemed from customer loyalty balances.",
			}),
			freeProducts: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "washpoint",
				Subsystem: "pos",
				Name:      "free_products_granted_total",
				Help:      "Complimentary product units attached to saved transactions.",
			}, []string{"product"}),
			claimFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "washpoint",
				Subsystem: "loyalty",
				Name:      "claim_failures_total",
				Help:      "Loyalty claims that failed after the transaction was saved.",
			}),
			cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "washpoint",
				Subsystem: "catalog",
				Name:      "cache_lookups_total",
				Help:      "Catalog cache lookups segmented by key kind and result.",
			}, []string{"kind", "result"}),
			catalogLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "washpoint",
				Subsystem: "catalog",
				Name:      "fetch_duration_seconds",
				Help:      "Latency of catalog fetches from the backing store.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"kind"}),
		}
		prometheus.MustRegister(
			posRegistry.transactions,
			posRegistry.freeWashes,
			posRegistry.freeProducts,
			posRegistry.claimFailures,
			posRegistry.cacheLookups,
			posRegistry.catalogLatency,
		)
	})
	return posRegistry
}

func (m *posMetrics) TransactionSaved(mode, status string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(mode, status).Inc()
}

func (m *posMetrics) FreeWashesRedeemed(count int) {
	if m == nil || count <= 0 {
		return
	}
	m.freeWashes.Add(float64(count))
}

func (m *posMetrics) FreeProductsGranted(productID string, units int) {
	if m == nil || units <= 0 {
		return
	}
	m.freeProducts.WithLabelValues(productID).Add(float64(units))
}

func (m *posMetrics) ClaimFailed() {
	if m == nil {
		return
	}
	m.claimFailures.Inc()
}

func (m *posMetrics) CacheLookup(kind string, hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(kind, result).Inc()
}

func (m *posMetrics) ObserveCatalogFetch(kind string, seconds float64) {
	if m == nil {
		return
	}
	m.catalogLatency.WithLabelValues(kind).Observe(seconds)
}
