// Package metrics exposes Prometheus collectors for the tracker service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	trackRequestsTotal prometheus.Counter
	searchItemsTotal   prometheus.Counter
	checkProductsTotal *prometheus.CounterVec
	checkBatchSeconds  prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus collectors. Safe to call more than once.
func Init() {
	once.Do(func() {
		trackRequestsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fleawatch_track_requests_total",
				Help: "Total number of successful track requests.",
			},
		)

		searchItemsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "fleawatch_search_items_total",
				Help: "Total number of items harvested from search pages.",
			},
		)

		checkProductsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "fleawatch_check_products_total",
				Help: "Total products processed by check runs, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		checkBatchSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "fleawatch_check_batch_seconds",
				Help:    "Histogram of batch check run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)
	})
}

// Handler returns an http.Handler exposing the Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTrack counts one successful track request.
func ObserveTrack() {
	if trackRequestsTotal == nil {
		return
	}
	trackRequestsTotal.Inc()
}

// ObserveSearch counts items harvested by one search.
func ObserveSearch(items int) {
	if searchItemsTotal == nil {
		return
	}
	searchItemsTotal.Add(float64(items))
}

// ObserveBatch records the counters and duration of one check run.
func ObserveBatch(checked, updated, deleted int, duration time.Duration) {
	if checkProductsTotal == nil {
		return
	}
	checkProductsTotal.WithLabelValues("checked").Add(float64(checked))
	checkProductsTotal.WithLabelValues("updated").Add(float64(updated))
	checkProductsTotal.WithLabelValues("deleted").Add(float64(deleted))
	checkBatchSeconds.Observe(duration.Seconds())
}
