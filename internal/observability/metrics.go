package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PagesFetchedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_pages_fetched_total",
			Help: "Listing pages fetched, by site and outcome",
		},
		[]string{"site", "outcome"},
	)

	FetchRetriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_fetch_retries_total",
			Help: "HTTP fetch attempts retried after a transient failure",
		},
		[]string{"site"},
	)

	ProductsExtractedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_products_extracted_total",
			Help: "Raw products extracted from listing pages",
		},
		[]string{"site"},
	)

	ProductsNormalizedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_products_normalized_total",
			Help: "Raw products normalized, by outcome",
		},
		[]string{"site", "outcome"},
	)

	ProductsLoadedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pipeline_products_loaded_total",
			Help: "Normalized products loaded into the warehouse, by outcome",
		},
		[]string{"site", "outcome"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pipeline_stage_duration_seconds",
			Help:    "Wall time per pipeline stage",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"site", "stage"},
	)
)

// Start registers the pipeline collectors and serves /metrics
func Start(port string) {
	prometheus.MustRegister(
		PagesFetchedTotal,
		FetchRetriesTotal,
		ProductsExtractedTotal,
		ProductsNormalizedTotal,
		ProductsLoadedTotal,
		StageDuration,
	)
	http.Handle("/metrics", promhttp.Handler())
	go http.ListenAndServe(":"+port, nil)
}
