package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	PagesRendered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankbeam_pages_rendered_total",
		Help: "Search result pages rendered, by country",
	}, []string{"country"})
	PageRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankbeam_page_retries_total",
		Help: "Page loads retried after a transient failure",
	}, []string{"country"})
	Negotiations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankbeam_locale_negotiations_total",
		Help: "Delivery location negotiations, by country and outcome",
	}, []string{"country", "outcome"})
	RecordsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankbeam_records_emitted_total",
		Help: "Rank records emitted, by outcome",
	}, []string{"outcome"})
	ActiveCountries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "rankbeam_active_countries",
		Help: "Country workers currently holding a session",
	})
	RankChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rankbeam_rank_changes_total",
		Help: "Rank changes detected against stored history, by change type",
	}, []string{"type"})
	QueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rankbeam_query_duration_seconds",
		Help:    "Wall time spent resolving one keyword query",
		Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
	}, []string{"country"})
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
