// Package metrics holds the Prometheus collectors shared by the comment
// services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "anoncomments"

// Refresh outcomes.
const (
	RefreshApplied   = "applied"
	RefreshUnchanged = "unchanged"
	RefreshStale     = "stale"
	RefreshError     = "error"
)

// Sync holds the sync engine collectors. A nil *Sync is a valid no-op.
type Sync struct {
	Refreshes       *prometheus.CounterVec
	RefreshDuration prometheus.Histogram
	FeedEvents      *prometheus.CounterVec
	Mutations       *prometheus.CounterVec
	ViewComments    prometheus.Gauge
}

// NewSync registers the sync collectors on reg.
func NewSync(reg prometheus.Registerer) *Sync {
	f := promauto.With(reg)
	return &Sync{
		Refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "refreshes_total",
			Help:      "Refreshes by outcome",
		}, []string{"result"}),
		RefreshDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "refresh_duration_seconds",
			Help:      "Time to fetch the record set and rebuild the tree",
			Buckets:   prometheus.DefBuckets,
		}),
		FeedEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "feed_events_total",
			Help:      "Change feed notifications received",
		}, []string{"op"}),
		Mutations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "mutations_total",
			Help:      "Mutations issued against the record source",
		}, []string{"op", "result"}),
		ViewComments: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "view_comments",
			Help:      "Comments in the current view",
		}),
	}
}

func (m *Sync) ObserveRefresh(result string, took time.Duration) {
	if m == nil {
		return
	}
	m.Refreshes.WithLabelValues(result).Inc()
	if result != RefreshError {
		m.RefreshDuration.Observe(took.Seconds())
	}
}

func (m *Sync) FeedEvent(op string) {
	if m == nil {
		return
	}
	m.FeedEvents.WithLabelValues(op).Inc()
}

func (m *Sync) Mutation(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Mutations.WithLabelValues(op, result).Inc()
}

func (m *Sync) SetViewSize(n int) {
	if m == nil {
		return
	}
	m.ViewComments.Set(float64(n))
}

// Handler exposes the collectors gathered by g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
