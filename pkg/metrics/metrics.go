// Package metrics holds the prometheus collectors of the overlay engine and
// the storage service. A nil *Collector is valid and records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "overlay"

// Save outcomes used as label values
const (
	OutcomeSucceeded = "succeeded"
	OutcomeFailed    = "failed"
)

type Collector struct {
	CameraSyncs  prometheus.Counter
	Reprojected  prometheus.Counter
	SyncDuration prometheus.Histogram
	SavedItems   *prometheus.CounterVec
	Annotations  *prometheus.GaugeVec
	HTTPDuration *prometheus.HistogramVec
	HTTPRequests *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses a fresh private
// registry, which keeps tests and multiple engines from colliding.
func New(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Collector{
		CameraSyncs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "camera_syncs_total",
			Help:      "Number of camera-sync reconciliation passes.",
		}),
		Reprojected: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reprojected_annotations_total",
			Help:      "Number of annotations whose canvas geometry was recomputed.",
		}),
		SyncDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "camera_sync_duration_seconds",
			Help:      "Duration of a reconciliation pass.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1},
		}),
		SavedItems: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "saved_annotations_total",
			Help:      "Per-item persistence outcomes.",
		}, []string{"outcome"}),
		Annotations: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "annotations",
			Help:      "Annotations currently held, by type.",
		}, []string{"type"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_response_time_seconds",
			Help:      "Duration of HTTP requests.",
		}, []string{"path"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Number of HTTP requests.",
		}, []string{"path"}),
	}
}

func (c *Collector) ObserveSync(reprojected int, took time.Duration) {
	if c == nil {
		return
	}
	c.CameraSyncs.Inc()
	c.Reprojected.Add(float64(reprojected))
	c.SyncDuration.Observe(took.Seconds())
}

func (c *Collector) ObserveSave(succeeded, failed int) {
	if c == nil {
		return
	}
	c.SavedItems.WithLabelValues(OutcomeSucceeded).Add(float64(succeeded))
	c.SavedItems.WithLabelValues(OutcomeFailed).Add(float64(failed))
}

// SetAnnotations publishes the per-type annotation counts
func (c *Collector) SetAnnotations(counts map[string]int) {
	if c == nil {
		return
	}
	for t, n := range counts {
		c.Annotations.WithLabelValues(t).Set(float64(n))
	}
}

func (c *Collector) ObserveHTTP(path string, took time.Duration) {
	if c == nil {
		return
	}
	c.HTTPDuration.WithLabelValues(path).Observe(took.Seconds())
	c.HTTPRequests.WithLabelValues(path).Inc()
}
