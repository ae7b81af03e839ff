package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
	OutcomeMapped   = "mapped"
	OutcomeFailed   = "failed"
)

// Metrics holds the pipeline collectors.
type Metrics struct {
	uploads      *prometheus.CounterVec
	records      *prometheus.CounterVec
	duration     prometheus.Histogram
	techniques   prometheus.Gauge
	taxonomyLoad *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		uploads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attackmap_uploads_total",
			Help: "Uploaded files by outcome",
		}, []string{"outcome"}),
		records: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attackmap_records_total",
			Help: "Input records by match outcome",
		}, []string{"outcome"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "attackmap_pipeline_duration_seconds",
			Help:    "Time spent mapping one uploaded file",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		techniques: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attackmap_taxonomy_techniques",
			Help: "Techniques in the indexed taxonomy",
		}),
		taxonomyLoad: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attackmap_taxonomy_reloads_total",
			Help: "Taxonomy cache invalidations by trigger",
		}, []string{"trigger"}),
	}
	reg.MustRegister(m.uploads, m.records, m.duration, m.techniques, m.taxonomyLoad)
	return m
}

// ObserveUpload records one processed file.
func (m *Metrics) ObserveUpload(outcome string, mapped, failed int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(outcome).Inc()
	if outcome != OutcomeOK {
		return
	}
	m.records.WithLabelValues(OutcomeMapped).Add(float64(mapped))
	m.records.WithLabelValues(OutcomeFailed).Add(float64(failed))
	m.duration.Observe(elapsed.Seconds())
}

// SetTechniques reports the indexed taxonomy size.
func (m *Metrics) SetTechniques(n int) {
	if m == nil {
		return
	}
	m.techniques.Set(float64(n))
}

// ObserveReload counts a taxonomy invalidation.
func (m *Metrics) ObserveReload(trigger string) {
	if m == nil {
		return
	}
	m.taxonomyLoad.WithLabelValues(trigger).Inc()
}
