// Package metrics holds the Prometheus collectors of the wave client.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)

// Metrics groups the client's collectors. A nil *Metrics is a no-op.
type Metrics struct {
	Submissions  *prometheus.CounterVec
	Syncs        *prometheus.CounterVec
	FinalityWait prometheus.Histogram
	WavesCached  prometheus.Gauge
	Phase        *prometheus.GaugeVec
}

// New registers the collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Submissions: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waveportal_submissions_total",
				Help: "Wave submissions by outcome",
			},
			[]string{"result"}, // confirmed, failed, rejected
		),
		Syncs: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "waveportal_syncs_total",
				Help: "Full wave log syncs by result",
			},
			[]string{"result"},
		),
		FinalityWait: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "waveportal_finality_wait_seconds",
				Help:    "Time from broadcast to finality or give-up",
				Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
			},
		),
		WavesCached: f.NewGauge(
			prometheus.GaugeOpts{
				Name: "waveportal_waves_cached",
				Help: "Records in the wave store after the last sync",
			},
		),
		Phase: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "waveportal_controller_phase",
				Help: "1 for the controller's current phase, 0 otherwise",
			},
			[]string{"phase"},
		),
	}
}

func (m *Metrics) ObserveSubmission(result string) {
	if m == nil {
		return
	}
	m.Submissions.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveSync(err error, cached int) {
	if m == nil {
		return
	}
	if err != nil {
		m.Syncs.WithLabelValues(ResultError).Inc()
		return
	}
	m.Syncs.WithLabelValues(ResultOK).Inc()
	m.WavesCached.Set(float64(cached))
}

func (m *Metrics) ObserveFinality(d time.Duration) {
	if m == nil {
		return
	}
	m.FinalityWait.Observe(d.Seconds())
}

// SetPhase marks phase as current among all.
func (m *Metrics) SetPhase(phase string, all []string) {
	if m == nil {
		return
	}
	for _, p := range all {
		v := 0.0
		if p == phase {
			v = 1
		}
		m.Phase.WithLabelValues(p).Set(v)
	}
}
