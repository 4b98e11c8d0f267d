package refresh

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the refresher's Prometheus collectors.
type Metrics struct {
	Runs           prometheus.Counter
	SourceFailures *prometheus.CounterVec
	IngestedEvents prometheus.Counter
	LastSuccess    prometheus.Gauge
}

// NewMetrics registers the collectors on reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Runs: factory.NewCounter(prometheus.CounterOpts{
			Name: "schedulr_refresh_runs_total",
			Help: "Refresh cycles started",
		}),
		SourceFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "schedulr_refresh_source_failures_total",
			Help: "Calendar sources that failed to refresh",
		}, []string{"source", "stage"}),
		IngestedEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "schedulr_refresh_ingested_events_total",
			Help: "Raw events written to the store",
		}),
		LastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Name: "schedulr_refresh_last_success_timestamp_seconds",
			Help: "Unix time of the last refresh cycle with no failed source",
		}),
	}
}
