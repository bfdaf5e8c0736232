package monitor

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the counters exported by the delay monitor.
type Metrics struct {
	TripsMatched     *prometheus.CounterVec // strategy label: basic|train
	MatchFailures    prometheus.Counter
	SiblingsCreated  prometheus.Counter
	AnchorPathBuilds prometheus.Counter
	FixOutcomes      *prometheus.CounterVec // outcome label: estimated|not_found|persist_failed
	ReportsPublished prometheus.Counter
	PublishErrors    *prometheus.CounterVec // sink label: nats|mongo
	BatchDuration    prometheus.Histogram
}

// NewMetrics creates the monitor metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TripsMatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delay_monitor_trips_matched_total",
			Help: "Observed trips associated with a scheduled trip.",
		}, []string{"strategy"}),
		MatchFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delay_monitor_match_failures_total",
			Help: "Observed trips no scheduled trip was found for.",
		}),
		SiblingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delay_monitor_train_siblings_created_total",
			Help: "Observed trips split off trains matching several scheduled trips.",
		}),
		AnchorPathBuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delay_monitor_anchor_path_builds_total",
			Help: "Anchor paths built on a cache miss.",
		}),
		FixOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delay_monitor_fix_outcomes_total",
			Help: "Position fixes processed by the delay estimator.",
		}, []string{"outcome"}),
		ReportsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "delay_monitor_reports_published_total",
			Help: "Trip reports published.",
		}),
		PublishErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "delay_monitor_publish_errors_total",
			Help: "Trip reports that could not be published.",
		}, []string{"sink"}),
		BatchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "delay_monitor_batch_duration_seconds",
			Help:    "Duration of processing one batch of observed trips.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 15),
		}),
	}
	reg.MustRegister(
		m.TripsMatched, m.MatchFailures, m.SiblingsCreated, m.AnchorPathBuilds,
		m.FixOutcomes, m.ReportsPublished, m.PublishErrors, m.BatchDuration,
	)
	return m
}
