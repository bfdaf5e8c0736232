package importer

import "github.com/prometheus/client_golang/prometheus"

// Metrics are the counters exported by the importer.
type Metrics struct {
	SectionsSkipped   prometheus.Counter
	VersionsStarted   prometheus.Counter
	RowsStaged        *prometheus.CounterVec // dataset label
	Promotions        *prometheus.CounterVec // outcome label: promoted|row_count_mismatch|failed
	PromotionDuration prometheus.Histogram
}

// NewMetrics creates the importer metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SectionsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gtfs_importer_sections_skipped_total",
			Help: "Sections of datasets that were already up to date.",
		}),
		VersionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "gtfs_importer_versions_started_total",
			Help: "Dataset versions started.",
		}),
		RowsStaged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfs_importer_rows_staged_total",
			Help: "Rows written into staging tables.",
		}, []string{"dataset"}),
		Promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gtfs_importer_promotions_total",
			Help: "Completed dataset versions by outcome.",
		}, []string{"outcome"}),
		PromotionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "gtfs_importer_promotion_duration_seconds",
			Help:    "Duration of the promotion transaction.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
	}
	reg.MustRegister(m.SectionsSkipped, m.VersionsStarted, m.RowsStaged, m.Promotions, m.PromotionDuration)
	return m
}
