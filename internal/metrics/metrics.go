// Package metrics exports Prometheus instrumentation for the pack
// core, matching fd_pack.c's metrics_write: a per-outcome-class
// insertion counter and two duration histograms. Grounded on
// _examples/original_source/src/app/fdctl/run/tiles/fd_pack.c's
// FD_MCNT_ENUM_COPY / FD_MHIST_COPY calls, implemented with
// github.com/prometheus/client_golang the way the rest of the
// Go ecosystem (and the retrieved pack) instruments services.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/firedancer-go/pack/internal/pool"
)

// Metrics bundles every counter/histogram this core exports. It is
// safe to register against any prometheus.Registerer, including a
// scoped one for tests.
type Metrics struct {
	InsertOutcomes       *prometheus.CounterVec
	ScheduleDurationSecs prometheus.Histogram
	InsertDurationSecs   prometheus.Histogram
	DroppedFragments     prometheus.Counter
	MicroblocksPublished *prometheus.CounterVec
	DonePackingEmitted   prometheus.Counter
}

// New constructs and registers the pack core's metrics on reg. Passing
// a fresh prometheus.NewRegistry() (rather than the global
// DefaultRegisterer) is the right choice in tests, per the pattern the
// client_golang docs themselves recommend for isolated test registries.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		InsertOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pack",
			Name:      "transaction_inserted_total",
			Help:      "Count of Priority Pool Commit outcomes by class.",
		}, []string{"outcome"}),
		ScheduleDurationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pack",
			Name:      "schedule_microblock_duration_seconds",
			Help:      "Wall time spent in ScheduleNext per call.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 12),
		}),
		InsertDurationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pack",
			Name:      "insert_transaction_duration_seconds",
			Help:      "Wall time spent committing a transaction into the pool.",
			Buckets:   prometheus.ExponentialBuckets(1e-7, 4, 12),
		}),
		DroppedFragments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pack",
			Name:      "ingress_dropped_fragments_total",
			Help:      "Count of transaction fragments dropped at parse time.",
		}),
		MicroblocksPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pack",
			Name:      "microblocks_published_total",
			Help:      "Count of microblocks published, by bank index.",
		}, []string{"bank"}),
		DonePackingEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pack",
			Name:      "done_packing_emitted_total",
			Help:      "Count of DonePacking control fragments emitted.",
		}),
	}

	reg.MustRegister(
		m.InsertOutcomes,
		m.ScheduleDurationSecs,
		m.InsertDurationSecs,
		m.DroppedFragments,
		m.MicroblocksPublished,
		m.DonePackingEmitted,
	)
	return m
}

// ObserveInsert records one Commit outcome by its named class.
func (m *Metrics) ObserveInsert(o pool.Outcome) {
	m.InsertOutcomes.WithLabelValues(o.String()).Inc()
}
