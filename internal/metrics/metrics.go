// Package metrics exposes Prometheus instrumentation for the block,
// blob, and coordinator layers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	BlocksReadTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cryptfs_blocks_read_total",
			Help: "Total number of blocks successfully loaded from the backing store",
		},
	)

	BlocksWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cryptfs_blocks_written_total",
			Help: "Total number of blocks stored or created in the backing store",
		},
	)

	BlockReadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cryptfs_block_read_duration_seconds",
			Help:    "Time taken to load one block from the backing store",
			Buckets: prometheus.DefBuckets,
		},
	)

	IntegrityViolationsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cryptfs_integrity_violations_total",
			Help: "Total number of integrity violations detected (rollback, reintroduction, swap, or corruption)",
		},
	)

	OpenBlobTreeDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cryptfs_open_blob_tree_depth",
			Help: "Tree depth of a currently open blob, by blob id",
		},
		[]string{"blob_id"},
	)

	OpenBlobLeafCount = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cryptfs_open_blob_leaf_count",
			Help: "Leaf count of a currently open blob, by blob id",
		},
		[]string{"blob_id"},
	)

	CoordinatorOpenHandles = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryptfs_coordinator_open_handles_total",
			Help: "Number of distinct blob ids currently held open by the parallel access coordinator",
		},
	)

	KnownBlockVersionsTotal = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "cryptfs_known_block_versions_total",
			Help: "Number of (clientId, blockId) version entries currently tracked",
		},
	)
)

func init() {
	prometheus.MustRegister(BlocksReadTotal)
	prometheus.MustRegister(BlocksWrittenTotal)
	prometheus.MustRegister(BlockReadDuration)
	prometheus.MustRegister(IntegrityViolationsTotal)
	prometheus.MustRegister(OpenBlobTreeDepth)
	prometheus.MustRegister(OpenBlobLeafCount)
	prometheus.MustRegister(CoordinatorOpenHandles)
	prometheus.MustRegister(KnownBlockVersionsTotal)
}

// Handler returns the Prometheus scrape HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer measures an operation's duration for a histogram.
type Timer struct {
	start time.Time
}

func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}
