// Package metrics exposes Prometheus collectors for identity resolution.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Merge outcome label values.
const (
	OutcomeMerged   = "merged"
	OutcomeBlocked  = "blocked"
	OutcomeNotFound = "not_found"
	OutcomeNoop     = "noop"
)

var (
	MergesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rhodesli",
			Name:      "merges_total",
			Help:      "Total merge attempts by outcome",
		},
		[]string{"outcome"},
	)

	MergeBlocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "rhodesli",
			Name:      "merge_blocks_total",
			Help:      "Merge validations that blocked a merge, by caller and reason",
		},
		[]string{"caller", "reason"},
	)

	RejectionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "rhodesli",
			Name:      "rejections_total",
			Help:      "Total identity pair rejections recorded",
		},
	)

	NeighborSearchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rhodesli",
			Name:      "neighbor_search_duration_seconds",
			Help:      "Nearest neighbor search duration in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	NeighborCandidates = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "rhodesli",
			Name:      "neighbor_candidates",
			Help:      "Number of scored candidates per neighbor search",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
)

var registerOnce sync.Once

// Register registers all collectors with the default registry. Safe to call
// more than once and from several goroutines.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			MergesTotal,
			MergeBlocksTotal,
			RejectionsTotal,
			NeighborSearchDuration,
			NeighborCandidates,
		)
	})
}
