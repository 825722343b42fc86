// Package metrics exposes prometheus counters/gauges for chain, pool,
// and sync activity, replacing the teacher's clustering-specific metrics
// package (deleted — its anonymity-set/heuristic counters have no
// equivalent here) with the same "one struct of pre-registered
// collectors, passed by reference into the subsystems that increment
// them" shape, grounded on luxfi-consensus and prysmaticlabs-prysm's use
// of prometheus/client_golang.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles every collector the engine registers. Constructed once
// at startup and threaded through chain/pool/sync the same way
// config.ConsensusParams is, rather than relying on package-level
// globals.
type Metrics struct {
	BlocksAccepted   prometheus.Counter
	BlocksRejected   *prometheus.CounterVec
	ReorgDepth       prometheus.Histogram
	HeadHeight       prometheus.Gauge
	PoolSize         *prometheus.GaugeVec
	TxAccepted       *prometheus.CounterVec
	PeerBanned       *prometheus.CounterVec
	SyncStateGauge   *prometheus.GaugeVec
	SegmentsApplied  prometheus.Counter
	SegmentsRejected prometheus.Counter
}

// New builds and registers every collector against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the global
// default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BlocksAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mwnode", Subsystem: "chain", Name: "blocks_accepted_total",
			Help: "Total number of blocks committed to the head.",
		}),
		BlocksRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mwnode", Subsystem: "chain", Name: "blocks_rejected_total",
			Help: "Total number of blocks rejected, labeled by reason.",
		}, []string{"reason"}),
		ReorgDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "mwnode", Subsystem: "chain", Name: "reorg_depth_blocks",
			Help:    "Depth (in blocks) of accepted reorgs.",
			Buckets: prometheus.LinearBuckets(1, 1, 10),
		}),
		HeadHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mwnode", Subsystem: "chain", Name: "head_height",
			Help: "Current canonical head height.",
		}),
		PoolSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mwnode", Subsystem: "pool", Name: "size",
			Help: "Number of entries in the stempool/txpool.",
		}, []string{"queue"}),
		TxAccepted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mwnode", Subsystem: "pool", Name: "tx_accepted_total",
			Help: "Total number of transactions accepted into the pool, labeled by phase.",
		}, []string{"phase"}),
		PeerBanned: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "mwnode", Subsystem: "sync", Name: "peer_banned_total",
			Help: "Total number of peers banned, labeled by reason.",
		}, []string{"reason"}),
		SyncStateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mwnode", Subsystem: "sync", Name: "state",
			Help: "1 for the currently active sync state, 0 otherwise.",
		}, []string{"state"}),
		SegmentsApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mwnode", Subsystem: "pibd", Name: "segments_applied_total",
			Help: "Total number of PIBD segments validated and applied.",
		}),
		SegmentsRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "mwnode", Subsystem: "pibd", Name: "segments_rejected_total",
			Help: "Total number of PIBD segments rejected as invalid.",
		}),
	}

	reg.MustRegister(
		m.BlocksAccepted, m.BlocksRejected, m.ReorgDepth, m.HeadHeight,
		m.PoolSize, m.TxAccepted, m.PeerBanned, m.SyncStateGauge,
		m.SegmentsApplied, m.SegmentsRejected,
	)
	return m
}
