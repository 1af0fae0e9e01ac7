// Package metrics exposes the simulator's Prometheus instrumentation: block
// production, event-loop throughput, and propagation-delay distribution.
// These are process-local counters with no requirement on this spec that
// they be scraped; cmd/simblock optionally serves them for operator
// visibility (spec.md's Non-goals scope out chain persistence and real
// networking, not observability of the simulator itself).
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles the metrics a single simulation run updates.
type Registry struct {
	BlocksMined      prometheus.Counter
	EventsProcessed  prometheus.Counter
	EventQueueDepth  prometheus.Gauge
	PropagationDelay prometheus.Histogram
}

// NewRegistry constructs and registers a fresh Registry on reg.
func NewRegistry(reg prometheus.Registerer) *Registry {
	r := &Registry{
		BlocksMined: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simblock_blocks_mined_total",
			Help: "Total number of blocks minted across all nodes.",
		}),
		EventsProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "simblock_events_processed_total",
			Help: "Total number of scheduler events dispatched.",
		}),
		EventQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "simblock_event_queue_depth",
			Help: "Current number of pending events in the scheduler.",
		}),
		PropagationDelay: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "simblock_propagation_ms",
			Help:    "Per-node block propagation delay, in milliseconds.",
			Buckets: prometheus.ExponentialBuckets(10, 2, 12),
		}),
	}
	reg.MustRegister(r.BlocksMined, r.EventsProcessed, r.EventQueueDepth, r.PropagationDelay)
	return r
}
