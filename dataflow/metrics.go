package dataflow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	linesRead      prometheus.Counter
	tuplesDropped  *prometheus.CounterVec
	tuplesShuffled *prometheus.CounterVec
	spills         *prometheus.CounterVec
	groups         *prometheus.CounterVec
	tuplesWritten  *prometheus.CounterVec
}

// NewMetrics registers the flow metrics with reg. A nil reg leaves them
// unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		linesRead: f.NewCounter(prometheus.CounterOpts{
			Namespace: "logindexer",
			Subsystem: "dataflow",
			Name:      "source_tuples_total",
			Help:      "Tuples read from flow sources.",
		}),
		tuplesDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logindexer",
			Subsystem: "dataflow",
			Name:      "dropped_tuples_total",
			Help:      "Tuples skipped by Each pipes.",
		}, []string{"pipe"}),
		tuplesShuffled: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logindexer",
			Subsystem: "dataflow",
			Name:      "shuffled_tuples_total",
			Help:      "Tuples routed through GroupBy shuffles.",
		}, []string{"group"}),
		spills: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logindexer",
			Subsystem: "dataflow",
			Name:      "spills_total",
			Help:      "Sorted runs spilled to disk.",
		}, []string{"group"}),
		groups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logindexer",
			Subsystem: "dataflow",
			Name:      "groups_total",
			Help:      "Distinct groups reduced.",
		}, []string{"group"}),
		tuplesWritten: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logindexer",
			Subsystem: "dataflow",
			Name:      "sink_tuples_total",
			Help:      "Tuples written to sinks.",
		}, []string{"sink"}),
	}
}
