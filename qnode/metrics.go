package qnode

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	deployments *prometheus.CounterVec
	queries     *prometheus.CounterVec
	tablespaces prometheus.Gauge
	connections prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		deployments: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logindexer",
			Subsystem: "qnode",
			Name:      "deployments_total",
			Help:      "Tablespace deployments by outcome.",
		}, []string{"status"}),
		queries: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "logindexer",
			Subsystem: "qnode",
			Name:      "queries_total",
			Help:      "SQL queries by outcome.",
		}, []string{"status"}),
		tablespaces: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "logindexer",
			Subsystem: "qnode",
			Name:      "tablespaces",
			Help:      "Tablespaces currently served.",
		}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "logindexer",
			Subsystem: "qnode",
			Name:      "sql_connections",
			Help:      "Open SQL connections.",
		}),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
