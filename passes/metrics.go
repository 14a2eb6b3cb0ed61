// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics of the passes run by a Manager.
type Metrics struct {
	// NodesVisited counts the nodes given to a pass, labeled by pass.
	NodesVisited *prometheus.CounterVec

	// NodesRewritten counts the nodes modified by a pass, labeled by pass and operator type.
	NodesRewritten *prometheus.CounterVec

	// Failures counts the nodes a pass failed to rewrite, labeled by pass and operator type.
	Failures *prometheus.CounterVec

	// RunDuration observes the time a pass takes over a whole graph, labeled by pass.
	RunDuration *prometheus.HistogramVec
}

// NewMetrics creates the metrics and registers them with registerer.
// If registerer is nil the metrics are created but not registered.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		NodesVisited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opgraph_pass_nodes_visited_total",
				Help: "Total number of nodes visited by a pass",
			},
			[]string{"pass"},
		),
		NodesRewritten: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opgraph_pass_nodes_rewritten_total",
				Help: "Total number of nodes rewritten by a pass",
			},
			[]string{"pass", "op"},
		),
		Failures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "opgraph_pass_failures_total",
				Help: "Total number of nodes a pass failed to rewrite",
			},
			[]string{"pass", "op"},
		),
		RunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "opgraph_pass_run_duration_seconds",
				Help:    "Duration of a pass over a whole graph in seconds",
				Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 1, 10},
			},
			[]string{"pass"},
		),
	}
}
