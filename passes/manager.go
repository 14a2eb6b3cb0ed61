// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"slices"
	"time"

	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Manager runs a sequence of node passes over graphs.
//
// Configure it with the With* methods before using it; after that it can be used concurrently on different graphs.
type Manager struct {
	passes     []NodePass
	policy     ErrorPolicy
	metrics    *Metrics
	provenance *bool
}

// NewManager returns a Manager that runs the given passes in order, with the AbortOnError policy and
// unregistered metrics.
func NewManager(passes ...NodePass) *Manager {
	return &Manager{
		passes:  slices.Clone(passes),
		policy:  AbortOnError,
		metrics: NewMetrics(nil),
	}
}

// NewManagerFromConfig creates the registered passes listed in the configuration.
func NewManagerFromConfig(cfg *Config) (*Manager, error) {
	m := NewManager()
	for _, passCfg := range cfg.Passes {
		pass, err := New(passCfg.Name)
		if err != nil {
			return nil, err
		}
		m.passes = append(m.passes, pass)
	}
	if cfg.OnError != "" {
		m.WithPolicy(cfg.OnError)
	}
	if cfg.Provenance != nil {
		m.WithProvenance(*cfg.Provenance)
	}
	return m, nil
}

// WithPolicy sets what to do when a pass fails to rewrite a node. It returns the Manager itself.
func (m *Manager) WithPolicy(policy ErrorPolicy) *Manager {
	m.policy = policy
	return m
}

// WithMetrics sets the metrics updated by the Manager. It returns the Manager itself.
func (m *Manager) WithMetrics(metrics *Metrics) *Manager {
	m.metrics = metrics
	return m
}

// WithProvenance makes Run enable (or disable) provenance tags on the graphs it transforms.
// By default the graph setting is left as is. It returns the Manager itself.
func (m *Manager) WithProvenance(enabled bool) *Manager {
	m.provenance = &enabled
	return m
}

// Passes returns the passes run by the Manager, in order.
func (m *Manager) Passes() []NodePass { return slices.Clone(m.passes) }

// Policy returns the current error policy.
func (m *Manager) Policy() ErrorPolicy { return m.policy }

// Run every pass over the nodes of the graph reachable from its results, and returns whether anything changed.
//
// The nodes are visited in topological order, taken before each pass starts. Nodes detached by an earlier
// replacement in the same pass are not visited, and nodes created by the pass are only visited by the following
// passes.
//
// It holds the graph lock for the duration of the run.
func (m *Manager) Run(g *graph.Graph) (modified bool, err error) {
	g.Lock()
	defer g.Unlock()
	if m.provenance != nil {
		g.SetProvenanceEnabled(*m.provenance)
	}
	for _, pass := range m.passes {
		passModified, err := m.runPass(g, pass)
		modified = modified || passModified
		if err != nil {
			return modified, err
		}
	}
	return modified, nil
}

func (m *Manager) runPass(g *graph.Graph, pass NodePass) (modified bool, err error) {
	name := pass.Name()
	start := time.Now()
	defer func() {
		m.metrics.RunDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	order := g.TopologicalOrder()
	reachable := sets.MakeWith(order...)
	for _, node := range order {
		if !reachable.Has(node) {
			continue
		}
		opName := node.Type().String()
		m.metrics.NodesVisited.WithLabelValues(name).Inc()
		if klog.V(2).Enabled() {
			klog.Infof("pass %s on graph %s: visiting %s", name, g.Label(), node)
		}
		changed, err := pass.RunOnNode(node)
		if err != nil {
			m.metrics.Failures.WithLabelValues(name, opName).Inc()
			if m.policy == SkipOnError {
				klog.Warningf("pass %s on graph %s: node %s left unchanged: %v", name, g.Label(), node, err)
				continue
			}
			return modified, errors.WithMessagef(err, "pass %s on graph %q", name, g.Name())
		}
		if changed {
			modified = true
			m.metrics.NodesRewritten.WithLabelValues(name, opName).Inc()
			reachable = sets.MakeWith(g.TopologicalOrder()...)
		}
	}
	klog.V(1).Infof("pass %s on graph %s: modified=%v in %s", name, g.Label(), modified, time.Since(start))
	return modified, nil
}
