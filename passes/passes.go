// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package passes runs graph transformations (passes) over operator graphs.
//
// A NodePass is applied to every node reachable from the graph results, in the deterministic topological order
// given by graph.Graph.TopologicalOrder. The Manager holds the graph exclusively (graph.Graph.Lock) while the
// passes run, and decides what to do with rewrite failures according to its ErrorPolicy.
//
// Passes register themselves by name (see Register), so pipelines can be configured with a YAML file (see Config):
//
//	passes:
//	  - name: opset0_downgrade
//	on_error: skip
package passes

import (
	"maps"
	"slices"
	"sync"

	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/pkg/errors"
)

// NodePass is a transformation applied node by node.
type NodePass interface {
	// Name of the pass, used for logging and metrics.
	Name() string

	// RunOnNode transforms the node, usually by replacing it (see graph.Graph.Replace).
	// It returns whether the graph was modified.
	//
	// If it fails, it must leave the graph unmodified.
	RunOnNode(node *graph.Node) (modified bool, err error)
}

// Constructor creates a new instance of a registered pass.
type Constructor func() NodePass

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
)

// Register the pass constructor with the given name. It is usually called during the initialization of the
// package implementing the pass.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	registeredConstructors[name] = constructor
}

// New creates an instance of the pass registered with the given name.
func New(name string) (NodePass, error) {
	muRegistry.Lock()
	constructor, found := registeredConstructors[name]
	muRegistry.Unlock()
	if !found {
		return nil, errors.Errorf("unknown pass %q, registered passes are %q -- maybe the package of the pass "+
			"was not imported?", name, Registered())
	}
	return constructor(), nil
}

// Registered returns the sorted names of the registered passes.
func Registered() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	return slices.Sorted(maps.Keys(registeredConstructors))
}
