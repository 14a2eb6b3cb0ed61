// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package graph holds the versioned operator-graph IR: a Graph is an arena of Nodes, each with a fixed
// operator type-identity (see package opsets), ordered inputs referencing upstream outputs, one or more typed
// outputs, and immutable operator-specific attributes.
//
// Node constructors for each opset version live in the sub-packages opset0, opset1, opset3 and opset4.
// They register their shape inference functions with RegisterShapeInference, and create nodes with
// Graph.NewNode, which infers the output shapes before adding the node to the graph.
//
// Nodes are addressed by a stable NodeId (their position in the arena), and reference each other by Output
// (node + output index). Replacing a node (see Graph.Replace) redirects every edge pointing at the old node's
// outputs to the replacement outputs, including the graph results, and never mutates nodes through aliased
// pointers.
//
// A Graph is not safe for concurrent mutation: passes take exclusive access with Graph.Lock.
package graph

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// NodeId is the unique id of a Node within a Graph: its index in the arena.
type NodeId int

// Graph is an arena of operator nodes, with declared parameters and an ordered list of results.
type Graph struct {
	mu sync.Mutex

	id   uuid.UUID
	name string

	// nodes include all nodes known to Graph, including nodes no longer reachable from the results.
	nodes []*Node

	parameters []*Node
	results    []Output

	provenanceEnabled bool
}

// New creates an empty Graph with the given name.
func New(name string) *Graph {
	return &Graph{
		id:                uuid.New(),
		name:              name,
		provenanceEnabled: ProvenanceEnabledByDefault(),
	}
}

// ID returns the unique identifier of the graph.
func (g *Graph) ID() uuid.UUID { return g.id }

// Name of the graph.
func (g *Graph) Name() string { return g.name }

// Label identifies the graph in logs: its quoted name and the first 8 hex digits of its ID.
func (g *Graph) Label() string { return fmt.Sprintf("%q#%s", g.name, g.id.String()[:8]) }

// Lock takes exclusive access to the graph, for the duration of a pass.
func (g *Graph) Lock() { g.mu.Lock() }

// Unlock releases the exclusive access taken with Lock.
func (g *Graph) Unlock() { g.mu.Unlock() }

// NumNodes in the arena, reachable or not.
func (g *Graph) NumNodes() int { return len(g.nodes) }

// Nodes returns the arena of nodes, indexed by NodeId. It should not be changed.
func (g *Graph) Nodes() []*Node { return g.nodes }

// NodeById returns the node with the given id, or nil if it doesn't exist.
func (g *Graph) NodeById(id NodeId) *Node {
	if id < 0 || int(id) >= len(g.nodes) {
		return nil
	}
	return g.nodes[id]
}

// Parameters of the graph, in order of creation.
func (g *Graph) Parameters() []*Node { return g.parameters }

// Results of the graph, in slot order.
func (g *Graph) Results() []Output { return g.results }

// SetResults declares the ordered results of the graph.
func (g *Graph) SetResults(results ...Output) error {
	for ii, result := range results {
		if err := g.checkOwned(result); err != nil {
			return errors.WithMessagef(err, "result #%d", ii)
		}
	}
	g.results = append([]Output(nil), results...)
	return nil
}

func (g *Graph) checkOwned(out Output) error {
	if out.Node == nil {
		return errors.New("nil node")
	}
	if out.Node.graph != g {
		return errors.Errorf("node %s doesn't belong to graph %q", out.Node, g.name)
	}
	if out.Index < 0 || out.Index >= out.Node.NumOutputs() {
		return errors.Errorf("output #%d doesn't exist for node %s with %d outputs", out.Index, out.Node, out.Node.NumOutputs())
	}
	return nil
}

// registerNode adds node to the arena, assigning its id.
func (g *Graph) registerNode(node *Node) {
	node.graph = g
	node.id = NodeId(len(g.nodes))
	g.nodes = append(g.nodes, node)
}

// Checkpoint marks the current state of the node arena, so nodes created afterwards can be discarded
// with Rollback.
type Checkpoint struct {
	numNodes      int
	numParameters int
}

// Checkpoint returns the current state of the node arena.
func (g *Graph) Checkpoint() Checkpoint {
	return Checkpoint{numNodes: len(g.nodes), numParameters: len(g.parameters)}
}

// Rollback discards every node created after the checkpoint.
//
// It is only valid if no edges were redirected (see Replace) since the checkpoint: it is used to undo
// a partially built replacement subgraph when a rewrite fails.
func (g *Graph) Rollback(cp Checkpoint) {
	for ii := cp.numNodes; ii < len(g.nodes); ii++ {
		g.nodes[ii].graph = nil
		g.nodes[ii] = nil
	}
	g.nodes = g.nodes[:cp.numNodes]
	g.parameters = g.parameters[:cp.numParameters]
}

// String pretty-prints the reachable nodes of the graph in topological order.
func (g *Graph) String() string {
	var sb strings.Builder
	order := g.TopologicalOrder()
	var memory uint64
	for _, node := range order {
		for _, shape := range node.outputShapes {
			if shape.IsStatic() {
				memory += uint64(shape.Memory())
			}
		}
	}
	_, _ = fmt.Fprintf(&sb, "Graph %q (%s): %d nodes (%d reachable), %s of static outputs\n",
		g.name, g.id, len(g.nodes), len(order), humanize.IBytes(memory))
	for _, node := range order {
		_, _ = fmt.Fprintf(&sb, "\t%s\n", node)
	}
	parts := make([]string, len(g.results))
	for ii, result := range g.results {
		parts[ii] = result.String()
	}
	_, _ = fmt.Fprintf(&sb, "\tresults: [%s]\n", strings.Join(parts, ", "))
	return sb.String()
}

// CountByType returns the number of reachable nodes of each operator type.
func (g *Graph) CountByType() map[opsets.OpType]int {
	counts := make(map[opsets.OpType]int)
	for _, node := range g.TopologicalOrder() {
		counts[node.opType]++
	}
	return counts
}
