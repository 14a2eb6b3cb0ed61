// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/support/sets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Replace redirects every edge pointing at an output of old (consumer inputs and graph results) to the
// corresponding output of replacement, and re-infers the shapes of the affected consumers.
//
// outputOrder maps old outputs to replacement outputs: old output #i is replaced by replacement output
// #outputOrder[i]. If empty, the identity order is used, and both nodes must have the same number of outputs.
//
// The replacement outputs must be compatible (same dtype and rank, compatible dimensions) with the outputs
// they replace. If anything fails, the graph is left unmodified.
//
// The old node is left in the arena, but is no longer reachable from the results.
func (g *Graph) Replace(old, replacement *Node, outputOrder ...int) error {
	if old == nil || replacement == nil {
		return errors.New("Replace: nil node")
	}
	if old.graph != g || replacement.graph != g {
		return errors.Errorf("Replace: nodes %s and %s must belong to graph %q", old, replacement, g.name)
	}
	if old == replacement {
		return errors.Errorf("Replace: node %s cannot replace itself", old)
	}
	if len(outputOrder) == 0 {
		outputOrder = make([]int, old.NumOutputs())
		for ii := range outputOrder {
			outputOrder[ii] = ii
		}
	}
	if len(outputOrder) != old.NumOutputs() {
		return errors.Errorf("Replace: output order %v must map all %d outputs of %s", outputOrder, old.NumOutputs(), old)
	}
	for ii, idx := range outputOrder {
		if idx < 0 || idx >= replacement.NumOutputs() {
			return errors.Errorf("Replace: output order %v refers to non-existent output #%d of %s", outputOrder, idx, replacement)
		}
		if !replacement.outputShapes[idx].Compatible(old.outputShapes[ii]) {
			return errors.Errorf("Replace: output #%d of replacement %s has shape %s, incompatible with output #%d of %s with shape %s",
				idx, replacement, replacement.outputShapes[idx], ii, old, old.outputShapes[ii])
		}
	}
	if dependsOn(replacement, old) {
		return errors.Errorf("Replace: replacement %s depends on the replaced node %s, it would create a cycle", replacement, old)
	}

	type edgeEdit struct {
		node     *Node
		inputIdx int
		previous Output
	}
	var edits []edgeEdit
	var touched []*Node
	for _, node := range g.nodes {
		if node == nil || node == old {
			continue
		}
		touchedNode := false
		for ii, input := range node.inputs {
			if input.Node != old {
				continue
			}
			edits = append(edits, edgeEdit{node, ii, input})
			node.inputs[ii] = Output{Node: replacement, Index: outputOrder[input.Index]}
			touchedNode = true
		}
		if touchedNode {
			touched = append(touched, node)
		}
	}
	previousResults := slices.Clone(g.results)
	for ii, result := range g.results {
		if result.Node == old {
			g.results[ii] = Output{Node: replacement, Index: outputOrder[result.Index]}
		}
	}

	// Re-infer consumers, propagating downstream while shapes change.
	previousShapes := make(map[*Node][]shapes.Shape)
	restore := func() {
		for _, edit := range edits {
			edit.node.inputs[edit.inputIdx] = edit.previous
		}
		g.results = previousResults
		for node, outputShapes := range previousShapes {
			node.outputShapes = outputShapes
		}
	}
	queue := touched
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if _, found := previousShapes[node]; !found {
			previousShapes[node] = node.OutputShapes()
		}
		changed, err := node.reinfer()
		if err != nil {
			restore()
			return errors.WithMessagef(err, "Replace(%s, %s)", old, replacement)
		}
		if changed {
			queue = append(queue, g.consumersInArena(node)...)
		}
	}
	klog.V(2).Infof("graph %s: replaced %s by %s (output order %v)", g.Label(), old, replacement, outputOrder)
	return nil
}

// dependsOn returns whether target is an ancestor of (or is) node.
func dependsOn(node, target *Node) bool {
	visited := sets.Make[*Node]()
	var visit func(n *Node) bool
	visit = func(n *Node) bool {
		if n == target {
			return true
		}
		if !visited.InsertNew(n) {
			return false
		}
		for _, input := range n.inputs {
			if visit(input.Node) {
				return true
			}
		}
		return false
	}
	return visit(node)
}

// consumersInArena returns every node in the arena with an input from node, in id order.
func (g *Graph) consumersInArena(node *Node) []*Node {
	var consumers []*Node
	for _, candidate := range g.nodes {
		if candidate == nil {
			continue
		}
		for _, input := range candidate.inputs {
			if input.Node == node {
				consumers = append(consumers, candidate)
				break
			}
		}
	}
	return consumers
}

// Consumers returns the nodes reachable from the graph results that take an input from node, in topological order.
func (g *Graph) Consumers(node *Node) []*Node {
	var consumers []*Node
	for _, candidate := range g.TopologicalOrder() {
		for _, input := range candidate.inputs {
			if input.Node == node {
				consumers = append(consumers, candidate)
				break
			}
		}
	}
	return consumers
}

// TopologicalOrder returns the nodes reachable from the graph results, inputs before consumers.
//
// The order is deterministic: a depth-first traversal from the results in slot order, visiting the inputs of each
// node in order. Parameters not used by any result are appended at the end, in order of creation.
func (g *Graph) TopologicalOrder() []*Node {
	visited := sets.Make[*Node](len(g.nodes))
	order := make([]*Node, 0, len(g.nodes))
	var visit func(node *Node)
	visit = func(node *Node) {
		if !visited.InsertNew(node) {
			return
		}
		for _, input := range node.inputs {
			visit(input.Node)
		}
		order = append(order, node)
	}
	for _, result := range g.results {
		visit(result.Node)
	}
	for _, param := range g.parameters {
		visit(param)
	}
	return order
}
