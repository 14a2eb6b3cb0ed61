// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Node is one operator instance in the Graph.
//
// Its type-identity (opType), inputs and attributes are fixed at construction. Its output shapes are
// inferred at construction, and re-inferred when an upstream node is replaced.
type Node struct {
	graph *Graph
	id    NodeId

	opType       opsets.OpType
	inputs       []Output
	outputShapes []shapes.Shape

	// attrs hold the operator-specific attributes: a value type defined by the opsetN package of the operator.
	attrs any

	name       string
	provenance []string
}

// Output references one output port of a Node.
type Output struct {
	Node  *Node
	Index int
}

// Shape of the referenced output.
func (o Output) Shape() shapes.Shape {
	return o.Node.outputShapes[o.Index]
}

// DType of the referenced output.
func (o Output) DType() dtypes.DType {
	return o.Shape().DType
}

// IsValid returns whether the Output references a node. The zero Output is used for omitted optional inputs.
func (o Output) IsValid() bool { return o.Node != nil }

// String implements fmt.Stringer.
func (o Output) String() string {
	if o.Node == nil {
		return "<nil>"
	}
	return fmt.Sprintf("#%d:%d", o.Node.id, o.Index)
}

// GraphOf returns the Graph of the first valid output. Node constructors use it to find the graph
// where to create the new node; Graph.NewNode then checks that all inputs belong to it.
func GraphOf(outputs ...Output) (*Graph, error) {
	for _, out := range outputs {
		if out.Node != nil {
			if out.Node.graph == nil {
				return nil, errors.Errorf("node %s was discarded from its graph", out.Node)
			}
			return out.Node.graph, nil
		}
	}
	return nil, errors.New("no valid input to derive the graph from")
}

// NewNodeFromInputs creates a node in the graph of its inputs. See Graph.NewNode.
//
// Trailing invalid (zero) inputs are optional inputs that were omitted, and are dropped. An invalid input
// followed by a valid one is an error.
func NewNodeFromInputs(opType opsets.OpType, attrs any, inputs ...Output) (*Node, error) {
	g, err := GraphOf(inputs...)
	if err != nil {
		return nil, errors.WithMessagef(err, "creating %s", opType)
	}
	numValid := len(inputs)
	for numValid > 0 && !inputs[numValid-1].IsValid() {
		numValid--
	}
	for ii, input := range inputs[:numValid] {
		if !input.IsValid() {
			return nil, errors.Errorf("creating %s: input #%d is missing", opType, ii)
		}
	}
	return g.NewNode(opType, attrs, inputs[:numValid]...)
}

// Graph that holds this Node. It is nil for nodes discarded by Graph.Rollback.
func (n *Node) Graph() *Graph { return n.graph }

// Id is the unique id of this node within the Graph.
func (n *Node) Id() NodeId { return n.id }

// Type returns the operator type-identity of the node.
func (n *Node) Type() opsets.OpType { return n.opType }

// TypeInfo returns the operator name and version of the node.
func (n *Node) TypeInfo() opsets.TypeInfo { return n.opType.TypeInfo() }

// Attrs returns the operator-specific attributes. Each opsetN package defines the attribute type
// of its operators, and the value should be type-asserted to it.
func (n *Node) Attrs() any { return n.attrs }

// NumInputs of the node.
func (n *Node) NumInputs() int { return len(n.inputs) }

// Input returns the ii-th input of the node.
func (n *Node) Input(ii int) Output {
	if ii < 0 || ii >= len(n.inputs) {
		exceptions.Panicf("Node.Input(%d) out-of-bounds for %s with %d inputs", ii, n, len(n.inputs))
	}
	return n.inputs[ii]
}

// Inputs returns a copy of the node's inputs.
func (n *Node) Inputs() []Output { return slices.Clone(n.inputs) }

// NumOutputs of the node.
func (n *Node) NumOutputs() int { return len(n.outputShapes) }

// Output returns a reference to the ii-th output of the node.
func (n *Node) Output(ii int) Output {
	if ii < 0 || ii >= len(n.outputShapes) {
		exceptions.Panicf("Node.Output(%d) out-of-bounds for %s with %d outputs", ii, n, len(n.outputShapes))
	}
	return Output{Node: n, Index: ii}
}

// Outputs returns references to all outputs of the node, in order.
func (n *Node) Outputs() []Output {
	outputs := make([]Output, len(n.outputShapes))
	for ii := range outputs {
		outputs[ii] = Output{Node: n, Index: ii}
	}
	return outputs
}

// OutputShape returns the inferred shape of the ii-th output.
func (n *Node) OutputShape(ii int) shapes.Shape { return n.Output(ii).Shape() }

// OutputShapes returns a copy of the inferred shapes of all outputs.
func (n *Node) OutputShapes() []shapes.Shape { return slices.Clone(n.outputShapes) }

// Shape of the first output.
func (n *Node) Shape() shapes.Shape { return n.OutputShape(0) }

// ElementType is the element type of the first output.
func (n *Node) ElementType() dtypes.DType { return n.OutputShape(0).DType }

// Name returns the friendly name of the node. If not set, it is generated from the operator name and id.
func (n *Node) Name() string {
	if n.name != "" {
		return n.name
	}
	return fmt.Sprintf("%s_%d", n.opType.Name(), n.id)
}

// SetName sets the friendly name of the node.
func (n *Node) SetName(name string) { n.name = name }

// ProvenanceTags returns the provenance tags attached to the node.
func (n *Node) ProvenanceTags() []string { return slices.Clone(n.provenance) }

// AddProvenanceTag attaches a tag to the node, if not yet present.
func (n *Node) AddProvenanceTag(tag string) {
	if !slices.Contains(n.provenance, tag) {
		n.provenance = append(n.provenance, tag)
	}
}

// String implements fmt.Stringer, with the node id, type, friendly name, inputs and output shapes.
func (n *Node) String() string {
	if n == nil {
		return "Node(nil)"
	}
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "#%d %s %q(", n.id, n.opType, n.Name())
	for ii, input := range n.inputs {
		if ii > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(input.String())
	}
	sb.WriteString(") -> ")
	if len(n.outputShapes) == 1 {
		sb.WriteString(n.outputShapes[0].String())
	} else {
		parts := make([]string, len(n.outputShapes))
		for ii, shape := range n.outputShapes {
			parts[ii] = shape.String()
		}
		_, _ = fmt.Fprintf(&sb, "(%s)", strings.Join(parts, ", "))
	}
	return sb.String()
}
