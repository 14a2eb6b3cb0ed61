// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ShapeInferenceFn computes the output shapes of a node from its inputs and attributes.
//
// The node passed is fully populated except for its output shapes. Inputs may have dynamic shapes, in which
// case the inferred shapes may be (partially) dynamic as well.
type ShapeInferenceFn func(node *Node) ([]shapes.Shape, error)

var shapeInferenceFns [opsets.OpTypeLast]ShapeInferenceFn

// RegisterShapeInference registers the shape inference function of an operator.
// It should be called during package initialization by the package that defines the operator.
func RegisterShapeInference(opType opsets.OpType, fn ShapeInferenceFn) {
	if !opType.IsValid() {
		exceptions.Panicf("RegisterShapeInference: invalid OpType %d", opType)
	}
	if shapeInferenceFns[opType] != nil {
		exceptions.Panicf("RegisterShapeInference: shape inference for %s registered twice", opType)
	}
	shapeInferenceFns[opType] = fn
}

// HasShapeInference returns whether the operator has a registered shape inference function,
// that is, whether nodes of this type can be constructed.
func HasShapeInference(opType opsets.OpType) bool {
	return opType.IsValid() && shapeInferenceFns[opType] != nil
}

// NewNode creates a node of the given type, attributes and inputs, infers its output shapes and adds it to the graph.
//
// If shape inference fails, the node is not added, and the error is returned. This is the construction-time
// validation of a node: evaluation trusts the shapes inferred here.
func (g *Graph) NewNode(opType opsets.OpType, attrs any, inputs ...Output) (*Node, error) {
	fn := shapeInferenceFns[opType]
	if !opType.IsValid() || fn == nil {
		return nil, errors.Errorf("no shape inference registered for operator %s", opType)
	}
	for ii, input := range inputs {
		if err := g.checkOwned(input); err != nil {
			return nil, errors.WithMessagef(err, "creating %s, input #%d", opType, ii)
		}
	}
	node := &Node{
		graph:  g,
		id:     NodeId(len(g.nodes)),
		opType: opType,
		inputs: append([]Output(nil), inputs...),
		attrs:  attrs,
	}
	var outputShapes []shapes.Shape
	var err error
	if panicErr := exceptions.TryCatch[error](func() { outputShapes, err = fn(node) }); panicErr != nil {
		err = panicErr
	}
	if err != nil {
		return nil, errors.WithMessagef(err, "shape inference for %s", opType)
	}
	if len(outputShapes) == 0 {
		return nil, errors.Errorf("shape inference for %s returned no outputs", opType)
	}
	node.outputShapes = outputShapes
	g.registerNode(node)
	return node, nil
}

// reinfer runs shape inference again for node, after one of its inputs was redirected.
// It returns whether any output shape changed.
//
// The new shapes must be compatible with the previous ones.
func (n *Node) reinfer() (changed bool, err error) {
	outputShapes, err := shapeInferenceFns[n.opType](n)
	if err != nil {
		return false, errors.WithMessagef(err, "re-inferring shapes of %s", n)
	}
	if len(outputShapes) != len(n.outputShapes) {
		return false, errors.Errorf("re-inferring shapes of %s changed the number of outputs from %d to %d",
			n, len(n.outputShapes), len(outputShapes))
	}
	for ii, shape := range outputShapes {
		if !shape.Compatible(n.outputShapes[ii]) {
			return false, errors.Errorf("re-inferring shapes of %s changed output #%d from %s to incompatible %s",
				n, ii, n.outputShapes[ii], shape)
		}
		if !shape.Equal(n.outputShapes[ii]) {
			changed = true
		}
	}
	n.outputShapes = outputShapes
	return changed, nil
}
