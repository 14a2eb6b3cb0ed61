// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package opset0 defines the constructors of the version 0 operators, and of the version-agnostic operators
// (Parameter and Constant excepted, see package graph), along with their shape inference.
//
// Each constructor creates the node in the graph of its inputs, and returns an error if the inputs or
// attributes are not valid for the operator: a node that was constructed is always evaluable.
package opset0

import (
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/shapeinference"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
)

// BinaryAttrs are the attributes of the elementwise binary operators (arithmetic and logical) of all versions.
type BinaryAttrs struct {
	AutoBroadcast graph.AutoBroadcastSpec
}

// single adapts a single shape result to the ShapeInferenceFn results.
func single(shape shapes.Shape, err error) ([]shapes.Shape, error) {
	if err != nil {
		return nil, err
	}
	return []shapes.Shape{shape}, nil
}

// InferArithmetic is the shape inference of the binary arithmetic operators.
func InferArithmetic(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(BinaryAttrs)
	return single(shapeinference.ArithmeticOp(node.Input(0).Shape(), node.Input(1).Shape(), attrs.AutoBroadcast))
}

// InferLogical is the shape inference of the binary logical operators.
func InferLogical(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(BinaryAttrs)
	return single(shapeinference.LogicalOp(node.Input(0).Shape(), node.Input(1).Shape(), attrs.AutoBroadcast))
}

// InferNot is the shape inference of the logical negation.
func InferNot(node *graph.Node) ([]shapes.Shape, error) {
	return single(shapeinference.UnaryLogicalOp(node.Input(0).Shape()))
}

func init() {
	for _, opType := range []opsets.OpType{opsets.OpTypeAdd, opsets.OpTypeSubtract, opsets.OpTypeMultiply,
		opsets.OpTypeDivide, opsets.OpTypeMaximum, opsets.OpTypeMinimum} {
		graph.RegisterShapeInference(opType, InferArithmetic)
	}
	for _, opType := range []opsets.OpType{opsets.OpTypeAnd, opsets.OpTypeOr, opsets.OpTypeXor} {
		graph.RegisterShapeInference(opType, InferLogical)
	}
	graph.RegisterShapeInference(opsets.OpTypeNot, InferNot)
}

// Binary creates a binary elementwise node of the given type. It is used by the constructors below and by the
// opset1 package.
func Binary(opType opsets.OpType, a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opType, BinaryAttrs{AutoBroadcast: autoBroadcast}, a, b)
}

// Add returns a + b.
func Add(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return Binary(opsets.OpTypeAdd, a, b, autoBroadcast)
}

// Subtract returns a - b.
func Subtract(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return Binary(opsets.OpTypeSubtract, a, b, autoBroadcast)
}

// Multiply returns a * b.
func Multiply(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return Binary(opsets.OpTypeMultiply, a, b, autoBroadcast)
}

// Divide returns a / b. Integer division rounds towards negative infinity.
func Divide(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return Binary(opsets.OpTypeDivide, a, b, autoBroadcast)
}

// Maximum returns max(a, b) elementwise.
func Maximum(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return Binary(opsets.OpTypeMaximum, a, b, autoBroadcast)
}

// Minimum returns min(a, b) elementwise.
func Minimum(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return Binary(opsets.OpTypeMinimum, a, b, autoBroadcast)
}

// And returns the logical and of two boolean operands.
func And(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return Binary(opsets.OpTypeAnd, a, b, autoBroadcast)
}

// Or returns the logical or of two boolean operands.
func Or(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return Binary(opsets.OpTypeOr, a, b, autoBroadcast)
}

// Xor returns the logical exclusive or of two boolean operands.
func Xor(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return Binary(opsets.OpTypeXor, a, b, autoBroadcast)
}

// Not returns the logical negation of a boolean operand.
func Not(x graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeNot, nil, x)
}
