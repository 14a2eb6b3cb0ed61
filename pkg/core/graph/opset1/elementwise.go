// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package opset1 defines the constructors of the version 1 operators and their shape inference.
//
// Differently from version 0, many of the version 1 operators take as inputs what used to be attributes
// (axes, target shapes, split lengths, k of TopK, ...). These inputs don't need to be constants: when they
// aren't, the inferred output dimensions that depend on them are unknown (shapes.UnknownDim), but the rank
// is always known.
package opset1

import (
	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// BinaryAttrs are shared with the version 0 binary operators; only the default broadcast changes.
type BinaryAttrs = opset0.BinaryAttrs

func single(shape shapes.Shape, err error) ([]shapes.Shape, error) {
	if err != nil {
		return nil, err
	}
	return []shapes.Shape{shape}, nil
}

// unknownDims returns a shape of the given rank with all dimensions unknown.
func unknownDims(dtype dtypes.DType, rank int) shapes.Shape {
	shape := shapes.Shape{DType: dtype, Dimensions: make([]int, rank)}
	for axis := range shape.Dimensions {
		shape.Dimensions[axis] = shapes.UnknownDim
	}
	return shape
}

// vectorLength returns the static number of elements of an integer input used as a list (of axes, dimensions, ...):
// it must be a scalar (length 1) or 1D.
func vectorLength(out graph.Output, what string) (int, error) {
	shape := out.Shape()
	if !shape.DType.IsInt() || shape.Rank() > 1 {
		return 0, errors.Errorf("%s must be an integer scalar or 1D tensor, got %s", what, shape)
	}
	if shape.Rank() == 0 {
		return 1, nil
	}
	if shape.Dimensions[0] == shapes.UnknownDim {
		return 0, errors.Errorf("%s must have a static length, got %s", what, shape)
	}
	return shape.Dimensions[0], nil
}

func init() {
	for _, opType := range []opsets.OpType{opsets.OpTypeAddV1, opsets.OpTypeSubtractV1, opsets.OpTypeMultiplyV1,
		opsets.OpTypeDivideV1, opsets.OpTypeMaximumV1, opsets.OpTypeMinimumV1} {
		graph.RegisterShapeInference(opType, opset0.InferArithmetic)
	}
	for _, opType := range []opsets.OpType{opsets.OpTypeLogicalAndV1, opsets.OpTypeLogicalOrV1, opsets.OpTypeLogicalXorV1} {
		graph.RegisterShapeInference(opType, opset0.InferLogical)
	}
	graph.RegisterShapeInference(opsets.OpTypeLogicalNotV1, opset0.InferNot)
}

// Add returns a + b.
func Add(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return opset0.Binary(opsets.OpTypeAddV1, a, b, autoBroadcast)
}

// Subtract returns a - b.
func Subtract(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return opset0.Binary(opsets.OpTypeSubtractV1, a, b, autoBroadcast)
}

// Multiply returns a * b.
func Multiply(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return opset0.Binary(opsets.OpTypeMultiplyV1, a, b, autoBroadcast)
}

// Divide returns a / b. Integer division rounds towards negative infinity.
func Divide(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return opset0.Binary(opsets.OpTypeDivideV1, a, b, autoBroadcast)
}

// Maximum returns max(a, b) elementwise.
func Maximum(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return opset0.Binary(opsets.OpTypeMaximumV1, a, b, autoBroadcast)
}

// Minimum returns min(a, b) elementwise.
func Minimum(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return opset0.Binary(opsets.OpTypeMinimumV1, a, b, autoBroadcast)
}

// LogicalAnd of two boolean operands.
func LogicalAnd(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return opset0.Binary(opsets.OpTypeLogicalAndV1, a, b, autoBroadcast)
}

// LogicalOr of two boolean operands.
func LogicalOr(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return opset0.Binary(opsets.OpTypeLogicalOrV1, a, b, autoBroadcast)
}

// LogicalXor of two boolean operands.
func LogicalXor(a, b graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return opset0.Binary(opsets.OpTypeLogicalXorV1, a, b, autoBroadcast)
}

// LogicalNot of a boolean operand.
func LogicalNot(x graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeLogicalNotV1, nil, x)
}
