// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package shapeinference calculates the shapes resulting from operators and validates their inputs.
//
// Functions here work on shapes and plain attribute values only: the opsetN packages extract the attributes
// (and compile-time constant inputs) from their nodes and call these.
//
// Unknown dimensions (shapes.UnknownDim) propagate: whenever an output dimension depends on an unknown input
// dimension, it is unknown.
package shapeinference

import (
	"slices"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

const unknown = shapes.UnknownDim

// ArithmeticOp returns the output shape of an elementwise arithmetic operator: both operands must have the same
// numeric (not bool) dtype.
func ArithmeticOp(a, b shapes.Shape, spec graph.AutoBroadcastSpec) (shapes.Shape, error) {
	if a.DType != b.DType {
		return shapes.Invalid(), errors.Errorf("arithmetic operands must have the same dtype, got %s and %s", a, b)
	}
	if a.DType == dtypes.Bool {
		return shapes.Invalid(), errors.Errorf("arithmetic operands cannot be booleans, got %s and %s", a, b)
	}
	return graph.BroadcastShapes(a, b, spec)
}

// LogicalOp returns the output shape of an elementwise logical operator: both operands must be booleans.
func LogicalOp(a, b shapes.Shape, spec graph.AutoBroadcastSpec) (shapes.Shape, error) {
	if a.DType != dtypes.Bool || b.DType != dtypes.Bool {
		return shapes.Invalid(), errors.Errorf("logical operands must be booleans, got %s and %s", a, b)
	}
	return graph.BroadcastShapes(a, b, spec)
}

// UnaryLogicalOp returns the output shape of the logical negation.
func UnaryLogicalOp(operand shapes.Shape) (shapes.Shape, error) {
	if operand.DType != dtypes.Bool {
		return shapes.Invalid(), errors.Errorf("logical operand must be boolean, got %s", operand)
	}
	return operand.Clone(), nil
}

// UnaryFloatOp returns the output shape of activations that require a float operand.
func UnaryFloatOp(operand shapes.Shape) (shapes.Shape, error) {
	if !operand.DType.IsFloat() {
		return shapes.Invalid(), errors.Errorf("operand must be a float, got %s", operand)
	}
	return operand.Clone(), nil
}

// UnaryNumericOp returns the output shape of operators that accept any numeric (not bool) operand.
func UnaryNumericOp(operand shapes.Shape) (shapes.Shape, error) {
	if operand.DType == dtypes.Bool {
		return shapes.Invalid(), errors.Errorf("operand cannot be boolean, got %s", operand)
	}
	return operand.Clone(), nil
}

// ReduceOp returns the output shape of a reduction over the given (normalized) axes.
func ReduceOp(operand shapes.Shape, axes graph.AxisSet, keepDims bool) (shapes.Shape, error) {
	for _, axis := range axes {
		if axis < 0 || axis >= operand.Rank() {
			return shapes.Invalid(), errors.Errorf("reduction axis %d out-of-bounds for shape %s", axis, operand)
		}
	}
	output := shapes.Shape{DType: operand.DType, Dimensions: make([]int, 0, operand.Rank())}
	for axis, dim := range operand.Dimensions {
		if axes.Contains(axis) {
			if keepDims {
				output.Dimensions = append(output.Dimensions, 1)
			}
			continue
		}
		output.Dimensions = append(output.Dimensions, dim)
	}
	return output, nil
}

// ReshapeOp returns the output shape of reshaping operand to dims. If both are static, the sizes must match.
func ReshapeOp(operand shapes.Shape, dims []int) (shapes.Shape, error) {
	output := shapes.Shape{DType: operand.DType, Dimensions: slices.Clone(dims)}
	for _, dim := range dims {
		if dim < 0 && dim != unknown {
			return shapes.Invalid(), errors.Errorf("invalid reshape dimensions %v", dims)
		}
	}
	if operand.IsStatic() && output.IsStatic() && operand.Size() != output.Size() {
		return shapes.Invalid(), errors.Errorf("cannot reshape %s to %v: sizes don't match", operand, dims)
	}
	return output, nil
}

// CheckPermutation validates that perm is a permutation of the axes of a shape with the given rank.
func CheckPermutation(perm []int, rank int) error {
	if len(perm) != rank {
		return errors.Errorf("permutation %v must have one entry per axis (rank %d)", perm, rank)
	}
	seen := make([]bool, rank)
	for _, axis := range perm {
		if axis < 0 || axis >= rank || seen[axis] {
			return errors.Errorf("invalid permutation %v for rank %d", perm, rank)
		}
		seen[axis] = true
	}
	return nil
}

// TransposeOp returns the output shape of permuting the axes of operand: output axis i is operand axis perm[i].
func TransposeOp(operand shapes.Shape, perm []int) (shapes.Shape, error) {
	if err := CheckPermutation(perm, operand.Rank()); err != nil {
		return shapes.Invalid(), err
	}
	output := shapes.Shape{DType: operand.DType, Dimensions: make([]int, len(perm))}
	for ii, axis := range perm {
		output.Dimensions[ii] = operand.Dimensions[axis]
	}
	return output, nil
}

// ReversedAxes returns the permutation that reverses the order of the axes.
func ReversedAxes(rank int) []int {
	perm := make([]int, rank)
	for ii := range perm {
		perm[ii] = rank - 1 - ii
	}
	return perm
}

// BroadcastAxesOp validates a broadcast to outputDims where the operand provides every axis not in broadcastAxes,
// and returns the output shape.
func BroadcastAxesOp(operand shapes.Shape, outputDims []int, broadcastAxes graph.AxisSet) (shapes.Shape, error) {
	for _, axis := range broadcastAxes {
		if axis < 0 || axis >= len(outputDims) {
			return shapes.Invalid(), errors.Errorf("broadcast axis %d out-of-bounds for output dimensions %v", axis, outputDims)
		}
	}
	if operand.Rank()+len(broadcastAxes) != len(outputDims) {
		return shapes.Invalid(), errors.Errorf("broadcast of %s to %v with broadcast axes %v: ranks don't add up",
			operand, outputDims, broadcastAxes)
	}
	operandAxis := 0
	for axis, dim := range outputDims {
		if broadcastAxes.Contains(axis) {
			continue
		}
		operandDim := operand.Dimensions[operandAxis]
		if operandDim != dim && operandDim != unknown && dim != unknown {
			return shapes.Invalid(), errors.Errorf("broadcast of %s to %v with broadcast axes %v: dimension mismatch at output axis %d",
				operand, outputDims, broadcastAxes, axis)
		}
		operandAxis++
	}
	return shapes.Shape{DType: operand.DType, Dimensions: slices.Clone(outputDims)}, nil
}

// GatherOp returns the output shape of gathering slices of params along axis, using indices.
func GatherOp(params, indices shapes.Shape, axis int) (shapes.Shape, error) {
	if !indices.DType.IsInt() {
		return shapes.Invalid(), errors.Errorf("gather indices must be integers, got %s", indices)
	}
	if axis < 0 || axis >= params.Rank() {
		return shapes.Invalid(), errors.Errorf("gather axis %d out-of-bounds for params %s", axis, params)
	}
	dims := make([]int, 0, params.Rank()-1+indices.Rank())
	dims = append(dims, params.Dimensions[:axis]...)
	dims = append(dims, indices.Dimensions...)
	dims = append(dims, params.Dimensions[axis+1:]...)
	return shapes.Shape{DType: params.DType, Dimensions: dims}, nil
}

// OneHotOp returns the output shape of a one-hot encoding of indices, inserting an axis of the given depth
// at axis (already normalized to the output rank).
func OneHotOp(indices shapes.Shape, depth int, axis int, dtype dtypes.DType) (shapes.Shape, error) {
	if axis < 0 || axis > indices.Rank() {
		return shapes.Invalid(), errors.Errorf("one-hot axis %d out-of-bounds for indices %s", axis, indices)
	}
	if depth < 0 && depth != unknown {
		return shapes.Invalid(), errors.Errorf("one-hot depth must be non-negative, got %d", depth)
	}
	dims := make([]int, 0, indices.Rank()+1)
	dims = append(dims, indices.Dimensions[:axis]...)
	dims = append(dims, depth)
	dims = append(dims, indices.Dimensions[axis:]...)
	return shapes.Shape{DType: dtype, Dimensions: dims}, nil
}

// SliceOp returns the output shape of a plain slice, with non-negative begins <= ends and positive strides.
func SliceOp(operand shapes.Shape, begins, ends, strides []int) (shapes.Shape, error) {
	rank := operand.Rank()
	if len(begins) != rank || len(ends) != rank || len(strides) != rank {
		return shapes.Invalid(), errors.Errorf("slice of %s requires one begin, end and stride per axis, got %v, %v, %v",
			operand, begins, ends, strides)
	}
	output := shapes.Shape{DType: operand.DType, Dimensions: make([]int, rank)}
	for axis := range rank {
		begin, end, stride := begins[axis], ends[axis], strides[axis]
		dim := operand.Dimensions[axis]
		if begin < 0 || end < begin || stride <= 0 || (dim != unknown && end > dim) {
			return shapes.Invalid(), errors.Errorf("invalid slice [%d:%d:%d] for axis %d of %s", begin, end, stride, axis, operand)
		}
		output.Dimensions[axis] = graph.SliceOutputDim(begin, end, stride)
	}
	return output, nil
}

// SplitOp returns the output shapes of splitting operand along axis into pieces of the given lengths.
// A length of shapes.UnknownDim yields an unknown dimension.
func SplitOp(operand shapes.Shape, axis int, lengths []int) ([]shapes.Shape, error) {
	if axis < 0 || axis >= operand.Rank() {
		return nil, errors.Errorf("split axis %d out-of-bounds for %s", axis, operand)
	}
	dim := operand.Dimensions[axis]
	total, allKnown := 0, true
	outputs := make([]shapes.Shape, len(lengths))
	for ii, length := range lengths {
		if length == unknown {
			allKnown = false
		} else {
			total += length
		}
		outputs[ii] = operand.Clone()
		outputs[ii].Dimensions[axis] = length
	}
	if allKnown && dim != unknown && total != dim {
		return nil, errors.Errorf("split lengths %v don't add up to the dimension %d of axis %d of %s", lengths, dim, axis, operand)
	}
	return outputs, nil
}

// TopKOp returns the shapes of the values and indices outputs of TopK. A k of 0 selects the whole axis,
// and k is clamped to the dimension of the axis.
func TopKOp(operand shapes.Shape, k int, axis int, indexDType dtypes.DType) (values, indices shapes.Shape, err error) {
	if axis < 0 || axis >= operand.Rank() {
		return shapes.Invalid(), shapes.Invalid(), errors.Errorf("top-k axis %d out-of-bounds for %s", axis, operand)
	}
	if !indexDType.IsIndex() {
		return shapes.Invalid(), shapes.Invalid(), errors.Errorf("top-k index type must be Int32 or Int64, got %s", indexDType)
	}
	dim := operand.Dimensions[axis]
	if k != unknown && dim != unknown {
		if k < 0 {
			return shapes.Invalid(), shapes.Invalid(), errors.Errorf("top-k k must be non-negative, got %d", k)
		}
		if k == 0 {
			k = dim
		}
		k = min(k, dim)
	}
	values = operand.Clone()
	values.Dimensions[axis] = k
	indices = values.WithDType(indexDType)
	return values, indices, nil
}

// PoolOp returns the output shape of a pooling operator over input [N, C, spatial...].
func PoolOp(input shapes.Shape, window graph.WindowConfig) (shapes.Shape, error) {
	if input.Rank() < 3 {
		return shapes.Invalid(), errors.Errorf("pooling input must be [batch, channels, spatial...], got %s", input)
	}
	if err := window.Validate(input.Rank() - 2); err != nil {
		return shapes.Invalid(), err
	}
	spatial, err := window.OutputSpatial(input.Dimensions[2:])
	if err != nil {
		return shapes.Invalid(), errors.WithMessagef(err, "pooling %s", input)
	}
	output := input.Clone()
	copy(output.Dimensions[2:], spatial)
	return output, nil
}

// PadOp returns the output shape of padding operand with padsBegin and padsEnd (negative values crop).
func PadOp(operand shapes.Shape, padsBegin, padsEnd []int) (shapes.Shape, error) {
	if len(padsBegin) != operand.Rank() || len(padsEnd) != operand.Rank() {
		return shapes.Invalid(), errors.Errorf("pads %v and %v must have one entry per axis of %s", padsBegin, padsEnd, operand)
	}
	output := operand.Clone()
	for axis, dim := range operand.Dimensions {
		if dim == unknown {
			continue
		}
		output.Dimensions[axis] = dim + padsBegin[axis] + padsEnd[axis]
		if output.Dimensions[axis] < 0 {
			return shapes.Invalid(), errors.Errorf("pads %v and %v crop axis %d of %s to a negative dimension", padsBegin, padsEnd, axis, operand)
		}
	}
	return output, nil
}
