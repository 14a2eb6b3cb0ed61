// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opset1

import (
	"slices"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/graph/shapeinference"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// StridedSliceAttrs hold the masks of StridedSlice, one entry per begin/end/strides position, where 1 means set.
type StridedSliceAttrs struct {
	// BeginMask positions ignore the begin value, and slice from the start (or the end, for negative strides).
	BeginMask []int64

	// EndMask positions ignore the end value.
	EndMask []int64

	NewAxisMask    []int64
	ShrinkAxisMask []int64
	EllipsisMask   []int64
}

// Masks converts the attributes to axis sets.
func (a StridedSliceAttrs) Masks() graph.StridedSliceMasks {
	return graph.StridedSliceMasks{
		LowerBounds: graph.MaskToAxisSet(a.BeginMask),
		UpperBounds: graph.MaskToAxisSet(a.EndMask),
		NewAxis:     graph.MaskToAxisSet(a.NewAxisMask),
		ShrinkAxis:  graph.MaskToAxisSet(a.ShrinkAxisMask),
		Ellipsis:    graph.MaskToAxisSet(a.EllipsisMask),
	}
}

// SplitAttrs of the version 1 Split.
type SplitAttrs struct {
	NumSplits int
}

// TopKAttrs of the version 1 TopK, with the axis normalized.
type TopKAttrs struct {
	Axis             int
	Mode             graph.TopKMode
	Sort             graph.TopKSort
	IndexElementType dtypes.DType
}

func init() {
	graph.RegisterShapeInference(opsets.OpTypeStridedSliceV1, inferStridedSlice)
	graph.RegisterShapeInference(opsets.OpTypeSplitV1, inferSplit)
	graph.RegisterShapeInference(opsets.OpTypeVariadicSplitV1, inferVariadicSplit)
	graph.RegisterShapeInference(opsets.OpTypeTopKV1, inferTopK)
	graph.RegisterShapeInference(opsets.OpTypeTransposeV1, inferTranspose)
}

// SlicePlan returns the slice plan of a StridedSlice node: its data must have a static shape, and its
// begin, end and strides inputs must be constants.
func SlicePlan(node *graph.Node) (graph.SlicePlan, error) {
	data := node.Input(0).Shape()
	if !data.IsStatic() {
		return graph.SlicePlan{}, errors.Errorf("StridedSlice data shape %s is not static", data)
	}
	begins, okBegin := graph.ConstantAsInt64s(node.Input(1))
	ends, okEnd := graph.ConstantAsInt64s(node.Input(2))
	strides, okStrides := graph.ConstantAsInt64s(node.Input(3))
	if !okBegin || !okEnd || !okStrides {
		return graph.SlicePlan{}, errors.New("StridedSlice begin, end and strides must be constants")
	}
	return graph.MakeSlicePlan(data.Dimensions, begins, ends, strides, node.Attrs().(StridedSliceAttrs).Masks())
}

func inferStridedSlice(node *graph.Node) ([]shapes.Shape, error) {
	data := node.Input(0).Shape()
	numPositions, err := vectorLength(node.Input(1), "StridedSlice begin")
	if err != nil {
		return nil, err
	}
	for ii, what := range []string{"end", "strides"} {
		length, err := vectorLength(node.Input(2+ii), "StridedSlice "+what)
		if err != nil {
			return nil, err
		}
		if length != numPositions {
			return nil, errors.Errorf("StridedSlice %s has length %d, but begin has length %d", what, length, numPositions)
		}
	}
	masks := node.Attrs().(StridedSliceAttrs).Masks()
	if strides, ok := graph.ConstantAsInt64s(node.Input(3)); ok && slices.Contains(strides, 0) {
		return nil, errors.Errorf("StridedSlice strides %v cannot have zeros", strides)
	}
	if data.IsStatic() && graph.IsConstant(node.Input(1)) && graph.IsConstant(node.Input(2)) && graph.IsConstant(node.Input(3)) {
		plan, err := SlicePlan(node)
		if err != nil {
			return nil, err
		}
		return []shapes.Shape{{DType: data.DType, Dimensions: plan.ReshapeOut}}, nil
	}

	// Only the rank is known.
	numReal, numNew, numShrink := 0, 0, 0
	for ii := range numPositions {
		switch {
		case masks.Ellipsis.Contains(ii):
		case masks.NewAxis.Contains(ii):
			numNew++
		default:
			numReal++
			if masks.ShrinkAxis.Contains(ii) {
				numShrink++
			}
		}
	}
	if numReal > data.Rank() {
		return nil, errors.Errorf("StridedSlice has %d real axes, more than the rank of %s", numReal, data)
	}
	return []shapes.Shape{unknownDims(data.DType, data.Rank()+numNew-numShrink)}, nil
}

// StridedSlice slices x with the begin, end and strides 1D integer inputs, interpreted per the masks.
// Negative indices count from the end of the axis, and negative strides slice backwards.
func StridedSlice(x, begin, end, strides graph.Output, attrs StridedSliceAttrs) (*graph.Node, error) {
	attrs = StridedSliceAttrs{
		BeginMask:      slices.Clone(attrs.BeginMask),
		EndMask:        slices.Clone(attrs.EndMask),
		NewAxisMask:    slices.Clone(attrs.NewAxisMask),
		ShrinkAxisMask: slices.Clone(attrs.ShrinkAxisMask),
		EllipsisMask:   slices.Clone(attrs.EllipsisMask),
	}
	return graph.NewNodeFromInputs(opsets.OpTypeStridedSliceV1, attrs, x, begin, end, strides)
}

// splitAxis returns the normalized axis (input #1) of a split node, and whether it is a constant.
func splitAxis(node *graph.Node) (axis int, isConstant bool, err error) {
	if length, err := vectorLength(node.Input(1), "split axis"); err != nil || length != 1 {
		return 0, false, errors.Errorf("split axis must be an integer scalar, got %s", node.Input(1).Shape())
	}
	if !graph.IsConstant(node.Input(1)) {
		return 0, false, nil
	}
	axis, err = opset0.SplitAxis(node)
	return axis, true, err
}

func inferSplit(node *graph.Node) ([]shapes.Shape, error) {
	data := node.Input(0).Shape()
	numSplits := node.Attrs().(SplitAttrs).NumSplits
	axis, isConstant, err := splitAxis(node)
	if err != nil {
		return nil, err
	}
	if !isConstant {
		if numSplits <= 0 {
			return nil, errors.Errorf("number of splits must be positive, got %d", numSplits)
		}
		outputs := make([]shapes.Shape, numSplits)
		for ii := range outputs {
			outputs[ii] = unknownDims(data.DType, data.Rank())
		}
		return outputs, nil
	}
	lengths, err := opset0.EqualSplitLengths(data.Dimensions[axis], numSplits)
	if err != nil {
		return nil, err
	}
	return shapeinference.SplitOp(data, axis, lengths)
}

// Split x along the scalar axis input in numSplits equal parts.
func Split(x, axis graph.Output, numSplits int) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeSplitV1, SplitAttrs{NumSplits: numSplits}, x, axis)
}

// VariadicSplitLengths returns the resolved split lengths of a VariadicSplit node, whose axis and lengths
// must be constants. A -1 length takes the remainder of the axis, and is unknown if the axis dimension is.
func VariadicSplitLengths(node *graph.Node) (axis int, lengths []int, err error) {
	axis, isConstant, err := splitAxis(node)
	if err != nil {
		return 0, nil, err
	}
	lengths, ok := graph.ConstantAsInts(node.Input(2))
	if !isConstant || !ok {
		return 0, nil, errors.New("VariadicSplit axis and split lengths must be constants")
	}
	dim := node.Input(0).Shape().Dimensions[axis]
	remainderAxis, total := -1, 0
	for ii, length := range lengths {
		switch {
		case length == -1:
			if remainderAxis >= 0 {
				return 0, nil, errors.Errorf("VariadicSplit lengths %v can have at most one -1", lengths)
			}
			remainderAxis = ii
		case length < 0:
			return 0, nil, errors.Errorf("invalid VariadicSplit lengths %v", lengths)
		default:
			total += length
		}
	}
	if remainderAxis >= 0 && dim != shapes.UnknownDim {
		if total > dim {
			return 0, nil, errors.Errorf("VariadicSplit lengths %v exceed the dimension %d", lengths, dim)
		}
		lengths[remainderAxis] = dim - total
	}
	return axis, lengths, nil
}

func inferVariadicSplit(node *graph.Node) ([]shapes.Shape, error) {
	data := node.Input(0).Shape()
	numOutputs, err := vectorLength(node.Input(2), "split lengths")
	if err != nil {
		return nil, err
	}
	if graph.IsConstant(node.Input(1)) && graph.IsConstant(node.Input(2)) {
		axis, lengths, err := VariadicSplitLengths(node)
		if err != nil {
			return nil, err
		}
		return shapeinference.SplitOp(data, axis, lengths)
	}
	if _, _, err := splitAxis(node); err != nil {
		return nil, err
	}
	outputs := make([]shapes.Shape, numOutputs)
	for ii := range outputs {
		outputs[ii] = unknownDims(data.DType, data.Rank())
	}
	return outputs, nil
}

// VariadicSplit x along the scalar axis input in parts of the given lengths (a 1D integer input, where one
// entry may be -1 for the remainder).
func VariadicSplit(x, axis, lengths graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeVariadicSplitV1, nil, x, axis, lengths)
}

func inferTopK(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(TopKAttrs)
	k, err := opset0.TopKValue(node)
	if err != nil {
		return nil, err
	}
	values, indices, err := shapeinference.TopKOp(node.Input(0).Shape(), k, attrs.Axis, attrs.IndexElementType)
	if err != nil {
		return nil, err
	}
	return []shapes.Shape{values, indices}, nil
}

// TopK selects the k largest (graph.TopKMax) or smallest elements of x along axis.
// Its outputs are, in order, the values and the indices.
func TopK(x, k graph.Output, axis int, mode graph.TopKMode, sort graph.TopKSort, indexElementType dtypes.DType) (*graph.Node, error) {
	if !x.IsValid() {
		return nil, errors.New("TopK: invalid input")
	}
	normalized, err := graph.NormalizeAxis(int64(axis), x.Shape().Rank())
	if err != nil {
		return nil, errors.WithMessage(err, "TopK")
	}
	attrs := TopKAttrs{Axis: normalized, Mode: mode, Sort: sort, IndexElementType: indexElementType}
	return graph.NewNodeFromInputs(opsets.OpTypeTopKV1, attrs, x, k)
}

// TransposeOrder returns the permutation of a Transpose node, whose order input must be a constant.
// An empty order reverses the axes.
func TransposeOrder(node *graph.Node) ([]int, error) {
	order, ok := graph.ConstantAsInts(node.Input(1))
	if !ok {
		return nil, errors.New("Transpose order is not a constant")
	}
	rank := node.Input(0).Shape().Rank()
	if len(order) == 0 {
		return shapeinference.ReversedAxes(rank), nil
	}
	if err := shapeinference.CheckPermutation(order, rank); err != nil {
		return nil, err
	}
	return order, nil
}

func inferTranspose(node *graph.Node) ([]shapes.Shape, error) {
	data := node.Input(0).Shape()
	orderShape := node.Input(1).Shape()
	if !orderShape.DType.IsInt() || orderShape.Rank() != 1 {
		return nil, errors.Errorf("Transpose order must be a 1D integer tensor, got %s", orderShape)
	}
	if !graph.IsConstant(node.Input(1)) {
		return []shapes.Shape{unknownDims(data.DType, data.Rank())}, nil
	}
	order, err := TransposeOrder(node)
	if err != nil {
		return nil, err
	}
	return single(shapeinference.TransposeOp(data, order))
}

// Transpose permutes the axes of x: output axis i is the input axis order[i]. An empty order reverses the axes.
func Transpose(x, order graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeTransposeV1, nil, x, order)
}
