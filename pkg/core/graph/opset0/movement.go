// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opset0

import (
	"slices"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/shapeinference"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/support/xslices"
	"github.com/pkg/errors"
)

// ReshapeAttrs of the version 0 Reshape: the input is first transposed with InputOrder, and then reshaped
// to OutputShape (static).
type ReshapeAttrs struct {
	InputOrder  []int
	OutputShape []int
}

// BroadcastAttrs of the version 0 Broadcast: the output has dimensions Shape, and the argument provides the
// axes not in BroadcastAxes.
type BroadcastAttrs struct {
	Shape         []int
	BroadcastAxes graph.AxisSet
}

// GatherAttrs of the version 0 Gather, with the axis normalized to the params rank.
type GatherAttrs struct {
	Axis int
}

// OneHotAttrs of the version 0 OneHot: Shape is the output shape, Axis the one-hot axis in it.
type OneHotAttrs struct {
	Shape []int
	Axis  int
}

// ReverseAttrs of the version 0 Reverse.
type ReverseAttrs struct {
	Axes graph.AxisSet
}

// SliceAttrs of the version 0 Slice: non-negative Lower <= Upper bounds and positive strides per axis.
type SliceAttrs struct {
	Lower, Upper, Strides []int
}

// SplitAttrs of the version 0 Split: either NumSplits equal parts, or explicit Lengths.
type SplitAttrs struct {
	NumSplits int
	Lengths   []int
}

// TopKAttrs of the version 0 TopK, with the axis normalized.
type TopKAttrs struct {
	Axis             int
	IndexElementType dtypes.DType
	ComputeMax       bool
	Sort             graph.TopKSort
}

func init() {
	for _, opType := range []opsets.OpType{opsets.OpTypeSum, opsets.OpTypeProduct, opsets.OpTypeMax, opsets.OpTypeMin} {
		graph.RegisterShapeInference(opType, inferReduction)
	}
	graph.RegisterShapeInference(opsets.OpTypeReshape, inferReshape)
	graph.RegisterShapeInference(opsets.OpTypeBroadcast, inferBroadcast)
	graph.RegisterShapeInference(opsets.OpTypeGather, inferGather)
	graph.RegisterShapeInference(opsets.OpTypeOneHot, inferOneHot)
	graph.RegisterShapeInference(opsets.OpTypeReverse, inferReverse)
	graph.RegisterShapeInference(opsets.OpTypeSlice, inferSlice)
	graph.RegisterShapeInference(opsets.OpTypeSplit, inferSplit)
	graph.RegisterShapeInference(opsets.OpTypeTopK, inferTopK)
}

// ReductionAxes returns the normalized reduction axes of a reduction node whose axes (input #1) are constant.
func ReductionAxes(node *graph.Node) (graph.AxisSet, error) {
	axesInput := node.Input(1)
	axes, ok := graph.ConstantAsInt64s(axesInput)
	if !ok {
		return nil, errors.Errorf("reduction axes of %s must be an integer constant", node.Type())
	}
	return graph.NormalizeAxes(axes, node.Input(0).Shape().Rank())
}

func inferReduction(node *graph.Node) ([]shapes.Shape, error) {
	operand := node.Input(0).Shape()
	if operand.DType == dtypes.Bool {
		return nil, errors.Errorf("cannot reduce boolean operand %s", operand)
	}
	axes, err := ReductionAxes(node)
	if err != nil {
		return nil, err
	}
	return single(shapeinference.ReduceOp(operand, axes, false))
}

func reduction(opType opsets.OpType, x, axes graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opType, nil, x, axes)
}

// Sum reduces x over the constant axes, removing them.
func Sum(x, axes graph.Output) (*graph.Node, error) { return reduction(opsets.OpTypeSum, x, axes) }

// Product reduces x over the constant axes with a multiplication, removing them.
func Product(x, axes graph.Output) (*graph.Node, error) {
	return reduction(opsets.OpTypeProduct, x, axes)
}

// Max reduces x over the constant axes, keeping the maximum.
func Max(x, axes graph.Output) (*graph.Node, error) { return reduction(opsets.OpTypeMax, x, axes) }

// Min reduces x over the constant axes, keeping the minimum.
func Min(x, axes graph.Output) (*graph.Node, error) { return reduction(opsets.OpTypeMin, x, axes) }

func inferReshape(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(ReshapeAttrs)
	transposed, err := shapeinference.TransposeOp(node.Input(0).Shape(), attrs.InputOrder)
	if err != nil {
		return nil, err
	}
	for _, dim := range attrs.OutputShape {
		if dim < 0 {
			return nil, errors.Errorf("Reshape output shape %v must be static", attrs.OutputShape)
		}
	}
	return single(shapeinference.ReshapeOp(transposed, attrs.OutputShape))
}

// Reshape transposes x with inputOrder (a permutation of its axes) and then reshapes it to the static outputShape.
func Reshape(x graph.Output, inputOrder, outputShape []int) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeReshape,
		ReshapeAttrs{InputOrder: slices.Clone(inputOrder), OutputShape: slices.Clone(outputShape)}, x)
}

// DefaultOrder returns the identity permutation of the given rank, used as the input order of plain reshapes.
func DefaultOrder(rank int) []int {
	return xslices.Iota(0, rank)
}

func inferBroadcast(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(BroadcastAttrs)
	return single(shapeinference.BroadcastAxesOp(node.Input(0).Shape(), attrs.Shape, attrs.BroadcastAxes))
}

// Broadcast x to the given output shape: x provides the output axes not in broadcastAxes, and is replicated
// along broadcastAxes.
func Broadcast(x graph.Output, shape []int, broadcastAxes graph.AxisSet) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeBroadcast,
		BroadcastAttrs{Shape: slices.Clone(shape), BroadcastAxes: graph.NewAxisSet(broadcastAxes...)}, x)
}

func inferGather(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(GatherAttrs)
	return single(shapeinference.GatherOp(node.Input(0).Shape(), node.Input(1).Shape(), attrs.Axis))
}

// Gather slices of params along axis (possibly negative), selected by indices.
func Gather(params, indices graph.Output, axis int) (*graph.Node, error) {
	if !params.IsValid() {
		return nil, errors.New("Gather: invalid params")
	}
	normalized, err := graph.NormalizeAxis(int64(axis), params.Shape().Rank())
	if err != nil {
		return nil, errors.WithMessage(err, "Gather")
	}
	return graph.NewNodeFromInputs(opsets.OpTypeGather, GatherAttrs{Axis: normalized}, params, indices)
}

func inferOneHot(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(OneHotAttrs)
	indices := node.Input(0).Shape()
	if !indices.DType.IsInt() {
		return nil, errors.Errorf("OneHot indices must be integers, got %s", indices)
	}
	if len(attrs.Shape) != indices.Rank()+1 || attrs.Axis < 0 || attrs.Axis >= len(attrs.Shape) {
		return nil, errors.Errorf("OneHot shape %v and axis %d don't fit indices %s", attrs.Shape, attrs.Axis, indices)
	}
	output, err := shapeinference.OneHotOp(indices, attrs.Shape[attrs.Axis], attrs.Axis, indices.DType)
	if err != nil {
		return nil, err
	}
	expected := shapes.Shape{DType: indices.DType, Dimensions: attrs.Shape}
	if !output.Compatible(expected) {
		return nil, errors.Errorf("OneHot shape %v doesn't match indices %s", attrs.Shape, indices)
	}
	return []shapes.Shape{expected.Clone()}, nil
}

// OneHot encodes the integer indices into the given output shape, with the one-hot axis at position axis.
// The output has the element type of the indices; indices out of range produce all zeros.
func OneHot(indices graph.Output, shape []int, axis int) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeOneHot, OneHotAttrs{Shape: slices.Clone(shape), Axis: axis}, indices)
}

func inferReverse(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(ReverseAttrs)
	operand := node.Input(0).Shape()
	for _, axis := range attrs.Axes {
		if axis < 0 || axis >= operand.Rank() {
			return nil, errors.Errorf("Reverse axis %d out-of-bounds for %s", axis, operand)
		}
	}
	return []shapes.Shape{operand.Clone()}, nil
}

// Reverse x along the given axes.
func Reverse(x graph.Output, axes graph.AxisSet) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeReverse, ReverseAttrs{Axes: graph.NewAxisSet(axes...)}, x)
}

func inferSlice(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(SliceAttrs)
	return single(shapeinference.SliceOp(node.Input(0).Shape(), attrs.Lower, attrs.Upper, attrs.Strides))
}

// Slice x from lower (inclusive) to upper (exclusive) with the given strides (nil for all ones), per axis.
func Slice(x graph.Output, lower, upper, strides []int) (*graph.Node, error) {
	if strides == nil {
		strides = xslices.SliceWithValue(len(lower), 1)
	}
	return graph.NewNodeFromInputs(opsets.OpTypeSlice,
		SliceAttrs{Lower: slices.Clone(lower), Upper: slices.Clone(upper), Strides: slices.Clone(strides)}, x)
}

// SplitAxis returns the normalized axis of a Split node, whose axis (input #1) must be constant.
func SplitAxis(node *graph.Node) (int, error) {
	axis, ok := graph.ConstantAsScalarInt64(node.Input(1))
	if !ok {
		return 0, errors.Errorf("split axis of %s must be a scalar integer constant", node.Type())
	}
	return graph.NormalizeAxis(axis, node.Input(0).Shape().Rank())
}

// EqualSplitLengths returns the lengths of numSplits equal parts of dim, or unknown lengths if dim is unknown.
func EqualSplitLengths(dim, numSplits int) ([]int, error) {
	if numSplits <= 0 {
		return nil, errors.Errorf("number of splits must be positive, got %d", numSplits)
	}
	lengths := make([]int, numSplits)
	for ii := range lengths {
		lengths[ii] = shapes.UnknownDim
	}
	if dim == shapes.UnknownDim {
		return lengths, nil
	}
	if dim%numSplits != 0 {
		return nil, errors.Errorf("dimension %d cannot be split in %d equal parts", dim, numSplits)
	}
	for ii := range lengths {
		lengths[ii] = dim / numSplits
	}
	return lengths, nil
}

func inferSplit(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(SplitAttrs)
	operand := node.Input(0).Shape()
	axis, err := SplitAxis(node)
	if err != nil {
		return nil, err
	}
	lengths := attrs.Lengths
	if lengths == nil {
		lengths, err = EqualSplitLengths(operand.Dimensions[axis], attrs.NumSplits)
		if err != nil {
			return nil, err
		}
	}
	for _, length := range lengths {
		if length < 0 {
			return nil, errors.Errorf("Split lengths %v must be non-negative", lengths)
		}
	}
	return shapeinference.SplitOp(operand, axis, lengths)
}

// Split x along the constant axis in numSplits equal parts.
func Split(x, axis graph.Output, numSplits int) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeSplit, SplitAttrs{NumSplits: numSplits}, x, axis)
}

// SplitLengths splits x along the constant axis in parts of the given lengths.
func SplitLengths(x, axis graph.Output, lengths []int) (*graph.Node, error) {
	if lengths == nil {
		lengths = []int{}
	}
	return graph.NewNodeFromInputs(opsets.OpTypeSplit, SplitAttrs{Lengths: slices.Clone(lengths)}, x, axis)
}

// TopKValue returns the k of a TopK node (input #1), or shapes.UnknownDim if it is not a constant.
func TopKValue(node *graph.Node) (int, error) {
	kInput := node.Input(1)
	if !kInput.DType().IsInt() || kInput.Shape().Rank() > 1 {
		return 0, errors.Errorf("TopK k must be an integer scalar, got %s", kInput.Shape())
	}
	k, ok := graph.ConstantAsScalarInt64(kInput)
	if !ok {
		return shapes.UnknownDim, nil
	}
	return int(k), nil
}

func inferTopK(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(TopKAttrs)
	k, err := TopKValue(node)
	if err != nil {
		return nil, err
	}
	values, indices, err := shapeinference.TopKOp(node.Input(0).Shape(), k, attrs.Axis, attrs.IndexElementType)
	if err != nil {
		return nil, err
	}
	return []shapes.Shape{indices, values}, nil
}

// TopK selects the k largest (computeMax) or smallest elements of x along axis.
// Its outputs are, in order, the indices and the values.
func TopK(x, k graph.Output, axis int, indexElementType dtypes.DType, computeMax bool, sort graph.TopKSort) (*graph.Node, error) {
	if !x.IsValid() {
		return nil, errors.New("TopK: invalid input")
	}
	normalized, err := graph.NormalizeAxis(int64(axis), x.Shape().Rank())
	if err != nil {
		return nil, errors.WithMessage(err, "TopK")
	}
	attrs := TopKAttrs{Axis: normalized, IndexElementType: indexElementType, ComputeMax: computeMax, Sort: sort}
	return graph.NewNodeFromInputs(opsets.OpTypeTopK, attrs, x, k)
}
