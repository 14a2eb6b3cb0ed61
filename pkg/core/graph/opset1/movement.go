// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opset1

import (
	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/shapeinference"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ReduceAttrs of the version 1 reductions.
type ReduceAttrs struct {
	KeepDims bool
}

// ReshapeAttrs of the version 1 Reshape.
type ReshapeAttrs struct {
	// SpecialZero makes a 0 in the target shape copy the corresponding input dimension.
	SpecialZero bool
}

// BroadcastAttrs of the version 1 Broadcast.
type BroadcastAttrs struct {
	Mode graph.BroadcastMode
}

// OneHotAttrs of the version 1 OneHot, with the axis normalized to the output rank.
type OneHotAttrs struct {
	Axis int
}

// ReverseAttrs of the version 1 Reverse.
type ReverseAttrs struct {
	Mode graph.ReverseMode
}

func init() {
	for _, opType := range []opsets.OpType{opsets.OpTypeReduceSumV1, opsets.OpTypeReduceProdV1,
		opsets.OpTypeReduceMaxV1, opsets.OpTypeReduceMinV1} {
		graph.RegisterShapeInference(opType, inferReduction)
	}
	graph.RegisterShapeInference(opsets.OpTypeReshapeV1, inferReshape)
	graph.RegisterShapeInference(opsets.OpTypeBroadcastV1, inferBroadcast)
	graph.RegisterShapeInference(opsets.OpTypeGatherV1, inferGather)
	graph.RegisterShapeInference(opsets.OpTypeOneHotV1, inferOneHot)
	graph.RegisterShapeInference(opsets.OpTypeReverseV1, inferReverse)
}

// ReductionAxes returns the normalized reduction axes of a version 1 reduction node.
// If the axes input is not a constant, it returns false.
func ReductionAxes(node *graph.Node) (axes graph.AxisSet, isConstant bool, err error) {
	values, ok := graph.ConstantAsInt64s(node.Input(1))
	if !ok {
		return nil, false, nil
	}
	axes, err = graph.NormalizeAxes(values, node.Input(0).Shape().Rank())
	return axes, true, err
}

func inferReduction(node *graph.Node) ([]shapes.Shape, error) {
	operand := node.Input(0).Shape()
	keepDims := node.Attrs().(ReduceAttrs).KeepDims
	if operand.DType == dtypes.Bool {
		return nil, errors.Errorf("cannot reduce boolean operand %s", operand)
	}
	numAxes, err := vectorLength(node.Input(1), "reduction axes")
	if err != nil {
		return nil, err
	}
	axes, isConstant, err := ReductionAxes(node)
	if err != nil {
		return nil, err
	}
	if isConstant {
		return single(shapeinference.ReduceOp(operand, axes, keepDims))
	}
	if keepDims {
		return []shapes.Shape{unknownDims(operand.DType, operand.Rank())}, nil
	}
	if numAxes > operand.Rank() {
		return nil, errors.Errorf("%d reduction axes for operand %s", numAxes, operand)
	}
	return []shapes.Shape{unknownDims(operand.DType, operand.Rank()-numAxes)}, nil
}

func reduction(opType opsets.OpType, x, axes graph.Output, keepDims bool) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opType, ReduceAttrs{KeepDims: keepDims}, x, axes)
}

// ReduceSum reduces x over axes with a sum. If keepDims, the reduced axes are kept with dimension 1.
func ReduceSum(x, axes graph.Output, keepDims bool) (*graph.Node, error) {
	return reduction(opsets.OpTypeReduceSumV1, x, axes, keepDims)
}

// ReduceProd reduces x over axes with a product.
func ReduceProd(x, axes graph.Output, keepDims bool) (*graph.Node, error) {
	return reduction(opsets.OpTypeReduceProdV1, x, axes, keepDims)
}

// ReduceMax reduces x over axes, keeping the maximum.
func ReduceMax(x, axes graph.Output, keepDims bool) (*graph.Node, error) {
	return reduction(opsets.OpTypeReduceMaxV1, x, axes, keepDims)
}

// ReduceMin reduces x over axes, keeping the minimum.
func ReduceMin(x, axes graph.Output, keepDims bool) (*graph.Node, error) {
	return reduction(opsets.OpTypeReduceMinV1, x, axes, keepDims)
}

// ResolveReshapeDims resolves the target dimensions of a version 1 Reshape: with specialZero a 0 copies the
// input dimension, and at most one -1 is inferred from the remaining size. Dimensions that can't be resolved
// (because the input is dynamic) are returned as shapes.UnknownDim.
func ResolveReshapeDims(input shapes.Shape, target []int64, specialZero bool) ([]int, error) {
	dims := make([]int, len(target))
	inferredAxis := -1
	knownSize, allKnown := 1, true
	for axis, value := range target {
		switch {
		case value == 0 && specialZero:
			if axis >= input.Rank() {
				return nil, errors.Errorf("reshape special zero at axis %d beyond the rank of %s", axis, input)
			}
			dims[axis] = input.Dimensions[axis]
		case value == -1:
			if inferredAxis >= 0 {
				return nil, errors.Errorf("reshape target %v can have at most one -1", target)
			}
			inferredAxis = axis
			continue
		case value < 0:
			return nil, errors.Errorf("invalid reshape target %v", target)
		default:
			dims[axis] = int(value)
		}
		if dims[axis] == shapes.UnknownDim {
			allKnown = false
		} else {
			knownSize *= dims[axis]
		}
	}
	if inferredAxis >= 0 {
		dims[inferredAxis] = shapes.UnknownDim
		if allKnown && input.IsStatic() {
			if knownSize == 0 || input.Size()%knownSize != 0 {
				return nil, errors.Errorf("cannot infer the -1 of reshape target %v for %s", target, input)
			}
			dims[inferredAxis] = input.Size() / knownSize
		}
	}
	return dims, nil
}

func inferReshape(node *graph.Node) ([]shapes.Shape, error) {
	input := node.Input(0).Shape()
	rank, err := vectorLength(node.Input(1), "reshape target shape")
	if err != nil {
		return nil, err
	}
	target, ok := graph.ConstantAsInt64s(node.Input(1))
	if !ok {
		return []shapes.Shape{unknownDims(input.DType, rank)}, nil
	}
	dims, err := ResolveReshapeDims(input, target, node.Attrs().(ReshapeAttrs).SpecialZero)
	if err != nil {
		return nil, err
	}
	return single(shapeinference.ReshapeOp(input, dims))
}

// Reshape x to the target shape, a 1D integer tensor that may be computed at runtime.
func Reshape(x, shape graph.Output, specialZero bool) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeReshapeV1, ReshapeAttrs{SpecialZero: specialZero}, x, shape)
}

// BroadcastAxesMapping returns, for each axis of the argument of a version 1 Broadcast node, the output axis
// it maps to. For the explicit mode the axes mapping input must be a constant.
func BroadcastAxesMapping(node *graph.Node) ([]int, error) {
	return broadcastAxesMapping(node, node.OutputShape(0).Rank())
}

func broadcastAxesMapping(node *graph.Node, outputRank int) ([]int, error) {
	argRank := node.Input(0).Shape().Rank()
	switch node.Attrs().(BroadcastAttrs).Mode {
	case graph.BroadcastNumpy:
		mapping := make([]int, argRank)
		for axis := range mapping {
			mapping[axis] = outputRank - argRank + axis
		}
		return mapping, nil
	case graph.BroadcastExplicit:
		mapping, ok := graph.ConstantAsInts(node.Input(2))
		if !ok {
			return nil, errors.New("explicit Broadcast axes mapping is not a constant")
		}
		if len(mapping) != argRank {
			return nil, errors.Errorf("explicit Broadcast axes mapping %v must have one entry per argument axis (%d)", mapping, argRank)
		}
		for ii, axis := range mapping {
			if axis < 0 || axis >= outputRank || (ii > 0 && axis <= mapping[ii-1]) {
				return nil, errors.Errorf("explicit Broadcast axes mapping %v must be increasing axes of the output rank %d",
					mapping, outputRank)
			}
		}
		return mapping, nil
	}
	return nil, errors.Errorf("unknown Broadcast mode %d", node.Attrs().(BroadcastAttrs).Mode)
}

func inferBroadcast(node *graph.Node) ([]shapes.Shape, error) {
	arg := node.Input(0).Shape()
	mode := node.Attrs().(BroadcastAttrs).Mode
	rank, err := vectorLength(node.Input(1), "broadcast target shape")
	if err != nil {
		return nil, err
	}
	output := unknownDims(arg.DType, rank)
	if target, ok := graph.ConstantAsInts(node.Input(1)); ok {
		for _, dim := range target {
			if dim < 0 {
				return nil, errors.Errorf("invalid broadcast target shape %v", target)
			}
		}
		output.Dimensions = target
	}
	if arg.Rank() > rank {
		return nil, errors.Errorf("cannot broadcast %s to rank %d", arg, rank)
	}
	switch {
	case mode == graph.BroadcastExplicit && node.NumInputs() != 3:
		return nil, errors.New("explicit Broadcast requires an axes mapping input")
	case mode == graph.BroadcastNumpy && node.NumInputs() != 2:
		return nil, errors.New("numpy Broadcast doesn't take an axes mapping input")
	case mode == graph.BroadcastExplicit && !graph.IsConstant(node.Input(2)):
		// Without the mapping the argument dimensions can't be checked.
		return []shapes.Shape{output}, nil
	}
	mapping, err := broadcastAxesMapping(node, rank)
	if err != nil {
		return nil, err
	}
	for axis, outAxis := range mapping {
		argDim, outDim := arg.Dimensions[axis], output.Dimensions[outAxis]
		if argDim != 1 && argDim != outDim && argDim != shapes.UnknownDim && outDim != shapes.UnknownDim {
			return nil, errors.Errorf("cannot broadcast %s to %v: axis %d maps to output axis %d", arg, output.Dimensions, axis, outAxis)
		}
	}
	return []shapes.Shape{output}, nil
}

// Broadcast x to the numpy-aligned targetShape (a 1D integer tensor).
func Broadcast(x, targetShape graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeBroadcastV1, BroadcastAttrs{Mode: graph.BroadcastNumpy}, x, targetShape)
}

// BroadcastExplicit broadcasts x to targetShape, mapping each axis of x to the output axis given by axesMapping.
func BroadcastExplicit(x, targetShape, axesMapping graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeBroadcastV1, BroadcastAttrs{Mode: graph.BroadcastExplicit},
		x, targetShape, axesMapping)
}

// GatherAxis returns the normalized axis of a version 1 Gather node, and whether it is a constant.
func GatherAxis(node *graph.Node) (axis int, isConstant bool, err error) {
	value, ok := graph.ConstantAsScalarInt64(node.Input(2))
	if !ok {
		return 0, false, nil
	}
	axis, err = graph.NormalizeAxis(value, node.Input(0).Shape().Rank())
	return axis, true, err
}

func inferGather(node *graph.Node) ([]shapes.Shape, error) {
	params, indices := node.Input(0).Shape(), node.Input(1).Shape()
	if length, err := vectorLength(node.Input(2), "gather axis"); err != nil || length != 1 {
		return nil, errors.Errorf("Gather axis must be an integer scalar, got %s", node.Input(2).Shape())
	}
	axis, isConstant, err := GatherAxis(node)
	if err != nil {
		return nil, err
	}
	if isConstant {
		return single(shapeinference.GatherOp(params, indices, axis))
	}
	if !indices.DType.IsInt() || params.Rank() == 0 {
		return nil, errors.Errorf("cannot gather from %s with indices %s", params, indices)
	}
	return []shapes.Shape{unknownDims(params.DType, params.Rank()-1+indices.Rank())}, nil
}

// Gather slices of params selected by indices, along the scalar axis input.
func Gather(params, indices, axis graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeGatherV1, nil, params, indices, axis)
}

func inferOneHot(node *graph.Node) ([]shapes.Shape, error) {
	indices := node.Input(0).Shape()
	onValue, offValue := node.Input(2).Shape(), node.Input(3).Shape()
	if length, err := vectorLength(node.Input(1), "one-hot depth"); err != nil || length != 1 {
		return nil, errors.Errorf("OneHot depth must be an integer scalar, got %s", node.Input(1).Shape())
	}
	if onValue.Rank() != 0 || offValue.Rank() != 0 || onValue.DType != offValue.DType {
		return nil, errors.Errorf("OneHot on/off values must be scalars of the same dtype, got %s and %s", onValue, offValue)
	}
	if !indices.DType.IsIndex() {
		return nil, errors.Errorf("OneHot indices must be Int32 or Int64, got %s", indices)
	}
	depth := shapes.UnknownDim
	if value, ok := graph.ConstantAsScalarInt64(node.Input(1)); ok {
		if value < 0 {
			return nil, errors.Errorf("OneHot depth must be non-negative, got %d", value)
		}
		depth = int(value)
	}
	return single(shapeinference.OneHotOp(indices, depth, node.Attrs().(OneHotAttrs).Axis, onValue.DType))
}

// OneHot encodes indices with a new axis of size depth at the given axis (possibly negative, relative to
// the output rank). The output has the element type of onValue, and holds onValue at the encoded positions
// and offValue elsewhere.
func OneHot(indices, depth, onValue, offValue graph.Output, axis int) (*graph.Node, error) {
	if !indices.IsValid() {
		return nil, errors.New("OneHot: invalid indices")
	}
	normalized, err := graph.NormalizeAxis(int64(axis), indices.Shape().Rank()+1)
	if err != nil {
		return nil, errors.WithMessage(err, "OneHot")
	}
	return graph.NewNodeFromInputs(opsets.OpTypeOneHotV1, OneHotAttrs{Axis: normalized}, indices, depth, onValue, offValue)
}

// ReverseAxes returns the axes reversed by a version 1 Reverse node, whose axes input must be a constant.
func ReverseAxes(node *graph.Node) (graph.AxisSet, error) {
	rank := node.Input(0).Shape().Rank()
	values, ok := graph.ConstantAsInt64s(node.Input(1))
	if !ok {
		return nil, errors.New("Reverse axes are not a constant")
	}
	if node.Attrs().(ReverseAttrs).Mode == graph.ReverseMask {
		if len(values) != rank {
			return nil, errors.Errorf("Reverse mask %v must have one entry per axis (rank %d)", values, rank)
		}
		return graph.MaskToAxisSet(values), nil
	}
	return graph.NormalizeAxes(values, rank)
}

func inferReverse(node *graph.Node) ([]shapes.Shape, error) {
	operand := node.Input(0).Shape()
	axesShape := node.Input(1).Shape()
	mode := node.Attrs().(ReverseAttrs).Mode
	if axesShape.Rank() != 1 {
		return nil, errors.Errorf("Reverse axes must be 1D, got %s", axesShape)
	}
	if mode == graph.ReverseMask && axesShape.DType != dtypes.Bool {
		return nil, errors.Errorf("Reverse mask must be boolean, got %s", axesShape)
	}
	if mode == graph.ReverseIndex && !axesShape.DType.IsInt() {
		return nil, errors.Errorf("Reverse axes must be integers, got %s", axesShape)
	}
	if graph.IsConstant(node.Input(1)) {
		if _, err := ReverseAxes(node); err != nil {
			return nil, err
		}
	}
	return []shapes.Shape{operand.Clone()}, nil
}

// Reverse x along the axes given by the axes input: a list of axes (graph.ReverseIndex) or a boolean mask
// with one entry per axis (graph.ReverseMask).
func Reverse(x, axes graph.Output, mode graph.ReverseMode) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeReverseV1, ReverseAttrs{Mode: mode}, x, axes)
}
