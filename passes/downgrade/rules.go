// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package downgrade

import (
	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/graph/opset1"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/support/xslices"
)

func init() {
	for v1, v0 := range map[opsets.OpType]opsets.OpType{
		opsets.OpTypeAddV1:        opsets.OpTypeAdd,
		opsets.OpTypeSubtractV1:   opsets.OpTypeSubtract,
		opsets.OpTypeMultiplyV1:   opsets.OpTypeMultiply,
		opsets.OpTypeDivideV1:     opsets.OpTypeDivide,
		opsets.OpTypeMaximumV1:    opsets.OpTypeMaximum,
		opsets.OpTypeMinimumV1:    opsets.OpTypeMinimum,
		opsets.OpTypeLogicalAndV1: opsets.OpTypeAnd,
		opsets.OpTypeLogicalOrV1:  opsets.OpTypeOr,
		opsets.OpTypeLogicalXorV1: opsets.OpTypeXor,
	} {
		registerRule(v1, binaryRule(v0))
	}
	registerRule(opsets.OpTypeLogicalNotV1, func(node *graph.Node) (rewrite, error) {
		not, err := opset0.Not(node.Input(0))
		return replaceWith(node, not, err)
	})
	registerRule(opsets.OpTypeReduceSumV1, reductionRule(opset0.Sum))
	registerRule(opsets.OpTypeReduceProdV1, reductionRule(opset0.Product))
	registerRule(opsets.OpTypeReduceMaxV1, reductionRule(opset0.Max))
	registerRule(opsets.OpTypeReduceMinV1, reductionRule(opset0.Min))
	registerRule(opsets.OpTypeReshapeV1, downgradeReshape)
	registerRule(opsets.OpTypeBroadcastV1, downgradeBroadcast)
	registerRule(opsets.OpTypeGatherV1, downgradeGather)
	registerRule(opsets.OpTypeOneHotV1, downgradeOneHot)
	registerRule(opsets.OpTypeReverseV1, downgradeReverse)
	registerRule(opsets.OpTypeStridedSliceV1, downgradeStridedSlice)
	registerRule(opsets.OpTypeSplitV1, downgradeSplit)
	registerRule(opsets.OpTypeVariadicSplitV1, downgradeVariadicSplit)
	registerRule(opsets.OpTypeTopKV1, downgradeTopK)
	registerRule(opsets.OpTypeTransposeV1, downgradeTranspose)
	registerRule(opsets.OpTypeAvgPoolV1, downgradeAvgPool)
}

// binaryRule carries the operands and the auto-broadcast over to the version 0 operator.
func binaryRule(v0 opsets.OpType) rule {
	return func(node *graph.Node) (rewrite, error) {
		attrs := node.Attrs().(opset1.BinaryAttrs)
		replacement, err := opset0.Binary(v0, node.Input(0), node.Input(1), attrs.AutoBroadcast)
		return replaceWith(node, replacement, err)
	}
}

// reductionRule rebuilds the reduction, followed by a reshape restoring the reduced axes (with dimension 1)
// if keep_dims is set.
func reductionRule(v0 func(x, axes graph.Output) (*graph.Node, error)) rule {
	return func(node *graph.Node) (rewrite, error) {
		keepDims := node.Attrs().(opset1.ReduceAttrs).KeepDims
		if _, isConstant, _ := opset1.ReductionAxes(node); !isConstant {
			return rewrite{}, precondition(node, "reduction axes must be a constant")
		}
		if keepDims && !node.Shape().IsStatic() {
			return rewrite{}, precondition(node, "output shape %s must be static with keep_dims", node.Shape())
		}
		reduced, err := v0(node.Input(0), node.Input(1))
		if err != nil || !keepDims {
			return replaceWith(node, reduced, err)
		}
		reshaped, err := opset0.Reshape(reduced.Output(0), opset0.DefaultOrder(reduced.Shape().Rank()), node.Shape().Dimensions)
		return replaceWith(node, reshaped, err)
	}
}

func downgradeReshape(node *graph.Node) (rewrite, error) {
	if !graph.IsConstant(node.Input(1)) {
		return rewrite{}, precondition(node, "target shape must be a constant")
	}
	output := node.Shape()
	if !output.IsStatic() {
		return rewrite{}, precondition(node, "output shape %s must be static", output)
	}
	x := node.Input(0)
	reshaped, err := opset0.Reshape(x, opset0.DefaultOrder(x.Shape().Rank()), output.Dimensions)
	return replaceWith(node, reshaped, err)
}

// downgradeBroadcast converts the axes mapping of the argument into the set of broadcast output axes. Argument axes
// of dimension 1 that are broadcast to a larger dimension are squeezed first, since version 0 only adds new axes.
func downgradeBroadcast(node *graph.Node) (rewrite, error) {
	x := node.Input(0)
	arg := x.Shape()
	if !arg.IsStatic() {
		return rewrite{}, precondition(node, "argument shape %s must be static", arg)
	}
	if !graph.IsConstant(node.Input(1)) {
		return rewrite{}, precondition(node, "target shape must be a constant")
	}
	target := node.Shape().Dimensions
	mapping, err := opset1.BroadcastAxesMapping(node)
	if err != nil {
		return rewrite{}, construction(node, err, "axes mapping must be a constant")
	}
	squeezed := make([]int, 0, arg.Rank())
	var keptAxes graph.AxisSet
	for axis, outAxis := range mapping {
		if arg.Dimensions[axis] == target[outAxis] {
			squeezed = append(squeezed, arg.Dimensions[axis])
			keptAxes = append(keptAxes, outAxis)
		}
	}
	var broadcastAxes graph.AxisSet
	for axis := range target {
		if !keptAxes.Contains(axis) {
			broadcastAxes = append(broadcastAxes, axis)
		}
	}
	if len(squeezed) != arg.Rank() {
		squeeze, err := opset0.Reshape(x, opset0.DefaultOrder(arg.Rank()), squeezed)
		if err != nil {
			return rewrite{}, construction(node, err, "cannot squeeze the broadcast argument")
		}
		x = squeeze.Output(0)
	}
	broadcast, err := opset0.Broadcast(x, target, broadcastAxes)
	return replaceWith(node, broadcast, err)
}

func downgradeGather(node *graph.Node) (rewrite, error) {
	axisInput := node.Input(2)
	if axisInput.DType() != dtypes.Int64 || !graph.IsConstant(axisInput) {
		return rewrite{}, precondition(node, "axis must be an Int64 constant, got %s", axisInput.Shape())
	}
	axis, _, err := opset1.GatherAxis(node)
	if err != nil {
		return rewrite{}, construction(node, err, "invalid axis")
	}
	gather, err := opset0.Gather(node.Input(0), node.Input(1), axis)
	return replaceWith(node, gather, err)
}

// downgradeOneHot builds onehot*(on-off) + off, where onehot is the version 0 encoding converted to the
// type of the on value, and on and off are broadcast to the output shape.
func downgradeOneHot(node *graph.Node) (rewrite, error) {
	if !graph.IsConstant(node.Input(1)) {
		return rewrite{}, precondition(node, "depth must be a constant")
	}
	output := node.Shape()
	if !output.IsStatic() {
		return rewrite{}, precondition(node, "output shape %s must be static", output)
	}
	axis := node.Attrs().(opset1.OneHotAttrs).Axis
	allAxes := graph.AxisSet(xslices.Iota(0, output.Rank()))
	failed := func(err error) (rewrite, error) {
		return rewrite{}, construction(node, err, "cannot build the one-hot arithmetic")
	}

	oneHot, err := opset0.OneHot(node.Input(0), output.Dimensions, axis)
	if err != nil {
		return failed(err)
	}
	converted, err := opset0.Convert(oneHot.Output(0), output.DType)
	if err != nil {
		return failed(err)
	}
	on, err := opset0.Broadcast(node.Input(2), output.Dimensions, allAxes)
	if err != nil {
		return failed(err)
	}
	off, err := opset0.Broadcast(node.Input(3), output.Dimensions, allAxes)
	if err != nil {
		return failed(err)
	}
	diff, err := opset0.Subtract(on.Output(0), off.Output(0), graph.NoBroadcast)
	if err != nil {
		return failed(err)
	}
	scaled, err := opset0.Multiply(converted.Output(0), diff.Output(0), graph.NoBroadcast)
	if err != nil {
		return failed(err)
	}
	sum, err := opset0.Add(scaled.Output(0), off.Output(0), graph.NoBroadcast)
	if err != nil {
		return failed(err)
	}
	return rewrite{replacement: sum}, nil
}

func downgradeReverse(node *graph.Node) (rewrite, error) {
	axes, err := opset1.ReverseAxes(node)
	if err != nil {
		return rewrite{}, construction(node, err, "axes must be a valid constant")
	}
	reverse, err := opset0.Reverse(node.Input(0), axes)
	return replaceWith(node, reverse, err)
}

func downgradeAvgPool(node *graph.Node) (rewrite, error) {
	attrs := node.Attrs().(opset1.AvgPoolAttrs)
	pool, err := opset0.AvgPool(node.Input(0), opset0.AvgPoolAttrs{
		Kernel:         attrs.Kernel,
		Strides:        attrs.Strides,
		PadsBegin:      attrs.PadsBegin,
		PadsEnd:        attrs.PadsEnd,
		IncludePadding: !attrs.ExcludePad,
		PadType:        attrs.AutoPad,
		CeilMode:       attrs.Rounding == graph.RoundCeil,
	})
	return replaceWith(node, pool, err)
}

// downgradeStridedSlice emits the slice plan: a Slice, then a Reshape if axes are added or removed, then a
// Reverse if any stride is negative.
func downgradeStridedSlice(node *graph.Node) (rewrite, error) {
	plan, err := opset1.SlicePlan(node)
	if err != nil {
		return rewrite{}, construction(node, err, "data shape must be static and begin, end and strides constants")
	}
	result, err := opset0.Slice(node.Input(0), plan.Begins, plan.Ends, plan.Strides)
	if err != nil {
		return rewrite{}, construction(node, err, "cannot build the slice")
	}
	if plan.NeedsReshape() {
		result, err = opset0.Reshape(result.Output(0), opset0.DefaultOrder(len(plan.ReshapeIn)), plan.ReshapeOut)
		if err != nil {
			return rewrite{}, construction(node, err, "cannot build the reshape")
		}
	}
	if len(plan.ReverseAxes) > 0 {
		result, err = opset0.Reverse(result.Output(0), plan.ReverseAxes)
		if err != nil {
			return rewrite{}, construction(node, err, "cannot build the reverse")
		}
	}
	return rewrite{replacement: result}, nil
}

func downgradeSplit(node *graph.Node) (rewrite, error) {
	if !graph.IsConstant(node.Input(1)) {
		return rewrite{}, precondition(node, "axis must be a constant")
	}
	numSplits := node.Attrs().(opset1.SplitAttrs).NumSplits
	split, err := opset0.Split(node.Input(0), node.Input(1), numSplits)
	return replaceWith(node, split, err)
}

func downgradeVariadicSplit(node *graph.Node) (rewrite, error) {
	_, lengths, err := opset1.VariadicSplitLengths(node)
	if err != nil {
		return rewrite{}, construction(node, err, "axis and split lengths must be constants")
	}
	split, err := opset0.SplitLengths(node.Input(0), node.Input(1), lengths)
	return replaceWith(node, split, err)
}

// downgradeTopK swaps the outputs: version 1 returns (values, indices), version 0 (indices, values).
func downgradeTopK(node *graph.Node) (rewrite, error) {
	attrs := node.Attrs().(opset1.TopKAttrs)
	topK, err := opset0.TopK(node.Input(0), node.Input(1), attrs.Axis, attrs.IndexElementType,
		attrs.Mode == graph.TopKMax, attrs.Sort)
	if err != nil {
		return replaceWith(node, topK, err)
	}
	return rewrite{replacement: topK, outputOrder: []int{1, 0}}, nil
}

// downgradeTranspose becomes a version 0 Reshape with the permutation as its input order.
func downgradeTranspose(node *graph.Node) (rewrite, error) {
	if !node.Input(0).Shape().IsStatic() {
		return rewrite{}, precondition(node, "data shape %s must be static", node.Input(0).Shape())
	}
	if !graph.IsConstant(node.Input(1)) {
		return rewrite{}, precondition(node, "order must be a constant")
	}
	order, err := opset1.TransposeOrder(node)
	if err != nil {
		return rewrite{}, construction(node, err, "invalid order")
	}
	reshape, err := opset0.Reshape(node.Input(0), order, node.Shape().Dimensions)
	return replaceWith(node, reshape, err)
}
