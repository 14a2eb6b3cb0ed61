// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/graph/opset1"
	"github.com/gomlx/opgraph/pkg/core/graph/shapeinference"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/gomlx/opgraph/pkg/support/xslices"
	"github.com/pkg/errors"
)

// The data movement kernels compute an index map (type-independent) from the output elements to the input
// elements, and then move the elements with moveElements, which dispatches on the element type.

func init() {
	register(opsets.OpTypeConstant, execConstant)
	register(opsets.OpTypeReshape, execReshape)
	register(opsets.OpTypeReshapeV1, execCopy)
	register(opsets.OpTypeBroadcast, execBroadcast)
	register(opsets.OpTypeBroadcastV1, execBroadcastV1)
	register(opsets.OpTypeTransposeV1, execTranspose)
	register(opsets.OpTypeReverse, execReverse)
	register(opsets.OpTypeReverseV1, execReverseV1)
	register(opsets.OpTypeSlice, execSlice)
	register(opsets.OpTypeStridedSliceV1, execStridedSlice)
	register(opsets.OpTypeSplit, execSplit)
	register(opsets.OpTypeSplitV1, execSplit)
	register(opsets.OpTypeVariadicSplitV1, execSplit)
	register(opsets.OpTypeGather, execGather)
	register(opsets.OpTypeGatherV1, execGather)
	register(opsets.OpTypeOneHot, execOneHot)
	register(opsets.OpTypeOneHotV1, execOneHot)
	register(opsets.OpTypePadV1, execPad)
	register(opsets.OpTypeReverseSequence, execReverseSequence)
}

// IntentionallyAbsent lists the operators without a kernel, and why.
var IntentionallyAbsent = map[opsets.OpType]string{
	opsets.OpTypeParameter: "parameter values are bound by the caller (see Executor)",
}

func execConstant(_ *Interpreter, node *graph.Node, outputs, _ []*tensors.Tensor) error {
	value, _ := graph.ConstantValue(node.Output(0))
	return outputs[0].CopyFrom(value)
}

// execCopy copies the flat data: a reshape in row-major order.
func execCopy(_ *Interpreter, _ *graph.Node, outputs, inputs []*tensors.Tensor) error {
	copy(outputs[0].Bytes(), inputs[0].Bytes())
	return nil
}

// transposeIndexMap returns the input flat index of each element of the input transposed by perm.
func transposeIndexMap(input shapes.Shape, perm []int) []int {
	transposed, _ := shapeinference.TransposeOp(input, perm)
	strides := input.Strides()
	return indexMap(transposed, func(indices []int) int {
		flat := 0
		for axis, idx := range indices {
			flat += idx * strides[perm[axis]]
		}
		return flat
	})
}

func execReshape(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	moveElements(outputs[0], inputs[0], transposeIndexMap(inputs[0].Shape(), node.Attrs().(opset0.ReshapeAttrs).InputOrder))
	return nil
}

func execTranspose(_ *Interpreter, _ *graph.Node, outputs, inputs []*tensors.Tensor) error {
	rank := inputs[0].Shape().Rank()
	order, err := graph.TensorAsInt64s(inputs[1])
	if err != nil {
		return err
	}
	perm := shapeinference.ReversedAxes(rank)
	if len(order) > 0 {
		perm = make([]int, len(order))
		for ii, axis := range order {
			perm[ii] = int(axis)
		}
		if err := shapeinference.CheckPermutation(perm, rank); err != nil {
			return err
		}
	}
	moveElements(outputs[0], inputs[0], transposeIndexMap(inputs[0].Shape(), perm))
	return nil
}

// broadcastIndexMap maps each input axis to the output axis mapping[axis]; input axes of dimension 1 are repeated.
func broadcastIndexMap(input, output shapes.Shape, mapping []int) []int {
	strides := input.Strides()
	return indexMap(output, func(indices []int) int {
		flat := 0
		for axis, outAxis := range mapping {
			if input.Dimensions[axis] != 1 {
				flat += indices[outAxis] * strides[axis]
			}
		}
		return flat
	})
}

func execBroadcast(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	newAxes := node.Attrs().(opset0.BroadcastAttrs).BroadcastAxes
	output := outputs[0]
	var mapping []int
	for axis := range output.Shape().Rank() {
		if !newAxes.Contains(axis) {
			mapping = append(mapping, axis)
		}
	}
	moveElements(output, inputs[0], broadcastIndexMap(inputs[0].Shape(), output.Shape(), mapping))
	return nil
}

func execBroadcastV1(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	input, output := inputs[0].Shape(), outputs[0].Shape()
	mapping := make([]int, input.Rank())
	if node.Attrs().(opset1.BroadcastAttrs).Mode == graph.BroadcastExplicit {
		values, err := graph.TensorAsInt64s(inputs[2])
		if err != nil {
			return err
		}
		for ii, v := range values {
			mapping[ii] = int(v)
		}
	} else {
		for axis := range mapping {
			mapping[axis] = output.Rank() - input.Rank() + axis
		}
	}
	moveElements(outputs[0], inputs[0], broadcastIndexMap(input, output, mapping))
	return nil
}

// reverseIndexMap returns, for each flat index of shape, the flat index with the given axes reversed.
func reverseIndexMap(shape shapes.Shape, axes graph.AxisSet) []int {
	strides := shape.Strides()
	return indexMap(shape, func(indices []int) int {
		flat := 0
		for axis, idx := range indices {
			if axes.Contains(axis) {
				idx = shape.Dimensions[axis] - 1 - idx
			}
			flat += idx * strides[axis]
		}
		return flat
	})
}

func execReverse(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	axes := node.Attrs().(opset0.ReverseAttrs).Axes
	moveElements(outputs[0], inputs[0], reverseIndexMap(inputs[0].Shape(), axes))
	return nil
}

func execReverseV1(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	rank := inputs[0].Shape().Rank()
	var axes graph.AxisSet
	if node.Attrs().(opset1.ReverseAttrs).Mode == graph.ReverseMask {
		mask, err := graph.TensorAsInt64s(inputs[1])
		if err != nil {
			return err
		}
		axes = graph.MaskToAxisSet(mask)
	} else {
		var err error
		axes, err = runtimeAxes(inputs[1], rank)
		if err != nil {
			return err
		}
	}
	moveElements(outputs[0], inputs[0], reverseIndexMap(inputs[0].Shape(), axes))
	return nil
}

// sliceIndexMap returns the input flat index of each element of the slice of the given output dimensions.
func sliceIndexMap(input shapes.Shape, begins, strides, outputDims []int) []int {
	inStrides := input.Strides()
	return indexMap(shapes.Shape{DType: input.DType, Dimensions: outputDims}, func(indices []int) int {
		flat := 0
		for axis, idx := range indices {
			flat += (begins[axis] + idx*strides[axis]) * inStrides[axis]
		}
		return flat
	})
}

func execSlice(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	attrs := node.Attrs().(opset0.SliceAttrs)
	moveElements(outputs[0], inputs[0], sliceIndexMap(inputs[0].Shape(), attrs.Lower, attrs.Strides, outputs[0].Shape().Dimensions))
	return nil
}

func execStridedSlice(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	var values [3][]int64
	for ii := range values {
		var err error
		values[ii], err = graph.TensorAsInt64s(inputs[1+ii])
		if err != nil {
			return err
		}
	}
	input := inputs[0].Shape()
	plan, err := graph.MakeSlicePlan(input.Dimensions, values[0], values[1], values[2],
		node.Attrs().(opset1.StridedSliceAttrs).Masks())
	if err != nil {
		return err
	}
	sliced := sliceIndexMap(input, plan.Begins, plan.Strides, plan.ReshapeIn)
	reversed := reverseIndexMap(shapes.Shape{DType: input.DType, Dimensions: plan.ReshapeOut}, plan.ReverseAxes)
	srcIdx := make([]int, len(reversed))
	for ii, idx := range reversed {
		srcIdx[ii] = sliced[idx]
	}
	moveElements(outputs[0], inputs[0], srcIdx)
	return nil
}

// execSplit handles all the split variants: the lengths of the parts are the dimensions of the outputs.
func execSplit(_ *Interpreter, _ *graph.Node, outputs, inputs []*tensors.Tensor) error {
	input := inputs[0].Shape()
	axisValues, err := graph.TensorAsInt64s(inputs[1])
	if err != nil {
		return err
	}
	if len(axisValues) != 1 {
		return errors.Errorf("split axis must be a scalar, got %s", inputs[1].Shape())
	}
	axis, err := graph.NormalizeAxis(axisValues[0], input.Rank())
	if err != nil {
		return err
	}
	begins := make([]int, input.Rank())
	for _, output := range outputs {
		moveElements(output, inputs[0], sliceIndexMap(input, begins, xslices.SliceWithValue(input.Rank(), 1), output.Shape().Dimensions))
		begins[axis] += output.Shape().Dimensions[axis]
	}
	return nil
}

func execGather(interp *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	params := inputs[0].Shape()
	var axis int
	if node.Type() == opsets.OpTypeGather {
		axis = node.Attrs().(opset0.GatherAttrs).Axis
	} else {
		axes, err := runtimeAxes(inputs[2], params.Rank())
		if err != nil || len(axes) != 1 {
			return errors.Errorf("invalid Gather axis %s", inputs[2].Shape())
		}
		axis = axes[0]
	}
	indices, err := interp.readIndices(node, inputs[1], "indices")
	if err != nil {
		return err
	}
	dim := int64(params.Dimensions[axis])
	for ii, idx := range indices {
		if idx < -dim || idx >= dim {
			return errors.Errorf("Gather index %d out-of-bounds for dimension %d", idx, dim)
		}
		if idx < 0 {
			indices[ii] = idx + dim
		}
	}
	indicesShape := inputs[1].Shape()
	indicesStrides := indicesShape.Strides()
	paramsStrides := params.Strides()
	srcIdx := indexMap(outputs[0].Shape(), func(outIdx []int) int {
		flat := 0
		for a := range axis {
			flat += outIdx[a] * paramsStrides[a]
		}
		indicesFlat := 0
		for a := range indicesShape.Rank() {
			indicesFlat += outIdx[axis+a] * indicesStrides[a]
		}
		flat += int(indices[indicesFlat]) * paramsStrides[axis]
		for a := axis + 1; a < params.Rank(); a++ {
			flat += outIdx[a-1+indicesShape.Rank()] * paramsStrides[a]
		}
		return flat
	})
	moveElements(outputs[0], inputs[0], srcIdx)
	return nil
}

// execOneHot selects, for each output element, the "on" value (index 1 of the source) if its index along the
// one-hot axis matches the index, or the "off" value (index 0) otherwise. Out-of-range indices
// produce rows of "off" values.
func execOneHot(interp *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	output := outputs[0]
	var (
		axis    int
		indices []int64
		err     error
	)
	values := tensors.FromShape(shapes.Make(output.DType(), 2))
	if node.Type() == opsets.OpTypeOneHot {
		axis = node.Attrs().(opset0.OneHotAttrs).Axis
		indices, err = graph.TensorAsInt64s(inputs[0])
		if err != nil {
			return err
		}
		if err := convertTensor(node, tensors.FromFlatDataAndDimensions([]uint8{0, 1}, 2), values); err != nil {
			return err
		}
	} else {
		axis = node.Attrs().(opset1.OneHotAttrs).Axis
		indices, err = interp.readIndices(node, inputs[0], "indices")
		if err != nil {
			return err
		}
		moveElements(values, inputs[2], []int{-1, 0})
		moveElements(values, inputs[3], []int{0, -1})
	}
	indicesStrides := inputs[0].Shape().Strides()
	srcIdx := indexMap(output.Shape(), func(outIdx []int) int {
		flat := 0
		for a, idx := range outIdx {
			switch {
			case a < axis:
				flat += idx * indicesStrides[a]
			case a > axis:
				flat += idx * indicesStrides[a-1]
			}
		}
		if indices[flat] == int64(outIdx[axis]) {
			return 1
		}
		return 0
	})
	moveElements(output, values, srcIdx)
	return nil
}

// padSourceIndex returns the index of the input along an axis of dimension dim for the padded position pos
// (already shifted by the begin padding), or -1 if it takes the padding value.
func padSourceIndex(pos, dim int, mode graph.PadMode) int {
	if pos >= 0 && pos < dim {
		return pos
	}
	switch mode {
	case graph.PadModeEdge:
		return min(max(pos, 0), dim-1)
	case graph.PadModeReflect:
		if pos < 0 {
			return -pos
		}
		return 2*(dim-1) - pos
	case graph.PadModeSymmetric:
		if pos < 0 {
			return -pos - 1
		}
		return 2*dim - 1 - pos
	}
	return -1
}

func execPad(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	mode := node.Attrs().(opset1.PadAttrs).Mode
	padsBegin, err := graph.TensorAsInt64s(inputs[1])
	if err != nil {
		return err
	}
	input, output := inputs[0].Shape(), outputs[0]
	strides := input.Strides()
	srcIdx := indexMap(output.Shape(), func(outIdx []int) int {
		flat := 0
		for axis, idx := range outIdx {
			src := padSourceIndex(idx-int(padsBegin[axis]), input.Dimensions[axis], mode)
			if src < 0 {
				return -1
			}
			flat += src * strides[axis]
		}
		return flat
	})
	if len(inputs) > 3 {
		fill(output, inputs[3])
	} else {
		output.Zero()
	}
	moveElements(output, inputs[0], srcIdx)
	return nil
}

func execReverseSequence(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	attrs := node.Attrs().(opset0.ReverseSequenceAttrs)
	input := inputs[0].Shape()
	if inputs[1].DType() == dtypes.Uint64 {
		return unsupportedIndexType(node, "sequence lengths", dtypes.Uint64)
	}
	lengths, err := graph.TensorAsFloat64s(inputs[1])
	if err != nil {
		return err
	}
	seqLen := input.Dimensions[attrs.SeqAxis]
	for batch, length := range lengths {
		if length < 0 || length > float64(seqLen) {
			return errors.Errorf("%s: sequence length %g of batch entry %d out-of-bounds for a sequence axis of dimension %d",
				node, length, batch, seqLen)
		}
	}
	strides := input.Strides()
	srcIdx := indexMap(input, func(indices []int) int {
		length := int(lengths[indices[attrs.BatchAxis]])
		flat := 0
		for axis, idx := range indices {
			if axis == attrs.SeqAxis && idx < length {
				idx = length - 1 - idx
			}
			flat += idx * strides[axis]
		}
		return flat
	})
	moveElements(outputs[0], inputs[0], srcIdx)
	return nil
}
