// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"slices"

	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/graph/opset1"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/gomlx/opgraph/pkg/support/xslices"
	"github.com/pkg/errors"
)

type reduceOp int

const (
	reduceSum reduceOp = iota
	reduceProd
	reduceMax
	reduceMin
)

var reduceOps = map[opsets.OpType]reduceOp{
	opsets.OpTypeSum:          reduceSum,
	opsets.OpTypeReduceSumV1:  reduceSum,
	opsets.OpTypeProduct:      reduceProd,
	opsets.OpTypeReduceProdV1: reduceProd,
	opsets.OpTypeMax:          reduceMax,
	opsets.OpTypeReduceMaxV1:  reduceMax,
	opsets.OpTypeMin:          reduceMin,
	opsets.OpTypeReduceMinV1:  reduceMin,
}

func init() {
	for opType := range reduceOps {
		registerNumeric(opType, execReduce)
	}
	registerNumeric(opsets.OpTypeCumSum, execCumSum)
	registerNumeric(opsets.OpTypeTopK, execTopK)
	registerNumeric(opsets.OpTypeTopKV1, execTopK)
}

// reducedIndexMap returns, for each flat index of the input, the flat index of the output it reduces into.
// Keeping the reduced axes (with dimension 1) doesn't change the flat layout of the output.
func reducedIndexMap(input shapes.Shape, axes graph.AxisSet) []int {
	outStrides := make([]int, input.Rank())
	stride := 1
	for axis := input.Rank() - 1; axis >= 0; axis-- {
		if axes.Contains(axis) {
			continue
		}
		outStrides[axis] = stride
		stride *= input.Dimensions[axis]
	}
	return indexMap(input, func(indices []int) int {
		flat := 0
		for axis, idx := range indices {
			flat += idx * outStrides[axis]
		}
		return flat
	})
}

// execReduce handles the reductions of both versions: the axes are always read at runtime from input #1.
func execReduce(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	axes, err := runtimeAxes(inputs[1], inputs[0].Shape().Rank())
	if err != nil {
		return err
	}
	op := reduceOps[node.Type()]
	mapping := reducedIndexMap(inputs[0].Shape(), axes)
	reduce, err := kernelFor[func(reduceOp, *tensors.Tensor, *tensors.Tensor, []int)](reduceDTypeMap, node, outputs[0].DType())
	if err != nil {
		return err
	}
	reduce(op, outputs[0], inputs[0], mapping)
	return nil
}

func reduceGeneric[T tensorNumber](op reduceOp, outputT, inputT *tensors.Tensor, mapping []int) {
	output, input := tensors.Flat[T](outputT), tensors.Flat[T](inputT)
	var initial T
	switch op {
	case reduceProd:
		initial = 1
	case reduceMax:
		initial = lowest[T]()
	case reduceMin:
		initial = highest[T]()
	}
	for ii := range output {
		output[ii] = initial
	}
	for ii, v := range input {
		outIdx := mapping[ii]
		switch op {
		case reduceSum:
			output[outIdx] += v
		case reduceProd:
			output[outIdx] *= v
		case reduceMax:
			output[outIdx] = max(output[outIdx], v)
		case reduceMin:
			output[outIdx] = min(output[outIdx], v)
		}
	}
}

// axisLayout splits a static shape around an axis: outer is the product of the dimensions before it,
// inner the product of the dimensions after it.
func axisLayout(shape shapes.Shape, axis int) (outer, dim, inner int) {
	outer, inner = 1, 1
	for a, d := range shape.Dimensions {
		switch {
		case a < axis:
			outer *= d
		case a > axis:
			inner *= d
		}
	}
	return outer, shape.Dimensions[axis], inner
}

func execCumSum(interp *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	attrs := node.Attrs().(opset0.CumSumAttrs)
	axisValues, err := interp.readIndices(node, inputs[1], "axis")
	if err != nil {
		return err
	}
	if len(axisValues) != 1 {
		return errors.Errorf("CumSum axis must be a scalar, got %s", inputs[1].Shape())
	}
	axis, err := graph.NormalizeAxis(axisValues[0], inputs[0].Shape().Rank())
	if err != nil {
		return err
	}
	outer, dim, inner := axisLayout(inputs[0].Shape(), axis)
	cumSum, err := kernelFor[func(*tensors.Tensor, *tensors.Tensor, int, int, int, opset0.CumSumAttrs)](
		cumSumDTypeMap, node, outputs[0].DType())
	if err != nil {
		return err
	}
	cumSum(outputs[0], inputs[0], outer, dim, inner, attrs)
	return nil
}

func cumSumGeneric[T tensorNumber](outputT, inputT *tensors.Tensor, outer, dim, inner int, attrs opset0.CumSumAttrs) {
	output, input := tensors.Flat[T](outputT), tensors.Flat[T](inputT)
	for o := range outer {
		for i := range inner {
			base := o*dim*inner + i
			var sum T
			for step := range dim {
				pos := step
				if attrs.Reverse {
					pos = dim - 1 - step
				}
				idx := base + pos*inner
				if attrs.Exclusive {
					output[idx] = sum
					sum += input[idx]
				} else {
					sum += input[idx]
					output[idx] = sum
				}
			}
		}
	}
}

// topKParams collects the configuration of both versions of TopK.
type topKParams struct {
	axis            int
	computeMax      bool
	sort            graph.TopKSort
	values, indices *tensors.Tensor
}

func execTopK(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	var p topKParams
	if node.Type() == opsets.OpTypeTopK {
		attrs := node.Attrs().(opset0.TopKAttrs)
		p = topKParams{axis: attrs.Axis, computeMax: attrs.ComputeMax, sort: attrs.Sort,
			indices: outputs[0], values: outputs[1]}
	} else {
		attrs := node.Attrs().(opset1.TopKAttrs)
		p = topKParams{axis: attrs.Axis, computeMax: attrs.Mode == graph.TopKMax, sort: attrs.Sort,
			values: outputs[0], indices: outputs[1]}
	}
	outer, dim, inner := axisLayout(inputs[0].Shape(), p.axis)
	k := p.values.Shape().Dimensions[p.axis]
	topK, err := kernelFor[func(*tensors.Tensor, int, int, int, int, topKParams) []int](
		topKDTypeMap, node, p.values.DType())
	if err != nil {
		return err
	}
	selected := topK(inputs[0], outer, dim, inner, k, p)
	return writeIndices(node, p.indices, selected)
}

// topKGeneric writes the selected values and returns the selected indices along the axis, in the layout of
// the outputs. Ties are broken by the smaller index. Unsorted selections are ordered by value.
func topKGeneric[T tensorNumber](inputT *tensors.Tensor, outer, dim, inner, k int, p topKParams) []int {
	values, input := tensors.Flat[T](p.values), tensors.Flat[T](inputT)
	selected := make([]int, len(values))
	for o := range outer {
		for i := range inner {
			base := o*dim*inner + i
			candidates := xslices.Iota(0, dim)
			slices.SortStableFunc(candidates, func(a, b int) int {
				va, vb := input[base+a*inner], input[base+b*inner]
				if va == vb {
					return 0
				}
				if (va > vb) == p.computeMax {
					return -1
				}
				return 1
			})
			top := candidates[:k]
			if p.sort == graph.TopKSortIndices {
				slices.Sort(top)
			}
			outBase := o*k*inner + i
			for j, idx := range top {
				values[outBase+j*inner] = input[base+idx*inner]
				selected[outBase+j*inner] = idx
			}
		}
	}
	return selected
}
