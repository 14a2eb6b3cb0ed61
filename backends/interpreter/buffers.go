// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/pkg/errors"
	"github.com/x448/float16"
	"k8s.io/klog/v2"
)

// This file holds the type-independent helpers of the kernels: float16 widening, element moves by index maps,
// broadcasting iterators and the reading/writing of index tensors.

// tensorNumber are the numeric Go types of tensor elements, except float16.
type tensorNumber interface {
	dtypes.Supported
	dtypes.Number
}

// tensorFloat are the float Go types of tensor elements, except float16.
type tensorFloat interface {
	dtypes.Supported
	dtypes.GoFloat
}

// viaFloat32 wraps a kernel that doesn't handle Float16.
func viaFloat32(fn evaluatorFn) evaluatorFn {
	return func(interp *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
		hasFloat16 := false
		for _, t := range append(outputs[:len(outputs):len(outputs)], inputs...) {
			hasFloat16 = hasFloat16 || (t != nil && t.DType() == dtypes.Float16)
		}
		if !hasFloat16 {
			return fn(interp, node, outputs, inputs)
		}
		wideInputs := make([]*tensors.Tensor, len(inputs))
		for ii, input := range inputs {
			wideInputs[ii] = widenFloat16(input)
		}
		wideOutputs := make([]*tensors.Tensor, len(outputs))
		for ii, output := range outputs {
			wideOutputs[ii] = output
			if output.DType() == dtypes.Float16 {
				wideOutputs[ii] = tensors.FromShape(output.Shape().WithDType(dtypes.Float32))
			}
		}
		if err := fn(interp, node, wideOutputs, wideInputs); err != nil {
			return err
		}
		for ii, output := range outputs {
			if output.DType() == dtypes.Float16 {
				narrowFloat32(output, wideOutputs[ii])
			}
		}
		return nil
	}
}

// widenFloat16 returns a Float32 copy of a Float16 tensor, or the tensor itself for other dtypes.
func widenFloat16(t *tensors.Tensor) *tensors.Tensor {
	if t == nil || t.DType() != dtypes.Float16 {
		return t
	}
	wide := tensors.FromShape(t.Shape().WithDType(dtypes.Float32))
	wideFlat := tensors.Flat[float32](wide)
	for ii, v := range tensors.Flat[float16.Float16](t) {
		wideFlat[ii] = v.Float32()
	}
	return wide
}

// narrowFloat32 rounds the Float32 values of src into the Float16 tensor dst.
func narrowFloat32(dst, src *tensors.Tensor) {
	dstFlat := tensors.Flat[float16.Float16](dst)
	for ii, v := range tensors.Flat[float32](src) {
		dstFlat[ii] = float16.Fromfloat32(v)
	}
}

// moveElements sets dst[ii] = src[srcIdx[ii]] for each flat index ii of dst, skipping negative entries of srcIdx.
// dst and src must have the same dtype.
func moveElements(dst, src *tensors.Tensor, srcIdx []int) {
	moveElementsDTypeMap.Get(dst.DType()).(func(dst, src *tensors.Tensor, srcIdx []int))(dst, src, srcIdx)
}

func moveElementsGeneric[T dtypes.Supported](dstT, srcT *tensors.Tensor, srcIdx []int) {
	dst, src := tensors.Flat[T](dstT), tensors.Flat[T](srcT)
	for ii, idx := range srcIdx {
		if idx >= 0 {
			dst[ii] = src[idx]
		}
	}
}

// fill sets all elements of dst to the first element of value.
func fill(dst, value *tensors.Tensor) {
	moveElements(dst, value, make([]int, dst.Size()))
}

// indexMap returns, for each flat index of the static shape, the value of fn for its multi-dimensional indices.
func indexMap(shape shapes.Shape, fn func(indices []int) int) []int {
	mapping := make([]int, 0, shape.Size())
	for indices := range shape.Iter() {
		mapping = append(mapping, fn(indices))
	}
	return mapping
}

// broadcastIterator iterates over the flat indices of a tensor that is being broadcast to a larger shape
// (of the same rank), where some dimensions grow from 1.
type broadcastIterator struct {
	flatIdx     int
	perAxesIdx  []int
	targetDims  []int
	isBroadcast []bool
	strides     []int
}

// newBroadcastIterator returns an iterator over the flat indices of fromDims as it is broadcast to toDims.
// Both must have the same rank.
func newBroadcastIterator(fromDims, toDims []int) *broadcastIterator {
	rank := len(fromDims)
	bi := &broadcastIterator{
		perAxesIdx:  make([]int, rank),
		targetDims:  toDims,
		isBroadcast: make([]bool, rank),
		strides:     make([]int, rank),
	}
	stride := 1
	for axis := rank - 1; axis >= 0; axis-- {
		bi.strides[axis] = stride
		stride *= fromDims[axis]
		bi.isBroadcast[axis] = fromDims[axis] != toDims[axis]
	}
	return bi
}

// Next returns the flat index of the source for the next element of the target.
func (bi *broadcastIterator) Next() (flatIdx int) {
	flatIdx = bi.flatIdx
	bi.flatIdx++
	for axis := len(bi.perAxesIdx) - 1; axis >= 0; axis-- {
		bi.perAxesIdx[axis]++
		if bi.perAxesIdx[axis] < bi.targetDims[axis] {
			if bi.isBroadcast[axis] {
				// Broadcasting on this axis: go back and repeat the same slice of the tensor.
				bi.flatIdx -= bi.strides[axis]
			}
			break
		}
		bi.perAxesIdx[axis] = 0
	}
	return
}

// broadcastIndices returns the flat indices of the operand for each element of output, for an operand aligned
// with the auto-broadcast spec (operandIdx is the position of the operand in the operator).
func broadcastIndices(operand, output shapes.Shape, spec graph.AutoBroadcastSpec, operandIdx int) []int {
	aligned := graph.AlignedDimensions(operand, output.Rank(), spec, operandIdx)
	size := output.Size()
	indices := make([]int, size)
	bi := newBroadcastIterator(aligned, output.Dimensions)
	for ii := range size {
		indices[ii] = bi.Next()
	}
	return indices
}

// readIndices returns the values of an index input, which must be Int32 or Int64. Other integer types are
// converted (with a warning) if Options.WidenIndexTypes is set, and fail with ErrUnsupportedIndexType otherwise.
func (interp *Interpreter) readIndices(node *graph.Node, t *tensors.Tensor, what string) ([]int64, error) {
	dtype := t.DType()
	if !dtype.IsIndex() {
		if !dtype.IsInt() || !interp.opts.WidenIndexTypes {
			return nil, unsupportedIndexType(node, what, dtype)
		}
		klog.Warningf("interpreter: widening %s of %s from %s to int64", what, node, dtype)
	}
	return graph.TensorAsInt64s(t)
}

// writeIndices writes the indices into t, which must be Int32 or Int64.
func writeIndices(node *graph.Node, t *tensors.Tensor, indices []int) error {
	switch t.DType() {
	case dtypes.Int32:
		flat := tensors.Flat[int32](t)
		for ii, idx := range indices {
			flat[ii] = int32(idx)
		}
	case dtypes.Int64:
		flat := tensors.Flat[int64](t)
		for ii, idx := range indices {
			flat[ii] = int64(idx)
		}
	default:
		return unsupportedIndexType(node, "output indices", t.DType())
	}
	return nil
}

// runtimeAxes reads the axes of an input tensor and normalizes them for the given rank.
func runtimeAxes(t *tensors.Tensor, rank int) (graph.AxisSet, error) {
	values, err := graph.TensorAsInt64s(t)
	if err != nil {
		return nil, err
	}
	return graph.NormalizeAxes(values, rank)
}

// scalarAs returns the first value of a numeric tensor converted to T.
func scalarAs[T dtypes.Number](t *tensors.Tensor) (T, error) {
	values, err := graph.TensorAsFloat64s(t)
	if err != nil {
		return 0, err
	}
	if len(values) == 0 {
		return 0, errors.Errorf("expected a scalar, got an empty tensor %s", t.Shape())
	}
	return T(values[0]), nil
}

// lowest returns the lowest value of T: -Inf for floats.
func lowest[T dtypes.Number]() T {
	var zero T
	var v any = zero
	switch any(zero).(type) {
	case float32:
		v = math32.Inf(-1)
	case float64:
		v = math.Inf(-1)
	case int8:
		v = int8(math.MinInt8)
	case int16:
		v = int16(math.MinInt16)
	case int32:
		v = int32(math.MinInt32)
	case int64:
		v = int64(math.MinInt64)
	case int:
		v = int(math.MinInt)
	}
	return v.(T)
}

// highest returns the highest value of T: +Inf for floats.
func highest[T dtypes.Number]() T {
	var zero T
	var v any = zero
	switch any(zero).(type) {
	case float32:
		v = math32.Inf(1)
	case float64:
		v = math.Inf(1)
	case int8:
		v = int8(math.MaxInt8)
	case int16:
		v = int16(math.MaxInt16)
	case int32:
		v = int32(math.MaxInt32)
	case int64:
		v = int64(math.MaxInt64)
	case int:
		v = int(math.MaxInt)
	case uint8:
		v = uint8(math.MaxUint8)
	case uint16:
		v = uint16(math.MaxUint16)
	case uint32:
		v = uint32(math.MaxUint32)
	case uint64:
		v = uint64(math.MaxUint64)
	case uint:
		v = uint(math.MaxUint)
	case uintptr:
		v = ^uintptr(0)
	}
	return v.(T)
}
