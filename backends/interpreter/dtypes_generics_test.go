// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"testing"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// numericDTypes are the element types with a full set of numeric kernels.
var numericDTypes = []dtypes.DType{dtypes.Float64, dtypes.Float32, dtypes.Int8, dtypes.Int16, dtypes.Int32,
	dtypes.Int64, dtypes.Uint8, dtypes.Uint16, dtypes.Uint32}

func TestDTypeMap(t *testing.T) {
	m := newDTypeMap("Test")
	m.Register(dtypes.Int32, func() int { return 32 })
	assert.Panics(t, func() { m.Register(dtypes.Int32, func() int { return 0 }) })
	assert.Panics(t, func() { m.Register(dtypes.InvalidDType, func() int { return 0 }) })
	assert.Nil(t, m.Get(dtypes.Int64))
	assert.Nil(t, m.Get(dtypes.MaxDTypes))

	g := graph.New("dtype_map")
	node, err := opset0.Convert(constant(g, []int32{1}), dtypes.Int64)
	require.NoError(t, err)
	fn, err := kernelFor[func() int](m, node, dtypes.Int32)
	require.NoError(t, err)
	assert.Equal(t, 32, fn())
	_, err = kernelFor[func() int](m, node, dtypes.Int64)
	require.ErrorIs(t, err, ErrUnsupportedElementType)
	assert.Panics(t, func() { _, _ = kernelFor[func() string](m, node, dtypes.Int32) })
}

func TestDTypeMapCoverage(t *testing.T) {
	for _, dtype := range numericDTypes {
		for _, m := range []*dtypeMap{moveElementsDTypeMap, reduceDTypeMap, cumSumDTypeMap, topKDTypeMap,
			arithmeticDTypeMap, convDTypeMap, convBackpropDTypeMap, embeddingSumDTypeMap} {
			assert.NotNilf(t, m.Get(dtype), "%s has no %s instantiation", m.Name, dtype)
		}
		isFloat := dtype == dtypes.Float32 || dtype == dtypes.Float64
		for _, m := range []*dtypeMap{batchNormDTypeMap, detectionOutputDTypeMap} {
			assert.Equalf(t, isFloat, m.Get(dtype) != nil, "%s instantiation for %s", m.Name, dtype)
		}
	}
	for _, dtype := range []dtypes.DType{dtypes.Bool, dtypes.Float16, dtypes.Uint64} {
		assert.NotNil(t, moveElementsDTypeMap.Get(dtype))
		assert.Nil(t, reduceDTypeMap.Get(dtype))
		assert.Nil(t, arithmeticDTypeMap.Get(dtype))
	}
}

// TestConvertEveryPair converts [0, 3] from every source type to every destination type and back to Float64.
func TestConvertEveryPair(t *testing.T) {
	g := graph.New("convert_pairs")
	node, err := opset0.Convert(constant(g, []uint8{0, 3}, 2), dtypes.Float64)
	require.NoError(t, err)
	seed := tensors.FromFlatDataAndDimensions([]uint8{0, 3}, 2)
	sources := append([]dtypes.DType{dtypes.Uint64}, numericDTypes...)
	for _, srcDType := range sources {
		src := tensors.FromShape(shapes.Make(srcDType, 2))
		require.NoError(t, convertTensor(node, seed, src))
		for _, dstDType := range numericDTypes {
			dst := tensors.FromShape(shapes.Make(dstDType, 2))
			require.NoErrorf(t, convertTensor(node, src, dst), "%s -> %s", srcDType, dstDType)
			back := tensors.FromShape(shapes.Make(dtypes.Float64, 2))
			require.NoError(t, convertTensor(node, dst, back))
			assert.Equalf(t, []float64{0, 3}, tensors.Flat[float64](back), "%s -> %s", srcDType, dstDType)
		}
		toBool := tensors.FromShape(shapes.Make(dtypes.Bool, 2))
		require.NoError(t, convertTensor(node, src, toBool))
		assert.Equal(t, []bool{false, true}, tensors.Flat[bool](toBool))
	}

	fromBool := tensors.FromFlatDataAndDimensions([]bool{true, false}, 2)
	dst := tensors.FromShape(shapes.Make(dtypes.Int16, 2))
	require.NoError(t, convertTensor(node, fromBool, dst))
	assert.Equal(t, []int16{1, 0}, tensors.Flat[int16](dst))

	toUint64 := tensors.FromShape(shapes.Make(dtypes.Uint64, 2))
	require.ErrorIs(t, convertTensor(node, seed, toUint64), ErrUnsupportedElementType)
}
