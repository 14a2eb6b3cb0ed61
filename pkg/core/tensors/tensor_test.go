// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package tensors

import (
	"testing"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestNew(t *testing.T) {
	tensor, err := New(shapes.Make(dtypes.Float16, 2, 3))
	require.NoError(t, err)
	assert.Equal(t, 6, tensor.Size())
	assert.Len(t, Flat[float16.Float16](tensor), 6)
	assert.Len(t, tensor.Bytes(), 12)

	_, err = New(shapes.Make(dtypes.Float32, 2, shapes.UnknownDim))
	require.Error(t, err)
	_, err = New(shapes.Invalid())
	require.Error(t, err)
	require.Panics(t, func() { FromShape(shapes.Make(dtypes.Int8, shapes.UnknownDim)) })
}

func TestFromFlatDataAndDimensions(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int32{1, 2, 3, 4}, 2, 2)
	assert.Equal(t, dtypes.Int32, tensor.DType())
	assert.Equal(t, []int32{1, 2, 3, 4}, Flat[int32](tensor))
	require.Panics(t, func() { _ = Flat[int64](tensor) })
	require.Panics(t, func() { FromFlatDataAndDimensions([]int32{1, 2, 3}, 2, 2) })

	fromInt := FromFlatDataAndDimensions([]int{7, 8}, 2)
	assert.Equal(t, dtypes.Int64, fromInt.DType())
	assert.Equal(t, []int64{7, 8}, Flat[int64](fromInt))

	scalar := FromScalar(float64(3))
	assert.True(t, scalar.Shape().IsScalar())
	assert.Equal(t, 3.0, ToScalar[float64](scalar))
}

func TestCopyAndEqual(t *testing.T) {
	a := FromFlatDataAndDimensions([]float32{1, 2, 3}, 3)
	b := a.Clone()
	assert.True(t, a.Equal(b))
	Flat[float32](b)[1] = 7
	assert.False(t, a.Equal(b))
	require.NoError(t, a.CopyFrom(b))
	assert.Equal(t, []float32{1, 7, 3}, Flat[float32](a))
	require.Error(t, a.CopyFrom(FromScalar(float32(1))))

	a.Zero()
	assert.Equal(t, []float32{0, 0, 0}, Flat[float32](a))
}

func TestString(t *testing.T) {
	tensor := FromFlatDataAndDimensions([]int8{1, 2}, 2)
	assert.Equal(t, "(Int8)[2] (2 B) {1, 2}", tensor.String())
}
