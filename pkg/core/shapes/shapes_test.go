// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import (
	"testing"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShape(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3, 4)
	assert.Equal(t, 3, s.Rank())
	assert.Equal(t, 24, s.Size())
	assert.Equal(t, uintptr(96), s.Memory())
	assert.Equal(t, []int{12, 4, 1}, s.Strides())
	assert.Equal(t, 4, s.Dim(-1))
	assert.True(t, s.IsStatic())
	assert.Equal(t, "(Float32)[2 3 4]", s.String())
	require.Panics(t, func() { _ = s.Dim(3) })

	scalar := Scalar[int64]()
	assert.True(t, scalar.IsScalar())
	assert.Equal(t, 1, scalar.Size())
	assert.Equal(t, "(Int64)", scalar.String())

	empty := Make(dtypes.Int8, 0, 3)
	assert.Equal(t, 0, empty.Size())
	require.Panics(t, func() { Make(dtypes.Int8, -2) })
}

func TestDynamicShape(t *testing.T) {
	s := Make(dtypes.Float16, 2, UnknownDim)
	assert.False(t, s.IsStatic())
	assert.Equal(t, "(Float16)[2 ?]", s.String())
	require.Panics(t, func() { _ = s.Size() })

	assert.True(t, s.Compatible(Make(dtypes.Float16, 2, 7)))
	assert.False(t, s.Compatible(Make(dtypes.Float16, 3, 7)))
	assert.False(t, s.Compatible(Make(dtypes.Float32, 2, 7)))
	assert.False(t, s.Equal(Make(dtypes.Float16, 2, 7)))
	assert.True(t, s.Equal(s.Clone()))
}

func TestIter(t *testing.T) {
	s := Make(dtypes.Float32, 2, 3)
	strides := s.Strides()
	var flat []int
	for indices := range s.Iter() {
		flat = append(flat, FlatIndex(indices, strides))
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, flat)

	count := 0
	for range Scalar[float32]().Iter() {
		count++
	}
	assert.Equal(t, 1, count)

	count = 0
	for range Make(dtypes.Float32, 3, 0).Iter() {
		count++
	}
	for range Make(dtypes.Float32, 3, UnknownDim).Iter() {
		count++
	}
	assert.Equal(t, 0, count)
}
