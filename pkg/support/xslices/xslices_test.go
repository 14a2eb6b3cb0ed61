// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSliceWithValue(t *testing.T) {
	assert.Equal(t, []int{1, 1, 1}, SliceWithValue(3, 1))
	assert.Empty(t, SliceWithValue(0, "x"))
}

func TestIota(t *testing.T) {
	assert.Equal(t, []int{0, 1, 2}, Iota(0, 3))
	assert.Equal(t, []float64{3, 4}, Iota(3.0, 2))
	assert.Empty(t, Iota(int64(5), 0))
}

func TestMap(t *testing.T) {
	assert.Equal(t, []string{"1", "2"}, Map([]int{1, 2}, strconv.Itoa))
	assert.Equal(t, []int64{-1, 7}, Map([]int8{-1, 7}, func(v int8) int64 { return int64(v) }))
}
