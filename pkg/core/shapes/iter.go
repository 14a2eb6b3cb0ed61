// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapes

import "iter"

// Iter yields the indices of every element of the shape, in row-major order.
//
// The yielded slice is reused between iterations: copy it if it is needed after the loop body.
// Dynamic shapes and shapes with a zero dimension yield nothing, a scalar yields one empty index.
func (s Shape) Iter() iter.Seq[[]int] {
	return func(yield func([]int) bool) {
		if !s.IsStatic() || s.Size() == 0 {
			return
		}
		indices := make([]int, s.Rank())
		for yield(indices) {
			if !s.next(indices) {
				return
			}
		}
	}
}

// next advances indices to the following element in row-major order. It returns false after the last one.
func (s Shape) next(indices []int) bool {
	for axis := len(indices) - 1; axis >= 0; axis-- {
		indices[axis]++
		if indices[axis] < s.Dimensions[axis] {
			return true
		}
		indices[axis] = 0
	}
	return false
}

// FlatIndex returns the position in the flat buffer of the element at indices, given the strides of the shape.
func FlatIndex(indices, strides []int) int {
	flat := 0
	for axis, idx := range indices {
		flat += idx * strides[axis]
	}
	return flat
}
