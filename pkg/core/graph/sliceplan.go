// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"slices"

	"github.com/pkg/errors"
)

// SlicePlan is the desugaring of a strided slice (with masks, negative indices and strides, new axes and
// shrunk axes) into three plain steps:
//
//  1. A slice with non-negative begins, ends and positive strides, one per input axis, producing ReshapeIn.
//  2. A reshape from ReshapeIn to ReshapeOut, which inserts new axes and removes shrunk axes.
//  3. A reversal of ReverseAxes (axes of ReshapeOut), for the axes sliced with negative strides.
type SlicePlan struct {
	Begins, Ends, Strides []int
	ReshapeIn, ReshapeOut []int
	ReverseAxes           AxisSet
}

// NeedsReshape returns whether step 2 changes the shape.
func (p SlicePlan) NeedsReshape() bool {
	return !slices.Equal(p.ReshapeIn, p.ReshapeOut)
}

// StridedSliceMasks holds the axis sets of a strided slice. The positions refer to the begin/end/strides
// entries, not to the input axes.
type StridedSliceMasks struct {
	// LowerBounds are positions whose begin is ignored: the slice starts at the beginning (or the end, if the
	// stride is negative).
	LowerBounds AxisSet

	// UpperBounds are positions whose end is ignored.
	UpperBounds AxisSet

	// NewAxis positions insert a new axis of dimension 1.
	NewAxis AxisSet

	// ShrinkAxis positions take the single element at begin and remove the axis.
	ShrinkAxis AxisSet

	// Ellipsis position (at most one) expands to all the axes not otherwise referred to.
	Ellipsis AxisSet
}

// MakeSlicePlan computes the SlicePlan of a strided slice over an input with static dimensions inputDims.
func MakeSlicePlan(inputDims []int, begins, ends, strides []int64, masks StridedSliceMasks) (SlicePlan, error) {
	var p SlicePlan
	if len(begins) != len(ends) || len(ends) != len(strides) {
		return p, errors.Errorf("strided slice begin (%d), end (%d) and strides (%d) must have the same length",
			len(begins), len(ends), len(strides))
	}
	numSliceIndices := len(begins)

	numRealAxes, numShrinkAxes, numNewAxes := 0, 0, 0
	ellipsisFound := false
	for ii := range numSliceIndices {
		switch {
		case masks.Ellipsis.Contains(ii):
			if ellipsisFound {
				return p, errors.New("strided slice can have at most one ellipsis")
			}
			ellipsisFound = true
		case masks.NewAxis.Contains(ii):
			numNewAxes++
		default:
			if masks.ShrinkAxis.Contains(ii) {
				numShrinkAxes++
			}
			numRealAxes++
		}
	}
	if numRealAxes > len(inputDims) {
		return p, errors.Errorf("strided slice has %d real axes, more than the input rank %d", numRealAxes, len(inputDims))
	}

	// The ellipsis (explicit, or implicit at the end) expands to the axes not referred to.
	ellipsisSize := len(inputDims) - numRealAxes
	numInAxes := numRealAxes + ellipsisSize
	p.Begins = make([]int, numInAxes)
	p.Ends = make([]int, numInAxes)
	p.Strides = make([]int, numInAxes)
	p.ReshapeIn = make([]int, numInAxes)
	p.ReshapeOut = make([]int, numNewAxes+numRealAxes+ellipsisSize-numShrinkAxes)

	inAxis, outAxis := 0, 0
	numPositions := numSliceIndices
	if !ellipsisFound {
		numPositions++
	}
	for ii := range numPositions {
		if ii == numSliceIndices || masks.Ellipsis.Contains(ii) {
			for range ellipsisSize {
				dim := inputDims[inAxis]
				p.Begins[inAxis], p.Ends[inAxis], p.Strides[inAxis] = 0, dim, 1
				p.ReshapeIn[inAxis] = dim
				p.ReshapeOut[outAxis] = dim
				inAxis++
				outAxis++
			}
			continue
		}
		if masks.NewAxis.Contains(ii) {
			p.ReshapeOut[outAxis] = 1
			outAxis++
			continue
		}

		dim := int64(inputDims[inAxis])
		if masks.ShrinkAxis.Contains(ii) {
			begin := begins[ii]
			if begin < -dim || begin >= dim {
				return p, errors.Errorf("strided slice shrink index %d out-of-bounds for axis %d of dimension %d", begin, inAxis, dim)
			}
			if begin < 0 {
				begin += dim
			}
			p.Begins[inAxis], p.Ends[inAxis], p.Strides[inAxis] = int(begin), int(begin)+1, 1
			p.ReshapeIn[inAxis] = 1
			inAxis++
			continue
		}

		stride := strides[ii]
		if stride == 0 {
			return p, errors.Errorf("strided slice stride at position %d cannot be 0", ii)
		}
		isReverse := stride < 0
		var realBegin, realEnd int64
		if isReverse {
			// Negative strides iterate from begin down to (excluding) end, within [-1, dim-1].
			if masks.LowerBounds.Contains(ii) {
				realBegin = dim - 1
			} else {
				realBegin = clipIndex(begins[ii], dim, -1, dim-1)
			}
			if masks.UpperBounds.Contains(ii) {
				realEnd = -1
			} else {
				realEnd = clipIndex(ends[ii], dim, -1, dim-1)
			}
		} else {
			if masks.LowerBounds.Contains(ii) {
				realBegin = 0
			} else {
				realBegin = clipIndex(begins[ii], dim, 0, dim)
			}
			if masks.UpperBounds.Contains(ii) {
				realEnd = dim
			} else {
				realEnd = clipIndex(ends[ii], dim, 0, dim)
			}
		}

		realStride := stride
		if isReverse {
			// Convert to an equivalent forward slice, reversed afterwards: the first element of the forward
			// slice is the last element reached by the backward iteration.
			realStride = -stride
			realEnd += max(0, realBegin-realEnd-1) % realStride
			realBegin, realEnd = realEnd+1, realBegin+1
			p.ReverseAxes = append(p.ReverseAxes, outAxis)
		}
		if realEnd < realBegin {
			realEnd = realBegin
		}

		var outDim int64
		if realEnd > realBegin {
			outDim = (realEnd-realBegin-1)/realStride + 1
		}
		if outDim == 1 {
			realEnd = realBegin + 1
			realStride = 1
		}
		p.Begins[inAxis], p.Ends[inAxis], p.Strides[inAxis] = int(realBegin), int(realEnd), int(realStride)
		p.ReshapeIn[inAxis] = int(outDim)
		p.ReshapeOut[outAxis] = int(outDim)
		inAxis++
		outAxis++
	}
	return p, nil
}

// clipIndex converts a possibly negative index to a non-negative one (for dimension dim) and clips it to [low, high].
func clipIndex(index, dim, low, high int64) int64 {
	if index < 0 {
		index += dim
	}
	return min(max(index, low), high)
}

// SliceOutputDim returns the number of elements of a plain slice [begin, end) with a positive stride.
func SliceOutputDim(begin, end, stride int) int {
	if end <= begin {
		return 0
	}
	return (end-begin-1)/stride + 1
}
