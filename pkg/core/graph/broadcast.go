// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// BroadcastShapes returns the output shape of an elementwise operator on operands a and b, under the given
// auto-broadcast policy. The output dtype is the one of a.
//
// Unknown dimensions are merged optimistically: an unknown dimension is compatible with any other.
func BroadcastShapes(a, b shapes.Shape, spec AutoBroadcastSpec) (shapes.Shape, error) {
	switch spec.Type {
	case AutoBroadcastNone:
		if a.Rank() != b.Rank() {
			return shapes.Invalid(), errors.Errorf("operand shapes %s and %s must be equal without auto-broadcast", a, b)
		}
		output := a.Clone()
		for axis, dimA := range a.Dimensions {
			dimB := b.Dimensions[axis]
			switch {
			case dimA == dimB:
			case dimA == shapes.UnknownDim:
				output.Dimensions[axis] = dimB
			case dimB == shapes.UnknownDim:
			default:
				return shapes.Invalid(), errors.Errorf("operand shapes %s and %s must be equal without auto-broadcast", a, b)
			}
		}
		return output, nil

	case AutoBroadcastNumpy:
		rank := max(a.Rank(), b.Rank())
		alignedA := AlignedDimensions(a, rank, spec, 0)
		alignedB := AlignedDimensions(b, rank, spec, 1)
		output := shapes.Shape{DType: a.DType, Dimensions: make([]int, rank)}
		for axis := range rank {
			dim, ok := broadcastDim(alignedA[axis], alignedB[axis])
			if !ok {
				return shapes.Invalid(), errors.Errorf("operand shapes %s and %s are not numpy broadcast compatible (axis %d)", a, b, axis)
			}
			output.Dimensions[axis] = dim
		}
		return output, nil

	case AutoBroadcastPDPD:
		axis := spec.Axis
		if axis == -1 {
			axis = a.Rank() - b.Rank()
		}
		if axis < 0 || axis+b.Rank() > a.Rank() {
			return shapes.Invalid(), errors.Errorf("operand shape %s cannot be pdpd broadcast into %s at axis %d", b, a, spec.Axis)
		}
		for ii, dimB := range b.Dimensions {
			dimA := a.Dimensions[axis+ii]
			if dimB != 1 && dimA != dimB && dimA != shapes.UnknownDim && dimB != shapes.UnknownDim {
				return shapes.Invalid(), errors.Errorf("operand shape %s cannot be pdpd broadcast into %s at axis %d", b, a, spec.Axis)
			}
		}
		return a.Clone(), nil
	}
	return shapes.Invalid(), errors.Errorf("unknown auto-broadcast type %s", spec.Type)
}

func broadcastDim(dimA, dimB int) (int, bool) {
	switch {
	case dimA == dimB:
		return dimA, true
	case dimA == 1:
		return dimB, true
	case dimB == 1:
		return dimA, true
	case dimA == shapes.UnknownDim:
		return dimB, true
	case dimB == shapes.UnknownDim:
		return dimA, true
	}
	return 0, false
}

// AlignedDimensions returns the dimensions of operand #operandIdx expanded to outputRank, with 1s inserted
// at the axes it doesn't have, according to the broadcast policy.
//
// For AutoBroadcastPDPD, the second operand (operandIdx=1) is aligned at spec.Axis of the first, whose rank is
// outputRank.
func AlignedDimensions(operand shapes.Shape, outputRank int, spec AutoBroadcastSpec, operandIdx int) []int {
	aligned := make([]int, outputRank)
	for ii := range aligned {
		aligned[ii] = 1
	}
	offset := outputRank - operand.Rank()
	if spec.Type == AutoBroadcastPDPD && operandIdx == 1 && spec.Axis != -1 {
		offset = spec.Axis
	}
	copy(aligned[offset:], operand.Dimensions)
	return aligned
}
