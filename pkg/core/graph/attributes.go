// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"fmt"
	"slices"

	"github.com/pkg/errors"
)

// This file holds the attribute types shared by operators of several versions.

// AutoBroadcastType is the policy to align mismatched operand shapes of elementwise operators.
type AutoBroadcastType int

const (
	// AutoBroadcastNone requires the operand shapes to be equal.
	AutoBroadcastNone AutoBroadcastType = iota

	// AutoBroadcastNumpy aligns shapes to the right, and dimensions of size 1 are broadcast.
	AutoBroadcastNumpy

	// AutoBroadcastPDPD broadcasts the second operand into the first, aligned at AutoBroadcastSpec.Axis.
	AutoBroadcastPDPD
)

var autoBroadcastNames = []string{"none", "numpy", "pdpd"}

// String implements fmt.Stringer.
func (t AutoBroadcastType) String() string {
	if int(t) < 0 || int(t) >= len(autoBroadcastNames) {
		return fmt.Sprintf("AutoBroadcastType(%d)", int(t))
	}
	return autoBroadcastNames[t]
}

// AutoBroadcastSpec is the attribute of elementwise operators describing how operands are broadcast.
type AutoBroadcastSpec struct {
	Type AutoBroadcastType

	// Axis is only used by AutoBroadcastPDPD: the axis of the first operand where the second operand is aligned.
	// -1 means aligned to the right.
	Axis int
}

var (
	// NoBroadcast is the default for version 0 elementwise operators.
	NoBroadcast = AutoBroadcastSpec{Type: AutoBroadcastNone}

	// NumpyBroadcast is the default for version 1 elementwise operators.
	NumpyBroadcast = AutoBroadcastSpec{Type: AutoBroadcastNumpy}
)

// PadType defines how the padding of windowed operators (convolutions, pooling) is computed.
type PadType int

const (
	// PadExplicit uses the explicitly given begin/end paddings.
	PadExplicit PadType = iota

	// PadSameUpper pads so the output has ceil(input/stride) elements, with the extra padding at the end.
	PadSameUpper

	// PadSameLower is like PadSameUpper, with the extra padding at the beginning.
	PadSameLower

	// PadValid means no padding.
	PadValid
)

// RoundingType for the output dimensions of pooling operators.
type RoundingType int

const (
	RoundFloor RoundingType = iota
	RoundCeil
)

// PadMode of the Pad operator.
type PadMode int

const (
	PadModeConstant PadMode = iota
	PadModeEdge
	PadModeReflect
	PadModeSymmetric
)

// TopKMode selects whether TopK returns the largest or the smallest elements.
type TopKMode int

const (
	TopKMax TopKMode = iota
	TopKMin
)

// TopKSort defines the order of the elements returned by TopK.
type TopKSort int

const (
	// TopKSortNone leaves the order unspecified. This implementation sorts by value.
	TopKSortNone TopKSort = iota

	// TopKSortIndices orders the selected elements by increasing index in the input.
	TopKSortIndices

	// TopKSortValues orders the selected elements by value: decreasing for TopKMax, increasing for TopKMin.
	TopKSortValues
)

// BroadcastMode of the version 1 Broadcast operator.
type BroadcastMode int

const (
	// BroadcastNumpy aligns the argument to the right of the target shape.
	BroadcastNumpy BroadcastMode = iota

	// BroadcastExplicit maps each argument axis to an output axis with the axes_mapping input.
	BroadcastExplicit
)

// ReverseMode of the version 1 Reverse operator.
type ReverseMode int

const (
	// ReverseIndex interprets the axes input as a list of axes.
	ReverseIndex ReverseMode = iota

	// ReverseMask interprets the axes input as a boolean mask over the axes.
	ReverseMask
)

// AxisSet is a sorted set of axes, without repetitions.
type AxisSet []int

// NewAxisSet returns a sorted AxisSet from the given axes, with duplicates removed.
func NewAxisSet(axes ...int) AxisSet {
	set := slices.Clone(axes)
	slices.Sort(set)
	return slices.Compact(set)
}

// Contains returns whether axis is in the set.
func (s AxisSet) Contains(axis int) bool {
	_, found := slices.BinarySearch(s, axis)
	return found
}

// NormalizeAxis converts a possibly negative axis to its non-negative value for the given rank.
func NormalizeAxis(axis int64, rank int) (int, error) {
	if axis < -int64(rank) || axis >= int64(rank) {
		return 0, errors.Errorf("axis %d out-of-bounds for rank %d", axis, rank)
	}
	if axis < 0 {
		axis += int64(rank)
	}
	return int(axis), nil
}

// NormalizeAxes normalizes each axis (see NormalizeAxis) and returns them as an AxisSet.
func NormalizeAxes(axes []int64, rank int) (AxisSet, error) {
	normalized := make([]int, len(axes))
	for ii, axis := range axes {
		var err error
		normalized[ii], err = NormalizeAxis(axis, rank)
		if err != nil {
			return nil, err
		}
	}
	return NewAxisSet(normalized...), nil
}

// MaskToAxisSet converts a mask (one value per position, non-zero meaning set) to the set of positions set.
func MaskToAxisSet(mask []int64) AxisSet {
	var set AxisSet
	for ii, v := range mask {
		if v != 0 {
			set = append(set, ii)
		}
	}
	return set
}
