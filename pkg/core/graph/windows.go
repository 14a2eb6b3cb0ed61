// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// WindowConfig holds the spatial parameters of windowed operators (convolutions and pooling), one value per
// spatial axis.
type WindowConfig struct {
	Kernel    []int
	Strides   []int
	Dilations []int
	PadsBegin []int
	PadsEnd   []int
	AutoPad   PadType
	Rounding  RoundingType
}

// Validate checks that all the parameters have one value per spatial axis, and positive strides and dilations.
func (w WindowConfig) Validate(numSpatial int) error {
	if len(w.Kernel) != numSpatial || len(w.Strides) != numSpatial || len(w.Dilations) != numSpatial {
		return errors.Errorf("window kernel %v, strides %v and dilations %v must have one value per spatial axis (%d)",
			w.Kernel, w.Strides, w.Dilations, numSpatial)
	}
	if w.AutoPad == PadExplicit && (len(w.PadsBegin) != numSpatial || len(w.PadsEnd) != numSpatial) {
		return errors.Errorf("window pads %v and %v must have one value per spatial axis (%d)", w.PadsBegin, w.PadsEnd, numSpatial)
	}
	for axis := range numSpatial {
		if w.Strides[axis] <= 0 || w.Dilations[axis] <= 0 || w.Kernel[axis] <= 0 {
			return errors.Errorf("window kernel %v, strides %v and dilations %v must be positive", w.Kernel, w.Strides, w.Dilations)
		}
	}
	return nil
}

// ResolvePads returns the explicit begin/end paddings for the given input spatial dimensions.
// For PadExplicit it returns the configured paddings; for the automatic modes the input dimensions must be known.
func (w WindowConfig) ResolvePads(inputSpatial []int) (padsBegin, padsEnd []int, err error) {
	numSpatial := len(inputSpatial)
	padsBegin, padsEnd = make([]int, numSpatial), make([]int, numSpatial)
	switch w.AutoPad {
	case PadExplicit:
		copy(padsBegin, w.PadsBegin)
		copy(padsEnd, w.PadsEnd)
	case PadValid:
	case PadSameUpper, PadSameLower:
		for axis, dim := range inputSpatial {
			if dim == shapes.UnknownDim {
				return nil, nil, errors.Errorf("automatic padding requires static spatial dimensions, got %v", inputSpatial)
			}
			effectiveKernel := (w.Kernel[axis]-1)*w.Dilations[axis] + 1
			outDim := (dim + w.Strides[axis] - 1) / w.Strides[axis]
			total := max(0, (outDim-1)*w.Strides[axis]+effectiveKernel-dim)
			if w.AutoPad == PadSameUpper {
				padsBegin[axis] = total / 2
			} else {
				padsBegin[axis] = (total + 1) / 2
			}
			padsEnd[axis] = total - padsBegin[axis]
		}
	default:
		return nil, nil, errors.Errorf("unknown pad type %d", w.AutoPad)
	}
	return padsBegin, padsEnd, nil
}

// OutputSpatial returns the output spatial dimensions of a forward windowed operator.
// Unknown input dimensions yield unknown output dimensions.
func (w WindowConfig) OutputSpatial(inputSpatial []int) ([]int, error) {
	output := make([]int, len(inputSpatial))
	static := true
	for _, dim := range inputSpatial {
		static = static && dim != shapes.UnknownDim
	}
	if !static && w.AutoPad != PadExplicit && w.AutoPad != PadValid {
		for axis := range output {
			output[axis] = shapes.UnknownDim
		}
		return output, nil
	}
	padsBegin, padsEnd, err := w.ResolvePads(inputSpatial)
	if err != nil {
		return nil, err
	}
	for axis, dim := range inputSpatial {
		if dim == shapes.UnknownDim {
			output[axis] = shapes.UnknownDim
			continue
		}
		effectiveKernel := (w.Kernel[axis]-1)*w.Dilations[axis] + 1
		padded := dim + padsBegin[axis] + padsEnd[axis]
		if padded < effectiveKernel {
			return nil, errors.Errorf("window of effective size %d larger than the padded input dimension %d (axis %d)",
				effectiveKernel, padded, axis)
		}
		numerator := padded - effectiveKernel
		if w.Rounding == RoundCeil {
			output[axis] = (numerator+w.Strides[axis]-1)/w.Strides[axis] + 1
		} else {
			output[axis] = numerator/w.Strides[axis] + 1
		}
	}
	return output, nil
}

// BackpropOutputSpatial returns the output spatial dimensions of a transposed (backprop data) windowed
// operator, for the given explicit paddings and output padding.
func (w WindowConfig) BackpropOutputSpatial(inputSpatial, padsBegin, padsEnd, outputPadding []int) []int {
	output := make([]int, len(inputSpatial))
	for axis, dim := range inputSpatial {
		if dim == shapes.UnknownDim {
			output[axis] = shapes.UnknownDim
			continue
		}
		effectiveKernel := (w.Kernel[axis]-1)*w.Dilations[axis] + 1
		output[axis] = w.Strides[axis]*(dim-1) + effectiveKernel - padsBegin[axis] - padsEnd[axis] + outputPadding[axis]
	}
	return output
}
