// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package shapeinference

import (
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// ConvAttrs are the attributes common to the convolution operators. The kernel size comes from the filters.
type ConvAttrs struct {
	Strides       []int
	Dilations     []int
	PadsBegin     []int
	PadsEnd       []int
	AutoPad       graph.PadType
	OutputPadding []int // Only used by the backprop-data variants.
}

// Window returns the WindowConfig of the convolution for the given kernel spatial dimensions.
func (c ConvAttrs) Window(kernel []int) graph.WindowConfig {
	return graph.WindowConfig{
		Kernel:    kernel,
		Strides:   c.Strides,
		Dilations: c.Dilations,
		PadsBegin: c.PadsBegin,
		PadsEnd:   c.PadsEnd,
		AutoPad:   c.AutoPad,
	}
}

func dimsMatch(a, b int) bool {
	return a == b || a == unknown || b == unknown
}

func checkConvOperands(data, filters shapes.Shape, filterSpatialStart int) (kernel []int, err error) {
	if data.DType != filters.DType {
		return nil, errors.Errorf("convolution data %s and filters %s must have the same dtype", data, filters)
	}
	if data.Rank() < 3 {
		return nil, errors.Errorf("convolution data must be [batch, channels, spatial...], got %s", data)
	}
	if filters.Rank() != filterSpatialStart+data.Rank()-2 {
		return nil, errors.Errorf("convolution filters %s have the wrong rank for data %s", filters, data)
	}
	kernel = filters.Dimensions[filterSpatialStart:]
	for _, dim := range kernel {
		if dim == unknown {
			return nil, errors.Errorf("convolution filters %s must have static spatial dimensions", filters)
		}
	}
	return kernel, nil
}

// ConvolutionOp returns the output shape of a convolution of data [N, C_in, spatial...] with
// filters [C_out, C_in, kernel...].
func ConvolutionOp(data, filters shapes.Shape, attrs ConvAttrs) (shapes.Shape, error) {
	kernel, err := checkConvOperands(data, filters, 2)
	if err != nil {
		return shapes.Invalid(), err
	}
	if !dimsMatch(data.Dimensions[1], filters.Dimensions[1]) {
		return shapes.Invalid(), errors.Errorf("convolution data %s and filters %s have different input channels", data, filters)
	}
	return windowedOutput(data, kernel, attrs, filters.Dimensions[0])
}

// GroupConvolutionOp returns the output shape of a grouped convolution of data [N, G*C_in, spatial...] with
// filters [G, C_out, C_in, kernel...]. The output has G*C_out channels.
func GroupConvolutionOp(data, filters shapes.Shape, attrs ConvAttrs) (shapes.Shape, error) {
	kernel, err := checkConvOperands(data, filters, 3)
	if err != nil {
		return shapes.Invalid(), err
	}
	groups, outChannels, inChannels := filters.Dimensions[0], filters.Dimensions[1], filters.Dimensions[2]
	if groups == unknown || outChannels == unknown || inChannels == unknown {
		return shapes.Invalid(), errors.Errorf("group convolution filters %s must have static groups and channels", filters)
	}
	if !dimsMatch(data.Dimensions[1], groups*inChannels) {
		return shapes.Invalid(), errors.Errorf("group convolution data %s must have groups*input channels = %d channels", data, groups*inChannels)
	}
	return windowedOutput(data, kernel, attrs, groups*outChannels)
}

func windowedOutput(data shapes.Shape, kernel []int, attrs ConvAttrs, outChannels int) (shapes.Shape, error) {
	window := attrs.Window(kernel)
	if err := window.Validate(len(kernel)); err != nil {
		return shapes.Invalid(), err
	}
	spatial, err := window.OutputSpatial(data.Dimensions[2:])
	if err != nil {
		return shapes.Invalid(), err
	}
	output := data.Clone()
	output.Dimensions[1] = outChannels
	copy(output.Dimensions[2:], spatial)
	return output, nil
}

// BackpropPads returns the explicit paddings of a backprop-data convolution.
//
// If outputSpatial is given, the paddings are computed to produce it (extra padding at the end, except for
// graph.PadSameLower). Otherwise, the automatic pad types are resolved like for the forward convolution.
func BackpropPads(inputSpatial, outputSpatial []int, window graph.WindowConfig, outputPadding []int) (padsBegin, padsEnd []int, err error) {
	numSpatial := len(inputSpatial)
	if outputSpatial == nil {
		switch window.AutoPad {
		case graph.PadExplicit, graph.PadValid:
			return window.ResolvePads(inputSpatial)
		}
		// Automatic "same" pads: the output has input*stride elements.
		outputSpatial = make([]int, numSpatial)
		for axis, dim := range inputSpatial {
			if dim == unknown {
				return nil, nil, errors.Errorf("automatic padding requires static spatial dimensions, got %v", inputSpatial)
			}
			outputSpatial[axis] = dim * window.Strides[axis]
		}
	}
	padsBegin, padsEnd = make([]int, numSpatial), make([]int, numSpatial)
	for axis, dim := range inputSpatial {
		if dim == unknown {
			return nil, nil, errors.Errorf("backprop output shape requires static spatial dimensions, got %v", inputSpatial)
		}
		effectiveKernel := (window.Kernel[axis]-1)*window.Dilations[axis] + 1
		total := window.Strides[axis]*(dim-1) + effectiveKernel + outputPadding[axis] - outputSpatial[axis]
		if total < 0 {
			return nil, nil, errors.Errorf("backprop output spatial dimensions %v too large for input %v", outputSpatial, inputSpatial)
		}
		if window.AutoPad == graph.PadSameLower {
			padsBegin[axis] = (total + 1) / 2
		} else {
			padsBegin[axis] = total / 2
		}
		padsEnd[axis] = total - padsBegin[axis]
	}
	return padsBegin, padsEnd, nil
}

// ConvolutionBackpropDataOp returns the output shape of the transposed convolution of data [N, C_in, spatial...]
// with filters [C_in, C_out, kernel...]. outputSpatial optionally fixes the output spatial dimensions.
func ConvolutionBackpropDataOp(data, filters shapes.Shape, attrs ConvAttrs, outputSpatial []int) (shapes.Shape, error) {
	kernel, err := checkConvOperands(data, filters, 2)
	if err != nil {
		return shapes.Invalid(), err
	}
	if !dimsMatch(data.Dimensions[1], filters.Dimensions[0]) {
		return shapes.Invalid(), errors.Errorf("backprop data %s and filters %s have different input channels", data, filters)
	}
	return backpropOutput(data, kernel, attrs, outputSpatial, filters.Dimensions[1])
}

// GroupConvolutionBackpropDataOp returns the output shape of the grouped transposed convolution of
// data [N, G*C_in, spatial...] with filters [G, C_in, C_out, kernel...]. The output has G*C_out channels.
func GroupConvolutionBackpropDataOp(data, filters shapes.Shape, attrs ConvAttrs, outputSpatial []int) (shapes.Shape, error) {
	kernel, err := checkConvOperands(data, filters, 3)
	if err != nil {
		return shapes.Invalid(), err
	}
	groups, inChannels, outChannels := filters.Dimensions[0], filters.Dimensions[1], filters.Dimensions[2]
	if groups == unknown || outChannels == unknown || inChannels == unknown {
		return shapes.Invalid(), errors.Errorf("group backprop filters %s must have static groups and channels", filters)
	}
	if !dimsMatch(data.Dimensions[1], groups*inChannels) {
		return shapes.Invalid(), errors.Errorf("group backprop data %s must have groups*input channels = %d channels", data, groups*inChannels)
	}
	return backpropOutput(data, kernel, attrs, outputSpatial, groups*outChannels)
}

func backpropOutput(data shapes.Shape, kernel []int, attrs ConvAttrs, outputSpatial []int, outChannels int) (shapes.Shape, error) {
	numSpatial := len(kernel)
	window := attrs.Window(kernel)
	if err := window.Validate(numSpatial); err != nil {
		return shapes.Invalid(), err
	}
	outputPadding := attrs.OutputPadding
	if outputPadding == nil {
		outputPadding = make([]int, numSpatial)
	}
	if len(outputPadding) != numSpatial || (outputSpatial != nil && len(outputSpatial) != numSpatial) {
		return shapes.Invalid(), errors.Errorf("backprop output padding %v and output shape %v must have one value per spatial axis",
			outputPadding, outputSpatial)
	}
	output := data.Clone()
	output.Dimensions[1] = outChannels
	inputSpatial := data.Dimensions[2:]
	static := true
	for _, dim := range inputSpatial {
		static = static && dim != unknown
	}
	switch {
	case outputSpatial != nil:
		copy(output.Dimensions[2:], outputSpatial)
	case !static:
		for axis := range numSpatial {
			output.Dimensions[2+axis] = unknown
		}
	default:
		padsBegin, padsEnd, err := BackpropPads(inputSpatial, nil, window, outputPadding)
		if err != nil {
			return shapes.Invalid(), err
		}
		copy(output.Dimensions[2:], window.BackpropOutputSpatial(inputSpatial, padsBegin, padsEnd, outputPadding))
	}
	for axis := range numSpatial {
		if dim := output.Dimensions[2+axis]; dim != unknown && dim <= 0 {
			return shapes.Invalid(), errors.Errorf("backprop of %s produces non-positive output dimension %d at spatial axis %d", data, dim, axis)
		}
	}
	return output, nil
}
