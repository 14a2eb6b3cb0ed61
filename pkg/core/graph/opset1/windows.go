// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opset1

import (
	"slices"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/shapeinference"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/support/xslices"
	"github.com/pkg/errors"
)

// AvgPoolAttrs of the version 1 AvgPool.
type AvgPoolAttrs struct {
	Kernel, Strides    []int
	PadsBegin, PadsEnd []int

	// ExcludePad excludes the padded elements from the count of the average.
	ExcludePad bool

	Rounding graph.RoundingType
	AutoPad  graph.PadType
}

// Window returns the pooling window of the attributes.
func (a AvgPoolAttrs) Window() graph.WindowConfig {
	return graph.WindowConfig{
		Kernel:    a.Kernel,
		Strides:   a.Strides,
		Dilations: xslices.SliceWithValue(len(a.Kernel), 1),
		PadsBegin: a.PadsBegin,
		PadsEnd:   a.PadsEnd,
		AutoPad:   a.AutoPad,
		Rounding:  a.Rounding,
	}
}

// ConvAttrs of all convolution operators.
type ConvAttrs = shapeinference.ConvAttrs

// SelectAttrs of Select.
type SelectAttrs struct {
	AutoBroadcast graph.AutoBroadcastSpec
}

// PadAttrs of Pad.
type PadAttrs struct {
	Mode graph.PadMode
}

func init() {
	graph.RegisterShapeInference(opsets.OpTypeAvgPoolV1, func(node *graph.Node) ([]shapes.Shape, error) {
		input := node.Input(0).Shape()
		if !input.DType.IsFloat() {
			return nil, errors.Errorf("AvgPool input must be a float, got %s", input)
		}
		return single(shapeinference.PoolOp(input, node.Attrs().(AvgPoolAttrs).Window()))
	})
	graph.RegisterShapeInference(opsets.OpTypeConvolutionV1, func(node *graph.Node) ([]shapes.Shape, error) {
		return single(shapeinference.ConvolutionOp(node.Input(0).Shape(), node.Input(1).Shape(), node.Attrs().(ConvAttrs)))
	})
	graph.RegisterShapeInference(opsets.OpTypeGroupConvolutionV1, func(node *graph.Node) ([]shapes.Shape, error) {
		return single(shapeinference.GroupConvolutionOp(node.Input(0).Shape(), node.Input(1).Shape(), node.Attrs().(ConvAttrs)))
	})
	graph.RegisterShapeInference(opsets.OpTypeConvolutionBackpropDataV1, func(node *graph.Node) ([]shapes.Shape, error) {
		outputSpatial, err := BackpropOutputSpatial(node)
		if err != nil {
			return nil, err
		}
		return single(shapeinference.ConvolutionBackpropDataOp(node.Input(0).Shape(), node.Input(1).Shape(),
			node.Attrs().(ConvAttrs), outputSpatial))
	})
	graph.RegisterShapeInference(opsets.OpTypeGroupConvolutionBackpropDataV1, func(node *graph.Node) ([]shapes.Shape, error) {
		outputSpatial, err := BackpropOutputSpatial(node)
		if err != nil {
			return nil, err
		}
		return single(shapeinference.GroupConvolutionBackpropDataOp(node.Input(0).Shape(), node.Input(1).Shape(),
			node.Attrs().(ConvAttrs), outputSpatial))
	})
	graph.RegisterShapeInference(opsets.OpTypeSelectV1, inferSelect)
	graph.RegisterShapeInference(opsets.OpTypePadV1, inferPad)
}

// AvgPool computes the average of the windows of x, shaped [batch, channels, spatial...].
// Nil strides default to ones, and nil pads to zeros.
func AvgPool(x graph.Output, attrs AvgPoolAttrs) (*graph.Node, error) {
	attrs.Kernel = slices.Clone(attrs.Kernel)
	attrs.Strides = slices.Clone(attrs.Strides)
	if attrs.Strides == nil {
		attrs.Strides = xslices.SliceWithValue(len(attrs.Kernel), 1)
	}
	attrs.PadsBegin = slices.Clone(attrs.PadsBegin)
	attrs.PadsEnd = slices.Clone(attrs.PadsEnd)
	if attrs.PadsBegin == nil {
		attrs.PadsBegin = make([]int, len(attrs.Kernel))
	}
	if attrs.PadsEnd == nil {
		attrs.PadsEnd = make([]int, len(attrs.Kernel))
	}
	return graph.NewNodeFromInputs(opsets.OpTypeAvgPoolV1, attrs, x)
}

func normalizeConvAttrs(attrs ConvAttrs, filters graph.Output, filterSpatialStart int) ConvAttrs {
	numSpatial := 0
	if filters.IsValid() {
		numSpatial = max(0, filters.Shape().Rank()-filterSpatialStart)
	}
	attrs.Strides = slices.Clone(attrs.Strides)
	if attrs.Strides == nil {
		attrs.Strides = xslices.SliceWithValue(numSpatial, 1)
	}
	attrs.Dilations = slices.Clone(attrs.Dilations)
	if attrs.Dilations == nil {
		attrs.Dilations = xslices.SliceWithValue(numSpatial, 1)
	}
	attrs.PadsBegin = slices.Clone(attrs.PadsBegin)
	if attrs.PadsBegin == nil {
		attrs.PadsBegin = make([]int, numSpatial)
	}
	attrs.PadsEnd = slices.Clone(attrs.PadsEnd)
	if attrs.PadsEnd == nil {
		attrs.PadsEnd = make([]int, numSpatial)
	}
	attrs.OutputPadding = slices.Clone(attrs.OutputPadding)
	return attrs
}

// Convolution of data [N, C_in, spatial...] with filters [C_out, C_in, kernel...].
// Nil strides and dilations default to ones, and nil pads to zeros.
func Convolution(data, filters graph.Output, attrs ConvAttrs) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeConvolutionV1, normalizeConvAttrs(attrs, filters, 2), data, filters)
}

// GroupConvolution of data [N, G*C_in, spatial...] with filters [G, C_out, C_in, kernel...].
func GroupConvolution(data, filters graph.Output, attrs ConvAttrs) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeGroupConvolutionV1, normalizeConvAttrs(attrs, filters, 3), data, filters)
}

// BackpropOutputSpatial returns the output spatial dimensions fixed by the optional output_shape input
// (input #2) of a backprop-data convolution, or nil if there is no such input.
// If the input is not a constant, the dimensions are unknown.
func BackpropOutputSpatial(node *graph.Node) ([]int, error) {
	if node.NumInputs() < 3 {
		return nil, nil
	}
	numSpatial, err := vectorLength(node.Input(2), "backprop output shape")
	if err != nil {
		return nil, err
	}
	dims, ok := graph.ConstantAsInts(node.Input(2))
	if !ok {
		dims = make([]int, numSpatial)
		for axis := range dims {
			dims[axis] = shapes.UnknownDim
		}
	}
	return dims, nil
}

// ConvolutionBackpropData is the transposed convolution of data [N, C_in, spatial...] with
// filters [C_in, C_out, kernel...]. outputShape is optional (the zero graph.Output), and fixes
// the output spatial dimensions.
func ConvolutionBackpropData(data, filters, outputShape graph.Output, attrs ConvAttrs) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeConvolutionBackpropDataV1, normalizeConvAttrs(attrs, filters, 2),
		data, filters, outputShape)
}

// GroupConvolutionBackpropData is the grouped transposed convolution of data [N, G*C_in, spatial...] with
// filters [G, C_in, C_out, kernel...]. outputShape is optional.
func GroupConvolutionBackpropData(data, filters, outputShape graph.Output, attrs ConvAttrs) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeGroupConvolutionBackpropDataV1, normalizeConvAttrs(attrs, filters, 3),
		data, filters, outputShape)
}

func inferSelect(node *graph.Node) ([]shapes.Shape, error) {
	spec := node.Attrs().(SelectAttrs).AutoBroadcast
	if spec.Type == graph.AutoBroadcastPDPD {
		return nil, errors.New("Select does not support PDPD broadcasting")
	}
	cond, onTrue, onFalse := node.Input(0).Shape(), node.Input(1).Shape(), node.Input(2).Shape()
	if cond.DType != dtypes.Bool {
		return nil, errors.Errorf("Select condition must be a bool, got %s", cond)
	}
	if onTrue.DType != onFalse.DType {
		return nil, errors.Errorf("Select values %s and %s must have the same dtype", onTrue, onFalse)
	}
	values, err := graph.BroadcastShapes(onTrue, onFalse, spec)
	if err != nil {
		return nil, errors.WithMessage(err, "Select values")
	}
	output, err := graph.BroadcastShapes(values, shapes.Shape{DType: values.DType, Dimensions: cond.Dimensions}, spec)
	if err != nil {
		return nil, errors.WithMessage(err, "Select condition")
	}
	return []shapes.Shape{output}, nil
}

// Select returns onTrue where cond is true, and onFalse otherwise, broadcasting the three operands.
func Select(cond, onTrue, onFalse graph.Output, autoBroadcast graph.AutoBroadcastSpec) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeSelectV1, SelectAttrs{AutoBroadcast: autoBroadcast}, cond, onTrue, onFalse)
}

// PadAmounts returns the begin and end paddings of a Pad node, whose pads inputs must be constants.
// Negative amounts crop the axis.
func PadAmounts(node *graph.Node) (padsBegin, padsEnd []int, err error) {
	padsBegin, okBegin := graph.ConstantAsInts(node.Input(1))
	padsEnd, okEnd := graph.ConstantAsInts(node.Input(2))
	if !okBegin || !okEnd {
		return nil, nil, errors.New("Pad pads_begin and pads_end must be constants")
	}
	return padsBegin, padsEnd, nil
}

func inferPad(node *graph.Node) ([]shapes.Shape, error) {
	data := node.Input(0).Shape()
	mode := node.Attrs().(PadAttrs).Mode
	for ii, what := range []string{"pads_begin", "pads_end"} {
		if node.Input(1+ii).Shape().Rank() != 1 {
			return nil, errors.Errorf("Pad %s must be 1D, got %s", what, node.Input(1+ii).Shape())
		}
		length, err := vectorLength(node.Input(1+ii), "Pad "+what)
		if err != nil {
			return nil, err
		}
		if length != data.Rank() {
			return nil, errors.Errorf("Pad %s has length %d, but data %s has rank %d", what, length, data, data.Rank())
		}
	}
	if node.NumInputs() > 3 {
		if mode != graph.PadModeConstant {
			return nil, errors.New("Pad value is only used with the constant mode")
		}
		padValue := node.Input(3).Shape()
		if padValue.Rank() != 0 || padValue.DType != data.DType {
			return nil, errors.Errorf("Pad value must be a scalar of dtype %s, got %s", data.DType, padValue)
		}
	}
	if !graph.IsConstant(node.Input(1)) || !graph.IsConstant(node.Input(2)) {
		return []shapes.Shape{unknownDims(data.DType, data.Rank())}, nil
	}
	padsBegin, padsEnd, err := PadAmounts(node)
	if err != nil {
		return nil, err
	}
	for axis, dim := range data.Dimensions {
		if dim == shapes.UnknownDim {
			continue
		}
		limit := -1
		switch mode {
		case graph.PadModeReflect:
			limit = dim - 1
		case graph.PadModeSymmetric:
			limit = dim
		case graph.PadModeEdge:
			if dim == 0 && (padsBegin[axis] > 0 || padsEnd[axis] > 0) {
				return nil, errors.Errorf("Pad edge mode cannot pad the empty axis %d", axis)
			}
		}
		if limit >= 0 && (padsBegin[axis] > limit || padsEnd[axis] > limit) {
			return nil, errors.Errorf("Pad mode %d allows pads up to %d on axis %d of %s, got %d and %d",
				mode, limit, axis, data, padsBegin[axis], padsEnd[axis])
		}
	}
	return single(shapeinference.PadOp(data, padsBegin, padsEnd))
}

// Pad x with padsBegin and padsEnd (1D integer inputs, one entry per axis). padValue is an optional scalar
// used by graph.PadModeConstant; it defaults to zero.
func Pad(x, padsBegin, padsEnd, padValue graph.Output, mode graph.PadMode) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypePadV1, PadAttrs{Mode: mode}, x, padsBegin, padsEnd, padValue)
}
