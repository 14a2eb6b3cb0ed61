// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"iter"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/graph/opset1"
	"github.com/gomlx/opgraph/pkg/core/graph/shapeinference"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/gomlx/opgraph/pkg/support/xslices"
)

func init() {
	registerNumeric(opsets.OpTypeMVN, execMVN)
	registerNumeric(opsets.OpTypeLRN, execLRN)
	registerNumeric(opsets.OpTypeBatchNormInference, execBatchNormInference)
	registerNumeric(opsets.OpTypeAvgPool, execAvgPool)
	registerNumeric(opsets.OpTypeAvgPoolV1, execAvgPool)
	registerNumeric(opsets.OpTypeConvolutionV1, execConvolution)
	registerNumeric(opsets.OpTypeGroupConvolutionV1, execConvolution)
	registerNumeric(opsets.OpTypeConvolutionBackpropDataV1, execConvolutionBackpropData)
	registerNumeric(opsets.OpTypeGroupConvolutionBackpropDataV1, execConvolutionBackpropData)
	registerStub(opsets.OpTypeRNNCell)
}

// boxIter iterates over the indices of a box with the given (static) dimensions.
func boxIter(dims []int) iter.Seq[[]int] {
	return shapes.Make(dtypes.Int64, dims...).Iter()
}

func execMVN(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	attrs := node.Attrs().(opset0.MVNAttrs)
	input := inputs[0].Shape()
	mapping := reducedIndexMap(input, attrs.ReductionAxes)
	numGroups := 1
	for axis, dim := range input.Dimensions {
		if !attrs.ReductionAxes.Contains(axis) {
			numGroups *= dim
		}
	}
	return floatKernel(node, outputs[0], inputs[0],
		func(out, in []float32) error { mvnGeneric(out, in, mapping, numGroups, attrs); return nil },
		func(out, in []float64) error { mvnGeneric(out, in, mapping, numGroups, attrs); return nil })
}

func mvnGeneric[T dtypes.GoFloat](out, in []T, mapping []int, numGroups int, attrs opset0.MVNAttrs) {
	means := make([]T, numGroups)
	counts := make([]T, numGroups)
	for ii, v := range in {
		means[mapping[ii]] += v
		counts[mapping[ii]]++
	}
	for g := range means {
		if counts[g] > 0 {
			means[g] /= counts[g]
		}
	}
	for ii, v := range in {
		out[ii] = v - means[mapping[ii]]
	}
	if !attrs.NormalizeVariance {
		return
	}
	variances := make([]T, numGroups)
	for ii, v := range out {
		variances[mapping[ii]] += v * v
	}
	for g := range variances {
		if counts[g] > 0 {
			variances[g] /= counts[g]
		}
	}
	eps := T(attrs.Eps)
	for ii := range out {
		out[ii] /= sqrtT(variances[mapping[ii]] + eps)
	}
}

// execLRN computes x / (bias + alpha/size^len(axes) * sum(x^2))^beta, where the sum is over a window of
// size elements centered on each position, along each of the axes.
func execLRN(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	attrs := node.Attrs().(opset0.LRNAttrs)
	input := inputs[0].Shape()
	axes, err := runtimeAxes(inputs[1], input.Rank())
	if err != nil {
		return err
	}
	windows := make([][]int, input.Size())
	strides := input.Strides()
	half := (attrs.Size - 1) / 2
	var flatIdx int
	for indices := range input.Iter() {
		lo, hi := make([]int, len(axes)), make([]int, len(axes))
		for ii, axis := range axes {
			lo[ii] = max(0, indices[axis]-half)
			hi[ii] = min(input.Dimensions[axis], indices[axis]+half+1)
		}
		var window []int
		boxDims := make([]int, len(axes))
		for ii := range boxDims {
			boxDims[ii] = hi[ii] - lo[ii]
		}
		for offsets := range boxIter(boxDims) {
			flat := flatIdx
			for ii, axis := range axes {
				flat += (lo[ii] + offsets[ii] - indices[axis]) * strides[axis]
			}
			window = append(window, flat)
		}
		windows[flatIdx] = window
		flatIdx++
	}
	scale := attrs.Alpha
	for range axes {
		scale /= float64(attrs.Size)
	}
	return floatKernel(node, outputs[0], inputs[0],
		func(out, in []float32) error { lrnGeneric(out, in, windows, scale, attrs); return nil },
		func(out, in []float64) error { lrnGeneric(out, in, windows, scale, attrs); return nil })
}

func lrnGeneric[T dtypes.GoFloat](out, in []T, windows [][]int, scale float64, attrs opset0.LRNAttrs) {
	for ii, v := range in {
		var sum T
		for _, idx := range windows[ii] {
			sum += in[idx] * in[idx]
		}
		out[ii] = v / powT(T(attrs.Bias)+T(scale)*sum, T(attrs.Beta))
	}
}

// execBatchNormInference takes its inputs in the order gamma, beta, input, mean, variance. The channels are
// on axis 1 of the input.
func execBatchNormInference(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	epsilon := node.Attrs().(opset0.BatchNormInferenceAttrs).Epsilon
	outer, channels, inner := axisLayout(inputs[2].Shape(), 1)
	batchNorm, err := kernelFor[func(*tensors.Tensor, []*tensors.Tensor, float64, int, int, int)](
		batchNormDTypeMap, node, outputs[0].DType())
	if err != nil {
		return err
	}
	batchNorm(outputs[0], inputs, epsilon, outer, channels, inner)
	return nil
}

func batchNormGeneric[T tensorFloat](output *tensors.Tensor, inputs []*tensors.Tensor, epsilon float64, outer, channels, inner int) {
	gamma, beta := tensors.Flat[T](inputs[0]), tensors.Flat[T](inputs[1])
	in, mean, variance := tensors.Flat[T](inputs[2]), tensors.Flat[T](inputs[3]), tensors.Flat[T](inputs[4])
	out := tensors.Flat[T](output)
	for o := range outer {
		for c := range channels {
			scale := gamma[c] / sqrtT(variance[c]+T(epsilon))
			base := (o*channels + c) * inner
			for i := range inner {
				out[base+i] = (in[base+i]-mean[c])*scale + beta[c]
			}
		}
	}
}

// windowGeometry holds the static geometry of a windowed operator over [batch, channels, spatial...] tensors.
type windowGeometry struct {
	inSpatial, outSpatial []int
	kernel                []int
	strides, dilations    []int
	padsBegin, padsEnd    []int
}

func makeWindowGeometry(input, output shapes.Shape, window graph.WindowConfig) (windowGeometry, error) {
	g := windowGeometry{
		inSpatial:  input.Dimensions[2:],
		outSpatial: output.Dimensions[2:],
		kernel:     window.Kernel,
		strides:    window.Strides,
		dilations:  window.Dilations,
	}
	if g.dilations == nil {
		g.dilations = xslices.SliceWithValue(len(g.kernel), 1)
	}
	var err error
	g.padsBegin, g.padsEnd, err = window.ResolvePads(g.inSpatial)
	return g, err
}

// inputPosition returns the input spatial position of the kernel position for the output position, and
// whether it is inside the input. padded reports whether it is inside the padded input.
func (g *windowGeometry) inputPosition(outIdx, kernelIdx, position []int) (inside, padded bool) {
	inside, padded = true, true
	for axis := range position {
		p := outIdx[axis]*g.strides[axis] - g.padsBegin[axis] + kernelIdx[axis]*g.dilations[axis]
		position[axis] = p
		if p < 0 || p >= g.inSpatial[axis] {
			inside = false
			if p < -g.padsBegin[axis] || p >= g.inSpatial[axis]+g.padsEnd[axis] {
				padded = false
			}
		}
	}
	return
}

func execAvgPool(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	var (
		window         graph.WindowConfig
		includePadding bool
	)
	if node.Type() == opsets.OpTypeAvgPool {
		attrs := node.Attrs().(opset0.AvgPoolAttrs)
		window, includePadding = attrs.Window(), attrs.IncludePadding
	} else {
		attrs := node.Attrs().(opset1.AvgPoolAttrs)
		window, includePadding = attrs.Window(), !attrs.ExcludePad
	}
	input, output := inputs[0].Shape(), outputs[0].Shape()
	geometry, err := makeWindowGeometry(input, output, window)
	if err != nil {
		return err
	}
	outer := input.Dimensions[0] * input.Dimensions[1]
	return floatKernel(node, outputs[0], inputs[0],
		func(out, in []float32) error {
			avgPoolGeneric(out, in, outer, &geometry, includePadding)
			return nil
		},
		func(out, in []float64) error {
			avgPoolGeneric(out, in, outer, &geometry, includePadding)
			return nil
		})
}

func avgPoolGeneric[T dtypes.GoFloat](out, in []T, outer int, g *windowGeometry, includePadding bool) {
	inStrides := shapes.Make(dtypes.Int64, g.inSpatial...).Strides()
	inSize, outSize := shapes.Make(dtypes.Int64, g.inSpatial...).Size(), shapes.Make(dtypes.Int64, g.outSpatial...).Size()
	position := make([]int, len(g.kernel))
	for o := range outer {
		outFlat := o * outSize
		for outIdx := range boxIter(g.outSpatial) {
			var sum T
			count := 0
			for kernelIdx := range boxIter(g.kernel) {
				inside, padded := g.inputPosition(outIdx, kernelIdx, position)
				if inside {
					sum += in[o*inSize+shapes.FlatIndex(position, inStrides)]
					count++
				} else if padded && includePadding {
					count++
				}
			}
			if count > 0 {
				out[outFlat] = sum / T(count)
			} else {
				out[outFlat] = 0
			}
			outFlat++
		}
	}
}

// convGeometry extends the window geometry with the channels of a (possibly grouped) convolution.
type convGeometry struct {
	windowGeometry
	batch, groups       int
	inChannels          int // Per group.
	outChannels         int // Per group.
	inSize, outSize     int // Spatial sizes.
	kernelSize          int
	inStrides, kStrides []int
}

// newConvGeometry returns the geometry of a convolution: for the group variants, groups is the first dimension
// of the filters, otherwise 1.
func newConvGeometry(node *graph.Node, input, filters, output shapes.Shape, window graph.WindowConfig, backprop bool) (*convGeometry, error) {
	g := &convGeometry{batch: input.Dimensions[0], groups: 1}
	grouped := node.Type() == opsets.OpTypeGroupConvolutionV1 || node.Type() == opsets.OpTypeGroupConvolutionBackpropDataV1
	if grouped {
		g.groups = filters.Dimensions[0]
	}
	g.inChannels = input.Dimensions[1] / g.groups
	g.outChannels = output.Dimensions[1] / g.groups
	g.inSpatial, g.outSpatial = input.Dimensions[2:], output.Dimensions[2:]
	g.kernel = window.Kernel
	g.strides, g.dilations = window.Strides, window.Dilations
	if !backprop {
		var err error
		g.padsBegin, g.padsEnd, err = window.ResolvePads(g.inSpatial)
		if err != nil {
			return nil, err
		}
	}
	g.inStrides = shapes.Make(dtypes.Int64, g.inSpatial...).Strides()
	g.kStrides = shapes.Make(dtypes.Int64, g.kernel...).Strides()
	g.inSize = shapes.Make(dtypes.Int64, g.inSpatial...).Size()
	g.outSize = shapes.Make(dtypes.Int64, g.outSpatial...).Size()
	g.kernelSize = shapes.Make(dtypes.Int64, g.kernel...).Size()
	return g, nil
}

func convWindow(node *graph.Node, filters shapes.Shape) graph.WindowConfig {
	attrs := node.Attrs().(opset1.ConvAttrs)
	spatialStart := 2
	if node.Type() == opsets.OpTypeGroupConvolutionV1 || node.Type() == opsets.OpTypeGroupConvolutionBackpropDataV1 {
		spatialStart = 3
	}
	return attrs.Window(filters.Dimensions[spatialStart:])
}

// execConvolution handles Convolution, with filters [C_out, C_in, kernel...], and GroupConvolution, with
// filters [G, C_out, C_in, kernel...]: the flat layout of the former is the one of the latter with G=1.
func execConvolution(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	filters := inputs[1].Shape()
	g, err := newConvGeometry(node, inputs[0].Shape(), filters, outputs[0].Shape(), convWindow(node, filters), false)
	if err != nil {
		return err
	}
	conv, err := kernelFor[func(out, in, filters *tensors.Tensor, g *convGeometry)](convDTypeMap, node, outputs[0].DType())
	if err != nil {
		return err
	}
	conv(outputs[0], inputs[0], inputs[1], g)
	return nil
}

func convGeneric[T tensorNumber](outT, inT, filtersT *tensors.Tensor, g *convGeometry) {
	out, in, filters := tensors.Flat[T](outT), tensors.Flat[T](inT), tensors.Flat[T](filtersT)
	position := make([]int, len(g.kernel))
	outFlat := 0
	for n := range g.batch {
		for group := range g.groups {
			for co := range g.outChannels {
				filterBase := (group*g.outChannels + co) * g.inChannels * g.kernelSize
				for outIdx := range boxIter(g.outSpatial) {
					var sum T
					for ci := range g.inChannels {
						inBase := (n*g.groups*g.inChannels + group*g.inChannels + ci) * g.inSize
						for kernelIdx := range boxIter(g.kernel) {
							if inside, _ := g.inputPosition(outIdx, kernelIdx, position); !inside {
								continue
							}
							sum += in[inBase+shapes.FlatIndex(position, g.inStrides)] *
								filters[filterBase+ci*g.kernelSize+shapes.FlatIndex(kernelIdx, g.kStrides)]
						}
					}
					out[outFlat] = sum
					outFlat++
				}
			}
		}
	}
}

// execConvolutionBackpropData handles the transposed convolutions, with filters [C_in, C_out, kernel...], or
// [G, C_in, C_out, kernel...] for the group variant.
func execConvolutionBackpropData(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	attrs := node.Attrs().(opset1.ConvAttrs)
	filters := inputs[1].Shape()
	window := convWindow(node, filters)
	g, err := newConvGeometry(node, inputs[0].Shape(), filters, outputs[0].Shape(), window, true)
	if err != nil {
		return err
	}
	var outputSpatial []int
	if len(inputs) > 2 {
		values, err := graph.TensorAsInt64s(inputs[2])
		if err != nil {
			return err
		}
		outputSpatial = make([]int, len(values))
		for ii, v := range values {
			outputSpatial[ii] = int(v)
		}
	}
	outputPadding := attrs.OutputPadding
	if outputPadding == nil {
		outputPadding = make([]int, len(g.kernel))
	}
	g.padsBegin, g.padsEnd, err = shapeinference.BackpropPads(g.inSpatial, outputSpatial, window, outputPadding)
	if err != nil {
		return err
	}
	convBackprop, err := kernelFor[func(out, in, filters *tensors.Tensor, g *convGeometry)](
		convBackpropDTypeMap, node, outputs[0].DType())
	if err != nil {
		return err
	}
	convBackprop(outputs[0], inputs[0], inputs[1], g)
	return nil
}

// convBackpropGeneric scatters each input element, multiplied by the filters, into the output: the input
// position i contributes to the output position i*stride - padBegin + k*dilation.
func convBackpropGeneric[T tensorNumber](outT, inT, filtersT *tensors.Tensor, g *convGeometry) {
	out, in, filters := tensors.Flat[T](outT), tensors.Flat[T](inT), tensors.Flat[T](filtersT)
	clear(out)
	outStrides := shapes.Make(dtypes.Int64, g.outSpatial...).Strides()
	position := make([]int, len(g.kernel))
	for n := range g.batch {
		for group := range g.groups {
			for ci := range g.inChannels {
				inBase := (n*g.groups*g.inChannels + group*g.inChannels + ci) * g.inSize
				filterBase := (group*g.inChannels + ci) * g.outChannels * g.kernelSize
				inFlat := inBase
				for inIdx := range boxIter(g.inSpatial) {
					x := in[inFlat]
					inFlat++
					for kernelIdx := range boxIter(g.kernel) {
						inside := true
						for axis := range position {
							p := inIdx[axis]*g.strides[axis] - g.padsBegin[axis] + kernelIdx[axis]*g.dilations[axis]
							position[axis] = p
							inside = inside && p >= 0 && p < g.outSpatial[axis]
						}
						if !inside {
							continue
						}
						outSpatialFlat := shapes.FlatIndex(position, outStrides)
						kernelFlat := shapes.FlatIndex(kernelIdx, g.kStrides)
						for co := range g.outChannels {
							outBase := (n*g.groups*g.outChannels + group*g.outChannels + co) * g.outSize
							out[outBase+outSpatialFlat] += x * filters[filterBase+co*g.kernelSize+kernelFlat]
						}
					}
				}
			}
		}
	}
}
