// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"math"
	"testing"

	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/graph/opset1"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/x448/float16"
)

func TestExecAvgPool(t *testing.T) {
	g := graph.New("avgpool")
	x := constant(g, []float32{1, 2, 3, 4}, 1, 1, 4)

	node, err := opset1.AvgPool(x, opset1.AvgPoolAttrs{Kernel: []int{2}, Strides: []int{2}})
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []float32{1.5, 3.5}, tensors.Flat[float32](outputs[0]))

	node, err = opset1.AvgPool(x, opset1.AvgPoolAttrs{Kernel: []int{2}, Strides: []int{2},
		PadsBegin: []int{1}, PadsEnd: []int{1}, ExcludePad: true})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float32{1, 2.5, 4}, tensors.Flat[float32](outputs[0]))

	node, err = opset1.AvgPool(x, opset1.AvgPoolAttrs{Kernel: []int{2}, Strides: []int{2},
		PadsBegin: []int{1}, PadsEnd: []int{1}})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float32{0.5, 2.5, 2}, tensors.Flat[float32](outputs[0]))

	node, err = opset0.AvgPool(x, opset0.AvgPoolAttrs{Kernel: []int{2}, Strides: []int{2},
		PadsBegin: []int{1}, PadsEnd: []int{1}, IncludePadding: true})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float32{0.5, 2.5, 2}, tensors.Flat[float32](outputs[0]))

	// 2D, with Float16 going through the float32 kernel.
	var values []float16.Float16
	for ii := range 9 {
		values = append(values, float16.Fromfloat32(float32(ii+1)))
	}
	node, err = opset1.AvgPool(constant(g, values, 1, 1, 3, 3), opset1.AvgPoolAttrs{Kernel: []int{2, 2}})
	outputs = mustEvaluate(t, node, err)
	var got []float32
	for _, v := range tensors.Flat[float16.Float16](outputs[0]) {
		got = append(got, v.Float32())
	}
	assert.Equal(t, []float32{3, 4, 6, 7}, got)
}

func TestExecConvolution(t *testing.T) {
	g := graph.New("convolution")
	x := constant(g, []float32{1, 2, 3, 4, 5, 6, 7, 8, 9}, 1, 1, 3, 3)

	node, err := opset1.Convolution(x, constant(g, []float32{1, 1, 1, 1}, 1, 1, 2, 2), opset1.ConvAttrs{})
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []int{1, 1, 2, 2}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []float32{12, 16, 24, 28}, tensors.Flat[float32](outputs[0]))

	// A single group is a plain convolution.
	node, err = opset1.GroupConvolution(x, constant(g, []float32{1, 1, 1, 1}, 1, 1, 1, 2, 2), opset1.ConvAttrs{})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float32{12, 16, 24, 28}, tensors.Flat[float32](outputs[0]))

	// Padding, strides and dilations.
	node, err = opset1.Convolution(x, constant(g, []float32{1, 1}, 1, 1, 1, 2), opset1.ConvAttrs{
		Strides: []int{2, 1}, Dilations: []int{1, 2}, PadsBegin: []int{0, 1}, PadsEnd: []int{0, 1}})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int{1, 1, 2, 3}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []float32{2, 4, 2, 8, 16, 8}, tensors.Flat[float32](outputs[0]))

	// Two output channels from two input channels.
	y := constant(g, []int32{1, 2, 3, 4}, 1, 2, 2)
	node, err = opset1.Convolution(y, constant(g, []int32{1, 0, 0, 1}, 2, 2, 1), opset1.ConvAttrs{})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int32{1, 2, 3, 4}, tensors.Flat[int32](outputs[0]))
	node, err = opset1.Convolution(y, constant(g, []int32{1, 1, 1, -1}, 2, 2, 1), opset1.ConvAttrs{})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int32{4, 6, -2, -2}, tensors.Flat[int32](outputs[0]))

	// Two groups, each with one channel.
	node, err = opset1.GroupConvolution(y, constant(g, []int32{10, 100}, 2, 1, 1, 1), opset1.ConvAttrs{})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int32{10, 20, 300, 400}, tensors.Flat[int32](outputs[0]))
}

func TestGroupConvolutionProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 50
	properties := gopter.NewProperties(parameters)

	properties.Property("a single group is a plain convolution", prop.ForAll(
		func(data, kernel []float32, stride, dilation, pad int) bool {
			g := graph.New("group_convolution")
			x := constant(g, data, 1, 2, 5, 5)
			attrs := opset1.ConvAttrs{
				Strides: []int{stride, stride}, Dilations: []int{dilation, dilation},
				PadsBegin: []int{pad, pad}, PadsEnd: []int{pad, 0},
			}
			conv, err := opset1.Convolution(x, constant(g, kernel, 3, 2, 2, 2), attrs)
			if err != nil {
				return false
			}
			group, err := opset1.GroupConvolution(x, constant(g, kernel, 1, 3, 2, 2, 2), attrs)
			if err != nil {
				return false
			}
			convOutputs, err := evaluate(t, NewWithOptions(Options{}), conv)
			if err != nil {
				return false
			}
			groupOutputs, err := evaluate(t, NewWithOptions(Options{}), group)
			return err == nil && convOutputs[0].Equal(groupOutputs[0])
		},
		gen.SliceOfN(50, gen.Float32Range(-1, 1)),
		gen.SliceOfN(24, gen.Float32Range(-1, 1)),
		gen.IntRange(1, 2),
		gen.IntRange(1, 2),
		gen.IntRange(0, 1),
	))

	properties.TestingRun(t)
}

func TestExecConvolutionBackpropData(t *testing.T) {
	g := graph.New("backprop")
	x := constant(g, []float64{1, 2}, 1, 1, 2)
	filters := constant(g, []float64{1, 1}, 1, 1, 2)

	node, err := opset1.ConvolutionBackpropData(x, filters, graph.Output{}, opset1.ConvAttrs{})
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []float64{1, 3, 2}, tensors.Flat[float64](outputs[0]))

	node, err = opset1.ConvolutionBackpropData(x, filters, graph.Output{}, opset1.ConvAttrs{Strides: []int{2}})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float64{1, 1, 2, 2}, tensors.Flat[float64](outputs[0]))

	// The explicit output shape crops the end.
	node, err = opset1.ConvolutionBackpropData(x, filters, constant(g, []int64{3}, 1), opset1.ConvAttrs{Strides: []int{2}})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float64{1, 1, 2}, tensors.Flat[float64](outputs[0]))

	// Groups scatter each input channel into its own output channels.
	y := constant(g, []float64{1, 2}, 1, 2, 1)
	node, err = opset1.GroupConvolutionBackpropData(y, constant(g, []float64{1, 2, 3, 4}, 2, 1, 1, 2), graph.Output{},
		opset1.ConvAttrs{})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int{1, 2, 2}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []float64{1, 2, 6, 8}, tensors.Flat[float64](outputs[0]))
}

func TestExecNormalizations(t *testing.T) {
	g := graph.New("normalizations")
	x := constant(g, []float64{1, 2, 3, 4}, 1, 4)

	node, err := opset0.MVN(x, graph.NewAxisSet(1), false, 0)
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []float64{-1.5, -0.5, 0.5, 1.5}, tensors.Flat[float64](outputs[0]))

	node, err = opset0.MVN(x, graph.NewAxisSet(1), true, 0)
	outputs = mustEvaluate(t, node, err)
	std := math.Sqrt(1.25)
	assert.InDeltaSlice(t, []float64{-1.5 / std, -0.5 / std, 0.5 / std, 1.5 / std}, tensors.Flat[float64](outputs[0]), 1e-12)

	node, err = opset0.LRN(constant(g, []float64{1, 2, 3}, 1, 3), constant(g, []int64{1}, 1), 3, 1, 1, 3)
	outputs = mustEvaluate(t, node, err)
	assert.InDeltaSlice(t, []float64{1.0 / 6, 2.0 / 15, 3.0 / 14}, tensors.Flat[float64](outputs[0]), 1e-12)

	node, err = opset0.BatchNormInference(
		constant(g, []float32{1, 2}, 2), constant(g, []float32{0, 1}, 2),
		constant(g, []float32{1, 2, 3, 4}, 2, 2),
		constant(g, []float32{1, 2}, 2), constant(g, []float32{4, 1}, 2), 0)
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float32{0, 1, 1, 5}, tensors.Flat[float32](outputs[0]))
}
