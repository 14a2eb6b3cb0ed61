// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"math"
	"testing"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/graph/opset1"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecReductions(t *testing.T) {
	g := graph.New("reductions")
	x := constant(g, []float32{1, -2, 3, 4, 5, -6}, 2, 3)
	axis0 := constant(g, []int64{0}, 1)
	axis1 := constant(g, []int64{-1}, 1)
	both := constant(g, []int64{0, 1}, 2)
	none := constant(g, []int64{}, 0)

	type testCase struct {
		name     string
		build    func() (*graph.Node, error)
		dims     []int
		expected []float32
	}
	for _, tc := range []testCase{
		{"Sum(0)", func() (*graph.Node, error) { return opset0.Sum(x, axis0) }, []int{3}, []float32{5, 3, -3}},
		{"Sum(all)", func() (*graph.Node, error) { return opset0.Sum(x, both) }, []int{}, []float32{5}},
		{"Product(1)", func() (*graph.Node, error) { return opset0.Product(x, axis1) }, []int{2}, []float32{-6, -120}},
		{"Max(1)", func() (*graph.Node, error) { return opset0.Max(x, axis1) }, []int{2}, []float32{3, 5}},
		{"Min(0)", func() (*graph.Node, error) { return opset0.Min(x, axis0) }, []int{3}, []float32{1, -2, -6}},
		{"ReduceSum(1, keep)", func() (*graph.Node, error) { return opset1.ReduceSum(x, axis1, true) }, []int{2, 1}, []float32{2, 3}},
		{"ReduceProd(none)", func() (*graph.Node, error) { return opset1.ReduceProd(x, none, false) }, []int{2, 3},
			[]float32{1, -2, 3, 4, 5, -6}},
		{"ReduceMax(all, keep)", func() (*graph.Node, error) { return opset1.ReduceMax(x, both, true) }, []int{1, 1}, []float32{5}},
		{"ReduceMin(0)", func() (*graph.Node, error) { return opset1.ReduceMin(x, axis0, false) }, []int{3}, []float32{1, -2, -6}},
	} {
		node, err := tc.build()
		outputs := mustEvaluate(t, node, err)
		assert.Equalf(t, tc.dims, append([]int{}, outputs[0].Shape().Dimensions...), "%s", tc.name)
		assert.Equalf(t, tc.expected, tensors.Flat[float32](outputs[0]), "%s", tc.name)
	}
}

func TestExecReductionsIntegers(t *testing.T) {
	g := graph.New("reductions")
	x := constant(g, []uint8{3, 7, 1, 2}, 2, 2)
	axes := constant(g, []int32{1}, 1)

	node, err := opset0.Max(x, axes)
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []uint8{7, 2}, tensors.Flat[uint8](outputs[0]))

	node, err = opset0.Min(x, axes)
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []uint8{3, 1}, tensors.Flat[uint8](outputs[0]))

	// Max over an empty axis yields the lowest value of the type.
	empty := constant(g, []int16{}, 2, 0)
	node, err = opset0.Max(empty, axes)
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int16{math.MinInt16, math.MinInt16}, tensors.Flat[int16](outputs[0]))
}

func TestExecCumSum(t *testing.T) {
	g := graph.New("cumsum")
	x := constant(g, []int32{1, 2, 3, 4, 5, 6}, 2, 3)
	type testCase struct {
		axis               int64
		exclusive, reverse bool
		expected           []int32
	}
	for _, tc := range []testCase{
		{1, false, false, []int32{1, 3, 6, 4, 9, 15}},
		{-1, true, false, []int32{0, 1, 3, 0, 4, 9}},
		{1, false, true, []int32{6, 5, 3, 15, 11, 6}},
		{1, true, true, []int32{5, 3, 0, 11, 6, 0}},
		{0, false, false, []int32{1, 2, 3, 5, 7, 9}},
	} {
		node, err := opset0.CumSum(x, constant(g, []int64{tc.axis}), tc.exclusive, tc.reverse)
		outputs := mustEvaluate(t, node, err)
		assert.Equalf(t, tc.expected, tensors.Flat[int32](outputs[0]), "axis=%d exclusive=%v reverse=%v",
			tc.axis, tc.exclusive, tc.reverse)
	}
}

func TestExecTopK(t *testing.T) {
	g := graph.New("topk")
	x := constant(g, []float32{3, 1, 2, 3}, 4)
	k := constant(g, []int64{2})

	// Version 1 outputs are values then indices; ties select the smaller index first.
	node, err := opset1.TopK(x, k, 0, graph.TopKMax, graph.TopKSortValues, dtypes.Int32)
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []float32{3, 3}, tensors.Flat[float32](outputs[0]))
	assert.Equal(t, []int32{0, 3}, tensors.Flat[int32](outputs[1]))

	node, err = opset1.TopK(x, k, 0, graph.TopKMin, graph.TopKSortValues, dtypes.Int64)
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float32{1, 2}, tensors.Flat[float32](outputs[0]))
	assert.Equal(t, []int64{1, 2}, tensors.Flat[int64](outputs[1]))

	y := constant(g, []int32{1, 9, 5, 7}, 4)
	node, err = opset1.TopK(y, k, -1, graph.TopKMax, graph.TopKSortIndices, dtypes.Int32)
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int32{9, 7}, tensors.Flat[int32](outputs[0]))
	assert.Equal(t, []int32{1, 3}, tensors.Flat[int32](outputs[1]))

	// Version 0 outputs are indices then values.
	node, err = opset0.TopK(y, k, 0, dtypes.Int32, true, graph.TopKSortNone)
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int32{1, 3}, tensors.Flat[int32](outputs[0]))
	assert.Equal(t, []int32{9, 7}, tensors.Flat[int32](outputs[1]))

	// Along the first axis of a matrix.
	z := constant(g, []float64{1, 6, 4, 2, 3, 5}, 3, 2)
	node, err = opset1.TopK(z, constant(g, []int32{1}), 0, graph.TopKMax, graph.TopKSortValues, dtypes.Int32)
	require.NoError(t, err)
	outputs = mustEvaluate(t, node, nil)
	assert.Equal(t, []int{1, 2}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []float64{4, 6}, tensors.Flat[float64](outputs[0]))
	assert.Equal(t, []int32{1, 0}, tensors.Flat[int32](outputs[1]))
}
