// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"testing"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/graph/opset1"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecReshapeAndTranspose(t *testing.T) {
	g := graph.New("reshape")
	x := constant(g, []int32{1, 2, 3, 4, 5, 6}, 2, 3)

	node, err := opset0.Reshape(x, []int{1, 0}, []int{3, 2})
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []int32{1, 4, 2, 5, 3, 6}, tensors.Flat[int32](outputs[0]))

	node, err = opset1.Reshape(x, constant(g, []int64{3, 2}, 2), false)
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int{3, 2}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []int32{1, 2, 3, 4, 5, 6}, tensors.Flat[int32](outputs[0]))

	node, err = opset1.Transpose(x, constant(g, []int64{1, 0}, 2))
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int32{1, 4, 2, 5, 3, 6}, tensors.Flat[int32](outputs[0]))

	// An empty order reverses the axes.
	node, err = opset1.Transpose(x, constant(g, []int64{}, 0))
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int{3, 2}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []int32{1, 4, 2, 5, 3, 6}, tensors.Flat[int32](outputs[0]))
}

func TestExecBroadcast(t *testing.T) {
	g := graph.New("broadcast")
	node, err := opset0.Broadcast(constant(g, []float32{1, 2, 3}, 3), []int{2, 3}, graph.NewAxisSet(0))
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []float32{1, 2, 3, 1, 2, 3}, tensors.Flat[float32](outputs[0]))

	node, err = opset0.Broadcast(constant(g, []float32{1, 2}, 2), []int{2, 3}, graph.NewAxisSet(1))
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float32{1, 1, 1, 2, 2, 2}, tensors.Flat[float32](outputs[0]))

	node, err = opset1.Broadcast(constant(g, []int8{1, 2, 3}, 3, 1), constant(g, []int64{2, 3, 2}, 3))
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int8{1, 1, 2, 2, 3, 3, 1, 1, 2, 2, 3, 3}, tensors.Flat[int8](outputs[0]))

	node, err = opset1.BroadcastExplicit(constant(g, []int8{1, 2}, 2), constant(g, []int64{2, 3}, 2), constant(g, []int64{0}, 1))
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int8{1, 1, 1, 2, 2, 2}, tensors.Flat[int8](outputs[0]))
}

func TestExecReverse(t *testing.T) {
	g := graph.New("reverse")
	x := constant(g, []uint16{1, 2, 3, 4, 5, 6}, 2, 3)

	node, err := opset0.Reverse(x, graph.NewAxisSet(1))
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []uint16{3, 2, 1, 6, 5, 4}, tensors.Flat[uint16](outputs[0]))

	node, err = opset1.Reverse(x, constant(g, []int64{-2}, 1), graph.ReverseIndex)
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []uint16{4, 5, 6, 1, 2, 3}, tensors.Flat[uint16](outputs[0]))

	node, err = opset1.Reverse(x, constant(g, []bool{true, true}, 2), graph.ReverseMask)
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []uint16{6, 5, 4, 3, 2, 1}, tensors.Flat[uint16](outputs[0]))
}

func TestExecSlices(t *testing.T) {
	g := graph.New("slices")
	x := constant(g, []float64{1, 2, 3, 4, 5, 6}, 2, 3)
	node, err := opset0.Slice(x, []int{0, 1}, []int{2, 3}, nil)
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []float64{2, 3, 5, 6}, tensors.Flat[float64](outputs[0]))

	node, err = opset0.Slice(x, []int{0, 0}, []int{2, 3}, []int{1, 2})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float64{1, 3, 4, 6}, tensors.Flat[float64](outputs[0]))

	type testCase struct {
		name               string
		begin, end, stride []int64
		attrs              opset1.StridedSliceAttrs
		dims               []int
		expected           []int32
	}
	y := constant(g, []int32{0, 1, 2, 3, 4, 5}, 6)
	for _, tc := range []testCase{
		{"backwards", []int64{-1}, []int64{0}, []int64{-2}, opset1.StridedSliceAttrs{}, []int{3}, []int32{5, 3, 1}},
		{"begin-mask", []int64{4}, []int64{3}, []int64{1}, opset1.StridedSliceAttrs{BeginMask: []int64{1}}, []int{3}, []int32{0, 1, 2}},
		{"end-mask", []int64{4}, []int64{0}, []int64{1}, opset1.StridedSliceAttrs{EndMask: []int64{1}}, []int{2}, []int32{4, 5}},
		{"shrink", []int64{2}, []int64{3}, []int64{1}, opset1.StridedSliceAttrs{ShrinkAxisMask: []int64{1}}, []int{}, []int32{2}},
		{"new-axis", []int64{0, 1}, []int64{0, 3}, []int64{1, 1},
			opset1.StridedSliceAttrs{NewAxisMask: []int64{1, 0}}, []int{1, 2}, []int32{1, 2}},
	} {
		node, err := opset1.StridedSlice(y, constant(g, tc.begin, len(tc.begin)), constant(g, tc.end, len(tc.end)),
			constant(g, tc.stride, len(tc.stride)), tc.attrs)
		require.NoErrorf(t, err, "%s", tc.name)
		outputs := mustEvaluate(t, node, nil)
		assert.Equalf(t, tc.dims, append([]int{}, outputs[0].Shape().Dimensions...), "%s", tc.name)
		assert.Equalf(t, tc.expected, tensors.Flat[int32](outputs[0]), "%s", tc.name)
	}
}

func TestExecSplit(t *testing.T) {
	g := graph.New("split")
	x := constant(g, []int64{0, 1, 2, 3, 4, 5}, 6)
	axis := constant(g, []int64{0})

	for _, build := range []func() (*graph.Node, error){
		func() (*graph.Node, error) { return opset0.Split(x, axis, 3) },
		func() (*graph.Node, error) { return opset1.Split(x, axis, 3) },
	} {
		node, err := build()
		outputs := mustEvaluate(t, node, err)
		require.Len(t, outputs, 3)
		assert.Equal(t, []int64{0, 1}, tensors.Flat[int64](outputs[0]))
		assert.Equal(t, []int64{2, 3}, tensors.Flat[int64](outputs[1]))
		assert.Equal(t, []int64{4, 5}, tensors.Flat[int64](outputs[2]))
	}

	node, err := opset1.VariadicSplit(x, axis, constant(g, []int64{2, -1}, 2))
	outputs := mustEvaluate(t, node, err)
	require.Len(t, outputs, 2)
	assert.Equal(t, []int64{0, 1}, tensors.Flat[int64](outputs[0]))
	assert.Equal(t, []int64{2, 3, 4, 5}, tensors.Flat[int64](outputs[1]))
}

func TestExecGather(t *testing.T) {
	g := graph.New("gather")
	params := constant(g, []float32{1, 2, 3, 4, 5, 6}, 3, 2)

	node, err := opset0.Gather(params, constant(g, []int32{2, 0}, 2), 0)
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []float32{5, 6, 1, 2}, tensors.Flat[float32](outputs[0]))

	node, err = opset1.Gather(params, constant(g, []int64{-1}, 1), constant(g, []int64{1}))
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int{3, 1}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []float32{2, 4, 6}, tensors.Flat[float32](outputs[0]))

	node, err = opset0.Gather(params, constant(g, []int32{3}, 1), 0)
	require.NoError(t, err)
	_, err = evaluate(t, NewWithOptions(Options{}), node)
	require.Error(t, err)
}

func TestExecOneHot(t *testing.T) {
	g := graph.New("onehot")
	node, err := opset0.OneHot(constant(g, []int32{0, 2, 5}, 3), []int{3, 3}, 1)
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, dtypes.Int32, outputs[0].DType())
	assert.Equal(t, []int32{1, 0, 0, 0, 0, 1, 0, 0, 0}, tensors.Flat[int32](outputs[0]))

	node, err = opset1.OneHot(constant(g, []int64{1, 0}, 2), constant(g, []int64{3}), constant(g, []float32{5}),
		constant(g, []float32{-1}), -1)
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []int{2, 3}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []float32{-1, 5, -1, 5, -1, -1}, tensors.Flat[float32](outputs[0]))

	// One-hot axis first.
	node, err = opset1.OneHot(constant(g, []int32{1, 0}, 2), constant(g, []int32{2}), constant(g, []bool{true}),
		constant(g, []bool{false}), 0)
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []bool{false, true, true, false}, tensors.Flat[bool](outputs[0]))
}

func TestExecPad(t *testing.T) {
	g := graph.New("pad")
	x := constant(g, []int32{1, 2, 3}, 3)
	type testCase struct {
		mode       graph.PadMode
		begin, end int64
		value      graph.Output
		expected   []int32
	}
	for _, tc := range []testCase{
		{graph.PadModeConstant, 1, 2, constant(g, []int32{9}), []int32{9, 1, 2, 3, 9, 9}},
		{graph.PadModeConstant, 1, 0, graph.Output{}, []int32{0, 1, 2, 3}},
		{graph.PadModeEdge, 2, 1, graph.Output{}, []int32{1, 1, 1, 2, 3, 3}},
		{graph.PadModeReflect, 2, 1, graph.Output{}, []int32{3, 2, 1, 2, 3, 2}},
		{graph.PadModeSymmetric, 2, 1, graph.Output{}, []int32{2, 1, 1, 2, 3, 3}},
	} {
		node, err := opset1.Pad(x, constant(g, []int64{tc.begin}, 1), constant(g, []int64{tc.end}, 1), tc.value, tc.mode)
		outputs := mustEvaluate(t, node, err)
		assert.Equalf(t, tc.expected, tensors.Flat[int32](outputs[0]), "mode %d", tc.mode)
	}
}

func TestExecReverseSequence(t *testing.T) {
	g := graph.New("reverse_sequence")
	x := constant(g, []float32{1, 2, 3, 4, 5, 6}, 2, 3)
	node, err := opset0.ReverseSequence(x, constant(g, []int32{2, 3}, 2), 0, 1)
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []float32{2, 1, 3, 6, 5, 4}, tensors.Flat[float32](outputs[0]))

	// Lengths beyond the sequence axis must not read from the neighbouring batch entries.
	for _, lengths := range [][]int32{{4, 1}, {1, 4}, {-1, 2}} {
		node, err = opset0.ReverseSequence(x, constant(g, lengths, 2), 0, 1)
		require.NoError(t, err)
		_, err = evaluate(t, NewWithOptions(Options{}), node)
		require.Errorf(t, err, "lengths %v", lengths)
		assert.Contains(t, err.Error(), "out-of-bounds")
	}
	node, err = opset0.ReverseSequence(x, constant(g, []int32{0, 3}, 2), 0, 1)
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float32{1, 2, 3, 6, 5, 4}, tensors.Flat[float32](outputs[0]))
}
