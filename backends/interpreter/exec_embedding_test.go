// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"math"
	"testing"

	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset3"
	"github.com/gomlx/opgraph/pkg/core/graph/opset4"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecEmbeddings(t *testing.T) {
	g := graph.New("embeddings")
	table := constant(g, []float32{1, 2, 10, 20, 100, 200}, 3, 2)

	node, err := opset3.EmbeddingSegmentsSum(table, constant(g, []int32{0, 2, 1}, 3), constant(g, []int32{0, 0, 2}, 3),
		constant(g, []int32{3}), constant(g, []int32{1}), graph.Output{})
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []int{3, 2}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []float32{101, 202, 10, 20, 10, 20}, tensors.Flat[float32](outputs[0]))

	node, err = opset3.EmbeddingSegmentsSum(table, constant(g, []int64{0, 2, 1}, 3), constant(g, []int64{0, 0, 2}, 3),
		constant(g, []int64{3}), constant(g, []int64{1}), constant(g, []float32{1, 2, 3}, 3))
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float32{201, 402, 10, 20, 30, 60}, tensors.Flat[float32](outputs[0]))

	// Empty bags without a default index are zeros.
	node, err = opset3.EmbeddingBagOffsetsSum(table, constant(g, []int32{0, 1, 2}, 3), constant(g, []int32{0, 2, 2}, 3),
		graph.Output{}, graph.Output{})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float32{11, 22, 0, 0, 100, 200}, tensors.Flat[float32](outputs[0]))

	node, err = opset3.EmbeddingBagPackedSum(table, constant(g, []int32{0, 1, 2, 2}, 2, 2), graph.Output{})
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float32{11, 22, 200, 400}, tensors.Flat[float32](outputs[0]))

	node, err = opset3.EmbeddingBagPackedSum(table, constant(g, []int32{0, 1, 2, 2}, 2, 2),
		constant(g, []float32{1, -1, 0.5, 0.5}, 2, 2))
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []float32{-9, -18, 100, 200}, tensors.Flat[float32](outputs[0]))
}

func TestExecEmbeddingsErrors(t *testing.T) {
	g := graph.New("embeddings")
	table := constant(g, []int32{1, 2, 3}, 3)
	interp := NewWithOptions(Options{})

	node, err := opset3.EmbeddingBagPackedSum(table, constant(g, []int32{3}, 1, 1), graph.Output{})
	require.NoError(t, err)
	_, err = evaluate(t, interp, node)
	require.Error(t, err, "index out-of-bounds")

	node, err = opset3.EmbeddingSegmentsSum(table, constant(g, []int32{0}, 1), constant(g, []int32{2}, 1),
		constant(g, []int32{2}), graph.Output{}, graph.Output{})
	require.NoError(t, err)
	_, err = evaluate(t, interp, node)
	require.Error(t, err, "segment out-of-bounds")

	node, err = opset3.EmbeddingBagOffsetsSum(table, constant(g, []int32{0, 1}, 2), constant(g, []int32{1, 0}, 2),
		graph.Output{}, graph.Output{})
	require.NoError(t, err)
	_, err = evaluate(t, interp, node)
	require.Error(t, err, "decreasing offsets")
}

func TestExecScatterNDUpdate(t *testing.T) {
	g := graph.New("scatter")
	node, err := opset3.ScatterNDUpdate(constant(g, []int16{1, 2, 3, 4}, 4), constant(g, []int32{-1, 0}, 2, 1),
		constant(g, []int16{10, 20}, 2))
	outputs := mustEvaluate(t, node, err)
	assert.Equal(t, []int16{20, 2, 3, 10}, tensors.Flat[int16](outputs[0]))

	node, err = opset3.ScatterNDUpdate(constant(g, []bool{false, false, false, false}, 2, 2), constant(g, []int64{1}, 1, 1),
		constant(g, []bool{true, true}, 1, 2))
	outputs = mustEvaluate(t, node, err)
	assert.Equal(t, []bool{false, false, true, true}, tensors.Flat[bool](outputs[0]))

	node, err = opset3.ScatterNDUpdate(constant(g, []int16{1, 2}, 2), constant(g, []int32{2}, 1, 1), constant(g, []int16{0}, 1))
	require.NoError(t, err)
	_, err = evaluate(t, NewWithOptions(Options{}), node)
	require.Error(t, err)
}

func TestExecCTCLoss(t *testing.T) {
	g := graph.New("ctc")
	// Uniform probabilities over 2 classes, the last one being the blank.
	logits := constant(g, make([]float64, 2*2*2), 2, 2, 2)
	logitLength := constant(g, []int32{2, 1}, 2)
	labels := constant(g, []int32{0, 0, 0, 0}, 2, 2)
	labelLength := constant(g, []int32{1, 0}, 2)

	// Batch 0 has 3 alignments of "0" in 2 steps ("00", "0-", "-0"); batch 1 the single blank step.
	node, err := opset4.CTCLoss(logits, logitLength, labels, labelLength, graph.Output{},
		opset4.CTCLossAttrs{CTCMergeRepeated: true})
	outputs := mustEvaluate(t, node, err)
	assert.InDeltaSlice(t, []float64{-math.Log(0.75), math.Log(2)}, tensors.Flat[float64](outputs[0]), 1e-9)

	// Without merging repeated emissions "00" is not an alignment of "0".
	node, err = opset4.CTCLoss(logits, logitLength, labels, labelLength, graph.Output{}, opset4.CTCLossAttrs{})
	outputs = mustEvaluate(t, node, err)
	assert.InDeltaSlice(t, []float64{math.Log(2), math.Log(2)}, tensors.Flat[float64](outputs[0]), 1e-9)

	// Explicit blank index 0, with the label 1.
	node, err = opset4.CTCLoss(logits, logitLength, constant(g, []int32{1, 1, 1, 1}, 2, 2), labelLength,
		constant(g, []int32{0}), opset4.CTCLossAttrs{CTCMergeRepeated: true})
	outputs = mustEvaluate(t, node, err)
	assert.InDeltaSlice(t, []float64{-math.Log(0.75), math.Log(2)}, tensors.Flat[float64](outputs[0]), 1e-9)
}

func TestExecCTCLossPreprocessing(t *testing.T) {
	g := graph.New("ctc")
	logits := constant(g, make([]float32, 3*2), 1, 3, 2)
	logitLength := constant(g, []int64{3}, 1)
	labels := constant(g, []int64{0, 0, 0}, 1, 3)
	labelLength := constant(g, []int64{2}, 1)

	type testCase struct {
		attrs    opset4.CTCLossAttrs
		expected float64
	}
	for _, tc := range []testCase{
		// "00" needs a blank in between: "0-0" is the only alignment.
		{opset4.CTCLossAttrs{CTCMergeRepeated: true}, 3 * math.Log(2)},
		// Collapsed to "0": 6 of the 8 sequences are alignments.
		{opset4.CTCLossAttrs{PreprocessCollapseRepeated: true, CTCMergeRepeated: true}, -math.Log(0.75)},
		{opset4.CTCLossAttrs{Unique: true, CTCMergeRepeated: true}, -math.Log(0.75)},
	} {
		node, err := opset4.CTCLoss(logits, logitLength, labels, labelLength, graph.Output{}, tc.attrs)
		outputs := mustEvaluate(t, node, err)
		assert.InDeltaf(t, tc.expected, float64(tensors.Flat[float32](outputs[0])[0]), 1e-5, "attrs %+v", tc.attrs)
	}

	// Labels that don't fit in the time steps have an infinite loss.
	node, err := opset4.CTCLoss(logits, constant(g, []int64{1}, 1), labels, labelLength, graph.Output{},
		opset4.CTCLossAttrs{CTCMergeRepeated: true})
	outputs := mustEvaluate(t, node, err)
	assert.True(t, math.IsInf(float64(tensors.Flat[float32](outputs[0])[0]), 1))

	node, err = opset4.CTCLoss(logits, constant(g, []int64{0}, 1), labels, labelLength, graph.Output{},
		opset4.CTCLossAttrs{})
	outputs = mustEvaluate(t, node, err)
	assert.True(t, math.IsInf(float64(tensors.Flat[float32](outputs[0])[0]), 1))

	// Label out of the classes range.
	node, err = opset4.CTCLoss(logits, logitLength, constant(g, []int64{5, 0, 0}, 1, 3), labelLength, graph.Output{},
		opset4.CTCLossAttrs{})
	require.NoError(t, err)
	_, err = evaluate(t, NewWithOptions(Options{}), node)
	require.Error(t, err)
}
