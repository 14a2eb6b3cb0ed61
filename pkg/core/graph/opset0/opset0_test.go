// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opset0_test

import (
	"testing"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	. "github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const u = shapes.UnknownDim

func constant[T dtypes.Supported](g *graph.Graph, data []T, dims ...int) graph.Output {
	return must.M1(g.Constant(tensors.FromFlatDataAndDimensions(data, dims...))).Output(0)
}

func parameter(g *graph.Graph, dtype dtypes.DType, dims ...int) graph.Output {
	return must.M1(g.Parameter("p", shapes.Make(dtype, dims...))).Output(0)
}

func requireShape(t *testing.T, node *graph.Node, err error, idx int, dtype dtypes.DType, dims ...int) {
	t.Helper()
	require.NoError(t, err)
	require.Truef(t, node.OutputShape(idx).Equal(shapes.Make(dtype, dims...)), "%s: got output #%d shape %s, wanted %s",
		node, idx, node.OutputShape(idx), shapes.Make(dtype, dims...))
}

func TestElementwise(t *testing.T) {
	g := graph.New("elementwise")
	a := constant(g, make([]float32, 24), 2, 3, 4)
	b := constant(g, []float32{1, 2, 3}, 3)

	_, err := Add(a, b, graph.NoBroadcast)
	require.Error(t, err)
	node, err := Add(a, a, graph.NoBroadcast)
	requireShape(t, node, err, 0, dtypes.Float32, 2, 3, 4)
	assert.Equal(t, opsets.OpTypeAdd, node.Type())

	pdpd := graph.AutoBroadcastSpec{Type: graph.AutoBroadcastPDPD, Axis: 1}
	node, err = Multiply(a, b, pdpd)
	requireShape(t, node, err, 0, dtypes.Float32, 2, 3, 4)
	_, err = Multiply(a, b, graph.AutoBroadcastSpec{Type: graph.AutoBroadcastPDPD, Axis: -1})
	require.Error(t, err, "trailing axis 4 doesn't match 3")

	node, err = Maximum(parameter(g, dtypes.Int32, u, 3), constant(g, []int32{1}, 1), graph.NumpyBroadcast)
	requireShape(t, node, err, 0, dtypes.Int32, u, 3)

	bools := constant(g, []bool{true, false}, 2)
	node, err = Xor(bools, bools, graph.NoBroadcast)
	requireShape(t, node, err, 0, dtypes.Bool, 2)
	_, err = And(b, b, graph.NoBroadcast)
	require.Error(t, err)
	node, err = Not(bools)
	requireShape(t, node, err, 0, dtypes.Bool, 2)
}

func TestReductions(t *testing.T) {
	g := graph.New("reductions")
	x := constant(g, make([]float32, 24), 2, 3, 4)
	node, err := Sum(x, constant(g, []int64{-1, 0}, 2))
	requireShape(t, node, err, 0, dtypes.Float32, 3)
	axes, err := ReductionAxes(node)
	require.NoError(t, err)
	assert.Equal(t, graph.AxisSet{0, 2}, axes)

	node, err = Min(x, constant(g, []int32{1}))
	requireShape(t, node, err, 0, dtypes.Float32, 2, 4)
	node, err = Product(x, constant(g, []int64{}, 0))
	requireShape(t, node, err, 0, dtypes.Float32, 2, 3, 4)

	_, err = Max(x, parameter(g, dtypes.Int64, 1))
	require.Error(t, err, "axes must be constant")
	_, err = Max(x, constant(g, []int64{3}, 1))
	require.Error(t, err)
	_, err = Sum(constant(g, []bool{true}, 1), constant(g, []int64{0}, 1))
	require.Error(t, err)
}

func TestReshape(t *testing.T) {
	g := graph.New("reshape")
	x := constant(g, make([]int32, 6), 2, 3)
	node, err := Reshape(x, []int{1, 0}, []int{3, 2})
	requireShape(t, node, err, 0, dtypes.Int32, 3, 2)
	assert.Equal(t, ReshapeAttrs{InputOrder: []int{1, 0}, OutputShape: []int{3, 2}}, node.Attrs())

	node, err = Reshape(x, DefaultOrder(2), []int{6})
	requireShape(t, node, err, 0, dtypes.Int32, 6)
	assert.Equal(t, []int{0, 1, 2}, DefaultOrder(3))

	_, err = Reshape(x, []int{0, 0}, []int{6})
	require.Error(t, err)
	_, err = Reshape(x, DefaultOrder(2), []int{u})
	require.Error(t, err, "output shape must be static")
	_, err = Reshape(x, DefaultOrder(2), []int{4})
	require.Error(t, err)
}

func TestBroadcastAndGather(t *testing.T) {
	g := graph.New("broadcast")
	x := constant(g, []float32{1, 2, 3}, 3)
	node, err := Broadcast(x, []int{2, 3}, graph.AxisSet{0})
	requireShape(t, node, err, 0, dtypes.Float32, 2, 3)
	_, err = Broadcast(x, []int{2, 3}, graph.AxisSet{1})
	require.Error(t, err)
	_, err = Broadcast(x, []int{2, 3}, nil)
	require.Error(t, err)

	params := constant(g, make([]float32, 20), 4, 5)
	indices := constant(g, []int32{0, 3}, 2)
	node, err = Gather(params, indices, -1)
	requireShape(t, node, err, 0, dtypes.Float32, 4, 2)
	assert.Equal(t, GatherAttrs{Axis: 1}, node.Attrs())
	_, err = Gather(params, indices, 2)
	require.Error(t, err)
	_, err = Gather(params, x, 0)
	require.Error(t, err, "float indices")
}

func TestOneHot(t *testing.T) {
	g := graph.New("one_hot")
	indices := constant(g, []int32{0, 2, 5}, 3)
	node, err := OneHot(indices, []int{3, 4}, 1)
	requireShape(t, node, err, 0, dtypes.Int32, 3, 4)
	node, err = OneHot(indices, []int{4, 3}, 0)
	requireShape(t, node, err, 0, dtypes.Int32, 4, 3)

	_, err = OneHot(indices, []int{4, 3}, 1)
	require.Error(t, err)
	_, err = OneHot(indices, []int{3, 4}, 2)
	require.Error(t, err)
	_, err = OneHot(constant(g, []float32{1}, 1), []int{1, 2}, 1)
	require.Error(t, err)
}

func TestReverseAndSlice(t *testing.T) {
	g := graph.New("reverse")
	x := constant(g, make([]float32, 30), 5, 6)
	node, err := Reverse(x, graph.AxisSet{1})
	requireShape(t, node, err, 0, dtypes.Float32, 5, 6)
	_, err = Reverse(x, graph.AxisSet{2})
	require.Error(t, err)

	node, err = Slice(x, []int{1, 0}, []int{4, 6}, nil)
	requireShape(t, node, err, 0, dtypes.Float32, 3, 6)
	assert.Equal(t, []int{1, 1}, node.Attrs().(SliceAttrs).Strides)
	node, err = Slice(x, []int{1, 0}, []int{4, 6}, []int{2, 4})
	requireShape(t, node, err, 0, dtypes.Float32, 2, 2)

	_, err = Slice(x, []int{0, 0}, []int{6, 6}, nil)
	require.Error(t, err)
	_, err = Slice(x, []int{3, 0}, []int{2, 6}, nil)
	require.Error(t, err)
	_, err = Slice(x, []int{0}, []int{1}, nil)
	require.Error(t, err)
}

func TestSplit(t *testing.T) {
	g := graph.New("split")
	x := constant(g, make([]float32, 24), 6, 4)
	axis := constant(g, []int64{0})
	node, err := Split(x, axis, 3)
	require.NoError(t, err)
	require.Equal(t, 3, node.NumOutputs())
	for ii := range 3 {
		requireShape(t, node, nil, ii, dtypes.Float32, 2, 4)
	}
	splitAxis, err := SplitAxis(node)
	require.NoError(t, err)
	assert.Equal(t, 0, splitAxis)

	node, err = SplitLengths(x, constant(g, []int32{-2}), []int{1, 5})
	requireShape(t, node, err, 0, dtypes.Float32, 1, 4)
	requireShape(t, node, err, 1, dtypes.Float32, 5, 4)

	_, err = Split(x, axis, 4)
	require.Error(t, err)
	_, err = SplitLengths(x, axis, []int{1, 2})
	require.Error(t, err)
	_, err = Split(x, parameter(g, dtypes.Int64), 2)
	require.Error(t, err, "axis must be constant")

	lengths, err := EqualSplitLengths(u, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{u, u}, lengths)
	_, err = EqualSplitLengths(4, 0)
	require.Error(t, err)
}

func TestTopK(t *testing.T) {
	g := graph.New("top_k")
	x := constant(g, make([]float32, 15), 3, 5)
	node, err := TopK(x, constant(g, []int64{2}), -1, dtypes.Int32, true, graph.TopKSortValues)
	// Indices come first.
	requireShape(t, node, err, 0, dtypes.Int32, 3, 2)
	requireShape(t, node, err, 1, dtypes.Float32, 3, 2)
	assert.Equal(t, TopKAttrs{Axis: 1, IndexElementType: dtypes.Int32, ComputeMax: true, Sort: graph.TopKSortValues}, node.Attrs())
	k, err := TopKValue(node)
	require.NoError(t, err)
	assert.Equal(t, 2, k)

	node, err = TopK(x, parameter(g, dtypes.Int64), 0, dtypes.Int64, false, graph.TopKSortNone)
	requireShape(t, node, err, 0, dtypes.Int64, u, 5)
	k, err = TopKValue(node)
	require.NoError(t, err)
	assert.Equal(t, u, k)

	_, err = TopK(x, constant(g, []float32{2}), 0, dtypes.Int32, true, graph.TopKSortNone)
	require.Error(t, err)
	_, err = TopK(x, constant(g, []int64{2}), 0, dtypes.Float32, true, graph.TopKSortNone)
	require.Error(t, err)
	_, err = TopK(x, constant(g, []int64{2}), 2, dtypes.Int32, true, graph.TopKSortNone)
	require.Error(t, err)
}

func TestAvgPool(t *testing.T) {
	g := graph.New("avg_pool")
	x := parameter(g, dtypes.Float32, 1, 2, 5, 5)
	attrs := AvgPoolAttrs{Kernel: []int{2, 2}, Strides: []int{2, 2}}
	node, err := AvgPool(x, attrs)
	requireShape(t, node, err, 0, dtypes.Float32, 1, 2, 2, 2)
	assert.Equal(t, []int{0, 0}, node.Attrs().(AvgPoolAttrs).PadsBegin)

	attrs.CeilMode = true
	node, err = AvgPool(x, attrs)
	requireShape(t, node, err, 0, dtypes.Float32, 1, 2, 3, 3)
	assert.Equal(t, graph.RoundCeil, node.Attrs().(AvgPoolAttrs).Window().Rounding)

	node, err = AvgPool(x, AvgPoolAttrs{Kernel: []int{3, 3}, PadType: graph.PadSameUpper})
	requireShape(t, node, err, 0, dtypes.Float32, 1, 2, 5, 5)

	_, err = AvgPool(parameter(g, dtypes.Int32, 1, 2, 5, 5), AvgPoolAttrs{Kernel: []int{2, 2}})
	require.Error(t, err)
	_, err = AvgPool(x, AvgPoolAttrs{Kernel: []int{2}})
	require.Error(t, err)
}

func TestAgnostic(t *testing.T) {
	g := graph.New("agnostic")
	x := constant(g, make([]float32, 24), 2, 3, 4)

	node, err := Convert(x, dtypes.Int8)
	requireShape(t, node, err, 0, dtypes.Int8, 2, 3, 4)
	_, err = Convert(x, dtypes.InvalidDType)
	require.Error(t, err)

	node, err = CumSum(x, constant(g, []int32{-1}), true, false)
	requireShape(t, node, err, 0, dtypes.Float32, 2, 3, 4)
	node, err = CumSum(x, parameter(g, dtypes.Int64), false, true)
	requireShape(t, node, err, 0, dtypes.Float32, 2, 3, 4)
	_, err = CumSum(x, constant(g, []int32{3}), false, false)
	require.Error(t, err)
	_, err = CumSum(constant(g, []float32{1}), constant(g, []int32{0}), false, false)
	require.Error(t, err, "scalar operand")

	node, err = MVNAcrossChannels(x, false, true, 1e-5)
	requireShape(t, node, err, 0, dtypes.Float32, 2, 3, 4)
	assert.Equal(t, graph.AxisSet{2}, node.Attrs().(MVNAttrs).ReductionAxes)
	node, err = MVNAcrossChannels(x, true, true, 1e-5)
	require.NoError(t, err)
	assert.Equal(t, graph.AxisSet{1, 2}, node.Attrs().(MVNAttrs).ReductionAxes)
	_, err = MVN(x, graph.AxisSet{3}, false, 0)
	require.Error(t, err)

	node, err = LRN(x, constant(g, []int64{1}, 1), 1e-4, 0.75, 1, 3)
	requireShape(t, node, err, 0, dtypes.Float32, 2, 3, 4)
	axes, err := LRNAxes(node)
	require.NoError(t, err)
	assert.Equal(t, graph.AxisSet{1}, axes)
	_, err = LRN(x, constant(g, []int64{1}, 1), 1e-4, 0.75, 1, 0)
	require.Error(t, err)
	_, err = LRN(x, parameter(g, dtypes.Int64, 1), 1e-4, 0.75, 1, 3)
	require.Error(t, err)

	alpha, beta := constant(g, []float32{0.2}), constant(g, []float32{0.5})
	node, err = HardSigmoid(x, alpha, beta)
	requireShape(t, node, err, 0, dtypes.Float32, 2, 3, 4)
	_, err = HardSigmoid(x, constant(g, []float64{0.2}), beta)
	require.Error(t, err)
	node, err = Selu(x, alpha, beta)
	requireShape(t, node, err, 0, dtypes.Float32, 2, 3, 4)
	node, err = Elu(x, 1)
	requireShape(t, node, err, 0, dtypes.Float32, 2, 3, 4)
	_, err = Gelu(constant(g, []int32{1}))
	require.Error(t, err)
	node, err = Ceiling(constant(g, []int32{1}))
	requireShape(t, node, err, 0, dtypes.Int32)
	_, err = Ceiling(constant(g, []bool{true}))
	require.Error(t, err)
}

func TestBatchNormAndSequences(t *testing.T) {
	g := graph.New("batch_norm")
	input := parameter(g, dtypes.Float32, u, 3, 4)
	stats := constant(g, []float32{1, 2, 3}, 3)
	node, err := BatchNormInference(stats, stats, input, stats, stats, 1e-3)
	requireShape(t, node, err, 0, dtypes.Float32, u, 3, 4)
	_, err = BatchNormInference(stats, constant(g, []float32{1, 2, 3, 4}, 4), input, stats, stats, 1e-3)
	require.Error(t, err)

	x := constant(g, make([]int32, 10), 2, 5)
	node, err = ReverseSequence(x, constant(g, []int32{1, 5}, 2), 0, -1)
	requireShape(t, node, err, 0, dtypes.Int32, 2, 5)
	assert.Equal(t, ReverseSequenceAttrs{BatchAxis: 0, SeqAxis: 1}, node.Attrs())
	_, err = ReverseSequence(x, constant(g, []int32{1, 5}, 2), 1, -1)
	require.Error(t, err)
	_, err = ReverseSequence(x, constant(g, []int32{1, 5, 2}, 3), 0, 1)
	require.Error(t, err)

	xs, h := parameter(g, dtypes.Float32, 2, 3), parameter(g, dtypes.Float32, 2, 4)
	w, r := parameter(g, dtypes.Float32, 4, 3), parameter(g, dtypes.Float32, 4, 4)
	node, err = RNNCell(xs, h, w, r, parameter(g, dtypes.Float32, 4), 4)
	requireShape(t, node, err, 0, dtypes.Float32, 2, 4)
	_, err = RNNCell(xs, h, w, r, parameter(g, dtypes.Float32, 3), 4)
	require.Error(t, err)
	_, err = RNNCell(xs, h, w, r, parameter(g, dtypes.Float32, 4), 0)
	require.Error(t, err)
}

func TestDetectionOutput(t *testing.T) {
	g := graph.New("detection")
	attrs := DetectionOutputAttrs{
		NumClasses:   3,
		TopK:         -1,
		KeepTopK:     []int{10},
		CodeType:     DetectionCodeCenterSize,
		NMSThreshold: 0.5,
		InputHeight:  300,
		InputWidth:   300,
	}
	// 4 priors, one box per class, not normalized (5 values per prior).
	boxLogits := parameter(g, dtypes.Float32, 2, 4*3*4)
	classPreds := parameter(g, dtypes.Float32, 2, 4*3)
	proposals := parameter(g, dtypes.Float32, 1, 2, 4*5)
	node, err := DetectionOutput(boxLogits, classPreds, proposals, attrs)
	requireShape(t, node, err, 0, dtypes.Float32, 1, 1, 2*10, 7)

	type testCase struct {
		name     string
		keepTopK int
		topK     int
		dims     []int
	}
	for _, tc := range []testCase{
		{"KeepTopK", 10, -1, []int{1, 1, 20, 7}},
		{"TopK", -1, 5, []int{1, 1, 2 * 5 * 3, 7}},
		{"AllPriors", -1, -1, []int{1, 1, 2 * 4 * 3, 7}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			a := attrs
			a.KeepTopK, a.TopK = []int{tc.keepTopK}, tc.topK
			node, err := DetectionOutput(boxLogits, classPreds, proposals, a)
			requireShape(t, node, err, 0, dtypes.Float32, tc.dims...)
		})
	}

	dynamic := parameter(g, dtypes.Float32, u, 4*3*4)
	node, err = DetectionOutput(dynamic, parameter(g, dtypes.Float32, u, 4*3), proposals, attrs)
	requireShape(t, node, err, 0, dtypes.Float32, 1, 1, u, 7)

	shared := attrs
	shared.ShareLocation, shared.Normalized = true, true
	auxClassPreds := parameter(g, dtypes.Float32, 2, 5*2)
	auxBoxPreds := parameter(g, dtypes.Float32, 2, 5*4)
	node, err = DetectionOutput(parameter(g, dtypes.Float32, 2, 5*4), parameter(g, dtypes.Float32, 2, 5*3),
		parameter(g, dtypes.Float32, 2, 2, 5*4), shared, auxClassPreds, auxBoxPreds)
	requireShape(t, node, err, 0, dtypes.Float32, 1, 1, 20, 7)
	assert.Equal(t, 5, node.NumInputs())

	// Invalid configurations.
	_, err = DetectionOutput(boxLogits, classPreds, proposals, attrs, auxClassPreds)
	require.Error(t, err)
	_, err = DetectionOutput(parameter(g, dtypes.Float32, 2, 4*4), classPreds, proposals, attrs)
	require.Error(t, err, "box logits without a box per class")
	_, err = DetectionOutput(boxLogits, parameter(g, dtypes.Float32, 2, 4*2), proposals, attrs)
	require.Error(t, err, "class predictions for 2 classes")
	_, err = DetectionOutput(boxLogits, classPreds, parameter(g, dtypes.Float32, 1, 2, 4*5+1), attrs)
	require.Error(t, err, "proposals not a multiple of the prior box size")
	_, err = DetectionOutput(boxLogits, classPreds, parameter(g, dtypes.Float32, 1, 1, 4*5), attrs)
	require.Error(t, err, "proposals without variances")
	_, err = DetectionOutput(boxLogits, classPreds, parameter(g, dtypes.Float32, 3, 2, 4*5), attrs)
	require.Error(t, err, "proposals batch")
	_, err = DetectionOutput(constant(g, make([]int32, 2*48), 2, 48), classPreds, proposals, attrs)
	require.Error(t, err, "integer box logits")
	noKeep := attrs
	noKeep.KeepTopK = nil
	_, err = DetectionOutput(boxLogits, classPreds, proposals, noKeep)
	require.Error(t, err)
	badCode := attrs
	badCode.CodeType = DetectionCodeType(7)
	_, err = DetectionOutput(boxLogits, classPreds, proposals, badCode)
	require.Error(t, err)

	code, err := ParseDetectionCodeType("caffe.PriorBoxParameter.CENTER_SIZE")
	require.NoError(t, err)
	assert.Equal(t, DetectionCodeCenterSize, code)
	code, err = ParseDetectionCodeType("CORNER")
	require.NoError(t, err)
	assert.Equal(t, DetectionCodeCorner, code)
	_, err = ParseDetectionCodeType("CORNER_SIZE")
	require.Error(t, err)
	assert.Equal(t, "DetectionCodeType(7)", DetectionCodeType(7).String())
}
