// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opset0

import (
	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/shapeinference"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// This file holds the version-agnostic operators: they keep their version 0 identity in every opset.

// ConvertAttrs of Convert.
type ConvertAttrs struct {
	DestinationType dtypes.DType
}

// CumSumAttrs of CumSum.
type CumSumAttrs struct {
	// Exclusive sums exclude the element at the current position.
	Exclusive bool

	// Reverse sums from the end of the axis.
	Reverse bool
}

// MVNAttrs of the mean-variance normalization.
type MVNAttrs struct {
	ReductionAxes     graph.AxisSet
	NormalizeVariance bool
	Eps               float64
}

// LRNAttrs of the local response normalization.
type LRNAttrs struct {
	Alpha, Beta, Bias float64
	Size              int
}

// EluAttrs of Elu.
type EluAttrs struct {
	Alpha float64
}

// BatchNormInferenceAttrs of BatchNormInference.
type BatchNormInferenceAttrs struct {
	Epsilon float64
}

// ReverseSequenceAttrs of ReverseSequence, with the axes normalized.
type ReverseSequenceAttrs struct {
	BatchAxis, SeqAxis int
}

// RNNCellAttrs of RNNCell.
type RNNCellAttrs struct {
	HiddenSize int
}

func init() {
	graph.RegisterShapeInference(opsets.OpTypeConvert, func(node *graph.Node) ([]shapes.Shape, error) {
		dtype := node.Attrs().(ConvertAttrs).DestinationType
		if !dtype.IsValid() {
			return nil, errors.Errorf("invalid Convert destination type %s", dtype)
		}
		return []shapes.Shape{node.Input(0).Shape().WithDType(dtype)}, nil
	})
	graph.RegisterShapeInference(opsets.OpTypeCumSum, inferCumSum)
	graph.RegisterShapeInference(opsets.OpTypeMVN, func(node *graph.Node) ([]shapes.Shape, error) {
		operand := node.Input(0).Shape()
		for _, axis := range node.Attrs().(MVNAttrs).ReductionAxes {
			if axis < 0 || axis >= operand.Rank() {
				return nil, errors.Errorf("MVN reduction axis %d out-of-bounds for %s", axis, operand)
			}
		}
		return single(shapeinference.UnaryFloatOp(operand))
	})
	graph.RegisterShapeInference(opsets.OpTypeLRN, inferLRN)
	graph.RegisterShapeInference(opsets.OpTypeHardSigmoid, inferWithScalarParameters)
	graph.RegisterShapeInference(opsets.OpTypeSelu, inferWithScalarParameters)
	graph.RegisterShapeInference(opsets.OpTypeElu, inferFloatUnary)
	graph.RegisterShapeInference(opsets.OpTypeGelu, inferFloatUnary)
	graph.RegisterShapeInference(opsets.OpTypeCeiling, func(node *graph.Node) ([]shapes.Shape, error) {
		return single(shapeinference.UnaryNumericOp(node.Input(0).Shape()))
	})
	graph.RegisterShapeInference(opsets.OpTypeBatchNormInference, inferBatchNormInference)
	graph.RegisterShapeInference(opsets.OpTypeReverseSequence, inferReverseSequence)
	graph.RegisterShapeInference(opsets.OpTypeRNNCell, inferRNNCell)
}

// Convert x to the destination element type. Float to integer conversions truncate towards zero, and
// conversions to bool are true for non-zero values.
func Convert(x graph.Output, destinationType dtypes.DType) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeConvert, ConvertAttrs{DestinationType: destinationType}, x)
}

func inferCumSum(node *graph.Node) ([]shapes.Shape, error) {
	operand := node.Input(0).Shape()
	axis := node.Input(1).Shape()
	if !axis.DType.IsInt() || axis.Rank() > 1 || (axis.Rank() == 1 && axis.Dimensions[0] != 1) {
		return nil, errors.Errorf("CumSum axis must be an integer scalar, got %s", axis)
	}
	if operand.Rank() == 0 {
		return nil, errors.Errorf("CumSum operand must have at least one axis, got %s", operand)
	}
	if value, ok := graph.ConstantAsScalarInt64(node.Input(1)); ok {
		if _, err := graph.NormalizeAxis(value, operand.Rank()); err != nil {
			return nil, errors.WithMessage(err, "CumSum")
		}
	}
	return single(shapeinference.UnaryNumericOp(operand))
}

// CumSum returns the cumulative sum of x along axis, an integer scalar that may be computed at runtime.
func CumSum(x, axis graph.Output, exclusive, reverse bool) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeCumSum, CumSumAttrs{Exclusive: exclusive, Reverse: reverse}, x, axis)
}

// MVN normalizes x to zero mean (and unit variance if normalizeVariance) over the given axes.
func MVN(x graph.Output, reductionAxes graph.AxisSet, normalizeVariance bool, eps float64) (*graph.Node, error) {
	attrs := MVNAttrs{ReductionAxes: graph.NewAxisSet(reductionAxes...), NormalizeVariance: normalizeVariance, Eps: eps}
	return graph.NewNodeFromInputs(opsets.OpTypeMVN, attrs, x)
}

// MVNAcrossChannels is MVN over the spatial axes of x ([batch, channels, spatial...]), and also over the
// channels if acrossChannels is set.
func MVNAcrossChannels(x graph.Output, acrossChannels, normalizeVariance bool, eps float64) (*graph.Node, error) {
	if !x.IsValid() {
		return nil, errors.New("MVN: invalid input")
	}
	first := 2
	if acrossChannels {
		first = 1
	}
	var axes graph.AxisSet
	for axis := first; axis < x.Shape().Rank(); axis++ {
		axes = append(axes, axis)
	}
	return MVN(x, axes, normalizeVariance, eps)
}

// LRNAxes returns the normalized axes of an LRN node, which must be constant.
func LRNAxes(node *graph.Node) (graph.AxisSet, error) {
	axes, ok := graph.ConstantAsInt64s(node.Input(1))
	if !ok {
		return nil, errors.New("LRN axes must be an integer constant")
	}
	return graph.NormalizeAxes(axes, node.Input(0).Shape().Rank())
}

func inferLRN(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(LRNAttrs)
	if attrs.Size <= 0 {
		return nil, errors.Errorf("LRN size must be positive, got %d", attrs.Size)
	}
	if _, err := LRNAxes(node); err != nil {
		return nil, err
	}
	return single(shapeinference.UnaryFloatOp(node.Input(0).Shape()))
}

// LRN applies the local response normalization to x, over windows of the given size along the constant axes.
func LRN(x, axes graph.Output, alpha, beta, bias float64, size int) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeLRN, LRNAttrs{Alpha: alpha, Beta: beta, Bias: bias, Size: size}, x, axes)
}

func inferFloatUnary(node *graph.Node) ([]shapes.Shape, error) {
	return single(shapeinference.UnaryFloatOp(node.Input(0).Shape()))
}

// inferWithScalarParameters is the shape inference of activations with scalar parameters passed as inputs.
func inferWithScalarParameters(node *graph.Node) ([]shapes.Shape, error) {
	operand := node.Input(0).Shape()
	for ii := 1; ii < node.NumInputs(); ii++ {
		param := node.Input(ii).Shape()
		if param.DType != operand.DType || (param.Rank() > 0 && (!param.IsStatic() || param.Size() != 1)) {
			return nil, errors.Errorf("%s parameter #%d must be a scalar of the operand dtype %s, got %s",
				node.Type(), ii, operand.DType, param)
		}
	}
	return single(shapeinference.UnaryFloatOp(operand))
}

// HardSigmoid returns max(0, min(1, alpha*x + beta)), with the scalars alpha and beta given as inputs.
func HardSigmoid(x, alpha, beta graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeHardSigmoid, nil, x, alpha, beta)
}

// Elu returns x for positive x, and alpha*(exp(x)-1) otherwise.
func Elu(x graph.Output, alpha float64) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeElu, EluAttrs{Alpha: alpha}, x)
}

// Selu returns lambda*x for positive x, and lambda*alpha*(exp(x)-1) otherwise.
func Selu(x, alpha, lambda graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeSelu, nil, x, alpha, lambda)
}

// Ceiling rounds x up. Integers are left unchanged.
func Ceiling(x graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeCeiling, nil, x)
}

// Gelu returns the Gaussian error linear unit of x, 0.5*x*(1+erf(x/sqrt(2))).
func Gelu(x graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeGelu, nil, x)
}

func inferBatchNormInference(node *graph.Node) ([]shapes.Shape, error) {
	input := node.Input(2).Shape()
	if !input.DType.IsFloat() || input.Rank() < 2 {
		return nil, errors.Errorf("BatchNormInference input must be a float [batch, channels, ...], got %s", input)
	}
	channels := input.Dimensions[1]
	for _, ii := range []int{0, 1, 3, 4} {
		param := node.Input(ii).Shape()
		if param.DType != input.DType || param.Rank() != 1 ||
			(param.Dimensions[0] != channels && param.Dimensions[0] != shapes.UnknownDim && channels != shapes.UnknownDim) {
			return nil, errors.Errorf("BatchNormInference input #%d must be [%d] of %s, got %s", ii, channels, input.DType, param)
		}
	}
	return []shapes.Shape{input.Clone()}, nil
}

// BatchNormInference normalizes input ([batch, channels, ...]) with the given per-channel statistics:
// gamma*(input-mean)/sqrt(variance+epsilon) + beta.
func BatchNormInference(gamma, beta, input, mean, variance graph.Output, epsilon float64) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeBatchNormInference, BatchNormInferenceAttrs{Epsilon: epsilon},
		gamma, beta, input, mean, variance)
}

func inferReverseSequence(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(ReverseSequenceAttrs)
	operand := node.Input(0).Shape()
	seqLengths := node.Input(1).Shape()
	if attrs.BatchAxis == attrs.SeqAxis || attrs.BatchAxis >= operand.Rank() || attrs.SeqAxis >= operand.Rank() {
		return nil, errors.Errorf("ReverseSequence batch axis %d and sequence axis %d invalid for %s",
			attrs.BatchAxis, attrs.SeqAxis, operand)
	}
	batch := operand.Dimensions[attrs.BatchAxis]
	if seqLengths.Rank() != 1 || seqLengths.DType == dtypes.Bool ||
		(seqLengths.Dimensions[0] != batch && seqLengths.Dimensions[0] != shapes.UnknownDim && batch != shapes.UnknownDim) {
		return nil, errors.Errorf("ReverseSequence lengths must be a numeric [%d], got %s", batch, seqLengths)
	}
	return []shapes.Shape{operand.Clone()}, nil
}

// ReverseSequence reverses, for each entry b of the batch axis, the first seqLengths[b] elements along seqAxis.
func ReverseSequence(x, seqLengths graph.Output, batchAxis, seqAxis int) (*graph.Node, error) {
	if !x.IsValid() {
		return nil, errors.New("ReverseSequence: invalid input")
	}
	rank := x.Shape().Rank()
	normalizedBatch, err := graph.NormalizeAxis(int64(batchAxis), rank)
	if err != nil {
		return nil, errors.WithMessage(err, "ReverseSequence batch axis")
	}
	normalizedSeq, err := graph.NormalizeAxis(int64(seqAxis), rank)
	if err != nil {
		return nil, errors.WithMessage(err, "ReverseSequence sequence axis")
	}
	return graph.NewNodeFromInputs(opsets.OpTypeReverseSequence,
		ReverseSequenceAttrs{BatchAxis: normalizedBatch, SeqAxis: normalizedSeq}, x, seqLengths)
}

func inferRNNCell(node *graph.Node) ([]shapes.Shape, error) {
	hidden := node.Attrs().(RNNCellAttrs).HiddenSize
	x, h := node.Input(0).Shape(), node.Input(1).Shape()
	if hidden <= 0 {
		return nil, errors.Errorf("RNNCell hidden size must be positive, got %d", hidden)
	}
	if !x.DType.IsFloat() || x.Rank() != 2 || h.Rank() != 2 || h.DType != x.DType {
		return nil, errors.Errorf("RNNCell inputs must be float [batch, input_size] and [batch, hidden_size], got %s and %s", x, h)
	}
	expected := []shapes.Shape{
		shapes.Make(x.DType, hidden, x.Dimensions[1]),
		shapes.Make(x.DType, hidden, hidden),
		shapes.Make(x.DType, hidden),
	}
	for ii, want := range expected {
		got := node.Input(2 + ii).Shape()
		if !got.Compatible(want) {
			return nil, errors.Errorf("RNNCell input #%d must be %s, got %s", 2+ii, want, got)
		}
	}
	return []shapes.Shape{shapes.Make(x.DType, x.Dimensions[0], hidden)}, nil
}

// RNNCell is a single step of a plain recurrent cell. It is a placeholder: its evaluation zero-fills the output.
func RNNCell(x, h, w, r, b graph.Output, hiddenSize int) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeRNNCell, RNNCellAttrs{HiddenSize: hiddenSize}, x, h, w, r, b)
}
