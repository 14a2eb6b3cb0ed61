// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package opset4 defines the version 4 operators.
package opset4

import (
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// CTCLossAttrs of CTCLoss.
type CTCLossAttrs struct {
	// PreprocessCollapseRepeated merges consecutive repeated labels before computing the loss.
	PreprocessCollapseRepeated bool

	// CTCMergeRepeated allows an alignment to emit the same label in consecutive time steps (merged when decoding).
	// If false, every label emission takes exactly one time step.
	CTCMergeRepeated bool

	// Unique keeps only the first occurrence of each label.
	Unique bool
}

func init() {
	graph.RegisterShapeInference(opsets.OpTypeCTCLossV4, inferCTCLoss)
}

func inferCTCLoss(node *graph.Node) ([]shapes.Shape, error) {
	logits := node.Input(0).Shape()
	logitLength, labels, labelLength := node.Input(1).Shape(), node.Input(2).Shape(), node.Input(3).Shape()
	if !logits.DType.IsFloat() || logits.Rank() != 3 {
		return nil, errors.Errorf("CTCLoss logits must be a float tensor shaped [batch, time, classes], got %s", logits)
	}
	batch, maxTime := logits.Dimensions[0], logits.Dimensions[1]
	check := func(shape shapes.Shape, dims []int, what string) error {
		if !shape.DType.IsInt() || shape.Rank() != len(dims) {
			return errors.Errorf("CTCLoss %s must be an integer tensor of rank %d, got %s", what, len(dims), shape)
		}
		for axis, dim := range dims {
			got := shape.Dimensions[axis]
			if got != dim && got != shapes.UnknownDim && dim != shapes.UnknownDim {
				return errors.Errorf("CTCLoss %s %s must be shaped %v", what, shape, dims)
			}
		}
		return nil
	}
	if err := check(logitLength, []int{batch}, "logit length"); err != nil {
		return nil, err
	}
	if err := check(labels, []int{batch, maxTime}, "labels"); err != nil {
		return nil, err
	}
	if err := check(labelLength, []int{batch}, "label length"); err != nil {
		return nil, err
	}
	if labels.DType != logitLength.DType || labelLength.DType != logitLength.DType {
		return nil, errors.Errorf("CTCLoss logit length %s, labels %s and label length %s must have the same dtype",
			logitLength, labels, labelLength)
	}
	if node.NumInputs() > 4 {
		if err := check(node.Input(4).Shape(), nil, "blank index"); err != nil {
			return nil, err
		}
	}
	return []shapes.Shape{shapes.Make(logits.DType, batch)}, nil
}

// CTCLoss computes the Connectionist Temporal Classification loss (the negative log-likelihood of the labels)
// of logits [batch, time, classes]. logitLength and labelLength [batch] give the valid lengths, and labels is
// shaped [batch, time]. blankIndex is an optional scalar: it defaults to classes-1.
func CTCLoss(logits, logitLength, labels, labelLength, blankIndex graph.Output, attrs CTCLossAttrs) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeCTCLossV4, attrs, logits, logitLength, labels, labelLength, blankIndex)
}
