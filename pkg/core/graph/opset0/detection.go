// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opset0

import (
	"fmt"
	"strings"

	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// DetectionCodeType is the encoding of the box predictions of DetectionOutput relative to their prior boxes.
type DetectionCodeType int

const (
	// DetectionCodeCorner predictions are offsets of the corners of the prior box.
	DetectionCodeCorner DetectionCodeType = iota

	// DetectionCodeCenterSize predictions are offsets of the center, and log-scales of the size, of the prior box.
	DetectionCodeCenterSize
)

var detectionCodeTypeNames = []string{"caffe.PriorBoxParameter.CORNER", "caffe.PriorBoxParameter.CENTER_SIZE"}

// String implements fmt.Stringer, using the Caffe names of the encodings.
func (c DetectionCodeType) String() string {
	if c < 0 || int(c) >= len(detectionCodeTypeNames) {
		return fmt.Sprintf("DetectionCodeType(%d)", int(c))
	}
	return detectionCodeTypeNames[c]
}

// ParseDetectionCodeType accepts the Caffe names of the encodings, with or without the
// "caffe.PriorBoxParameter." prefix.
func ParseDetectionCodeType(name string) (DetectionCodeType, error) {
	for ii, known := range detectionCodeTypeNames {
		if name == known || name == strings.TrimPrefix(known, "caffe.PriorBoxParameter.") {
			return DetectionCodeType(ii), nil
		}
	}
	return 0, errors.Errorf("unknown DetectionOutput code type %q", name)
}

// DetectionOutputAttrs of DetectionOutput.
type DetectionOutputAttrs struct {
	NumClasses        int
	BackgroundLabelID int

	// TopK is the number of boxes per class kept before the non-maximum suppression, -1 for all.
	TopK int

	// KeepTopK holds the total number of boxes per image kept after the non-maximum suppression, -1 for all.
	// Only the first entry is used.
	KeepTopK []int

	CodeType                DetectionCodeType
	VarianceEncodedInTarget bool
	ShareLocation           bool
	NMSThreshold            float64
	ConfidenceThreshold     float64
	ClipBeforeNMS           bool
	ClipAfterNMS            bool

	// DecreaseLabelID selects the MXNet flavor: one class-agnostic suppression over the best class of each
	// prior, and labels output shifted down by one.
	DecreaseLabelID bool

	// Normalized prior boxes are in [0, 1] coordinates. Otherwise each prior has a leading extra value, and the
	// boxes are divided by InputWidth and InputHeight.
	Normalized              bool
	InputHeight, InputWidth int

	// ObjectnessScore is the threshold on the auxiliary objectness below which a prior only scores for the
	// background class.
	ObjectnessScore float64
}

// PriorBoxSize returns the number of values per prior box in the proposals.
func (attrs DetectionOutputAttrs) PriorBoxSize() int {
	if attrs.Normalized {
		return 4
	}
	return 5
}

// NumLocClasses returns the number of box predictions per prior.
func (attrs DetectionOutputAttrs) NumLocClasses() int {
	if attrs.ShareLocation {
		return 1
	}
	return attrs.NumClasses
}

func init() {
	graph.RegisterShapeInference(opsets.OpTypeDetectionOutput, inferDetectionOutput)
}

// perPriorInput is an input of DetectionOutput shaped [N, P*perPrior].
type perPriorInput struct {
	what     string
	shape    shapes.Shape
	perPrior int
}

func inferDetectionOutput(node *graph.Node) ([]shapes.Shape, error) {
	attrs := node.Attrs().(DetectionOutputAttrs)
	if node.NumInputs() != 3 && node.NumInputs() != 5 {
		return nil, errors.Errorf("DetectionOutput takes 3 or 5 inputs, got %d", node.NumInputs())
	}
	if attrs.NumClasses <= 0 || len(attrs.KeepTopK) == 0 || attrs.InputHeight <= 0 || attrs.InputWidth <= 0 {
		return nil, errors.Errorf("DetectionOutput needs a positive number of classes and input size, and keep_top_k, got %+v", attrs)
	}
	if attrs.CodeType != DetectionCodeCorner && attrs.CodeType != DetectionCodeCenterSize {
		return nil, errors.Errorf("invalid DetectionOutput code type %s", attrs.CodeType)
	}
	boxLogits, classPreds, proposals := node.Input(0).Shape(), node.Input(1).Shape(), node.Input(2).Shape()
	if !boxLogits.DType.IsFloat() || boxLogits.Rank() != 2 || classPreds.Rank() != 2 || proposals.Rank() != 3 ||
		classPreds.DType != boxLogits.DType || proposals.DType != boxLogits.DType {
		return nil, errors.Errorf("DetectionOutput inputs must be float [N, P*4], [N, P*classes] and [1|N, 1|2, P*prior_size], got %s, %s and %s",
			boxLogits, classPreds, proposals)
	}
	priorsDim := proposals.Dimensions[2]
	numPriors := shapes.UnknownDim
	if priorsDim != shapes.UnknownDim {
		if priorsDim%attrs.PriorBoxSize() != 0 {
			return nil, errors.Errorf("DetectionOutput proposals last dimension %d not a multiple of the prior box size %d",
				priorsDim, attrs.PriorBoxSize())
		}
		numPriors = priorsDim / attrs.PriorBoxSize()
	}
	if dim := proposals.Dimensions[1]; dim != shapes.UnknownDim &&
		(dim < 1 || dim > 2 || (dim == 1 && !attrs.VarianceEncodedInTarget)) {
		return nil, errors.Errorf("DetectionOutput proposals must hold 2 rows (boxes and variances) unless the variance is encoded in the target, got %s",
			proposals)
	}
	numImages := boxLogits.Dimensions[0]
	expected := []perPriorInput{
		{"box logits", boxLogits, attrs.NumLocClasses() * 4},
		{"class predictions", classPreds, attrs.NumClasses},
	}
	if node.NumInputs() == 5 {
		auxClassPreds, auxBoxPreds := node.Input(3).Shape(), node.Input(4).Shape()
		if auxClassPreds.Rank() != 2 || auxClassPreds.DType != boxLogits.DType || !auxBoxPreds.Compatible(boxLogits) {
			return nil, errors.Errorf("DetectionOutput auxiliary inputs must be [N, P*2] and %s, got %s and %s",
				boxLogits, auxClassPreds, auxBoxPreds)
		}
		expected = append(expected, perPriorInput{"auxiliary class predictions", auxClassPreds, 2})
	}
	for _, e := range expected {
		got := e.shape.Dimensions[1]
		if got != shapes.UnknownDim && numPriors != shapes.UnknownDim && got != numPriors*e.perPrior {
			return nil, errors.Errorf("DetectionOutput %s must have %d values per image for %d priors, got %s",
				e.what, numPriors*e.perPrior, numPriors, e.shape)
		}
		if dim := e.shape.Dimensions[0]; dim != shapes.UnknownDim && numImages != shapes.UnknownDim && dim != numImages {
			return nil, errors.Errorf("DetectionOutput %s batch %d doesn't match the box logits batch %d", e.what, dim, numImages)
		}
	}
	if dim := proposals.Dimensions[0]; dim != shapes.UnknownDim && dim != 1 && numImages != shapes.UnknownDim && dim != numImages {
		return nil, errors.Errorf("DetectionOutput proposals batch must be 1 or %d, got %s", numImages, proposals)
	}
	return []shapes.Shape{shapes.Make(boxLogits.DType, 1, 1, NumDetections(attrs, numImages, numPriors), 7)}, nil
}

// NumDetections returns the number of rows of the DetectionOutput result, or shapes.UnknownDim if it depends
// on an unknown dimension.
func NumDetections(attrs DetectionOutputAttrs, numImages, numPriors int) int {
	if numImages == shapes.UnknownDim {
		return shapes.UnknownDim
	}
	switch {
	case attrs.KeepTopK[0] > 0:
		return numImages * attrs.KeepTopK[0]
	case attrs.TopK > 0:
		return numImages * attrs.TopK * attrs.NumClasses
	case numPriors == shapes.UnknownDim:
		return shapes.UnknownDim
	default:
		return numImages * numPriors * attrs.NumClasses
	}
}

// DetectionOutput decodes the box predictions of a single-shot detector against their prior boxes, and selects
// the detections with a per-class non-maximum suppression.
//
// The inputs are the box logits [N, P*num_loc_classes*4], the class predictions [N, P*num_classes] and the
// proposals [1 or N, 1 or 2, P*prior_box_size] (prior boxes, then their variances). Optionally, the auxiliary
// class predictions [N, P*2] and box predictions (same shape as the box logits) refine the priors in two stages.
//
// The result is [1, 1, num_detections, 7], each row being [image_id, label, score, xmin, ymin, xmax, ymax].
// The row after the last detection has image_id -1.
func DetectionOutput(boxLogits, classPreds, proposals graph.Output, attrs DetectionOutputAttrs,
	auxiliary ...graph.Output) (*graph.Node, error) {
	if len(auxiliary) != 0 && len(auxiliary) != 2 {
		return nil, errors.Errorf("DetectionOutput takes either no auxiliary inputs or both class and box predictions, got %d",
			len(auxiliary))
	}
	inputs := append([]graph.Output{boxLogits, classPreds, proposals}, auxiliary...)
	return graph.NewNodeFromInputs(opsets.OpTypeDetectionOutput, attrs, inputs...)
}
