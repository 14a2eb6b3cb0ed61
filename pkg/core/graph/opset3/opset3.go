// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package opset3 defines the version 3 operators: the embedding bag reductions and ScatterNDUpdate.
package opset3

import (
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

func init() {
	graph.RegisterShapeInference(opsets.OpTypeEmbeddingSegmentsSumV3, inferEmbeddingSegmentsSum)
	graph.RegisterShapeInference(opsets.OpTypeEmbeddingBagOffsetsSumV3, inferEmbeddingBagOffsetsSum)
	graph.RegisterShapeInference(opsets.OpTypeEmbeddingBagPackedSumV3, inferEmbeddingBagPackedSum)
	graph.RegisterShapeInference(opsets.OpTypeScatterNDUpdateV3, inferScatterNDUpdate)
}

func checkIndices(shape shapes.Shape, rank int, what string) error {
	if !shape.DType.IsInt() || shape.Rank() != rank {
		return errors.Errorf("%s must be an integer tensor of rank %d, got %s", what, rank, shape)
	}
	return nil
}

func checkSameDim(a, b int, what string) error {
	if a != b && a != shapes.UnknownDim && b != shapes.UnknownDim {
		return errors.Errorf("%s: dimensions %d and %d don't match", what, a, b)
	}
	return nil
}

// embeddingOutput returns the shape [numBags, emb[1:]...].
func embeddingOutput(table shapes.Shape, numBags int) (shapes.Shape, error) {
	if table.Rank() < 1 {
		return shapes.Invalid(), errors.Errorf("embedding table must have at least rank 1, got %s", table)
	}
	output := table.Clone()
	output.Dimensions[0] = numBags
	return output, nil
}

// checkOptionalEmbeddingInputs validates the optional default index (input #defaultIdx) and per-sample weights
// (the following input), if present.
func checkOptionalEmbeddingInputs(node *graph.Node, defaultIdx int, indices shapes.Shape) error {
	table := node.Input(0).Shape()
	if node.NumInputs() > defaultIdx {
		if err := checkIndices(node.Input(defaultIdx).Shape(), 0, "embedding default index"); err != nil {
			return err
		}
	}
	if node.NumInputs() > defaultIdx+1 {
		weights := node.Input(defaultIdx + 1).Shape()
		if weights.DType != table.DType || weights.Rank() != indices.Rank() {
			return errors.Errorf("embedding per-sample weights %s must match the indices %s and have dtype %s",
				weights, indices, table.DType)
		}
		for axis := range weights.Dimensions {
			if err := checkSameDim(weights.Dimensions[axis], indices.Dimensions[axis], "embedding per-sample weights"); err != nil {
				return err
			}
		}
	}
	return nil
}

func inferEmbeddingSegmentsSum(node *graph.Node) ([]shapes.Shape, error) {
	table, indices, segmentIds := node.Input(0).Shape(), node.Input(1).Shape(), node.Input(2).Shape()
	if err := checkIndices(indices, 1, "EmbeddingSegmentsSum indices"); err != nil {
		return nil, err
	}
	if err := checkIndices(segmentIds, 1, "EmbeddingSegmentsSum segment ids"); err != nil {
		return nil, err
	}
	if err := checkSameDim(indices.Dimensions[0], segmentIds.Dimensions[0], "EmbeddingSegmentsSum segment ids"); err != nil {
		return nil, err
	}
	if err := checkIndices(node.Input(3).Shape(), 0, "EmbeddingSegmentsSum number of segments"); err != nil {
		return nil, err
	}
	if err := checkOptionalEmbeddingInputs(node, 4, indices); err != nil {
		return nil, err
	}
	numSegments := shapes.UnknownDim
	if value, ok := graph.ConstantAsScalarInt64(node.Input(3)); ok {
		if value < 0 {
			return nil, errors.Errorf("EmbeddingSegmentsSum number of segments must be non-negative, got %d", value)
		}
		numSegments = int(value)
	}
	output, err := embeddingOutput(table, numSegments)
	if err != nil {
		return nil, err
	}
	return []shapes.Shape{output}, nil
}

// EmbeddingSegmentsSum sums the rows embTable[indices[i]] (scaled by perSampleWeights[i], if given) into
// segment segmentIds[i] of the output, shaped [numSegments, embTable.dims[1:]...].
// Empty segments take the row defaultIndex, or zeros if it is not given.
//
// defaultIndex and perSampleWeights are optional: pass the zero graph.Output to omit them.
func EmbeddingSegmentsSum(embTable, indices, segmentIds, numSegments, defaultIndex, perSampleWeights graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeEmbeddingSegmentsSumV3, nil,
		embTable, indices, segmentIds, numSegments, defaultIndex, perSampleWeights)
}

func inferEmbeddingBagOffsetsSum(node *graph.Node) ([]shapes.Shape, error) {
	table, indices, offsets := node.Input(0).Shape(), node.Input(1).Shape(), node.Input(2).Shape()
	if err := checkIndices(indices, 1, "EmbeddingBagOffsetsSum indices"); err != nil {
		return nil, err
	}
	if err := checkIndices(offsets, 1, "EmbeddingBagOffsetsSum offsets"); err != nil {
		return nil, err
	}
	if err := checkOptionalEmbeddingInputs(node, 3, indices); err != nil {
		return nil, err
	}
	output, err := embeddingOutput(table, offsets.Dimensions[0])
	if err != nil {
		return nil, err
	}
	return []shapes.Shape{output}, nil
}

// EmbeddingBagOffsetsSum sums, for each bag b, the rows embTable[indices[i]] for i in
// [offsets[b], offsets[b+1]) (the last bag goes to the end of indices), scaled by perSampleWeights[i] if given.
// Empty bags take the row defaultIndex, or zeros if it is not given.
//
// defaultIndex and perSampleWeights are optional.
func EmbeddingBagOffsetsSum(embTable, indices, offsets, defaultIndex, perSampleWeights graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeEmbeddingBagOffsetsSumV3, nil,
		embTable, indices, offsets, defaultIndex, perSampleWeights)
}

func inferEmbeddingBagPackedSum(node *graph.Node) ([]shapes.Shape, error) {
	table, indices := node.Input(0).Shape(), node.Input(1).Shape()
	if err := checkIndices(indices, 2, "EmbeddingBagPackedSum indices"); err != nil {
		return nil, err
	}
	if node.NumInputs() > 2 {
		weights := node.Input(2).Shape()
		if weights.DType != table.DType || weights.Rank() != 2 {
			return nil, errors.Errorf("EmbeddingBagPackedSum per-sample weights %s must match the indices %s", weights, indices)
		}
		for axis := range 2 {
			if err := checkSameDim(weights.Dimensions[axis], indices.Dimensions[axis], "EmbeddingBagPackedSum per-sample weights"); err != nil {
				return nil, err
			}
		}
	}
	output, err := embeddingOutput(table, indices.Dimensions[0])
	if err != nil {
		return nil, err
	}
	return []shapes.Shape{output}, nil
}

// EmbeddingBagPackedSum sums, for each bag b, the rows embTable[indices[b, j]], scaled by
// perSampleWeights[b, j] if given. indices is shaped [batch, bagSize]. perSampleWeights is optional.
func EmbeddingBagPackedSum(embTable, indices, perSampleWeights graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeEmbeddingBagPackedSumV3, nil, embTable, indices, perSampleWeights)
}

func inferScatterNDUpdate(node *graph.Node) ([]shapes.Shape, error) {
	data, indices, updates := node.Input(0).Shape(), node.Input(1).Shape(), node.Input(2).Shape()
	if !indices.DType.IsInt() || indices.Rank() < 1 {
		return nil, errors.Errorf("ScatterNDUpdate indices must be an integer tensor of rank >= 1, got %s", indices)
	}
	if updates.DType != data.DType {
		return nil, errors.Errorf("ScatterNDUpdate updates %s and data %s must have the same dtype", updates, data)
	}
	indexDepth := indices.Dimensions[indices.Rank()-1]
	if indexDepth == shapes.UnknownDim {
		return []shapes.Shape{data.Clone()}, nil
	}
	if indexDepth > data.Rank() {
		return nil, errors.Errorf("ScatterNDUpdate indices %s index more axes than data %s has", indices, data)
	}
	expected := append(indices.Clone().Dimensions[:indices.Rank()-1], data.Dimensions[indexDepth:]...)
	if len(expected) != updates.Rank() {
		return nil, errors.Errorf("ScatterNDUpdate updates %s must be shaped %v", updates, expected)
	}
	for axis, dim := range expected {
		if err := checkSameDim(updates.Dimensions[axis], dim, "ScatterNDUpdate updates"); err != nil {
			return nil, err
		}
	}
	return []shapes.Shape{data.Clone()}, nil
}

// ScatterNDUpdate returns a copy of data where the slices data[indices[i...]] are replaced by updates[i...].
// The last axis of indices holds the (partial) coordinates into data.
func ScatterNDUpdate(data, indices, updates graph.Output) (*graph.Node, error) {
	return graph.NewNodeFromInputs(opsets.OpTypeScatterNDUpdateV3, nil, data, indices, updates)
}
