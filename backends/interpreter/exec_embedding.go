// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/pkg/errors"
)

func init() {
	registerNumeric(opsets.OpTypeEmbeddingSegmentsSumV3, execEmbeddingSegmentsSum)
	registerNumeric(opsets.OpTypeEmbeddingBagOffsetsSumV3, execEmbeddingBagOffsetsSum)
	registerNumeric(opsets.OpTypeEmbeddingBagPackedSumV3, execEmbeddingBagPackedSum)
	register(opsets.OpTypeScatterNDUpdateV3, execScatterNDUpdate)
}

// embeddingBags is the type-independent description of an embedding bag reduction: for each output row,
// the positions (into the indices) summed into it.
type embeddingBags struct {
	rows       []int64 // Table row of each position.
	bags       [][]int
	defaultRow int // -1 for zeros.
	weights    *tensors.Tensor
}

// readEmbeddingIndices reads the indices and validates them against the number of rows of the table.
func (interp *Interpreter) readEmbeddingIndices(node *graph.Node, t *tensors.Tensor, numRows int, what string) ([]int64, error) {
	indices, err := interp.readIndices(node, t, what)
	if err != nil {
		return nil, err
	}
	for _, idx := range indices {
		if idx < 0 || idx >= int64(numRows) {
			return nil, errors.Errorf("%s %d out-of-bounds for an embedding table with %d rows", what, idx, numRows)
		}
	}
	return indices, nil
}

// optionalEmbeddingInputs reads the optional default index (input #defaultIdx) and per-sample weights
// (the following input) into bags.
func (interp *Interpreter) optionalEmbeddingInputs(node *graph.Node, inputs []*tensors.Tensor, defaultIdx int, bags *embeddingBags) error {
	bags.defaultRow = -1
	if len(inputs) > defaultIdx {
		defaultRow, err := interp.readEmbeddingIndices(node, inputs[defaultIdx], inputs[0].Shape().Dimensions[0], "default index")
		if err != nil {
			return err
		}
		bags.defaultRow = int(defaultRow[0])
	}
	if len(inputs) > defaultIdx+1 {
		bags.weights = inputs[defaultIdx+1]
	}
	return nil
}

func execEmbeddingSegmentsSum(interp *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	numRows := inputs[0].Shape().Dimensions[0]
	var bags embeddingBags
	var err error
	bags.rows, err = interp.readEmbeddingIndices(node, inputs[1], numRows, "indices")
	if err != nil {
		return err
	}
	segmentIds, err := interp.readIndices(node, inputs[2], "segment ids")
	if err != nil {
		return err
	}
	numSegments := outputs[0].Shape().Dimensions[0]
	bags.bags = make([][]int, numSegments)
	for position, segment := range segmentIds {
		if segment < 0 || segment >= int64(numSegments) {
			return errors.Errorf("segment id %d out-of-bounds for %d segments", segment, numSegments)
		}
		bags.bags[segment] = append(bags.bags[segment], position)
	}
	if err := interp.optionalEmbeddingInputs(node, inputs, 4, &bags); err != nil {
		return err
	}
	return embeddingSum(node, outputs[0], inputs[0], &bags)
}

func execEmbeddingBagOffsetsSum(interp *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	numRows := inputs[0].Shape().Dimensions[0]
	var bags embeddingBags
	var err error
	bags.rows, err = interp.readEmbeddingIndices(node, inputs[1], numRows, "indices")
	if err != nil {
		return err
	}
	offsets, err := interp.readIndices(node, inputs[2], "offsets")
	if err != nil {
		return err
	}
	numIndices := int64(len(bags.rows))
	bags.bags = make([][]int, len(offsets))
	for b, begin := range offsets {
		end := numIndices
		if b+1 < len(offsets) {
			end = offsets[b+1]
		}
		if begin < 0 || begin > end || end > numIndices {
			return errors.Errorf("embedding bag offsets %v invalid for %d indices", offsets, numIndices)
		}
		for position := begin; position < end; position++ {
			bags.bags[b] = append(bags.bags[b], int(position))
		}
	}
	if err := interp.optionalEmbeddingInputs(node, inputs, 3, &bags); err != nil {
		return err
	}
	return embeddingSum(node, outputs[0], inputs[0], &bags)
}

func execEmbeddingBagPackedSum(interp *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	numRows := inputs[0].Shape().Dimensions[0]
	var bags embeddingBags
	var err error
	bags.rows, err = interp.readEmbeddingIndices(node, inputs[1], numRows, "indices")
	if err != nil {
		return err
	}
	batch, bagSize := inputs[1].Shape().Dimensions[0], inputs[1].Shape().Dimensions[1]
	bags.bags = make([][]int, batch)
	for b := range batch {
		for j := range bagSize {
			bags.bags[b] = append(bags.bags[b], b*bagSize+j)
		}
	}
	bags.defaultRow = -1
	if len(inputs) > 2 {
		bags.weights = inputs[2]
	}
	return embeddingSum(node, outputs[0], inputs[0], &bags)
}

func embeddingSum(node *graph.Node, output, table *tensors.Tensor, bags *embeddingBags) error {
	sum, err := kernelFor[func(output, table *tensors.Tensor, bags *embeddingBags)](
		embeddingSumDTypeMap, node, output.DType())
	if err != nil {
		return err
	}
	sum(output, table, bags)
	return nil
}

func embeddingSumGeneric[T tensorNumber](output, table *tensors.Tensor, bags *embeddingBags) {
	out, rows := tensors.Flat[T](output), tensors.Flat[T](table)
	var weights []T
	if bags.weights != nil {
		weights = tensors.Flat[T](bags.weights)
	}
	rowSize := 1
	for _, dim := range table.Shape().Dimensions[1:] {
		rowSize *= dim
	}
	clear(out)
	for b, positions := range bags.bags {
		dst := out[b*rowSize : (b+1)*rowSize]
		if len(positions) == 0 {
			if bags.defaultRow >= 0 {
				copy(dst, rows[bags.defaultRow*rowSize:(bags.defaultRow+1)*rowSize])
			}
			continue
		}
		for _, position := range positions {
			src := rows[int(bags.rows[position])*rowSize : (int(bags.rows[position])+1)*rowSize]
			weight := T(1)
			if weights != nil {
				weight = weights[position]
			}
			for ii, v := range src {
				dst[ii] += v * weight
			}
		}
	}
}

// execScatterNDUpdate copies the data and then moves each slice of the updates to the position given by the
// last axis of the indices. Negative coordinates count from the end of the axis.
func execScatterNDUpdate(interp *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	data := inputs[0].Shape()
	indices, err := interp.readIndices(node, inputs[1], "indices")
	if err != nil {
		return err
	}
	indicesDims := inputs[1].Shape().Dimensions
	depth := indicesDims[len(indicesDims)-1]
	strides := data.Strides()
	sliceSize := 1
	for _, dim := range data.Dimensions[depth:] {
		sliceSize *= dim
	}
	output := outputs[0]
	copy(output.Bytes(), inputs[0].Bytes())
	srcIdx := make([]int, output.Size())
	for ii := range srcIdx {
		srcIdx[ii] = -1
	}
	numUpdates := 1
	for _, dim := range indicesDims[:len(indicesDims)-1] {
		numUpdates *= dim
	}
	for update := range numUpdates {
		offset := 0
		for axis := range depth {
			coordinate := indices[update*depth+axis]
			dim := int64(data.Dimensions[axis])
			if coordinate < -dim || coordinate >= dim {
				return errors.Errorf("ScatterNDUpdate coordinate %d out-of-bounds for axis %d of %s", coordinate, axis, data)
			}
			if coordinate < 0 {
				coordinate += dim
			}
			offset += int(coordinate) * strides[axis]
		}
		for ii := range sliceSize {
			srcIdx[offset+ii] = update*sliceSize + ii
		}
	}
	moveElements(output, inputs[2], srcIdx)
	return nil
}
