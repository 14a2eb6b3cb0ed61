// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opset0

import (
	"slices"

	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/shapeinference"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/support/xslices"
	"github.com/pkg/errors"
)

// AvgPoolAttrs of the version 0 AvgPool.
type AvgPoolAttrs struct {
	Kernel, Strides    []int
	PadsBegin, PadsEnd []int

	// IncludePadding makes the padded elements count (as zeros) in the average.
	IncludePadding bool

	PadType  graph.PadType
	CeilMode bool
}

// Window returns the pooling window of the attributes.
func (a AvgPoolAttrs) Window() graph.WindowConfig {
	rounding := graph.RoundFloor
	if a.CeilMode {
		rounding = graph.RoundCeil
	}
	return graph.WindowConfig{
		Kernel:    a.Kernel,
		Strides:   a.Strides,
		Dilations: xslices.SliceWithValue(len(a.Kernel), 1),
		PadsBegin: a.PadsBegin,
		PadsEnd:   a.PadsEnd,
		AutoPad:   a.PadType,
		Rounding:  rounding,
	}
}

func init() {
	graph.RegisterShapeInference(opsets.OpTypeAvgPool, func(node *graph.Node) ([]shapes.Shape, error) {
		input := node.Input(0).Shape()
		if !input.DType.IsFloat() {
			return nil, errors.Errorf("AvgPool input must be a float, got %s", input)
		}
		return single(shapeinference.PoolOp(input, node.Attrs().(AvgPoolAttrs).Window()))
	})
}

// AvgPool computes the average of the windows of x, shaped [batch, channels, spatial...].
func AvgPool(x graph.Output, attrs AvgPoolAttrs) (*graph.Node, error) {
	attrs.Kernel = slices.Clone(attrs.Kernel)
	attrs.Strides = slices.Clone(attrs.Strides)
	if attrs.Strides == nil {
		attrs.Strides = xslices.SliceWithValue(len(attrs.Kernel), 1)
	}
	attrs.PadsBegin = slices.Clone(attrs.PadsBegin)
	attrs.PadsEnd = slices.Clone(attrs.PadsEnd)
	if attrs.PadsBegin == nil {
		attrs.PadsBegin = make([]int, len(attrs.Kernel))
	}
	if attrs.PadsEnd == nil {
		attrs.PadsEnd = make([]int, len(attrs.Kernel))
	}
	return graph.NewNodeFromInputs(opsets.OpTypeAvgPool, attrs, x)
}
