// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/gomlx/opgraph/pkg/support/xslices"
	"github.com/pkg/errors"
	"github.com/x448/float16"
)

// ParameterAttrs are the attributes of a Parameter node: an input of the graph fed at execution time.
type ParameterAttrs struct {
	Shape shapes.Shape
}

// ConstantAttrs are the attributes of a Constant node: the compile-time value.
type ConstantAttrs struct {
	Value *tensors.Tensor
}

func init() {
	RegisterShapeInference(opsets.OpTypeParameter, func(node *Node) ([]shapes.Shape, error) {
		return []shapes.Shape{node.attrs.(ParameterAttrs).Shape.Clone()}, nil
	})
	RegisterShapeInference(opsets.OpTypeConstant, func(node *Node) ([]shapes.Shape, error) {
		return []shapes.Shape{node.attrs.(ConstantAttrs).Value.Shape().Clone()}, nil
	})
}

// Parameter creates a graph input with the given name and shape. The shape may be dynamic.
func (g *Graph) Parameter(name string, shape shapes.Shape) (*Node, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("invalid shape for parameter %q", name)
	}
	node, err := g.NewNode(opsets.OpTypeParameter, ParameterAttrs{Shape: shape.Clone()})
	if err != nil {
		return nil, err
	}
	node.SetName(name)
	g.parameters = append(g.parameters, node)
	return node, nil
}

// Constant creates a compile-time constant holding a copy of value.
func (g *Graph) Constant(value *tensors.Tensor) (*Node, error) {
	if value == nil {
		return nil, errors.New("nil value for Constant")
	}
	return g.NewNode(opsets.OpTypeConstant, ConstantAttrs{Value: value.Clone()})
}

// ConstantValue returns the value of out if it is the output of a Constant node.
func ConstantValue(out Output) (*tensors.Tensor, bool) {
	if out.Node == nil || out.Node.opType != opsets.OpTypeConstant {
		return nil, false
	}
	return out.Node.attrs.(ConstantAttrs).Value, true
}

// IsConstant returns whether out is the output of a Constant node.
func IsConstant(out Output) bool {
	_, ok := ConstantValue(out)
	return ok
}

// ConstantAsInt64s returns the flat values of a constant integer (or bool) output converted to int64.
//
// It returns false if out is not a Constant, or if its dtype is not an integer or bool.
func ConstantAsInt64s(out Output) ([]int64, bool) {
	value, ok := ConstantValue(out)
	if !ok {
		return nil, false
	}
	values, err := TensorAsInt64s(value)
	if err != nil {
		return nil, false
	}
	return values, true
}

// ConstantAsScalarInt64 returns the value of a constant integer output holding exactly one element
// (a scalar or a 1-element tensor).
func ConstantAsScalarInt64(out Output) (int64, bool) {
	values, ok := ConstantAsInt64s(out)
	if !ok || len(values) != 1 {
		return 0, false
	}
	return values[0], true
}

// ConstantAsInts is like ConstantAsInt64s, but converts the values to int.
func ConstantAsInts(out Output) ([]int, bool) {
	values, ok := ConstantAsInt64s(out)
	if !ok {
		return nil, false
	}
	ints := make([]int, len(values))
	for ii, v := range values {
		ints[ii] = int(v)
	}
	return ints, true
}

// TensorAsInt64s converts the flat values of an integer or bool tensor to int64.
func TensorAsInt64s(t *tensors.Tensor) ([]int64, error) {
	switch t.DType() {
	case dtypes.Int8:
		return toInt64s(tensors.Flat[int8](t)), nil
	case dtypes.Int16:
		return toInt64s(tensors.Flat[int16](t)), nil
	case dtypes.Int32:
		return toInt64s(tensors.Flat[int32](t)), nil
	case dtypes.Int64:
		return toInt64s(tensors.Flat[int64](t)), nil
	case dtypes.Uint8:
		return toInt64s(tensors.Flat[uint8](t)), nil
	case dtypes.Uint16:
		return toInt64s(tensors.Flat[uint16](t)), nil
	case dtypes.Uint32:
		return toInt64s(tensors.Flat[uint32](t)), nil
	case dtypes.Uint64:
		return toInt64s(tensors.Flat[uint64](t)), nil
	case dtypes.Bool:
		flat := tensors.Flat[bool](t)
		values := make([]int64, len(flat))
		for ii, v := range flat {
			if v {
				values[ii] = 1
			}
		}
		return values, nil
	default:
		return nil, errors.Errorf("tensor of dtype %s cannot be converted to integers", t.DType())
	}
}

// TensorAsFloat64s converts the flat values of a numeric tensor to float64.
func TensorAsFloat64s(t *tensors.Tensor) ([]float64, error) {
	switch t.DType() {
	case dtypes.Float16:
		flat := tensors.Flat[float16.Float16](t)
		values := make([]float64, len(flat))
		for ii, v := range flat {
			values[ii] = float64(v.Float32())
		}
		return values, nil
	case dtypes.Float32:
		return toFloat64s(tensors.Flat[float32](t)), nil
	case dtypes.Float64:
		return toFloat64s(tensors.Flat[float64](t)), nil
	default:
		ints, err := TensorAsInt64s(t)
		if err != nil {
			return nil, err
		}
		return toFloat64s(ints), nil
	}
}

func toInt64s[T dtypes.Integer](flat []T) []int64 {
	return xslices.Map(flat, func(v T) int64 { return int64(v) })
}

func toFloat64s[T dtypes.Number](flat []T) []float64 {
	return xslices.Map(flat, func(v T) float64 { return float64(v) })
}
