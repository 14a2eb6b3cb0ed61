// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package tensors implement a `Tensor`, a host buffer holding a multidimensional array.
//
// A Tensor owns a contiguous flat slice of the Go type of its DType (e.g. `[]float32`, or
// `[]float16.Float16`), with exactly `shape.Size()` elements in row-major order. Tensors are allocated
// by the caller (usually the graph executor) for a static shape and are never resized.
//
// There are various ways to construct a Tensor:
//
//   - FromShape(shape shapes.Shape): creates a tensor with the given shape, and zero values.
//   - FromScalar[T dtypes.Supported](value T): creates a scalar Tensor.
//   - FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int): creates a Tensor with the
//     given dimensions, holding a copy of the given flat data. Example:
//
//     t := FromFlatDataAndDimensions([]int8{1, 2, 3, 4}, 2, 2}) // Tensor with [[1,2], [3,4]]
package tensors

import (
	"fmt"
	"reflect"
	"strings"
	"unsafe"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/pkg/errors"
)

// Tensor is a host buffer with a static shape.
type Tensor struct {
	shape shapes.Shape

	// flat holds the slice with actual data, of the Go type of shape.DType.
	flat any
}

// New returns a zero-initialized Tensor with the given shape.
//
// It returns an error if the shape is invalid or not static.
func New(shape shapes.Shape) (*Tensor, error) {
	if !shape.Ok() {
		return nil, errors.Errorf("cannot allocate tensor for invalid shape %s", shape)
	}
	if !shape.IsStatic() {
		return nil, errors.Errorf("cannot allocate tensor for dynamic shape %s", shape)
	}
	size := shape.Size()
	flatV := reflect.MakeSlice(reflect.SliceOf(shape.DType.GoType()), size, size)
	return &Tensor{shape: shape.Clone(), flat: flatV.Interface()}, nil
}

// FromShape returns a Tensor with the given shape, with the data initialized with zeros.
//
// It panics if you provide an invalid or dynamic shape.
func FromShape(shape shapes.Shape) *Tensor {
	t, err := New(shape)
	if err != nil {
		panic(err)
	}
	return t
}

// FromScalar creates a tensor with the given scalar.
// The `DType` is inferred from the value.
func FromScalar[T dtypes.Supported](value T) *Tensor {
	return FromFlatDataAndDimensions([]T{value})
}

// FromFlatDataAndDimensions creates a tensor with the given dimensions, filled with the flattened values given in `data`.
// The data is copied to the Tensor.
// The `DType` is inferred from the `data` type.
//
// It panics if the size of data is wrong for the shape.
func FromFlatDataAndDimensions[T dtypes.Supported](data []T, dimensions ...int) *Tensor {
	dtype := dtypes.FromGenericsType[T]()
	shape := shapes.Make(dtype, dimensions...)
	if len(data) != shape.Size() {
		exceptions.Panicf("FromFlatDataAndDimensions(%s): data size is %d, but dimensions size is %d",
			shape, len(data), shape.Size())
	}
	t := FromShape(shape)
	var dummy T
	if _, isInt := any(dummy).(int); isInt {
		// int maps to int32 or int64 depending on the platform: copy the bytes.
		dataAsBytes := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(data))), uintptr(len(data))*unsafe.Sizeof(dummy))
		copy(t.Bytes(), dataAsBytes)
		return t
	}
	copy(t.flat.([]T), data)
	return t
}

// Shape of the tensor.
func (t *Tensor) Shape() shapes.Shape { return t.shape }

// DType of the tensor elements.
func (t *Tensor) DType() dtypes.DType { return t.shape.DType }

// Size returns the number of elements.
func (t *Tensor) Size() int { return t.shape.Size() }

// FlatData returns the underlying flat slice, a `[]T` for the Go type T of the tensor's DType.
//
// Changes to the returned slice are changes to the tensor.
func (t *Tensor) FlatData() any { return t.flat }

// Flat returns the underlying flat slice typed as []T.
//
// It panics if T doesn't match the tensor's DType.
func Flat[T dtypes.Supported](t *Tensor) []T {
	flat, ok := t.flat.([]T)
	if !ok {
		var dummy T
		exceptions.Panicf("tensors.Flat[%T]: tensor has dtype %s", dummy, t.shape.DType)
	}
	return flat
}

// ToScalar returns the first (and usually only) element of the tensor.
func ToScalar[T dtypes.Supported](t *Tensor) T {
	return Flat[T](t)[0]
}

// Bytes returns the raw bytes of the underlying storage, aliasing the tensor data.
func (t *Tensor) Bytes() []byte {
	flatV := reflect.ValueOf(t.flat)
	if flatV.Len() == 0 {
		return nil
	}
	numBytes := uintptr(flatV.Len()) * t.shape.DType.Memory()
	return unsafe.Slice((*byte)(flatV.UnsafePointer()), numBytes)
}

// Zero sets all elements to their zero value.
func (t *Tensor) Zero() {
	clear(t.Bytes())
}

// CopyFrom copies the contents of other into t. Shapes must be equal.
func (t *Tensor) CopyFrom(other *Tensor) error {
	if !t.shape.Equal(other.shape) {
		return errors.Errorf("cannot copy tensor of shape %s into tensor of shape %s", other.shape, t.shape)
	}
	copy(t.Bytes(), other.Bytes())
	return nil
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	clone := FromShape(t.shape)
	copy(clone.Bytes(), t.Bytes())
	return clone
}

// Equal checks whether t and other have the same shape and bit-identical contents.
func (t *Tensor) Equal(other *Tensor) bool {
	if t == other {
		return true
	}
	if !t.shape.Equal(other.shape) {
		return false
	}
	return string(t.Bytes()) == string(other.Bytes())
}

// maxStringElements is the number of elements printed by Tensor.String before eliding.
const maxStringElements = 32

// String pretty-prints the tensor shape, memory and (up to a limit) its flat values.
func (t *Tensor) String() string {
	var sb strings.Builder
	_, _ = fmt.Fprintf(&sb, "%s (%s)", t.shape, humanize.IBytes(uint64(t.shape.Memory())))
	flatV := reflect.ValueOf(t.flat)
	n := min(flatV.Len(), maxStringElements)
	parts := make([]string, 0, n+1)
	for ii := range n {
		parts = append(parts, fmt.Sprint(flatV.Index(ii).Interface()))
	}
	if flatV.Len() > n {
		parts = append(parts, "...")
	}
	_, _ = fmt.Fprintf(&sb, " {%s}", strings.Join(parts, ", "))
	return sb.String()
}
