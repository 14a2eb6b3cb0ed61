// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/x448/float16"
)

// tensorInteger are the integer Go types of tensor elements.
type tensorInteger interface {
	dtypes.Supported
	dtypes.Integer
}

// dtypeMap holds the instantiations of a generic kernel, one per element type.
//
// Instantiations are registered by init functions, and the kernels retrieve them with Get and a type assertion
// to their signature.
type dtypeMap struct {
	Name  string
	fnMap [dtypes.MaxDTypes]any
}

// newDTypeMap creates a new map for a class of functions.
func newDTypeMap(name string) *dtypeMap {
	return &dtypeMap{Name: name}
}

// Register the instantiation fn for dtype. It panics if one is already registered.
func (m *dtypeMap) Register(dtype dtypes.DType, fn any) {
	if !dtype.IsValid() {
		exceptions.Panicf("dtype %s not supported by %s", dtype, m.Name)
	}
	if m.fnMap[dtype] != nil {
		exceptions.Panicf("%s: instantiation for %s registered twice", m.Name, dtype)
	}
	m.fnMap[dtype] = fn
}

// Get returns the instantiation for dtype, or nil if there is none.
func (m *dtypeMap) Get(dtype dtypes.DType) any {
	if !dtype.IsValid() {
		return nil
	}
	return m.fnMap[dtype]
}

// kernelFor returns the instantiation of m for dtype, or an ErrUnsupportedElementType error for the node.
// It panics if the registered instantiation doesn't have the signature F.
func kernelFor[F any](m *dtypeMap, node *graph.Node, dtype dtypes.DType) (F, error) {
	fn := m.Get(dtype)
	if fn == nil {
		var zero F
		return zero, unsupportedElementType(node, dtype)
	}
	return fn.(F), nil
}

var (
	moveElementsDTypeMap    = newDTypeMap("MoveElements")
	reduceDTypeMap          = newDTypeMap("Reduce")
	cumSumDTypeMap          = newDTypeMap("CumSum")
	topKDTypeMap            = newDTypeMap("TopK")
	arithmeticDTypeMap      = newDTypeMap("Arithmetic")
	convDTypeMap            = newDTypeMap("Convolution")
	convBackpropDTypeMap    = newDTypeMap("ConvolutionBackpropData")
	embeddingSumDTypeMap    = newDTypeMap("EmbeddingSum")
	batchNormDTypeMap       = newDTypeMap("BatchNormInference")
	detectionOutputDTypeMap = newDTypeMap("DetectionOutput")

	// convertDTypeMaps holds, for each destination element type, the conversions indexed by the source
	// element type.
	convertDTypeMaps [dtypes.MaxDTypes]*dtypeMap
)

func init() {
	for dtype := range dtypes.MaxDTypes {
		convertDTypeMaps[dtype] = newDTypeMap("Convert to " + dtype.String())
	}

	registerFloat[float64]()
	registerFloat[float32]()
	registerInteger[int8]()
	registerInteger[int16]()
	registerInteger[int32]()
	registerInteger[int64]()
	registerInteger[uint8]()
	registerInteger[uint16]()
	registerInteger[uint32]()

	// Uint64, Bool and Float16 only move or convert.
	moveElementsDTypeMap.Register(dtypes.Uint64, moveElementsGeneric[uint64])
	moveElementsDTypeMap.Register(dtypes.Bool, moveElementsGeneric[bool])
	moveElementsDTypeMap.Register(dtypes.Float16, moveElementsGeneric[float16.Float16])
	registerConvertFrom[uint64]()
	convertDTypeMaps[dtypes.Bool].Register(dtypes.Bool, func(src, dst *tensors.Tensor) {
		copy(tensors.Flat[bool](dst), tensors.Flat[bool](src))
	})
}

// registerNumber registers the instantiations shared by every numeric element type (except Float16 and Uint64).
func registerNumber[T tensorNumber]() {
	dtype := dtypes.FromGenericsType[T]()
	moveElementsDTypeMap.Register(dtype, moveElementsGeneric[T])
	reduceDTypeMap.Register(dtype, reduceGeneric[T])
	cumSumDTypeMap.Register(dtype, cumSumGeneric[T])
	topKDTypeMap.Register(dtype, topKGeneric[T])
	convDTypeMap.Register(dtype, convGeneric[T])
	convBackpropDTypeMap.Register(dtype, convBackpropGeneric[T])
	embeddingSumDTypeMap.Register(dtype, embeddingSumGeneric[T])
	registerConvertFrom[T]()
}

func registerInteger[T tensorInteger]() {
	registerNumber[T]()
	arithmeticDTypeMap.Register(dtypes.FromGenericsType[T](), arithmeticIntGeneric[T])
}

func registerFloat[T tensorFloat]() {
	registerNumber[T]()
	dtype := dtypes.FromGenericsType[T]()
	arithmeticDTypeMap.Register(dtype, arithmeticFloatGeneric[T])
	batchNormDTypeMap.Register(dtype, batchNormGeneric[T])
	detectionOutputDTypeMap.Register(dtype, detectionOutputGeneric[T])
}

// registerConvertFrom registers the conversions from S to every destination element type but Float16 (handled
// by widening to Float32) and Uint64.
func registerConvertFrom[S tensorNumber]() {
	convertDTypeMaps[dtypes.Bool].Register(dtypes.FromGenericsType[S](), convertToBool[S])
	registerConversion[S, float64]()
	registerConversion[S, float32]()
	registerConversion[S, int8]()
	registerConversion[S, int16]()
	registerConversion[S, int32]()
	registerConversion[S, int64]()
	registerConversion[S, uint8]()
	registerConversion[S, uint16]()
	registerConversion[S, uint32]()
}

func registerConversion[S, D tensorNumber]() {
	convertDTypeMaps[dtypes.FromGenericsType[D]()].Register(dtypes.FromGenericsType[S](), convertGeneric[S, D])
}
