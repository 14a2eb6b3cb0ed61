// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package dtypes defines the DType enum, the element types a tensor or a node output can hold.
//
// It includes converters to/from Go native types (and reflect.Type), and a few constraint interfaces
// to be used with generics (Supported, Number, Integer, IndexType).
package dtypes

import (
	"maps"
	"reflect"
	"slices"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/x448/float16"
	"golang.org/x/exp/constraints"
)

// DType is an enum representing the element type of a buffer, a scalar or a node output.
//
// Each DType has a fixed byte width (see DType.Size).
type DType int32

const (
	// InvalidDType is the zero value, used to signal an unset or unknown type.
	InvalidDType DType = 0

	// Bool holds two-state booleans, stored one per byte.
	Bool DType = 1

	// Int8 and the following are signed integral values of fixed width.
	Int8  DType = 2
	Int16 DType = 3
	Int32 DType = 4
	Int64 DType = 5

	// Uint8 and the following are unsigned integral values of fixed width.
	Uint8  DType = 6
	Uint16 DType = 7
	Uint32 DType = 8
	Uint64 DType = 9

	// Float16 is IEEE half-precision, stored as github.com/x448/float16.Float16.
	Float16 DType = 10
	Float32 DType = 11
	Float64 DType = 12

	// MaxDTypes is one past the last valid DType, used to size tables indexed by DType.
	MaxDTypes DType = 13
)

// Aliases with the short names commonly used in operator schemas.
const (
	Boolean = Bool
	I8      = Int8
	I16     = Int16
	I32     = Int32
	I64     = Int64
	U8      = Uint8
	U16     = Uint16
	U32     = Uint32
	U64     = Uint64
	F16     = Float16
	F32     = Float32
	F64     = Float64
)

var dtypeNames = [MaxDTypes]string{
	InvalidDType: "InvalidDType",
	Bool:         "Bool",
	Int8:         "Int8",
	Int16:        "Int16",
	Int32:        "Int32",
	Int64:        "Int64",
	Uint8:        "Uint8",
	Uint16:       "Uint16",
	Uint32:       "Uint32",
	Uint64:       "Uint64",
	Float16:      "Float16",
	Float32:      "Float32",
	Float64:      "Float64",
}

var dtypeShortNames = [MaxDTypes]string{
	InvalidDType: "invalid",
	Bool:         "boolean",
	Int8:         "i8",
	Int16:        "i16",
	Int32:        "i32",
	Int64:        "i64",
	Uint8:        "u8",
	Uint16:       "u16",
	Uint32:       "u32",
	Uint64:       "u64",
	Float16:      "f16",
	Float32:      "f32",
	Float64:      "f64",
}

// MapOfNames to their dtypes. It includes the short names and, after package initialization,
// the lower-case version of every name.
var MapOfNames = map[string]DType{}

func init() {
	for dtype := InvalidDType; dtype < MaxDTypes; dtype++ {
		MapOfNames[dtypeNames[dtype]] = dtype
		MapOfNames[dtypeShortNames[dtype]] = dtype
	}
	MapOfNames["Invalid"] = InvalidDType

	keys := slices.Collect(maps.Keys(MapOfNames))
	for _, key := range keys {
		lowerKey := strings.ToLower(key)
		if _, found := MapOfNames[lowerKey]; found {
			continue
		}
		MapOfNames[lowerKey] = MapOfNames[key]
	}
}

// panicf panics with the formatted description.
//
// It is only used for "bugs in the code" -- when parameters don't follow the specifications.
func panicf(format string, args ...any) {
	panic(errors.Errorf(format, args...))
}

// String implements fmt.Stringer.
func (dtype DType) String() string {
	if dtype < 0 || dtype >= MaxDTypes {
		return "DType(" + strconv.Itoa(int(dtype)) + ")"
	}
	return dtypeNames[dtype]
}

// ShortName returns the abbreviated name used in operator schemas and error messages ("f32", "i64", ...).
func (dtype DType) ShortName() string {
	if dtype < 0 || dtype >= MaxDTypes {
		return dtype.String()
	}
	return dtypeShortNames[dtype]
}

// IsValid returns whether dtype is one of the enumerated element types.
func (dtype DType) IsValid() bool {
	return dtype > InvalidDType && dtype < MaxDTypes
}

// Parse returns the DType for the given name, accepting any of the names in MapOfNames.
func Parse(name string) (DType, error) {
	dtype, found := MapOfNames[name]
	if !found {
		return InvalidDType, errors.Errorf("unknown dtype %q", name)
	}
	return dtype, nil
}

// Supported lists the Go types that map to a DType.
type Supported interface {
	bool | float16.Float16 | float32 | float64 | int | int8 | int16 | int32 | int64 | uint8 | uint16 | uint32 | uint64
}

// Number represents the Go numeric types corresponding to supported DType's, except float16.
//
// Kernels handling Float16 usually convert to float32 first.
type Number interface {
	constraints.Integer | constraints.Float
}

// Integer represents the Go integer types.
type Integer interface {
	constraints.Integer
}

// IndexType represents the Go types accepted as index or segment-id types by index-parameterized operators.
type IndexType interface {
	int32 | int64
}

// GoFloat represents a Go float type.
type GoFloat interface {
	constraints.Float
}

// FromGenericsType returns the DType enum for the given type that this package knows about.
func FromGenericsType[T Supported]() DType {
	var t T
	switch (any(t)).(type) {
	case float64:
		return Float64
	case float32:
		return Float32
	case float16.Float16:
		return Float16
	case int:
		switch strconv.IntSize {
		case 32:
			return Int32
		case 64:
			return Int64
		default:
			panicf("cannot use int of %d bits -- try using int32 or int64", strconv.IntSize)
		}
	case int64:
		return Int64
	case int32:
		return Int32
	case int16:
		return Int16
	case int8:
		return Int8
	case bool:
		return Bool
	case uint8:
		return Uint8
	case uint16:
		return Uint16
	case uint32:
		return Uint32
	case uint64:
		return Uint64
	}
	return InvalidDType
}

// Pre-generate constant reflect.TypeOf for convenience.
var (
	float16Type = reflect.TypeOf(float16.Float16(0))
	float32Type = reflect.TypeOf(float32(0))
	float64Type = reflect.TypeOf(float64(0))
)

// FromGoType returns the DType for the given "reflect.Type", or InvalidDType if not known.
func FromGoType(t reflect.Type) DType {
	if t == float16Type {
		return Float16
	}
	switch t.Kind() {
	case reflect.Int:
		if strconv.IntSize == 32 {
			return Int32
		}
		return Int64
	case reflect.Int64:
		return Int64
	case reflect.Int32:
		return Int32
	case reflect.Int16:
		return Int16
	case reflect.Int8:
		return Int8
	case reflect.Uint64:
		return Uint64
	case reflect.Uint32:
		return Uint32
	case reflect.Uint16:
		return Uint16
	case reflect.Uint8:
		return Uint8
	case reflect.Bool:
		return Bool
	case reflect.Float32:
		return Float32
	case reflect.Float64:
		return Float64
	default:
		return InvalidDType
	}
}

// FromAny introspects the underlying type of any and returns the corresponding DType.
// Non-scalar types, or unsupported types return an InvalidType.
func FromAny(value any) DType {
	return FromGoType(reflect.TypeOf(value))
}

// GoType returns the Go `reflect.Type` corresponding to the DType.
func (dtype DType) GoType() reflect.Type {
	switch dtype {
	case Int64:
		return reflect.TypeOf(int64(0))
	case Int32:
		return reflect.TypeOf(int32(0))
	case Int16:
		return reflect.TypeOf(int16(0))
	case Int8:
		return reflect.TypeOf(int8(0))
	case Uint64:
		return reflect.TypeOf(uint64(0))
	case Uint32:
		return reflect.TypeOf(uint32(0))
	case Uint16:
		return reflect.TypeOf(uint16(0))
	case Uint8:
		return reflect.TypeOf(uint8(0))
	case Bool:
		return reflect.TypeOf(true)
	case Float16:
		return float16Type
	case Float32:
		return float32Type
	case Float64:
		return float64Type
	default:
		panicf("unknown dtype %q (%d) in DType.GoType", dtype, dtype)
		panic(nil)
	}
}

// Size returns the number of bytes for the given DType.
func (dtype DType) Size() int {
	return int(dtype.GoType().Size())
}

// Memory returns the number of bytes for the given DType.
// It's an alias to Size, converted to uintptr.
func (dtype DType) Memory() uintptr {
	return uintptr(dtype.Size())
}

// IsFloat returns whether dtype is a float.
func (dtype DType) IsFloat() bool {
	return dtype == Float16 || dtype == Float32 || dtype == Float64
}

// IsInt returns whether dtype is an integer, signed or unsigned.
func (dtype DType) IsInt() bool {
	return dtype == Int64 || dtype == Int32 || dtype == Int16 || dtype == Int8 ||
		dtype == Uint8 || dtype == Uint16 || dtype == Uint32 || dtype == Uint64
}

// IsUnsigned returns whether dtype is one of the unsigned integer types.
func (dtype DType) IsUnsigned() bool {
	return dtype == Uint8 || dtype == Uint16 || dtype == Uint32 || dtype == Uint64
}

// IsIndex returns whether dtype can be used as an index type: Int32 or Int64.
func (dtype DType) IsIndex() bool {
	return dtype == Int32 || dtype == Int64
}
