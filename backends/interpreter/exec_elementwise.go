// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"math"

	"github.com/chewxy/math32"
	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/graph/opset1"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/pkg/errors"
)

type arithmeticOp int

const (
	opAdd arithmeticOp = iota
	opSubtract
	opMultiply
	opDivide
	opMaximum
	opMinimum
)

var arithmeticOps = map[opsets.OpType]arithmeticOp{
	opsets.OpTypeAdd: opAdd, opsets.OpTypeAddV1: opAdd,
	opsets.OpTypeSubtract: opSubtract, opsets.OpTypeSubtractV1: opSubtract,
	opsets.OpTypeMultiply: opMultiply, opsets.OpTypeMultiplyV1: opMultiply,
	opsets.OpTypeDivide: opDivide, opsets.OpTypeDivideV1: opDivide,
	opsets.OpTypeMaximum: opMaximum, opsets.OpTypeMaximumV1: opMaximum,
	opsets.OpTypeMinimum: opMinimum, opsets.OpTypeMinimumV1: opMinimum,
}

type logicalOp int

const (
	opAnd logicalOp = iota
	opOr
	opXor
)

var logicalOps = map[opsets.OpType]logicalOp{
	opsets.OpTypeAnd: opAnd, opsets.OpTypeLogicalAndV1: opAnd,
	opsets.OpTypeOr: opOr, opsets.OpTypeLogicalOrV1: opOr,
	opsets.OpTypeXor: opXor, opsets.OpTypeLogicalXorV1: opXor,
}

func init() {
	for opType := range arithmeticOps {
		registerNumeric(opType, execArithmetic)
	}
	for opType := range logicalOps {
		register(opType, execLogical)
	}
	register(opsets.OpTypeNot, execNot)
	register(opsets.OpTypeLogicalNotV1, execNot)
	registerNumeric(opsets.OpTypeConvert, execConvert)
	registerNumeric(opsets.OpTypeHardSigmoid, execHardSigmoid)
	registerNumeric(opsets.OpTypeElu, execElu)
	registerNumeric(opsets.OpTypeSelu, execSelu)
	registerNumeric(opsets.OpTypeCeiling, execCeiling)
	registerNumeric(opsets.OpTypeGelu, execGelu)
	register(opsets.OpTypeSelectV1, execSelect)
}

// ErrDivisionByZero is returned by integer divisions by zero.
var ErrDivisionByZero = errors.New("integer division by zero")

func execArithmetic(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	spec := node.Attrs().(opset0.BinaryAttrs).AutoBroadcast
	output := outputs[0]
	lhsIdx := broadcastIndices(inputs[0].Shape(), output.Shape(), spec, 0)
	rhsIdx := broadcastIndices(inputs[1].Shape(), output.Shape(), spec, 1)
	arithmetic, err := kernelFor[func(arithmeticOp, *tensors.Tensor, *tensors.Tensor, *tensors.Tensor, []int, []int) error](
		arithmeticDTypeMap, node, output.DType())
	if err != nil {
		return err
	}
	return arithmetic(arithmeticOps[node.Type()], output, inputs[0], inputs[1], lhsIdx, rhsIdx)
}

func arithmeticFloatGeneric[T tensorFloat](op arithmeticOp, outputT, lhsT, rhsT *tensors.Tensor, lhsIdx, rhsIdx []int) error {
	arithmeticGeneric(op, tensors.Flat[T](outputT), tensors.Flat[T](lhsT), tensors.Flat[T](rhsT), lhsIdx, rhsIdx)
	return nil
}

func arithmeticGeneric[T dtypes.Number](op arithmeticOp, output, lhs, rhs []T, lhsIdx, rhsIdx []int) {
	switch op {
	case opAdd:
		for ii := range output {
			output[ii] = lhs[lhsIdx[ii]] + rhs[rhsIdx[ii]]
		}
	case opSubtract:
		for ii := range output {
			output[ii] = lhs[lhsIdx[ii]] - rhs[rhsIdx[ii]]
		}
	case opMultiply:
		for ii := range output {
			output[ii] = lhs[lhsIdx[ii]] * rhs[rhsIdx[ii]]
		}
	case opDivide:
		for ii := range output {
			output[ii] = lhs[lhsIdx[ii]] / rhs[rhsIdx[ii]]
		}
	case opMaximum:
		for ii := range output {
			output[ii] = max(lhs[lhsIdx[ii]], rhs[rhsIdx[ii]])
		}
	case opMinimum:
		for ii := range output {
			output[ii] = min(lhs[lhsIdx[ii]], rhs[rhsIdx[ii]])
		}
	}
}

// arithmeticIntGeneric handles the integer division, which rounds towards negative infinity and fails on zero.
func arithmeticIntGeneric[T tensorInteger](op arithmeticOp, outputT, lhsT, rhsT *tensors.Tensor, lhsIdx, rhsIdx []int) error {
	output, lhs, rhs := tensors.Flat[T](outputT), tensors.Flat[T](lhsT), tensors.Flat[T](rhsT)
	if op != opDivide {
		arithmeticGeneric(op, output, lhs, rhs, lhsIdx, rhsIdx)
		return nil
	}
	for ii := range output {
		x, y := lhs[lhsIdx[ii]], rhs[rhsIdx[ii]]
		if y == 0 {
			return errors.WithStack(ErrDivisionByZero)
		}
		q := x / y
		if x%y != 0 && (x < 0) != (y < 0) {
			q--
		}
		output[ii] = q
	}
	return nil
}

func execLogical(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	spec := node.Attrs().(opset0.BinaryAttrs).AutoBroadcast
	output := outputs[0]
	if output.DType() != dtypes.Bool {
		return unsupportedElementType(node, output.DType())
	}
	lhsIdx := broadcastIndices(inputs[0].Shape(), output.Shape(), spec, 0)
	rhsIdx := broadcastIndices(inputs[1].Shape(), output.Shape(), spec, 1)
	out, lhs, rhs := tensors.Flat[bool](output), tensors.Flat[bool](inputs[0]), tensors.Flat[bool](inputs[1])
	op := logicalOps[node.Type()]
	for ii := range out {
		x, y := lhs[lhsIdx[ii]], rhs[rhsIdx[ii]]
		switch op {
		case opAnd:
			out[ii] = x && y
		case opOr:
			out[ii] = x || y
		case opXor:
			out[ii] = x != y
		}
	}
	return nil
}

func execNot(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	if outputs[0].DType() != dtypes.Bool {
		return unsupportedElementType(node, outputs[0].DType())
	}
	out := tensors.Flat[bool](outputs[0])
	for ii, v := range tensors.Flat[bool](inputs[0]) {
		out[ii] = !v
	}
	return nil
}

// execConvert looks up the conversion by destination and then by source type. Bool sources are read as
// Uint8 for numeric destinations.
func execConvert(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	return convertTensor(node, inputs[0], outputs[0])
}

func convertTensor(node *graph.Node, src, dst *tensors.Tensor) error {
	if src.DType() == dtypes.Bool && dst.DType() != dtypes.Bool {
		src = boolsAsUint8(src)
	}
	if convertDTypeMaps[dtypes.Bool].Get(src.DType()) == nil {
		return unsupportedElementType(node, src.DType())
	}
	if !dst.DType().IsValid() {
		return unsupportedElementType(node, dst.DType())
	}
	convert, err := kernelFor[func(src, dst *tensors.Tensor)](convertDTypeMaps[dst.DType()], node, dst.DType())
	if err != nil {
		return err
	}
	convert(src, dst)
	return nil
}

func convertGeneric[S, D tensorNumber](srcT, dstT *tensors.Tensor) {
	dst := tensors.Flat[D](dstT)
	for ii, v := range tensors.Flat[S](srcT) {
		dst[ii] = D(v)
	}
}

func convertToBool[S tensorNumber](srcT, dstT *tensors.Tensor) {
	dst := tensors.Flat[bool](dstT)
	for ii, v := range tensors.Flat[S](srcT) {
		dst[ii] = v != 0
	}
}

// boolsAsUint8 returns a Uint8 copy of a Bool tensor, with true as 1.
func boolsAsUint8(t *tensors.Tensor) *tensors.Tensor {
	ones := tensors.FromShape(t.Shape().WithDType(dtypes.Uint8))
	flat := tensors.Flat[uint8](ones)
	for ii, v := range tensors.Flat[bool](t) {
		if v {
			flat[ii] = 1
		}
	}
	return ones
}

func expT[T dtypes.GoFloat](x T) T {
	if v, ok := any(x).(float32); ok {
		return T(math32.Exp(v))
	}
	return T(math.Exp(float64(x)))
}

func sqrtT[T dtypes.GoFloat](x T) T {
	if v, ok := any(x).(float32); ok {
		return T(math32.Sqrt(v))
	}
	return T(math.Sqrt(float64(x)))
}

func powT[T dtypes.GoFloat](x, y T) T {
	if v, ok := any(x).(float32); ok {
		return T(math32.Pow(v, float32(y)))
	}
	return T(math.Pow(float64(x), float64(y)))
}

func logT[T dtypes.GoFloat](x T) T {
	if v, ok := any(x).(float32); ok {
		return T(math32.Log(v))
	}
	return T(math.Log(float64(x)))
}

func ceilT[T dtypes.GoFloat](x T) T {
	if v, ok := any(x).(float32); ok {
		return T(math32.Ceil(v))
	}
	return T(math.Ceil(float64(x)))
}

// floatKernel runs the Float32 or Float64 instantiation of a unary kernel over the first input.
func floatKernel(node *graph.Node, output, input *tensors.Tensor,
	fn32 func(out, in []float32) error, fn64 func(out, in []float64) error) error {
	switch output.DType() {
	case dtypes.Float32:
		return fn32(tensors.Flat[float32](output), tensors.Flat[float32](input))
	case dtypes.Float64:
		return fn64(tensors.Flat[float64](output), tensors.Flat[float64](input))
	}
	return unsupportedElementType(node, output.DType())
}

func execHardSigmoid(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	return floatKernel(node, outputs[0], inputs[0],
		func(out, in []float32) error { return hardSigmoidGeneric(out, in, inputs[1], inputs[2]) },
		func(out, in []float64) error { return hardSigmoidGeneric(out, in, inputs[1], inputs[2]) })
}

func hardSigmoidGeneric[T dtypes.GoFloat](out, in []T, alphaT, betaT *tensors.Tensor) error {
	alpha, err := scalarAs[T](alphaT)
	if err != nil {
		return err
	}
	beta, err := scalarAs[T](betaT)
	if err != nil {
		return err
	}
	for ii, x := range in {
		out[ii] = max(0, min(1, alpha*x+beta))
	}
	return nil
}

func execElu(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	alpha := node.Attrs().(opset0.EluAttrs).Alpha
	return floatKernel(node, outputs[0], inputs[0],
		func(out, in []float32) error { eluGeneric(out, in, float32(alpha), 1); return nil },
		func(out, in []float64) error { eluGeneric(out, in, alpha, 1); return nil })
}

// eluGeneric computes lambda * (x > 0 ? x : alpha*(exp(x)-1)).
func eluGeneric[T dtypes.GoFloat](out, in []T, alpha, lambda T) {
	for ii, x := range in {
		if x > 0 {
			out[ii] = lambda * x
		} else {
			out[ii] = lambda * alpha * (expT(x) - 1)
		}
	}
}

func execSelu(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	return floatKernel(node, outputs[0], inputs[0],
		func(out, in []float32) error { return seluGeneric(out, in, inputs[1], inputs[2]) },
		func(out, in []float64) error { return seluGeneric(out, in, inputs[1], inputs[2]) })
}

func seluGeneric[T dtypes.GoFloat](out, in []T, alphaT, lambdaT *tensors.Tensor) error {
	alpha, err := scalarAs[T](alphaT)
	if err != nil {
		return err
	}
	lambda, err := scalarAs[T](lambdaT)
	if err != nil {
		return err
	}
	eluGeneric(out, in, alpha, lambda)
	return nil
}

func execCeiling(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	if outputs[0].DType().IsInt() {
		return outputs[0].CopyFrom(inputs[0])
	}
	return floatKernel(node, outputs[0], inputs[0],
		func(out, in []float32) error { ceilGeneric(out, in); return nil },
		func(out, in []float64) error { ceilGeneric(out, in); return nil })
}

func ceilGeneric[T dtypes.GoFloat](out, in []T) {
	for ii, x := range in {
		out[ii] = ceilT(x)
	}
}

func execGelu(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	return floatKernel(node, outputs[0], inputs[0],
		func(out, in []float32) error { geluGeneric(out, in); return nil },
		func(out, in []float64) error { geluGeneric(out, in); return nil })
}

// geluGeneric computes 0.5 * x * (1 + erf(x / sqrt(2))).
func geluGeneric[T dtypes.GoFloat](out, in []T) {
	for ii, x := range in {
		out[ii] = T(0.5 * float64(x) * (1 + math.Erf(float64(x)/math.Sqrt2)))
	}
}

// execSelect moves the elements of the "then" and "else" operands selected by the condition.
func execSelect(_ *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error {
	spec := node.Attrs().(opset1.SelectAttrs).AutoBroadcast
	output := outputs[0]
	condIdx := broadcastIndices(inputs[0].Shape(), output.Shape(), spec, 0)
	thenIdx := broadcastIndices(inputs[1].Shape(), output.Shape(), spec, 0)
	elseIdx := broadcastIndices(inputs[2].Shape(), output.Shape(), spec, 1)
	cond := tensors.Flat[bool](inputs[0])
	for ii := range condIdx {
		if cond[condIdx[ii]] {
			elseIdx[ii] = -1
		} else {
			thenIdx[ii] = -1
		}
	}
	moveElements(output, inputs[1], thenIdx)
	moveElements(output, inputs[2], elseIdx)
	return nil
}
