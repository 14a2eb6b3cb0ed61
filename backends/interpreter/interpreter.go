// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package interpreter implements the reference CPU evaluator of operator graph nodes.
//
// Evaluation of a node dispatches twice: first on the node's operator type (a dense table indexed by
// opsets.OpType, filled by the init() functions of this package and read-only afterwards), and then on the
// node's primary element type (the dtype of its first output), inside each kernel, selecting an instantiation of a
// generic kernel.
//
// The evaluator trusts shape inference: the input and output tensors must match the shapes inferred for the node.
// Only the values needed at runtime (axes, k of TopK, begin/end/strides of slices, ...) are read from the input
// tensors.
//
// Float16 kernels compute in float32 and round the results back to float16.
//
// The element types are attempted in the priority order bool, f16, f64, f32, i8, i16, i32, i64, u8, u16, u32.
// Uint64 is not supported for evaluation: nodes whose primary element type is not in this list
// make Evaluate panic, since that is a coverage gap and not an evaluation failure.
package interpreter

import (
	"os"
	"slices"
	"sync"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

var (
	// ErrUnsupportedOperator is returned for nodes whose operator has no kernel.
	ErrUnsupportedOperator = errors.New("operator not supported by the interpreter")

	// ErrUnsupportedElementType is returned when the kernel of the node has no instantiation for the
	// element type of the node.
	ErrUnsupportedElementType = errors.New("element type not supported by the kernel")

	// ErrUnsupportedIndexType is returned when a secondary (index) element type of the node is not supported
	// by the kernel.
	ErrUnsupportedIndexType = errors.New("index type not supported by the kernel")

	// ErrStubOperator is returned for stub operators (see IsStub) when Options.StrictStubs is set.
	ErrStubOperator = errors.New("operator is a stub without a reference kernel")
)

// evaluatorFn runs the kernel of the node. outputs are pre-allocated with the inferred output shapes.
type evaluatorFn func(interp *Interpreter, node *graph.Node, outputs, inputs []*tensors.Tensor) error

var (
	evaluators [opsets.OpTypeLast]evaluatorFn
	stubs      [opsets.OpTypeLast]bool
)

// register the kernel of an operator, it panics if it is already registered.
func register(opType opsets.OpType, fn evaluatorFn) {
	if evaluators[opType] != nil {
		exceptions.Panicf("interpreter: kernel for %s registered twice", opType)
	}
	evaluators[opType] = fn
}

// registerNumeric registers a kernel that doesn't handle Float16: the Float16 inputs are converted to Float32
// before calling it, and its Float32 outputs rounded back to Float16.
func registerNumeric(opType opsets.OpType, fn evaluatorFn) {
	register(opType, viaFloat32(fn))
}

// registerStub registers an operator without a reference kernel.
func registerStub(opType opsets.OpType) {
	register(opType, func(_ *Interpreter, _ *graph.Node, outputs, _ []*tensors.Tensor) error {
		for _, output := range outputs {
			output.Zero()
		}
		return nil
	})
	stubs[opType] = true
}

// HasEvaluator returns whether the interpreter has a kernel (or a stub) for the operator.
func HasEvaluator(opType opsets.OpType) bool {
	return opType.IsValid() && evaluators[opType] != nil
}

// IsStub returns whether the operator is recognized but has no reference kernel: its evaluation
// zero-fills the outputs and succeeds (unless Options.StrictStubs is set).
func IsStub(opType opsets.OpType) bool {
	return opType.IsValid() && stubs[opType]
}

// PrimaryElementTypes lists, in priority order, the element types the evaluator dispatches on.
var PrimaryElementTypes = []dtypes.DType{
	dtypes.Bool, dtypes.Float16, dtypes.Float64, dtypes.Float32,
	dtypes.Int8, dtypes.Int16, dtypes.Int32, dtypes.Int64,
	dtypes.Uint8, dtypes.Uint16, dtypes.Uint32,
}

// PrimaryElementType returns the element type the evaluation of the node dispatches on: the dtype of its first
// output, except for TopK version 0, whose first output holds the indices.
func PrimaryElementType(node *graph.Node) dtypes.DType {
	if node.Type() == opsets.OpTypeTopK {
		return node.OutputShape(1).DType
	}
	return node.ElementType()
}

// Interpreter evaluates nodes with the reference kernels, configured by its Options.
// It holds no mutable state, and it is safe for concurrent use.
type Interpreter struct {
	opts Options
}

// New returns an Interpreter configured by config, a comma-separated list of options (see ParseOptions).
func New(config string) (*Interpreter, error) {
	opts, err := ParseOptions(config)
	if err != nil {
		return nil, err
	}
	return NewWithOptions(opts), nil
}

// NewWithOptions returns an Interpreter with the given options.
func NewWithOptions(opts Options) *Interpreter {
	return &Interpreter{opts: opts}
}

// Options returns the options of the interpreter.
func (interp *Interpreter) Options() Options { return interp.opts }

var (
	defaultInterpreter     *Interpreter
	defaultInterpreterOnce sync.Once
)

// Default returns the Interpreter configured by the environment variable ConfigEnvVar.
// An invalid configuration is logged and ignored.
func Default() *Interpreter {
	defaultInterpreterOnce.Do(func() {
		config, found := os.LookupEnv(ConfigEnvVar)
		if !found {
			defaultInterpreter = NewWithOptions(Options{})
			return
		}
		var err error
		defaultInterpreter, err = New(config)
		if err != nil {
			klog.Errorf("ignoring invalid %s=%q: %+v", ConfigEnvVar, config, err)
			defaultInterpreter = NewWithOptions(Options{})
		}
	})
	return defaultInterpreter
}

// Evaluate the node with the Default interpreter. See Interpreter.Evaluate.
func Evaluate(node *graph.Node, outputs, inputs []*tensors.Tensor) (bool, error) {
	return Default().Evaluate(node, outputs, inputs)
}

// Evaluate runs the kernel of the node on the inputs, writing the outputs, which must be allocated with the
// node's output shapes.
//
// It returns true if the outputs were fully written. It returns false with an error wrapping
// ErrUnsupportedOperator, ErrUnsupportedElementType, ErrUnsupportedIndexType or ErrStubOperator if there is no
// kernel for the combination, and false with other errors for invalid runtime values (e.g.: an
// integer division by zero, or an out-of-bounds index).
//
// It panics if the primary element type of the node is not one of PrimaryElementTypes.
func (interp *Interpreter) Evaluate(node *graph.Node, outputs, inputs []*tensors.Tensor) (bool, error) {
	opType := node.Type()
	if !HasEvaluator(opType) {
		return false, errors.Wrapf(ErrUnsupportedOperator, "evaluating %s", node)
	}
	primary := PrimaryElementType(node)
	if !slices.Contains(PrimaryElementTypes, primary) {
		exceptions.Panicf("interpreter: unhandled element type %s evaluating node %s", primary, node)
	}
	if len(outputs) != node.NumOutputs() || len(inputs) != node.NumInputs() {
		return false, errors.Errorf("evaluating %s: got %d outputs and %d inputs, wanted %d and %d",
			node, len(outputs), len(inputs), node.NumOutputs(), node.NumInputs())
	}
	if IsStub(opType) {
		if interp.opts.StrictStubs {
			return false, errors.Wrapf(ErrStubOperator, "evaluating %s", node)
		}
		klog.V(1).Infof("interpreter: %s is a stub, zero-filling its outputs", node)
	}
	if err := evaluators[opType](interp, node, outputs, inputs); err != nil {
		return false, errors.WithMessagef(err, "evaluating %s (%s)", node, primary)
	}
	return true, nil
}

// unsupportedElementType returns an ErrUnsupportedElementType error for the kernel of the node.
func unsupportedElementType(node *graph.Node, dtype dtypes.DType) error {
	return errors.Wrapf(ErrUnsupportedElementType, "%s kernel has no %s instantiation", node.Type(), dtype)
}

// unsupportedIndexType returns an ErrUnsupportedIndexType error for the kernel of the node.
func unsupportedIndexType(node *graph.Node, what string, dtype dtypes.DType) error {
	return errors.Wrapf(ErrUnsupportedIndexType, "%s kernel doesn't support %s of type %s", node.Type(), what, dtype)
}
