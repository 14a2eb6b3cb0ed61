// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"context"
	"testing"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/graph/opset1"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildSquares builds a graph computing ((x+1)^2, (x-1)^2, x*x) for a parameter x of shape [2].
func buildSquares(t *testing.T) *graph.Graph {
	g := graph.New("squares")
	x := must.M1(g.Parameter("x", shapes.Make(dtypes.Float32, 2))).Output(0)
	one := constant(g, []float32{1})
	plus := must.M1(opset1.Add(x, one, graph.NumpyBroadcast)).Output(0)
	minus := must.M1(opset1.Subtract(x, one, graph.NumpyBroadcast)).Output(0)
	plusSquared := must.M1(opset1.Multiply(plus, plus, graph.NumpyBroadcast)).Output(0)
	minusSquared := must.M1(opset1.Multiply(minus, minus, graph.NumpyBroadcast)).Output(0)
	squared := must.M1(opset0.Multiply(x, x, graph.NoBroadcast)).Output(0)
	require.NoError(t, g.SetResults(plusSquared, minusSquared, squared))
	return g
}

func TestExecutor(t *testing.T) {
	for _, opts := range []Options{{}, {Parallel: true}} {
		exec, err := NewExecutor(buildSquares(t), NewWithOptions(opts))
		require.NoError(t, err)
		results, err := exec.Run(tensors.FromFlatDataAndDimensions([]float32{2, 3}, 2))
		require.NoErrorf(t, err, "options %q", opts)
		require.Len(t, results, 3)
		assert.Equal(t, []float32{9, 16}, tensors.Flat[float32](results[0]))
		assert.Equal(t, []float32{1, 4}, tensors.Flat[float32](results[1]))
		assert.Equal(t, []float32{4, 9}, tensors.Flat[float32](results[2]))

		// Executors can be reused with new parameter values.
		results, err = exec.Run(tensors.FromFlatDataAndDimensions([]float32{0, -1}, 2))
		require.NoError(t, err)
		assert.Equal(t, []float32{1, 0}, tensors.Flat[float32](results[0]))
	}
}

func TestExecutorErrors(t *testing.T) {
	exec, err := NewExecutor(buildSquares(t), nil)
	require.NoError(t, err)
	_, err = exec.Run()
	require.Error(t, err, "missing parameter")
	_, err = exec.Run(tensors.FromFlatDataAndDimensions([]float32{1, 2, 3}, 3))
	require.Error(t, err, "wrong parameter shape")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = exec.RunContext(ctx, tensors.FromFlatDataAndDimensions([]float32{1, 2}, 2))
	require.ErrorIs(t, err, context.Canceled)

	// Kernel errors are returned.
	g := graph.New("division")
	x := must.M1(g.Parameter("x", shapes.Make(dtypes.Int32, 2))).Output(0)
	quotient := must.M1(opset1.Divide(constant(g, []int32{1}), x, graph.NumpyBroadcast))
	require.NoError(t, g.SetResults(quotient.Output(0)))
	exec, err = NewExecutor(g, nil)
	require.NoError(t, err)
	_, err = exec.Run(tensors.FromFlatDataAndDimensions([]int32{1, 0}, 2))
	require.ErrorIs(t, err, ErrDivisionByZero)

	// Dynamic shapes can't be evaluated.
	g = graph.New("dynamic")
	param := must.M1(g.Parameter("x", shapes.Make(dtypes.Float32, shapes.UnknownDim)))
	require.NoError(t, g.SetResults(param.Output(0)))
	_, err = NewExecutor(g, nil)
	require.Error(t, err)
}

func TestExecutorPanicsBecomeErrors(t *testing.T) {
	g := graph.New("uint64")
	x := must.M1(g.Parameter("x", shapes.Make(dtypes.Int32, 2))).Output(0)
	convert := must.M1(opset0.Convert(x, dtypes.Uint64))
	require.NoError(t, g.SetResults(convert.Output(0)))
	exec, err := NewExecutor(g, nil)
	require.NoError(t, err)
	require.NotPanics(t, func() {
		_, err = exec.Run(tensors.FromFlatDataAndDimensions([]int32{1, 2}, 2))
	})
	require.Error(t, err)
}
