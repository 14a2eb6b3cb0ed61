// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"context"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// Executor evaluates a whole graph: it binds the parameters to the given tensors and evaluates the nodes
// reachable from the results, in topological order.
//
// All the output shapes of the evaluated nodes must be static.
type Executor struct {
	graph  *graph.Graph
	interp *Interpreter

	// levels groups the nodes by their depth: the nodes of a level only depend on nodes of previous levels.
	levels [][]*graph.Node
}

// NewExecutor prepares the evaluation of the graph with the interpreter. If interp is nil, the Default one is used.
//
// It returns an error wrapping ErrUnsupportedOperator if a node has no kernel, or an error if some output
// shape is not static.
func NewExecutor(g *graph.Graph, interp *Interpreter) (*Executor, error) {
	if interp == nil {
		interp = Default()
	}
	e := &Executor{graph: g, interp: interp}
	depth := make(map[*graph.Node]int)
	for _, node := range g.TopologicalOrder() {
		if node.Type() != opsets.OpTypeParameter && !HasEvaluator(node.Type()) {
			return nil, errors.Wrapf(ErrUnsupportedOperator, "graph %q node %s", g.Name(), node)
		}
		for _, shape := range node.OutputShapes() {
			if !shape.IsStatic() {
				return nil, errors.Errorf("graph %q node %s has a dynamic output shape %s", g.Name(), node, shape)
			}
		}
		level := 0
		for _, input := range node.Inputs() {
			level = max(level, depth[input.Node]+1)
		}
		depth[node] = level
		for len(e.levels) <= level {
			e.levels = append(e.levels, nil)
		}
		e.levels[level] = append(e.levels[level], node)
	}
	return e, nil
}

// Run is RunContext with a background context.
func (e *Executor) Run(params ...*tensors.Tensor) ([]*tensors.Tensor, error) {
	return e.RunContext(context.Background(), params...)
}

// RunContext evaluates the graph with the given parameter values (one per graph parameter, in order), and
// returns the values of the graph results.
//
// The evaluation stops at the first error, or when ctx is cancelled. If Options.Parallel is set, the nodes of
// each level are evaluated concurrently.
func (e *Executor) RunContext(ctx context.Context, params ...*tensors.Tensor) ([]*tensors.Tensor, error) {
	graphParams := e.graph.Parameters()
	if len(params) != len(graphParams) {
		return nil, errors.Errorf("graph %q has %d parameters, %d values given", e.graph.Name(), len(graphParams), len(params))
	}
	values := make(map[*graph.Node][]*tensors.Tensor, len(e.graph.Nodes()))
	for ii, param := range graphParams {
		if !params[ii].Shape().Equal(param.Shape()) {
			return nil, errors.Errorf("parameter #%d (%s) of graph %q given a value of shape %s",
				ii, param, e.graph.Name(), params[ii].Shape())
		}
		values[param] = []*tensors.Tensor{params[ii]}
	}

	// Allocate all outputs before evaluating, so that concurrent evaluations only read the values map.
	for _, level := range e.levels {
		for _, node := range level {
			if node.Type() == opsets.OpTypeParameter {
				continue
			}
			outputs := make([]*tensors.Tensor, node.NumOutputs())
			for ii, shape := range node.OutputShapes() {
				outputs[ii] = tensors.FromShape(shape)
			}
			values[node] = outputs
		}
	}
	for _, level := range e.levels {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.interp.opts.Parallel && len(level) > 1 {
			eg, egCtx := errgroup.WithContext(ctx)
			for _, node := range level {
				eg.Go(func() error {
					if err := egCtx.Err(); err != nil {
						return err
					}
					return e.evaluate(node, values)
				})
			}
			if err := eg.Wait(); err != nil {
				return nil, err
			}
			continue
		}
		for _, node := range level {
			if err := e.evaluate(node, values); err != nil {
				return nil, err
			}
		}
	}

	results := make([]*tensors.Tensor, 0, len(e.graph.Results()))
	for _, result := range e.graph.Results() {
		results = append(results, values[result.Node][result.Index])
	}
	return results, nil
}

// evaluate one node, converting a panic of the kernel into an error.
func (e *Executor) evaluate(node *graph.Node, values map[*graph.Node][]*tensors.Tensor) (err error) {
	if node.Type() == opsets.OpTypeParameter {
		return nil
	}
	inputs := make([]*tensors.Tensor, node.NumInputs())
	for ii, input := range node.Inputs() {
		inputs[ii] = values[input.Node][input.Index]
	}
	if klog.V(2).Enabled() {
		klog.Infof("interpreter: evaluating %s", node)
	}
	panicErr := exceptions.TryCatch[error](func() {
		_, err = e.interp.Evaluate(node, values[node], inputs)
	})
	if panicErr != nil {
		return errors.WithMessagef(panicErr, "graph %q", e.graph.Name())
	}
	return err
}
