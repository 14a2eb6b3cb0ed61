// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package downgrade implements the pass that rewrites version 1 operators into equivalent version 0 operators
// (or small subgraphs of them).
//
// Rules are looked up in a static table indexed by the operator type (name and version), filled during the
// package initialization and read-only afterwards. Nodes without a rule (version 0, version agnostic and the
// operators in IntentionallyAbsent) are left untouched.
//
// A rule fails with a *PreconditionError if a required input is not a constant or a required shape is not static.
// The graph is then left unmodified.
//
// Importing the package registers the pass in package passes as PassName.
package downgrade

import (
	"fmt"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/opgraph/passes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// PassName is the name of the pass in the passes registry.
const PassName = "opset0_downgrade"

// ErrDowngradePrecondition is matched (with errors.Is) by every PreconditionError.
var ErrDowngradePrecondition = errors.New("downgrade precondition not met")

// PreconditionError reports a node that can't be downgraded, and the condition it doesn't meet.
type PreconditionError struct {
	Node      *graph.Node
	Condition string

	// Cause is the error that revealed the condition, if any.
	Cause error
}

// Error implements error.
func (e *PreconditionError) Error() string {
	msg := fmt.Sprintf("unable to downgrade %s to opset 0: %s", e.Node, e.Condition)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the cause.
func (e *PreconditionError) Unwrap() error { return e.Cause }

// Is makes errors.Is(err, ErrDowngradePrecondition) true.
func (e *PreconditionError) Is(target error) bool { return target == ErrDowngradePrecondition }

// rewrite is the result of a rule: the node replacing the original, and the mapping of the original outputs
// to the replacement outputs (nil for the identity).
type rewrite struct {
	replacement *graph.Node
	outputOrder []int
}

type rule func(node *graph.Node) (rewrite, error)

var rules [opsets.OpTypeLast]rule

func registerRule(opType opsets.OpType, r rule) {
	if opType.Version() != 1 {
		exceptions.Panicf("downgrade rule registered for %s, only version 1 operators are downgraded", opType)
	}
	rules[opType] = r
}

// IntentionallyAbsent lists the version 1 operators without a downgrade rule, and why.
var IntentionallyAbsent = map[opsets.OpType]string{
	opsets.OpTypeConvolutionV1:                  "no version 0 counterpart",
	opsets.OpTypeConvolutionBackpropDataV1:      "no version 0 counterpart",
	opsets.OpTypeGroupConvolutionV1:             "no version 0 counterpart",
	opsets.OpTypeGroupConvolutionBackpropDataV1: "no version 0 counterpart",
	opsets.OpTypeSelectV1:                       "no version 0 counterpart",
	opsets.OpTypePadV1:                          "no version 0 counterpart",
}

// HasRule returns whether the operator has a downgrade rule.
func HasRule(opType opsets.OpType) bool {
	return opType.IsValid() && rules[opType] != nil
}

// Pass rewrites version 1 nodes into version 0 nodes. It implements passes.NodePass.
type Pass struct{}

// New returns the downgrade pass.
func New() *Pass { return &Pass{} }

func init() {
	passes.Register(PassName, func() passes.NodePass { return New() })
}

// Name implements passes.NodePass.
func (p *Pass) Name() string { return PassName }

// ProvenanceTag returns the tag attached to the nodes created when downgrading an operator of the given type.
func ProvenanceTag(opType opsets.OpType) string {
	return fmt.Sprintf("<Opset0Downgrade (v1 %s)>", opType.Name())
}

// RunOnNode replaces the node by its version 0 equivalent, if it has a rule. It returns whether the graph was
// modified.
//
// Consumers of the node and graph results are redirected to the replacement. If it fails the graph is left
// unmodified.
func (p *Pass) RunOnNode(node *graph.Node) (modified bool, err error) {
	r := rules[node.Type()]
	if r == nil {
		return false, nil
	}
	g := node.Graph()
	if g == nil {
		return false, errors.Errorf("downgrade: node %s doesn't belong to a graph", node)
	}
	checkpoint := g.Checkpoint()
	rw, err := r(node)
	if err == nil {
		err = g.Replace(node, rw.replacement, rw.outputOrder...)
	}
	if err != nil {
		g.Rollback(checkpoint)
		var precondition *PreconditionError
		if !errors.As(err, &precondition) {
			err = &PreconditionError{Node: node, Condition: "replacement is not valid", Cause: err}
		}
		return false, err
	}
	if g.ProvenanceEnabled() {
		graph.AddProvenanceTagsAbove(rw.replacement.Outputs(), node.Inputs(), ProvenanceTag(node.Type()))
	}
	klog.V(1).Infof("downgrade on graph %s: replaced %s by %s", g.Label(), node, rw.replacement)
	return true, nil
}

// precondition returns a PreconditionError for the node.
func precondition(node *graph.Node, format string, args ...any) error {
	return &PreconditionError{Node: node, Condition: fmt.Sprintf(format, args...)}
}

// construction wraps the failure to build a version 0 node.
func construction(node *graph.Node, err error, what string) error {
	return &PreconditionError{Node: node, Condition: what, Cause: err}
}

// replaceWith returns the rewrite for a single replacement node, or the construction error.
func replaceWith(node *graph.Node, replacement *graph.Node, err error) (rewrite, error) {
	if err != nil {
		return rewrite{}, construction(node, err, "cannot build the version 0 replacement")
	}
	return rewrite{replacement: replacement}, nil
}
