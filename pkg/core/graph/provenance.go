// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package graph

import (
	"os"
	"strconv"

	"github.com/gomlx/opgraph/pkg/support/sets"
	"k8s.io/klog/v2"
)

// ProvenanceEnvVar is the environment variable that sets whether new graphs track provenance tags.
// It accepts any value parsed by strconv.ParseBool.
const ProvenanceEnvVar = "OPGRAPH_PROVENANCE_ENABLE"

// ProvenanceEnabledByDefault returns whether new graphs track provenance, as configured by ProvenanceEnvVar.
func ProvenanceEnabledByDefault() bool {
	value, found := os.LookupEnv(ProvenanceEnvVar)
	if !found || value == "" {
		return false
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		klog.Warningf("invalid value %q for $%s, provenance tracking disabled: %v", value, ProvenanceEnvVar, err)
		return false
	}
	return enabled
}

// ProvenanceEnabled returns whether rewrites should attach provenance tags to the nodes they create.
func (g *Graph) ProvenanceEnabled() bool { return g.provenanceEnabled }

// SetProvenanceEnabled configures whether rewrites attach provenance tags. It returns the graph itself.
func (g *Graph) SetProvenanceEnabled(enabled bool) *Graph {
	g.provenanceEnabled = enabled
	return g
}

// AddProvenanceTagsAbove attaches tag to every node above (and including) the nodes of outputs, stopping at
// the nodes of the boundary outputs, which are not tagged.
//
// It is used after a rewrite to tag the whole replacement subgraph, with the original node's inputs as boundary.
func AddProvenanceTagsAbove(outputs []Output, boundary []Output, tag string) {
	stop := sets.Make[*Node](len(boundary))
	for _, b := range boundary {
		stop.Insert(b.Node)
	}
	visited := sets.Make[*Node]()
	var visit func(node *Node)
	visit = func(node *Node) {
		if stop.Has(node) || !visited.InsertNew(node) {
			return
		}
		node.AddProvenanceTag(tag)
		for _, input := range node.inputs {
			visit(input.Node)
		}
	}
	for _, out := range outputs {
		visit(out.Node)
	}
}
