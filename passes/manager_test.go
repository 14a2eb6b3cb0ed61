// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes_test

import (
	"sync"
	"testing"

	. "github.com/gomlx/opgraph/passes"
	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/graph/opset0"
	"github.com/gomlx/opgraph/pkg/core/graph/opset1"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRefused = errors.New("refused")

// addPass rewrites version 1 additions into version 0 additions, and refuses to touch multiplications.
type addPass struct{}

func (addPass) Name() string { return "add_to_v0" }

func (addPass) RunOnNode(node *graph.Node) (bool, error) {
	switch node.Type() {
	case opsets.OpTypeMultiplyV1:
		return false, errRefused
	case opsets.OpTypeAddV1:
		attrs := node.Attrs().(opset1.BinaryAttrs)
		add, err := opset0.Add(node.Input(0), node.Input(1), attrs.AutoBroadcast)
		if err != nil {
			return false, err
		}
		return true, node.Graph().Replace(node, add)
	}
	return false, nil
}

// recorder records the types of the nodes it visits.
type recorder struct {
	mu      sync.Mutex
	visited []opsets.OpType
}

func (r *recorder) Name() string { return "recorder" }

func (r *recorder) RunOnNode(node *graph.Node) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.visited = append(r.visited, node.Type())
	return false, nil
}

// buildGraph builds ((x+x)*(x+x))+x with version 1 operators.
func buildGraph(t *testing.T) *graph.Graph {
	g := graph.New("pipeline")
	x := must.M1(g.Parameter("x", shapes.Make(dtypes.Float32, 2))).Output(0)
	sum := must.M1(opset1.Add(x, x, graph.NumpyBroadcast)).Output(0)
	product := must.M1(opset1.Multiply(sum, sum, graph.NumpyBroadcast)).Output(0)
	result := must.M1(opset1.Add(product, x, graph.NumpyBroadcast)).Output(0)
	require.NoError(t, g.SetResults(result))
	return g
}

func counterValue(t *testing.T, counter *prometheus.CounterVec, labels ...string) float64 {
	var metric dto.Metric
	require.NoError(t, must.M1(counter.GetMetricWithLabelValues(labels...)).Write(&metric))
	return metric.GetCounter().GetValue()
}

func TestManagerAbort(t *testing.T) {
	g := buildGraph(t)
	metrics := NewMetrics(prometheus.NewRegistry())
	manager := NewManager(addPass{}).WithMetrics(metrics)
	assert.Equal(t, AbortOnError, manager.Policy())

	modified, err := manager.Run(g)
	require.ErrorIs(t, err, errRefused)
	assert.Contains(t, err.Error(), `pass add_to_v0 on graph "pipeline"`)
	assert.True(t, modified, "the first addition was rewritten before the failure")

	counts := make(map[opsets.OpType]int)
	for _, node := range g.TopologicalOrder() {
		counts[node.Type()]++
	}
	assert.Equal(t, 1, counts[opsets.OpTypeAdd])
	assert.Equal(t, 1, counts[opsets.OpTypeAddV1])

	assert.Equal(t, 3.0, counterValue(t, metrics.NodesVisited, "add_to_v0"))
	assert.Equal(t, 1.0, counterValue(t, metrics.NodesRewritten, "add_to_v0", "Add:v1"))
	assert.Equal(t, 1.0, counterValue(t, metrics.Failures, "add_to_v0", "Multiply:v1"))
}

func TestManagerSkip(t *testing.T) {
	g := buildGraph(t)
	metrics := NewMetrics(prometheus.NewRegistry())
	rec := &recorder{}
	manager := NewManager(addPass{}, rec).WithPolicy(SkipOnError).WithMetrics(metrics)
	require.Len(t, manager.Passes(), 2)

	modified, err := manager.Run(g)
	require.NoError(t, err)
	assert.True(t, modified)
	assert.Equal(t, 4.0, counterValue(t, metrics.NodesVisited, "add_to_v0"))
	assert.Equal(t, 2.0, counterValue(t, metrics.NodesRewritten, "add_to_v0", "Add:v1"))
	assert.Equal(t, 1.0, counterValue(t, metrics.Failures, "add_to_v0", "Multiply:v1"))

	// The following pass sees the rewritten graph.
	assert.Equal(t, []opsets.OpType{opsets.OpTypeParameter, opsets.OpTypeAdd, opsets.OpTypeMultiplyV1, opsets.OpTypeAdd},
		rec.visited)
	assert.Equal(t, 4.0, counterValue(t, metrics.NodesVisited, "recorder"))

	// Nothing left to rewrite.
	modified, err = manager.Run(g)
	require.NoError(t, err)
	assert.False(t, modified)
}

func TestManagerConcurrentGraphs(t *testing.T) {
	manager := NewManager(addPass{}).WithPolicy(SkipOnError)
	graphs := make([]*graph.Graph, 8)
	for ii := range graphs {
		graphs[ii] = buildGraph(t)
	}
	var wg sync.WaitGroup
	errs := make([]error, len(graphs))
	for ii, g := range graphs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[ii] = manager.Run(g)
		}()
	}
	wg.Wait()
	for ii, g := range graphs {
		require.NoError(t, errs[ii])
		assert.Equal(t, opsets.OpTypeAdd, g.Results()[0].Node.Type())
	}
}

func TestManagerProvenance(t *testing.T) {
	g := buildGraph(t)
	require.False(t, g.ProvenanceEnabled())
	_, err := NewManager().WithProvenance(true).Run(g)
	require.NoError(t, err)
	assert.True(t, g.ProvenanceEnabled())
}

func TestRegistry(t *testing.T) {
	Register("add_to_v0", func() NodePass { return addPass{} })
	Register("recorder", func() NodePass { return &recorder{} })
	assert.Subset(t, Registered(), []string{"add_to_v0", "recorder"})
	assert.IsIncreasing(t, Registered())

	pass, err := New("recorder")
	require.NoError(t, err)
	assert.Equal(t, "recorder", pass.Name())
	assert.NotSame(t, pass, must.M1(New("recorder")), "each call creates a new instance")

	_, err = New("unknown")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "add_to_v0")
}
