// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opset4

import (
	"testing"

	"github.com/gomlx/opgraph/pkg/core/dtypes"
	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/shapes"
	"github.com/janpfeifer/must"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCTCLoss(t *testing.T) {
	g := graph.New("ctc")
	param := func(dtype dtypes.DType, dims ...int) graph.Output {
		return must.M1(g.Parameter("p", shapes.Make(dtype, dims...))).Output(0)
	}
	logits := param(dtypes.Float32, 2, 5, 4)
	lengths := param(dtypes.Int32, 2)
	labels := param(dtypes.Int32, 2, 5)
	attrs := CTCLossAttrs{CTCMergeRepeated: true}

	node, err := CTCLoss(logits, lengths, labels, lengths, graph.Output{}, attrs)
	require.NoError(t, err)
	assert.Equal(t, opsets.OpTypeCTCLossV4, node.Type())
	assert.Equal(t, 4, node.NumInputs())
	assert.True(t, node.Shape().Equal(shapes.Make(dtypes.Float32, 2)))
	assert.Equal(t, attrs, node.Attrs())

	node, err = CTCLoss(param(dtypes.Float64, shapes.UnknownDim, 5, 4), lengths, labels, lengths, param(dtypes.Int32), attrs)
	require.NoError(t, err)
	assert.Equal(t, 5, node.NumInputs())
	assert.True(t, node.Shape().Equal(shapes.Make(dtypes.Float64, shapes.UnknownDim)))

	for _, tc := range []struct {
		name                                      string
		logits, logitLen, labels, labelLen, blank graph.Output
	}{
		{"integer logits", param(dtypes.Int32, 2, 5, 4), lengths, labels, lengths, graph.Output{}},
		{"logits rank", param(dtypes.Float32, 2, 5), lengths, labels, lengths, graph.Output{}},
		{"labels time", logits, lengths, param(dtypes.Int32, 2, 4), lengths, graph.Output{}},
		{"label length batch", logits, lengths, labels, param(dtypes.Int32, 3), graph.Output{}},
		{"mixed index types", logits, lengths, param(dtypes.Int64, 2, 5), lengths, graph.Output{}},
		{"blank not scalar", logits, lengths, labels, lengths, param(dtypes.Int32, 1)},
	} {
		_, err := CTCLoss(tc.logits, tc.logitLen, tc.labels, tc.labelLen, tc.blank, attrs)
		require.Errorf(t, err, "case %q", tc.name)
	}
}
