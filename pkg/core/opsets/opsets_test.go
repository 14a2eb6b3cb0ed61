// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opsets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpTypeInfos(t *testing.T) {
	seen := make(map[TypeInfo]OpType)
	for _, opType := range All() {
		info := opType.TypeInfo()
		require.NotEmptyf(t, info.Name, "OpType %d has no entry in opTypeInfos", int(opType))
		if previous, found := seen[info]; found {
			t.Fatalf("OpType %d and %d share the type-identity %s", previous, opType, info)
		}
		seen[info] = opType
		got, found := FromTypeInfo(info)
		require.True(t, found)
		assert.Equal(t, opType, got)
		if opType.IsVersionAgnostic() {
			assert.Equalf(t, 0, opType.Version(), "version agnostic %s", opType)
		}
	}
	assert.Equal(t, "Multiply:v1", OpTypeMultiplyV1.String())
	assert.Equal(t, "Multiply", OpTypeMultiply.Name())
	assert.Equal(t, "OpType(0)", OpTypeInvalid.String())
}

func TestOpsets(t *testing.T) {
	opset0 := MustGet(0)
	opset1 := MustGet(1)
	opset3 := MustGet(3)
	opset4 := MustGet(4)

	type testCase struct {
		name     string
		version  int
		expected OpType
		found    bool
	}
	for _, tc := range []testCase{
		{"Multiply", 0, OpTypeMultiply, true},
		{"Multiply", 1, OpTypeMultiplyV1, true},
		{"Multiply", 4, OpTypeMultiplyV1, true},
		{"Sum", 0, OpTypeSum, true},
		{"Sum", 1, OpTypeInvalid, false},
		{"ReduceSum", 0, OpTypeInvalid, false},
		{"ReduceSum", 1, OpTypeReduceSumV1, true},
		{"Convert", 0, OpTypeConvert, true},
		{"Convert", 3, OpTypeConvert, true},
		{"ScatterNDUpdate", 1, OpTypeInvalid, false},
		{"ScatterNDUpdate", 3, OpTypeScatterNDUpdateV3, true},
		{"CTCLoss", 3, OpTypeInvalid, false},
		{"CTCLoss", 4, OpTypeCTCLossV4, true},
	} {
		opset := MustGet(tc.version)
		opType, found := opset.Lookup(tc.name)
		assert.Equalf(t, tc.found, found, "Lookup(%q) in opset %d", tc.name, tc.version)
		if found {
			assert.Equalf(t, tc.expected, opType, "Lookup(%q) in opset %d", tc.name, tc.version)
		}
	}

	// Every operator belongs to at least one opset, and each opset has exactly one version per name.
	for _, opType := range All() {
		member := false
		for _, version := range Versions {
			member = member || MustGet(version).Contains(opType)
		}
		assert.Truef(t, member, "%s doesn't belong to any opset", opType)
	}
	for _, opset := range []*Opset{opset0, opset1, opset3, opset4} {
		assert.Len(t, opset.Names(), len(opset.OpTypes()))
	}
	assert.Less(t, len(opset1.OpTypes()), len(opset3.OpTypes()))
	assert.False(t, opset1.Contains(OpTypeInvalid))

	_, err := Get(2)
	require.Error(t, err)
}

func TestPrevious(t *testing.T) {
	version, ok := Previous(OpTypeTopKV1)
	require.True(t, ok)
	assert.Equal(t, 0, version)
	version, ok = Previous(OpTypeCTCLossV4)
	require.True(t, ok)
	assert.Equal(t, 3, version)
	_, ok = Previous(OpTypeTopK)
	assert.False(t, ok)
	_, ok = Previous(OpTypeConvert)
	assert.False(t, ok)
}
