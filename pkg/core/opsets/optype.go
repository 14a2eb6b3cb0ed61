// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package opsets

import "fmt"

// OpType is the closed enum of every operator type-identity known to the graph: one value per
// (name, version) pair. E.g.: OpTypeMultiply is "Multiply" version 0, OpTypeMultiplyV1 is "Multiply" version 1.
//
// The table opTypeInfos below is the single source of truth for names and versions: the opsets, the
// interpreter's evaluator table and the downgrade rule table are all indexed by OpType.
type OpType int

const (
	OpTypeInvalid OpType = iota

	// Version agnostic operators, available in every opset.

	OpTypeParameter
	OpTypeConstant
	OpTypeConvert
	OpTypeCumSum
	OpTypeMVN
	OpTypeLRN
	OpTypeHardSigmoid
	OpTypeElu
	OpTypeSelu
	OpTypeCeiling
	OpTypeGelu
	OpTypeBatchNormInference
	OpTypeReverseSequence
	OpTypeRNNCell
	OpTypeDetectionOutput

	// Version 0 operators.

	OpTypeAdd
	OpTypeSubtract
	OpTypeMultiply
	OpTypeDivide
	OpTypeMaximum
	OpTypeMinimum
	OpTypeAnd
	OpTypeOr
	OpTypeXor
	OpTypeNot
	OpTypeSum
	OpTypeProduct
	OpTypeMax
	OpTypeMin
	OpTypeReshape
	OpTypeBroadcast
	OpTypeGather
	OpTypeOneHot
	OpTypeReverse
	OpTypeSlice
	OpTypeSplit
	OpTypeTopK
	OpTypeAvgPool

	// Version 1 operators.

	OpTypeAddV1
	OpTypeSubtractV1
	OpTypeMultiplyV1
	OpTypeDivideV1
	OpTypeMaximumV1
	OpTypeMinimumV1
	OpTypeLogicalAndV1
	OpTypeLogicalOrV1
	OpTypeLogicalXorV1
	OpTypeLogicalNotV1
	OpTypeReduceSumV1
	OpTypeReduceProdV1
	OpTypeReduceMaxV1
	OpTypeReduceMinV1
	OpTypeReshapeV1
	OpTypeBroadcastV1
	OpTypeGatherV1
	OpTypeOneHotV1
	OpTypeReverseV1
	OpTypeStridedSliceV1
	OpTypeSplitV1
	OpTypeVariadicSplitV1
	OpTypeTopKV1
	OpTypeTransposeV1
	OpTypeAvgPoolV1
	OpTypeConvolutionV1
	OpTypeConvolutionBackpropDataV1
	OpTypeGroupConvolutionV1
	OpTypeGroupConvolutionBackpropDataV1
	OpTypeSelectV1
	OpTypePadV1

	// Version 3 operators.

	OpTypeEmbeddingSegmentsSumV3
	OpTypeEmbeddingBagOffsetsSumV3
	OpTypeEmbeddingBagPackedSumV3
	OpTypeScatterNDUpdateV3

	// Version 4 operators.

	OpTypeCTCLossV4

	// OpTypeLast should always be kept the last, it is used as a counter/marker for OpType.
	OpTypeLast
)

// TypeInfo is the type-identity of an operator: its name and the version of its schema.
type TypeInfo struct {
	Name    string
	Version int
}

// String returns "Name:vN".
func (ti TypeInfo) String() string {
	return fmt.Sprintf("%s:v%d", ti.Name, ti.Version)
}

type opTypeInfo struct {
	TypeInfo

	// agnostic operators have the same schema in every opset.
	agnostic bool

	// obsoletedIn is the first opset version where this operator no longer exists, usually because it was
	// renamed (e.g.: Sum -> ReduceSum). 0 if never obsoleted.
	obsoletedIn int
}

var opTypeInfos = [OpTypeLast]opTypeInfo{
	OpTypeParameter:          {TypeInfo: TypeInfo{"Parameter", 0}, agnostic: true},
	OpTypeConstant:           {TypeInfo: TypeInfo{"Constant", 0}, agnostic: true},
	OpTypeConvert:            {TypeInfo: TypeInfo{"Convert", 0}, agnostic: true},
	OpTypeCumSum:             {TypeInfo: TypeInfo{"CumSum", 0}, agnostic: true},
	OpTypeMVN:                {TypeInfo: TypeInfo{"MVN", 0}, agnostic: true},
	OpTypeLRN:                {TypeInfo: TypeInfo{"LRN", 0}, agnostic: true},
	OpTypeHardSigmoid:        {TypeInfo: TypeInfo{"HardSigmoid", 0}, agnostic: true},
	OpTypeElu:                {TypeInfo: TypeInfo{"Elu", 0}, agnostic: true},
	OpTypeSelu:               {TypeInfo: TypeInfo{"Selu", 0}, agnostic: true},
	OpTypeCeiling:            {TypeInfo: TypeInfo{"Ceiling", 0}, agnostic: true},
	OpTypeGelu:               {TypeInfo: TypeInfo{"Gelu", 0}, agnostic: true},
	OpTypeBatchNormInference: {TypeInfo: TypeInfo{"BatchNormInference", 0}, agnostic: true},
	OpTypeReverseSequence:    {TypeInfo: TypeInfo{"ReverseSequence", 0}, agnostic: true},
	OpTypeRNNCell:            {TypeInfo: TypeInfo{"RNNCell", 0}, agnostic: true},
	OpTypeDetectionOutput:    {TypeInfo: TypeInfo{"DetectionOutput", 0}, agnostic: true},

	OpTypeAdd:       {TypeInfo: TypeInfo{"Add", 0}},
	OpTypeSubtract:  {TypeInfo: TypeInfo{"Subtract", 0}},
	OpTypeMultiply:  {TypeInfo: TypeInfo{"Multiply", 0}},
	OpTypeDivide:    {TypeInfo: TypeInfo{"Divide", 0}},
	OpTypeMaximum:   {TypeInfo: TypeInfo{"Maximum", 0}},
	OpTypeMinimum:   {TypeInfo: TypeInfo{"Minimum", 0}},
	OpTypeAnd:       {TypeInfo: TypeInfo{"And", 0}, obsoletedIn: 1},
	OpTypeOr:        {TypeInfo: TypeInfo{"Or", 0}, obsoletedIn: 1},
	OpTypeXor:       {TypeInfo: TypeInfo{"Xor", 0}, obsoletedIn: 1},
	OpTypeNot:       {TypeInfo: TypeInfo{"Not", 0}, obsoletedIn: 1},
	OpTypeSum:       {TypeInfo: TypeInfo{"Sum", 0}, obsoletedIn: 1},
	OpTypeProduct:   {TypeInfo: TypeInfo{"Product", 0}, obsoletedIn: 1},
	OpTypeMax:       {TypeInfo: TypeInfo{"Max", 0}, obsoletedIn: 1},
	OpTypeMin:       {TypeInfo: TypeInfo{"Min", 0}, obsoletedIn: 1},
	OpTypeReshape:   {TypeInfo: TypeInfo{"Reshape", 0}},
	OpTypeBroadcast: {TypeInfo: TypeInfo{"Broadcast", 0}},
	OpTypeGather:    {TypeInfo: TypeInfo{"Gather", 0}},
	OpTypeOneHot:    {TypeInfo: TypeInfo{"OneHot", 0}},
	OpTypeReverse:   {TypeInfo: TypeInfo{"Reverse", 0}},
	OpTypeSlice:     {TypeInfo: TypeInfo{"Slice", 0}, obsoletedIn: 1},
	OpTypeSplit:     {TypeInfo: TypeInfo{"Split", 0}},
	OpTypeTopK:      {TypeInfo: TypeInfo{"TopK", 0}},
	OpTypeAvgPool:   {TypeInfo: TypeInfo{"AvgPool", 0}},

	OpTypeAddV1:                          {TypeInfo: TypeInfo{"Add", 1}},
	OpTypeSubtractV1:                     {TypeInfo: TypeInfo{"Subtract", 1}},
	OpTypeMultiplyV1:                     {TypeInfo: TypeInfo{"Multiply", 1}},
	OpTypeDivideV1:                       {TypeInfo: TypeInfo{"Divide", 1}},
	OpTypeMaximumV1:                      {TypeInfo: TypeInfo{"Maximum", 1}},
	OpTypeMinimumV1:                      {TypeInfo: TypeInfo{"Minimum", 1}},
	OpTypeLogicalAndV1:                   {TypeInfo: TypeInfo{"LogicalAnd", 1}},
	OpTypeLogicalOrV1:                    {TypeInfo: TypeInfo{"LogicalOr", 1}},
	OpTypeLogicalXorV1:                   {TypeInfo: TypeInfo{"LogicalXor", 1}},
	OpTypeLogicalNotV1:                   {TypeInfo: TypeInfo{"LogicalNot", 1}},
	OpTypeReduceSumV1:                    {TypeInfo: TypeInfo{"ReduceSum", 1}},
	OpTypeReduceProdV1:                   {TypeInfo: TypeInfo{"ReduceProd", 1}},
	OpTypeReduceMaxV1:                    {TypeInfo: TypeInfo{"ReduceMax", 1}},
	OpTypeReduceMinV1:                    {TypeInfo: TypeInfo{"ReduceMin", 1}},
	OpTypeReshapeV1:                      {TypeInfo: TypeInfo{"Reshape", 1}},
	OpTypeBroadcastV1:                    {TypeInfo: TypeInfo{"Broadcast", 1}},
	OpTypeGatherV1:                       {TypeInfo: TypeInfo{"Gather", 1}},
	OpTypeOneHotV1:                       {TypeInfo: TypeInfo{"OneHot", 1}},
	OpTypeReverseV1:                      {TypeInfo: TypeInfo{"Reverse", 1}},
	OpTypeStridedSliceV1:                 {TypeInfo: TypeInfo{"StridedSlice", 1}},
	OpTypeSplitV1:                        {TypeInfo: TypeInfo{"Split", 1}},
	OpTypeVariadicSplitV1:                {TypeInfo: TypeInfo{"VariadicSplit", 1}},
	OpTypeTopKV1:                         {TypeInfo: TypeInfo{"TopK", 1}},
	OpTypeTransposeV1:                    {TypeInfo: TypeInfo{"Transpose", 1}},
	OpTypeAvgPoolV1:                      {TypeInfo: TypeInfo{"AvgPool", 1}},
	OpTypeConvolutionV1:                  {TypeInfo: TypeInfo{"Convolution", 1}},
	OpTypeConvolutionBackpropDataV1:      {TypeInfo: TypeInfo{"ConvolutionBackpropData", 1}},
	OpTypeGroupConvolutionV1:             {TypeInfo: TypeInfo{"GroupConvolution", 1}},
	OpTypeGroupConvolutionBackpropDataV1: {TypeInfo: TypeInfo{"GroupConvolutionBackpropData", 1}},
	OpTypeSelectV1:                       {TypeInfo: TypeInfo{"Select", 1}},
	OpTypePadV1:                          {TypeInfo: TypeInfo{"Pad", 1}},

	OpTypeEmbeddingSegmentsSumV3:   {TypeInfo: TypeInfo{"EmbeddingSegmentsSum", 3}},
	OpTypeEmbeddingBagOffsetsSumV3: {TypeInfo: TypeInfo{"EmbeddingBagOffsetsSum", 3}},
	OpTypeEmbeddingBagPackedSumV3:  {TypeInfo: TypeInfo{"EmbeddingBagPackedSum", 3}},
	OpTypeScatterNDUpdateV3:        {TypeInfo: TypeInfo{"ScatterNDUpdate", 3}},

	OpTypeCTCLossV4: {TypeInfo: TypeInfo{"CTCLoss", 4}},
}

// IsValid returns whether opType is one of the enumerated operators.
func (opType OpType) IsValid() bool {
	return opType > OpTypeInvalid && opType < OpTypeLast
}

// TypeInfo returns the type-identity (name, version) of the operator.
func (opType OpType) TypeInfo() TypeInfo {
	if !opType.IsValid() {
		return TypeInfo{Name: "Invalid"}
	}
	return opTypeInfos[opType].TypeInfo
}

// Name of the operator, shared by all versions of the operator.
func (opType OpType) Name() string { return opType.TypeInfo().Name }

// Version of the operator's schema.
func (opType OpType) Version() int { return opType.TypeInfo().Version }

// IsVersionAgnostic returns whether the operator has the same schema in every opset.
func (opType OpType) IsVersionAgnostic() bool {
	return opType.IsValid() && opTypeInfos[opType].agnostic
}

// String implements fmt.Stringer, it returns "Name:vN".
func (opType OpType) String() string {
	if !opType.IsValid() {
		return fmt.Sprintf("OpType(%d)", int(opType))
	}
	return opTypeInfos[opType].TypeInfo.String()
}

// All returns all valid operator types, in enum order.
func All() []OpType {
	all := make([]OpType, 0, OpTypeLast-1)
	for opType := OpTypeInvalid + 1; opType < OpTypeLast; opType++ {
		all = append(all, opType)
	}
	return all
}

// FromTypeInfo returns the OpType for the given type-identity.
func FromTypeInfo(ti TypeInfo) (OpType, bool) {
	opType, found := byTypeInfo[ti]
	return opType, found
}

var byTypeInfo = make(map[TypeInfo]OpType, OpTypeLast)

func init() {
	for _, opType := range All() {
		byTypeInfo[opTypeInfos[opType].TypeInfo] = opType
	}
}
