// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package opsets defines the closed enum of operator type-identities (OpType) and the registry of opsets:
// numbered generations of operator schemas, each mapping an operator name to the OpType valid for that
// generation.
//
// An opset of version N contains, for each operator name, the newest version <= N of that operator, excluding
// operators obsoleted at or before N. So opset 1 maps "Multiply" to OpTypeMultiplyV1, and does not include
// "Sum" (replaced by "ReduceSum" in version 1).
package opsets

import (
	"slices"
	"sort"

	"github.com/pkg/errors"
)

// Versions of the registered opsets, in increasing order.
var Versions = []int{0, 1, 3, 4}

// Opset is an immutable registry of the operators valid for one numbered generation.
type Opset struct {
	version int
	byName  map[string]OpType
	ops     []OpType
	members [OpTypeLast]bool
}

// Version of the opset.
func (o *Opset) Version() int { return o.version }

// Lookup returns the OpType registered under the given name for this opset.
func (o *Opset) Lookup(name string) (OpType, bool) {
	opType, found := o.byName[name]
	return opType, found
}

// Contains returns whether the operator belongs to this opset.
func (o *Opset) Contains(opType OpType) bool {
	return opType.IsValid() && o.members[opType]
}

// OpTypes returns the operators of the opset, in enum order.
func (o *Opset) OpTypes() []OpType {
	return slices.Clone(o.ops)
}

// Names returns the operator names of the opset, sorted.
func (o *Opset) Names() []string {
	names := make([]string, 0, len(o.byName))
	for name := range o.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var registry = map[int]*Opset{}

func init() {
	for _, version := range Versions {
		registry[version] = buildOpset(version)
	}
}

func buildOpset(version int) *Opset {
	o := &Opset{version: version, byName: make(map[string]OpType)}
	for opType := OpTypeInvalid + 1; opType < OpTypeLast; opType++ {
		info := opTypeInfos[opType]
		if info.Version > version {
			continue
		}
		if info.obsoletedIn != 0 && info.obsoletedIn <= version {
			continue
		}
		if previous, found := o.byName[info.Name]; found && opTypeInfos[previous].Version >= info.Version {
			continue
		}
		o.byName[info.Name] = opType
	}
	for _, opType := range o.byName {
		o.members[opType] = true
	}
	for opType := OpTypeInvalid + 1; opType < OpTypeLast; opType++ {
		if o.members[opType] {
			o.ops = append(o.ops, opType)
		}
	}
	return o
}

// Get returns the opset for the given version.
func Get(version int) (*Opset, error) {
	o, found := registry[version]
	if !found {
		return nil, errors.Errorf("unknown opset version %d, registered versions are %v", version, Versions)
	}
	return o, nil
}

// MustGet returns the opset for the given version, and panics if it doesn't exist.
func MustGet(version int) *Opset {
	o, err := Get(version)
	if err != nil {
		panic(err)
	}
	return o
}

// Previous returns the version of the given operator's schema in the opset immediately older
// than the operator's own version: the target of a single downgrade step.
//
// It returns false if opType is version agnostic or already of version 0.
func Previous(opType OpType) (int, bool) {
	if !opType.IsValid() || opType.IsVersionAgnostic() {
		return 0, false
	}
	version := opType.Version()
	idx := slices.Index(Versions, version)
	if idx <= 0 {
		return 0, false
	}
	return Versions[idx-1], true
}
