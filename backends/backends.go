// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package backends defines the interface of node evaluators, and a registry to select one by name.
//
// Backends register themselves during the initialization of their package, so the package of the backend
// must be imported, e.g.: import _ "github.com/gomlx/opgraph/backends/interpreter".
package backends

import (
	"maps"
	"os"
	"slices"
	"strings"
	"sync"

	"github.com/gomlx/opgraph/pkg/core/graph"
	"github.com/gomlx/opgraph/pkg/core/opsets"
	"github.com/gomlx/opgraph/pkg/core/tensors"
	"github.com/pkg/errors"
)

// Backend evaluates graph nodes.
type Backend interface {
	// Name returns the short name of the backend, the one used to register it.
	Name() string

	// Description is a longer description of the Backend, including its configuration.
	Description() string

	// HasEvaluator returns whether the backend can evaluate nodes of the given operator type.
	HasEvaluator(opType opsets.OpType) bool

	// Evaluate the node, reading its input values and writing to outputs, which are allocated by the caller with
	// the inferred shapes of the node. It returns false if the node (or its element type) is not supported.
	Evaluate(node *graph.Node, outputs, inputs []*tensors.Tensor) (bool, error)
}

// Constructor takes a config string (optionally empty) and returns a Backend.
type Constructor func(config string) (Backend, error)

var (
	muRegistry             sync.Mutex
	registeredConstructors = make(map[string]Constructor)
	firstRegistered        string
)

// Register backend with the given name, and a constructor that takes the backend specific configuration string.
//
// To be safe, call Register during initialization of a package.
func Register(name string, constructor Constructor) {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	if len(registeredConstructors) == 0 {
		firstRegistered = name
	}
	registeredConstructors[name] = constructor
}

// List returns the sorted names of the registered backends.
func List() []string {
	muRegistry.Lock()
	defer muRegistry.Unlock()
	return slices.Sorted(maps.Keys(registeredConstructors))
}

// DefaultConfig is the default backend configuration, used if ConfigEnvVar is not set.
//
// See NewWithConfig for the format of the configuration string.
var DefaultConfig string

// ConfigEnvVar is the environment variable with the default backend configuration to use.
//
// The format of config is "<backend_name>:<backend_configuration>", see NewWithConfig.
const ConfigEnvVar = "OPGRAPH_BACKEND"

// New returns a new default Backend.
//
// The default is:
//
// 1. The environment variable ConfigEnvVar is used as a configuration if defined.
// 2. Next the variable DefaultConfig is used as a configuration if defined.
// 3. The first registered backend is used with an empty configuration.
func New() (Backend, error) {
	if config, found := os.LookupEnv(ConfigEnvVar); found {
		return NewWithConfig(config)
	}
	return NewWithConfig(DefaultConfig)
}

// NewWithConfig creates a backend from a configuration formatted as "<backend_name>:<backend_configuration>".
//
// The "<backend_name>" is the name of a registered backend (e.g.: "interpreter") and "<backend_configuration>"
// is backend specific (e.g.: "parallel,strict_stubs" for the interpreter). A configuration without ":" is
// passed as is to the first registered backend.
func NewWithConfig(config string) (Backend, error) {
	muRegistry.Lock()
	if len(registeredConstructors) == 0 {
		muRegistry.Unlock()
		return nil, errors.New(`no registered backends -- maybe import the interpreter with ` +
			`import _ "github.com/gomlx/opgraph/backends/interpreter"?`)
	}
	backendName := firstRegistered
	backendConfig := config
	if idx := strings.Index(config, ":"); idx != -1 {
		backendName = config[:idx]
		backendConfig = config[idx+1:]
	}
	constructor, found := registeredConstructors[backendName]
	muRegistry.Unlock()
	if !found {
		return nil, errors.Errorf("can't find backend %q for configuration %q, registered backends are %q",
			backendName, config, List())
	}
	backend, err := constructor(backendConfig)
	if err != nil {
		return nil, errors.WithMessagef(err, "backend %q", backendName)
	}
	return backend, nil
}
