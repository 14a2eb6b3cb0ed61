// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"strings"

	"github.com/pkg/errors"
)

// ConfigEnvVar is the environment variable with the configuration of the Default interpreter.
// See ParseOptions for its format.
const ConfigEnvVar = "OPGRAPH_INTERPRETER"

// Options of the Interpreter.
type Options struct {
	// StrictStubs makes the evaluation of stub operators (see IsStub) fail with ErrStubOperator, instead of
	// zero-filling their outputs.
	StrictStubs bool

	// WidenIndexTypes makes kernels with an index input accept any integer type for it, converting its values to
	// int64 (with a logged warning), instead of failing with ErrUnsupportedIndexType.
	WidenIndexTypes bool

	// Parallel makes the Executor evaluate independent nodes concurrently.
	Parallel bool
}

// ParseOptions parses a comma-separated list of options: "strict_stubs", "widen_index_types" and "parallel".
// Empty entries are ignored.
func ParseOptions(config string) (Options, error) {
	var opts Options
	for _, part := range strings.Split(config, ",") {
		part = strings.TrimSpace(part)
		switch part {
		case "":
		case "strict_stubs":
			opts.StrictStubs = true
		case "widen_index_types":
			opts.WidenIndexTypes = true
		case "parallel":
			opts.Parallel = true
		default:
			return Options{}, errors.Errorf("unknown configuration option %q for the interpreter", part)
		}
	}
	return opts, nil
}

// String returns the configuration string of the options, the inverse of ParseOptions.
func (o Options) String() string {
	var parts []string
	if o.StrictStubs {
		parts = append(parts, "strict_stubs")
	}
	if o.WidenIndexTypes {
		parts = append(parts, "widen_index_types")
	}
	if o.Parallel {
		parts = append(parts, "parallel")
	}
	return strings.Join(parts, ",")
}
