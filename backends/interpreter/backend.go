// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package interpreter

import (
	"fmt"

	"github.com/gomlx/opgraph/backends"
	"github.com/gomlx/opgraph/pkg/core/opsets"
)

// BackendName is the name of the interpreter in the backends registry. Its configuration is parsed by ParseOptions.
const BackendName = "interpreter"

func init() {
	backends.Register(BackendName, func(config string) (backends.Backend, error) {
		interp, err := New(config)
		if err != nil {
			return nil, err
		}
		return interp, nil
	})
}

var _ backends.Backend = (*Interpreter)(nil)

// Name implements backends.Backend.
func (interp *Interpreter) Name() string { return BackendName }

// Description implements backends.Backend.
func (interp *Interpreter) Description() string {
	return fmt.Sprintf("Pure Go reference interpreter (options %q)", interp.opts)
}

// HasEvaluator implements backends.Backend. See the package function HasEvaluator.
func (interp *Interpreter) HasEvaluator(opType opsets.OpType) bool { return HasEvaluator(opType) }
