// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package passes

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/gomlx/opgraph/pkg/support/fsutil"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrorPolicy defines what the Manager does when a pass fails to rewrite a node.
type ErrorPolicy string

const (
	// AbortOnError stops the run and returns the error. The graph keeps the rewrites done so far.
	AbortOnError ErrorPolicy = "abort"

	// SkipOnError logs the error and leaves the node untouched, continuing with the next node.
	SkipOnError ErrorPolicy = "skip"
)

// PassConfig selects one registered pass.
type PassConfig struct {
	Name string `yaml:"name" validate:"required"`
}

// Config of a pass pipeline, usually read from a YAML file.
type Config struct {
	// Passes to run, in order.
	Passes []PassConfig `yaml:"passes" validate:"required,min=1,dive"`

	// OnError policy, defaults to AbortOnError.
	OnError ErrorPolicy `yaml:"on_error" validate:"omitempty,oneof=abort skip"`

	// Provenance, if set, enables or disables provenance tags on the graphs before running the passes.
	Provenance *bool `yaml:"provenance"`
}

var validate = validator.New()

// ErrConfigNotFound is returned by LoadConfig when the configuration file doesn't exist.
var ErrConfigNotFound = errors.New("passes configuration file not found")

// ParseConfig parses and validates a YAML pipeline configuration.
func ParseConfig(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "parsing passes configuration")
	}
	if err := validate.Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "invalid passes configuration")
	}
	if cfg.OnError == "" {
		cfg.OnError = AbortOnError
	}
	return cfg, nil
}

// LoadConfig reads and validates a YAML pipeline configuration file. A leading "~" in path is replaced by the
// home directory.
func LoadConfig(path string) (*Config, error) {
	path, err := fsutil.ReplaceTildeInDir(path)
	if err != nil {
		return nil, err
	}
	if exists, err := fsutil.FileExists(path); err != nil {
		return nil, err
	} else if !exists {
		return nil, errors.Wrapf(ErrConfigNotFound, "%q", path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading passes configuration %q", path)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, errors.WithMessagef(err, "configuration file %q", path)
	}
	return cfg, nil
}
