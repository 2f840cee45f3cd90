package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/pipewright/pipewright/pkg/flow"
)

var validate = validator.New()

// Load reads and validates a configuration file. Defaults apply first, so a
// partial file only overrides what it names.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration structurally and semantically.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("invalid telemetry configuration: %w", err)
	}
	return nil
}

// exprPrefix marks a topology parameter value as a Starlark expression to be
// evaluated against the config vars.
const exprPrefix = "="

// LoadTopology reads a topology file, validates it against the topology
// schema and resolves Starlark parameter expressions. vars is the config
// Vars map, exposed to expressions as `vars`.
func LoadTopology(ctx context.Context, path string, vars map[string]any) (*flow.Topology, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read topology file: %w", err)
	}
	return ParseTopology(ctx, data, vars)
}

// ParseTopology parses, schema-validates and expression-resolves a YAML
// topology document.
func ParseTopology(ctx context.Context, data []byte, vars map[string]any) (*flow.Topology, error) {
	var topology flow.Topology
	if err := yaml.Unmarshal(data, &topology); err != nil {
		return nil, fmt.Errorf("failed to parse topology: %w", err)
	}

	if err := DefaultSchemas().ValidateTopology(ctx, &topology); err != nil {
		return nil, err
	}

	if err := resolveParameterExprs(ctx, &topology, vars); err != nil {
		return nil, err
	}

	if err := validate.Struct(&topology); err != nil {
		return nil, fmt.Errorf("invalid topology: %w", err)
	}
	return &topology, nil
}

// resolveParameterExprs evaluates "="-prefixed parameter values as Starlark
// expressions with the config vars in scope.
func resolveParameterExprs(ctx context.Context, topology *flow.Topology, vars map[string]any) error {
	evaluator := NewExprEvaluator(0)
	for i := range topology.Parameters.Parameters {
		param := &topology.Parameters.Parameters[i]
		expr, ok := strings.CutPrefix(param.Value, exprPrefix)
		if !ok {
			continue
		}
		value, err := evaluator.EvalString(ctx, expr, map[string]any{"vars": vars})
		if err != nil {
			return fmt.Errorf("parameter %s: %w", param.Name, err)
		}
		param.Value = value
	}
	return nil
}
