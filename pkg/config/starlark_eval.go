package config

import (
	"context"
	"fmt"
	"time"

	"go.starlark.net/starlark"
)

// ExprEvaluator executes single Starlark expressions with a bounded runtime.
// It backs computed parameter values in topology files.
type ExprEvaluator struct {
	timeout time.Duration
}

// NewExprEvaluator creates an evaluator. A zero timeout applies the default
// of 10 seconds.
func NewExprEvaluator(timeout time.Duration) *ExprEvaluator {
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &ExprEvaluator{timeout: timeout}
}

// Eval evaluates one expression with the given variables in scope and
// returns the result as a Go value.
func (e *ExprEvaluator) Eval(ctx context.Context, expr string, vars map[string]any) (any, error) {
	evalCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)

	go func() {
		value, err := e.evalSync(expr, vars)
		done <- outcome{value, err}
	}()

	select {
	case <-evalCtx.Done():
		return nil, fmt.Errorf("expression evaluation timed out after %v", e.timeout)
	case out := <-done:
		return out.value, out.err
	}
}

// EvalString evaluates one expression and renders the result as a string,
// the form parameter values need.
func (e *ExprEvaluator) EvalString(ctx context.Context, expr string, vars map[string]any) (string, error) {
	value, err := e.Eval(ctx, expr, vars)
	if err != nil {
		return "", err
	}
	switch v := value.(type) {
	case string:
		return v, nil
	case bool:
		return fmt.Sprintf("%t", v), nil
	case int64:
		return fmt.Sprintf("%d", v), nil
	case float64:
		return fmt.Sprintf("%g", v), nil
	default:
		return "", fmt.Errorf("expression must yield a scalar, got %T", value)
	}
}

func (e *ExprEvaluator) evalSync(expr string, vars map[string]any) (any, error) {
	thread := &starlark.Thread{
		Name: "pipewright",
		Print: func(_ *starlark.Thread, _ string) {
			// print is suppressed: expressions compute values, not output
		},
	}

	predeclared := starlark.StringDict{}
	for key, val := range vars {
		starlarkVal, err := toStarlarkValue(val)
		if err != nil {
			return nil, fmt.Errorf("failed to convert variable %s: %w", key, err)
		}
		predeclared[key] = starlarkVal
	}

	result, err := starlark.Eval(thread, "expr.star", expr, predeclared)
	if err != nil {
		return nil, fmt.Errorf("expression evaluation failed: %w", err)
	}
	return fromStarlarkValue(result)
}

// toStarlarkValue converts a Go value to a Starlark value.
func toStarlarkValue(v any) (starlark.Value, error) {
	if v == nil {
		return starlark.None, nil
	}
	switch val := v.(type) {
	case bool:
		return starlark.Bool(val), nil
	case int:
		return starlark.MakeInt(val), nil
	case int64:
		return starlark.MakeInt64(val), nil
	case float64:
		return starlark.Float(val), nil
	case string:
		return starlark.String(val), nil
	case []any:
		list := make([]starlark.Value, len(val))
		for i, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			list[i] = converted
		}
		return starlark.NewList(list), nil
	case map[string]any:
		dict := starlark.NewDict(len(val))
		for k, item := range val {
			converted, err := toStarlarkValue(item)
			if err != nil {
				return nil, err
			}
			if err := dict.SetKey(starlark.String(k), converted); err != nil {
				return nil, err
			}
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported type: %T", v)
	}
}

// fromStarlarkValue converts a Starlark value to a Go value.
func fromStarlarkValue(v starlark.Value) (any, error) {
	switch val := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(val), nil
	case starlark.Int:
		i, ok := val.Int64()
		if !ok {
			return nil, fmt.Errorf("integer too large")
		}
		return i, nil
	case starlark.Float:
		return float64(val), nil
	case starlark.String:
		return string(val), nil
	case *starlark.List:
		list := make([]any, val.Len())
		for i := 0; i < val.Len(); i++ {
			item, err := fromStarlarkValue(val.Index(i))
			if err != nil {
				return nil, err
			}
			list[i] = item
		}
		return list, nil
	case *starlark.Dict:
		dict := make(map[string]any, val.Len())
		for _, item := range val.Items() {
			key, ok := item[0].(starlark.String)
			if !ok {
				return nil, fmt.Errorf("dict key must be a string")
			}
			value, err := fromStarlarkValue(item[1])
			if err != nil {
				return nil, err
			}
			dict[string(key)] = value
		}
		return dict, nil
	default:
		return nil, fmt.Errorf("unsupported starlark type: %s", v.Type())
	}
}
