package config

import (
	"context"
	"strings"
	"testing"
)

func TestExprEvaluatorScalars(t *testing.T) {
	evaluator := NewExprEvaluator(0)
	vars := map[string]any{
		"vars": map[string]any{
			"env":      "staging",
			"replicas": int64(3),
		},
	}

	tests := []struct {
		expr string
		want string
	}{
		{`vars['env'] + "-slot"`, "staging-slot"},
		{`str(vars['replicas'] * 10)`, "30"},
		{`"primary" if vars['replicas'] > 1 else "single"`, "primary"},
	}

	for _, tt := range tests {
		got, err := evaluator.EvalString(context.Background(), tt.expr, vars)
		if err != nil {
			t.Errorf("EvalString(%q) failed: %v", tt.expr, err)
			continue
		}
		if got != tt.want {
			t.Errorf("EvalString(%q) = %q, want %q", tt.expr, got, tt.want)
		}
	}
}

func TestExprEvaluatorRejectsNonScalarResult(t *testing.T) {
	evaluator := NewExprEvaluator(0)

	_, err := evaluator.EvalString(context.Background(), `[1, 2, 3]`, nil)
	if err == nil {
		t.Fatal("expected an error for a non-scalar result")
	}
	if !strings.Contains(err.Error(), "scalar") {
		t.Errorf("error %q does not mention the scalar requirement", err)
	}
}

func TestExprEvaluatorSurfacesSyntaxErrors(t *testing.T) {
	evaluator := NewExprEvaluator(0)

	_, err := evaluator.Eval(context.Background(), `1 +`, nil)
	if err == nil {
		t.Fatal("expected a syntax error, got nil")
	}
}
