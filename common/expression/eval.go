package expression

import (
	"context"
	"fmt"

	"gitlab.com/circuit-breaker/engine/common/logx"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
)

// Variable is an identifier referenced by an expression.
type Variable struct {
	Name string
}

// Engine compiles and runs guard expressions.
type Engine interface {
	// Eval runs an expression against the guard environment.
	Eval(ctx context.Context, expr string, vars map[string]any) (any, error)
	// Check compiles an expression without running it.
	Check(ctx context.Context, expr string) error
	// GetVariables lists the identifiers an expression refers to.
	GetVariables(ctx context.Context, expr string) ([]Variable, error)
}

// Eval runs an expression and asserts its result is a T.
// A panic inside the engine is returned as a fatal error rather than crashing the caller.
func Eval[T any](ctx context.Context, eng Engine, exp string, vars map[string]any) (retval T, reterr error) { //nolint:ireturn
	defer func() {
		if r := recover(); r != nil {
			retval = *new(T)
			reterr = logx.Err(ctx, "panic: evaluate expression", &errors2.ErrWorkflowFatal{Err: fmt.Errorf("%v", r)}, "expression", exp)
		}
	}()
	res, err := eng.Eval(ctx, exp, vars)
	if err != nil {
		return *new(T), fmt.Errorf("evaluate expression: %w", err)
	}
	ret, ok := res.(T)
	if !ok {
		return *new(T), fmt.Errorf("expression %q returned %T, wanted %T", exp, res, *new(T))
	}
	return ret, nil
}

// GetVariables lists the identifiers an expression refers to.
func GetVariables(ctx context.Context, eng Engine, exp string) ([]Variable, error) {
	res, err := eng.GetVariables(ctx, exp)
	if err != nil {
		return nil, fmt.Errorf("get expression variables: %w", err)
	}
	return res, nil
}
