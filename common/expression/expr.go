package expression

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
)

// ExprEngine is an implementation of the expr-lang an expression engine.
// Compiled programs are kept for the lifetime of the engine.
type ExprEngine struct {
	programs sync.Map
}

// Eval runs a boolean expression over vars.
// The expression sees only vars; a leading "=" is ignored.
// A compilation failure is wrapped in ErrWorkflowFatal, as retrying cannot fix it.
func (e *ExprEngine) Eval(ctx context.Context, exp string, vars map[string]any) (any, error) {
	exp = normalise(exp)
	if len(exp) == 0 {
		return nil, nil
	}
	prog, err := e.compile(exp)
	if err != nil {
		return nil, fmt.Errorf("compile expression: %w", &errors2.ErrWorkflowFatal{Err: err})
	}
	res, err := expr.Run(prog, vars)
	if err != nil {
		return nil, fmt.Errorf("evaluate expression: %w", err)
	}
	return res, nil
}

// Check compiles an expression and reports whether it is well formed.
func (e *ExprEngine) Check(_ context.Context, exp string) error {
	exp = normalise(exp)
	if len(exp) == 0 {
		return fmt.Errorf("empty expression")
	}
	if _, err := e.compile(exp); err != nil {
		return fmt.Errorf("compile expression: %w", err)
	}
	return nil
}

func (e *ExprEngine) compile(exp string) (*vm.Program, error) {
	if p, ok := e.programs.Load(exp); ok {
		return p.(*vm.Program), nil
	}
	p, err := expr.Compile(exp, expr.AsBool(), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, err
	}
	e.programs.Store(exp, p)
	return p, nil
}

// GetVariables parses the expression and collects every identifier it refers to.
func (e *ExprEngine) GetVariables(_ context.Context, exp string) ([]Variable, error) {
	exp = normalise(exp)
	if len(exp) == 0 {
		return nil, nil
	}
	c, err := parser.Parse(exp)
	if err != nil {
		return nil, fmt.Errorf("get variables failed to parse expression %w", err)
	}

	g := &exprVariableWalker{v: make([]Variable, 0)}
	ast.Walk(&c.Node, g)
	return g.v, nil
}

func normalise(exp string) string {
	return strings.TrimPrefix(strings.TrimSpace(exp), "=")
}

type exprVariableWalker struct {
	v []Variable
}

// Visit is called from the visitor to iterate all IdentifierNode types
func (w *exprVariableWalker) Visit(n *ast.Node) {
	switch t := (*n).(type) {
	case *ast.IdentifierNode:
		w.v = append(w.v, Variable{Name: t.Value})
	}
}
