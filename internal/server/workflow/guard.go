package workflow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sync"
	"unicode/utf8"

	"gitlab.com/circuit-breaker/engine/common/expression"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
)

// guardResult is the outcome of evaluating the conditions of an activity.
type guardResult struct {
	failures []string
	warnings []string
	err      error
}

func (g *guardResult) passed() bool {
	return g.err == nil && len(g.failures) == 0
}

var patterns sync.Map

// evaluateGuard evaluates every condition of an activity within the guard timeout.
// Soft conditions that fail or cannot be evaluated only produce warnings.
func (e *Engine) evaluateGuard(ctx context.Context, act *model.Activity, env model.GuardEnv) (*guardResult, error) {
	if len(act.Conditions) == 0 {
		return &guardResult{}, nil
	}
	gctx, cancel := context.WithTimeout(ctx, e.guardTimeout)
	defer cancel()

	done := make(chan *guardResult, 1)
	go func() {
		res := &guardResult{}
		defer func() {
			if r := recover(); r != nil {
				res.err = fmt.Errorf("guard panicked: %v", r)
			}
			done <- res
		}()
		for _, c := range act.Conditions {
			ok, err := e.evaluateCondition(gctx, c, env)
			if gctx.Err() != nil {
				res.err = gctx.Err()
				return
			}
			if err != nil {
				if c.Soft {
					res.warnings = append(res.warnings, fmt.Sprintf("%s: %s", c.Name(), err))
					continue
				}
				res.err = fmt.Errorf("condition %s: %w", c.Name(), err)
				return
			}
			if ok {
				continue
			}
			msg := c.Message
			if msg == "" {
				msg = c.Name()
			}
			if c.Soft {
				res.warnings = append(res.warnings, msg)
			} else {
				res.failures = append(res.failures, msg)
			}
		}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(res.err, context.DeadlineExceeded) {
			return nil, guardTimeout(act)
		}
		return res, nil
	case <-gctx.Done():
		if ctx.Err() != nil {
			return nil, fmt.Errorf("evaluate guard: %w", ctx.Err())
		}
		return nil, guardTimeout(act)
	}
}

func guardTimeout(act *model.Activity) error {
	return &errors2.StateTransitionError{
		Code:       errors2.CodeGuardTimeout,
		ActivityID: act.ID,
		Message:    "guard evaluation timed out",
	}
}

func (e *Engine) evaluateCondition(ctx context.Context, c model.Condition, env model.GuardEnv) (bool, error) {
	switch c.Kind {
	case model.ConditionEquals:
		v, ok := env.Lookup(c.Field)
		return ok && model.ValuesEqual(v, c.Value), nil
	case model.ConditionNotEquals:
		v, ok := env.Lookup(c.Field)
		return !ok || !model.ValuesEqual(v, c.Value), nil
	case model.ConditionExists:
		v, ok := env.Lookup(c.Field)
		return ok && v != nil, nil
	case model.ConditionCompare:
		v, ok := env.Lookup(c.Field)
		if !ok {
			return false, nil
		}
		f, ok := model.ToFloat(v)
		if !ok {
			return false, nil
		}
		return compare(f, c.Op, c.Value)
	case model.ConditionLength:
		v, ok := env.Lookup(c.Field)
		if !ok {
			return false, nil
		}
		n, ok := length(v)
		if !ok {
			return false, nil
		}
		return compare(float64(n), c.Op, c.Value)
	case model.ConditionMatches:
		v, ok := env.Lookup(c.Field)
		if !ok {
			return false, nil
		}
		s, ok := v.(string)
		if !ok {
			return false, nil
		}
		re, err := pattern(c.Pattern)
		if err != nil {
			return false, err
		}
		return re.MatchString(s), nil
	case model.ConditionExpression:
		return expression.Eval[bool](ctx, e.expr, c.Expression, env.Map())
	case model.ConditionCustom:
		fn, ok := e.function(c.Function)
		if !ok {
			return false, fmt.Errorf("custom condition function %q is not registered", c.Function)
		}
		return fn(ctx, env, c)
	}
	return false, fmt.Errorf("unknown condition kind %q", c.Kind)
}

func compare(v float64, op model.CompareOp, want any) (bool, error) {
	w, ok := model.ToFloat(want)
	if !ok {
		return false, fmt.Errorf("comparison value %v is not a number", want)
	}
	switch op {
	case model.OpGreaterThan:
		return v > w, nil
	case model.OpGreaterOrEqual:
		return v >= w, nil
	case model.OpLessThan:
		return v < w, nil
	case model.OpLessOrEqual:
		return v <= w, nil
	case model.OpEqual:
		return v == w, nil
	case model.OpNotEqual:
		return v != w, nil
	}
	return false, fmt.Errorf("unknown operator %q", op)
}

func length(v any) (int, bool) {
	switch t := v.(type) {
	case string:
		return utf8.RuneCountInString(t), true
	case []any:
		return len(t), true
	case map[string]any:
		return len(t), true
	case model.Vars:
		return len(t), true
	case nil:
		return 0, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return rv.Len(), true
	}
	return 0, false
}

func pattern(p string) (*regexp.Regexp, error) {
	if re, ok := patterns.Load(p); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("compile pattern: %w", err)
	}
	patterns.Store(p, re)
	return re, nil
}
