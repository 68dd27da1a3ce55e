// Package validation checks workflow definitions before they are stored.  It is shared by the server and the client.
package validation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"gitlab.com/circuit-breaker/engine/common/expression"
	"gitlab.com/circuit-breaker/engine/model"
	errors2 "gitlab.com/circuit-breaker/engine/server/errors"
)

var tokenRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("token", func(fl validator.FieldLevel) bool {
		return ValidToken(fl.Field().String())
	}); err != nil {
		panic(err)
	}
	return v
}

// ValidToken returns true if s may be used as a workflow ID or place name.
// Tokens become NATS subject and stream name components.
func ValidToken(s string) bool {
	return tokenRe.MatchString(s)
}

// Options supply the checks that depend on the running engine.
type Options struct {
	// Expressions compiles expression conditions.  Defaults to the expr engine.
	Expressions expression.Engine
	// FunctionRegistered reports whether a custom condition function exists.  Nil accepts any name.
	FunctionRegistered func(name string) bool
}

// ValidateWorkflow checks the structure and the graph of a workflow definition.
// The first problem found is returned as a *errors.ValidationError.
func ValidateWorkflow(ctx context.Context, wf *model.WorkflowDefinition, opts Options) error {
	if wf == nil {
		return errors2.NewValidation(errors2.CodeInvalidDefinition, "", "workflow definition is missing")
	}
	if err := validate.Struct(wf); err != nil {
		return structError(err)
	}

	places := make(map[string]struct{}, len(wf.Places))
	for _, p := range wf.Places {
		if _, ok := places[p]; ok {
			return errors2.NewValidation(errors2.CodeDuplicatePlace, "places", "place %q is declared more than once", p)
		}
		places[p] = struct{}{}
	}
	if _, ok := places[wf.InitialPlace]; !ok {
		return errors2.NewValidation(errors2.CodeNoInitialPlace, "initial_place", "initial place %q is not a declared place", wf.InitialPlace)
	}

	activities := make(map[string]struct{}, len(wf.Activities))
	for i, a := range wf.Activities {
		if _, ok := activities[a.ID]; ok {
			return errors2.NewValidation(errors2.CodeDuplicateActivity, fmt.Sprintf("activities[%d].id", i), "activity %q is declared more than once", a.ID)
		}
		activities[a.ID] = struct{}{}
		for _, from := range a.FromPlaces {
			if _, ok := places[from]; !ok {
				return errors2.NewValidation(errors2.CodeUnknownPlace, fmt.Sprintf("activities[%d].from_places", i), "activity %q starts from undeclared place %q", a.ID, from)
			}
		}
		if _, ok := places[a.ToPlace]; !ok {
			return errors2.NewValidation(errors2.CodeUnknownPlace, fmt.Sprintf("activities[%d].to_place", i), "activity %q targets undeclared place %q", a.ID, a.ToPlace)
		}
		for j, c := range a.Conditions {
			if err := ValidateCondition(ctx, c, opts); err != nil {
				return errors2.NewValidation(errors2.CodeInvalidCondition, fmt.Sprintf("activities[%d].conditions[%d]", i, j), "activity %q: %s", a.ID, err)
			}
		}
	}
	if len(wf.DataSchema) > 0 {
		if err := CheckSchema(wf.DataSchema); err != nil {
			return err
		}
	}
	return nil
}

// ValidateCondition checks that a condition can be evaluated.
func ValidateCondition(ctx context.Context, c model.Condition, opts Options) error {
	switch c.Kind {
	case model.ConditionEquals, model.ConditionNotEquals, model.ConditionExists:
		if c.Field == "" {
			return fmt.Errorf("%s condition has no field", c.Kind)
		}
	case model.ConditionCompare, model.ConditionLength:
		if c.Field == "" {
			return fmt.Errorf("%s condition has no field", c.Kind)
		}
		if c.Op == "" {
			return fmt.Errorf("%s condition has no operator", c.Kind)
		}
		if _, ok := model.ToFloat(c.Value); !ok {
			return fmt.Errorf("%s condition value %v is not a number", c.Kind, c.Value)
		}
	case model.ConditionMatches:
		if c.Field == "" {
			return errors.New("matches condition has no field")
		}
		if _, err := regexp.Compile(c.Pattern); err != nil {
			return fmt.Errorf("pattern does not compile: %w", err)
		}
	case model.ConditionExpression:
		eng := opts.Expressions
		if eng == nil {
			eng = &expression.ExprEngine{}
		}
		if err := eng.Check(ctx, c.Expression); err != nil {
			return fmt.Errorf("expression %q: %w", c.Expression, err)
		}
	case model.ConditionCustom:
		if c.Function == "" {
			return errors.New("custom condition has no function")
		}
		if opts.FunctionRegistered != nil && !opts.FunctionRegistered(c.Function) {
			return fmt.Errorf("custom function %q is not registered", c.Function)
		}
	default:
		return fmt.Errorf("unknown condition kind %q", c.Kind)
	}
	return nil
}

func structError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return errors2.NewValidation(errors2.CodeInvalidDefinition, "", "%s", err)
	}
	fe := ve[0]
	field := strings.TrimPrefix(fe.Namespace(), "WorkflowDefinition.")
	code := errors2.CodeInvalidDefinition
	if fe.StructField() == "InitialPlace" {
		code = errors2.CodeNoInitialPlace
	}
	return errors2.NewValidation(code, field, "failed the %q rule", fe.Tag())
}
