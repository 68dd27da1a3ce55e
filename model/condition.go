package model

// ConditionKind selects how a guard condition is evaluated.
type ConditionKind string

const (
	ConditionEquals     ConditionKind = "equals"     // ConditionEquals passes when the field equals Value.
	ConditionNotEquals  ConditionKind = "not_equals" // ConditionNotEquals passes when the field is absent or differs from Value.
	ConditionCompare    ConditionKind = "compare"    // ConditionCompare compares a numeric field with Value using Op.
	ConditionLength     ConditionKind = "length"     // ConditionLength compares the length of a string, list or map field with Value using Op.
	ConditionMatches    ConditionKind = "matches"    // ConditionMatches passes when a string field matches Pattern.
	ConditionExists     ConditionKind = "exists"     // ConditionExists passes when the field is present and not nil.
	ConditionExpression ConditionKind = "expression" // ConditionExpression evaluates a boolean expression over the guard environment.
	ConditionCustom     ConditionKind = "custom"     // ConditionCustom calls a function registered with the engine by name.
)

// CompareOp is a comparison operator used by compare and length conditions.
type CompareOp string

const (
	OpGreaterThan    CompareOp = "gt"
	OpGreaterOrEqual CompareOp = "gte"
	OpLessThan       CompareOp = "lt"
	OpLessOrEqual    CompareOp = "lte"
	OpEqual          CompareOp = "eq"
	OpNotEqual       CompareOp = "ne"
)

// Condition is a guard predicate evaluated against resource data and metadata.
//
// Field paths are dotted. A "data.", "metadata." or "input." prefix selects a scope,
// and an unprefixed path reads resource data overlaid by the activity input.
type Condition struct {
	ID         string        `json:"id,omitempty"`
	Kind       ConditionKind `json:"kind" validate:"required,oneof=equals not_equals compare length matches exists expression custom"`
	Field      string        `json:"field,omitempty"`
	Op         CompareOp     `json:"op,omitempty" validate:"omitempty,oneof=gt gte lt lte eq ne"`
	Value      any           `json:"value,omitempty"`
	Pattern    string        `json:"pattern,omitempty"`
	Expression string        `json:"expression,omitempty"`
	Function   string        `json:"function,omitempty"`
	// Soft conditions produce a warning instead of rejecting the transition.
	Soft    bool   `json:"soft,omitempty"`
	Message string `json:"message,omitempty"`
}

// Name returns a human readable identifier for the condition.
func (c Condition) Name() string {
	switch {
	case c.ID != "":
		return c.ID
	case c.Kind == ConditionExpression:
		return c.Expression
	case c.Kind == ConditionCustom:
		return c.Function
	default:
		return string(c.Kind) + "(" + c.Field + ")"
	}
}

// GuardEnv is the evaluation environment presented to guard conditions.
type GuardEnv struct {
	Data     Vars   `json:"data"`
	Metadata Vars   `json:"metadata"`
	Input    Vars   `json:"input"`
	Merged   Vars   `json:"-"`
	Place    string `json:"place"`
}

// NewGuardEnv builds a guard environment where Merged is data overlaid by input.
func NewGuardEnv(place string, data, metadata, input Vars) GuardEnv {
	return GuardEnv{
		Data:     data.Clone(),
		Metadata: metadata.Clone(),
		Input:    input.Clone(),
		Merged:   data.Merge(input),
		Place:    place,
	}
}

// Map returns the environment as a map suitable for expression evaluation.
// Merged fields are available at the top level.
func (e GuardEnv) Map() map[string]any {
	ret := make(map[string]any, len(e.Merged)+4)
	for k, v := range e.Merged {
		ret[k] = v
	}
	ret["data"] = map[string]any(e.Merged)
	ret["metadata"] = map[string]any(e.Metadata)
	ret["input"] = map[string]any(e.Input)
	ret["place"] = e.Place
	return ret
}

// Lookup resolves a field path within the environment.
func (e GuardEnv) Lookup(path string) (any, bool) {
	scope, rest := splitScope(path)
	switch scope {
	case "data":
		return e.Merged.Lookup(rest)
	case "metadata":
		return e.Metadata.Lookup(rest)
	case "input":
		return e.Input.Lookup(rest)
	default:
		return e.Merged.Lookup(path)
	}
}

func splitScope(path string) (string, string) {
	for _, s := range []string{"data", "metadata", "input"} {
		if len(path) > len(s) && path[:len(s)] == s && path[len(s)] == '.' {
			return s, path[len(s)+1:]
		}
	}
	return "", path
}
