package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"
)

// Vars is a map of structured values carried by a resource as data or metadata.
type Vars map[string]any

// ErrVarNotFound is returned when a variable is not found in the provided Vars map.
var ErrVarNotFound = errors.New("variable not found")

// NewVars creates and returns a new, empty Vars.
func NewVars() Vars {
	return make(Vars)
}

// Clone returns a deep copy of vars.
func (vars Vars) Clone() Vars {
	ret := make(Vars, len(vars))
	for k, v := range vars {
		ret[k] = cloneValue(v)
	}
	return ret
}

// Merge returns a copy of vars with patch applied on top.
// A nil value in the patch removes the key.
func (vars Vars) Merge(patch Vars) Vars {
	ret := vars.Clone()
	for k, v := range patch {
		if v == nil {
			delete(ret, k)
			continue
		}
		ret[k] = cloneValue(v)
	}
	return ret
}

// Lookup resolves a dotted path through nested maps and lists.
func (vars Vars) Lookup(path string) (any, bool) {
	if path == "" {
		return map[string]any(vars), true
	}
	var cur any = map[string]any(vars)
	for _, seg := range strings.Split(path, ".") {
		switch c := cur.(type) {
		case map[string]any:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case Vars:
			v, ok := c[seg]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			i, err := strconv.Atoi(seg)
			if err != nil || i < 0 || i >= len(c) {
				return nil, false
			}
			cur = c[i]
		default:
			return nil, false
		}
	}
	return cur, true
}

// Matches returns true if every key in want has an equal value in vars.
// Keys in want may be dotted paths.
func (vars Vars) Matches(want Vars) bool {
	for k, w := range want {
		v, ok := vars.Lookup(k)
		if !ok || !ValuesEqual(v, w) {
			return false
		}
	}
	return true
}

// GetString returns the string stored at key.
func (vars Vars) GetString(key string) (string, error) {
	v, ok := vars[key]
	if !ok || v == nil {
		return "", fmt.Errorf("var %s not present: %w", key, ErrVarNotFound)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("var %s is %s not string: %w", key, reflect.TypeOf(v).Name(), ErrVarNotFound)
	}
	return s, nil
}

// GetInt64 returns the integer stored at key.
func (vars Vars) GetInt64(key string) (int64, error) {
	v, ok := vars[key]
	if !ok {
		return 0, fmt.Errorf("var %s not present: %w", key, ErrVarNotFound)
	}
	f, ok := ToFloat(v)
	if !ok || f != math.Trunc(f) {
		return 0, fmt.Errorf("var %s is %T not int64: %w", key, v, ErrVarNotFound)
	}
	return int64(f), nil
}

// GetFloat64 returns the number stored at key.
func (vars Vars) GetFloat64(key string) (float64, error) {
	v, ok := vars[key]
	if !ok {
		return 0, fmt.Errorf("var %s not present: %w", key, ErrVarNotFound)
	}
	f, ok := ToFloat(v)
	if !ok {
		return 0, fmt.Errorf("var %s is %T not float64: %w", key, v, ErrVarNotFound)
	}
	return f, nil
}

// GetBool returns the boolean stored at key.
func (vars Vars) GetBool(key string) (bool, error) {
	v, ok := vars[key]
	if !ok {
		return false, fmt.Errorf("var %s not present: %w", key, ErrVarNotFound)
	}
	b, ok := v.(bool)
	if !ok {
		return false, fmt.Errorf("var %s is %T not bool: %w", key, v, ErrVarNotFound)
	}
	return b, nil
}

// GetStruct unmarshals a value into a struct.
func GetStruct[T any](vars Vars, key string) (*T, error) {
	t := new(T)
	k, ok := vars[key]
	if !ok {
		return t, fmt.Errorf("var %s found nil: %w", key, ErrVarNotFound)
	}
	b, err := json.Marshal(k)
	if err != nil {
		return nil, fmt.Errorf("marshal json %s: %w", key, err)
	}
	if err := json.Unmarshal(b, t); err != nil {
		return nil, fmt.Errorf("unmarshal json %s: %w", key, err)
	}
	return t, nil
}

// SetStruct marshals a struct into a plain map value.
func SetStruct[T any](vars Vars, key string, t *T) error {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("marshal struct json %s: %w", key, err)
	}
	mp := make(map[string]any)
	if err := json.Unmarshal(b, &mp); err != nil {
		return fmt.Errorf("unmarshal struct json %s: %w", key, err)
	}
	vars[key] = mp
	return nil
}

// ToFloat converts any Go or decoded numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// ValuesEqual compares two decoded values, treating all numeric kinds as equal when their values are.
func ValuesEqual(a, b any) bool {
	if fa, ok := ToFloat(a); ok {
		fb, ok := ToFloat(b)
		return ok && fa == fb
	}
	switch av := a.(type) {
	case map[string]any:
		bv, ok := asMap(b)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !ValuesEqual(v, bv[k]) {
				return false
			}
		}
		return true
	case Vars:
		return ValuesEqual(map[string]any(av), b)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Vars:
		return m, true
	}
	return nil, false
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return map[string]any(Vars(t).Clone())
	case Vars:
		return map[string]any(t.Clone())
	case []any:
		ret := make([]any, len(t))
		for i := range t {
			ret[i] = cloneValue(t[i])
		}
		return ret
	default:
		return v
	}
}
