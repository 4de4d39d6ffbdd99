package ot

import (
	"fmt"
	"math"
	"sort"
)

// Values carried by ops (embed payloads, attribute values, property
// values) are restricted to plain JSON-shaped data: nil, bool, string,
// float64, []any, and map[string]any. Freeze normalizes inputs into
// that shape with a deep copy, so a frozen value is never aliased by
// caller-held mutable state.

// Freeze deep-copies v into normalized data-value form, or returns a
// badValue error for anything that isn't plain data. Integer inputs are
// normalized to float64, matching their wire representation.
func Freeze(v any) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case bool, string:
		return x, nil
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return nil, BadValuef("non-finite number")
		}
		return x, nil
	case float32:
		return Freeze(float64(x))
	case int:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint:
		return float64(x), nil
	case []any:
		var out = make([]any, len(x))
		for i, e := range x {
			var f, err = Freeze(e)
			if err != nil {
				return nil, err
			}
			out[i] = f
		}
		return out, nil
	case map[string]any:
		var out = make(map[string]any, len(x))
		for k, e := range x {
			var f, err = Freeze(e)
			if err != nil {
				return nil, err
			}
			out[k] = f
		}
		return out, nil
	default:
		return nil, BadValuef("value of type %T is not plain data", v)
	}
}

// ValueEquals is structural equality over frozen data values.
func ValueEquals(a, b any) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case string:
		y, ok := b.(string)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !ValueEquals(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]any:
		y, ok := b.(map[string]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			w, ok := y[k]
			if !ok || !ValueEquals(v, w) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Attributes is a map of styling marks attached to body ops. A nil map
// means "no attributes". Inside a retain op, a nil-valued entry means
// "remove this mark"; inside an insert, nil-valued entries are elided.
type Attributes map[string]any

// FreezeAttributes normalizes and deep-copies an attribute map.
// Empty maps normalize to nil.
func FreezeAttributes(a Attributes) (Attributes, error) {
	if len(a) == 0 {
		return nil, nil
	}
	var out = make(Attributes, len(a))
	for k, v := range a {
		if k == "" {
			return nil, BadValuef("empty attribute name")
		}
		var f, err = Freeze(v)
		if err != nil {
			return nil, fmt.Errorf("attribute %q: %w", k, err)
		}
		out[k] = f
	}
	return out, nil
}

// Equals is structural equality of attribute maps; nil equals empty.
func (a Attributes) Equals(b Attributes) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		w, ok := b[k]
		if !ok || !ValueEquals(v, w) {
			return false
		}
	}
	return true
}

// Names returns the attribute names in sorted order.
func (a Attributes) Names() []string {
	var names = make([]string, 0, len(a))
	for k := range a {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// composeAttributes layers b over a, as when op b follows op a.
// When keepNil is false, nil-valued results (mark removals) are elided,
// which is the insert-op form.
func composeAttributes(a, b Attributes, keepNil bool) Attributes {
	var out = make(Attributes, len(a)+len(b))
	for k, v := range a {
		out[k] = v
	}
	for k, v := range b {
		out[k] = v
	}
	if !keepNil {
		for k, v := range out {
			if v == nil {
				delete(out, k)
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// transformAttributes rebases target's attributes against base's.
// When targetWins is false, target entries whose names collide with
// base entries are dropped.
func transformAttributes(base, target Attributes, targetWins bool) Attributes {
	if targetWins || len(base) == 0 {
		return target
	}
	var out Attributes
	for k, v := range target {
		if _, ok := base[k]; ok {
			continue
		}
		if out == nil {
			out = make(Attributes)
		}
		out[k] = v
	}
	return out
}

// diffAttributes yields the attribute map which, layered over a,
// produces b. Removed marks appear as nil entries.
func diffAttributes(a, b Attributes) Attributes {
	var out Attributes
	for k, v := range b {
		if w, ok := a[k]; !ok || !ValueEquals(v, w) {
			if out == nil {
				out = make(Attributes)
			}
			out[k] = v
		}
	}
	for k := range a {
		if _, ok := b[k]; !ok {
			if out == nil {
				out = make(Attributes)
			}
			out[k] = nil
		}
	}
	return out
}
