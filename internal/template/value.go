// Package template holds the raw, format-agnostic representation of a
// topology template: ordered maps, lists and scalars.
//
// Every mapping in a loaded template is a *Map so that declaration order
// survives (node templates, requirements and imports are all order
// sensitive). Values handed in from elsewhere (expression results, decoded
// JSON) may be plain map[string]any; FromPlain normalizes them.
package template

import (
	"fmt"
	"math"
	"reflect"
	"sort"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Map is an insertion-ordered string-keyed mapping.
type Map = orderedmap.OrderedMap[string, any]

// NewMap returns an empty Map.
func NewMap() *Map {
	return orderedmap.New[string, any]()
}

// MapOf builds a Map from alternating key/value arguments.
// Handy for tests and for synthesizing small fragments.
func MapOf(kv ...any) *Map {
	if len(kv)%2 != 0 {
		panic("template.MapOf: odd number of arguments")
	}
	m := NewMap()
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			panic(fmt.Sprintf("template.MapOf: key %v is not a string", kv[i]))
		}
		m.Set(key, FromPlain(kv[i+1]))
	}
	return m
}

// Keys returns the keys of m in declaration order.
func Keys(m *Map) []string {
	if m == nil {
		return nil
	}
	keys := make([]string, 0, m.Len())
	for p := m.Oldest(); p != nil; p = p.Next() {
		keys = append(keys, p.Key)
	}
	return keys
}

// GetMap returns m[key] when it is a mapping.
func GetMap(m *Map, key string) (*Map, bool) {
	if m == nil {
		return nil, false
	}
	v, ok := m.Get(key)
	if !ok {
		return nil, false
	}
	sub, ok := v.(*Map)
	return sub, ok
}

// GetString returns m[key] when it is a string.
func GetString(m *Map, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m.Get(key)
	s, _ := v.(string)
	return s
}

// GetPath walks nested maps along path.
func GetPath(root *Map, path []string) (any, bool) {
	var cur any = root
	for _, key := range path {
		m, ok := cur.(*Map)
		if !ok || m == nil {
			return nil, false
		}
		cur, ok = m.Get(key)
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Copy returns a deep copy of v. Plain maps are normalized to *Map.
func Copy(v any) any {
	switch t := v.(type) {
	case *Map:
		if t == nil {
			return (*Map)(nil)
		}
		out := NewMap()
		for p := t.Oldest(); p != nil; p = p.Next() {
			out.Set(p.Key, Copy(p.Value))
		}
		return out
	case map[string]any:
		return FromPlain(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = Copy(item)
		}
		return out
	default:
		return v
	}
}

// CopyMap is Copy specialised to *Map.
func CopyMap(m *Map) *Map {
	if m == nil {
		return NewMap()
	}
	return Copy(m).(*Map)
}

// FromPlain converts plain Go maps (as produced by encoding/json or an
// expression engine) into *Map values. Keys of plain maps are sorted so the
// result is deterministic.
func FromPlain(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := NewMap()
		for _, k := range keys {
			out.Set(k, FromPlain(t[k]))
		}
		return out
	case *Map:
		return Copy(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = FromPlain(item)
		}
		return out
	case []string:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = item
		}
		return out
	default:
		return v
	}
}

// ToPlain converts *Map values into map[string]any, recursively. The
// result is what JSONPath and encoding/json expect.
func ToPlain(v any) any {
	switch t := v.(type) {
	case *Map:
		if t == nil {
			return map[string]any(nil)
		}
		out := make(map[string]any, t.Len())
		for p := t.Oldest(); p != nil; p = p.Next() {
			out[p.Key] = ToPlain(p.Value)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = ToPlain(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = ToPlain(item)
		}
		return out
	default:
		return v
	}
}

// Equal reports deep equality. Map key order is ignored and numbers compare
// by value, so an int from YAML equals the same float64 from JSON.
func Equal(a, b any) bool {
	switch x := a.(type) {
	case *Map:
		y, ok := b.(*Map)
		if !ok {
			if pm, isPlain := b.(map[string]any); isPlain {
				return Equal(x, FromPlain(pm))
			}
			return false
		}
		if x.Len() != y.Len() {
			return false
		}
		for p := x.Oldest(); p != nil; p = p.Next() {
			other, ok := y.Get(p.Key)
			if !ok || !Equal(p.Value, other) {
				return false
			}
		}
		return true
	case map[string]any:
		return Equal(FromPlain(x), b)
	case []any:
		y, ok := b.([]any)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !Equal(x[i], y[i]) {
				return false
			}
		}
		return true
	}
	if fa, ok := number(a); ok {
		fb, ok := number(b)
		return ok && (fa == fb || (math.IsNaN(fa) && math.IsNaN(fb)))
	}
	return reflect.DeepEqual(a, b)
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case uint32:
		return float64(n), true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	}
	return 0, false
}

// StringList reads a scalar-or-list value as a list of strings.
func StringList(v any) []string {
	switch t := v.(type) {
	case nil:
		return nil
	case string:
		return []string{t}
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
