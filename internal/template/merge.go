package template

import "fmt"

// Merge deep-merges patch into dst in place and reports whether dst
// changed.
//
// Merge rules:
//   - Maps: merged key by key, patch wins on conflict
//   - Scalars: patch replaces
//   - Lists: patch replaces (no concatenation)
func Merge(dst, patch *Map) bool {
	if dst == nil || patch == nil {
		return false
	}
	changed := false
	for p := patch.Oldest(); p != nil; p = p.Next() {
		cur, exists := dst.Get(p.Key)
		if pm, ok := p.Value.(*Map); ok && exists {
			if cm, ok := cur.(*Map); ok {
				if Merge(cm, pm) {
					changed = true
				}
				continue
			}
		}
		next := Copy(p.Value)
		if exists && Equal(cur, next) {
			continue
		}
		dst.Set(p.Key, next)
		changed = true
	}
	return changed
}

// MergeAt merges patch into the map found at path under root, creating
// intermediate maps as needed. A non-map value sitting on the path is
// replaced by a map.
func MergeAt(root *Map, path []string, patch *Map) bool {
	target, created := ensurePath(root, path)
	changed := Merge(target, patch)
	return changed || (created && patch.Len() > 0)
}

func ensurePath(root *Map, path []string) (*Map, bool) {
	cur := root
	created := false
	for _, key := range path {
		v, ok := cur.Get(key)
		next, isMap := v.(*Map)
		if !ok || !isMap || next == nil {
			next = NewMap()
			cur.Set(key, next)
			created = true
		}
		cur = next
	}
	return cur, created
}

// Layer merges fragments in order, each one over the previous, and returns
// a fresh map. Inputs are not modified.
func Layer(fragments ...*Map) *Map {
	out := NewMap()
	for _, f := range fragments {
		Merge(out, f)
	}
	return out
}

const (
	quoteKey = "q"
	evalKey  = "eval"
)

// Quoted reports whether v is a {q: value} wrapper and returns the wrapped
// value. Quoted values are copied verbatim, never evaluated.
func Quoted(v any) (any, bool) {
	m, ok := v.(*Map)
	if !ok || m == nil || m.Len() != 1 {
		return nil, false
	}
	inner, ok := m.Get(quoteKey)
	return inner, ok
}

// Expression reports whether v is an {eval: expr} wrapper and returns the
// expression source.
func Expression(v any) (string, bool) {
	m, ok := v.(*Map)
	if !ok || m == nil {
		return "", false
	}
	raw, ok := m.Get(evalKey)
	if !ok {
		return "", false
	}
	s, ok := raw.(string)
	return s, ok
}

// Quote wraps v so that Expand leaves it alone.
func Quote(v any) *Map {
	return MapOf(quoteKey, v)
}

// EvalFunc resolves one embedded expression.
type EvalFunc func(expr string) (any, error)

// Expand returns a copy of v with every {eval: ...} wrapper replaced by
// its value and every {q: ...} wrapper replaced by its verbatim contents.
func Expand(v any, eval EvalFunc) (any, error) {
	if inner, ok := Quoted(v); ok {
		return Copy(inner), nil
	}
	if src, ok := Expression(v); ok {
		if eval == nil {
			return nil, fmt.Errorf("expression %q: no evaluator", src)
		}
		out, err := eval(src)
		if err != nil {
			return nil, err
		}
		return FromPlain(out), nil
	}
	switch t := v.(type) {
	case *Map:
		out := NewMap()
		for p := t.Oldest(); p != nil; p = p.Next() {
			item, err := Expand(p.Value, eval)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", p.Key, err)
			}
			out.Set(p.Key, item)
		}
		return out, nil
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			expanded, err := Expand(item, eval)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = expanded
		}
		return out, nil
	default:
		return v, nil
	}
}
