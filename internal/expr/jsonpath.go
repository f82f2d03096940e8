// Package expr evaluates match expressions with JSONPath.
//
// An expression is rooted one of three ways:
//
//	$.node_templates...   the document root
//	@.properties.port     the current entity
//	$SOURCE.name          a bound variable
//
// An expression with no root marker is evaluated against the current
// entity. Results are always a list; an empty list means no match.
package expr

import (
	"fmt"
	"sync"

	"github.com/ohler55/ojg/jp"
)

// Context is what an expression is evaluated against. Values are plain Go
// data (map[string]any, []any, scalars).
type Context struct {
	Root    any
	Current any
	Vars    map[string]any
}

// JSONPath evaluates expressions with ojg. Parsed expressions are cached
// and the evaluator is safe for concurrent use.
type JSONPath struct {
	cache sync.Map // string -> jp.Expr
}

// NewJSONPath returns a JSONPath evaluator.
func NewJSONPath() *JSONPath {
	return &JSONPath{}
}

// Evaluate runs src against ctx.
func (e *JSONPath) Evaluate(src string, ctx Context) ([]any, error) {
	target, path, err := e.bind(src, ctx)
	if err != nil {
		return nil, err
	}
	if path == "" {
		if target == nil {
			return nil, nil
		}
		return []any{target}, nil
	}
	x, err := e.parse(path)
	if err != nil {
		return nil, err
	}
	return x.Get(target), nil
}

// bind picks the data an expression starts from and rewrites variable
// roots to a plain "$" path.
func (e *JSONPath) bind(src string, ctx Context) (any, string, error) {
	if src == "" {
		return nil, "", fmt.Errorf("empty expression")
	}
	switch src[0] {
	case '@':
		return ctx.Current, src, nil
	case '$':
		name, rest := variable(src[1:])
		if name == "" {
			return ctx.Root, src, nil
		}
		v, ok := ctx.Vars[name]
		if !ok {
			return nil, "", fmt.Errorf("expression %q: unbound variable $%s", src, name)
		}
		if rest == "" {
			return v, "", nil
		}
		return v, "$" + rest, nil
	default:
		return ctx.Current, src, nil
	}
}

// variable splits "NAME.rest" into NAME and ".rest". A leading '.', '['
// or '*' means there is no variable.
func variable(s string) (string, string) {
	i := 0
	for i < len(s) {
		c := s[i]
		if c == '_' || c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || i > 0 && c >= '0' && c <= '9' {
			i++
			continue
		}
		break
	}
	return s[:i], s[i:]
}

func (e *JSONPath) parse(path string) (jp.Expr, error) {
	if cached, ok := e.cache.Load(path); ok {
		return cached.(jp.Expr), nil
	}
	x, err := jp.ParseString(path)
	if err != nil {
		return nil, fmt.Errorf("invalid jsonpath '%s': %w", path, err)
	}
	e.cache.Store(path, x)
	return x, nil
}

// Truthy reports whether an expression result selects something: at least
// one value that is not nil, false, zero, or empty.
func Truthy(results []any) bool {
	for _, r := range results {
		if truthy(r) {
			return true
		}
	}
	return false
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
