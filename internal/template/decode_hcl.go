package template

import (
	"fmt"
	"math/big"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

// decodeHCL maps native HCL syntax onto the raw template model:
//
//	attribute = value        -> key: value
//	block "a" "b" { ... }    -> block: {a: {b: {...}}}
//
// Attributes and blocks keep their source order. Expressions are evaluated
// without variables or functions; templates needing those belong in YAML.
func decodeHCL(data []byte, path string) (*Map, error) {
	file, diags := hclsyntax.ParseConfig(data, path, hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return nil, diagToParseError(path, diags)
	}
	body, ok := file.Body.(*hclsyntax.Body)
	if !ok {
		return nil, &ParseError{Path: path, Message: "unexpected HCL body type"}
	}
	return hclBody(body, path)
}

func hclBody(body *hclsyntax.Body, path string) (*Map, error) {
	type item struct {
		offset int
		attr   *hclsyntax.Attribute
		block  *hclsyntax.Block
	}
	items := make([]item, 0, len(body.Attributes)+len(body.Blocks))
	for _, attr := range body.Attributes {
		items = append(items, item{offset: attr.SrcRange.Start.Byte, attr: attr})
	}
	for _, block := range body.Blocks {
		items = append(items, item{offset: block.TypeRange.Start.Byte, block: block})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].offset < items[j].offset })

	out := NewMap()
	for _, it := range items {
		if it.attr != nil {
			v, err := hclExpr(it.attr.Expr, path)
			if err != nil {
				return nil, err
			}
			out.Set(it.attr.Name, v)
			continue
		}
		inner, err := hclBody(it.block.Body, path)
		if err != nil {
			return nil, err
		}
		keys := append([]string{it.block.Type}, it.block.Labels...)
		MergeAt(out, keys, inner)
	}
	return out, nil
}

func hclExpr(expr hclsyntax.Expression, path string) (any, error) {
	switch e := expr.(type) {
	case *hclsyntax.ObjectConsExpr:
		m := NewMap()
		for _, item := range e.Items {
			kv, diags := item.KeyExpr.Value(nil)
			if diags.HasErrors() {
				return nil, diagToParseError(path, diags)
			}
			key, err := ctyKey(kv)
			if err != nil {
				return nil, &ParseError{Path: path, Line: item.KeyExpr.Range().Start.Line, Column: item.KeyExpr.Range().Start.Column, Message: err.Error()}
			}
			v, err := hclExpr(item.ValueExpr, path)
			if err != nil {
				return nil, err
			}
			m.Set(key, v)
		}
		return m, nil
	case *hclsyntax.TupleConsExpr:
		list := make([]any, 0, len(e.Exprs))
		for _, item := range e.Exprs {
			v, err := hclExpr(item, path)
			if err != nil {
				return nil, err
			}
			list = append(list, v)
		}
		return list, nil
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diagToParseError(path, diags)
	}
	return ctyToGo(v), nil
}

func ctyKey(v cty.Value) (string, error) {
	if v.IsNull() || !v.IsKnown() {
		return "", fmt.Errorf("object key must be known and non-null")
	}
	switch v.Type() {
	case cty.String:
		return v.AsString(), nil
	case cty.Number:
		return v.AsBigFloat().Text('f', -1), nil
	case cty.Bool:
		if v.True() {
			return "true", nil
		}
		return "false", nil
	}
	return "", fmt.Errorf("object key of type %s is not supported", v.Type().FriendlyName())
}

func ctyToGo(v cty.Value) any {
	if !v.IsKnown() || v.IsNull() {
		return nil
	}
	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString()
	case t == cty.Bool:
		return v.True()
	case t == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return int(i)
			}
		}
		f, _ := bf.Float64()
		return f
	case t.IsListType() || t.IsTupleType() || t.IsSetType():
		out := make([]any, 0, v.LengthInt())
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			out = append(out, ctyToGo(ev))
		}
		return out
	case t.IsMapType() || t.IsObjectType():
		m := NewMap()
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			m.Set(k.AsString(), ctyToGo(ev))
		}
		return m
	}
	return nil
}

func diagToParseError(path string, diags hcl.Diagnostics) *ParseError {
	for _, d := range diags {
		if d.Severity != hcl.DiagError {
			continue
		}
		perr := &ParseError{Path: path, Message: d.Summary}
		if d.Detail != "" {
			perr.Message = d.Summary + ": " + d.Detail
		}
		if d.Subject != nil {
			perr.Line = d.Subject.Start.Line
			perr.Column = d.Subject.Start.Column
		}
		return perr
	}
	return &ParseError{Path: path, Message: diags.Error()}
}
