package topology

import (
	"fmt"

	"github.com/agentic-research/stratum/internal/template"
)

// decoratorRule pairs a match expression with the patch applied to every
// entity it selects.
type decoratorRule struct {
	match string
	patch *template.Map
}

// decoratorRules reads the decorators section, either
//
//	decorators:
//	  "<match>": {<patch>}
//
// or a list of {match, patch} entries.
func (t *Topology) decoratorRules() []decoratorRule {
	raw, _ := t.root.Get(keyDecorators)
	var rules []decoratorRule
	switch v := raw.(type) {
	case *template.Map:
		for p := v.Oldest(); p != nil; p = p.Next() {
			patch, ok := p.Value.(*template.Map)
			if !ok {
				t.addError(invalid(keyDecorators, "patch for %q must be a mapping", p.Key))
				continue
			}
			rules = append(rules, decoratorRule{match: p.Key, patch: patch})
		}
	case []any:
		for i, item := range v {
			m, _ := item.(*template.Map)
			match := template.GetString(m, "match")
			patch, ok := template.GetMap(m, "patch")
			if match == "" || !ok {
				t.addError(invalid(keyDecorators, "entry %d needs a match expression and a patch mapping", i))
				continue
			}
			rules = append(rules, decoratorRule{match: match, patch: patch})
		}
	}
	return rules
}

// decorate applies every decorator rule to base, the working template the
// next pass is assembled from. Each matched entity's own definition
// (located by its raw path) receives the patch. Embedded {eval: ...}
// values are evaluated with the matched entity as "@"; {q: ...} values are
// copied verbatim. A failing rule is reported and skipped. Returns whether
// base changed; re-applying an identical patch does not count.
func (t *Topology) decorate(base *template.Map) bool {
	mutated := false
	for _, rule := range t.decoratorRules() {
		entity := fmt.Sprintf("%s[%s]", keyDecorators, rule.match)
		results, err := t.evaluate(rule.match, t, nil)
		if err != nil {
			t.addError(&ResolutionError{Entity: entity, Reference: rule.match, Err: err})
			continue
		}
		matches, err := t.entities(results)
		if err != nil {
			t.addError(&ResolutionError{Entity: entity, Reference: rule.match, Err: err})
			continue
		}
		for _, e := range matches {
			path := rawPath(e)
			if path == nil {
				t.addError(invalid(entity, "%s %q has no template definition to patch", e.Kind(), e.Address()))
				continue
			}
			patch, err := template.Expand(rule.patch, func(src string) (any, error) {
				res, err := t.evaluate(src, e, nil)
				if err != nil {
					return nil, err
				}
				return valueOf(res), nil
			})
			if err != nil {
				t.addError(&ResolutionError{Entity: entity, Reference: e.Address(), Err: err})
				continue
			}
			m, ok := patch.(*template.Map)
			if !ok {
				t.addError(&ResolutionError{Entity: entity, Reference: e.Address(), Err: fmt.Errorf("patch expanded to %T, not a mapping", patch)})
				continue
			}
			if template.MergeAt(base, path, m) {
				mutated = true
			}
		}
	}
	return mutated
}

func rawPath(e Entity) []string {
	if p, ok := e.(interface{ RawPath() []string }); ok {
		return p.RawPath()
	}
	return nil
}
