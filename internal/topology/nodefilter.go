package topology

import (
	"fmt"

	"github.com/agentic-research/stratum/internal/template"
	"github.com/agentic-research/stratum/internal/types"
)

// sourceVar is bound to the requiring node while a node-filter expression
// is evaluated.
const sourceVar = "SOURCE"

const equalOperator = "equal"

// constraintOperators are node-filter clauses that restrict a value rather
// than provide one. They are not pushed onto the target.
var constraintOperators = map[string]bool{
	"greater_than":     true,
	"greater_or_equal": true,
	"less_than":        true,
	"less_or_equal":    true,
	"in_range":         true,
	"valid_values":     true,
	"length":           true,
	"min_length":       true,
	"max_length":       true,
	"pattern":          true,
	"schema":           true,
}

// enforceNodeFilters pushes every linked requirement's node_filter onto
// its target: property values overwrite the target's properties and
// nested requirement constraints merge into the target's requirements,
// which are then relinked. Requirements are processed in declaration
// order, so when two filters set the same property the last one wins.
// It reports whether the targets' state differs from before the pass.
func (t *Topology) enforceNodeFilters() bool {
	before := t.filterState()
	for _, n := range t.nodes {
		// the slice may grow when a filter adds a requirement to n itself
		for i := 0; i < len(n.requirements); i++ {
			r := n.requirements[i]
			filter := r.NodeFilter()
			target := r.TargetNode()
			if filter == nil || target == nil {
				continue
			}
			t.pushProperties(r, filter, target)
			t.pushRequirements(r, filter, target)
		}
	}
	mutated := !template.Equal(before, t.filterState())
	if mutated {
		t.touch()
	}
	return mutated
}

// filterState snapshots everything a node filter can write.
func (t *Topology) filterState() *template.Map {
	state := template.NewMap()
	for _, n := range t.nodes {
		reqs := template.NewMap()
		for _, r := range n.requirements {
			target := ""
			if tn := r.TargetNode(); tn != nil {
				target = tn.name
			}
			reqs.Set(r.name, template.MapOf("spec", template.CopyMap(r.spec), "target", target))
		}
		state.Set(n.name, template.MapOf(
			keyProperties, template.CopyMap(n.properties),
			keyRequirements, reqs,
		))
	}
	return state
}

func (t *Topology) pushProperties(r *Requirement, filter *template.Map, target *Node) {
	raw, _ := filter.Get(keyProperties)
	entries, err := types.Entries(raw)
	if err != nil {
		t.addError(invalidErr(r.address, err, "invalid node_filter properties"))
		return
	}
	for _, e := range entries {
		v, ok, err := t.constraintValue(r, target, e.Value)
		if err != nil {
			t.addError(&ResolutionError{Entity: r.address, Reference: "node_filter.properties." + e.Name, Err: err})
			continue
		}
		if ok {
			target.properties.Set(e.Name, v)
		}
	}
}

// constraintValue extracts the value a property constraint pushes. The
// boolean is false for pure restrictions (in_range and friends).
func (t *Topology) constraintValue(r *Requirement, target *Node, raw any) (any, bool, error) {
	if inner, ok := template.Quoted(raw); ok {
		return template.Copy(inner), true, nil
	}
	if src, ok := template.Expression(raw); ok {
		results, err := t.evaluate(src, target, map[string]any{sourceVar: r.node})
		if err != nil {
			return nil, false, err
		}
		if len(results) == 0 {
			return nil, false, fmt.Errorf("expression %q matched nothing", src)
		}
		return valueOf(results), true, nil
	}
	switch v := raw.(type) {
	case *template.Map:
		if v.Len() == 1 {
			op := v.Oldest()
			if op.Key == equalOperator {
				return t.constraintValue(r, target, op.Value)
			}
			if constraintOperators[op.Key] {
				return nil, false, nil
			}
		}
		return template.Copy(v), true, nil
	case []any:
		if !clauses(v) {
			return template.Copy(v), true, nil
		}
		for _, item := range v {
			op := item.(*template.Map).Oldest()
			if op.Key == equalOperator {
				return t.constraintValue(r, target, op.Value)
			}
		}
		return nil, false, nil
	}
	return raw, true, nil
}

// clauses reports whether every item is a single-operator mapping.
func clauses(list []any) bool {
	if len(list) == 0 {
		return false
	}
	for _, item := range list {
		m, ok := item.(*template.Map)
		if !ok || m.Len() != 1 {
			return false
		}
		key := m.Oldest().Key
		if key != equalOperator && !constraintOperators[key] {
			return false
		}
	}
	return true
}

func (t *Topology) pushRequirements(r *Requirement, filter *template.Map, target *Node) {
	raw, _ := filter.Get(keyRequirements)
	entries, err := types.Entries(raw)
	if err != nil {
		t.addError(invalidErr(r.address, err, "invalid node_filter requirements"))
		return
	}
	eval := func(src string) (any, error) {
		results, err := t.evaluate(src, target, map[string]any{sourceVar: r.node})
		if err != nil {
			return nil, err
		}
		return valueOf(results), nil
	}
	for _, e := range entries {
		spec, err := requirementSpec(e.Value)
		if err != nil {
			t.addError(invalidErr(r.address, err, "invalid node_filter requirement %q", e.Name))
			continue
		}
		expanded, err := template.Expand(spec, eval)
		if err != nil {
			t.addError(&ResolutionError{Entity: r.address, Reference: "node_filter.requirements." + e.Name, Err: err})
			continue
		}
		patch, ok := expanded.(*template.Map)
		if !ok {
			t.addError(&ResolutionError{
				Entity:    r.address,
				Reference: "node_filter.requirements." + e.Name,
				Err:       fmt.Errorf("expanded to %T, not a mapping", expanded),
			})
			continue
		}

		existing := target.Requirement(e.Name)
		if existing == nil {
			var def *types.RequirementDef
			for _, rd := range t.registry.Requirements(target.typeName) {
				if rd.Name == e.Name {
					rd := rd
					def = &rd
				}
			}
			added := newRequirement(t, target, e.Name, def, patch)
			target.requirements = append(target.requirements, added)
			t.linkRequirement(added)
			continue
		}
		if template.Merge(existing.spec, patch) {
			existing.readOccurrences()
			t.linkRequirement(existing)
		}
	}
}
