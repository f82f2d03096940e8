package topology

import (
	"fmt"

	"github.com/agentic-research/stratum/internal/expr"
	"github.com/agentic-research/stratum/internal/template"
)

// Projection keys that identify an entity inside expression results.
const (
	addressKey = "_address"
	kindKey    = "kind"
)

// Document returns the plain-data projection expressions run against:
//
//	{kind: topology, name, inputs, outputs, nodes: [...],
//	 relationships: [...], groups: [...], policies: [...], workflows: [...]}
//
// Every entity object carries "_address" and "kind" so results can be
// mapped back to entities.
func (t *Topology) Document() map[string]any {
	if t.doc != nil {
		return t.doc
	}
	nodes := make([]any, 0, len(t.nodes))
	for _, n := range t.nodes {
		nodes = append(nodes, t.project(n))
	}
	rels := make([]any, 0, len(t.relationships))
	for _, r := range t.relationships {
		rels = append(rels, t.project(r))
	}
	groups := make([]any, 0, len(t.groups))
	for _, g := range t.groups {
		groups = append(groups, t.project(g))
	}
	policies := make([]any, 0, len(t.policies))
	for _, p := range t.policies {
		policies = append(policies, t.project(p))
	}
	workflows := make([]any, 0, len(t.workflows))
	for _, name := range t.WorkflowNames() {
		workflows = append(workflows, name)
	}
	t.doc = map[string]any{
		kindKey:         KindTopology.String(),
		addressKey:      "",
		"name":          t.name,
		"description":   template.GetString(t.root, "description"),
		"inputs":        plain(t.inputs),
		"outputs":       plain(t.outputs),
		"nodes":         nodes,
		"relationships": rels,
		"groups":        groups,
		"policies":      policies,
		"workflows":     workflows,
	}
	return t.doc
}

// project returns the plain-data view of one entity.
func (t *Topology) project(e Entity) map[string]any {
	if e == Entity(t) {
		return t.Document()
	}
	out := map[string]any{
		kindKey:      e.Kind().String(),
		addressKey:   e.Address(),
		"name":       e.Name(),
		"type":       e.TypeName(),
		"properties": plain(e.Properties()),
		"attributes": plain(e.Attributes()),
	}
	switch v := e.(type) {
	case *Node:
		out["types"] = stringsToAny(t.registry.Ancestors(v.typeName))
		out["directives"] = stringsToAny(v.directives)
		caps := make(map[string]any, len(v.capabilities))
		for _, c := range v.capabilities {
			caps[c.name] = t.project(c)
		}
		out["capabilities"] = caps
		reqs := make(map[string]any, len(v.requirements))
		for _, r := range v.requirements {
			reqs[r.name] = t.project(r)
		}
		out["requirements"] = reqs
		arts := make(map[string]any, len(v.artifacts))
		for _, a := range v.artifacts {
			arts[a.name] = t.project(a)
		}
		out["artifacts"] = arts
	case *Requirement:
		out["node"] = v.NodeRef()
		out["capability"] = v.CapabilityRef()
		if target := v.TargetNode(); target != nil {
			out["target"] = target.name
		} else {
			out["target"] = nil
		}
	case *Relationship:
		out["default_for"] = v.defaultFor
	case *Artifact:
		out["file"] = v.decl.File
		out["repository"] = v.decl.Repository
	case *Group:
		out["members"] = stringsToAny(v.members)
	case *Policy:
		out["targets"] = stringsToAny(v.targets)
	}
	return out
}

// plain converts template values into data JSONPath can compare: plain
// maps and int64 integers.
func plain(v any) any {
	return normalizeInts(template.ToPlain(v))
}

func normalizeInts(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int32:
		return int64(t)
	case map[string]any:
		for k, item := range t {
			t[k] = normalizeInts(item)
		}
		return t
	case []any:
		for i, item := range t {
			t[i] = normalizeInts(item)
		}
		return t
	}
	return v
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

// evaluate runs src with current as "@". Entity-valued variables are
// projected before binding.
func (t *Topology) evaluate(src string, current Entity, vars map[string]any) ([]any, error) {
	ctx := expr.Context{Root: t.Document(), Vars: make(map[string]any, len(vars))}
	if current != nil {
		ctx.Current = t.project(current)
	}
	for name, v := range vars {
		if e, ok := v.(Entity); ok {
			v = t.project(e)
		}
		ctx.Vars[name] = v
	}
	return t.eval.Evaluate(src, ctx)
}

// entities maps expression results back to entities. Lists are flattened.
// Results that are not entity projections are reported.
func (t *Topology) entities(results []any) ([]Entity, error) {
	var out []Entity
	for _, r := range results {
		switch v := r.(type) {
		case map[string]any:
			e := t.entityOf(v)
			if e == nil {
				return out, fmt.Errorf("match result is not an entity")
			}
			out = append(out, e)
		case []any:
			nested, err := t.entities(v)
			out = append(out, nested...)
			if err != nil {
				return out, err
			}
		case nil:
		default:
			return out, fmt.Errorf("match result %v is not an entity", v)
		}
	}
	return out, nil
}

func (t *Topology) entityOf(doc map[string]any) Entity {
	kind, _ := doc[kindKey].(string)
	addr, _ := doc[addressKey].(string)
	if kind == KindTopology.String() && addr == "" {
		return t
	}
	return t.Get(addr)
}

// valueOf turns expression results into a single value: one result is
// itself, several become a list.
func valueOf(results []any) any {
	if len(results) == 1 {
		return template.FromPlain(results[0])
	}
	return template.FromPlain(results)
}
