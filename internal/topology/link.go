package topology

import (
	"slices"

	"github.com/agentic-research/stratum/internal/template"
	"github.com/agentic-research/stratum/internal/types"
)

// Default-relationship match priorities, highest wins.
const (
	matchAny = iota + 1
	matchCapabilityName
	matchNodeType
	matchNodeName
)

// link wires every requirement, in node then requirement declaration
// order.
func (t *Topology) link() {
	for _, n := range t.nodes {
		for _, r := range n.requirements {
			t.linkRequirement(r)
		}
	}
	t.touch()
}

// linkRequirement (re)links one requirement. A requirement that cannot be
// linked is reported unless its lower occurrence bound is zero.
func (t *Topology) linkRequirement(r *Requirement) {
	t.unlink(r)
	candidates := t.candidates(r)

	var rel *Relationship
	var target *Capability
	if explicit, ok := r.spec.Get("relationship"); ok && explicit != nil {
		rel, target = t.linkExplicit(r, explicit, candidates)
	} else {
		rel, target = t.linkDefault(r, candidates)
	}
	if rel == nil {
		if r.occurrences.Lower > 0 {
			t.addError(&ValidationError{
				Entity:  r.address,
				Message: "no matching target",
				Err:     &MissingTargetError{Node: r.node.name, Requirement: r.name},
			})
		}
		return
	}

	inst := rel.instantiate(r, target)
	if !rel.global {
		inst.address = r.address
	}
	r.relationship = inst
	target.relationships = append(target.relationships, inst)
	target.node.backRefs = append(target.node.backRefs, inst)
	t.links = append(t.links, inst)
}

// unlink detaches a previous link so the requirement can be relinked.
func (t *Topology) unlink(r *Requirement) {
	inst := r.relationship
	if inst == nil {
		return
	}
	r.relationship = nil
	drop := func(list []*Relationship) []*Relationship {
		return slices.DeleteFunc(list, func(x *Relationship) bool { return x == inst })
	}
	if inst.target != nil {
		inst.target.relationships = drop(inst.target.relationships)
		inst.target.node.backRefs = drop(inst.target.node.backRefs)
	}
	t.links = drop(t.links)
}

// candidates lists the nodes a requirement may target: the named node
// template, the nodes derived from a named node type, or every other node.
func (t *Topology) candidates(r *Requirement) []*Node {
	ref := r.NodeRef()
	if ref == "" {
		out := make([]*Node, 0, len(t.nodes))
		for _, n := range t.nodes {
			if n != r.node {
				out = append(out, n)
			}
		}
		return out
	}
	if n := t.nodeIndex[ref]; n != nil {
		return []*Node{n}
	}
	if typ, ok := t.registry.Lookup(ref); ok && typ.Kind == types.NodeKind {
		return t.FindByType(ref)
	}
	return nil
}

// capabilityFor picks the capability on n that satisfies r: by name, then
// by capability type, falling back to the implicit feature capability.
func (t *Topology) capabilityFor(r *Requirement, n *Node) *Capability {
	ref := r.CapabilityRef()
	if ref == "" {
		return n.Capability(types.FeatureCapability)
	}
	if c := n.Capability(ref); c != nil {
		return c
	}
	for _, c := range n.capabilities {
		if t.registry.IsDerivedFrom(c.typeName, ref) {
			return c
		}
	}
	return nil
}

// compatible checks a relationship type's valid_target_types against a
// capability. Either the capability type or its node's type may match.
func (t *Topology) compatible(relType string, c *Capability) bool {
	valid := t.registry.ValidTargetTypes(relType)
	if len(valid) == 0 {
		return true
	}
	for _, v := range valid {
		if t.registry.IsDerivedFrom(c.typeName, v) || t.registry.IsDerivedFrom(c.node.typeName, v) {
			return true
		}
	}
	return false
}

// linkExplicit handles a relationship given by template name, type name or
// inline mapping.
func (t *Topology) linkExplicit(r *Requirement, explicit any, candidates []*Node) (*Relationship, *Capability) {
	rel := t.explicitRelationship(r, explicit)
	if rel == nil {
		return nil, nil
	}
	for _, n := range candidates {
		c := t.capabilityFor(r, n)
		if c != nil && t.compatible(rel.typeName, c) {
			return rel, c
		}
	}
	return nil, nil
}

func (t *Topology) explicitRelationship(r *Requirement, explicit any) *Relationship {
	switch v := explicit.(type) {
	case string:
		if tmpl := t.relIndex[v]; tmpl != nil {
			return tmpl
		}
		if typ, ok := t.registry.Lookup(v); ok && typ.Kind == types.RelationshipKind {
			return t.plainRelationship(r, v, nil)
		}
		t.addError(invalid(r.address, "relationship %q is neither a relationship template nor a relationship type", v))
	case *template.Map:
		typeName := template.GetString(v, "type")
		if typeName == "" {
			typeName = r.defaultRelationshipType()
		}
		return t.plainRelationship(r, typeName, v)
	default:
		t.addError(invalid(r.address, "relationship must be a name or a mapping"))
	}
	return nil
}

// plainRelationship synthesizes a relationship for one requirement from a
// type and an optional inline definition.
func (t *Topology) plainRelationship(r *Requirement, typeName string, def *template.Map) *Relationship {
	rel := &Relationship{
		EntityCore: newCore(t, KindRelationship, r.name, typeName, r.address, r),
		interfaces: template.CopyMap(mapOrNil(def, "interfaces")),
	}
	rel.properties = template.Layer(t.registry.PropertyDefaults(typeName), mapOrNil(def, keyProperties))
	rel.attributes = template.Layer(t.registry.AttributeDefaults(typeName), mapOrNil(def, keyAttributes))
	return rel
}

// linkDefault searches relationship templates whose default_for selector
// matches a candidate. Higher priority wins; ties go to template order,
// then candidate order. With no template, the requirement's own
// relationship type links the first candidate that has a capability.
func (t *Topology) linkDefault(r *Requirement, candidates []*Node) (*Relationship, *Capability) {
	var best *Relationship
	var bestCap *Capability
	bestPriority := 0
	for _, tmpl := range t.relationships {
		if tmpl.defaultFor == "" {
			continue
		}
		for _, n := range candidates {
			c := t.capabilityFor(r, n)
			if c == nil || !t.compatible(tmpl.typeName, c) {
				continue
			}
			if p := t.matchPriority(tmpl.defaultFor, n, c); p > bestPriority {
				best, bestCap, bestPriority = tmpl, c, p
			}
		}
	}
	if best != nil {
		return best, bestCap
	}

	relType := r.defaultRelationshipType()
	for _, n := range candidates {
		c := t.capabilityFor(r, n)
		if c != nil && t.compatible(relType, c) {
			return t.plainRelationship(r, relType, nil), c
		}
	}
	return nil, nil
}

func (t *Topology) matchPriority(selector string, n *Node, c *Capability) int {
	switch {
	case selector == n.name:
		return matchNodeName
	case t.registry.IsDerivedFrom(n.typeName, selector):
		return matchNodeType
	case selector == c.name:
		return matchCapabilityName
	case selector == AnyTarget:
		return matchAny
	}
	return 0
}
