package topology

import "github.com/agentic-research/stratum/internal/template"

// AnyTarget is the default_for selector that matches every target.
const AnyTarget = "ANY"

// Relationship links a requirement to a capability. Global relationship
// templates are never linked themselves; each link gets its own instance
// cloned from the template, so every instance has exactly one source.
type Relationship struct {
	EntityCore
	defaultFor string
	interfaces *template.Map
	// global marks a template declared under relationship_templates.
	global bool

	source   *Requirement
	target   *Capability
	template *Relationship
}

// DefaultFor returns the implicit-match selector of a relationship
// template: ANY, a node type, a node name or a capability name.
func (r *Relationship) DefaultFor() string { return r.defaultFor }

// Interfaces returns the declared interface operations.
func (r *Relationship) Interfaces() *template.Map { return r.interfaces }

// Source returns the requirement the relationship starts from.
func (r *Relationship) Source() *Requirement { return r.source }

// SourceNode returns the node owning the source requirement.
func (r *Relationship) SourceNode() *Node {
	if r.source == nil {
		return nil
	}
	return r.source.node
}

// Target returns the capability the relationship terminates in.
func (r *Relationship) Target() *Capability { return r.target }

// TargetNode returns the node owning the target capability.
func (r *Relationship) TargetNode() *Node {
	if r.target == nil {
		return nil
	}
	return r.target.node
}

// Template returns the global template a link instance was cloned from.
func (r *Relationship) Template() *Relationship { return r.template }

// instantiate clones r into a link instance for one requirement.
func (r *Relationship) instantiate(req *Requirement, target *Capability) *Relationship {
	inst := &Relationship{
		EntityCore: r.EntityCore,
		defaultFor: r.defaultFor,
		interfaces: template.CopyMap(r.interfaces),
		source:     req,
		target:     target,
	}
	if r.global {
		inst.template = r
	}
	inst.properties = template.CopyMap(r.properties)
	inst.attributes = template.CopyMap(r.attributes)
	inst.owner = req
	inst.rawPath = nil
	return inst
}
