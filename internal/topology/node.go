package topology

import (
	"slices"

	"github.com/RoaringBitmap/roaring"

	"github.com/agentic-research/stratum/api"
	"github.com/agentic-research/stratum/internal/template"
	"github.com/agentic-research/stratum/internal/types"
)

// NodeID is a node's arena handle: its index in declaration order.
type NodeID uint32

// Directives with engine-level meaning.
const (
	DirectiveDefault    = "default"
	DirectiveSelect     = "select"
	DirectiveSubstitute = "substitute"
)

// Node is one instantiated node template.
type Node struct {
	EntityCore
	ID NodeID

	directives   []string
	capabilities []*Capability
	requirements []*Requirement
	artifacts    []*Artifact
	// backRefs are the relationships terminating in any of the node's
	// capabilities, in link order.
	backRefs []*Relationship
}

// Directives returns the node's directives in declaration order.
func (n *Node) Directives() []string { return n.directives }

// HasDirective reports whether the node carries directive d.
func (n *Node) HasDirective(d string) bool { return slices.Contains(n.directives, d) }

// Capabilities returns the node's capabilities, inherited ones first. The
// implicit "feature" capability is always present.
func (n *Node) Capabilities() []*Capability { return n.capabilities }

// Capability returns the named capability or nil.
func (n *Node) Capability(name string) *Capability {
	for _, c := range n.capabilities {
		if c.name == name {
			return c
		}
	}
	return nil
}

// Requirements returns the node's requirements in declaration order.
func (n *Node) Requirements() []*Requirement { return n.requirements }

// Requirement returns the named requirement or nil.
func (n *Node) Requirement(name string) *Requirement {
	for _, r := range n.requirements {
		if r.name == name {
			return r
		}
	}
	return nil
}

// Artifacts returns the artifacts declared on the node.
func (n *Node) Artifacts() []*Artifact { return n.artifacts }

// Artifact returns the named artifact or nil.
func (n *Node) Artifact(name string) *Artifact {
	for _, a := range n.artifacts {
		if a.name == name {
			return a
		}
	}
	return nil
}

// Relationships returns the relationships that target this node.
func (n *Node) Relationships() []*Relationship { return n.backRefs }

// Targets returns the nodes this node's linked requirements point at, in
// requirement order.
func (n *Node) Targets() []*Node {
	var out []*Node
	for _, r := range n.requirements {
		if target := r.TargetNode(); target != nil {
			out = append(out, target)
		}
	}
	return out
}

// Required reports whether some node reachable by walking back-references
// (starting with n itself) is the substitution root or lacks the "default"
// directive. A node only ever needed by default placeholders is not
// required.
func (n *Node) Required() bool {
	t := n.topology
	seen := roaring.New()
	stack := []*Node{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !seen.CheckedAdd(uint32(cur.ID)) {
			continue
		}
		if cur == t.substitution || !cur.HasDirective(DirectiveDefault) {
			return true
		}
		for _, rel := range cur.backRefs {
			if src := rel.SourceNode(); src != nil && !seen.Contains(uint32(src.ID)) {
				stack = append(stack, src)
			}
		}
	}
	return false
}

// Capability is a named facet of a node that requirements can target.
type Capability struct {
	EntityCore
	node          *Node
	relationships []*Relationship
}

// Node returns the owning node.
func (c *Capability) Node() *Node { return c.node }

// Relationships returns the relationships terminating in the capability.
func (c *Capability) Relationships() []*Relationship { return c.relationships }

// Requirement is a node's declared need for another node's capability.
type Requirement struct {
	EntityCore
	node *Node
	// def is the type-level declaration, if the node type declares one.
	def *types.RequirementDef
	// spec is the raw association: node, capability, relationship,
	// node_filter, occurrences.
	spec         *template.Map
	occurrences  api.Occurrences
	relationship *Relationship
}

// Node returns the owning node.
func (r *Requirement) Node() *Node { return r.node }

// Spec returns the raw association spec.
func (r *Requirement) Spec() *template.Map { return r.spec }

// Occurrences returns the requirement's bounds.
func (r *Requirement) Occurrences() api.Occurrences { return r.occurrences }

// Relationship returns the linked relationship or nil.
func (r *Requirement) Relationship() *Relationship { return r.relationship }

// TargetNode returns the linked target node or nil.
func (r *Requirement) TargetNode() *Node {
	if r.relationship == nil || r.relationship.target == nil {
		return nil
	}
	return r.relationship.target.node
}

// NodeRef is the target node template or node type the requirement names.
func (r *Requirement) NodeRef() string {
	if s := template.GetString(r.spec, "node"); s != "" {
		return s
	}
	if r.def != nil {
		return r.def.Node
	}
	return ""
}

// CapabilityRef is the capability name or type the requirement asks for.
func (r *Requirement) CapabilityRef() string {
	if s := template.GetString(r.spec, "capability"); s != "" {
		return s
	}
	if r.def != nil {
		return r.def.Capability
	}
	return ""
}

// NodeFilter returns the node_filter section, if any.
func (r *Requirement) NodeFilter() *template.Map {
	m, _ := template.GetMap(r.spec, "node_filter")
	return m
}

// defaultRelationshipType is the relationship type used when neither an
// explicit relationship nor a default template applies.
func (r *Requirement) defaultRelationshipType() string {
	if r.def != nil && r.def.Relationship != "" {
		return r.def.Relationship
	}
	return types.RootRelationship
}
